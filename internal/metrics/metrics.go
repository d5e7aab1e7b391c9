package metrics

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "outage_watch"

const (
	// OutcomeSuccess labels successful scrapes and deliveries.
	OutcomeSuccess = "success"
	// OutcomeFailure labels failed scrapes and deliveries.
	OutcomeFailure = "failure"
	// OutcomeSkipped labels narratives that were not produced.
	OutcomeSkipped = "skipped"
)

// Recorder owns the monitoring collectors. One instance is created at startup
// and handed to the components that report into it.
type Recorder struct {
	cycles          *prometheus.CounterVec
	cycleSeconds    prometheus.Histogram
	scrapes         *prometheus.CounterVec
	fetchFailures   *prometheus.CounterVec
	changes         *prometheus.CounterVec
	notifications   *prometheus.CounterVec
	changesNotified prometheus.Counter
	narratives      *prometheus.CounterVec
	services        prometheus.Gauge
	outages         prometheus.Gauge
	lastScrape      prometheus.Gauge

	startedAt    time.Time
	lastScrapeAt atomic.Int64
}

// NewRecorder builds the collectors and registers them on reg. A nil reg keeps
// the collectors private, which is what tests usually want.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Monitoring cycles partitioned by outcome.",
		}, []string{"outcome"}),
		cycleSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_seconds",
			Help:      "Monitoring cycle duration in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
		}),
		scrapes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scrapes_total",
			Help:      "Batch scrapes partitioned by result; a scrape fails when no service could be fetched.",
		}, []string{"result"}),
		fetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_failures_total",
			Help:      "Services dropped from a cycle after exhausting fetch retries.",
		}, []string{"service"}),
		changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changes_detected_total",
			Help:      "Change events detected, partitioned by kind.",
		}, []string{"kind"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifier deliveries partitioned by notifier and outcome.",
		}, []string{"notifier", "outcome"}),
		changesNotified: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changes_notified_total",
			Help:      "Change events handed to the notify stage.",
		}),
		narratives: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "narratives_total",
			Help:      "Narrative generation attempts partitioned by outcome.",
		}, []string{"outcome"}),
		services: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "services_monitored",
			Help:      "Services successfully fetched in the last cycle.",
		}),
		outages: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_outages",
			Help:      "Fetched services whose status is not up.",
		}),
		lastScrape: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_scrape_timestamp_seconds",
			Help:      "Unix time of the last batch scrape.",
		}),
		startedAt: time.Now(),
	}

	if reg == nil {
		return r, nil
	}
	for _, collector := range r.collectors() {
		if err := reg.Register(collector); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return nil, err
		}
	}
	return r, nil
}

func (r *Recorder) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		r.cycles, r.cycleSeconds, r.scrapes, r.fetchFailures, r.changes,
		r.notifications, r.changesNotified, r.narratives, r.services, r.outages, r.lastScrape,
	}
}

// ObserveCycle records a finished cycle.
func (r *Recorder) ObserveCycle(outcome string, duration time.Duration) {
	if r == nil {
		return
	}
	r.cycles.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	r.cycleSeconds.Observe(duration.Seconds())
}

// ObserveScrape records a batch scrape. fetched is the number of services in the batch.
func (r *Recorder) ObserveScrape(fetched, outages int) {
	if r == nil {
		return
	}
	result := OutcomeSuccess
	if fetched == 0 {
		result = OutcomeFailure
	}
	r.scrapes.WithLabelValues(result).Inc()
	r.services.Set(float64(fetched))
	if fetched > 0 {
		r.outages.Set(float64(outages))
	}
	now := time.Now()
	r.lastScrape.Set(float64(now.Unix()))
	r.lastScrapeAt.Store(now.UnixNano())
}

// ObserveFetchFailure records a service dropped after exhausting retries.
func (r *Recorder) ObserveFetchFailure(service string) {
	if r == nil {
		return
	}
	r.fetchFailures.WithLabelValues(service).Inc()
}

// ObserveChange records a detected change.
func (r *Recorder) ObserveChange(kind string) {
	if r == nil {
		return
	}
	r.changes.WithLabelValues(kind).Inc()
}

// ObserveNotification records one notifier delivery.
func (r *Recorder) ObserveNotification(notifier string, ok bool) {
	if r == nil {
		return
	}
	outcome := OutcomeSuccess
	if !ok {
		outcome = OutcomeFailure
	}
	r.notifications.WithLabelValues(notifier, outcome).Inc()
}

// ObserveChangesNotified records the number of events handed to notifiers.
func (r *Recorder) ObserveChangesNotified(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.changesNotified.Add(float64(n))
}

// ObserveNarrative records a narrative outcome.
func (r *Recorder) ObserveNarrative(outcome string) {
	if r == nil {
		return
	}
	r.narratives.WithLabelValues(outcome).Inc()
}

// Stats is the JSON metrics view served to operators.
type Stats struct {
	TotalScrapes           int        `json:"total_scrapes"`
	SuccessfulScrapes      int        `json:"successful_scrapes"`
	FailedScrapes          int        `json:"failed_scrapes"`
	TotalNotificationsSent int        `json:"total_notifications_sent"`
	ServicesMonitored      int        `json:"services_monitored"`
	CurrentOutages         int        `json:"current_outages"`
	UptimeSeconds          int        `json:"uptime_seconds"`
	SuccessRate            float64    `json:"success_rate"`
	LastScrape             *time.Time `json:"last_scrape"`
}

// Stats reads the current counter values back from the collectors.
func (r *Recorder) Stats() Stats {
	if r == nil {
		return Stats{SuccessRate: 100}
	}
	ok := int(readValue(r.scrapes.WithLabelValues(OutcomeSuccess)))
	failed := int(readValue(r.scrapes.WithLabelValues(OutcomeFailure)))
	stats := Stats{
		TotalScrapes:           ok + failed,
		SuccessfulScrapes:      ok,
		FailedScrapes:          failed,
		TotalNotificationsSent: int(readValue(r.changesNotified)),
		ServicesMonitored:      int(readValue(r.services)),
		CurrentOutages:         int(readValue(r.outages)),
		UptimeSeconds:          int(r.Uptime().Seconds()),
		SuccessRate:            100,
	}
	if stats.TotalScrapes > 0 {
		rate := float64(ok) / float64(stats.TotalScrapes) * 100
		stats.SuccessRate = float64(int(rate*100+0.5)) / 100
	}
	if ns := r.lastScrapeAt.Load(); ns > 0 {
		t := time.Unix(0, ns).UTC()
		stats.LastScrape = &t
	}
	return stats
}

// Uptime returns the time since the recorder was created.
func (r *Recorder) Uptime() time.Duration {
	if r == nil {
		return 0
	}
	return time.Since(r.startedAt)
}

func readValue(m prometheus.Metric) float64 {
	var out dto.Metric
	if err := m.Write(&out); err != nil {
		return 0
	}
	switch {
	case out.Counter != nil:
		return out.GetCounter().GetValue()
	case out.Gauge != nil:
		return out.GetGauge().GetValue()
	}
	return 0
}
