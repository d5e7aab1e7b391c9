package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/outage-watch/internal/detector"
	"github.com/miradorstack/outage-watch/internal/fetcher"
	"github.com/miradorstack/outage-watch/internal/metrics"
	"github.com/miradorstack/outage-watch/internal/models"
	"github.com/miradorstack/outage-watch/internal/utils"
)

// ErrEmptyBatch is returned by manual runs when no service could be fetched.
var ErrEmptyBatch = errors.New("no service snapshots could be fetched")

// Fetcher retrieves the current snapshot for one service.
type Fetcher interface {
	Fetch(ctx context.Context, serviceID string) (models.Snapshot, error)
}

// NarrativeGenerator produces optional prose for a batch of changes.
type NarrativeGenerator interface {
	Generate(ctx context.Context, changes []models.ChangeEvent) (string, bool)
}

// Notifier delivers a batch of changes to one channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, changes []models.ChangeEvent, narrative string) error
}

// CycleOptions tune the fetch stage.
type CycleOptions struct {
	Services      []string
	RetryAttempts int
	RetryDelay    time.Duration
	Concurrency   int
	NotifyTimeout time.Duration
}

// Orchestrator runs the fetch, detect, enrich and notify stages of a cycle.
// Cycles must not overlap; the Scheduler provides that guarantee.
type Orchestrator struct {
	logger    *slog.Logger
	fetcher   Fetcher
	detector  *detector.Detector
	narrative NarrativeGenerator
	notifiers []Notifier
	recorder  *metrics.Recorder
	latency   *utils.LatencyTracker
	opts      CycleOptions
}

// NewOrchestrator wires a cycle orchestrator. narrative and recorder may be nil.
func NewOrchestrator(
	logger *slog.Logger,
	fetcher Fetcher,
	det *detector.Detector,
	narrative NarrativeGenerator,
	notifiers []Notifier,
	recorder *metrics.Recorder,
	opts CycleOptions,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if det == nil {
		det = detector.NewDetector(logger, nil, nil)
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 3
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = time.Minute
	}
	return &Orchestrator{
		logger:    logger.With(slog.String("component", "cycle")),
		fetcher:   fetcher,
		detector:  det,
		narrative: narrative,
		notifiers: notifiers,
		recorder:  recorder,
		latency:   utils.NewLatencyTracker(256),
		opts:      opts,
	}
}

// Detector returns the detector driven by this orchestrator.
func (o *Orchestrator) Detector() *detector.Detector { return o.detector }

// Services returns the configured service identifiers.
func (o *Orchestrator) Services() []string {
	return append([]string(nil), o.opts.Services...)
}

type fetchResult struct {
	batch      []models.Snapshot
	unobserved []string
	missing    []string
}

// RunCycle executes one full monitoring cycle. Stage failures are recorded on
// the report and never returned.
func (o *Orchestrator) RunCycle(ctx context.Context) models.CycleReport {
	report := models.CycleReport{
		ID:         uuid.NewString(),
		StartedAt:  time.Now().UTC(),
		Configured: len(o.opts.Services),
	}
	logger := o.logger.With(slog.String("cycle_id", report.ID))
	defer o.finish(logger, &report)

	fetched := o.fetchAll(ctx, logger)
	report.Fetched = len(fetched.batch)
	report.FailedServices = fetched.unobserved
	o.recorder.ObserveScrape(len(fetched.batch), countOutages(fetched.batch))

	if len(fetched.batch) == 0 {
		report.Outcome = models.CycleEmptyBatch
		report.Err = ErrEmptyBatch.Error()
		logger.Warn("no snapshots fetched, skipping detection", slog.Int("configured", report.Configured))
		return report
	}

	changes, err := o.detector.Detect(fetched.batch, fetched.unobserved)
	if err != nil {
		report.Outcome = models.CycleDetectError
		report.Err = err.Error()
		logger.Error("change detection failed", slog.String("error", err.Error()))
		return report
	}
	if len(changes) == 0 {
		report.Outcome = models.CycleNoChanges
		logger.Debug("no changes detected", slog.Int("services", len(fetched.batch)))
		return report
	}
	report.Outcome = models.CycleCompleted
	report.Changes = changes
	for _, c := range changes {
		o.recorder.ObserveChange(string(c.Kind))
	}

	narrative := o.enrich(ctx, logger, changes)
	report.Narrative = narrative != ""

	report.NotifierFailures = o.notifyAll(ctx, logger, changes, narrative)
	report.NotificationsOK = len(report.NotifierFailures) == 0
	return report
}

// RunManual performs fetch and detect only, for operator diagnostics.
func (o *Orchestrator) RunManual(ctx context.Context) (models.ManualCycleResult, error) {
	logger := o.logger.With(slog.String("trigger", "manual"))
	fetched := o.fetchAll(ctx, logger)
	o.recorder.ObserveScrape(len(fetched.batch), countOutages(fetched.batch))

	if len(fetched.batch) == 0 {
		return models.ManualCycleResult{Error: ErrEmptyBatch.Error(), Changes: []models.ChangeEvent{}}, ErrEmptyBatch
	}
	changes, err := o.detector.Detect(fetched.batch, fetched.unobserved)
	if err != nil {
		return models.ManualCycleResult{ReportsCount: len(fetched.batch), Error: err.Error(), Changes: []models.ChangeEvent{}}, err
	}
	for _, c := range changes {
		o.recorder.ObserveChange(string(c.Kind))
	}
	if changes == nil {
		changes = []models.ChangeEvent{}
	}
	logger.Info("manual cycle completed", slog.Int("snapshots", len(fetched.batch)), slog.Int("changes", len(changes)))
	return models.ManualCycleResult{
		Success:      true,
		ReportsCount: len(fetched.batch),
		ChangesCount: len(changes),
		Changes:      changes,
	}, nil
}

// LatencyP95 returns the 95th percentile of recent cycle durations.
func (o *Orchestrator) LatencyP95() time.Duration { return o.latency.Percentile(95) }

func (o *Orchestrator) fetchAll(ctx context.Context, logger *slog.Logger) fetchResult {
	services := o.opts.Services
	snapshots := make([]*models.Snapshot, len(services))
	failures := make([]error, len(services))

	if o.fetcher == nil {
		logger.Error("fetcher not configured")
		return fetchResult{}
	}

	var g errgroup.Group
	g.SetLimit(o.opts.Concurrency)
	for i, service := range services {
		i, service := i, service
		g.Go(func() error {
			var snap models.Snapshot
			attempts, err := utils.Retry(ctx, o.opts.RetryAttempts, o.opts.RetryDelay, func(attempt int) error {
				var err error
				snap, err = o.fetcher.Fetch(ctx, service)
				if err != nil && !utils.IsPermanent(err) && attempt < o.opts.RetryAttempts {
					logger.Warn("fetch attempt failed, retrying",
						slog.String("service", service),
						slog.Int("attempt", attempt),
						slog.String("error", err.Error()),
					)
				}
				return err
			})
			if err != nil {
				failures[i] = &fetcher.FetchError{Service: service, Attempts: attempts, Err: err}
				return nil
			}
			snapshots[i] = &snap
			return nil
		})
	}
	_ = g.Wait()

	var out fetchResult
	for i, service := range services {
		if snap := snapshots[i]; snap != nil {
			out.batch = append(out.batch, *snap)
			continue
		}
		err := failures[i]
		if errors.Is(err, fetcher.ErrServiceNotFound) {
			out.missing = append(out.missing, service)
			logger.Warn("service not found on status site", slog.String("service", service))
			continue
		}
		out.unobserved = append(out.unobserved, service)
		o.recorder.ObserveFetchFailure(service)
		logger.Error("fetch failed, service skipped this cycle", slog.String("service", service), slog.String("error", err.Error()))
	}
	return out
}

func (o *Orchestrator) enrich(ctx context.Context, logger *slog.Logger, changes []models.ChangeEvent) string {
	if o.narrative == nil {
		o.recorder.ObserveNarrative(metrics.OutcomeSkipped)
		return ""
	}
	text, ok := o.narrative.Generate(ctx, changes)
	if !ok {
		o.recorder.ObserveNarrative(metrics.OutcomeSkipped)
		logger.Debug("narrative unavailable")
		return ""
	}
	o.recorder.ObserveNarrative(metrics.OutcomeSuccess)
	return text
}

// notifyAll fans out to every notifier and returns the names of those that
// failed. A failure or panic in one never affects another.
func (o *Orchestrator) notifyAll(ctx context.Context, logger *slog.Logger, changes []models.ChangeEvent, narrative string) []string {
	if len(o.notifiers) == 0 {
		return nil
	}
	o.recorder.ObserveChangesNotified(len(changes))

	notifyCtx, cancel := context.WithTimeout(ctx, o.opts.NotifyTimeout)
	defer cancel()

	var (
		mu     sync.Mutex
		failed []string
		g      errgroup.Group
	)
	for _, n := range o.notifiers {
		n := n
		g.Go(func() error {
			err := safeNotify(notifyCtx, n, changes, narrative)
			o.recorder.ObserveNotification(n.Name(), err == nil)
			if err != nil {
				logger.Error("notifier failed", slog.String("notifier", n.Name()), slog.String("error", err.Error()))
				mu.Lock()
				failed = append(failed, n.Name())
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return failed
}

func safeNotify(ctx context.Context, n Notifier, changes []models.ChangeEvent, narrative string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier panic: %v", r)
		}
	}()
	return n.Notify(ctx, changes, narrative)
}

func (o *Orchestrator) finish(logger *slog.Logger, report *models.CycleReport) {
	report.Duration = time.Since(report.StartedAt)
	o.latency.Observe(report.Duration)
	o.recorder.ObserveCycle(string(report.Outcome), report.Duration)

	attrs := []any{
		slog.String("outcome", string(report.Outcome)),
		slog.Int("configured", report.Configured),
		slog.Int("fetched", report.Fetched),
		slog.Int("failed", len(report.FailedServices)),
		slog.Int("changes", len(report.Changes)),
		slog.Duration("duration", report.Duration),
		slog.Duration("p95", o.latency.Percentile(95)),
	}
	if report.Outcome == models.CycleNoChanges {
		logger.Debug("cycle finished", attrs...)
		return
	}
	logger.Info("cycle finished", attrs...)
}

func countOutages(batch []models.Snapshot) int {
	n := 0
	for _, s := range batch {
		if s.Status != models.StatusUp {
			n++
		}
	}
	return n
}
