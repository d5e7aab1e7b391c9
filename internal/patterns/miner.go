package patterns

import (
	"log/slog"
	"sort"
	"time"

	"github.com/miradorstack/outage-watch/internal/models"
)

const topKinds = 3

// Hotspot summarises how often one service changed within a window.
type Hotspot struct {
	Service     string              `json:"service"`
	Events      int                 `json:"events"`
	Outages     int                 `json:"outages"`
	Resolutions int                 `json:"resolutions"`
	Prevalence  float64             `json:"prevalence"`
	PeakReports int                 `json:"peak_reports"`
	TopKinds    []models.ChangeKind `json:"top_kinds"`
	LastSeen    time.Time           `json:"last_seen"`
}

// Miner aggregates change history into per-service hotspots.
type Miner struct {
	logger *slog.Logger
}

// NewMiner constructs a Miner.
func NewMiner(logger *slog.Logger) *Miner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Miner{logger: logger.With(slog.String("component", "patterns"))}
}

// Mine groups events by service and ranks services by event count. Prevalence
// is the service's share of all events.
func (m *Miner) Mine(events []models.ChangeEvent) []Hotspot {
	if len(events) == 0 {
		return []Hotspot{}
	}

	stats := make(map[string]*serviceAggregate)
	var order []string
	for _, e := range events {
		key := models.ServiceKey(e.ServiceID)
		if key == "" {
			key = "unknown"
		}
		agg, ok := stats[key]
		if !ok {
			agg = &serviceAggregate{name: e.ServiceID, kindCounts: make(map[models.ChangeKind]int)}
			stats[key] = agg
			order = append(order, key)
		}
		agg.count++
		agg.kindCounts[e.Kind]++
		switch e.Kind {
		case models.ChangeNewOutage:
			agg.outages++
		case models.ChangeOutageResolved:
			agg.resolutions++
		}
		if e.NewReportCount > agg.peak {
			agg.peak = e.NewReportCount
		}
		if e.OccurredAt.After(agg.lastSeen) {
			agg.lastSeen = e.OccurredAt
		}
	}

	hotspots := make([]Hotspot, 0, len(stats))
	for _, key := range order {
		agg := stats[key]
		hotspots = append(hotspots, Hotspot{
			Service:     agg.name,
			Events:      agg.count,
			Outages:     agg.outages,
			Resolutions: agg.resolutions,
			Prevalence:  float64(agg.count) / float64(len(events)),
			PeakReports: agg.peak,
			TopKinds:    agg.topKinds(topKinds),
			LastSeen:    agg.lastSeen,
		})
	}

	sort.SliceStable(hotspots, func(i, j int) bool {
		if hotspots[i].Events != hotspots[j].Events {
			return hotspots[i].Events > hotspots[j].Events
		}
		return hotspots[i].LastSeen.After(hotspots[j].LastSeen)
	})

	m.logger.Debug("hotspots mined", slog.Int("events", len(events)), slog.Int("services", len(hotspots)))
	return hotspots
}

type serviceAggregate struct {
	name        string
	count       int
	outages     int
	resolutions int
	peak        int
	lastSeen    time.Time
	kindCounts  map[models.ChangeKind]int
}

func (agg *serviceAggregate) topKinds(limit int) []models.ChangeKind {
	kinds := make([]models.ChangeKind, 0, len(agg.kindCounts))
	for k := range agg.kindCounts {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool {
		if agg.kindCounts[kinds[i]] != agg.kindCounts[kinds[j]] {
			return agg.kindCounts[kinds[i]] > agg.kindCounts[kinds[j]]
		}
		return kinds[i] < kinds[j]
	})
	if len(kinds) > limit {
		kinds = kinds[:limit]
	}
	return kinds
}
