package services

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/miradorstack/outage-watch/internal/engine"
	"github.com/miradorstack/outage-watch/internal/history"
	"github.com/miradorstack/outage-watch/internal/metrics"
	"github.com/miradorstack/outage-watch/internal/models"
	"github.com/miradorstack/outage-watch/internal/patterns"
	"github.com/miradorstack/outage-watch/internal/utils"
)

const (
	// ServiceName is reported by the root and health endpoints.
	ServiceName = "outage-watch"

	defaultLookbackHours = 24
	maxLookbackHours     = 168
)

// StateReader exposes the committed detector baseline.
type StateReader interface {
	List() []models.Snapshot
	Get(serviceID string) (models.Snapshot, bool)
}

// HistoryReader exposes recent change events.
type HistoryReader interface {
	List(q history.Query) []models.ChangeEvent
}

// CycleController runs operator cycles and reports scheduler state.
type CycleController interface {
	RunManual(ctx context.Context) (models.ManualCycleResult, error)
	Status() engine.SchedulerStatus
}

// Options configures the StatusService.
type Options struct {
	Version  string
	Services []string
	// UnhealthyAfter is the consecutive failed cycle count at which Health
	// reports unhealthy. Zero disables the check.
	UnhealthyAfter int
}

// StatusService is the read facade shared by the HTTP and gRPC surfaces.
// Errors are gRPC status errors so both transports map them the same way.
type StatusService struct {
	logger    *slog.Logger
	state     StateReader
	history   HistoryReader
	cycles    CycleController
	recorder  *metrics.Recorder
	miner     *patterns.Miner
	opts      Options
	latencies *utils.LatencyTracker
	now       func() time.Time
}

// NewStatusService constructs the facade. history and cycles may be nil.
func NewStatusService(logger *slog.Logger, state StateReader, historyReader HistoryReader, cycles CycleController, recorder *metrics.Recorder, opts Options) *StatusService {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	return &StatusService{
		logger:    logger.With(slog.String("component", "status_service")),
		state:     state,
		history:   historyReader,
		cycles:    cycles,
		recorder:  recorder,
		miner:     patterns.NewMiner(logger),
		opts:      opts,
		latencies: utils.NewLatencyTracker(256),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Info describes the running process.
type Info struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Status  string `json:"status"`
}

// Health is the liveness view.
type Health struct {
	Healthy             bool       `json:"healthy"`
	Version             string     `json:"version"`
	UptimeSeconds       int        `json:"uptime_seconds"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastCycle           *time.Time `json:"last_cycle,omitempty"`
	NextRun             *time.Time `json:"next_run,omitempty"`
	Timestamp           time.Time  `json:"timestamp"`
}

// StatusView lists current service snapshots.
type StatusView struct {
	Services    []models.Snapshot `json:"services"`
	Count       int               `json:"count"`
	Outages     int               `json:"outages"`
	LastUpdated *time.Time        `json:"last_updated"`
}

// ChangesView lists recent change events.
type ChangesView struct {
	Changes []models.ChangeEvent `json:"changes"`
	Count   int                  `json:"count"`
	Hours   int                  `json:"hours"`
}

// HotspotsView ranks services by change activity.
type HotspotsView struct {
	Hotspots []patterns.Hotspot `json:"hotspots"`
	Count    int                `json:"count"`
	Hours    int                `json:"hours"`
}

// ServicesView lists the configured services.
type ServicesView struct {
	Services []string `json:"services"`
	Count    int      `json:"count"`
}

// Info returns the process name and version.
func (s *StatusService) Info() Info {
	return Info{Name: ServiceName, Version: s.opts.Version, Status: "running"}
}

// Health reports whether recent cycles are succeeding.
func (s *StatusService) Health() Health {
	h := Health{
		Healthy:       true,
		Version:       s.opts.Version,
		UptimeSeconds: int(s.recorder.Uptime().Seconds()),
		Timestamp:     s.now(),
	}
	if s.cycles == nil {
		return h
	}
	st := s.cycles.Status()
	h.ConsecutiveFailures = st.ConsecutiveFailures
	h.NextRun = st.NextRun
	if st.LastCycle != nil {
		at := st.LastCycle.StartedAt
		h.LastCycle = &at
	}
	if s.opts.UnhealthyAfter > 0 && st.ConsecutiveFailures >= s.opts.UnhealthyAfter {
		h.Healthy = false
	}
	return h
}

// Status lists tracked services, optionally filtered by severity and status.
func (s *StatusService) Status(severity, statusFilter string) (StatusView, error) {
	var (
		wantSeverity models.Severity
		wantStatus   models.Status
		err          error
	)
	if strings.TrimSpace(severity) != "" {
		if wantSeverity, err = models.ParseSeverity(severity); err != nil {
			return StatusView{}, status.Error(codes.InvalidArgument, err.Error())
		}
	}
	if strings.TrimSpace(statusFilter) != "" {
		if wantStatus, err = models.ParseStatus(statusFilter); err != nil {
			return StatusView{}, status.Error(codes.InvalidArgument, err.Error())
		}
	}

	view := StatusView{Services: make([]models.Snapshot, 0)}
	for _, snap := range s.state.List() {
		if wantSeverity != "" && snap.Severity != wantSeverity {
			continue
		}
		if wantStatus != "" && snap.Status != wantStatus {
			continue
		}
		if snap.Status != models.StatusUp {
			view.Outages++
		}
		if view.LastUpdated == nil || snap.ObservedAt.After(*view.LastUpdated) {
			at := snap.ObservedAt
			view.LastUpdated = &at
		}
		view.Services = append(view.Services, snap)
	}
	view.Count = len(view.Services)
	return view, nil
}

// Service returns the snapshot of one service, matched case-insensitively.
func (s *StatusService) Service(name string) (models.Snapshot, error) {
	if strings.TrimSpace(name) == "" {
		return models.Snapshot{}, status.Error(codes.InvalidArgument, "service name is required")
	}
	snap, ok := s.state.Get(name)
	if !ok {
		return models.Snapshot{}, status.Errorf(codes.NotFound, "service %q is not tracked", name)
	}
	return snap, nil
}

// Changes lists change events from the last hours (1..168, default 24).
func (s *StatusService) Changes(hours, service, changeType string) (ChangesView, error) {
	lookback, err := utils.ParseLookbackHours(hours, defaultLookbackHours, 1, maxLookbackHours)
	if err != nil {
		return ChangesView{}, status.Error(codes.InvalidArgument, err.Error())
	}
	var kind models.ChangeKind
	if changeType = strings.TrimSpace(changeType); changeType != "" {
		kind = models.ChangeKind(strings.ToLower(changeType))
		if !kind.Valid() {
			return ChangesView{}, status.Errorf(codes.InvalidArgument, "unknown change type %q", changeType)
		}
	}

	view := ChangesView{Changes: make([]models.ChangeEvent, 0), Hours: int(lookback / time.Hour)}
	if s.history != nil {
		view.Changes = s.history.List(history.Query{Since: lookback, Service: service, Kind: kind})
	}
	view.Count = len(view.Changes)
	return view, nil
}

// Hotspots ranks services by the number of change events in the last hours.
func (s *StatusService) Hotspots(hours string) (HotspotsView, error) {
	lookback, err := utils.ParseLookbackHours(hours, defaultLookbackHours, 1, maxLookbackHours)
	if err != nil {
		return HotspotsView{}, status.Error(codes.InvalidArgument, err.Error())
	}
	var events []models.ChangeEvent
	if s.history != nil {
		events = s.history.List(history.Query{Since: lookback})
	}
	spots := s.miner.Mine(events)
	return HotspotsView{Hotspots: spots, Count: len(spots), Hours: int(lookback / time.Hour)}, nil
}

// Services lists the configured service identifiers in sorted order.
func (s *StatusService) Services() ServicesView {
	names := append([]string(nil), s.opts.Services...)
	sort.Strings(names)
	if names == nil {
		names = []string{}
	}
	return ServicesView{Services: names, Count: len(names)}
}

// Metrics returns the JSON metrics view.
func (s *StatusService) Metrics() metrics.Stats {
	return s.recorder.Stats()
}

// RunManual runs a fetch and detect cycle on behalf of an operator. The
// result is returned alongside the error so callers can report partial
// outcomes.
func (s *StatusService) RunManual(ctx context.Context) (models.ManualCycleResult, error) {
	if s.cycles == nil {
		return models.ManualCycleResult{}, status.Error(codes.FailedPrecondition, "scheduler not configured")
	}

	start := time.Now()
	result, err := s.cycles.RunManual(ctx)
	duration := time.Since(start)
	if err != nil {
		s.logger.Warn("manual cycle failed", slog.Any("error", err), slog.Duration("duration", duration))
		return result, toStatusError(err)
	}
	s.latencies.Observe(duration)
	if count := s.latencies.Count(); count%10 == 0 {
		s.logger.Info("manual cycle latency", slog.Duration("p95", s.latencies.Percentile(95)), slog.Int("samples", count))
	}
	return result, nil
}

func toStatusError(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	case errors.Is(err, engine.ErrEmptyBatch), errors.Is(err, engine.ErrSchedulerStopped):
		return status.Error(codes.Unavailable, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
