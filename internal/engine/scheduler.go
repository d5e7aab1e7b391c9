package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/miradorstack/outage-watch/internal/models"
)

// ErrSchedulerStopped is returned when work is requested after Stop.
var ErrSchedulerStopped = errors.New("scheduler stopped")

// CycleRunner is the work driven by the scheduler.
type CycleRunner interface {
	RunCycle(ctx context.Context) models.CycleReport
	RunManual(ctx context.Context) (models.ManualCycleResult, error)
}

// SchedulerStatus is a point-in-time view of the scheduler.
type SchedulerStatus struct {
	Running             bool                `json:"running"`
	Interval            time.Duration       `json:"interval"`
	ConsecutiveFailures int                 `json:"consecutive_failures"`
	LastCycle           *models.CycleReport `json:"last_cycle,omitempty"`
	NextRun             *time.Time          `json:"next_run,omitempty"`
}

// Scheduler runs cycles on a fixed interval. Scheduled, triggered and manual
// runs share one execution slot, so at most one cycle is active at a time.
type Scheduler struct {
	runner   CycleRunner
	interval time.Duration
	logger   *slog.Logger
	onCycle  func(models.CycleReport)

	slot    chan struct{}
	trigger chan struct{}
	stop    chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	loopDone  chan struct{}
	started   atomic.Bool

	failures atomic.Int64
	last     atomic.Pointer[models.CycleReport]
	nextRun  atomic.Int64
}

// NewScheduler creates a scheduler. onCycle, when set, observes every finished
// scheduled or triggered cycle.
func NewScheduler(runner CycleRunner, interval time.Duration, onCycle func(models.CycleReport), logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Scheduler{
		runner:   runner,
		interval: interval,
		logger:   logger.With(slog.String("component", "scheduler")),
		onCycle:  onCycle,
		slot:     make(chan struct{}, 1),
		trigger:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
}

// Start runs one cycle immediately and then every interval until Stop is
// called or ctx is cancelled. Later calls are no-ops.
func (s *Scheduler) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.started.Store(true)
		go s.loop(ctx)
		s.logger.Info("scheduler started", slog.Duration("interval", s.interval))
	})
}

// Stop prevents new cycles from starting. A cycle already running completes.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.logger.Info("scheduler stopping")
	})
}

// Wait blocks until the loop has exited and no cycle is in flight.
func (s *Scheduler) Wait() {
	if s.started.Load() {
		<-s.loopDone
	}
	s.slot <- struct{}{}
	<-s.slot
}

// TriggerNow requests an immediate cycle. It reports false when a request is
// already pending or the scheduler is stopped.
func (s *Scheduler) TriggerNow() bool {
	if s.stopped() {
		return false
	}
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// RunManual waits for the execution slot and runs fetch and detect.
func (s *Scheduler) RunManual(ctx context.Context) (models.ManualCycleResult, error) {
	if s.stopped() {
		return models.ManualCycleResult{Error: ErrSchedulerStopped.Error()}, ErrSchedulerStopped
	}
	if !s.acquire(ctx.Done()) {
		if err := ctx.Err(); err != nil {
			return models.ManualCycleResult{Error: err.Error()}, err
		}
		return models.ManualCycleResult{Error: ErrSchedulerStopped.Error()}, ErrSchedulerStopped
	}
	defer s.release()
	return s.runner.RunManual(ctx)
}

// Status returns the current scheduler state.
func (s *Scheduler) Status() SchedulerStatus {
	st := SchedulerStatus{
		Running:             s.started.Load() && !s.stopped(),
		Interval:            s.interval,
		ConsecutiveFailures: int(s.failures.Load()),
		LastCycle:           s.last.Load(),
	}
	if ns := s.nextRun.Load(); ns > 0 && st.Running {
		t := time.Unix(0, ns).UTC()
		st.NextRun = &t
	}
	return st
}

// ConsecutiveFailures returns the number of failed cycles since the last success.
func (s *Scheduler) ConsecutiveFailures() int { return int(s.failures.Load()) }

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.loopDone)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runScheduled(ctx)
	for {
		s.nextRun.Store(time.Now().Add(s.interval).UnixNano())
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler context cancelled")
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.runScheduled(ctx)
		case <-s.trigger:
			s.logger.Info("triggered cycle")
			s.runScheduled(ctx)
			ticker.Reset(s.interval)
		}
	}
}

func (s *Scheduler) runScheduled(ctx context.Context) {
	if !s.acquire(ctx.Done()) {
		return
	}
	defer s.release()

	// Stop and shutdown must not abort a cycle halfway through notification.
	report := s.runner.RunCycle(context.WithoutCancel(ctx))
	if report.Failed() {
		n := s.failures.Add(1)
		s.logger.Warn("cycle failed", slog.String("outcome", string(report.Outcome)), slog.Int64("consecutive_failures", n))
	} else {
		s.failures.Store(0)
	}
	s.last.Store(&report)
	if s.onCycle != nil {
		s.onCycle(report)
	}
}

// acquire takes the execution slot. It gives up when cancel fires or the
// scheduler stops.
func (s *Scheduler) acquire(cancel <-chan struct{}) bool {
	select {
	case <-s.stop:
		return false
	default:
	}
	select {
	case s.slot <- struct{}{}:
		return true
	case <-cancel:
		return false
	case <-s.stop:
		return false
	}
}

func (s *Scheduler) release() {
	<-s.slot
}

func (s *Scheduler) stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}
