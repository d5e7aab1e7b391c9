package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/miradorstack/outage-watch/internal/detector"
	"github.com/miradorstack/outage-watch/internal/engine"
	"github.com/miradorstack/outage-watch/internal/history"
	"github.com/miradorstack/outage-watch/internal/metrics"
	"github.com/miradorstack/outage-watch/internal/models"
)

type stubCycles struct {
	result models.ManualCycleResult
	err    error
	status engine.SchedulerStatus
	calls  int
}

func (s *stubCycles) RunManual(context.Context) (models.ManualCycleResult, error) {
	s.calls++
	return s.result, s.err
}

func (s *stubCycles) Status() engine.SchedulerStatus { return s.status }

func seededService(t *testing.T, cycles CycleController) (*StatusService, *history.Store) {
	t.Helper()
	det := detector.NewDetector(nil, nil, nil)
	changes, err := det.DetectChanges([]models.Snapshot{
		{ServiceID: "Google", Status: models.StatusDown, ReportCount: 12000, Severity: models.SeverityCritical, ObservedAt: time.Now().UTC()},
		{ServiceID: "Slack", Status: models.StatusIssues, ReportCount: 1500, Severity: models.SeverityMedium, ObservedAt: time.Now().UTC()},
		{ServiceID: "GitHub", Status: models.StatusUp, ReportCount: 3, Severity: models.SeverityLow, ObservedAt: time.Now().UTC()},
	})
	if err != nil {
		t.Fatalf("seed detector: %v", err)
	}
	store := history.NewStore(24*time.Hour, 100)
	store.Record(changes...)

	rec, _ := metrics.NewRecorder(nil)
	svc := NewStatusService(nil, det.Store(), store, cycles, rec, Options{
		Version:        "1.2.3",
		Services:       []string{"slack", "google", "github"},
		UnhealthyAfter: 3,
	})
	return svc, store
}

func TestStatusFilters(t *testing.T) {
	svc, _ := seededService(t, nil)

	all, err := svc.Status("", "")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if all.Count != 3 || all.Outages != 2 || all.LastUpdated == nil {
		t.Fatalf("unexpected view: %+v", all)
	}

	critical, err := svc.Status("CRITICAL", "")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if critical.Count != 1 || critical.Services[0].ServiceID != "Google" {
		t.Fatalf("expected only Google, got %+v", critical.Services)
	}

	up, _ := svc.Status("", "up")
	if up.Count != 1 || up.Outages != 0 {
		t.Fatalf("expected one healthy service, got %+v", up)
	}

	if _, err := svc.Status("extreme", ""); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestServiceLookupIsCaseInsensitive(t *testing.T) {
	svc, _ := seededService(t, nil)

	snap, err := svc.Service("gOOgle")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if snap.ServiceID != "Google" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	if _, err := svc.Service("myspace"); status.Code(err) != codes.NotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestChangesValidatesQuery(t *testing.T) {
	svc, _ := seededService(t, nil)

	view, err := svc.Changes("", "", "")
	if err != nil {
		t.Fatalf("changes: %v", err)
	}
	if view.Count != 2 || view.Hours != 24 {
		t.Fatalf("expected two new outages in a 24h window, got %+v", view)
	}

	view, err = svc.Changes("2", "slack", "new_outage")
	if err != nil {
		t.Fatalf("changes: %v", err)
	}
	if view.Count != 1 || view.Changes[0].ServiceID != "Slack" {
		t.Fatalf("unexpected filtered view: %+v", view)
	}

	for _, hours := range []string{"0", "169", "abc"} {
		if _, err := svc.Changes(hours, "", ""); status.Code(err) != codes.InvalidArgument {
			t.Fatalf("hours=%s: expected invalid argument, got %v", hours, err)
		}
	}
	if _, err := svc.Changes("", "", "exploded"); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected invalid change type to be rejected, got %v", err)
	}
}

func TestServicesSorted(t *testing.T) {
	svc, _ := seededService(t, nil)
	view := svc.Services()
	if view.Count != 3 || view.Services[0] != "github" || view.Services[2] != "slack" {
		t.Fatalf("unexpected services view: %+v", view)
	}
}

func TestHealthTracksConsecutiveFailures(t *testing.T) {
	cycles := &stubCycles{}
	svc, _ := seededService(t, cycles)

	if h := svc.Health(); !h.Healthy || h.Version != "1.2.3" {
		t.Fatalf("expected healthy, got %+v", h)
	}

	cycles.status = engine.SchedulerStatus{
		ConsecutiveFailures: 3,
		LastCycle:           &models.CycleReport{StartedAt: time.Unix(1_700_000_000, 0)},
	}
	h := svc.Health()
	if h.Healthy || h.ConsecutiveFailures != 3 || h.LastCycle == nil {
		t.Fatalf("expected unhealthy after three failures, got %+v", h)
	}
}

func TestRunManualMapsErrors(t *testing.T) {
	cycles := &stubCycles{err: engine.ErrEmptyBatch, result: models.ManualCycleResult{Error: engine.ErrEmptyBatch.Error()}}
	svc, _ := seededService(t, cycles)

	res, err := svc.RunManual(context.Background())
	if status.Code(err) != codes.Unavailable {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if res.Error == "" {
		t.Fatalf("expected result to carry the error message")
	}

	cycles.err = context.DeadlineExceeded
	if _, err := svc.RunManual(context.Background()); status.Code(err) != codes.DeadlineExceeded {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	cycles.err = errors.New("boom")
	if _, err := svc.RunManual(context.Background()); status.Code(err) != codes.Internal {
		t.Fatalf("expected internal, got %v", err)
	}

	cycles.err = nil
	cycles.result = models.ManualCycleResult{Success: true, ReportsCount: 3}
	res, err = svc.RunManual(context.Background())
	if err != nil || !res.Success {
		t.Fatalf("expected success, got %+v, %v", res, err)
	}
}

func TestRunManualWithoutScheduler(t *testing.T) {
	svc, _ := seededService(t, nil)
	if _, err := svc.RunManual(context.Background()); status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("expected failed precondition, got %v", err)
	}
}

func TestHotspots(t *testing.T) {
	svc, store := seededService(t, nil)
	store.Record(models.ChangeEvent{ServiceID: "google", Kind: models.ChangeOutageResolved, OccurredAt: time.Now()})

	view, err := svc.Hotspots("")
	if err != nil {
		t.Fatalf("hotspots: %v", err)
	}
	if view.Count != 2 || view.Hotspots[0].Events != 2 || view.Hotspots[0].Resolutions != 1 {
		t.Fatalf("unexpected hotspots: %+v", view)
	}
	if _, err := svc.Hotspots("0"); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}
