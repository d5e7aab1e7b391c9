package api

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/outage-watch/internal/config"
	"github.com/miradorstack/outage-watch/internal/detector"
	"github.com/miradorstack/outage-watch/internal/engine"
	"github.com/miradorstack/outage-watch/internal/history"
	"github.com/miradorstack/outage-watch/internal/metrics"
	"github.com/miradorstack/outage-watch/internal/models"
	"github.com/miradorstack/outage-watch/internal/services"
)

type stubCycles struct {
	result models.ManualCycleResult
	err    error
}

func (s stubCycles) RunManual(context.Context) (models.ManualCycleResult, error) {
	return s.result, s.err
}

func (s stubCycles) Status() engine.SchedulerStatus { return engine.SchedulerStatus{} }

func startServer(t *testing.T, cycles services.CycleController) (*Server, *grpc.ClientConn) {
	t.Helper()

	det := detector.NewDetector(nil, nil, nil)
	changes, err := det.DetectChanges([]models.Snapshot{
		{ServiceID: "Google", Status: models.StatusDown, ReportCount: 12000, Severity: models.SeverityCritical, ObservedAt: time.Now().UTC()},
		{ServiceID: "GitHub", Status: models.StatusUp, ReportCount: 2, Severity: models.SeverityLow, ObservedAt: time.Now().UTC()},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	store := history.NewStore(time.Hour, 10)
	store.Record(changes...)
	rec, _ := metrics.NewRecorder(nil)
	svc := services.NewStatusService(nil, det.Store(), store, cycles, rec, services.Options{Version: "test"})

	lis := bufconn.Listen(1 << 20)
	srv := NewServerWithListener(config.ServerConfig{UnhealthyAfter: 2}, lis, NewHandler(nil, svc))
	go func() { _ = srv.Start() }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})
	return srv, conn
}

func mustStruct(t *testing.T, fields map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(fields)
	if err != nil {
		t.Fatalf("struct: %v", err)
	}
	return s
}

func TestGetStatus(t *testing.T) {
	_, conn := startServer(t, nil)
	client := NewClient(conn)
	ctx := context.Background()

	resp, err := client.GetStatus(ctx, mustStruct(t, map[string]any{"status": "down"}))
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if got := resp.GetFields()["count"].GetNumberValue(); got != 1 {
		t.Fatalf("expected one down service, got %v", got)
	}

	one, err := client.GetStatus(ctx, mustStruct(t, map[string]any{"service": "github"}))
	if err != nil {
		t.Fatalf("get service: %v", err)
	}
	snap, err := SnapshotFromStruct(one)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.ServiceID != "GitHub" || snap.Status != models.StatusUp {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	_, err = client.GetStatus(ctx, mustStruct(t, map[string]any{"service": "nope"}))
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListChanges(t *testing.T) {
	_, conn := startServer(t, nil)
	client := NewClient(conn)

	resp, err := client.ListChanges(context.Background(), mustStruct(t, map[string]any{"hours": 1}))
	if err != nil {
		t.Fatalf("list changes: %v", err)
	}
	changes := resp.GetFields()["changes"].GetListValue().GetValues()
	if len(changes) != 1 {
		t.Fatalf("expected one change, got %d", len(changes))
	}
	if kind := changes[0].GetStructValue().GetFields()["change_type"].GetStringValue(); kind != string(models.ChangeNewOutage) {
		t.Fatalf("unexpected change type %q", kind)
	}

	_, err = client.ListChanges(context.Background(), mustStruct(t, map[string]any{"hours": 500}))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestRunManualCycle(t *testing.T) {
	_, conn := startServer(t, stubCycles{result: models.ManualCycleResult{Success: true, ReportsCount: 4, Changes: []models.ChangeEvent{}}})
	resp, err := NewClient(conn).RunManualCycle(context.Background(), nil)
	if err != nil {
		t.Fatalf("manual cycle: %v", err)
	}
	if !resp.GetFields()["success"].GetBoolValue() || resp.GetFields()["reports_count"].GetNumberValue() != 4 {
		t.Fatalf("unexpected response: %v", resp)
	}
}

func TestRunManualCycleUnavailable(t *testing.T) {
	_, conn := startServer(t, stubCycles{err: engine.ErrEmptyBatch})
	_, err := NewClient(conn).RunManualCycle(context.Background(), nil)
	if status.Code(err) != codes.Unavailable {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestHealthFollowsFailures(t *testing.T) {
	srv, conn := startServer(t, nil)
	health := healthpb.NewHealthClient(conn)
	check := func() healthpb.HealthCheckResponse_ServingStatus {
		t.Helper()
		resp, err := health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
		if err != nil {
			t.Fatalf("health check: %v", err)
		}
		return resp.GetStatus()
	}

	if got := check(); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected serving, got %v", got)
	}
	srv.ObserveFailures(1)
	if got := check(); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("one failure must not flip health, got %v", got)
	}
	srv.ObserveFailures(2)
	if got := check(); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected not serving, got %v", got)
	}
	srv.ObserveFailures(0)
	if got := check(); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected recovery, got %v", got)
	}
}
