package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/outage-watch/internal/models"
	"github.com/miradorstack/outage-watch/internal/services"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "outagewatch.v1.OutageWatch"

// OutageWatchServer is the query API. Requests and responses are
// google.protobuf.Struct documents mirroring the HTTP JSON bodies.
type OutageWatchServer interface {
	GetStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListChanges(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	RunManualCycle(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// RegisterOutageWatchServer registers srv on s.
func RegisterOutageWatchServer(s grpc.ServiceRegistrar, srv OutageWatchServer) {
	s.RegisterService(&outageWatchServiceDesc, srv)
}

var outageWatchServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OutageWatchServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetStatus", Handler: unaryHandler("GetStatus", OutageWatchServer.GetStatus)},
		{MethodName: "ListChanges", Handler: unaryHandler("ListChanges", OutageWatchServer.ListChanges)},
		{MethodName: "RunManualCycle", Handler: unaryHandler("RunManualCycle", OutageWatchServer.RunManualCycle)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "outagewatch/v1/outagewatch.proto",
}

type unaryMethod func(OutageWatchServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(name string, method unaryMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	fullMethod := "/" + ServiceName + "/" + name
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return method(srv.(OutageWatchServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return method(srv.(OutageWatchServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Client is a thin caller for the OutageWatch service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if req == nil {
		req = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// GetStatus calls OutageWatch.GetStatus.
func (c *Client) GetStatus(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "GetStatus", req, opts...)
}

// ListChanges calls OutageWatch.ListChanges.
func (c *Client) ListChanges(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "ListChanges", req, opts...)
}

// RunManualCycle calls OutageWatch.RunManualCycle.
func (c *Client) RunManualCycle(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "RunManualCycle", req, opts...)
}

// Handler implements OutageWatchServer on top of the status service.
type Handler struct {
	logger  *slog.Logger
	service *services.StatusService
}

// NewHandler constructs the gRPC handler.
func NewHandler(logger *slog.Logger, service *services.StatusService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger.With(slog.String("component", "grpc")), service: service}
}

// GetStatus returns one service when "service" is set, otherwise the
// filtered status list.
func (h *Handler) GetStatus(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if name := stringField(req, "service"); name != "" {
		snap, err := h.service.Service(name)
		if err != nil {
			return nil, err
		}
		return toStruct(snap)
	}
	view, err := h.service.Status(stringField(req, "severity"), stringField(req, "status"))
	if err != nil {
		return nil, err
	}
	return toStruct(view)
}

// ListChanges returns recent change events.
func (h *Handler) ListChanges(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	view, err := h.service.Changes(stringField(req, "hours"), stringField(req, "service"), stringField(req, "change_type"))
	if err != nil {
		return nil, err
	}
	return toStruct(view)
}

// RunManualCycle runs a fetch and detect cycle.
func (h *Handler) RunManualCycle(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	result, err := h.service.RunManual(ctx)
	if err != nil {
		h.logger.Warn("manual cycle request failed", slog.Any("error", err))
		return nil, err
	}
	return toStruct(result)
}

// stringField reads a string or number field from req. Numbers are rendered
// without a fractional part when integral.
func stringField(req *structpb.Struct, name string) string {
	v, ok := req.GetFields()[name]
	if !ok || v == nil {
		return ""
	}
	switch kind := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return kind.StringValue
	case *structpb.Value_NumberValue:
		return strconv.FormatFloat(kind.NumberValue, 'f', -1, 64)
	case *structpb.Value_BoolValue:
		return strconv.FormatBool(kind.BoolValue)
	}
	return ""
}

// toStruct converts a JSON-tagged value into a Struct so the gRPC and HTTP
// payloads share field names.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode response: %v", err))
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode response: %v", err))
	}
	return out, nil
}

// SnapshotFromStruct decodes a snapshot document returned by GetStatus.
func SnapshotFromStruct(s *structpb.Struct) (models.Snapshot, error) {
	var snap models.Snapshot
	raw, err := protojson.Marshal(s)
	if err != nil {
		return snap, err
	}
	if err := json.Unmarshal(raw, &snap); err != nil {
		return snap, err
	}
	return snap, nil
}
