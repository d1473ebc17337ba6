package dreame

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joshp123/dreamehome/internal/rate"
	"github.com/joshp123/dreamehome/internal/structrpc"
)

// ServiceName is the gRPC service exposing vacuum control.
const ServiceName = "dreamehome.plugins.dreame.v1.DreameService"

// DreameServiceServer is the handler interface for ServiceName. Requests and
// responses are Struct documents keyed by snake_case field names.
type DreameServiceServer interface {
	ListDevices(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StartClean(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StopClean(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Pause(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Dock(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Locate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetFanSpeed(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetWaterBoxMode(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetHistory(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetDeviceInfo(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type serviceMethod func(DreameServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

var serviceMethods = map[string]serviceMethod{
	"ListDevices":     DreameServiceServer.ListDevices,
	"GetStatus":       DreameServiceServer.GetStatus,
	"StartClean":      DreameServiceServer.StartClean,
	"StopClean":       DreameServiceServer.StopClean,
	"Pause":           DreameServiceServer.Pause,
	"Dock":            DreameServiceServer.Dock,
	"Locate":          DreameServiceServer.Locate,
	"SetFanSpeed":     DreameServiceServer.SetFanSpeed,
	"SetWaterBoxMode": DreameServiceServer.SetWaterBoxMode,
	"GetHistory":      DreameServiceServer.GetHistory,
	"GetDeviceInfo":   DreameServiceServer.GetDeviceInfo,
}

func serviceDesc() *grpc.ServiceDesc {
	names := make([]string, 0, len(serviceMethods))
	for name := range serviceMethods {
		names = append(names, name)
	}
	sort.Strings(names)

	desc := &grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*DreameServiceServer)(nil),
		Streams:     []grpc.StreamDesc{},
		Metadata:    "plugins/dreame/v1/dreame.proto",
	}
	for _, name := range names {
		call := serviceMethods[name]
		desc.Methods = append(desc.Methods, structrpc.Method(ServiceName, name,
			func(srv any, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
				return call(srv.(DreameServiceServer), ctx, req)
			}))
	}
	return desc
}

type service struct {
	client *Client
}

func RegisterDreameService(server *grpc.Server, client *Client) {
	server.RegisterService(serviceDesc(), &service{client: client})
}

func (s *service) ListDevices(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.client == nil {
		return nil, status.Error(codes.FailedPrecondition, "dreame client not configured")
	}
	devices := make([]any, 0)
	for _, device := range s.client.Devices() {
		devices = append(devices, map[string]any{
			"id":        device.ID,
			"name":      device.Name,
			"model":     device.Model,
			"transport": device.Transport,
		})
	}
	return structrpc.Response(map[string]any{"devices": devices})
}

// GetStatus reloads all properties unless cached is set.
func (s *service) GetStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	vac, err := s.vacuum(req)
	if err != nil {
		return nil, err
	}
	if !boolField(req, "cached") {
		if _, err := vac.LoadProperties(ctx); err != nil {
			return nil, mapClientError("get status", err)
		}
	}

	properties := make(map[string]any)
	for _, def := range vac.Registry().Definitions() {
		if value := vac.Property(def.Name); value != nil {
			properties[def.Name] = structValue(value)
		}
	}
	return structrpc.Response(map[string]any{
		"status":     mapStatus(vac.Status()),
		"properties": properties,
	})
}

func (s *service) StartClean(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.act(ctx, req, "start clean", (*Vacuum).ActivateCleaning)
}

func (s *service) StopClean(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.act(ctx, req, "stop clean", (*Vacuum).DeactivateCleaning)
}

func (s *service) Pause(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.act(ctx, req, "pause", (*Vacuum).Pause)
}

func (s *service) Dock(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.act(ctx, req, "dock", (*Vacuum).ActivateCharging)
}

func (s *service) Locate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.act(ctx, req, "locate", (*Vacuum).Find)
}

func (s *service) SetFanSpeed(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	speed, err := intField(req, "fan_speed")
	if err != nil {
		return nil, err
	}
	return s.act(ctx, req, "set fan speed", func(v *Vacuum, ctx context.Context) error {
		return v.ChangeFanSpeed(ctx, speed)
	})
}

func (s *service) SetWaterBoxMode(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	mode, err := intField(req, "mode")
	if err != nil {
		return nil, err
	}
	return s.act(ctx, req, "set water box mode", func(v *Vacuum, ctx context.Context) error {
		return v.SetWaterBoxMode(ctx, mode)
	})
}

// GetHistory accepts either day (RFC3339 date or timestamp) or record_id.
func (s *service) GetHistory(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	vac, err := s.vacuum(req)
	if err != nil {
		return nil, err
	}
	var day any
	if id, ok := structrpc.Number(req, "record_id"); ok {
		day = int64(id)
	} else if raw := structrpc.String(req, "day"); raw != "" {
		parsed, err := parseDay(raw)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "day: %v", err)
		}
		day = parsed
	} else {
		return nil, status.Error(codes.InvalidArgument, "day or record_id is required")
	}

	history, err := vac.HistoryForDay(ctx, day)
	if err != nil {
		return nil, mapClientError("get history", err)
	}
	records := make([]any, 0, len(history.History))
	for _, rec := range history.History {
		records = append(records, map[string]any{
			"start":    formatTimestamp(rec.Start),
			"end":      formatTimestamp(rec.End),
			"duration": rec.DurationSeconds,
			"area":     rec.AreaSquareM,
			"complete": rec.Complete,
		})
	}
	var echoed any
	if t, ok := history.Day.(time.Time); ok {
		echoed = formatTimestamp(t)
	} else {
		echoed = structValue(history.Day)
	}
	return structrpc.Response(map[string]any{"day": echoed, "history": records})
}

func (s *service) GetDeviceInfo(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	vac, err := s.vacuum(req)
	if err != nil {
		return nil, err
	}
	info, err := vac.DeviceInfo(ctx)
	if err != nil {
		return nil, mapClientError("get device info", err)
	}
	resp := map[string]any{"info": structValue(info)}
	if serial, err := vac.SerialNumber(ctx); err == nil {
		resp["serial_number"] = serial
	}
	return structrpc.Response(resp)
}

func (s *service) act(ctx context.Context, req *structpb.Struct, action string, fn func(*Vacuum, context.Context) error) (*structpb.Struct, error) {
	vac, err := s.vacuum(req)
	if err != nil {
		return nil, err
	}
	if err := fn(vac, ctx); err != nil {
		return nil, mapClientError(action, err)
	}
	return structrpc.Response(map[string]any{})
}

// vacuum resolves device_id; an empty id selects the first device.
func (s *service) vacuum(req *structpb.Struct) (*Vacuum, error) {
	if s.client == nil {
		return nil, status.Error(codes.FailedPrecondition, "dreame client not configured")
	}
	vac, err := s.client.Vacuum(structrpc.String(req, "device_id"))
	if err != nil {
		return nil, mapClientError("resolve device", err)
	}
	return vac, nil
}

func mapClientError(action string, err error) error {
	switch {
	case errors.Is(err, ErrDeviceNotFound):
		return status.Errorf(codes.NotFound, "%s: %v", action, err)
	case errors.Is(err, ErrOutOfRange), errors.Is(err, ErrUnknownProperty):
		return status.Errorf(codes.InvalidArgument, "%s: %v", action, err)
	case errors.Is(err, ErrClosed), errors.Is(err, errNoDevices):
		return status.Errorf(codes.FailedPrecondition, "%s: %v", action, err)
	case errors.As(err, new(rate.RateLimitError)):
		return status.Errorf(codes.ResourceExhausted, "%s: %v", action, err)
	case errors.Is(err, ErrCallFailed):
		return status.Errorf(codes.Aborted, "%s: %v", action, err)
	case errors.Is(err, context.DeadlineExceeded):
		return status.Errorf(codes.DeadlineExceeded, "%s: %v", action, err)
	}
	return status.Errorf(codes.Internal, "%s: %v", action, err)
}

func mapStatus(st Status) map[string]any {
	out := map[string]any{
		"state":                   st.State,
		"charging":                st.Charging,
		"cleaning":                st.Cleaning,
		"battery_percent":         st.BatteryPercent,
		"error":                   st.Error,
		"fan_speed":               st.FanSpeed,
		"water_box_mode":          st.WaterBoxMode,
		"water_box_attached":      st.WaterBoxAttached,
		"cleaning_time":           st.CleaningTime,
		"cleaning_area":           st.CleaningArea,
		"main_brush_seconds_left": st.MainBrushSecondsLeft,
		"side_brush_seconds_left": st.SideBrushSecondsLeft,
		"filter_seconds_left":     st.FilterSecondsLeft,
		"last_updated":            formatTimestamp(st.LastUpdated),
	}
	if st.LastError != "" {
		out["last_error"] = st.LastError
	}
	return out
}

// structValue converts decoded device values to types structpb accepts.
func structValue(value any) any {
	switch v := value.(type) {
	case Fault:
		return map[string]any{"code": structValue(v.Code), "message": v.Message}
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = structValue(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = structValue(item)
		}
		return out
	case nil, bool, string, float64, float32, int, int32, int64, uint32, uint64:
		return v
	default:
		return stringFrom(v)
	}
}

func boolField(req *structpb.Struct, key string) bool {
	if req == nil {
		return false
	}
	return req.GetFields()[key].GetBoolValue()
}

// intField reads a required whole-number field.
func intField(req *structpb.Struct, key string) (int, error) {
	v, ok := structrpc.Number(req, key)
	if !ok {
		return 0, status.Errorf(codes.InvalidArgument, "%s is required", key)
	}
	if v != math.Trunc(v) || math.IsInf(v, 0) {
		return 0, status.Errorf(codes.InvalidArgument, "%s must be an integer, got %v", key, v)
	}
	return int(v), nil
}

func parseDay(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.ParseInLocation(time.DateOnly, raw, time.Local)
}

func formatTimestamp(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(time.RFC3339)
}
