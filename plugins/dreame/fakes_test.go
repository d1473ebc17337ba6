package dreame

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
)

type recordedCall struct {
	Method string
	Params any
}

// fakeCaller records every call and answers through respond.
type fakeCaller struct {
	mu      sync.Mutex
	calls   []recordedCall
	respond func(method string, params any) (any, error)
	closed  bool
}

func (f *fakeCaller) Call(_ context.Context, method string, params any) (any, error) {
	f.mu.Lock()
	f.calls = append(f.calls, recordedCall{Method: method, Params: params})
	respond := f.respond
	f.mu.Unlock()
	if respond == nil {
		return nil, nil
	}
	return respond(method, params)
}

func (f *fakeCaller) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeCaller) callsTo(method string) []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recordedCall
	for _, call := range f.calls {
		if call.Method == method {
			out = append(out, call)
		}
	}
	return out
}

func (f *fakeCaller) setRespond(respond func(method string, params any) (any, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.respond = respond
}

// deviceValues answers get_properties from raw values keyed by did, the way
// the device replies: one entry per requested property, code -4001 for the
// ones it does not know. Other methods get ok.
func deviceValues(values map[string]any) func(string, any) (any, error) {
	return func(method string, params any) (any, error) {
		if method != MethodGetProperties {
			return map[string]any{"code": float64(0), "out": []any{}}, nil
		}
		reqs, ok := params.([]propertyRequest)
		if !ok {
			return nil, fmt.Errorf("unexpected params %T", params)
		}
		out := make([]any, 0, len(reqs))
		for _, req := range reqs {
			entry := map[string]any{"did": req.DID, "siid": float64(req.SIID), "piid": float64(req.PIID)}
			if value, ok := values[req.DID]; ok {
				entry["code"] = float64(0)
				entry["value"] = value
			} else {
				entry["code"] = float64(-4001)
			}
			out = append(out, entry)
		}
		return out, nil
	}
}

// rawDeviceState is a cleaning vacuum as the device reports it.
func rawDeviceState() map[string]any {
	return map[string]any{
		PropStatus:            float64(2),
		PropState:             float64(1),
		PropError:             float64(0),
		PropBatteryLevel:      float64(87),
		PropCleanTime:         float64(12),
		PropCleanArea:         float64(9),
		PropFanSpeed:          float64(1),
		PropMainBrushWorkTime: float64(100),
		PropSideBrushWorkTime: float64(50),
		PropFilterWorkTime:    float64(20),
		PropWaterBoxMode:      float64(2),
		PropWaterBox:          float64(1),
	}
}

// recordingListener keeps every notification as "kind:value".
type recordingListener struct {
	mu     sync.Mutex
	events []string
}

func (l *recordingListener) record(kind string, value any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, fmt.Sprintf("%s:%v", kind, value))
}

func (l *recordingListener) OnChargingChanged(charging bool) { l.record("charging", charging) }
func (l *recordingListener) OnCleaningChanged(cleaning bool) { l.record("cleaning", cleaning) }
func (l *recordingListener) OnFanSpeedChanged(speed any)     { l.record("fan", speed) }
func (l *recordingListener) OnError(fault any)               { l.record("error", fault) }

func (l *recordingListener) Events() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *recordingListener) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
}

// logBuffer collects text log output from several goroutines.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newBufferLogger() (*slog.Logger, *logBuffer) {
	buf := &logBuffer{}
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}
