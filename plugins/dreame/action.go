package dreame

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ActionPayload invokes action aiid on service siid.
type ActionPayload struct {
	DID  string `json:"did"`
	SIID int    `json:"siid"`
	AIID int    `json:"aiid"`
	In   []any  `json:"in"`
}

// PropertyPayload writes a single property.
type PropertyPayload struct {
	DID   string `json:"did"`
	SIID  int    `json:"siid"`
	PIID  int    `json:"piid"`
	Value any    `json:"value"`
}

// CallOptions names the properties to re-read once a call has succeeded.
// RefreshDelay gives the device time to commit the change first.
type CallOptions struct {
	Refresh      []string
	RefreshDelay time.Duration
}

// Invoker issues action and set_properties calls and schedules the follow-up
// refresh reads.
type Invoker struct {
	caller  Caller
	fetcher *Fetcher
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending map[*time.Timer]struct{}
	wg      sync.WaitGroup
	closed  bool
}

func NewInvoker(caller Caller, fetcher *Fetcher, logger *slog.Logger) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Invoker{
		caller:  caller,
		fetcher: fetcher,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[*time.Timer]struct{}),
	}
}

// InvokeAction calls action aiid of service siid with params.
func (i *Invoker) InvokeAction(ctx context.Context, siid, aiid int, params []any, opts CallOptions) (any, error) {
	if params == nil {
		params = []any{}
	}
	payload := ActionPayload{
		DID:  fmt.Sprintf("call-%d-%d", siid, aiid),
		SIID: siid,
		AIID: aiid,
		In:   params,
	}
	return i.call(ctx, MethodAction, payload, opts)
}

// SetProperty writes value to siid/piid.
func (i *Invoker) SetProperty(ctx context.Context, siid, piid int, value any, opts CallOptions) (any, error) {
	payload := []PropertyPayload{{
		DID:   fmt.Sprintf("set-%d-%d", siid, piid),
		SIID:  siid,
		PIID:  piid,
		Value: value,
	}}
	return i.call(ctx, MethodSetProperties, payload, opts)
}

func (i *Invoker) call(ctx context.Context, method string, payload any, opts CallOptions) (any, error) {
	if i.isClosed() {
		return nil, ErrClosed
	}
	result, err := i.caller.Call(ctx, method, payload)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if len(opts.Refresh) > 0 {
		i.scheduleRefresh(opts.Refresh, opts.RefreshDelay)
	}
	return result, nil
}

func (i *Invoker) scheduleRefresh(names []string, delay time.Duration) {
	names = append([]string(nil), names...)

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return
	}
	i.wg.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		defer i.wg.Done()
		i.mu.Lock()
		delete(i.pending, timer)
		i.mu.Unlock()
		if _, err := i.fetcher.Fetch(i.ctx, names...); err != nil {
			i.logger.Warn("refresh after call failed", "properties", names, "error", err)
		}
	})
	i.pending[timer] = struct{}{}
}

func (i *Invoker) isClosed() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.closed
}

// Close cancels refreshes that have not started and waits for running ones.
func (i *Invoker) Close() {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return
	}
	i.closed = true
	for timer := range i.pending {
		if timer.Stop() {
			i.wg.Done()
		}
	}
	i.pending = nil
	i.mu.Unlock()

	i.cancel()
	i.wg.Wait()
}
