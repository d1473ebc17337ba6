package dreame

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// ErrOutOfRange rejects an argument before it reaches the device.
var ErrOutOfRange = errors.New("value out of range")

const (
	defaultMonitorInterval = 60 * time.Second
	defaultRefreshDelay    = time.Second
	pollTimeout            = 15 * time.Second
)

// VacuumOptions tunes a Vacuum session. Zero values select defaults.
type VacuumOptions struct {
	Registry        *Registry
	Listener        Listener
	Logger          *slog.Logger
	RefreshDelay    time.Duration
	MonitorInterval time.Duration
}

// Vacuum is the session with one device: property cache, fetcher, action
// invoker and state interpreter wired together.
type Vacuum struct {
	device       Device
	caller       Caller
	logger       *slog.Logger
	refreshDelay time.Duration
	interval     time.Duration

	registry    *Registry
	store       *Store
	fetcher     *Fetcher
	invoker     *Invoker
	interpreter *Interpreter
	events      *EventListener

	// ctx bounds background polls; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	lastErr   error
	lastFetch time.Time
	stop      chan struct{}
	done      chan struct{}
	closed    bool
}

func NewVacuum(device Device, caller Caller, opts VacuumOptions) *Vacuum {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("device_id", device.ID)
	registry := opts.Registry
	if registry == nil {
		registry = DefaultRegistry()
	}
	refreshDelay := opts.RefreshDelay
	if refreshDelay == 0 {
		refreshDelay = defaultRefreshDelay
	}
	interval := opts.MonitorInterval
	if interval == 0 {
		interval = defaultMonitorInterval
	}

	events := NewEventListener(device.ID)
	listeners := multiListener{events}
	if opts.Listener != nil {
		listeners = append(listeners, opts.Listener)
	}

	store := NewStore()
	interpreter := NewInterpreter(store, listeners, logger)
	fetcher := NewFetcher(caller, registry, store, interpreter)
	ctx, cancel := context.WithCancel(context.Background())
	return &Vacuum{
		device:       device,
		caller:       caller,
		logger:       logger,
		refreshDelay: refreshDelay,
		interval:     interval,
		registry:     registry,
		store:        store,
		fetcher:      fetcher,
		invoker:      NewInvoker(caller, fetcher, logger),
		interpreter:  interpreter,
		events:       events,
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (v *Vacuum) Device() Device {
	return v.device
}

// Registry returns the property definitions this session reads.
func (v *Vacuum) Registry() *Registry {
	return v.registry
}

// Events exposes the device's notification stream.
func (v *Vacuum) Events() *EventListener {
	return v.events
}

// Property returns the cached value of name.
func (v *Vacuum) Property(name string) any {
	return property(v.store, name)
}

// Properties returns a copy of the property cache.
func (v *Vacuum) Properties() map[string]any {
	return v.store.Snapshot()
}

// LoadProperties reads every registered property from the device.
func (v *Vacuum) LoadProperties(ctx context.Context) (map[string]any, error) {
	values, err := v.fetcher.FetchAll(ctx)
	v.mu.Lock()
	v.lastErr = err
	if err == nil {
		v.lastFetch = time.Now()
	}
	v.mu.Unlock()
	return values, err
}

// Refresh reads only the named properties.
func (v *Vacuum) Refresh(ctx context.Context, names ...string) (map[string]any, error) {
	return v.fetcher.Fetch(ctx, names...)
}

// CallAction invokes an arbitrary action.
func (v *Vacuum) CallAction(ctx context.Context, siid, aiid int, params []any, opts CallOptions) (any, error) {
	return v.invoker.InvokeAction(ctx, siid, aiid, params, opts)
}

// SetProperty writes an arbitrary property.
func (v *Vacuum) SetProperty(ctx context.Context, siid, piid int, value any, opts CallOptions) (any, error) {
	return v.invoker.SetProperty(ctx, siid, piid, value, opts)
}

func (v *Vacuum) refreshState() CallOptions {
	return CallOptions{Refresh: []string{PropState}, RefreshDelay: v.refreshDelay}
}

// ActivateCleaning starts a cleaning run.
func (v *Vacuum) ActivateCleaning(ctx context.Context) error {
	return checked(v.invoker.InvokeAction(ctx, 3, 1, nil, v.refreshState()))
}

// DeactivateCleaning stops the current cleaning run.
func (v *Vacuum) DeactivateCleaning(ctx context.Context) error {
	return checked(v.invoker.InvokeAction(ctx, 3, 2, nil, v.refreshState()))
}

// ActivateCharging stops cleaning and returns to the dock. Some firmware
// answers this action with an empty body, so the result is not validated.
func (v *Vacuum) ActivateCharging(ctx context.Context) error {
	_, err := v.invoker.InvokeAction(ctx, 2, 1, nil, v.refreshState())
	return err
}

func (v *Vacuum) Pause(ctx context.Context) error {
	return checked(v.invoker.InvokeAction(ctx, 18, 2, []any{}, v.refreshState()))
}

// ChangeFanSpeed sets suction power (FanSpeedSilent..FanSpeedTurbo).
func (v *Vacuum) ChangeFanSpeed(ctx context.Context, speed int) error {
	if speed < FanSpeedSilent || speed > FanSpeedTurbo {
		return fmt.Errorf("%w: fan speed %d", ErrOutOfRange, speed)
	}
	return checked(v.invoker.SetProperty(ctx, 18, 6, speed, CallOptions{Refresh: []string{PropFanSpeed}}))
}

// SetWaterBoxMode sets the mop water flow.
func (v *Vacuum) SetWaterBoxMode(ctx context.Context, mode int) error {
	return checked(v.invoker.SetProperty(ctx, 18, 20, mode, CallOptions{Refresh: []string{PropWaterBoxMode}}))
}

// WaterBoxMode returns the cached water flow mode.
func (v *Vacuum) WaterBoxMode() any {
	return v.Property(PropWaterBoxMode)
}

// Find makes the vacuum play its locator sound.
func (v *Vacuum) Find(ctx context.Context) error {
	_, err := v.invoker.InvokeAction(ctx, 17, 1, nil, CallOptions{})
	return err
}

// DeviceInfo returns the miIO.info document.
func (v *Vacuum) DeviceInfo(ctx context.Context) (map[string]any, error) {
	result, err := v.caller.Call(ctx, MethodInfo, nil)
	if err != nil {
		return nil, fmt.Errorf("device info: %w", err)
	}
	info, ok := result.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("device info: unexpected result %T", result)
	}
	return info, nil
}

// Timer reads the scheduled-cleaning property.
func (v *Vacuum) Timer(ctx context.Context) (any, error) {
	return v.readProperty(ctx, "timer", DeviceKey{SIID: 18, PIID: 5})
}

func (v *Vacuum) SerialNumber(ctx context.Context) (string, error) {
	value, err := v.readProperty(ctx, "serial-number", DeviceKey{SIID: 1, PIID: 3})
	if err != nil {
		return "", err
	}
	return stringFrom(value), nil
}

// readProperty reads one unregistered property without touching the cache.
func (v *Vacuum) readProperty(ctx context.Context, did string, key DeviceKey) (any, error) {
	req := []propertyRequest{{DID: did, SIID: key.SIID, PIID: key.PIID}}
	result, err := v.caller.Call(ctx, MethodGetProperties, req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", did, err)
	}
	entries, _ := result.([]any)
	for _, entry := range entries {
		item, ok := entry.(map[string]any)
		if !ok || item["did"] != did {
			continue
		}
		if code := intFrom(item["code"]); code != 0 {
			return nil, &DeviceError{Code: code, Message: "get " + did}
		}
		return item["value"], nil
	}
	return nil, fmt.Errorf("get %s: no value returned", did)
}

// HistoryForDay returns the cleaning runs of day (a time.Time or record id).
func (v *Vacuum) HistoryForDay(ctx context.Context, day any) (DayHistory, error) {
	return HistoryForDay(ctx, v.caller, day)
}

// Status summarises the property cache.
func (v *Vacuum) Status() Status {
	state := stringFrom(v.Property(PropState))
	status := Status{
		State:                state,
		Charging:             state == StateCharging,
		BatteryPercent:       intFrom(v.Property(PropBatteryLevel)),
		Error:                stringFrom(v.Property(PropError)),
		FanSpeed:             intFrom(v.Property(PropFanSpeed)),
		WaterBoxMode:         intFrom(v.Property(PropWaterBoxMode)),
		WaterBoxAttached:     intFrom(v.Property(PropWaterBox)) == 1,
		CleaningTime:         intFrom(v.Property(PropCleanTime)),
		CleaningArea:         floatFrom(v.Property(PropCleanArea)),
		MainBrushSecondsLeft: floatFrom(v.Property(PropMainBrushWorkTime)),
		SideBrushSecondsLeft: floatFrom(v.Property(PropSideBrushWorkTime)),
		FilterSecondsLeft:    floatFrom(v.Property(PropFilterWorkTime)),
	}
	switch state {
	case StateCleaning, StateSpotCleaning, StateZoneCleaning, StateRoomCleaning:
		status.Cleaning = true
	}
	v.mu.Lock()
	status.LastUpdated = v.lastFetch
	if v.lastErr != nil {
		status.LastError = v.lastErr.Error()
	}
	v.mu.Unlock()
	return status
}

// Monitor polls all properties every monitor interval until Close.
func (v *Vacuum) Monitor() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.stop != nil || v.closed {
		return
	}
	v.stop = make(chan struct{})
	v.done = make(chan struct{})
	go v.monitor(v.stop, v.done)
}

func (v *Vacuum) monitor(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()
	v.poll()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			v.poll()
		}
	}
}

func (v *Vacuum) poll() {
	ctx, cancel := context.WithTimeout(v.ctx, pollTimeout)
	defer cancel()
	if _, err := v.LoadProperties(ctx); err != nil {
		v.logger.Warn("property poll failed", "error", err)
	}
}

// Close stops monitoring, cancels pending refreshes and closes the transport
// when it is closable.
func (v *Vacuum) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	stop, done := v.stop, v.done
	v.mu.Unlock()

	v.cancel()
	if stop != nil {
		close(stop)
		<-done
	}
	v.invoker.Close()
	if closer, ok := v.caller.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func checked(result any, err error) error {
	if err != nil {
		return err
	}
	return CheckResult(result)
}

// multiListener fans notifications out to several listeners.
type multiListener []Listener

func (m multiListener) OnChargingChanged(charging bool) {
	for _, l := range m {
		l.OnChargingChanged(charging)
	}
}

func (m multiListener) OnCleaningChanged(cleaning bool) {
	for _, l := range m {
		l.OnCleaningChanged(cleaning)
	}
}

func (m multiListener) OnFanSpeedChanged(speed any) {
	for _, l := range m {
		l.OnFanSpeedChanged(speed)
	}
}

func (m multiListener) OnError(fault any) {
	for _, l := range m {
		l.OnError(fault)
	}
}
