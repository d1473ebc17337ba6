package dreame

import (
	"log/slog"
	"sync"
)

// Listener receives capability-level notifications derived from property
// changes.
type Listener interface {
	OnChargingChanged(charging bool)
	OnCleaningChanged(cleaning bool)
	OnFanSpeedChanged(speed any)
	OnError(fault any)
}

var (
	faultChargingError  = Fault{Code: StateChargingError, Message: "Error during charging"}
	faultChargerOffline = Fault{Code: StateChargerOffline, Message: "Charger is offline"}
)

// Interpreter turns property updates into listener notifications. It is the
// UpdateHook of a device's fetcher.
type Interpreter struct {
	store    *Store
	listener Listener
	logger   *slog.Logger

	mu    sync.Mutex
	state string
}

func NewInterpreter(store *Store, listener Listener, logger *slog.Logger) *Interpreter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Interpreter{store: store, listener: listener, logger: logger}
}

// State returns the last semantic state applied, if any.
func (i *Interpreter) State() (string, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state, i.state != ""
}

// PropertyUpdated implements UpdateHook.
func (i *Interpreter) PropertyUpdated(name string, value, old any) {
	if i.listener == nil {
		return
	}
	i.listener.OnChargingChanged(property(i.store, PropState) == StateCharging)

	switch name {
	case PropState:
		state := stringFrom(value)
		i.mu.Lock()
		i.state = state
		i.mu.Unlock()
		i.logger.Debug("vacuum state changed", "from", old, "to", state)
		i.enter(state)
	case PropFanSpeed:
		i.listener.OnFanSpeedChanged(value)
	}
}

func (i *Interpreter) enter(state string) {
	switch state {
	case StateCleaning, StateSpotCleaning, StateZoneCleaning, StateRoomCleaning:
		i.listener.OnCleaningChanged(true)
	case StatePaused:
	case StateError:
		i.listener.OnError(property(i.store, PropError))
	case StateChargingError:
		i.listener.OnError(faultChargingError)
	case StateChargerOffline:
		i.listener.OnError(faultChargerOffline)
	default:
		i.listener.OnCleaningChanged(false)
	}
}
