package dreame

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterpreterErrorStateIsExclusive(t *testing.T) {
	store := NewStore()
	listener := &recordingListener{}
	interp := NewInterpreter(store, listener, nil)

	store.Set(PropError, "drop")
	store.Set(PropState, StateError)
	interp.PropertyUpdated(PropState, StateError, StateCleaning)

	assert.Equal(t, []string{"charging:false", "error:drop"}, listener.Events())
	state, ok := interp.State()
	require.True(t, ok)
	assert.Equal(t, StateError, state)
}

func TestInterpreterStateTransitions(t *testing.T) {
	tests := []struct {
		state string
		want  []string
	}{
		{StateCleaning, []string{"charging:false", "cleaning:true"}},
		{StateZoneCleaning, []string{"charging:false", "cleaning:true"}},
		{StatePaused, []string{"charging:false"}},
		{StateWaiting, []string{"charging:false", "cleaning:false"}},
		{StateReturning, []string{"charging:false", "cleaning:false"}},
		{StateChargingError, []string{"charging:false", "error:Error during charging"}},
		{StateChargerOffline, []string{"charging:false", "error:Charger is offline"}},
	}
	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			store := NewStore()
			listener := &recordingListener{}
			interp := NewInterpreter(store, listener, nil)

			store.Set(PropState, tt.state)
			interp.PropertyUpdated(PropState, tt.state, nil)
			assert.Equal(t, tt.want, listener.Events())
		})
	}
}

func TestInterpreterChargingFollowsStatus(t *testing.T) {
	store := NewStore()
	listener := &recordingListener{}
	interp := NewInterpreter(store, listener, nil)

	store.Set(PropStatus, StateCharging)
	interp.PropertyUpdated(PropStatus, StateCharging, "not charging")
	assert.Equal(t, []string{"charging:true"}, listener.Events())

	listener.Reset()
	interp.PropertyUpdated(PropFanSpeed, float64(3), float64(1))
	assert.Equal(t, []string{"charging:true", "fan:3"}, listener.Events())
}

func TestInterpreterWithoutListener(t *testing.T) {
	interp := NewInterpreter(NewStore(), nil, nil)
	interp.PropertyUpdated(PropState, StateCleaning, nil)

	_, ok := interp.State()
	assert.False(t, ok)
}

func TestErrorNotificationSeesBatchedFault(t *testing.T) {
	raw := rawDeviceState()
	raw[PropState] = float64(4)
	raw[PropError] = float64(21)
	listener := &recordingListener{}
	vac := NewVacuum(Device{ID: "hall"}, &fakeCaller{respond: deviceValues(raw)}, VacuumOptions{Listener: listener})
	t.Cleanup(func() { _ = vac.Close() })

	_, err := vac.LoadProperties(context.Background())
	require.NoError(t, err)

	assert.Contains(t, listener.Events(), "error:drop")
	assert.NotContains(t, listener.Events(), "cleaning:false")
}
