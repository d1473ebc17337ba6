package dreame

import (
	"reflect"
	"sync"
	"time"
)

// Store holds the last decoded value of every property, keyed by semantic
// name. Writes are last-write-wins: a refresh that resolves after a newer
// full fetch overwrites it.
type Store struct {
	mu        sync.RWMutex
	values    map[string]any
	updatedAt time.Time
}

func NewStore() *Store {
	return &Store{values: make(map[string]any)}
}

func (s *Store) Get(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[name]
	return v, ok
}

// Set stores value and reports the previous value and whether it changed.
func (s *Store) Set(name string, value any) (old any, changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, had := s.values[name]
	s.values[name] = value
	s.updatedAt = time.Now()
	return old, !had || !reflect.DeepEqual(old, value)
}

func (s *Store) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

func (s *Store) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// property reads name from the store with the vacuum-specific overrides
// applied: state reads as charging whenever the charging field says so, and
// sensorDirtyTime is not reported by this model.
func property(s *Store, name string) any {
	switch name {
	case PropState:
		if status, _ := s.Get(PropStatus); status == StateCharging {
			return StateCharging
		}
	case PropSensorDirtyTime:
		return 0
	}
	v, _ := s.Get(name)
	return v
}
