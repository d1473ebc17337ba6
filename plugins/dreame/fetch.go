package dreame

import (
	"context"
	"errors"
	"fmt"
)

var ErrUnknownProperty = errors.New("unknown property")

// noDataPlaceholder is what some transports return in place of an empty
// get_properties reply.
const noDataPlaceholder = "undefined"

// UpdateHook is notified after a fetched value changes the cache.
type UpdateHook interface {
	PropertyUpdated(name string, value, old any)
}

type propertyRequest struct {
	DID  string `json:"did"`
	SIID int    `json:"siid"`
	PIID int    `json:"piid"`
}

// Fetcher reads properties in one batched get_properties call and writes the
// decoded values into the store.
type Fetcher struct {
	caller   Caller
	registry *Registry
	store    *Store
	hook     UpdateHook
}

func NewFetcher(caller Caller, registry *Registry, store *Store, hook UpdateHook) *Fetcher {
	return &Fetcher{caller: caller, registry: registry, store: store, hook: hook}
}

// FetchAll reads every registered property.
func (f *Fetcher) FetchAll(ctx context.Context) (map[string]any, error) {
	return f.fetch(ctx, f.registry.Definitions())
}

// Fetch reads only the named properties.
func (f *Fetcher) Fetch(ctx context.Context, names ...string) (map[string]any, error) {
	defs := make([]PropertyDefinition, 0, len(names))
	for _, name := range names {
		def, ok := f.registry.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownProperty, name)
		}
		defs = append(defs, def)
	}
	return f.fetch(ctx, defs)
}

func (f *Fetcher) fetch(ctx context.Context, defs []PropertyDefinition) (map[string]any, error) {
	out := make(map[string]any)
	if len(defs) == 0 {
		return out, nil
	}
	req := make([]propertyRequest, 0, len(defs))
	for _, def := range defs {
		req = append(req, propertyRequest{DID: def.Name, SIID: def.Key.SIID, PIID: def.Key.PIID})
	}
	result, err := f.caller.Call(ctx, MethodGetProperties, req)
	if err != nil {
		return nil, fmt.Errorf("get properties: %w", err)
	}
	if result == nil || result == noDataPlaceholder {
		return out, nil
	}
	entries, ok := result.([]any)
	if !ok {
		return nil, fmt.Errorf("get properties: unexpected result %T", result)
	}
	var changes []propertyChange
	for _, entry := range entries {
		item, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		name, _ := item["did"].(string)
		def, ok := f.registry.Lookup(name)
		if !ok {
			continue
		}
		raw, ok := item["value"]
		if !ok {
			// Unsupported properties come back with a non-zero code and no value.
			continue
		}
		value := def.Decode(raw)
		out[name] = value
		if old, changed := f.store.Set(name, value); changed {
			changes = append(changes, propertyChange{name: name, value: value, old: old})
		}
	}
	// The whole batch is stored before any hook runs, so a state change sees
	// the error code that arrived with it.
	if f.hook != nil {
		for _, c := range changes {
			f.hook.PropertyUpdated(c.name, c.value, c.old)
		}
	}
	return out, nil
}

type propertyChange struct {
	name       string
	value, old any
}
