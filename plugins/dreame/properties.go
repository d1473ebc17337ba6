package dreame

import "fmt"

// Semantic property names.
const (
	PropStatus            = "status"
	PropState             = "state"
	PropError             = "error"
	PropBatteryLevel      = "batteryLevel"
	PropCleanTime         = "cleanTime"
	PropCleanArea         = "cleanArea"
	PropFanSpeed          = "fanSpeed"
	PropMainBrushWorkTime = "mainBrushWorkTime"
	PropSideBrushWorkTime = "sideBrushWorkTime"
	PropFilterWorkTime    = "filterWorkTime"
	PropWaterBoxMode      = "waterBoxMode"
	PropWaterBox          = "waterBox"
	PropSensorDirtyTime   = "sensorDirtyTime"
)

// DeviceKey addresses a property on the device by service and property id.
type DeviceKey struct {
	SIID int `json:"siid"`
	PIID int `json:"piid"`
}

func (k DeviceKey) String() string {
	return fmt.Sprintf("%d/%d", k.SIID, k.PIID)
}

// Mapper converts a raw device value into its semantic form.
type Mapper func(raw any) any

// PropertyDefinition binds a semantic name to a device address.
type PropertyDefinition struct {
	Name   string
	Key    DeviceKey
	Mapper Mapper
}

// Decode applies the definition's mapper, if any.
func (d PropertyDefinition) Decode(raw any) any {
	if d.Mapper == nil {
		return raw
	}
	return d.Mapper(raw)
}

// Registry is an ordered table of property definitions. Several names may
// share a device address; names are unique.
type Registry struct {
	defs   []PropertyDefinition
	byName map[string]int
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]int)}
}

// Register adds a definition. Registration happens at startup, so a duplicate
// name is a programming error and panics.
func (r *Registry) Register(name string, key DeviceKey, mapper Mapper) {
	if _, exists := r.byName[name]; exists {
		panic(fmt.Sprintf("dreame: property %q registered twice", name))
	}
	r.byName[name] = len(r.defs)
	r.defs = append(r.defs, PropertyDefinition{Name: name, Key: key, Mapper: mapper})
}

// Definitions returns every definition in registration order.
func (r *Registry) Definitions() []PropertyDefinition {
	out := make([]PropertyDefinition, len(r.defs))
	copy(out, r.defs)
	return out
}

func (r *Registry) Lookup(name string) (PropertyDefinition, bool) {
	idx, ok := r.byName[name]
	if !ok {
		return PropertyDefinition{}, false
	}
	return r.defs[idx], true
}

func (r *Registry) Len() int {
	return len(r.defs)
}

// DefaultRegistry returns the property table for Dreame vacuums speaking the
// MIoT property protocol.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(PropStatus, DeviceKey{SIID: 2, PIID: 2}, decodeChargingState)
	r.Register(PropState, DeviceKey{SIID: 3, PIID: 2}, decodeCleaningState)
	r.Register(PropError, DeviceKey{SIID: 3, PIID: 1}, decodeFault)
	r.Register(PropBatteryLevel, DeviceKey{SIID: 2, PIID: 1}, nil)
	r.Register(PropCleanTime, DeviceKey{SIID: 18, PIID: 13}, nil)
	r.Register(PropCleanArea, DeviceKey{SIID: 18, PIID: 15}, nil)
	r.Register(PropFanSpeed, DeviceKey{SIID: 18, PIID: 6}, nil)
	// Consumables report hours left.
	r.Register(PropMainBrushWorkTime, DeviceKey{SIID: 26, PIID: 1}, hoursToSeconds)
	r.Register(PropSideBrushWorkTime, DeviceKey{SIID: 28, PIID: 1}, hoursToSeconds)
	r.Register(PropFilterWorkTime, DeviceKey{SIID: 27, PIID: 2}, hoursToSeconds)
	r.Register(PropWaterBoxMode, DeviceKey{SIID: 18, PIID: 20}, nil)
	r.Register(PropWaterBox, DeviceKey{SIID: 18, PIID: 9}, nil)
	return r
}
