package dreame

import "time"

// Semantic appliance states.
const (
	StateCleaning       = "cleaning"
	StateWaiting        = "waiting"
	StatePaused         = "paused"
	StateError          = "error"
	StateReturning      = "returning"
	StateCharging       = "charging"
	StateSpotCleaning   = "spot-cleaning"
	StateZoneCleaning   = "zone-cleaning"
	StateRoomCleaning   = "room-cleaning"
	StateChargingError  = "charging-error"
	StateChargerOffline = "charger-offline"
)

// Fan speeds accepted by ChangeFanSpeed.
const (
	FanSpeedSilent   = 0
	FanSpeedStandard = 1
	FanSpeedStrong   = 2
	FanSpeedTurbo    = 3
)

// Device represents a configured vacuum.
type Device struct {
	ID        string
	Name      string
	Model     string
	Transport string
}

// Status is a typed view over the property cache of one device.
type Status struct {
	State                string
	Charging             bool
	Cleaning             bool
	BatteryPercent       int
	Error                string
	FanSpeed             int
	WaterBoxMode         int
	WaterBoxAttached     bool
	CleaningTime         int
	CleaningArea         float64
	MainBrushSecondsLeft float64
	SideBrushSecondsLeft float64
	FilterSecondsLeft    float64
	LastUpdated          time.Time
	LastError            string
}

// DeviceState ties device metadata with its latest status.
type DeviceState struct {
	Device Device
	Status Status
}

// HistoryRecord is one cleaning run reported by get_clean_record.
type HistoryRecord struct {
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationSeconds int       `json:"duration"`
	AreaSquareM     float64   `json:"area"`
	Complete        bool      `json:"complete"`
}

// DayHistory holds the cleaning runs recorded for one day.
type DayHistory struct {
	Day     any             `json:"day"`
	History []HistoryRecord `json:"history"`
}
