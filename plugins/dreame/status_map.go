package dreame

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// noFault is the label of fault code 0.
const noFault = "no error"

type codeLabel struct {
	code  int
	label string
}

// chargingStates decodes the siid 2 / piid 2 charging field.
var chargingStates = []codeLabel{
	{1, StateCharging},
	{2, "not charging"},
	{4, StateCharging},
	{5, StateReturning},
}

// cleaningStates decodes the siid 3 / piid 2 device status field.
var cleaningStates = []codeLabel{
	{1, StateCleaning},
	{2, StateWaiting},
	{3, StatePaused},
	{4, StateError},
	{5, StateReturning},
	{6, StateCharging},
}

// faultNames decodes the siid 3 / piid 1 error field. Codes 21-29 repeat the
// meaning of 1-9; firmware reports both ranges.
var faultNames = []codeLabel{
	{0, noFault},
	{1, "drop"},
	{2, "cliff"},
	{3, "bumper"},
	{4, "gesture"},
	{5, "bumper_repeat"},
	{6, "drop_repeat"},
	{7, "optical_flow"},
	{8, "no box"},
	{9, "no tankbox"},
	{10, "waterbox empty"},
	{11, "box full"},
	{12, "brush"},
	{13, "side brush"},
	{14, "fan"},
	{15, "left wheel motor"},
	{16, "right wheel motor"},
	{17, "turn suffocate"},
	{18, "forward suffocate"},
	{19, "charger get"},
	{20, "battery low"},
	{21, "drop"},
	{22, "cliff"},
	{23, "bumper"},
	{24, "gesture"},
	{25, "bumper_repeat"},
	{26, "drop_repeat"},
	{27, "optical_flow"},
	{28, "no box"},
	{29, "no tankbox"},
}

// Fault describes an error reported by the vacuum that has no named category,
// or a synthetic error raised by the state interpreter.
type Fault struct {
	Code    any    `json:"code"`
	Message string `json:"message"`
}

func (f Fault) Error() string {
	return f.Message
}

func lookupLabel(table []codeLabel, code int) (string, bool) {
	for _, entry := range table {
		if entry.code == code {
			return entry.label, true
		}
	}
	return "", false
}

func decodeChargingState(raw any) any {
	return decodeState(chargingStates, raw)
}

func decodeCleaningState(raw any) any {
	return decodeState(cleaningStates, raw)
}

func decodeState(table []codeLabel, raw any) any {
	code, ok := codeFrom(raw)
	if !ok {
		return fmt.Sprintf("unknown-%v", raw)
	}
	if label, ok := lookupLabel(table, code); ok {
		return label
	}
	return "unknown-" + strconv.Itoa(code)
}

func decodeFault(raw any) any {
	code, ok := codeFrom(raw)
	if !ok {
		return Fault{Code: raw, Message: fmt.Sprintf("Unknown error %v", raw)}
	}
	if label, ok := lookupLabel(faultNames, code); ok {
		return label
	}
	return Fault{Code: code, Message: "Unknown error " + strconv.Itoa(code)}
}

func hoursToSeconds(raw any) any {
	switch v := raw.(type) {
	case float64:
		return v * 3600
	case int:
		return v * 3600
	case int64:
		return v * 3600
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f * 3600
		}
	}
	return raw
}

// codeFrom extracts an integral device code from a decoded JSON value.
func codeFrom(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		if t != math.Trunc(t) {
			return 0, false
		}
		return int(t), true
	case int:
		return t, true
	case int64:
		return int(t), true
	case json.Number:
		i, err := t.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	case string:
		i, err := strconv.Atoi(t)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

func intFrom(v any) int {
	code, _ := codeFrom(v)
	return code
}

func floatFrom(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case json.Number:
		f, _ := t.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	default:
		return 0
	}
}

func stringFrom(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case Fault:
		return t.Message
	default:
		return fmt.Sprint(t)
	}
}
