package dreame

import (
	"errors"
	"fmt"
	"strings"
)

var ErrCallFailed = errors.New("could not complete call to device")

// CheckResult accepts the success acknowledgements used across firmware
// generations and rejects everything else with ErrCallFailed:
//
//	0                                        legacy firmware
//	["ok"] / ["OK"]                          miIO firmware
//	{"did":..,"siid":..,"code":0,"out":[]}   MIoT action result
//	[{"did":..,"code":0}, ...]               MIoT set_properties result
func CheckResult(result any) error {
	if isSuccess(result) {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrCallFailed, result)
}

func isSuccess(result any) bool {
	switch r := result.(type) {
	case map[string]any:
		return successCode(r)
	case []any:
		if len(r) == 0 {
			return false
		}
		if s, ok := r[0].(string); ok {
			return strings.EqualFold(s, "ok")
		}
		for _, item := range r {
			m, ok := item.(map[string]any)
			if !ok || !successCode(m) {
				return false
			}
		}
		return true
	case []string:
		return len(r) > 0 && strings.EqualFold(r[0], "ok")
	case nil, string:
		return false
	default:
		code, ok := codeFrom(result)
		return ok && code == 0
	}
}

func successCode(m map[string]any) bool {
	raw, ok := m["code"]
	if !ok || raw == nil {
		return true
	}
	code, ok := codeFrom(raw)
	return ok && code == 0
}
