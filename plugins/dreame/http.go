package dreame

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/joshp123/dreamehome/internal/core"
)

const statusEndpoint = "/dreame/status"

var _ core.HTTPRegistrant = (*Plugin)(nil)

// RegisterHTTP serves the cached status of one device (device_id query
// parameter) or of all devices as JSON.
func (p Plugin) RegisterHTTP(mux *http.ServeMux) {
	mux.HandleFunc(statusEndpoint, func(w http.ResponseWriter, r *http.Request) {
		if p.client == nil {
			http.Error(w, "dreame unavailable", http.StatusServiceUnavailable)
			return
		}

		var body any
		if deviceID := r.URL.Query().Get("device_id"); deviceID != "" {
			vac, err := p.client.Vacuum(deviceID)
			if errors.Is(err, ErrDeviceNotFound) {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			if err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
			body = statusDocument(vac.Device(), vac.Status())
		} else {
			devices := make([]any, 0)
			for _, state := range p.client.DeviceStates() {
				devices = append(devices, statusDocument(state.Device, state.Status))
			}
			body = map[string]any{"devices": devices}
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(body)
	})
}

func statusDocument(device Device, st Status) map[string]any {
	return map[string]any{
		"id":     device.ID,
		"name":   device.Name,
		"model":  device.Model,
		"status": mapStatus(st),
	}
}
