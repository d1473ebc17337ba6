package dreame

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector exports the cached status of every device.
type MetricsCollector struct {
	client *Client

	up                *prometheus.GaugeVec
	lastUpdate        *prometheus.GaugeVec
	batteryPercent    *prometheus.GaugeVec
	state             *prometheus.GaugeVec
	errorCode         *prometheus.GaugeVec
	charging          *prometheus.GaugeVec
	cleaning          *prometheus.GaugeVec
	fanSpeed          *prometheus.GaugeVec
	waterBoxMode      *prometheus.GaugeVec
	waterBoxAttached  *prometheus.GaugeVec
	cleaningArea      *prometheus.GaugeVec
	cleaningTime      *prometheus.GaugeVec
	consumableSeconds *prometheus.GaugeVec
}

func NewMetricsCollector(client *Client) *MetricsCollector {
	labels := []string{"device_id", "device_name", "model"}
	gauge := func(name, help string, extra ...string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dreamehome_dreame_" + name,
			Help: help,
		}, append(append([]string{}, labels...), extra...))
	}
	return &MetricsCollector{
		client:            client,
		up:                gauge("up", "Last property poll succeeded (1=ok, 0=error)"),
		lastUpdate:        gauge("last_update_timestamp_seconds", "Time of the last successful property poll"),
		batteryPercent:    gauge("battery_percent", "Battery percentage (0-100)"),
		state:             gauge("state", "Vacuum state (label) reported by the device", "state"),
		errorCode:         gauge("error", "Current fault (label)", "error"),
		charging:          gauge("charging", "Whether the vacuum is charging (1=yes, 0=no)"),
		cleaning:          gauge("cleaning", "Whether the vacuum is cleaning (1=yes, 0=no)"),
		fanSpeed:          gauge("fan_speed", "Suction level (0=silent .. 3=turbo)"),
		waterBoxMode:      gauge("water_box_mode", "Mop water flow mode"),
		waterBoxAttached:  gauge("water_box_attached", "Whether the water box is attached (1=yes, 0=no)"),
		cleaningArea:      gauge("cleaning_area_square_meters", "Area of the current or last run"),
		cleaningTime:      gauge("cleaning_time_minutes", "Duration of the current or last run"),
		consumableSeconds: gauge("consumable_seconds_left", "Remaining consumable life", "consumable"),
	}
}

func (c *MetricsCollector) vecs() []*prometheus.GaugeVec {
	return []*prometheus.GaugeVec{
		c.up,
		c.lastUpdate,
		c.batteryPercent,
		c.state,
		c.errorCode,
		c.charging,
		c.cleaning,
		c.fanSpeed,
		c.waterBoxMode,
		c.waterBoxAttached,
		c.cleaningArea,
		c.cleaningTime,
		c.consumableSeconds,
	}
}

func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, vec := range c.vecs() {
		vec.Describe(ch)
	}
	c.client.faults.Describe(ch)
}

func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	for _, vec := range c.vecs() {
		vec.Reset()
	}

	for _, state := range c.client.DeviceStates() {
		labels := prometheus.Labels{
			"device_id":   state.Device.ID,
			"device_name": state.Device.Name,
			"model":       state.Device.Model,
		}
		status := state.Status
		if status.LastError == "" && !status.LastUpdated.IsZero() {
			c.up.With(labels).Set(1)
		} else {
			c.up.With(labels).Set(0)
		}
		if status.LastUpdated.IsZero() {
			continue
		}
		c.lastUpdate.With(labels).Set(float64(status.LastUpdated.Unix()))
		c.batteryPercent.With(labels).Set(float64(status.BatteryPercent))
		c.charging.With(labels).Set(boolGauge(status.Charging))
		c.cleaning.With(labels).Set(boolGauge(status.Cleaning))
		c.fanSpeed.With(labels).Set(float64(status.FanSpeed))
		c.waterBoxMode.With(labels).Set(float64(status.WaterBoxMode))
		c.waterBoxAttached.With(labels).Set(boolGauge(status.WaterBoxAttached))
		c.cleaningArea.With(labels).Set(status.CleaningArea)
		c.cleaningTime.With(labels).Set(float64(status.CleaningTime))

		if status.State != "" {
			c.state.With(withLabel(labels, "state", status.State)).Set(1)
		}
		if status.Error != "" && status.Error != noFault {
			c.errorCode.With(withLabel(labels, "error", status.Error)).Set(1)
		}
		c.consumableSeconds.With(withLabel(labels, "consumable", "main_brush")).Set(status.MainBrushSecondsLeft)
		c.consumableSeconds.With(withLabel(labels, "consumable", "side_brush")).Set(status.SideBrushSecondsLeft)
		c.consumableSeconds.With(withLabel(labels, "consumable", "filter")).Set(status.FilterSecondsLeft)
	}

	for _, vec := range c.vecs() {
		vec.Collect(ch)
	}
	c.client.faults.Collect(ch)
}

func withLabel(labels prometheus.Labels, key, value string) prometheus.Labels {
	out := make(prometheus.Labels, len(labels)+1)
	for k, v := range labels {
		out[k] = v
	}
	out[key] = value
	return out
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
