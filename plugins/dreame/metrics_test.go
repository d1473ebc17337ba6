package dreame

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCollectorBeforeFirstPoll(t *testing.T) {
	client, _ := newTestClient(t, testConfig())
	collector := NewMetricsCollector(client)

	// Only up is exported until a device has been polled.
	assert.Equal(t, 2, testutil.CollectAndCount(collector))

	expected := `
# HELP dreamehome_dreame_up Last property poll succeeded (1=ok, 0=error)
# TYPE dreamehome_dreame_up gauge
dreamehome_dreame_up{device_id="hall",device_name="Hallway",model="dreame.vacuum.mc1808"} 0
dreamehome_dreame_up{device_id="up",device_name="Upstairs",model="dreame.vacuum.p2009"} 0
`
	require.NoError(t, testutil.CollectAndCompare(collector, strings.NewReader(expected), "dreamehome_dreame_up"))
}

func TestMetricsCollectorExportsStatus(t *testing.T) {
	client, _ := newTestClient(t, testConfig())
	_, err := client.Status(context.Background(), "hall")
	require.NoError(t, err)
	collector := NewMetricsCollector(client)

	expected := `
# HELP dreamehome_dreame_battery_percent Battery percentage (0-100)
# TYPE dreamehome_dreame_battery_percent gauge
dreamehome_dreame_battery_percent{device_id="hall",device_name="Hallway",model="dreame.vacuum.mc1808"} 87
# HELP dreamehome_dreame_state Vacuum state (label) reported by the device
# TYPE dreamehome_dreame_state gauge
dreamehome_dreame_state{device_id="hall",device_name="Hallway",model="dreame.vacuum.mc1808",state="cleaning"} 1
# HELP dreamehome_dreame_consumable_seconds_left Remaining consumable life
# TYPE dreamehome_dreame_consumable_seconds_left gauge
dreamehome_dreame_consumable_seconds_left{consumable="filter",device_id="hall",device_name="Hallway",model="dreame.vacuum.mc1808"} 72000
dreamehome_dreame_consumable_seconds_left{consumable="main_brush",device_id="hall",device_name="Hallway",model="dreame.vacuum.mc1808"} 360000
dreamehome_dreame_consumable_seconds_left{consumable="side_brush",device_id="hall",device_name="Hallway",model="dreame.vacuum.mc1808"} 180000
`
	require.NoError(t, testutil.CollectAndCompare(collector, strings.NewReader(expected),
		"dreamehome_dreame_battery_percent",
		"dreamehome_dreame_state",
		"dreamehome_dreame_consumable_seconds_left",
	))
	assert.Equal(t, 2, testutil.CollectAndCount(collector, "dreamehome_dreame_up"))
	assert.Equal(t, 1, testutil.CollectAndCount(collector, "dreamehome_dreame_fan_speed"))
}

func TestMetricsCollectorSkipsNoErrorSeries(t *testing.T) {
	client, transport := newTestClient(t, testConfig())
	_, err := client.Status(context.Background(), "hall")
	require.NoError(t, err)
	collector := NewMetricsCollector(client)

	assert.Equal(t, "no error", client.DeviceStates()[0].Status.Error)
	assert.Equal(t, 0, testutil.CollectAndCount(collector, "dreamehome_dreame_error"))

	raw := rawDeviceState()
	raw[PropError] = float64(12)
	transport.callers["hall"].setRespond(deviceValues(raw))
	_, err = client.Status(context.Background(), "hall")
	require.NoError(t, err)

	expected := `
# HELP dreamehome_dreame_error Current fault (label)
# TYPE dreamehome_dreame_error gauge
dreamehome_dreame_error{device_id="hall",device_name="Hallway",error="brush",model="dreame.vacuum.mc1808"} 1
`
	require.NoError(t, testutil.CollectAndCompare(collector, strings.NewReader(expected), "dreamehome_dreame_error"))
}

func TestClientCountsAndLogsFaults(t *testing.T) {
	logger, logs := newBufferLogger()
	transport := &fakeTransport{}
	client, err := NewClientWithTransport(testConfig(), logger, transport.build)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	raw := rawDeviceState()
	raw[PropState] = float64(4)
	raw[PropError] = float64(1)
	transport.callers["hall"].setRespond(deviceValues(raw))

	_, err = client.Status(context.Background(), "hall")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(client.faults.WithLabelValues("hall", "drop")) == 1
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		out := logs.String()
		return strings.Contains(out, "level=WARN msg=\"vacuum fault\"") &&
			strings.Contains(out, "code=drop")
	}, time.Second, 5*time.Millisecond)

	// A healthy device raises no fault.
	_, err = client.Status(context.Background(), "up")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return strings.Contains(logs.String(), "msg=\"cleaning changed\" plugin=dreame device_id=up")
	}, time.Second, 5*time.Millisecond)

	collector := NewMetricsCollector(client)
	expected := `
# HELP dreamehome_dreame_faults_total Faults reported by the vacuum, by fault code or label
# TYPE dreamehome_dreame_faults_total counter
dreamehome_dreame_faults_total{code="drop",device_id="hall"} 1
`
	require.NoError(t, testutil.CollectAndCompare(collector, strings.NewReader(expected), "dreamehome_dreame_faults_total"))
}
