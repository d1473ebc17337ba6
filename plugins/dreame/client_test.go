package dreame

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshp123/dreamehome/internal/config"
	"github.com/joshp123/dreamehome/internal/rate"
)

type fakeTransport struct {
	callers map[string]*fakeCaller
}

func (f *fakeTransport) build(dev DeviceConfig) (Caller, error) {
	if f.callers == nil {
		f.callers = make(map[string]*fakeCaller)
	}
	caller := &fakeCaller{respond: deviceValues(rawDeviceState())}
	f.callers[dev.Device.ID] = caller
	return caller, nil
}

func testConfig() Config {
	return Config{Devices: []DeviceConfig{
		{Device: Device{ID: "hall", Name: "Hallway", Model: "dreame.vacuum.mc1808", Transport: "local"}, RefreshDelay: time.Hour},
		{Device: Device{ID: "up", Name: "Upstairs", Model: "dreame.vacuum.p2009", Transport: "mqtt"}, RefreshDelay: time.Hour},
	}}
}

func newTestClient(t *testing.T, cfg Config) (*Client, *fakeTransport) {
	t.Helper()
	transport := &fakeTransport{}
	client, err := NewClientWithTransport(cfg, nil, transport.build)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, transport
}

func TestClientResolvesDevices(t *testing.T) {
	client, _ := newTestClient(t, testConfig())

	devices := client.Devices()
	require.Len(t, devices, 2)
	assert.Equal(t, "hall", devices[0].ID)
	assert.Equal(t, "Upstairs", devices[1].Name)

	vac, err := client.Vacuum("")
	require.NoError(t, err)
	assert.Equal(t, "hall", vac.Device().ID)

	vac, err = client.Vacuum("up")
	require.NoError(t, err)
	assert.Equal(t, "up", vac.Device().ID)

	_, err = client.Vacuum("garage")
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestClientStatusReloads(t *testing.T) {
	client, transport := newTestClient(t, testConfig())

	st, err := client.Status(context.Background(), "up")
	require.NoError(t, err)
	assert.Equal(t, StateCleaning, st.State)
	assert.Len(t, transport.callers["up"].callsTo(MethodGetProperties), 1)
	assert.Empty(t, transport.callers["hall"].callsTo(MethodGetProperties))

	states := client.DeviceStates()
	require.Len(t, states, 2)
	assert.True(t, states[0].Status.LastUpdated.IsZero())
	assert.Equal(t, 87, states[1].Status.BatteryPercent)
}

func TestClientRecordsPollError(t *testing.T) {
	client, transport := newTestClient(t, testConfig())
	transport.callers["hall"].setRespond(func(string, any) (any, error) {
		return nil, errors.New("no route to host")
	})

	_, err := client.Status(context.Background(), "hall")
	require.Error(t, err)
	assert.Contains(t, client.DeviceStates()[0].Status.LastError, "no route to host")
}

func TestClientRejectsBadConfig(t *testing.T) {
	transport := &fakeTransport{}
	_, err := NewClientWithTransport(Config{}, nil, transport.build)
	assert.ErrorIs(t, err, errNoDevices)

	cfg := testConfig()
	cfg.Devices[1].Device.ID = "hall"
	_, err = NewClientWithTransport(cfg, nil, transport.build)
	assert.ErrorContains(t, err, "duplicate device id")
	assert.True(t, transport.callers["hall"].closed)

	_, err = NewClientWithTransport(testConfig(), nil, func(DeviceConfig) (Caller, error) {
		return nil, errors.New("dial failed")
	})
	assert.ErrorContains(t, err, "dial failed")
}

func TestClientCloseClosesTransports(t *testing.T) {
	transport := &fakeTransport{}
	client, err := NewClientWithTransport(testConfig(), nil, transport.build)
	require.NoError(t, err)

	client.Start()
	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	assert.True(t, transport.callers["hall"].closed)
	assert.True(t, transport.callers["up"].closed)
	_, err = client.Vacuum("hall")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestClientMonitorPolls(t *testing.T) {
	cfg := testConfig()
	cfg.Devices[0].MonitorInterval = 10 * time.Millisecond
	client, transport := newTestClient(t, cfg)

	client.Start()
	require.Eventually(t, func() bool {
		return len(transport.callers["hall"].callsTo(MethodGetProperties)) >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestClientRateLimitsCalls(t *testing.T) {
	cfg := testConfig()
	cfg.Devices[0].MaxCallsPerMin = 1
	client, transport := newTestClient(t, cfg)

	_, err := client.Status(context.Background(), "hall")
	require.NoError(t, err)

	_, err = client.Status(context.Background(), "hall")
	var limited rate.RateLimitError
	require.ErrorAs(t, err, &limited)
	assert.Equal(t, "hall", limited.Target)
	assert.Len(t, transport.callers["hall"].callsTo(MethodGetProperties), 1)

	// The other device has no cap.
	for i := 0; i < 3; i++ {
		_, err = client.Status(context.Background(), "up")
		require.NoError(t, err)
	}
}

func TestConfigFromFile(t *testing.T) {
	cfg, err := config.Parse([]byte(`
schema_version: 1
dreame:
  devices:
    - id: hall
      host: 192.168.1.40
      token: 00112233445566778899aabbccddeeff
      max_calls_per_minute: 30
    - id: up
      transport: mqtt
      mqtt:
        broker: tcp://broker:1883
        username: vac
`))
	require.NoError(t, err)

	runtime, err := ConfigFromFile(cfg.Dreame)
	require.NoError(t, err)
	require.Len(t, runtime.Devices, 2)

	hall := runtime.Devices[0]
	assert.Equal(t, Device{ID: "hall", Name: "hall", Transport: "local"}, hall.Device)
	assert.Equal(t, "192.168.1.40", hall.Host)
	assert.Equal(t, 30, hall.MaxCallsPerMin)
	assert.Equal(t, config.DefaultRefreshDelay, hall.RefreshDelay)

	up := runtime.Devices[1]
	assert.Equal(t, MQTTConfig{Broker: "tcp://broker:1883", Username: "vac", TopicPrefix: "miio", DeviceID: "up"}, up.MQTT)

	_, err = ConfigFromFile(nil)
	assert.Error(t, err)
}

func TestDefaultTransport(t *testing.T) {
	caller, err := DefaultTransport(DeviceConfig{Device: Device{ID: "hall", Transport: "local"}, Host: "127.0.0.1", Token: testToken})
	require.NoError(t, err)
	assert.IsType(t, &LocalChannel{}, caller)

	caller, err = DefaultTransport(DeviceConfig{
		Device: Device{ID: "up", Transport: "mqtt"},
		MQTT:   MQTTConfig{Broker: "tcp://127.0.0.1:1883", DeviceID: "up"},
	})
	require.NoError(t, err)
	mqttCaller, ok := caller.(*MQTTCaller)
	require.True(t, ok)
	assert.Equal(t, "miio/up/request", mqttCaller.reqTopic)
	assert.Equal(t, "miio/up/response", mqttCaller.subTopic)

	_, err = DefaultTransport(DeviceConfig{Device: Device{ID: "x", Transport: "cloud"}})
	assert.ErrorContains(t, err, "unknown transport")

	_, err = DefaultTransport(DeviceConfig{Device: Device{ID: "x"}, Token: "short"})
	assert.Error(t, err)
}
