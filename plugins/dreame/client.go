package dreame

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/olebedev/emitter"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ErrDeviceNotFound = errors.New("dreame device not found")
	errNoDevices      = errors.New("no dreame devices configured")
)

// TransportFactory builds the Caller for one configured device.
type TransportFactory func(DeviceConfig) (Caller, error)

// Client owns one Vacuum session per configured device.
type Client struct {
	logger *slog.Logger
	faults *prometheus.CounterVec

	mu      sync.RWMutex
	order   []string
	vacuums map[string]*Vacuum
	started bool
	closed  bool
}

func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	return NewClientWithTransport(cfg, logger, DefaultTransport)
}

// NewClientWithTransport is NewClient with a custom transport factory.
func NewClientWithTransport(cfg Config, logger *slog.Logger, transport TransportFactory) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Devices) == 0 {
		return nil, errNoDevices
	}
	client := &Client{
		logger: logger.With("plugin", "dreame"),
		faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dreamehome_dreame_faults_total",
			Help: "Faults reported by the vacuum, by fault code or label",
		}, []string{"device_id", "code"}),
		vacuums: make(map[string]*Vacuum, len(cfg.Devices)),
	}
	for _, dev := range cfg.Devices {
		if _, ok := client.vacuums[dev.Device.ID]; ok {
			_ = client.Close()
			return nil, fmt.Errorf("duplicate device id %q", dev.Device.ID)
		}
		caller, err := transport(dev)
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("device %s: %w", dev.Device.ID, err)
		}
		caller = withRateLimit(caller, dev.Device.ID, dev.MaxCallsPerMin)
		vac := NewVacuum(dev.Device, caller, VacuumOptions{
			Logger:          client.logger,
			RefreshDelay:    dev.RefreshDelay,
			MonitorInterval: dev.MonitorInterval,
		})
		client.watch(vac)
		client.vacuums[dev.Device.ID] = vac
		client.order = append(client.order, dev.Device.ID)
	}
	return client, nil
}

// watch logs capability changes of vac and counts its faults.
func (c *Client) watch(vac *Vacuum) {
	events := vac.Events()
	events.On(TopicError, func(e *emitter.Event) {
		deviceID, fault := eventArgs(e)
		code := faultCode(fault)
		c.faults.WithLabelValues(deviceID, code).Inc()
		c.logger.Warn("vacuum fault", "device_id", deviceID, "code", code, "fault", fault)
	})
	events.On(TopicCleaning, func(e *emitter.Event) {
		deviceID, cleaning := eventArgs(e)
		c.logger.Info("cleaning changed", "device_id", deviceID, "cleaning", cleaning)
	})
	events.On(TopicCharging, func(e *emitter.Event) {
		deviceID, charging := eventArgs(e)
		c.logger.Info("charging changed", "device_id", deviceID, "charging", charging)
	})
}

func eventArgs(e *emitter.Event) (string, any) {
	if len(e.Args) < 2 {
		return "", nil
	}
	deviceID, _ := e.Args[0].(string)
	return deviceID, e.Args[1]
}

// faultCode is the counter label for a fault: the named category, or the raw
// code of an unnamed one.
func faultCode(fault any) string {
	switch f := fault.(type) {
	case string:
		return f
	case Fault:
		return fmt.Sprint(f.Code)
	case nil:
		return "unknown"
	default:
		return fmt.Sprint(f)
	}
}

// DefaultTransport picks the miIO UDP channel or the MQTT bridge.
func DefaultTransport(dev DeviceConfig) (Caller, error) {
	switch dev.Device.Transport {
	case "", "local":
		return NewLocalChannel(dev.Host, dev.Token)
	case "mqtt":
		return NewMQTTCaller(dev.MQTT)
	default:
		return nil, fmt.Errorf("unknown transport %q", dev.Device.Transport)
	}
}

func (c *Client) Devices() []Device {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Device, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.vacuums[id].Device())
	}
	return out
}

// Vacuum returns the session for id. An empty id selects the only or first
// configured device.
func (c *Client) Vacuum(id string) (*Vacuum, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrClosed
	}
	if id == "" {
		if len(c.order) == 0 {
			return nil, errNoDevices
		}
		return c.vacuums[c.order[0]], nil
	}
	vac, ok := c.vacuums[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return vac, nil
}

// DeviceStates summarises every device from its property cache.
func (c *Client) DeviceStates() []DeviceState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]DeviceState, 0, len(c.order))
	for _, id := range c.order {
		vac := c.vacuums[id]
		out = append(out, DeviceState{Device: vac.Device(), Status: vac.Status()})
	}
	return out
}

// Status reloads all properties of one device and summarises them.
func (c *Client) Status(ctx context.Context, id string) (Status, error) {
	vac, err := c.Vacuum(id)
	if err != nil {
		return Status{}, err
	}
	if _, err := vac.LoadProperties(ctx); err != nil {
		return Status{}, err
	}
	return vac.Status(), nil
}

// Start begins background monitoring of every device.
func (c *Client) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.closed {
		return
	}
	c.started = true
	for _, id := range c.order {
		c.vacuums[id].Monitor()
	}
	c.logger.Info("monitoring devices", "count", len(c.order))
}

func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	vacuums := make([]*Vacuum, 0, len(c.vacuums))
	for _, vac := range c.vacuums {
		vacuums = append(vacuums, vac)
	}
	c.mu.Unlock()

	var errs []error
	for _, vac := range vacuums {
		if err := vac.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
