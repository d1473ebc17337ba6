package dreame

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const mqttCallTimeout = 10 * time.Second

// MQTTConfig configures a request/response bridge that relays miIO calls
// over a broker. Requests go to <prefix>/<device>/request and replies are
// read from <prefix>/<device>/response.
type MQTTConfig struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
	DeviceID    string
}

// MQTTCaller implements Caller over an MQTT bridge.
type MQTTCaller struct {
	cfg      MQTTConfig
	reqTopic string
	subTopic string

	mu      sync.Mutex
	client  mqtt.Client
	pending map[int]chan rpcResponse
	nextID  int
	closed  chan struct{}
}

func NewMQTTCaller(cfg MQTTConfig) (*MQTTCaller, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker is required")
	}
	if cfg.DeviceID == "" {
		return nil, errors.New("mqtt device id is required")
	}
	prefix := strings.TrimSuffix(cfg.TopicPrefix, "/")
	if prefix == "" {
		prefix = "miio"
	}
	return &MQTTCaller{
		cfg:      cfg,
		reqTopic: fmt.Sprintf("%s/%s/request", prefix, cfg.DeviceID),
		subTopic: fmt.Sprintf("%s/%s/response", prefix, cfg.DeviceID),
		pending:  make(map[int]chan rpcResponse),
		nextID:   nextInt(1000, 9999),
		closed:   make(chan struct{}),
	}, nil
}

// connect dials the broker once. Paho keeps retrying an unreachable broker,
// so the wait is bounded by ctx and by Close.
func (c *MQTTCaller) connect(ctx context.Context) (mqtt.Client, error) {
	c.mu.Lock()
	select {
	case <-c.closed:
		c.mu.Unlock()
		return nil, ErrClosed
	default:
	}
	if c.client != nil {
		client := c.client
		c.mu.Unlock()
		return client, nil
	}
	c.mu.Unlock()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.cfg.Broker)
	if strings.HasPrefix(c.cfg.Broker, "ssl://") || strings.HasPrefix(c.cfg.Broker, "tls://") {
		opts.SetTLSConfig(&tls.Config{})
	}
	opts.SetUsername(c.cfg.Username)
	opts.SetPassword(c.cfg.Password)
	opts.SetClientID("dreamehome-" + uuid.NewString())
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.OnConnect = func(client mqtt.Client) {
		client.Subscribe(c.subTopic, 1, c.dispatch)
	}

	client := mqtt.NewClient(opts)
	if err := c.wait(ctx, client.Connect()); err != nil {
		client.Disconnect(0)
		return nil, fmt.Errorf("connect %s: %w", c.cfg.Broker, err)
	}
	if err := c.wait(ctx, client.Subscribe(c.subTopic, 1, c.dispatch)); err != nil {
		client.Disconnect(0)
		return nil, fmt.Errorf("subscribe %s: %w", c.subTopic, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.closed:
		client.Disconnect(0)
		return nil, ErrClosed
	default:
	}
	if c.client != nil {
		client.Disconnect(250)
		return c.client, nil
	}
	c.client = client
	return client, nil
}

// wait blocks until token completes, ctx ends or the caller is closed.
func (c *MQTTCaller) wait(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return ErrClosed
	}
}

func (c *MQTTCaller) dispatch(_ mqtt.Client, msg mqtt.Message) {
	resp, err := decodeResponse(msg.Payload())
	if err != nil {
		return
	}
	c.mu.Lock()
	ch := c.pending[resp.RequestID]
	delete(c.pending, resp.RequestID)
	c.mu.Unlock()
	if ch != nil {
		ch <- resp
	}
}

// Call implements Caller.
func (c *MQTTCaller) Call(ctx context.Context, method string, params any) (any, error) {
	callCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, mqttCallTimeout)
		defer cancel()
	}

	client, err := c.connect(callCtx)
	if err != nil {
		return nil, fmt.Errorf("mqtt %w", err)
	}

	respCh := make(chan rpcResponse, 1)
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.pending[id] = respCh
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	body, err := encodeRequest(id, method, params)
	if err != nil {
		return nil, err
	}
	if err := c.wait(callCtx, client.Publish(c.reqTopic, 1, false, body)); err != nil {
		return nil, fmt.Errorf("%s: publish: %w", method, err)
	}

	select {
	case <-callCtx.Done():
		return nil, fmt.Errorf("%s: %w", method, callCtx.Err())
	case <-c.closed:
		return nil, ErrClosed
	case resp := <-respCh:
		if err := resp.err(); err != nil {
			return nil, err
		}
		return resp.Result, nil
	}
}

func (c *MQTTCaller) Close() error {
	c.mu.Lock()
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	client := c.client
	c.client = nil
	c.mu.Unlock()
	if client != nil {
		client.Unsubscribe(c.subTopic).WaitTimeout(time.Second)
		client.Disconnect(250)
	}
	return nil
}
