package dreame

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

const (
	localPort      = 54321
	localTimeout   = 5 * time.Second
	handshakeEvery = 60 * time.Second
)

// LocalChannel speaks the encrypted miIO UDP protocol to a device on the LAN.
type LocalChannel struct {
	host  string
	port  int
	token []byte

	mu          sync.Mutex
	conn        net.Conn
	deviceID    uint32
	stamp       uint32
	stampAt     time.Time
	nextID      int
	pending     map[int]chan rpcResponse
	helloWaiter chan Packet
	handshake   *handshake
	closed      chan struct{}
}

// handshake is one in-flight hello shared by every caller that needs it.
type handshake struct {
	done chan struct{}
	err  error
}

func NewLocalChannel(host, token string) (*LocalChannel, error) {
	raw, err := parseToken(token)
	if err != nil {
		return nil, err
	}
	return &LocalChannel{
		host:    host,
		port:    localPort,
		token:   raw,
		nextID:  nextInt(1000, 9999),
		pending: make(map[int]chan rpcResponse),
		closed:  make(chan struct{}),
	}, nil
}

// Connect opens the socket and performs the hello handshake.
func (c *LocalChannel) Connect(ctx context.Context) error {
	c.mu.Lock()
	select {
	case <-c.closed:
		c.mu.Unlock()
		return ErrClosed
	default:
	}
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "udp", net.JoinHostPort(c.host, strconv.Itoa(c.port)))
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.conn = conn
	c.mu.Unlock()
	go c.readLoop(conn)

	if err := c.hello(ctx); err != nil {
		c.mu.Lock()
		if c.conn == conn {
			_ = conn.Close()
			c.conn = nil
		}
		c.mu.Unlock()
		return err
	}
	return nil
}

// hello refreshes the device id and stamp. Concurrent callers share the
// handshake already in flight.
func (c *LocalChannel) hello(ctx context.Context) error {
	c.mu.Lock()
	if hs := c.handshake; hs != nil {
		c.mu.Unlock()
		select {
		case <-hs.done:
			return hs.err
		case <-ctx.Done():
			return fmt.Errorf("local hello: %w", ctx.Err())
		}
	}
	hs := &handshake{done: make(chan struct{})}
	waiter := make(chan Packet, 1)
	c.handshake = hs
	c.helloWaiter = waiter
	conn := c.conn
	c.mu.Unlock()

	hs.err = c.sendHello(ctx, conn, waiter)

	c.mu.Lock()
	c.handshake = nil
	if c.helloWaiter == waiter {
		c.helloWaiter = nil
	}
	c.mu.Unlock()
	close(hs.done)
	return hs.err
}

func (c *LocalChannel) sendHello(ctx context.Context, conn net.Conn, waiter <-chan Packet) error {
	if conn == nil {
		return errors.New("local channel not connected")
	}
	helloCtx, cancel := context.WithTimeout(ctx, localTimeout)
	defer cancel()
	if err := c.write(helloCtx, conn, helloPacket()); err != nil {
		return err
	}
	select {
	case <-helloCtx.Done():
		return fmt.Errorf("local hello: %w", helloCtx.Err())
	case pkt := <-waiter:
		c.mu.Lock()
		c.deviceID = pkt.DeviceID
		c.stamp = pkt.Stamp
		c.stampAt = time.Now()
		c.mu.Unlock()
		return nil
	}
}

func (c *LocalChannel) readLoop(conn net.Conn) {
	buf := make([]byte, 65535)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		pkt, err := decodePacket(buf[:n], c.token)
		if err != nil {
			continue
		}
		if pkt.IsHello() {
			c.mu.Lock()
			waiter := c.helloWaiter
			c.helloWaiter = nil
			c.mu.Unlock()
			if waiter != nil {
				waiter <- pkt
			}
			continue
		}
		resp, err := decodeResponse(pkt.Payload)
		if err != nil {
			continue
		}
		c.mu.Lock()
		ch := c.pending[resp.RequestID]
		delete(c.pending, resp.RequestID)
		c.mu.Unlock()
		if ch != nil {
			ch <- resp
		}
	}
}

// Call implements Caller.
func (c *LocalChannel) Call(ctx context.Context, method string, params any) (any, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	stale := time.Since(c.stampAt) > handshakeEvery
	c.mu.Unlock()
	if stale {
		if err := c.hello(ctx); err != nil {
			return nil, err
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, localTimeout)
	defer cancel()

	respCh := make(chan rpcResponse, 1)
	c.mu.Lock()
	conn := c.conn
	c.nextID++
	id := c.nextID
	stamp := c.stamp + uint32(time.Since(c.stampAt)/time.Second)
	deviceID := c.deviceID
	c.pending[id] = respCh
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()
	if conn == nil {
		return nil, errors.New("local channel not connected")
	}

	body, err := encodeRequest(id, method, params)
	if err != nil {
		return nil, err
	}
	frame, err := encodePacket(deviceID, stamp, c.token, body)
	if err != nil {
		return nil, err
	}
	if err := c.write(callCtx, conn, frame); err != nil {
		return nil, err
	}

	select {
	case <-callCtx.Done():
		return nil, fmt.Errorf("%s: %w", method, callCtx.Err())
	case resp := <-respCh:
		if err := resp.err(); err != nil {
			return nil, err
		}
		return resp.Result, nil
	}
}

func (c *LocalChannel) write(ctx context.Context, conn net.Conn, frame []byte) error {
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetWriteDeadline(deadline); err != nil {
			return err
		}
	} else {
		if err := conn.SetWriteDeadline(time.Now().Add(localTimeout)); err != nil {
			return err
		}
	}
	_, err := conn.Write(frame)
	_ = conn.SetWriteDeadline(time.Time{})
	return err
}

func (c *LocalChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.closed:
		return nil
	default:
		close(c.closed)
	}
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}
