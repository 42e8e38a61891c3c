package printer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

var (
	ErrDeviceNotFound       = errors.New("printer device not found")
	ErrTransportUnavailable = errors.New("printer transport unavailable")
	ErrWriteTimeout         = errors.New("printer write timeout")
)

// Filter narrows discovery to one device.
type Filter struct {
	Name string
	Addr string
}

// Adapter abstracts the wireless/wired transport. The session manager
// only sees this contract; a BLE adapter plugs in behind the same four
// interfaces as the raw-socket one below.
type Adapter interface {
	Discover(ctx context.Context, f Filter) (Device, error)
}

type Device interface {
	Name() string
	Connect(ctx context.Context) (Session, error)
}

type Session interface {
	WritableEndpoints(ctx context.Context) ([]Endpoint, error)
	Disconnect() error
}

type Endpoint interface {
	// Write pushes one chunk. withResponse requests an acknowledged
	// write where the transport supports it; the raw socket does not
	// and relies on pacing instead.
	Write(ctx context.Context, p []byte, withResponse bool) error
}

// NetAdapter drives a network line printer on a raw socket
// (JetDirect-style, typically port 9100).
type NetAdapter struct {
	DialTimeout time.Duration
}

func NewNetAdapter() *NetAdapter {
	return &NetAdapter{DialTimeout: 5 * time.Second}
}

func (a *NetAdapter) Discover(_ context.Context, f Filter) (Device, error) {
	if f.Addr == "" {
		return nil, ErrDeviceNotFound
	}
	return &netDevice{addr: f.Addr, name: f.Name, dialTimeout: a.DialTimeout}, nil
}

type netDevice struct {
	addr        string
	name        string
	dialTimeout time.Duration
}

func (d *netDevice) Name() string {
	if d.name != "" {
		return d.name
	}
	return d.addr
}

func (d *netDevice) Connect(ctx context.Context) (Session, error) {
	dialer := net.Dialer{Timeout: d.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", d.addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}
	return &netSession{conn: conn}, nil
}

type netSession struct {
	conn net.Conn
}

func (s *netSession) WritableEndpoints(context.Context) ([]Endpoint, error) {
	return []Endpoint{&netEndpoint{conn: s.conn}}, nil
}

func (s *netSession) Disconnect() error {
	return s.conn.Close()
}

type netEndpoint struct {
	conn net.Conn
}

func (e *netEndpoint) Write(ctx context.Context, p []byte, _ bool) error {
	deadline := time.Now().Add(10 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := e.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}
	if _, err := e.conn.Write(p); err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrWriteTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}
	return nil
}
