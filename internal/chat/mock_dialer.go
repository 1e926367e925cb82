package chat

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrMockClosed is returned by a MockConn after Close.
var ErrMockClosed = errors.New("chat: mock connection closed")

// MockFrame is one frame written to a MockConn.
type MockFrame struct {
	Type int
	Data []byte
}

type mockRead struct {
	kind int
	data []byte
	err  error
}

// MockConn is an in-memory Conn for tests. Inbound frames are injected with
// Deliver; outbound frames are recorded.
type MockConn struct {
	inbound   chan mockRead
	closed    chan struct{}
	closeOnce sync.Once

	mu        sync.Mutex
	written   []MockFrame
	controls  []MockFrame
	writeErr  error
	hold      chan struct{}
	readLimit int64
}

// NewMockConn returns an open mock connection.
func NewMockConn() *MockConn {
	return &MockConn{
		inbound: make(chan mockRead, 64),
		closed:  make(chan struct{}),
	}
}

// Deliver queues an inbound text frame.
func (c *MockConn) Deliver(text string) {
	c.inbound <- mockRead{kind: websocket.TextMessage, data: []byte(text)}
}

// DeliverBinary queues an inbound binary frame.
func (c *MockConn) DeliverBinary(data []byte) {
	c.inbound <- mockRead{kind: websocket.BinaryMessage, data: data}
}

// Break makes the next read fail with err, as a dropped connection would.
func (c *MockConn) Break(err error) {
	c.inbound <- mockRead{err: err}
}

// SetWriteError makes subsequent writes fail with err.
func (c *MockConn) SetWriteError(err error) {
	c.mu.Lock()
	c.writeErr = err
	c.mu.Unlock()
}

// HoldWrites blocks data writes until the returned release func is called.
func (c *MockConn) HoldWrites() (release func()) {
	hold := make(chan struct{})
	c.mu.Lock()
	c.hold = hold
	c.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.hold = nil
			c.mu.Unlock()
			close(hold)
		})
	}
}

// Written returns the data frames written so far (pings excluded).
func (c *MockConn) Written() []MockFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []MockFrame
	for _, f := range c.written {
		if f.Type == websocket.TextMessage || f.Type == websocket.BinaryMessage {
			out = append(out, f)
		}
	}
	return out
}

// Controls returns the control frames written through WriteControl.
func (c *MockConn) Controls() []MockFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]MockFrame, len(c.controls))
	copy(out, c.controls)
	return out
}

// IsClosed reports whether Close was called.
func (c *MockConn) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// ReadLimit returns the limit set by the session.
func (c *MockConn) ReadLimit() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readLimit
}

func (c *MockConn) ReadMessage() (int, []byte, error) {
	select {
	case r := <-c.inbound:
		if r.err != nil {
			return 0, nil, r.err
		}
		return r.kind, r.data, nil
	case <-c.closed:
		return 0, nil, ErrMockClosed
	}
}

func (c *MockConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	hold := c.hold
	c.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-c.closed:
		}
	}
	if c.IsClosed() {
		return ErrMockClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.written = append(c.written, MockFrame{Type: messageType, Data: append([]byte(nil), data...)})
	return nil
}

func (c *MockConn) WriteControl(messageType int, data []byte, _ time.Time) error {
	if c.IsClosed() {
		return ErrMockClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.controls = append(c.controls, MockFrame{Type: messageType, Data: append([]byte(nil), data...)})
	return nil
}

func (c *MockConn) SetReadDeadline(time.Time) error  { return nil }
func (c *MockConn) SetWriteDeadline(time.Time) error { return nil }

func (c *MockConn) SetReadLimit(limit int64) {
	c.mu.Lock()
	c.readLimit = limit
	c.mu.Unlock()
}

func (c *MockConn) SetPongHandler(func(string) error) {}

func (c *MockConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// MockDialer hands out MockConns and records dialed URLs.
type MockDialer struct {
	// Err, when set, fails every dial.
	Err error
	// Gate, when set, holds each dial until it is closed.
	Gate chan struct{}
	// IgnoreContext keeps a gated dial waiting even after its context ends.
	IgnoreContext bool

	mu    sync.Mutex
	urls  []string
	conns []*MockConn
}

// Dial implements Dialer.
func (d *MockDialer) Dial(ctx context.Context, urlStr string, _ http.Header) (Conn, error) {
	d.mu.Lock()
	d.urls = append(d.urls, urlStr)
	gate, err := d.Gate, d.Err
	d.mu.Unlock()

	if gate != nil {
		if d.IgnoreContext {
			<-gate
		} else {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if err != nil {
		return nil, err
	}

	c := NewMockConn()
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

// URLs returns every URL dialed, in order.
func (d *MockDialer) URLs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.urls...)
}

// Conns returns every connection handed out, in order.
func (d *MockDialer) Conns() []*MockConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*MockConn(nil), d.conns...)
}

// LastConn returns the most recent connection, or nil.
func (d *MockDialer) LastConn() *MockConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}
