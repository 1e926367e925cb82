package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Credentials supplies the token presented when a channel opens.
// *auth.Context satisfies it.
type Credentials interface {
	Token() string
}

// BinderOpts configures a Binder.
type BinderOpts struct {
	Dialer Dialer
	// Endpoint maps an order id to its channel URL.
	Endpoint    func(orderID int) string
	Credentials Credentials
	OnEvent     func(Event)

	PingPeriod  time.Duration
	PongWait    time.Duration
	SendQueue   int
	DialTimeout time.Duration
}

// Binder keeps at most one session alive for a single dialog view. Selecting
// a dialog closes the previous session before the next one opens.
type Binder struct {
	opts BinderOpts

	selectMu sync.Mutex
	gen      atomic.Uint64
	current  atomic.Pointer[Session]
}

// NewBinder validates opts and returns an idle binder.
func NewBinder(opts BinderOpts) (*Binder, error) {
	if opts.Endpoint == nil {
		return nil, errors.New("chat: binder: Endpoint is required")
	}
	if opts.Credentials == nil {
		return nil, errors.New("chat: binder: Credentials is required")
	}
	return &Binder{opts: opts}, nil
}

// Select binds the view to orderID. The previous session, if any, is fully
// closed first. Re-selecting the active order returns the live session.
func (b *Binder) Select(ctx context.Context, orderID int) (*Session, error) {
	if orderID <= 0 {
		return nil, fmt.Errorf("chat: order id must be positive, got %d", orderID)
	}

	b.selectMu.Lock()
	defer b.selectMu.Unlock()

	if cur := b.current.Load(); cur != nil && cur.OrderID() == orderID && !cur.State().Terminal() {
		return cur, nil
	}

	gen := b.gen.Add(1)
	if prev := b.current.Swap(nil); prev != nil {
		prev.Close()
	}

	s, err := Open(ctx, Opts{
		OrderID:     orderID,
		Endpoint:    b.opts.Endpoint(orderID),
		Token:       b.opts.Credentials.Token(),
		Dialer:      b.opts.Dialer,
		OnEvent:     b.forward(gen),
		PingPeriod:  b.opts.PingPeriod,
		PongWait:    b.opts.PongWait,
		SendQueue:   b.opts.SendQueue,
		DialTimeout: b.opts.DialTimeout,
	})
	if err != nil {
		return nil, err
	}
	b.current.Store(s)
	return s, nil
}

// Current returns the bound session, or nil.
func (b *Binder) Current() *Session {
	return b.current.Load()
}

// Send sends text on the bound session.
func (b *Binder) Send(text string) error {
	s := b.current.Load()
	if s == nil {
		return ErrNotOpen
	}
	return s.Send(text)
}

// Close tears down the bound session, as when the view goes away.
func (b *Binder) Close() error {
	b.selectMu.Lock()
	defer b.selectMu.Unlock()

	b.gen.Add(1)
	if prev := b.current.Swap(nil); prev != nil {
		return prev.Close()
	}
	return nil
}

// forward drops events from any session other than the one opened for gen.
func (b *Binder) forward(gen uint64) func(Event) {
	if b.opts.OnEvent == nil {
		return nil
	}
	return func(ev Event) {
		if b.gen.Load() != gen {
			return
		}
		b.opts.OnEvent(ev)
	}
}
