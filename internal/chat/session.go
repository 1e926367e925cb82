package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// State is the lifecycle state of a session's channel.
type State string

const (
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosed     State = "closed"
	StateErrored    State = "errored"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateErrored
}

var (
	// ErrChannelEstablish means the channel could not be opened.
	ErrChannelEstablish = errors.New("chat: channel could not be established")
	// ErrChannelTransport means an open channel failed.
	ErrChannelTransport = errors.New("chat: channel transport failed")
	// ErrNotOpen is returned by Send when the channel is not open.
	ErrNotOpen = errors.New("chat: channel is not open")
	// ErrSendQueueFull is returned when the outbound queue has no room.
	ErrSendQueueFull = errors.New("chat: send queue full")
)

const (
	writeWait         = 10 * time.Second
	closeGrace        = time.Second
	maxFrameSize      = 64 * 1024
	defaultSendQueue  = 16
	defaultPingPeriod = 54 * time.Second
	defaultPongWait   = 60 * time.Second
)

// EventKind distinguishes session events.
type EventKind string

const (
	EventState   EventKind = "state"
	EventMessage EventKind = "message"
)

// Event is delivered to the session listener on every state change and
// every transcript append.
type Event struct {
	Kind      EventKind `json:"kind"`
	OrderID   int       `json:"order_id"`
	SessionID string    `json:"session_id"`
	State     State     `json:"state"`
	Message   *Message  `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Opts configures a session.
type Opts struct {
	OrderID  int
	Endpoint string // ws(s) URL of the order's channel, without credential
	Token    string

	Dialer  Dialer      // defaults to WebsocketDialer
	OnEvent func(Event) // optional

	// PingPeriod of zero uses the default; negative disables keepalive.
	PingPeriod  time.Duration
	PongWait    time.Duration
	SendQueue   int
	DialTimeout time.Duration
}

// Session is one dialog's live conversation with the counterparty of an
// order. A session never reconnects; once terminal a new one must be opened.
type Session struct {
	id         string
	orderID    int
	onEvent    func(Event)
	pingPeriod time.Duration
	pongWait   time.Duration

	outbound chan []byte
	done     chan struct{}

	mu         sync.Mutex
	state      State
	err        error
	transcript []Message
	draft      string
	lastID     uint64
	dropped    int
	conn       Conn
	cancelDial context.CancelFunc
	released   bool
	finished   bool

	// emitMu serializes listener callbacks. Close acquires it after
	// releasing the session so no callback outlives Close.
	emitMu sync.Mutex
}

// Open validates opts and starts connecting in the background. The
// returned session is in StateConnecting. ctx bounds only the dial.
func Open(ctx context.Context, opts Opts) (*Session, error) {
	if opts.OrderID <= 0 {
		return nil, fmt.Errorf("chat: order id must be positive, got %d", opts.OrderID)
	}
	target, err := ChannelURL(opts.Endpoint, opts.Token)
	if err != nil {
		return nil, err
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = WebsocketDialer{}
	}
	queue := opts.SendQueue
	if queue <= 0 {
		queue = defaultSendQueue
	}
	ping := opts.PingPeriod
	if ping == 0 {
		ping = defaultPingPeriod
	}
	pong := opts.PongWait
	if pong <= 0 {
		pong = defaultPongWait
	}

	s := &Session{
		id:         uuid.NewString(),
		orderID:    opts.OrderID,
		onEvent:    opts.OnEvent,
		pingPeriod: ping,
		pongWait:   pong,
		outbound:   make(chan []byte, queue),
		done:       make(chan struct{}),
		state:      StateConnecting,
	}

	var dialCtx context.Context
	if opts.DialTimeout > 0 {
		dialCtx, s.cancelDial = context.WithTimeout(ctx, opts.DialTimeout)
	} else {
		dialCtx, s.cancelDial = context.WithCancel(ctx)
	}

	log.Debug().Int("order_id", s.orderID).Str("session_id", s.id).
		Str("url", redact(target)).Msg("chat: connecting")

	go s.connect(dialCtx, dialer, target)
	return s, nil
}

// ID returns the session id used for log correlation.
func (s *Session) ID() string { return s.id }

// OrderID returns the order this session is bound to.
func (s *Session) OrderID() int { return s.orderID }

// State returns the current channel state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the terminal error, if the session errored.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Transcript returns a copy of the messages received so far, in arrival order.
func (s *Session) Transcript() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// Dropped returns how many inbound frames were discarded as malformed.
func (s *Session) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Draft returns the unsent composition text.
func (s *Session) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

// SetDraft replaces the unsent composition text.
func (s *Session) SetDraft(text string) {
	s.mu.Lock()
	s.draft = text
	s.mu.Unlock()
}

// SendDraft sends the current draft.
func (s *Session) SendDraft() error {
	return s.Send(s.Draft())
}

// Send queues text as one outbound frame. Blank text is ignored. A draft
// equal to text is cleared once the frame is accepted for delivery; the transcript is not
// touched until the server echoes the message back.
func (s *Session) Send(text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	payload, err := encodeOutbound(text)
	if err != nil {
		return fmt.Errorf("chat: encode: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen {
		return ErrNotOpen
	}
	select {
	case s.outbound <- payload:
		if text == s.draft {
			s.draft = ""
		}
		return nil
	default:
		log.Warn().Int("order_id", s.orderID).Str("session_id", s.id).Msg("chat: send queue full, message dropped")
		return ErrSendQueueFull
	}
}

// Close releases the channel. It is idempotent and safe in any state. An
// errored session stays errored; any other state becomes closed. When Close
// returns the connection is closed and no listener callback will run.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return nil
	}
	s.released = true
	if s.state != StateErrored {
		s.state = StateClosed
	}
	s.finishLocked()
	conn := s.conn
	s.mu.Unlock()

	s.cancelDial()
	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
		_ = conn.Close()
	}

	// Wait out any callback already in flight.
	s.emitMu.Lock()
	s.emitMu.Unlock()

	log.Debug().Int("order_id", s.orderID).Str("session_id", s.id).Msg("chat: session closed")
	return nil
}

// finishLocked stops the write pump. Caller holds s.mu.
func (s *Session) finishLocked() {
	if !s.finished {
		s.finished = true
		close(s.done)
	}
}

func (s *Session) connect(ctx context.Context, dialer Dialer, target string) {
	conn, err := dialer.Dial(ctx, target, nil)
	s.cancelDial()

	s.mu.Lock()
	if s.state != StateConnecting {
		// Closed while dialing.
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		s.state = StateErrored
		s.err = fmt.Errorf("%w: %v", ErrChannelEstablish, err)
		s.finishLocked()
		s.mu.Unlock()
		log.Warn().Err(err).Int("order_id", s.orderID).Str("session_id", s.id).Msg("chat: dial failed")
		s.emitState(StateErrored, s.err)
		return
	}
	s.conn = conn
	s.state = StateOpen
	s.mu.Unlock()

	log.Info().Int("order_id", s.orderID).Str("session_id", s.id).Msg("chat: channel open")
	s.emitState(StateOpen, nil)

	go s.writePump(conn)
	s.readPump(conn)
}

// readPump runs on the connect goroutine until the connection ends.
func (s *Session) readPump(conn Conn) {
	conn.SetReadLimit(maxFrameSize)
	if s.pingPeriod > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(s.pongWait))
		})
	}

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			s.fail(err)
			return
		}
		if kind != websocket.TextMessage {
			s.drop(fmt.Errorf("non-text frame (type %d)", kind))
			continue
		}
		msg, err := parseFrame(data)
		if err != nil {
			s.drop(err)
			continue
		}
		s.appendMessage(msg)
	}
}

func (s *Session) writePump(conn Conn) {
	var tick <-chan time.Time
	if s.pingPeriod > 0 {
		ticker := time.NewTicker(s.pingPeriod)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-s.done:
			return
		case payload := <-s.outbound:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.fail(err)
				return
			}
		case <-tick:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.fail(err)
				return
			}
		}
	}
}

// fail moves an open session to errored. Errors after Close are expected
// (the connection was closed under the pumps) and ignored.
func (s *Session) fail(cause error) {
	s.mu.Lock()
	if s.state != StateOpen {
		s.mu.Unlock()
		return
	}
	s.state = StateErrored
	s.err = fmt.Errorf("%w: %v", ErrChannelTransport, cause)
	s.finishLocked()
	conn := s.conn
	s.mu.Unlock()

	_ = conn.Close()
	log.Warn().Err(cause).Int("order_id", s.orderID).Str("session_id", s.id).Msg("chat: channel failed")
	s.emitState(StateErrored, s.err)
}

func (s *Session) drop(reason error) {
	s.mu.Lock()
	s.dropped++
	s.mu.Unlock()
	log.Warn().Err(reason).Int("order_id", s.orderID).Str("session_id", s.id).Msg("chat: dropped malformed frame")
}

func (s *Session) appendMessage(msg Message) {
	s.mu.Lock()
	if s.state != StateOpen {
		s.mu.Unlock()
		return
	}
	s.lastID++
	msg.ID = s.lastID
	s.transcript = append(s.transcript, msg)
	s.mu.Unlock()

	s.emit(Event{Kind: EventMessage, State: StateOpen, Message: &msg})
}

func (s *Session) emitState(state State, err error) {
	ev := Event{Kind: EventState, State: state}
	if err != nil {
		ev.Error = err.Error()
	}
	s.emit(ev)
}

func (s *Session) emit(ev Event) {
	if s.onEvent == nil {
		return
	}
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	released := s.released
	s.mu.Unlock()
	if released {
		return
	}
	ev.OrderID = s.orderID
	ev.SessionID = s.id
	s.onEvent(ev)
}
