package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

const testEndpoint = "ws://test.local/ws/chat/7/"

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) add(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recorder) states() []State {
	var out []State
	for _, ev := range r.all() {
		if ev.Kind == EventState {
			out = append(out, ev.State)
		}
	}
	return out
}

func openMock(t *testing.T, d *MockDialer, onEvent func(Event)) *Session {
	t.Helper()
	s, err := Open(context.Background(), Opts{
		OrderID:    7,
		Endpoint:   testEndpoint,
		Token:      "tok",
		Dialer:     d,
		OnEvent:    onEvent,
		PingPeriod: -1,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func openReady(t *testing.T, onEvent func(Event)) (*Session, *MockConn) {
	t.Helper()
	d := &MockDialer{}
	s := openMock(t, d, onEvent)
	waitFor(t, "open", func() bool { return s.State() == StateOpen })
	return s, d.LastConn()
}

func frame(content, sender string) string {
	return fmt.Sprintf(`{"message":%q,"sender":%q,"timestamp":"10:00"}`, content, sender)
}

// ---------------------------------------------------------------------------
// Open
// ---------------------------------------------------------------------------

func TestOpen_InvalidOrder(t *testing.T) {
	for _, id := range []int{0, -3} {
		_, err := Open(context.Background(), Opts{OrderID: id, Endpoint: testEndpoint, Dialer: &MockDialer{}})
		if err == nil {
			t.Errorf("Open(order %d) = nil error, want error", id)
		}
	}
}

func TestOpen_InvalidEndpoint(t *testing.T) {
	d := &MockDialer{}
	_, err := Open(context.Background(), Opts{OrderID: 1, Endpoint: "http://test.local/ws/chat/1/", Dialer: d})
	if err == nil {
		t.Fatal("expected error for non-ws endpoint")
	}
	if len(d.URLs()) != 0 {
		t.Errorf("dialed %v, want no dial", d.URLs())
	}
}

func TestOpen_StartsConnecting(t *testing.T) {
	gate := make(chan struct{})
	d := &MockDialer{Gate: gate}
	rec := &recorder{}
	s := openMock(t, d, rec.add)

	if s.State() != StateConnecting {
		t.Errorf("State = %q, want %q", s.State(), StateConnecting)
	}
	if s.OrderID() != 7 {
		t.Errorf("OrderID = %d, want 7", s.OrderID())
	}
	if s.ID() == "" {
		t.Error("ID is empty")
	}

	close(gate)
	waitFor(t, "open", func() bool { return s.State() == StateOpen })
	waitFor(t, "open event", func() bool { return rec.count() == 1 })

	ev := rec.all()[0]
	if ev.Kind != EventState || ev.State != StateOpen {
		t.Errorf("event = %+v, want state/open", ev)
	}
	if ev.OrderID != 7 || ev.SessionID != s.ID() {
		t.Errorf("event identity = (%d, %q), want (7, %q)", ev.OrderID, ev.SessionID, s.ID())
	}
}

func TestOpen_DialsWithToken(t *testing.T) {
	d := &MockDialer{}
	openMock(t, d, nil)
	waitFor(t, "dial", func() bool { return len(d.URLs()) == 1 })
	if got, want := d.URLs()[0], testEndpoint+"?token=tok"; got != want {
		t.Errorf("dialed %q, want %q", got, want)
	}
}

func TestOpen_EmptyTokenStillDials(t *testing.T) {
	d := &MockDialer{}
	s, err := Open(context.Background(), Opts{OrderID: 7, Endpoint: testEndpoint, Dialer: d, PingPeriod: -1})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	waitFor(t, "dial", func() bool { return len(d.URLs()) == 1 })
	if got, want := d.URLs()[0], testEndpoint+"?token="; got != want {
		t.Errorf("dialed %q, want %q", got, want)
	}
}

func TestOpen_DialFailure(t *testing.T) {
	d := &MockDialer{Err: errors.New("connection refused")}
	rec := &recorder{}
	s := openMock(t, d, rec.add)

	waitFor(t, "errored", func() bool { return s.State() == StateErrored })
	if !errors.Is(s.Err(), ErrChannelEstablish) {
		t.Errorf("Err = %v, want ErrChannelEstablish", s.Err())
	}
	if !strings.Contains(s.Err().Error(), "connection refused") {
		t.Errorf("Err = %q, want cause included", s.Err())
	}
	waitFor(t, "errored event", func() bool { return rec.count() == 1 })
	ev := rec.all()[0]
	if ev.State != StateErrored || ev.Error == "" {
		t.Errorf("event = %+v, want errored with error text", ev)
	}
	if err := s.Send("hi"); !errors.Is(err, ErrNotOpen) {
		t.Errorf("Send after dial failure = %v, want ErrNotOpen", err)
	}
}

func TestOpen_SetsReadLimit(t *testing.T) {
	_, conn := openReady(t, nil)
	waitFor(t, "read limit", func() bool { return conn.ReadLimit() == maxFrameSize })
}

// ---------------------------------------------------------------------------
// Inbound
// ---------------------------------------------------------------------------

func TestInbound_AppendsInArrivalOrder(t *testing.T) {
	rec := &recorder{}
	s, conn := openReady(t, rec.add)

	conn.Deliver(frame("first", "alice"))
	conn.Deliver(`{"message":"second","sender":"bob"}`)
	conn.Deliver(frame("third", "alice"))

	waitFor(t, "3 messages", func() bool { return len(s.Transcript()) == 3 })
	got := s.Transcript()
	wantContent := []string{"first", "second", "third"}
	for i, m := range got {
		if m.ID != uint64(i+1) {
			t.Errorf("transcript[%d].ID = %d, want %d", i, m.ID, i+1)
		}
		if m.Content != wantContent[i] {
			t.Errorf("transcript[%d].Content = %q, want %q", i, m.Content, wantContent[i])
		}
	}
	if got[0].Sender != "alice" || got[0].Timestamp != "10:00" {
		t.Errorf("transcript[0] = %+v", got[0])
	}
	if got[1].Timestamp != "" {
		t.Errorf("missing timestamp = %q, want empty", got[1].Timestamp)
	}

	waitFor(t, "message events", func() bool { return rec.count() == 4 })
	var ids []uint64
	for _, ev := range rec.all() {
		if ev.Kind == EventMessage {
			ids = append(ids, ev.Message.ID)
		}
	}
	if fmt.Sprint(ids) != "[1 2 3]" {
		t.Errorf("message event ids = %v, want [1 2 3]", ids)
	}
}

func TestInbound_IDsUniqueUnderBurst(t *testing.T) {
	s, conn := openReady(t, nil)
	for i := 0; i < 50; i++ {
		conn.Deliver(frame(fmt.Sprintf("m%d", i), "x"))
	}
	waitFor(t, "50 messages", func() bool { return len(s.Transcript()) == 50 })
	seen := map[uint64]bool{}
	for _, m := range s.Transcript() {
		if seen[m.ID] {
			t.Fatalf("duplicate id %d", m.ID)
		}
		seen[m.ID] = true
	}
}

func TestInbound_MalformedDropped(t *testing.T) {
	s, conn := openReady(t, nil)

	conn.Deliver("not json")
	conn.Deliver(`{"sender":"alice"}`)
	conn.DeliverBinary([]byte(`{"message":"binary"}`))
	conn.Deliver(frame("ok", "alice"))

	waitFor(t, "valid message", func() bool { return len(s.Transcript()) == 1 })
	if s.Dropped() != 3 {
		t.Errorf("Dropped = %d, want 3", s.Dropped())
	}
	if s.State() != StateOpen {
		t.Errorf("State = %q, want open", s.State())
	}
	if m := s.Transcript()[0]; m.ID != 1 || m.Content != "ok" {
		t.Errorf("transcript[0] = %+v, want id 1 content ok", m)
	}
}

func TestTranscript_IsCopy(t *testing.T) {
	s, conn := openReady(t, nil)
	conn.Deliver(frame("one", "a"))
	waitFor(t, "message", func() bool { return len(s.Transcript()) == 1 })

	got := s.Transcript()
	got[0].Content = "mutated"
	if s.Transcript()[0].Content != "one" {
		t.Error("Transcript returned shared storage")
	}
}

// ---------------------------------------------------------------------------
// Send
// ---------------------------------------------------------------------------

func TestSend_WritesOneFrame(t *testing.T) {
	s, conn := openReady(t, nil)

	if err := s.Send("  hello "); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitFor(t, "write", func() bool { return len(conn.Written()) == 1 })
	w := conn.Written()[0]
	if w.Type != websocket.TextMessage {
		t.Errorf("frame type = %d, want text", w.Type)
	}
	if string(w.Data) != `{"message":"  hello "}` {
		t.Errorf("frame = %s, want untrimmed message", w.Data)
	}
}

func TestSend_NoOptimisticAppend(t *testing.T) {
	s, conn := openReady(t, nil)

	if err := s.Send("ping"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitFor(t, "write", func() bool { return len(conn.Written()) == 1 })
	if n := len(s.Transcript()); n != 0 {
		t.Fatalf("transcript has %d entries before echo, want 0", n)
	}

	conn.Deliver(frame("ping", "me"))
	waitFor(t, "echo", func() bool { return len(s.Transcript()) == 1 })
	time.Sleep(20 * time.Millisecond)
	if n := len(s.Transcript()); n != 1 {
		t.Errorf("transcript has %d entries after echo, want exactly 1", n)
	}
}

func TestSend_BlankIsNoop(t *testing.T) {
	s, conn := openReady(t, nil)

	s.SetDraft("   ")
	for _, text := range []string{"", "   ", "\t\n"} {
		if err := s.Send(text); err != nil {
			t.Errorf("Send(%q) = %v, want nil", text, err)
		}
	}
	if err := s.SendDraft(); err != nil {
		t.Errorf("SendDraft(blank) = %v, want nil", err)
	}
	if s.Draft() != "   " {
		t.Errorf("Draft = %q, want unchanged", s.Draft())
	}

	// A real send afterwards must be the only frame on the wire.
	if err := s.Send("real"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitFor(t, "write", func() bool { return len(conn.Written()) >= 1 })
	time.Sleep(20 * time.Millisecond)
	if n := len(conn.Written()); n != 1 {
		t.Errorf("wrote %d frames, want 1", n)
	}
}

func TestSend_ClearsDraft(t *testing.T) {
	s, conn := openReady(t, nil)

	s.SetDraft("draft text")
	if s.Draft() != "draft text" {
		t.Fatalf("Draft = %q", s.Draft())
	}
	if err := s.SendDraft(); err != nil {
		t.Fatalf("SendDraft: %v", err)
	}
	if s.Draft() != "" {
		t.Errorf("Draft = %q, want empty after send", s.Draft())
	}
	waitFor(t, "write", func() bool { return len(conn.Written()) == 1 })
	if string(conn.Written()[0].Data) != `{"message":"draft text"}` {
		t.Errorf("frame = %s", conn.Written()[0].Data)
	}
}

func TestSend_OtherTextKeepsDraft(t *testing.T) {
	s, conn := openReady(t, nil)

	s.SetDraft("half-written reply")
	if err := s.Send("quick note"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitFor(t, "write", func() bool { return len(conn.Written()) == 1 })
	if s.Draft() != "half-written reply" {
		t.Errorf("Draft = %q, want unrelated draft kept", s.Draft())
	}

	if err := s.Send("half-written reply"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if s.Draft() != "" {
		t.Errorf("Draft = %q, want cleared once sent", s.Draft())
	}
}

func TestSend_NotOpenKeepsDraft(t *testing.T) {
	gate := make(chan struct{})
	d := &MockDialer{Gate: gate}
	s := openMock(t, d, nil)

	s.SetDraft("keep me")
	if err := s.SendDraft(); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("SendDraft while connecting = %v, want ErrNotOpen", err)
	}
	if s.Draft() != "keep me" {
		t.Errorf("Draft = %q, want kept", s.Draft())
	}

	s.Close()
	if err := s.Send("late"); !errors.Is(err, ErrNotOpen) {
		t.Errorf("Send after close = %v, want ErrNotOpen", err)
	}
	close(gate)
}

func TestSend_QueueFull(t *testing.T) {
	d := &MockDialer{}
	s, err := Open(context.Background(), Opts{
		OrderID: 7, Endpoint: testEndpoint, Dialer: d, PingPeriod: -1, SendQueue: 1,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	waitFor(t, "open", func() bool { return s.State() == StateOpen })
	conn := d.LastConn()
	release := conn.HoldWrites()
	defer release()

	if err := s.Send("a"); err != nil {
		t.Fatalf("Send a: %v", err)
	}
	waitFor(t, "pump to take a", func() bool { return len(s.outbound) == 0 })
	if err := s.Send("b"); err != nil {
		t.Fatalf("Send b: %v", err)
	}
	if err := s.Send("c"); !errors.Is(err, ErrSendQueueFull) {
		t.Fatalf("Send c = %v, want ErrSendQueueFull", err)
	}

	release()
	waitFor(t, "2 writes", func() bool { return len(conn.Written()) == 2 })
	if s.State() != StateOpen {
		t.Errorf("State = %q, want open", s.State())
	}
}

func TestSend_WriteFailureErrors(t *testing.T) {
	rec := &recorder{}
	s, conn := openReady(t, rec.add)
	conn.SetWriteError(errors.New("broken pipe"))

	if err := s.Send("hi"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitFor(t, "errored", func() bool { return s.State() == StateErrored })
	if !errors.Is(s.Err(), ErrChannelTransport) {
		t.Errorf("Err = %v, want ErrChannelTransport", s.Err())
	}
	waitFor(t, "errored event", func() bool { return len(rec.states()) == 2 })
	if got := rec.states(); got[1] != StateErrored {
		t.Errorf("states = %v", got)
	}
}

// ---------------------------------------------------------------------------
// Transport failure
// ---------------------------------------------------------------------------

func TestTransportBreak(t *testing.T) {
	rec := &recorder{}
	s, conn := openReady(t, rec.add)

	conn.Break(errors.New("connection reset"))
	waitFor(t, "errored", func() bool { return s.State() == StateErrored })
	if !errors.Is(s.Err(), ErrChannelTransport) {
		t.Errorf("Err = %v, want ErrChannelTransport", s.Err())
	}
	if !conn.IsClosed() {
		t.Error("connection not released after failure")
	}
	if err := s.Send("hi"); !errors.Is(err, ErrNotOpen) {
		t.Errorf("Send after failure = %v, want ErrNotOpen", err)
	}
	waitFor(t, "errored event", func() bool { return len(rec.states()) == 2 })

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if s.State() != StateErrored {
		t.Errorf("State after Close = %q, want errored to stick", s.State())
	}
}

// ---------------------------------------------------------------------------
// Close
// ---------------------------------------------------------------------------

func TestClose_Open(t *testing.T) {
	s, conn := openReady(t, nil)

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if s.State() != StateClosed {
		t.Errorf("State = %q, want closed", s.State())
	}
	if !conn.IsClosed() {
		t.Error("connection still open after Close returned")
	}
	ctrl := conn.Controls()
	if len(ctrl) != 1 || ctrl[0].Type != websocket.CloseMessage {
		t.Errorf("controls = %+v, want one close frame", ctrl)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if s.State() != StateClosed {
		t.Errorf("State after second Close = %q", s.State())
	}
}

func TestClose_BeforeOpen(t *testing.T) {
	gate := make(chan struct{})
	d := &MockDialer{Gate: gate}
	rec := &recorder{}
	s := openMock(t, d, rec.add)

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if s.State() != StateClosed {
		t.Errorf("State = %q, want closed", s.State())
	}

	// The pending dial is cancelled and never yields a connection.
	time.Sleep(20 * time.Millisecond)
	if n := len(d.Conns()); n != 0 {
		t.Errorf("dialer handed out %d conns, want 0", n)
	}
	if n := rec.count(); n != 0 {
		t.Errorf("got %d events, want none", n)
	}
	close(gate)
}

func TestClose_DialCompletesAfterClose(t *testing.T) {
	gate := make(chan struct{})
	d := &MockDialer{Gate: gate, IgnoreContext: true}
	rec := &recorder{}
	s := openMock(t, d, rec.add)

	s.Close()
	close(gate)

	waitFor(t, "late conn", func() bool { return d.LastConn() != nil })
	conn := d.LastConn()
	waitFor(t, "late conn closed", conn.IsClosed)
	if s.State() != StateClosed {
		t.Errorf("State = %q, want closed", s.State())
	}
	if n := rec.count(); n != 0 {
		t.Errorf("got %d events, want none", n)
	}
}

func TestClose_NoEventsAfterReturn(t *testing.T) {
	rec := &recorder{}
	s, conn := openReady(t, rec.add)
	waitFor(t, "open event", func() bool { return rec.count() == 1 })

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 60; i++ {
			select {
			case <-stop:
				return
			default:
			}
			conn.Deliver(frame(fmt.Sprintf("m%d", i), "x"))
			time.Sleep(time.Millisecond)
		}
	}()

	time.Sleep(10 * time.Millisecond)
	s.Close()
	events := rec.count()
	transcript := len(s.Transcript())

	time.Sleep(50 * time.Millisecond)
	close(stop)
	wg.Wait()

	if got := rec.count(); got != events {
		t.Errorf("events grew from %d to %d after Close", events, got)
	}
	if got := len(s.Transcript()); got != transcript {
		t.Errorf("transcript grew from %d to %d after Close", transcript, got)
	}
}

func TestClose_WaitsForInFlightCallback(t *testing.T) {
	entered := make(chan struct{})
	unblock := make(chan struct{})
	var finished atomic.Bool
	var once sync.Once

	s, conn := openReady(t, func(ev Event) {
		if ev.Kind != EventMessage {
			return
		}
		once.Do(func() { close(entered) })
		<-unblock
		finished.Store(true)
	})

	conn.Deliver(frame("slow", "x"))
	<-entered

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while a callback was running")
	case <-time.After(30 * time.Millisecond):
	}
	close(unblock)
	<-closed
	if !finished.Load() {
		t.Error("Close returned before the callback finished")
	}
}

func TestListener_Serialized(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	var total atomic.Int32
	s, conn := openReady(t, func(ev Event) {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		inFlight.Add(-1)
		total.Add(1)
	})

	for i := 0; i < 10; i++ {
		conn.Deliver(frame(fmt.Sprintf("m%d", i), "x"))
	}
	conn.SetWriteError(errors.New("boom"))
	_ = s.Send("trigger write failure")

	waitFor(t, "errored", func() bool { return s.State() == StateErrored })
	waitFor(t, "callbacks", func() bool { return total.Load() >= 2 })
	if m := maxInFlight.Load(); m > 1 {
		t.Errorf("max concurrent callbacks = %d, want 1", m)
	}
}
