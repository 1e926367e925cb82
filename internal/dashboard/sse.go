package dashboard

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zulandar/postavshik/internal/chat"
)

const (
	sseHeartbeat   = 15 * time.Second
	subscriberSize = 64
)

// hub fans chat events out to SSE subscribers. Slow subscribers lose events
// rather than stall the session's reader.
type hub struct {
	mu     sync.Mutex
	subs   map[chan chat.Event]struct{}
	closed bool
	done   chan struct{}
}

func newHub() *hub {
	return &hub{
		subs: make(map[chan chat.Event]struct{}),
		done: make(chan struct{}),
	}
}

func (h *hub) subscribe() (<-chan chat.Event, func()) {
	ch := make(chan chat.Event, subscriberSize)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
	}
}

func (h *hub) publish(ev chat.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *hub) subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.closed = true
		close(h.done)
	}
}

// handleChatEvents streams binder events. The first event is a snapshot of
// the current chat so a reconnecting page can resync.
func (s *Server) handleChatEvents(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	events, unsubscribe := s.hub.subscribe()
	defer unsubscribe()

	writeSSE(c.Writer, "connected", viewOf(s.binder.Current()))
	c.Writer.Flush()

	ctx := c.Request.Context()
	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.hub.done:
			return
		case <-heartbeat.C:
			writeSSE(c.Writer, "heartbeat", map[string]string{
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
			c.Writer.Flush()
		case ev := <-events:
			writeSSE(c.Writer, string(ev.Kind), ev)
			c.Writer.Flush()
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
