package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/zulandar/postavshik/internal/chat"
	"github.com/zulandar/postavshik/internal/models"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// truncate shortens s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	if n <= 3 {
		return string([]rune(s)[:n])
	}
	return string([]rune(s)[:n-3]) + "..."
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

// pageFooter summarises a page of results.
func pageFooter[T any](p models.Page[T]) string {
	shown := len(p.Results)
	total := p.Count
	if total < shown {
		total = shown
	}
	s := fmt.Sprintf("Showing %d of %d", shown, total)
	if p.Next != nil && *p.Next != "" {
		s += " (more with --page)"
	}
	return s
}

// formatChatLine renders one transcript entry for the terminal.
func formatChatLine(m chat.Message) string {
	var b strings.Builder
	if m.Timestamp != "" {
		fmt.Fprintf(&b, "[%s] ", m.Timestamp)
	}
	if m.Sender != "" {
		fmt.Fprintf(&b, "%s: ", m.Sender)
	}
	b.WriteString(m.Content)
	return b.String()
}

// lockedWriter serializes writes from the chat reader and the input loop.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
