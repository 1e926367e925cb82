package verify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/postavshik/internal/models"
)

// fakeLister serves scripted supplier lists, one slice of pages per poll.
type fakeLister struct {
	mu    sync.Mutex
	polls [][]models.Page[models.Supplier]
	poll  int
	page  int
	calls []models.SupplierFilters
	err   error
}

func (f *fakeLister) ListSuppliers(_ context.Context, filters models.SupplierFilters) (models.Page[models.Supplier], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, filters)
	if f.err != nil {
		return models.Page[models.Supplier]{}, f.err
	}
	pages := f.polls[min(f.poll, len(f.polls)-1)]
	p := pages[f.page]
	f.page++
	if f.page == len(pages) {
		f.page = 0
		f.poll++
	}
	return p, nil
}

func page(next string, suppliers ...models.Supplier) models.Page[models.Supplier] {
	p := models.Page[models.Supplier]{Count: len(suppliers), Results: suppliers}
	if next != "" {
		p.Next = &next
	}
	return p
}

func supplier(id int, name string, status models.VerificationStatus) models.Supplier {
	return models.Supplier{ID: id, Name: name, VerificationStatus: status}
}

func score(v float64) *float64 { return &v }

// ---------------------------------------------------------------------------
// NewWatcher
// ---------------------------------------------------------------------------

func TestNewWatcher_NilLister(t *testing.T) {
	if _, err := NewWatcher(WatcherOpts{}); err == nil {
		t.Fatal("expected error for nil lister")
	}
}

func TestNewWatcher_BadSchedule(t *testing.T) {
	_, err := NewWatcher(WatcherOpts{Lister: &fakeLister{}, Schedule: "every tuesday"})
	if err == nil || !strings.Contains(err.Error(), "every tuesday") {
		t.Fatalf("err = %v, want schedule error", err)
	}
}

func TestNewWatcher_Defaults(t *testing.T) {
	w, err := NewWatcher(WatcherOpts{Lister: &fakeLister{}, Filters: models.SupplierFilters{Country: "RU", Page: 4}})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if w.maxPages != DefaultMaxPages {
		t.Errorf("maxPages = %d, want %d", w.maxPages, DefaultMaxPages)
	}
	if w.filters.Page != 0 {
		t.Errorf("filters.Page = %d, want 0", w.filters.Page)
	}
	if w.filters.Country != "RU" {
		t.Errorf("filters.Country = %q, want RU", w.filters.Country)
	}
}

// ---------------------------------------------------------------------------
// Poll
// ---------------------------------------------------------------------------

func TestPoll_BaselineThenTransitions(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	done := supplier(1, "Acme", models.VerificationCompleted)
	done.IsVerified = true
	done.VerificationScore = score(87)

	f := &fakeLister{polls: [][]models.Page[models.Supplier]{
		{page("", supplier(1, "Acme", models.VerificationInProgress), supplier(2, "Beta", models.VerificationNotStarted))},
		{page("", done, supplier(2, "Beta", models.VerificationNotStarted), supplier(3, "Gamma", models.VerificationInProgress))},
		{page("", done, supplier(2, "Beta", models.VerificationFailed), supplier(3, "Gamma", models.VerificationInProgress))},
	}}
	w, err := NewWatcher(WatcherOpts{Lister: f, Now: func() time.Time { return fixed }})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	ctx := context.Background()

	ts, err := w.Poll(ctx)
	if err != nil {
		t.Fatalf("baseline poll: %v", err)
	}
	if len(ts) != 0 {
		t.Fatalf("baseline emitted %d transitions, want 0", len(ts))
	}
	if w.Tracked() != 2 {
		t.Errorf("Tracked = %d, want 2", w.Tracked())
	}

	ts, err = w.Poll(ctx)
	if err != nil {
		t.Fatalf("second poll: %v", err)
	}
	if len(ts) != 1 {
		t.Fatalf("second poll got %d transitions, want 1: %+v", len(ts), ts)
	}
	got := ts[0]
	if got.SupplierID != 1 || got.From != models.VerificationInProgress || got.To != models.VerificationCompleted {
		t.Errorf("transition = %+v", got)
	}
	if !got.Verified || got.Score == nil || *got.Score != 87 || !got.At.Equal(fixed) {
		t.Errorf("transition details = %+v", got)
	}
	if !got.Done() {
		t.Error("completed transition should be Done")
	}
	if got.String() != "#1 Acme: in_progress -> completed (score 87)" {
		t.Errorf("String = %q", got.String())
	}
	if w.Tracked() != 3 {
		t.Errorf("Tracked = %d, want 3 (new supplier recorded)", w.Tracked())
	}

	ts, err = w.Poll(ctx)
	if err != nil {
		t.Fatalf("third poll: %v", err)
	}
	if len(ts) != 1 || ts[0].SupplierID != 2 || ts[0].To != models.VerificationFailed {
		t.Fatalf("third poll = %+v, want Beta -> failed", ts)
	}
	if ts[0].String() != "#2 Beta: not_started -> failed" {
		t.Errorf("String = %q", ts[0].String())
	}
}

func TestPoll_WalksPages(t *testing.T) {
	f := &fakeLister{polls: [][]models.Page[models.Supplier]{
		{
			page("http://x/suppliers/?page=2", supplier(1, "A", models.VerificationNotStarted)),
			page("http://x/suppliers/?page=3", supplier(2, "B", models.VerificationNotStarted)),
			page("", supplier(3, "C", models.VerificationNotStarted)),
		},
	}}
	w, err := NewWatcher(WatcherOpts{Lister: f, Filters: models.SupplierFilters{Search: "steel"}})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if _, err := w.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if w.Tracked() != 3 {
		t.Errorf("Tracked = %d, want 3", w.Tracked())
	}
	if len(f.calls) != 3 {
		t.Fatalf("calls = %d, want 3", len(f.calls))
	}
	wantPages := []int{0, 2, 3}
	for i, c := range f.calls {
		if c.Page != wantPages[i] {
			t.Errorf("call %d page = %d, want %d", i, c.Page, wantPages[i])
		}
		if c.Search != "steel" {
			t.Errorf("call %d search = %q, want steel", i, c.Search)
		}
	}
}

func TestPoll_MaxPages(t *testing.T) {
	f := &fakeLister{polls: [][]models.Page[models.Supplier]{
		{
			page("more", supplier(1, "A", models.VerificationNotStarted)),
			page("more", supplier(2, "B", models.VerificationNotStarted)),
			page("more", supplier(3, "C", models.VerificationNotStarted)),
		},
	}}
	w, err := NewWatcher(WatcherOpts{Lister: f, MaxPages: 2})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if _, err := w.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(f.calls) != 2 {
		t.Errorf("calls = %d, want 2", len(f.calls))
	}
}

func TestPoll_Error(t *testing.T) {
	f := &fakeLister{err: errors.New("backend down")}
	w, err := NewWatcher(WatcherOpts{Lister: f})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	_, err = w.Poll(context.Background())
	if err == nil || !strings.Contains(err.Error(), "backend down") {
		t.Fatalf("err = %v, want wrapped backend error", err)
	}
	if w.Tracked() != 0 {
		t.Errorf("Tracked = %d after failed poll, want 0", w.Tracked())
	}
}

func TestTransition_Done(t *testing.T) {
	for to, want := range map[models.VerificationStatus]bool{
		models.VerificationCompleted:  true,
		models.VerificationFailed:     true,
		models.VerificationInProgress: false,
		models.VerificationNotStarted: false,
	} {
		if got := (Transition{To: to}).Done(); got != want {
			t.Errorf("Done(%s) = %v, want %v", to, got, want)
		}
	}
}

// ---------------------------------------------------------------------------
// Run and schedule
// ---------------------------------------------------------------------------

func TestRun_BaselineAndCancel(t *testing.T) {
	f := &fakeLister{polls: [][]models.Page[models.Supplier]{
		{page("", supplier(1, "A", models.VerificationInProgress))},
	}}
	w, err := NewWatcher(WatcherOpts{Lister: f, Schedule: "0 0 1 1 *"})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	ch := w.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for w.Tracked() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("baseline poll never ran")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("unexpected transition from baseline")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestParseSchedule(t *testing.T) {
	if _, err := ParseSchedule("*/5 * * * *"); err != nil {
		t.Errorf("valid schedule: %v", err)
	}
	if _, err := ParseSchedule("* * * * * *"); err == nil {
		t.Error("6-field schedule should be rejected")
	}
}

func TestNextDelay(t *testing.T) {
	sched, err := ParseSchedule("*/5 * * * *")
	if err != nil {
		t.Fatalf("ParseSchedule: %v", err)
	}
	now := time.Date(2026, 3, 1, 12, 2, 30, 0, time.UTC)
	if got, want := nextDelay(sched, now), 2*time.Minute+30*time.Second; got != want {
		t.Errorf("nextDelay = %v, want %v", got, want)
	}
}
