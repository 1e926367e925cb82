// Package verify watches supplier verification results. Verification runs
// asynchronously on the server, so the only way to learn the outcome is to
// poll the supplier directory and diff statuses.
package verify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/zulandar/postavshik/internal/models"
)

// DefaultSchedule polls every five minutes.
const DefaultSchedule = "*/5 * * * *"

// DefaultMaxPages bounds how many directory pages one poll walks.
const DefaultMaxPages = 20

// SupplierLister abstracts the directory call for testability.
// *directory.Client satisfies it.
type SupplierLister interface {
	ListSuppliers(ctx context.Context, filters models.SupplierFilters) (models.Page[models.Supplier], error)
}

// Transition is a change in a supplier's verification status between polls.
type Transition struct {
	SupplierID int
	Name       string
	From       models.VerificationStatus
	To         models.VerificationStatus
	Verified   bool
	Score      *float64
	At         time.Time
}

// Done reports whether the transition ends a verification run.
func (t Transition) Done() bool {
	return t.To == models.VerificationCompleted || t.To == models.VerificationFailed
}

// String renders the transition for terminal output.
func (t Transition) String() string {
	s := fmt.Sprintf("#%d %s: %s -> %s", t.SupplierID, t.Name, t.From, t.To)
	if t.Score != nil {
		s += fmt.Sprintf(" (score %.0f)", *t.Score)
	}
	return s
}

// WatcherOpts holds parameters for creating a Watcher.
type WatcherOpts struct {
	Lister   SupplierLister
	Filters  models.SupplierFilters // narrows what is watched; Page is ignored
	Schedule string                 // defaults to DefaultSchedule
	MaxPages int                    // defaults to DefaultMaxPages
	Now      func() time.Time       // defaults to time.Now
}

// Watcher polls the supplier directory and reports verification status
// changes. The first poll only records a baseline.
type Watcher struct {
	lister   SupplierLister
	filters  models.SupplierFilters
	schedule cron.Schedule
	maxPages int
	now      func() time.Time

	mu       sync.Mutex
	snapshot map[int]models.VerificationStatus
	seeded   bool
}

// NewWatcher creates a Watcher.
func NewWatcher(opts WatcherOpts) (*Watcher, error) {
	if opts.Lister == nil {
		return nil, errors.New("verify: watcher: lister is required")
	}
	expr := opts.Schedule
	if expr == "" {
		expr = DefaultSchedule
	}
	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}
	maxPages := opts.MaxPages
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	filters := opts.Filters
	filters.Page = 0
	return &Watcher{
		lister:   opts.Lister,
		filters:  filters,
		schedule: sched,
		maxPages: maxPages,
		now:      now,
		snapshot: make(map[int]models.VerificationStatus),
	}, nil
}

// Poll fetches the watched suppliers and returns the status changes since
// the previous poll. Suppliers seen for the first time are recorded without
// a transition.
func (w *Watcher) Poll(ctx context.Context) ([]Transition, error) {
	suppliers, err := w.fetch(ctx)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	at := w.now()
	var out []Transition
	for _, s := range suppliers {
		prev, known := w.snapshot[s.ID]
		w.snapshot[s.ID] = s.VerificationStatus
		if !w.seeded || !known || prev == s.VerificationStatus {
			continue
		}
		out = append(out, Transition{
			SupplierID: s.ID,
			Name:       s.Name,
			From:       prev,
			To:         s.VerificationStatus,
			Verified:   s.IsVerified,
			Score:      s.VerificationScore,
			At:         at,
		})
	}
	w.seeded = true
	return out, nil
}

// Tracked returns how many suppliers the watcher has seen.
func (w *Watcher) Tracked() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.snapshot)
}

func (w *Watcher) fetch(ctx context.Context) ([]models.Supplier, error) {
	var all []models.Supplier
	filters := w.filters
	for page := 1; page <= w.maxPages; page++ {
		if page > 1 {
			filters.Page = page
		}
		res, err := w.lister.ListSuppliers(ctx, filters)
		if err != nil {
			return nil, fmt.Errorf("verify: poll page %d: %w", page, err)
		}
		all = append(all, res.Results...)
		if res.Next == nil || *res.Next == "" {
			break
		}
	}
	return all, nil
}

// Run polls once immediately for the baseline, then on every schedule tick,
// and sends transitions to the returned channel. The channel is closed when
// ctx is cancelled. Poll errors are logged and the next tick retries.
func (w *Watcher) Run(ctx context.Context) <-chan Transition {
	ch := make(chan Transition, 64)
	go func() {
		defer close(ch)

		emit := func(ts []Transition) bool {
			for _, t := range ts {
				select {
				case ch <- t:
				case <-ctx.Done():
					return false
				}
			}
			return true
		}
		poll := func() bool {
			ts, err := w.Poll(ctx)
			if err != nil {
				if ctx.Err() == nil {
					log.Warn().Err(err).Msg("verify: poll failed")
				}
				return true
			}
			log.Debug().Int("tracked", w.Tracked()).Int("changes", len(ts)).Msg("verify: polled")
			return emit(ts)
		}

		if !poll() {
			return
		}
		timer := time.NewTimer(nextDelay(w.schedule, w.now()))
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				if !poll() {
					return
				}
				timer.Reset(nextDelay(w.schedule, w.now()))
			}
		}
	}()
	return ch
}
