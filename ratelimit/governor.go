// Package ratelimit throttles outbound calls to the chat platform.
//
// A Governor keeps the timestamps of recently admitted calls and admits a new
// call only while fewer than Limit of them fall inside the trailing Window.
// All platform traffic in the process shares one Governor.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/onnwee/roombot/telemetry"
)

const (
	// DefaultLimit is the number of calls admitted per window.
	DefaultLimit = 10
	// DefaultWindow is the admission window.
	DefaultWindow = 10 * time.Second
	// DefaultMargin is added to computed waits so the oldest stamp has surely aged out.
	DefaultMargin = 50 * time.Millisecond
)

// Governor is a sliding-window admission controller. The zero value is not usable; use New.
type Governor struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	margin time.Duration
	stamps []time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Option customizes a Governor.
type Option func(*Governor)

// WithClock replaces the wall clock and the sleep primitive; used by tests to
// simulate time.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(g *Governor) {
		g.now = now
		g.sleep = sleep
	}
}

// WithMargin overrides DefaultMargin.
func WithMargin(d time.Duration) Option {
	return func(g *Governor) { g.margin = d }
}

// New creates a Governor admitting at most limit calls per window.
func New(limit int, window time.Duration, opts ...Option) *Governor {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	g := &Governor{
		limit:  limit,
		window: window,
		margin: DefaultMargin,
		now:    time.Now,
		sleep:  sleepCtx,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Acquire blocks until one more call may be made, then records it.
//
// Admission happens inside a single critical section, so concurrent callers can
// never both observe spare quota and together exceed the limit. Waiting is done
// outside the lock. The only error is ctx cancellation during a wait.
func (g *Governor) Acquire(ctx context.Context) error {
	start := g.now()
	for {
		wait, ok := g.tryAdmit()
		if ok {
			telemetry.ObserveWait(g.now().Sub(start))
			return nil
		}
		if err := g.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// tryAdmit prunes expired stamps and either admits (recording now) or returns
// how long to wait before the oldest stamp leaves the window.
func (g *Governor) tryAdmit() (time.Duration, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	cutoff := now.Add(-g.window)
	i := 0
	for i < len(g.stamps) && !g.stamps[i].After(cutoff) {
		i++
	}
	g.stamps = g.stamps[i:]

	if len(g.stamps) < g.limit {
		g.stamps = append(g.stamps, now)
		return 0, true
	}
	wait := g.window - now.Sub(g.stamps[0]) + g.margin
	if wait <= 0 {
		wait = g.margin
	}
	return wait, false
}

// InFlight returns the number of admissions inside the current window.
func (g *Governor) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	cutoff := g.now().Add(-g.window)
	n := 0
	for _, s := range g.stamps {
		if s.After(cutoff) {
			n++
		}
	}
	return n
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
