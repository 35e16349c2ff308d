// Package guard gates vote submission per identity.
//
// Two checks stack: a short velocity window that catches bursts faster
// than a human can listen and pick, and a longer budget window sized so
// a legitimate full tournament (bracket size - 1 votes) always fits.
// The velocity check is waived when a session is a few matches from
// completion, so the guard never blocks someone finishing a bracket.
package guard

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Default limits, mirroring production tuning: 3 votes per 2 seconds
// sustained play, 150 votes per 10 minutes overall.
const (
	defaultBurst              = 3
	defaultWindow             = 2 * time.Second
	defaultBudget             = 150
	defaultBudgetWindow       = 10 * time.Minute
	defaultFinishingExemption = 3
	defaultIdleEviction       = 30 * time.Minute
)

// Clock supplies the current time. Injected for testability.
type Clock func() time.Time

// Option applies a configuration option to the Guard.
type Option func(*Guard)

// WithVelocity sets the short-window limit: at most burst votes per window.
func WithVelocity(burst int, window time.Duration) Option {
	return func(g *Guard) {
		if burst > 0 && window > 0 {
			g.burst = burst
			g.window = window
		}
	}
}

// WithBudget sets the long-window ceiling: at most budget votes per window.
func WithBudget(budget int, window time.Duration) Option {
	return func(g *Guard) {
		if budget > 0 && window > 0 {
			g.budget = budget
			g.budgetWindow = window
		}
	}
}

// WithFinishingExemption sets the remaining-match count at or below which
// the velocity check is waived.
func WithFinishingExemption(remaining int) Option {
	return func(g *Guard) {
		if remaining >= 0 {
			g.finishingExemption = remaining
		}
	}
}

// WithClock replaces the time source.
func WithClock(clock Clock) Option {
	return func(g *Guard) {
		if clock != nil {
			g.now = clock
		}
	}
}

// WithIdleEviction sets how long an identity's counters survive unused.
func WithIdleEviction(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.idleEviction = d
		}
	}
}

// visitor tracks one identity's recent voting activity.
type visitor struct {
	recent   []time.Time // votes inside the velocity window
	budget   *rate.Limiter
	lastSeen time.Time
}

// Guard is a tournament-aware vote rate limiter. All state is explicit
// and per identity; nothing is shared process-wide.
type Guard struct {
	mu       sync.Mutex
	visitors map[string]*visitor

	burst              int
	window             time.Duration
	budget             int
	budgetWindow       time.Duration
	finishingExemption int
	idleEviction       time.Duration
	now                Clock
}

// New constructs a Guard with production defaults.
func New(opts ...Option) *Guard {
	g := &Guard{
		visitors:           make(map[string]*visitor),
		burst:              defaultBurst,
		window:             defaultWindow,
		budget:             defaultBudget,
		budgetWindow:       defaultBudgetWindow,
		finishingExemption: defaultFinishingExemption,
		idleEviction:       defaultIdleEviction,
		now:                time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Allow records one vote attempt for identity and reports whether it may
// proceed. remaining is how many matches the session still has to play;
// sessions at or under the finishing exemption skip the velocity check.
// Returns ErrRateLimited on rejection; rejected attempts are not counted.
func (g *Guard) Allow(identity string, remaining int) error {
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	v, ok := g.visitors[identity]
	if !ok {
		v = &visitor{
			budget: rate.NewLimiter(rate.Limit(float64(g.budget)/g.budgetWindow.Seconds()), g.budget),
		}
		g.visitors[identity] = v
	}
	v.lastSeen = now

	// Velocity: drop timestamps that fell out of the window, then check.
	kept := v.recent[:0]
	for _, ts := range v.recent {
		if now.Sub(ts) < g.window {
			kept = append(kept, ts)
		}
	}
	v.recent = kept

	if remaining > g.finishingExemption && len(v.recent) >= g.burst {
		return ErrRateLimited
	}

	// Budget ceiling applies regardless; it is sized to fit a complete
	// tournament, so finishing players never hit it legitimately.
	if !v.budget.AllowN(now, 1) {
		return ErrRateLimited
	}

	v.recent = append(v.recent, now)
	return nil
}

// RetryAfter suggests a cooldown for a rejected identity.
func (g *Guard) RetryAfter(identity string) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	v, ok := g.visitors[identity]
	if !ok || len(v.recent) == 0 {
		return g.window
	}
	wait := g.window - g.now().Sub(v.recent[0])
	if wait < 0 {
		wait = 0
	}
	return wait
}

// Sweep evicts identities idle longer than the eviction threshold and
// returns how many were removed. Callers run it periodically.
func (g *Guard) Sweep() int {
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	removed := 0
	for id, v := range g.visitors {
		if now.Sub(v.lastSeen) > g.idleEviction {
			delete(g.visitors, id)
			removed++
		}
	}
	return removed
}

// Size returns the number of identities currently tracked.
func (g *Guard) Size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.visitors)
}
