package rate

import (
	"fmt"
	"sync"
	"time"
)

// RateLimitError is returned when calls are blocked.
type RateLimitError struct {
	Target  string
	Window  Window
	RetryAt time.Time
}

func (e RateLimitError) Error() string {
	return fmt.Sprintf("%s rate limited (%s budget, retry at %s)", e.Target, e.Window, e.RetryAt.UTC().Format(time.RFC3339))
}

type Decision struct {
	Allowed bool
	Window  Window
	RetryAt time.Time
}

type bucket struct {
	capacity int
	tokens   float64
	last     time.Time
}

// Guard enforces the token buckets of one declaration. A declaration without
// limits allows every call.
type Guard struct {
	decl Declaration
	now  func() time.Time

	mu      sync.Mutex
	buckets map[Window]*bucket
}

func NewGuard(decl Declaration) *Guard {
	return newGuardAt(decl, time.Now)
}

func newGuardAt(decl Declaration, now func() time.Time) *Guard {
	buckets := make(map[Window]*bucket)
	start := now()
	for window, limit := range decl.Limits() {
		if limit <= 0 {
			continue
		}
		buckets[window] = &bucket{capacity: limit, tokens: float64(limit), last: start}
	}
	return &Guard{decl: decl, now: now, buckets: buckets}
}

// Allow consumes one token from every window or returns the blocking window.
func (g *Guard) Allow() error {
	decision := g.ShouldCall()
	if decision.Allowed {
		return nil
	}
	blockedCounter.WithLabelValues(g.decl.TargetName(), decision.Window.String()).Inc()
	return RateLimitError{Target: g.decl.TargetName(), Window: decision.Window, RetryAt: decision.RetryAt}
}

func (g *Guard) ShouldCall() Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for window, b := range g.buckets {
		refill(b, window.Duration(), now)
		if b.tokens < 1 {
			perToken := window.Duration() / time.Duration(b.capacity)
			missing := time.Duration((1 - b.tokens) * float64(perToken))
			return Decision{Allowed: false, Window: window, RetryAt: now.Add(missing)}
		}
	}
	for window, b := range g.buckets {
		b.tokens--
		remainingGauge.WithLabelValues(g.decl.TargetName(), window.String()).Set(b.tokens)
	}
	return Decision{Allowed: true}
}

func refill(b *bucket, window time.Duration, now time.Time) {
	elapsed := now.Sub(b.last).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens = min(float64(b.capacity), b.tokens+elapsed*float64(b.capacity)/window.Seconds())
	b.last = now
}
