// Package ratelimit provides fixed-window rate limiting keyed by
// (prefix, identifier) with automatic sweeping of expired windows.
//
// The algorithm is a fixed window, not a sliding window or token bucket:
// requests are counted in a bucket that resets atomically at its boundary.
// Bursts at window boundaries are an accepted tradeoff for O(1) state per key.
package ratelimit

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Policy describes one rate limit: MaxRequests per Window.
type Policy struct {
	MaxRequests int
	Window      time.Duration
}

// Preset policies. Window sizes and request counts follow common API tiers;
// Auth is deliberately tight because failed logins feed the lockout machinery.
var (
	Strict  = Policy{MaxRequests: 10, Window: time.Minute}
	Normal  = Policy{MaxRequests: 60, Window: time.Minute}
	Relaxed = Policy{MaxRequests: 300, Window: time.Minute}
	API     = Policy{MaxRequests: 1000, Window: time.Hour}
	Auth    = Policy{MaxRequests: 5, Window: 15 * time.Minute}
)

// Preset returns a named preset policy.
func Preset(name string) (Policy, bool) {
	switch name {
	case "strict":
		return Strict, true
	case "normal":
		return Normal, true
	case "relaxed":
		return Relaxed, true
	case "api":
		return API, true
	case "auth":
		return Auth, true
	default:
		return Policy{}, false
	}
}

// valid reports whether the policy is usable. A zero or negative field is a
// programmer error, not a runtime condition.
func (p Policy) valid() bool {
	return p.MaxRequests > 0 && p.Window > 0
}

// Result reports the outcome of a single limit check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time

	// RetryAfter is how long the caller should wait before retrying.
	// Zero when the request was allowed; rounded up to whole seconds otherwise.
	RetryAfter time.Duration
}

// window is one fixed counting bucket.
type window struct {
	count   int
	resetAt time.Time
}

// DefaultSweepInterval is how often expired windows are removed.
const DefaultSweepInterval = time.Minute

// Stats holds limiter statistics for monitoring.
type Stats struct {
	TrackedWindows int64 // current number of live windows
	TotalChecks    int64 // total Check calls
	TotalDenied    int64 // total denied checks
	TotalSwept     int64 // total windows removed by the sweeper
}

// Limiter tracks fixed windows per (prefix, key).
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window

	now           func() time.Time
	sweepInterval time.Duration
	stopSweep     chan struct{}
	stopOnce      sync.Once
	logger        *slog.Logger

	totalChecks int64
	totalDenied int64
	totalSwept  int64
}

// New creates a limiter with the default sweep interval.
func New(logger *slog.Logger) *Limiter {
	return NewWithInterval(DefaultSweepInterval, logger)
}

// NewWithInterval creates a limiter with a custom sweep interval.
// If sweepInterval is zero or negative, the default of one minute is used.
func NewWithInterval(sweepInterval time.Duration, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}

	l := &Limiter{
		windows:       make(map[string]*window),
		now:           time.Now,
		sweepInterval: sweepInterval,
		stopSweep:     make(chan struct{}),
		logger:        logger,
	}

	go l.sweepLoop()

	return l
}

// Check counts one request against the window for (prefix, key) under policy p.
// A new window is opened when none exists or the current one has expired;
// otherwise the counter is incremented until the limit is reached.
//
// Check panics on an invalid policy: a missing MaxRequests or Window is a
// configuration bug, not a runtime condition.
func (l *Limiter) Check(prefix, key string, p Policy) Result {
	if !p.valid() {
		panic(fmt.Sprintf("ratelimit: invalid policy %+v for %s:%s", p, prefix, key))
	}

	id := prefix + ":" + key
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.totalChecks++

	w, ok := l.windows[id]
	if !ok || !now.Before(w.resetAt) {
		// Expired windows are replaced, not incremented.
		w = &window{count: 1, resetAt: now.Add(p.Window)}
		l.windows[id] = w
		return Result{
			Allowed:   true,
			Limit:     p.MaxRequests,
			Remaining: p.MaxRequests - 1,
			ResetAt:   w.resetAt,
		}
	}

	if w.count >= p.MaxRequests {
		l.totalDenied++
		return Result{
			Allowed:    false,
			Limit:      p.MaxRequests,
			Remaining:  0,
			ResetAt:    w.resetAt,
			RetryAfter: ceilSeconds(w.resetAt.Sub(now)),
		}
	}

	w.count++
	return Result{
		Allowed:   true,
		Limit:     p.MaxRequests,
		Remaining: p.MaxRequests - w.count,
		ResetAt:   w.resetAt,
	}
}

// Reset clears the window for (prefix, key), if any.
func (l *Limiter) Reset(prefix, key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, prefix+":"+key)
}

// Sweep removes all expired windows and returns how many were removed.
func (l *Limiter) Sweep() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, id)
			removed++
		}
	}
	l.totalSwept += int64(removed)

	if removed > 0 {
		l.logger.Debug("rate limit sweep completed",
			"removed", removed,
			"remaining", len(l.windows))
	}

	return removed
}

// sweepLoop periodically removes expired windows to bound memory.
func (l *Limiter) sweepLoop() {
	ticker := time.NewTicker(l.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.Sweep()
		case <-l.stopSweep:
			return
		}
	}
}

// Stats returns current limiter statistics for monitoring.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		TrackedWindows: int64(len(l.windows)),
		TotalChecks:    l.totalChecks,
		TotalDenied:    l.totalDenied,
		TotalSwept:     l.totalSwept,
	}
}

// Stop halts the background sweep goroutine. Safe to call more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopSweep)
	})
}

// SetNow overrides the limiter's time source. Intended for tests.
func (l *Limiter) SetNow(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// ceilSeconds rounds d up to a whole number of seconds, minimum one second
// for any positive remainder.
func ceilSeconds(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	s := d.Truncate(time.Second)
	if s < d {
		s += time.Second
	}
	return s
}
