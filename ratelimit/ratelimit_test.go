package ratelimit

import (
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func newTestLimiter(t *testing.T) (*Limiter, *fakeClock) {
	t.Helper()
	l := NewWithInterval(time.Hour, slog.Default())
	t.Cleanup(l.Stop)
	clk := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	l.SetNow(clk.Now)
	return l, clk
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestLimiter_Check_ExhaustsWindow(t *testing.T) {
	l, _ := newTestLimiter(t)
	p := Policy{MaxRequests: 5, Window: time.Minute}

	for i := 0; i < 5; i++ {
		res := l.Check("op", "user-1", p)
		if !res.Allowed {
			t.Fatalf("call %d should be allowed", i+1)
		}
		if res.Remaining != 5-(i+1) {
			t.Errorf("call %d remaining = %d, want %d", i+1, res.Remaining, 5-(i+1))
		}
		if res.RetryAfter != 0 {
			t.Errorf("call %d RetryAfter = %v, want 0", i+1, res.RetryAfter)
		}
	}

	res := l.Check("op", "user-1", p)
	if res.Allowed {
		t.Fatal("6th call should be denied")
	}
	if res.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %v, want > 0", res.RetryAfter)
	}
	if res.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0", res.Remaining)
	}
}

func TestLimiter_Check_WindowReset(t *testing.T) {
	l, clk := newTestLimiter(t)
	p := Policy{MaxRequests: 2, Window: time.Minute}

	l.Check("op", "user-1", p)
	l.Check("op", "user-1", p)
	if res := l.Check("op", "user-1", p); res.Allowed {
		t.Fatal("3rd call within window should be denied")
	}

	// One millisecond past the boundary starts a fresh window.
	clk.Advance(time.Minute + time.Millisecond)

	res := l.Check("op", "user-1", p)
	if !res.Allowed {
		t.Fatal("call after window expiry should be allowed")
	}
	if res.Remaining != 1 {
		t.Errorf("Remaining = %d, want 1 (first call of new window)", res.Remaining)
	}
}

func TestLimiter_Check_IndependentKeys(t *testing.T) {
	l, _ := newTestLimiter(t)
	p := Policy{MaxRequests: 1, Window: time.Minute}

	if res := l.Check("op", "user-1", p); !res.Allowed {
		t.Fatal("user-1 first call should be allowed")
	}
	if res := l.Check("op", "user-2", p); !res.Allowed {
		t.Fatal("user-2 should have its own window")
	}
	if res := l.Check("other", "user-1", p); !res.Allowed {
		t.Fatal("different prefix should have its own window")
	}
	if res := l.Check("op", "user-1", p); res.Allowed {
		t.Fatal("user-1 second call should be denied")
	}
}

func TestLimiter_Check_RetryAfterRoundsUp(t *testing.T) {
	l, clk := newTestLimiter(t)
	p := Policy{MaxRequests: 1, Window: time.Minute}

	l.Check("op", "k", p)
	clk.Advance(59*time.Second + 500*time.Millisecond)

	res := l.Check("op", "k", p)
	if res.Allowed {
		t.Fatal("call within window should be denied")
	}
	if res.RetryAfter != time.Second {
		t.Errorf("RetryAfter = %v, want 1s (500ms rounded up)", res.RetryAfter)
	}
}

func TestLimiter_Check_InvalidPolicyPanics(t *testing.T) {
	l, _ := newTestLimiter(t)

	tests := []struct {
		name   string
		policy Policy
	}{
		{"zero max requests", Policy{MaxRequests: 0, Window: time.Minute}},
		{"zero window", Policy{MaxRequests: 10, Window: 0}},
		{"negative max requests", Policy{MaxRequests: -1, Window: time.Minute}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("Check() should panic on invalid policy")
				}
			}()
			l.Check("op", "k", tt.policy)
		})
	}
}

func TestLimiter_Reset(t *testing.T) {
	l, _ := newTestLimiter(t)
	p := Policy{MaxRequests: 1, Window: time.Minute}

	l.Check("op", "k", p)
	if res := l.Check("op", "k", p); res.Allowed {
		t.Fatal("should be denied before reset")
	}

	l.Reset("op", "k")

	if res := l.Check("op", "k", p); !res.Allowed {
		t.Fatal("should be allowed after reset")
	}
}

func TestLimiter_Sweep(t *testing.T) {
	l, clk := newTestLimiter(t)
	p := Policy{MaxRequests: 10, Window: time.Minute}

	for i := 0; i < 5; i++ {
		l.Check("op", fmt.Sprintf("user-%d", i), p)
	}
	if got := l.Stats().TrackedWindows; got != 5 {
		t.Fatalf("TrackedWindows = %d, want 5", got)
	}

	clk.Advance(2 * time.Minute)
	l.Check("op", "user-fresh", p)

	removed := l.Sweep()
	if removed != 5 {
		t.Errorf("Sweep() removed %d, want 5", removed)
	}

	stats := l.Stats()
	if stats.TrackedWindows != 1 {
		t.Errorf("TrackedWindows after sweep = %d, want 1", stats.TrackedWindows)
	}
	if stats.TotalSwept != 5 {
		t.Errorf("TotalSwept = %d, want 5", stats.TotalSwept)
	}
}

func TestLimiter_ConcurrentChecks(t *testing.T) {
	l, _ := newTestLimiter(t)
	p := Policy{MaxRequests: 100, Window: time.Minute}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				l.Check("op", "shared", p)
			}
		}()
	}
	wg.Wait()

	// 200 checks against a limit of 100: exactly 100 allowed, 100 denied.
	stats := l.Stats()
	if stats.TotalChecks != 200 {
		t.Errorf("TotalChecks = %d, want 200", stats.TotalChecks)
	}
	if stats.TotalDenied != 100 {
		t.Errorf("TotalDenied = %d, want 100 (no lost updates)", stats.TotalDenied)
	}
}

func TestPreset(t *testing.T) {
	tests := []struct {
		name       string
		wantOK     bool
		wantMax    int
		wantWindow time.Duration
	}{
		{"strict", true, 10, time.Minute},
		{"normal", true, 60, time.Minute},
		{"relaxed", true, 300, time.Minute},
		{"api", true, 1000, time.Hour},
		{"auth", true, 5, 15 * time.Minute},
		{"bogus", false, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := Preset(tt.name)
			if ok != tt.wantOK {
				t.Fatalf("Preset(%q) ok = %v, want %v", tt.name, ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if p.MaxRequests != tt.wantMax || p.Window != tt.wantWindow {
				t.Errorf("Preset(%q) = %+v, want %d/%v", tt.name, p, tt.wantMax, tt.wantWindow)
			}
		})
	}
}
