package sentinel

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sentinelhq/sentinel/anomaly"
	"github.com/sentinelhq/sentinel/audit"
	"github.com/sentinelhq/sentinel/internal/testutil"
	"github.com/sentinelhq/sentinel/ratelimit"
)

// newTestManager pins the clock to mid-afternoon so the unusual-time
// pattern stays quiet.
func newTestManager(t *testing.T, cfg Config) (*Manager, *testutil.MockTime) {
	t.Helper()
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { m.Close() })

	clock := testutil.NewMockTime(time.Date(2026, 3, 1, 14, 30, 0, 0, time.UTC))
	m.SetNow(clock.Now)
	return m, clock
}

func TestManager_CheckSecurity_CleanRequest(t *testing.T) {
	m, _ := newTestManager(t, Config{})

	d := m.CheckSecurity(context.Background(), "search", map[string]any{"q": "weather"}, Context{
		UserID:         "user-1",
		NetworkAddress: "203.0.113.7",
	})

	if d.Denied() {
		t.Fatalf("clean request denied: %v", d.Reasons)
	}
	if len(d.Reasons) != 0 {
		t.Errorf("Reasons = %v, want none", d.Reasons)
	}
}

func TestManager_CheckSecurity_AnomalyBlocks(t *testing.T) {
	m, _ := newTestManager(t, Config{})

	d := m.CheckSecurity(context.Background(), "search", map[string]any{
		"q": "1; DROP TABLE users",
	}, Context{UserID: "user-1"})

	if !d.Denied() {
		t.Fatal("injection payload not denied")
	}
	if len(d.Reasons) == 0 || !strings.HasPrefix(d.Reasons[0], "anomaly detected") {
		t.Errorf("Reasons = %v, want anomaly reason", d.Reasons)
	}
	found := false
	for _, a := range d.Actions {
		if a == string(anomaly.ActionBlock) {
			found = true
		}
	}
	if !found {
		t.Errorf("Actions = %v, want block", d.Actions)
	}
}

func TestManager_CheckSecurity_RateLimit(t *testing.T) {
	m, _ := newTestManager(t, Config{
		RateLimit: RateLimitConfig{
			Policy: ratelimit.Policy{MaxRequests: 3, Window: time.Minute},
		},
	})
	ctx := context.Background()
	reqCtx := Context{UserID: "user-1"}

	for i := 0; i < 3; i++ {
		if d := m.CheckSecurity(ctx, "search", "clean payload", reqCtx); d.Denied() {
			t.Fatalf("request %d denied: %v", i+1, d.Reasons)
		}
	}

	d := m.CheckSecurity(ctx, "search", "clean payload", reqCtx)
	if !d.Denied() {
		t.Fatal("request over the limit not denied")
	}
	if len(d.Reasons) != 1 || d.Reasons[0] != ReasonRateLimited {
		t.Errorf("Reasons = %v, want [%q]", d.Reasons, ReasonRateLimited)
	}
	if d.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %v, want positive", d.RetryAfter)
	}

	// A different user is unaffected.
	if d := m.CheckSecurity(ctx, "search", "clean payload", Context{UserID: "user-2"}); d.Denied() {
		t.Errorf("other user denied: %v", d.Reasons)
	}
}

func TestManager_CheckSecurity_RateLimitKeyFallback(t *testing.T) {
	m, _ := newTestManager(t, Config{
		RateLimit: RateLimitConfig{
			Policy: ratelimit.Policy{MaxRequests: 1, Window: time.Minute},
		},
	})
	ctx := context.Background()

	// No user ID: the network address is the bucket.
	addr := Context{NetworkAddress: "203.0.113.7"}
	if d := m.CheckSecurity(ctx, "search", "x", addr); d.Denied() {
		t.Fatalf("first request denied: %v", d.Reasons)
	}
	if d := m.CheckSecurity(ctx, "search", "x", addr); !d.Denied() {
		t.Fatal("second request from same address not denied")
	}

	// Fully anonymous requests share one bucket.
	if d := m.CheckSecurity(ctx, "search", "x", Context{}); d.Denied() {
		t.Fatalf("first anonymous request denied: %v", d.Reasons)
	}
	if d := m.CheckSecurity(ctx, "search", "x", Context{}); !d.Denied() {
		t.Fatal("second anonymous request not denied")
	}
}

func TestManager_CheckSecurity_LockedAccount(t *testing.T) {
	m, clock := newTestManager(t, Config{})
	ctx := context.Background()

	for i := 0; i < DefaultLockoutThreshold; i++ {
		m.RecordFailedAttempt("user-1")
	}

	d := m.CheckSecurity(ctx, "login", "x", Context{UserID: "user-1"})
	if !d.Denied() {
		t.Fatal("locked account not denied")
	}
	if len(d.Reasons) != 1 || d.Reasons[0] != ReasonAccountLocked {
		t.Errorf("Reasons = %v, want [%q]", d.Reasons, ReasonAccountLocked)
	}
	if d.RetryAfter <= 0 || d.RetryAfter > DefaultLockoutDuration {
		t.Errorf("RetryAfter = %v, want within lockout duration", d.RetryAfter)
	}

	// The lockout expires on its own.
	clock.Advance(DefaultLockoutDuration + time.Second)
	if d := m.CheckSecurity(ctx, "login", "x", Context{UserID: "user-1"}); d.Denied() {
		t.Errorf("request after lockout expiry denied: %v", d.Reasons)
	}
}

func TestManager_CheckSecurity_WritesAuditRecord(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	ctx := context.Background()

	m.CheckSecurity(ctx, "search", "clean payload", Context{UserID: "user-1"})
	m.CheckSecurity(ctx, "search", map[string]any{"q": "1; DROP TABLE users"}, Context{UserID: "user-2"})

	events, err := m.Audit().Query(ctx, audit.Filter{Type: audit.TypeSecurityEvent})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("audit has %d security events, want 2 (one per check)", len(events))
	}

	// Newest first: the denied check.
	if events[0].Result != audit.ResultFailure {
		t.Errorf("denied check recorded as %q, want failure", events[0].Result)
	}
	if events[1].Result != audit.ResultSuccess {
		t.Errorf("allowed check recorded as %q, want success", events[1].Result)
	}
	for _, e := range events {
		if !m.Audit().VerifyEvent(e) {
			t.Errorf("audit record %s failed digest verification", e.ID)
		}
	}
}

func TestManager_CheckSecurity_FailsClosedOnPanic(t *testing.T) {
	m, _ := newTestManager(t, Config{})

	// Corrupt the policy after validation so the limiter panics mid-check.
	m.cfg.RateLimit.Policy = ratelimit.Policy{}

	d := m.CheckSecurity(context.Background(), "search", "x", Context{UserID: "user-1"})
	if !d.Denied() {
		t.Fatal("check that panicked was allowed")
	}
	if len(d.Reasons) != 1 || d.Reasons[0] != ReasonCheckError {
		t.Errorf("Reasons = %v, want [%q]", d.Reasons, ReasonCheckError)
	}

	// The failure still leaves an audit trail.
	events, err := m.Audit().Query(context.Background(), audit.Filter{Type: audit.TypeSecurityEvent})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("audit has %d security events, want 1", len(events))
	}
	if _, ok := events[0].Details["panic"]; !ok {
		t.Error("audit record missing panic detail")
	}
}

func TestManager_Lockout_ThresholdAndReset(t *testing.T) {
	m, clock := newTestManager(t, Config{})

	for i := 1; i < DefaultLockoutThreshold; i++ {
		locked, attempts := m.RecordFailedAttempt("user-1")
		if locked {
			t.Fatalf("locked after %d attempts, threshold is %d", i, DefaultLockoutThreshold)
		}
		if attempts != i {
			t.Errorf("attempts = %d, want %d", attempts, i)
		}
	}

	locked, attempts := m.RecordFailedAttempt("user-1")
	if !locked || attempts != DefaultLockoutThreshold {
		t.Fatalf("RecordFailedAttempt() = (%v, %d), want locked at threshold", locked, attempts)
	}

	isLocked, remaining := m.IsLocked("user-1")
	if !isLocked || remaining <= 0 {
		t.Fatalf("IsLocked() = (%v, %v), want locked with time remaining", isLocked, remaining)
	}

	// Expiry clears the lockout and restarts the counter.
	clock.Advance(DefaultLockoutDuration + time.Second)
	if isLocked, _ := m.IsLocked("user-1"); isLocked {
		t.Fatal("lockout did not expire")
	}
	if locked, attempts := m.RecordFailedAttempt("user-1"); locked || attempts != 1 {
		t.Errorf("RecordFailedAttempt() after expiry = (%v, %d), want fresh counter", locked, attempts)
	}
}

func TestManager_Lockout_ExpiryResetsCounterWithoutRead(t *testing.T) {
	m, clock := newTestManager(t, Config{})

	for i := 0; i < DefaultLockoutThreshold; i++ {
		m.RecordFailedAttempt("user-1")
	}
	clock.Advance(DefaultLockoutDuration + time.Minute)

	// The first failure after expiry must start a fresh counter even when
	// nothing read or swept the stale record in between.
	if locked, attempts := m.RecordFailedAttempt("user-1"); locked || attempts != 1 {
		t.Fatalf("RecordFailedAttempt() after expiry = (%v, %d), want (false, 1)", locked, attempts)
	}
	if isLocked, _ := m.IsLocked("user-1"); isLocked {
		t.Error("account locked after a single post-expiry failure")
	}
}

func TestManager_Lockout_ExplicitReset(t *testing.T) {
	m, _ := newTestManager(t, Config{})

	for i := 0; i < DefaultLockoutThreshold; i++ {
		m.RecordFailedAttempt("user-1")
	}
	m.ResetFailedAttempts("user-1")

	if isLocked, _ := m.IsLocked("user-1"); isLocked {
		t.Error("account still locked after reset")
	}
	if locked, attempts := m.RecordFailedAttempt("user-1"); locked || attempts != 1 {
		t.Errorf("RecordFailedAttempt() after reset = (%v, %d), want fresh counter", locked, attempts)
	}
}

func TestManager_Sessions_Lifecycle(t *testing.T) {
	m, _ := newTestManager(t, Config{})

	s := m.CreateSession("user-1", "203.0.113.7", []string{"read"})
	if s.ID == "" {
		t.Fatal("session has no ID")
	}
	if m.ActiveSessions() != 1 {
		t.Errorf("ActiveSessions() = %d, want 1", m.ActiveSessions())
	}

	got, ok := m.ValidateSession(s.ID)
	if !ok {
		t.Fatal("fresh session not valid")
	}
	if got.UserID != "user-1" {
		t.Errorf("UserID = %q, want user-1", got.UserID)
	}

	if !m.DestroySession(s.ID) {
		t.Error("DestroySession() of live session = false")
	}
	if m.DestroySession(s.ID) {
		t.Error("DestroySession() of absent session = true")
	}
	if _, ok := m.ValidateSession(s.ID); ok {
		t.Error("destroyed session still valid")
	}
}

func TestManager_Sessions_IdleExpiry(t *testing.T) {
	m, clock := newTestManager(t, Config{
		Session: SessionConfig{Timeout: 10 * time.Minute},
	})

	s := m.CreateSession("user-1", "", nil)

	// Activity within the timeout keeps the session alive indefinitely.
	for i := 0; i < 3; i++ {
		clock.Advance(9 * time.Minute)
		if _, ok := m.ValidateSession(s.ID); !ok {
			t.Fatalf("session expired despite activity (round %d)", i+1)
		}
	}

	clock.Advance(11 * time.Minute)
	if _, ok := m.ValidateSession(s.ID); ok {
		t.Fatal("idle session not expired")
	}
	if m.ActiveSessions() != 0 {
		t.Errorf("ActiveSessions() = %d after lazy expiry, want 0", m.ActiveSessions())
	}
}

func TestManager_Sessions_SweepRemovesExpired(t *testing.T) {
	m, clock := newTestManager(t, Config{
		Session: SessionConfig{Timeout: 10 * time.Minute},
	})

	m.CreateSession("user-1", "", nil)
	m.CreateSession("user-2", "", nil)
	clock.Advance(11 * time.Minute)
	live := m.CreateSession("user-3", "", nil)

	m.sweep()

	if m.ActiveSessions() != 1 {
		t.Fatalf("ActiveSessions() = %d after sweep, want 1", m.ActiveSessions())
	}
	if _, ok := m.ValidateSession(live.ID); !ok {
		t.Error("live session removed by sweep")
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"negative lockout duration", Config{Lockout: LockoutConfig{Duration: -time.Minute}}},
		{"negative session timeout", Config{Session: SessionConfig{Timeout: -time.Minute}}},
		{"negative rate window", Config{RateLimit: RateLimitConfig{
			Policy: ratelimit.Policy{MaxRequests: 10, Window: -time.Minute},
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("New() accepted invalid config")
			}
		})
	}
}

func TestManager_Close_Idempotent(t *testing.T) {
	m, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
