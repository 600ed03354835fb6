package sentinel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelhq/sentinel/anomaly"
	"github.com/sentinelhq/sentinel/audit"
	"github.com/sentinelhq/sentinel/instrumentation"
	"github.com/sentinelhq/sentinel/ratelimit"
	"github.com/sentinelhq/sentinel/storage/memory"
)

// Manager orchestrates the security subsystem: lockout, rate limiting,
// anomaly detection, audit logging, and session tracking behind a single
// CheckSecurity entry point.
type Manager struct {
	cfg      Config
	limiter  *ratelimit.Limiter
	detector *anomaly.Detector
	auditLog *audit.Logger
	metrics  *instrumentation.Metrics

	// ownsAudit is set when New built the audit logger itself; Close
	// only closes what it created.
	ownsAudit bool

	mu       sync.Mutex
	sessions map[string]*Session
	lockouts map[string]*lockoutRecord
	now      func() time.Time
	newID    func() string

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Manager from cfg, filling defaults and building any
// component left nil. Callers must Close() it.
func New(cfg Config) (*Manager, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:      cfg,
		detector: cfg.Detector,
		auditLog: cfg.Audit,
		sessions: make(map[string]*Session),
		lockouts: make(map[string]*lockoutRecord),
		now:      time.Now,
		newID:    uuid.NewString,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	if cfg.RateLimit.SweepInterval > 0 {
		m.limiter = ratelimit.NewWithInterval(cfg.RateLimit.SweepInterval, cfg.Logger)
	} else {
		m.limiter = ratelimit.New(cfg.Logger)
	}
	if m.detector == nil {
		m.detector = anomaly.New(cfg.Logger)
	}
	if m.auditLog == nil {
		log, err := audit.NewLogger(audit.Config{
			Sink:            memory.NewSink(),
			Logger:          cfg.Logger,
			Instrumentation: cfg.Instrumentation,
		})
		if err != nil {
			m.limiter.Stop()
			return nil, fmt.Errorf("failed to create audit logger: %w", err)
		}
		m.auditLog = log
		m.ownsAudit = true
	}

	if cfg.Instrumentation != nil {
		m.metrics = cfg.Instrumentation.Metrics()
		err := cfg.Instrumentation.RegisterStateSizeCallbacks(
			m.ActiveSessions,
			func() int64 { return m.limiter.Stats().TrackedWindows },
			m.auditLog.Buffered,
			nil,
		)
		if err != nil {
			cfg.Logger.Warn("failed to register state gauges", "error", err)
		}
	}

	go m.sweepLoop()
	return m, nil
}

// Audit exposes the manager's audit logger for direct event recording
// and querying.
func (m *Manager) Audit() *audit.Logger { return m.auditLog }

// Detector exposes the anomaly detector for pattern management.
func (m *Manager) Detector() *anomaly.Detector { return m.detector }

// RateLimiter exposes the request limiter.
func (m *Manager) RateLimiter() *ratelimit.Limiter { return m.limiter }

// CheckSecurity evaluates one operation against the lockout, rate limit,
// and anomaly stages in that order. Lockout and rate limit denials stop
// the pipeline; anomaly detection always runs every pattern. A single
// SECURITY_EVENT audit record is written regardless of outcome. A panic
// anywhere in the pipeline is recovered and converted to a denial.
func (m *Manager) CheckSecurity(ctx context.Context, operation string, data any, reqCtx Context) (d Decision) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			m.cfg.Logger.Error("security check failed, denying",
				"operation", operation, "panic", fmt.Sprint(r))
			d = Decision{
				Allowed: false,
				Reasons: []string{ReasonCheckError},
				Actions: []string{string(anomaly.ActionBlock)},
			}
			m.auditDecision(operation, reqCtx, d, map[string]any{
				"panic": fmt.Sprint(r),
			})
			m.metrics.RecordDenial(ctx, ReasonCheckError)
			m.metrics.RecordCheck(ctx, operation, false, time.Since(start))
		}
	}()

	d.Allowed = true

	// Stage 1: lockout.
	if reqCtx.UserID != "" {
		if locked, remaining := m.IsLocked(reqCtx.UserID); locked {
			d.Allowed = false
			d.Reasons = append(d.Reasons, ReasonAccountLocked)
			d.Actions = []string{string(anomaly.ActionBlock)}
			d.RetryAfter = remaining
			m.auditDecision(operation, reqCtx, d, nil)
			m.metrics.RecordDenial(ctx, ReasonAccountLocked)
			m.metrics.RecordCheck(ctx, operation, false, time.Since(start))
			return d
		}
	}

	// Stage 2: rate limit, keyed by user, then network address, then a
	// shared anonymous bucket.
	rateKey := reqCtx.UserID
	if rateKey == "" {
		rateKey = reqCtx.NetworkAddress
	}
	if rateKey == "" {
		rateKey = "anonymous"
	}
	res := m.limiter.Check("op", rateKey, m.cfg.RateLimit.Policy)
	if !res.Allowed {
		d.Allowed = false
		d.Reasons = append(d.Reasons, ReasonRateLimited)
		d.Actions = []string{string(anomaly.ActionRateLimit)}
		d.RetryAfter = res.RetryAfter
		m.auditDecision(operation, reqCtx, d, map[string]any{
			"limit":   res.Limit,
			"rateKey": rateKey,
		})
		m.metrics.RecordRateLimitExceeded(ctx)
		m.metrics.RecordDenial(ctx, ReasonRateLimited)
		m.metrics.RecordCheck(ctx, operation, false, time.Since(start))
		return d
	}

	// Stage 3: anomaly detection. Every pattern runs; any event with a
	// block action denies, but all matches contribute reasons.
	events := m.detector.Check(data, anomaly.Context{
		UserID:         reqCtx.UserID,
		SessionID:      reqCtx.SessionID,
		NetworkAddress: reqCtx.NetworkAddress,
		UserAgent:      reqCtx.UserAgent,
	})
	for _, e := range events {
		d.Reasons = append(d.Reasons, "anomaly detected: "+e.PatternName)
		for _, a := range e.Actions {
			d.Actions = appendUnique(d.Actions, string(a))
		}
		if e.HasAction(anomaly.ActionBlock) {
			d.Allowed = false
		}
		m.metrics.RecordAnomaly(ctx, e.PatternID, string(e.Severity))
	}
	if !d.Allowed {
		m.metrics.RecordDenial(ctx, "anomaly")
	}

	m.auditDecision(operation, reqCtx, d, nil)
	m.metrics.RecordCheck(ctx, operation, d.Allowed, time.Since(start))
	return d
}

// auditDecision records the outcome of one security check.
func (m *Manager) auditDecision(operation string, reqCtx Context, d Decision, extra map[string]any) {
	details := map[string]any{"allowed": d.Allowed}
	if len(d.Reasons) > 0 {
		details["reasons"] = d.Reasons
	}
	if len(d.Actions) > 0 {
		details["actions"] = d.Actions
	}
	for k, v := range extra {
		details[k] = v
	}

	result := audit.ResultSuccess
	if !d.Allowed {
		result = audit.ResultFailure
	}
	m.auditLog.Log(audit.Event{
		Type:           audit.TypeSecurityEvent,
		UserID:         reqCtx.UserID,
		SessionID:      reqCtx.SessionID,
		NetworkAddress: reqCtx.NetworkAddress,
		Action:         operation,
		Result:         result,
		Details:        details,
	})
}

func (m *Manager) sweepLoop() {
	defer close(m.done)
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stop:
			return
		}
	}
}

// sweep drops expired sessions and cleared lockouts.
func (m *Manager) sweep() {
	m.mu.Lock()
	now := m.now()
	expired := 0
	for id, s := range m.sessions {
		if now.Sub(s.LastActivity) > m.cfg.Session.Timeout {
			delete(m.sessions, id)
			expired++
		}
	}
	for userID, rec := range m.lockouts {
		if !rec.lockedUntil.IsZero() && now.After(rec.lockedUntil) {
			delete(m.lockouts, userID)
		}
	}
	m.mu.Unlock()

	if expired > 0 {
		m.cfg.Logger.Debug("expired idle sessions", "count", expired)
		if m.metrics != nil {
			m.metrics.SessionsExpired.Add(context.Background(), int64(expired))
		}
	}
}

// Close stops background loops and closes the components the manager
// owns. The audit logger is closed only when New created it.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.stop)
		<-m.done
		m.limiter.Stop()
		if m.ownsAudit {
			err = m.auditLog.Close()
		}
	})
	return err
}

// SetNow overrides the clock for tests. It also rewires the limiter and
// detector so the whole pipeline shares one clock.
func (m *Manager) SetNow(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
	m.limiter.SetNow(now)
	m.detector.SetNow(now)
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
