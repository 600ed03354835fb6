package sentinel

import (
	"context"
	"time"

	"github.com/sentinelhq/sentinel/audit"
)

// lockoutRecord tracks failed authentication attempts for one user.
type lockoutRecord struct {
	failedAttempts int
	lockedUntil    time.Time
}

// RecordFailedAttempt counts one failed authentication for userID and
// locks the account when the configured threshold is reached. Returns
// whether the account is now locked and the current attempt count.
func (m *Manager) RecordFailedAttempt(userID string) (locked bool, attempts int) {
	m.mu.Lock()
	rec, ok := m.lockouts[userID]
	if !ok {
		rec = &lockoutRecord{}
		m.lockouts[userID] = rec
	}
	now := m.now()
	if !rec.lockedUntil.IsZero() && !now.Before(rec.lockedUntil) {
		// The previous lockout expired, so the counter restarts.
		rec.failedAttempts = 0
		rec.lockedUntil = time.Time{}
	}
	rec.failedAttempts++
	attempts = rec.failedAttempts

	if rec.failedAttempts >= m.cfg.Lockout.Threshold && !now.Before(rec.lockedUntil) {
		rec.lockedUntil = now.Add(m.cfg.Lockout.Duration)
		locked = true
	}
	m.mu.Unlock()

	m.auditLog.Log(audit.Event{
		Type:   audit.TypeAuthentication,
		UserID: userID,
		Action: "authentication_attempt",
		Result: audit.ResultFailure,
		Details: map[string]any{
			"failedAttempts": attempts,
			"locked":         locked,
		},
	})

	if locked {
		m.cfg.Logger.Warn("account locked after repeated failures",
			"userId", userID, "attempts", attempts)
		if m.metrics != nil {
			m.metrics.AccountsLocked.Add(context.Background(), 1)
		}
	}
	return locked, attempts
}

// ResetFailedAttempts clears the failure counter and any active lockout
// for userID, typically after a successful authentication.
func (m *Manager) ResetFailedAttempts(userID string) {
	m.mu.Lock()
	delete(m.lockouts, userID)
	m.mu.Unlock()
}

// IsLocked reports whether userID is currently locked out and, if so,
// how long until the lockout expires. An expired lockout is cleared on
// the way through, so the failure counter restarts from zero.
func (m *Manager) IsLocked(userID string) (bool, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.lockouts[userID]
	if !ok || rec.lockedUntil.IsZero() {
		return false, 0
	}
	now := m.now()
	if now.Before(rec.lockedUntil) {
		return true, rec.lockedUntil.Sub(now)
	}
	delete(m.lockouts, userID)
	return false, 0
}
