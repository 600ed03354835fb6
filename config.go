package sentinel

import (
	"log/slog"
	"time"

	"github.com/sentinelhq/sentinel/anomaly"
	"github.com/sentinelhq/sentinel/audit"
	"github.com/sentinelhq/sentinel/instrumentation"
	"github.com/sentinelhq/sentinel/ratelimit"
)

const (
	// DefaultLockoutThreshold is the failed-attempt count that locks an
	// account.
	DefaultLockoutThreshold = 5

	// DefaultLockoutDuration is how long a locked account stays locked.
	DefaultLockoutDuration = 15 * time.Minute

	// DefaultSessionTimeout is the idle timeout after which a session
	// expires.
	DefaultSessionTimeout = 30 * time.Minute

	// DefaultSweepInterval is how often expired sessions and lockouts
	// are swept.
	DefaultSweepInterval = time.Minute
)

// RateLimitConfig configures the per-caller request limiter.
type RateLimitConfig struct {
	// Policy applied to every CheckSecurity call. Defaults to
	// ratelimit.Normal.
	Policy ratelimit.Policy

	// SweepInterval for expired rate windows. Defaults to the limiter's
	// own default.
	SweepInterval time.Duration
}

// LockoutConfig configures failed-authentication lockout.
type LockoutConfig struct {
	// Threshold is the failed-attempt count that triggers a lockout.
	// Defaults to DefaultLockoutThreshold.
	Threshold int

	// Duration of a lockout. Defaults to DefaultLockoutDuration.
	Duration time.Duration
}

// SessionConfig configures session tracking.
type SessionConfig struct {
	// Timeout is the idle timeout. Defaults to DefaultSessionTimeout.
	Timeout time.Duration
}

// Config configures a Manager. The zero value is usable; New fills in
// defaults and builds any component left nil.
type Config struct {
	// Logger for operational messages. Defaults to slog.Default().
	Logger *slog.Logger

	RateLimit RateLimitConfig
	Lockout   LockoutConfig
	Session   SessionConfig

	// SweepInterval for expired sessions and lockouts. Defaults to
	// DefaultSweepInterval.
	SweepInterval time.Duration

	// Detector evaluates request payloads for anomalies. Defaults to a
	// detector with the built-in patterns.
	Detector *anomaly.Detector

	// Audit receives the security trail. When nil, New builds a logger
	// over an in-memory sink and owns its lifecycle.
	Audit *audit.Logger

	// Instrumentation is optional. When nil, metrics are no-ops.
	Instrumentation *instrumentation.Instrumentation
}

func (c *Config) applyDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.RateLimit.Policy == (ratelimit.Policy{}) {
		c.RateLimit.Policy = ratelimit.Normal
	}
	if c.Lockout.Threshold == 0 {
		c.Lockout.Threshold = DefaultLockoutThreshold
	}
	if c.Lockout.Duration == 0 {
		c.Lockout.Duration = DefaultLockoutDuration
	}
	if c.Session.Timeout == 0 {
		c.Session.Timeout = DefaultSessionTimeout
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = DefaultSweepInterval
	}
}

// Validate reports configuration faults after defaults are applied.
func (c *Config) Validate() error {
	if c.RateLimit.Policy.MaxRequests <= 0 || c.RateLimit.Policy.Window <= 0 {
		return NewConfigurationFault("rate limit policy requires positive MaxRequests and Window")
	}
	if c.Lockout.Threshold < 0 {
		return NewConfigurationFault("lockout threshold must not be negative")
	}
	if c.Lockout.Duration < 0 {
		return NewConfigurationFault("lockout duration must not be negative")
	}
	if c.Session.Timeout < 0 {
		return NewConfigurationFault("session timeout must not be negative")
	}
	return nil
}
