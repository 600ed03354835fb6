package sentinel

import "time"

// Context carries the caller identity attached to a security check. All
// fields are optional; an empty Context is treated as an anonymous
// request.
type Context struct {
	UserID         string
	SessionID      string
	NetworkAddress string
	UserAgent      string
	Permissions    []string
}

// Decision is the outcome of CheckSecurity. Reasons accumulate in check
// order up to the first categorical denial (lockout, then rate limit),
// after which later stages are skipped. Anomaly reasons all accumulate
// because detection never short-circuits.
type Decision struct {
	// Allowed reports whether the operation may proceed.
	Allowed bool

	// Reasons lists human-readable denial or flag reasons. Empty when
	// the check passed cleanly.
	Reasons []string

	// Actions lists the responses recommended by the stage that decided
	// the outcome, such as "block" or "rateLimit".
	Actions []string

	// RetryAfter is a hint for when a denied caller may retry. Zero
	// when the denial is not time-bounded.
	RetryAfter time.Duration
}

// Denied reports whether the decision blocks the operation.
func (d Decision) Denied() bool { return !d.Allowed }

// Session is an authenticated caller session tracked by the Manager.
// Values returned by session operations are copies; mutating them does
// not affect the tracked state.
type Session struct {
	ID             string
	UserID         string
	NetworkAddress string
	Permissions    []string
	CreatedAt      time.Time
	LastActivity   time.Time
}

// Decision reason strings. Tests and callers match on these values.
const (
	ReasonAccountLocked = "account locked"
	ReasonRateLimited   = "rate limit exceeded"
	ReasonCheckError    = "security check error"
)
