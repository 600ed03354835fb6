package audit

import (
	"context"
	"time"
)

// Filter narrows a query over the append target. Zero fields match
// everything; Limit == 0 means unlimited.
type Filter struct {
	Type   EventType
	UserID string
	Result Result
	From   time.Time
	To     time.Time
	Limit  int
}

// Matches reports whether the event satisfies the filter, ignoring Limit.
func (f Filter) Matches(e Event) bool {
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.Result != "" && e.Result != f.Result {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	return true
}

// Sink is the persistent append target for audit events.
//
// Implementations must append batches atomically and in order: either the
// whole batch is durable or the error return lets the logger re-queue it.
// Query iterates most-recent segment first and may stop early once
// Filter.Limit is satisfied.
type Sink interface {
	// Append writes events as one ordered batch.
	Append(ctx context.Context, events []Event) error

	// Query returns events matching the filter, newest first.
	Query(ctx context.Context, f Filter) ([]Event, error)

	// Purge deletes records older than the cutoff from the append target
	// entirely and returns the number of records removed.
	Purge(ctx context.Context, olderThan time.Time) (int, error)

	// Close releases any underlying resources.
	Close() error
}
