// Package storage defines interfaces for the persistent pieces of the
// sentinel library: the tokenization vault used by the secure data handler.
// The audit append target lives in the audit package as audit.Sink, next to
// its consumer.
//
// Backends include in-memory (development, testing, single-instance
// deployments) and Valkey (distributed deployments).
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrTokenNotFound is returned by Get for unknown or expired tokens.
// Callers must treat the two cases identically: an expired token is
// indistinguishable from one that never existed.
var ErrTokenNotFound = errors.New("token not found or expired")

// TokenVault stores raw values keyed by opaque tokens with a bounded
// lifetime. All methods accept context.Context for tracing and cancellation.
type TokenVault interface {
	// Put stores value under token for at most ttl.
	Put(ctx context.Context, token string, value []byte, ttl time.Duration) error

	// Get returns the value for token, or ErrTokenNotFound.
	Get(ctx context.Context, token string) ([]byte, error)

	// Delete removes the token immediately. Deleting an absent token is
	// not an error.
	Delete(ctx context.Context, token string) error

	// Size returns the number of live entries, for monitoring.
	Size() int64

	// Close releases backend resources.
	Close() error
}
