// Package memory provides in-memory implementations of the storage
// interfaces and the audit sink. It is suitable for development, testing,
// and single-instance deployments.
package memory

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sentinelhq/sentinel/audit"
	"github.com/sentinelhq/sentinel/storage"
)

// DefaultSweepInterval is how often expired vault entries are removed.
const DefaultSweepInterval = time.Minute

// ErrAppendFailed is returned by Sink.Append while FailAppends > 0.
var ErrAppendFailed = errors.New("append failed")

// vaultEntry is one stored value with its expiry.
type vaultEntry struct {
	value     []byte
	expiresAt time.Time
}

// Vault is an in-memory TokenVault with a background expiry sweep.
type Vault struct {
	mu      sync.RWMutex
	entries map[string]vaultEntry

	now       func() time.Time
	logger    *slog.Logger
	stopSweep chan struct{}
	stopOnce  sync.Once
}

var _ storage.TokenVault = (*Vault)(nil)

// NewVault creates an in-memory vault with the default sweep interval.
func NewVault(logger *slog.Logger) *Vault {
	return NewVaultWithInterval(DefaultSweepInterval, logger)
}

// NewVaultWithInterval creates an in-memory vault with a custom sweep
// interval. If sweepInterval is zero or negative, the default is used.
func NewVaultWithInterval(sweepInterval time.Duration, logger *slog.Logger) *Vault {
	if logger == nil {
		logger = slog.Default()
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}

	v := &Vault{
		entries:   make(map[string]vaultEntry),
		now:       time.Now,
		logger:    logger,
		stopSweep: make(chan struct{}),
	}

	go v.sweepLoop(sweepInterval)

	return v
}

// Put stores value under token for at most ttl.
func (v *Vault) Put(ctx context.Context, token string, value []byte, ttl time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	v.mu.Lock()
	defer v.mu.Unlock()
	v.entries[token] = vaultEntry{value: stored, expiresAt: v.now().Add(ttl)}
	return nil
}

// Get returns the value for token. Expired entries are removed lazily and
// reported as not found, exactly like absent ones.
func (v *Vault) Get(ctx context.Context, token string) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	e, ok := v.entries[token]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	if !v.now().Before(e.expiresAt) {
		delete(v.entries, token)
		return nil, storage.ErrTokenNotFound
	}

	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

// Delete removes the token immediately.
func (v *Vault) Delete(ctx context.Context, token string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.entries, token)
	return nil
}

// Size returns the number of live entries.
func (v *Vault) Size() int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return int64(len(v.entries))
}

// Sweep removes expired entries and returns how many were removed.
func (v *Vault) Sweep() int {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.now()
	removed := 0
	for token, e := range v.entries {
		if !now.Before(e.expiresAt) {
			delete(v.entries, token)
			removed++
		}
	}
	if removed > 0 {
		v.logger.Debug("vault sweep completed", "removed", removed, "remaining", len(v.entries))
	}
	return removed
}

func (v *Vault) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			v.Sweep()
		case <-v.stopSweep:
			return
		}
	}
}

// Close stops the sweep goroutine. Safe to call more than once.
func (v *Vault) Close() error {
	v.stopOnce.Do(func() {
		close(v.stopSweep)
	})
	return nil
}

// SetNow overrides the vault's time source. Intended for tests.
func (v *Vault) SetNow(now func() time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.now = now
}

// Sink is an in-memory audit sink. Records are held in arrival order.
type Sink struct {
	mu     sync.RWMutex
	events []audit.Event

	// FailAppends makes Append return an error while > 0, decrementing
	// per call. Used by tests to exercise the logger's re-queue path.
	FailAppends int
}

var _ audit.Sink = (*Sink)(nil)

// NewSink creates an empty in-memory audit sink.
func NewSink() *Sink {
	return &Sink{}
}

// Append stores the batch in arrival order.
func (s *Sink) Append(ctx context.Context, events []audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailAppends > 0 {
		s.FailAppends--
		return ErrAppendFailed
	}

	s.events = append(s.events, events...)
	return nil
}

// Query returns matching events newest first, honoring f.Limit.
func (s *Sink) Query(ctx context.Context, f audit.Filter) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []audit.Event
	for i := len(s.events) - 1; i >= 0; i-- {
		e := s.events[i]
		if !f.Matches(e) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

// Purge removes records older than the cutoff.
func (s *Sink) Purge(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	removed := 0
	for _, e := range s.events {
		if e.Timestamp.Before(olderThan) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	return removed, nil
}

// All returns a copy of every stored event in arrival order.
func (s *Sink) All() []audit.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]audit.Event, len(s.events))
	copy(out, s.events)
	return out
}

// Close is a no-op for the in-memory sink.
func (s *Sink) Close() error {
	return nil
}
