// Package audit provides a buffered, periodically flushed, tamper-evident
// append-only event log with query, reporting, export, and offline
// integrity verification.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelhq/sentinel/instrumentation"
)

const (
	// DefaultFlushInterval is how often the buffer is drained to the sink.
	DefaultFlushInterval = 5 * time.Second

	// DefaultRetention is how long flushed records are kept before purge.
	DefaultRetention = 90 * 24 * time.Hour

	// DefaultPurgeInterval is how often the retention sweep runs.
	DefaultPurgeInterval = time.Hour
)

// Config holds audit logger configuration.
type Config struct {
	// Sink is the persistent append target (required).
	Sink Sink

	// Logger is the structured logger for operational messages
	// (default: slog.Default()).
	Logger *slog.Logger

	// FlushInterval is the periodic flush cadence (default 5s).
	FlushInterval time.Duration

	// Retention is the age past which records are purged (default 90 days).
	// Set negative to disable the retention sweep.
	Retention time.Duration

	// PurgeInterval is the retention sweep cadence (default 1h).
	PurgeInterval time.Duration

	// DigestAlgorithm selects the integrity digest: "sha256" (default)
	// or "sha512".
	DigestAlgorithm string

	// Instrumentation enables metrics for event counts and flush timing
	// (optional).
	Instrumentation *instrumentation.Instrumentation
}

// Logger is a buffered, tamper-evident audit logger.
type Logger struct {
	mu  sync.Mutex
	buf []Event

	// flushMu serializes flushes so concurrent critical-event flushes
	// cannot reorder batches relative to each other.
	flushMu sync.Mutex

	sink      Sink
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
	algorithm string

	flushInterval time.Duration
	retention     time.Duration
	purgeInterval time.Duration

	metrics *instrumentation.Metrics

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewLogger creates an audit logger and starts its background flush loop.
// Callers must Close() it to flush remaining events and stop the loop.
func NewLogger(cfg Config) (*Logger, error) {
	if cfg.Sink == nil {
		return nil, fmt.Errorf("audit: sink is required")
	}
	switch cfg.DigestAlgorithm {
	case "", DigestSHA256, DigestSHA512:
	default:
		return nil, fmt.Errorf("audit: unsupported digest algorithm %q", cfg.DigestAlgorithm)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.Retention == 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.PurgeInterval <= 0 {
		cfg.PurgeInterval = DefaultPurgeInterval
	}
	algorithm := cfg.DigestAlgorithm
	if algorithm == "" {
		algorithm = DigestSHA256
	}

	l := &Logger{
		sink:          cfg.Sink,
		logger:        logger,
		now:           time.Now,
		newID:         uuid.NewString,
		algorithm:     algorithm,
		flushInterval: cfg.FlushInterval,
		retention:     cfg.Retention,
		purgeInterval: cfg.PurgeInterval,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	if cfg.Instrumentation != nil {
		l.metrics = cfg.Instrumentation.Metrics()
	}

	go l.flushLoop()

	return l, nil
}

// Log records one audit event. Missing fields are filled in: ID, Timestamp,
// Type (CUSTOM), Result (success), and the integrity digest. The completed
// event is returned for correlation.
//
// Log is fire-and-forget: the event is buffered and flushed by the
// background loop, except critical events which force an immediate
// synchronous flush of the whole buffer.
func (l *Logger) Log(e Event) Event {
	if e.ID == "" {
		e.ID = l.newID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now()
	}
	if e.Type == "" {
		e.Type = TypeCustom
	}
	if e.Result == "" {
		e.Result = ResultSuccess
	}

	digest, err := ComputeDigest(e, l.algorithm)
	if err != nil {
		// Unserializable details cannot be persisted; keep the event with
		// a note rather than dropping the record.
		l.logger.Error("audit event details not serializable", "event_id", e.ID, "error", err)
		e.Details = map[string]any{"serializationError": err.Error()}
		digest, _ = ComputeDigest(e, l.algorithm)
	}
	e.Digest = digest

	l.mu.Lock()
	l.buf = append(l.buf, e)
	l.mu.Unlock()

	if l.metrics != nil {
		l.metrics.AuditEventsTotal.Add(context.Background(), 1)
	}

	if e.IsCritical() {
		if err := l.Flush(context.Background()); err != nil {
			l.logger.Error("synchronous flush of critical audit event failed", "error", err)
		}
	}

	return e
}

// Flush drains the buffer to the sink as one ordered batch. On sink failure
// the batch is restored to the front of the buffer, preserving order, and
// the error is returned.
func (l *Logger) Flush(ctx context.Context) error {
	l.flushMu.Lock()
	defer l.flushMu.Unlock()

	l.mu.Lock()
	if len(l.buf) == 0 {
		l.mu.Unlock()
		return nil
	}
	batch := l.buf
	l.buf = nil
	l.mu.Unlock()

	start := time.Now()
	err := l.sink.Append(ctx, batch)
	if err != nil {
		// Re-queue ahead of anything logged during the failed write.
		l.mu.Lock()
		l.buf = append(batch, l.buf...)
		l.mu.Unlock()

		if l.metrics != nil {
			l.metrics.AuditFlushFailures.Add(ctx, 1)
		}
		return fmt.Errorf("audit flush failed, %d events re-queued: %w", len(batch), err)
	}

	if l.metrics != nil {
		l.metrics.AuditFlushDuration.Record(ctx,
			float64(time.Since(start).Microseconds())/1000.0)
	}

	return nil
}

// Buffered returns the number of unflushed events.
func (l *Logger) Buffered() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int64(len(l.buf))
}

// flushLoop drains the buffer periodically and runs the retention sweep.
func (l *Logger) flushLoop() {
	defer close(l.done)

	flush := time.NewTicker(l.flushInterval)
	defer flush.Stop()
	purge := time.NewTicker(l.purgeInterval)
	defer purge.Stop()

	for {
		select {
		case <-flush.C:
			if err := l.Flush(context.Background()); err != nil {
				l.logger.Warn("periodic audit flush failed", "error", err)
			}
		case <-purge.C:
			l.runPurge()
		case <-l.stop:
			return
		}
	}
}

// runPurge deletes records past the retention horizon.
func (l *Logger) runPurge() {
	if l.retention < 0 {
		return
	}
	cutoff := l.now().Add(-l.retention)
	removed, err := l.sink.Purge(context.Background(), cutoff)
	if err != nil {
		l.logger.Warn("audit retention purge failed", "error", err)
		return
	}
	if removed > 0 {
		l.logger.Info("audit retention purge completed",
			"removed", removed,
			"cutoff", cutoff)
	}
}

// Close stops the flush loop, drains remaining events synchronously, and
// closes the sink. Safe to call more than once.
func (l *Logger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.stop)
		<-l.done

		if ferr := l.Flush(context.Background()); ferr != nil {
			err = ferr
		}
		if cerr := l.sink.Close(); cerr != nil && err == nil {
			err = cerr
		}
	})
	return err
}

// SetNow overrides the logger's time source. Intended for tests.
func (l *Logger) SetNow(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}
