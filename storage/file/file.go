// Package file provides a file-backed audit sink. Events are persisted as
// newline-delimited JSON, one object per line, in append-only segment files.
// The active segment is rotated once it exceeds a size threshold; retention
// deletes whole segments past the configured horizon.
package file

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sentinelhq/sentinel/audit"
)

const (
	// DefaultRotateSize is the segment size threshold for rotation.
	DefaultRotateSize = 10 << 20 // 10 MiB

	// segmentPrefix and segmentSuffix frame segment filenames; the middle
	// part is the rotation timestamp plus a per-sink sequence number.
	segmentPrefix = "audit-"
	segmentSuffix = ".log"

	// segmentTimeLayout is the rotation timestamp embedded in filenames.
	segmentTimeLayout = "20060102-150405.000"
)

// Config holds file sink configuration.
type Config struct {
	// Dir is the directory holding segment files (required, created if
	// missing).
	Dir string

	// RotateSize is the byte threshold past which the active segment is
	// rotated (default 10 MiB).
	RotateSize int64

	// Logger is the structured logger (default: slog.Default()).
	Logger *slog.Logger
}

// Sink is a file-backed audit sink.
type Sink struct {
	mu sync.Mutex

	dir        string
	rotateSize int64
	logger     *slog.Logger
	now        func() time.Time

	active     *os.File
	activeSize int64
	seq        uint64
}

var _ audit.Sink = (*Sink)(nil)

// New creates a file sink, opening a fresh active segment.
func New(cfg Config) (*Sink, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("file sink: dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("file sink: failed to create %s: %w", cfg.Dir, err)
	}
	if cfg.RotateSize <= 0 {
		cfg.RotateSize = DefaultRotateSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Sink{
		dir:        cfg.Dir,
		rotateSize: cfg.RotateSize,
		logger:     logger,
		now:        time.Now,
	}

	if err := s.openSegment(); err != nil {
		return nil, err
	}

	return s, nil
}

// openSegment opens a new timestamped active segment. The sequence number
// keeps names strictly increasing even when rotations share a timestamp.
// Must be called with the mutex held (or before the sink is shared).
func (s *Sink) openSegment() error {
	s.seq++
	name := fmt.Sprintf("%s%s-%06d%s",
		segmentPrefix, s.now().UTC().Format(segmentTimeLayout), s.seq, segmentSuffix)
	path := filepath.Join(s.dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("file sink: failed to open segment %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("file sink: failed to stat segment %s: %w", path, err)
	}

	s.active = f
	s.activeSize = info.Size()
	s.logger.Debug("opened audit segment", "segment", name)
	return nil
}

// rotate closes the active segment and opens a new one. Rotation only
// touches flushed data; buffered events live in the audit logger and are
// unaffected.
func (s *Sink) rotate() error {
	old := s.active.Name()
	if err := s.active.Close(); err != nil {
		return fmt.Errorf("file sink: failed to close segment %s: %w", old, err)
	}

	if err := s.openSegment(); err != nil {
		return err
	}
	s.logger.Info("rotated audit segment", "closed", filepath.Base(old))
	return nil
}

// Append writes events as one record per line in arrival order. The batch
// is atomic from the logger's perspective: any error leaves the logger free
// to re-queue the whole batch, and a partially written batch is overwritten
// territory only for the lines that made it to disk (duplicates are
// preferable to silent loss for an audit trail).
func (s *Sink) Append(ctx context.Context, events []audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		return fmt.Errorf("file sink: closed")
	}

	var buf strings.Builder
	for _, e := range events {
		b, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("file sink: failed to serialize event %s: %w", e.ID, err)
		}
		buf.Write(b)
		buf.WriteByte('\n')
	}

	n, err := s.active.WriteString(buf.String())
	s.activeSize += int64(n)
	if err != nil {
		return fmt.Errorf("file sink: write failed: %w", err)
	}
	if err := s.active.Sync(); err != nil {
		return fmt.Errorf("file sink: sync failed: %w", err)
	}

	if s.activeSize >= s.rotateSize {
		if err := s.rotate(); err != nil {
			// The write itself succeeded; rotation failure only delays
			// the size cap.
			s.logger.Error("audit segment rotation failed", "error", err)
		}
	}

	return nil
}

// segments returns all segment paths sorted newest first. The active
// segment sorts first because its timestamp and sequence are the latest.
// Must be called with the mutex held.
func (s *Sink) segments() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("file sink: failed to list %s: %w", s.dir, err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, segmentPrefix) || !strings.HasSuffix(name, segmentSuffix) {
			continue
		}
		names = append(names, name)
	}
	// Timestamped names sort lexically in chronological order.
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(s.dir, n)
	}
	return paths, nil
}

// Query scans segments newest first and returns matching events newest
// first. Once f.Limit is satisfied the remaining (older) segments are not
// read at all.
func (s *Sink) Query(ctx context.Context, f audit.Filter) ([]audit.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	paths, err := s.segments()
	if err != nil {
		return nil, err
	}

	var out []audit.Event
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		events, err := readSegment(path)
		if err != nil {
			return nil, err
		}

		// Within a segment records are in append order; reverse for
		// newest-first output.
		for i := len(events) - 1; i >= 0; i-- {
			e := events[i]
			if !f.Matches(e) {
				continue
			}
			out = append(out, e)
			if f.Limit > 0 && len(out) >= f.Limit {
				return out, nil
			}
		}
	}

	return out, nil
}

// readSegment parses one NDJSON segment file.
func readSegment(path string) ([]audit.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("file sink: failed to open %s: %w", path, err)
	}
	defer f.Close()

	var events []audit.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e audit.Event
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("file sink: corrupt record in %s: %w", filepath.Base(path), err)
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("file sink: failed to read %s: %w", path, err)
	}
	return events, nil
}

// Purge deletes whole segments whose newest record is older than the
// cutoff. The active segment is never deleted. Returns the number of
// records removed.
func (s *Sink) Purge(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	paths, err := s.segments()
	if err != nil {
		return 0, err
	}

	activePath := ""
	if s.active != nil {
		activePath = s.active.Name()
	}

	removed := 0
	for _, path := range paths {
		if path == activePath {
			continue
		}

		events, err := readSegment(path)
		if err != nil {
			return removed, err
		}

		expired := len(events) > 0
		for _, e := range events {
			if !e.Timestamp.Before(olderThan) {
				expired = false
				break
			}
		}
		if !expired {
			continue
		}

		if err := os.Remove(path); err != nil {
			return removed, fmt.Errorf("file sink: failed to remove %s: %w", path, err)
		}
		removed += len(events)
		s.logger.Info("purged audit segment",
			"segment", filepath.Base(path),
			"records", len(events))
	}

	return removed, nil
}

// Close closes the active segment.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		return nil
	}
	err := s.active.Close()
	s.active = nil
	return err
}

// SetNow overrides the sink's time source (segment naming). Intended for
// tests.
func (s *Sink) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}
