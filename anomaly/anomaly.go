// Package anomaly provides a registry of named detection rules evaluated
// against arbitrary payloads.
//
// The detector only classifies and recommends: a matching pattern yields an
// Event carrying severity and an ordered action set, but nothing here blocks
// a request. Enforcement belongs to the orchestrating caller, which decides
// whether a "block" action denies the operation.
package anomaly

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Severity classifies how serious a pattern match is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Action is a recommended response to a pattern match. Only "log" is acted
// on inside the detector; the rest are signals for the caller.
type Action string

const (
	ActionLog       Action = "log"
	ActionAlert     Action = "alert"
	ActionBlock     Action = "block"
	ActionRateLimit Action = "rateLimit"
	ActionNotify    Action = "notify"
)

// Context carries caller identity alongside the payload under inspection.
type Context struct {
	UserID         string
	SessionID      string
	NetworkAddress string
	UserAgent      string
}

// Sample is the evaluated form of one payload. It is built once per Check
// call so every pattern sees the same serialization and timestamp.
type Sample struct {
	// Raw is the original payload.
	Raw any

	// Serialized is the JSON serialization of Raw (or the string itself
	// for string payloads).
	Serialized string

	// Lowered is Serialized lowercased, for case-insensitive matching.
	Lowered string

	// Size is len(Serialized) in bytes.
	Size int

	// Time is the detector's clock reading when the sample was built.
	Time time.Time

	// Context is the caller identity.
	Context Context
}

// Field returns a numeric field from a map payload, if present.
// Non-map payloads and non-numeric values yield (0, false).
func (s *Sample) Field(name string) (float64, bool) {
	m, ok := s.Raw.(map[string]any)
	if !ok {
		return 0, false
	}
	switch v := m[name].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// DetectFunc reports whether a sample matches a pattern. Detectors must be
// pure and must not block; a panicking detector is recovered and skipped.
type DetectFunc func(s *Sample) bool

// Pattern is one named detection rule.
type Pattern struct {
	ID       string
	Name     string
	Severity Severity
	Actions  []Action
	Detect   DetectFunc
}

// NewPattern builds a custom pattern around an arbitrary predicate.
// Built-in rules live in patterns.go; this is the extension point.
func NewPattern(id, name string, severity Severity, actions []Action, detect DetectFunc) Pattern {
	return Pattern{ID: id, Name: name, Severity: severity, Actions: actions, Detect: detect}
}

// Event records one pattern match. Events are never mutated after creation.
type Event struct {
	ID          string
	Timestamp   time.Time
	PatternID   string
	PatternName string
	Severity    Severity
	Actions     []Action
	Payload     string // truncated serialized snapshot
	Context     Context
}

// HasAction reports whether the event's action set contains a.
func (e Event) HasAction(a Action) bool {
	for _, v := range e.Actions {
		if v == a {
			return true
		}
	}
	return false
}

const (
	// recentEventsSize is the ring buffer capacity for recent events.
	recentEventsSize = 100

	// payloadSnapshotLimit bounds the serialized payload stored per event.
	payloadSnapshotLimit = 512
)

// Stats is a snapshot of detector counters.
type Stats struct {
	TotalDetected int64
	BySeverity    map[Severity]int64
	ByPattern     map[string]int64
}

// Detector evaluates registered patterns against payloads.
type Detector struct {
	mu       sync.RWMutex
	patterns []Pattern

	logger *slog.Logger
	now    func() time.Time

	// warnThrottle bounds log volume from a persistently panicking rule.
	warnThrottle rate.Sometimes

	totalDetected int64
	bySeverity    map[Severity]int64
	byPattern     map[string]int64
	recent        []Event // ring buffer, recentHead is the next write slot
	recentHead    int
	recentCount   int
}

// New creates a detector preloaded with the built-in patterns.
func New(logger *slog.Logger) *Detector {
	d := NewEmpty(logger)
	for _, p := range BuiltinPatterns() {
		d.patterns = append(d.patterns, p)
	}
	return d
}

// NewEmpty creates a detector with no patterns registered.
func NewEmpty(logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		logger:       logger,
		now:          time.Now,
		warnThrottle: rate.Sometimes{First: 5, Interval: time.Minute},
		bySeverity:   make(map[Severity]int64),
		byPattern:    make(map[string]int64),
		recent:       make([]Event, recentEventsSize),
	}
}

// AddPattern registers a pattern. A pattern with a duplicate ID replaces the
// existing one in place, preserving evaluation order.
func (d *Detector) AddPattern(p Pattern) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, existing := range d.patterns {
		if existing.ID == p.ID {
			d.patterns[i] = p
			return
		}
	}
	d.patterns = append(d.patterns, p)
}

// RemovePattern unregisters the pattern with the given ID.
func (d *Detector) RemovePattern(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, p := range d.patterns {
		if p.ID == id {
			d.patterns = append(d.patterns[:i], d.patterns[i+1:]...)
			return true
		}
	}
	return false
}

// Patterns returns the IDs of all registered patterns in evaluation order.
func (d *Detector) Patterns() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, len(d.patterns))
	for i, p := range d.patterns {
		ids[i] = p.ID
	}
	return ids
}

// Check evaluates every registered pattern against payload and returns one
// event per match. Evaluation is not short-circuited: all patterns run, and
// a failing pattern never masks detections from the others.
func (d *Detector) Check(payload any, ctx Context) []Event {
	sample := d.buildSample(payload, ctx)

	d.mu.RLock()
	patterns := make([]Pattern, len(d.patterns))
	copy(patterns, d.patterns)
	d.mu.RUnlock()

	var events []Event
	for _, p := range patterns {
		if !d.evaluate(p, sample) {
			continue
		}

		e := Event{
			ID:          uuid.NewString(),
			Timestamp:   sample.Time,
			PatternID:   p.ID,
			PatternName: p.Name,
			Severity:    p.Severity,
			Actions:     p.Actions,
			Payload:     truncate(sample.Serialized, payloadSnapshotLimit),
			Context:     ctx,
		}
		events = append(events, e)

		d.record(e)
		d.applyActions(e)
	}

	return events
}

// evaluate runs one detector with panic isolation.
func (d *Detector) evaluate(p Pattern, s *Sample) (matched bool) {
	defer func() {
		if r := recover(); r != nil {
			matched = false
			d.warnThrottle.Do(func() {
				d.logger.Warn("anomaly rule panicked, skipping",
					"pattern", p.ID,
					"panic", fmt.Sprint(r))
			})
		}
	}()
	return p.Detect(s)
}

// applyActions executes the detector-side actions in declaration order.
// Only "log" has an effect here; everything else is the caller's signal.
func (d *Detector) applyActions(e Event) {
	for _, a := range e.Actions {
		if a == ActionLog {
			d.logger.Warn("anomaly detected",
				"pattern", e.PatternID,
				"severity", string(e.Severity),
				"user_id", e.Context.UserID,
				"network_address", e.Context.NetworkAddress)
		}
	}
}

// record updates running statistics and the recent-events ring buffer.
func (d *Detector) record(e Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.totalDetected++
	d.bySeverity[e.Severity]++
	d.byPattern[e.PatternID]++

	d.recent[d.recentHead] = e
	d.recentHead = (d.recentHead + 1) % recentEventsSize
	if d.recentCount < recentEventsSize {
		d.recentCount++
	}
}

// Stats returns a snapshot of the running counters.
func (d *Detector) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s := Stats{
		TotalDetected: d.totalDetected,
		BySeverity:    make(map[Severity]int64, len(d.bySeverity)),
		ByPattern:     make(map[string]int64, len(d.byPattern)),
	}
	for k, v := range d.bySeverity {
		s.BySeverity[k] = v
	}
	for k, v := range d.byPattern {
		s.ByPattern[k] = v
	}
	return s
}

// Recent returns up to n of the most recent events, newest first.
func (d *Detector) Recent(n int) []Event {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if n <= 0 || n > d.recentCount {
		n = d.recentCount
	}

	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		idx := (d.recentHead - 1 - i + recentEventsSize*2) % recentEventsSize
		out = append(out, d.recent[idx])
	}
	return out
}

// SetNow overrides the detector's time source. Intended for tests.
func (d *Detector) SetNow(now func() time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now = now
}

// buildSample serializes the payload once for all patterns.
func (d *Detector) buildSample(payload any, ctx Context) *Sample {
	d.mu.RLock()
	now := d.now()
	d.mu.RUnlock()

	var serialized string
	switch v := payload.(type) {
	case string:
		serialized = v
	case []byte:
		serialized = string(v)
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			serialized = fmt.Sprint(payload)
		} else {
			serialized = string(b)
		}
	}

	return &Sample{
		Raw:        payload,
		Serialized: serialized,
		Lowered:    strings.ToLower(serialized),
		Size:       len(serialized),
		Time:       now,
		Context:    ctx,
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
