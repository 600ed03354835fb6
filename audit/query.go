package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Query returns flushed events matching the filter, newest first. Buffered
// events are flushed first so a query immediately after Log sees the event.
func (l *Logger) Query(ctx context.Context, f Filter) ([]Event, error) {
	if err := l.Flush(ctx); err != nil {
		return nil, err
	}
	return l.sink.Query(ctx, f)
}

// Report aggregates events in [from, to].
type Report struct {
	From       time.Time         `json:"from"`
	To         time.Time         `json:"to"`
	Total      int               `json:"total"`
	ByType     map[EventType]int `json:"byType"`
	ByResult   map[Result]int    `json:"byResult"`
	Failures   int               `json:"failures"`
	TopUsers   []CountedKey      `json:"topUsers"`
	TopActions []CountedKey      `json:"topActions"`
}

// CountedKey is one ranked aggregation entry.
type CountedKey struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

const reportTopN = 10

// GenerateReport aggregates all events in the time range.
func (l *Logger) GenerateReport(ctx context.Context, from, to time.Time) (*Report, error) {
	events, err := l.Query(ctx, Filter{From: from, To: to})
	if err != nil {
		return nil, err
	}

	r := &Report{
		From:     from,
		To:       to,
		Total:    len(events),
		ByType:   make(map[EventType]int),
		ByResult: make(map[Result]int),
	}
	users := make(map[string]int)
	actions := make(map[string]int)

	for _, e := range events {
		r.ByType[e.Type]++
		r.ByResult[e.Result]++
		if e.Result == ResultFailure || e.Result == ResultError {
			r.Failures++
		}
		if e.UserID != "" {
			users[e.UserID]++
		}
		if e.Action != "" {
			actions[e.Action]++
		}
	}

	r.TopUsers = topN(users, reportTopN)
	r.TopActions = topN(actions, reportTopN)

	return r, nil
}

func topN(m map[string]int, n int) []CountedKey {
	out := make([]CountedKey, 0, len(m))
	for k, v := range m {
		out = append(out, CountedKey{Key: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// Export formats. CSV uses a fixed column set; JSON is an array of events.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// csvColumns is the fixed CSV header, in order.
var csvColumns = []string{
	"id", "timestamp", "type", "userId", "action",
	"resource", "result", "networkAddress", "details",
}

// Export returns matching events serialized in the requested format.
func (l *Logger) Export(ctx context.Context, f Filter, format string) ([]byte, error) {
	events, err := l.Query(ctx, f)
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatJSON:
		return json.MarshalIndent(events, "", "  ")
	case FormatCSV:
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		if err := w.Write(csvColumns); err != nil {
			return nil, err
		}
		for _, e := range events {
			details := ""
			if len(e.Details) > 0 {
				b, err := json.Marshal(e.Details)
				if err != nil {
					return nil, fmt.Errorf("failed to serialize details for %s: %w", e.ID, err)
				}
				details = string(b)
			}
			row := []string{
				e.ID,
				e.Timestamp.Format(time.RFC3339Nano),
				string(e.Type),
				e.UserID,
				e.Action,
				e.Resource,
				string(e.Result),
				e.NetworkAddress,
				details,
			}
			if err := w.Write(row); err != nil {
				return nil, err
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

// VerifyEvent recomputes the event's digest and compares it to the stored
// one. A mismatch means the record was altered after logging.
func (l *Logger) VerifyEvent(e Event) bool {
	return VerifyDigest(e, l.algorithm)
}

// VerifyReport summarizes an integrity verification pass.
type VerifyReport struct {
	Checked int      `json:"checked"`
	Failed  []string `json:"failed,omitempty"` // IDs of events whose digest did not match
}

// OK reports whether every checked event verified.
func (r *VerifyReport) OK() bool {
	return len(r.Failed) == 0
}

// VerifyIntegrity verifies the stored digest of every event matching the
// filter. Verification is per-record: one tampered event is reported without
// failing the rest, enabling partial-tamper detection.
func (l *Logger) VerifyIntegrity(ctx context.Context, f Filter) (*VerifyReport, error) {
	events, err := l.Query(ctx, f)
	if err != nil {
		return nil, err
	}

	report := &VerifyReport{Checked: len(events)}
	for _, e := range events {
		if !VerifyDigest(e, l.algorithm) {
			report.Failed = append(report.Failed, e.ID)
		}
	}
	return report, nil
}
