package instrumentation

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the security library
type Metrics struct {
	// Security check metrics
	ChecksTotal   metric.Int64Counter
	CheckDuration metric.Float64Histogram
	DenialsTotal  metric.Int64Counter

	// Rate limiting metrics
	RateLimitExceeded metric.Int64Counter

	// Anomaly detection metrics
	AnomaliesDetected metric.Int64Counter

	// Audit metrics
	AuditEventsTotal   metric.Int64Counter
	AuditFlushDuration metric.Float64Histogram
	AuditFlushFailures metric.Int64Counter

	// Lockout and session metrics
	AccountsLocked    metric.Int64Counter
	SessionsCreated   metric.Int64Counter
	SessionsExpired   metric.Int64Counter
	SessionsDestroyed metric.Int64Counter

	// Data protection metrics
	DataHandledTotal    metric.Int64Counter
	EncryptionTotal     metric.Int64Counter
	EncryptionDuration  metric.Float64Histogram
	TokenizationsTotal  metric.Int64Counter
	IntegrityViolations metric.Int64Counter

	// Observable state gauges
	ActiveSessions      metric.Int64ObservableGauge
	TrackedWindows      metric.Int64ObservableGauge
	BufferedAuditEvents metric.Int64ObservableGauge
	VaultTokens         metric.Int64ObservableGauge
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	managerMeter := inst.Meter("manager")
	auditMeter := inst.Meter("audit")
	dataMeter := inst.Meter("securedata")
	stateMeter := inst.Meter("state")

	var err error
	m.ChecksTotal, err = managerMeter.Int64Counter(
		"sentinel.checks.total",
		metric.WithDescription("Total number of security checks performed"),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create checks.total counter: %w", err)
	}

	m.CheckDuration, err = managerMeter.Float64Histogram(
		"sentinel.check.duration",
		metric.WithDescription("Security check duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create check.duration histogram: %w", err)
	}

	m.DenialsTotal, err = managerMeter.Int64Counter(
		"sentinel.denials.total",
		metric.WithDescription("Number of security checks denied, by reason"),
		metric.WithUnit("{denial}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create denials.total counter: %w", err)
	}

	m.RateLimitExceeded, err = managerMeter.Int64Counter(
		"sentinel.ratelimit.exceeded",
		metric.WithDescription("Number of rate limit rejections"),
		metric.WithUnit("{rejection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ratelimit.exceeded counter: %w", err)
	}

	m.AnomaliesDetected, err = managerMeter.Int64Counter(
		"sentinel.anomalies.detected",
		metric.WithDescription("Number of anomaly pattern matches, by pattern and severity"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create anomalies.detected counter: %w", err)
	}

	m.AuditEventsTotal, err = auditMeter.Int64Counter(
		"sentinel.audit.events.total",
		metric.WithDescription("Total number of audit events logged"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit.events.total counter: %w", err)
	}

	m.AuditFlushDuration, err = auditMeter.Float64Histogram(
		"sentinel.audit.flush.duration",
		metric.WithDescription("Audit buffer flush duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit.flush.duration histogram: %w", err)
	}

	m.AuditFlushFailures, err = auditMeter.Int64Counter(
		"sentinel.audit.flush.failures",
		metric.WithDescription("Number of failed audit flushes (batches re-queued)"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit.flush.failures counter: %w", err)
	}

	m.AccountsLocked, err = managerMeter.Int64Counter(
		"sentinel.accounts.locked",
		metric.WithDescription("Number of account lockouts triggered"),
		metric.WithUnit("{lockout}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create accounts.locked counter: %w", err)
	}

	m.SessionsCreated, err = managerMeter.Int64Counter(
		"sentinel.sessions.created",
		metric.WithDescription("Number of sessions created"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sessions.created counter: %w", err)
	}

	m.SessionsExpired, err = managerMeter.Int64Counter(
		"sentinel.sessions.expired",
		metric.WithDescription("Number of sessions expired by timeout"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sessions.expired counter: %w", err)
	}

	m.SessionsDestroyed, err = managerMeter.Int64Counter(
		"sentinel.sessions.destroyed",
		metric.WithDescription("Number of sessions explicitly destroyed"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sessions.destroyed counter: %w", err)
	}

	m.DataHandledTotal, err = dataMeter.Int64Counter(
		"sentinel.data.handled.total",
		metric.WithDescription("Number of payloads processed by the secure data handler, by classification"),
		metric.WithUnit("{payload}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create data.handled.total counter: %w", err)
	}

	m.EncryptionTotal, err = dataMeter.Int64Counter(
		"sentinel.encryption.operations.total",
		metric.WithDescription("Number of encrypt/decrypt operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryption.operations.total counter: %w", err)
	}

	m.EncryptionDuration, err = dataMeter.Float64Histogram(
		"sentinel.encryption.duration",
		metric.WithDescription("Encrypt/decrypt operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryption.duration histogram: %w", err)
	}

	m.TokenizationsTotal, err = dataMeter.Int64Counter(
		"sentinel.tokenizations.total",
		metric.WithDescription("Number of tokenize/detokenize operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizations.total counter: %w", err)
	}

	m.IntegrityViolations, err = dataMeter.Int64Counter(
		"sentinel.integrity.violations",
		metric.WithDescription("Number of integrity failures (digest mismatch, AEAD tag mismatch)"),
		metric.WithUnit("{violation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create integrity.violations counter: %w", err)
	}

	m.ActiveSessions, err = stateMeter.Int64ObservableGauge(
		"sentinel.sessions.active",
		metric.WithDescription("Current number of active sessions"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sessions.active gauge: %w", err)
	}

	m.TrackedWindows, err = stateMeter.Int64ObservableGauge(
		"sentinel.ratelimit.windows",
		metric.WithDescription("Current number of tracked rate limit windows"),
		metric.WithUnit("{window}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ratelimit.windows gauge: %w", err)
	}

	m.BufferedAuditEvents, err = stateMeter.Int64ObservableGauge(
		"sentinel.audit.buffered",
		metric.WithDescription("Current number of buffered, unflushed audit events"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit.buffered gauge: %w", err)
	}

	m.VaultTokens, err = stateMeter.Int64ObservableGauge(
		"sentinel.vault.tokens",
		metric.WithDescription("Current number of live tokenization entries"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault.tokens gauge: %w", err)
	}

	return m, nil
}

// RecordCheck records one security check with its outcome and duration
func (m *Metrics) RecordCheck(ctx context.Context, operation string, allowed bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.Bool("allowed", allowed),
	)
	m.ChecksTotal.Add(ctx, 1, attrs)
	m.CheckDuration.Record(ctx, float64(elapsed.Microseconds())/1000.0, attrs)
}

// RecordDenial records one denied check with its primary reason
func (m *Metrics) RecordDenial(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.DenialsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordAnomaly records one anomaly pattern match
func (m *Metrics) RecordAnomaly(ctx context.Context, patternID, severity string) {
	if m == nil {
		return
	}
	m.AnomaliesDetected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("pattern", patternID),
		attribute.String("severity", severity),
	))
}

// RecordRateLimitExceeded records one rate limit rejection
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context) {
	if m == nil {
		return
	}
	m.RateLimitExceeded.Add(ctx, 1)
}

// RecordDataHandled records one secure data handler pass with its classification
func (m *Metrics) RecordDataHandled(ctx context.Context, level string) {
	if m == nil {
		return
	}
	m.DataHandledTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("classification", level)))
}

// RecordEncryption records one encrypt or decrypt operation with its duration
func (m *Metrics) RecordEncryption(ctx context.Context, operation string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("operation", operation))
	m.EncryptionTotal.Add(ctx, 1, attrs)
	m.EncryptionDuration.Record(ctx, float64(elapsed.Microseconds())/1000.0, attrs)
}

// RecordTokenization records one tokenize or detokenize operation
func (m *Metrics) RecordTokenization(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	m.TokenizationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}

// RecordIntegrityViolation records one integrity failure by kind
func (m *Metrics) RecordIntegrityViolation(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.IntegrityViolations.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
