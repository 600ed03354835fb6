// Package instrumentation provides OpenTelemetry metrics and tracing for the
// sentinel security library.
//
// When disabled, all providers are no-op and instrumentation adds zero
// overhead. Hosts that want real exporters (Prometheus, OTLP) configure the
// otel SDK themselves and the library picks up their providers.
//
// Metric instruments cover the security check pipeline (check counts,
// durations, denials by reason), rate limiting, anomaly detection, the audit
// trail (event counts, flush durations, re-queued batches), session and
// lockout lifecycle, and data protection operations. Observable gauges expose
// live state sizes (sessions, rate limit windows, buffered audit events,
// tokenization vault entries) through registered callbacks so collection is
// lock-free.
package instrumentation
