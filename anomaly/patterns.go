package anomaly

import (
	"regexp"
	"strings"
)

// Built-in pattern IDs.
const (
	PatternSQLInjection     = "sql-injection"
	PatternXSSAttempt       = "xss-attempt"
	PatternPathTraversal    = "path-traversal"
	PatternCommandInjection = "command-injection"
	PatternRapidRequests    = "rapid-requests"
	PatternLargePayload     = "large-payload"
	PatternFailedAuth       = "failed-auth"
	PatternUnusualTime      = "unusual-time"
)

const (
	// largePayloadThreshold is the serialized size above which a payload
	// counts as anomalously large.
	largePayloadThreshold = 1 << 20 // 1 MiB

	// rapidRequestsThreshold is the requests-per-second rate above which
	// supplied counters count as rapid.
	rapidRequestsThreshold = 10

	// failedAuthThreshold is the reported failed-attempt count that
	// triggers the failed-auth pattern.
	failedAuthThreshold = 5
)

var (
	sqlKeywords  = regexp.MustCompile(`\b(union|select|insert|update|delete|drop|alter|exec|execute|truncate)\b`)
	sqlMetachars = regexp.MustCompile(`(--|;|'|"|/\*|\*/)`)

	xssMarkup = regexp.MustCompile(`(<script|<iframe|javascript:|on(load|error|click|mouseover|focus)\s*=)`)

	// Covers plain, backslash, and percent-encoded traversal forms.
	traversal = regexp.MustCompile(`(\.\./|\.\.\\|%2e%2e%2f|%2e%2e/|\.\.%2f|%2e%2e%5c)`)

	shellMetachars = regexp.MustCompile("[;&|`$]|\\$\\(|&&|\\|\\|")
	shellBinaries  = regexp.MustCompile(`\b(wget|curl|bash|/bin/sh|nc|netcat|chmod|rm -rf|powershell)\b`)
)

// BuiltinPatterns returns the default rule set in evaluation order.
func BuiltinPatterns() []Pattern {
	return []Pattern{
		{
			ID:       PatternSQLInjection,
			Name:     "SQL Injection Attempt",
			Severity: SeverityCritical,
			Actions:  []Action{ActionLog, ActionAlert, ActionBlock},
			Detect:   detectSQLInjection,
		},
		{
			ID:       PatternXSSAttempt,
			Name:     "Cross-Site Scripting Attempt",
			Severity: SeverityHigh,
			Actions:  []Action{ActionLog, ActionAlert, ActionBlock},
			Detect:   detectXSS,
		},
		{
			ID:       PatternPathTraversal,
			Name:     "Path Traversal Attempt",
			Severity: SeverityHigh,
			Actions:  []Action{ActionLog, ActionAlert, ActionBlock},
			Detect:   detectPathTraversal,
		},
		{
			ID:       PatternCommandInjection,
			Name:     "Command Injection Attempt",
			Severity: SeverityCritical,
			Actions:  []Action{ActionLog, ActionAlert, ActionBlock},
			Detect:   detectCommandInjection,
		},
		{
			ID:       PatternRapidRequests,
			Name:     "Rapid Request Rate",
			Severity: SeverityMedium,
			Actions:  []Action{ActionLog, ActionRateLimit},
			Detect:   detectRapidRequests,
		},
		{
			ID:       PatternLargePayload,
			Name:     "Abnormally Large Payload",
			Severity: SeverityLow,
			Actions:  []Action{ActionLog},
			Detect:   detectLargePayload,
		},
		{
			ID:       PatternFailedAuth,
			Name:     "Repeated Authentication Failures",
			Severity: SeverityHigh,
			Actions:  []Action{ActionLog, ActionAlert, ActionNotify},
			Detect:   detectFailedAuth,
		},
		{
			ID:       PatternUnusualTime,
			Name:     "Off-Hours Activity",
			Severity: SeverityLow,
			Actions:  []Action{ActionLog},
			Detect:   detectUnusualTime,
		},
	}
}

// detectSQLInjection requires both a SQL keyword and a metacharacter, which
// keeps ordinary prose mentioning "select" from matching.
func detectSQLInjection(s *Sample) bool {
	return sqlKeywords.MatchString(s.Lowered) && sqlMetachars.MatchString(s.Lowered)
}

func detectXSS(s *Sample) bool {
	return xssMarkup.MatchString(s.Lowered)
}

func detectPathTraversal(s *Sample) bool {
	return traversal.MatchString(s.Lowered)
}

func detectCommandInjection(s *Sample) bool {
	if shellBinaries.MatchString(s.Lowered) {
		return true
	}
	// Metacharacters alone only count when paired with something that looks
	// like a command boundary, to cut down noise from JSON punctuation.
	return shellMetachars.MatchString(s.Serialized) &&
		(strings.Contains(s.Serialized, ";") || strings.Contains(s.Serialized, "|") ||
			strings.Contains(s.Serialized, "`") || strings.Contains(s.Serialized, "$("))
}

func detectRapidRequests(s *Sample) bool {
	if v, ok := s.Field("requestsPerSecond"); ok {
		return v > rapidRequestsThreshold
	}
	if v, ok := s.Field("requests_per_second"); ok {
		return v > rapidRequestsThreshold
	}
	return false
}

func detectLargePayload(s *Sample) bool {
	return s.Size > largePayloadThreshold
}

func detectFailedAuth(s *Sample) bool {
	if v, ok := s.Field("failedAttempts"); ok {
		return v >= failedAuthThreshold
	}
	if v, ok := s.Field("failed_attempts"); ok {
		return v >= failedAuthThreshold
	}
	return false
}

// detectUnusualTime flags activity between 02:00 and 04:59 in the clock's
// own location.
func detectUnusualTime(s *Sample) bool {
	h := s.Time.Hour()
	return h >= 2 && h < 5
}
