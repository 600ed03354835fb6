package sentinel

import "fmt"

// Kind classifies a SecurityError by failure mode.
type Kind string

const (
	// KindPolicyDenial is an expected policy outcome (rate limit, lockout,
	// anomaly block) reported to the caller with a reason. Not a system
	// fault.
	KindPolicyDenial Kind = "policy_denial"

	// KindIntegrityFailure is a digest or authentication tag mismatch.
	// Always surfaced, never silently corrected.
	KindIntegrityFailure Kind = "integrity_failure"

	// KindResourceFailure is an append-target read or write failure.
	KindResourceFailure Kind = "resource_failure"

	// KindConfigurationFault is a missing or invalid threshold, detected
	// at construction time rather than per call.
	KindConfigurationFault Kind = "configuration_fault"

	// KindUnexpectedFault is anything else, caught at the CheckSecurity
	// boundary and converted to a fail-closed denial.
	KindUnexpectedFault Kind = "unexpected_fault"
)

// SecurityError is the tagged error type for the library. The Kind
// discriminates failure modes without an error class hierarchy; Detail
// carries structured context for the audit trail.
type SecurityError struct {
	Kind    Kind
	Message string
	Detail  map[string]any
}

// Error implements the error interface.
func (e *SecurityError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewPolicyDenial creates a policy-denial error.
func NewPolicyDenial(message string) *SecurityError {
	return &SecurityError{Kind: KindPolicyDenial, Message: message}
}

// NewIntegrityFailure creates an integrity-failure error.
func NewIntegrityFailure(message string) *SecurityError {
	return &SecurityError{Kind: KindIntegrityFailure, Message: message}
}

// NewResourceFailure creates a resource-failure error.
func NewResourceFailure(message string) *SecurityError {
	return &SecurityError{Kind: KindResourceFailure, Message: message}
}

// NewConfigurationFault creates a configuration-fault error.
func NewConfigurationFault(message string) *SecurityError {
	return &SecurityError{Kind: KindConfigurationFault, Message: message}
}

// NewUnexpectedFault creates an unexpected-fault error.
func NewUnexpectedFault(message string) *SecurityError {
	return &SecurityError{Kind: KindUnexpectedFault, Message: message}
}

// WithDetail attaches structured context and returns the error for
// chaining.
func (e *SecurityError) WithDetail(key string, value any) *SecurityError {
	if e.Detail == nil {
		e.Detail = make(map[string]any)
	}
	e.Detail[key] = value
	return e
}
