package sentinel

import (
	"strings"
	"testing"
)

func TestSecurityError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *SecurityError
		want string
	}{
		{"policy denial", NewPolicyDenial("rate limit exceeded"), "policy_denial: rate limit exceeded"},
		{"integrity failure", NewIntegrityFailure("digest mismatch"), "integrity_failure: digest mismatch"},
		{"resource failure", NewResourceFailure("sink unavailable"), "resource_failure: sink unavailable"},
		{"configuration fault", NewConfigurationFault("missing key"), "configuration_fault: missing key"},
		{"unexpected fault", NewUnexpectedFault("panic in detector"), "unexpected_fault: panic in detector"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSecurityError_WithDetail(t *testing.T) {
	err := NewPolicyDenial("rate limit exceeded").
		WithDetail("userId", "user-1").
		WithDetail("limit", 60)

	if err.Detail["userId"] != "user-1" {
		t.Errorf("Detail[userId] = %v, want user-1", err.Detail["userId"])
	}
	if err.Detail["limit"] != 60 {
		t.Errorf("Detail[limit] = %v, want 60", err.Detail["limit"])
	}
	// Details never leak into the error string.
	if strings.Contains(err.Error(), "user-1") {
		t.Errorf("Error() = %q, detail leaked", err.Error())
	}
}
