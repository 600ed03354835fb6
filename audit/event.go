package audit

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// EventType categorizes audit events.
type EventType string

const (
	TypeAuthentication   EventType = "AUTHENTICATION"
	TypeAuthorization    EventType = "AUTHORIZATION"
	TypeDataAccess       EventType = "DATA_ACCESS"
	TypeDataModification EventType = "DATA_MODIFICATION"
	TypeSecurityEvent    EventType = "SECURITY_EVENT"
	TypeSystem           EventType = "SYSTEM"
	TypeCustom           EventType = "CUSTOM"
)

// Result is the outcome recorded on an audit event.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultError   Result = "error"
)

// Digest algorithms supported for event integrity.
const (
	DigestSHA256 = "sha256"
	DigestSHA512 = "sha512"
)

// Event is one tamper-evident audit record. Once flushed it is immutable;
// the Digest field makes post-hoc modification detectable, not preventable.
type Event struct {
	ID             string         `json:"id"`
	Timestamp      time.Time      `json:"timestamp"`
	Type           EventType      `json:"type"`
	UserID         string         `json:"userId,omitempty"`
	SessionID      string         `json:"sessionId,omitempty"`
	NetworkAddress string         `json:"networkAddress,omitempty"`
	Action         string         `json:"action"`
	Resource       string         `json:"resource,omitempty"`
	Result         Result         `json:"result"`
	Details        map[string]any `json:"details,omitempty"`
	Digest         string         `json:"digest,omitempty"`
}

// IsCritical reports whether the event must be flushed synchronously instead
// of waiting for the periodic timer. Critical events are security events,
// failed authentications, and anything tagged with critical severity.
func (e Event) IsCritical() bool {
	if e.Type == TypeSecurityEvent {
		return true
	}
	if e.Type == TypeAuthentication && e.Result == ResultFailure {
		return true
	}
	if sev, ok := e.Details["severity"].(string); ok && sev == "critical" {
		return true
	}
	return false
}

// canonicalBytes serializes the event with the digest field cleared.
// encoding/json emits struct fields in declaration order and map keys
// sorted, so the serialization is stable and recomputable offline.
func canonicalBytes(e Event) ([]byte, error) {
	e.Digest = ""
	return json.Marshal(e)
}

// ComputeDigest returns the hex integrity digest of the event under the
// given algorithm, ignoring any digest already present.
func ComputeDigest(e Event, algorithm string) (string, error) {
	b, err := canonicalBytes(e)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize event %s: %w", e.ID, err)
	}

	switch algorithm {
	case DigestSHA256, "":
		sum := sha256.Sum256(b)
		return hex.EncodeToString(sum[:]), nil
	case DigestSHA512:
		sum := sha512.Sum512(b)
		return hex.EncodeToString(sum[:]), nil
	default:
		return "", fmt.Errorf("unsupported digest algorithm %q", algorithm)
	}
}

// VerifyDigest recomputes the event's digest from its content and compares
// it to the stored digest. Returns false on any mismatch or if the event
// carries no digest at all.
func VerifyDigest(e Event, algorithm string) bool {
	if e.Digest == "" {
		return false
	}
	want, err := ComputeDigest(e, algorithm)
	if err != nil {
		return false
	}
	return want == e.Digest
}
