package securedata

import (
	"regexp"
	"strings"
)

// sensitiveFieldTerms marks object keys whose values are fully maskable
// regardless of value shape.
var sensitiveFieldTerms = []string{
	"password", "secret", "token", "key", "ssn",
	"creditcard", "cvv", "pin", "private", "auth",
}

// cardShaped matches payment-card-shaped numeric strings (13-19 digits).
var cardShaped = regexp.MustCompile(`^\d{13,19}$`)

// MaskData masks a single string value:
//
//   - 4 characters or fewer: fully masked
//   - email addresses: first 2 local-part characters kept, full domain kept
//   - 13-19 digit numeric strings: only the last 4 digits kept
//   - anything else: 2 leading and 2 trailing characters kept
func (h *Handler) MaskData(value string) string {
	runes := []rune(value)
	n := len(runes)

	if n <= 4 {
		return strings.Repeat("*", n)
	}

	if at := strings.Index(value, "@"); at > 0 && strings.Contains(value[at:], ".") {
		local := []rune(value[:at])
		keep := 2
		if len(local) < keep {
			keep = len(local)
		}
		return string(local[:keep]) + "***" + value[at:]
	}

	if cardShaped.MatchString(value) {
		return strings.Repeat("*", n-4) + string(runes[n-4:])
	}

	return string(runes[:2]) + strings.Repeat("*", n-4) + string(runes[n-2:])
}

// MaskFields masks a map payload by field name: values under keys matching
// the sensitive-term list are fully masked, other string values are left
// untouched, and nested maps are masked recursively.
func (h *Handler) MaskFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		switch {
		case isSensitiveField(k):
			out[k] = maskAll(v)
		default:
			if nested, ok := v.(map[string]any); ok {
				out[k] = h.MaskFields(nested)
			} else {
				out[k] = v
			}
		}
	}
	return out
}

func isSensitiveField(key string) bool {
	lowered := strings.ToLower(key)
	for _, term := range sensitiveFieldTerms {
		if strings.Contains(lowered, term) {
			return true
		}
	}
	return false
}

// maskAll fully masks a value: strings become same-length asterisks,
// everything else collapses to a fixed marker.
func maskAll(v any) string {
	if s, ok := v.(string); ok {
		return strings.Repeat("*", len([]rune(s)))
	}
	return "***"
}
