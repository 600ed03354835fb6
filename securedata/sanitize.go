package securedata

import (
	"fmt"
	"html"
	"strconv"
	"strings"
)

// Output contexts for SanitizeForOutput.
const (
	ContextHTML  = "html"
	ContextJSON  = "json"
	ContextSQL   = "sql"
	ContextShell = "shell"
)

// sqlReplacer strips SQL metacharacters and comment sequences.
var sqlReplacer = strings.NewReplacer(
	"'", "",
	`"`, "",
	";", "",
	"--", "",
	"/*", "",
	"*/", "",
	"\x00", "",
	`\`, "",
)

// shellDropped is the set of shell metacharacters removed entirely.
const shellDropped = ";&|`$(){}<>!\\'\"\n\r"

// SanitizeForOutput escapes or strips value for the given output context.
// Sanitization is idempotent per context: sanitizing already-sanitized
// output does not alter it further.
func (h *Handler) SanitizeForOutput(value, context string) (string, error) {
	switch context {
	case ContextHTML:
		// Unescape first so re-sanitizing escaped output is a no-op.
		return html.EscapeString(html.UnescapeString(value)), nil

	case ContextJSON:
		// Same trick: reduce to the unescaped form before quoting.
		if u, err := strconv.Unquote(`"` + value + `"`); err == nil {
			value = u
		}
		quoted := strconv.Quote(value)
		return quoted[1 : len(quoted)-1], nil

	case ContextSQL:
		// Removal can butt characters together into a new metacharacter
		// sequence, so strip to a fixed point.
		for {
			next := sqlReplacer.Replace(value)
			if next == value {
				return next, nil
			}
			value = next
		}

	case ContextShell:
		return strings.Map(func(r rune) rune {
			if strings.ContainsRune(shellDropped, r) {
				return -1
			}
			return r
		}, value), nil

	default:
		return "", fmt.Errorf("unsupported sanitization context %q", context)
	}
}
