package normalize

import (
	"regexp"
	"strings"

	"github.com/charmbracelet/x/ansi"
)

var (
	// Color codes whose escape byte was already lost, e.g. "[36m" or "[1;32m".
	bareColorRe = regexp.MustCompile(`\[[0-9]{1,3}(?:;[0-9]{1,3})*m`)
	boxDrawRe   = regexp.MustCompile(`[\x{2500}-\x{257F}]`)
	blankRunRe  = regexp.MustCompile(`\n{3,}`)
)

// Sanitize removes terminal artifacts from text: ANSI escape sequences,
// escape-less color codes and box drawing glyphs. Runs of three or more
// newlines collapse to two and the result is trimmed. Sanitize is
// idempotent.
func Sanitize(text string) string {
	if text == "" {
		return ""
	}
	out := strings.ReplaceAll(text, "\r\n", "\n")
	out = strings.ReplaceAll(out, "\r", "\n")

	// Removing one artifact can join the halves of another ("[3" + box +
	// "6m"), so strip until nothing changes. Every pass that changes the
	// text shortens it, which bounds the loop.
	for {
		next := ansi.Strip(out)
		next = bareColorRe.ReplaceAllString(next, "")
		next = boxDrawRe.ReplaceAllString(next, "")
		if next == out {
			break
		}
		out = next
	}

	out = blankRunRe.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

// SanitizeValue sanitizes strings and returns any other value unchanged.
func SanitizeValue(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	return Sanitize(s)
}
