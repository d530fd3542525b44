package chunking

import (
	"strings"
)

// Normalize collapses every whitespace run to a single space and trims the
// result. Newlines and non-breaking spaces (U+00A0) count as whitespace.
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	return strings.Join(strings.Fields(text), " ")
}
