package textextractor

import (
	"regexp"
	"strings"
)

var (
	spaceRun    = regexp.MustCompile(`[ \t]+`)
	newlineRun  = regexp.MustCompile(`\n{3,}`)
	trailingWS  = regexp.MustCompile(`(?m)[ \t]+$`)
	controlChar = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)
)

// cleanExtractedText collapses horizontal whitespace, keeps at most one
// blank line between paragraphs and strips trailing spaces per line.
// Line structure is preserved for the heading heuristics.
func cleanExtractedText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = controlChar.ReplaceAllString(text, "")
	text = spaceRun.ReplaceAllString(text, " ")
	text = trailingWS.ReplaceAllString(text, "")
	text = newlineRun.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// countWords counts whitespace separated words
func countWords(text string) int {
	if text == "" {
		return 0
	}
	return len(strings.Fields(text))
}
