// Package sanitize cleans CI-supplied labels for display and storage.
// Job names reach us with ANSI styling, Buildkite timestamp markers and
// emoji shortcodes.
package sanitize

import (
	"regexp"
	"strings"
)

var (
	// ANSI escape codes: \x1b[...m (SGR sequences)
	ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)

	// Buildkite timestamp markers: \x1b_bk;t=...\x07
	buildkiteTimestamp = regexp.MustCompile(`\x1b_bk;t=[0-9]+\x07`)

	// Emoji shortcodes in pipeline step labels, e.g. ":docker:" or ":female-detective:".
	shortcodePattern = regexp.MustCompile(`:[a-z0-9_+-]+:`)

	whitespacePattern = regexp.MustCompile(`\s+`)
)

// StripANSI removes ANSI escape codes and Buildkite timestamp markers.
func StripANSI(s string) string {
	s = buildkiteTimestamp.ReplaceAllString(s, "")
	s = ansiPattern.ReplaceAllString(s, "")
	return s
}

// Label turns a job or step name into plain single-line text. Emoji
// shortcodes are dropped; a label made only of shortcodes is kept as is.
func Label(s string) string {
	s = StripANSI(s)
	if stripped := strings.TrimSpace(shortcodePattern.ReplaceAllString(s, "")); stripped != "" {
		s = stripped
	}
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(s, " "))
}
