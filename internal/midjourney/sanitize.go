package midjourney

import (
	"regexp"
	"strings"
)

var (
	dashRunPattern    = regexp.MustCompile(`[—–]|--+`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// SanitizePrompt normalizes a prompt for the renderer. The renderer's prompt
// grammar treats `--` as a parameter delimiter, so em/en dashes and dash runs
// collapse to a single hyphen and whitespace is normalized. Sanitizing an
// already-sanitized prompt returns it unchanged.
func SanitizePrompt(prompt string) string {
	s := dashRunPattern.ReplaceAllString(prompt, "-")
	s = whitespacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
