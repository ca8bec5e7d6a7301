package responder

import (
	"regexp"
	"strings"
)

var (
	mdLink     = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	mdEmphasis = regexp.MustCompile("[*_`~#>]+")
	mdBullet   = regexp.MustCompile(`(?m)^\s*(?:[-+]|\d+\.)\s+`)
	spaces     = regexp.MustCompile(`\s+`)
)

// StripMarkdown flattens markdown into speakable plain text.
func StripMarkdown(text string) string {
	text = mdLink.ReplaceAllString(text, "$1")
	text = mdBullet.ReplaceAllString(text, "")
	text = mdEmphasis.ReplaceAllString(text, "")
	return strings.TrimSpace(spaces.ReplaceAllString(text, " "))
}

// TruncateWords limits text to maxWords, cutting at the last sentence end
// within the limit. Without a sentence end the cut falls on a word boundary
// and a period is added.
func TruncateWords(text string, maxWords int) string {
	words := strings.Fields(text)
	if len(words) <= maxWords {
		return text
	}
	cut := strings.Join(words[:maxWords], " ")
	if i := strings.LastIndexAny(cut, ".!?"); i > 0 {
		return cut[:i+1]
	}
	return strings.TrimRight(cut, ",;:") + "."
}

// ForPhone prepares generated text for speech synthesis.
func ForPhone(text string) string {
	return TruncateWords(StripMarkdown(text), PhoneMaxWords)
}
