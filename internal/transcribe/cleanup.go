package transcribe

import (
	"strings"
	"unicode"
)

var fillers = map[string]bool{
	"um":  true,
	"umm": true,
	"uh":  true,
	"uhm": true,
	"erm": true,
	"er":  true,
	"hmm": true,
	"mm":  true,
	"mmm": true,
	"eh":  true,
	"ehm": true,
	"em":  true,
}

// CleanFillers drops hesitation words from a transcript.
func CleanFillers(text string) string {
	fields := strings.Fields(text)
	kept := fields[:0]
	for _, f := range fields {
		bare := strings.ToLower(strings.TrimFunc(f, func(r rune) bool {
			return unicode.IsPunct(r)
		}))
		if fillers[bare] {
			continue
		}
		kept = append(kept, f)
	}
	out := strings.Join(kept, " ")
	// "Um, so what..." leaves a dangling leading comma after the filler goes.
	return strings.TrimLeft(out, ",;: ")
}
