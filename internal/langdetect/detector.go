// Package langdetect identifies the language of short conversational
// utterances.
package langdetect

import (
	"strings"
	"unicode"

	"golang.org/x/text/language"
)

// Detection is a detected language with its confidence in [0,1].
type Detection struct {
	Language   string
	Confidence float64
}

// Detector identifies the language of a text.
type Detector interface {
	Detect(text string) Detection
}

// DetectorFunc adapts a function to Detector.
type DetectorFunc func(text string) Detection

func (f DetectorFunc) Detect(text string) Detection { return f(text) }

// Supported lists the languages the heuristic detector can name.
var Supported = []string{"en", "es", "fr", "de", "pt", "it"}

// Normalize parses a provider language code and returns its base language:
// "es-419" -> "es", "EN_us" -> "en". Unknown codes return "".
func Normalize(code string) string {
	code = strings.TrimSpace(strings.ReplaceAll(code, "_", "-"))
	if code == "" {
		return ""
	}
	tag, err := language.Parse(code)
	if err != nil {
		return ""
	}
	base, conf := tag.Base()
	if conf == language.No {
		return ""
	}
	return base.String()
}

// IsSupported reports whether lang (a normalized base code) is in Supported.
func IsSupported(lang string) bool {
	for _, s := range Supported {
		if s == lang {
			return true
		}
	}
	return false
}

func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
}
