package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// NormalizeKey lowercases text, drops punctuation and symbols, and collapses
// whitespace so trivially different utterances share a cache entry.
func NormalizeKey(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	space := false
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			continue
		case unicode.IsSpace(r):
			space = true
		default:
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ResponseKey keys a generated reply by utterance, channel and language.
func ResponseKey(text, channel, language string) string {
	return "resp:" + NormalizeKey(text) + "|" + channel + "|" + language
}

// TranscriptKey keys a transcript by its audio reference.
func TranscriptKey(audioRef string) string {
	return "stt:" + hashHex(audioRef)
}

// AudioKey keys synthesized speech by spoken text and language.
func AudioKey(text, language string) string {
	return "tts:" + hashHex(NormalizeKey(text)) + "|" + language
}

func hashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
