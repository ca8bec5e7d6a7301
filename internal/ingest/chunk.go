package ingest

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultChunkSize is the target chunk length in characters.
const DefaultChunkSize = 800

// Chunk splits text into pieces of about size characters. Paragraphs are
// kept whole when they fit; longer paragraphs split on sentence ends, and
// a single oversized sentence splits on word boundaries.
func Chunk(text string, size int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var (
		chunks []string
		cur    strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			chunks = append(chunks, s)
		}
		cur.Reset()
	}
	add := func(piece, sep string) {
		if cur.Len() > 0 && runeLen(cur.String())+len(sep)+runeLen(piece) > size {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString(sep)
		}
		cur.WriteString(piece)
	}

	for _, para := range paragraphs(text) {
		if runeLen(para) <= size {
			add(para, "\n\n")
			continue
		}
		flush()
		for _, sentence := range sentences(para) {
			if runeLen(sentence) <= size {
				add(sentence, " ")
				continue
			}
			for _, w := range strings.Fields(sentence) {
				add(w, " ")
			}
		}
		flush()
	}
	flush()
	return chunks
}

func paragraphs(text string) []string {
	var out []string
	for _, p := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// sentences splits after ., ! or ? followed by whitespace.
func sentences(para string) []string {
	var out []string
	start := 0
	runes := []rune(para)
	for i, r := range runes {
		if (r == '.' || r == '!' || r == '?') && i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
			if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }
