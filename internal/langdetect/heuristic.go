package langdetect

import "strings"

var stopwords = map[string][]string{
	"en": {"the", "and", "is", "are", "you", "your", "what", "how", "who", "do", "does", "did", "can", "tell", "me", "about",
		"hello", "hi", "thanks", "thank", "of", "to", "in", "it", "that", "this", "with", "for", "have", "i", "my", "yes", "no", "please", "why", "where", "when"},
	"es": {"el", "la", "los", "las", "y", "es", "son", "que", "qué", "cómo", "como", "quién", "de", "del", "en", "un", "una", "por",
		"para", "con", "hola", "gracias", "tu", "tú", "usted", "sí", "pero", "muy", "dime", "cuál", "eres", "estás", "tienes", "sobre", "experiencia", "puedes"},
	"fr": {"le", "la", "les", "et", "est", "sont", "que", "qui", "quoi", "comment", "de", "des", "du", "un", "une", "pour", "avec",
		"bonjour", "merci", "vous", "tu", "je", "oui", "non", "mais", "très", "pourquoi", "êtes", "votre", "sur"},
	"de": {"der", "die", "das", "und", "ist", "sind", "was", "wie", "wer", "ich", "du", "sie", "ein", "eine", "mit", "für", "nicht",
		"hallo", "danke", "ja", "nein", "aber", "sehr", "warum", "bist", "über", "erfahrung", "kannst"},
	"pt": {"o", "os", "as", "e", "é", "são", "que", "quem", "como", "de", "do", "da", "em", "um", "uma", "para", "com", "olá", "obrigado",
		"obrigada", "você", "sim", "não", "mas", "muito", "por", "sobre", "experiência", "está"},
	"it": {"il", "lo", "gli", "le", "e", "è", "sono", "che", "chi", "come", "di", "del", "della", "in", "un", "una", "per", "con",
		"ciao", "grazie", "tu", "lei", "sì", "no", "ma", "molto", "perché", "sei", "esperienza"},
}

// uniqueRunes are characters that by themselves decide the language.
var uniqueRunes = map[rune]string{
	'ñ': "es", '¿': "es", '¡': "es",
	'ß': "de",
	'ã': "pt", 'õ': "pt", 'ç': "pt",
}

// diacritics add weight to languages that commonly use them.
var diacritics = map[rune][]string{
	'á': {"es", "pt"}, 'é': {"es", "fr", "pt"}, 'í': {"es", "pt"}, 'ó': {"es", "pt"}, 'ú': {"es", "pt"},
	'è': {"fr", "it"}, 'à': {"fr", "it", "pt"}, 'ê': {"fr", "pt"}, 'â': {"fr", "pt"}, 'ô': {"fr", "pt"},
	'ù': {"fr", "it"}, 'ò': {"it"}, 'ì': {"it"},
	'ä': {"de"}, 'ö': {"de"}, 'ü': {"de"},
}

// Heuristic scores stopword hits and diacritics for the Supported
// languages. Confidence is the winner's share of matched signals, reduced by
// the runner-up's share, and scaled down for utterances under three words.
type Heuristic struct {
	index map[string][]string
}

func NewHeuristic() *Heuristic {
	idx := make(map[string][]string)
	for lang, ws := range stopwords {
		for _, w := range ws {
			idx[w] = append(idx[w], lang)
		}
	}
	return &Heuristic{index: idx}
}

func (h *Heuristic) Detect(text string) Detection {
	text = strings.TrimSpace(text)
	if text == "" {
		return Detection{}
	}

	lower := strings.ToLower(text)
	for _, r := range lower {
		if lang, ok := uniqueRunes[r]; ok {
			return Detection{Language: lang, Confidence: 0.95}
		}
	}

	hits := make(map[string]float64)
	var matched float64
	ws := words(lower)
	for _, w := range ws {
		langs := h.index[w]
		if len(langs) == 0 {
			continue
		}
		for _, l := range langs {
			hits[l]++
		}
		matched++
	}
	for _, r := range lower {
		langs := diacritics[r]
		for _, l := range langs {
			hits[l] += 0.5
		}
		if len(langs) > 0 {
			matched += 0.5
		}
	}
	if matched == 0 {
		return Detection{}
	}

	best, second := "", ""
	for _, l := range Supported {
		switch {
		case best == "" || hits[l] > hits[best]:
			best, second = l, best
		case second == "" || hits[l] > hits[second]:
			second = l
		}
	}
	if hits[best] == 0 {
		return Detection{}
	}

	conf := hits[best] / matched
	if conf > 1 {
		conf = 1
	}
	conf *= 1 - 0.5*hits[second]/hits[best]
	if len(ws) < 3 {
		conf *= 0.6
	}
	if conf > 0.99 {
		conf = 0.99
	}
	return Detection{Language: best, Confidence: conf}
}
