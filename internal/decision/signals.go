package decision

import (
	"sort"
	"strings"
	"unicode"
)

// courtesy lists greeting, persona and courtesy phrases, longest first so
// multi-word phrases are consumed before their parts.
var courtesy = sortedPhrases(
	// English
	"hello", "hi", "hey", "hey there", "hiya", "good morning", "good afternoon", "good evening",
	"thanks", "thank you", "thank you so much", "thanks a lot", "many thanks", "cheers",
	"who are you", "who is this", "how are you", "how are you doing", "how's it going", "hows it going",
	"what's up", "whats up", "nice to meet you", "pleasure to meet you",
	"bye", "goodbye", "bye bye", "see you", "see you later", "talk soon", "have a good day",
	"great", "cool", "awesome", "perfect", "got it",
	// Spanish
	"hola", "buenos días", "buenos dias", "buenas tardes", "buenas noches", "buenas",
	"gracias", "muchas gracias", "mil gracias",
	"quién eres", "quien eres", "quién es", "quien es", "cómo estás", "como estas", "cómo está", "como esta",
	"qué tal", "que tal", "mucho gusto", "encantado", "encantada",
	"adiós", "adios", "hasta luego", "hasta pronto", "nos vemos", "chao", "chau",
	"genial", "perfecto", "vale",
)

// glue words may surround a courtesy phrase without adding question content.
var glue = setOf(
	"there", "so", "much", "very", "again", "and", "you", "too", "a", "lot", "ok", "okay", "oh", "well",
	"also", "then", "all", "everyone", "today", "doing", "friend", "mate", "twin",
	"y", "tú", "tu", "usted", "muy", "bien", "también", "amigo", "amiga", "pues", "bueno",
)

// deictic utterances cannot be answered without knowing what they refer to.
var deictic = setOf(
	"what", "huh", "hmm", "eh", "sorry", "pardon", "come again", "say again", "what was that",
	"that", "that one", "this", "this one", "it", "the other one", "which one", "and that", "what about that",
	"qué", "que", "cómo", "como", "perdón", "perdon", "mande", "eso", "ese", "esa", "esto", "ese de ahí", "y eso",
)

var questionWords = []string{
	"what", "how", "who", "which", "why", "when", "where", "tell me", "describe", "explain",
	"qué", "cómo", "cuál", "quién", "por qué", "dónde", "cuándo", "cuéntame", "dime", "explica",
}

var compareCues = []string{
	"compare", "comparison", "compared to", "versus", "vs", "difference between", "differences between",
	"better than", "worse than", "pros and cons",
	"comparar", "compara", "comparación", "diferencia entre", "diferencias entre", "mejor que", "peor que",
}

var recencyCues = []string{
	"recent", "recently", "latest", "current", "currently", "now", "right now", "this week", "this month",
	"today", "lately", "these days", "nowadays", "upcoming",
	"reciente", "recientemente", "último", "última", "últimos", "actual", "actualmente", "ahora",
	"esta semana", "este mes", "hoy", "próximo",
}

var conjunctions = []string{"and", "y", "as well as", "also", "además"}

type candidate struct {
	confidence float64
	reason     string
}

// utterance is text prepared for the heuristics.
type utterance struct {
	norm      string // lowercased, punctuation stripped, whitespace collapsed
	padded    string // norm surrounded by spaces for cue matching
	words     []string
	questions int
}

func analyze(text string) utterance {
	lower := strings.ToLower(strings.TrimSpace(text))
	u := utterance{questions: strings.Count(lower, "?")}

	var b strings.Builder
	for _, r := range lower {
		switch {
		case r == '\'' || r == '’':
			b.WriteRune('\'')
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	u.words = strings.Fields(b.String())
	u.norm = strings.Join(u.words, " ")
	u.padded = " " + u.norm + " "
	return u
}

func (u utterance) isDeictic() bool {
	return deictic[u.norm]
}

// isCourtesyOnly reports whether the utterance is made only of courtesy
// phrases and glue words.
func (u utterance) isCourtesyOnly() bool {
	rest := u.padded
	found := false
	for _, p := range courtesy {
		needle := " " + p + " "
		for strings.Contains(rest, needle) {
			rest = strings.Replace(rest, needle, " ", 1)
			found = true
		}
	}
	if !found {
		return false
	}
	for _, w := range strings.Fields(rest) {
		if !glue[w] {
			return false
		}
	}
	return true
}

func (u utterance) countCues(cues []string) int {
	n := 0
	for _, c := range cues {
		n += strings.Count(u.padded, " "+strings.TrimSpace(c)+" ")
	}
	return n
}

func (u utterance) questionLike() bool {
	return u.questions > 0 || u.countCues(questionWords) > 0
}

// candidates scores every retrieval pattern a signal supports. standard is
// always present, confident only when no other signal fires.
func (u utterance) candidates() map[Pattern]candidate {
	out := make(map[Pattern]candidate)

	qwords := u.countCues(questionWords)
	joined := u.countCues(conjunctions) > 0
	switch {
	case u.questions >= 2:
		out[PatternMultiHop] = candidate{0.8, "several questions"}
	case qwords >= 2 && joined:
		out[PatternMultiHop] = candidate{0.75, "compound question"}
	case len(u.words) >= 18 && joined:
		out[PatternMultiHop] = candidate{0.6, "long compound request"}
	case qwords >= 1 && joined:
		out[PatternMultiHop] = candidate{0.5, "joined request"}
	}

	if u.countCues(compareCues) > 0 {
		out[PatternHybridSearch] = candidate{0.85, "comparison"}
	}
	if u.countCues(recencyCues) > 0 {
		out[PatternToolEnhanced] = candidate{0.8, "recent activity"}
	}

	std := candidate{reason: "knowledge question"}
	switch {
	case len(out) > 0:
		std.confidence = 0.3
	case u.questionLike():
		std.confidence = 0.85
	case len(u.words) >= 4:
		std.confidence = 0.65
	case len(u.words) >= 2:
		std.confidence = 0.45
	default:
		std.confidence = 0.3
	}
	out[PatternStandard] = std
	return out
}

func setOf(ws ...string) map[string]bool {
	m := make(map[string]bool, len(ws))
	for _, w := range ws {
		m[w] = true
	}
	return m
}

func sortedPhrases(ps ...string) []string {
	out := append([]string(nil), ps...)
	sort.SliceStable(out, func(i, j int) bool { return len(out[i]) > len(out[j]) })
	return out
}
