package phone

var thinkingCues = map[string]string{
	"en": "One moment, let me think.",
	"es": "Un momento, déjame pensar.",
	"fr": "Un instant, je réfléchis.",
	"de": "Einen Moment, ich überlege.",
	"pt": "Um momento, deixa-me pensar.",
	"it": "Un attimo, ci penso.",
}

var goodbyes = map[string]string{
	"en": "It seems you've gone quiet. Thanks for calling, goodbye!",
	"es": "Parece que no me escuchas. Gracias por llamar, ¡adiós!",
	"fr": "Je ne vous entends plus. Merci de votre appel, au revoir !",
	"de": "Ich höre nichts mehr. Danke für den Anruf, tschüss!",
	"pt": "Parece que ficou em silêncio. Obrigado pela chamada, adeus!",
	"it": "Non ti sento più. Grazie per la chiamata, ciao!",
}

var greetings = map[string]string{
	"en": "Hi! Thanks for calling. What would you like to know?",
	"es": "¡Hola! Gracias por llamar. ¿Qué te gustaría saber?",
	"fr": "Bonjour ! Merci de votre appel. Que voulez-vous savoir ?",
	"de": "Hallo! Danke für deinen Anruf. Was möchtest du wissen?",
	"pt": "Olá! Obrigado pela chamada. O que gostaria de saber?",
	"it": "Ciao! Grazie per la chiamata. Cosa vorresti sapere?",
}

func phrase(m map[string]string, lang string) string {
	if p, ok := m[lang]; ok {
		return p
	}
	return m["en"]
}

// ThinkingCue is played while a slow turn completes.
func ThinkingCue(lang string) string { return phrase(thinkingCues, lang) }

// Goodbye ends a call after repeated silence.
func Goodbye(lang string) string { return phrase(goodbyes, lang) }

// DefaultGreeting is used when the persona has no greeting for lang.
func DefaultGreeting(lang string) string { return phrase(greetings, lang) }

// Phrases lists the fixed phone phrases of lang, for prewarming.
func Phrases(lang string) []string {
	return []string{ThinkingCue(lang), Goodbye(lang), DefaultGreeting(lang)}
}
