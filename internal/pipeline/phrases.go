package pipeline

var reprompts = map[string]string{
	"en": "Sorry, I didn't catch that. Could you say it again?",
	"es": "Perdona, no te he entendido. ¿Puedes repetirlo?",
	"fr": "Pardon, je n'ai pas compris. Pouvez-vous répéter ?",
	"de": "Entschuldigung, das habe ich nicht verstanden. Kannst du das wiederholen?",
	"pt": "Desculpe, não entendi. Pode repetir?",
	"it": "Scusa, non ho capito. Puoi ripetere?",
}

// Reprompt returns the phrase asking the caller to repeat, in lang or
// English.
func Reprompt(lang string) string {
	if r, ok := reprompts[lang]; ok {
		return r
	}
	return reprompts["en"]
}
