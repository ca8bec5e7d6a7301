package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/kalambet/twin/internal/engine"
)

var languageNames = map[string]string{
	"en": "English",
	"es": "Spanish",
	"fr": "French",
	"de": "German",
	"pt": "Portuguese",
	"it": "Italian",
}

// LanguageName returns the English name for a language code, or the code
// itself when unknown.
func LanguageName(code string) string {
	if n, ok := languageNames[code]; ok {
		return n
	}
	return code
}

// LLMTranslator translates queries with the local inference engine.
type LLMTranslator struct {
	engine engine.Engine
	model  string
}

func NewLLMTranslator(e engine.Engine, model string) *LLMTranslator {
	return &LLMTranslator{engine: e, model: model}
}

func (t *LLMTranslator) Translate(ctx context.Context, text, from, to string) (string, error) {
	if from == to {
		return text, nil
	}
	messages := []engine.Message{
		{Role: "system", Content: fmt.Sprintf(
			"Translate the user's message from %s to %s. Reply with the translation only, no quotes or notes.",
			LanguageName(from), LanguageName(to))},
		{Role: "user", Content: text},
	}
	out, err := t.engine.Chat(ctx, t.model, messages, nil)
	if err != nil {
		return "", fmt.Errorf("translating query: %w", err)
	}
	return strings.Trim(strings.TrimSpace(out), `"`), nil
}
