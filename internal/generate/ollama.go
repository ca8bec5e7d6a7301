package generate

import (
	"context"
	"fmt"
	"strings"

	"github.com/kalambet/twin/internal/engine"
)

// OllamaGenerator generates with the local inference engine. The engine has
// no token or temperature controls, so those request fields are ignored.
type OllamaGenerator struct {
	engine engine.Engine
	model  string
}

func NewOllama(e engine.Engine, model string) *OllamaGenerator {
	return &OllamaGenerator{engine: e, model: model}
}

func (g *OllamaGenerator) Name() string { return "ollama" }

func (g *OllamaGenerator) Generate(ctx context.Context, req Request) (string, error) {
	msgs := make([]engine.Message, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, engine.Message{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, engine.Message{Role: m.Role, Content: m.Content})
	}
	out, err := g.engine.Chat(ctx, g.model, msgs, nil)
	if err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	text := strings.TrimSpace(out)
	if text == "" {
		return "", ErrEmptyOutput
	}
	return text, nil
}
