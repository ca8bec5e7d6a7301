package generate

import (
	"context"
	"fmt"
	"strings"

	"github.com/kalambet/twin/internal/openrouter"
)

// OpenRouterGenerator generates through the OpenRouter chat completions API.
type OpenRouterGenerator struct {
	client    *openrouter.Client
	model     string
	fallbacks []string
}

// NewOpenRouter creates a generator. fallbacks are models OpenRouter may
// route to when model is unavailable.
func NewOpenRouter(client *openrouter.Client, model string, fallbacks ...string) *OpenRouterGenerator {
	return &OpenRouterGenerator{client: client, model: model, fallbacks: fallbacks}
}

func (g *OpenRouterGenerator) Name() string { return "openrouter" }

func (g *OpenRouterGenerator) Generate(ctx context.Context, req Request) (string, error) {
	msgs := make([]openrouter.Message, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openrouter.Message{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, openrouter.Message{Role: m.Role, Content: m.Content})
	}

	out, err := g.client.Complete(ctx, openrouter.Request{
		Model:       g.model,
		Models:      g.fallbacks,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("openrouter chat: %w", err)
	}
	text := strings.TrimSpace(out.Text())
	if text == "" {
		return "", ErrEmptyOutput
	}
	return text, nil
}
