package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kalambet/twin/internal/ollama"
	"github.com/kalambet/twin/internal/session"
)

// OllamaChatter is the interface for chat completion via Ollama.
type OllamaChatter interface {
	Chat(ctx context.Context, model string, messages []ollama.Message, jsonSchema *ollama.Schema) (string, error)
}

// LLMClassifier asks a fast local model for a structured decision.
type LLMClassifier struct {
	client OllamaChatter
	model  string
}

func NewLLMClassifier(client OllamaChatter, model string) *LLMClassifier {
	return &LLMClassifier{client: client, model: model}
}

type llmDecision struct {
	Kind       string  `json:"kind"`
	Pattern    string  `json:"pattern"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// Classify returns an error for transport failures and for answers that do
// not name a valid kind and pattern.
func (c *LLMClassifier) Classify(ctx context.Context, text string, history []session.Turn) (Decision, error) {
	raw, err := c.client.Chat(ctx, c.model, BuildPrompt(text, history), decisionSchema())
	if err != nil {
		return Decision{}, fmt.Errorf("classifier chat: %w", err)
	}

	var out llmDecision
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return Decision{}, fmt.Errorf("decoding classifier answer: %w", err)
	}

	d := Decision{
		Kind:       Kind(strings.ToUpper(strings.TrimSpace(out.Kind))),
		Pattern:    Pattern(strings.ToLower(strings.TrimSpace(out.Pattern))),
		Confidence: clamp01(out.Confidence),
		Reason:     out.Reason,
	}
	switch d.Kind {
	case KindSearch:
		if !ValidPattern(d.Pattern) {
			return Decision{}, fmt.Errorf("classifier returned unknown pattern %q", out.Pattern)
		}
	case KindDirect, KindClarify:
		d.Pattern = ""
	default:
		return Decision{}, fmt.Errorf("classifier returned unknown kind %q", out.Kind)
	}
	return d, nil
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

func decisionSchema() *ollama.Schema {
	return &ollama.Schema{
		Type: "object",
		Properties: map[string]ollama.SchemaProperty{
			"kind":       {Type: "string", Description: "One of: SEARCH, DIRECT, CLARIFY"},
			"pattern":    {Type: "string", Description: "For SEARCH: standard, hybrid_search, multi_hop or tool_enhanced; otherwise empty"},
			"confidence": {Type: "number", Description: "Confidence in the decision between 0 and 1"},
			"reason":     {Type: "string", Description: "A few words explaining the choice"},
		},
		Required: []string{"kind", "pattern", "confidence", "reason"},
	}
}

const systemPrompt = `You route questions asked to a person's digital twin. Your output must be ONLY a single valid JSON object that conforms to the provided schema. Do not include any other text, prose, or markdown.

Kinds:
- "DIRECT": greetings, small talk, or questions about who the twin is that need no knowledge lookup
- "SEARCH": anything about the person's experience, work, projects, opinions or activity
- "CLARIFY": the utterance is too vague or refers to something unknown

Patterns for SEARCH, cheapest first:
- "standard": one focused question
- "hybrid_search": comparisons between named things
- "multi_hop": several questions or a compound request
- "tool_enhanced": recent or current activity

Pick the cheapest pattern that can answer the question.`

// BuildPrompt constructs the chat messages for a routing decision.
func BuildPrompt(text string, history []session.Turn) []ollama.Message {
	messages := []ollama.Message{{Role: "system", Content: systemPrompt}}
	for _, t := range history {
		messages = append(messages, ollama.Message{Role: string(t.Role), Content: t.Text})
	}
	return append(messages, ollama.Message{Role: "user", Content: text})
}
