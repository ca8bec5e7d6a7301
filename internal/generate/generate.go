// Package generate wraps the LLM providers that write the twin's replies.
package generate

import (
	"context"
	"errors"
)

// ErrEmptyOutput is returned when a provider answers with no text.
var ErrEmptyOutput = errors.New("generator returned empty output")

// Message is one conversation turn passed to a generator. Role is "user" or
// "assistant".
type Message struct {
	Role    string
	Content string
}

// Request is a provider-neutral generation request.
type Request struct {
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Generator produces reply text.
type Generator interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
}
