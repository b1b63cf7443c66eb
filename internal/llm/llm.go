// Package llm puts Anthropic and OpenAI-compatible chat models behind one
// small interface used by the extractor and the answering agent.
package llm

import (
	"context"

	"github.com/simula/soccer-rag/internal/cost"
)

// Role of a conversational turn.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn.
type Message struct {
	Role    string
	Content string
}

// Request is a provider-neutral completion request.
type Request struct {
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
	// JSON hints that the reply must be a JSON object.
	JSON bool
	// Phase labels the call in cost logs ("extract", "agent").
	Phase string
}

// Response is the model's reply.
type Response struct {
	Text     string
	Model    string
	Provider string
	Usage    cost.Usage
}

// Completer produces one completion.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, req Request) (*Response, error)

func (f CompleterFunc) Complete(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}
