package llm

import (
	"context"

	"github.com/simula/soccer-rag/internal/cost"
	"github.com/simula/soccer-rag/internal/resilience"
	"github.com/simula/soccer-rag/pkg/anthropic"
	"github.com/simula/soccer-rag/pkg/openai"
)

const defaultMaxTokens = 1024

// Anthropic adapts pkg/anthropic to Completer.
type Anthropic struct {
	client anthropic.Client
	model  string
}

func NewAnthropic(client anthropic.Client, model string) *Anthropic {
	return &Anthropic{client: client, model: model}
}

func (a *Anthropic) Complete(ctx context.Context, req Request) (*Response, error) {
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	temp := req.Temperature
	msgs := make([]anthropic.Message, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = anthropic.Message{Role: m.Role, Content: m.Content}
	}
	areq := anthropic.MessageRequest{
		Model:       a.model,
		MaxTokens:   maxTokens,
		Messages:    msgs,
		Temperature: &temp,
	}
	if req.System != "" {
		// The system prompts are long and identical across queries.
		areq.System = []anthropic.SystemBlock{{Text: req.System, Cache: true}}
	}

	resp, err := a.client.CreateMessage(ctx, areq)
	if err != nil {
		return nil, resilience.MarkStatus(err, anthropic.StatusCode(err))
	}
	return &Response{
		Text:     resp.Text(),
		Model:    a.model,
		Provider: "anthropic",
		Usage: cost.Usage{
			Input:      resp.Usage.InputTokens,
			Output:     resp.Usage.OutputTokens,
			CacheWrite: resp.Usage.CacheCreationInputTokens,
			CacheRead:  resp.Usage.CacheReadInputTokens,
		},
	}, nil
}

// OpenAI adapts pkg/openai to Completer.
type OpenAI struct {
	client openai.Client
	model  string
}

func NewOpenAI(client openai.Client, model string) *OpenAI {
	return &OpenAI{client: client, model: model}
}

func (o *OpenAI) Complete(ctx context.Context, req Request) (*Response, error) {
	msgs := make([]openai.Message, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = openai.Message{Role: m.Role, Content: m.Content}
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	resp, err := o.client.CreateChat(ctx, openai.ChatRequest{
		Model:       o.model,
		System:      req.System,
		Messages:    msgs,
		MaxTokens:   maxTokens,
		Temperature: float32(req.Temperature),
		JSON:        req.JSON,
	})
	if err != nil {
		return nil, resilience.MarkStatus(err, openai.StatusCode(err))
	}
	cached := int64(resp.Usage.CachedTokens)
	return &Response{
		Text:     resp.Text,
		Model:    o.model,
		Provider: "openai",
		Usage: cost.Usage{
			Input:     int64(resp.Usage.PromptTokens) - cached,
			Output:    int64(resp.Usage.CompletionTokens),
			CacheRead: cached,
		},
	}, nil
}
