package llm

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/simula/soccer-rag/internal/cost"
	"github.com/simula/soccer-rag/internal/resilience"
	"github.com/simula/soccer-rag/pkg/anthropic"
	"github.com/simula/soccer-rag/pkg/openai"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type mockAnthropic struct{ mock.Mock }

func (m *mockAnthropic) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*anthropic.MessageResponse)
	return resp, args.Error(1)
}

type mockOpenAI struct{ mock.Mock }

func (m *mockOpenAI) CreateChat(ctx context.Context, req openai.ChatRequest) (*openai.ChatResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*openai.ChatResponse)
	return resp, args.Error(1)
}

func TestAnthropicAdapter(t *testing.T) {
	client := &mockAnthropic{}
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(r anthropic.MessageRequest) bool {
		return r.Model == "claude-haiku-4-5-20251001" &&
			r.MaxTokens == defaultMaxTokens &&
			len(r.System) == 1 && r.System[0].Cache &&
			len(r.Messages) == 1 && r.Messages[0].Content == "hi" &&
			r.Temperature != nil && *r.Temperature == 0
	})).Return(&anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: "hello"}},
		Usage:   anthropic.TokenUsage{InputTokens: 10, OutputTokens: 2, CacheReadInputTokens: 100},
	}, nil)

	resp, err := NewAnthropic(client, "claude-haiku-4-5-20251001").Complete(context.Background(), Request{
		System:   "be brief",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Text)
	assert.Equal(t, "anthropic", resp.Provider)
	assert.Equal(t, cost.Usage{Input: 10, Output: 2, CacheRead: 100}, resp.Usage)
	client.AssertExpectations(t)
}

func TestOpenAIAdapter(t *testing.T) {
	client := &mockOpenAI{}
	client.On("CreateChat", mock.Anything, mock.MatchedBy(func(r openai.ChatRequest) bool {
		return r.Model == "gpt-4o-mini" && r.System == "sys" && r.JSON && r.MaxTokens == 256
	})).Return(&openai.ChatResponse{
		Text:  `{"answer": "3"}`,
		Usage: openai.Usage{PromptTokens: 50, CompletionTokens: 5, CachedTokens: 20},
	}, nil)

	resp, err := NewOpenAI(client, "gpt-4o-mini").Complete(context.Background(), Request{
		System: "sys", MaxTokens: 256, JSON: true,
		Messages: []Message{{Role: RoleUser, Content: "q"}},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"answer": "3"}`, resp.Text)
	assert.Equal(t, cost.Usage{Input: 30, Output: 5, CacheRead: 20}, resp.Usage)
}

func TestGuarded_RetriesTransientAndMeters(t *testing.T) {
	calls := 0
	inner := CompleterFunc(func(ctx context.Context, req Request) (*Response, error) {
		calls++
		if calls == 1 {
			return nil, resilience.MarkStatus(errors.New("overloaded"), 529)
		}
		return &Response{Text: "ok", Model: "m", Provider: "openai", Usage: cost.Usage{Input: 1_000_000}}, nil
	})

	g := NewGuarded("test", inner, GuardOptions{
		Policy: resilience.Policy{MaxAttempts: 3, Initial: time.Millisecond, Max: time.Millisecond},
		Rates:  cost.Rates{OpenAI: map[string]cost.ModelRate{"m": {Input: 2}}},
	})

	meter := &cost.Meter{}
	resp, err := g.Complete(WithMeter(context.Background(), meter), Request{Phase: "extract"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, 2, calls)

	usd, n, _ := meter.Total()
	assert.InDelta(t, 2.0, usd, 1e-9)
	assert.Equal(t, 1, n)
}

func TestGuarded_PermanentErrorNotRetried(t *testing.T) {
	calls := 0
	inner := CompleterFunc(func(ctx context.Context, req Request) (*Response, error) {
		calls++
		return nil, resilience.MarkStatus(errors.New("bad key"), http.StatusUnauthorized)
	})
	g := NewGuarded("test", inner, GuardOptions{Policy: resilience.Policy{MaxAttempts: 3, Initial: time.Millisecond}})

	_, err := g.Complete(context.Background(), Request{Phase: "agent"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm: agent")
	assert.Equal(t, 1, calls)
}

func TestGuarded_RateLimitHonorsContext(t *testing.T) {
	inner := CompleterFunc(func(ctx context.Context, req Request) (*Response, error) {
		return &Response{Text: "ok"}, nil
	})
	g := NewGuarded("test", inner, GuardOptions{RequestsPerSecond: 0.001, Policy: resilience.Policy{MaxAttempts: 1}})

	_, err := g.Complete(context.Background(), Request{})
	require.NoError(t, err, "the first call uses the burst")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = g.Complete(ctx, Request{})
	require.Error(t, err)
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  string
	}{
		{"plain object", `{"a": 1}`, `{"a": 1}`},
		{"fenced", "```json\n{\"entities\": []}\n```", `{"entities": []}`},
		{"prose around", `Sure! Here it is: {"sql": "SELECT 1"} hope that helps`, `{"sql": "SELECT 1"}`},
		{"think block", `<think>maybe {"x": 1}</think>{"answer": "yes"}`, `{"answer": "yes"}`},
		{"array", `result: [{"team_name": ["Arsnl"]}]`, `[{"team_name": ["Arsnl"]}]`},
		{"braces in strings", `{"sql": "SELECT '}' FROM t"}`, `{"sql": "SELECT '}' FROM t"}`},
		{"skips invalid first", `{not json} then {"ok": true}`, `{"ok": true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.reply)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, got)
		})
	}

	_, err := ExtractJSON("no json here")
	assert.ErrorIs(t, err, ErrNoJSON)
}

func TestDecodeJSON(t *testing.T) {
	var out struct {
		SQL string `json:"sql"`
	}
	require.NoError(t, DecodeJSON("```\n{\"sql\": \"SELECT 1\"}\n```", &out))
	assert.Equal(t, "SELECT 1", out.SQL)
}
