// Package cost prices LLM token usage and totals it per query.
package cost

import (
	"sync"

	"go.uber.org/zap"
)

// ModelRate is USD per million tokens. The cache multipliers scale Input.
type ModelRate struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// Rates maps model IDs to prices, per provider.
type Rates struct {
	Anthropic map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI    map[string]ModelRate `yaml:"openai" mapstructure:"openai"`
}

// Usage is the token count of one call.
type Usage struct {
	Input      int64
	Output     int64
	CacheWrite int64
	CacheRead  int64
}

// Calculator prices usage. Unknown models cost zero.
type Calculator struct {
	rates Rates
}

func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

func (c *Calculator) rate(provider, model string) (ModelRate, bool) {
	var table map[string]ModelRate
	switch provider {
	case "anthropic":
		table = c.rates.Anthropic
	case "openai":
		table = c.rates.OpenAI
	}
	r, ok := table[model]
	return r, ok
}

// Price returns the USD cost of u on provider/model.
func (c *Calculator) Price(provider, model string, u Usage) float64 {
	r, ok := c.rate(provider, model)
	if !ok {
		return 0
	}
	per := func(n int64, rate float64) float64 { return float64(n) / 1e6 * rate }
	return per(u.Input, r.Input) +
		per(u.Output, r.Output) +
		per(u.CacheWrite, r.Input*r.CacheWriteMul) +
		per(u.CacheRead, r.Input*r.CacheReadMul)
}

// Meter totals cost across the calls of one query. Safe for concurrent use.
type Meter struct {
	mu    sync.Mutex
	usd   float64
	calls int
	usage Usage
}

// Add records one priced call.
func (m *Meter) Add(u Usage, usd float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usd += usd
	m.calls++
	m.usage.Input += u.Input
	m.usage.Output += u.Output
	m.usage.CacheWrite += u.CacheWrite
	m.usage.CacheRead += u.CacheRead
}

// Total returns the accumulated cost, call count and tokens.
func (m *Meter) Total() (float64, int, Usage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usd, m.calls, m.usage
}

// Log writes one attribution line for a call.
func Log(provider, model, phase string, u Usage, usd float64) {
	zap.L().Info("cost attribution",
		zap.String("provider", provider),
		zap.String("model", model),
		zap.String("phase", phase),
		zap.Int64("input_tokens", u.Input),
		zap.Int64("output_tokens", u.Output),
		zap.Int64("cache_write_tokens", u.CacheWrite),
		zap.Int64("cache_read_tokens", u.CacheRead),
		zap.Float64("estimated_cost_usd", usd),
	)
}

// DefaultRates holds list prices for the models the config defaults name.
func DefaultRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001":  {Input: 1.00, Output: 5.00, CacheWriteMul: 1.25, CacheReadMul: 0.1},
			"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00, CacheWriteMul: 1.25, CacheReadMul: 0.1},
		},
		OpenAI: map[string]ModelRate{
			"gpt-4o":      {Input: 2.50, Output: 10.00, CacheReadMul: 0.5},
			"gpt-4o-mini": {Input: 0.15, Output: 0.60, CacheReadMul: 0.5},
		},
	}
}
