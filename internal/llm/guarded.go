package llm

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/simula/soccer-rag/internal/cost"
	"github.com/simula/soccer-rag/internal/resilience"
)

type meterKey struct{}

// WithMeter attaches a cost meter to ctx; Guarded adds every call to it.
func WithMeter(ctx context.Context, m *cost.Meter) context.Context {
	return context.WithValue(ctx, meterKey{}, m)
}

// MeterFrom returns the meter attached to ctx, if any.
func MeterFrom(ctx context.Context) *cost.Meter {
	m, _ := ctx.Value(meterKey{}).(*cost.Meter)
	return m
}

// Guarded rate limits, retries and circuit-breaks calls to an inner
// Completer and prices each successful call.
type Guarded struct {
	inner   Completer
	limiter *rate.Limiter
	policy  resilience.Policy
	breaker *resilience.Breaker
	calc    *cost.Calculator
}

// GuardOptions configure Guarded. Zero values disable the limiter and use
// default retry and breaker settings.
type GuardOptions struct {
	RequestsPerSecond float64
	Burst             int
	Policy            resilience.Policy
	BreakerThreshold  int
	BreakerCooldown   time.Duration
	Rates             cost.Rates
}

// NewGuarded wraps inner.
func NewGuarded(name string, inner Completer, opts GuardOptions) *Guarded {
	g := &Guarded{
		inner:   inner,
		policy:  opts.Policy,
		breaker: resilience.NewBreaker(name, opts.BreakerThreshold, opts.BreakerCooldown),
		calc:    cost.NewCalculator(opts.Rates),
	}
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	if g.policy.OnRetry == nil {
		g.policy.OnRetry = resilience.LogRetries(name, "complete")
	}
	return g
}

func (g *Guarded) Complete(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp, err := resilience.Retry(ctx, g.policy, func(ctx context.Context) (*Response, error) {
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return nil, eris.Wrap(err, "llm: rate limit wait")
			}
		}
		return resilience.Call(ctx, g.breaker, func(ctx context.Context) (*Response, error) {
			return g.inner.Complete(ctx, req)
		})
	})
	if err != nil {
		zap.L().Warn("llm: completion failed",
			zap.String("phase", req.Phase),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return nil, eris.Wrapf(err, "llm: %s", req.Phase)
	}

	usd := g.calc.Price(resp.Provider, resp.Model, resp.Usage)
	cost.Log(resp.Provider, resp.Model, req.Phase, resp.Usage, usd)
	if m := MeterFrom(ctx); m != nil {
		m.Add(resp.Usage, usd)
	}
	zap.L().Debug("llm: completion",
		zap.String("phase", req.Phase),
		zap.Int("chars", len(resp.Text)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return resp, nil
}
