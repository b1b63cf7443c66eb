package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/simula/soccer-rag/internal/agent"
	"github.com/simula/soccer-rag/internal/cleaner"
	"github.com/simula/soccer-rag/internal/config"
	"github.com/simula/soccer-rag/internal/datasource"
	"github.com/simula/soccer-rag/internal/extract"
	"github.com/simula/soccer-rag/internal/llm"
	"github.com/simula/soccer-rag/internal/match"
	"github.com/simula/soccer-rag/internal/model"
	"github.com/simula/soccer-rag/internal/reconcile"
	"github.com/simula/soccer-rag/internal/resilience"
	"github.com/simula/soccer-rag/internal/retriever"
	"github.com/simula/soccer-rag/internal/schema"
	"github.com/simula/soccer-rag/internal/store"
	anthropicpkg "github.com/simula/soccer-rag/pkg/anthropic"
	openaipkg "github.com/simula/soccer-rag/pkg/openai"
)

// env holds the collaborators a command needs. Fields a mode does not use
// stay nil.
type env struct {
	Schema     *schema.Schema
	Source     datasource.Source
	Retrievers *retriever.Set
	Reconciler *reconcile.Reconciler
	Completer  llm.Completer
	Cleaner    *cleaner.Cleaner
	Agent      agent.Agent
	Store      store.Store
}

type envNeeds struct {
	lookups bool
	llm     bool
	agent   bool
	store   bool
	warm    bool
}

var modeNeeds = map[string]envNeeds{
	"match":   {lookups: true},
	"values":  {lookups: true},
	"history": {store: true},
	"clean":   {lookups: true, llm: true, store: true},
	"mcp":     {lookups: true, llm: true, store: true, warm: true},
	"ask":     {lookups: true, llm: true, agent: true, store: true},
	"serve":   {lookups: true, llm: true, agent: true, store: true, warm: true},
}

type envOptions struct {
	NoFewShot bool
}

// initEnv validates the config for mode and builds what the mode needs.
func initEnv(ctx context.Context, c *config.Config, mode string, opts envOptions) (*env, error) {
	if err := c.Validate(mode); err != nil {
		return nil, err
	}
	needs := modeNeeds[mode]
	e := &env{}

	if needs.store {
		st, err := store.Open(ctx, c.Store)
		if err != nil {
			return nil, err
		}
		e.Store = st
	}

	if needs.lookups {
		if err := e.initLookups(ctx, c, needs.warm); err != nil {
			e.Close()
			return nil, err
		}
	}

	if needs.llm {
		comp, err := newCompleter(c)
		if err != nil {
			e.Close()
			return nil, err
		}
		e.Completer = comp

		var rec cleaner.Recorder
		if e.Store != nil {
			rec = e.Store
		}
		ex := extract.NewLLM(comp, e.Schema, c.LLM.ExtractPrompt, c.LLM.MaxTokens)
		e.Cleaner = cleaner.New(ex, e.Reconciler, rec, cleaner.Options{RemoveDuplicates: c.Resolve.RemoveDuplicates})
	}

	if needs.agent {
		examples, err := agent.LoadExamples(c.Agent.ExamplesPath)
		if err != nil {
			zap.L().Warn("few-shot examples unavailable", zap.String("path", c.Agent.ExamplesPath), zap.Error(err))
		}
		e.Agent = agent.New(e.Completer, e.Source, examples, agent.Options{
			MaxIterations: c.Agent.MaxIterations,
			TopK:          c.Agent.TopK,
			FewShotK:      c.Agent.FewShotK,
			NoFewShot:     opts.NoFewShot,
			MaxTokens:     c.LLM.MaxTokens,
		})
	}

	return e, nil
}

func (e *env) initLookups(ctx context.Context, c *config.Config, warm bool) error {
	s, err := schema.Load(c.Schema.Path)
	if err != nil {
		return err
	}
	e.Schema = s

	src, err := datasource.Open(ctx, c.Database)
	if err != nil {
		return err
	}
	e.Source = src

	e.Retrievers = retriever.NewSet(s, src, retriever.WithMultiRowPolicy(retriever.MultiRowPolicy(c.Resolve.MultiRowPolicy)))
	if warm {
		// Lookups load lazily, so a failed warm-up only costs latency later.
		if err := e.Retrievers.Warm(ctx, c.Resolve.WarmConcurrency); err != nil {
			zap.L().Warn("warm-up incomplete", zap.Error(err))
		}
	}

	e.Reconciler = reconcile.New(e.Retrievers, reconcile.Options{
		Match:          matchOptions(c),
		DisableReentry: !c.Resolve.OfferReentry,
	})
	zap.L().Debug("lookups ready",
		zap.String("driver", c.Database.Driver),
		zap.Strings("properties", e.Retrievers.Names()),
	)
	return nil
}

// Close releases the data source and store.
func (e *env) Close() {
	if e.Source != nil {
		if err := e.Source.Close(); err != nil {
			zap.L().Warn("close data source", zap.Error(err))
		}
	}
	if e.Store != nil {
		if err := e.Store.Close(); err != nil {
			zap.L().Warn("close store", zap.Error(err))
		}
	}
}

func matchOptions(c *config.Config) match.Options {
	return match.Options{
		Limit:     c.Resolve.Limit,
		Threshold: c.Resolve.Threshold,
		LowFloor:  c.Resolve.LowFloor,
	}
}

// methodOrDefault returns flag when set, otherwise the configured method.
func methodOrDefault(c *config.Config, flag string) model.Method {
	if flag != "" {
		return model.ParseMethod(flag)
	}
	return model.ParseMethod(c.Resolve.Method)
}

// newCompleter builds the configured provider behind the rate limiter,
// retry policy and circuit breaker.
func newCompleter(c *config.Config) (llm.Completer, error) {
	var inner llm.Completer
	switch c.LLM.Provider {
	case "anthropic":
		inner = llm.NewAnthropic(anthropicpkg.NewClient(c.Anthropic.Key, c.Anthropic.BaseURL), c.LLM.Model)
	case "openai":
		inner = llm.NewOpenAI(openaipkg.NewClient(c.OpenAI.Key, c.OpenAI.BaseURL), c.LLM.Model)
	default:
		return nil, eris.Errorf("unsupported llm provider: %s", c.LLM.Provider)
	}

	temperature := c.LLM.Temperature
	withTemp := llm.CompleterFunc(func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		if req.Temperature == 0 {
			req.Temperature = temperature
		}
		return inner.Complete(ctx, req)
	})

	return llm.NewGuarded(c.LLM.Provider, withTemp, llm.GuardOptions{
		RequestsPerSecond: c.LLM.RequestsPerSecond,
		Burst:             c.LLM.Burst,
		Policy:            resilience.PolicyFromConfig(c.LLM.Retry.MaxAttempts, c.LLM.Retry.InitialWaitMs, c.LLM.Retry.MaxWaitMs),
		BreakerThreshold:  c.LLM.Breaker.Threshold,
		BreakerCooldown:   time.Duration(c.LLM.Breaker.CooldownSecs) * time.Second,
		Rates:             c.Rates(),
	}), nil
}
