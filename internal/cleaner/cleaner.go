// Package cleaner turns a free-text soccer question into an annotated prompt
// whose entity names match the database: extract, reconcile, rewrite.
package cleaner

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/simula/soccer-rag/internal/agent"
	"github.com/simula/soccer-rag/internal/cost"
	"github.com/simula/soccer-rag/internal/extract"
	"github.com/simula/soccer-rag/internal/llm"
	"github.com/simula/soccer-rag/internal/model"
	"github.com/simula/soccer-rag/internal/reconcile"
	"github.com/simula/soccer-rag/internal/rewrite"
)

// ErrNotDone is returned when a run is used before resolution finished.
var ErrNotDone = eris.New("cleaner: resolution still in progress")

// Recorder persists query history. store.Store implements it.
type Recorder interface {
	SaveQuery(ctx context.Context, q *model.QueryRecord) error
}

// Options tune a Cleaner.
type Options struct {
	// RemoveDuplicates drops values repeated from the previous entity
	// before a non-interactive pass.
	RemoveDuplicates bool
}

// Cleaner runs the per-question pipeline.
type Cleaner struct {
	extractor  extract.Extractor
	reconciler *reconcile.Reconciler
	recorder   Recorder
	opts       Options
}

// New builds a Cleaner. rec may be nil to skip history.
func New(ex extract.Extractor, r *reconcile.Reconciler, rec Recorder, opts Options) *Cleaner {
	return &Cleaner{extractor: ex, reconciler: r, recorder: rec, opts: opts}
}

// Run is one question moving through the pipeline. Its methods are safe for
// concurrent use.
type Run struct {
	mu sync.Mutex

	c      *Cleaner
	pass   *reconcile.Pass
	result *reconcile.Result
	meter  *cost.Meter
	record model.QueryRecord
	done   bool
}

// Start extracts properties and begins resolution. When nothing is
// extracted the run is already done and its annotated prompt is the
// question itself.
func (c *Cleaner) Start(ctx context.Context, prompt string, method model.Method) (*Run, error) {
	return c.start(ctx, prompt, method, false)
}

func (c *Cleaner) start(ctx context.Context, prompt string, method model.Method, dedupe bool) (*Run, error) {
	run := &Run{
		c:     c,
		meter: &cost.Meter{},
		record: model.QueryRecord{
			ID:     uuid.New().String(),
			Prompt: prompt,
			Method: method,
		},
	}

	entities, err := c.extractor.Extract(llm.WithMeter(ctx, run.meter), prompt)
	if err != nil {
		run.record.Status = model.QueryStatusFailed
		run.record.Error = err.Error()
		run.persist(ctx)
		return nil, eris.Wrap(err, "cleaner: extract")
	}
	if dedupe {
		entities = reconcile.RemoveDuplicates(entities)
	}

	candidates := model.Merge(entities)
	run.record.Extracted = candidates
	if candidates.Empty() {
		zap.L().Info("cleaner: nothing extracted", zap.String("id", run.record.ID))
		run.done = true
		run.result = &reconcile.Result{Method: method, Original: candidates, Resolved: model.ResolvedProperties{}, PrimaryKeys: model.PrimaryKeyBundle{}}
		run.record.AnnotatedPrompt = prompt
		run.record.Status = model.QueryStatusEmpty
		run.persist(ctx)
		return run, nil
	}

	run.pass = c.reconciler.Begin(candidates, method)
	zap.L().Debug("cleaner: resolution started",
		zap.String("id", run.record.ID),
		zap.Int("values", candidates.Count()),
		zap.String("method", string(method)),
	)
	return run, nil
}

// ID returns the run's query id.
func (r *Run) ID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.record.ID
}

// Done reports whether the annotated prompt is ready.
func (r *Run) Done() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Pending returns the request awaiting a decision, if any.
func (r *Run) Pending() *reconcile.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pass == nil {
		return nil
	}
	return r.pass.Pending()
}

// Advance resolves until a decision is needed. A nil request means the run
// is complete.
func (r *Run) Advance(ctx context.Context) (*reconcile.Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return nil, nil
	}
	req, err := r.pass.Advance(ctx)
	if err != nil || req != nil {
		return req, err
	}
	r.complete(ctx)
	return nil, nil
}

// Submit answers the pending request. Call Advance afterwards.
func (r *Run) Submit(ctx context.Context, resp reconcile.Response) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return reconcile.ErrPassComplete
	}
	return r.pass.Submit(ctx, resp)
}

// Skip leaves the pending value unchanged.
func (r *Run) Skip() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.done {
		r.pass.Skip()
	}
}

// Abandon keeps the original form of every value still needing a decision
// and completes the run.
func (r *Run) Abandon(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return nil
	}
	if _, err := r.pass.Abandon(ctx); err != nil {
		return err
	}
	r.complete(ctx)
	return nil
}

// Finish resolves the rest without asking and completes the run.
func (r *Run) Finish(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return nil
	}
	if _, err := r.pass.Finish(ctx); err != nil {
		return err
	}
	r.complete(ctx)
	return nil
}

// Complete returns the annotated prompt of a finished run.
func (r *Run) Complete() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.done {
		return "", ErrNotDone
	}
	return r.record.AnnotatedPrompt, nil
}

// Result returns the reconciliation outcome, or nil before completion.
func (r *Run) Result() *reconcile.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

// Record returns a copy of the history record.
func (r *Run) Record() model.QueryRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.record
	rec.CostUSD, _, _ = r.meter.Total()
	return rec
}

// complete builds the annotated prompt. Callers hold mu.
func (r *Run) complete(ctx context.Context) {
	res := r.pass.Result()
	r.result = res
	r.done = true

	r.record.Resolved = res.Resolved
	r.record.PrimaryKeys = res.PrimaryKeys
	r.record.AnnotatedPrompt = rewrite.Annotate(r.record.Prompt, res.Original, res.Resolved, res.PrimaryKeys, r.c.reconciler.Order())
	r.record.Status = model.QueryStatusResolved
	if err := res.Err(); err != nil {
		r.record.Error = err.Error()
	}
	zap.L().Info("cleaner: prompt resolved",
		zap.String("id", r.record.ID),
		zap.Int("decisions", len(res.Decisions)),
		zap.Int("unresolved", len(res.Unresolved())),
		zap.Int("errors", len(res.Errors)),
	)
	r.persist(ctx)
}

// persist saves the record. Failures are logged; history never fails a
// query. Callers hold mu.
func (r *Run) persist(ctx context.Context) {
	if r.c.recorder == nil {
		return
	}
	rec := r.record
	rec.CostUSD, _, _ = r.meter.Total()
	if err := r.c.recorder.SaveQuery(context.WithoutCancel(ctx), &rec); err != nil {
		zap.L().Warn("cleaner: save history", zap.String("id", rec.ID), zap.Error(err))
		return
	}
	r.record.CreatedAt = rec.CreatedAt
	r.record.UpdatedAt = rec.UpdatedAt
}

// Clean runs the whole pipeline, asking d whenever a decision is needed. A
// failed Choose leaves that value unchanged.
func (c *Cleaner) Clean(ctx context.Context, prompt string, method model.Method, d reconcile.Disambiguator) (*Run, error) {
	run, err := c.Start(ctx, prompt, method)
	if err != nil {
		return nil, err
	}
	for {
		req, err := run.Advance(ctx)
		if err != nil {
			return nil, err
		}
		if req == nil {
			return run, nil
		}
		resp, err := d.Choose(ctx, *req)
		if err != nil {
			zap.L().Warn("cleaner: disambiguation abandoned",
				zap.String("property", req.Property),
				zap.Error(err),
			)
			run.Skip()
			continue
		}
		if err := run.Submit(ctx, resp); err != nil {
			return nil, err
		}
	}
}

// CleanNonInteractive resolves without asking; ambiguous values keep their
// original form.
func (c *Cleaner) CleanNonInteractive(ctx context.Context, prompt string, method model.Method) (*Run, error) {
	run, err := c.start(ctx, prompt, method, c.opts.RemoveDuplicates)
	if err != nil {
		return nil, err
	}
	if err := run.Finish(ctx); err != nil {
		return nil, err
	}
	return run, nil
}

// Answer hands the annotated prompt to a and records the reply.
func (c *Cleaner) Answer(ctx context.Context, run *Run, a agent.Agent) (*agent.Answer, error) {
	prompt, err := run.Complete()
	if err != nil {
		return nil, err
	}

	ans, err := a.Ask(llm.WithMeter(ctx, run.meter), prompt)

	run.mu.Lock()
	defer run.mu.Unlock()
	if err != nil {
		run.record.Status = model.QueryStatusFailed
		run.record.Error = err.Error()
		run.persist(ctx)
		return ans, eris.Wrap(err, "cleaner: answer")
	}
	run.record.Answer = ans.Text
	run.record.Status = model.QueryStatusAnswered
	run.persist(ctx)
	return ans, nil
}
