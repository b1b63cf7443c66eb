package reconcile

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	libinjection "github.com/corazawaf/libinjection-go"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/simula/soccer-rag/internal/model"
	"github.com/simula/soccer-rag/internal/retriever"
)

var (
	// ErrNoPending is returned by Submit when nothing awaits a decision.
	ErrNoPending = eris.New("reconcile: no pending request")
	// ErrPassComplete is returned by Submit after the pass finished.
	ErrPassComplete = eris.New("reconcile: pass already complete")
)

// Action is a human response to a candidate presentation.
type Action string

const (
	ActionSelect  Action = "select"
	ActionKeep    Action = "keep"
	ActionReenter Action = "reenter"
	ActionQuit    Action = "quit"
)

// Request asks for a decision on one value.
type Request struct {
	ID            string   `json:"id"`
	Property      string   `json:"property"`
	Position      int      `json:"position"`
	OriginalValue string   `json:"original_value"`
	CurrentValue  string   `json:"current_value"`
	Candidates    []string `json:"candidates"`
	Actions       []Action `json:"actions"`
	Reentry       bool     `json:"reentry"`
	Message       string   `json:"message,omitempty"`
}

// Allows reports whether a is offered.
func (r Request) Allows(a Action) bool {
	return slices.Contains(r.Actions, a)
}

// Response answers a Request. With no Action the intent is inferred from
// Value: empty keeps the original, an offered candidate selects it and any
// other text is re-entered when re-entry is offered.
type Response struct {
	Action Action `json:"action,omitempty"`
	Value  string `json:"selected_value"`
}

// Pass is one resolution run over one query's CandidateProperties. It is not
// safe for concurrent use.
type Pass struct {
	r      *Reconciler
	method model.Method

	original model.CandidateProperties
	resolved model.ResolvedProperties
	props    []string

	pi, vi  int
	pending *Request
	failed  map[string]bool

	done      bool
	pks       model.PrimaryKeyBundle
	decisions []Decision
	errs      []error
}

// Begin starts a pass. No lookups happen until Advance.
func (r *Reconciler) Begin(candidates model.CandidateProperties, method model.Method) *Pass {
	original := candidates.Clone()
	resolved := make(model.ResolvedProperties, len(original))
	for k, v := range original {
		resolved[k] = append([]string(nil), v...)
	}
	return &Pass{
		r:        r,
		method:   method,
		original: original,
		resolved: resolved,
		props:    r.propertyOrder(original),
		failed:   make(map[string]bool),
	}
}

// Method returns the scoring method of the pass.
func (p *Pass) Method() model.Method { return p.method }

// Done reports whether every value and primary key has been settled.
func (p *Pass) Done() bool { return p.done }

// Pending returns the request awaiting a decision, if any.
func (p *Pass) Pending() *Request { return p.pending }

// Advance resolves values until one needs a decision and returns that
// request, or returns nil once the pass is complete. Only context errors are
// returned; data access failures are collected in the Result.
func (p *Pass) Advance(ctx context.Context) (*Request, error) {
	return p.advance(ctx, false, "")
}

// Finish resolves everything without asking. Values that would need a
// decision keep their original form.
func (p *Pass) Finish(ctx context.Context) (*Result, error) {
	if p.pending != nil {
		p.settlePending(OutcomeUnresolved)
	}
	if _, err := p.advance(ctx, true, OutcomeUnresolved); err != nil {
		return nil, err
	}
	return p.Result(), nil
}

// Abandon gives up on the pending value and on every later value that would
// need a decision; all of them keep their original form.
func (p *Pass) Abandon(ctx context.Context) (*Result, error) {
	if p.pending != nil {
		p.settlePending(OutcomeAbandoned)
	}
	if _, err := p.advance(ctx, true, OutcomeAbandoned); err != nil {
		return nil, err
	}
	return p.Result(), nil
}

// Skip leaves the pending value unchanged, as when nobody answers in time.
func (p *Pass) Skip() {
	if p.pending != nil {
		p.settlePending(OutcomeAbandoned)
	}
}

func (p *Pass) advance(ctx context.Context, auto bool, autoOutcome Outcome) (*Request, error) {
	if p.done {
		return nil, nil
	}
	if p.pending != nil {
		return p.pending, nil
	}
	for p.pi < len(p.props) {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "reconcile: advance")
		}
		prop := p.props[p.pi]
		if p.vi >= len(p.original[prop]) || p.failed[prop] {
			p.pi++
			p.vi = 0
			continue
		}

		req, err := p.step(ctx, prop, p.vi)
		if err != nil {
			return nil, eris.Wrap(err, "reconcile: advance")
		}
		if req != nil {
			if !auto {
				p.pending = req
				return req, nil
			}
			p.record(prop, p.vi, p.original[prop][p.vi], autoOutcome, req.Candidates)
		}
		p.vi++
	}

	if err := p.fetchKeys(ctx); err != nil {
		return nil, eris.Wrap(err, "reconcile: advance")
	}
	p.done = true
	zap.L().Debug("reconcile: pass complete",
		zap.String("method", string(p.method)),
		zap.Int("values", len(p.decisions)),
		zap.Int("errors", len(p.errs)),
	)
	return nil, nil
}

// interrupted reports whether err comes from the caller giving up rather
// than from the database.
func interrupted(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// step settles value i of prop, or returns the request a human must answer.
// A context error leaves the value unsettled so a later Advance retries it.
func (p *Pass) step(ctx context.Context, prop string, i int) (*Request, error) {
	value := p.original[prop][i]
	lk, ok := p.r.lookups[prop]
	if !ok {
		p.record(prop, i, value, OutcomeUnknown, nil)
		return nil, nil
	}

	if !p.r.opts.SkipInjectionCheck {
		if sqli, fp := libinjection.IsSQLi(value); sqli {
			zap.L().Warn("reconcile: value looks like SQL injection, keeping it untouched",
				zap.String("property", prop),
				zap.String("fingerprint", string(fp)),
			)
			p.record(prop, i, value, OutcomeSuspicious, nil)
			return nil, nil
		}
	}

	var aliasErr error
	canon, status, err := lk.ResolveViaAugmentation(ctx, value)
	switch {
	case err != nil && interrupted(ctx, err):
		return nil, err
	case errors.Is(err, retriever.ErrAmbiguousRows):
		zap.L().Warn("reconcile: ambiguous alias, falling back to matching",
			zap.String("property", prop), zap.String("value", value), zap.Error(err))
		aliasErr = err
	case err != nil:
		p.abort(prop, i, err)
		return nil, nil
	case status == retriever.AugmentFound:
		p.resolved[prop][i] = canon
		p.record(prop, i, value, OutcomeAugmented, nil)
		return nil, nil
	}

	res, err := lk.FindCloseMatches(ctx, value, p.method, p.r.opts.Match)
	if err != nil {
		if interrupted(ctx, err) {
			return nil, err
		}
		p.abort(prop, i, err)
		return nil, nil
	}
	if aliasErr != nil {
		p.errs = append(p.errs, &PropertyError{Property: prop, Err: aliasErr})
	}

	top, ok := res.Top()
	switch {
	case !ok:
		p.record(prop, i, value, OutcomeNoMatch, nil)
		return nil, nil
	case top == value:
		p.record(prop, i, value, OutcomeExact, nil)
		return nil, nil
	case res.Kind() == model.MatchResolved:
		p.resolved[prop][i] = res.Value()
		p.record(prop, i, value, OutcomeAuto, nil)
		zap.L().Debug("reconcile: auto-accepted",
			zap.String("property", prop), zap.String("from", value), zap.String("to", res.Value()))
		return nil, nil
	}

	return p.newRequest(prop, i, value, res.Values(), false, ""), nil
}

func (p *Pass) newRequest(prop string, i int, current string, candidates []string, reentry bool, msg string) *Request {
	actions := []Action{ActionSelect}
	if !p.r.opts.DisableReentry {
		actions = append(actions, ActionReenter)
	}
	actions = append(actions, ActionKeep, ActionQuit)
	return &Request{
		ID:            uuid.New().String(),
		Property:      prop,
		Position:      i,
		OriginalValue: p.original[prop][i],
		CurrentValue:  current,
		Candidates:    candidates,
		Actions:       actions,
		Reentry:       reentry,
		Message:       msg,
	}
}

// Submit applies a decision to the pending request. A re-entered value is
// looked up with the strict method and, when it matches anything, produces
// a fresh pending request; call Advance to continue either way.
func (p *Pass) Submit(ctx context.Context, resp Response) error {
	if p.done {
		return ErrPassComplete
	}
	req := p.pending
	if req == nil {
		return ErrNoPending
	}

	action := resp.Action
	value := strings.TrimSpace(resp.Value)
	if action == "" {
		switch {
		case value == "":
			action = ActionKeep
		case slices.Contains(req.Candidates, value):
			action = ActionSelect
		case req.Allows(ActionReenter):
			action = ActionReenter
		default:
			action = ActionKeep
		}
	}

	switch action {
	case ActionSelect:
		if value != "" && slices.Contains(req.Candidates, value) {
			p.resolved[req.Property][req.Position] = value
			p.settlePending(OutcomeSelected)
			return nil
		}
		p.settlePending(OutcomeKept)
	case ActionReenter:
		if !req.Allows(ActionReenter) {
			p.settlePending(OutcomeKept)
			return nil
		}
		return p.reenter(ctx, req, value)
	case ActionKeep, ActionQuit:
		p.settlePending(OutcomeKept)
	default:
		return eris.Errorf("reconcile: unknown action %q", action)
	}
	return nil
}

func (p *Pass) reenter(ctx context.Context, req *Request, typed string) error {
	if typed == "" {
		next := *req
		next.Message = "enter a value to look up"
		p.pending = &next
		return nil
	}
	lk := p.r.lookups[req.Property]
	res, err := lk.FindCloseMatches(ctx, typed, model.MethodStrict, p.r.opts.Match)
	if err != nil {
		if interrupted(ctx, err) {
			// The request stays pending; the same answer can be resubmitted.
			return eris.Wrap(err, "reconcile: re-enter")
		}
		p.pending = nil
		p.abort(req.Property, req.Position, err)
		return nil
	}

	msg := ""
	if res.Kind() == model.MatchNone {
		msg = fmt.Sprintf("no close matches for %q, try again or keep the original", typed)
	}
	p.pending = p.newRequest(req.Property, req.Position, typed, res.Values(), true, msg)
	return nil
}

func (p *Pass) settlePending(outcome Outcome) {
	req := p.pending
	p.pending = nil
	p.record(req.Property, req.Position, req.OriginalValue, outcome, req.Candidates)
	p.vi = req.Position + 1
}

func (p *Pass) record(prop string, i int, original string, outcome Outcome, candidates []string) {
	p.decisions = append(p.decisions, Decision{
		Property:   prop,
		Position:   i,
		Original:   original,
		Resolved:   p.resolved[prop][i],
		Outcome:    outcome,
		Candidates: candidates,
	})
}

// abort stops resolving prop from position i on; remaining values keep
// their original form.
func (p *Pass) abort(prop string, i int, err error) {
	zap.L().Warn("reconcile: property aborted", zap.String("property", prop), zap.Error(err))
	p.failed[prop] = true
	p.errs = append(p.errs, &PropertyError{Property: prop, Err: err})
	for j := i; j < len(p.original[prop]); j++ {
		p.record(prop, j, p.original[prop][j], OutcomeFailed, nil)
	}
}

// fetchKeys looks up primary keys for every property. On a context error
// nothing is committed.
func (p *Pass) fetchKeys(ctx context.Context) error {
	pks := make(model.PrimaryKeyBundle, len(p.props))
	var errs []error
	for _, prop := range p.props {
		values := p.resolved[prop]
		empty := make([]*string, len(values))
		lk, ok := p.r.lookups[prop]
		if !ok || p.failed[prop] {
			pks[model.PKKey(prop)] = empty
			continue
		}
		keys, err := lk.FetchPrimaryKeys(ctx, values)
		if err != nil && interrupted(ctx, err) {
			return err
		}
		if err != nil || len(keys) != len(values) {
			if err == nil {
				err = eris.Errorf("reconcile: %d keys for %d values", len(keys), len(values))
			}
			zap.L().Warn("reconcile: primary key lookup failed", zap.String("property", prop), zap.Error(err))
			errs = append(errs, &PropertyError{Property: prop, Err: err})
			keys = empty
		}
		pks[model.PKKey(prop)] = keys
	}
	p.pks = pks
	p.errs = append(p.errs, errs...)
	return nil
}

// Result returns a snapshot of the pass. PrimaryKeys is nil until Done.
func (p *Pass) Result() *Result {
	resolved := make(model.ResolvedProperties, len(p.resolved))
	for k, v := range p.resolved {
		resolved[k] = append([]string(nil), v...)
	}
	return &Result{
		Method:      p.method,
		Original:    p.original.Clone(),
		Resolved:    resolved,
		PrimaryKeys: p.pks,
		Decisions:   append([]Decision(nil), p.decisions...),
		Errors:      append([]error(nil), p.errs...),
	}
}
