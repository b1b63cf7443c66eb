// Package reconcile resolves extracted property values to canonical database
// values. Resolution runs as a Pass that suspends whenever a human has to
// choose between candidates and resumes when the choice is submitted, so a
// console and a networked front end drive it the same way.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/simula/soccer-rag/internal/match"
	"github.com/simula/soccer-rag/internal/model"
	"github.com/simula/soccer-rag/internal/retriever"
	"github.com/simula/soccer-rag/internal/schema"
)

// Lookup is the per-property behavior the reconciler needs.
// *retriever.Retriever implements it.
type Lookup interface {
	Spec() schema.PropertySpec
	ResolveViaAugmentation(ctx context.Context, value string) (string, retriever.AugmentStatus, error)
	FindCloseMatches(ctx context.Context, target string, method model.Method, opts match.Options) (model.MatchResult, error)
	FetchPrimaryKeys(ctx context.Context, values []string) ([]*string, error)
}

// Options tune a Reconciler.
type Options struct {
	Match              match.Options
	DisableReentry     bool // hide the "enter a new value" choice
	SkipInjectionCheck bool
}

// Reconciler resolves CandidateProperties against a fixed set of lookups.
type Reconciler struct {
	order   []string
	lookups map[string]Lookup
	opts    Options
}

// New builds a Reconciler over every retriever in set.
func New(set *retriever.Set, opts Options) *Reconciler {
	lookups := make(map[string]Lookup)
	for _, name := range set.Names() {
		r, _ := set.Get(name)
		lookups[name] = r
	}
	return NewWithLookups(set.Names(), lookups, opts)
}

// NewWithLookups builds a Reconciler from explicit lookups; order is the
// schema order used for walking properties.
func NewWithLookups(order []string, lookups map[string]Lookup, opts Options) *Reconciler {
	return &Reconciler{order: append([]string(nil), order...), lookups: lookups, opts: opts}
}

// Options returns the configured options.
func (r *Reconciler) Options() Options { return r.opts }

// Order returns the property order used for walking and annotation.
func (r *Reconciler) Order() []string { return append([]string(nil), r.order...) }

// propertyOrder lists the keys of c: schema order first, then any extra keys
// sorted.
func (r *Reconciler) propertyOrder(c model.CandidateProperties) []string {
	var out []string
	seen := make(map[string]bool)
	for _, name := range r.order {
		if _, ok := c[name]; ok {
			out = append(out, name)
			seen[name] = true
		}
	}
	var extra []string
	for k := range c {
		if !seen[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}

// Outcome records how a single value was settled.
type Outcome string

const (
	OutcomeAugmented  Outcome = "augmented"  // alias table hit
	OutcomeExact      Outcome = "exact"      // top match equals the value
	OutcomeNoMatch    Outcome = "no_match"   // nothing close, value kept
	OutcomeAuto       Outcome = "auto"       // fuzzy auto-accept
	OutcomeSelected   Outcome = "selected"   // chosen by a human
	OutcomeKept       Outcome = "kept"       // human chose no update or quit
	OutcomeAbandoned  Outcome = "abandoned"  // nobody answered
	OutcomeUnresolved Outcome = "unresolved" // ambiguous in a non-interactive pass
	OutcomeSuspicious Outcome = "suspicious" // looked like SQL injection, kept
	OutcomeUnknown    Outcome = "unknown_property"
	OutcomeFailed     Outcome = "error" // property aborted by a data access error
)

// Decision is the audit entry for one value.
type Decision struct {
	Property   string   `json:"property"`
	Position   int      `json:"position"`
	Original   string   `json:"original"`
	Resolved   string   `json:"resolved"`
	Outcome    Outcome  `json:"outcome"`
	Candidates []string `json:"candidates,omitempty"`
}

// PropertyError is a data access failure that aborted one property.
type PropertyError struct {
	Property string
	Err      error
}

func (e *PropertyError) Error() string {
	return fmt.Sprintf("reconcile: property %s: %v", e.Property, e.Err)
}

func (e *PropertyError) Unwrap() error { return e.Err }

// Result is the outcome of a finished Pass.
type Result struct {
	Method      model.Method              `json:"method"`
	Original    model.CandidateProperties `json:"original"`
	Resolved    model.ResolvedProperties  `json:"resolved"`
	PrimaryKeys model.PrimaryKeyBundle    `json:"primary_keys"`
	Decisions   []Decision                `json:"decisions"`
	Errors      []error                   `json:"-"`
}

// Err joins every property error, or returns nil.
func (r *Result) Err() error {
	return errors.Join(r.Errors...)
}

// Unresolved lists values that were left as-is while candidates existed.
func (r *Result) Unresolved() []Decision {
	var out []Decision
	for _, d := range r.Decisions {
		if d.Outcome == OutcomeUnresolved || d.Outcome == OutcomeAbandoned {
			out = append(out, d)
		}
	}
	return out
}

// Disambiguator answers a candidate presentation. Implementations may block.
type Disambiguator interface {
	Choose(ctx context.Context, req Request) (Response, error)
}

// DisambiguatorFunc adapts a function to Disambiguator.
type DisambiguatorFunc func(ctx context.Context, req Request) (Response, error)

func (f DisambiguatorFunc) Choose(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// ResolveAll runs a full pass, asking d whenever a decision is needed. A
// failed Choose leaves that value unchanged and resolution continues.
// Property-level data access errors are returned joined, alongside a
// complete Result.
func (r *Reconciler) ResolveAll(ctx context.Context, candidates model.CandidateProperties, method model.Method, d Disambiguator) (*Result, error) {
	p := r.Begin(candidates, method)
	for {
		req, err := p.Advance(ctx)
		if err != nil {
			return nil, err
		}
		if req == nil {
			break
		}
		resp, err := d.Choose(ctx, *req)
		if err != nil {
			zap.L().Warn("reconcile: disambiguation abandoned",
				zap.String("property", req.Property),
				zap.String("value", req.CurrentValue),
				zap.Error(err),
			)
			p.Skip()
			continue
		}
		if err := p.Submit(ctx, resp); err != nil {
			return nil, err
		}
	}
	res := p.Result()
	return res, res.Err()
}

// ResolveNonInteractive resolves everything it can without asking; values
// that would need a decision keep their original form.
func (r *Reconciler) ResolveNonInteractive(ctx context.Context, candidates model.CandidateProperties, method model.Method) (*Result, error) {
	res, err := r.Begin(candidates, method).Finish(ctx)
	if err != nil {
		return nil, err
	}
	return res, res.Err()
}
