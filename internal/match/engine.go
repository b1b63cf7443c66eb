// Package match ranks known database values against a possibly misspelled
// input, using either strict sequence similarity or tiered fuzzy scoring.
package match

import (
	"sort"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/simula/soccer-rag/internal/model"
)

const (
	DefaultLimit     = 3
	DefaultThreshold = 80
	DefaultLowFloor  = 30
	// StrictCutoff drops nonsensical candidates in the strict method.
	StrictCutoff = 0.2
)

// Options tune a single lookup. Zero values fall back to the defaults.
type Options struct {
	Limit     int
	Threshold int
	LowFloor  int
}

func (o Options) withDefaults() Options {
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	if o.Threshold <= 0 {
		o.Threshold = DefaultThreshold
	}
	if o.LowFloor <= 0 {
		o.LowFloor = DefaultLowFloor
	}
	return o
}

// Find dispatches to Strict or Fuzzy.
func Find(method model.Method, target string, choices []string, opts Options) model.MatchResult {
	if method == model.MethodStrict {
		return Strict(target, choices, opts.withDefaults().Limit)
	}
	return Fuzzy(target, choices, opts)
}

// Strict returns up to n choices whose sequence ratio with target is at
// least StrictCutoff, best first. It never auto-resolves.
func Strict(target string, choices []string, n int) model.MatchResult {
	if n <= 0 {
		n = DefaultLimit
	}
	word := runes(target)

	type hit struct {
		value string
		ratio float64
	}
	var hits []hit
	m := difflib.NewMatcher(nil, word)
	for _, c := range choices {
		m.SetSeq1(runes(c))
		if m.RealQuickRatio() >= StrictCutoff && m.QuickRatio() >= StrictCutoff {
			if r := m.Ratio(); r >= StrictCutoff {
				hits = append(hits, hit{value: c, ratio: r})
			}
		}
	}

	// Equal ratios come out value-descending, as difflib's nlargest does.
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].ratio != hits[j].ratio {
			return hits[i].ratio > hits[j].ratio
		}
		return hits[i].value > hits[j].value
	})
	if len(hits) > n {
		hits = hits[:n]
	}

	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.value
	}
	return model.Candidates(out)
}

// Fuzzy scores up to Limit choices with WRatio and applies the acceptance
// tiers: a single score at or above Threshold resolves outright; several
// narrow to the exact ties at the top score; none fall back to everything
// at or above LowFloor, kept as a candidate list even when it has one entry.
func Fuzzy(target string, choices []string, opts Options) model.MatchResult {
	opts = opts.withDefaults()

	ordered := append([]string(nil), choices...)
	sort.Strings(ordered)
	top := Extract(target, ordered, opts.Limit)

	var accepted []Scored
	for _, s := range top {
		if s.Score >= opts.Threshold {
			accepted = append(accepted, s)
		}
	}

	switch len(accepted) {
	case 0:
		var low []string
		for _, s := range top {
			if s.Score >= opts.LowFloor {
				low = append(low, s.Value)
			}
		}
		return model.Candidates(low)
	case 1:
		return model.Resolved(accepted[0].Value)
	}

	best := accepted[0].Score
	var ties []string
	for _, s := range accepted {
		if s.Score == best {
			ties = append(ties, s.Value)
		}
	}
	if len(ties) == 1 {
		return model.Resolved(ties[0])
	}
	return model.Candidates(ties)
}
