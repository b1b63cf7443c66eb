package model

import "encoding/json"

// MatchKind tags the outcome of a close-match lookup.
type MatchKind string

const (
	MatchNone       MatchKind = "none"       // nothing cleared the low floor
	MatchResolved   MatchKind = "resolved"   // a single value was auto-accepted
	MatchCandidates MatchKind = "candidates" // an ordered set needs a decision
)

// Method selects the scoring strategy for a resolution pass.
type Method string

const (
	MethodStrict Method = "strict"
	MethodFuzzy  Method = "fuzzy"
)

// ParseMethod maps a config or flag value to a Method. Unknown values fall
// back to fuzzy.
func ParseMethod(s string) Method {
	if Method(s) == MethodStrict {
		return MethodStrict
	}
	return MethodFuzzy
}

// MatchResult is the tagged outcome of a close-match lookup.
type MatchResult struct {
	kind   MatchKind
	values []string
}

// Resolved returns a result holding one auto-accepted value.
func Resolved(v string) MatchResult {
	return MatchResult{kind: MatchResolved, values: []string{v}}
}

// Candidates returns a result holding an ordered candidate set. An empty set
// yields NoMatch.
func Candidates(vs []string) MatchResult {
	if len(vs) == 0 {
		return NoMatch()
	}
	return MatchResult{kind: MatchCandidates, values: append([]string(nil), vs...)}
}

// NoMatch returns an empty result.
func NoMatch() MatchResult {
	return MatchResult{kind: MatchNone}
}

// Kind returns the outcome tag.
func (m MatchResult) Kind() MatchKind {
	if m.kind == "" {
		return MatchNone
	}
	return m.kind
}

// Value returns the resolved value, or "" unless Kind is MatchResolved.
func (m MatchResult) Value() string {
	if m.kind != MatchResolved {
		return ""
	}
	return m.values[0]
}

// Values returns every value carried by the result, best first.
func (m MatchResult) Values() []string {
	return append([]string(nil), m.values...)
}

// Top returns the best value and whether there was one.
func (m MatchResult) Top() (string, bool) {
	if len(m.values) == 0 {
		return "", false
	}
	return m.values[0], true
}

// MarshalJSON renders the result as {"kind": ..., "values": [...]}.
func (m MatchResult) MarshalJSON() ([]byte, error) {
	values := m.Values()
	if values == nil {
		values = []string{}
	}
	return json.Marshal(struct {
		Kind   MatchKind `json:"kind"`
		Values []string  `json:"values"`
	}{m.Kind(), values})
}
