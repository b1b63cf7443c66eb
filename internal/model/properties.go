package model

// CandidateProperties maps a property name to the raw values extracted for it.
// Duplicates are allowed and preserved.
type CandidateProperties map[string][]string

// ResolvedProperties maps a property name to the final chosen values. Each
// slice is index-aligned with the CandidateProperties it was resolved from.
type ResolvedProperties map[string][]string

// PrimaryKeyBundle maps "{property}_pk" to the primary key found for each
// resolved value. A nil entry means no key.
type PrimaryKeyBundle map[string][]*string

// PKKey returns the PrimaryKeyBundle key for a property.
func PKKey(property string) string {
	return property + "_pk"
}

// Clone returns a deep copy.
func (c CandidateProperties) Clone() CandidateProperties {
	out := make(CandidateProperties, len(c))
	for k, v := range c {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Count returns the total number of values across all properties.
func (c CandidateProperties) Count() int {
	n := 0
	for _, v := range c {
		n += len(v)
	}
	return n
}

// Empty reports whether no property carries a value.
func (c CandidateProperties) Empty() bool {
	return c.Count() == 0
}

// Merge concatenates a list of extracted entities into one
// CandidateProperties, keeping per-property order.
func Merge(entities []CandidateProperties) CandidateProperties {
	out := make(CandidateProperties)
	for _, e := range entities {
		for k, v := range e {
			out[k] = append(out[k], v...)
		}
	}
	return out
}

// Get returns the key for position i, or nil when absent.
func (b PrimaryKeyBundle) Get(property string, i int) *string {
	keys := b[PKKey(property)]
	if i < 0 || i >= len(keys) {
		return nil
	}
	return keys[i]
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}
