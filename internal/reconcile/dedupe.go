package reconcile

import (
	"slices"

	"github.com/simula/soccer-rag/internal/model"
)

// RemoveDuplicates drops a key from a property set when its values repeat
// the last values seen for that key in an earlier set. The inputs are not
// modified.
func RemoveDuplicates(sets []model.CandidateProperties) []model.CandidateProperties {
	seen := make(map[string][]string)
	out := make([]model.CandidateProperties, len(sets))
	for i, s := range sets {
		c := s.Clone()
		for key, values := range c {
			if prev, ok := seen[key]; ok && slices.Equal(prev, values) {
				delete(c, key)
				continue
			}
			seen[key] = values
		}
		out[i] = c
	}
	return out
}
