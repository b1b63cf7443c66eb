package agent

import (
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/simula/soccer-rag/internal/match"
)

// Example is a tested question / SQL pair shown to the model.
type Example struct {
	Input string `yaml:"input" json:"input"`
	Query string `yaml:"query" json:"query"`
}

// LoadExamples reads a list of examples. The file may be JSON or YAML.
func LoadExamples(path string) ([]Example, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "agent: read examples %s", path)
	}
	var out []Example
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, eris.Wrapf(err, "agent: parse examples %s", path)
	}
	return out, nil
}

// SelectExamples returns the k examples whose input reads most like
// question. Equal scores keep file order.
func SelectExamples(examples []Example, question string, k int) []Example {
	if k <= 0 || len(examples) == 0 {
		return nil
	}
	type scored struct {
		ex    Example
		score int
	}
	ranked := make([]scored, len(examples))
	for i, ex := range examples {
		ranked[i] = scored{ex, match.Similarity(question, ex.Input)}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	if k > len(ranked) {
		k = len(ranked)
	}
	out := make([]Example, k)
	for i := range out {
		out[i] = ranked[i].ex
	}
	return out
}
