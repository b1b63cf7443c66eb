// Package extract pulls soccer entities out of a free-text question.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/simula/soccer-rag/internal/llm"
	"github.com/simula/soccer-rag/internal/model"
	"github.com/simula/soccer-rag/internal/schema"
)

// Extractor turns text into candidate property sets, one per mentioned
// entity. Finding nothing is an empty slice, not an error.
type Extractor interface {
	Extract(ctx context.Context, text string) ([]model.CandidateProperties, error)
}

// DefaultInstructions describe the task to the model. "{{input}}" is
// replaced by the question; without it the question is appended.
const DefaultInstructions = `Extract and save the relevant entities mentioned in the following passage together with their properties.

Only extract the properties listed below.

The questions are soccer related. game_event are things like yellow cards, goals, assists, freekick etc.
Generic properties like "description", "home team", "away team", "game" etc. should NOT be extracted.

If a property is not present and is not required, do not include it in the output.
If no properties are found, return {"entities": []}.

Keep every value exactly as written in the passage, including spelling mistakes.

Here is an example:
'How many goals did Henry score for Arsnl in the 2015 season?'
{"entities": [{"person_name": ["Henry"], "team_name": ["Arsnl"], "year_season": ["2015"]}]}

Passage:
{{input}}`

// LLMExtractor asks a chat model for a JSON entity list.
type LLMExtractor struct {
	llm          llm.Completer
	schema       *schema.Schema
	instructions string
	maxTokens    int
}

// NewLLM builds an extractor. An empty instructions string uses
// DefaultInstructions.
func NewLLM(c llm.Completer, s *schema.Schema, instructions string, maxTokens int) *LLMExtractor {
	if strings.TrimSpace(instructions) == "" {
		instructions = DefaultInstructions
	}
	return &LLMExtractor{llm: c, schema: s, instructions: instructions, maxTokens: maxTokens}
}

// System renders the system prompt: the output contract and the property
// list with types.
func (e *LLMExtractor) System() string {
	var b strings.Builder
	b.WriteString("You extract entities for a soccer database. Reply with a single JSON object ")
	b.WriteString(`of the form {"entities": [{"<property>": ["<value>", ...]}]} and nothing else.`)
	b.WriteString("\n\nProperties:\n")
	required := make(map[string]bool, len(e.schema.Required))
	for _, r := range e.schema.Required {
		required[r] = true
	}
	for _, f := range e.schema.ExtractionSchema() {
		fmt.Fprintf(&b, "- %s: %s of %s", f.Name, f.Type, f.ItemType)
		if required[f.Name] {
			b.WriteString(" (required)")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (e *LLMExtractor) userPrompt(text string) string {
	if strings.Contains(e.instructions, "{{input}}") {
		return strings.ReplaceAll(e.instructions, "{{input}}", text)
	}
	return e.instructions + "\n\nPassage:\n" + text
}

func (e *LLMExtractor) Extract(ctx context.Context, text string) ([]model.CandidateProperties, error) {
	resp, err := e.llm.Complete(ctx, llm.Request{
		System:    e.System(),
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: e.userPrompt(text)}},
		MaxTokens: e.maxTokens,
		JSON:      true,
		Phase:     "extract",
	})
	if err != nil {
		return nil, eris.Wrap(err, "extract: complete")
	}

	entities, err := Parse(resp.Text, e.schema)
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		zap.L().Info("extract: no properties extracted", zap.String("text", text))
	}
	return entities, nil
}

// Parse reads a model reply. It accepts {"entities": [...]}, a bare array
// of objects, or a single object; scalar values become one-element lists,
// unknown properties and empty values are dropped.
func Parse(reply string, s *schema.Schema) ([]model.CandidateProperties, error) {
	raw, err := llm.ExtractJSON(reply)
	if err != nil {
		return nil, eris.Wrap(err, "extract: parse reply")
	}

	var objects []map[string]json.RawMessage
	switch strings.TrimSpace(raw)[0] {
	case '[':
		if err := json.Unmarshal([]byte(raw), &objects); err != nil {
			return nil, eris.Wrap(err, "extract: decode entity list")
		}
	default:
		var top map[string]json.RawMessage
		if err := json.Unmarshal([]byte(raw), &top); err != nil {
			return nil, eris.Wrap(err, "extract: decode reply")
		}
		if list, ok := top["entities"]; ok {
			if err := json.Unmarshal(list, &objects); err != nil {
				return nil, eris.Wrap(err, "extract: decode entities")
			}
		} else {
			objects = []map[string]json.RawMessage{top}
		}
	}

	var out []model.CandidateProperties
	for _, obj := range objects {
		c := make(model.CandidateProperties)
		for name, v := range obj {
			if _, ok := s.Lookup(name); !ok {
				zap.L().Debug("extract: dropping unknown property", zap.String("property", name))
				continue
			}
			if values := flatten(v); len(values) > 0 {
				c[name] = values
			}
		}
		if !c.Empty() {
			out = append(out, c)
		}
	}
	return out, nil
}

func flatten(raw json.RawMessage) []string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	var items []any
	if list, ok := v.([]any); ok {
		items = list
	} else {
		items = []any{v}
	}

	var out []string
	for _, it := range items {
		var s string
		switch x := it.(type) {
		case string:
			s = strings.TrimSpace(x)
		case float64:
			s = strconv.FormatFloat(x, 'f', -1, 64)
		case bool:
			s = strconv.FormatBool(x)
		}
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Static returns canned results keyed by exact text. Unknown text yields no
// entities.
type Static map[string][]model.CandidateProperties

func (s Static) Extract(_ context.Context, text string) ([]model.CandidateProperties, error) {
	out := make([]model.CandidateProperties, len(s[text]))
	for i, c := range s[text] {
		out[i] = c.Clone()
	}
	return out, nil
}

var (
	_ Extractor = (*LLMExtractor)(nil)
	_ Extractor = Static(nil)
)
