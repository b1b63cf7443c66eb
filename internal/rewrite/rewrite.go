// Package rewrite turns a resolution result back into prompt text.
package rewrite

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/simula/soccer-rag/internal/model"
)

// Header opens the appended change log.
const Header = "\nUpdated Information:"

// Annotate appends one line per informative (original, resolved, key)
// triple to prompt. Properties are walked in order, then any remaining keys
// sorted. The prompt comes back unchanged when there is nothing to say.
func Annotate(prompt string, original model.CandidateProperties, resolved model.ResolvedProperties, pks model.PrimaryKeyBundle, order []string) string {
	lines := Lines(original, resolved, pks, order)
	if len(lines) == 0 {
		return prompt
	}
	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString(Header)
	for _, l := range lines {
		b.WriteString("\n- ")
		b.WriteString(l)
	}
	return b.String()
}

// Lines returns the annotation lines without the header.
func Lines(original model.CandidateProperties, resolved model.ResolvedProperties, pks model.PrimaryKeyBundle, order []string) []string {
	var lines []string
	for _, prop := range walkOrder(resolved, order) {
		orig := original[prop]
		res := resolved[prop]
		keys := pks[model.PKKey(prop)]
		for i := 0; i < len(orig) && i < len(res); i++ {
			var pk string
			if i < len(keys) && keys[i] != nil {
				pk = *keys[i]
			}
			if l := line(orig[i], res[i], pk); l != "" {
				lines = append(lines, l)
			}
		}
	}
	return lines
}

func line(orig, res, pk string) string {
	switch {
	case orig != res && pk != "":
		return fmt.Sprintf("%s (now referred to as %s) has a primary key: %s.", orig, res, pk)
	case orig != res:
		return fmt.Sprintf("%s (now referred to as %s).", orig, res)
	case pk != "":
		return fmt.Sprintf("%s has a primary key: %s.", orig, pk)
	}
	return ""
}

func walkOrder(resolved model.ResolvedProperties, order []string) []string {
	seen := make(map[string]bool, len(resolved))
	var out []string
	for _, name := range order {
		if _, ok := resolved[name]; ok && !seen[name] {
			out = append(out, name)
			seen[name] = true
		}
	}
	var rest []string
	for name := range resolved {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

// Template fills {{properties}} and {{pk}} placeholders with JSON renderings
// of the resolved values and primary keys.
func Template(tmpl string, resolved model.ResolvedProperties, pks model.PrimaryKeyBundle) (string, error) {
	props, err := json.Marshal(resolved)
	if err != nil {
		return "", fmt.Errorf("rewrite: marshal properties: %w", err)
	}
	keys, err := json.Marshal(pks)
	if err != nil {
		return "", fmt.Errorf("rewrite: marshal keys: %w", err)
	}
	out := strings.ReplaceAll(tmpl, "{{properties}}", string(props))
	return strings.ReplaceAll(out, "{{pk}}", string(keys)), nil
}
