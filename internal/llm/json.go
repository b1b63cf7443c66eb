package llm

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrNoJSON is returned when a reply holds no parsable JSON.
var ErrNoJSON = eris.New("llm: no JSON in response")

var thinkTags = regexp.MustCompile(`(?s)<think>.*?</think>`)

// ExtractJSON returns the first balanced JSON object or array in a model
// reply, after dropping <think> blocks and markdown fences.
func ExtractJSON(reply string) (string, error) {
	s := thinkTags.ReplaceAllString(reply, "")
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")

	for i := 0; i < len(s); i++ {
		if s[i] != '{' && s[i] != '[' {
			continue
		}
		if end, ok := balanced(s[i:]); ok {
			candidate := s[i : i+end]
			if json.Valid([]byte(candidate)) {
				return candidate, nil
			}
		}
	}
	if t := strings.TrimSpace(s); json.Valid([]byte(t)) {
		return t, nil
	}
	return "", ErrNoJSON
}

// balanced returns the length of the bracketed value that opens s, skipping
// brackets inside string literals.
func balanced(s string) (int, bool) {
	depth := 0
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}

// DecodeJSON extracts and unmarshals the JSON in reply into v.
func DecodeJSON(reply string, v any) error {
	raw, err := ExtractJSON(reply)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return eris.Wrap(err, "llm: decode JSON")
	}
	return nil
}
