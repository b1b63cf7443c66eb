package agent

import (
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
)

// ErrUnsafeSQL marks a statement the agent refused to run.
var ErrUnsafeSQL = eris.New("agent: unsafe SQL")

var writeKeywords = map[string]bool{
	"INSERT": true,
	"UPDATE": true,
	"DELETE": true,
	"MERGE":  true,
}

// CheckReadOnly accepts a single SELECT or WITH statement and returns it
// without a trailing semicolon. Write keywords anywhere outside quoted text
// are refused, as is SELECT ... INTO.
func CheckReadOnly(sql string) (string, error) {
	stmt := strings.TrimSpace(sql)
	stmt = strings.TrimSpace(strings.TrimRight(stmt, "; \t\n"))
	if stmt == "" {
		return "", eris.Wrap(ErrUnsafeSQL, "empty statement")
	}

	words, semicolon := scanSQL(stmt)
	if semicolon {
		return "", eris.Wrap(ErrUnsafeSQL, "multiple statements")
	}
	if len(words) == 0 || (words[0].text != "SELECT" && words[0].text != "WITH") {
		first := ""
		if len(words) > 0 {
			first = words[0].text
		}
		return "", eris.Wrapf(ErrUnsafeSQL, "%s statements are not allowed", first)
	}

	for _, w := range words[1:] {
		switch {
		case w.text == "INTO":
			return "", eris.Wrap(ErrUnsafeSQL, "SELECT INTO is not allowed")
		case writeKeywords[w.text] && w.depth > 0:
			return "", eris.Wrap(ErrUnsafeSQL, "data-modifying CTE")
		case writeKeywords[w.text]:
			return "", eris.Wrapf(ErrUnsafeSQL, "%s statements are not allowed", w.text)
		}
	}
	return stmt, nil
}

type sqlWord struct {
	text  string // upper-cased
	depth int    // parenthesis nesting
}

// scanSQL splits s into bare words outside quoted text and identifiers, and
// reports a semicolon outside quotes.
func scanSQL(s string) ([]sqlWord, bool) {
	var (
		words     []sqlWord
		cur       strings.Builder
		quote     rune
		depth     int
		semicolon bool
	)
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, sqlWord{text: strings.ToUpper(cur.String()), depth: depth})
			cur.Reset()
		}
	}
	for _, r := range s {
		if quote != 0 {
			if r == quote {
				quote = 0
			}
			continue
		}
		switch {
		case r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r):
			cur.WriteRune(r)
			continue
		case r == '\'' || r == '"' || r == '`':
			quote = r
		case r == '[':
			quote = ']'
		case r == '(':
			flush()
			depth++
			continue
		case r == ')':
			flush()
			if depth > 0 {
				depth--
			}
			continue
		case r == ';':
			semicolon = true
		}
		flush()
	}
	flush()
	return words, semicolon
}
