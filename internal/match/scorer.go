package match

import (
	"math"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

var lower = cases.Lower(language.Und)

// Process normalizes a string for fuzzy scoring: NFKC, lowercase, every rune
// that is not a letter, digit or underscore replaced by a space, trimmed.
func Process(s string) string {
	s = lower.String(norm.NFKC.String(s))
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.TrimSpace(b.String())
}

func runes(s string) []string {
	out := make([]string, 0, utf8.RuneCountInString(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

func round(f float64) int {
	return int(math.Round(f))
}

// seqRatio is the raw 2*M/T similarity of two strings.
func seqRatio(a, b string) float64 {
	return difflib.NewMatcher(runes(a), runes(b)).Ratio()
}

// Ratio scores two strings 0-100 by sequence similarity. No preprocessing.
func Ratio(a, b string) int {
	if a == "" || b == "" {
		return 0
	}
	return round(100 * seqRatio(a, b))
}

// PartialRatio scores the best aligned window of the longer string against
// the shorter one.
func PartialRatio(a, b string) int {
	if a == "" || b == "" {
		return 0
	}
	short, long := runes(a), runes(b)
	if len(short) > len(long) {
		short, long = long, short
	}

	blocks := difflib.NewMatcher(short, long).GetMatchingBlocks()
	best := 0.0
	for _, blk := range blocks {
		start := blk.B - blk.A
		if start < 0 {
			start = 0
		}
		end := start + len(short)
		if end > len(long) {
			end = len(long)
		}
		r := difflib.NewMatcher(short, long[start:end]).Ratio()
		if r > 0.995 {
			return 100
		}
		if r > best {
			best = r
		}
	}
	return round(100 * best)
}

func sortedTokens(s string) []string {
	toks := strings.Fields(s)
	sort.Strings(toks)
	return toks
}

// TokenSortRatio compares strings after sorting their tokens.
func TokenSortRatio(a, b string) int {
	return tokenSort(a, b, Ratio)
}

// PartialTokenSortRatio is TokenSortRatio with partial alignment.
func PartialTokenSortRatio(a, b string) int {
	return tokenSort(a, b, PartialRatio)
}

func tokenSort(a, b string, score func(string, string) int) int {
	sa := strings.Join(sortedTokens(Process(a)), " ")
	sb := strings.Join(sortedTokens(Process(b)), " ")
	return score(sa, sb)
}

// TokenSetRatio compares the shared tokens of two strings against each
// side's remainder, so word order and repeated words do not matter.
func TokenSetRatio(a, b string) int {
	return tokenSet(a, b, Ratio)
}

// PartialTokenSetRatio is TokenSetRatio with partial alignment.
func PartialTokenSetRatio(a, b string) int {
	return tokenSet(a, b, PartialRatio)
}

func tokenSet(a, b string, score func(string, string) int) int {
	pa, pb := Process(a), Process(b)
	if pa == "" || pb == "" {
		return 0
	}

	ta := tokenSetOf(pa)
	tb := tokenSetOf(pb)

	var inter, onlyA, onlyB []string
	for t := range ta {
		if tb[t] {
			inter = append(inter, t)
		} else {
			onlyA = append(onlyA, t)
		}
	}
	for t := range tb {
		if !ta[t] {
			onlyB = append(onlyB, t)
		}
	}
	sort.Strings(inter)
	sort.Strings(onlyA)
	sort.Strings(onlyB)

	sect := strings.Join(inter, " ")
	combinedA := strings.TrimSpace(sect + " " + strings.Join(onlyA, " "))
	combinedB := strings.TrimSpace(sect + " " + strings.Join(onlyB, " "))

	best := score(sect, combinedA)
	if s := score(sect, combinedB); s > best {
		best = s
	}
	if s := score(combinedA, combinedB); s > best {
		best = s
	}
	return best
}

func tokenSetOf(s string) map[string]bool {
	out := make(map[string]bool)
	for _, t := range strings.Fields(s) {
		out[t] = true
	}
	return out
}

// WRatio blends the scorers above, weighting partial scores down when the
// strings differ a lot in length.
func WRatio(a, b string) int {
	pa, pb := Process(a), Process(b)
	if pa == "" || pb == "" {
		return 0
	}

	const unbaseScale = 0.95
	partialScale := 0.90
	tryPartial := true

	base := float64(Ratio(pa, pb))
	la, lb := float64(utf8.RuneCountInString(pa)), float64(utf8.RuneCountInString(pb))
	lenRatio := math.Max(la, lb) / math.Min(la, lb)
	if lenRatio < 1.5 {
		tryPartial = false
	}
	if lenRatio > 8 {
		partialScale = 0.6
	}

	if tryPartial {
		partial := float64(PartialRatio(pa, pb)) * partialScale
		ptsor := float64(PartialTokenSortRatio(pa, pb)) * unbaseScale * partialScale
		ptser := float64(PartialTokenSetRatio(pa, pb)) * unbaseScale * partialScale
		return round(math.Max(math.Max(base, partial), math.Max(ptsor, ptser)))
	}

	tsor := float64(TokenSortRatio(pa, pb)) * unbaseScale
	tser := float64(TokenSetRatio(pa, pb)) * unbaseScale
	return round(math.Max(base, math.Max(tsor, tser)))
}

// Similarity is a general purpose 0-100 score for free text, insensitive to
// word order.
func Similarity(a, b string) int {
	return TokenSetRatio(a, b)
}

// Scored pairs a choice with its score.
type Scored struct {
	Value string
	Score int
}

// Extract scores every choice against query with WRatio and returns the
// limit best, highest score first. Equal scores keep the order of choices.
func Extract(query string, choices []string, limit int) []Scored {
	pq := Process(query)
	scored := make([]Scored, 0, len(choices))
	for _, c := range choices {
		s := 0
		if pq != "" {
			s = WRatio(pq, c)
		}
		scored = append(scored, Scored{Value: c, Score: s})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}
