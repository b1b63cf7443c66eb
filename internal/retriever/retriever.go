// Package retriever owns the known values of one property: it loads them from
// the database, ranks them against extracted text, follows alias tables and
// looks up primary keys.
package retriever

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/simula/soccer-rag/internal/datasource"
	"github.com/simula/soccer-rag/internal/match"
	"github.com/simula/soccer-rag/internal/model"
	"github.com/simula/soccer-rag/internal/schema"
)

// MultiRowPolicy decides what happens when a lookup expected to hit one row
// hits several.
type MultiRowPolicy string

const (
	MultiRowTakeFirst MultiRowPolicy = "first"
	MultiRowError     MultiRowPolicy = "error"
)

// ErrAmbiguousRows is returned under MultiRowError.
var ErrAmbiguousRows = eris.New("retriever: multiple rows matched")

// AugmentStatus is the outcome of an alias table lookup.
type AugmentStatus int

const (
	AugmentUnavailable AugmentStatus = iota // no alias table configured
	AugmentNotFound
	AugmentFound
)

// DataAccessError reports a missing table or column or a malformed query.
type DataAccessError struct {
	Property string
	Op       string
	Err      error
}

func (e *DataAccessError) Error() string {
	return fmt.Sprintf("retriever: %s: %s: %v", e.Property, e.Op, e.Err)
}

func (e *DataAccessError) Unwrap() error { return e.Err }

// stripStandaloneDigits removes every maximal digit run that has no letter,
// digit or underscore on either side. Word characters are Unicode-aware, so
// "é1" keeps its digit.
func stripStandaloneDigits(s string) string {
	rs := []rune(s)
	isWord := func(r rune) bool { return r == '_' || unicode.IsLetter(r) || unicode.IsNumber(r) }

	var b strings.Builder
	for i := 0; i < len(rs); {
		if !unicode.IsDigit(rs[i]) {
			b.WriteRune(rs[i])
			i++
			continue
		}
		j := i
		for j < len(rs) && unicode.IsDigit(rs[j]) {
			j++
		}
		standalone := (i == 0 || !isWord(rs[i-1])) && (j == len(rs) || !isWord(rs[j]))
		if !standalone {
			b.WriteString(string(rs[i:j]))
		}
		i = j
	}
	return b.String()
}

// Retriever serves one PropertySpec. It is safe for concurrent use.
type Retriever struct {
	spec   schema.PropertySpec
	src    datasource.Source
	policy MultiRowPolicy

	mu     sync.Mutex
	loaded bool
	known  []string
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithMultiRowPolicy sets the policy for alias and primary key lookups.
func WithMultiRowPolicy(p MultiRowPolicy) Option {
	return func(r *Retriever) {
		if p == MultiRowError {
			r.policy = MultiRowError
		} else {
			r.policy = MultiRowTakeFirst
		}
	}
}

// New creates a Retriever. Nothing is queried until first use.
func New(spec schema.PropertySpec, src datasource.Source, opts ...Option) *Retriever {
	r := &Retriever{spec: spec, src: src, policy: MultiRowTakeFirst}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Spec returns the property this retriever serves.
func (r *Retriever) Spec() schema.PropertySpec { return r.spec }

// HasAugmentation reports whether an alias table is configured.
func (r *Retriever) HasAugmentation() bool { return r.spec.HasAugmentation() }

func (r *Retriever) q(ident string) string {
	return r.src.Dialect().Quote(ident)
}

func (r *Retriever) dataErr(op string, err error) error {
	return &DataAccessError{Property: r.spec.Name, Op: op, Err: err}
}

// LoadKnownValues scans the source column once and caches the distinct
// values. Non-numeric properties drop standalone digit runs, so
// "Schalke 04" is known as "Schalke".
func (r *Retriever) LoadKnownValues(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loaded {
		return r.known, nil
	}

	query := fmt.Sprintf("SELECT %s FROM %s", r.q(r.spec.DBColumn), r.q(r.spec.DBTable))
	rows, err := r.src.Query(ctx, query)
	if err != nil {
		return nil, r.dataErr("load known values", err)
	}

	set := make(map[string]struct{})
	for _, v := range rows.Strings(0) {
		if v == "" {
			continue
		}
		if !r.spec.Numeric {
			v = strings.TrimSpace(stripStandaloneDigits(v))
			if v == "" {
				continue
			}
		}
		set[v] = struct{}{}
	}

	known := make([]string, 0, len(set))
	for v := range set {
		known = append(known, v)
	}
	sort.Strings(known)

	r.known = known
	r.loaded = true
	zap.L().Debug("retriever: known values loaded",
		zap.String("property", r.spec.Name),
		zap.Int("rows", rows.Len()),
		zap.Int("distinct", len(known)),
	)
	return known, nil
}

// KnownValues returns the cached set, loading it on first call.
func (r *Retriever) KnownValues(ctx context.Context) ([]string, error) {
	return r.LoadKnownValues(ctx)
}

// ResolveViaAugmentation looks value up case-insensitively in the alias
// table and returns the canonical value of the row its foreign key points at.
func (r *Retriever) ResolveViaAugmentation(ctx context.Context, value string) (string, AugmentStatus, error) {
	if !r.spec.HasAugmentation() {
		return "", AugmentUnavailable, nil
	}
	d := r.src.Dialect()

	fkQuery := d.Limit(fmt.Sprintf("SELECT %s FROM %s WHERE LOWER(%s) = LOWER(%s)",
		r.q(r.spec.AugmentedFK), r.q(r.spec.AugmentedTable), r.q(r.spec.AugmentedColumn), d.Placeholder(1)), 2)
	rows, err := r.src.Query(ctx, fkQuery, value)
	if err != nil {
		return "", AugmentNotFound, r.dataErr("augmentation lookup", err)
	}
	fk, ok, err := r.single(rows, "augmentation", value)
	if err != nil || !ok {
		return "", AugmentNotFound, err
	}

	canonQuery := d.Limit(fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		r.q(r.spec.DBColumn), r.q(r.spec.DBTable), r.q(r.spec.PKColumn), d.Placeholder(1)), 2)
	rows, err = r.src.Query(ctx, canonQuery, fk)
	if err != nil {
		return "", AugmentNotFound, r.dataErr("augmentation follow", err)
	}
	canon, ok, err := r.single(rows, "augmentation target", datasource.ToString(fk))
	if err != nil {
		return "", AugmentNotFound, err
	}
	if !ok || datasource.ToString(canon) == "" {
		zap.L().Warn("retriever: alias points at a missing row",
			zap.String("property", r.spec.Name),
			zap.String("value", value),
			zap.String("fk", datasource.ToString(fk)),
		)
		return "", AugmentNotFound, nil
	}
	return datasource.ToString(canon), AugmentFound, nil
}

// single picks the first non-NULL value of column 0, applying the
// multi-row policy when distinct values disagree.
func (r *Retriever) single(rows *datasource.Rows, what, key string) (any, bool, error) {
	var vals []any
	for _, row := range rows.Values {
		if len(row) > 0 && row[0] != nil {
			vals = append(vals, row[0])
		}
	}
	if len(vals) == 0 {
		return nil, false, nil
	}
	for _, v := range vals[1:] {
		if datasource.ToString(v) == datasource.ToString(vals[0]) {
			continue
		}
		if r.policy == MultiRowError {
			return nil, false, eris.Wrapf(ErrAmbiguousRows, "%s %s for %q", r.spec.Name, what, key)
		}
		zap.L().Warn("retriever: multiple rows matched, using the first",
			zap.String("property", r.spec.Name),
			zap.String("lookup", what),
			zap.String("value", key),
		)
		break
	}
	return vals[0], true, nil
}

// FindCloseMatches ranks the known values against target.
func (r *Retriever) FindCloseMatches(ctx context.Context, target string, method model.Method, opts match.Options) (model.MatchResult, error) {
	known, err := r.KnownValues(ctx)
	if err != nil {
		return model.NoMatch(), err
	}
	return match.Find(method, target, known, opts), nil
}

// FetchPrimaryKeys returns one key per value, aligned with values. Every
// entry is nil, without querying, when the property has no key column.
func (r *Retriever) FetchPrimaryKeys(ctx context.Context, values []string) ([]*string, error) {
	keys := make([]*string, len(values))
	if !r.spec.HasPK() {
		return keys, nil
	}
	d := r.src.Dialect()
	query := d.Limit(fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		r.q(r.spec.PKColumn), r.q(r.spec.DBTable), r.q(r.spec.DBColumn), d.Placeholder(1)), 2)

	seen := make(map[string]*string)
	for i, v := range values {
		if v == "" {
			continue
		}
		if k, ok := seen[v]; ok {
			keys[i] = k
			continue
		}
		rows, err := r.src.Query(ctx, query, v)
		if err != nil {
			return keys, r.dataErr("primary key lookup", err)
		}
		pk, ok, err := r.single(rows, "primary key", v)
		if err != nil {
			return keys, err
		}
		if ok {
			s := datasource.ToString(pk)
			keys[i] = &s
		}
		seen[v] = keys[i]
	}
	return keys, nil
}
