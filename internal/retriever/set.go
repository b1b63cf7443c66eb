package retriever

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/simula/soccer-rag/internal/datasource"
	"github.com/simula/soccer-rag/internal/schema"
)

// Set holds one Retriever per schema property, in schema order.
type Set struct {
	order  []string
	byName map[string]*Retriever
}

// NewSet builds retrievers for every property in s.
func NewSet(s *schema.Schema, src datasource.Source, opts ...Option) *Set {
	set := &Set{byName: make(map[string]*Retriever, len(s.Properties))}
	for _, p := range s.Properties {
		set.order = append(set.order, p.Name)
		set.byName[p.Name] = New(p, src, opts...)
	}
	return set
}

// Get returns the retriever for a property.
func (s *Set) Get(name string) (*Retriever, bool) {
	r, ok := s.byName[name]
	return r, ok
}

// Names returns property names in schema order.
func (s *Set) Names() []string {
	return append([]string(nil), s.order...)
}

// Warm loads every known value set concurrently so that later lookups only
// read cached data. Failures are logged per property and the first one is
// returned after all loads finish.
func (s *Set) Warm(ctx context.Context, concurrency int) error {
	if concurrency <= 0 {
		concurrency = 4
	}
	start := time.Now()

	g := new(errgroup.Group)
	g.SetLimit(concurrency)
	for _, name := range s.order {
		r := s.byName[name]
		g.Go(func() error {
			known, err := r.LoadKnownValues(ctx)
			if err != nil {
				zap.L().Warn("retriever: warm failed", zap.String("property", r.spec.Name), zap.Error(err))
				return err
			}
			zap.L().Debug("retriever: warmed", zap.String("property", r.spec.Name), zap.Int("values", len(known)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return eris.Wrap(err, "retriever: warm")
	}

	zap.L().Info("retriever: all properties warmed",
		zap.Int("properties", len(s.order)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}
