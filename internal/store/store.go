// Package store persists the history of cleaned and answered questions.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/simula/soccer-rag/internal/model"
)

// ErrNotFound is returned when a query id is unknown.
var ErrNotFound = eris.New("store: query not found")

// QueryFilter specifies criteria for listing queries.
type QueryFilter struct {
	Status model.QueryStatus `json:"status,omitempty"`
	Method model.Method      `json:"method,omitempty"`
	Limit  int               `json:"limit,omitempty"`
	Offset int               `json:"offset,omitempty"`
}

// Store defines the persistence interface for query history.
type Store interface {
	// SaveQuery inserts or replaces a record, assigning ID and timestamps
	// when they are unset.
	SaveQuery(ctx context.Context, q *model.QueryRecord) error
	GetQuery(ctx context.Context, id string) (*model.QueryRecord, error)
	ListQueries(ctx context.Context, filter QueryFilter) ([]model.QueryRecord, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Config selects the backend.
type Config struct {
	Driver      string     `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string     `yaml:"database_url" mapstructure:"database_url"`
	Pool        PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// Open connects to the configured store and runs its migration.
func Open(ctx context.Context, cfg Config) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case "sqlite", "":
		s, err = NewSQLite(cfg.DatabaseURL)
	case "postgres":
		s, err = NewPostgres(ctx, cfg.DatabaseURL, &cfg.Pool)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func prepare(q *model.QueryRecord) {
	now := time.Now().UTC()
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = now
	}
	q.UpdatedAt = now
}

func listLimit(filter QueryFilter) int {
	if filter.Limit <= 0 {
		return 100
	}
	return filter.Limit
}

// jsonColumns holds the encoded map columns of a record.
type jsonColumns struct {
	extracted, resolved, pks []byte
}

func encodeColumns(q *model.QueryRecord) (jsonColumns, error) {
	var c jsonColumns
	var err error
	if c.extracted, err = json.Marshal(q.Extracted); err != nil {
		return c, eris.Wrap(err, "marshal extracted")
	}
	if c.resolved, err = json.Marshal(q.Resolved); err != nil {
		return c, eris.Wrap(err, "marshal resolved")
	}
	if c.pks, err = json.Marshal(q.PrimaryKeys); err != nil {
		return c, eris.Wrap(err, "marshal primary keys")
	}
	return c, nil
}

func (c jsonColumns) decode(q *model.QueryRecord) error {
	for _, col := range []struct {
		data []byte
		dst  any
		name string
	}{
		{c.extracted, &q.Extracted, "extracted"},
		{c.resolved, &q.Resolved, "resolved"},
		{c.pks, &q.PrimaryKeys, "primary keys"},
	} {
		if len(col.data) == 0 {
			continue
		}
		if err := json.Unmarshal(col.data, col.dst); err != nil {
			return eris.Wrapf(err, "unmarshal %s", col.name)
		}
	}
	return nil
}
