package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/simula/soccer-rag/internal/db"
	"github.com/simula/soccer-rag/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	pgUpsertQuery = `INSERT INTO queries (id, prompt, method, extracted, resolved, primary_keys, annotated_prompt, answer, status, error, cost_usd, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			prompt = EXCLUDED.prompt,
			method = EXCLUDED.method,
			extracted = EXCLUDED.extracted,
			resolved = EXCLUDED.resolved,
			primary_keys = EXCLUDED.primary_keys,
			annotated_prompt = EXCLUDED.annotated_prompt,
			answer = EXCLUDED.answer,
			status = EXCLUDED.status,
			error = EXCLUDED.error,
			cost_usd = EXCLUDED.cost_usd,
			updated_at = EXCLUDED.updated_at`
	pgSelect = `SELECT id, prompt, method, extracted, resolved, primary_keys, annotated_prompt, answer, status, error, cost_usd, created_at, updated_at FROM queries`
)

// preparedStatements are prepared on each new connection.
var preparedStatements = map[string]string{
	"save_query": pgUpsertQuery,
	"get_query":  pgSelect + ` WHERE id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		// The queries table may not exist before the first Migrate.
		var exists bool
		if err := conn.QueryRow(ctx, `SELECT to_regclass('queries') IS NOT NULL`).Scan(&exists); err != nil || !exists {
			return nil
		}
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Close does not close it.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS queries (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	prompt           TEXT NOT NULL,
	method           TEXT NOT NULL,
	extracted        JSONB,
	resolved         JSONB,
	primary_keys     JSONB,
	annotated_prompt TEXT NOT NULL DEFAULT '',
	answer           TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL,
	error            TEXT NOT NULL DEFAULT '',
	cost_usd         DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_queries_status ON queries(status);
CREATE INDEX IF NOT EXISTS idx_queries_created_at ON queries(created_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveQuery(ctx context.Context, q *model.QueryRecord) error {
	prepare(q)
	cols, err := encodeColumns(q)
	if err != nil {
		return eris.Wrap(err, "postgres")
	}

	_, err = s.pool.Exec(ctx, pgUpsertQuery,
		q.ID, q.Prompt, string(q.Method),
		cols.extracted, cols.resolved, cols.pks,
		q.AnnotatedPrompt, q.Answer, string(q.Status), q.Error, q.CostUSD,
		q.CreatedAt, q.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: save query %s", q.ID)
}

func (s *PostgresStore) GetQuery(ctx context.Context, id string) (*model.QueryRecord, error) {
	q, err := scanPGQuery(s.pool.QueryRow(ctx, pgSelect+` WHERE id = $1`, id))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get query %s", id)
	}
	return q, nil
}

func (s *PostgresStore) ListQueries(ctx context.Context, filter QueryFilter) ([]model.QueryRecord, error) {
	query := pgSelect + ` WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Method != "" {
		query += fmt.Sprintf(` AND method = $%d`, argIdx)
		args = append(args, string(filter.Method))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`
	query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, argIdx, argIdx+1)
	args = append(args, listLimit(filter), filter.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list queries")
	}
	defer rows.Close()

	var out []model.QueryRecord
	for rows.Next() {
		q, err := scanPGQuery(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: list queries")
		}
		out = append(out, *q)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate queries")
}

func scanPGQuery(row pgx.Row) (*model.QueryRecord, error) {
	var q model.QueryRecord
	var method, status string
	var cols jsonColumns

	err := row.Scan(&q.ID, &q.Prompt, &method, &cols.extracted, &cols.resolved, &cols.pks,
		&q.AnnotatedPrompt, &q.Answer, &status, &q.Error, &q.CostUSD, &q.CreatedAt, &q.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan query")
	}
	q.Method = model.Method(method)
	q.Status = model.QueryStatus(status)

	if err := cols.decode(&q); err != nil {
		return nil, err
	}
	return &q, nil
}

var _ Store = (*PostgresStore)(nil)
