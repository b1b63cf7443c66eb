package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/simula/soccer-rag/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		dsn = "soccer-rag.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS queries (
	id               TEXT PRIMARY KEY,
	prompt           TEXT NOT NULL,
	method           TEXT NOT NULL,
	extracted        TEXT,
	resolved         TEXT,
	primary_keys     TEXT,
	annotated_prompt TEXT NOT NULL DEFAULT '',
	answer           TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL,
	error            TEXT NOT NULL DEFAULT '',
	cost_usd         REAL NOT NULL DEFAULT 0,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_queries_status ON queries(status);
CREATE INDEX IF NOT EXISTS idx_queries_created_at ON queries(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveQuery(ctx context.Context, q *model.QueryRecord) error {
	prepare(q)
	cols, err := encodeColumns(q)
	if err != nil {
		return eris.Wrap(err, "sqlite")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO queries (id, prompt, method, extracted, resolved, primary_keys, annotated_prompt, answer, status, error, cost_usd, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			prompt = excluded.prompt,
			method = excluded.method,
			extracted = excluded.extracted,
			resolved = excluded.resolved,
			primary_keys = excluded.primary_keys,
			annotated_prompt = excluded.annotated_prompt,
			answer = excluded.answer,
			status = excluded.status,
			error = excluded.error,
			cost_usd = excluded.cost_usd,
			updated_at = excluded.updated_at`,
		q.ID, q.Prompt, string(q.Method),
		string(cols.extracted), string(cols.resolved), string(cols.pks),
		q.AnnotatedPrompt, q.Answer, string(q.Status), q.Error, q.CostUSD,
		q.CreatedAt, q.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: save query %s", q.ID)
}

const sqliteSelect = `SELECT id, prompt, method, extracted, resolved, primary_keys, annotated_prompt, answer, status, error, cost_usd, created_at, updated_at FROM queries`

func (s *SQLiteStore) GetQuery(ctx context.Context, id string) (*model.QueryRecord, error) {
	q, err := scanQuery(s.db.QueryRowContext(ctx, sqliteSelect+` WHERE id = ?`, id))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get query %s", id)
	}
	return q, nil
}

func (s *SQLiteStore) ListQueries(ctx context.Context, filter QueryFilter) ([]model.QueryRecord, error) {
	query := sqliteSelect + ` WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Method != "" {
		query += ` AND method = ?`
		args = append(args, string(filter.Method))
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, listLimit(filter), filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list queries")
	}
	defer rows.Close()

	var out []model.QueryRecord
	for rows.Next() {
		q, err := scanQuery(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: list queries")
		}
		out = append(out, *q)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate queries")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanQuery(row scannable) (*model.QueryRecord, error) {
	var q model.QueryRecord
	var extracted, resolved, pks sql.NullString

	err := row.Scan(&q.ID, &q.Prompt, &q.Method, &extracted, &resolved, &pks,
		&q.AnnotatedPrompt, &q.Answer, &q.Status, &q.Error, &q.CostUSD, &q.CreatedAt, &q.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan query")
	}

	cols := jsonColumns{
		extracted: []byte(extracted.String),
		resolved:  []byte(resolved.String),
		pks:       []byte(pks.String),
	}
	if err := cols.decode(&q); err != nil {
		return nil, err
	}
	return &q, nil
}

var _ Store = (*SQLiteStore)(nil)
