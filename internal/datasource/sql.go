package datasource

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/microsoft/go-mssqldb" // SQL Server driver
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLSource implements Source over database/sql.
type SQLSource struct {
	db      *sql.DB
	dialect Dialect
}

// OpenSQLite opens a SQLite database file read-only.
func OpenSQLite(ctx context.Context, path string) (*SQLSource, error) {
	if path == "" {
		return nil, eris.New("sqlite: empty database path")
	}
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + path + "?mode=ro"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// query_only is per connection.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA query_only=ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLSource{db: db, dialect: SQLite}, nil
}

// OpenSQLServer connects to SQL Server with a sqlserver:// URL.
func OpenSQLServer(ctx context.Context, dsn string) (*SQLSource, error) {
	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlserver: open")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "sqlserver: ping")
	}
	return &SQLSource{db: db, dialect: SQLServer}, nil
}

// NewSQLSource wraps an existing handle.
func NewSQLSource(db *sql.DB, dialect Dialect) *SQLSource {
	return &SQLSource{db: db, dialect: dialect}
}

func (s *SQLSource) Dialect() Dialect { return s.dialect }

func (s *SQLSource) Close() error {
	return s.db.Close()
}

// Query runs a statement and collects its rows. SQL Server has no
// read-only session setting the driver honors, so there every statement runs
// in a transaction that is always rolled back.
func (s *SQLSource) Query(ctx context.Context, query string, args ...any) (*Rows, error) {
	if s.dialect != SQLServer {
		return s.collect(ctx, s.db, query, args...)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: begin", s.dialect)
	}
	defer tx.Rollback() //nolint:errcheck
	return s.collect(ctx, tx, query, args...)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *SQLSource) collect(ctx context.Context, q queryer, query string, args ...any) (*Rows, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: query", s.dialect)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, eris.Wrapf(err, "%s: columns", s.dialect)
	}

	out := &Rows{Columns: cols}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, eris.Wrapf(err, "%s: scan", s.dialect)
		}
		for i := range vals {
			vals[i] = normalize(vals[i])
		}
		out.Values = append(out.Values, vals)
	}
	return out, eris.Wrapf(rows.Err(), "%s: iterate", s.dialect)
}

func (s *SQLSource) Tables(ctx context.Context) ([]Table, error) {
	if s.dialect == SQLite {
		return s.sqliteTables(ctx)
	}
	rows, err := s.Query(ctx, `SELECT TABLE_NAME, COLUMN_NAME, DATA_TYPE FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = 'dbo' ORDER BY TABLE_NAME, ORDINAL_POSITION`)
	if err != nil {
		return nil, err
	}
	return groupColumns(rows), nil
}

func (s *SQLSource) sqliteTables(ctx context.Context) ([]Table, error) {
	names, err := s.Query(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, err
	}
	var tables []Table
	for _, name := range names.Strings(0) {
		info, err := s.Query(ctx, "SELECT name, type FROM pragma_table_info(?)", name)
		if err != nil {
			return nil, err
		}
		t := Table{Name: name}
		for _, row := range info.Values {
			t.Columns = append(t.Columns, Column{Name: ToString(row[0]), Type: ToString(row[1])})
		}
		tables = append(tables, t)
	}
	return tables, nil
}

// groupColumns folds (table, column, type) rows into tables, keeping order.
func groupColumns(rows *Rows) []Table {
	var tables []Table
	for _, row := range rows.Values {
		name := ToString(row[0])
		if len(tables) == 0 || tables[len(tables)-1].Name != name {
			tables = append(tables, Table{Name: name})
		}
		t := &tables[len(tables)-1]
		t.Columns = append(t.Columns, Column{Name: ToString(row[1]), Type: ToString(row[2])})
	}
	return tables
}
