// Package datasource gives read-only access to the soccer statistics
// database across SQLite, Postgres and SQL Server.
package datasource

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
)

// Source runs read-only queries against the soccer database.
type Source interface {
	Dialect() Dialect
	Query(ctx context.Context, query string, args ...any) (*Rows, error)
	Tables(ctx context.Context) ([]Table, error)
	Close() error
}

// Rows is a fully materialized result set.
type Rows struct {
	Columns []string
	Values  [][]any
}

// Len returns the row count.
func (r *Rows) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Values)
}

// Strings returns column i of every row as text, skipping NULLs.
func (r *Rows) Strings(col int) []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.Values))
	for _, row := range r.Values {
		if col >= len(row) || row[col] == nil {
			continue
		}
		out = append(out, ToString(row[col]))
	}
	return out
}

// Table describes a table for prompting.
type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// Column describes one table column.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Config selects and addresses a backend.
type Config struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
	DSN    string `yaml:"dsn" mapstructure:"dsn"`
}

// Open connects to the configured backend.
func Open(ctx context.Context, cfg Config) (Source, error) {
	switch Dialect(cfg.Driver) {
	case SQLite, "":
		return OpenSQLite(ctx, cfg.DSN)
	case Postgres:
		return OpenPostgres(ctx, cfg.DSN)
	case SQLServer:
		return OpenSQLServer(ctx, cfg.DSN)
	default:
		return nil, eris.Errorf("datasource: unknown driver %q", cfg.Driver)
	}
}

// ToString renders a scanned database value as text.
func ToString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
