package datasource

import (
	"fmt"
	"strings"
)

// Dialect captures the SQL differences between supported backends.
type Dialect string

const (
	SQLite    Dialect = "sqlite"
	Postgres  Dialect = "postgres"
	SQLServer Dialect = "sqlserver"
)

// Placeholder returns the bind parameter for 1-based position n.
func (d Dialect) Placeholder(n int) string {
	switch d {
	case Postgres:
		return fmt.Sprintf("$%d", n)
	case SQLServer:
		return fmt.Sprintf("@p%d", n)
	default:
		return "?"
	}
}

// Quote quotes a possibly schema-qualified identifier.
func (d Dialect) Quote(ident string) string {
	parts := strings.Split(ident, ".")
	for i, p := range parts {
		if d == SQLServer {
			parts[i] = "[" + strings.ReplaceAll(p, "]", "]]") + "]"
		} else {
			parts[i] = `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
		}
	}
	return strings.Join(parts, ".")
}

// Limit caps a single SELECT statement at n rows.
func (d Dialect) Limit(query string, n int) string {
	if d == SQLServer {
		trimmed := strings.TrimSpace(query)
		if len(trimmed) >= 6 && strings.EqualFold(trimmed[:6], "SELECT") {
			return fmt.Sprintf("SELECT TOP %d%s", n, trimmed[6:])
		}
		return trimmed
	}
	return fmt.Sprintf("%s LIMIT %d", strings.TrimRight(strings.TrimSpace(query), ";"), n)
}

// Describe names the dialect for prompts shown to a language model.
func (d Dialect) Describe() string {
	switch d {
	case Postgres:
		return "PostgreSQL"
	case SQLServer:
		return "Microsoft SQL Server (T-SQL)"
	default:
		return "SQLite"
	}
}
