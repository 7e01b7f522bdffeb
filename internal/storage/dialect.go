package storage

import (
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Dialect identifies the SQL flavour behind a DB.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

func (d Dialect) String() string {
	switch d {
	case Postgres:
		return "postgres"
	default:
		return "sqlite"
	}
}

// Rebind rewrites ? placeholders into the dialect's native form.
// Queries must not contain literal question marks.
func (d Dialect) Rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// JSON wraps a placeholder so it lands in a JSON column.
func (d Dialect) JSON(expr string) string {
	if d == Postgres {
		return "CAST(" + expr + " AS JSONB)"
	}
	return expr
}

// DB is a ledger database handle plus the dialect needed to talk to it.
type DB struct {
	*sql.DB
	Dialect Dialect

	pool *pgxpool.Pool
}

// Rebind is shorthand for db.Dialect.Rebind.
func (db *DB) Rebind(query string) string {
	return db.Dialect.Rebind(query)
}

// Close releases the sql handle and, for Postgres, the underlying pool.
func (db *DB) Close() error {
	err := db.DB.Close()
	if db.pool != nil {
		db.pool.Close()
	}
	return err
}

// timeLayout is fixed width so TEXT timestamps sort and compare correctly.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// FormatTime renders t in the stored timestamp format (UTC).
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// ParseTime reads a stored timestamp. Zero time is returned for bad input.
func ParseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
