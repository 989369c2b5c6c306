// Package sqlstore implements the tenant repository and the audit store on
// database/sql. SQLite (modernc.org/sqlite) and PostgreSQL (lib/pq) are
// supported; queries are written with '?' placeholders and rebound per
// dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/Sentinel-Gate/tenantguard/internal/domain/fault"
)

// Dialect selects placeholder style and DDL.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// sqlitePragmas are applied to every sqlite DSN that does not set its own.
var sqlitePragmas = []string{
	"busy_timeout(5000)",
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"foreign_keys(OFF)",
	"temp_store(MEMORY)",
}

// DB is a migrated database handle shared by the stores of this package.
type DB struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

// Open connects to dsn with the given dialect, verifies the connection and
// applies the schema.
func Open(ctx context.Context, dialect Dialect, dsn string, logger *slog.Logger) (*DB, error) {
	var driver string
	switch dialect {
	case SQLite:
		driver = "sqlite"
		dsn = sqliteDSN(dsn)
	case Postgres:
		driver = "postgres"
	default:
		return nil, fmt.Errorf("unsupported sql dialect %q", dialect)
	}

	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fault.Unavailable("open database", err)
	}
	if dialect == SQLite {
		// SQLite allows one writer; a single connection also keeps
		// ":memory:" databases alive across calls.
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fault.Unavailable("ping database", err)
	}

	d := OpenDB(dialect, sqlDB, logger)
	if err := d.Migrate(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	logger.Info("database opened", "dialect", dialect)
	return d, nil
}

// OpenDB wraps an existing handle without migrating it.
func OpenDB(dialect Dialect, db *sql.DB, logger *slog.Logger) *DB {
	if logger == nil {
		logger = slog.Default()
	}
	return &DB{db: db, dialect: dialect, logger: logger}
}

// Migrate creates tables, indexes and the audit immutability trigger.
// Every statement is idempotent.
func (d *DB) Migrate(ctx context.Context) error {
	for i, stmt := range schema(d.dialect) {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return fault.Unavailable(fmt.Sprintf("migrate step %d", i+1), err)
		}
	}
	return nil
}

// Dialect returns the dialect of d.
func (d *DB) Dialect() Dialect { return d.dialect }

// Ping reports whether the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return fault.Unavailable("ping database", err)
	}
	return nil
}

// Close closes the underlying handle.
func (d *DB) Close() error {
	return d.db.Close()
}

// rebind rewrites '?' placeholders as $1..$N for postgres.
func (d *DB) rebind(query string) string {
	if d.dialect != Postgres {
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

func sqliteDSN(dsn string) string {
	if dsn == "" {
		dsn = ":memory:"
	}
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	var b strings.Builder
	b.WriteString(dsn)
	for _, p := range sqlitePragmas {
		b.WriteString(sep)
		b.WriteString("_pragma=")
		b.WriteString(p)
		sep = "&"
	}
	return b.String()
}
