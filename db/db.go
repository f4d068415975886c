// Package db provides database connection helpers and schema migration for the
// durable store. Postgres (pgx) and SQLite (modernc) share one schema.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'
	_ "modernc.org/sqlite"              // pure-go sqlite driver registered as 'sqlite'
)

// Dialect selects SQL flavour differences (placeholders, upsert syntax, pragmas).
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// DriverName returns the database/sql driver registered for d.
func (d Dialect) DriverName() string {
	if d == SQLite {
		return "sqlite"
	}
	return "pgx"
}

// Connect opens a connection pool for the dialect. For SQLite the pool is
// pinned to one connection so writes serialize instead of failing with SQLITE_BUSY.
func Connect(ctx context.Context, d Dialect, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty dsn for %s", d)
	}
	dbx, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d, err)
	}
	if d == SQLite {
		dbx.SetMaxOpenConns(1)
		for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
			if _, err := dbx.ExecContext(ctx, pragma); err != nil {
				_ = dbx.Close()
				return nil, fmt.Errorf("sqlite %q: %w", pragma, err)
			}
		}
	}
	if err := dbx.PingContext(ctx); err != nil {
		_ = dbx.Close()
		return nil, fmt.Errorf("ping %s: %w", d, err)
	}
	return dbx, nil
}

// Migrate applies idempotent schema statements for the dialect. It is the
// fallback used for SQLite and for tests; Postgres deployments normally go
// through RunMigrations.
func Migrate(ctx context.Context, dbx *sql.DB, d Dialect) error {
	for i, s := range schema(d) {
		if _, err := dbx.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("%s migrate step %d failed: %w", d, i, err)
		}
	}
	return nil
}

func schema(d Dialect) []string {
	idCol := "id BIGSERIAL PRIMARY KEY"
	if d == SQLite {
		idCol = "id INTEGER PRIMARY KEY AUTOINCREMENT"
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS properties (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS message_log (
			room_id TEXT NOT NULL,
			message_id TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			sender_name TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL DEFAULT '',
			send_time BIGINT NOT NULL DEFAULT 0,
			update_time BIGINT NOT NULL DEFAULT 0,
			event_type TEXT NOT NULL DEFAULT 'created',
			PRIMARY KEY (room_id, message_id, event_type)
		)`,
		`CREATE TABLE IF NOT EXISTS date_events (
			` + idCol + `,
			date TEXT NOT NULL,
			description TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_message_log_room_time ON message_log(room_id, send_time)`,
		`CREATE INDEX IF NOT EXISTS idx_date_events_date ON date_events(date)`,
	}
}

// Rebind rewrites $N placeholders to ? for SQLite. Each $N must appear once
// and in ascending order; queries here are written that way.
func Rebind(d Dialect, query string) string {
	if d != SQLite {
		return query
	}
	var b strings.Builder
	b.Grow(len(query))
	for i := 0; i < len(query); i++ {
		c := query[i]
		if c == '$' && i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
			j := i + 1
			for j < len(query) && query[j] >= '0' && query[j] <= '9' {
				j++
			}
			if _, err := strconv.Atoi(query[i+1 : j]); err == nil {
				b.WriteByte('?')
				i = j - 1
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}
