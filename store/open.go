package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/onnwee/roombot/db"
)

// Backend names accepted by Open.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
)

// Open connects the configured backend and brings its schema up to date.
// The returned close func is never nil.
func Open(ctx context.Context, backend, pgDSN, sqlitePath string) (Store, func() error, error) {
	noop := func() error { return nil }
	var (
		dialect db.Dialect
		dsn     string
	)
	switch backend {
	case BackendMemory:
		slog.Warn("using in-memory store; state is lost on restart", slog.String("component", "store"))
		return NewMemory(), noop, nil
	case BackendSQLite:
		if dir := filepath.Dir(sqlitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, noop, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		dialect, dsn = db.SQLite, sqlitePath
	case BackendPostgres, "":
		dialect, dsn = db.Postgres, pgDSN
	default:
		return nil, noop, fmt.Errorf("unknown store backend %q", backend)
	}

	dbx, err := db.Connect(ctx, dialect, dsn)
	if err != nil {
		return nil, noop, err
	}
	if err := db.Prepare(ctx, dbx, dialect); err != nil {
		_ = dbx.Close()
		return nil, noop, fmt.Errorf("migrate: %w", err)
	}
	slog.Info("store ready", slog.String("component", "store"), slog.String("dialect", string(dialect)))
	return NewSQL(dbx, dialect), dbx.Close, nil
}
