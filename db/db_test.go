package db

import (
	"context"
	"database/sql"
	"os"
	"testing"
)

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	dbx, err := Connect(context.Background(), SQLite, "file:"+t.Name()+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { dbx.Close() })
	return dbx
}

func TestMigrateSQLite(t *testing.T) {
	dbx := openSQLite(t)
	ctx := context.Background()
	// twice: every statement must be idempotent
	for i := 0; i < 2; i++ {
		if err := Migrate(ctx, dbx, SQLite); err != nil {
			t.Fatalf("migrate pass %d: %v", i, err)
		}
	}
	for _, table := range []string{"properties", "message_log", "date_events"} {
		var name string
		err := dbx.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestMessageLogKeyRejectsDuplicates(t *testing.T) {
	dbx := openSQLite(t)
	ctx := context.Background()
	if err := Migrate(ctx, dbx, SQLite); err != nil {
		t.Fatal(err)
	}
	q := Rebind(SQLite, `INSERT INTO message_log(room_id, message_id, sender_id, event_type) VALUES($1,$2,$3,$4) ON CONFLICT DO NOTHING`)
	for i := 0; i < 2; i++ {
		if _, err := dbx.ExecContext(ctx, q, "100", "m1", "7", "created"); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	if _, err := dbx.ExecContext(ctx, q, "100", "m1", "7", "updated"); err != nil {
		t.Fatal(err)
	}
	var n int
	if err := dbx.QueryRowContext(ctx, `SELECT COUNT(*) FROM message_log`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("rows = %d, want 2 (one created, one updated)", n)
	}
}

func TestRebind(t *testing.T) {
	tests := []struct {
		dialect Dialect
		in      string
		want    string
	}{
		{Postgres, `SELECT 1 WHERE a=$1`, `SELECT 1 WHERE a=$1`},
		{SQLite, `SELECT 1 WHERE a=$1 AND b=$2`, `SELECT 1 WHERE a=? AND b=?`},
		{SQLite, `INSERT INTO t VALUES($1,$2,$10)`, `INSERT INTO t VALUES(?,?,?)`},
		{SQLite, `SELECT '$' || x FROM t`, `SELECT '$' || x FROM t`},
	}
	for _, tt := range tests {
		if got := Rebind(tt.dialect, tt.in); got != tt.want {
			t.Errorf("Rebind(%s, %q) = %q, want %q", tt.dialect, tt.in, got, tt.want)
		}
	}
}

func TestConnectEmptyDSN(t *testing.T) {
	if _, err := Connect(context.Background(), Postgres, ""); err == nil {
		t.Fatal("expected error for empty dsn")
	}
}

func TestMigratePostgres(t *testing.T) {
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set; skipping postgres migration test")
	}
	dbx, err := Connect(context.Background(), Postgres, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer dbx.Close()
	if err := Migrate(context.Background(), dbx, Postgres); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}
