package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/onnwee/roombot/apperr"
	"github.com/onnwee/roombot/db"
	"github.com/onnwee/roombot/testutil"
)

// backends runs fn against every implementation available in this environment.
func backends(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemory()) })
	t.Run("sqlite", func(t *testing.T) { fn(t, NewSQL(testutil.SetupSQLite(t), db.SQLite)) })
	t.Run("postgres", func(t *testing.T) {
		dbx := testutil.SetupTestDB(t)
		for _, tbl := range []string{"properties", "message_log", "date_events"} {
			if _, err := dbx.Exec(`DELETE FROM ` + tbl); err != nil {
				t.Fatalf("clean %s: %v", tbl, err)
			}
		}
		fn(t, NewSQL(dbx, db.Postgres))
	})
}

func TestProperties(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if _, ok, err := s.GetProperty(ctx, "missing"); err != nil || ok {
			t.Fatalf("GetProperty(missing) = ok %v err %v", ok, err)
		}
		if err := s.SetProperty(ctx, "last_message_id:100", "5"); err != nil {
			t.Fatal(err)
		}
		if err := s.SetProperty(ctx, "last_message_id:100", "9"); err != nil {
			t.Fatal(err)
		}
		v, ok, err := s.GetProperty(ctx, "last_message_id:100")
		if err != nil || !ok || v != "9" {
			t.Errorf("GetProperty = %q %v %v, want 9", v, ok, err)
		}
		if got := Property(ctx, s, "last_message_id:100"); got != "9" {
			t.Errorf("Property = %q", got)
		}
	})
}

func TestAppendLogIdempotent(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		base := time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)
		rec := LogRecord{RoomID: "100", MessageID: "m1", SenderID: "7", SenderName: "Alice", Body: "hi", SendTime: base}

		inserted, err := s.AppendLog(ctx, rec)
		if err != nil || !inserted {
			t.Fatalf("first AppendLog = %v %v", inserted, err)
		}
		inserted, err = s.AppendLog(ctx, rec)
		if err != nil || inserted {
			t.Fatalf("second AppendLog = %v %v, want duplicate", inserted, err)
		}

		upd := rec
		upd.EventType = EventUpdated
		upd.Body = "hi (edited)"
		if inserted, _ := s.AppendLog(ctx, upd); !inserted {
			t.Errorf("updated event should be stored once")
		}
		if inserted, _ := s.AppendLog(ctx, upd); inserted {
			t.Errorf("updated event stored twice")
		}

		later := LogRecord{RoomID: "100", MessageID: "m2", SenderID: "8", Body: "yo", SendTime: base.Add(time.Minute)}
		if _, err := s.AppendLog(ctx, later); err != nil {
			t.Fatal(err)
		}
		if _, err := s.AppendLog(ctx, LogRecord{RoomID: "200", MessageID: "m1", SenderID: "7", SendTime: base}); err != nil {
			t.Fatal(err)
		}

		logs, err := s.ListLogs(ctx, "100", 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(logs) != 3 {
			t.Fatalf("ListLogs returned %d rows, want 3", len(logs))
		}
		if logs[0].MessageID != "m2" {
			t.Errorf("newest first: got %s", logs[0].MessageID)
		}
		if !logs[0].SendTime.Equal(later.SendTime) {
			t.Errorf("send time round trip = %v, want %v", logs[0].SendTime, later.SendTime)
		}
		if logs, _ := s.ListLogs(ctx, "100", 1); len(logs) != 1 {
			t.Errorf("limit ignored: %d rows", len(logs))
		}
	})
}

func TestPruneLogs(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		now := time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)
		for _, rec := range []LogRecord{
			{RoomID: "100", MessageID: "old", SenderID: "7", Body: "a", SendTime: now.AddDate(0, 0, -40)},
			{RoomID: "100", MessageID: "new", SenderID: "7", Body: "b", SendTime: now.Add(-time.Hour)},
			{RoomID: "200", MessageID: "old", SenderID: "8", Body: "c", SendTime: now.AddDate(0, 0, -31)},
			{RoomID: "200", MessageID: "undated", SenderID: "8", Body: "d"},
		} {
			if _, err := s.AppendLog(ctx, rec); err != nil {
				t.Fatal(err)
			}
		}
		n, err := s.PruneLogs(ctx, now.AddDate(0, 0, -30))
		if err != nil {
			t.Fatal(err)
		}
		if n != 2 {
			t.Errorf("pruned %d rows, want 2", n)
		}
		if logs, _ := s.ListLogs(ctx, "100", 10); len(logs) != 1 || logs[0].MessageID != "new" {
			t.Errorf("room 100 after prune = %+v", logs)
		}
		if logs, _ := s.ListLogs(ctx, "200", 10); len(logs) != 1 || logs[0].MessageID != "undated" {
			t.Errorf("room 200 after prune = %+v", logs)
		}
	})
}

func TestDateEvents(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for _, ev := range []DateEvent{
			{Date: "03/05", Description: "Founding Day"},
			{Date: "3/5", Description: "legacy row"},
			{Date: "12/25", Description: "Xmas"},
		} {
			if err := s.AddEvent(ctx, ev); err != nil {
				t.Fatal(err)
			}
		}
		got, err := s.ListEvents(ctx, EventFilter{Dates: []string{"03/05", "3/5"}})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 2 || got[0].Description != "Founding Day" || got[1].Description != "legacy row" {
			t.Errorf("ListEvents = %+v", got)
		}
		all, _ := s.ListEvents(ctx, EventFilter{})
		if len(all) != 3 {
			t.Errorf("unfiltered = %d rows, want 3", len(all))
		}
		if one, _ := s.ListEvents(ctx, EventFilter{Limit: 1}); len(one) != 1 {
			t.Errorf("limit = %d rows, want 1", len(one))
		}
	})
}

type brokenStore struct{ Memory }

func (*brokenStore) GetProperty(context.Context, string) (string, bool, error) {
	return "", false, apperr.Wrap(apperr.KindPersistenceUnavailable, "store.get_property", errors.New("connection refused"))
}

func TestPropertyTreatsFailureAsUnset(t *testing.T) {
	if got := Property(context.Background(), &brokenStore{}, "k"); got != "" {
		t.Errorf("Property on failure = %q, want empty", got)
	}
}

func TestSQLErrorsArePersistenceKind(t *testing.T) {
	dbx := testutil.SetupSQLite(t)
	s := NewSQL(dbx, db.SQLite)
	dbx.Close()
	err := s.SetProperty(context.Background(), "k", "v")
	if !apperr.Is(err, apperr.KindPersistenceUnavailable) {
		t.Fatalf("expected persistence_unavailable, got %v", err)
	}
}

func TestOpenMemory(t *testing.T) {
	s, closeFn, err := Open(context.Background(), BackendMemory, "", "")
	if err != nil {
		t.Fatal(err)
	}
	defer closeFn()
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping = %v", err)
	}
	if _, _, err := Open(context.Background(), "redis", "", ""); err == nil {
		t.Error("expected error for unknown backend")
	}
}
