package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/onnwee/roombot/apperr"
	"github.com/onnwee/roombot/db"
)

// SQL implements Store on Postgres or SQLite. Times are stored as unix seconds.
type SQL struct {
	DB      *sql.DB
	Dialect db.Dialect
}

// NewSQL wraps an open, migrated database.
func NewSQL(dbx *sql.DB, d db.Dialect) *SQL { return &SQL{DB: dbx, Dialect: d} }

func (s *SQL) q(query string) string { return db.Rebind(s.Dialect, query) }

func fail(op string, err error) error {
	return apperr.Wrap(apperr.KindPersistenceUnavailable, "store."+op, err)
}

func (s *SQL) GetProperty(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.DB.QueryRowContext(ctx, s.q(`SELECT value FROM properties WHERE key=$1`), key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fail("get_property", err)
	}
	return v, true, nil
}

func (s *SQL) SetProperty(ctx context.Context, key, value string) error {
	_, err := s.DB.ExecContext(ctx, s.q(`INSERT INTO properties(key, value) VALUES($1,$2)
		ON CONFLICT(key) DO UPDATE SET value=EXCLUDED.value`), key, value)
	if err != nil {
		return fail("set_property", err)
	}
	return nil
}

func (s *SQL) AppendLog(ctx context.Context, rec LogRecord) (bool, error) {
	if rec.EventType == "" {
		rec.EventType = EventCreated
	}
	res, err := s.DB.ExecContext(ctx, s.q(`INSERT INTO message_log(room_id, message_id, sender_id, sender_name, body, send_time, update_time, event_type)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT DO NOTHING`),
		rec.RoomID, rec.MessageID, rec.SenderID, rec.SenderName, rec.Body, unix(rec.SendTime), unix(rec.UpdateTime), rec.EventType)
	if err != nil {
		return false, fail("append_log", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fail("append_log", err)
	}
	return n > 0, nil
}

func (s *SQL) ListLogs(ctx context.Context, roomID string, limit int) ([]LogRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, s.q(`SELECT room_id, message_id, sender_id, sender_name, body, send_time, update_time, event_type
		FROM message_log WHERE room_id=$1 ORDER BY send_time DESC LIMIT $2`), roomID, limit)
	if err != nil {
		return nil, fail("list_logs", err)
	}
	defer rows.Close()
	var out []LogRecord
	for rows.Next() {
		var r LogRecord
		var sent, upd int64
		if err := rows.Scan(&r.RoomID, &r.MessageID, &r.SenderID, &r.SenderName, &r.Body, &sent, &upd, &r.EventType); err != nil {
			return nil, fail("list_logs", err)
		}
		r.SendTime = fromUnix(sent)
		r.UpdateTime = fromUnix(upd)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fail("list_logs", err)
	}
	return out, nil
}

func (s *SQL) PruneLogs(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx, s.q(`DELETE FROM message_log WHERE send_time > 0 AND send_time < $1`), unix(cutoff))
	if err != nil {
		return 0, fail("prune_logs", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fail("prune_logs", err)
	}
	return n, nil
}

func (s *SQL) AddEvent(ctx context.Context, ev DateEvent) error {
	_, err := s.DB.ExecContext(ctx, s.q(`INSERT INTO date_events(date, description) VALUES($1,$2)`), ev.Date, ev.Description)
	if err != nil {
		return fail("add_event", err)
	}
	return nil
}

func (s *SQL) ListEvents(ctx context.Context, f EventFilter) ([]DateEvent, error) {
	var (
		b    strings.Builder
		args []any
	)
	b.WriteString(`SELECT id, date, description FROM date_events`)
	if len(f.Dates) > 0 {
		b.WriteString(` WHERE date IN (`)
		for i, d := range f.Dates {
			if i > 0 {
				b.WriteByte(',')
			}
			args = append(args, d)
			fmt.Fprintf(&b, "$%d", len(args))
		}
		b.WriteByte(')')
	}
	b.WriteString(` ORDER BY id`)
	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	rows, err := s.DB.QueryContext(ctx, s.q(b.String()), args...)
	if err != nil {
		return nil, fail("list_events", err)
	}
	defer rows.Close()
	var out []DateEvent
	for rows.Next() {
		var ev DateEvent
		if err := rows.Scan(&ev.ID, &ev.Date, &ev.Description); err != nil {
			return nil, fail("list_events", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fail("list_events", err)
	}
	return out, nil
}

func (s *SQL) Ping(ctx context.Context) error {
	if err := s.DB.PingContext(ctx); err != nil {
		return fail("ping", err)
	}
	return nil
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(n, 0)
}
