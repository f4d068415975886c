// Package store is the persistence boundary of the bot: small key/value
// properties, the idempotent message log and date events.
//
// Two implementations share one contract: SQL (Postgres or SQLite) and an
// in-process Memory store that loses everything on restart.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/onnwee/roombot/telemetry"
)

// Event types recorded in the message log.
const (
	EventCreated = "created"
	EventUpdated = "updated"
)

// LogRecord is one row of the message log. (RoomID, MessageID, EventType) is unique.
type LogRecord struct {
	RoomID     string    `json:"room_id"`
	MessageID  string    `json:"message_id"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Body       string    `json:"body"`
	SendTime   time.Time `json:"send_time"`
	UpdateTime time.Time `json:"update_time,omitempty"`
	EventType  string    `json:"event_type"`
}

// DateEvent is a recurring calendar note such as an anniversary.
type DateEvent struct {
	ID          int64  `json:"id"`
	Date        string `json:"date"`
	Description string `json:"description"`
}

// EventFilter narrows ListEvents. An empty Dates matches every event.
type EventFilter struct {
	Dates []string
	Limit int
}

// Store is implemented by SQL and Memory.
type Store interface {
	// GetProperty returns ok=false when the key was never set.
	GetProperty(ctx context.Context, key string) (value string, ok bool, err error)
	SetProperty(ctx context.Context, key, value string) error
	// AppendLog inserts rec unless a row with the same key exists; inserted reports which.
	AppendLog(ctx context.Context, rec LogRecord) (inserted bool, err error)
	// ListLogs returns the newest records of a room first.
	ListLogs(ctx context.Context, roomID string, limit int) ([]LogRecord, error)
	// PruneLogs deletes records sent before cutoff and returns how many went.
	PruneLogs(ctx context.Context, cutoff time.Time) (int64, error)
	AddEvent(ctx context.Context, ev DateEvent) error
	ListEvents(ctx context.Context, f EventFilter) ([]DateEvent, error)
	Ping(ctx context.Context) error
}

// Property reads key and treats any failure as "not set", logging it.
// Callers cannot distinguish a failed read from a missing key.
func Property(ctx context.Context, s Store, key string) string {
	v, _, err := s.GetProperty(ctx, key)
	if err != nil {
		Skipped(ctx, "get_property", err, slog.String("key", key))
		return ""
	}
	return v
}

// Skipped records a persistence failure that the caller is going to ignore.
func Skipped(ctx context.Context, op string, err error, attrs ...any) {
	telemetry.Inc(telemetry.PersistenceErrors, op)
	args := append([]any{slog.String("component", "store"), slog.String("op", op), slog.Any("err", err)}, attrs...)
	telemetry.LoggerWithCorr(ctx).Warn("persistence failure, continuing", args...)
}
