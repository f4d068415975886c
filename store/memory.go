package store

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Memory keeps everything in process maps.
type Memory struct {
	mu     sync.Mutex
	props  map[string]string
	logs   map[string][]LogRecord // room -> records in insertion order
	keys   map[logKey]struct{}
	events []DateEvent
	nextID int64
}

type logKey struct{ room, msg, kind string }

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		props: make(map[string]string),
		logs:  make(map[string][]LogRecord),
		keys:  make(map[logKey]struct{}),
	}
}

func (m *Memory) GetProperty(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.props[key]
	return v, ok, nil
}

func (m *Memory) SetProperty(_ context.Context, key, value string) error {
	m.mu.Lock()
	m.props[key] = value
	m.mu.Unlock()
	return nil
}

func (m *Memory) AppendLog(_ context.Context, rec LogRecord) (bool, error) {
	if rec.EventType == "" {
		rec.EventType = EventCreated
	}
	k := logKey{rec.RoomID, rec.MessageID, rec.EventType}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.keys[k]; dup {
		return false, nil
	}
	m.keys[k] = struct{}{}
	m.logs[rec.RoomID] = append(m.logs[rec.RoomID], rec)
	return true, nil
}

func (m *Memory) ListLogs(_ context.Context, roomID string, limit int) ([]LogRecord, error) {
	m.mu.Lock()
	recs := slices.Clone(m.logs[roomID])
	m.mu.Unlock()
	slices.SortStableFunc(recs, func(a, b LogRecord) int { return b.SendTime.Compare(a.SendTime) })
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

func (m *Memory) PruneLogs(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for room, recs := range m.logs {
		kept := recs[:0]
		for _, r := range recs {
			if !r.SendTime.IsZero() && r.SendTime.Before(cutoff) {
				delete(m.keys, logKey{r.RoomID, r.MessageID, r.EventType})
				n++
				continue
			}
			kept = append(kept, r)
		}
		if len(kept) == 0 {
			delete(m.logs, room)
		} else {
			m.logs[room] = kept
		}
	}
	return n, nil
}

func (m *Memory) AddEvent(_ context.Context, ev DateEvent) error {
	m.mu.Lock()
	m.nextID++
	ev.ID = m.nextID
	m.events = append(m.events, ev)
	m.mu.Unlock()
	return nil
}

func (m *Memory) ListEvents(_ context.Context, f EventFilter) ([]DateEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []DateEvent
	for _, ev := range m.events {
		if len(f.Dates) > 0 && !slices.Contains(f.Dates, ev.Date) {
			continue
		}
		out = append(out, ev)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) Ping(context.Context) error { return nil }
