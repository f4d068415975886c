package chat

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/onnwee/roombot/chatwork"
	"github.com/onnwee/roombot/counter"
	"github.com/onnwee/roombot/store"
	"github.com/onnwee/roombot/telemetry"
)

// LastMessageProperty is the property key prefix remembering the newest
// message processed per room.
const LastMessageProperty = "last_message_id:"

// PollClient is the subset of the chat client the poller and history adapter use.
type PollClient interface {
	Rooms(ctx context.Context) ([]chatwork.Room, error)
	Messages(ctx context.Context, roomID string, force bool) ([]chatwork.Message, error)
}

// Poller pulls new messages room by room, a few rooms per cycle, for
// deployments that cannot receive webhooks.
type Poller struct {
	Client   PollClient
	Pipeline *Pipeline
	Store    store.Store
	// RoomsPerCycle bounds the rooms visited by one PollOnce.
	RoomsPerCycle int
	// Pacing is the pause between two rooms of a cycle.
	Pacing time.Duration
	// Sleep waits for d or until ctx ends; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
	// Started bounds the backlog of a room polled for the first time:
	// messages sent before it only seed the room's last message id. Zero
	// means the first PollOnce.
	Started time.Time

	mu   sync.Mutex
	next int
}

// PollStats summarizes one cycle.
type PollStats struct {
	Rooms    []string `json:"rooms"`
	Messages int      `json:"messages"`
	Ingested int      `json:"ingested"`
	Seeded   int      `json:"seeded"`
	Failures int      `json:"failures"`
}

// PollOnce visits the next RoomsPerCycle rooms in round-robin order.
func (p *Poller) PollOnce(ctx context.Context) (PollStats, error) {
	var stats PollStats
	rooms, err := p.Client.Rooms(ctx)
	if err != nil {
		return stats, err
	}
	eligible := rooms[:0:0]
	for _, r := range rooms {
		if r.Type != chatwork.RoomTypeMy {
			eligible = append(eligible, r)
		}
	}
	batch, started := p.take(eligible)

	for i, room := range batch {
		if i > 0 && p.Pacing > 0 {
			if err := p.sleep(ctx, p.Pacing); err != nil {
				return stats, err
			}
		}
		stats.Rooms = append(stats.Rooms, room.ID())
		rs, err := p.pollRoom(ctx, room, started)
		stats.Messages += rs.Messages
		stats.Ingested += rs.Ingested
		stats.Seeded += rs.Seeded
		if err != nil {
			stats.Failures++
			slog.Warn("poll: room failed", slog.String("room", room.ID()), slog.Any("err", err))
		}
	}
	return stats, nil
}

func (p *Poller) take(rooms []chatwork.Room) ([]chatwork.Room, time.Time) {
	per := p.RoomsPerCycle
	if per <= 0 {
		per = 2
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Started.IsZero() {
		p.Started = time.Now()
	}
	if len(rooms) == 0 {
		return nil, p.Started
	}
	if p.next >= len(rooms) {
		p.next = 0
	}
	end := min(p.next+per, len(rooms))
	batch := rooms[p.next:end]
	p.next = end
	return batch, p.Started
}

// pollRoom ingests the messages of room newer than its stored last id. On the
// first poll of a room, messages sent before started are only counted as
// seeded so old commands are not replayed.
func (p *Poller) pollRoom(ctx context.Context, room chatwork.Room, started time.Time) (PollStats, error) {
	var rs PollStats
	msgs, err := p.Client.Messages(ctx, room.ID(), false)
	if err != nil {
		return rs, err
	}
	key := LastMessageProperty + room.ID()
	last := store.Property(ctx, p.Store, key)
	newest := last
	for _, m := range msgs {
		if !newerID(m.MessageID, last) {
			continue
		}
		rs.Messages++
		if newerID(m.MessageID, newest) {
			newest = m.MessageID
		}
		if last == "" && m.SentAt().Before(started) {
			rs.Seeded++
			continue
		}
		if _, err := p.Pipeline.Ingest(ctx, FromMessage(room, m)); err == nil {
			rs.Ingested++
		}
	}
	if newest != last {
		if err := p.Store.SetProperty(ctx, key, newest); err != nil {
			store.Skipped(ctx, "set_property", err, slog.String("key", key))
		}
	}
	log := telemetry.LoggerWithCorr(ctx)
	if rs.Seeded > 0 {
		log.Info("poll: first visit, backlog skipped", slog.String("room", room.ID()), slog.Int("seeded", rs.Seeded), slog.String("last_message_id", newest))
	}
	log.Debug("poll: room done", slog.String("room", room.ID()), slog.Int("fetched", rs.Messages))
	return rs, nil
}

// newerID reports whether id sorts after last. Chatwork ids are numeric
// strings; anything unparsable counts as newer and the pipeline dedups it.
func newerID(id, last string) bool {
	if last == "" {
		return true
	}
	a, err1 := strconv.ParseUint(id, 10, 64)
	b, err2 := strconv.ParseUint(last, 10, 64)
	if err1 != nil || err2 != nil {
		return id != last
	}
	return a > b
}

func (p *Poller) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// History adapts the chat client to counter.HistoryFetcher. Chatwork only
// exposes the latest 100 messages of a room, so there is a single page.
type History struct {
	Client PollClient
}

var _ counter.HistoryFetcher = History{}

// FetchPage returns the newest messages; any cursor yields an empty page.
func (h History) FetchPage(ctx context.Context, room, cursor string) (counter.Page, error) {
	if cursor != "" {
		return counter.Page{}, nil
	}
	msgs, err := h.Client.Messages(ctx, room, true)
	if err != nil {
		return counter.Page{}, err
	}
	page := counter.Page{Full: len(msgs) >= 100}
	for _, m := range msgs {
		page.Messages = append(page.Messages, counter.HistoryMessage{
			ID:         m.MessageID,
			SenderID:   strconv.FormatInt(m.Account.AccountID, 10),
			SenderName: m.Account.Name,
			SentAt:     m.SentAt(),
		})
	}
	return page, nil
}
