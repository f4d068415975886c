package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/onnwee/roombot/apperr"
	"github.com/onnwee/roombot/cache"
	"github.com/onnwee/roombot/chatwork"
	"github.com/onnwee/roombot/command"
	"github.com/onnwee/roombot/counter"
	"github.com/onnwee/roombot/store"
	"github.com/onnwee/roombot/telemetry"
)

// Sender posts a message and returns the platform message id.
type Sender interface {
	SendMessage(ctx context.Context, roomID, body string) (string, error)
}

// Router decides the replies for one message.
type Router interface {
	Route(ctx context.Context, in command.Input) command.Outcome
}

// RoomResolver looks up a room the bot has joined.
type RoomResolver interface {
	RoomByID(ctx context.Context, roomID string) (*chatwork.Room, error)
}

// SendResult is the fate of one draft.
type SendResult struct {
	Draft     command.Draft `json:"draft"`
	MessageID string        `json:"message_id,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Result reports what Ingest did with an event.
type Result struct {
	Duplicate bool            `json:"duplicate"`
	Ignored   string          `json:"ignored,omitempty"`
	Outcome   command.Outcome `json:"outcome"`
	Sent      []SendResult    `json:"sent,omitempty"`
}

// Pipeline is the single entry point for inbound messages: it logs each event
// once, counts it, routes it and posts the replies through the governed client.
type Pipeline struct {
	Store   store.Store
	Counter *counter.Counter
	Router  Router
	Sender  Sender
	// History rebuilds a room's tally after a restart; nil disables it.
	History counter.HistoryFetcher
	// Rooms resolves the room kind when a payload does not carry it.
	Rooms RoomResolver
	// BotAccountID identifies the bot's own messages, which are logged only.
	BotAccountID string

	mu        sync.Mutex
	seen      *cache.FIFO[struct{}]
	reconcile singleflight.Group
}

const (
	seenTTL  = 24 * time.Hour
	seenSize = 5000
)

// NewPipeline wires a pipeline with its re-delivery guard.
func NewPipeline(st store.Store, c *counter.Counter, r Router, s Sender) *Pipeline {
	return &Pipeline{
		Store:   st,
		Counter: c,
		Router:  r,
		Sender:  s,
		seen:    cache.NewFIFO[struct{}](seenTTL, seenSize),
	}
}

// claim marks the event as in progress and reports whether it was new to
// this process. Store uniqueness covers re-deliveries across restarts.
func (p *Pipeline) claim(ev InboundEvent) bool {
	key := ev.RoomID + "/" + ev.MessageID + "/" + ev.Kind
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.seen == nil {
		p.seen = cache.NewFIFO[struct{}](seenTTL, seenSize)
	}
	if _, ok := p.seen.Get(key); ok {
		return false
	}
	p.seen.Set(key, struct{}{})
	return true
}

// Ingest processes one event. Only malformed input is returned as an error;
// every downstream failure is logged and skipped.
func (p *Pipeline) Ingest(ctx context.Context, ev InboundEvent) (Result, error) {
	var res Result
	if ev.Source == "" {
		ev.Source = SourceWebhook
	}
	if err := ev.Validate(); err != nil {
		telemetry.Inc(telemetry.EventsRejected, "malformed")
		slog.Warn("ingest: rejected malformed event", slog.String("source", ev.Source), slog.String("room", ev.RoomID), slog.Any("err", err))
		return res, err
	}

	ctx = telemetry.WithCorrelation(ctx, ev.CorrelationID())
	ctx, span := telemetry.StartSpan(ctx, "chat", "chat.ingest", telemetry.RoomAttr(ev.RoomID))
	defer span.End()
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "ingest"), slog.String("room", ev.RoomID), slog.String("message", ev.MessageID))

	if !p.claim(ev) {
		telemetry.IncDuplicate()
		res.Duplicate = true
		return res, nil
	}
	inserted, err := p.Store.AppendLog(ctx, store.LogRecord{
		RoomID:     ev.RoomID,
		MessageID:  ev.MessageID,
		SenderID:   ev.SenderID,
		SenderName: ev.SenderName,
		Body:       ev.Body,
		SendTime:   ev.SendTime,
		UpdateTime: ev.UpdateTime,
		EventType:  ev.Kind,
	})
	switch {
	case err != nil:
		store.Skipped(ctx, "append_log", err, slog.String("room", ev.RoomID))
	case !inserted:
		telemetry.IncDuplicate()
		res.Duplicate = true
		return res, nil
	}
	telemetry.Inc(telemetry.EventsReceived, ev.Source, ev.Kind)

	if ev.Kind == store.EventUpdated {
		res.Ignored = "edit"
		return res, nil
	}
	if p.BotAccountID != "" && ev.SenderID == p.BotAccountID {
		res.Ignored = "self"
		return res, nil
	}

	if p.Counter != nil {
		p.EnsureTally(ctx, ev.RoomID)
		p.Counter.Record(ev.RoomID, ev.MessageID, ev.SenderID, ev.SenderName, ev.SendTime)
	}

	if ev.RoomKind == "" && p.Rooms != nil {
		if room, err := p.Rooms.RoomByID(ctx, ev.RoomID); err == nil {
			ev.RoomKind = room.Type
		} else {
			log.Debug("ingest: room kind unknown, assuming group", slog.Any("err", err))
		}
	}
	if p.Router == nil {
		return res, nil
	}
	res.Outcome = p.Router.Route(ctx, command.Input{
		RoomID:     ev.RoomID,
		MessageID:  ev.MessageID,
		SenderID:   ev.SenderID,
		SenderName: ev.SenderName,
		Body:       ev.Body,
		SentAt:     ev.SendTime,
		Direct:     ev.Direct(),
	})
	res.Sent = p.Send(ctx, res.Outcome.Drafts)
	telemetry.SetSpanSuccess(span)
	return res, nil
}

// Send posts drafts in order. A failed draft is logged and does not stop the rest.
func (p *Pipeline) Send(ctx context.Context, drafts []command.Draft) []SendResult {
	if len(drafts) == 0 || p.Sender == nil {
		return nil
	}
	out := make([]SendResult, 0, len(drafts))
	for _, d := range drafts {
		r := SendResult{Draft: d}
		id, err := p.Sender.SendMessage(ctx, d.RoomID, d.Text())
		if err != nil {
			r.Error = err.Error()
			telemetry.LoggerWithCorr(ctx).Log(ctx, sendFailureLevel(err), "ingest: send failed",
				slog.String("room", d.RoomID), slog.String("kind", apperr.KindOf(err).String()), slog.Any("err", err))
		} else {
			r.MessageID = id
		}
		out = append(out, r)
	}
	return out
}

// sendFailureLevel keeps expected rejections out of the warning stream. A
// rejected API token is never expected.
func sendFailureLevel(err error) slog.Level {
	if errors.Is(err, chatwork.ErrUnauthorized) {
		return slog.LevelWarn
	}
	if errors.Is(err, chatwork.ErrNotMember) || errors.Is(err, context.Canceled) {
		return slog.LevelInfo
	}
	return slog.LevelWarn
}

// EnsureTally rebuilds today's tally from history when the room has none.
// Concurrent callers for the same room share one rebuild.
func (p *Pipeline) EnsureTally(ctx context.Context, room string) {
	if p.History == nil || p.Counter == nil || !p.Counter.NeedsReconcile(room) {
		return
	}
	_, _, _ = p.reconcile.Do(room, func() (any, error) {
		if !p.Counter.NeedsReconcile(room) {
			return nil, nil
		}
		res, err := p.Counter.Reconcile(ctx, room, p.History)
		log := telemetry.LoggerWithCorr(ctx)
		if err != nil {
			log.Warn("ingest: tally reconciliation failed", slog.String("room", room), slog.Any("err", err))
			return nil, err
		}
		log.Info("ingest: tally rebuilt from history", slog.String("room", room), slog.Int("pages", res.Pages), slog.Int("counted", res.Counted), slog.Bool("complete", res.Complete))
		return res, nil
	})
}
