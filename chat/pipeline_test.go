package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/roombot/apperr"
	"github.com/onnwee/roombot/chatwork"
	"github.com/onnwee/roombot/command"
	"github.com/onnwee/roombot/counter"
	"github.com/onnwee/roombot/store"
)

var noon = time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)

type fakeRouter struct {
	mu     sync.Mutex
	inputs []command.Input
	reply  string
}

func (f *fakeRouter) Route(_ context.Context, in command.Input) command.Outcome {
	f.mu.Lock()
	f.inputs = append(f.inputs, in)
	f.mu.Unlock()
	if f.reply == "" {
		return command.Outcome{}
	}
	return command.Outcome{
		Drafts: []command.Draft{{RoomID: in.RoomID, Body: f.reply}},
		Rules:  []string{"keyword"},
	}
}

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	fail map[string]error
}

func (f *fakeSender) SendMessage(_ context.Context, room, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[room]; err != nil {
		return "", err
	}
	f.sent = append(f.sent, room+":"+body)
	return fmt.Sprintf("out-%d", len(f.sent)), nil
}

type fakeResolver struct {
	kinds map[string]string
	calls int
}

func (f *fakeResolver) RoomByID(_ context.Context, id string) (*chatwork.Room, error) {
	f.calls++
	kind, ok := f.kinds[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "test", "no such room")
	}
	return &chatwork.Room{Type: kind}, nil
}

type countingHistory struct {
	calls int
	page  counter.Page
}

func (h *countingHistory) FetchPage(_ context.Context, _, cursor string) (counter.Page, error) {
	h.calls++
	if cursor != "" {
		return counter.Page{}, nil
	}
	return h.page, nil
}

func newPipeline(t *testing.T) (*Pipeline, *store.Memory, *fakeRouter, *fakeSender) {
	t.Helper()
	st := store.NewMemory()
	c := counter.New(time.UTC)
	c.Now = func() time.Time { return noon }
	r := &fakeRouter{reply: "pong"}
	s := &fakeSender{}
	return NewPipeline(st, c, r, s), st, r, s
}

func event(msgID, body string) InboundEvent {
	return InboundEvent{
		RoomID:     "100",
		MessageID:  msgID,
		SenderID:   "7",
		SenderName: "Alice",
		Body:       body,
		SendTime:   noon,
		RoomKind:   chatwork.RoomTypeGroup,
	}
}

func TestIngestIsIdempotent(t *testing.T) {
	p, st, r, s := newPipeline(t)
	ctx := context.Background()

	first, err := p.Ingest(ctx, event("1", "ping"))
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	require.Len(t, first.Sent, 1)
	assert.Equal(t, "out-1", first.Sent[0].MessageID)

	second, err := p.Ingest(ctx, event("1", "ping"))
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Empty(t, second.Sent)

	logs, err := st.ListLogs(ctx, "100", 0)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
	assert.Len(t, r.inputs, 1)
	assert.Equal(t, []string{"100:pong"}, s.sent)
	assert.Equal(t, 1, p.Counter.Ranking("100").Total)
}

func TestIngestDuplicateAcrossRestart(t *testing.T) {
	p, st, _, s := newPipeline(t)
	ctx := context.Background()
	_, err := p.Ingest(ctx, event("1", "ping"))
	require.NoError(t, err)

	// a fresh process sharing the store must not answer the re-delivery
	c := counter.New(time.UTC)
	c.Now = func() time.Time { return noon }
	restarted := NewPipeline(st, c, &fakeRouter{reply: "pong"}, s)
	res, err := restarted.Ingest(ctx, event("1", "ping"))
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Len(t, s.sent, 1)
	assert.Equal(t, 0, c.Ranking("100").Total)
}

func TestIngestRejectsMalformed(t *testing.T) {
	p, st, r, _ := newPipeline(t)
	ev := event("", "ping")
	_, err := p.Ingest(context.Background(), ev)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindMalformed))

	logs, _ := st.ListLogs(context.Background(), "100", 0)
	assert.Empty(t, logs)
	assert.Empty(t, r.inputs)
}

func TestIngestEditIsLoggedNotRouted(t *testing.T) {
	p, st, r, _ := newPipeline(t)
	ctx := context.Background()
	_, err := p.Ingest(ctx, event("1", "ping"))
	require.NoError(t, err)

	edit := event("1", "ping (edited)")
	edit.Kind = store.EventUpdated
	res, err := p.Ingest(ctx, edit)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, "edit", res.Ignored)

	logs, _ := st.ListLogs(ctx, "100", 0)
	assert.Len(t, logs, 2)
	assert.Len(t, r.inputs, 1)
	assert.Equal(t, 1, p.Counter.Ranking("100").Total)
}

func TestIngestIgnoresOwnMessages(t *testing.T) {
	p, st, r, _ := newPipeline(t)
	p.BotAccountID = "7"
	res, err := p.Ingest(context.Background(), event("1", "ping"))
	require.NoError(t, err)
	assert.Equal(t, "self", res.Ignored)
	assert.Empty(t, r.inputs)
	logs, _ := st.ListLogs(context.Background(), "100", 0)
	assert.Len(t, logs, 1)
}

func TestIngestResolvesRoomKind(t *testing.T) {
	p, _, r, _ := newPipeline(t)
	res := &fakeResolver{kinds: map[string]string{"100": chatwork.RoomTypeDirect}}
	p.Rooms = res

	ev := event("1", "ping")
	ev.RoomKind = ""
	_, err := p.Ingest(context.Background(), ev)
	require.NoError(t, err)
	require.Len(t, r.inputs, 1)
	assert.True(t, r.inputs[0].Direct)

	other := event("2", "ping")
	other.RoomID = "200"
	other.RoomKind = ""
	_, err = p.Ingest(context.Background(), other)
	require.NoError(t, err)
	require.Len(t, r.inputs, 2)
	assert.False(t, r.inputs[1].Direct, "unknown rooms are treated as groups")
	assert.Equal(t, 2, res.calls)
}

func TestSendContinuesAfterFailure(t *testing.T) {
	p, _, _, s := newPipeline(t)
	s.fail = map[string]error{"300": fmt.Errorf("%w: 403", chatwork.ErrNotMember)}
	out := p.Send(context.Background(), []command.Draft{
		{RoomID: "300", Body: "a"},
		{RoomID: "100", Body: "b"},
	})
	require.Len(t, out, 2)
	assert.Contains(t, out[0].Error, "not a member")
	assert.Empty(t, out[0].MessageID)
	assert.Equal(t, "out-1", out[1].MessageID)
	assert.Equal(t, []string{"100:b"}, s.sent)
}

func TestSendFailureLevel(t *testing.T) {
	assert.Equal(t, slog.LevelInfo, sendFailureLevel(fmt.Errorf("%w: 403", chatwork.ErrNotMember)))
	assert.Equal(t, slog.LevelInfo, sendFailureLevel(context.Canceled))
	assert.Equal(t, slog.LevelWarn, sendFailureLevel(fmt.Errorf("%w: 401", chatwork.ErrUnauthorized)))
	assert.Equal(t, slog.LevelWarn, sendFailureLevel(errors.New("connection reset")))
}

func TestSendWithoutDraftsIsNoop(t *testing.T) {
	p, _, _, s := newPipeline(t)
	assert.Nil(t, p.Send(context.Background(), nil))
	assert.Empty(t, s.sent)
}

func TestIngestReconcilesOncePerRoom(t *testing.T) {
	p, _, _, _ := newPipeline(t)
	h := &countingHistory{page: counter.Page{Messages: []counter.HistoryMessage{
		{ID: "0", SenderID: "8", SenderName: "Bob", SentAt: noon.Add(-time.Hour)},
		{ID: "-1", SenderID: "8", SenderName: "Bob", SentAt: noon.Add(-13 * time.Hour)},
	}}}
	p.History = h
	ctx := context.Background()

	_, err := p.Ingest(ctx, event("1", "hi"))
	require.NoError(t, err)
	_, err = p.Ingest(ctx, event("2", "hi"))
	require.NoError(t, err)

	assert.Equal(t, 1, h.calls)
	rk := p.Counter.Ranking("100")
	assert.Equal(t, 3, rk.Total)
	assert.False(t, rk.Approximate)
	require.Len(t, rk.Entries, 2)
	assert.Equal(t, "7", rk.Entries[0].SenderID)
}

func TestIngestStoreFailureStillRoutes(t *testing.T) {
	p, _, r, s := newPipeline(t)
	p.Store = failingStore{Memory: store.NewMemory()}
	res, err := p.Ingest(context.Background(), event("1", "ping"))
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Len(t, r.inputs, 1)
	assert.Len(t, s.sent, 1)
}

type failingStore struct{ *store.Memory }

func (failingStore) AppendLog(context.Context, store.LogRecord) (bool, error) {
	return false, errors.New("database is locked")
}
