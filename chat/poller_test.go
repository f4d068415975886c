package chat

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/roombot/chatwork"
	"github.com/onnwee/roombot/store"
)

type fakePollClient struct {
	rooms    []chatwork.Room
	messages map[string][]chatwork.Message
	failing  map[string]bool
	forced   []bool
}

func (f *fakePollClient) Rooms(context.Context) ([]chatwork.Room, error) { return f.rooms, nil }

func (f *fakePollClient) Messages(_ context.Context, room string, force bool) ([]chatwork.Message, error) {
	f.forced = append(f.forced, force)
	if f.failing[room] {
		return nil, errors.New("503")
	}
	return f.messages[room], nil
}

func msgAt(id string, sender int64) chatwork.Message {
	return chatwork.Message{MessageID: id, Account: chatwork.Account{AccountID: sender, Name: "u" + strconv.FormatInt(sender, 10)}, Body: "hello", SendTime: noon.Unix()}
}

func newPoller(t *testing.T, c *fakePollClient) (*Poller, *store.Memory, *[]time.Duration) {
	t.Helper()
	p, st, _, _ := newPipeline(t)
	var slept []time.Duration
	return &Poller{
		Client:        c,
		Pipeline:      p,
		Store:         st,
		RoomsPerCycle: 2,
		Pacing:        time.Second,
		Started:       noon.Add(-time.Hour),
		Sleep: func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
	}, st, &slept
}

func TestPollOnceRoundRobin(t *testing.T) {
	c := &fakePollClient{rooms: []chatwork.Room{
		{RoomID: 1, Type: chatwork.RoomTypeMy},
		{RoomID: 10, Type: chatwork.RoomTypeGroup},
		{RoomID: 20, Type: chatwork.RoomTypeDirect},
		{RoomID: 30, Type: chatwork.RoomTypeGroup},
	}}
	p, _, slept := newPoller(t, c)
	ctx := context.Background()

	var visited [][]string
	for range 3 {
		stats, err := p.PollOnce(ctx)
		require.NoError(t, err)
		visited = append(visited, stats.Rooms)
	}
	assert.Equal(t, [][]string{{"10", "20"}, {"30"}, {"10", "20"}}, visited)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, *slept)
}

func TestPollRoomSkipsSeenMessages(t *testing.T) {
	c := &fakePollClient{
		rooms:    []chatwork.Room{{RoomID: 10, Type: chatwork.RoomTypeGroup}},
		messages: map[string][]chatwork.Message{"10": {msgAt("101", 7), msgAt("102", 8)}},
	}
	p, st, _ := newPoller(t, c)
	ctx := context.Background()

	stats, err := p.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Messages)
	assert.Equal(t, 2, stats.Ingested)
	last, ok, _ := st.GetProperty(ctx, LastMessageProperty+"10")
	require.True(t, ok)
	assert.Equal(t, "102", last)

	c.messages["10"] = append(c.messages["10"], msgAt("103", 7))
	stats, err = p.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Messages)
	last, _, _ = st.GetProperty(ctx, LastMessageProperty+"10")
	assert.Equal(t, "103", last)
	assert.Equal(t, 3, p.Pipeline.Counter.Ranking("10").Total)
	assert.NotContains(t, c.forced, true)
}

func TestPollFirstVisitSeedsBacklog(t *testing.T) {
	late := msgAt("103", 8)
	late.Body = "ping"
	late.SendTime = noon.Add(2 * time.Hour).Unix()
	c := &fakePollClient{
		rooms:    []chatwork.Room{{RoomID: 10, Type: chatwork.RoomTypeGroup}},
		messages: map[string][]chatwork.Message{"10": {msgAt("101", 7), msgAt("102", 7), late}},
	}
	p, st, _ := newPoller(t, c)
	p.Started = noon.Add(time.Hour)
	ctx := context.Background()

	stats, err := p.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Messages)
	assert.Equal(t, 2, stats.Seeded)
	assert.Equal(t, 1, stats.Ingested)
	last, _, _ := st.GetProperty(ctx, LastMessageProperty+"10")
	assert.Equal(t, "103", last)

	logs, err := st.ListLogs(ctx, "10", 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "103", logs[0].MessageID)
	router := p.Pipeline.Router.(*fakeRouter)
	require.Len(t, router.inputs, 1)
	assert.Equal(t, "ping", router.inputs[0].Body)

	// once seeded, older messages of the same room are ingested normally
	c.messages["10"] = append(c.messages["10"], msgAt("104", 7))
	stats, err = p.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Seeded)
	assert.Equal(t, 1, stats.Ingested)
}

func TestPollOnceCountsFailures(t *testing.T) {
	c := &fakePollClient{
		rooms:   []chatwork.Room{{RoomID: 10, Type: chatwork.RoomTypeGroup}, {RoomID: 20, Type: chatwork.RoomTypeGroup}},
		failing: map[string]bool{"10": true},
		messages: map[string][]chatwork.Message{
			"20": {msgAt("5", 7)},
		},
	}
	p, _, _ := newPoller(t, c)
	stats, err := p.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failures)
	assert.Equal(t, 1, stats.Ingested)
}

func TestPollOnceStopsWhenCancelled(t *testing.T) {
	c := &fakePollClient{rooms: []chatwork.Room{{RoomID: 10, Type: chatwork.RoomTypeGroup}, {RoomID: 20, Type: chatwork.RoomTypeGroup}}}
	p, _, _ := newPoller(t, c)
	p.Sleep = nil
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.PollOnce(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewerID(t *testing.T) {
	assert.True(t, newerID("5", ""))
	assert.True(t, newerID("10", "9"))
	assert.False(t, newerID("9", "10"))
	assert.False(t, newerID("10", "10"))
	assert.True(t, newerID("abc", "abd"))
}

func TestHistoryAdapter(t *testing.T) {
	msgs := make([]chatwork.Message, 100)
	for i := range msgs {
		msgs[i] = msgAt(strconv.Itoa(i+1), 7)
	}
	c := &fakePollClient{messages: map[string][]chatwork.Message{"10": msgs}}
	h := History{Client: c}

	page, err := h.FetchPage(context.Background(), "10", "")
	require.NoError(t, err)
	assert.True(t, page.Full)
	assert.Empty(t, page.Next)
	require.Len(t, page.Messages, 100)
	assert.Equal(t, "7", page.Messages[0].SenderID)
	assert.Equal(t, []bool{true}, c.forced)

	next, err := h.FetchPage(context.Background(), "10", "anything")
	require.NoError(t, err)
	assert.Empty(t, next.Messages)
}
