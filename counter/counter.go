// Package counter keeps the per-room, per-day message tally used for the
// daily ranking. Day boundaries are computed in one fixed time zone.
package counter

import (
	"sort"
	"sync"
	"time"

	"github.com/onnwee/roombot/telemetry"
)

const dateLayout = "2006-01-02"

// Entry is one line of a ranking.
type Entry struct {
	Rank       int    `json:"rank"`
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name"`
	Count      int    `json:"count"`
}

// Ranking is the ordered tally of one room for one day.
type Ranking struct {
	Room    string  `json:"room_id"`
	Date    string  `json:"date"`
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	// Approximate is set when the tally was rebuilt from history and the
	// history could not be read back to midnight.
	Approximate bool `json:"approximate"`
}

type tally struct {
	date        string
	counts      map[string]int
	names       map[string]string
	order       []string          // senders in first-seen order
	seen        map[string]string // message id -> sender
	approximate bool
	reconciled  bool
}

func newTally(date string) *tally {
	return &tally{
		date:   date,
		counts: make(map[string]int),
		names:  make(map[string]string),
		seen:   make(map[string]string),
	}
}

func (t *tally) add(msgID, senderID, senderName string) bool {
	if msgID != "" {
		if _, dup := t.seen[msgID]; dup {
			return false
		}
		t.seen[msgID] = senderID
	}
	if _, ok := t.counts[senderID]; !ok {
		t.order = append(t.order, senderID)
	}
	t.counts[senderID]++
	if senderName != "" {
		t.names[senderID] = senderName
	}
	return true
}

// Counter owns every room's active tally. Safe for concurrent use.
type Counter struct {
	mu    sync.Mutex
	loc   *time.Location
	rooms map[string]*tally

	// Now is the wall clock; tests replace it.
	Now func() time.Time
	// MaxPages bounds history paging during reconciliation.
	MaxPages int
}

// New returns a counter whose days start at midnight in loc.
func New(loc *time.Location) *Counter {
	if loc == nil {
		loc = time.UTC
	}
	return &Counter{
		loc:      loc,
		rooms:    make(map[string]*tally),
		Now:      time.Now,
		MaxPages: 5,
	}
}

// Location returns the zone day boundaries are computed in.
func (c *Counter) Location() *time.Location { return c.loc }

// Today returns the current local date stamp.
func (c *Counter) Today() string { return c.Now().In(c.loc).Format(dateLayout) }

// Midnight returns the start of the local day containing t.
func (c *Counter) Midnight(t time.Time) time.Time {
	lt := t.In(c.loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, c.loc)
}

// active returns the room's tally for date, replacing an older one. Caller holds mu.
func (c *Counter) active(room, date string) *tally {
	t, ok := c.rooms[room]
	if !ok || t.date < date {
		t = newTally(date)
		c.rooms[room] = t
		telemetry.SetTrackedRooms(len(c.rooms))
	}
	return t
}

// Record counts one message. sentAt decides the day (zero means now); a message
// older than the room's active day is dropped. A message id already counted
// today is ignored. It reports whether the tally changed.
func (c *Counter) Record(room, msgID, senderID, senderName string, sentAt time.Time) bool {
	if sentAt.IsZero() {
		sentAt = c.Now()
	}
	date := sentAt.In(c.loc).Format(dateLayout)

	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.active(room, date)
	if t.date != date {
		return false
	}
	return t.add(msgID, senderID, senderName)
}

// NeedsReconcile reports whether the room has no tally for today yet and has
// not been rebuilt from history today.
func (c *Counter) NeedsReconcile(room string) bool {
	today := c.Today()
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.rooms[room]
	if !ok || t.date != today {
		return true
	}
	return len(t.counts) == 0 && !t.reconciled
}

// Ranking returns today's tally sorted by count, ties kept in first-seen order.
func (c *Counter) Ranking(room string) Ranking {
	today := c.Today()
	r := Ranking{Room: room, Date: today, Entries: []Entry{}}

	c.mu.Lock()
	t, ok := c.rooms[room]
	if !ok || t.date != today {
		c.mu.Unlock()
		return r
	}
	for _, id := range t.order {
		r.Entries = append(r.Entries, Entry{SenderID: id, SenderName: t.names[id], Count: t.counts[id]})
	}
	r.Approximate = t.approximate
	c.mu.Unlock()

	sort.SliceStable(r.Entries, func(i, j int) bool { return r.Entries[i].Count > r.Entries[j].Count })
	for i := range r.Entries {
		r.Entries[i].Rank = i + 1
		r.Total += r.Entries[i].Count
	}
	return r
}

// Rooms lists rooms with a tally for today.
func (c *Counter) Rooms() []string {
	today := c.Today()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for id, t := range c.rooms {
		if t.date == today {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
