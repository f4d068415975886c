package counter

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// HistoryMessage is the slice of a platform message reconciliation needs.
type HistoryMessage struct {
	ID         string
	SenderID   string
	SenderName string
	SentAt     time.Time
}

// Page is one page of room history. Next is empty when the platform offers no
// older page. Full reports that the page was filled to the platform's limit,
// so older messages may exist even without a cursor.
type Page struct {
	Messages []HistoryMessage
	Next     string
	Full     bool
}

// HistoryFetcher pages through a room's history, newest page first.
type HistoryFetcher interface {
	FetchPage(ctx context.Context, room, cursor string) (Page, error)
}

// ReconcileResult describes what a history rebuild did.
type ReconcileResult struct {
	Pages    int
	Counted  int
	Complete bool
}

// Reconcile rebuilds today's tally for room from platform history. Messages
// sent before local midnight are ignored. If paging stops before reaching
// midnight the tally is flagged approximate. Messages already counted live
// are not counted twice.
func (c *Counter) Reconcile(ctx context.Context, room string, f HistoryFetcher) (ReconcileResult, error) {
	now := c.Now()
	midnight := c.Midnight(now)
	today := now.In(c.loc).Format(dateLayout)

	var (
		res    ReconcileResult
		found  []HistoryMessage
		cursor string
	)
	maxPages := c.MaxPages
	if maxPages <= 0 {
		maxPages = 1
	}
	for res.Pages < maxPages {
		page, err := f.FetchPage(ctx, room, cursor)
		if err != nil {
			if res.Pages == 0 {
				return res, fmt.Errorf("reconcile room %s: %w", room, err)
			}
			slog.Warn("history paging stopped early", slog.String("component", "counter"), slog.String("room", room), slog.Any("err", err))
			break
		}
		res.Pages++
		reachedMidnight := false
		for _, m := range page.Messages {
			if m.SentAt.Before(midnight) {
				reachedMidnight = true
				continue
			}
			if m.SentAt.In(c.loc).Format(dateLayout) != today {
				continue
			}
			found = append(found, m)
		}
		if reachedMidnight {
			res.Complete = true
			break
		}
		if page.Next == "" {
			res.Complete = !page.Full
			break
		}
		cursor = page.Next
	}

	sort.SliceStable(found, func(i, j int) bool { return found[i].SentAt.Before(found[j].SentAt) })

	c.mu.Lock()
	defer c.mu.Unlock()
	live := c.active(room, today)
	if live.date != today {
		// clock moved past the day we rebuilt
		return res, nil
	}
	rebuilt := newTally(today)
	for _, m := range found {
		if rebuilt.add(m.ID, m.SenderID, m.SenderName) {
			if _, dup := live.seen[m.ID]; !dup {
				res.Counted++
			}
		}
	}
	// replay live counts not covered by history, keeping history senders first
	overlap := make(map[string]int)
	for msgID, sender := range live.seen {
		if _, ok := rebuilt.seen[msgID]; ok {
			overlap[sender]++
		}
	}
	for _, id := range live.order {
		for n := live.counts[id] - overlap[id]; n > 0; n-- {
			rebuilt.add("", id, live.names[id])
		}
	}
	for msgID, sender := range live.seen {
		rebuilt.seen[msgID] = sender
	}
	rebuilt.approximate = !res.Complete
	rebuilt.reconciled = true
	c.rooms[room] = rebuilt
	return res, nil
}
