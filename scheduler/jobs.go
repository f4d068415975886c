package scheduler

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/roombot/chat"
	"github.com/onnwee/roombot/chatwork"
	"github.com/onnwee/roombot/command"
	"github.com/onnwee/roombot/config"
	"github.com/onnwee/roombot/counter"
	"github.com/onnwee/roombot/sources"
	"github.com/onnwee/roombot/store"
	"github.com/onnwee/roombot/telemetry"
)

// Job names.
const (
	JobPoll      = "poll"
	JobGreeting  = "greeting"
	JobRanking   = "ranking"
	JobWeather   = "weather"
	JobQuake     = "quake"
	JobRetention = "retention"
)

// Default schedules, seconds first, in the bot's time zone.
const (
	PollSchedule      = "*/15 * * * * *"
	GreetingSchedule  = "0 0 0 * * *"
	RankingSchedule   = "0 55 23 * * *"
	WeatherSchedule   = "0 0 7 * * *"
	QuakeSchedule     = "0 * * * * *"
	RetentionSchedule = "0 30 3 * * *"
)

// GreetingProperty prefixes the property holding the last greeting date of a room.
const GreetingProperty = "greeting_date:"

// rankingInline is the largest ranking posted as a message; longer ones are
// attached as CSV.
const rankingInline = 10

// Platform is the subset of the chat client the jobs use.
type Platform interface {
	Rooms(ctx context.Context) ([]chatwork.Room, error)
	SendMessage(ctx context.Context, roomID, body string) (string, error)
	UploadFile(ctx context.Context, roomID, filename string, content []byte, message string) (int64, error)
}

// Ranker exposes today's tally.
type Ranker interface {
	Ranking(room string) counter.Ranking
}

// TallyReconciler rebuilds a room's tally from history when it is empty.
type TallyReconciler interface {
	EnsureTally(ctx context.Context, room string)
}

// Forecaster looks up a regional forecast.
type Forecaster interface {
	Weather(ctx context.Context, regionCode string, horizon int) (*sources.Forecast, *sources.DayForecast)
}

// QuakeChecker reports a new earthquake worth announcing.
type QuakeChecker interface {
	Check(ctx context.Context) (*sources.Quake, bool)
}

// Poller pulls new messages for a few rooms.
type Poller interface {
	PollOnce(ctx context.Context) (chat.PollStats, error)
}

// Jobs holds what the batch jobs need. Each job is a bounded loop over its
// configured rooms with a pause between rooms.
type Jobs struct {
	Platform Platform
	Store    store.Store
	Counter  Ranker
	// Tally runs before each ranking snapshot; nil skips reconciliation.
	Tally   TallyReconciler
	Weather Forecaster
	Quakes  QuakeChecker
	Poller  Poller

	GreetingRooms []string
	RankingRooms  []string
	WeatherRooms  []config.WeatherTarget
	QuakeRooms    []string
	LogRoomID     string
	// KeepLogDays bounds the message log; 0 keeps everything.
	KeepLogDays int

	Pacing   time.Duration
	Location *time.Location
	Now      func() time.Time
	Sleep    func(ctx context.Context, d time.Duration) error
}

// NewJobs fills the room lists and pacing from cfg.
func NewJobs(cfg *config.Config, p Platform, st store.Store) *Jobs {
	return &Jobs{
		Platform:      p,
		Store:         st,
		GreetingRooms: cfg.GreetingRooms,
		RankingRooms:  cfg.RankingRooms,
		WeatherRooms:  cfg.WeatherRooms,
		QuakeRooms:    cfg.QuakeRooms,
		LogRoomID:     cfg.LogRoomID,
		KeepLogDays:   cfg.LogRetentionDays,
		Pacing:        cfg.RoomPacing,
		Location:      cfg.Location,
	}
}

// Register adds every job to s. The poll job is added only when a Poller is
// set, the retention job only when KeepLogDays is positive.
func (j *Jobs) Register(s *Scheduler) error {
	type reg struct {
		name, spec string
		fn         Func
	}
	regs := []reg{
		{JobGreeting, GreetingSchedule, j.Greeting},
		{JobRanking, RankingSchedule, j.Ranking},
		{JobWeather, WeatherSchedule, j.Forecast},
		{JobQuake, QuakeSchedule, j.Quake},
	}
	if j.Poller != nil {
		regs = append(regs, reg{JobPoll, PollSchedule, j.Poll})
	}
	if j.KeepLogDays > 0 {
		regs = append(regs, reg{JobRetention, RetentionSchedule, j.Retention})
	}
	for _, r := range regs {
		if err := s.Register(r.name, r.spec, r.fn); err != nil {
			return err
		}
	}
	s.OnFailure = j.ReportFailure
	return nil
}

// Poll runs one polling cycle.
func (j *Jobs) Poll(ctx context.Context) error {
	stats, err := j.Poller.PollOnce(ctx)
	if err != nil {
		return fmt.Errorf("poll: %w", err)
	}
	if stats.Messages > 0 || stats.Failures > 0 {
		telemetry.LoggerWithCorr(ctx).Info("poll cycle",
			slog.Any("rooms", stats.Rooms), slog.Int("messages", stats.Messages),
			slog.Int("ingested", stats.Ingested), slog.Int("seeded", stats.Seeded),
			slog.Int("failures", stats.Failures))
	}
	return nil
}

// Greeting posts the date-change greeting once per local day to every group
// room and to the other rooms listed in GreetingRooms.
func (j *Jobs) Greeting(ctx context.Context) error {
	rooms, err := j.Platform.Rooms(ctx)
	if err != nil {
		return fmt.Errorf("list rooms: %w", err)
	}
	now := j.now()
	today := now.Format(time.DateOnly)
	body := GreetingMessage(now, command.TodayEvents(ctx, j.Store, now))

	var targets []string
	for _, r := range rooms {
		if r.Type != chatwork.RoomTypeGroup && !slices.Contains(j.GreetingRooms, r.ID()) {
			continue
		}
		if store.Property(ctx, j.Store, GreetingProperty+r.ID()) == today {
			continue
		}
		targets = append(targets, r.ID())
	}
	return j.broadcast(ctx, targets, func(string) string { return body }, func(room string) {
		key := GreetingProperty + room
		if err := j.Store.SetProperty(ctx, key, today); err != nil {
			store.Skipped(ctx, "set_property", err, slog.String("key", key))
		}
	})
}

var weekdays = [...]string{"日", "月", "火", "水", "木", "金", "土"}

// GreetingMessage renders the date-change greeting.
func GreetingMessage(now time.Time, events []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "今日は%d年%d月%d日（%s）です。", now.Year(), int(now.Month()), now.Day(), weekdays[now.Weekday()])
	if len(events) > 0 {
		b.WriteString("\n今日の出来事:")
		for _, e := range events {
			b.WriteString("\n・" + e)
		}
	}
	return chatwork.Info("日付が変わりました", b.String())
}

// Ranking posts today's ranking to RankingRooms. A room with no tally yet is
// rebuilt from history first. Rankings longer than ten entries are attached
// as a CSV file with the top ten as the message.
func (j *Jobs) Ranking(ctx context.Context) error {
	var errs []error
	for i, room := range j.RankingRooms {
		if i > 0 {
			if err := j.pause(ctx); err != nil {
				return err
			}
		}
		if j.Tally != nil {
			j.Tally.EnsureTally(ctx, room)
		}
		rk := j.Counter.Ranking(room)
		text := command.FormatRanking(rk, rankingInline)
		var err error
		if len(rk.Entries) > rankingInline {
			_, err = j.Platform.UploadFile(ctx, room, "ranking-"+rk.Date+".csv", RankingCSV(rk), text)
		} else {
			_, err = j.Platform.SendMessage(ctx, room, text)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("room %s: %w", room, err))
		}
	}
	return errors.Join(errs...)
}

// RankingCSV renders every entry of rk as CSV with a header row.
func RankingCSV(rk counter.Ranking) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"rank", "account_id", "name", "count"})
	for _, e := range rk.Entries {
		_ = w.Write([]string{strconv.Itoa(e.Rank), e.SenderID, e.SenderName, strconv.Itoa(e.Count)})
	}
	w.Flush()
	return buf.Bytes()
}

// Forecast posts today's forecast to each weather room.
func (j *Jobs) Forecast(ctx context.Context) error {
	var errs []error
	for i, t := range j.WeatherRooms {
		if i > 0 {
			if err := j.pause(ctx); err != nil {
				return err
			}
		}
		f, d := j.Weather.Weather(ctx, t.RegionCode, 0)
		if f == nil || d == nil {
			errs = append(errs, fmt.Errorf("room %s: no forecast for region %s", t.RoomID, t.RegionCode))
			continue
		}
		if _, err := j.Platform.SendMessage(ctx, t.RoomID, sources.FormatWeather(f, d)); err != nil {
			errs = append(errs, fmt.Errorf("room %s: %w", t.RoomID, err))
		}
	}
	return errors.Join(errs...)
}

// Quake announces a new earthquake that passes the watcher's filter.
func (j *Jobs) Quake(ctx context.Context) error {
	q, ok := j.Quakes.Check(ctx)
	if !ok {
		return nil
	}
	telemetry.LoggerWithCorr(ctx).Info("earthquake alert", slog.String("id", q.ID), slog.Int("max_scale", q.MaxScale))
	body := sources.FormatQuake(q)
	return j.broadcast(ctx, j.QuakeRooms, func(string) string { return body }, nil)
}

// Retention deletes message log rows older than KeepLogDays.
func (j *Jobs) Retention(ctx context.Context) error {
	cutoff := j.now().AddDate(0, 0, -j.KeepLogDays)
	n, err := j.Store.PruneLogs(ctx, cutoff)
	if err != nil {
		return err
	}
	telemetry.LoggerWithCorr(ctx).Info("message log pruned", slog.Int64("rows", n), slog.Time("cutoff", cutoff))
	return nil
}

// ReportFailure posts a failed run to the log room.
func (j *Jobs) ReportFailure(ctx context.Context, name string, err error) {
	if j.LogRoomID == "" || errors.Is(err, context.Canceled) {
		return
	}
	body := chatwork.Info("ジョブ失敗: "+name, err.Error())
	if _, serr := j.Platform.SendMessage(ctx, j.LogRoomID, body); serr != nil {
		telemetry.LoggerWithCorr(ctx).Warn("failure notice not delivered", slog.String("job", name), slog.Any("err", serr))
	}
}

// broadcast sends one message per room, pausing between rooms. sent runs
// after each successful send. Failures are collected, not fatal.
func (j *Jobs) broadcast(ctx context.Context, rooms []string, body func(room string) string, sent func(room string)) error {
	var errs []error
	for i, room := range rooms {
		if i > 0 {
			if err := j.pause(ctx); err != nil {
				return errors.Join(append(errs, err)...)
			}
		}
		if _, err := j.Platform.SendMessage(ctx, room, body(room)); err != nil {
			errs = append(errs, fmt.Errorf("room %s: %w", room, err))
			continue
		}
		if sent != nil {
			sent(room)
		}
	}
	return errors.Join(errs...)
}

func (j *Jobs) now() time.Time {
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}
	loc := j.Location
	if loc == nil {
		loc = time.UTC
	}
	return now().In(loc)
}

func (j *Jobs) pause(ctx context.Context) error {
	if j.Pacing <= 0 {
		return ctx.Err()
	}
	if j.Sleep != nil {
		return j.Sleep(ctx, j.Pacing)
	}
	t := time.NewTimer(j.Pacing)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
