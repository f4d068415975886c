// Package command turns one inbound chat message into the replies the bot
// should post. Rules are evaluated in a fixed order:
//
//  1. moderation (excessive emoji in a group room)
//  2. exact keyword replies
//  3. prefix commands such as /wiki or /role
//  4. the probabilistic trap
//
// Only one of keyword or prefix command fires per message. Moderation and the
// trap may fire next to it.
package command

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/roombot/chatwork"
	"github.com/onnwee/roombot/counter"
	"github.com/onnwee/roombot/sources"
	"github.com/onnwee/roombot/store"
	"github.com/onnwee/roombot/telemetry"
)

// Input is the normalized message the router inspects.
type Input struct {
	RoomID     string
	MessageID  string
	SenderID   string
	SenderName string
	Body       string
	SentAt     time.Time
	Direct     bool
}

// Draft is one outbound message. ReplyTo links it to the triggering message.
type Draft struct {
	RoomID       string `json:"room_id"`
	Body         string `json:"body"`
	ReplyTo      string `json:"reply_to,omitempty"`
	ReplyAccount string `json:"reply_account,omitempty"`
}

// Text renders the body with the reply marker when the draft is a reply.
func (d Draft) Text() string {
	if d.ReplyTo == "" || d.ReplyAccount == "" {
		return d.Body
	}
	return chatwork.Reply(d.ReplyAccount, d.RoomID, d.ReplyTo) + "\n" + d.Body
}

// Outcome is everything the router decided for one message.
type Outcome struct {
	Drafts []Draft  `json:"drafts"`
	Rules  []string `json:"rules"`
}

func (o *Outcome) add(rule string, d ...Draft) {
	o.Rules = append(o.Rules, rule)
	o.Drafts = append(o.Drafts, d...)
	telemetry.Inc(telemetry.CommandsDispatched, rule)
}

// Platform is the subset of the chat client the router reads and mutates.
type Platform interface {
	Members(ctx context.Context, roomID string) ([]chatwork.Member, error)
	Room(ctx context.Context, roomID string) (*chatwork.RoomInfo, error)
	Message(ctx context.Context, roomID, messageID string) (*chatwork.Message, error)
	UpdateMemberRoles(ctx context.Context, roomID string, roles chatwork.MemberRoles) (*chatwork.MemberRoles, error)
}

// Sources are the content lookups. Every method returns a usable value.
type Sources interface {
	YesNo(ctx context.Context) string
	WikiSummary(ctx context.Context, term string) string
	UserProfile(ctx context.Context, name string) string
	Project(ctx context.Context, id string) string
	Weather(ctx context.Context, regionCode string, horizon int) (*sources.Forecast, *sources.DayForecast)
	LatestEarthquake(ctx context.Context) *sources.Quake
	Lyrics(ctx context.Context, pageURL string) string
}

// Ranker exposes today's tally of a room.
type Ranker interface {
	Ranking(room string) counter.Ranking
}

// Router holds the rule tables and collaborators. Build it with New.
type Router struct {
	Platform Platform
	Sources  Sources
	Store    store.Store
	Counter  Ranker

	Keywords       []Keyword
	DefaultToggles Toggles
	// ModerationMin is the emoji count that triggers a warning.
	ModerationMin int
	Location      *time.Location

	// Rand draws from [0,1) and Now is the wall clock; tests replace both.
	Rand func() float64
	Now  func() time.Time

	commands map[string]*command
	order    []*command
}

// New returns a router with the default keyword table.
func New(p Platform, src Sources, st store.Store, c Ranker) *Router {
	r := &Router{
		Platform:      p,
		Sources:       src,
		Store:         st,
		Counter:       c,
		Keywords:      DefaultKeywords(),
		ModerationMin: 50,
		Location:      time.UTC,
		Rand:          rand.Float64,
		Now:           time.Now,
	}
	r.commands = make(map[string]*command, len(commandTable))
	for i := range commandTable {
		r.commands[commandTable[i].name] = &commandTable[i]
		r.order = append(r.order, &commandTable[i])
	}
	return r
}

// event carries per-message lazily resolved state.
type event struct {
	Input
	body string

	members    []chatwork.Member
	membersErr error
	fetched    bool
}

// role returns the sender's role, fetching the member list once per event.
func (r *Router) role(ctx context.Context, ev *event) (string, error) {
	members, err := r.freshMembers(ctx, ev)
	if err != nil {
		return "", err
	}
	for _, m := range members {
		if m.ID() == ev.SenderID {
			return m.Role, nil
		}
	}
	return "", nil
}

func (r *Router) freshMembers(ctx context.Context, ev *event) ([]chatwork.Member, error) {
	if !ev.fetched {
		ev.members, ev.membersErr = r.Platform.Members(ctx, ev.RoomID)
		ev.fetched = true
	}
	return ev.members, ev.membersErr
}

// Route evaluates every rule category for in.
func (r *Router) Route(ctx context.Context, in Input) Outcome {
	ctx, span := telemetry.StartSpan(ctx, "command", "command.route", telemetry.RoomAttr(in.RoomID))
	defer span.End()

	ev := &event{Input: in, body: chatwork.StripAddressing(in.Body)}
	var out Outcome

	r.moderate(ctx, ev, &out)
	if !r.keyword(ev, &out) {
		r.prefix(ctx, ev, &out)
	}
	r.trap(ctx, ev, &out)
	return out
}

var emojiRe = regexp.MustCompile(`\((?:` + strings.Join(quoteAll(emojiCodes), "|") + `)\)`)

var emojiCodes = []string{
	"roger", "bow", "cracker", "dance", "clap", "y", "sweat", "blush", "inlove",
	"talk", "yawn", "puke", "emo", "nod", "shake", "^^;", ":/", "whew", "flex",
	"gogo", "think", "please", "quick", "anger", "devil", "lightbulb", "h", "F",
	"eat", "^", "coffee", "beer", "handshake",
}

func quoteAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = regexp.QuoteMeta(s)
	}
	return out
}

// CountEmoji returns the number of bracketed emoji codes in body.
func CountEmoji(body string) int {
	return len(emojiRe.FindAllStringIndex(body, -1))
}

func (r *Router) moderate(ctx context.Context, ev *event, out *Outcome) {
	if ev.Direct || r.ModerationMin <= 0 {
		return
	}
	n := CountEmoji(ev.Input.Body)
	if n < r.ModerationMin {
		return
	}
	role, err := r.role(ctx, ev)
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("moderation: member lookup failed, treating sender as non-admin", slog.String("room", ev.RoomID), slog.Any("err", err))
	}
	if role == chatwork.RoleAdmin {
		return
	}
	body := chatwork.To(ev.SenderID, ev.SenderName) + "\n" +
		"絵文字の使用数が多すぎます（" + strconv.Itoa(n) + "個）。控えめにお願いします。"
	out.add("moderation", Draft{RoomID: ev.RoomID, Body: body})
}

func (r *Router) keyword(ev *event, out *Outcome) bool {
	for _, k := range r.Keywords {
		if ev.body == k.Match {
			out.add("keyword", r.reply(ev, k.Reply))
			return true
		}
	}
	return false
}

func (r *Router) trap(ctx context.Context, ev *event, out *Outcome) {
	t := r.toggles(ctx)
	draw := r.Rand()
	// role only matters when the admin boost could make the difference
	if draw >= ProbabilityFor(ev.SenderID, chatwork.RoleAdmin, t) {
		return
	}
	role := ""
	if t.AdminBoost && draw >= ProbabilityFor(ev.SenderID, "", t) {
		var err error
		if role, err = r.role(ctx, ev); err != nil {
			return
		}
	}
	p := ProbabilityFor(ev.SenderID, role, t)
	if draw >= p {
		return
	}
	body := chatwork.To(ev.SenderID, ev.SenderName) + "\n" +
		"トラップ発動！ 確率" + percent(p) + "の罠にかかりました。"
	out.add("trap", Draft{RoomID: ev.RoomID, Body: body})
}

func (r *Router) reply(ev *event, body string) Draft {
	return Draft{RoomID: ev.RoomID, Body: body, ReplyTo: ev.MessageID, ReplyAccount: ev.SenderID}
}

func (r *Router) now() time.Time {
	loc := r.Location
	if loc == nil {
		loc = time.UTC
	}
	return r.Now().In(loc)
}
