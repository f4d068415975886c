package command

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"unicode"

	"github.com/onnwee/roombot/apperr"
	"github.com/onnwee/roombot/chatwork"
	"github.com/onnwee/roombot/sources"
	"github.com/onnwee/roombot/store"
	"github.com/onnwee/roombot/telemetry"
)

type access int

const (
	accessAll access = iota
	accessGroup
	accessAdmin
)

type command struct {
	name    string
	minArgs int
	maxArgs int
	access  access
	usage   string
	summary string
	run     func(*Router, context.Context, *event, []string) string
}

// commandTable is the fixed set of prefix commands in help order. Names are
// matched as a whole token, so no name can shadow another.
var commandTable = []command{
	{name: "/help", usage: "/help", summary: "コマンド一覧", run: (*Router).cmdHelp},
	{name: "/yes-or-no", usage: "/yes-or-no", summary: "yes か no で答えます", run: (*Router).cmdYesNo},
	{name: "/wiki", minArgs: 1, maxArgs: 1, usage: "/wiki <検索語>", summary: "Wikipediaの概要", run: (*Router).cmdWiki},
	{name: "/scratch-user", minArgs: 1, maxArgs: 1, usage: "/scratch-user <ユーザー名>", summary: "Scratchユーザー情報", run: (*Router).cmdScratchUser},
	{name: "/scratch-project", minArgs: 1, maxArgs: 1, usage: "/scratch-project <プロジェクトID>", summary: "Scratchプロジェクト情報", run: (*Router).cmdScratchProject},
	{name: "/weather", minArgs: 1, maxArgs: 2, usage: "/weather <地域コード> [0-2]", summary: "天気予報 (0=今日, 1=明日, 2=明後日)", run: (*Router).cmdWeather},
	{name: "/quake", usage: "/quake", summary: "最新の地震情報", run: (*Router).cmdQuake},
	{name: "/lyrics", minArgs: 1, maxArgs: 1, usage: "/lyrics <URL>", summary: "歌詞ページの本文", run: (*Router).cmdLyrics},
	{name: "/omikuji", usage: "/omikuji", summary: "おみくじ", run: (*Router).cmdOmikuji},
	{name: "/ranking", usage: "/ranking", summary: "今日の発言数ランキング", run: (*Router).cmdRanking},
	{name: "/today", usage: "/today", summary: "今日の登録イベント", run: (*Router).cmdToday},
	{name: "/day-write", minArgs: 2, maxArgs: 2, usage: "/day-write <MM/DD> <内容>", summary: "日付イベントを登録", run: (*Router).cmdDayWrite},
	{name: "/quote", minArgs: 2, maxArgs: 2, usage: "/quote <ルームID> <メッセージID>", summary: "メッセージを引用", run: (*Router).cmdQuote},
	{name: "/members", access: accessGroup, usage: "/members", summary: "メンバー一覧", run: (*Router).cmdMembers},
	{name: "/roominfo", access: accessAdmin, usage: "/roominfo", summary: "ルーム情報 (管理者)", run: (*Router).cmdRoomInfo},
	{name: "/role", minArgs: 2, maxArgs: 2, access: accessAdmin, usage: "/role <admin|member|readonly> <アカウントID>", summary: "権限変更 (管理者)", run: (*Router).cmdRole},
	{name: "/toggle", minArgs: 2, maxArgs: 2, access: accessAdmin, usage: "/toggle <admin-boost|party|spotlight|favorite> <on|off|アカウントID>", summary: "機能トグル (管理者)", run: (*Router).cmdToggle},
}

// Commands lists the recognised command names in help order.
func Commands() []string {
	out := make([]string, len(commandTable))
	for i, c := range commandTable {
		out[i] = c.name
	}
	return out
}

// parseCommand splits "/name/arg" or "/name arg" into name and the raw rest.
func parseCommand(body string) (name, rest string, ok bool) {
	if !strings.HasPrefix(body, "/") || len(body) < 2 {
		return "", "", false
	}
	end := strings.IndexFunc(body[1:], func(r rune) bool { return r == '/' || unicode.IsSpace(r) })
	if end < 0 {
		return body, "", true
	}
	end++
	rest = body[end:]
	if rest[0] == '/' {
		rest = rest[1:]
	}
	return body[:end], strings.TrimSpace(rest), true
}

// splitArgs splits s into at most n whitespace separated fields. The last
// field keeps its inner spaces.
func splitArgs(s string, n int) []string {
	var out []string
	s = strings.TrimSpace(s)
	for s != "" && len(out) < n-1 {
		i := strings.IndexFunc(s, unicode.IsSpace)
		if i < 0 {
			break
		}
		out = append(out, s[:i])
		s = strings.TrimSpace(s[i:])
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}

func (r *Router) prefix(ctx context.Context, ev *event, out *Outcome) {
	name, rest, ok := parseCommand(ev.body)
	if !ok {
		return
	}
	cmd, ok := r.commands[name]
	if !ok {
		return
	}
	var args []string
	if cmd.maxArgs > 0 {
		args = splitArgs(rest, cmd.maxArgs)
		if len(args) < cmd.minArgs {
			out.add("usage:"+name, r.reply(ev, "使い方: "+cmd.usage))
			return
		}
	}

	switch cmd.access {
	case accessGroup:
		if ev.Direct {
			out.add("denied:"+name, r.reply(ev, "このコマンドはグループチャットでのみ使用できます。"))
			return
		}
	case accessAdmin:
		role, err := r.role(ctx, ev)
		if err != nil {
			telemetry.LoggerWithCorr(ctx).Warn("command: member lookup failed", slog.String("command", name), slog.String("room", ev.RoomID), slog.Any("err", err))
			out.add("error:"+name, r.reply(ev, "メンバー情報を取得できませんでした。しばらくしてから再度お試しください。"))
			return
		}
		if role != chatwork.RoleAdmin {
			out.add("denied:"+name, r.reply(ev, "このコマンドは管理者のみ使用できます。"))
			return
		}
	}

	if body := cmd.run(r, ctx, ev, args); body != "" {
		out.add("command:"+name, r.reply(ev, body))
	}
}

func (r *Router) cmdHelp(_ context.Context, _ *event, _ []string) string {
	var b strings.Builder
	for _, c := range r.order {
		fmt.Fprintf(&b, "%s : %s\n", c.usage, c.summary)
	}
	return chatwork.Info("コマンド一覧", strings.TrimRight(b.String(), "\n"))
}

func (r *Router) cmdYesNo(ctx context.Context, _ *event, _ []string) string {
	return r.Sources.YesNo(ctx)
}

func (r *Router) cmdWiki(ctx context.Context, _ *event, args []string) string {
	return r.Sources.WikiSummary(ctx, args[0])
}

func (r *Router) cmdScratchUser(ctx context.Context, _ *event, args []string) string {
	return r.Sources.UserProfile(ctx, args[0])
}

func (r *Router) cmdScratchProject(ctx context.Context, _ *event, args []string) string {
	return r.Sources.Project(ctx, args[0])
}

func (r *Router) cmdWeather(ctx context.Context, _ *event, args []string) string {
	horizon := 0
	if len(args) == 2 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 0 || n > 2 {
			return "日数は 0 (今日)、1 (明日)、2 (明後日) のいずれかで指定してください。"
		}
		horizon = n
	}
	return sources.FormatWeather(r.Sources.Weather(ctx, args[0], horizon))
}

func (r *Router) cmdQuake(ctx context.Context, _ *event, _ []string) string {
	return sources.FormatQuake(r.Sources.LatestEarthquake(ctx))
}

func (r *Router) cmdLyrics(ctx context.Context, _ *event, args []string) string {
	return r.Sources.Lyrics(ctx, args[0])
}

func (r *Router) cmdOmikuji(ctx context.Context, ev *event, _ []string) string {
	admin := false
	if !ev.Direct {
		role, _ := r.role(ctx, ev)
		admin = role == chatwork.RoleAdmin
	}
	return "おみくじの結果は「" + Omikuji(r.Rand, admin) + "」です！"
}

func (r *Router) cmdRanking(_ context.Context, ev *event, _ []string) string {
	if r.Counter == nil {
		return "ランキングを集計できませんでした。"
	}
	return FormatRanking(r.Counter.Ranking(ev.RoomID), 10)
}

func (r *Router) cmdToday(ctx context.Context, _ *event, _ []string) string {
	events := TodayEvents(ctx, r.Store, r.now())
	if len(events) == 0 {
		return "今日の登録イベントはありません。"
	}
	return chatwork.Info("今日のイベント", "・"+strings.Join(events, "\n・"))
}

func (r *Router) cmdDayWrite(ctx context.Context, _ *event, args []string) string {
	date, ok := NormalizeDate(args[0])
	if !ok {
		return "日付は MM/DD または YYYY-MM-DD の形式で指定してください。"
	}
	desc := strings.TrimSpace(args[1])
	if err := r.Store.AddEvent(ctx, store.DateEvent{Date: date, Description: desc}); err != nil {
		store.Skipped(ctx, "add_event", err, slog.String("date", date))
		return "イベントの登録に失敗しました。"
	}
	return fmt.Sprintf("「%s」に「%s」を登録しました。", date, desc)
}

func (r *Router) cmdQuote(ctx context.Context, _ *event, args []string) string {
	room, msgID := args[0], strings.TrimSpace(args[1])
	if strings.Trim(room, "0123456789") != "" || strings.Trim(msgID, "0123456789") != "" {
		return "ルームIDとメッセージIDは数字で指定してください。"
	}
	m, err := r.Platform.Message(ctx, room, msgID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) || apperr.Is(err, apperr.KindPermissionDenied) {
			return "メッセージが見つかりませんでした。"
		}
		telemetry.LoggerWithCorr(ctx).Warn("command: quote fetch failed", slog.String("room", room), slog.Any("err", err))
		return "メッセージを取得できませんでした。"
	}
	return chatwork.Quote(strconv.FormatInt(m.Account.AccountID, 10), m.SendTime, m.Body)
}

func (r *Router) cmdMembers(ctx context.Context, ev *event, _ []string) string {
	members, err := r.freshMembers(ctx, ev)
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("command: members fetch failed", slog.String("room", ev.RoomID), slog.Any("err", err))
		return "メンバー情報を取得できませんでした。"
	}
	lines := make([]string, len(members))
	for i, m := range members {
		lines[i] = fmt.Sprintf("%s (%s)", m.Name, roleLabel(m.Role))
	}
	return chatwork.Info(fmt.Sprintf("メンバー一覧 (%d人)", len(members)), strings.Join(lines, "\n"))
}

func (r *Router) cmdRoomInfo(ctx context.Context, ev *event, _ []string) string {
	info, err := r.Platform.Room(ctx, ev.RoomID)
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("command: room fetch failed", slog.String("room", ev.RoomID), slog.Any("err", err))
		return "ルーム情報を取得できませんでした。"
	}
	body := fmt.Sprintf("ルーム名: %s\nルームID: %s\n種類: %s\nメッセージ数: %d\nファイル数: %d\nタスク数: %d",
		info.Name, info.ID(), info.Type, info.MessageNum, info.FileNum, info.TaskNum)
	if info.Description != "" {
		body += "\n概要: " + info.Description
	}
	return chatwork.Info("ルーム情報", body)
}

func (r *Router) cmdRole(ctx context.Context, ev *event, args []string) string {
	level, target := strings.ToLower(args[0]), strings.TrimSpace(args[1])
	switch level {
	case chatwork.RoleAdmin, chatwork.RoleMember, chatwork.RoleReadonly:
	default:
		return "権限は admin、member、readonly のいずれかで指定してください。"
	}
	members, err := r.freshMembers(ctx, ev)
	if err != nil {
		return "メンバー情報を取得できませんでした。"
	}

	var roles chatwork.MemberRoles
	var name string
	found := false
	for _, m := range members {
		role := m.Role
		if m.ID() == target {
			if role == level {
				return fmt.Sprintf("%sさんはすでに%sです。", m.Name, roleLabel(level))
			}
			role, name, found = level, m.Name, true
		}
		switch role {
		case chatwork.RoleAdmin:
			roles.Admin = append(roles.Admin, m.AccountID)
		case chatwork.RoleReadonly:
			roles.Readonly = append(roles.Readonly, m.AccountID)
		default:
			roles.Member = append(roles.Member, m.AccountID)
		}
	}
	if !found {
		return fmt.Sprintf("アカウント %s はこのルームのメンバーではありません。", target)
	}
	if len(roles.Admin) == 0 {
		return "管理者が0人になるため、この変更はできません。"
	}
	if _, err := r.Platform.UpdateMemberRoles(ctx, ev.RoomID, roles); err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("command: role update failed", slog.String("room", ev.RoomID), slog.String("target", target), slog.Any("err", err))
		return "権限の変更に失敗しました。"
	}
	return fmt.Sprintf("%sさんの権限を%sに変更しました。", name, roleLabel(level))
}

func (r *Router) cmdToggle(ctx context.Context, _ *event, args []string) string {
	name, value := strings.ToLower(args[0]), strings.TrimSpace(args[1])
	t := r.toggles(ctx)
	switch name {
	case "admin-boost", "party":
		on, ok := parseSwitch(value)
		if !ok {
			return "on または off で指定してください。"
		}
		if name == "party" {
			t.Party = on
		} else {
			t.AdminBoost = on
		}
	case "spotlight":
		if on, ok := parseSwitch(value); ok && !on {
			t.Spotlight = ""
		} else if isAccountID(value) {
			t.Spotlight = value
		} else {
			return "アカウントID または off で指定してください。"
		}
	case "favorite":
		if !isAccountID(value) {
			return "アカウントIDで指定してください。"
		}
		if i := slices.Index(t.Favorites, value); i >= 0 {
			t.Favorites = append(t.Favorites[:i:i], t.Favorites[i+1:]...)
		} else {
			t.Favorites = append(t.Favorites, value)
		}
	default:
		return "トグルは admin-boost、party、spotlight、favorite のいずれかです。"
	}
	if err := SaveToggles(ctx, r.Store, t); err != nil {
		store.Skipped(ctx, "save_toggles", err)
		return "設定の保存に失敗しました。"
	}
	return "設定を更新しました。\n" + describeToggles(t)
}

func parseSwitch(v string) (on, ok bool) {
	switch strings.ToLower(v) {
	case "on", "true", "1":
		return true, true
	case "off", "false", "0":
		return false, true
	}
	return false, false
}

func isAccountID(v string) bool {
	return v != "" && strings.Trim(v, "0123456789") == ""
}

func describeToggles(t Toggles) string {
	onOff := func(b bool) string {
		if b {
			return "on"
		}
		return "off"
	}
	spot := t.Spotlight
	if spot == "" {
		spot = "off"
	}
	return fmt.Sprintf("admin-boost: %s / party: %s / spotlight: %s / favorite: %d人",
		onOff(t.AdminBoost), onOff(t.Party), spot, len(t.Favorites))
}

func roleLabel(role string) string {
	switch role {
	case chatwork.RoleAdmin:
		return "管理者"
	case chatwork.RoleMember:
		return "メンバー"
	case chatwork.RoleReadonly:
		return "閲覧のみ"
	default:
		return role
	}
}
