package command

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/roombot/chatwork"
	"github.com/onnwee/roombot/counter"
	"github.com/onnwee/roombot/store"
)

// SpecialFortune is the rare omikuji result.
const SpecialFortune = "超町長調帳朝腸蝶大吉"

var fortunes = []string{"大吉", "中吉", "吉", "小吉", "null", "undefined"}

// Omikuji draws a fortune. Admins get the special fortune a quarter of the
// time, everyone else 0.2% of the time.
func Omikuji(draw func() float64, admin bool) string {
	special := 0.002
	if admin {
		special = 0.25
	}
	if draw() < special {
		return SpecialFortune
	}
	i := int(draw() * float64(len(fortunes)))
	return fortunes[min(max(i, 0), len(fortunes)-1)]
}

// FormatRanking renders the top entries of a ranking. top <= 0 shows all.
func FormatRanking(rk counter.Ranking, top int) string {
	if len(rk.Entries) == 0 {
		return "今日はまだ発言がありません。"
	}
	entries := rk.Entries
	if top > 0 && len(entries) > top {
		entries = entries[:top]
	}
	var b strings.Builder
	for _, e := range entries {
		name := e.SenderName
		if name == "" {
			name = e.SenderID
		}
		fmt.Fprintf(&b, "%d位: %s (%d件)\n", e.Rank, name, e.Count)
	}
	fmt.Fprintf(&b, "合計: %d件 / %d人", rk.Total, len(rk.Entries))
	if rk.Approximate {
		b.WriteString("\n※ 履歴から再集計したため概算です。")
	}
	return chatwork.Info("今日の発言数ランキング ("+rk.Date+")", b.String())
}

// NormalizeDate turns YYYY-MM-DD, YYYY/MM/DD, MM/DD or M-D into zero padded
// "MM/DD". It rejects dates that do not exist.
func NormalizeDate(s string) (string, bool) {
	s = strings.TrimSpace(s)
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '/' || r == '-' || r == '.' })
	year := 2024 // leap year so 02/29 is accepted without a year
	switch len(parts) {
	case 3:
		y, err := strconv.Atoi(parts[0])
		if err != nil || y < 1 {
			return "", false
		}
		year, parts = y, parts[1:]
	case 2:
	default:
		return "", false
	}
	m, err1 := strconv.Atoi(parts[0])
	d, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || m < 1 || m > 12 || d < 1 || d > 31 {
		return "", false
	}
	t := time.Date(year, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Month() != time.Month(m) {
		return "", false
	}
	return fmt.Sprintf("%02d/%02d", m, d), true
}

// DateKeys lists every stored date format that refers to the day of t:
// YYYY/MM/DD, MM/DD, DD and their unpadded forms.
func DateKeys(t time.Time) []string {
	y, m, d := t.Date()
	keys := []string{
		fmt.Sprintf("%d/%02d/%02d", y, m, d),
		fmt.Sprintf("%02d/%02d", m, d),
		fmt.Sprintf("%02d", d),
		fmt.Sprintf("%d/%d/%d", y, m, d),
		fmt.Sprintf("%d/%d", m, d),
		strconv.Itoa(d),
	}
	out := keys[:0]
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}

// TodayEvents returns descriptions of date events registered for the day of
// now. A store failure is logged and yields no events.
func TodayEvents(ctx context.Context, st store.Store, now time.Time) []string {
	if st == nil {
		return nil
	}
	evs, err := st.ListEvents(ctx, store.EventFilter{Dates: DateKeys(now), Limit: 50})
	if err != nil {
		store.Skipped(ctx, "list_events", err)
		return nil
	}
	out := make([]string, 0, len(evs))
	for _, e := range evs {
		out = append(out, e.Description)
	}
	return out
}

// percent renders a probability such as 0.002 as "0.2%".
func percent(p float64) string {
	return strconv.FormatFloat(p*100, 'g', 4, 64) + "%"
}
