package sources

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/onnwee/roombot/store"
	"github.com/onnwee/roombot/telemetry"
)

// Quake is the latest seismic event published by the P2P earthquake feed.
type Quake struct {
	ID         string       `json:"id"`
	Time       string       `json:"time"`
	Hypocenter string       `json:"hypocenter"`
	Magnitude  float64      `json:"magnitude"`
	DepthKm    int          `json:"depth_km"`
	MaxScale   int          `json:"max_scale"`
	Tsunami    string       `json:"tsunami"`
	Points     []QuakePoint `json:"points,omitempty"`
}

// QuakePoint is an observed intensity at one location.
type QuakePoint struct {
	Pref  string `json:"pref"`
	Addr  string `json:"addr"`
	Scale int    `json:"scale"`
}

// LatestEarthquake returns the most recent earthquake report, or nil on failure.
func (g *Gateway) LatestEarthquake(ctx context.Context) *Quake {
	var out []struct {
		ID         string `json:"id"`
		Earthquake struct {
			Time       string `json:"time"`
			Hypocenter struct {
				Name      string  `json:"name"`
				Depth     int     `json:"depth"`
				Magnitude float64 `json:"magnitude"`
			} `json:"hypocenter"`
			MaxScale        int    `json:"maxScale"`
			DomesticTsunami string `json:"domesticTsunami"`
		} `json:"earthquake"`
		Points []QuakePoint `json:"points"`
	}
	if err := g.getJSON(ctx, "quake", g.cfg.QuakeBaseURL+"/v2/history?codes=551&limit=1", fetchTimeout, &out); err != nil {
		logFallback(ctx, "quake", err)
		return nil
	}
	if len(out) == 0 || out[0].ID == "" {
		return nil
	}
	e := out[0]
	return &Quake{
		ID:         e.ID,
		Time:       e.Earthquake.Time,
		Hypocenter: e.Earthquake.Hypocenter.Name,
		Magnitude:  e.Earthquake.Hypocenter.Magnitude,
		DepthKm:    e.Earthquake.Hypocenter.Depth,
		MaxScale:   e.Earthquake.MaxScale,
		Tsunami:    e.Earthquake.DomesticTsunami,
		Points:     e.Points,
	}
}

// ScaleLabel renders a P2P intensity code (10..70) as the JMA shindo label.
func ScaleLabel(code int) string {
	switch code {
	case 10:
		return "1"
	case 20:
		return "2"
	case 30:
		return "3"
	case 40:
		return "4"
	case 45:
		return "5弱"
	case 50:
		return "5強"
	case 55:
		return "6弱"
	case 60:
		return "6強"
	case 70:
		return "7"
	default:
		return "不明"
	}
}

var tsunamiLabels = map[string]string{
	"None":         "この地震による津波の心配はありません。",
	"Checking":     "津波の有無を調査中です。",
	"NonEffective": "若干の海面変動が予想されますが、被害の心配はありません。",
	"Watch":        "津波注意報が発表されています。",
	"Warning":      "津波警報等が発表されています。",
}

// FormatQuake renders an earthquake report for chat.
func FormatQuake(q *Quake) string {
	if q == nil {
		return "地震情報を取得できませんでした。"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[info][title]地震情報 (%s)[/title]", q.Time)
	fmt.Fprintf(&b, "震源地: %s\n", orDash(q.Hypocenter))
	fmt.Fprintf(&b, "最大震度: %s\n", ScaleLabel(q.MaxScale))
	if q.Magnitude > 0 {
		fmt.Fprintf(&b, "マグニチュード: %.1f\n", q.Magnitude)
	}
	if q.DepthKm > 0 {
		fmt.Fprintf(&b, "深さ: 約%dkm\n", q.DepthKm)
	}
	if t, ok := tsunamiLabels[q.Tsunami]; ok {
		b.WriteString(t)
	}
	b.WriteString("[/info]")
	return b.String()
}

// QuakeFilter decides which earthquakes are worth announcing. A quake passes
// when its maximum intensity reaches MinScale or when its hypocenter or an
// observation point mentions one of Regions.
type QuakeFilter struct {
	MinScale int
	Regions  []string
}

// Match applies the filter.
func (f QuakeFilter) Match(q *Quake) bool {
	if q == nil {
		return false
	}
	if f.MinScale > 0 && q.MaxScale >= f.MinScale {
		return true
	}
	for _, r := range f.Regions {
		if strings.Contains(q.Hypocenter, r) {
			return true
		}
		for _, p := range q.Points {
			if strings.Contains(p.Pref, r) || strings.Contains(p.Addr, r) {
				return true
			}
		}
	}
	return f.MinScale <= 0 && len(f.Regions) == 0
}

// QuakeProperty holds the id of the last earthquake the watcher evaluated.
const QuakeProperty = "last_quake_id"

// QuakeWatcher turns the latest-earthquake feed into at-most-once alerts.
type QuakeWatcher struct {
	Gateway *Gateway
	Store   store.Store
	Filter  QuakeFilter

	mu     sync.Mutex
	lastID string
}

// Check returns the latest quake when it is new and passes the filter. The
// seen id is remembered in memory and persisted so restarts do not re-alert.
func (w *QuakeWatcher) Check(ctx context.Context) (*Quake, bool) {
	q := w.Gateway.LatestEarthquake(ctx)
	if q == nil {
		return nil, false
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	last := w.lastID
	if last == "" {
		last = store.Property(ctx, w.Store, QuakeProperty)
	}
	if q.ID == last {
		return nil, false
	}
	w.lastID = q.ID
	if err := w.Store.SetProperty(ctx, QuakeProperty, q.ID); err != nil {
		store.Skipped(ctx, "set_property", err, slog.String("key", QuakeProperty))
	}
	if !w.Filter.Match(q) {
		telemetry.LoggerWithCorr(ctx).Debug("earthquake below threshold", slog.String("component", "sources"), slog.String("id", q.ID), slog.Int("max_scale", q.MaxScale))
		return nil, false
	}
	return q, true
}
