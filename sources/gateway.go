// Package sources wraps the third-party content APIs the bot quotes from.
//
// Every accessor returns a usable value: failures are logged and turned into a
// fallback string or a nil record, never propagated to the caller.
package sources

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/onnwee/roombot/apperr"
	"github.com/onnwee/roombot/cache"
	"github.com/onnwee/roombot/telemetry"
)

// Default endpoints.
const (
	DefaultWikiBaseURL    = "https://ja.wikipedia.org"
	DefaultWeatherBaseURL = "https://weather.tsukumijima.net"
	DefaultQuakeBaseURL   = "https://api.p2pquake.net"
	DefaultYesNoURL       = "https://yesno.wtf/api"
	DefaultProfileBaseURL = "https://api.scratch.mit.edu"
)

// Cache lifetimes per source.
const (
	wikiTTL    = 5 * time.Minute
	weatherTTL = 30 * time.Minute
	lyricsTTL  = time.Hour
)

// Per-call timeouts.
const (
	shortTimeout = 5 * time.Second
	fetchTimeout = 10 * time.Second
	pageTimeout  = 30 * time.Second
)

// Config holds base URLs; empty fields fall back to the public defaults.
type Config struct {
	WikiBaseURL    string
	WeatherBaseURL string
	QuakeBaseURL   string
	YesNoURL       string
	ProfileBaseURL string
	ProjectBaseURL string
}

// Gateway is the read-through accessor set.
type Gateway struct {
	cfg  Config
	http *http.Client

	wiki    *cache.FIFO[string]
	weather *cache.FIFO[*Forecast]
	lyrics  *cache.FIFO[string]

	// Rand draws from [0,1); tests replace it.
	Rand func() float64
}

// New builds a gateway with its caches.
func New(cfg Config) *Gateway {
	def := func(v, d string) string {
		if v == "" {
			return d
		}
		return strings.TrimRight(v, "/")
	}
	cfg.WikiBaseURL = def(cfg.WikiBaseURL, DefaultWikiBaseURL)
	cfg.WeatherBaseURL = def(cfg.WeatherBaseURL, DefaultWeatherBaseURL)
	cfg.QuakeBaseURL = def(cfg.QuakeBaseURL, DefaultQuakeBaseURL)
	cfg.YesNoURL = def(cfg.YesNoURL, DefaultYesNoURL)
	cfg.ProfileBaseURL = def(cfg.ProfileBaseURL, DefaultProfileBaseURL)
	cfg.ProjectBaseURL = def(cfg.ProjectBaseURL, cfg.ProfileBaseURL)
	return &Gateway{
		cfg:     cfg,
		http:    &http.Client{Timeout: pageTimeout},
		wiki:    cache.NewFIFO[string](wikiTTL, 200),
		weather: cache.NewFIFO[*Forecast](weatherTTL, 50),
		lyrics:  cache.NewFIFO[string](lyricsTTL, 50),
		Rand:    rand.Float64,
	}
}

// SetClock replaces the clock of every cache.
func (g *Gateway) SetClock(now func() time.Time) {
	g.wiki.Now = now
	g.weather.Now = now
	g.lyrics.Now = now
}

// get performs one bounded GET and returns the body. source labels metrics and logs.
func (g *Gateway) get(ctx context.Context, source, url string, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ctx, span := telemetry.StartSpan(ctx, "sources", "sources."+source)
	defer span.End()

	op := "sources." + source
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindMalformed, op, err)
	}
	req.Header.Set("User-Agent", "roombot/1.0")
	resp, err := g.http.Do(req)
	if err != nil {
		g.outcome(source, err)
		telemetry.RecordError(span, err)
		return nil, apperr.Wrap(apperr.KindNetworkFailure, op, err)
	}
	defer resp.Body.Close()
	if err := apperr.FromStatus(op, resp.StatusCode); err != nil {
		g.outcome(source, err)
		return nil, err
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		g.outcome(source, err)
		return nil, apperr.Wrap(apperr.KindNetworkFailure, op, err)
	}
	g.outcome(source, nil)
	return body, nil
}

func (g *Gateway) getJSON(ctx context.Context, source, url string, timeout time.Duration, out any) error {
	body, err := g.get(ctx, source, url, timeout)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperr.Wrap(apperr.KindMalformed, "sources."+source, err)
	}
	return nil
}

func (g *Gateway) outcome(source string, err error) {
	if err == nil {
		telemetry.Inc(telemetry.SourceFetches, source, "ok")
		return
	}
	telemetry.Inc(telemetry.SourceFetches, source, apperr.KindOf(err).String())
}

func logFallback(ctx context.Context, source string, err error, attrs ...any) {
	args := append([]any{slog.String("component", "sources"), slog.String("source", source), slog.String("kind", apperr.KindOf(err).String()), slog.Any("err", err)}, attrs...)
	telemetry.LoggerWithCorr(ctx).Warn("source fetch failed, using fallback", args...)
}

// truncateRunes cuts s to at most n runes, appending "..." when it cut.
func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// YesNo asks the coin-flip API. Any failure answers a local random yes or no.
func (g *Gateway) YesNo(ctx context.Context) string {
	var out struct {
		Answer string `json:"answer"`
	}
	if err := g.getJSON(ctx, "yesno", g.cfg.YesNoURL, shortTimeout, &out); err != nil {
		logFallback(ctx, "yesno", err)
		return g.randomYesNo()
	}
	if out.Answer == "" {
		return g.randomYesNo()
	}
	return out.Answer
}

func (g *Gateway) randomYesNo() string {
	if g.Rand() < 0.5 {
		return "yes"
	}
	return "no"
}
