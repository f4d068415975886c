package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/roombot/store"
)

// upstream serves canned bodies per path and counts hits.
type upstream struct {
	*httptest.Server
	hits   atomic.Int32
	status int
	bodies map[string]string
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{status: http.StatusOK, bodies: map[string]string{}}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.hits.Add(1)
		if u.status != http.StatusOK {
			w.WriteHeader(u.status)
			return
		}
		body, ok := u.bodies[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(u.Close)
	return u
}

func newGateway(u *upstream) *Gateway {
	return New(Config{
		WikiBaseURL:    u.URL,
		WeatherBaseURL: u.URL,
		QuakeBaseURL:   u.URL,
		YesNoURL:       u.URL + "/api",
		ProfileBaseURL: u.URL,
	})
}

func TestWikiSummaryCachesWithinTTL(t *testing.T) {
	u := newUpstream(t)
	u.bodies["/w/api.php"] = `{"query":{"pages":{"123":{"title":"Go (プログラミング言語)","extract":"Goはプログラミング言語である。"}}}}`
	g := newGateway(u)
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	g.SetClock(func() time.Time { return now })

	first := g.WikiSummary(context.Background(), "Go")
	assert.Contains(t, first, "Goはプログラミング言語である。")
	assert.Contains(t, first, "元記事: "+u.URL+"/wiki/")

	now = now.Add(4 * time.Minute)
	assert.Equal(t, first, g.WikiSummary(context.Background(), "Go"))
	assert.EqualValues(t, 1, u.hits.Load(), "second call inside TTL must not fetch")

	now = now.Add(2 * time.Minute)
	g.WikiSummary(context.Background(), "Go")
	assert.EqualValues(t, 2, u.hits.Load(), "call after TTL must refetch")
}

func TestWikiSummaryTruncates(t *testing.T) {
	u := newUpstream(t)
	long := strings.Repeat("あ", 600)
	u.bodies["/w/api.php"] = `{"query":{"pages":{"1":{"title":"T","extract":"` + long + `"}}}}`
	g := newGateway(u)

	got := g.WikiSummary(context.Background(), "T")
	summary, _, ok := strings.Cut(got, "\n\n元記事: ")
	require.True(t, ok)
	assert.Equal(t, strings.Repeat("あ", 500)+"...", summary)
}

func TestWikiSummaryMissingAndError(t *testing.T) {
	u := newUpstream(t)
	u.bodies["/w/api.php"] = `{"query":{"pages":{"-1":{"title":"Nope","missing":""}}}}`
	g := newGateway(u)
	assert.Equal(t, "「Nope」に関する記事は見つかりませんでした。", g.WikiSummary(context.Background(), "Nope"))

	u.status = http.StatusInternalServerError
	got := g.WikiSummary(context.Background(), "Other")
	assert.Contains(t, got, "エラー")
	// errors are not cached
	u.status = http.StatusOK
	u.bodies["/w/api.php"] = `{"query":{"pages":{"5":{"title":"Other","extract":"ok"}}}}`
	assert.Contains(t, g.WikiSummary(context.Background(), "Other"), "ok")
}

func TestYesNoFallback(t *testing.T) {
	u := newUpstream(t)
	u.bodies["/api"] = `{"answer":"yes","forced":false}`
	g := newGateway(u)
	assert.Equal(t, "yes", g.YesNo(context.Background()))

	u.status = http.StatusBadGateway
	g.Rand = func() float64 { return 0.9 }
	assert.Equal(t, "no", g.YesNo(context.Background()))
	g.Rand = func() float64 { return 0.1 }
	assert.Equal(t, "yes", g.YesNo(context.Background()))
}

func TestYesNoTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer slow.Close()
	g := New(Config{YesNoURL: slow.URL})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	got := g.YesNo(ctx)
	assert.Contains(t, []string{"yes", "no"}, got)
}

const forecastJSON = `{
  "title": "東京都 東京 の天気",
  "location": {"city": "東京"},
  "description": {"headlineText": ""},
  "forecasts": [
    {"date": "2024-03-05", "dateLabel": "今日", "telop": "晴れ",
     "temperature": {"min": {"celsius": null}, "max": {"celsius": "15"}},
     "chanceOfRain": {"T00_06": "--%", "T06_12": "10%", "T12_18": "0%", "T18_24": "0%"}},
    {"date": "2024-03-06", "dateLabel": "明日", "telop": "曇り",
     "temperature": {"min": {"celsius": "5"}, "max": {"celsius": "12"}},
     "chanceOfRain": {"T00_06": "20%", "T06_12": "30%", "T12_18": "40%", "T18_24": "50%"}}
  ]
}`

func TestWeather(t *testing.T) {
	u := newUpstream(t)
	u.bodies["/api/forecast/city/130010"] = forecastJSON
	g := newGateway(u)

	f, d := g.Weather(context.Background(), "130010", 1)
	require.NotNil(t, f)
	require.NotNil(t, d)
	assert.Equal(t, "曇り", d.Telop)
	assert.Equal(t, "5", d.MinC)

	_, today := g.Weather(context.Background(), "130010", 0)
	require.NotNil(t, today)
	assert.Empty(t, today.MinC)
	assert.EqualValues(t, 1, u.hits.Load(), "forecast is cached per region")

	_, missing := g.Weather(context.Background(), "130010", 2)
	assert.Nil(t, missing, "horizon not published yet")

	text := FormatWeather(f, today)
	assert.Contains(t, text, "晴れ")
	assert.Contains(t, text, "最低気温: --℃")

	f, d = g.Weather(context.Background(), "999999", 0)
	assert.Nil(t, f)
	assert.Nil(t, d)
	assert.Equal(t, "天気予報を取得できませんでした。", FormatWeather(nil, nil))
}

const quakeJSON = `[{"id":"q-1","code":551,"earthquake":{"time":"2024/01/01 16:10:00","hypocenter":{"name":"石川県能登地方","depth":10,"magnitude":7.6},"maxScale":70,"domesticTsunami":"Warning"},"points":[{"pref":"石川県","addr":"志賀町","scale":70}]}]`

func TestLatestEarthquake(t *testing.T) {
	u := newUpstream(t)
	u.bodies["/v2/history"] = quakeJSON
	g := newGateway(u)

	q := g.LatestEarthquake(context.Background())
	require.NotNil(t, q)
	assert.Equal(t, "q-1", q.ID)
	assert.Equal(t, 70, q.MaxScale)
	text := FormatQuake(q)
	assert.Contains(t, text, "最大震度: 7")
	assert.Contains(t, text, "津波警報")
}

func TestQuakeFilter(t *testing.T) {
	q := &Quake{Hypocenter: "千葉県北西部", MaxScale: 20, Points: []QuakePoint{{Pref: "東京都", Scale: 20}}}
	tests := []struct {
		name   string
		filter QuakeFilter
		want   bool
	}{
		{"no filter passes everything", QuakeFilter{}, true},
		{"below threshold", QuakeFilter{MinScale: 30}, false},
		{"at threshold", QuakeFilter{MinScale: 20}, true},
		{"watched hypocenter", QuakeFilter{MinScale: 50, Regions: []string{"千葉"}}, true},
		{"watched point", QuakeFilter{MinScale: 50, Regions: []string{"東京都"}}, true},
		{"unwatched region", QuakeFilter{MinScale: 50, Regions: []string{"北海道"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Match(q))
		})
	}
}

func TestQuakeWatcherSuppressesRepeats(t *testing.T) {
	u := newUpstream(t)
	u.bodies["/v2/history"] = quakeJSON
	st := store.NewMemory()
	w := &QuakeWatcher{Gateway: newGateway(u), Store: st, Filter: QuakeFilter{MinScale: 30}}
	ctx := context.Background()

	q, ok := w.Check(ctx)
	require.True(t, ok)
	assert.Equal(t, "q-1", q.ID)

	_, ok = w.Check(ctx)
	assert.False(t, ok, "same event id must not alert twice")

	// a fresh watcher (process restart) reads the persisted id
	w2 := &QuakeWatcher{Gateway: newGateway(u), Store: st, Filter: QuakeFilter{MinScale: 30}}
	_, ok = w2.Check(ctx)
	assert.False(t, ok)

	// new event below the threshold is recorded but not announced
	u.bodies["/v2/history"] = strings.ReplaceAll(strings.ReplaceAll(quakeJSON, "q-1", "q-2"), `"maxScale":70`, `"maxScale":10`)
	_, ok = w2.Check(ctx)
	assert.False(t, ok)
	v, _, _ := st.GetProperty(ctx, QuakeProperty)
	assert.Equal(t, "q-2", v)
}

func TestScratch(t *testing.T) {
	u := newUpstream(t)
	u.bodies["/users/griffpatch"] = `{"username":"griffpatch","profile":{"status":"Making games"}}`
	u.bodies["/projects/123"] = `{"title":"Pong","description":"classic","author":{"username":"griffpatch"}}`
	g := newGateway(u)
	ctx := context.Background()

	assert.Contains(t, g.UserProfile(ctx, "griffpatch"), "ステータス: Making games")
	assert.Equal(t, "「nobody」というScratchユーザーは見つかりませんでした。", g.UserProfile(ctx, "nobody"))
	assert.Contains(t, g.Project(ctx, "123"), "タイトル: Pong")
	assert.Equal(t, "プロジェクトが見つかりませんでした。", g.Project(ctx, "456"))
	assert.Equal(t, "プロジェクトIDは数字で指定してください。", g.Project(ctx, "abc"))
}

func TestLyrics(t *testing.T) {
	u := newUpstream(t)
	u.bodies["/song"] = `<html><body><h1>Song</h1><p>first line<br>second line</p><a href="/x">more</a></body></html>`
	g := newGateway(u)
	ctx := context.Background()

	got := g.Lyrics(ctx, u.URL+"/song")
	assert.Contains(t, got, "first line")
	assert.Contains(t, got, "second line")
	assert.Contains(t, got, "more")
	assert.NotContains(t, got, "<p>")
	assert.NotContains(t, got, "](")

	g.Lyrics(ctx, u.URL+"/song")
	assert.EqualValues(t, 1, u.hits.Load())

	assert.Equal(t, "歌詞ページのURLを指定してください。", g.Lyrics(ctx, "ftp://example.com/x"))
	assert.Equal(t, "歌詞を取得できませんでした。", g.Lyrics(ctx, u.URL+"/missing"))
}
