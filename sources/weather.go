package sources

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Forecast is the regional forecast for today and the next two days.
type Forecast struct {
	Title    string        `json:"title"`
	City     string        `json:"city"`
	Days     []DayForecast `json:"days"`
	Headline string        `json:"headline,omitempty"`
}

// DayForecast is one day of a Forecast. Temperatures are empty when the
// upstream has not published them yet.
type DayForecast struct {
	Date         string            `json:"date"`
	Label        string            `json:"label"`
	Telop        string            `json:"telop"`
	MinC         string            `json:"min_c"`
	MaxC         string            `json:"max_c"`
	ChanceOfRain map[string]string `json:"chance_of_rain"`
}

// Weather returns the forecast for regionCode at horizon days ahead (0..2),
// or nil when it cannot be fetched or the horizon is not published.
func (g *Gateway) Weather(ctx context.Context, regionCode string, horizon int) (*Forecast, *DayForecast) {
	if regionCode == "" || horizon < 0 || horizon > 2 {
		return nil, nil
	}
	f := g.forecast(ctx, regionCode)
	if f == nil || horizon >= len(f.Days) {
		return f, nil
	}
	return f, &f.Days[horizon]
}

func (g *Gateway) forecast(ctx context.Context, code string) *Forecast {
	if f, ok := g.weather.Get(code); ok {
		return f
	}
	type celsius struct {
		Celsius *string `json:"celsius"`
	}
	var out struct {
		Title    string `json:"title"`
		Location struct {
			City string `json:"city"`
		} `json:"location"`
		Description struct {
			Headline string `json:"headlineText"`
		} `json:"description"`
		Forecasts []struct {
			Date        string `json:"date"`
			DateLabel   string `json:"dateLabel"`
			Telop       string `json:"telop"`
			Temperature struct {
				Min celsius `json:"min"`
				Max celsius `json:"max"`
			} `json:"temperature"`
			ChanceOfRain map[string]string `json:"chanceOfRain"`
		} `json:"forecasts"`
	}
	if err := g.getJSON(ctx, "weather", g.cfg.WeatherBaseURL+"/api/forecast/city/"+url.PathEscape(code), fetchTimeout, &out); err != nil {
		logFallback(ctx, "weather", err)
		return nil
	}
	if len(out.Forecasts) == 0 {
		return nil
	}
	f := &Forecast{Title: out.Title, City: out.Location.City, Headline: out.Description.Headline}
	for _, d := range out.Forecasts {
		day := DayForecast{Date: d.Date, Label: d.DateLabel, Telop: d.Telop, ChanceOfRain: d.ChanceOfRain}
		if d.Temperature.Min.Celsius != nil {
			day.MinC = *d.Temperature.Min.Celsius
		}
		if d.Temperature.Max.Celsius != nil {
			day.MaxC = *d.Temperature.Max.Celsius
		}
		f.Days = append(f.Days, day)
	}
	g.weather.Set(code, f)
	return f
}

// FormatWeather renders one day of a forecast for chat.
func FormatWeather(f *Forecast, d *DayForecast) string {
	if f == nil || d == nil {
		return "天気予報を取得できませんでした。"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[info][title]%s (%s %s)[/title]", f.Title, d.Label, d.Date)
	fmt.Fprintf(&b, "天気: %s\n", d.Telop)
	fmt.Fprintf(&b, "最高気温: %s℃ / 最低気温: %s℃\n", orDash(d.MaxC), orDash(d.MinC))
	periods := []struct{ key, label string }{
		{"T00_06", "0-6時"}, {"T06_12", "6-12時"}, {"T12_18", "12-18時"}, {"T18_24", "18-24時"},
	}
	parts := make([]string, 0, len(periods))
	for _, p := range periods {
		parts = append(parts, p.label+" "+orDash(d.ChanceOfRain[p.key]))
	}
	b.WriteString("降水確率: " + strings.Join(parts, " / "))
	b.WriteString("[/info]")
	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "--"
	}
	return s
}
