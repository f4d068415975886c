package sources

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/onnwee/roombot/apperr"
)

const lyricsRunes = 1500

var (
	mdLink  = regexp.MustCompile(`!?\[([^\]]*)\]\([^)]*\)`)
	mdNoise = regexp.MustCompile("(?m)^[#>*`_-]+\\s*")
	blank   = regexp.MustCompile(`\n{3,}`)
)

// Lyrics fetches an HTML lyrics page and returns its text, stripped of markup
// and truncated. Only http(s) URLs are accepted.
func (g *Gateway) Lyrics(ctx context.Context, pageURL string) string {
	u, err := url.Parse(strings.TrimSpace(pageURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "歌詞ページのURLを指定してください。"
	}
	key := u.String()
	if v, ok := g.lyrics.Get(key); ok {
		return v
	}
	body, err := g.get(ctx, "lyrics", key, pageTimeout)
	if err != nil {
		logFallback(ctx, "lyrics", err)
		return "歌詞を取得できませんでした。"
	}
	text, err := pageText(string(body))
	if err != nil {
		logFallback(ctx, "lyrics", apperr.Wrap(apperr.KindMalformed, "sources.lyrics", err))
		return "歌詞を取得できませんでした。"
	}
	if text == "" {
		return "歌詞が見つかりませんでした。"
	}
	out := truncateRunes(text, lyricsRunes)
	g.lyrics.Set(key, out)
	return out
}

// pageText converts HTML to markdown and then drops the markdown syntax.
func pageText(html string) (string, error) {
	md, err := htmltomarkdown.ConvertString(html)
	if err != nil {
		return "", err
	}
	md = mdLink.ReplaceAllString(md, "$1")
	md = mdNoise.ReplaceAllString(md, "")
	md = strings.ReplaceAll(md, "\\", "")
	md = blank.ReplaceAllString(md, "\n\n")
	return strings.TrimSpace(md), nil
}
