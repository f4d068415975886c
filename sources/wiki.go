package sources

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

const wikiSummaryRunes = 500

// WikiSummary returns the intro of the Japanese Wikipedia article for term,
// truncated to 500 characters and followed by the article link. Found and
// not-found answers are cached for five minutes; errors are not.
func (g *Gateway) WikiSummary(ctx context.Context, term string) string {
	term = strings.TrimSpace(term)
	if term == "" {
		return "検索語を指定してください。"
	}
	if v, ok := g.wiki.Get(term); ok {
		return v
	}

	q := url.Values{
		"action":      {"query"},
		"format":      {"json"},
		"prop":        {"extracts"},
		"exintro":     {"1"},
		"explaintext": {"1"},
		"redirects":   {"1"},
		"titles":      {term},
	}
	var out struct {
		Query struct {
			Pages map[string]struct {
				Title   string  `json:"title"`
				Extract string  `json:"extract"`
				Missing *string `json:"missing"`
			} `json:"pages"`
		} `json:"query"`
	}
	if err := g.getJSON(ctx, "wiki", g.cfg.WikiBaseURL+"/w/api.php?"+q.Encode(), fetchTimeout, &out); err != nil {
		logFallback(ctx, "wiki", err)
		return fmt.Sprintf("Wikipedia検索中にエラーが発生しました。「%s」", term)
	}

	result := fmt.Sprintf("「%s」の検索結果を処理できませんでした。", term)
	for id, p := range out.Query.Pages {
		if p.Extract != "" {
			link := g.cfg.WikiBaseURL + "/wiki/" + url.PathEscape(p.Title)
			result = truncateRunes(p.Extract, wikiSummaryRunes) + "\n\n元記事: " + link
		} else if p.Missing != nil || strings.HasPrefix(id, "-") {
			result = fmt.Sprintf("「%s」に関する記事は見つかりませんでした。", term)
		}
		// redirects=1 resolves to a single page
	}
	g.wiki.Set(term, result)
	return result
}
