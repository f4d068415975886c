package command

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Keyword is an exact-match reply: a message whose trimmed body equals Match
// is answered with Reply.
type Keyword struct {
	Match string `yaml:"match"`
	Reply string `yaml:"reply"`
}

// DefaultKeywords is the built-in table used when no file is configured.
func DefaultKeywords() []Keyword {
	return []Keyword{
		{Match: "おはよう", Reply: "おはようございます！今日も一日がんばりましょう。"},
		{Match: "おはようございます", Reply: "おはようございます！今日も一日がんばりましょう。"},
		{Match: "こんにちは", Reply: "こんにちは！"},
		{Match: "こんばんは", Reply: "こんばんは！"},
		{Match: "おやすみ", Reply: "おやすみなさい。また明日！"},
		{Match: "おやすみなさい", Reply: "おやすみなさい。また明日！"},
		{Match: "ありがとう", Reply: "どういたしまして！"},
		{Match: "ping", Reply: "pong"},
		{Match: "テスト", Reply: "テストは成功しました。"},
	}
}

// LoadKeywords reads a YAML keyword table:
//
//	keywords:
//	  - match: おはよう
//	    reply: おはようございます！
//
// Entries keep file order; the first match wins.
func LoadKeywords(path string) ([]Keyword, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keywords: %w", err)
	}
	var doc struct {
		Keywords []Keyword `yaml:"keywords"`
	}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse keywords %s: %w", path, err)
	}
	out := make([]Keyword, 0, len(doc.Keywords))
	for i, k := range doc.Keywords {
		k.Match = strings.TrimSpace(k.Match)
		if k.Match == "" || k.Reply == "" {
			return nil, fmt.Errorf("keywords %s: entry %d needs match and reply", path, i)
		}
		if strings.HasPrefix(k.Match, "/") {
			return nil, fmt.Errorf("keywords %s: entry %d %q would shadow a command", path, i, k.Match)
		}
		out = append(out, k)
	}
	return out, nil
}
