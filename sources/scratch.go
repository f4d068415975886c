package sources

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/onnwee/roombot/apperr"
	"github.com/onnwee/roombot/chatwork"
)

// UserProfile describes a public Scratch user.
func (g *Gateway) UserProfile(ctx context.Context, name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "ユーザー名を指定してください。"
	}
	var out struct {
		Username string `json:"username"`
		Profile  struct {
			Status  string `json:"status"`
			Country string `json:"country"`
		} `json:"profile"`
	}
	if err := g.getJSON(ctx, "profile", g.cfg.ProfileBaseURL+"/users/"+url.PathEscape(name), fetchTimeout, &out); err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return fmt.Sprintf("「%s」というScratchユーザーは見つかりませんでした。", name)
		}
		logFallback(ctx, "profile", err)
		return "Scratchユーザー情報の取得中に予期せぬエラーが発生しました。"
	}
	status := out.Profile.Status
	if status == "" {
		status = "情報なし"
	}
	link := "https://scratch.mit.edu/users/" + url.PathEscape(name) + "/"
	return chatwork.Info("Scratchユーザー情報", fmt.Sprintf("ユーザー名: %s\nステータス: %s\nユーザーページ: %s", name, truncateRunes(status, 300), link))
}

// Project describes a shared Scratch project. id must be numeric.
func (g *Gateway) Project(ctx context.Context, id string) string {
	id = strings.TrimSpace(id)
	if id == "" || strings.Trim(id, "0123456789") != "" {
		return "プロジェクトIDは数字で指定してください。"
	}
	var out struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Author      struct {
			Username string `json:"username"`
		} `json:"author"`
	}
	if err := g.getJSON(ctx, "project", g.cfg.ProjectBaseURL+"/projects/"+id, fetchTimeout, &out); err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return "プロジェクトが見つかりませんでした。"
		}
		logFallback(ctx, "project", err)
		return "Scratchプロジェクト情報の取得中にエラーが発生しました。"
	}
	if out.Title == "" {
		return "プロジェクトが見つかりませんでした。"
	}
	link := "https://scratch.mit.edu/projects/" + id + "/"
	return chatwork.Info("Scratchプロジェクト情報", fmt.Sprintf("タイトル: %s\n作者: %s\n説明: %s\nURL: %s", out.Title, out.Author.Username, truncateRunes(out.Description, 300), link))
}
