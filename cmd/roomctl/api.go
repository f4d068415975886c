package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/onnwee/roombot/counter"
	"github.com/onnwee/roombot/store"
)

// apiClient calls the operator endpoints of the service.
type apiClient struct {
	base     string
	token    string
	username string
	password string
	http     *http.Client
}

func newAPIClient(cmd *cobra.Command) *apiClient {
	addr, _ := cmd.Flags().GetString("addr")
	token, _ := cmd.Flags().GetString("token")
	return &apiClient{
		base:     strings.TrimRight(addr, "/"),
		token:    token,
		username: os.Getenv("ADMIN_USERNAME"),
		password: os.Getenv("ADMIN_PASSWORD"),
		http:     &http.Client{Timeout: 90 * time.Second},
	}
}

// apiError is a non-2xx answer from the service.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server answered %d", e.Status)
	}
	return fmt.Sprintf("server answered %d: %s", e.Status, e.Message)
}

func (c *apiClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.token != "":
		req.Header.Set("X-Admin-Token", c.token)
	case c.username != "":
		req.SetBasicAuth(c.username, c.password)
	}
	slog.Debug("request", slog.String("method", method), slog.String("url", req.URL.String()))

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &e)
		return &apiError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func (c *apiClient) Send(ctx context.Context, room, text string) (string, error) {
	var out struct {
		MessageID string `json:"message_id"`
	}
	err := c.do(ctx, http.MethodPost, "/send", map[string]string{"room_id": room, "body": text}, &out)
	return out.MessageID, err
}

func (c *apiClient) RunJob(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, "/admin/jobs/"+url.PathEscape(name), nil, nil)
}

func (c *apiClient) Ranking(ctx context.Context, room string) (counter.Ranking, error) {
	var rk counter.Ranking
	err := c.do(ctx, http.MethodGet, "/rooms/"+url.PathEscape(room)+"/ranking", nil, &rk)
	return rk, err
}

func (c *apiClient) Log(ctx context.Context, room string, limit int) ([]store.LogRecord, error) {
	var out struct {
		Messages []store.LogRecord `json:"messages"`
	}
	path := "/rooms/" + url.PathEscape(room) + "/log?limit=" + strconv.Itoa(limit)
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.Messages, err
}
