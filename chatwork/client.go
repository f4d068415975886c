// Package chatwork contains a minimal Chatwork v2 REST client covering the
// room, member, message and file endpoints the bot needs.
//
// Every request is admitted by the shared ratelimit.Governor before it leaves
// the process, and every non-2xx response is mapped to an apperr kind.
package chatwork

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/onnwee/roombot/apperr"
	"github.com/onnwee/roombot/cache"
	"github.com/onnwee/roombot/ratelimit"
	"github.com/onnwee/roombot/telemetry"
)

// DefaultBaseURL is the public API root.
const DefaultBaseURL = "https://api.chatwork.com/v2"

const roomListTTL = 5 * time.Minute

var (
	// ErrNotMember is returned when the bot cannot post into a room because it has not joined it.
	ErrNotMember = apperr.New(apperr.KindPermissionDenied, "chatwork.send", "not a member of that room")
	// ErrUnauthorized is returned by any call when the API token is invalid or revoked.
	ErrUnauthorized = apperr.New(apperr.KindPermissionDenied, "chatwork", "api token rejected")
)

// Client talks to the Chatwork API with a static API token.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Governor   *ratelimit.Governor

	rooms *cache.FIFO[[]Room]
}

// NewClient creates a client. A nil governor gets the default 10 calls / 10s quota.
func NewClient(baseURL, token string, gov *ratelimit.Governor) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if gov == nil {
		gov = ratelimit.New(ratelimit.DefaultLimit, ratelimit.DefaultWindow)
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		Governor:   gov,
		rooms:      cache.NewFIFO[[]Room](roomListTTL, 1),
	}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// do performs one governed API call. endpoint is a low-cardinality label for metrics.
// A 204 response leaves out untouched.
func (c *Client) do(ctx context.Context, endpoint, method, path string, body io.Reader, contentType string, out any) error {
	op := "chatwork." + endpoint
	if err := c.Governor.Acquire(ctx); err != nil {
		return apperr.Wrap(apperr.KindNetworkFailure, op, err)
	}

	ctx, span := telemetry.StartSpan(ctx, "chatwork", op)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return apperr.Wrap(apperr.KindMalformed, op, err)
	}
	req.Header.Set("X-ChatWorkToken", c.Token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		telemetry.Inc(telemetry.OutboundCalls, endpoint, "error")
		telemetry.RecordError(span, err)
		return apperr.Wrap(apperr.KindNetworkFailure, op, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if err := apperr.FromStatus(op, resp.StatusCode); err != nil {
		telemetry.Inc(telemetry.OutboundCalls, endpoint, "status_"+fmt.Sprint(resp.StatusCode))
		telemetry.RecordError(span, err)
		if resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("%w: %w", ErrUnauthorized, err)
		}
		return err
	}
	telemetry.Inc(telemetry.OutboundCalls, endpoint, "ok")
	if resp.StatusCode == http.StatusNoContent || out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Wrap(apperr.KindMalformed, op, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, endpoint, path string, out any) error {
	return c.do(ctx, endpoint, http.MethodGet, path, nil, "", out)
}

func (c *Client) sendForm(ctx context.Context, endpoint, method, path string, form url.Values, out any) error {
	return c.do(ctx, endpoint, method, path, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", out)
}

// Rooms lists the rooms the bot participates in. The list is cached for five minutes.
func (c *Client) Rooms(ctx context.Context) ([]Room, error) {
	if rooms, ok := c.rooms.Get("all"); ok {
		return rooms, nil
	}
	var rooms []Room
	if err := c.get(ctx, "rooms", "/rooms", &rooms); err != nil {
		return nil, err
	}
	c.rooms.Set("all", rooms)
	return rooms, nil
}

// Room returns detailed information about one room.
func (c *Client) Room(ctx context.Context, roomID string) (*RoomInfo, error) {
	if roomID == "" {
		return nil, apperr.New(apperr.KindMalformed, "chatwork.room", "room id empty")
	}
	var info RoomInfo
	if err := c.get(ctx, "room", "/rooms/"+url.PathEscape(roomID), &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Members lists the members of a room with their roles. It always hits the API.
func (c *Client) Members(ctx context.Context, roomID string) ([]Member, error) {
	if roomID == "" {
		return nil, apperr.New(apperr.KindMalformed, "chatwork.members", "room id empty")
	}
	var members []Member
	if err := c.get(ctx, "members", "/rooms/"+url.PathEscape(roomID)+"/members", &members); err != nil {
		return nil, err
	}
	return members, nil
}

// Messages returns up to the latest 100 messages of a room. With force=false only
// messages not yet fetched by this token are returned; an empty result is not an error.
func (c *Client) Messages(ctx context.Context, roomID string, force bool) ([]Message, error) {
	if roomID == "" {
		return nil, apperr.New(apperr.KindMalformed, "chatwork.messages", "room id empty")
	}
	path := "/rooms/" + url.PathEscape(roomID) + "/messages"
	if force {
		path += "?force=1"
	}
	var msgs []Message
	if err := c.get(ctx, "messages", path, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Message fetches a single message by id.
func (c *Client) Message(ctx context.Context, roomID, messageID string) (*Message, error) {
	if roomID == "" || messageID == "" {
		return nil, apperr.New(apperr.KindMalformed, "chatwork.message", "room id and message id required")
	}
	var m Message
	if err := c.get(ctx, "message", "/rooms/"+url.PathEscape(roomID)+"/messages/"+url.PathEscape(messageID), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// SendMessage posts body into roomID and returns the platform message id.
// A 403 or 404 from the send endpoint means the bot is not in the room and
// comes back as ErrNotMember; a rejected token stays ErrUnauthorized.
func (c *Client) SendMessage(ctx context.Context, roomID, body string) (string, error) {
	if roomID == "" || strings.TrimSpace(body) == "" {
		return "", apperr.New(apperr.KindMalformed, "chatwork.send", "room id and body required")
	}
	var out struct {
		MessageID string `json:"message_id"`
	}
	err := c.sendForm(ctx, "send", http.MethodPost, "/rooms/"+url.PathEscape(roomID)+"/messages", url.Values{"body": {body}}, &out)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return "", err
		}
		if k := apperr.KindOf(err); k == apperr.KindPermissionDenied || k == apperr.KindNotFound {
			return "", fmt.Errorf("%w: %v", ErrNotMember, err)
		}
		return "", err
	}
	return out.MessageID, nil
}

// UpdateMemberRoles replaces the room's member list. Chatwork requires at least one admin.
func (c *Client) UpdateMemberRoles(ctx context.Context, roomID string, roles MemberRoles) (*MemberRoles, error) {
	if len(roles.Admin) == 0 {
		return nil, apperr.New(apperr.KindMalformed, "chatwork.update_members", "at least one admin required")
	}
	form := url.Values{"members_admin_ids": {joinIDs(roles.Admin)}}
	if len(roles.Member) > 0 {
		form.Set("members_member_ids", joinIDs(roles.Member))
	}
	if len(roles.Readonly) > 0 {
		form.Set("members_readonly_ids", joinIDs(roles.Readonly))
	}
	var out MemberRoles
	if err := c.sendForm(ctx, "update_members", http.MethodPut, "/rooms/"+url.PathEscape(roomID)+"/members", form, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RoomByID is a convenience for scheduled jobs that only know the id.
func (c *Client) RoomByID(ctx context.Context, roomID string) (*Room, error) {
	rooms, err := c.Rooms(ctx)
	if err != nil {
		return nil, err
	}
	for i := range rooms {
		if rooms[i].ID() == roomID {
			return &rooms[i], nil
		}
	}
	return nil, apperr.Wrap(apperr.KindNotFound, "chatwork.room_by_id", errors.New("room "+roomID+" not joined"))
}

// UploadFile attaches a file to roomID with an optional message and returns the file id.
func (c *Client) UploadFile(ctx context.Context, roomID, filename string, content []byte, message string) (int64, error) {
	if roomID == "" || filename == "" {
		return 0, apperr.New(apperr.KindMalformed, "chatwork.upload", "room id and filename required")
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindMalformed, "chatwork.upload", err)
	}
	if _, err := fw.Write(content); err != nil {
		return 0, apperr.Wrap(apperr.KindMalformed, "chatwork.upload", err)
	}
	if message != "" {
		if err := mw.WriteField("message", message); err != nil {
			return 0, apperr.Wrap(apperr.KindMalformed, "chatwork.upload", err)
		}
	}
	if err := mw.Close(); err != nil {
		return 0, apperr.Wrap(apperr.KindMalformed, "chatwork.upload", err)
	}
	var out struct {
		FileID int64 `json:"file_id"`
	}
	if err := c.do(ctx, "upload", http.MethodPost, "/rooms/"+url.PathEscape(roomID)+"/files", &buf, mw.FormDataContentType(), &out); err != nil {
		return 0, err
	}
	return out.FileID, nil
}
