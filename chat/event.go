package chat

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/roombot/apperr"
	"github.com/onnwee/roombot/chatwork"
	"github.com/onnwee/roombot/store"
)

// Event sources, used as the metrics label.
const (
	SourceWebhook = "webhook"
	SourcePoll    = "poll"
	SourceTrigger = "trigger"
)

// InboundEvent is one normalized chat message. (RoomID, MessageID) identifies
// the message; Kind separates the original post from later edits.
type InboundEvent struct {
	RoomID     string    `json:"room_id"`
	MessageID  string    `json:"message_id"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name,omitempty"`
	Body       string    `json:"body"`
	SendTime   time.Time `json:"send_time"`
	UpdateTime time.Time `json:"update_time,omitempty"`
	// RoomKind is chatwork.RoomTypeDirect or chatwork.RoomTypeGroup; empty means unknown.
	RoomKind string `json:"room_kind,omitempty"`
	Kind     string `json:"event_type"`
	Source   string `json:"-"`
}

// Direct reports whether the event happened in a one-to-one room.
func (e InboundEvent) Direct() bool { return e.RoomKind == chatwork.RoomTypeDirect }

// CorrelationID tags logs for this event.
func (e InboundEvent) CorrelationID() string { return e.RoomID + "-" + e.MessageID }

// Validate normalizes the event and reports missing fields as KindMalformed.
func (e *InboundEvent) Validate() error {
	const op = "chat.validate"
	e.RoomID = strings.TrimSpace(e.RoomID)
	e.MessageID = strings.TrimSpace(e.MessageID)
	e.SenderID = strings.TrimSpace(e.SenderID)
	switch {
	case e.RoomID == "":
		return apperr.New(apperr.KindMalformed, op, "room_id missing")
	case e.MessageID == "":
		return apperr.New(apperr.KindMalformed, op, "message_id missing")
	case e.SenderID == "":
		return apperr.New(apperr.KindMalformed, op, "sender_id missing")
	case strings.TrimSpace(e.Body) == "":
		return apperr.New(apperr.KindMalformed, op, "body missing")
	}
	switch e.Kind {
	case "", store.EventCreated:
		e.Kind = store.EventCreated
	case store.EventUpdated:
	default:
		return apperr.New(apperr.KindMalformed, op, "unknown event_type "+strconv.Quote(e.Kind))
	}
	switch e.RoomKind {
	case "", chatwork.RoomTypeDirect, chatwork.RoomTypeGroup:
	case chatwork.RoomTypeMy:
		e.RoomKind = chatwork.RoomTypeDirect
	default:
		return apperr.New(apperr.KindMalformed, op, "unknown room_kind "+strconv.Quote(e.RoomKind))
	}
	return nil
}

// flexID accepts an id sent either as a JSON string or a number.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

// wirePayload is the normalized webhook body also used by /trigger.
type wirePayload struct {
	RoomID     flexID `json:"room_id"`
	MessageID  flexID `json:"message_id"`
	SenderID   flexID `json:"sender_id"`
	SenderName string `json:"sender_name"`
	Body       string `json:"body"`
	SendTime   int64  `json:"send_time"`
	UpdateTime int64  `json:"update_time"`
	RoomKind   string `json:"room_kind"`
	EventType  string `json:"event_type"`
}

// nativeEnvelope is the body Chatwork itself posts to webhooks.
type nativeEnvelope struct {
	SettingID flexID `json:"webhook_setting_id"`
	EventType string `json:"webhook_event_type"`
	EventTime int64  `json:"webhook_event_time"`
	Event     *struct {
		MessageID     flexID `json:"message_id"`
		RoomID        flexID `json:"room_id"`
		AccountID     flexID `json:"account_id"`
		FromAccountID flexID `json:"from_account_id"`
		Body          string `json:"body"`
		SendTime      int64  `json:"send_time"`
		UpdateTime    int64  `json:"update_time"`
	} `json:"webhook_event"`
}

// ParsePayload decodes either Chatwork's native webhook envelope or the
// normalized payload. The result still needs Validate.
func ParsePayload(raw []byte) (InboundEvent, error) {
	const op = "chat.parse"
	var env nativeEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return InboundEvent{}, apperr.Wrap(apperr.KindMalformed, op, err)
	}
	if env.Event != nil {
		ev := InboundEvent{
			RoomID:    string(env.Event.RoomID),
			MessageID: string(env.Event.MessageID),
			SenderID:  string(env.Event.AccountID),
			Body:      env.Event.Body,
			SendTime:  unixOrZero(env.Event.SendTime),
		}
		if ev.SenderID == "" {
			ev.SenderID = string(env.Event.FromAccountID)
		}
		switch env.EventType {
		case "message_updated":
			ev.Kind = store.EventUpdated
			ev.UpdateTime = unixOrZero(env.Event.UpdateTime)
		case "message_created", "mention_to_me", "":
			ev.Kind = store.EventCreated
		default:
			return InboundEvent{}, apperr.New(apperr.KindMalformed, op, "unsupported webhook_event_type "+strconv.Quote(env.EventType))
		}
		return ev, nil
	}

	var p wirePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return InboundEvent{}, apperr.Wrap(apperr.KindMalformed, op, err)
	}
	return InboundEvent{
		RoomID:     string(p.RoomID),
		MessageID:  string(p.MessageID),
		SenderID:   string(p.SenderID),
		SenderName: p.SenderName,
		Body:       p.Body,
		SendTime:   unixOrZero(p.SendTime),
		UpdateTime: unixOrZero(p.UpdateTime),
		RoomKind:   p.RoomKind,
		Kind:       p.EventType,
	}, nil
}

// FromMessage converts a polled platform message.
func FromMessage(room chatwork.Room, m chatwork.Message) InboundEvent {
	kind := room.Type
	if kind == chatwork.RoomTypeMy {
		kind = chatwork.RoomTypeDirect
	}
	return InboundEvent{
		RoomID:     room.ID(),
		MessageID:  m.MessageID,
		SenderID:   strconv.FormatInt(m.Account.AccountID, 10),
		SenderName: m.Account.Name,
		Body:       m.Body,
		SendTime:   unixOrZero(m.SendTime),
		UpdateTime: unixOrZero(m.UpdateTime),
		RoomKind:   kind,
		Kind:       store.EventCreated,
		Source:     SourcePoll,
	}
}

func unixOrZero(n int64) time.Time {
	if n <= 0 {
		return time.Time{}
	}
	return time.Unix(n, 0)
}
