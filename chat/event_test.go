package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/roombot/apperr"
	"github.com/onnwee/roombot/chatwork"
	"github.com/onnwee/roombot/store"
)

func TestParsePayloadNative(t *testing.T) {
	raw := []byte(`{
		"webhook_setting_id": "12345",
		"webhook_event_type": "message_created",
		"webhook_event_time": 1498028130,
		"webhook_event": {
			"message_id": "789012345",
			"room_id": 567890123,
			"account_id": 1234567890,
			"body": "Hello Chatwork!",
			"send_time": 1498028125,
			"update_time": 0
		}
	}`)
	ev, err := ParsePayload(raw)
	require.NoError(t, err)
	assert.Equal(t, "567890123", ev.RoomID)
	assert.Equal(t, "789012345", ev.MessageID)
	assert.Equal(t, "1234567890", ev.SenderID)
	assert.Equal(t, "Hello Chatwork!", ev.Body)
	assert.Equal(t, time.Unix(1498028125, 0), ev.SendTime)
	assert.True(t, ev.UpdateTime.IsZero())
	assert.Equal(t, store.EventCreated, ev.Kind)
	require.NoError(t, ev.Validate())
}

func TestParsePayloadNativeKinds(t *testing.T) {
	tests := []struct {
		eventType string
		wantKind  string
		wantErr   bool
	}{
		{"message_created", store.EventCreated, false},
		{"mention_to_me", store.EventCreated, false},
		{"message_updated", store.EventUpdated, false},
		{"room_deleted", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			raw := []byte(`{"webhook_event_type":"` + tt.eventType + `","webhook_event":{"message_id":"1","room_id":2,"from_account_id":3,"body":"x","send_time":10,"update_time":20}}`)
			ev, err := ParsePayload(raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperr.Is(err, apperr.KindMalformed))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, ev.Kind)
			assert.Equal(t, "3", ev.SenderID, "mentions carry from_account_id")
		})
	}
}

func TestParsePayloadNormalized(t *testing.T) {
	raw := []byte(`{"room_id":100,"message_id":"55","sender_id":7,"sender_name":"Alice","body":"/wiki Go","send_time":1700000000,"room_kind":"direct","event_type":"created"}`)
	ev, err := ParsePayload(raw)
	require.NoError(t, err)
	require.NoError(t, ev.Validate())
	assert.Equal(t, InboundEvent{
		RoomID:     "100",
		MessageID:  "55",
		SenderID:   "7",
		SenderName: "Alice",
		Body:       "/wiki Go",
		SendTime:   time.Unix(1700000000, 0),
		RoomKind:   chatwork.RoomTypeDirect,
		Kind:       store.EventCreated,
	}, ev)
	assert.True(t, ev.Direct())
	assert.Equal(t, "100-55", ev.CorrelationID())
}

func TestParsePayloadInvalidJSON(t *testing.T) {
	_, err := ParsePayload([]byte(`{"room_id":`))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindMalformed))
}

func TestValidate(t *testing.T) {
	base := InboundEvent{RoomID: " 1 ", MessageID: "2", SenderID: "3", Body: "hi"}
	tests := []struct {
		name   string
		mutate func(*InboundEvent)
		ok     bool
	}{
		{"complete", func(*InboundEvent) {}, true},
		{"no room", func(e *InboundEvent) { e.RoomID = "  " }, false},
		{"no message", func(e *InboundEvent) { e.MessageID = "" }, false},
		{"no sender", func(e *InboundEvent) { e.SenderID = "" }, false},
		{"blank body", func(e *InboundEvent) { e.Body = " \n" }, false},
		{"unknown kind", func(e *InboundEvent) { e.Kind = "deleted" }, false},
		{"unknown room kind", func(e *InboundEvent) { e.RoomKind = "channel" }, false},
		{"my chat", func(e *InboundEvent) { e.RoomKind = chatwork.RoomTypeMy }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := base
			tt.mutate(&ev)
			err := ev.Validate()
			if !tt.ok {
				require.Error(t, err)
				assert.True(t, apperr.Is(err, apperr.KindMalformed))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "1", ev.RoomID)
			assert.Equal(t, store.EventCreated, ev.Kind)
		})
	}
}

func TestValidateMapsMyChatToDirect(t *testing.T) {
	ev := InboundEvent{RoomID: "1", MessageID: "2", SenderID: "3", Body: "hi", RoomKind: chatwork.RoomTypeMy}
	require.NoError(t, ev.Validate())
	assert.True(t, ev.Direct())
}

func TestFromMessage(t *testing.T) {
	room := chatwork.Room{RoomID: 42, Type: chatwork.RoomTypeGroup}
	m := chatwork.Message{MessageID: "9", Account: chatwork.Account{AccountID: 5, Name: "Bob"}, Body: "yo", SendTime: 1700000000}
	ev := FromMessage(room, m)
	assert.Equal(t, "42", ev.RoomID)
	assert.Equal(t, "5", ev.SenderID)
	assert.Equal(t, "Bob", ev.SenderName)
	assert.Equal(t, SourcePoll, ev.Source)
	assert.False(t, ev.Direct())
}
