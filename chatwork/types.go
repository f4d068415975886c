package chatwork

import (
	"strconv"
	"strings"
	"time"
)

// Room kinds as reported by the API.
const (
	RoomTypeMy     = "my"
	RoomTypeDirect = "direct"
	RoomTypeGroup  = "group"
)

// Member roles.
const (
	RoleAdmin    = "admin"
	RoleMember   = "member"
	RoleReadonly = "readonly"
)

// Room is one entry of GET /rooms.
type Room struct {
	RoomID int64  `json:"room_id"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Role   string `json:"role"`
}

// ID returns the room id as the string form used throughout the bot.
func (r Room) ID() string { return strconv.FormatInt(r.RoomID, 10) }

// IsDirect reports whether the room is a one-to-one chat.
func (r Room) IsDirect() bool { return r.Type == RoomTypeDirect }

// RoomInfo is the payload of GET /rooms/{id}.
type RoomInfo struct {
	Room
	Sticky         bool   `json:"sticky"`
	UnreadNum      int    `json:"unread_num"`
	MentionNum     int    `json:"mention_num"`
	MytaskNum      int    `json:"mytask_num"`
	MessageNum     int    `json:"message_num"`
	FileNum        int    `json:"file_num"`
	TaskNum        int    `json:"task_num"`
	IconPath       string `json:"icon_path"`
	LastUpdateTime int64  `json:"last_update_time"`
	Description    string `json:"description"`
}

// Member is one entry of GET /rooms/{id}/members.
type Member struct {
	AccountID      int64  `json:"account_id"`
	Role           string `json:"role"`
	Name           string `json:"name"`
	AvatarImageURL string `json:"avatar_image_url"`
}

// ID returns the account id as a string.
func (m Member) ID() string { return strconv.FormatInt(m.AccountID, 10) }

// Account identifies the sender of a message.
type Account struct {
	AccountID      int64  `json:"account_id"`
	Name           string `json:"name"`
	AvatarImageURL string `json:"avatar_image_url"`
}

// Message is one chat message.
type Message struct {
	MessageID  string  `json:"message_id"`
	Account    Account `json:"account"`
	Body       string  `json:"body"`
	SendTime   int64   `json:"send_time"`
	UpdateTime int64   `json:"update_time"`
}

// SentAt returns the send time.
func (m Message) SentAt() time.Time { return time.Unix(m.SendTime, 0) }

// MemberRoles is the request and response shape of PUT /rooms/{id}/members.
type MemberRoles struct {
	Admin    []int64 `json:"admin"`
	Member   []int64 `json:"member"`
	Readonly []int64 `json:"readonly"`
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}
