// Copyright 2024-2026 Aiku AI

package onebot

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Event types.
const (
	TypeMessage = "message"
	TypeNotice  = "notice"
	TypeRequest = "request"
	TypeMeta    = "meta"
)

// Detail types the bridge understands. The wx. ones are extensions of the
// WeChat gateway.
const (
	DetailPrivate = "private"
	DetailGroup   = "group"

	DetailConnect      = "connect"
	DetailHeartbeat    = "heartbeat"
	DetailStatusUpdate = "status_update"
	DetailQRCode       = "wx.qrcode"

	DetailFriendIncrease       = "friend_increase"
	DetailFriendDecrease       = "friend_decrease"
	DetailGroupMemberIncrease  = "group_member_increase"
	DetailGroupMemberDecrease  = "group_member_decrease"
	DetailPrivateMessageDelete = "private_message_delete"
	DetailGroupMessageDelete   = "group_message_delete"
	DetailGroupNameChange      = "wx.group_name_change"
	DetailPrivateCard          = "wx.get_private_card"
	DetailGroupCard            = "wx.get_group_card"
	DetailPrivateRedBag        = "wx.get_private_redbag"
	DetailGroupRedBag          = "wx.get_group_redbag"
	DetailPrivateTransfer      = "wx.get_private_transfer"
	DetailPrivateCall          = "wx.get_private_call"
	DetailFriendRequest        = "wx.friend_request"
)

// Segment types.
const (
	SegText     = "text"
	SegMention  = "mention"
	SegImage    = "image"
	SegVoice    = "voice"
	SegVideo    = "video"
	SegFile     = "file"
	SegLocation = "location"
	SegReply    = "reply"
	SegEmoji    = "wx.emoji"
	SegLink     = "wx.link"
	SegApp      = "wx.app"
)

// GroupSuffix ends every group ID.
const GroupSuffix = "@chatroom"

// OfficialPrefix starts every official account ID.
const OfficialPrefix = "gh_"

// IsGroupID reports whether id addresses a group.
func IsGroupID(id string) bool {
	return strings.HasSuffix(id, GroupSuffix)
}

// Segment is one element of a message.
type Segment struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Str returns a string field of the segment data.
func (s Segment) Str(key string) string {
	switch v := s.Data[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}

// TextSegment builds a text segment.
func TextSegment(text string) Segment {
	return Segment{Type: SegText, Data: map[string]any{"text": text}}
}

// Self identifies the bot account an event belongs to.
type Self struct {
	Platform string `json:"platform"`
	UserID   string `json:"user_id"`
}

// BotStatus is one entry of a status_update event.
type BotStatus struct {
	Self   Self `json:"self"`
	Online bool `json:"online"`
}

// Status is the payload of a status_update event.
type Status struct {
	Good bool        `json:"good"`
	Bots []BotStatus `json:"bots"`
}

// Event is an event frame.
type Event struct {
	ID         string    `json:"id"`
	Time       float64   `json:"time"`
	Type       string    `json:"type"`
	DetailType string    `json:"detail_type"`
	SubType    string    `json:"sub_type"`
	Self       *Self     `json:"self,omitempty"`
	MessageID  string    `json:"message_id,omitempty"`
	Message    []Segment `json:"message,omitempty"`
	AltMessage string    `json:"alt_message,omitempty"`
	UserID     string    `json:"user_id,omitempty"`
	GroupID    string    `json:"group_id,omitempty"`
	OperatorID string    `json:"operator_id,omitempty"`
	Status     *Status   `json:"status,omitempty"`

	ToUserID string `json:"wx.to_user_id,omitempty"`
	Code     string `json:"code,omitempty"`
	Name     string `json:"name,omitempty"`
	V3       string `json:"v3,omitempty"`
	V4       string `json:"v4,omitempty"`
	Nickname string `json:"nickname,omitempty"`
	Content  string `json:"content,omitempty"`
	HeadURL  string `json:"head_url,omitempty"`
}

// Request is an action frame.
type Request struct {
	Action string `json:"action"`
	Params any    `json:"params"`
	Echo   string `json:"echo,omitempty"`
}

// Response answers a [Request] with the same echo.
type Response struct {
	Status  string          `json:"status"`
	RetCode int             `json:"retcode"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Echo    string          `json:"echo"`
}

// APIError is a failed action.
type APIError struct {
	Action  string
	RetCode int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("onebot action %s failed with retcode %d: %s", e.Action, e.RetCode, e.Message)
}

// UserInfo is returned by get_self_info, get_user_info and get_friend_list.
type UserInfo struct {
	UserID          string `json:"user_id"`
	UserName        string `json:"user_name"`
	UserDisplayName string `json:"user_displayname"`
	UserRemark      string `json:"user_remark"`
	Avatar          string `json:"wx.avatar"`
}

// GroupInfo is returned by get_group_info and get_group_list.
type GroupInfo struct {
	GroupID   string `json:"group_id"`
	GroupName string `json:"group_name"`
}

// FileData is returned by get_file with type "data".
type FileData struct {
	Name string `json:"name"`
	Data []byte `json:"data"`
}
