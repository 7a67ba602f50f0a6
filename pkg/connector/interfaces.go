// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"

	"github.com/aiku/wechat-tg-bridge/pkg/settings"
)

// Control network failure classes. Implementations of [ControlClient] wrap
// their transport errors so that errors.Is matches one of these.
var (
	// ErrDestinationForbidden means the bot can no longer post to the chat.
	ErrDestinationForbidden = errors.New("destination forbidden")
	// ErrMessageNotModified means an edit carried the text already shown.
	ErrMessageNotModified = errors.New("message not modified")
	// ErrMessageNotFound means the edit or pin target no longer exists.
	ErrMessageNotFound = errors.New("message not found")
)

// SourceClient is the source network session.
type SourceClient interface {
	Self() Entity
	ListContacts(ctx context.Context) ([]Entity, error)
	ListGroups(ctx context.Context) ([]Entity, error)
	// SyncContact asks the source network for fresh data about an entity.
	SyncContact(ctx context.Context, networkID string) (Entity, error)
	SendText(ctx context.Context, conversationID, text string) (string, error)
	SendMedia(ctx context.Context, conversationID string, media OutboundMedia) (string, error)
	Retract(ctx context.Context, ref SourceMessageRef) error
	FetchMedia(ctx context.Context, handle MediaHandle) ([]byte, error)
	AcceptFriend(ctx context.Context, ticket string) error
	Logout(ctx context.Context) error
}

// Button is an inline action attached to a control message.
type Button struct {
	Text string
	Data string
}

// OutgoingText is a text message for the control network.
type OutgoingText struct {
	Text string
	HTML bool
	// ReplyTo quotes a control message in the same chat, 0 for none.
	ReplyTo int
	Buttons [][]Button
}

// MediaType is the native media kind used on the control network.
type MediaType int

const (
	MediaDocument MediaType = iota
	MediaPhoto
	MediaVideo
	MediaAudio
	MediaVoice
	MediaAnimation
)

// OutgoingMedia is a media message for the control network.
type OutgoingMedia struct {
	Type    MediaType
	Name    string
	Data    []byte
	Caption string
	HTML    bool
}

// ControlClient is the bot session on the control network.
type ControlClient interface {
	SendText(ctx context.Context, chatID int64, msg OutgoingText) (int, error)
	SendMedia(ctx context.Context, chatID int64, media OutgoingMedia) (int, error)
	EditMessageText(ctx context.Context, chatID int64, messageID int, text string) error
	PinMessage(ctx context.Context, chatID int64, messageID int) error
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	// PinnedMessage returns the currently pinned message ID, or 0.
	PinnedMessage(ctx context.Context, chatID int64) (int, error)
}

// LargeFileTransport sends payloads above the default upload limit.
type LargeFileTransport interface {
	SendMedia(ctx context.Context, chatID int64, media OutgoingMedia) (int, error)
}

// SettingsStore provides the operator options.
type SettingsStore interface {
	Get() settings.Settings
	Update(fn func(*settings.Settings)) error
	Reload() error
}

// BindStore persists bind entries across restarts.
type BindStore interface {
	LoadBinds(ctx context.Context) ([]BindEntry, error)
	PutBind(ctx context.Context, entry BindEntry) error
	DeleteBind(ctx context.Context, networkID string) error
	DeleteBindsByChat(ctx context.Context, chatID int64) error
	ReplaceBinds(ctx context.Context, entries []BindEntry) error
}

// StickerConverter turns a source sticker into a portable animation,
// caching the result under key.
type StickerConverter interface {
	Convert(ctx context.Context, key string, fetch func(ctx context.Context) ([]byte, error)) ([]byte, error)
}
