// Copyright 2024-2026 Aiku AI

package connector

import "strings"

// ConversationKind classifies a source network entity.
type ConversationKind int

const (
	KindUnknown ConversationKind = iota
	KindIndividual
	KindGroup
	KindOfficial
)

func (k ConversationKind) String() string {
	switch k {
	case KindIndividual:
		return "individual"
	case KindGroup:
		return "group"
	case KindOfficial:
		return "official"
	default:
		return "unknown"
	}
}

// Entity is a source network contact or group as reported by the source
// client. NetworkID may change between logins.
type Entity struct {
	NetworkID string
	Kind      ConversationKind
	Name      string
	Alias     string
	AvatarURL string
	// Ready is false while the source client still has partial data for
	// the entity.
	Ready bool
}

// Conversation is a directory entry. LocalID is the only identifier that is
// ever shown on the control side.
type Conversation struct {
	LocalID   string
	NetworkID string
	Kind      ConversationKind
	Name      string
	Alias     string
}

// DisplayName renders the alias before the name when both are known.
func (c Conversation) DisplayName() string {
	if c.Alias != "" && c.Alias != c.Name {
		return "[" + c.Alias + "] " + c.Name
	}
	return c.Name
}

// MessageKind is the discriminator of a [MessageEvent].
type MessageKind int

const (
	MsgUnsupported MessageKind = iota
	MsgText
	MsgImage
	MsgAudio
	MsgVideo
	MsgFile
	MsgSticker
	MsgContactCard
	MsgLink
	MsgLocation
	MsgRedEnvelope
	MsgCall
	MsgTransfer
	MsgRecall
	MsgMiniProgram
	MsgGroupNote
	MsgChatHistory
	MsgPost
)

var messageKindNames = map[MessageKind]string{
	MsgUnsupported: "unsupported",
	MsgText:        "text",
	MsgImage:       "image",
	MsgAudio:       "audio",
	MsgVideo:       "video",
	MsgFile:        "file",
	MsgSticker:     "sticker",
	MsgContactCard: "contact card",
	MsgLink:        "link",
	MsgLocation:    "location",
	MsgRedEnvelope: "red envelope",
	MsgCall:        "call",
	MsgTransfer:    "transfer",
	MsgRecall:      "recall",
	MsgMiniProgram: "mini program",
	MsgGroupNote:   "group note",
	MsgChatHistory: "chat history",
	MsgPost:        "post",
}

func (k MessageKind) String() string {
	if name, ok := messageKindNames[k]; ok {
		return name
	}
	return "unsupported"
}

// IsMedia reports whether the kind carries a downloadable payload.
func (k MessageKind) IsMedia() bool {
	switch k {
	case MsgImage, MsgAudio, MsgVideo, MsgFile, MsgSticker:
		return true
	default:
		return false
	}
}

// MediaHandle points at a payload that can be fetched from the source client.
type MediaHandle struct {
	FileID string
	Name   string
	Size   int64
}

// LinkPayload is a shared article or URL.
type LinkPayload struct {
	Title       string
	Description string
	URL         string
}

// ContactCard is a shared contact.
type ContactCard struct {
	Nickname  string
	AvatarURL string
}

// SourceEvent is the closed set of events emitted by a [SourceClient].
type SourceEvent interface {
	isSourceEvent()
}

type LoginEvent struct {
	Self Entity
}

type LogoutEvent struct {
	Reason string
}

// ScanEvent carries a login QR payload. An empty Code means the scan was
// confirmed and the QR message can be removed.
type ScanEvent struct {
	Code string
}

type ReadyEvent struct{}

type MessageEvent struct {
	MessageID string
	Sender    Entity
	// Group is set when the message was posted in a group.
	Group *Entity
	Kind  MessageKind
	Text  string

	Media   *MediaHandle
	Link    *LinkPayload
	Card    *ContactCard
	Sticker string // content-stable sticker key

	// Echo marks the operator's own activity on the source network.
	Echo bool
	// Recipient and RecipientID name the target of an echoed private
	// message.
	Recipient    string
	RecipientID  string
	MentionsSelf bool
}

type RoomJoinEvent struct {
	Group    Entity
	Inviter  string
	Invitees []string
	// SelfJoined is true when the logged-in account is among the invitees.
	SelfJoined bool
}

type RoomLeaveEvent struct {
	Group       Entity
	Removed     []string
	SelfRemoved bool
}

type RoomTopicEvent struct {
	Group     Entity
	OldTopic  string
	NewTopic  string
	ChangedBy string
}

type FriendRequestEvent struct {
	Ticket  string
	Contact Entity
	Hello   string
}

type FriendConfirmEvent struct {
	Contact Entity
}

type FriendRemoveEvent struct {
	Contact Entity
}

func (LoginEvent) isSourceEvent()         {}
func (LogoutEvent) isSourceEvent()        {}
func (ScanEvent) isSourceEvent()          {}
func (ReadyEvent) isSourceEvent()         {}
func (MessageEvent) isSourceEvent()       {}
func (RoomJoinEvent) isSourceEvent()      {}
func (RoomLeaveEvent) isSourceEvent()     {}
func (RoomTopicEvent) isSourceEvent()     {}
func (FriendRequestEvent) isSourceEvent() {}
func (FriendConfirmEvent) isSourceEvent() {}
func (FriendRemoveEvent) isSourceEvent()  {}

// OperatorMessage is a message the operator posted in a control chat.
type OperatorMessage struct {
	ChatID    int64
	MessageID int
	SenderID  int64
	Text      string
	// ReplyTo is the ID of the control message being replied to, or 0.
	ReplyTo int
	Media   *OutboundMedia
}

// IsRetraction reports whether the message asks to retract its reply target.
func (m *OperatorMessage) IsRetraction() bool {
	return m.ReplyTo != 0 && m.Media == nil && strings.TrimSpace(m.Text) == RetractionKeyword
}

// OutboundMedia is a payload sent to the source network.
type OutboundMedia struct {
	Kind MessageKind
	Name string
	Data []byte
}

// RetractionKeyword, sent as a reply, retracts the replied-to message.
const RetractionKeyword = "&rm"
