// Copyright 2024-2026 Aiku AI

package connector

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/xid"
)

// NewLocalID generates a conversation ID for the control surface. IDs are
// globally unique, so an ID is never handed out twice in a process.
func NewLocalID() string {
	return xid.New().String()
}

// ValidLocalID reports whether s looks like an ID produced by NewLocalID.
func ValidLocalID(s string) bool {
	_, err := xid.FromString(s)
	return err == nil
}

// ControlMessageKey identifies a message on the control network. Message IDs
// are only unique within a chat.
type ControlMessageKey struct {
	ChatID    int64
	MessageID int
}

func (k ControlMessageKey) String() string {
	return strconv.FormatInt(k.ChatID, 10) + ":" + strconv.Itoa(k.MessageID)
}

// SourceMessageRef identifies a message on the source network together with
// the conversation it was posted in.
type SourceMessageRef struct {
	MessageID      string
	ConversationID string
}

// Callback data prefixes for inline buttons.
const (
	CallbackSelect       = "sel"
	CallbackAcceptFriend = "acc"
)

// MakeCallbackData joins a prefix and a payload for an inline button.
func MakeCallbackData(prefix, payload string) string {
	return prefix + ":" + payload
}

// ParseCallbackData splits data produced by MakeCallbackData.
func ParseCallbackData(data string) (prefix, payload string, err error) {
	prefix, payload, ok := strings.Cut(data, ":")
	if !ok || prefix == "" || payload == "" {
		return "", "", fmt.Errorf("malformed callback data %q", data)
	}
	return prefix, payload, nil
}
