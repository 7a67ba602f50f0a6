// Copyright 2024-2026 Aiku AI

package connector

import (
	"slices"
	"sync"
)

// SelectionMode is the reply mode shown in the pinned status message.
type SelectionMode int

const (
	ModeUser SelectionMode = iota
	ModeRoom
	ModeOfficial
)

func (m SelectionMode) String() string {
	switch m {
	case ModeRoom:
		return "room"
	case ModeOfficial:
		return "official"
	default:
		return "user"
	}
}

// ModeForKind returns the reply mode that matches a conversation kind.
func ModeForKind(kind ConversationKind) SelectionMode {
	switch kind {
	case KindGroup:
		return ModeRoom
	case KindOfficial:
		return ModeOfficial
	default:
		return ModeUser
	}
}

// SelectionState is the current reply target.
type SelectionState struct {
	Conversation Conversation
	Mode         SelectionMode
}

func (m SelectionMode) icon() string {
	switch m {
	case ModeRoom:
		return "🌐"
	case ModeOfficial:
		return "📣"
	default:
		return "👤"
	}
}

// StatusText is the text of the pinned status message.
func (s SelectionState) StatusText() string {
	return s.Mode.icon() + " " + s.Conversation.DisplayName()
}

// NoSelectionStatus is the pinned status text while nothing is selected.
const NoSelectionStatus = "No conversation selected"

// Selection holds the single reply target of the process.
type Selection struct {
	mu    sync.RWMutex
	state *SelectionState
}

// Select sets the reply target, in the mode of its kind, and reports whether
// it changed.
func (s *Selection) Select(conv Conversation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := SelectionState{Conversation: conv, Mode: ModeForKind(conv.Kind)}
	if s.state != nil && *s.state == next {
		return false
	}
	s.state = &next
	return true
}

// Current returns the reply target, if one is selected.
func (s *Selection) Current() (SelectionState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == nil {
		return SelectionState{}, false
	}
	return *s.state, true
}

func (s *Selection) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = nil
}

// ClearIf clears the reply target when it is the given conversation and
// reports whether it did.
func (s *Selection) ClearIf(kind ConversationKind, networkID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil || s.state.Conversation.Kind != kind || s.state.Conversation.NetworkID != networkID {
		return false
	}
	s.state = nil
	return true
}

// RecentCapacity is the length of the quick-pick list.
const RecentCapacity = 5

// RecentConversations is a most-recent-first list of distinct conversations.
type RecentConversations struct {
	mu    sync.Mutex
	items []Conversation
}

// Touch moves conv to the front, evicting the oldest entry when full.
func (r *RecentConversations) Touch(conv Conversation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = slices.DeleteFunc(r.items, func(c Conversation) bool { return c.LocalID == conv.LocalID })
	if len(r.items) >= RecentCapacity {
		r.items = r.items[:RecentCapacity-1]
	}
	r.items = slices.Insert(r.items, 0, conv)
}

// List returns a copy of the list, most recent first.
func (r *RecentConversations) List() []Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.items)
}

func (r *RecentConversations) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = nil
}

// Remove drops the given conversation from the list.
func (r *RecentConversations) Remove(kind ConversationKind, networkID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = slices.DeleteFunc(r.items, func(c Conversation) bool {
		return c.Kind == kind && c.NetworkID == networkID
	})
}
