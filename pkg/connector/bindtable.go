// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// BindEntry routes one source conversation to a control chat other than the
// default. Name, Alias and Kind are kept so the entry can be matched again
// after a re-login rotates network IDs.
type BindEntry struct {
	NetworkID string           `json:"network_id"`
	Kind      ConversationKind `json:"kind"`
	Name      string           `json:"name"`
	Alias     string           `json:"alias,omitempty"`
	ChatID    int64            `json:"chat_id"`
}

// BindTable resolves the destination chat of a source conversation.
type BindTable struct {
	log   zerolog.Logger
	store BindStore

	mu          sync.RWMutex
	defaultChat func() int64
	entries     map[string]BindEntry
}

// NewBindTable creates a table that falls back to defaultChat. store may be
// nil, in which case entries live only in memory.
func NewBindTable(defaultChat func() int64, store BindStore, log zerolog.Logger) *BindTable {
	return &BindTable{
		log:         log,
		store:       store,
		defaultChat: defaultChat,
		entries:     make(map[string]BindEntry),
	}
}

// Load replaces the in-memory entries with the persisted ones.
func (b *BindTable) Load(ctx context.Context) error {
	if b.store == nil {
		return nil
	}
	entries, err := b.store.LoadBinds(ctx)
	if err != nil {
		return fmt.Errorf("failed to load binds: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = make(map[string]BindEntry, len(entries))
	for _, e := range entries {
		b.entries[e.NetworkID] = e
	}
	return nil
}

// Lookup returns the bind entry of a conversation, if any.
func (b *BindTable) Lookup(networkID string) (BindEntry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[networkID]
	return e, ok
}

// ResolveDestination returns the bound chat of conv, or the default chat.
func (b *BindTable) ResolveDestination(conv Conversation) int64 {
	if e, ok := b.Lookup(conv.NetworkID); ok {
		return e.ChatID
	}
	return b.defaultChat()
}

// Bind routes conv to chatID, replacing any previous entry for conv.
func (b *BindTable) Bind(ctx context.Context, conv Conversation, chatID int64) error {
	entry := BindEntry{
		NetworkID: conv.NetworkID,
		Kind:      conv.Kind,
		Name:      conv.Name,
		Alias:     conv.Alias,
		ChatID:    chatID,
	}
	b.mu.Lock()
	b.entries[conv.NetworkID] = entry
	b.mu.Unlock()
	if b.store != nil {
		if err := b.store.PutBind(ctx, entry); err != nil {
			return fmt.Errorf("failed to persist bind: %w", err)
		}
	}
	return nil
}

// Unbind removes the entry of a single conversation.
func (b *BindTable) Unbind(ctx context.Context, networkID string) (bool, error) {
	b.mu.Lock()
	_, ok := b.entries[networkID]
	delete(b.entries, networkID)
	b.mu.Unlock()
	if ok && b.store != nil {
		if err := b.store.DeleteBind(ctx, networkID); err != nil {
			return true, fmt.Errorf("failed to delete bind: %w", err)
		}
	}
	return ok, nil
}

// BoundTo returns every entry routed to chatID.
func (b *BindTable) BoundTo(chatID int64) []BindEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []BindEntry
	for _, e := range b.entries {
		if e.ChatID == chatID {
			out = append(out, e)
		}
	}
	return out
}

// Entries returns a snapshot of the table.
func (b *BindTable) Entries() []BindEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]BindEntry, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, e)
	}
	return out
}

// Invalidate removes every entry pointing at chatID. Calling it again for
// the same chat is a no-op. It returns the number of removed entries.
func (b *BindTable) Invalidate(ctx context.Context, chatID int64) int {
	b.mu.Lock()
	removed := 0
	for id, e := range b.entries {
		if e.ChatID == chatID {
			delete(b.entries, id)
			removed++
		}
	}
	b.mu.Unlock()
	if removed == 0 {
		return 0
	}
	b.log.Warn().Int64("chat_id", chatID).Int("removed", removed).Msg("Invalidated bind entries for unreachable chat")
	if b.store != nil {
		if err := b.store.DeleteBindsByChat(ctx, chatID); err != nil {
			b.log.Err(err).Int64("chat_id", chatID).Msg("Failed to delete invalidated binds")
		}
	}
	return removed
}

// Rebuild reconciles the table with a freshly refreshed directory. Entries
// are matched by network ID first and then by kind, name and alias, which
// follows an entity across a re-login. Unmatched entries are dropped.
func (b *BindTable) Rebuild(ctx context.Context, candidates []Conversation) {
	byNetwork := make(map[string]Conversation, len(candidates))
	for _, c := range candidates {
		byNetwork[c.NetworkID] = c
	}

	b.mu.Lock()
	next := make(map[string]BindEntry, len(b.entries))
	dropped := 0
	for _, e := range b.entries {
		conv, ok := byNetwork[e.NetworkID]
		if !ok || conv.Kind != e.Kind {
			conv, ok = matchBindCandidate(e, candidates)
		}
		if !ok {
			dropped++
			continue
		}
		e.NetworkID = conv.NetworkID
		e.Name = conv.Name
		e.Alias = conv.Alias
		next[e.NetworkID] = e
	}
	b.entries = next
	snapshot := make([]BindEntry, 0, len(next))
	for _, e := range next {
		snapshot = append(snapshot, e)
	}
	b.mu.Unlock()

	if dropped > 0 {
		b.log.Info().Int("dropped", dropped).Int("kept", len(snapshot)).Msg("Dropped stale bind entries")
	}
	if b.store != nil {
		if err := b.store.ReplaceBinds(ctx, snapshot); err != nil {
			b.log.Err(err).Msg("Failed to persist rebuilt binds")
		}
	}
}

func matchBindCandidate(e BindEntry, candidates []Conversation) (Conversation, bool) {
	for _, c := range candidates {
		if c.Kind != e.Kind || c.Name != e.Name {
			continue
		}
		if e.Alias != "" && c.Alias != e.Alias {
			continue
		}
		return c, true
	}
	return Conversation{}, false
}

// Reset drops all in-memory entries. Persisted entries are kept so they can
// be matched again by Rebuild after the next login.
func (b *BindTable) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = make(map[string]BindEntry)
}
