// Copyright 2024-2026 Aiku AI

package connector

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// maxSyncAttempts bounds how often a single entity is re-synced before it is
// accepted with whatever data the source client has.
const maxSyncAttempts = 5

// DirectorySource is the part of [SourceClient] the directory enumerates.
type DirectorySource interface {
	ListContacts(ctx context.Context) ([]Entity, error)
	ListGroups(ctx context.Context) ([]Entity, error)
	SyncContact(ctx context.Context, networkID string) (Entity, error)
}

// Directory is the catalog of known source conversations.
type Directory struct {
	log zerolog.Logger

	mu        sync.RWMutex
	byLocal   map[string]*Conversation
	byNetwork map[string]string
	// assigned survives removals and resets so that an entity seen again
	// keeps its first local ID.
	assigned map[string]string
}

func NewDirectory(log zerolog.Logger) *Directory {
	return &Directory{
		log:       log,
		byLocal:   make(map[string]*Conversation),
		byNetwork: make(map[string]string),
		assigned:  make(map[string]string),
	}
}

func directoryKey(kind ConversationKind, networkID string) string {
	return kind.String() + "/" + networkID
}

func (d *Directory) localIDFor(kind ConversationKind, networkID string) string {
	key := directoryKey(kind, networkID)
	if id, ok := d.assigned[key]; ok {
		return id
	}
	id := NewLocalID()
	d.assigned[key] = id
	return id
}

// syncAlias retries SyncContact while the alias still mirrors the name.
func syncAlias(ctx context.Context, src DirectorySource, e Entity, log zerolog.Logger) Entity {
	for attempt := 0; e.Alias == e.Name && attempt < maxSyncAttempts; attempt++ {
		synced, err := src.SyncContact(ctx, e.NetworkID)
		if err != nil {
			log.Debug().Err(err).Str("network_id", e.NetworkID).Int("attempt", attempt+1).Msg("Contact sync failed")
			continue
		}
		e = synced
	}
	return e
}

// Refresh enumerates all contacts and groups. Entities already known keep
// their local ID, entities that vanished are dropped. The resulting
// conversations are returned for bind reconciliation.
func (d *Directory) Refresh(ctx context.Context, src DirectorySource) ([]Conversation, error) {
	contacts, err := src.ListContacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	groups, err := src.ListGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}

	entities := make([]Entity, 0, len(contacts)+len(groups))
	for _, c := range contacts {
		if c.Name == "" {
			continue
		}
		entities = append(entities, syncAlias(ctx, src, c, d.log))
	}
	for _, g := range groups {
		if g.Kind == KindUnknown {
			g.Kind = KindGroup
		}
		entities = append(entities, g)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.byLocal = make(map[string]*Conversation, len(entities))
	d.byNetwork = make(map[string]string, len(entities))
	out := make([]Conversation, 0, len(entities))
	for _, e := range entities {
		conv := d.putLocked(e)
		out = append(out, *conv)
	}
	d.log.Info().
		Int("contacts", len(contacts)).
		Int("groups", len(groups)).
		Msg("Directory refreshed")
	return out, nil
}

func (d *Directory) putLocked(e Entity) *Conversation {
	key := directoryKey(e.Kind, e.NetworkID)
	if localID, ok := d.byNetwork[key]; ok {
		conv := d.byLocal[localID]
		conv.Name = e.Name
		conv.Alias = e.Alias
		return conv
	}
	conv := &Conversation{
		LocalID:   d.localIDFor(e.Kind, e.NetworkID),
		NetworkID: e.NetworkID,
		Kind:      e.Kind,
		Name:      e.Name,
		Alias:     e.Alias,
	}
	d.byLocal[conv.LocalID] = conv
	d.byNetwork[key] = conv.LocalID
	return conv
}

func (d *Directory) removeLocked(kind ConversationKind, networkID string) bool {
	key := directoryKey(kind, networkID)
	localID, ok := d.byNetwork[key]
	if !ok {
		return false
	}
	delete(d.byNetwork, key)
	delete(d.byLocal, localID)
	return true
}

// Observe returns the directory entry for e, adding it if it is new.
func (d *Directory) Observe(e Entity) Conversation {
	d.mu.Lock()
	defer d.mu.Unlock()
	return *d.putLocked(e)
}

// Upsert applies an incremental relationship or membership change. It
// reports whether the directory changed.
func (d *Directory) Upsert(evt SourceEvent) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch e := evt.(type) {
	case FriendConfirmEvent:
		d.putLocked(e.Contact)
		return true
	case FriendRemoveEvent:
		return d.removeLocked(e.Contact.Kind, e.Contact.NetworkID)
	case RoomJoinEvent:
		if _, known := d.byNetwork[directoryKey(KindGroup, e.Group.NetworkID)]; known && !e.SelfJoined {
			return false
		}
		e.Group.Kind = KindGroup
		d.putLocked(e.Group)
		return true
	case RoomLeaveEvent:
		if !e.SelfRemoved {
			return false
		}
		return d.removeLocked(KindGroup, e.Group.NetworkID)
	case RoomTopicEvent:
		localID, ok := d.byNetwork[directoryKey(KindGroup, e.Group.NetworkID)]
		if !ok {
			return false
		}
		d.byLocal[localID].Name = e.NewTopic
		return true
	default:
		return false
	}
}

// Find looks up a conversation by local ID.
func (d *Directory) Find(localID string) (Conversation, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	conv, ok := d.byLocal[localID]
	if !ok {
		return Conversation{}, false
	}
	return *conv, true
}

// FindByNetworkID looks up a conversation by its source identity.
func (d *Directory) FindByNetworkID(kind ConversationKind, networkID string) (Conversation, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	localID, ok := d.byNetwork[directoryKey(kind, networkID)]
	if !ok {
		return Conversation{}, false
	}
	return *d.byLocal[localID], true
}

// Search returns conversations of the given kind whose name or alias
// contains text. Matching is case-sensitive. Results are sorted by name.
func (d *Directory) Search(kind ConversationKind, text string) []Conversation {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []Conversation
	for _, conv := range d.byLocal {
		if conv.Kind != kind {
			continue
		}
		if strings.Contains(conv.Name, text) || (conv.Alias != "" && strings.Contains(conv.Alias, text)) {
			out = append(out, *conv)
		}
	}
	slices.SortFunc(out, func(a, b Conversation) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.LocalID, b.LocalID))
	})
	return out
}

// All returns every known conversation.
func (d *Directory) All() []Conversation {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Conversation, 0, len(d.byLocal))
	for _, conv := range d.byLocal {
		out = append(out, *conv)
	}
	return out
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byLocal)
}

// Reset forgets every entry. Local IDs already assigned are not reused.
func (d *Directory) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byLocal = make(map[string]*Conversation)
	d.byNetwork = make(map[string]string)
}
