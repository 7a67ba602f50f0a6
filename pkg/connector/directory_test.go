// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func newTestDirectory() *Directory {
	return NewDirectory(zerolog.Nop())
}

func TestDirectoryRefreshKeepsLocalIDs(t *testing.T) {
	t.Parallel()
	src := newFakeSource()
	src.contacts = []Entity{
		{NetworkID: "wxid_alice", Kind: KindIndividual, Name: "Alice", Alias: "al", Ready: true},
		{NetworkID: "gh_news", Kind: KindOfficial, Name: "News", Alias: "n", Ready: true},
	}
	src.groups = []Entity{{NetworkID: "1@chatroom", Name: "Design Team"}}
	d := newTestDirectory()

	first, err := d.Refresh(context.Background(), src)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(first) != 3 {
		t.Fatalf("entries: got %d, want 3", len(first))
	}
	alice, ok := d.FindByNetworkID(KindIndividual, "wxid_alice")
	if !ok {
		t.Fatal("alice missing")
	}
	if alice.LocalID == "wxid_alice" || !ValidLocalID(alice.LocalID) {
		t.Errorf("local ID must be generated, got %q", alice.LocalID)
	}
	group, _ := d.FindByNetworkID(KindGroup, "1@chatroom")
	if group.Kind != KindGroup {
		t.Errorf("group kind: got %v", group.Kind)
	}

	// Second refresh drops the official account and renames Alice.
	src.contacts = []Entity{{NetworkID: "wxid_alice", Kind: KindIndividual, Name: "Alice B", Alias: "al", Ready: true}}
	if _, err = d.Refresh(context.Background(), src); err != nil {
		t.Fatalf("second Refresh: %v", err)
	}
	again, ok := d.Find(alice.LocalID)
	if !ok {
		t.Fatal("alice lost her local ID after refresh")
	}
	if again.Name != "Alice B" {
		t.Errorf("name not updated: %q", again.Name)
	}
	if _, ok = d.FindByNetworkID(KindOfficial, "gh_news"); ok {
		t.Error("vanished entity should be dropped")
	}
	if d.Len() != 2 {
		t.Errorf("Len: got %d, want 2", d.Len())
	}
}

func TestDirectoryRefreshBoundedSync(t *testing.T) {
	t.Parallel()
	src := newFakeSource()
	// Alias never diverges from the name, so every sync is wasted.
	src.contacts = []Entity{{NetworkID: "wxid_slow", Kind: KindIndividual, Name: "Slow", Alias: "Slow"}}
	d := newTestDirectory()
	if _, err := d.Refresh(context.Background(), src); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got := src.syncCount("wxid_slow"); got != maxSyncAttempts {
		t.Errorf("sync attempts: got %d, want %d", got, maxSyncAttempts)
	}
	if _, ok := d.FindByNetworkID(KindIndividual, "wxid_slow"); !ok {
		t.Error("slow entity must still be admitted")
	}
}

func TestDirectoryRefreshSkipsNamelessContacts(t *testing.T) {
	t.Parallel()
	src := newFakeSource()
	src.contacts = []Entity{{NetworkID: "wxid_ghost", Kind: KindIndividual}}
	d := newTestDirectory()
	if _, err := d.Refresh(context.Background(), src); err != nil {
		t.Fatal(err)
	}
	if d.Len() != 0 {
		t.Errorf("nameless contact admitted")
	}
}

func TestDirectoryRefreshError(t *testing.T) {
	t.Parallel()
	src := newFakeSource()
	src.listErr = errors.New("offline")
	d := newTestDirectory()
	if _, err := d.Refresh(context.Background(), src); err == nil {
		t.Error("expected error")
	}
}

func TestDirectoryUpsert(t *testing.T) {
	t.Parallel()
	d := newTestDirectory()
	bob := Entity{NetworkID: "wxid_bob", Kind: KindIndividual, Name: "Bob"}
	room := Entity{NetworkID: "9@chatroom", Kind: KindGroup, Name: "Old"}

	if !d.Upsert(FriendConfirmEvent{Contact: bob}) {
		t.Error("friend confirm should change the directory")
	}
	if !d.Upsert(RoomJoinEvent{Group: room, SelfJoined: true}) {
		t.Error("self join should add group")
	}
	if !d.Upsert(RoomTopicEvent{Group: room, NewTopic: "New"}) {
		t.Error("topic change should apply")
	}
	conv, _ := d.FindByNetworkID(KindGroup, "9@chatroom")
	if conv.Name != "New" {
		t.Errorf("topic: got %q", conv.Name)
	}
	if d.Upsert(RoomLeaveEvent{Group: room, Removed: []string{"someone"}}) {
		t.Error("another member leaving must not remove the group")
	}
	if !d.Upsert(RoomLeaveEvent{Group: room, SelfRemoved: true}) {
		t.Error("self removal should drop group")
	}
	if !d.Upsert(FriendRemoveEvent{Contact: bob}) {
		t.Error("friend removal should drop contact")
	}
	if d.Len() != 0 {
		t.Errorf("Len: got %d, want 0", d.Len())
	}
	if d.Upsert(LogoutEvent{}) {
		t.Error("unrelated event changed directory")
	}
}

func TestDirectoryIDsNeverReused(t *testing.T) {
	t.Parallel()
	d := newTestDirectory()
	bob := Entity{NetworkID: "wxid_bob", Kind: KindIndividual, Name: "Bob"}
	first := d.Observe(bob)
	d.Upsert(FriendRemoveEvent{Contact: bob})
	d.Reset()
	second := d.Observe(bob)
	if first.LocalID != second.LocalID {
		t.Errorf("same entity got a new ID: %q vs %q", first.LocalID, second.LocalID)
	}
	other := d.Observe(Entity{NetworkID: "wxid_carol", Kind: KindIndividual, Name: "Carol"})
	if other.LocalID == first.LocalID {
		t.Error("distinct entities share a local ID")
	}
}

func TestDirectorySearch(t *testing.T) {
	t.Parallel()
	d := newTestDirectory()
	d.Observe(Entity{NetworkID: "a", Kind: KindIndividual, Name: "Zoe", Alias: "design lead"})
	d.Observe(Entity{NetworkID: "b", Kind: KindIndividual, Name: "Adam"})
	d.Observe(Entity{NetworkID: "c", Kind: KindGroup, Name: "Design Team"})

	tests := []struct {
		name  string
		kind  ConversationKind
		text  string
		names []string
	}{
		{"alias match", KindIndividual, "design", []string{"Zoe"}},
		{"case sensitive", KindGroup, "design", nil},
		{"group name", KindGroup, "Design", []string{"Design Team"}},
		{"empty matches all sorted", KindIndividual, "", []string{"Adam", "Zoe"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := d.Search(tt.kind, tt.text)
			if len(got) != len(tt.names) {
				t.Fatalf("results: got %d, want %d", len(got), len(tt.names))
			}
			for i, conv := range got {
				if conv.Name != tt.names[i] {
					t.Errorf("result %d: got %q, want %q", i, conv.Name, tt.names[i])
				}
			}
		})
	}
}
