// Copyright 2024-2026 Aiku AI

package connector

import (
	"testing"
	"time"
)

func TestCorrelationCachePutGet(t *testing.T) {
	t.Parallel()
	c, err := NewCorrelationCache(0)
	if err != nil {
		t.Fatalf("NewCorrelationCache: %v", err)
	}
	key := ControlMessageKey{ChatID: -100, MessageID: 7}
	ref := SourceMessageRef{MessageID: "m1", ConversationID: "wxid_a"}
	c.Put(key, ref)

	got, ok := c.Get(key)
	if !ok || got != ref {
		t.Errorf("Get: got %+v, %v; want %+v", got, ok, ref)
	}
	// Same message ID in another chat is a different key.
	if _, ok = c.Get(ControlMessageKey{ChatID: -200, MessageID: 7}); ok {
		t.Error("message IDs must be scoped by chat")
	}
}

func TestCorrelationCacheEvictsOldest(t *testing.T) {
	t.Parallel()
	c, err := NewCorrelationCache(2)
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= 3; i++ {
		c.Put(ControlMessageKey{ChatID: 1, MessageID: i}, SourceMessageRef{MessageID: "m"})
	}
	if c.Len() != 2 {
		t.Errorf("Len: got %d, want 2", c.Len())
	}
	if _, ok := c.Get(ControlMessageKey{ChatID: 1, MessageID: 1}); ok {
		t.Error("oldest entry should have been evicted")
	}
	c.Purge()
	if c.Len() != 0 {
		t.Errorf("Len after Purge: got %d", c.Len())
	}
}

func TestUndoCacheExpires(t *testing.T) {
	t.Parallel()
	u := NewUndoCache(20 * time.Millisecond)
	key := ControlMessageKey{ChatID: 1, MessageID: 2}
	u.Put(key, SourceMessageRef{MessageID: "m2", ConversationID: "c"})
	if _, ok := u.Get(key); !ok {
		t.Fatal("fresh entry missing")
	}
	time.Sleep(40 * time.Millisecond)
	if _, ok := u.Get(key); ok {
		t.Error("entry should have expired")
	}
}

func TestUndoCacheDelete(t *testing.T) {
	t.Parallel()
	u := NewUndoCache(time.Minute)
	key := ControlMessageKey{ChatID: 1, MessageID: 2}
	u.Put(key, SourceMessageRef{MessageID: "m2"})
	u.Delete(key)
	if _, ok := u.Get(key); ok {
		t.Error("deleted entry still present")
	}
}
