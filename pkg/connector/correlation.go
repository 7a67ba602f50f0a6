// Copyright 2024-2026 Aiku AI

package connector

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/patrickmn/go-cache"
)

// DefaultCorrelationSize bounds the correlation cache. Old entries are
// evicted least-recently-used first.
const DefaultCorrelationSize = 10000

// DefaultUndoTTL is how long a sent message can be retracted.
const DefaultUndoTTL = 2 * time.Minute

// CorrelationCache maps relayed control messages to the source messages they
// carry so the operator can reply to them.
type CorrelationCache struct {
	cache *lru.Cache[ControlMessageKey, SourceMessageRef]
}

// NewCorrelationCache creates a cache holding at most size entries.
func NewCorrelationCache(size int) (*CorrelationCache, error) {
	if size <= 0 {
		size = DefaultCorrelationSize
	}
	c, err := lru.New[ControlMessageKey, SourceMessageRef](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create correlation cache: %w", err)
	}
	return &CorrelationCache{cache: c}, nil
}

func (c *CorrelationCache) Put(key ControlMessageKey, ref SourceMessageRef) {
	c.cache.Add(key, ref)
}

func (c *CorrelationCache) Get(key ControlMessageKey) (SourceMessageRef, bool) {
	return c.cache.Get(key)
}

func (c *CorrelationCache) Len() int {
	return c.cache.Len()
}

func (c *CorrelationCache) Purge() {
	c.cache.Purge()
}

// UndoCache remembers the operator's recent sends for retraction. Entries
// expire after the configured TTL.
type UndoCache struct {
	cache *cache.Cache
	ttl   time.Duration
}

func NewUndoCache(ttl time.Duration) *UndoCache {
	if ttl <= 0 {
		ttl = DefaultUndoTTL
	}
	return &UndoCache{
		cache: cache.New(ttl, 2*ttl),
		ttl:   ttl,
	}
}

func (u *UndoCache) Put(key ControlMessageKey, ref SourceMessageRef) {
	u.cache.Set(key.String(), ref, cache.DefaultExpiration)
}

// Get returns the source message sent for key. Expired and unknown keys are
// indistinguishable.
func (u *UndoCache) Get(key ControlMessageKey) (SourceMessageRef, bool) {
	val, ok := u.cache.Get(key.String())
	if !ok {
		return SourceMessageRef{}, false
	}
	ref, ok := val.(SourceMessageRef)
	return ref, ok
}

func (u *UndoCache) Delete(key ControlMessageKey) {
	u.cache.Delete(key.String())
}

func (u *UndoCache) Purge() {
	u.cache.Flush()
}
