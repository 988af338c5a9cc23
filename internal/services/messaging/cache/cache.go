// Package cache provides the short-TTL read cache in front of the inbox and
// sent views. It is read-through for fetches only: every mutating operation
// invalidates before returning, so the next read always repopulates.
package cache

import (
	"sync"
	"time"
)

// View names one cached message view.
type View string

const (
	// ViewInbox caches messages addressed to the current user.
	ViewInbox View = "inbox"
	// ViewSent caches messages the current user sent.
	ViewSent View = "sent"
)

// Views lists every cached view.
var Views = []View{ViewInbox, ViewSent}

// Cache stores one value per view with a creation timestamp. An entry older
// than the TTL is never served.
type Cache[T any] struct {
	ttl   time.Duration
	clock func() time.Time

	mu      sync.Mutex
	entries map[View]item[T]
}

type item[T any] struct {
	value    T
	storedAt time.Time
}

// New creates a cache with the given TTL. A nil clock defaults to time.Now.
func New[T any](ttl time.Duration, clock func() time.Time) *Cache[T] {
	if clock == nil {
		clock = time.Now
	}
	return &Cache[T]{
		ttl:     ttl,
		clock:   clock,
		entries: make(map[View]item[T]),
	}
}

// Get returns the cached value for a view when it is still fresh.
func (c *Cache[T]) Get(view View) (T, bool) {
	var zero T
	if c == nil {
		return zero, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[view]
	if !ok {
		return zero, false
	}
	if c.clock().Sub(entry.storedAt) >= c.ttl {
		delete(c.entries, view)
		return zero, false
	}
	return entry.value, true
}

// Set stores a value for a view stamped with the current time.
func (c *Cache[T]) Set(view View, value T) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.entries[view] = item[T]{value: value, storedAt: c.clock()}
	c.mu.Unlock()
}

// Invalidate clears the named views, or every view when none are named.
func (c *Cache[T]) Invalidate(views ...View) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(views) == 0 {
		c.entries = make(map[View]item[T])
		return
	}
	for _, view := range views {
		delete(c.entries, view)
	}
}
