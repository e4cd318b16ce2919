package entitlement

import (
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/metrics"
)

// Cache is a per-instance read-through cache of resolved statuses.
// The server-resolved value always replaces a cached one; entries are never merged.
type Cache struct {
	lru *expirable.LRU[uuid.UUID, Status]
}

// NewCache returns nil when ttl or size is not positive; a nil *Cache is a valid no-op cache.
func NewCache(size int, ttl time.Duration) *Cache {
	if size <= 0 || ttl <= 0 {
		return nil
	}
	return &Cache{lru: expirable.NewLRU[uuid.UUID, Status](size, nil, ttl)}
}

func (c *Cache) Get(userID uuid.UUID, now time.Time) (Status, bool) {
	if c == nil {
		return Status{}, false
	}
	st, ok := c.lru.Get(userID)
	if !ok {
		metrics.CacheMisses.Inc()
		return Status{}, false
	}
	// A cached bounded grant may have lapsed since it was stored.
	if st.Active && st.Until != nil && !st.Until.After(now) {
		c.lru.Remove(userID)
		metrics.CacheMisses.Inc()
		return Status{}, false
	}
	metrics.CacheHits.Inc()
	return st, true
}

func (c *Cache) Put(userID uuid.UUID, st Status) {
	if c == nil {
		return
	}
	c.lru.Add(userID, st)
}

func (c *Cache) Invalidate(userID uuid.UUID) {
	if c == nil {
		return
	}
	c.lru.Remove(userID)
}
