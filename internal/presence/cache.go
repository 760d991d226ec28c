package presence

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Source answers whether a recipient currently has a live session. Lookups
// are best-effort; errors are treated as "offline" by the cache.
type Source interface {
	IsOnline(ctx context.Context, recipientID string) (bool, error)
}

// Cache is the in-process map of recipient connectivity. Entries are
// actively invalidated on connect/disconnect events and refreshed from the
// Source on miss. A stale "offline" costs an extra mailbox round trip, never
// a lost message, so no TTL is applied.
type Cache struct {
	source Source
	logger *logrus.Logger

	mu      sync.RWMutex
	entries map[string]bool
}

func NewCache(source Source, logger *logrus.Logger) *Cache {
	return &Cache{
		source:  source,
		logger:  logger,
		entries: make(map[string]bool),
	}
}

// IsOnline reports the cached connectivity belief for a recipient,
// consulting the Source on a cache miss. A failed lookup reports offline,
// which routes the message to the durable mailbox.
func (c *Cache) IsOnline(ctx context.Context, recipientID string) bool {
	c.mu.RLock()
	online, ok := c.entries[recipientID]
	c.mu.RUnlock()
	if ok {
		return online
	}

	if c.source == nil {
		return false
	}

	online, err := c.source.IsOnline(ctx, recipientID)
	if err != nil {
		c.logger.WithError(err).WithField("recipient", recipientID).
			Warn("Presence lookup failed, treating recipient as offline")
		return false
	}

	c.mu.Lock()
	c.entries[recipientID] = online
	c.mu.Unlock()

	return online
}

// SetOnline records a connect event for a recipient.
func (c *Cache) SetOnline(recipientID string) {
	c.mu.Lock()
	c.entries[recipientID] = true
	c.mu.Unlock()
}

// SetOffline records a disconnect event for a recipient.
func (c *Cache) SetOffline(recipientID string) {
	c.mu.Lock()
	c.entries[recipientID] = false
	c.mu.Unlock()
}

// Invalidate drops the cached entry so the next lookup refreshes from the
// Source.
func (c *Cache) Invalidate(recipientID string) {
	c.mu.Lock()
	delete(c.entries, recipientID)
	c.mu.Unlock()
}
