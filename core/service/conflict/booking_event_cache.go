package conflict

import (
	"strings"
	"sync"
	"time"

	"booking_server/core/domain"

	"github.com/google/uuid"
)

// DefaultCacheTTL is how long a merged busy-event list stays valid. Five
// minutes keeps booking pages snappy across repeated month loads without
// letting calendar changes go unseen for long.
const DefaultCacheTTL = 5 * time.Minute

// eventCache is a process-local cache of merged busy events, keyed by the
// exact (host, window) requested. Lookups for a slightly different window
// always miss; there is no range-overlap matching. Entries are owned by the
// Aggregator and invalidated whenever connection settings change.
type eventCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	events    []domain.CalendarEvent
	expiresAt time.Time
}

func newEventCache(ttl time.Duration, now func() time.Time) *eventCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if now == nil {
		now = time.Now
	}
	return &eventCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     now,
	}
}

func cacheKey(hostID uuid.UUID, windowStart, windowEnd time.Time) string {
	return hostID.String() + ":" + windowStart.UTC().Format(time.RFC3339) + ":" + windowEnd.UTC().Format(time.RFC3339)
}

func (c *eventCache) get(key string) ([]domain.CalendarEvent, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || !entry.expiresAt.After(c.now()) {
		return nil, false
	}
	return entry.events, true
}

func (c *eventCache) set(key string, events []domain.CalendarEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry{
		events:    events,
		expiresAt: c.now().Add(c.ttl),
	}
}

// invalidateHost drops every cached window for the host.
func (c *eventCache) invalidateHost(hostID uuid.UUID) {
	prefix := hostID.String() + ":"

	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
}

// invalidateAll drops the entire cache.
func (c *eventCache) invalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]cacheEntry)
}
