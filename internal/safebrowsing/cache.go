package safebrowsing

import (
	"sync"
	"time"
)

type Status string

const (
	StatusSafe   Status = "safe"
	StatusUnsafe Status = "unsafe"
)

// Verdict is the classification of one normalized URL. Immutable once
// constructed; a fresher lookup replaces the cached verdict wholesale.
type Verdict struct {
	URL        string
	Status     Status
	ThreatType string
	// CacheFor is the lifetime the reputation service attached to an
	// unsafe verdict. Zero for safe verdicts.
	CacheFor time.Duration
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type cacheEntry struct {
	verdict   Verdict
	expiresAt time.Time
}

// Cache maps normalized URLs to their last-known verdict. Entries expire on
// read once their lifetime lapses.
type Cache struct {
	mu      sync.Mutex
	clock   Clock
	entries map[string]cacheEntry
}

func NewCache() *Cache {
	return &Cache{clock: realClock{}, entries: make(map[string]cacheEntry)}
}

func (c *Cache) WithClock(clock Clock) {
	c.clock = clock
}

func (c *Cache) Get(url string) (Verdict, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[url]
	if !ok {
		return Verdict{}, false
	}
	if !c.clock.Now().Before(entry.expiresAt) {
		delete(c.entries, url)
		return Verdict{}, false
	}
	return entry.verdict, true
}

func (c *Cache) Set(url string, verdict Verdict, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[url] = cacheEntry{verdict: verdict, expiresAt: c.clock.Now().Add(ttl)}
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
