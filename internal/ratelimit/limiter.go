package ratelimit

import (
	"errors"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrInvalidContext is returned when a message lacks the author or guild
// needed to derive a limiter key. Falling back to a shared default key would
// mix counts across tenants, so this is an error, not a fallback.
var ErrInvalidContext = errors.New("ratelimit: message context missing author or guild")

const defaultMaxKeys = 4096

// Policy describes one rate-limit rule. Immutable after construction.
type Policy struct {
	// Window is the timespan after which a key's quota replenishes.
	Window time.Duration
	// Quota is the number of occurrences allowed per window.
	Quota int
	// TrackedItems bounds the per-key ring of recent items. Zero disables
	// item tracking.
	TrackedItems int
	// MaxKeys caps the number of live limiter states; least recently used
	// keys are evicted. Zero means a default capacity.
	MaxKeys int
}

// Item is an opaque occurrence recorded against a key, typically a message
// identifier plus its text for duplicate comparison.
type Item struct {
	ID      string
	Content string
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// limiter holds the window state for one key. Each limiter carries its own
// mutex so unrelated keys never contend.
type limiter struct {
	mu        sync.Mutex
	resetAt   time.Time
	remaining int
	pending   int
	items     []Item
}

// Bucket owns a policy and the limiter state for every key seen under it.
type Bucket struct {
	policy Policy
	clock  Clock

	createMu sync.Mutex
	limiters *lru.Cache[string, *limiter]
}

func NewBucket(policy Policy) *Bucket {
	maxKeys := policy.MaxKeys
	if maxKeys <= 0 {
		maxKeys = defaultMaxKeys
	}
	cache, err := lru.New[string, *limiter](maxKeys)
	if err != nil {
		panic(err)
	}
	return &Bucket{policy: policy, clock: realClock{}, limiters: cache}
}

func (b *Bucket) WithClock(clock Clock) {
	b.clock = clock
}

func (b *Bucket) Policy() Policy {
	return b.policy
}

func key(guildID, userID string) (string, error) {
	if guildID == "" || userID == "" {
		return "", ErrInvalidContext
	}
	return guildID + ":" + userID, nil
}

// Record registers one occurrence for the key. The first occurrence of a
// previously unseen key seeds the window with quota+1 so the triggering
// item itself counts against the next window. A stale window is reset
// before the unit is consumed; occurrences past exhaustion queue as pending
// and are drained against the fresh quota on reset.
func (b *Bucket) Record(guildID, userID string, item Item) error {
	k, err := key(guildID, userID)
	if err != nil {
		return err
	}
	now := b.clock.Now()
	lim := b.limiterFor(k, now)

	lim.mu.Lock()
	defer lim.mu.Unlock()

	if !now.Before(lim.resetAt) {
		b.resetLocked(lim, now)
	}
	if lim.remaining > 0 {
		lim.remaining--
	} else {
		lim.pending++
	}
	if b.policy.TrackedItems > 0 && item.ID != "" {
		lim.items = append(lim.items, item)
		if len(lim.items) > b.policy.TrackedItems {
			lim.items = lim.items[len(lim.items)-b.policy.TrackedItems:]
		}
	}
	return nil
}

// IsLimited reports whether the key has exhausted its quota within a window
// that has not yet lapsed. A lapsed window is never limited regardless of
// the stored remainder; the next Record performs the reset.
func (b *Bucket) IsLimited(guildID, userID string) (bool, error) {
	k, err := key(guildID, userID)
	if err != nil {
		return false, err
	}
	lim, ok := b.limiters.Get(k)
	if !ok {
		return false, nil
	}

	lim.mu.Lock()
	defer lim.mu.Unlock()

	if !b.clock.Now().Before(lim.resetAt) {
		return false, nil
	}
	return lim.remaining <= 0, nil
}

// Reset forcibly replenishes the key's quota and drops pending occurrences,
// used after an enforcement action so one burst is not punished twice.
func (b *Bucket) Reset(guildID, userID string) error {
	k, err := key(guildID, userID)
	if err != nil {
		return err
	}
	lim, ok := b.limiters.Get(k)
	if !ok {
		return nil
	}

	lim.mu.Lock()
	defer lim.mu.Unlock()
	lim.resetAt = b.clock.Now().Add(b.policy.Window)
	lim.remaining = b.policy.Quota
	lim.pending = 0
	return nil
}

// Tracked returns a copy of the key's recent item ring, oldest first.
func (b *Bucket) Tracked(guildID, userID string) ([]Item, error) {
	k, err := key(guildID, userID)
	if err != nil {
		return nil, err
	}
	lim, ok := b.limiters.Get(k)
	if !ok {
		return nil, nil
	}

	lim.mu.Lock()
	defer lim.mu.Unlock()
	if len(lim.items) == 0 {
		return nil, nil
	}
	items := make([]Item, len(lim.items))
	copy(items, lim.items)
	return items, nil
}

// TrackedIDs returns the identifiers of the key's recent items, oldest
// first, for purge lists.
func (b *Bucket) TrackedIDs(guildID, userID string) ([]string, error) {
	items, err := b.Tracked(guildID, userID)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	return ids, nil
}

func (b *Bucket) limiterFor(k string, now time.Time) *limiter {
	if lim, ok := b.limiters.Get(k); ok {
		return lim
	}
	b.createMu.Lock()
	defer b.createMu.Unlock()
	if lim, ok := b.limiters.Get(k); ok {
		return lim
	}
	lim := &limiter{
		resetAt:   now.Add(b.policy.Window),
		remaining: b.policy.Quota + 1,
	}
	b.limiters.Add(k, lim)
	return lim
}

// resetLocked replenishes the quota, then drains pending occurrences that
// arrived after exhaustion. Caller holds lim.mu.
func (b *Bucket) resetLocked(lim *limiter, now time.Time) {
	lim.resetAt = now.Add(b.policy.Window)
	lim.remaining = b.policy.Quota
	for lim.remaining > 0 && lim.pending > 0 {
		lim.remaining--
		lim.pending--
	}
}
