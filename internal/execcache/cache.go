// Package execcache implements the bounded execution-record store (spec.md
// §4.5): a map from approval id to execution record, evicted by an explicit
// oldest-completed/oldest-started rule on overflow and swept hourly for
// records past the 1 hour TTL. The size ceiling is delegated to
// hashicorp/golang-lru's recency tracking; the domain-specific eviction
// order (oldest-completed first) is implemented on top of it because plain
// LRU recency does not express that rule.
package execcache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dundas/teleportation/internal/domain"
)

// Capacity is the cache's fixed ceiling (spec.md §4.5, §8).
const Capacity = 1000

// TTL is the retention horizon after completion (spec.md §4.5).
const TTL = time.Hour

// Cache is the process-private execution-record store.
type Cache struct {
	mu      sync.Mutex
	lru     *lru.Cache[string, *domain.ExecutionRecord]
	order   []string // insertion order, for oldest-started fallback
}

// New returns an empty Cache at the fixed capacity.
func New() *Cache {
	c, err := lru.New[string, *domain.ExecutionRecord](Capacity)
	if err != nil {
		// Capacity is a positive compile-time constant; New only errors on
		// size <= 0.
		panic(err)
	}
	return &Cache{lru: c}
}

// Put inserts or overwrites the record for rec.ApprovalID, evicting the
// oldest-completed entry (or, if none are completed, the oldest-started
// entry) when the cache is already at capacity.
func (c *Cache) Put(rec domain.ExecutionRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, existed := c.lru.Peek(rec.ApprovalID); !existed {
		if c.lru.Len() >= Capacity {
			c.evictLocked()
		}
		c.order = append(c.order, rec.ApprovalID)
	}
	r := rec
	c.lru.Add(rec.ApprovalID, &r)
}

// Get returns the record for approvalID, or ok=false if absent.
func (c *Cache) Get(approvalID string) (domain.ExecutionRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.lru.Get(approvalID)
	if !ok {
		return domain.ExecutionRecord{}, false
	}
	return *rec, true
}

// Contains reports presence without affecting LRU recency.
func (c *Cache) Contains(approvalID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Contains(approvalID)
}

// Len reports the number of cached records.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Sweep removes every record whose CompletedAt is older than TTL, relative
// to now. The daemon calls it on an hourly tick.
func (c *Cache) Sweep(now time.Time) (removed int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range c.lru.Keys() {
		rec, ok := c.lru.Peek(id)
		if !ok {
			continue
		}
		if rec.Status == domain.ApprovalCompleted || rec.Status == domain.ApprovalFailed {
			if !rec.CompletedAt.IsZero() && now.Sub(rec.CompletedAt) > TTL {
				c.removeLocked(id)
				removed++
			}
		}
	}
	return removed
}

// evictLocked removes one entry per the oldest-completed/oldest-started
// rule. Caller must hold c.mu.
func (c *Cache) evictLocked() {
	var (
		oldestCompletedID string
		oldestCompletedAt time.Time
		haveCompleted     bool
	)
	for _, id := range c.lru.Keys() {
		rec, ok := c.lru.Peek(id)
		if !ok {
			continue
		}
		if rec.Status != domain.ApprovalCompleted && rec.Status != domain.ApprovalFailed {
			continue
		}
		if !haveCompleted || rec.CompletedAt.Before(oldestCompletedAt) {
			oldestCompletedID = id
			oldestCompletedAt = rec.CompletedAt
			haveCompleted = true
		}
	}
	if haveCompleted {
		c.removeLocked(oldestCompletedID)
		return
	}

	// No completed entries: fall back to oldest-started, using insertion
	// order as a proxy (the first still-present id in c.order).
	for len(c.order) > 0 {
		candidate := c.order[0]
		c.order = c.order[1:]
		if c.lru.Contains(candidate) {
			c.removeLocked(candidate)
			return
		}
	}
}

// removeLocked deletes id from both the lru and the order slice. Caller
// must hold c.mu.
func (c *Cache) removeLocked(id string) {
	c.lru.Remove(id)
	for i, existing := range c.order {
		if existing == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}
