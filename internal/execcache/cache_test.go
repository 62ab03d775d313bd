package execcache_test

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dundas/teleportation/internal/domain"
	"github.com/dundas/teleportation/internal/execcache"
)

func TestCache_PutGet(t *testing.T) {
	c := execcache.New()
	c.Put(domain.ExecutionRecord{ApprovalID: "a1", Status: domain.ApprovalExecuting})

	rec, ok := c.Get("a1")
	require.True(t, ok)
	assert.Equal(t, domain.ApprovalExecuting, rec.Status)
}

func TestCache_GetMiss(t *testing.T) {
	c := execcache.New()
	_, ok := c.Get("missing")
	assert.False(t, ok)
}

func TestCache_PutOverwritesExistingEntry(t *testing.T) {
	c := execcache.New()
	c.Put(domain.ExecutionRecord{ApprovalID: "a1", Status: domain.ApprovalExecuting})
	c.Put(domain.ExecutionRecord{ApprovalID: "a1", Status: domain.ApprovalCompleted})

	rec, ok := c.Get("a1")
	require.True(t, ok)
	assert.Equal(t, domain.ApprovalCompleted, rec.Status)
	assert.Equal(t, 1, c.Len())
}

func TestCache_EvictsOldestCompletedOverOldestStarted(t *testing.T) {
	c := execcache.New()
	now := time.Now()

	// Fill to capacity: one completed (older), the rest still executing.
	c.Put(domain.ExecutionRecord{ApprovalID: "completed-1", Status: domain.ApprovalCompleted, CompletedAt: now.Add(-time.Hour)})
	for i := 1; i < execcache.Capacity; i++ {
		c.Put(domain.ExecutionRecord{ApprovalID: idx(i), Status: domain.ApprovalExecuting})
	}
	require.Equal(t, execcache.Capacity, c.Len())

	// Next insert should evict the lone completed record, not an executing one.
	c.Put(domain.ExecutionRecord{ApprovalID: "new-entry", Status: domain.ApprovalExecuting})

	_, ok := c.Get("completed-1")
	assert.False(t, ok, "oldest completed record should have been evicted")

	_, ok = c.Get("new-entry")
	assert.True(t, ok)
	assert.Equal(t, execcache.Capacity, c.Len())
}

func TestCache_EvictsOldestStartedWhenNoneCompleted(t *testing.T) {
	c := execcache.New()
	for i := 0; i < execcache.Capacity; i++ {
		c.Put(domain.ExecutionRecord{ApprovalID: idx(i), Status: domain.ApprovalExecuting})
	}

	c.Put(domain.ExecutionRecord{ApprovalID: "newest", Status: domain.ApprovalExecuting})

	_, ok := c.Get(idx(0))
	assert.False(t, ok, "the first-inserted entry should be evicted when none are completed")
	assert.Equal(t, execcache.Capacity, c.Len())
}

func TestCache_SweepRemovesExpiredCompletedRecords(t *testing.T) {
	c := execcache.New()
	now := time.Now()

	c.Put(domain.ExecutionRecord{ApprovalID: "stale", Status: domain.ApprovalCompleted, CompletedAt: now.Add(-2 * execcache.TTL)})
	c.Put(domain.ExecutionRecord{ApprovalID: "fresh", Status: domain.ApprovalCompleted, CompletedAt: now})
	c.Put(domain.ExecutionRecord{ApprovalID: "running", Status: domain.ApprovalExecuting})

	removed := c.Sweep(now)
	assert.Equal(t, 1, removed)

	_, ok := c.Get("stale")
	assert.False(t, ok)
	_, ok = c.Get("fresh")
	assert.True(t, ok)
	_, ok = c.Get("running")
	assert.True(t, ok)
}

func TestCache_Contains(t *testing.T) {
	c := execcache.New()
	assert.False(t, c.Contains("a1"))
	c.Put(domain.ExecutionRecord{ApprovalID: "a1"})
	assert.True(t, c.Contains("a1"))
}

func idx(i int) string {
	return "id-" + strconv.Itoa(i)
}
