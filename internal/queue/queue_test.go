package queue_test

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dundas/teleportation/internal/domain"
	"github.com/dundas/teleportation/internal/queue"
)

func TestQueue_EnqueueDequeueFIFO(t *testing.T) {
	q := queue.New()
	require.NoError(t, q.Enqueue(domain.Approval{ID: "a1"}))
	require.NoError(t, q.Enqueue(domain.Approval{ID: "a2"}))

	first, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "a1", first.ID)
	assert.Equal(t, domain.ApprovalQueued, first.Status)

	second, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "a2", second.ID)
}

func TestQueue_DequeueEmpty(t *testing.T) {
	q := queue.New()
	_, ok := q.Dequeue()
	assert.False(t, ok)
}

func TestQueue_EnqueueDuplicateIDIsNoop(t *testing.T) {
	q := queue.New()
	require.NoError(t, q.Enqueue(domain.Approval{ID: "a1", ToolName: "first"}))
	require.NoError(t, q.Enqueue(domain.Approval{ID: "a1", ToolName: "second"}))
	assert.Equal(t, 1, q.Len())

	item, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "first", item.ToolName)
}

func TestQueue_ContainsTracksPresence(t *testing.T) {
	q := queue.New()
	assert.False(t, q.Contains("a1"))
	require.NoError(t, q.Enqueue(domain.Approval{ID: "a1"}))
	assert.True(t, q.Contains("a1"))
	_, _ = q.Dequeue()
	assert.False(t, q.Contains("a1"))
}

func TestQueue_EnqueueFullReturnsErrFull(t *testing.T) {
	q := queue.New()
	for i := 0; i < queue.Capacity; i++ {
		require.NoError(t, q.Enqueue(domain.Approval{ID: "a" + strconv.Itoa(i)}))
	}
	assert.Equal(t, queue.Capacity, q.Len())

	err := q.Enqueue(domain.Approval{ID: "overflow"})
	assert.ErrorIs(t, err, queue.ErrFull)
}
