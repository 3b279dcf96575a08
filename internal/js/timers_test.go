// internal/js/timers_test.go
package js

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerQueue_IDsAreUniqueAndIncreasing(t *testing.T) {
	q := NewTimerQueue()
	seen := map[uint32]bool{}
	var last uint32
	for i := 0; i < 100; i++ {
		id := q.Schedule("", func() {}, int64(i%7), i%3 == 0)
		require.False(t, seen[id], "id %d issued twice", id)
		require.Greater(t, id, last)
		seen[id] = true
		last = id
	}
}

func TestTimerQueue_CancelIsIdempotent(t *testing.T) {
	q := NewTimerQueue()
	id := q.Schedule("", func() {}, 10, false)
	require.Equal(t, 1, q.PendingCount())

	q.Cancel(id)
	assert.Equal(t, 0, q.PendingCount())
	assert.False(t, q.HasPending())

	// Cancelling again, or cancelling garbage, must be a no-op.
	q.Cancel(id)
	q.Cancel(9999)
	assert.Equal(t, 0, q.PendingCount())
}

func TestTimerQueue_ExecuteReadyOrdersByDueThenID(t *testing.T) {
	q := NewTimerQueue()
	a := q.Schedule("a", nil, 20, false)
	b := q.Schedule("b", nil, 10, false)
	c := q.Schedule("c", nil, 20, false)

	ready := q.ExecuteReady(25)
	require.Len(t, ready, 3)
	assert.Equal(t, b, ready[0].ID)
	// Equal due-at resolves by ascending id.
	assert.Equal(t, a, ready[1].ID)
	assert.Equal(t, c, ready[2].ID)
	assert.Equal(t, int64(25), q.Now())
}

func TestTimerQueue_ExecuteReadyLeavesFutureTimers(t *testing.T) {
	q := NewTimerQueue()
	q.Schedule("soon", nil, 5, false)
	q.Schedule("later", nil, 50, false)

	ready := q.ExecuteReady(10)
	require.Len(t, ready, 1)
	assert.Equal(t, "soon", ready[0].Code)
	assert.Equal(t, 1, q.PendingCount())
}

func TestTimerQueue_FlushLimitedBoundsIntervals(t *testing.T) {
	q := NewTimerQueue()
	fires := 0
	q.Schedule("", func() { fires++ }, 10, true)

	// An interval re-enters at dueAt+period forever; the cap must hold
	// regardless.
	batch := q.FlushLimited(3)
	require.Len(t, batch, 3)
	for _, entry := range batch {
		entry.Task()
	}
	assert.Equal(t, 3, fires)
	assert.GreaterOrEqual(t, q.PendingCount(), 1, "interval must remain active")
}

func TestTimerQueue_IntervalKeepsCadenceUnderFlush(t *testing.T) {
	q := NewTimerQueue()
	q.Schedule("tick", nil, 10, true)

	batch := q.FlushLimited(3)
	require.Len(t, batch, 3)
	assert.Equal(t, int64(10), batch[0].DueAt)
	assert.Equal(t, int64(20), batch[1].DueAt)
	// Re-scheduling is dueAt+period, not now+period.
	assert.Equal(t, int64(30), batch[2].DueAt)
}

func TestTimerQueue_FlushAllFixedHorizon(t *testing.T) {
	q := NewTimerQueue()
	q.Schedule("one", nil, 5, false)
	q.Schedule("interval", nil, 10, true)
	q.Schedule("two", nil, 30, false)

	// Horizon is the latest pending due-at (30); the interval fires at 10,
	// 20, 30 within it, then waits.
	batch := q.FlushAll()
	var codes []string
	for _, entry := range batch {
		codes = append(codes, entry.Code)
	}
	assert.Equal(t, []string{"one", "interval", "interval", "interval", "two"}, codes)
	assert.Equal(t, int64(30), q.Now())
	assert.Equal(t, 1, q.PendingCount())
}

func TestTimerQueue_CancelledIntervalNeverFires(t *testing.T) {
	q := NewTimerQueue()
	id := q.Schedule("", func() { t.Fatal("cancelled timer fired") }, 10, true)
	q.Cancel(id)
	assert.Empty(t, q.FlushLimited(10))
	assert.False(t, q.HasPending())
}

func TestTimerQueue_ClearKeepsVirtualTime(t *testing.T) {
	q := NewTimerQueue()
	q.Schedule("", nil, 10, false)
	q.ExecuteReady(40)
	q.Schedule("", nil, 5, false)
	q.Clear()
	assert.Equal(t, int64(40), q.Now())
	assert.False(t, q.HasPending())
}
