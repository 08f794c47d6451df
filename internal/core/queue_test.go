package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskQueue_PriorityThenFIFO(t *testing.T) {
	q := newTaskQueue()
	assert.True(t, q.push(PriorityScheduled, "a"))
	assert.True(t, q.push(PriorityScheduled, "b"))
	assert.True(t, q.push(PriorityManual, "c"))
	assert.True(t, q.push(PriorityScheduled, "d"))

	var order []string
	for {
		e, ok := q.pop()
		if !ok {
			break
		}
		order = append(order, e.Task)
	}
	assert.Equal(t, []string{"c", "a", "b", "d"}, order)
}

func TestTaskQueue_RejectsDuplicateName(t *testing.T) {
	q := newTaskQueue()
	assert.True(t, q.push(PriorityScheduled, "a"))
	assert.False(t, q.push(PriorityManual, "a"))
	assert.Equal(t, 1, q.len())

	_, _ = q.pop()
	assert.False(t, q.contains("a"))
	assert.True(t, q.push(PriorityScheduled, "a"))
}

func TestTaskQueue_RequeueGoesToTail(t *testing.T) {
	q := newTaskQueue()
	q.push(PriorityScheduled, "a")
	q.push(PriorityScheduled, "b")

	e, _ := q.pop()
	assert.Equal(t, "a", e.Task)
	q.push(e.Priority, e.Task)

	snap := q.snapshot()
	assert.Equal(t, "b", snap[0].Task)
	assert.Equal(t, "a", snap[1].Task)
	assert.Greater(t, snap[1].Seq, snap[0].Seq)
}

func TestTaskQueue_SnapshotDoesNotMutate(t *testing.T) {
	q := newTaskQueue()
	q.push(PriorityScheduled, "x")
	q.push(PriorityManual, "y")

	first := q.snapshot()
	second := q.snapshot()
	assert.Equal(t, first, second)
	assert.Equal(t, 2, q.len())
	assert.Equal(t, "y", first[0].Task)
}
