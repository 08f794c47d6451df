package core

import (
	"container/heap"
	"sort"
)

// taskQueue is a priority queue of task names, FIFO within equal priority.
// A name is held at most once. It is not safe for concurrent use; the worker
// guards it with its own mutex.
type taskQueue struct {
	entries entryHeap
	names   map[string]struct{}
	seq     uint64
}

func newTaskQueue() *taskQueue {
	return &taskQueue{names: make(map[string]struct{})}
}

// push adds name with a fresh sequence number. It reports false if name is already queued.
func (q *taskQueue) push(priority int, name string) bool {
	if _, ok := q.names[name]; ok {
		return false
	}
	q.seq++
	heap.Push(&q.entries, QueueEntry{Priority: priority, Task: name, Seq: q.seq})
	q.names[name] = struct{}{}
	return true
}

func (q *taskQueue) pop() (QueueEntry, bool) {
	if len(q.entries) == 0 {
		return QueueEntry{}, false
	}
	entry := heap.Pop(&q.entries).(QueueEntry)
	delete(q.names, entry.Task)
	return entry, true
}

func (q *taskQueue) contains(name string) bool {
	_, ok := q.names[name]
	return ok
}

func (q *taskQueue) len() int {
	return len(q.entries)
}

// snapshot lists the entries in dequeue order without touching the heap.
func (q *taskQueue) snapshot() []QueueEntry {
	out := make([]QueueEntry, len(q.entries))
	copy(out, q.entries)
	sort.Slice(out, func(i, j int) bool { return entryLess(out[i], out[j]) })
	return out
}

func entryLess(a, b QueueEntry) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.Seq < b.Seq
}

type entryHeap []QueueEntry

func (h entryHeap) Len() int           { return len(h) }
func (h entryHeap) Less(i, j int) bool { return entryLess(h[i], h[j]) }
func (h entryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) {
	*h = append(*h, x.(QueueEntry))
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
