// Package expiry holds the idle-connection reaper's deadline queue: a
// min-heap ordered on each entry's live deadline. It runs entirely on
// the reactor goroutine and is not safe for concurrent use.
package expiry

import (
	"container/heap"
	"time"
)

// Entry is anything with a closure deadline. Deadline is read live on
// every comparison, so refreshing an entry's deadline is visible to the
// queue without re-inserting it. Close must be idempotent: the queue
// does not enforce uniqueness, and a duplicate pop of an already-closed
// entry must be a no-op.
type Entry interface {
	Deadline() time.Time
	Close()
}

type entryHeap []Entry

func (h entryHeap) Len() int           { return len(h) }
func (h entryHeap) Less(i, j int) bool { return h[i].Deadline().Before(h[j].Deadline()) }
func (h entryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)        { *h = append(*h, x.(Entry)) }

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Queue is the deadline min-heap.
type Queue struct {
	h entryHeap
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{}
}

// Len returns the number of queued entries, dead ones included.
func (q *Queue) Len() int { return len(q.h) }

// Push enqueues an entry.
func (q *Queue) Push(e Entry) {
	heap.Push(&q.h, e)
}

// Refresh restores the heap property for the top entry after a deadline
// moved later: pop it and push it back. Deeper entries mend themselves
// on later pops because comparisons read live deadlines.
func (q *Queue) Refresh() {
	if len(q.h) == 0 {
		return
	}
	e := heap.Pop(&q.h).(Entry)
	heap.Push(&q.h, e)
}

// Tick closes and pops every entry whose deadline has passed. Entries
// closed out of band drain here as no-ops.
func (q *Queue) Tick(now time.Time) int {
	reaped := 0
	for len(q.h) > 0 && !q.h[0].Deadline().After(now) {
		q.h[0].Close()
		heap.Pop(&q.h)
		reaped++
	}
	return reaped
}
