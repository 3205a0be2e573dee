package queue

import (
	"sync"

	"github.com/gammazero/deque"

	"github.com/dgnsrekt/unitsync/internal/unit"
)

// Queue is an unbounded FIFO hand-off between a source and the batcher.
// Push never blocks; TryPop never waits.
type Queue struct {
	mu    sync.Mutex
	items deque.Deque[unit.Unit]
}

func New() *Queue {
	return &Queue{}
}

// Push appends u to the tail of the queue.
func (q *Queue) Push(u unit.Unit) {
	q.mu.Lock()
	q.items.PushBack(u)
	q.mu.Unlock()
}

// TryPop removes and returns the oldest unit. The second result is false when
// the queue is empty.
func (q *Queue) TryPop() (unit.Unit, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.items.Len() == 0 {
		return unit.Unit{}, false
	}
	return q.items.PopFront(), true
}

// Len returns the number of queued units.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}
