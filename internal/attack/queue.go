package attack

import (
	"container/heap"
	"sync"
)

// Queue is a thread-safe priority min-heap of attacks ordered by
// (priority, insertion sequence). The sequence counter is drawn at
// push time, so two attacks at the same priority pop in the order
// they were pushed.
type Queue struct {
	mu   sync.Mutex
	h    attackHeap
	next uint64
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Push inserts an attack.
func (q *Queue) Push(a Attack) {
	q.mu.Lock()
	defer q.mu.Unlock()

	heap.Push(&q.h, queued{attack: a, seq: q.next})
	q.next++
}

// Pop removes and returns the lowest-priority-value attack, or false
// when the queue is empty.
func (q *Queue) Pop() (Attack, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.h) == 0 {
		return Attack{}, false
	}

	item := heap.Pop(&q.h).(queued)

	return item.attack, true
}

// Size returns the number of pending attacks.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.h)
}

// Snapshot returns the pending attacks in pop order without draining
// the queue. Used by the session checkpoint.
func (q *Queue) Snapshot() []Attack {
	q.mu.Lock()
	defer q.mu.Unlock()

	tmp := make(attackHeap, len(q.h))
	copy(tmp, q.h)

	out := make([]Attack, 0, len(tmp))
	for len(tmp) > 0 {
		out = append(out, heap.Pop(&tmp).(queued).attack)
	}

	return out
}

type queued struct {
	attack Attack
	seq    uint64
}

type attackHeap []queued

func (h attackHeap) Len() int { return len(h) }

func (h attackHeap) Less(i, j int) bool {
	if h[i].attack.Priority != h[j].attack.Priority {
		return h[i].attack.Priority < h[j].attack.Priority
	}

	return h[i].seq < h[j].seq
}

func (h attackHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *attackHeap) Push(x any) { *h = append(*h, x.(queued)) }

func (h *attackHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]

	return item
}
