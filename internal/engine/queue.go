package engine

import (
	"container/heap"
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/virtadm/virtui/internal/hypervisor"
)

// Priority orders poll work. High-priority items always drain before
// low-priority ones; within a class, insertion order wins.
type Priority int

const (
	PriorityHigh Priority = 1
	PriorityLow  Priority = 2
)

// Pollable is the slice of a connection the tick machinery needs.
type Pollable interface {
	URI() string
	TickFromEngine(ctx context.Context, p hypervisor.PollParams) error
}

type workItem struct {
	prio   Priority
	seq    uint64
	target Pollable
	params hypervisor.PollParams
}

// tickQueue is the bounded priority work queue between the foreground
// loop and the poll worker. Enqueue never blocks: at capacity the item is
// dropped and a degraded-mode notice is logged once until pressure
// clears. Dequeue blocks until an item arrives or the queue closes.
type tickQueue struct {
	log *zap.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	items    itemHeap
	capacity int
	seq      uint64
	slow     bool
	closed   bool
}

const defaultQueueCapacity = 100

func newTickQueue(capacity int, log *zap.Logger) *tickQueue {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	if log == nil {
		log = zap.NewNop()
	}
	q := &tickQueue{log: log, capacity: capacity}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue inserts a work item, returning false when the queue is full or
// closed. The capacity bound keeps memory flat when polls run slower
// than the tick period.
func (q *tickQueue) Enqueue(prio Priority, target Pollable, params hypervisor.PollParams) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	if q.items.Len() >= q.capacity {
		if !q.slow {
			q.log.Warn("tick is slow, not polling at the requested rate")
			q.slow = true
		}
		return false
	}
	if q.slow {
		q.slow = false
	}
	q.seq++
	heap.Push(&q.items, workItem{prio: prio, seq: q.seq, target: target, params: params})
	q.cond.Signal()
	return true
}

// Dequeue blocks until an item is available and returns it in
// (priority, sequence) order. ok is false once the queue is closed and
// drained.
func (q *tickQueue) Dequeue() (item workItem, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.items.Len() == 0 {
		if q.closed {
			return workItem{}, false
		}
		q.cond.Wait()
	}
	return heap.Pop(&q.items).(workItem), true
}

// Close wakes any blocked Dequeue; queued items still drain.
func (q *tickQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Slow reports whether the queue is currently in degraded mode.
func (q *tickQueue) Slow() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.slow
}

func (q *tickQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// itemHeap is a min-heap over (priority, sequence).
type itemHeap []workItem

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if h[i].prio != h[j].prio {
		return h[i].prio < h[j].prio
	}
	return h[i].seq < h[j].seq
}
func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(workItem)) }

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1].target = nil
	*h = old[:n-1]
	return item
}
