package objective

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hephaestus-ai/hephaestus/core"
)

// ObjectiveQueue is a bounded priority FIFO keyed on (priority desc,
// enqueue_time asc), per spec.md §4.1. It is safe for concurrent use by
// the Worker and Input tasks described in spec.md §5.
type ObjectiveQueue struct {
	mu       sync.Mutex
	items    queueHeap
	pending  map[string]string // dedup key (text) -> objective id
	capacity int
	closed   bool
	closeCh  chan struct{}
	seq      uint64

	waiters []chan struct{}
}

// NewObjectiveQueue returns an empty queue bounded at capacity. A
// capacity of 0 means unbounded.
func NewObjectiveQueue(capacity int) *ObjectiveQueue {
	return &ObjectiveQueue{
		items:    make(queueHeap, 0),
		pending:  make(map[string]string),
		capacity: capacity,
		closeCh:  make(chan struct{}),
	}
}

// wake notifies every goroutine currently blocked in Dequeue. Must be
// called with q.mu held.
func (q *ObjectiveQueue) wake() {
	for _, w := range q.waiters {
		close(w)
	}
	q.waiters = nil
}

// Enqueue adds o to the queue and returns its assigned id. If an
// objective with identical text is already pending and o.Origin is not
// OriginCorrective, the existing pending objective's id is returned and o
// is dropped (spec.md §4.1 dedup rule). Corrective objectives are never
// deduplicated, since each one is tied to a specific parent failure.
func (q *ObjectiveQueue) Enqueue(o Objective) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return "", core.NewEvolutionError("objective.queue.enqueue", core.ReasonQueueFull, core.ErrQueueFull)
	}

	if o.Origin != OriginCorrective {
		if existingID, ok := q.pending[o.Text]; ok {
			return existingID, nil
		}
	}

	if q.capacity > 0 && len(q.items) >= q.capacity {
		return "", core.NewEvolutionError("objective.queue.enqueue", core.ReasonQueueFull, core.ErrQueueFull)
	}

	if o.ID == "" {
		o.ID = "obj-" + uuid.New().String()[:16]
	}
	if o.EnqueuedAt.IsZero() {
		o.EnqueuedAt = time.Now()
	}

	q.seq++
	heap.Push(&q.items, queueEntry{objective: o, seq: q.seq})
	if o.Origin != OriginCorrective {
		q.pending[o.Text] = o.ID
	}
	q.wake()
	return o.ID, nil
}

// Dequeue removes and returns the highest-priority objective, blocking up
// to timeout for one to arrive. It returns false if the wait times out,
// ctx is cancelled, or the queue is closed while waiting. A timeout <= 0
// means return immediately without blocking.
func (q *ObjectiveQueue) Dequeue(ctx context.Context, timeout time.Duration) (Objective, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			entry := heap.Pop(&q.items).(queueEntry)
			delete(q.pending, entry.objective.Text)
			q.mu.Unlock()
			return entry.objective, true
		}
		if q.closed || timeout <= 0 {
			q.mu.Unlock()
			return Objective{}, false
		}

		wait := make(chan struct{})
		q.waiters = append(q.waiters, wait)
		q.mu.Unlock()

		timer := time.NewTimer(timeout)
		select {
		case <-wait:
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
			return Objective{}, false
		case <-q.closeCh:
			timer.Stop()
			return Objective{}, false
		case <-timer.C:
			return Objective{}, false
		}
	}
}

// PeekAll returns a snapshot of every pending objective, highest priority
// first, for diagnostics (spec.md §4.1).
func (q *ObjectiveQueue) PeekAll() []Objective {
	q.mu.Lock()
	defer q.mu.Unlock()

	snapshot := make(queueHeap, len(q.items))
	copy(snapshot, q.items)
	heap.Init(&snapshot)

	out := make([]Objective, 0, len(snapshot))
	for snapshot.Len() > 0 {
		out = append(out, heap.Pop(&snapshot).(queueEntry).objective)
	}
	return out
}

// Close marks the queue shut down and wakes every blocked Dequeue call,
// per spec.md §5's cooperative shutdown signal.
func (q *ObjectiveQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.closeCh)
	q.wake()
}

// Len reports the number of pending objectives.
func (q *ObjectiveQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

type queueEntry struct {
	objective Objective
	seq       uint64
}

// queueHeap orders by priority desc, then by enqueue sequence asc, giving
// strict priority order with ties broken by enqueue order (spec.md §5).
type queueHeap []queueEntry

func (h queueHeap) Len() int { return len(h) }

func (h queueHeap) Less(i, j int) bool {
	if h[i].objective.Priority != h[j].objective.Priority {
		return h[i].objective.Priority > h[j].objective.Priority
	}
	return h[i].seq < h[j].seq
}

func (h queueHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *queueHeap) Push(x interface{}) {
	*h = append(*h, x.(queueEntry))
}

func (h *queueHeap) Pop() interface{} {
	old := *h
	n := len(old)
	entry := old[n-1]
	*h = old[:n-1]
	return entry
}
