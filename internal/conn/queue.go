package conn

import "sync"

// Queue buffers outbound payloads while a connection is down. It is a
// bounded FIFO: pushing onto a full queue evicts the oldest entry so the
// newest traffic survives the outage.
type Queue struct {
	mu      sync.Mutex
	items   [][]byte
	cap     int
	dropped uint64
}

// NewQueue returns a queue holding at most capacity entries. A zero or
// negative capacity disables buffering entirely.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{cap: capacity}
}

// Push appends payload, evicting the oldest entry when full. It reports
// whether an entry was evicted.
func (q *Queue) Push(payload []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cap == 0 {
		q.dropped++
		return true
	}

	evicted := false
	if len(q.items) >= q.cap {
		q.items = q.items[1:]
		q.dropped++
		evicted = true
	}
	q.items = append(q.items, payload)
	return evicted
}

// Drain removes and returns all buffered payloads in arrival order.
func (q *Queue) Drain() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.items
	q.items = nil
	return out
}

// Len returns the number of buffered payloads.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns the number of payloads evicted since creation.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
