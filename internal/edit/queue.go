package edit

import (
	"context"
	"sync"
	"time"
)

// Queue is an unbounded FIFO of edit jobs.
//
// Enqueue never blocks and never fails. Dequeue blocks until a job is
// available or ctx is done. There is no deduplication.
type Queue struct {
	mu    sync.Mutex
	items []Job
	head  int
	// ready is closed (and replaced) whenever a job is added.
	ready chan struct{}

	now func() time.Time
}

func NewQueue() *Queue {
	return &Queue{ready: make(chan struct{}), now: time.Now}
}

// Submit stamps j with an ID and submission time (when missing), enqueues it
// and returns the stamped job. It is the ingestion entry point.
func (q *Queue) Submit(j Job) Job {
	j = j.stamp(q.now())
	q.Enqueue(j)
	return j
}

// Enqueue appends j at the tail.
func (q *Queue) Enqueue(j Job) {
	q.mu.Lock()
	q.items = append(q.items, j)
	close(q.ready)
	q.ready = make(chan struct{})
	q.mu.Unlock()
}

// Dequeue removes and returns the head job, waiting for one if the queue is empty.
func (q *Queue) Dequeue(ctx context.Context) (Job, error) {
	for {
		q.mu.Lock()
		if q.head < len(q.items) {
			j := q.items[q.head]
			q.items[q.head] = Job{}
			q.head++
			q.compactLocked()
			q.mu.Unlock()
			return j, nil
		}
		ready := q.ready
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Job{}, ctx.Err()
		case <-ready:
		}
	}
}

// Len reports the number of pending jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// compactLocked reclaims the consumed prefix once it dominates the slice.
func (q *Queue) compactLocked() {
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
		return
	}
	if q.head >= 64 && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
}
