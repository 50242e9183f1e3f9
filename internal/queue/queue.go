// Package queue is the in-process FIFO handing jobs from the gateway to the worker.
package queue

import (
	"context"
	"errors"
	"sync"

	"ai-call-center/internal/calls"
)

var ErrInvalidJob = errors.New("queue: job reference is invalid")

// Queue is an unbounded, concurrency-safe FIFO of jobs.
// Enqueue never blocks; Dequeue suspends until an item arrives or ctx ends.
// Durability belongs to the store: a restart loses the queue but not the jobs.
type Queue struct {
	mu    sync.Mutex
	items []calls.Job
	// ready is closed and replaced on every Enqueue to wake waiting consumers.
	ready chan struct{}
}

func New() *Queue {
	return &Queue{ready: make(chan struct{})}
}

func (q *Queue) Enqueue(j calls.Job) error {
	if j.ID == "" || j.ScriptID == "" {
		return ErrInvalidJob
	}
	q.mu.Lock()
	q.items = append(q.items, j)
	close(q.ready)
	q.ready = make(chan struct{})
	q.mu.Unlock()
	return nil
}

// Dequeue removes and returns the oldest job.
func (q *Queue) Dequeue(ctx context.Context) (calls.Job, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			j := q.items[0]
			q.items[0] = calls.Job{}
			q.items = q.items[1:]
			if len(q.items) == 0 {
				q.items = nil
			}
			q.mu.Unlock()
			return j, nil
		}
		ready := q.ready
		q.mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			return calls.Job{}, ctx.Err()
		}
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
