package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bobarin/recapmaker/internal/models"
)

// Queue is an unbounded in-process FIFO of render jobs. Enqueue never blocks.
// Every enqueued job is also recorded in the Store so it can be polled.
type Queue struct {
	store *Store

	mu      sync.Mutex
	pending []models.RenderJob
	notify  chan struct{}
}

func New(store *Store) *Queue {
	return &Queue{
		store:  store,
		notify: make(chan struct{}, 1),
	}
}

// Store returns the status table backing the queue.
func (q *Queue) Store() *Store {
	return q.store
}

// Enqueue records job as queued and appends it to the FIFO.
func (q *Queue) Enqueue(job models.RenderJob) error {
	if job.InputPath == "" || job.OutputPath == "" {
		return fmt.Errorf("%w: input and output paths are required", ErrInvalidJob)
	}
	if err := q.store.Create(job); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	job.Status = models.JobStatusQueued

	q.mu.Lock()
	q.pending = append(q.pending, job)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Dequeue waits up to timeout for the next job. It returns nil, nil when the
// timeout expires and an error only when ctx is done.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*models.RenderJob, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if job, ok := q.pop(); ok {
			return &job, nil
		}

		select {
		case <-q.notify:
		case <-timer.C:
			return nil, nil // No job available
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Len returns the number of jobs waiting to be dequeued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) pop() (models.RenderJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return models.RenderJob{}, false
	}
	job := q.pending[0]
	q.pending[0] = models.RenderJob{}
	q.pending = q.pending[1:]

	// Another consumer may be waiting for the remainder
	if len(q.pending) > 0 {
		select {
		case q.notify <- struct{}{}:
		default:
		}
	}
	return job, true
}
