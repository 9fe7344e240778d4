package queue

import (
	"context"
	"sync"
	"time"

	"github.com/narvanalabs/buildgraph/internal/models"
)

type memoryJob struct {
	req         *models.DispatchRequest
	processing  bool
	attempts    int
	availableAt time.Time
	seq         int64
}

// MemoryQueue is an in-process Queue used in development mode and tests.
type MemoryQueue struct {
	mu   sync.Mutex
	jobs map[string]*memoryJob
	seq  int64
	now  func() time.Time
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		jobs: make(map[string]*memoryJob),
		now:  time.Now,
	}
}

// Enqueue adds req to the queue.
func (q *MemoryQueue) Enqueue(ctx context.Context, req *models.DispatchRequest) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.jobs[req.TaskID]; exists {
		return ErrDuplicateJob
	}
	q.seq++
	copied := *req
	q.jobs[req.TaskID] = &memoryJob{req: &copied, availableAt: q.now(), seq: q.seq}
	return nil
}

// Dequeue returns the oldest available request and marks it processing.
func (q *MemoryQueue) Dequeue(ctx context.Context) (*models.DispatchRequest, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var next *memoryJob
	for _, job := range q.jobs {
		if job.processing || job.availableAt.After(now) {
			continue
		}
		if next == nil || job.seq < next.seq {
			next = job
		}
	}
	if next == nil {
		return nil, ErrNoJobs
	}
	next.processing = true
	copied := *next.req
	return &copied, nil
}

// Ack removes a processing request.
func (q *MemoryQueue) Ack(ctx context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[taskID]
	if !ok || !job.processing {
		return ErrJobNotFound
	}
	delete(q.jobs, taskID)
	return nil
}

// Nack makes a processing request available again after its backoff.
func (q *MemoryQueue) Nack(ctx context.Context, taskID string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[taskID]
	if !ok || !job.processing {
		return 0, ErrJobNotFound
	}
	job.processing = false
	job.attempts++
	job.availableAt = q.now().Add(Backoff(job.attempts))
	return job.attempts, nil
}

// Remove deletes a request that is not being processed.
func (q *MemoryQueue) Remove(ctx context.Context, taskID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[taskID]
	if !ok || job.processing {
		return false, nil
	}
	delete(q.jobs, taskID)
	return true, nil
}

// Len returns the number of queued and processing requests.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}
