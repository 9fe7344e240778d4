// Package queue provides the dispatch queue between the coordinator and the
// dispatcher workers that forward builds to the remote executor.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/narvanalabs/buildgraph/internal/models"
)

// Common errors returned by queue operations.
var (
	// ErrNoJobs is returned when no requests are available in the queue.
	ErrNoJobs = errors.New("no jobs available")
	// ErrJobNotFound is returned when a request cannot be found.
	ErrJobNotFound = errors.New("job not found")
	// ErrDuplicateJob is returned when a request for the same task is already queued.
	ErrDuplicateJob = errors.New("job already queued")
)

// Queue defines the interface for dispatch queue operations. Requests are
// keyed by task id.
type Queue interface {
	// Enqueue adds a dispatch request to the queue.
	// The request will be serialized to JSON for storage.
	Enqueue(ctx context.Context, req *models.DispatchRequest) error

	// Dequeue retrieves and locks the next available request.
	// Returns ErrNoJobs if no requests are available.
	Dequeue(ctx context.Context) (*models.DispatchRequest, error)

	// Ack acknowledges successful processing of a request, removing it from the queue.
	Ack(ctx context.Context, taskID string) error

	// Nack returns a request to the queue after a failed attempt. The request
	// becomes available again after Backoff(attempts). It returns the number
	// of failed attempts so far.
	Nack(ctx context.Context, taskID string) (attempts int, err error)

	// Remove deletes a request that has not been picked up yet. It reports
	// false when the request is unknown or already being processed.
	Remove(ctx context.Context, taskID string) (bool, error)
}

const (
	baseBackoff = 2 * time.Second
	maxBackoff  = 2 * time.Minute
)

// Backoff returns the delay before a request that failed attempts times is
// retried.
func Backoff(attempts int) time.Duration {
	if attempts < 1 {
		return 0
	}
	d := baseBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}
