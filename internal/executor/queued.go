package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/narvanalabs/buildgraph/internal/models"
	"github.com/narvanalabs/buildgraph/internal/queue"
)

// Canceller forwards cancellations of builds already picked up by a worker.
type Canceller interface {
	Cancel(ctx context.Context, taskID string) error
}

// QueuedExecutor decouples the coordinator from executor availability: a
// dispatch only stores the request, dispatcher workers forward it later.
type QueuedExecutor struct {
	queue  queue.Queue
	remote Canceller
	logger *slog.Logger
}

// NewQueuedExecutor creates a QueuedExecutor. remote receives cancellations
// for requests that already left the queue.
func NewQueuedExecutor(q queue.Queue, remote Canceller, logger *slog.Logger) *QueuedExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueuedExecutor{queue: q, remote: remote, logger: logger.With("component", "queued_executor")}
}

// Dispatch enqueues the request. A request already queued for the same task
// is accepted as is.
func (e *QueuedExecutor) Dispatch(ctx context.Context, req *models.DispatchRequest) error {
	if err := e.queue.Enqueue(ctx, req); err != nil {
		if errors.Is(err, queue.ErrDuplicateJob) {
			e.logger.Debug("dispatch request already queued", "task_id", req.TaskID)
			return nil
		}
		return fmt.Errorf("queueing build %s: %w", req.TaskID, err)
	}
	return nil
}

// Cancel removes a pending request, or forwards the cancellation when a
// worker already took it.
func (e *QueuedExecutor) Cancel(ctx context.Context, taskID string) error {
	removed, err := e.queue.Remove(ctx, taskID)
	if err != nil {
		return fmt.Errorf("removing build %s from queue: %w", taskID, err)
	}
	if removed {
		e.logger.Debug("pending dispatch request removed", "task_id", taskID)
		return nil
	}
	if e.remote == nil {
		return nil
	}
	return e.remote.Cancel(ctx, taskID)
}
