package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/narvanalabs/buildgraph/internal/models"
	"github.com/narvanalabs/buildgraph/internal/queue"
)

// Dispatcher hands a dispatch request to the build executor.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *models.DispatchRequest) error
}

// Reporter reports a build result to the coordinator.
type Reporter interface {
	Report(ctx context.Context, callbackURL string, result models.BuildResult) error
}

// WorkerConfig holds configuration for the dispatch worker.
type WorkerConfig struct {
	Concurrency  int
	MaxAttempts  int
	PollInterval time.Duration
}

// DefaultWorkerConfig returns a WorkerConfig with sensible defaults.
func DefaultWorkerConfig() *WorkerConfig {
	return &WorkerConfig{
		Concurrency:  4,
		MaxAttempts:  5,
		PollInterval: time.Second,
	}
}

// Worker drains the dispatch queue into the remote executor.
type Worker struct {
	queue    queue.Queue
	remote   Dispatcher
	reporter Reporter
	logger   *slog.Logger

	concurrency  int
	maxAttempts  int
	pollInterval time.Duration
	stopCh       chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
}

// NewWorker creates a new dispatch worker.
func NewWorker(cfg *WorkerConfig, q queue.Queue, remote Dispatcher, reporter Reporter, logger *slog.Logger) *Worker {
	if cfg == nil {
		cfg = DefaultWorkerConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		queue:        q,
		remote:       remote,
		reporter:     reporter,
		logger:       logger.With("component", "dispatcher"),
		concurrency:  max(cfg.Concurrency, 1),
		maxAttempts:  max(cfg.MaxAttempts, 1),
		pollInterval: cfg.PollInterval,
		stopCh:       make(chan struct{}),
	}
}

// Start begins processing dispatch requests from the queue.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("starting dispatch worker", "concurrency", w.concurrency)
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// Stop signals the loops to exit and waits for in-flight requests.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("stopping dispatch worker")
		close(w.stopCh)
	})
	w.wg.Wait()
	w.logger.Info("dispatch worker stopped")
}

func (w *Worker) workerLoop(ctx context.Context, workerID int) {
	defer w.wg.Done()

	logger := w.logger.With("worker_id", workerID)
	logger.Debug("worker started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		default:
		}

		processed, err := w.ProcessNext(ctx)
		if err != nil {
			logger.Error("failed to process dispatch request", "error", err)
		}
		if processed {
			continue
		}

		wait := w.pollInterval
		if err != nil {
			wait *= 5
		}
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-time.After(wait):
		}
	}
}

// ProcessNext forwards one queued request. It reports false when the queue
// had nothing available.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	req, err := w.queue.Dequeue(ctx)
	if err != nil {
		if errors.Is(err, queue.ErrNoJobs) {
			return false, nil
		}
		return false, fmt.Errorf("dequeueing: %w", err)
	}

	logger := w.logger.With("task_id", req.TaskID, "configuration_id", req.Configuration.ID)

	dispatchErr := w.remote.Dispatch(ctx, req)
	if dispatchErr == nil {
		logger.Info("build forwarded to executor")
		if err := w.queue.Ack(ctx, req.TaskID); err != nil {
			return true, fmt.Errorf("acknowledging %s: %w", req.TaskID, err)
		}
		return true, nil
	}

	var statusErr *StatusError
	permanent := errors.As(dispatchErr, &statusErr) && !statusErr.Temporary()
	if !permanent {
		attempts, err := w.queue.Nack(ctx, req.TaskID)
		if err != nil {
			return true, fmt.Errorf("returning %s to queue: %w", req.TaskID, err)
		}
		if attempts < w.maxAttempts {
			logger.Warn("executor unavailable, will retry", "attempts", attempts, "error", dispatchErr)
			return true, nil
		}
		// Out of attempts: take it back out for the final report.
		if _, err := w.queue.Remove(ctx, req.TaskID); err != nil {
			return true, fmt.Errorf("removing %s from queue: %w", req.TaskID, err)
		}
	} else if err := w.queue.Ack(ctx, req.TaskID); err != nil {
		return true, fmt.Errorf("acknowledging %s: %w", req.TaskID, err)
	}

	logger.Error("giving up on build dispatch", "error", dispatchErr)
	if req.CallbackURL == "" {
		return true, nil
	}
	result := models.BuildResult{
		Status:  models.CompletionSystemError,
		Message: "build could not be dispatched: " + dispatchErr.Error(),
	}
	if err := w.reporter.Report(ctx, req.CallbackURL, result); err != nil {
		return true, fmt.Errorf("reporting failed dispatch of %s: %w", req.TaskID, err)
	}
	return true, nil
}
