package shutdown

import (
	"context"
	"io"
)

// CloserComponent wraps an io.Closer for graceful shutdown.
type CloserComponent struct {
	name   string
	closer io.Closer
}

// NewCloserComponent creates a new closer shutdown component.
func NewCloserComponent(name string, closer io.Closer) *CloserComponent {
	return &CloserComponent{
		name:   name,
		closer: closer,
	}
}

// Name returns the component name.
func (c *CloserComponent) Name() string {
	return c.name
}

// Shutdown closes the underlying resource.
func (c *CloserComponent) Shutdown(ctx context.Context) error {
	return c.closer.Close()
}

// FuncComponent wraps a shutdown function as a component.
type FuncComponent struct {
	name string
	fn   func(ctx context.Context) error
}

// NewFuncComponent creates a new function-based shutdown component.
func NewFuncComponent(name string, fn func(ctx context.Context) error) *FuncComponent {
	return &FuncComponent{
		name: name,
		fn:   fn,
	}
}

// Name returns the component name.
func (c *FuncComponent) Name() string {
	return c.name
}

// Shutdown calls the wrapped function.
func (c *FuncComponent) Shutdown(ctx context.Context) error {
	return c.fn(ctx)
}

// WorkerShutdowner is the interface for workers that can be stopped.
type WorkerShutdowner interface {
	Stop()
}

// WorkerComponent wraps a worker for graceful shutdown.
type WorkerComponent struct {
	name   string
	worker WorkerShutdowner
}

// NewWorkerComponent creates a new worker shutdown component.
func NewWorkerComponent(name string, worker WorkerShutdowner) *WorkerComponent {
	return &WorkerComponent{
		name:   name,
		worker: worker,
	}
}

// Name returns the component name.
func (c *WorkerComponent) Name() string {
	return c.name
}

// Shutdown stops the worker. Stop waits for in-progress dispatches.
func (c *WorkerComponent) Shutdown(ctx context.Context) error {
	c.worker.Stop()
	return nil
}
