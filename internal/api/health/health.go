// Package health provides health check functionality for API components.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	// StatusHealthy indicates the component is fully operational.
	StatusHealthy Status = "healthy"
	// StatusDegraded indicates a non-critical component is failing.
	StatusDegraded Status = "degraded"
	// StatusUnhealthy indicates a critical component is failing.
	StatusUnhealthy Status = "unhealthy"
)

// ComponentStatus represents the health status of a single component.
type ComponentStatus struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response represents the health check response.
type Response struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentStatus `json:"components"`
	Version    string                     `json:"version"`
	Uptime     string                     `json:"uptime"`
}

// Pinger is an interface for components that can be pinged.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context) error

// Ping calls f.
func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type component struct {
	name     string
	pinger   Pinger
	critical bool
}

// Checker performs health checks over registered components.
type Checker struct {
	startTime time.Time
	version   string

	mu         sync.RWMutex
	timeout    time.Duration
	components []component
}

// NewChecker creates a new health checker.
func NewChecker(version string) *Checker {
	return &Checker{
		startTime: time.Now(),
		version:   version,
		timeout:   5 * time.Second,
	}
}

// Register adds a component. A failing critical component makes the
// service unhealthy; any other failure only degrades it.
func (c *Checker) Register(name string, p Pinger, critical bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.components = append(c.components, component{name: name, pinger: p, critical: critical})
	sort.Slice(c.components, func(i, j int) bool { return c.components[i].name < c.components[j].name })
}

// SetTimeout sets the timeout for health checks.
func (c *Checker) SetTimeout(timeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeout = timeout
}

// Check pings every component concurrently and aggregates the result.
func (c *Checker) Check(ctx context.Context) *Response {
	c.mu.RLock()
	timeout := c.timeout
	components := append([]component(nil), c.components...)
	c.mu.RUnlock()

	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	statuses := make([]ComponentStatus, len(components))
	var wg sync.WaitGroup
	for i, comp := range components {
		wg.Add(1)
		go func(i int, comp component) {
			defer wg.Done()
			statuses[i] = ping(checkCtx, comp)
		}(i, comp)
	}
	wg.Wait()

	overall := StatusHealthy
	result := make(map[string]ComponentStatus, len(components))
	for i, comp := range components {
		result[comp.name] = statuses[i]
		switch statuses[i].Status {
		case StatusUnhealthy:
			overall = StatusUnhealthy
		case StatusDegraded:
			if overall == StatusHealthy {
				overall = StatusDegraded
			}
		}
	}

	return &Response{
		Status:     overall,
		Components: result,
		Version:    c.version,
		Uptime:     time.Since(c.startTime).Round(time.Second).String(),
	}
}

func ping(ctx context.Context, comp component) ComponentStatus {
	if err := comp.pinger.Ping(ctx); err != nil {
		status := StatusDegraded
		if comp.critical {
			status = StatusUnhealthy
		}
		return ComponentStatus{Status: status, Message: err.Error()}
	}
	return ComponentStatus{Status: StatusHealthy}
}

// Handler returns an HTTP handler for health checks.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := c.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if response.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(response)
	}
}
