// Package metrics exposes coordinator and release activity as Prometheus
// metrics. Collectors are fed from the event bus, never called directly by
// the domain code.
package metrics

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/narvanalabs/buildgraph/internal/events"
	"github.com/narvanalabs/buildgraph/internal/models"
)

const namespace = "buildgraph"

// Collector holds the Prometheus collectors.
type Collector struct {
	BuildTransitions   *prometheus.CounterVec
	BuildsCompleted    *prometheus.CounterVec
	ActiveBuilds       prometheus.Gauge
	SetsCompleted      *prometheus.CounterVec
	ReleaseChanges     *prometheus.CounterVec
	ReleasesInProgress prometheus.Gauge

	mu         sync.Mutex
	inProgress map[int64]struct{}
	logger     *slog.Logger
}

// NewCollector registers the collectors with reg. dropped reports events
// lost by the bus.
func NewCollector(reg prometheus.Registerer, dropped func() int64, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	factory := promauto.With(reg)

	c := &Collector{
		BuildTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "build_transitions_total",
				Help:      "Build task status transitions by new status.",
			},
			[]string{"status"},
		),
		BuildsCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "builds_completed_total",
				Help:      "Build tasks reaching a terminal status.",
			},
			[]string{"status", "kind"},
		),
		ActiveBuilds: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_builds",
				Help:      "Build tasks submitted and not yet completed.",
			},
		),
		SetsCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "build_sets_completed_total",
				Help:      "Build sets finished by aggregate outcome.",
			},
			[]string{"outcome"},
		),
		ReleaseChanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "milestone_release_changes_total",
				Help:      "Milestone release status changes by status.",
			},
			[]string{"status"},
		),
		ReleasesInProgress: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "milestone_releases_in_progress",
				Help:      "Milestone releases started and not yet finished.",
			},
		),
		inProgress: make(map[int64]struct{}),
		logger:     logger.With("component", "metrics"),
	}

	if dropped != nil {
		factory.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "events_dropped",
				Help:      "Domain events dropped because a subscriber was too slow.",
			},
			func() float64 { return float64(dropped()) },
		)
	}
	return c
}

// Observe updates the collectors for one event.
func (c *Collector) Observe(e events.Event) {
	switch e.Type {
	case events.BuildStatusChanged:
		if e.Build == nil {
			return
		}
		status := e.Build.NewStatus
		c.BuildTransitions.WithLabelValues(string(status)).Inc()
		switch {
		case status == models.BuildStatusNew:
			c.ActiveBuilds.Inc()
		case status.IsCompleted():
			c.ActiveBuilds.Dec()
			c.BuildsCompleted.WithLabelValues(string(status), string(e.Build.Kind)).Inc()
		}
	case events.BuildSetStatusChanged:
		if e.Set != nil && e.Set.Outcome != "" {
			c.SetsCompleted.WithLabelValues(string(e.Set.Outcome)).Inc()
		}
	case events.MilestoneReleaseChanged:
		if e.Release == nil {
			return
		}
		c.ReleaseChanges.WithLabelValues(string(e.Release.Status)).Inc()
		c.trackRelease(e.Release)
	}
}

// trackRelease keeps the in-progress gauge equal to the number of releases
// seen IN_PROGRESS and not yet seen terminal.
func (c *Collector) trackRelease(r *models.ProductMilestoneRelease) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, tracked := c.inProgress[r.ID]
	switch {
	case r.Status == models.ReleaseInProgress && !tracked:
		c.inProgress[r.ID] = struct{}{}
	case r.Status.IsTerminal() && tracked:
		delete(c.inProgress, r.ID)
	default:
		return
	}
	c.ReleasesInProgress.Set(float64(len(c.inProgress)))
}

// Run consumes sub until ctx is done or the subscription is closed.
func (c *Collector) Run(ctx context.Context, sub *events.Subscriber) {
	c.logger.Debug("metrics collector started", "subscriber_id", sub.ID)
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.Ch:
			if !ok {
				return
			}
			c.Observe(e)
		}
	}
}
