// Package events provides the outbound domain event bus. The coordinator and
// the release manager publish after each state change; websocket streams,
// metrics and the user log subscribe independently.
package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/narvanalabs/buildgraph/internal/models"
)

// Type identifies the kind of a domain event.
type Type string

const (
	// BuildStatusChanged is published after every build task status change.
	BuildStatusChanged Type = "build_status_changed"
	// BuildSetStatusChanged is published when a build set's aggregate status changes.
	BuildSetStatusChanged Type = "build_set_status_changed"
	// MilestoneReleaseChanged is published after every release state change.
	MilestoneReleaseChanged Type = "milestone_release_changed"
)

// BuildPayload describes a build task status change.
type BuildPayload struct {
	TaskID          string                    `json:"task_id"`
	SetID           string                    `json:"set_id"`
	ConfigurationID int                       `json:"configuration_id"`
	Kind            models.BuildExecutionKind `json:"kind"`
	OldStatus       models.BuildStatus        `json:"old_status"`
	NewStatus       models.BuildStatus        `json:"new_status"`
	Description     string                    `json:"description,omitempty"`
	User            string                    `json:"user,omitempty"`
}

// SetPayload describes a build set aggregate status change.
type SetPayload struct {
	SetID   string             `json:"set_id"`
	Status  string             `json:"status"`
	Outcome models.BuildStatus `json:"outcome,omitempty"`
}

// Event is a domain event. Exactly one payload field is set, matching Type.
type Event struct {
	Type      Type                            `json:"type"`
	Timestamp time.Time                       `json:"timestamp"`
	Build     *BuildPayload                   `json:"build,omitempty"`
	Set       *SetPayload                     `json:"set,omitempty"`
	Release   *models.ProductMilestoneRelease `json:"release,omitempty"`
}

// Publisher accepts domain events.
type Publisher interface {
	Publish(event Event)
}

// Subscriber is a subscription to a subset of event types.
type Subscriber struct {
	ID    string
	Types map[Type]bool
	Ch    chan Event
}

// Bus fans published events out to subscribers through buffered channels.
// A subscriber whose buffer stays full for longer than the send timeout
// loses that event; the loss is logged and counted.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	bufferSize  int
	sendTimeout time.Duration
	dropped     atomic.Int64
	logger      *slog.Logger
}

// NewBus creates a new event bus with the specified buffer size per subscriber.
func NewBus(bufferSize int, logger *slog.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subscribers: make(map[string]*Subscriber),
		bufferSize:  bufferSize,
		sendTimeout: 100 * time.Millisecond,
		logger:      logger,
	}
}

// Subscribe registers a subscriber for the given event types, or all types
// when none are given.
func (b *Bus) Subscribe(types ...Type) *Subscriber {
	sub := &Subscriber{
		ID:    uuid.New().String(),
		Types: make(map[Type]bool, len(types)),
		Ch:    make(chan Event, b.bufferSize),
	}
	for _, t := range types {
		sub.Types[t] = true
	}

	b.mu.Lock()
	b.subscribers[sub.ID] = sub
	b.mu.Unlock()

	b.logger.Debug("event subscriber added", "subscriber_id", sub.ID)
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[sub.ID]; exists {
		close(sub.Ch)
		delete(b.subscribers, sub.ID)
		b.logger.Debug("event subscriber removed", "subscriber_id", sub.ID)
	}
}

// Publish delivers event to every matching subscriber.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if len(sub.Types) > 0 && !sub.Types[event.Type] {
			continue
		}
		select {
		case sub.Ch <- event:
			continue
		default:
		}

		timer := time.NewTimer(b.sendTimeout)
		select {
		case sub.Ch <- event:
			timer.Stop()
		case <-timer.C:
			b.dropped.Add(1)
			b.logger.Warn("subscriber channel full, dropping event",
				"subscriber_id", sub.ID,
				"event_type", event.Type,
			)
		}
	}
}

// Dropped returns the number of events lost to slow subscribers.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close closes all subscriber channels and clears subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subscribers {
		close(sub.Ch)
		delete(b.subscribers, id)
	}
}
