package coordinator

import (
	"sync"
	"time"

	"github.com/narvanalabs/buildgraph/internal/models"
)

// SetStatus is the aggregate status of a build set.
type SetStatus string

const (
	SetStatusNew      SetStatus = "NEW"
	SetStatusBuilding SetStatus = "BUILDING"
	SetStatusDone     SetStatus = "DONE"
)

// BuildSetTask groups the build tasks created by one submission. Members
// inherit the set's execution kind.
type BuildSetTask struct {
	ID             string
	Kind           models.BuildExecutionKind
	User           string
	TopContentID   string
	ContentID      string
	TemporaryBuild bool
	ExpiresAt      *time.Time
	SubmitTime     time.Time

	mu          sync.Mutex
	members     []string
	statuses    map[string]models.BuildStatus
	status      SetStatus
	outcome     models.BuildStatus
	completedAt *time.Time
}

// SetView is a point-in-time copy of a build set.
type SetView struct {
	ID             string                    `json:"id"`
	Kind           models.BuildExecutionKind `json:"kind"`
	User           string                    `json:"user"`
	ContentID      string                    `json:"content_id"`
	TemporaryBuild bool                      `json:"temporary_build"`
	Status         SetStatus                 `json:"status"`
	Outcome        models.BuildStatus        `json:"outcome,omitempty"`
	SubmitTime     time.Time                 `json:"submit_time"`
	CompletedAt    *time.Time                `json:"completed_at,omitempty"`
	Tasks          []TaskView                `json:"tasks"`
}

func (s *BuildSetTask) addMember(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members = append(s.members, taskID)
	s.statuses[taskID] = models.BuildStatusNew
}

// Members returns the ids of the member tasks in submission order.
func (s *BuildSetTask) Members() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.members...)
}

// Status returns the aggregate status and, once DONE, the aggregate outcome.
func (s *BuildSetTask) Status() (SetStatus, models.BuildStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.outcome
}

// Done reports whether every member reached a terminal status.
func (s *BuildSetTask) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == SetStatusDone
}

// taskStatusUpdated records a member status and recomputes the aggregate.
// changed is true when the aggregate status moved.
func (s *BuildSetTask) taskStatusUpdated(taskID string, status models.BuildStatus, now time.Time) (changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, member := s.statuses[taskID]
	if !member || current.IsCompleted() {
		// Notifications are not ordered across goroutines; a terminal
		// status is never overwritten by a late intermediate one.
		return false
	}
	s.statuses[taskID] = status

	next := SetStatusNew
	done := true
	for _, st := range s.statuses {
		if !st.IsCompleted() {
			done = false
		}
		if st != models.BuildStatusNew && st != models.BuildStatusWaiting {
			next = SetStatusBuilding
		}
	}
	if done && len(s.statuses) > 0 {
		next = SetStatusDone
	}
	if next == s.status {
		return false
	}

	s.status = next
	if next == SetStatusDone {
		s.outcome = aggregateOutcome(s.statuses)
		s.completedAt = &now
	}
	return true
}

// aggregateOutcome is SUCCESS only when every member succeeded. Otherwise the
// most severe member outcome wins: SYSTEM_ERROR, then FAILED, then CANCELLED.
func aggregateOutcome(statuses map[string]models.BuildStatus) models.BuildStatus {
	var failed, cancelled, systemError bool
	for _, st := range statuses {
		switch st {
		case models.BuildStatusSystemError:
			systemError = true
		case models.BuildStatusFailed:
			failed = true
		case models.BuildStatusCancelled:
			cancelled = true
		}
	}
	switch {
	case systemError:
		return models.BuildStatusSystemError
	case failed:
		return models.BuildStatusFailed
	case cancelled:
		return models.BuildStatusCancelled
	default:
		return models.BuildStatusSuccess
	}
}

func (s *BuildSetTask) view() SetView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SetView{
		ID:             s.ID,
		Kind:           s.Kind,
		User:           s.User,
		ContentID:      s.ContentID,
		TemporaryBuild: s.TemporaryBuild,
		Status:         s.status,
		Outcome:        s.outcome,
		SubmitTime:     s.SubmitTime,
		CompletedAt:    s.completedAt,
	}
}

// expired reports whether a finished set is older than retain.
func (s *BuildSetTask) expired(now time.Time, retain time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != SetStatusDone || s.completedAt == nil {
		return false
	}
	return now.Sub(*s.completedAt) >= retain
}
