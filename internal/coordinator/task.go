package coordinator

import (
	"sort"
	"sync"
	"time"

	"github.com/narvanalabs/buildgraph/internal/models"
)

// BuildTask is one schedulable unit bound to a build configuration.
//
// Dependency edges are stored as task ids: requiredBuilds lists the
// prerequisites that have not completed yet, waiting holds the dependents to
// notify on completion. Both are guarded by the task's own mutex.
type BuildTask struct {
	ID                string
	Configuration     models.BuildConfiguration
	SetID             string
	Kind              models.BuildExecutionKind
	User              string
	TopContentID      string
	BuildSetContentID string
	BuildContentID    string
	TemporaryBuild    bool
	ExpiresAt         *time.Time
	SubmitTime        time.Time

	mu             sync.Mutex
	status         models.BuildStatus
	description    string
	startTime      *time.Time
	endTime        *time.Time
	requiredBuilds []string
	waiting        map[string]struct{}
	// completing is set while a completion holds the exclusive right to
	// choose the terminal status; every other transition is refused.
	completing bool
}

// TaskView is a point-in-time copy of a build task.
type TaskView struct {
	ID                string                    `json:"id"`
	SetID             string                    `json:"set_id"`
	ConfigurationID   int                       `json:"configuration_id"`
	ConfigurationName string                    `json:"configuration_name"`
	Kind              models.BuildExecutionKind `json:"kind"`
	Status            models.BuildStatus        `json:"status"`
	StatusDescription string                    `json:"status_description,omitempty"`
	User              string                    `json:"user"`
	TopContentID      string                    `json:"top_content_id"`
	BuildSetContentID string                    `json:"build_set_content_id"`
	BuildContentID    string                    `json:"build_content_id"`
	TemporaryBuild    bool                      `json:"temporary_build"`
	ExpiresAt         *time.Time                `json:"expires_at,omitempty"`
	SubmitTime        time.Time                 `json:"submit_time"`
	StartTime         *time.Time                `json:"start_time,omitempty"`
	EndTime           *time.Time                `json:"end_time,omitempty"`
	RequiredBuilds    []string                  `json:"required_builds"`
	Waiting           []string                  `json:"waiting"`
}

func newBuildTask(id string, cfg models.BuildConfiguration, set *BuildSetTask, now time.Time) *BuildTask {
	return &BuildTask{
		ID:                id,
		Configuration:     cfg,
		SetID:             set.ID,
		Kind:              set.Kind,
		User:              set.User,
		TopContentID:      set.TopContentID,
		BuildSetContentID: set.ContentID,
		BuildContentID:    buildContentID(cfg.ID, id),
		TemporaryBuild:    set.TemporaryBuild,
		ExpiresAt:         set.ExpiresAt,
		SubmitTime:        now,
		status:            models.BuildStatusNew,
		waiting:           make(map[string]struct{}),
	}
}

// Status returns the current status.
func (t *BuildTask) Status() models.BuildStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// StatusDescription returns the description recorded with the current status.
func (t *BuildTask) StatusDescription() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.description
}

// RequiredBuilds returns the ids of prerequisites that have not completed yet.
func (t *BuildTask) RequiredBuilds() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.requiredBuilds...)
}

// View returns a consistent copy of the task.
func (t *BuildTask) View() TaskView {
	t.mu.Lock()
	defer t.mu.Unlock()

	waiting := make([]string, 0, len(t.waiting))
	for id := range t.waiting {
		waiting = append(waiting, id)
	}
	sort.Strings(waiting)

	return TaskView{
		ID:                t.ID,
		SetID:             t.SetID,
		ConfigurationID:   t.Configuration.ID,
		ConfigurationName: t.Configuration.Name,
		Kind:              t.Kind,
		Status:            t.status,
		StatusDescription: t.description,
		User:              t.User,
		TopContentID:      t.TopContentID,
		BuildSetContentID: t.BuildSetContentID,
		BuildContentID:    t.BuildContentID,
		TemporaryBuild:    t.TemporaryBuild,
		ExpiresAt:         t.ExpiresAt,
		SubmitTime:        t.SubmitTime,
		StartTime:         t.startTime,
		EndTime:           t.endTime,
		RequiredBuilds:    append([]string{}, t.requiredBuilds...),
		Waiting:           waiting,
	}
}

// transition moves the task to next if the state machine allows it. On a
// terminal transition the dependents to notify are returned; the waiting set
// is cleared so each dependent is notified at most once. A claimed task
// refuses every transition until its claimant calls finish.
func (t *BuildTask) transition(next models.BuildStatus, description string, now time.Time) (old models.BuildStatus, dependents []string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.completing {
		return t.status, nil, false
	}
	return t.applyLocked(next, description, now)
}

// claim reserves the terminal transition for the caller. It fails when the
// task already completed or another completion holds the claim.
func (t *BuildTask) claim() (status models.BuildStatus, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.completing || t.status.IsCompleted() {
		return t.status, false
	}
	t.completing = true
	return t.status, true
}

// finish releases a claim by moving the task to the terminal status next.
func (t *BuildTask) finish(next models.BuildStatus, description string, now time.Time) (old models.BuildStatus, dependents []string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.completing = false
	return t.applyLocked(next, description, now)
}

func (t *BuildTask) applyLocked(next models.BuildStatus, description string, now time.Time) (old models.BuildStatus, dependents []string, ok bool) {
	old = t.status
	if !old.CanTransitionTo(next) {
		return old, nil, false
	}

	t.status = next
	t.description = description
	switch {
	case next == models.BuildStatusBuilding:
		t.startTime = &now
	case next.IsCompleted():
		t.endTime = &now
		dependents = make([]string, 0, len(t.waiting))
		for id := range t.waiting {
			dependents = append(dependents, id)
		}
		sort.Strings(dependents)
		t.waiting = make(map[string]struct{})
	}
	return old, dependents, true
}

// addWaiting registers dependentID to be notified on completion. When the
// task has already completed nothing is registered and the terminal status is
// returned with registered=false.
func (t *BuildTask) addWaiting(dependentID string) (status models.BuildStatus, registered bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status.IsCompleted() {
		return t.status, false
	}
	t.waiting[dependentID] = struct{}{}
	return t.status, true
}

// removeRequired drops finishedID from requiredBuilds. It reports whether this
// call emptied the list while the task is waiting, meaning the caller must
// start the task. Repeated notifications for the same prerequisite are no-ops.
func (t *BuildTask) removeRequired(finishedID string) (ready bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, id := range t.requiredBuilds {
		if id == finishedID {
			t.requiredBuilds = append(t.requiredBuilds[:i], t.requiredBuilds[i+1:]...)
			return len(t.requiredBuilds) == 0 && t.status == models.BuildStatusWaiting
		}
	}
	return false
}

// settle finishes edge wiring for a NEW task. With no unmet prerequisites it
// becomes ENQUEUED and the caller dispatches it, otherwise it waits.
func (t *BuildTask) settle() (old models.BuildStatus, next models.BuildStatus, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	old = t.status
	if old != models.BuildStatusNew {
		return old, old, false
	}
	if len(t.requiredBuilds) == 0 {
		t.status = models.BuildStatusEnqueued
	} else {
		t.status = models.BuildStatusWaiting
	}
	return old, t.status, true
}

// enqueue moves a NEW or WAITING task with no unmet prerequisites to ENQUEUED.
func (t *BuildTask) enqueue() (old models.BuildStatus, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	old = t.status
	if len(t.requiredBuilds) > 0 || !old.CanTransitionTo(models.BuildStatusEnqueued) {
		return old, false
	}
	t.status = models.BuildStatusEnqueued
	return old, true
}
