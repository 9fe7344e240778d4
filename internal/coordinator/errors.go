package coordinator

import (
	"errors"
	"fmt"
)

// Errors returned by the coordinator.
var (
	// ErrTaskNotFound is returned for unknown or already pruned task ids.
	ErrTaskNotFound = errors.New("build task not found")
	// ErrSetNotFound is returned for unknown or already pruned set ids.
	ErrSetNotFound = errors.New("build set not found")
	// ErrAlreadyCompleted is returned when a task is already in a terminal status.
	ErrAlreadyCompleted = errors.New("build task already completed")
	// ErrConfigurationNotFound is returned when a submitted configuration or
	// one of its prerequisites does not exist.
	ErrConfigurationNotFound = errors.New("build configuration not found")
	// ErrBuildConflict is matched by *BuildConflictError.
	ErrBuildConflict = errors.New("build already in progress")
	// ErrDispatch wraps failures of the build executor.
	ErrDispatch = errors.New("dispatching build")
	// ErrNotStartable is returned by StartBuilding for tasks that are not
	// waiting or still have unmet prerequisites.
	ErrNotStartable = errors.New("build task cannot be started")
	// ErrInvalidRequest is returned for malformed submissions.
	ErrInvalidRequest = errors.New("invalid build request")
)

// BuildConflictError reports that a configuration already has an active task.
type BuildConflictError struct {
	ConfigurationID int
	TaskID          string
}

func (e *BuildConflictError) Error() string {
	return fmt.Sprintf("configuration %d is already being built by task %s", e.ConfigurationID, e.TaskID)
}

func (e *BuildConflictError) Unwrap() error {
	return ErrBuildConflict
}
