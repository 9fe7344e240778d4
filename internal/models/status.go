// Package models provides data models for the build coordinator.
package models

import (
	"errors"
	"fmt"
)

// ErrUnknownStatus is returned when an external status value has no domain mapping.
var ErrUnknownStatus = errors.New("unknown status")

// BuildStatus represents the lifecycle state of a build task.
type BuildStatus string

const (
	// BuildStatusNew indicates the task was created but its edges are not wired yet.
	BuildStatusNew BuildStatus = "NEW"
	// BuildStatusWaiting indicates the task has unmet prerequisites.
	BuildStatusWaiting BuildStatus = "WAITING_FOR_DEPENDENCIES"
	// BuildStatusEnqueued indicates the task is being handed to the executor.
	BuildStatusEnqueued BuildStatus = "ENQUEUED"
	// BuildStatusBuilding indicates the executor accepted the task.
	BuildStatusBuilding BuildStatus = "BUILDING"
	// BuildStatusSuccess indicates the build completed successfully.
	BuildStatusSuccess BuildStatus = "SUCCESS"
	// BuildStatusFailed indicates the build itself failed.
	BuildStatusFailed BuildStatus = "FAILED"
	// BuildStatusSystemError indicates infrastructure prevented the build from completing.
	BuildStatusSystemError BuildStatus = "SYSTEM_ERROR"
	// BuildStatusCancelled indicates the build was cancelled.
	BuildStatusCancelled BuildStatus = "CANCELLED"
)

// AllBuildStatuses lists every build status.
var AllBuildStatuses = []BuildStatus{
	BuildStatusNew,
	BuildStatusWaiting,
	BuildStatusEnqueued,
	BuildStatusBuilding,
	BuildStatusSuccess,
	BuildStatusFailed,
	BuildStatusSystemError,
	BuildStatusCancelled,
}

// IsCompleted reports whether the status is terminal.
func (s BuildStatus) IsCompleted() bool {
	switch s {
	case BuildStatusSuccess, BuildStatusFailed, BuildStatusSystemError, BuildStatusCancelled:
		return true
	default:
		return false
	}
}

// IsSuccess reports whether dependents of a task in this status may be released.
func (s BuildStatus) IsSuccess() bool {
	return s == BuildStatusSuccess
}

// CanTransitionTo reports whether a task may move from s to next.
// Terminal states have no outgoing transitions.
func (s BuildStatus) CanTransitionTo(next BuildStatus) bool {
	if s.IsCompleted() {
		return false
	}
	if next.IsCompleted() {
		return true
	}
	switch s {
	case BuildStatusNew:
		return next == BuildStatusWaiting || next == BuildStatusEnqueued
	case BuildStatusWaiting:
		return next == BuildStatusEnqueued
	case BuildStatusEnqueued:
		return next == BuildStatusBuilding
	default:
		return false
	}
}

// BuildExecutionKind distinguishes regular builds from execution-only builds.
// Execution-only builds are run and reported but never persisted as build records.
type BuildExecutionKind string

const (
	KindRegular       BuildExecutionKind = "regular"
	KindExecutionOnly BuildExecutionKind = "execution_only"
)

// Valid reports whether k is a known kind.
func (k BuildExecutionKind) Valid() bool {
	return k == KindRegular || k == KindExecutionOnly
}

// CompletionStatus is the outcome reported by the external build executor.
type CompletionStatus string

const (
	CompletionSuccess     CompletionStatus = "SUCCESS"
	CompletionFailed      CompletionStatus = "FAILED"
	CompletionCancelled   CompletionStatus = "CANCELLED"
	CompletionTimedOut    CompletionStatus = "TIMED_OUT"
	CompletionSystemError CompletionStatus = "SYSTEM_ERROR"
)

// BuildStatus maps an executor outcome to the terminal task status.
func (c CompletionStatus) BuildStatus() (BuildStatus, error) {
	switch c {
	case CompletionSuccess:
		return BuildStatusSuccess, nil
	case CompletionFailed:
		return BuildStatusFailed, nil
	case CompletionCancelled:
		return BuildStatusCancelled, nil
	case CompletionTimedOut, CompletionSystemError:
		return BuildStatusSystemError, nil
	}
	return "", fmt.Errorf("%w: completion status %q", ErrUnknownStatus, string(c))
}

// MilestoneReleaseStatus represents the state of a milestone release.
type MilestoneReleaseStatus string

const (
	ReleaseInProgress  MilestoneReleaseStatus = "IN_PROGRESS"
	ReleaseSucceeded   MilestoneReleaseStatus = "SUCCEEDED"
	ReleaseFailed      MilestoneReleaseStatus = "FAILED"
	ReleaseSystemError MilestoneReleaseStatus = "SYSTEM_ERROR"
	ReleaseCanceled    MilestoneReleaseStatus = "CANCELED"
)

// IsTerminal reports whether the release has finished.
func (s MilestoneReleaseStatus) IsTerminal() bool {
	switch s {
	case ReleaseSucceeded, ReleaseFailed, ReleaseSystemError, ReleaseCanceled:
		return true
	default:
		return false
	}
}

// ReleaseStatus is the overall outcome reported by the workflow engine.
type ReleaseStatus string

const (
	ReleaseStatusSuccess     ReleaseStatus = "SUCCESS"
	ReleaseStatusFailure     ReleaseStatus = "FAILURE"
	ReleaseStatusImportError ReleaseStatus = "IMPORT_ERROR"
	ReleaseStatusSetUpError  ReleaseStatus = "SET_UP_ERROR"
	ReleaseStatusSystemError ReleaseStatus = "SYSTEM_ERROR"
	ReleaseStatusCanceled    ReleaseStatus = "CANCELED"
)

// MilestoneReleaseStatus maps the engine outcome to the release status.
func (s ReleaseStatus) MilestoneReleaseStatus() (MilestoneReleaseStatus, error) {
	switch s {
	case ReleaseStatusSuccess:
		return ReleaseSucceeded, nil
	case ReleaseStatusFailure, ReleaseStatusImportError:
		return ReleaseFailed, nil
	case ReleaseStatusSetUpError, ReleaseStatusSystemError:
		return ReleaseSystemError, nil
	case ReleaseStatusCanceled:
		return ReleaseCanceled, nil
	}
	return "", fmt.Errorf("%w: release status %q", ErrUnknownStatus, string(s))
}

// BuildPushStatus is the domain status of one build pushed during a release.
type BuildPushStatus string

const (
	PushSuccess     BuildPushStatus = "SUCCESS"
	PushFailed      BuildPushStatus = "FAILED"
	PushSystemError BuildPushStatus = "SYSTEM_ERROR"
)

// BuildImportStatus is the external import status of one build.
type BuildImportStatus string

const (
	ImportSuccessful BuildImportStatus = "SUCCESSFUL"
	ImportFailed     BuildImportStatus = "FAILED"
	ImportError      BuildImportStatus = "ERROR"
)

// PushStatus maps an import status to the push status. The mapping is
// exhaustive; new external values fail instead of defaulting.
func (s BuildImportStatus) PushStatus() (BuildPushStatus, error) {
	switch s {
	case ImportSuccessful:
		return PushSuccess, nil
	case ImportFailed:
		return PushFailed, nil
	case ImportError:
		return PushSystemError, nil
	}
	return "", fmt.Errorf("%w: build import status %q", ErrUnknownStatus, string(s))
}
