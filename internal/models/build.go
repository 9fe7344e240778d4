package models

import "time"

// BuildConfiguration describes how to build one project and which other
// configurations must be built first.
type BuildConfiguration struct {
	ID           int       `json:"id"`
	Name         string    `json:"name"`
	ProjectName  string    `json:"project_name"`
	ScmURL       string    `json:"scm_url"`
	ScmRevision  string    `json:"scm_revision"`
	BuildScript  string    `json:"build_script"`
	Dependencies []int     `json:"dependencies,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// BuildRecord is the persisted outcome of a regular build task.
type BuildRecord struct {
	ID              string      `json:"id"`
	ConfigurationID int         `json:"configuration_id"`
	Status          BuildStatus `json:"status"`
	SubmitTime      time.Time   `json:"submit_time"`
	StartTime       *time.Time  `json:"start_time,omitempty"`
	EndTime         *time.Time  `json:"end_time,omitempty"`
	User            string      `json:"user"`
	ContentID       string      `json:"content_id"`
	TemporaryBuild  bool        `json:"temporary_build"`
	BuildLog        string      `json:"build_log,omitempty"`
}

// BuildResult is the completion payload reported by the build executor.
type BuildResult struct {
	Status  CompletionStatus `json:"status"`
	Message string           `json:"message,omitempty"`
	Log     string           `json:"log,omitempty"`
}

// DispatchRequest is what the coordinator hands to the build executor.
type DispatchRequest struct {
	TaskID            string             `json:"task_id"`
	Configuration     BuildConfiguration `json:"configuration"`
	Kind              BuildExecutionKind `json:"kind"`
	User              string             `json:"user"`
	TopContentID      string             `json:"top_content_id"`
	BuildSetContentID string             `json:"build_set_content_id"`
	BuildContentID    string             `json:"build_content_id"`
	TemporaryBuild    bool               `json:"temporary_build"`
	CallbackURL       string             `json:"callback_url,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
}

// TemporaryExpiry returns when a temporary build expires given the
// configured lifespan. Persistent builds never expire and yield nil.
func TemporaryExpiry(now time.Time, lifespan time.Duration, temporary bool) *time.Time {
	if !temporary {
		return nil
	}
	t := now.Add(lifespan)
	return &t
}
