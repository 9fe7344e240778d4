package models

import "time"

// ProductVersion groups milestones; at most one of them is current.
type ProductVersion struct {
	ID                 int    `json:"id"`
	Version            string `json:"version"`
	CurrentMilestoneID *int   `json:"current_milestone_id,omitempty"`
}

// ProductMilestone is a checkpoint aggregating completed builds for release.
type ProductMilestone struct {
	ID               int        `json:"id"`
	Version          string     `json:"version"`
	ProductVersionID int        `json:"product_version_id"`
	StartingDate     time.Time  `json:"starting_date"`
	PlannedEndDate   *time.Time `json:"planned_end_date,omitempty"`
	EndDate          *time.Time `json:"end_date,omitempty"`
}

// ProductMilestoneRelease is one execution of the release workflow for a milestone.
type ProductMilestoneRelease struct {
	ID           int64                  `json:"id"`
	MilestoneID  int                    `json:"milestone_id"`
	Status       MilestoneReleaseStatus `json:"status"`
	Engine       string                 `json:"engine,omitempty"`
	StartingDate time.Time              `json:"starting_date"`
	EndDate      *time.Time             `json:"end_date,omitempty"`
}

// BuildRecordPushResult records one build imported by a release.
type BuildRecordPushResult struct {
	ID                 int64           `json:"id"`
	BuildRecordID      string          `json:"build_record_id"`
	Status             BuildPushStatus `json:"status"`
	BrewBuildID        int             `json:"brew_build_id"`
	BrewBuildURL       string          `json:"brew_build_url,omitempty"`
	TagPrefix          string          `json:"tag_prefix"`
	MilestoneReleaseID int64           `json:"milestone_release_id"`
}

// MilestoneReleaseResult is the callback payload sent by the workflow engine.
type MilestoneReleaseResult struct {
	MilestoneID   int                 `json:"milestone_id"`
	ReleaseStatus ReleaseStatus       `json:"release_status"`
	Builds        []BuildImportResult `json:"builds,omitempty"`
}

// BuildImportResult is the import outcome of one build in a release.
type BuildImportResult struct {
	BuildRecordID string            `json:"build_record_id"`
	Status        BuildImportStatus `json:"status"`
	BrewBuildID   int               `json:"brew_build_id"`
	BrewBuildURL  string            `json:"brew_build_url,omitempty"`
	Errors        []string          `json:"errors,omitempty"`
}
