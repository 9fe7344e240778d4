// Package store provides database access interfaces and implementations.
package store

import (
	"context"
	"errors"

	"github.com/narvanalabs/buildgraph/internal/models"
)

var (
	// ErrNotFound is returned when a requested resource does not exist.
	ErrNotFound = errors.New("resource not found")
	// ErrDuplicateKey is returned when creating a resource whose key is taken.
	ErrDuplicateKey = errors.New("duplicate key")
)

// ConfigurationStore defines operations for build configurations.
type ConfigurationStore interface {
	// Create stores a new build configuration.
	Create(ctx context.Context, cfg *models.BuildConfiguration) error
	// Get retrieves a build configuration by ID.
	Get(ctx context.Context, id int) (*models.BuildConfiguration, error)
	// List retrieves all build configurations ordered by ID.
	List(ctx context.Context) ([]*models.BuildConfiguration, error)
}

// BuildRecordStore defines operations for persisted build results.
type BuildRecordStore interface {
	// Create stores a new build record.
	Create(ctx context.Context, record *models.BuildRecord) error
	// Get retrieves a build record by ID.
	Get(ctx context.Context, id string) (*models.BuildRecord, error)
	// ListByConfiguration retrieves all records of a configuration, newest first.
	ListByConfiguration(ctx context.Context, configurationID int) ([]*models.BuildRecord, error)
	// GetLatestSuccessful retrieves the newest SUCCESS record of a configuration.
	GetLatestSuccessful(ctx context.Context, configurationID int) (*models.BuildRecord, error)
}

// ProductVersionStore defines operations for product versions.
type ProductVersionStore interface {
	Create(ctx context.Context, version *models.ProductVersion) error
	Get(ctx context.Context, id int) (*models.ProductVersion, error)
	Update(ctx context.Context, version *models.ProductVersion) error
}

// MilestoneStore defines operations for product milestones.
type MilestoneStore interface {
	Create(ctx context.Context, milestone *models.ProductMilestone) error
	Get(ctx context.Context, id int) (*models.ProductMilestone, error)
	Update(ctx context.Context, milestone *models.ProductMilestone) error
}

// ReleaseStore defines operations for milestone releases.
type ReleaseStore interface {
	// NextID allocates a new release identifier.
	NextID(ctx context.Context) (int64, error)
	// Create stores a new release. The ID must already be allocated.
	Create(ctx context.Context, release *models.ProductMilestoneRelease) error
	// Get retrieves a release by ID.
	Get(ctx context.Context, id int64) (*models.ProductMilestoneRelease, error)
	// Update updates status and end date of an existing release.
	Update(ctx context.Context, release *models.ProductMilestoneRelease) error
	// FindLatestByMilestone retrieves the newest release of a milestone.
	// Returns ErrNotFound when the milestone has never been released.
	FindLatestByMilestone(ctx context.Context, milestoneID int) (*models.ProductMilestoneRelease, error)
}

// PushResultStore defines operations for build push results.
type PushResultStore interface {
	// Create stores a new push result and assigns its ID.
	Create(ctx context.Context, result *models.BuildRecordPushResult) error
	// ListByRelease retrieves all push results of a release.
	ListByRelease(ctx context.Context, releaseID int64) ([]*models.BuildRecordPushResult, error)
}

// Store is the main interface for database operations.
type Store interface {
	// Configurations returns the ConfigurationStore.
	Configurations() ConfigurationStore
	// BuildRecords returns the BuildRecordStore.
	BuildRecords() BuildRecordStore
	// Versions returns the ProductVersionStore.
	Versions() ProductVersionStore
	// Milestones returns the MilestoneStore.
	Milestones() MilestoneStore
	// Releases returns the ReleaseStore.
	Releases() ReleaseStore
	// PushResults returns the PushResultStore.
	PushResults() PushResultStore

	// WithTx executes the given function within a database transaction.
	// If the function returns an error, the transaction is rolled back.
	// Otherwise, the transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error

	// Ping verifies the backing database is reachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
