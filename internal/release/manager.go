// Package release orchestrates milestone releases on the external workflow
// engine and records their outcome.
package release

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/narvanalabs/buildgraph/internal/events"
	"github.com/narvanalabs/buildgraph/internal/models"
	"github.com/narvanalabs/buildgraph/internal/process"
	"github.com/narvanalabs/buildgraph/internal/store"
)

// Errors returned by the Manager.
var (
	ErrMilestoneNotFound = errors.New("milestone not found")
	ErrReleaseInProgress = errors.New("milestone release already in progress")
	ErrReleaseCompleted  = errors.New("milestone release already completed")
	// ErrNoEntity means a milestone has no release record although the
	// operation requires one.
	ErrNoEntity      = errors.New("milestone release not found")
	ErrUnknownEngine = errors.New("unknown workflow engine")
)

// Engine binds a workflow engine name to its connector and release process.
type Engine struct {
	Name      string
	Connector process.Connector
	ProcessID string
}

// Options configures a Manager.
type Options struct {
	DefaultEngine string
	// CallbackURL is handed to the workflow engine for reporting the outcome.
	CallbackURL string
}

// StartRequest starts a release of one milestone.
type StartRequest struct {
	MilestoneID int
	// Credential is the caller's bearer token, forwarded to the engine.
	Credential string
	// ReleaseID is allocated from the store when zero.
	ReleaseID int64
	// Engine overrides the default engine when set.
	Engine string
}

// Manager starts, cancels and completes milestone releases. Operations on
// the same milestone are serialized; writes made while completing or
// cancelling run in one store transaction.
type Manager struct {
	store         store.Store
	publisher     events.Publisher
	engines       map[string]Engine
	defaultEngine string
	callbackURL   string
	locks         *milestoneLocks
	logger        *slog.Logger
	userLog       *slog.Logger
	now           func() time.Time
}

// NewManager creates a Manager over the given engines.
func NewManager(st store.Store, publisher events.Publisher, engines []Engine, opts Options, log *slog.Logger) (*Manager, error) {
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{
		store:         st,
		publisher:     publisher,
		engines:       make(map[string]Engine, len(engines)),
		defaultEngine: opts.DefaultEngine,
		callbackURL:   opts.CallbackURL,
		locks:         newMilestoneLocks(),
		logger:        log.With("component", "release_manager"),
		userLog:       log.With("component", "userlog", "topic", "milestone"),
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, e := range engines {
		m.engines[e.Name] = e
	}
	if _, ok := m.engines[m.defaultEngine]; !ok {
		return nil, fmt.Errorf("%w: default engine %q", ErrUnknownEngine, m.defaultEngine)
	}
	return m, nil
}

// StartRelease starts the release workflow of a milestone. The returned
// release is persisted either IN_PROGRESS or, when the engine could not be
// invoked, SYSTEM_ERROR with an end date; the latter is not an error.
func (m *Manager) StartRelease(ctx context.Context, req StartRequest) (*models.ProductMilestoneRelease, error) {
	m.locks.Lock(req.MilestoneID)
	defer m.locks.Unlock(req.MilestoneID)

	milestone, err := m.milestone(ctx, m.store, req.MilestoneID)
	if err != nil {
		return nil, err
	}

	engine, err := m.engine(req.Engine)
	if err != nil {
		return nil, err
	}

	inProgress, err := m.inProgress(ctx, m.store, req.MilestoneID)
	if err != nil {
		return nil, err
	}
	if inProgress != nil {
		return nil, fmt.Errorf("%w: release %d of milestone %d", ErrReleaseInProgress, inProgress.ID, req.MilestoneID)
	}

	releaseID := req.ReleaseID
	if releaseID == 0 {
		if releaseID, err = m.store.Releases().NextID(ctx); err != nil {
			return nil, fmt.Errorf("allocating release id: %w", err)
		}
	}

	release := &models.ProductMilestoneRelease{
		ID:           releaseID,
		MilestoneID:  milestone.ID,
		Engine:       engine.Name,
		StartingDate: m.now(),
	}
	log := m.logger.With("milestone_id", milestone.ID, "release_id", releaseID, "engine", engine.Name)

	correlationID := process.CorrelationID(releaseID)
	err = engine.Connector.StartProcess(ctx, process.Request{
		ProcessID:     engine.ProcessID,
		Parameters:    m.processParameters(milestone, releaseID, correlationID),
		CorrelationID: correlationID,
		Credential:    req.Credential,
	})
	if err != nil {
		end := m.now()
		release.Status = models.ReleaseSystemError
		release.EndDate = &end
		log.Error("failed to start release process", "error", err)
		m.userLog.Error("Release process creation failed.", "milestone_id", milestone.ID, "error", err)
	} else {
		release.Status = models.ReleaseInProgress
		log.Info("release process started", "correlation_id", correlationID)
		m.userLog.Info("Release process started.", "milestone_id", milestone.ID)
	}

	err = m.store.WithTx(ctx, func(tx store.Store) error {
		return tx.Releases().Create(ctx, release)
	})
	if err != nil {
		return nil, fmt.Errorf("saving release %d: %w", releaseID, err)
	}

	m.publish(release)
	return release, nil
}

func (m *Manager) processParameters(milestone *models.ProductMilestone, releaseID int64, correlationID string) map[string]any {
	params := map[string]any{
		"milestoneId":      milestone.ID,
		"milestoneVersion": milestone.Version,
		"releaseId":        correlationID,
		"releaseNumber":    releaseID,
	}
	if m.callbackURL != "" {
		params["callbackUrl"] = m.callbackURL
	}
	return params
}

// Cancel asks the engine to cancel the latest release of a milestone and
// marks it CANCELED without waiting for the engine. A late completion
// callback for the release is then rejected with ErrReleaseCompleted.
func (m *Manager) Cancel(ctx context.Context, milestoneID int, credential string) (*models.ProductMilestoneRelease, error) {
	m.locks.Lock(milestoneID)
	defer m.locks.Unlock(milestoneID)

	if _, err := m.milestone(ctx, m.store, milestoneID); err != nil {
		return nil, err
	}

	release, err := m.latest(ctx, m.store, milestoneID)
	if err != nil {
		return nil, err
	}
	if release.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: release %d is %s", ErrReleaseCompleted, release.ID, release.Status)
	}

	m.cancelExternal(ctx, release, credential)

	var cancelled *models.ProductMilestoneRelease
	err = m.store.WithTx(ctx, func(tx store.Store) error {
		current, err := m.latest(ctx, tx, milestoneID)
		if err != nil {
			return err
		}
		if current.ID != release.ID || current.Status.IsTerminal() {
			return fmt.Errorf("%w: release %d is %s", ErrReleaseCompleted, current.ID, current.Status)
		}

		end := m.now()
		current.Status = models.ReleaseCanceled
		current.EndDate = &end
		if err := tx.Releases().Update(ctx, current); err != nil {
			return fmt.Errorf("saving release %d: %w", current.ID, err)
		}
		cancelled = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("release cancelled", "milestone_id", milestoneID, "release_id", cancelled.ID)
	m.userLog.Info("Release cancelled.", "milestone_id", milestoneID)
	m.publish(cancelled)
	return cancelled, nil
}

// cancelExternal is best effort: failures are logged and the local record is
// cancelled regardless.
func (m *Manager) cancelExternal(ctx context.Context, release *models.ProductMilestoneRelease, credential string) {
	engine, err := m.engine(release.Engine)
	if err != nil {
		m.logger.Warn("release engine no longer configured, using default", "release_id", release.ID, "engine", release.Engine)
		engine = m.engines[m.defaultEngine]
	}
	if err := engine.Connector.CancelByCorrelation(ctx, process.CorrelationID(release.ID), credential); err != nil {
		m.logger.Warn("workflow engine did not accept cancellation", "release_id", release.ID, "error", err)
	}
}

// NoReleaseInProgress reports whether the milestone has no running release.
func (m *Manager) NoReleaseInProgress(ctx context.Context, milestoneID int) (bool, error) {
	release, err := m.GetInProgress(ctx, milestoneID)
	if err != nil {
		return false, err
	}
	return release == nil, nil
}

// GetInProgress returns the running release of a milestone, or nil.
func (m *Manager) GetInProgress(ctx context.Context, milestoneID int) (*models.ProductMilestoneRelease, error) {
	return m.inProgress(ctx, m.store, milestoneID)
}

// Latest returns the newest release of a milestone with its push results.
func (m *Manager) Latest(ctx context.Context, milestoneID int) (*models.ProductMilestoneRelease, []*models.BuildRecordPushResult, error) {
	release, err := m.latest(ctx, m.store, milestoneID)
	if err != nil {
		return nil, nil, err
	}
	results, err := m.store.PushResults().ListByRelease(ctx, release.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("listing push results of release %d: %w", release.ID, err)
	}
	return release, results, nil
}

// OnReleaseCompleted stores the outcome reported by the workflow engine.
//
// A result for an unknown milestone is logged and dropped. A milestone
// without a release record yields ErrNoEntity, a release already terminal
// ErrReleaseCompleted. An unmapped status fails the whole result and nothing
// is written.
func (m *Manager) OnReleaseCompleted(ctx context.Context, result models.MilestoneReleaseResult) error {
	m.locks.Lock(result.MilestoneID)
	defer m.locks.Unlock(result.MilestoneID)

	log := m.logger.With("milestone_id", result.MilestoneID)
	log.Debug("storing milestone release result", "release_status", result.ReleaseStatus, "builds", len(result.Builds))

	milestone, err := m.milestone(ctx, m.store, result.MilestoneID)
	if errors.Is(err, ErrMilestoneNotFound) {
		log.Error("no milestone found for release result, dropping it")
		return nil
	}
	if err != nil {
		return err
	}

	status, err := result.ReleaseStatus.MilestoneReleaseStatus()
	if err != nil {
		log.Error("cannot convert release status", "error", err)
		return err
	}

	var stored *models.ProductMilestoneRelease
	err = m.store.WithTx(ctx, func(tx store.Store) error {
		release, err := m.latest(ctx, tx, milestone.ID)
		if err != nil {
			return err
		}
		if release.Status.IsTerminal() {
			return fmt.Errorf("%w: release %d is %s", ErrReleaseCompleted, release.ID, release.Status)
		}

		end := m.now()
		release.Status = status
		release.EndDate = &end
		if err := tx.Releases().Update(ctx, release); err != nil {
			return fmt.Errorf("saving release %d: %w", release.ID, err)
		}

		for _, build := range result.Builds {
			if err := m.storePushResult(ctx, tx, release, build); err != nil {
				return err
			}
		}

		if status == models.ReleaseSucceeded {
			if err := m.closeMilestone(ctx, tx, milestone, end); err != nil {
				return err
			}
		}
		stored = release
		return nil
	})
	if err != nil {
		log.Error("failed to store milestone release result", "error", err)
		return err
	}

	log.Info("milestone release finished", "release_id", stored.ID, "status", stored.Status)
	m.userLog.Info("Milestone release result stored.", "milestone_id", milestone.ID, "status", stored.Status)
	m.publish(stored)
	return nil
}

func (m *Manager) storePushResult(ctx context.Context, tx store.Store, release *models.ProductMilestoneRelease, build models.BuildImportResult) error {
	if _, err := tx.BuildRecords().Get(ctx, build.BuildRecordID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			m.logger.Error("no build record found, skipping push result",
				"build_record_id", build.BuildRecordID, "release_id", release.ID)
			return nil
		}
		return fmt.Errorf("loading build record %s: %w", build.BuildRecordID, err)
	}

	status, err := build.Status.PushStatus()
	if err != nil {
		return fmt.Errorf("converting import status of build record %s: %w", build.BuildRecordID, err)
	}

	push := &models.BuildRecordPushResult{
		BuildRecordID:      build.BuildRecordID,
		Status:             status,
		BrewBuildID:        build.BrewBuildID,
		BrewBuildURL:       build.BrewBuildURL,
		MilestoneReleaseID: release.ID,
	}
	if err := tx.PushResults().Create(ctx, push); err != nil {
		return fmt.Errorf("saving push result of build record %s: %w", build.BuildRecordID, err)
	}
	return nil
}

// closeMilestone ends a released milestone and stops it from being the
// current milestone of its product version.
func (m *Manager) closeMilestone(ctx context.Context, tx store.Store, milestone *models.ProductMilestone, end time.Time) error {
	milestone.EndDate = &end
	if err := tx.Milestones().Update(ctx, milestone); err != nil {
		return fmt.Errorf("saving milestone %d: %w", milestone.ID, err)
	}

	version, err := tx.Versions().Get(ctx, milestone.ProductVersionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("loading product version %d: %w", milestone.ProductVersionID, err)
	}
	if version.CurrentMilestoneID == nil || *version.CurrentMilestoneID != milestone.ID {
		return nil
	}
	version.CurrentMilestoneID = nil
	if err := tx.Versions().Update(ctx, version); err != nil {
		return fmt.Errorf("saving product version %d: %w", version.ID, err)
	}
	return nil
}

func (m *Manager) milestone(ctx context.Context, st store.Store, id int) (*models.ProductMilestone, error) {
	milestone, err := st.Milestones().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrMilestoneNotFound, id)
		}
		return nil, fmt.Errorf("loading milestone %d: %w", id, err)
	}
	return milestone, nil
}

func (m *Manager) latest(ctx context.Context, st store.Store, milestoneID int) (*models.ProductMilestoneRelease, error) {
	release, err := st.Releases().FindLatestByMilestone(ctx, milestoneID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: milestone %d", ErrNoEntity, milestoneID)
		}
		return nil, fmt.Errorf("loading latest release of milestone %d: %w", milestoneID, err)
	}
	return release, nil
}

func (m *Manager) inProgress(ctx context.Context, st store.Store, milestoneID int) (*models.ProductMilestoneRelease, error) {
	release, err := m.latest(ctx, st, milestoneID)
	if errors.Is(err, ErrNoEntity) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if release.Status != models.ReleaseInProgress {
		return nil, nil
	}
	return release, nil
}

func (m *Manager) engine(name string) (Engine, error) {
	if name == "" {
		name = m.defaultEngine
	}
	e, ok := m.engines[name]
	if !ok {
		return Engine{}, fmt.Errorf("%w: %q", ErrUnknownEngine, name)
	}
	return e, nil
}

func (m *Manager) publish(release *models.ProductMilestoneRelease) {
	cp := *release
	m.publisher.Publish(events.Event{Type: events.MilestoneReleaseChanged, Release: &cp})
}
