// Package coordinator schedules build tasks over the configuration dependency
// graph. Tasks live in an arena addressed by id; each task guards its own
// edges so unrelated completions never contend on a global lock.
//
// Lock order: the arena lock may be held while taking a task or set lock,
// never the reverse, and no code path holds two task locks at once.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/narvanalabs/buildgraph/internal/events"
	"github.com/narvanalabs/buildgraph/internal/models"
	"github.com/narvanalabs/buildgraph/internal/store"
	"github.com/narvanalabs/buildgraph/internal/validation"
	"github.com/narvanalabs/buildgraph/pkg/logger"
)

// Executor is the external build executor. Dispatch must return once the
// request is accepted; completion is reported later through CompleteBuild.
type Executor interface {
	Dispatch(ctx context.Context, req *models.DispatchRequest) error
	Cancel(ctx context.Context, taskID string) error
}

// RebuildMode controls whether prerequisites with a successful build are rebuilt.
type RebuildMode string

const (
	// RebuildIfNeeded skips prerequisites that already have a successful
	// build record and whose own prerequisites are not being rebuilt.
	RebuildIfNeeded RebuildMode = "IF_NEEDED"
	// RebuildForce builds every configuration in the closure.
	RebuildForce RebuildMode = "FORCE"
)

// SubmitRequest asks for a build of one configuration and its prerequisites.
type SubmitRequest struct {
	ConfigurationID int
	User            string
	Kind            models.BuildExecutionKind
	TemporaryBuild  bool
	Rebuild         RebuildMode
}

// SubmitSetRequest asks for a build of several configurations as one set.
type SubmitSetRequest struct {
	ConfigurationIDs []int
	User             string
	Kind             models.BuildExecutionKind
	TemporaryBuild   bool
	Rebuild          RebuildMode
}

// Options configures a Coordinator.
type Options struct {
	MaxConcurrentDispatches int
	DispatchTimeout         time.Duration
	RetainCompleted         time.Duration
	TemporaryBuildLifespan  time.Duration
	// CallbackBaseURL is the externally reachable base URL of the API; the
	// executor reports completion to <base>/v1/build-tasks/{id}/completed.
	CallbackBaseURL string
}

// DefaultOptions returns Options with development defaults.
func DefaultOptions() Options {
	return Options{
		MaxConcurrentDispatches: 8,
		DispatchTimeout:         30 * time.Second,
		RetainCompleted:         time.Hour,
		TemporaryBuildLifespan:  14 * 24 * time.Hour,
	}
}

// Coordinator accepts submissions, wires dependency edges, dispatches ready
// tasks and merges completion callbacks.
type Coordinator struct {
	store     store.Store
	executor  Executor
	publisher events.Publisher
	validator *validation.DependencyValidator
	logger    *slog.Logger
	userLog   *slog.Logger
	opts      Options
	sem       *semaphore.Weighted
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu             sync.RWMutex
	tasks          map[string]*BuildTask
	sets           map[string]*BuildSetTask
	activeByConfig map[int]string
}

// New creates a Coordinator.
func New(st store.Store, executor Executor, publisher events.Publisher, opts Options, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	if opts.MaxConcurrentDispatches < 1 {
		opts.MaxConcurrentDispatches = 1
	}
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = DefaultOptions().DispatchTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		store:          st,
		executor:       executor,
		publisher:      publisher,
		validator:      validation.NewDependencyValidator(log),
		logger:         log.With("component", "coordinator"),
		userLog:        log.With("component", "userlog"),
		opts:           opts,
		sem:            semaphore.NewWeighted(int64(opts.MaxConcurrentDispatches)),
		now:            func() time.Time { return time.Now().UTC() },
		ctx:            ctx,
		cancel:         cancel,
		tasks:          make(map[string]*BuildTask),
		sets:           make(map[string]*BuildSetTask),
		activeByConfig: make(map[int]string),
	}
}

// Submit builds one configuration together with the prerequisites that need
// building. The returned set holds the tasks created by this submission.
func (c *Coordinator) Submit(ctx context.Context, req SubmitRequest) (*BuildSetTask, error) {
	return c.SubmitSet(ctx, SubmitSetRequest{
		ConfigurationIDs: []int{req.ConfigurationID},
		User:             req.User,
		Kind:             req.Kind,
		TemporaryBuild:   req.TemporaryBuild,
		Rebuild:          req.Rebuild,
	})
}

// SubmitSet builds several configurations as one set.
//
// Requested configurations are always built; a requested configuration that
// already has an active task is rejected with a *BuildConflictError. Active
// tasks of other sets are reused as prerequisites. Tasks with no unmet
// prerequisites are dispatched before SubmitSet returns, so a dispatch
// failure is visible as SYSTEM_ERROR on the returned set.
func (c *Coordinator) SubmitSet(ctx context.Context, req SubmitSetRequest) (*BuildSetTask, error) {
	if len(req.ConfigurationIDs) == 0 {
		return nil, fmt.Errorf("%w: no configurations", ErrInvalidRequest)
	}
	if req.Kind == "" {
		req.Kind = models.KindRegular
	}
	if !req.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown build kind %q", ErrInvalidRequest, req.Kind)
	}
	switch req.Rebuild {
	case "":
		req.Rebuild = RebuildIfNeeded
	case RebuildIfNeeded, RebuildForce:
	default:
		return nil, fmt.Errorf("%w: unknown rebuild mode %q", ErrInvalidRequest, req.Rebuild)
	}

	configs, err := c.loadClosure(ctx, req.ConfigurationIDs)
	if err != nil {
		return nil, err
	}

	graph := make(map[int][]int, len(configs))
	for id, cfg := range configs {
		graph[id] = cfg.Dependencies
	}
	order, err := c.validator.Order(graph)
	if err != nil {
		return nil, err
	}

	requested := make(map[int]bool, len(req.ConfigurationIDs))
	for _, id := range req.ConfigurationIDs {
		requested[id] = true
	}

	built := make(map[int]bool)
	if req.Rebuild == RebuildIfNeeded {
		for _, id := range order {
			if requested[id] {
				continue
			}
			_, err := c.store.BuildRecords().GetLatestSuccessful(ctx, id)
			switch {
			case err == nil:
				built[id] = true
			case !errors.Is(err, store.ErrNotFound):
				return nil, fmt.Errorf("checking previous builds of configuration %d: %w", id, err)
			}
		}
	}

	now := c.now()
	set := c.newSet(req, now)

	c.mu.Lock()
	for _, id := range req.ConfigurationIDs {
		if existing, ok := c.activeTaskLocked(id); ok {
			c.mu.Unlock()
			return nil, &BuildConflictError{ConfigurationID: id, TaskID: existing.ID}
		}
	}

	nodes := make(map[int]*BuildTask, len(order))
	var created []*BuildTask
	for _, id := range order {
		if existing, ok := c.activeTaskLocked(id); ok {
			nodes[id] = existing
			continue
		}
		needed := requested[id] || req.Rebuild == RebuildForce || !built[id]
		for _, dep := range graph[id] {
			if _, rebuilding := nodes[dep]; rebuilding {
				needed = true
			}
		}
		if !needed {
			continue
		}

		t := newBuildTask(uuid.New().String(), *configs[id], set, now)
		c.tasks[t.ID] = t
		c.activeByConfig[id] = t.ID
		set.addMember(t.ID)
		nodes[id] = t
		created = append(created, t)
	}
	c.sets[set.ID] = set
	c.mu.Unlock()

	c.logger.Info("build set submitted",
		"set_id", set.ID,
		"configurations", req.ConfigurationIDs,
		"tasks", len(created),
		"user", req.User,
	)

	for _, t := range created {
		c.notify(ctx, t, "", models.BuildStatusNew, "")
	}

	var ready []*BuildTask
	for _, t := range created {
		if c.wire(ctx, t, graph[t.Configuration.ID], nodes) {
			ready = append(ready, t)
		}
	}

	for _, t := range ready {
		if err := c.dispatch(ctx, t); err != nil {
			logger.FromContext(c.buildContext(ctx, t), c.logger).Error("build could not be dispatched",
				"task_id", t.ID, "error", err)
		}
	}

	return set, nil
}

// wire registers t as a dependent of its prerequisites and settles its
// initial status. It reports whether t is ready to be dispatched.
func (c *Coordinator) wire(ctx context.Context, t *BuildTask, deps []int, nodes map[int]*BuildTask) bool {
	var prereqs []*BuildTask
	for _, dep := range deps {
		if p, ok := nodes[dep]; ok {
			prereqs = append(prereqs, p)
		}
	}

	t.mu.Lock()
	t.requiredBuilds = make([]string, 0, len(prereqs))
	for _, p := range prereqs {
		t.requiredBuilds = append(t.requiredBuilds, p.ID)
	}
	t.mu.Unlock()

	var failedBy *BuildTask
	var failedStatus models.BuildStatus
	for _, p := range prereqs {
		status, registered := p.addWaiting(t.ID)
		switch {
		case registered:
		case status.IsSuccess():
			t.removeRequired(p.ID)
		case failedBy == nil:
			failedBy, failedStatus = p, status
		}
	}

	if failedBy != nil {
		c.setStatus(ctx, t, propagatedStatus(failedStatus), prerequisiteFailure(failedBy, failedStatus))
		return false
	}

	old, next, ok := t.settle()
	if !ok {
		return false
	}
	c.notify(ctx, t, old, next, "")
	return next == models.BuildStatusEnqueued
}

// StartBuilding dispatches a task whose prerequisites have all succeeded.
// A dispatch failure moves the task to SYSTEM_ERROR and is returned wrapped
// in ErrDispatch.
func (c *Coordinator) StartBuilding(ctx context.Context, t *BuildTask) error {
	old, ok := t.enqueue()
	if !ok {
		return fmt.Errorf("%w: task %s is %s", ErrNotStartable, t.ID, old)
	}
	c.notify(ctx, t, old, models.BuildStatusEnqueued, "")
	return c.dispatch(ctx, t)
}

// dispatch hands an ENQUEUED task to the executor.
func (c *Coordinator) dispatch(ctx context.Context, t *BuildTask) error {
	bctx := c.buildContext(ctx, t)
	log := logger.FromContext(bctx, c.logger)

	if err := c.sem.Acquire(bctx, 1); err != nil {
		c.failDispatch(bctx, t, err)
		return fmt.Errorf("%w: %v", ErrDispatch, err)
	}
	defer c.sem.Release(1)

	if t.Status() != models.BuildStatusEnqueued {
		return nil
	}

	dctx, cancel := context.WithTimeout(bctx, c.opts.DispatchTimeout)
	defer cancel()

	if err := c.executor.Dispatch(dctx, c.dispatchRequest(t)); err != nil {
		c.failDispatch(bctx, t, err)
		return fmt.Errorf("%w: %v", ErrDispatch, err)
	}

	if _, ok := c.setStatus(bctx, t, models.BuildStatusBuilding, ""); !ok && t.Status() == models.BuildStatusCancelled {
		// Cancelled while the executor was accepting it.
		if err := c.executor.Cancel(bctx, t.ID); err != nil {
			log.Warn("failed to cancel build after late dispatch", "task_id", t.ID, "error", err)
		}
	}
	log.Info("build dispatched", "task_id", t.ID, "configuration_id", t.Configuration.ID)
	return nil
}

func (c *Coordinator) failDispatch(ctx context.Context, t *BuildTask, err error) {
	logger.FromContext(ctx, c.logger).Error("failed to dispatch build",
		"task_id", t.ID,
		"configuration_id", t.Configuration.ID,
		"error", err,
	)
	logger.FromContext(ctx, c.userLog).Error("build could not be started: " + err.Error())
	c.setStatus(ctx, t, models.BuildStatusSystemError, err.Error())
}

// setStatus applies a status transition and, on completion, notifies the
// dependents: success releases them, any other outcome completes them
// transitively. It returns the previous status and whether the transition
// happened.
func (c *Coordinator) setStatus(ctx context.Context, t *BuildTask, next models.BuildStatus, description string) (models.BuildStatus, bool) {
	old, dependents, ok := t.transition(next, description, c.now())
	if !ok {
		return old, false
	}
	c.applied(ctx, t, old, next, description, dependents)
	return old, true
}

// applied publishes a transition that already happened and fans a terminal
// outcome out to dependents.
func (c *Coordinator) applied(ctx context.Context, t *BuildTask, old, next models.BuildStatus, description string, dependents []string) {
	if next.IsCompleted() {
		c.releaseConfiguration(t)
	}
	c.notify(ctx, t, old, next, description)

	if !next.IsCompleted() {
		return
	}
	for _, id := range dependents {
		dep, found := c.lookup(id)
		if !found {
			continue
		}
		if next.IsSuccess() {
			c.requiredBuildCompleted(dep, t.ID)
			continue
		}
		c.setStatus(ctx, dep, propagatedStatus(next), prerequisiteFailure(t, next))
	}
}

// requiredBuildCompleted removes a finished prerequisite from t and starts t
// in the background once nothing is left. Start failures are recorded on t
// as SYSTEM_ERROR by dispatch and never reach the completing caller.
func (c *Coordinator) requiredBuildCompleted(t *BuildTask, finishedID string) {
	if !t.removeRequired(finishedID) {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		err := c.StartBuilding(c.ctx, t)
		if err != nil && !errors.Is(err, ErrNotStartable) {
			logger.FromContext(c.buildContext(c.ctx, t), c.logger).Warn("dependent build did not start",
				"task_id", t.ID, "error", err)
		}
	}()
}

// notify forwards a status change to the owning set and the event bus.
func (c *Coordinator) notify(ctx context.Context, t *BuildTask, old, next models.BuildStatus, description string) {
	logger.FromContext(c.buildContext(ctx, t), c.logger).Debug("build task status changed",
		"task_id", t.ID,
		"configuration_id", t.Configuration.ID,
		"old_status", old,
		"new_status", next,
	)

	c.publisher.Publish(events.Event{
		Type: events.BuildStatusChanged,
		Build: &events.BuildPayload{
			TaskID:          t.ID,
			SetID:           t.SetID,
			ConfigurationID: t.Configuration.ID,
			Kind:            t.Kind,
			OldStatus:       old,
			NewStatus:       next,
			Description:     description,
			User:            t.User,
		},
	})

	set, ok := c.lookupSet(t.SetID)
	if !ok || !set.taskStatusUpdated(t.ID, next, c.now()) {
		return
	}
	status, outcome := set.Status()
	c.publisher.Publish(events.Event{
		Type: events.BuildSetStatusChanged,
		Set:  &events.SetPayload{SetID: set.ID, Status: string(status), Outcome: outcome},
	})
	if status == SetStatusDone {
		c.logger.Info("build set finished", "set_id", set.ID, "outcome", outcome)
	}
}

// CompleteBuild applies the executor's result to a task. It returns
// ErrTaskNotFound for unknown ids and ErrAlreadyCompleted when the task is
// already terminal; only the first completion or cancellation takes effect.
//
// The completion claims the task before the BuildRecord of a regular build is
// stored, and dependents are released only after the record exists. When the
// record cannot be stored the task ends SYSTEM_ERROR instead of the reported
// status, which fails its dependents.
func (c *Coordinator) CompleteBuild(ctx context.Context, taskID string, result models.BuildResult) error {
	t, ok := c.GetSubmittedBuildTask(taskID)
	if !ok {
		return ErrTaskNotFound
	}

	status, err := result.Status.BuildStatus()
	if err != nil {
		return err
	}

	if _, ok := t.claim(); !ok {
		return ErrAlreadyCompleted
	}

	bctx := c.buildContext(ctx, t)
	log := logger.FromContext(bctx, c.logger)
	now := c.now()
	description := result.Message

	var persistErr error
	switch t.Kind {
	case models.KindRegular:
		if persistErr = c.persistRecord(bctx, t, status, now, result); persistErr != nil {
			persistErr = fmt.Errorf("persisting build record: %w", persistErr)
			log.Error("failed to persist build record", "task_id", t.ID, "reported_status", status, "error", persistErr)
			status = models.BuildStatusSystemError
			description = persistErr.Error()
		}
	case models.KindExecutionOnly:
		log.Debug("execution-only build finished, no record stored", "task_id", t.ID)
	}

	old, dependents, ok := t.finish(status, description, now)
	if !ok {
		// Unreachable while the claim is held: only non-terminal tasks are claimed.
		return ErrAlreadyCompleted
	}
	c.applied(bctx, t, old, status, description, dependents)
	log.Info("build completed", "task_id", t.ID, "status", status)
	return persistErr
}

func (c *Coordinator) persistRecord(ctx context.Context, t *BuildTask, status models.BuildStatus, end time.Time, result models.BuildResult) error {
	v := t.View()
	return c.store.BuildRecords().Create(ctx, &models.BuildRecord{
		ID:              t.ID,
		ConfigurationID: t.Configuration.ID,
		Status:          status,
		SubmitTime:      t.SubmitTime,
		StartTime:       v.StartTime,
		EndTime:         &end,
		User:            t.User,
		ContentID:       t.BuildContentID,
		TemporaryBuild:  t.TemporaryBuild,
		BuildLog:        result.Log,
	})
}

// Cancel cancels a task. Racing with CompleteBuild is safe: whichever
// terminal transition happens first wins and the other call observes
// ErrAlreadyCompleted. Tasks already handed to the executor get a
// best-effort cancel request.
func (c *Coordinator) Cancel(ctx context.Context, taskID string) error {
	t, ok := c.GetSubmittedBuildTask(taskID)
	if !ok {
		return ErrTaskNotFound
	}

	bctx := c.buildContext(ctx, t)
	old, ok := c.setStatus(bctx, t, models.BuildStatusCancelled, "cancelled")
	if !ok {
		return ErrAlreadyCompleted
	}

	log := logger.FromContext(bctx, c.logger)
	log.Info("build cancelled", "task_id", t.ID, "previous_status", old)

	if old == models.BuildStatusEnqueued || old == models.BuildStatusBuilding {
		if err := c.executor.Cancel(bctx, t.ID); err != nil {
			log.Warn("executor did not acknowledge cancellation", "task_id", t.ID, "error", err)
		}
	}
	return nil
}

// GetSubmittedBuildTask looks a task up by id. Absence is a normal outcome
// for unknown or pruned tasks.
func (c *Coordinator) GetSubmittedBuildTask(id string) (*BuildTask, bool) {
	return c.lookup(id)
}

// ListActive returns the tasks that have not completed, oldest first.
func (c *Coordinator) ListActive() []*BuildTask {
	c.mu.RLock()
	active := make([]*BuildTask, 0, len(c.activeByConfig))
	for _, t := range c.tasks {
		active = append(active, t)
	}
	c.mu.RUnlock()

	out := active[:0]
	for _, t := range active {
		if !t.Status().IsCompleted() {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmitTime.Equal(out[j].SubmitTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].SubmitTime.Before(out[j].SubmitTime)
	})
	return out
}

// GetSet returns a view of a build set and its member tasks.
func (c *Coordinator) GetSet(id string) (SetView, error) {
	set, ok := c.lookupSet(id)
	if !ok {
		return SetView{}, ErrSetNotFound
	}
	return c.ViewSet(set), nil
}

// ViewSet returns a view of set including its member tasks.
func (c *Coordinator) ViewSet(set *BuildSetTask) SetView {
	v := set.view()
	for _, id := range set.Members() {
		if t, ok := c.lookup(id); ok {
			v.Tasks = append(v.Tasks, t.View())
		}
	}
	return v
}

// Prune evicts finished sets older than the retention period together with
// their tasks. It returns the number of sets evicted.
func (c *Coordinator) Prune(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for id, set := range c.sets {
		if !set.expired(now, c.opts.RetainCompleted) {
			continue
		}
		for _, tid := range set.Members() {
			delete(c.tasks, tid)
		}
		delete(c.sets, id)
		evicted++
	}
	return evicted
}

// RunPruner calls Prune every interval until ctx is done.
func (c *Coordinator) RunPruner(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Prune(c.now()); n > 0 {
				c.logger.Info("pruned finished build sets", "count", n)
			}
		}
	}
}

// Wait blocks until background dispatches of released dependents finish.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Close stops background dispatches and waits for them to return.
func (c *Coordinator) Close() error {
	c.cancel()
	c.wg.Wait()
	return nil
}

func (c *Coordinator) loadClosure(ctx context.Context, roots []int) (map[int]*models.BuildConfiguration, error) {
	configs := make(map[int]*models.BuildConfiguration)
	pending := append([]int(nil), roots...)
	for len(pending) > 0 {
		id := pending[0]
		pending = pending[1:]
		if _, seen := configs[id]; seen {
			continue
		}
		cfg, err := c.store.Configurations().Get(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: %d", ErrConfigurationNotFound, id)
			}
			return nil, fmt.Errorf("loading configuration %d: %w", id, err)
		}
		configs[id] = cfg
		pending = append(pending, cfg.Dependencies...)
	}
	return configs, nil
}

func (c *Coordinator) newSet(req SubmitSetRequest, now time.Time) *BuildSetTask {
	id := uuid.New().String()
	return &BuildSetTask{
		ID:             id,
		Kind:           req.Kind,
		User:           req.User,
		TopContentID:   "build-tree-" + id,
		ContentID:      "build-set-" + id,
		TemporaryBuild: req.TemporaryBuild,
		ExpiresAt:      models.TemporaryExpiry(now, c.opts.TemporaryBuildLifespan, req.TemporaryBuild),
		SubmitTime:     now,
		statuses:       make(map[string]models.BuildStatus),
		status:         SetStatusNew,
	}
}

// activeTaskLocked returns the non-terminal task of a configuration.
// Callers hold c.mu.
func (c *Coordinator) activeTaskLocked(configurationID int) (*BuildTask, bool) {
	t, ok := c.tasks[c.activeByConfig[configurationID]]
	if !ok || t.Status().IsCompleted() {
		return nil, false
	}
	return t, true
}

func (c *Coordinator) releaseConfiguration(t *BuildTask) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeByConfig[t.Configuration.ID] == t.ID {
		delete(c.activeByConfig, t.Configuration.ID)
	}
}

func (c *Coordinator) lookup(id string) (*BuildTask, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tasks[id]
	return t, ok
}

func (c *Coordinator) lookupSet(id string) (*BuildSetTask, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sets[id]
	return s, ok
}

func (c *Coordinator) buildContext(ctx context.Context, t *BuildTask) context.Context {
	return logger.ContextWithBuildContext(ctx, logger.BuildContext{
		ContentID:      t.BuildContentID,
		TemporaryBuild: t.TemporaryBuild,
		ExpiresAt:      t.ExpiresAt,
		UserID:         t.User,
	})
}

func (c *Coordinator) dispatchRequest(t *BuildTask) *models.DispatchRequest {
	req := &models.DispatchRequest{
		TaskID:            t.ID,
		Configuration:     t.Configuration,
		Kind:              t.Kind,
		User:              t.User,
		TopContentID:      t.TopContentID,
		BuildSetContentID: t.BuildSetContentID,
		BuildContentID:    t.BuildContentID,
		TemporaryBuild:    t.TemporaryBuild,
		CreatedAt:         c.now(),
	}
	if c.opts.CallbackBaseURL != "" {
		req.CallbackURL = CallbackURL(c.opts.CallbackBaseURL, t.ID)
	}
	return req
}

// CallbackURL returns the completion endpoint of a task under base.
func CallbackURL(base, taskID string) string {
	return strings.TrimRight(base, "/") + "/v1/build-tasks/" + taskID + "/completed"
}

// propagatedStatus is the status forced on dependents of a prerequisite that
// finished without success.
func propagatedStatus(prerequisite models.BuildStatus) models.BuildStatus {
	if prerequisite == models.BuildStatusCancelled {
		return models.BuildStatusCancelled
	}
	return models.BuildStatusFailed
}

func prerequisiteFailure(p *BuildTask, status models.BuildStatus) string {
	return fmt.Sprintf("required build %s (configuration %d) finished with %s", p.ID, p.Configuration.ID, status)
}

func buildContentID(configurationID int, taskID string) string {
	return fmt.Sprintf("build-%d-%s", configurationID, taskID)
}
