// Package memory provides an in-memory implementation of the store interfaces.
// It is used in development mode and by unit tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/narvanalabs/buildgraph/internal/models"
	"github.com/narvanalabs/buildgraph/internal/store"
)

type tables struct {
	configurations map[int]*models.BuildConfiguration
	records        map[string]*models.BuildRecord
	versions       map[int]*models.ProductVersion
	milestones     map[int]*models.ProductMilestone
	releases       map[int64]*models.ProductMilestoneRelease
	pushResults    map[int64]*models.BuildRecordPushResult
	releaseSeq     int64
	pushSeq        int64
}

func newTables() *tables {
	return &tables{
		configurations: make(map[int]*models.BuildConfiguration),
		records:        make(map[string]*models.BuildRecord),
		versions:       make(map[int]*models.ProductVersion),
		milestones:     make(map[int]*models.ProductMilestone),
		releases:       make(map[int64]*models.ProductMilestoneRelease),
		pushResults:    make(map[int64]*models.BuildRecordPushResult),
	}
}

// undoLog reverts the writes of one transaction. Writes made outside the
// transaction are left alone.
type undoLog struct {
	steps []func()
}

// track records how to restore key in m. It must be called with the store
// lock held, before m is written. A nil log tracks nothing.
func track[K comparable, V any](u *undoLog, m map[K]V, key K) {
	if u == nil {
		return
	}
	prev, existed := m[key]
	u.steps = append(u.steps, func() {
		if existed {
			m[key] = prev
		} else {
			delete(m, key)
		}
	})
}

// Store implements store.Store in memory.
type Store struct {
	mu   sync.RWMutex
	txMu sync.Mutex
	t    *tables
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{t: newTables()}
}

func (s *Store) Configurations() store.ConfigurationStore { return &configurationStore{s: s} }
func (s *Store) BuildRecords() store.BuildRecordStore     { return &buildRecordStore{s: s} }
func (s *Store) Versions() store.ProductVersionStore      { return &versionStore{s: s} }
func (s *Store) Milestones() store.MilestoneStore         { return &milestoneStore{s: s} }
func (s *Store) Releases() store.ReleaseStore             { return &releaseStore{s: s} }
func (s *Store) PushResults() store.PushResultStore       { return &pushResultStore{s: s} }

// WithTx runs fn with transactions serialized against each other. When fn
// fails the writes it made are undone in reverse order. Sequences are not
// rewound, as in PostgreSQL.
func (s *Store) WithTx(ctx context.Context, fn func(store.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &txStore{Store: s, undo: &undoLog{}}
	if err := fn(tx); err != nil {
		s.mu.Lock()
		for i := len(tx.undo.steps) - 1; i >= 0; i-- {
			tx.undo.steps[i]()
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// txStore is the view handed to WithTx callbacks; nested WithTx calls join
// the running transaction.
type txStore struct {
	*Store
	undo *undoLog
}

func (s *txStore) Configurations() store.ConfigurationStore {
	return &configurationStore{s: s.Store, undo: s.undo}
}
func (s *txStore) BuildRecords() store.BuildRecordStore {
	return &buildRecordStore{s: s.Store, undo: s.undo}
}
func (s *txStore) Versions() store.ProductVersionStore {
	return &versionStore{s: s.Store, undo: s.undo}
}
func (s *txStore) Milestones() store.MilestoneStore {
	return &milestoneStore{s: s.Store, undo: s.undo}
}
func (s *txStore) Releases() store.ReleaseStore {
	return &releaseStore{s: s.Store, undo: s.undo}
}
func (s *txStore) PushResults() store.PushResultStore {
	return &pushResultStore{s: s.Store, undo: s.undo}
}

func (s *txStore) WithTx(ctx context.Context, fn func(store.Store) error) error {
	return fn(s)
}

type configurationStore struct {
	s    *Store
	undo *undoLog
}

func (c *configurationStore) Create(ctx context.Context, cfg *models.BuildConfiguration) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if _, exists := c.s.t.configurations[cfg.ID]; exists {
		return fmt.Errorf("configuration %d: %w", cfg.ID, store.ErrDuplicateKey)
	}
	cp := *cfg
	cp.Dependencies = append([]int(nil), cfg.Dependencies...)
	track(c.undo, c.s.t.configurations, cfg.ID)
	c.s.t.configurations[cfg.ID] = &cp
	return nil
}

func (c *configurationStore) Get(ctx context.Context, id int) (*models.BuildConfiguration, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	cfg, ok := c.s.t.configurations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *cfg
	cp.Dependencies = append([]int(nil), cfg.Dependencies...)
	return &cp, nil
}

func (c *configurationStore) List(ctx context.Context) ([]*models.BuildConfiguration, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	out := make([]*models.BuildConfiguration, 0, len(c.s.t.configurations))
	for _, cfg := range c.s.t.configurations {
		cp := *cfg
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type buildRecordStore struct {
	s    *Store
	undo *undoLog
}

func (b *buildRecordStore) Create(ctx context.Context, record *models.BuildRecord) error {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	if _, exists := b.s.t.records[record.ID]; exists {
		return fmt.Errorf("build record %s: %w", record.ID, store.ErrDuplicateKey)
	}
	cp := *record
	track(b.undo, b.s.t.records, record.ID)
	b.s.t.records[record.ID] = &cp
	return nil
}

func (b *buildRecordStore) Get(ctx context.Context, id string) (*models.BuildRecord, error) {
	b.s.mu.RLock()
	defer b.s.mu.RUnlock()
	r, ok := b.s.t.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (b *buildRecordStore) ListByConfiguration(ctx context.Context, configurationID int) ([]*models.BuildRecord, error) {
	b.s.mu.RLock()
	defer b.s.mu.RUnlock()
	var out []*models.BuildRecord
	for _, r := range b.s.t.records {
		if r.ConfigurationID == configurationID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmitTime.After(out[j].SubmitTime) })
	return out, nil
}

func (b *buildRecordStore) GetLatestSuccessful(ctx context.Context, configurationID int) (*models.BuildRecord, error) {
	records, err := b.ListByConfiguration(ctx, configurationID)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if r.Status == models.BuildStatusSuccess {
			return r, nil
		}
	}
	return nil, store.ErrNotFound
}

type versionStore struct {
	s    *Store
	undo *undoLog
}

func (v *versionStore) Create(ctx context.Context, version *models.ProductVersion) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	cp := *version
	track(v.undo, v.s.t.versions, version.ID)
	v.s.t.versions[version.ID] = &cp
	return nil
}

func (v *versionStore) Get(ctx context.Context, id int) (*models.ProductVersion, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	pv, ok := v.s.t.versions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *pv
	return &cp, nil
}

func (v *versionStore) Update(ctx context.Context, version *models.ProductVersion) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if _, ok := v.s.t.versions[version.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *version
	track(v.undo, v.s.t.versions, version.ID)
	v.s.t.versions[version.ID] = &cp
	return nil
}

type milestoneStore struct {
	s    *Store
	undo *undoLog
}

func (m *milestoneStore) Create(ctx context.Context, milestone *models.ProductMilestone) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cp := *milestone
	track(m.undo, m.s.t.milestones, milestone.ID)
	m.s.t.milestones[milestone.ID] = &cp
	return nil
}

func (m *milestoneStore) Get(ctx context.Context, id int) (*models.ProductMilestone, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	pm, ok := m.s.t.milestones[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *pm
	return &cp, nil
}

func (m *milestoneStore) Update(ctx context.Context, milestone *models.ProductMilestone) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.t.milestones[milestone.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *milestone
	track(m.undo, m.s.t.milestones, milestone.ID)
	m.s.t.milestones[milestone.ID] = &cp
	return nil
}

type releaseStore struct {
	s    *Store
	undo *undoLog
}

func (r *releaseStore) NextID(ctx context.Context) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.t.releaseSeq++
	return r.s.t.releaseSeq, nil
}

func (r *releaseStore) Create(ctx context.Context, release *models.ProductMilestoneRelease) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.t.releases[release.ID]; exists {
		return fmt.Errorf("release %d: %w", release.ID, store.ErrDuplicateKey)
	}
	if release.ID > r.s.t.releaseSeq {
		r.s.t.releaseSeq = release.ID
	}
	cp := *release
	track(r.undo, r.s.t.releases, release.ID)
	r.s.t.releases[release.ID] = &cp
	return nil
}

func (r *releaseStore) Get(ctx context.Context, id int64) (*models.ProductMilestoneRelease, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	rel, ok := r.s.t.releases[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *rel
	return &cp, nil
}

func (r *releaseStore) Update(ctx context.Context, release *models.ProductMilestoneRelease) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.t.releases[release.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *release
	track(r.undo, r.s.t.releases, release.ID)
	r.s.t.releases[release.ID] = &cp
	return nil
}

func (r *releaseStore) FindLatestByMilestone(ctx context.Context, milestoneID int) (*models.ProductMilestoneRelease, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var latest *models.ProductMilestoneRelease
	for _, rel := range r.s.t.releases {
		if rel.MilestoneID != milestoneID {
			continue
		}
		if latest == nil || rel.StartingDate.After(latest.StartingDate) ||
			(rel.StartingDate.Equal(latest.StartingDate) && rel.ID > latest.ID) {
			latest = rel
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

type pushResultStore struct {
	s    *Store
	undo *undoLog
}

func (p *pushResultStore) Create(ctx context.Context, result *models.BuildRecordPushResult) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	p.s.t.pushSeq++
	result.ID = p.s.t.pushSeq
	cp := *result
	track(p.undo, p.s.t.pushResults, result.ID)
	p.s.t.pushResults[result.ID] = &cp
	return nil
}

func (p *pushResultStore) ListByRelease(ctx context.Context, releaseID int64) ([]*models.BuildRecordPushResult, error) {
	p.s.mu.RLock()
	defer p.s.mu.RUnlock()
	var out []*models.BuildRecordPushResult
	for _, r := range p.s.t.pushResults {
		if r.MilestoneReleaseID == releaseID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
