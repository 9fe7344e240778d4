package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/narvanalabs/buildgraph/internal/models"
)

// ReleaseStore implements store.ReleaseStore using PostgreSQL.
type ReleaseStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

func (s *ReleaseStore) conn() queryable {
	return conn(s.db, s.tx)
}

// NextID allocates a release identifier from milestone_release_id_seq.
func (s *ReleaseStore) NextID(ctx context.Context) (int64, error) {
	var id int64
	if err := s.conn().QueryRowContext(ctx, `SELECT nextval('milestone_release_id_seq')`).Scan(&id); err != nil {
		return 0, fmt.Errorf("allocating release id: %w", err)
	}
	return id, nil
}

// Create creates a new release.
func (s *ReleaseStore) Create(ctx context.Context, r *models.ProductMilestoneRelease) error {
	query := `
		INSERT INTO milestone_releases (id, milestone_id, status, engine, starting_date, end_date)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.conn().ExecContext(ctx, query,
		r.ID, r.MilestoneID, r.Status, r.Engine, r.StartingDate, r.EndDate)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("inserting milestone release: %w", err)
	}
	return nil
}

// Get retrieves a release by ID.
func (s *ReleaseStore) Get(ctx context.Context, id int64) (*models.ProductMilestoneRelease, error) {
	query := `
		SELECT id, milestone_id, status, engine, starting_date, end_date
		FROM milestone_releases
		WHERE id = $1`
	return s.queryOne(ctx, query, id)
}

// Update updates status and end date of a release.
func (s *ReleaseStore) Update(ctx context.Context, r *models.ProductMilestoneRelease) error {
	query := `UPDATE milestone_releases SET status = $2, end_date = $3 WHERE id = $1`

	result, err := s.conn().ExecContext(ctx, query, r.ID, r.Status, r.EndDate)
	if err != nil {
		return fmt.Errorf("updating milestone release: %w", err)
	}
	return requireOneRow(result)
}

// FindLatestByMilestone retrieves the newest release of a milestone.
// The row is locked for the rest of the transaction when called inside WithTx.
func (s *ReleaseStore) FindLatestByMilestone(ctx context.Context, milestoneID int) (*models.ProductMilestoneRelease, error) {
	query := `
		SELECT id, milestone_id, status, engine, starting_date, end_date
		FROM milestone_releases
		WHERE milestone_id = $1
		ORDER BY starting_date DESC, id DESC
		LIMIT 1`
	if s.tx != nil {
		query += ` FOR UPDATE`
	}
	return s.queryOne(ctx, query, milestoneID)
}

func (s *ReleaseStore) queryOne(ctx context.Context, query string, arg any) (*models.ProductMilestoneRelease, error) {
	r := &models.ProductMilestoneRelease{}
	var end sql.NullTime
	err := s.conn().QueryRowContext(ctx, query, arg).Scan(
		&r.ID, &r.MilestoneID, &r.Status, &r.Engine, &r.StartingDate, &end)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying milestone release: %w", err)
	}
	if end.Valid {
		r.EndDate = &end.Time
	}
	return r, nil
}

// PushResultStore implements store.PushResultStore using PostgreSQL.
type PushResultStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

func (s *PushResultStore) conn() queryable {
	return conn(s.db, s.tx)
}

// Create creates a new push result and assigns its ID.
func (s *PushResultStore) Create(ctx context.Context, p *models.BuildRecordPushResult) error {
	query := `
		INSERT INTO build_record_push_results (build_record_id, status, brew_build_id,
			brew_build_url, tag_prefix, milestone_release_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	err := s.conn().QueryRowContext(ctx, query,
		p.BuildRecordID, p.Status, p.BrewBuildID, p.BrewBuildURL, p.TagPrefix, p.MilestoneReleaseID,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("inserting push result: %w", err)
	}
	return nil
}

// ListByRelease retrieves all push results of a release.
func (s *PushResultStore) ListByRelease(ctx context.Context, releaseID int64) ([]*models.BuildRecordPushResult, error) {
	query := `
		SELECT id, build_record_id, status, brew_build_id, brew_build_url, tag_prefix, milestone_release_id
		FROM build_record_push_results
		WHERE milestone_release_id = $1
		ORDER BY id`

	rows, err := s.conn().QueryContext(ctx, query, releaseID)
	if err != nil {
		return nil, fmt.Errorf("querying push results: %w", err)
	}
	defer rows.Close()

	var results []*models.BuildRecordPushResult
	for rows.Next() {
		p := &models.BuildRecordPushResult{}
		if err := rows.Scan(&p.ID, &p.BuildRecordID, &p.Status, &p.BrewBuildID,
			&p.BrewBuildURL, &p.TagPrefix, &p.MilestoneReleaseID); err != nil {
			return nil, fmt.Errorf("scanning push result: %w", err)
		}
		results = append(results, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating push results: %w", err)
	}
	return results, nil
}
