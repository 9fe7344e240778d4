package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/narvanalabs/buildgraph/internal/models"
)

// ProductVersionStore implements store.ProductVersionStore using PostgreSQL.
type ProductVersionStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

func (s *ProductVersionStore) conn() queryable {
	return conn(s.db, s.tx)
}

// Create creates a new product version.
func (s *ProductVersionStore) Create(ctx context.Context, version *models.ProductVersion) error {
	query := `
		INSERT INTO product_versions (id, version, current_milestone_id)
		VALUES ($1, $2, $3)`

	if _, err := s.conn().ExecContext(ctx, query, version.ID, version.Version, version.CurrentMilestoneID); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("inserting product version: %w", err)
	}
	return nil
}

// Get retrieves a product version by ID.
func (s *ProductVersionStore) Get(ctx context.Context, id int) (*models.ProductVersion, error) {
	query := `SELECT id, version, current_milestone_id FROM product_versions WHERE id = $1`

	version := &models.ProductVersion{}
	var current sql.NullInt64
	err := s.conn().QueryRowContext(ctx, query, id).Scan(&version.ID, &version.Version, &current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying product version: %w", err)
	}
	if current.Valid {
		c := int(current.Int64)
		version.CurrentMilestoneID = &c
	}
	return version, nil
}

// Update updates a product version.
func (s *ProductVersionStore) Update(ctx context.Context, version *models.ProductVersion) error {
	query := `UPDATE product_versions SET version = $2, current_milestone_id = $3 WHERE id = $1`

	result, err := s.conn().ExecContext(ctx, query, version.ID, version.Version, version.CurrentMilestoneID)
	if err != nil {
		return fmt.Errorf("updating product version: %w", err)
	}
	return requireOneRow(result)
}

// MilestoneStore implements store.MilestoneStore using PostgreSQL.
type MilestoneStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

func (s *MilestoneStore) conn() queryable {
	return conn(s.db, s.tx)
}

// Create creates a new milestone.
func (s *MilestoneStore) Create(ctx context.Context, m *models.ProductMilestone) error {
	query := `
		INSERT INTO product_milestones (id, version, product_version_id, starting_date,
			planned_end_date, end_date)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.conn().ExecContext(ctx, query,
		m.ID, m.Version, m.ProductVersionID, m.StartingDate, m.PlannedEndDate, m.EndDate)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("inserting milestone: %w", err)
	}
	return nil
}

// Get retrieves a milestone by ID.
func (s *MilestoneStore) Get(ctx context.Context, id int) (*models.ProductMilestone, error) {
	query := `
		SELECT id, version, product_version_id, starting_date, planned_end_date, end_date
		FROM product_milestones
		WHERE id = $1`

	m := &models.ProductMilestone{}
	var planned, end sql.NullTime
	err := s.conn().QueryRowContext(ctx, query, id).Scan(
		&m.ID, &m.Version, &m.ProductVersionID, &m.StartingDate, &planned, &end)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying milestone: %w", err)
	}
	if planned.Valid {
		m.PlannedEndDate = &planned.Time
	}
	if end.Valid {
		m.EndDate = &end.Time
	}
	return m, nil
}

// Update updates a milestone.
func (s *MilestoneStore) Update(ctx context.Context, m *models.ProductMilestone) error {
	query := `
		UPDATE product_milestones
		SET version = $2, product_version_id = $3, starting_date = $4,
			planned_end_date = $5, end_date = $6
		WHERE id = $1`

	result, err := s.conn().ExecContext(ctx, query,
		m.ID, m.Version, m.ProductVersionID, m.StartingDate, m.PlannedEndDate, m.EndDate)
	if err != nil {
		return fmt.Errorf("updating milestone: %w", err)
	}
	return requireOneRow(result)
}

func requireOneRow(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
