package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/narvanalabs/buildgraph/internal/models"
)

// ConfigurationStore implements store.ConfigurationStore using PostgreSQL.
type ConfigurationStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

func (s *ConfigurationStore) conn() queryable {
	return conn(s.db, s.tx)
}

// Create creates a new build configuration.
func (s *ConfigurationStore) Create(ctx context.Context, cfg *models.BuildConfiguration) error {
	query := `
		INSERT INTO build_configurations (id, name, project_name, scm_url, scm_revision,
			build_script, dependencies, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = time.Now().UTC()
	}

	deps := make([]int64, len(cfg.Dependencies))
	for i, d := range cfg.Dependencies {
		deps[i] = int64(d)
	}

	_, err := s.conn().ExecContext(ctx, query,
		cfg.ID,
		cfg.Name,
		cfg.ProjectName,
		cfg.ScmURL,
		cfg.ScmRevision,
		cfg.BuildScript,
		pq.Array(deps),
		cfg.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("inserting build configuration: %w", err)
	}
	return nil
}

// Get retrieves a build configuration by ID.
func (s *ConfigurationStore) Get(ctx context.Context, id int) (*models.BuildConfiguration, error) {
	query := `
		SELECT id, name, project_name, scm_url, scm_revision, build_script, dependencies, created_at
		FROM build_configurations
		WHERE id = $1`

	cfg, err := scanConfiguration(s.conn().QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying build configuration: %w", err)
	}
	return cfg, nil
}

// List retrieves all build configurations ordered by ID.
func (s *ConfigurationStore) List(ctx context.Context) ([]*models.BuildConfiguration, error) {
	query := `
		SELECT id, name, project_name, scm_url, scm_revision, build_script, dependencies, created_at
		FROM build_configurations
		ORDER BY id`

	rows, err := s.conn().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying build configurations: %w", err)
	}
	defer rows.Close()

	var configs []*models.BuildConfiguration
	for rows.Next() {
		cfg, err := scanConfiguration(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning build configuration: %w", err)
		}
		configs = append(configs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating build configurations: %w", err)
	}
	return configs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConfiguration(row scanner) (*models.BuildConfiguration, error) {
	cfg := &models.BuildConfiguration{}
	var deps []int64
	if err := row.Scan(
		&cfg.ID,
		&cfg.Name,
		&cfg.ProjectName,
		&cfg.ScmURL,
		&cfg.ScmRevision,
		&cfg.BuildScript,
		pq.Array(&deps),
		&cfg.CreatedAt,
	); err != nil {
		return nil, err
	}
	for _, d := range deps {
		cfg.Dependencies = append(cfg.Dependencies, int(d))
	}
	return cfg, nil
}
