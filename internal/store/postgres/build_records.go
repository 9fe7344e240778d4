package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/narvanalabs/buildgraph/internal/models"
)

// BuildRecordStore implements store.BuildRecordStore using PostgreSQL.
type BuildRecordStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

func (s *BuildRecordStore) conn() queryable {
	return conn(s.db, s.tx)
}

const buildRecordColumns = `id, configuration_id, status, submit_time, start_time, end_time,
	username, content_id, temporary_build, build_log`

// Create creates a new build record.
func (s *BuildRecordStore) Create(ctx context.Context, record *models.BuildRecord) error {
	query := `
		INSERT INTO build_records (` + buildRecordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	var buildLog sql.NullString
	if record.BuildLog != "" {
		buildLog = sql.NullString{String: record.BuildLog, Valid: true}
	}

	_, err := s.conn().ExecContext(ctx, query,
		record.ID,
		record.ConfigurationID,
		record.Status,
		record.SubmitTime,
		record.StartTime,
		record.EndTime,
		record.User,
		record.ContentID,
		record.TemporaryBuild,
		buildLog,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("inserting build record: %w", err)
	}
	return nil
}

// Get retrieves a build record by ID.
func (s *BuildRecordStore) Get(ctx context.Context, id string) (*models.BuildRecord, error) {
	query := `SELECT ` + buildRecordColumns + ` FROM build_records WHERE id = $1`

	record, err := scanBuildRecord(s.conn().QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying build record: %w", err)
	}
	return record, nil
}

// ListByConfiguration retrieves all records of a configuration, newest first.
func (s *BuildRecordStore) ListByConfiguration(ctx context.Context, configurationID int) ([]*models.BuildRecord, error) {
	query := `SELECT ` + buildRecordColumns + `
		FROM build_records
		WHERE configuration_id = $1
		ORDER BY submit_time DESC`

	rows, err := s.conn().QueryContext(ctx, query, configurationID)
	if err != nil {
		return nil, fmt.Errorf("querying build records: %w", err)
	}
	defer rows.Close()

	var records []*models.BuildRecord
	for rows.Next() {
		record, err := scanBuildRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning build record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating build records: %w", err)
	}
	return records, nil
}

// GetLatestSuccessful retrieves the newest SUCCESS record of a configuration.
func (s *BuildRecordStore) GetLatestSuccessful(ctx context.Context, configurationID int) (*models.BuildRecord, error) {
	query := `SELECT ` + buildRecordColumns + `
		FROM build_records
		WHERE configuration_id = $1 AND status = $2
		ORDER BY submit_time DESC
		LIMIT 1`

	record, err := scanBuildRecord(s.conn().QueryRowContext(ctx, query, configurationID, models.BuildStatusSuccess))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying latest successful build record: %w", err)
	}
	return record, nil
}

func scanBuildRecord(row scanner) (*models.BuildRecord, error) {
	record := &models.BuildRecord{}
	var startTime, endTime sql.NullTime
	var buildLog sql.NullString
	if err := row.Scan(
		&record.ID,
		&record.ConfigurationID,
		&record.Status,
		&record.SubmitTime,
		&startTime,
		&endTime,
		&record.User,
		&record.ContentID,
		&record.TemporaryBuild,
		&buildLog,
	); err != nil {
		return nil, err
	}
	if startTime.Valid {
		record.StartTime = &startTime.Time
	}
	if endTime.Valid {
		record.EndTime = &endTime.Time
	}
	record.BuildLog = buildLog.String
	return record, nil
}
