// Package postgres provides a PostgreSQL-backed implementation of the dispatch queue.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/narvanalabs/buildgraph/internal/models"
	"github.com/narvanalabs/buildgraph/internal/queue"
)

// PostgresQueue implements queue.Queue on the dispatch_queue table.
type PostgresQueue struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewPostgresQueue creates a new PostgreSQL-backed queue. The schema is
// created by the store's Migrate.
func NewPostgresQueue(db *sql.DB, logger *slog.Logger) *PostgresQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresQueue{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue adds a dispatch request to the queue.
func (q *PostgresQueue) Enqueue(ctx context.Context, req *models.DispatchRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshaling dispatch request to JSON: %w", err)
	}

	query := `
		INSERT INTO dispatch_queue (id, payload, status, available_at, created_at)
		VALUES ($1, $2, 'pending', $3, $3)`

	if _, err := q.db.ExecContext(ctx, query, req.TaskID, payload, q.now()); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return queue.ErrDuplicateJob
		}
		return fmt.Errorf("inserting dispatch request into queue: %w", err)
	}

	q.logger.Debug("enqueued dispatch request", "task_id", req.TaskID)
	return nil
}

// Dequeue retrieves and locks the next available request.
// Uses SELECT FOR UPDATE SKIP LOCKED for concurrent worker safety.
func (q *PostgresQueue) Dequeue(ctx context.Context) (*models.DispatchRequest, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := q.now()
	selectQuery := `
		SELECT id, payload
		FROM dispatch_queue
		WHERE status = 'pending' AND available_at <= $1
		ORDER BY created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`

	var taskID string
	var payload []byte
	if err := tx.QueryRowContext(ctx, selectQuery, now).Scan(&taskID, &payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, queue.ErrNoJobs
		}
		return nil, fmt.Errorf("selecting dispatch request from queue: %w", err)
	}

	updateQuery := `
		UPDATE dispatch_queue
		SET status = 'processing', started_at = $2
		WHERE id = $1`

	if _, err := tx.ExecContext(ctx, updateQuery, taskID, now); err != nil {
		return nil, fmt.Errorf("updating dispatch request status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	var req models.DispatchRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("unmarshaling dispatch request from JSON: %w", err)
	}

	q.logger.Debug("dequeued dispatch request", "task_id", taskID)
	return &req, nil
}

// Ack acknowledges successful processing of a request, removing it from the queue.
func (q *PostgresQueue) Ack(ctx context.Context, taskID string) error {
	query := `
		DELETE FROM dispatch_queue
		WHERE id = $1 AND status = 'processing'`

	result, err := q.db.ExecContext(ctx, query, taskID)
	if err != nil {
		return fmt.Errorf("deleting dispatch request from queue: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return queue.ErrJobNotFound
	}

	q.logger.Debug("acknowledged dispatch request", "task_id", taskID)
	return nil
}

// Nack returns a processing request to the queue with a retry delay.
func (q *PostgresQueue) Nack(ctx context.Context, taskID string) (int, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts int
	err = tx.QueryRowContext(ctx, `
		UPDATE dispatch_queue
		SET status = 'pending', started_at = NULL, retry_count = retry_count + 1
		WHERE id = $1 AND status = 'processing'
		RETURNING retry_count`, taskID).Scan(&attempts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, queue.ErrJobNotFound
		}
		return 0, fmt.Errorf("updating dispatch request status: %w", err)
	}

	availableAt := q.now().Add(queue.Backoff(attempts))
	if _, err := tx.ExecContext(ctx, `UPDATE dispatch_queue SET available_at = $2 WHERE id = $1`, taskID, availableAt); err != nil {
		return 0, fmt.Errorf("scheduling retry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing transaction: %w", err)
	}

	q.logger.Debug("nacked dispatch request", "task_id", taskID, "attempts", attempts, "available_at", availableAt)
	return attempts, nil
}

// Remove deletes a pending request. Requests already picked up by a worker
// are left alone.
func (q *PostgresQueue) Remove(ctx context.Context, taskID string) (bool, error) {
	result, err := q.db.ExecContext(ctx, `
		DELETE FROM dispatch_queue
		WHERE id = $1 AND status = 'pending'`, taskID)
	if err != nil {
		return false, fmt.Errorf("removing dispatch request: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}
