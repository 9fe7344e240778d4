// Package postgres provides PostgreSQL implementation of the store interfaces.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/narvanalabs/buildgraph/internal/store"
)

// PostgresStore implements the Store interface using PostgreSQL.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger

	configurations *ConfigurationStore
	records        *BuildRecordStore
	versions       *ProductVersionStore
	milestones     *MilestoneStore
	releases       *ReleaseStore
	pushResults    *PushResultStore
}

// Config holds PostgreSQL connection configuration.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(dsn string) *Config {
	return &Config{
		DSN:             dsn,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,
	}
}

// NewPostgresStore creates a new PostgreSQL store with the given configuration.
func NewPostgresStore(cfg *Config, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	logger.Info("connected to PostgreSQL database")
	return newPostgresStore(db, logger), nil
}

func newPostgresStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{
		db:             db,
		logger:         logger,
		configurations: &ConfigurationStore{db: db, logger: logger},
		records:        &BuildRecordStore{db: db, logger: logger},
		versions:       &ProductVersionStore{db: db, logger: logger},
		milestones:     &MilestoneStore{db: db, logger: logger},
		releases:       &ReleaseStore{db: db, logger: logger},
		pushResults:    &PushResultStore{db: db, logger: logger},
	}
}

// Configurations returns the ConfigurationStore.
func (s *PostgresStore) Configurations() store.ConfigurationStore {
	return s.configurations
}

// BuildRecords returns the BuildRecordStore.
func (s *PostgresStore) BuildRecords() store.BuildRecordStore {
	return s.records
}

// Versions returns the ProductVersionStore.
func (s *PostgresStore) Versions() store.ProductVersionStore {
	return s.versions
}

// Milestones returns the MilestoneStore.
func (s *PostgresStore) Milestones() store.MilestoneStore {
	return s.milestones
}

// Releases returns the ReleaseStore.
func (s *PostgresStore) Releases() store.ReleaseStore {
	return s.releases
}

// PushResults returns the PushResultStore.
func (s *PostgresStore) PushResults() store.PushResultStore {
	return s.pushResults
}

// WithTx executes the given function within a database transaction.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	txStore := &txStore{
		tx:     tx,
		logger: s.logger,
	}

	if err := fn(txStore); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("failed to rollback transaction", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	s.logger.Info("closing PostgreSQL connection")
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// DB returns the underlying database connection.
// The dispatch queue shares it.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// txStore wraps a transaction and implements the Store interface.
type txStore struct {
	tx     *sql.Tx
	logger *slog.Logger

	configurations *ConfigurationStore
	records        *BuildRecordStore
	versions       *ProductVersionStore
	milestones     *MilestoneStore
	releases       *ReleaseStore
	pushResults    *PushResultStore
}

func (s *txStore) Configurations() store.ConfigurationStore {
	if s.configurations == nil {
		s.configurations = &ConfigurationStore{tx: s.tx, logger: s.logger}
	}
	return s.configurations
}

func (s *txStore) BuildRecords() store.BuildRecordStore {
	if s.records == nil {
		s.records = &BuildRecordStore{tx: s.tx, logger: s.logger}
	}
	return s.records
}

func (s *txStore) Versions() store.ProductVersionStore {
	if s.versions == nil {
		s.versions = &ProductVersionStore{tx: s.tx, logger: s.logger}
	}
	return s.versions
}

func (s *txStore) Milestones() store.MilestoneStore {
	if s.milestones == nil {
		s.milestones = &MilestoneStore{tx: s.tx, logger: s.logger}
	}
	return s.milestones
}

func (s *txStore) Releases() store.ReleaseStore {
	if s.releases == nil {
		s.releases = &ReleaseStore{tx: s.tx, logger: s.logger}
	}
	return s.releases
}

func (s *txStore) PushResults() store.PushResultStore {
	if s.pushResults == nil {
		s.pushResults = &PushResultStore{tx: s.tx, logger: s.logger}
	}
	return s.pushResults
}

func (s *txStore) WithTx(ctx context.Context, fn func(store.Store) error) error {
	// Already in a transaction, just execute the function
	return fn(s)
}

func (s *txStore) Close() error {
	return nil
}

// Ping is a no-op inside a transaction.
func (s *txStore) Ping(ctx context.Context) error {
	return nil
}

// queryable is an interface that both *sql.DB and *sql.Tx implement.
type queryable interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn picks the transaction when one is set.
func conn(db *sql.DB, tx *sql.Tx) queryable {
	if tx != nil {
		return tx
	}
	return db
}
