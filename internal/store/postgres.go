package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

const (
	createTableSQL = `CREATE TABLE IF NOT EXISTS blood_pressure_readings (
	timestamp BIGINT PRIMARY KEY,
	systolic INTEGER NOT NULL,
	diastolic INTEGER NOT NULL
)`
	selectByTimestampSQL = `SELECT timestamp, systolic, diastolic FROM blood_pressure_readings WHERE timestamp = $1`
	selectLatestSQL      = `SELECT timestamp, systolic, diastolic FROM blood_pressure_readings ORDER BY timestamp DESC LIMIT 1`
	selectRangeSQL       = `SELECT timestamp, systolic, diastolic FROM blood_pressure_readings WHERE timestamp BETWEEN $1 AND $2 ORDER BY timestamp ASC`
	upsertSQL            = `INSERT INTO blood_pressure_readings (timestamp, systolic, diastolic) VALUES ($1, $2, $3)
ON CONFLICT (timestamp) DO UPDATE SET systolic = EXCLUDED.systolic, diastolic = EXCLUDED.diastolic`
	deleteAllSQL = `DELETE FROM blood_pressure_readings`
)

// PostgresOptions configures the connection pool.
type PostgresOptions struct {
	DSN      string
	MaxConns int
	MaxIdle  int
}

// PostgresStore is a Store backed by a single PostgreSQL table.
type PostgresStore struct {
	db     *sql.DB
	logger *logrus.Logger
}

// OpenPostgres connects with lib/pq, verifies the connection and ensures the
// table exists.
func OpenPostgres(ctx context.Context, opts PostgresOptions, logger *logrus.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if opts.MaxConns > 0 {
		db.SetMaxOpenConns(opts.MaxConns)
	}
	if opts.MaxIdle > 0 {
		db.SetMaxIdleConns(opts.MaxIdle)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := NewPostgresStore(db, logger)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB, logger *logrus.Logger) *PostgresStore {
	if logger == nil {
		logger = logrus.New()
	}
	return &PostgresStore{db: db, logger: logger}
}

// Migrate creates the readings table when missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("failed to create readings table: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByTimestamp(ctx context.Context, timestamp int64) (Reading, error) {
	return s.queryOne(ctx, selectByTimestampSQL, timestamp)
}

func (s *PostgresStore) GetLatest(ctx context.Context) (Reading, error) {
	return s.queryOne(ctx, selectLatestSQL)
}

func (s *PostgresStore) GetRange(ctx context.Context, start, end int64) ([]Reading, error) {
	out := []Reading{}
	if start > end {
		return out, nil
	}

	rows, err := s.db.QueryContext(ctx, selectRangeSQL, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r Reading
		if err := rows.Scan(&r.Timestamp, &r.Systolic, &r.Diastolic); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate readings: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Insert(ctx context.Context, r Reading) error {
	if _, err := s.db.ExecContext(ctx, upsertSQL, r.Timestamp, r.Systolic, r.Diastolic); err != nil {
		return fmt.Errorf("failed to insert reading %d: %w", r.Timestamp, err)
	}
	return nil
}

func (s *PostgresStore) InsertMany(ctx context.Context, rs []Reading) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return upsertAll(ctx, tx, rs)
	})
}

func (s *PostgresStore) DeleteAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, deleteAllSQL); err != nil {
		return fmt.Errorf("failed to delete readings: %w", err)
	}
	return nil
}

func (s *PostgresStore) ReplaceAll(ctx context.Context, rs []Reading) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, deleteAllSQL); err != nil {
			return fmt.Errorf("failed to delete readings: %w", err)
		}
		return upsertAll(ctx, tx, rs)
	})
}

func (s *PostgresStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *PostgresStore) queryOne(ctx context.Context, query string, args ...any) (Reading, error) {
	var r Reading
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&r.Timestamp, &r.Systolic, &r.Diastolic)
	if errors.Is(err, sql.ErrNoRows) {
		return Reading{}, ErrNotFound
	}
	if err != nil {
		return Reading{}, fmt.Errorf("failed to query reading: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.WithError(rbErr).Warn("Rollback failed")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func upsertAll(ctx context.Context, tx *sql.Tx, rs []Reading) error {
	for _, r := range rs {
		if _, err := tx.ExecContext(ctx, upsertSQL, r.Timestamp, r.Systolic, r.Diastolic); err != nil {
			return fmt.Errorf("failed to insert reading %d: %w", r.Timestamp, err)
		}
	}
	return nil
}
