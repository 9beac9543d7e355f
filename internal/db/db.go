// Package db provides PostgreSQL access for accounts, provider linkages,
// recommendation sessions, seen-item memory, and analysis history.
package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/justestif/go-spotify-mood-recommender/internal/apperr"
)

// Common errors.
var (
	ErrNotFound = apperr.ErrNotFound

	// ErrUsernameTaken is returned when an account's username collides.
	ErrUsernameTaken = fmt.Errorf("username already taken: %w", apperr.ErrConflict)

	// ErrEmailTaken is returned when an account's email collides.
	ErrEmailTaken = fmt.Errorf("email already in use: %w", apperr.ErrConflict)

	// ErrSubjectLinked is returned when a provider identity is already linked
	// to a different local account.
	ErrSubjectLinked = fmt.Errorf("provider identity linked to another account: %w", apperr.ErrConflict)
)

// Constraint names referenced when classifying unique violations.
const (
	constraintUsername     = "users_username_key"
	constraintEmail        = "users_email_key"
	constraintSubject      = "linked_accounts_provider_subject_key"
	uniqueViolationSQLCode = "23505"
)

// DB wraps a PostgreSQL connection pool.
type DB struct {
	pool *pgxpool.Pool
}

// New creates a new database connection pool.
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Close closes the database connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

// Ping checks that the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Users returns a UserRepository.
func (db *DB) Users() *UserRepository {
	return &UserRepository{pool: db.pool}
}

// Linkages returns a LinkageRepository.
func (db *DB) Linkages() *LinkageRepository {
	return &LinkageRepository{pool: db.pool}
}

// Sessions returns a SessionRepository for recommendation sessions.
func (db *DB) Sessions() *SessionRepository {
	return &SessionRepository{pool: db.pool}
}

// Memory returns a MemoryRepository.
func (db *DB) Memory() *MemoryRepository {
	return &MemoryRepository{pool: db.pool}
}

// Analyses returns an AnalysisRepository.
func (db *DB) Analyses() *AnalysisRepository {
	return &AnalysisRepository{pool: db.pool}
}

// ErrorLogs returns an ErrorLogRepository.
func (db *DB) ErrorLogs() *ErrorLogRepository {
	return &ErrorLogRepository{pool: db.pool}
}

// isUniqueViolation reports whether err is a unique violation on constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == uniqueViolationSQLCode && pgErr.ConstraintName == constraint
}

// persistence wraps a store write failure.
func persistence(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, apperr.ErrPersistence, err)
}
