package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const userColumns = `user_id, username, email, password_hash, display_name, created_at, updated_at, last_login`

// UserRepository handles local account operations.
type UserRepository struct {
	pool *pgxpool.Pool
}

func scanUser(row pgx.Row) (*User, error) {
	var user User
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.DisplayName,
		&user.CreatedAt,
		&user.UpdatedAt,
		&user.LastLogin,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Get retrieves a user by ID.
func (r *UserRepository) Get(ctx context.Context, id int64) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE user_id = $1`

	user, err := scanUser(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return user, nil
}

// GetByEmail retrieves a user by email, ignoring case.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower($1)`

	user, err := scanUser(r.pool.QueryRow(ctx, query, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user by email: %w", err)
	}
	return user, nil
}

// Provision creates an externally-authenticated account and its linkage in
// one transaction, so a failure never leaves an account without a linkage.
// An existing account with the same email is reused. A username collision
// returns ErrUsernameTaken and nothing is written.
func (r *UserRepository) Provision(ctx context.Context, nu NewUser, link *Linkage) (*User, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, persistence("beginning transaction", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO users (username, email, password_hash, display_name, created_at, updated_at, last_login)
		VALUES ($1, $2, $3, NULLIF($4, ''), NOW(), NOW(), NOW())
		ON CONFLICT (email) DO UPDATE SET
			last_login = NOW(),
			updated_at = NOW()
		RETURNING ` + userColumns

	user, err := scanUser(tx.QueryRow(ctx, query,
		nu.Username,
		nu.Email,
		ExternalPasswordMarker,
		nu.DisplayName,
	))
	if isUniqueViolation(err, constraintUsername) {
		return nil, ErrUsernameTaken
	}
	if err != nil {
		return nil, persistence("inserting user", err)
	}

	link.UserID = user.ID
	if err := upsertLinkage(ctx, tx, link); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, persistence("committing transaction", err)
	}
	return user, nil
}

// TouchLogin records a login for the user.
func (r *UserRepository) TouchLogin(ctx context.Context, id int64) error {
	query := `
		UPDATE users
		SET last_login = NOW(), updated_at = NOW()
		WHERE user_id = $1
	`
	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return persistence("updating last login", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Create inserts an account with a local password hash. Username and email
// collisions return ErrUsernameTaken and ErrEmailTaken.
func (r *UserRepository) Create(ctx context.Context, nu NewUser, passwordHash string) (*User, error) {
	query := `
		INSERT INTO users (username, email, password_hash, display_name, created_at, updated_at, last_login)
		VALUES ($1, $2, $3, NULLIF($4, ''), NOW(), NOW(), NOW())
		RETURNING ` + userColumns

	user, err := scanUser(r.pool.QueryRow(ctx, query,
		nu.Username,
		nu.Email,
		passwordHash,
		nu.DisplayName,
	))
	if err != nil {
		return nil, userWriteError("inserting user", err)
	}
	return user, nil
}

// UpdateProfile changes the non-nil fields of upd and returns the updated
// account.
func (r *UserRepository) UpdateProfile(ctx context.Context, id int64, upd ProfileUpdate) (*User, error) {
	query := `
		UPDATE users
		SET username = COALESCE($2, username),
			email = COALESCE($3, email),
			updated_at = NOW()
		WHERE user_id = $1
		RETURNING ` + userColumns

	user, err := scanUser(r.pool.QueryRow(ctx, query, id, upd.Username, upd.Email))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, userWriteError("updating profile", err)
	}
	return user, nil
}

// SetPasswordHash replaces the account's password hash.
func (r *UserRepository) SetPasswordHash(ctx context.Context, id int64, hash string) error {
	query := `
		UPDATE users
		SET password_hash = $2, updated_at = NOW()
		WHERE user_id = $1
	`
	result, err := r.pool.Exec(ctx, query, id, hash)
	if err != nil {
		return persistence("updating password", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func userWriteError(op string, err error) error {
	switch {
	case isUniqueViolation(err, constraintUsername):
		return ErrUsernameTaken
	case isUniqueViolation(err, constraintEmail):
		return ErrEmailTaken
	}
	return persistence(op, err)
}
