package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// execer is satisfied by both the pool and a transaction.
type execer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// LinkageRepository handles provider linkage operations.
type LinkageRepository struct {
	pool *pgxpool.Pool
}

// Upsert inserts the linkage or, if the account already has one for the
// provider, replaces its subject and tokens. Other providers are untouched.
// Returns ErrSubjectLinked if the subject belongs to another account.
func (r *LinkageRepository) Upsert(ctx context.Context, link *Linkage) error {
	return upsertLinkage(ctx, r.pool, link)
}

func upsertLinkage(ctx context.Context, q execer, link *Linkage) error {
	query := `
		INSERT INTO linked_accounts (user_id, provider, provider_user_id, access_token, refresh_token, scope, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (user_id, provider) DO UPDATE SET
			provider_user_id = EXCLUDED.provider_user_id,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			scope = EXCLUDED.scope,
			expires_at = EXCLUDED.expires_at,
			updated_at = NOW()
		RETURNING created_at, updated_at
	`
	err := q.QueryRow(ctx, query,
		link.UserID,
		link.Provider,
		link.ProviderUserID,
		link.AccessToken,
		link.RefreshToken,
		link.Scope,
		link.ExpiresAt,
	).Scan(&link.CreatedAt, &link.UpdatedAt)
	if isUniqueViolation(err, constraintSubject) {
		return ErrSubjectLinked
	}
	if err != nil {
		return persistence("upserting linkage", err)
	}
	return nil
}

// FindBySubject retrieves the linkage for a provider identity.
func (r *LinkageRepository) FindBySubject(ctx context.Context, provider, subject string) (*Linkage, error) {
	query := `
		SELECT user_id, provider, provider_user_id, access_token, refresh_token, scope, expires_at, created_at, updated_at
		FROM linked_accounts
		WHERE provider = $1 AND provider_user_id = $2
	`
	var link Linkage
	err := r.pool.QueryRow(ctx, query, provider, subject).Scan(
		&link.UserID,
		&link.Provider,
		&link.ProviderUserID,
		&link.AccessToken,
		&link.RefreshToken,
		&link.Scope,
		&link.ExpiresAt,
		&link.CreatedAt,
		&link.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying linkage: %w", err)
	}
	return &link, nil
}

// UpdateTokens replaces the tokens of the linkage for a provider identity.
func (r *LinkageRepository) UpdateTokens(ctx context.Context, provider, subject string, tok Tokens) error {
	query := `
		UPDATE linked_accounts
		SET access_token = $3, refresh_token = $4, scope = $5, expires_at = $6, updated_at = NOW()
		WHERE provider = $1 AND provider_user_id = $2
	`
	result, err := r.pool.Exec(ctx, query,
		provider,
		subject,
		tok.AccessToken,
		tok.RefreshToken,
		tok.Scope,
		tok.ExpiresAt,
	)
	if err != nil {
		return persistence("updating linkage tokens", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
