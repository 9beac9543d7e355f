package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SessionRepository handles recommendation session operations.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// Create inserts a new recommendation session. Sessions are immutable.
func (r *SessionRepository) Create(ctx context.Context, s *RecommendationSession) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}

	query := `
		INSERT INTO recommendation_sessions (id, user_id, emotion, confidence, tracks, seed_genres, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING created_at
	`
	err := r.pool.QueryRow(ctx, query,
		s.ID,
		s.UserID,
		s.Emotion,
		s.Confidence,
		s.Tracks,
		s.SeedGenres,
	).Scan(&s.CreatedAt)
	if err != nil {
		return persistence("inserting recommendation session", err)
	}
	return nil
}

// ListForUser returns a user's sessions, most recent first.
func (r *SessionRepository) ListForUser(ctx context.Context, userID int64, limit, offset int) ([]RecommendationSession, error) {
	query := `
		SELECT id, user_id, emotion, confidence, tracks, seed_genres, created_at
		FROM recommendation_sessions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying recommendation sessions: %w", err)
	}
	defer rows.Close()

	sessions := []RecommendationSession{}
	for rows.Next() {
		var s RecommendationSession
		if err := rows.Scan(
			&s.ID,
			&s.UserID,
			&s.Emotion,
			&s.Confidence,
			&s.Tracks,
			&s.SeedGenres,
			&s.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning recommendation session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating recommendation sessions: %w", err)
	}
	return sessions, nil
}

// DominantEmotion returns the most frequent emotion in the user's sessions
// since the given time, or nil if there are none. Ties go to the most
// recently seen emotion.
func (r *SessionRepository) DominantEmotion(ctx context.Context, userID int64, since time.Time) (*EmotionCount, error) {
	query := `
		SELECT emotion, COUNT(*)
		FROM recommendation_sessions
		WHERE user_id = $1 AND created_at >= $2
		GROUP BY emotion
		ORDER BY COUNT(*) DESC, MAX(created_at) DESC
		LIMIT 1
	`
	var ec EmotionCount
	err := r.pool.QueryRow(ctx, query, userID, since).Scan(&ec.Emotion, &ec.Count)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying dominant emotion: %w", err)
	}
	return &ec, nil
}
