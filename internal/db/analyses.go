package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AnalysisRepository handles emotion analysis history.
type AnalysisRepository struct {
	pool *pgxpool.Pool
}

// Record inserts an analysis, creating its emotion row if needed, in a
// single statement.
func (r *AnalysisRepository) Record(ctx context.Context, a *Analysis) error {
	query := `
		WITH e AS (
			INSERT INTO emotions (emotion)
			VALUES ($2)
			ON CONFLICT (emotion) DO UPDATE SET emotion = EXCLUDED.emotion
			RETURNING emotion_id
		)
		INSERT INTO analysis_history (user_id, emotion_id, confidence, playlist_id, playlist_url, track_ids, analyzed_at)
		SELECT $1, e.emotion_id, $3, $4, $5, $6, NOW()
		FROM e
		RETURNING analysis_id, analyzed_at
	`
	err := r.pool.QueryRow(ctx, query,
		a.UserID,
		a.Emotion,
		a.Confidence,
		a.PlaylistID,
		a.PlaylistURL,
		a.TrackIDs,
	).Scan(&a.ID, &a.AnalyzedAt)
	if err != nil {
		return persistence("inserting analysis", err)
	}
	return nil
}

// ListForUser returns a user's latest analyses, most recent first.
func (r *AnalysisRepository) ListForUser(ctx context.Context, userID int64, limit int) ([]Analysis, error) {
	query := `
		SELECT a.analysis_id, a.user_id, e.emotion, a.confidence, a.playlist_id, a.playlist_url,
			COALESCE(a.track_ids, '{}'), a.analyzed_at
		FROM analysis_history a
		JOIN emotions e ON e.emotion_id = a.emotion_id
		WHERE a.user_id = $1
		ORDER BY a.analyzed_at DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying analyses: %w", err)
	}
	defer rows.Close()

	analyses := []Analysis{}
	for rows.Next() {
		var a Analysis
		if err := rows.Scan(
			&a.ID,
			&a.UserID,
			&a.Emotion,
			&a.Confidence,
			&a.PlaylistID,
			&a.PlaylistURL,
			&a.TrackIDs,
			&a.AnalyzedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning analysis: %w", err)
		}
		analyses = append(analyses, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating analyses: %w", err)
	}
	return analyses, nil
}
