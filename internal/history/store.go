package history

import (
	"context"
	"time"

	"github.com/justestif/go-spotify-mood-recommender/internal/db"
)

// DBStore adapts *db.DB to Store.
type DBStore struct {
	DB *db.DB
}

// ListSessions returns one page of a user's sessions, newest first.
func (s DBStore) ListSessions(ctx context.Context, userID int64, limit, offset int) ([]db.RecommendationSession, error) {
	return s.DB.Sessions().ListForUser(ctx, userID, limit, offset)
}

// DominantEmotion returns the most frequent session emotion since a time.
func (s DBStore) DominantEmotion(ctx context.Context, userID int64, since time.Time) (*db.EmotionCount, error) {
	return s.DB.Sessions().DominantEmotion(ctx, userID, since)
}

// ListAnalyses returns a user's latest analyses.
func (s DBStore) ListAnalyses(ctx context.Context, userID int64, limit int) ([]db.Analysis, error) {
	return s.DB.Analyses().ListForUser(ctx, userID, limit)
}

var _ Store = DBStore{}
