package recommend

import (
	"context"

	"github.com/justestif/go-spotify-mood-recommender/internal/db"
)

// DBStore adapts *db.DB to Store.
type DBStore struct {
	DB *db.DB
}

// RecentItemIDs returns the most recently seen item ids for an emotion.
func (s DBStore) RecentItemIDs(ctx context.Context, userID int64, emotion, kind string, limit int) ([]string, error) {
	return s.DB.Memory().RecentItemIDs(ctx, userID, emotion, kind, limit)
}

// CreateSession inserts a recommendation session.
func (s DBStore) CreateSession(ctx context.Context, rs *db.RecommendationSession) error {
	return s.DB.Sessions().Create(ctx, rs)
}

// AppendMemory appends items to the user's seen-item memory.
func (s DBStore) AppendMemory(ctx context.Context, userID int64, emotion string, items []db.MemoryItem) error {
	return s.DB.Memory().AppendBatch(ctx, userID, emotion, items)
}

var _ Store = DBStore{}
