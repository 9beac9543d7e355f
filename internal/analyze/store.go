package analyze

import (
	"context"

	"github.com/justestif/go-spotify-mood-recommender/internal/db"
)

// DBStore adapts *db.DB to Store.
type DBStore struct {
	DB *db.DB
}

var _ Store = DBStore{}

// RecordAnalysis appends an entry to the user's analysis history.
func (s DBStore) RecordAnalysis(ctx context.Context, a *db.Analysis) error {
	return s.DB.Analyses().Record(ctx, a)
}
