package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// MemoryRepository handles the append-only seen-item memory.
type MemoryRepository struct {
	pool *pgxpool.Pool
}

// AppendBatch appends all items for (userID, emotion) in one statement.
func (r *MemoryRepository) AppendBatch(ctx context.Context, userID int64, emotion string, items []MemoryItem) error {
	if len(items) == 0 {
		return nil
	}

	query := `
		INSERT INTO user_item_memory (user_id, emotion, item_type, item_id, created_at)
		SELECT $1, $2, t.kind, t.id, NOW()
		FROM unnest($3::text[], $4::text[]) AS t(kind, id)
	`

	kinds := make([]string, len(items))
	ids := make([]string, len(items))
	for i, item := range items {
		kinds[i] = item.Kind
		ids[i] = item.ID
	}

	if _, err := r.pool.Exec(ctx, query, userID, emotion, kinds, ids); err != nil {
		return persistence("appending item memory", err)
	}
	return nil
}

// RecentItemIDs returns up to limit item ids of the given kind most recently
// shown to the user for emotion, newest first.
func (r *MemoryRepository) RecentItemIDs(ctx context.Context, userID int64, emotion, kind string, limit int) ([]string, error) {
	query := `
		SELECT item_id
		FROM user_item_memory
		WHERE user_id = $1 AND emotion = $2 AND item_type = $3
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`
	rows, err := r.pool.Query(ctx, query, userID, emotion, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("querying item memory: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning item memory: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating item memory: %w", err)
	}
	return ids, nil
}
