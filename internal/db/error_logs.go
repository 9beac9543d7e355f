package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrorLogRepository records error responses.
type ErrorLogRepository struct {
	pool *pgxpool.Pool
}

// Record inserts one error log row.
func (r *ErrorLogRepository) Record(ctx context.Context, e *ErrorLog) error {
	query := `
		INSERT INTO error_logs (method, path, status_code, message, ip, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`
	_, err := r.pool.Exec(ctx, query,
		e.Method,
		e.Path,
		e.Status,
		e.Message,
		e.IP,
		e.UserAgent,
	)
	if err != nil {
		return persistence("inserting error log", err)
	}
	return nil
}
