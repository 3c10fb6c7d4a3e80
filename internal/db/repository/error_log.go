package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ad-tracker/video-aggregator-go/internal/db"
	"github.com/ad-tracker/video-aggregator-go/internal/db/models"
)

// ErrorLogRepository persists terminal failures.
type ErrorLogRepository interface {
	Create(ctx context.Context, entry *models.ErrorLog) error
	ListRecent(ctx context.Context, limit int) ([]*models.ErrorLog, error)
}

type errorLogRepository struct {
	pool db.DBTX
}

// NewErrorLogRepository creates a new ErrorLogRepository.
func NewErrorLogRepository(pool db.DBTX) ErrorLogRepository {
	return &errorLogRepository{pool: pool}
}

func (r *errorLogRepository) Create(ctx context.Context, entry *models.ErrorLog) error {
	contextJSON := []byte("{}")
	if len(entry.Context) > 0 {
		var err error
		contextJSON, err = json.Marshal(entry.Context)
		if err != nil {
			return fmt.Errorf("marshal error context: %w", err)
		}
	}

	query := `
		INSERT INTO error_logs (level, type, message, module, context)
		VALUES ($1, $2, $3, $4, $5::jsonb)
		RETURNING id, created_at
	`

	err := r.pool.QueryRow(ctx, query,
		entry.Level,
		entry.Type,
		entry.Message,
		entry.Module,
		string(contextJSON),
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return db.WrapError(err, "create error log")
	}

	return nil
}

func (r *errorLogRepository) ListRecent(ctx context.Context, limit int) ([]*models.ErrorLog, error) {
	query := `
		SELECT id, level, type, message, module, context, created_at
		FROM error_logs
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, db.WrapError(err, "list error logs")
	}
	defer rows.Close()

	var entries []*models.ErrorLog
	for rows.Next() {
		entry := &models.ErrorLog{}
		var rawContext []byte
		if err := rows.Scan(&entry.ID, &entry.Level, &entry.Type, &entry.Message, &entry.Module, &rawContext, &entry.CreatedAt); err != nil {
			return nil, db.WrapError(err, "scan error log")
		}
		if len(rawContext) > 0 {
			if err := json.Unmarshal(rawContext, &entry.Context); err != nil {
				return nil, fmt.Errorf("decode error log context: %w", err)
			}
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, db.WrapError(err, "iterate error logs")
	}

	return entries, nil
}
