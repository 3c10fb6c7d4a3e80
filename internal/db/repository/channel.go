package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ad-tracker/video-aggregator-go/internal/db"
	"github.com/ad-tracker/video-aggregator-go/internal/db/models"
)

// ChannelRepository defines operations for managing channels.
type ChannelRepository interface {
	// Create inserts a new channel.
	Create(ctx context.Context, channel *models.Channel) error

	// GetByID retrieves a single channel by ID.
	GetByID(ctx context.Context, id int64) (*models.Channel, error)

	// List retrieves channels ordered by name.
	List(ctx context.Context, limit, offset int) ([]*models.Channel, error)

	// ListDue returns channels never scraped or last scraped before cutoff,
	// oldest first, at most limit rows.
	ListDue(ctx context.Context, cutoff time.Time, limit int) ([]*models.Channel, error)

	// UpdateIdentity stores the name and external ID discovered by a scrape.
	UpdateIdentity(ctx context.Context, id int64, name, externalID string) error

	// MarkScraped adds added to video_count and advances last_scraped_at to at.
	// last_scraped_at never moves backwards.
	MarkScraped(ctx context.Context, id int64, added int, at time.Time) error
}

const channelColumns = `id, name, url, platform, external_id, last_scraped_at, video_count, created_at, updated_at`

type channelRepository struct {
	pool db.DBTX
}

// NewChannelRepository creates a new ChannelRepository.
func NewChannelRepository(pool db.DBTX) ChannelRepository {
	return &channelRepository{pool: pool}
}

func (r *channelRepository) Create(ctx context.Context, channel *models.Channel) error {
	query := `
		INSERT INTO channels (name, url, platform, external_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`

	err := r.pool.QueryRow(ctx, query,
		channel.Name,
		channel.URL,
		channel.Platform,
		channel.ExternalID,
		channel.CreatedAt,
		channel.UpdatedAt,
	).Scan(&channel.ID, &channel.CreatedAt, &channel.UpdatedAt)

	if err != nil {
		return db.WrapError(err, "create channel")
	}

	return nil
}

func (r *channelRepository) GetByID(ctx context.Context, id int64) (*models.Channel, error) {
	query := `SELECT ` + channelColumns + ` FROM channels WHERE id = $1`

	channel, err := scanChannel(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, db.WrapError(err, "get channel by id")
	}

	return channel, nil
}

func (r *channelRepository) List(ctx context.Context, limit, offset int) ([]*models.Channel, error) {
	query := `SELECT ` + channelColumns + ` FROM channels ORDER BY name ASC, id ASC LIMIT $1 OFFSET $2`

	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, db.WrapError(err, "list channels")
	}
	defer rows.Close()

	return scanChannels(rows)
}

func (r *channelRepository) ListDue(ctx context.Context, cutoff time.Time, limit int) ([]*models.Channel, error) {
	query := `
		SELECT ` + channelColumns + `
		FROM channels
		WHERE last_scraped_at IS NULL OR last_scraped_at < $1
		ORDER BY last_scraped_at ASC NULLS FIRST, id ASC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, db.WrapError(err, "list due channels")
	}
	defer rows.Close()

	return scanChannels(rows)
}

func (r *channelRepository) UpdateIdentity(ctx context.Context, id int64, name, externalID string) error {
	query := `
		UPDATE channels
		SET name = CASE WHEN $2 = '' THEN name ELSE $2 END,
		    external_id = CASE WHEN $3 = '' THEN external_id ELSE $3 END,
		    updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query, id, name, externalID)
	if err != nil {
		return db.WrapError(err, "update channel identity")
	}
	if tag.RowsAffected() == 0 {
		return db.WrapError(pgx.ErrNoRows, "update channel identity")
	}

	return nil
}

func (r *channelRepository) MarkScraped(ctx context.Context, id int64, added int, at time.Time) error {
	query := `
		UPDATE channels
		SET video_count = video_count + $2,
		    last_scraped_at = GREATEST(COALESCE(last_scraped_at, $3), $3),
		    updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query, id, added, at)
	if err != nil {
		return db.WrapError(err, "mark channel scraped")
	}
	if tag.RowsAffected() == 0 {
		return db.WrapError(pgx.ErrNoRows, "mark channel scraped")
	}

	return nil
}

func scanChannel(row pgx.Row) (*models.Channel, error) {
	channel := &models.Channel{}
	err := row.Scan(
		&channel.ID,
		&channel.Name,
		&channel.URL,
		&channel.Platform,
		&channel.ExternalID,
		&channel.LastScrapedAt,
		&channel.VideoCount,
		&channel.CreatedAt,
		&channel.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return channel, nil
}

func scanChannels(rows pgx.Rows) ([]*models.Channel, error) {
	var channels []*models.Channel
	for rows.Next() {
		channel, err := scanChannel(rows)
		if err != nil {
			return nil, db.WrapError(err, "scan channel")
		}
		channels = append(channels, channel)
	}

	if err := rows.Err(); err != nil {
		return nil, db.WrapError(err, "iterate channels")
	}

	return channels, nil
}
