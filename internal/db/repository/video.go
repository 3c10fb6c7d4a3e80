package repository

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ad-tracker/video-aggregator-go/internal/db"
	"github.com/ad-tracker/video-aggregator-go/internal/db/models"
)

// VideoRepository defines operations for managing videos.
type VideoRepository interface {
	// Create inserts a new video and fills in its ID and timestamps.
	Create(ctx context.Context, video *models.Video) error

	// ExistsByExternalID reports whether a video with the external ID exists on the platform.
	ExistsByExternalID(ctx context.Context, platform models.Platform, externalID string) (bool, error)

	// KnownExternalIDs returns the external IDs already stored for a channel.
	KnownExternalIDs(ctx context.Context, channelID int64) (map[string]struct{}, error)

	// SlugExists reports whether the slug is taken.
	SlugExists(ctx context.Context, slug string) (bool, error)

	// GetByID retrieves a single video.
	GetByID(ctx context.Context, id int64) (*models.Video, error)

	// GetBySlug retrieves a single video by slug.
	GetBySlug(ctx context.Context, slug string) (*models.Video, error)

	// GetByIDs retrieves the videos with the given IDs. Missing IDs are skipped.
	GetByIDs(ctx context.Context, ids []int64) ([]*models.Video, error)

	// List retrieves videos matching filters, newest first.
	List(ctx context.Context, filters models.VideoFilters) ([]*models.Video, error)

	// ListUnclassifiedIDs returns IDs of videos with no classification yet.
	ListUnclassifiedIDs(ctx context.Context, limit int) ([]int64, error)

	// UpdateClassification stores categories and tags for a video.
	UpdateClassification(ctx context.Context, id int64, categories, tags []string, at time.Time) error
}

const videoColumns = `id, channel_id, platform, external_video_id, slug, title, description, thumbnail_url,
	duration, publish_date, view_count_text, content_type, categories, tags, classified_at, created_at, updated_at`

type videoRepository struct {
	pool db.DBTX
}

// NewVideoRepository creates a new VideoRepository.
func NewVideoRepository(pool db.DBTX) VideoRepository {
	return &videoRepository{pool: pool}
}

func (r *videoRepository) Create(ctx context.Context, video *models.Video) error {
	query := `
		INSERT INTO videos (channel_id, platform, external_video_id, slug, title, description, thumbnail_url,
			duration, publish_date, view_count_text, content_type, categories, tags)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at, updated_at
	`

	if video.Categories == nil {
		video.Categories = []string{}
	}
	if video.Tags == nil {
		video.Tags = []string{}
	}

	err := r.pool.QueryRow(ctx, query,
		video.ChannelID,
		video.Platform,
		video.ExternalVideoID,
		video.Slug,
		video.Title,
		video.Description,
		video.ThumbnailURL,
		video.Duration,
		video.PublishDate,
		video.ViewCountText,
		video.ContentType,
		video.Categories,
		video.Tags,
	).Scan(&video.ID, &video.CreatedAt, &video.UpdatedAt)

	if err != nil {
		return db.WrapError(err, "create video")
	}

	return nil
}

func (r *videoRepository) ExistsByExternalID(ctx context.Context, platform models.Platform, externalID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM videos WHERE platform = $1 AND external_video_id = $2)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, platform, externalID).Scan(&exists); err != nil {
		return false, db.WrapError(err, "check video external id")
	}

	return exists, nil
}

func (r *videoRepository) KnownExternalIDs(ctx context.Context, channelID int64) (map[string]struct{}, error) {
	query := `SELECT external_video_id FROM videos WHERE channel_id = $1`

	rows, err := r.pool.Query(ctx, query, channelID)
	if err != nil {
		return nil, db.WrapError(err, "list known external ids")
	}
	defer rows.Close()

	known := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, db.WrapError(err, "scan external id")
		}
		known[id] = struct{}{}
	}

	if err := rows.Err(); err != nil {
		return nil, db.WrapError(err, "iterate external ids")
	}

	return known, nil
}

func (r *videoRepository) SlugExists(ctx context.Context, slug string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM videos WHERE slug = $1)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, slug).Scan(&exists); err != nil {
		return false, db.WrapError(err, "check slug")
	}

	return exists, nil
}

func (r *videoRepository) GetByID(ctx context.Context, id int64) (*models.Video, error) {
	query := `SELECT ` + videoColumns + ` FROM videos WHERE id = $1`

	video, err := scanVideo(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, db.WrapError(err, "get video by id")
	}

	return video, nil
}

func (r *videoRepository) GetBySlug(ctx context.Context, slug string) (*models.Video, error) {
	query := `SELECT ` + videoColumns + ` FROM videos WHERE slug = $1`

	video, err := scanVideo(r.pool.QueryRow(ctx, query, slug))
	if err != nil {
		return nil, db.WrapError(err, "get video by slug")
	}

	return video, nil
}

func (r *videoRepository) GetByIDs(ctx context.Context, ids []int64) ([]*models.Video, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT ` + videoColumns + ` FROM videos WHERE id = ANY($1) ORDER BY id ASC`

	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, db.WrapError(err, "get videos by ids")
	}
	defer rows.Close()

	return scanVideos(rows)
}

func (r *videoRepository) List(ctx context.Context, filters models.VideoFilters) ([]*models.Video, error) {
	var (
		where []string
		args  []any
	)

	if filters.ChannelID > 0 {
		args = append(args, filters.ChannelID)
		where = append(where, "channel_id = $"+strconv.Itoa(len(args)))
	}
	if filters.ContentType != "" {
		args = append(args, filters.ContentType)
		where = append(where, "content_type = $"+strconv.Itoa(len(args)))
	}
	if filters.Category != "" {
		args = append(args, filters.Category)
		where = append(where, "$"+strconv.Itoa(len(args))+" = ANY(categories)")
	}

	limit := filters.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `SELECT ` + videoColumns + ` FROM videos`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, limit, filters.Offset)
	query += ` ORDER BY created_at DESC, id DESC LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, db.WrapError(err, "list videos")
	}
	defer rows.Close()

	return scanVideos(rows)
}

func (r *videoRepository) ListUnclassifiedIDs(ctx context.Context, limit int) ([]int64, error) {
	query := `SELECT id FROM videos WHERE classified_at IS NULL ORDER BY id ASC LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, db.WrapError(err, "list unclassified videos")
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, db.WrapError(err, "scan video id")
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, db.WrapError(err, "iterate video ids")
	}

	return ids, nil
}

func (r *videoRepository) UpdateClassification(ctx context.Context, id int64, categories, tags []string, at time.Time) error {
	query := `
		UPDATE videos
		SET categories = $2, tags = $3, classified_at = $4, updated_at = NOW()
		WHERE id = $1
	`

	if categories == nil {
		categories = []string{}
	}
	if tags == nil {
		tags = []string{}
	}

	tag, err := r.pool.Exec(ctx, query, id, categories, tags, at)
	if err != nil {
		return db.WrapError(err, "update video classification")
	}
	if tag.RowsAffected() == 0 {
		return db.WrapError(pgx.ErrNoRows, "update video classification")
	}

	return nil
}

func scanVideo(row pgx.Row) (*models.Video, error) {
	video := &models.Video{}
	err := row.Scan(
		&video.ID,
		&video.ChannelID,
		&video.Platform,
		&video.ExternalVideoID,
		&video.Slug,
		&video.Title,
		&video.Description,
		&video.ThumbnailURL,
		&video.Duration,
		&video.PublishDate,
		&video.ViewCountText,
		&video.ContentType,
		&video.Categories,
		&video.Tags,
		&video.ClassifiedAt,
		&video.CreatedAt,
		&video.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return video, nil
}

func scanVideos(rows pgx.Rows) ([]*models.Video, error) {
	var videos []*models.Video
	for rows.Next() {
		video, err := scanVideo(rows)
		if err != nil {
			return nil, db.WrapError(err, "scan video")
		}
		videos = append(videos, video)
	}

	if err := rows.Err(); err != nil {
		return nil, db.WrapError(err, "iterate videos")
	}

	return videos, nil
}
