package models

import "time"

// ContentType classifies a video by format.
type ContentType string

const (
	ContentRegular      ContentType = "regular"
	ContentYouTubeShort ContentType = "youtube_short"
	ContentTikTok       ContentType = "tiktok"
)

// ContentTypeFor derives the content type from the scraped short-form flag and
// the channel platform. Platform-specific content is always tagged by platform.
func ContentTypeFor(platform Platform, isShort bool) ContentType {
	switch {
	case platform == PlatformTikTok:
		return ContentTikTok
	case isShort:
		return ContentYouTubeShort
	default:
		return ContentRegular
	}
}

// Video represents a persisted video record. Slug is assigned once at creation.
type Video struct {
	ID              int64       `db:"id" json:"id"`
	ChannelID       int64       `db:"channel_id" json:"channel_id"`
	Platform        Platform    `db:"platform" json:"platform"`
	ExternalVideoID string      `db:"external_video_id" json:"external_video_id"`
	Slug            string      `db:"slug" json:"slug"`
	Title           string      `db:"title" json:"title"`
	Description     string      `db:"description" json:"description"`
	ThumbnailURL    string      `db:"thumbnail_url" json:"thumbnail_url"`
	Duration        string      `db:"duration" json:"duration"`
	PublishDate     string      `db:"publish_date" json:"publish_date"`
	ViewCountText   string      `db:"view_count_text" json:"view_count_text"`
	ContentType     ContentType `db:"content_type" json:"content_type"`
	Categories      []string    `db:"categories" json:"categories"`
	Tags            []string    `db:"tags" json:"tags"`
	ClassifiedAt    *time.Time  `db:"classified_at" json:"classified_at,omitempty"`
	CreatedAt       time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time   `db:"updated_at" json:"updated_at"`
}

// VideoFilters narrows catalog listings.
type VideoFilters struct {
	ChannelID   int64       `json:"channel_id,omitempty"`
	ContentType ContentType `json:"content_type,omitempty"`
	Category    string      `json:"category,omitempty"`
	Limit       int         `json:"limit"`
	Offset      int         `json:"offset"`
}
