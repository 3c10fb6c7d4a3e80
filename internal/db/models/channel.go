package models

import "time"

// Platform identifies the external site a channel lives on.
type Platform string

const (
	PlatformYouTube Platform = "youtube"
	PlatformTikTok  Platform = "tiktok"
)

// Valid reports whether p is a supported platform.
func (p Platform) Valid() bool {
	return p == PlatformYouTube || p == PlatformTikTok
}

// Channel represents an external channel whose listing page we scrape.
type Channel struct {
	ID            int64      `db:"id" json:"id"`
	Name          string     `db:"name" json:"name"`
	URL           string     `db:"url" json:"url"`
	Platform      Platform   `db:"platform" json:"platform"`
	ExternalID    string     `db:"external_id" json:"external_id"`
	LastScrapedAt *time.Time `db:"last_scraped_at" json:"last_scraped_at,omitempty"`
	VideoCount    int        `db:"video_count" json:"video_count"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// NewChannel creates a new Channel that has never been scraped.
func NewChannel(name, url string, platform Platform) *Channel {
	now := time.Now()
	return &Channel{
		Name:      name,
		URL:       url,
		Platform:  platform,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsDue reports whether the channel should be refreshed at now given the
// refresh interval. Never-scraped channels are always due.
func (c *Channel) IsDue(now time.Time, interval time.Duration) bool {
	if c.LastScrapedAt == nil {
		return true
	}
	return now.Sub(*c.LastScrapedAt) > interval
}

// DisplayName falls back to the URL for channels whose name is not yet known.
func (c *Channel) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.URL
}
