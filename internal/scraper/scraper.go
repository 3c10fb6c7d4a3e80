// Package scraper fetches public channel listing pages and extracts the
// channel identity plus newly published videos.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/ad-tracker/video-aggregator-go/internal/db/models"
	"github.com/ad-tracker/video-aggregator-go/internal/retry"
	"github.com/ad-tracker/video-aggregator-go/pkg/logger"
)

const (
	DefaultTimeout          = 20 * time.Second
	DefaultKnownStreakLimit = 12
	DefaultMaxBodyBytes     = 8 << 20

	defaultUserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"
	defaultAcceptLanguage = "en-US,en;q=0.9"
)

// ErrNothingFound means the page yielded neither a channel identity nor any items.
var ErrNothingFound = errors.New("no channel identity or videos found")

// FetchError is a network, timeout or non-2xx failure. It is always retryable.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) RetryClass() retry.Class { return retry.Transient }

// Config controls page fetches.
type Config struct {
	Timeout          time.Duration
	KnownStreakLimit int
	UserAgent        string
	AcceptLanguage   string
	MaxBodyBytes     int64
}

// Request describes one channel listing to scrape. A nil KnownIDs disables
// the known-streak exit and returns every item on the page.
type Request struct {
	URL              string
	Platform         models.Platform
	KnownIDs         map[string]struct{}
	KnownStreakLimit int
}

// ChannelIdentity is what the page says about the channel itself.
type ChannelIdentity struct {
	ExternalID string `json:"external_id"`
	Name       string `json:"name"`
	URL        string `json:"url"`
	AvatarURL  string `json:"avatar_url,omitempty"`
}

func (c ChannelIdentity) empty() bool {
	return c.ExternalID == "" && c.Name == ""
}

// Item is one listing entry.
type Item struct {
	ExternalID    string `json:"external_id"`
	Title         string `json:"title"`
	Description   string `json:"description,omitempty"`
	ThumbnailURL  string `json:"thumbnail_url,omitempty"`
	Duration      string `json:"duration,omitempty"`
	PublishedText string `json:"published_text,omitempty"`
	ViewCountText string `json:"view_count_text,omitempty"`
	IsShort       bool   `json:"is_short"`
}

// Result is the outcome of one scrape. Items holds only entries that were not
// in the known set, in page order.
type Result struct {
	Channel      ChannelIdentity `json:"channel"`
	Items        []Item          `json:"items"`
	Inspected    int             `json:"inspected"`
	StoppedEarly bool            `json:"stopped_early"`
	Degraded     bool            `json:"degraded"`
	Warnings     []string        `json:"warnings,omitempty"`
}

// Scraper fetches and parses listing pages. Safe for concurrent use.
type Scraper struct {
	client   *http.Client
	cfg      Config
	sanitize *bluemonday.Policy
	log      *zap.Logger
}

// New creates a Scraper. A nil client gets a default one.
func New(cfg Config, client *http.Client) *Scraper {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.KnownStreakLimit <= 0 {
		cfg.KnownStreakLimit = DefaultKnownStreakLimit
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.AcceptLanguage == "" {
		cfg.AcceptLanguage = defaultAcceptLanguage
	}
	if client == nil {
		client = &http.Client{}
	}

	return &Scraper{
		client:   client,
		cfg:      cfg,
		sanitize: bluemonday.StrictPolicy(),
		log:      logger.Named("scraper"),
	}
}

// Scrape fetches req.URL and returns the channel identity and new items.
func (s *Scraper) Scrape(ctx context.Context, req Request) (*Result, error) {
	pageURL := ListingURL(req.URL, req.Platform)

	body, err := s.fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	result, err := s.parse(body, req)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", pageURL, err)
	}

	s.log.Debug("scraped listing",
		zap.String("url", pageURL),
		zap.Int("new_items", len(result.Items)),
		zap.Int("inspected", result.Inspected),
		zap.Bool("stopped_early", result.StoppedEarly),
		zap.Bool("degraded", result.Degraded))

	return result, nil
}

func (s *Scraper) parse(body []byte, req Request) (*Result, error) {
	page := parseDocument(body)

	root, blobErr := extractBlob(body, page.scripts)
	if blobErr != nil {
		identity := s.cleanIdentity(page.identity())
		if identity.empty() {
			return nil, ErrNothingFound
		}
		return &Result{
			Channel:  identity,
			Items:    []Item{},
			Degraded: true,
			Warnings: []string{"structured data not found, channel identity taken from meta tags: " + blobErr.Error()},
		}, nil
	}

	identity := s.cleanIdentity(channelIdentity(root))
	all := collectItems(root)

	result := &Result{Items: []Item{}}
	if identity.empty() {
		identity = s.cleanIdentity(page.identity())
		result.Warnings = append(result.Warnings, "channel identity missing from structured data")
	}
	result.Channel = identity

	if identity.empty() && len(all) == 0 {
		return nil, ErrNothingFound
	}

	limit := req.KnownStreakLimit
	if limit <= 0 {
		limit = s.cfg.KnownStreakLimit
	}

	streak := 0
	for _, it := range all {
		result.Inspected++

		if req.KnownIDs != nil {
			if _, known := req.KnownIDs[it.ExternalID]; known {
				streak++
				if streak >= limit {
					result.StoppedEarly = true
					break
				}
				continue
			}
			streak = 0
		}

		result.Items = append(result.Items, s.cleanItem(it))
	}

	return result, nil
}

func (s *Scraper) fetch(ctx context.Context, pageURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", s.cfg.AcceptLanguage)
	// Skips the EU consent interstitial.
	req.Header.Set("Cookie", "CONSENT=YES+1")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: pageURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, &FetchError{URL: pageURL, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		return nil, &FetchError{URL: pageURL, Err: err}
	}
	return body, nil
}

func (s *Scraper) clean(v string) string {
	return strings.TrimSpace(html.UnescapeString(s.sanitize.Sanitize(v)))
}

func (s *Scraper) cleanItem(it Item) Item {
	it.Title = s.clean(it.Title)
	it.Description = s.clean(it.Description)
	it.Duration = s.clean(it.Duration)
	it.PublishedText = s.clean(it.PublishedText)
	it.ViewCountText = s.clean(it.ViewCountText)
	it.ThumbnailURL = safeURL(it.ThumbnailURL)
	return it
}

func (s *Scraper) cleanIdentity(c ChannelIdentity) ChannelIdentity {
	c.ExternalID = s.clean(c.ExternalID)
	c.Name = s.clean(c.Name)
	c.URL = safeURL(c.URL)
	c.AvatarURL = safeURL(c.AvatarURL)
	return c
}

// safeURL keeps absolute http(s) URLs and drops anything else.
func safeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "//") {
		raw = "https:" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ""
	}
	return u.String()
}

// ListingURL points a channel URL at its uploads listing.
func ListingURL(channelURL string, platform models.Platform) string {
	if platform == models.PlatformTikTok {
		return channelURL
	}

	u, err := url.Parse(channelURL)
	if err != nil {
		return channelURL
	}
	path := strings.TrimSuffix(u.Path, "/")
	for _, tab := range []string{"/videos", "/shorts", "/streams"} {
		if strings.HasSuffix(path, tab) {
			return channelURL
		}
	}
	u.Path = path + "/videos"
	return u.String()
}
