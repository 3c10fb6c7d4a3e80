package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ad-tracker/video-aggregator-go/internal/db/models"
	"github.com/ad-tracker/video-aggregator-go/internal/scraper"
)

var (
	scrapePlatform string
	scrapeTimeout  time.Duration
)

// scrapeCmd fetches one listing page without touching the database.
var scrapeCmd = &cobra.Command{
	Use:   "scrape [URL]",
	Short: "Dry-run a channel scrape",
	Long:  `Fetch and parse a channel listing page and print what would be ingested. Nothing is stored.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		platform := models.Platform(scrapePlatform)
		if scrapePlatform == "" {
			platform = platformFromURL(args[0])
		}
		if !platform.Valid() {
			return fmt.Errorf("unsupported platform %q", platform)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), scrapeTimeout)
		defer cancel()

		s := scraper.New(scraper.Config{}, &http.Client{})
		res, err := s.Scrape(ctx, scraper.Request{URL: args[0], Platform: platform})
		if err != nil {
			return fmt.Errorf("failed to scrape %s: %w", args[0], err)
		}
		return printJSON(res)
	},
}

func init() {
	scrapeCmd.Flags().StringVar(&scrapePlatform, "platform", "", "youtube or tiktok (guessed from the URL when empty)")
	scrapeCmd.Flags().DurationVar(&scrapeTimeout, "timeout", 45*time.Second, "overall timeout")
}

func platformFromURL(raw string) models.Platform {
	u, err := url.Parse(raw)
	if err == nil && strings.HasSuffix(strings.ToLower(u.Hostname()), "tiktok.com") {
		return models.PlatformTikTok
	}
	return models.PlatformYouTube
}
