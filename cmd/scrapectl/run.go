package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ad-tracker/video-aggregator-go/internal/app"
	"github.com/ad-tracker/video-aggregator-go/internal/db/models"
)

var runOnceCmd = &cobra.Command{
	Use:   "run-once",
	Short: "Run one scrape pass in the foreground",
	Long:  `Scrape every due channel once, exactly like a scheduled run, and print the summary.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app.App) error {
			summary, err := a.Scheduler.RunOnce(cmd.Context(), models.JobTypeManual)
			if err != nil {
				return fmt.Errorf("run failed: %w", err)
			}
			return printJSON(summary)
		})
	},
}
