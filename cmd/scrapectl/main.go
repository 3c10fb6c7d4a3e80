package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ad-tracker/video-aggregator-go/internal/app"
	"github.com/ad-tracker/video-aggregator-go/internal/config"
	"github.com/ad-tracker/video-aggregator-go/pkg/logger"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "scrapectl",
	Short: "Operator tool for the video aggregator",
	Long:  `Dry-run scrapes, one-off runs, classification passes and job inspection against the configured database.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()
		return logger.Init(logLevel, "")
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.AddCommand(scrapeCmd, runOnceCmd, classifyCmd, jobsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// withApp loads configuration, builds the component graph and closes it
// after fn returns.
func withApp(ctx context.Context, fn func(*app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(a)
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format result: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
