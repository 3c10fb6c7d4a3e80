package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ad-tracker/video-aggregator-go/internal/app"
	"github.com/ad-tracker/video-aggregator-go/internal/classify"
)

var classifyLimit int

var classifyCmd = &cobra.Command{
	Use:   "classify [video IDs...]",
	Short: "Classify videos in the foreground",
	Long:  `Classify the given videos, or up to --limit unclassified ones when no IDs are given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ids := make([]int64, 0, len(args))
		for _, arg := range args {
			id, err := strconv.ParseInt(arg, 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid video ID %q", arg)
			}
			ids = append(ids, id)
		}

		return withApp(cmd.Context(), func(a *app.App) error {
			if a.Classify == nil {
				return errors.New("AI classification is disabled (APP_AI_ENABLED)")
			}

			var (
				res *classify.Result
				err error
			)
			if len(ids) > 0 {
				res, err = a.Classify.ClassifyVideos(cmd.Context(), ids)
			} else {
				res, err = a.Classify.ClassifyPending(cmd.Context(), classifyLimit)
			}
			if err != nil {
				return fmt.Errorf("classification failed: %w", err)
			}

			for _, e := range res.Errors {
				cmd.PrintErrln(e)
			}
			return printJSON(res)
		})
	},
}

func init() {
	classifyCmd.Flags().IntVar(&classifyLimit, "limit", 50, "maximum unclassified videos to pick")
}
