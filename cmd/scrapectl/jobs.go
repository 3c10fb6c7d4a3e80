package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ad-tracker/video-aggregator-go/internal/app"
)

var (
	jobsLimit      int
	staleOlderThan time.Duration
)

var jobsCmd = &cobra.Command{
	Use:   "jobs [job ID]",
	Short: "List recent jobs or show one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app.App) error {
			if len(args) == 1 {
				id, err := uuid.Parse(args[0])
				if err != nil {
					return fmt.Errorf("invalid job ID: %w", err)
				}
				job, err := a.Tracker.Get(cmd.Context(), id)
				if err != nil {
					return fmt.Errorf("failed to load job: %w", err)
				}
				return printJSON(job)
			}

			list, err := a.Tracker.List(cmd.Context(), jobsLimit, 0)
			if err != nil {
				return fmt.Errorf("failed to list jobs: %w", err)
			}
			return printJSON(list)
		})
	},
}

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Fail jobs stuck in running",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app.App) error {
			n, err := a.Tracker.RecoverStale(cmd.Context(), staleOlderThan)
			if err != nil {
				return err
			}
			fmt.Printf("%d job(s) marked failed\n", n)
			return nil
		})
	},
}

func init() {
	jobsCmd.Flags().IntVar(&jobsLimit, "limit", 20, "number of jobs to list")
	recoverCmd.Flags().DurationVar(&staleOlderThan, "older-than", 2*time.Hour, "running time after which a job is considered stuck")
	jobsCmd.AddCommand(recoverCmd)
}
