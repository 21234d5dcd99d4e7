package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"birdwatcher/internal/pipeline"
	"birdwatcher/internal/store"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and retry processing jobs",
	}
	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsRetryCommand(ctx))
	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var videoID int64
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List processing jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := store.JobFilter{VideoID: videoID, Limit: limit}
			for _, value := range statuses {
				filter.Statuses = append(filter.Statuses, store.JobStatus(value))
			}
			return ctx.withStore(func(st *store.Store) error {
				jobs, err := st.ListJobs(cmd.Context(), filter)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(jobs) == 0 {
					fmt.Fprintln(out, "No jobs found")
					return nil
				}
				rows := make([][]string, 0, len(jobs))
				for _, job := range jobs {
					rows = append(rows, []string{
						strconv.FormatInt(job.ID, 10),
						strconv.FormatInt(job.VideoID, 10),
						displayLabel(string(job.Type)),
						string(job.Status),
						strconv.Itoa(job.Progress) + "%",
						formatTimePtr(job.CompletedAt),
						dash(job.ErrorMessage),
					})
				}
				fmt.Fprint(out, renderTable(
					[]string{"Job", "Video", "Stage", "Status", "Progress", "Completed", "Error"},
					rows,
					[]columnAlignment{alignRight, alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (pending, active, completed, failed)")
	cmd.Flags().Int64Var(&videoID, "video", 0, "Only jobs for this video")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum rows")
	return cmd
}

func newJobsRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>...",
		Short: "Return failed jobs to the queue",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := parseID(arg, "job")
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			return ctx.withService(func(svc *pipeline.Service, _ *store.Store) error {
				for _, id := range ids {
					if err := svc.RetryJob(cmd.Context(), id); err != nil {
						return fmt.Errorf("retry job %d: %w", id, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Job %d queued for retry\n", id)
				}
				return nil
			})
		},
	}
}
