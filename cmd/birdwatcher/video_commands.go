package main

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"birdwatcher/internal/config"
	"birdwatcher/internal/pipeline"
	"birdwatcher/internal/store"
)

func newVideoCommand(ctx *commandContext) *cobra.Command {
	videoCmd := &cobra.Command{
		Use:   "video",
		Short: "Add and manage recordings",
	}
	videoCmd.AddCommand(newVideoAddCommand(ctx))
	videoCmd.AddCommand(newVideoListCommand(ctx))
	videoCmd.AddCommand(newVideoShowCommand(ctx))
	videoCmd.AddCommand(newVideoCancelCommand(ctx))
	videoCmd.AddCommand(newVideoReprocessCommand(ctx))
	videoCmd.AddCommand(newVideoDeleteCommand(ctx))
	return videoCmd
}

func newVideoAddCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "add <file>...",
		Short: "Copy recordings into the library and queue them for processing",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(svc *pipeline.Service, _ *store.Store) error {
				out := cmd.OutOrStdout()
				for _, arg := range args {
					path, err := config.ExpandPath(arg)
					if err != nil {
						return err
					}
					video, err := svc.Ingest(cmd.Context(), path, store.SourceUpload)
					if err != nil {
						return fmt.Errorf("add %s: %w", filepath.Base(path), err)
					}
					fmt.Fprintf(out, "Queued video %d (%s)\n", video.ID, video.Filename)
				}
				return nil
			})
		},
	}
}

func newVideoListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recordings",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := make([]store.VideoStatus, 0, len(statuses))
			for _, value := range statuses {
				status, err := store.ParseVideoStatus(value)
				if err != nil {
					return err
				}
				filter = append(filter, status)
			}
			return ctx.withStore(func(st *store.Store) error {
				videos, err := st.ListVideos(cmd.Context(), filter...)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, videos)
				}
				out := cmd.OutOrStdout()
				if len(videos) == 0 {
					fmt.Fprintln(out, "No videos found")
					return nil
				}
				rows := make([][]string, 0, len(videos))
				for _, v := range videos {
					rows = append(rows, []string{
						strconv.FormatInt(v.ID, 10),
						v.Filename,
						string(v.Source),
						string(v.Status),
						strconv.Itoa(v.DurationSeconds),
						strconv.Itoa(v.FrameCount),
						formatTimePtr(v.RecordedAt),
					})
				}
				fmt.Fprint(out, renderTable(
					[]string{"ID", "File", "Source", "Status", "Seconds", "Frames", "Recorded"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (pending, processing, completed, failed)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newVideoShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a recording with its jobs, metrics and detections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "video")
			if err != nil {
				return err
			}
			return ctx.withService(func(svc *pipeline.Service, st *store.Store) error {
				status, err := svc.ProcessingStatus(cmd.Context(), id)
				if err != nil {
					return err
				}
				summary, err := st.SummarizeMetrics(cmd.Context(), id)
				if err != nil {
					return err
				}
				detections, err := st.ListDetectionsByVideo(cmd.Context(), id)
				if err != nil {
					return err
				}
				renderVideo(cmd, status, summary, detections)
				return nil
			})
		},
	}
}

func renderVideo(cmd *cobra.Command, status pipeline.Status, summary store.MetricsSummary, detections []*store.Detection) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	v := status.Video

	printSection(out, fmt.Sprintf("Video %d", v.ID), colorize)
	kind := statusInfo
	switch v.Status {
	case store.VideoCompleted:
		kind = statusOK
	case store.VideoFailed:
		kind = statusError
	}
	fmt.Fprintln(out, renderStatusLine("Status", kind, fmt.Sprintf("%s (%d%%)", v.Status, status.OverallProgress), colorize))
	if v.ErrorMessage != "" {
		fmt.Fprintln(out, renderStatusLine("Error", statusError, v.ErrorMessage, colorize))
	}
	fmt.Fprintln(out, renderStatusLine("File", statusInfo, v.Filepath, colorize))
	fmt.Fprintln(out, renderStatusLine("Source", statusInfo, string(v.Source), colorize))
	fmt.Fprintln(out, renderStatusLine("Duration", statusInfo, fmt.Sprintf("%ds, %d frames", v.DurationSeconds, v.FrameCount), colorize))
	fmt.Fprintln(out, renderStatusLine("Recorded", statusInfo,
		fmt.Sprintf("%s (%s)", formatTimePtr(v.RecordedAt), dash(string(v.RecordedAtSource))), colorize))
	fmt.Fprintln(out)

	if len(status.Jobs) > 0 {
		rows := make([][]string, 0, len(status.Jobs))
		for _, job := range status.Jobs {
			rows = append(rows, []string{
				strconv.FormatInt(job.ID, 10),
				displayLabel(string(job.Type)),
				string(job.Status),
				strconv.Itoa(job.Progress) + "%",
				dash(job.ErrorMessage),
			})
		}
		fmt.Fprint(out, renderTable([]string{"Job", "Stage", "Status", "Progress", "Error"}, rows,
			[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft}))
		fmt.Fprintln(out)
	}

	if summary.Batches > 0 {
		fmt.Fprintf(out, "Frames: %d total, %d analyzed, %d skipped (quality/duplicate), %d without birds\n\n",
			summary.TotalFrames, summary.AnalyzedFrames(), summary.SkippedLowQualityDuplicate, summary.SkippedNoBirds)
	}

	if len(detections) == 0 {
		fmt.Fprintln(out, "No detections")
		return
	}
	rows := make([][]string, 0, len(detections))
	for _, d := range detections {
		profile := "-"
		if d.BirdProfileID != nil {
			profile = strconv.FormatInt(*d.BirdProfileID, 10)
		}
		rows = append(rows, []string{
			strconv.FormatInt(d.ID, 10),
			strconv.Itoa(d.FrameNumber),
			fmt.Sprintf("%.1f", d.TimestampInVideo),
			d.Species,
			d.Gender,
			fmt.Sprintf("%.0f", d.ConfidenceScore),
			profile,
		})
	}
	fmt.Fprint(out, renderTable([]string{"Detection", "Frame", "Seconds", "Species", "Gender", "Confidence", "Profile"}, rows,
		[]columnAlignment{alignRight, alignRight, alignRight, alignLeft, alignLeft, alignRight, alignRight}))
}

func newVideoCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Stop processing a recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "video")
			if err != nil {
				return err
			}
			return ctx.withService(func(svc *pipeline.Service, _ *store.Store) error {
				removed, err := svc.Cancel(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cancelled video %d (%d pending jobs removed)\n", id, removed)
				return nil
			})
		},
	}
}

func newVideoReprocessCommand(ctx *commandContext) *cobra.Command {
	var from string
	cmd := &cobra.Command{
		Use:   "reprocess <id>",
		Short: "Clear a recording's results and run it again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "video")
			if err != nil {
				return err
			}
			stage, err := store.ParseJobType(from)
			if err != nil {
				return err
			}
			return ctx.withService(func(svc *pipeline.Service, _ *store.Store) error {
				if err := svc.Reprocess(cmd.Context(), id, stage); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Video %d queued from %s\n", id, stage)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", string(store.JobFrameExtraction), "Stage to restart at (frame_extraction or bird_identification)")
	return cmd
}

func newVideoDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a recording, its frames and its detections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "video")
			if err != nil {
				return err
			}
			return ctx.withService(func(svc *pipeline.Service, _ *store.Store) error {
				if err := svc.DeleteVideo(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted video %d\n", id)
				return nil
			})
		},
	}
}
