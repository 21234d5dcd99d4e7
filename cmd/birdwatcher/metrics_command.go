package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"birdwatcher/internal/store"
)

func newMetricsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics [video-id]",
		Short: "Summarize frame filtering per video",
		Long: "Show how many frames were skipped before the full identification call.\n" +
			"With a video id, list the individual batches.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				if len(args) == 1 {
					id, err := parseID(args[0], "video")
					if err != nil {
						return err
					}
					return renderVideoBatches(cmd, st, id)
				}
				return renderMetricsSummary(cmd, st)
			})
		},
	}
}

func renderMetricsSummary(cmd *cobra.Command, st *store.Store) error {
	videos, err := st.ListVideos(cmd.Context())
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(videos))
	for _, v := range videos {
		summary, err := st.SummarizeMetrics(cmd.Context(), v.ID)
		if err != nil {
			return err
		}
		if summary.Batches == 0 {
			continue
		}
		rows = append(rows, metricsRow(strconv.FormatInt(v.ID, 10), v.Filename, summary))
	}
	out := cmd.OutOrStdout()
	if len(rows) == 0 {
		fmt.Fprintln(out, "No processing metrics recorded yet")
		return nil
	}
	fmt.Fprint(out, renderTable(
		[]string{"Video", "File", "Frames", "Skipped quality/dup", "No birds", "Analyzed", "Saved"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight},
	))
	return nil
}

func renderVideoBatches(cmd *cobra.Command, st *store.Store, videoID int64) error {
	batches, err := st.ListMetrics(cmd.Context(), videoID)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(batches) == 0 {
		fmt.Fprintf(out, "No processing metrics for video %d\n", videoID)
		return nil
	}
	rows := make([][]string, 0, len(batches)+1)
	for i, b := range batches {
		rows = append(rows, metricsRow(strconv.Itoa(i+1), formatTime(b.CreatedAt), store.MetricsSummary{
			VideoID:                    b.VideoID,
			Batches:                    1,
			TotalFrames:                b.TotalFrames,
			SkippedLowQualityDuplicate: b.SkippedLowQualityDuplicate,
			SkippedNoBirds:             b.SkippedNoBirds,
		}))
	}
	summary, err := st.SummarizeMetrics(cmd.Context(), videoID)
	if err != nil {
		return err
	}
	rows = append(rows, metricsRow("Total", "", summary))
	fmt.Fprint(out, renderTable(
		[]string{"Batch", "Recorded", "Frames", "Skipped quality/dup", "No birds", "Analyzed", "Saved"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight},
	))
	return nil
}

func metricsRow(label, detail string, s store.MetricsSummary) []string {
	saved := "-"
	if s.TotalFrames > 0 {
		saved = fmt.Sprintf("%.0f%%", float64(s.TotalFrames-s.AnalyzedFrames())*100/float64(s.TotalFrames))
	}
	return []string{
		label,
		detail,
		strconv.Itoa(s.TotalFrames),
		strconv.Itoa(s.SkippedLowQualityDuplicate),
		strconv.Itoa(s.SkippedNoBirds),
		strconv.Itoa(s.AnalyzedFrames()),
		saved,
	}
}
