package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"birdwatcher/internal/ipc"
	"birdwatcher/internal/store"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, job loop and library status",
		RunE: func(cmd *cobra.Command, args []string) error {
			var daemonStatus *ipc.StatusResponse
			var daemonErr error
			daemonErr = ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Status()
				daemonStatus = resp
				return err
			})

			var stats store.Stats
			if err := ctx.withStore(func(st *store.Store) error {
				var err error
				stats, err = st.Stats(cmd.Context())
				return err
			}); err != nil {
				return err
			}

			if jsonOutput {
				payload := map[string]any{
					"daemon":  daemonStatus,
					"library": libraryStatsJSON(stats),
				}
				if daemonErr != nil {
					payload["daemon_error"] = daemonErr.Error()
				}
				return writeJSON(cmd, payload)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			printSection(out, "Daemon", colorize)
			for _, line := range daemonLines(daemonStatus, daemonErr, colorize) {
				fmt.Fprintln(out, line)
			}
			fmt.Fprintln(out)

			printSection(out, "Library", colorize)
			renderLibraryStats(out, stats)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func daemonLines(status *ipc.StatusResponse, dialErr error, colorize bool) []string {
	if dialErr != nil || status == nil {
		detail := "not running"
		if dialErr != nil {
			detail = dialErr.Error()
		}
		return []string{renderStatusLine("Daemon", statusWarn, detail, colorize)}
	}
	lines := make([]string, 0, 8+len(status.HandlerHealth))
	if status.Running {
		lines = append(lines, renderStatusLine("Daemon", statusOK, fmt.Sprintf("running (pid %d)", status.PID), colorize))
	} else {
		lines = append(lines, renderStatusLine("Daemon", statusWarn, "job loop stopped", colorize))
	}
	lines = append(lines, renderStatusLine("Database", statusInfo, status.DatabasePath, colorize))
	if status.WatcherEnabled {
		lines = append(lines, renderStatusLine("Watch folder", statusOK, status.WatchDir, colorize))
	} else {
		lines = append(lines, renderStatusLine("Watch folder", statusInfo, "disabled", colorize))
	}
	if status.MetricsAddr != "" {
		lines = append(lines, renderStatusLine("Metrics", statusOK, status.MetricsAddr, colorize))
	}
	lines = append(lines, renderStatusLine("Jobs processed", statusInfo,
		fmt.Sprintf("%d (%d failed)", status.Processed, status.Failed), colorize))
	if status.LastError != "" {
		lines = append(lines, renderStatusLine("Last error", statusError, status.LastError, colorize))
	}
	for _, health := range status.HandlerHealth {
		kind := statusOK
		detail := "ready"
		if !health.Ready {
			kind = statusError
			detail = health.Detail
		}
		lines = append(lines, renderStatusLine(displayLabel(health.Name), kind, detail, colorize))
	}
	if status.Cache != nil {
		lines = append(lines, renderStatusLine("Vision cache", statusInfo,
			fmt.Sprintf("%d/%d entries, %d hits, %d misses", status.Cache.Entries, status.Cache.MaxEntries, status.Cache.Hits, status.Cache.Misses), colorize))
	}
	return lines
}

func renderLibraryStats(out io.Writer, stats store.Stats) {
	rows := [][]string{
		{"Bird profiles", strconv.Itoa(stats.Profiles)},
		{"Species", strconv.Itoa(stats.Species)},
		{"Detections", strconv.Itoa(stats.Detections)},
		{"Unmatched detections", strconv.Itoa(stats.UnmatchedPending)},
	}
	for _, row := range sortedCounts(stats.VideosByStatus) {
		rows = append(rows, []string{"Videos " + row[0], row[1]})
	}
	for _, row := range sortedCounts(stats.JobsByStatus) {
		rows = append(rows, []string{"Jobs " + row[0], row[1]})
	}
	fmt.Fprint(out, renderTable([]string{"Metric", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
}

func sortedCounts[K ~string](counts map[K]int) [][]string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []string{k, strconv.Itoa(counts[K(k)])})
	}
	return rows
}

func libraryStatsJSON(stats store.Stats) map[string]any {
	videos := make(map[string]int, len(stats.VideosByStatus))
	for k, v := range stats.VideosByStatus {
		videos[string(k)] = v
	}
	jobs := make(map[string]int, len(stats.JobsByStatus))
	for k, v := range stats.JobsByStatus {
		jobs[string(k)] = v
	}
	return map[string]any{
		"videos":            videos,
		"jobs":              jobs,
		"profiles":          stats.Profiles,
		"species":           stats.Species,
		"detections":        stats.Detections,
		"unmatched_pending": stats.UnmatchedPending,
	}
}
