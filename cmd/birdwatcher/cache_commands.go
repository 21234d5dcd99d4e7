package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"birdwatcher/internal/ipc"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the daemon's vision response cache",
	}
	cacheCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show cache occupancy and hit rate",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.CacheStats()
				if err != nil {
					return err
				}
				stats := resp.Stats
				hitRate := "-"
				if lookups := stats.Hits + stats.Misses; lookups > 0 {
					hitRate = fmt.Sprintf("%.1f%%", float64(stats.Hits)*100/float64(lookups))
				}
				rows := [][]string{
					{"Entries", fmt.Sprintf("%d / %d", stats.Entries, stats.MaxEntries)},
					{"Hits", fmt.Sprint(stats.Hits)},
					{"Misses", fmt.Sprint(stats.Misses)},
					{"Hit rate", hitRate},
					{"TTL", stats.TTL.String()},
					{"Tokens in window", fmt.Sprint(stats.TokensUsed)},
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Cache", "Value"}, rows, []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	})
	cacheCmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Drop every cached vision response",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ClearCache()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d cached responses\n", resp.Cleared)
				return nil
			})
		},
	})
	return cacheCmd
}
