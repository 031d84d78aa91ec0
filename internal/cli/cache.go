package cli

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage the audio cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print cache occupancy and hit-rate statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			stats := a.cache.GetStats()
			fmt.Printf("entries:     %d\n", stats.Entries)
			fmt.Printf("size:        %s / %s\n", humanize.Bytes(uint64(stats.TotalBytes)), humanize.Bytes(uint64(stats.MaxBytes)))
			fmt.Printf("hits/misses: %d / %d (%.1f%% hit rate)\n", stats.Hits, stats.Misses, stats.HitRate()*100)
			fmt.Printf("evictions:   %d\n", stats.Evictions)
			fmt.Printf("prefetch:    %d hits / %d total\n", stats.PrefetchHits, stats.PrefetchCount)
			for provider, count := range stats.EntriesByProvider {
				fmt.Printf("  %-12s %d entries\n", provider, count)
			}
			return nil
		})
	},
}

var cacheEvictExpiredCmd = &cobra.Command{
	Use:   "evict-expired",
	Short: "Remove every expired cache entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			n, err := a.cache.EvictExpired(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("evicted %d expired entries\n", n)
			return nil
		})
	},
}

var cacheEvictLRUTargetMB int64

var cacheEvictLRUCmd = &cobra.Command{
	Use:   "evict-lru",
	Short: "Evict least-recently-used entries until under a target size",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return a.cache.EvictLRU(ctx, cacheEvictLRUTargetMB*1024*1024)
		})
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every cache entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if err := a.cache.Clear(ctx); err != nil {
				return err
			}
			fmt.Println("cache cleared")
			return nil
		})
	},
}

func init() {
	cacheEvictLRUCmd.Flags().Int64Var(&cacheEvictLRUTargetMB, "target-mb", 0, "target cache size in MB after eviction")
	cacheCmd.AddCommand(cacheStatsCmd, cacheEvictExpiredCmd, cacheEvictLRUCmd, cacheClearCmd)
}
