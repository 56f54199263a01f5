package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"tripcache/internal/app"
	"tripcache/internal/cache"
)

func (c *cli) newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the response cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show entry counts and sizes per partition",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(ctx context.Context, a *app.App, out io.Writer, _ []string) error {
			stats, err := a.Cache().Stats(ctx)
			if err != nil {
				return err
			}
			return printCacheStats(out, stats)
		}),
	}

	clearCmd := &cobra.Command{
		Use:   "clear-expired",
		Short: "Delete every expired entry",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(ctx context.Context, a *app.App, out io.Writer, _ []string) error {
			n, err := a.Cache().ClearExpired(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Removed %d expired entries.\n", n)
			return nil
		}),
	}

	ttlCmd := &cobra.Command{
		Use:   "ttl",
		Short: "Show the effective TTL of every partition",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(_ context.Context, a *app.App, out io.Writer, _ []string) error {
			fmt.Fprint(out, a.TTLs().Report())
			return nil
		}),
	}

	var asEnv bool
	presetsCmd := &cobra.Command{
		Use:   "presets [name]",
		Short: "List the TTL presets, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				return writeYAML(out, cache.Presets())
			}
			p, ok := cache.LookupPreset(args[0])
			if !ok {
				return fmt.Errorf("unknown preset %q", args[0])
			}
			if asEnv {
				printPresetEnv(out, p)
				return nil
			}
			return writeYAML(out, p)
		},
	}
	presetsCmd.Flags().BoolVar(&asEnv, "env", false, "print the preset as environment variables")

	cmd.AddCommand(statsCmd, clearCmd, ttlCmd, presetsCmd)
	return cmd
}

func printCacheStats(out io.Writer, stats cache.Stats) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PARTITION\tFILES\tBYTES")
	for _, p := range cache.StoragePartitions {
		ps := stats.Partitions[p]
		fmt.Fprintf(w, "%s\t%d\t%d\n", p, ps.Files, ps.Bytes)
	}
	fmt.Fprintf(w, "total\t%d\t%d\n", stats.TotalFiles, stats.TotalBytes)
	return w.Flush()
}

var presetEnvNames = map[cache.Partition]string{
	cache.PartitionPlaces:   "CACHE_PLACES_TTL_HOURS",
	cache.PartitionImages:   "CACHE_IMAGES_TTL_HOURS",
	cache.PartitionSearches: "CACHE_SEARCHES_TTL_HOURS",
}

func printPresetEnv(out io.Writer, p cache.Preset) {
	overrides := p.Overrides()
	lines := make([]string, 0, len(overrides))
	for partition, hours := range overrides {
		lines = append(lines, presetEnvNames[partition]+"="+hours)
	}
	sort.Strings(lines)
	for _, l := range lines {
		fmt.Fprintln(out, l)
	}
}

func writeYAML(out io.Writer, v any) error {
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode yaml: %w", err)
	}
	return enc.Close()
}
