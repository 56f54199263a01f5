package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"tripcache/internal/app"
	"tripcache/internal/exchangelog"
)

func (c *cli) newExchangesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exchanges",
		Short: "Inspect and prune the LLM exchange log",
	}

	statsCmd := &cobra.Command{
		Use:   "stats [itinerary-id]",
		Short: "Summarise recorded requests and responses",
		Args:  cobra.MaximumNArgs(1),
		RunE: c.withApp(func(_ context.Context, a *app.App, out io.Writer, args []string) error {
			var (
				v   any
				err error
			)
			if len(args) == 1 {
				v, err = a.Exchanges().Stats(args[0])
			} else {
				v, err = a.Exchanges().AllStats()
			}
			if err != nil {
				return err
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(v)
		}),
	}

	var (
		days      int
		itinerary string
	)
	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete exchange records older than the retention period",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(ctx context.Context, a *app.App, out io.Writer, _ []string) error {
			res := a.Exchanges().Cleanup(ctx, days, itinerary)
			fmt.Fprintf(out, "Deleted %d files.\n", res.Deleted)
			for _, e := range res.Errors {
				fmt.Fprintln(out, "error:", e)
			}
			if len(res.Errors) > 0 {
				return fmt.Errorf("cleanup finished with %d errors", len(res.Errors))
			}
			return nil
		}),
	}
	cleanupCmd.Flags().IntVar(&days, "days", exchangelog.DefaultRetentionDays, "retention in days")
	cleanupCmd.Flags().StringVar(&itinerary, "itinerary", "", "only prune this itinerary")

	cmd.AddCommand(statsCmd, cleanupCmd)
	return cmd
}
