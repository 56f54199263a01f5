package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"tripcache/internal/app"
	"tripcache/internal/quota"
)

func (c *cli) newQuotaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Inspect and manage daily API quotas",
	}

	var userID string
	statusCmd := &cobra.Command{
		Use:   "status <service> <endpoint>",
		Short: "Show today's usage of one endpoint against the service limit",
		Args:  cobra.ExactArgs(2),
		RunE: c.withApp(func(ctx context.Context, a *app.App, out io.Writer, args []string) error {
			s := a.Tracker().Status(ctx, quota.Call{Service: args[0], Endpoint: args[1], UserID: userID})
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SERVICE\tENDPOINT\tUSER\tDATE\tUSED\tLIMIT\tREMAINING\tENABLED")
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%t\n",
				s.Service, s.Endpoint, s.UserID, s.Date, s.Usage, s.DailyLimit, s.Remaining, s.Enabled)
			return w.Flush()
		}),
	}
	statusCmd.Flags().StringVar(&userID, "user", "", "user id (default: the global counter)")

	var (
		limit    int64
		limitSet bool
		enable   bool
		disable  bool
	)
	setCmd := &cobra.Command{
		Use:   "set <service>",
		Short: "Change the daily limit or enable/disable a service",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			limitSet = cmd.Flags().Changed("limit")
			if !limitSet && !enable && !disable {
				return fmt.Errorf("nothing to change: pass --limit, --enable or --disable")
			}
			return nil
		},
		RunE: c.withApp(func(ctx context.Context, a *app.App, out io.Writer, args []string) error {
			var update quota.ConfigUpdate
			if limitSet {
				update.DailyLimit = &limit
			}
			switch {
			case enable:
				v := true
				update.Enabled = &v
			case disable:
				v := false
				update.Enabled = &v
			}

			cfg, err := a.Tracker().UpdateConfig(ctx, args[0], update)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s: daily limit %d, enabled %t\n", cfg.Service, cfg.DailyLimit, cfg.Enabled)
			return nil
		}),
	}
	setCmd.Flags().Int64Var(&limit, "limit", 0, "new daily limit")
	setCmd.Flags().BoolVar(&enable, "enable", false, "enable the service")
	setCmd.Flags().BoolVar(&disable, "disable", false, "disable the service")
	setCmd.MarkFlagsMutuallyExclusive("enable", "disable")

	var date string
	resetCmd := &cobra.Command{
		Use:   "reset <service>",
		Short: "Delete the usage counters of a service for one day",
		Args:  cobra.ExactArgs(1),
		RunE: c.withApp(func(ctx context.Context, a *app.App, out io.Writer, args []string) error {
			n, err := a.Tracker().ResetDailyUsage(ctx, args[0], date)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Reset %d counters.\n", n)
			return nil
		}),
	}
	resetCmd.Flags().StringVar(&date, "date", "", "day to reset, YYYY-MM-DD (default: today, UTC)")

	var days int
	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete usage counters older than the retention period",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(ctx context.Context, a *app.App, out io.Writer, _ []string) error {
			n, err := a.Tracker().CleanupOldRecords(ctx, days)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Deleted %d counters.\n", n)
			return nil
		}),
	}
	cleanupCmd.Flags().IntVar(&days, "days", quota.DefaultRetentionDays, "retention in days")

	cmd.AddCommand(statusCmd, setCmd, resetCmd, cleanupCmd)
	return cmd
}
