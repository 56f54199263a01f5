// Package main is the operator CLI: it inspects and maintains the cache,
// the API quotas and the LLM exchange log of a tripcache deployment.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"tripcache/config"
	"tripcache/internal/app"
	"tripcache/internal/logging"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// cli carries the flags shared by every command.
type cli struct {
	envFile string
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "tripcache",
		Short:         "Inspect and maintain the trip planner cache, API quotas and LLM exchange log",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "dotenv file to read before the environment")

	root.AddCommand(
		c.newCacheCmd(),
		newKeyCmd(),
		c.newQuotaCmd(),
		c.newExchangesCmd(),
	)
	return root
}

// withApp builds the application for one command run and shuts it down afterwards.
func (c *cli) withApp(fn func(ctx context.Context, a *app.App, out io.Writer, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		cfg, err := config.LoadFile(c.envFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		logger := logging.New(logging.Options{
			Level:  cfg.Log.Level,
			Format: cfg.Log.Format,
			Output: cmd.ErrOrStderr(),
		})

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		a, err := app.New(ctx, cfg, app.Options{Logger: logger})
		if err != nil {
			return err
		}
		defer func() {
			if shutdownErr := a.Shutdown(context.Background()); shutdownErr != nil && err == nil {
				err = shutdownErr
			}
		}()

		return fn(ctx, a, cmd.OutOrStdout(), args)
	}
}
