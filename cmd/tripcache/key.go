package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"tripcache/internal/cachekey"
)

func newKeyCmd() *cobra.Command {
	var parts bool

	cmd := &cobra.Command{
		Use:   "key <json>",
		Short: "Print the cache key derived from a JSON value",
		Long: `Print the cache key derived from a JSON value.

With --parts, every argument is treated as one plain string part instead.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if parts {
				fmt.Fprintln(cmd.OutOrStdout(), cachekey.DeriveParts(args...))
				return nil
			}
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one JSON argument, got %d", len(args))
			}

			dec := json.NewDecoder(strings.NewReader(args[0]))
			dec.UseNumber()
			var v any
			if err := dec.Decode(&v); err != nil {
				return fmt.Errorf("invalid JSON: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), cachekey.Derive(v))
			return nil
		},
	}
	cmd.Flags().BoolVar(&parts, "parts", false, "hash the arguments as string parts")
	return cmd
}
