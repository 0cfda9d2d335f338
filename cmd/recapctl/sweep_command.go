package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bobarin/recapmaker/internal/cleanup"
)

func newSweepCommand() *cobra.Command {
	var maxAge time.Duration

	cmd := &cobra.Command{
		Use:   "sweep <dir>...",
		Short: "Delete expired uploads and renders once",
		Long: `Run a single expiry sweep over the given directories, removing regular
files older than --max-age. Hidden files and subdirectories are left alone.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n := cleanup.NewSweeper(0, maxAge, args...).Sweep()
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d file(s)\n", n)
			return nil
		},
	}

	cmd.Flags().DurationVar(&maxAge, "max-age", cleanup.DefaultMaxAge, "Delete files last modified longer ago than this")
	return cmd
}
