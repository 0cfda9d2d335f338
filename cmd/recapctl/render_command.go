package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newRenderCommand(ctx *commandContext) *cobra.Command {
	var edits editFlags

	cmd := &cobra.Command{
		Use:   "render <input> <output>",
		Short: "Render a video locally with the given options",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := edits.options()
			if err != nil {
				return err
			}

			svc, err := ctx.ffmpeg()
			if err != nil {
				return err
			}

			start := time.Now()
			result := svc.Render(cmd.Context(), args[0], args[1], opts)
			if !result.OK {
				return fmt.Errorf("render failed: %s", result.Message)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Rendered %s in %s\n", result.OutputPath, time.Since(start).Round(time.Millisecond))
			return nil
		},
	}

	addEditFlags(cmd, &edits)
	return cmd
}
