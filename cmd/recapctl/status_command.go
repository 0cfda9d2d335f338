package main

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/bobarin/recapmaker/internal/models"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the status of a render job on a running server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var status models.StatusResponse
			if err := ctx.getJSON(cmd.Context(), "/status/"+url.PathEscape(args[0]), &status); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(status)
			}

			fmt.Fprintf(out, "Job %s: %s\n", args[0], status.Status)
			if status.URL != "" {
				fmt.Fprintf(out, "URL: %s\n", status.URL)
			}
			if status.Message != "" {
				fmt.Fprintf(out, "Message: %s\n", status.Message)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw status as JSON")
	return cmd
}
