package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/bobarin/recapmaker/internal/ratelimit"
)

func newKeysCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "Show Gemini key usage and cooldowns on a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var states []ratelimit.CredentialState
			if err := ctx.getJSON(cmd.Context(), "/debug/keys", &states); err != nil {
				return err
			}
			printKeys(cmd.OutOrStdout(), states, time.Now())
			return nil
		},
	}
}

func printKeys(out io.Writer, states []ratelimit.CredentialState, now time.Time) {
	if len(states) == 0 {
		fmt.Fprintln(out, "No keys configured.")
		return
	}

	rows := make([][]string, 0, len(states))
	for i, s := range states {
		state := "ready"
		if s.CoolingDown {
			state = fmt.Sprintf("cooling down (%s left)", s.CooldownUntil.Sub(now).Round(time.Second))
		}
		rows = append(rows, []string{strconv.Itoa(i + 1), s.Key, strconv.Itoa(s.Usage), state})
	}

	fmt.Fprintln(out, renderTable(out, []string{"#", "Key", "Used", "State"}, rows, []columnAlignment{alignRight, alignLeft, alignRight}))
}
