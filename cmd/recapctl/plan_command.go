package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/bobarin/recapmaker/internal/models"
	"github.com/bobarin/recapmaker/internal/services"
)

func newPlanCommand(ctx *commandContext) *cobra.Command {
	var edits editFlags

	cmd := &cobra.Command{
		Use:   "plan <video>",
		Short: "Show the filter graph a render would use",
		Long: `Probe a video and print the ordered transform stages and the ffmpeg
filter graph a render with the given options would run. Nothing is encoded.

Example:
  recapctl plan clip.mp4 --flip --monetize --text "@channel"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := edits.options()
			if err != nil {
				return err
			}

			svc, err := ctx.ffmpeg()
			if err != nil {
				return err
			}

			src, err := svc.Probe(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			opts = dropMissingInputs(cmd.ErrOrStderr(), opts)

			var narrationSec float64
			if opts.NarrationPath != "" {
				if narrationSec, err = svc.Duration(cmd.Context(), opts.NarrationPath); err != nil {
					return err
				}
			}

			plan := services.PlanFilterGraph(src, opts, narrationSec)
			printPlan(cmd.OutOrStdout(), args[0], plan)
			return nil
		},
	}

	addEditFlags(cmd, &edits)
	return cmd
}

// dropMissingInputs clears logo and narration paths that do not point at a
// file, the same inputs a render would skip.
func dropMissingInputs(warn io.Writer, opts models.EditOptions) models.EditOptions {
	if opts.LogoPath != "" && !isFile(opts.LogoPath) {
		fmt.Fprintf(warn, "logo %s not found, a render would skip it\n", opts.LogoPath)
		opts.LogoPath = ""
	}
	if opts.NarrationPath != "" && !isFile(opts.NarrationPath) {
		fmt.Fprintf(warn, "narration %s not found, a render would keep the original audio\n", opts.NarrationPath)
		opts.NarrationPath = ""
	}
	return opts
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func printPlan(out io.Writer, source string, plan services.FilterPlan) {
	src := plan.Source
	fmt.Fprintf(out, "Source: %s (%dx%d, %.1fs, audio: %v)\n", source, src.Width, src.Height, src.DurationSec, src.HasAudio)
	fmt.Fprintf(out, "Output duration: %.1fs\n\n", plan.Duration)

	if len(plan.Stages) == 0 {
		fmt.Fprintln(out, "No transforms requested; the render is a plain re-encode.")
		return
	}

	fmt.Fprintln(out, renderTable(out, []string{"#", "Stage", "Detail"}, planRows(plan), []columnAlignment{alignRight}))
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Filter graph:")
	fmt.Fprintln(out, plan.FilterComplex("watermark.txt"))
}

func planRows(plan services.FilterPlan) [][]string {
	rows := make([][]string, 0, len(plan.Stages))
	for i, kind := range plan.Stages {
		rows = append(rows, []string{strconv.Itoa(i + 1), string(kind), stageDetail(plan, kind)})
	}
	return rows
}

func stageDetail(plan services.FilterPlan, kind services.StageKind) string {
	switch kind {
	case services.StageAudioSync:
		if plan.Tempo == 0 {
			return fmt.Sprintf("%s (untimed)", filepath.Base(plan.NarrationPath))
		}
		return fmt.Sprintf("%s at tempo %.3f", filepath.Base(plan.NarrationPath), plan.Tempo)
	case services.StageLoop:
		return fmt.Sprintf("%d plays, %.1fs", plan.Plays, plan.Duration)
	case services.StageZoom:
		return fmt.Sprintf("crop to %dx%d", plan.CropW, plan.CropH)
	case services.StageBlur:
		r := plan.Blur
		return fmt.Sprintf("%dx%d at %d,%d", r.W, r.H, r.X, r.Y)
	case services.StageLogo:
		r := plan.Logo
		return fmt.Sprintf("%s %dx%d at %d,%d", filepath.Base(plan.LogoPath), r.W, r.H, r.X, r.Y)
	case services.StageText:
		return fmt.Sprintf("%q at %d,%d", plan.Text, plan.TextX, plan.TextY)
	}
	return ""
}
