package main

import (
	"github.com/spf13/cobra"

	"github.com/bobarin/recapmaker/internal/config"
)

func newRootCommand() *cobra.Command {
	ffmpegBin, ffprobeBin, _ := config.Tools()
	ctx := newCommandContext()

	rootCmd := &cobra.Command{
		Use:           "recapctl",
		Short:         "Recap Maker operator CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&ctx.ffmpegBin, "ffmpeg", ffmpegBin, "Path to the ffmpeg binary")
	flags.StringVar(&ctx.ffprobeBin, "ffprobe", ffprobeBin, "Path to the ffprobe binary")
	flags.StringVar(&ctx.server, "server", "http://localhost:7860", "Base URL of a running Recap Maker server")
	flags.StringVar(&ctx.apiKey, "api-key", "", "API key for the server (X-API-Key)")

	rootCmd.AddCommand(newPlanCommand(ctx))
	rootCmd.AddCommand(newRenderCommand(ctx))
	rootCmd.AddCommand(newAnalyzeCommand(ctx))
	rootCmd.AddCommand(newSweepCommand())
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newKeysCommand(ctx))

	return rootCmd
}
