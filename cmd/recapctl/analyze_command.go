package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/bobarin/recapmaker/internal/ratelimit"
	"github.com/bobarin/recapmaker/internal/services"
)

func newAnalyzeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <video>",
		Short: "Transcribe a video and print its Burmese translation",
		Long: `Run the analysis pipeline on a local video: extract the audio track,
transcribe it with Whisper on Groq, then translate the transcript with Gemini.
Requires the same GEMINI_API_KEY* and GROQ_API_KEY* settings as the server.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(args[0]); err != nil {
				return fmt.Errorf("cannot read %s: %w", args[0], err)
			}

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			svc, err := ctx.ffmpeg()
			if err != nil {
				return err
			}

			keys := ratelimit.New(cfg.GeminiKeys, ratelimit.WithRPMLimit(cfg.GeminiRPMLimit))
			translator := services.NewTranslator(
				services.NewGeminiProvider(cfg.GeminiBaseURL),
				keys,
				services.NewMemoryModelCache(),
				services.TranslatorConfig{
					MaxAttempts:   cfg.TranslationMaxAttempts,
					ModelTag:      cfg.GeminiModelTag,
					FallbackModel: cfg.GeminiFallbackModel,
				},
			)
			transcriber := services.NewWhisperTranscriber(cfg.GroqKey, cfg.GroqBaseURL, cfg.TranscriptionModel)
			analyzer := services.NewAnalyzer(svc, transcriber, translator, filepath.Join(os.TempDir(), "recapctl"))

			text, err := analyzer.Analyze(cmd.Context(), args[0])
			if err != nil {
				return errors.New(services.DescribeError(err))
			}

			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
}
