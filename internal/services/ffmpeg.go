package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bobarin/recapmaker/internal/models"
	"github.com/google/uuid"
)

// Encoding policy shared by every render
const (
	videoCodec    = "libx264"
	audioCodec    = "aac"
	encodePreset  = "veryfast"
	pixelFormat   = "yuv420p"
	analysisCodec = "libmp3lame"
	analysisRate  = "64k"

	// Max characters of ffmpeg output kept in a failure message
	diagnosticTail = 600
)

// CommandRunner executes an external tool and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// RenderResult is the outcome of one render. Failures carry a readable
// diagnostic in Message rather than an error value.
type RenderResult struct {
	OK         bool
	OutputPath string
	Message    string
}

// ---------------------------------------------------------------------------
// FFmpegService
// ---------------------------------------------------------------------------

type FFmpegService struct {
	tempDir    string
	ffmpegBin  string
	ffprobeBin string
	run        CommandRunner
}

// FFmpegOption customizes the service.
type FFmpegOption func(*FFmpegService)

// WithBinaries overrides the ffmpeg/ffprobe executables.
func WithBinaries(ffmpegBin, ffprobeBin string) FFmpegOption {
	return func(s *FFmpegService) {
		if ffmpegBin != "" {
			s.ffmpegBin = ffmpegBin
		}
		if ffprobeBin != "" {
			s.ffprobeBin = ffprobeBin
		}
	}
}

// WithRunner replaces command execution (useful for tests).
func WithRunner(run CommandRunner) FFmpegOption {
	return func(s *FFmpegService) {
		if run != nil {
			s.run = run
		}
	}
}

func NewFFmpegService(tempDir string, opts ...FFmpegOption) (*FFmpegService, error) {
	// Create temp directory if it doesn't exist
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	s := &FFmpegService{
		tempDir:    tempDir,
		ffmpegBin:  "ffmpeg",
		ffprobeBin: "ffprobe",
		run:        execRunner,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type probeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe inspects a media file and returns the facts the planner needs.
func (s *FFmpegService) Probe(ctx context.Context, path string) (models.SourceMedia, error) {
	args := []string{
		"-v", "error",
		"-show_format",
		"-show_streams",
		"-of", "json",
		path,
	}

	output, err := s.run(ctx, s.ffprobeBin, args...)
	if err != nil {
		return models.SourceMedia{}, fmt.Errorf("ffprobe failed: %w: %s", err, tail(output))
	}

	var probe probeOutput
	if err := json.Unmarshal(output, &probe); err != nil {
		return models.SourceMedia{}, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	var media models.SourceMedia
	foundVideo := false
	for _, stream := range probe.Streams {
		switch stream.CodecType {
		case "video":
			if !foundVideo {
				media.Width = stream.Width
				media.Height = stream.Height
				foundVideo = true
			}
		case "audio":
			media.HasAudio = true
		}
	}
	if !foundVideo {
		return models.SourceMedia{}, fmt.Errorf("no video stream in %s", filepath.Base(path))
	}

	media.DurationSec, err = strconv.ParseFloat(strings.TrimSpace(probe.Format.Duration), 64)
	if err != nil {
		return models.SourceMedia{}, fmt.Errorf("failed to parse duration %q: %w", probe.Format.Duration, err)
	}

	return media, nil
}

// Duration returns the container duration of any media file in seconds.
func (s *FFmpegService) Duration(ctx context.Context, path string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}

	output, err := s.run(ctx, s.ffprobeBin, args...)
	if err != nil {
		return 0, fmt.Errorf("ffprobe duration failed: %w", err)
	}

	var durationSec float64
	if _, err := fmt.Sscanf(strings.TrimSpace(string(output)), "%f", &durationSec); err != nil {
		return 0, fmt.Errorf("failed to parse duration: %w", err)
	}

	return durationSec, nil
}

// ExtractAudio writes a low-bitrate mp3 of the video's audio track for transcription.
func (s *FFmpegService) ExtractAudio(ctx context.Context, videoPath, outputPath string) error {
	args := []string{
		"-i", videoPath,
		"-vn",
		"-c:a", analysisCodec,
		"-b:a", analysisRate,
		"-f", "mp3",
		"-y",
		outputPath,
	}

	if output, err := s.run(ctx, s.ffmpegBin, args...); err != nil {
		return fmt.Errorf("ffmpeg extract audio failed: %w: %s", err, tail(output))
	}
	return nil
}

// Render probes the input, plans the filter graph and encodes the output.
// It never returns an error: every failure, including a panic inside the
// toolkit wrapper, is folded into a failed RenderResult.
func (s *FFmpegService) Render(ctx context.Context, inputPath, outputPath string, opts models.EditOptions) (result RenderResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[FFmpeg] Render panic for %s: %v", filepath.Base(inputPath), r)
			result = RenderResult{Message: fmt.Sprintf("render panic: %v", r)}
		}
	}()

	src, err := s.Probe(ctx, inputPath)
	if err != nil {
		return RenderResult{Message: err.Error()}
	}

	var narrationSec float64
	if opts.NarrationPath != "" {
		if !fileExists(opts.NarrationPath) {
			log.Printf("[FFmpeg] Narration %s not found, keeping original audio", opts.NarrationPath)
			opts.NarrationPath = ""
		} else {
			narrationSec, err = s.Duration(ctx, opts.NarrationPath)
			if err != nil {
				return RenderResult{Message: fmt.Sprintf("narration probe failed: %v", err)}
			}
		}
	}

	if opts.LogoPath != "" && !fileExists(opts.LogoPath) {
		log.Printf("[FFmpeg] Logo %s not found, rendering without it", opts.LogoPath)
		opts.LogoPath = ""
	}

	plan := PlanFilterGraph(src, opts, narrationSec)
	log.Printf("[FFmpeg] Plan for %s: src=%.2fs %dx%d stages=%v plays=%d tempo=%.3f",
		filepath.Base(inputPath), src.DurationSec, src.Width, src.Height, plan.Stages, plan.Plays, plan.Tempo)

	textFile := ""
	if plan.Has(StageText) {
		textFile = s.CreateTempFile(fmt.Sprintf("wm_%s.txt", uuid.New().String()[:8]))
		if err := os.WriteFile(textFile, []byte(plan.Text), 0644); err != nil {
			log.Printf("[FFmpeg] Text watermark error: %v (rendering without it)", err)
			plan = plan.Without(StageText)
			textFile = ""
		} else {
			defer s.Cleanup(textFile)
		}
	}

	used, err := s.encodeWithFallback(ctx, inputPath, outputPath, plan, textFile)
	if err != nil {
		return RenderResult{Message: err.Error()}
	}
	if dropped := missingStages(plan, used); len(dropped) > 0 {
		log.Printf("[FFmpeg] Rendered %s without %v", filepath.Base(outputPath), dropped)
	}
	return RenderResult{OK: true, OutputPath: outputPath, Message: "Success"}
}

// encodeWithFallback encodes plan and, when it fails, checks whether the
// cosmetic overlays are to blame by encoding once without all of them. A
// failure there is returned as is. Otherwise each overlay is dropped on its
// own so the ones that work are kept. It returns the plan that was written.
func (s *FFmpegService) encodeWithFallback(ctx context.Context, inputPath, outputPath string, plan FilterPlan, textFile string) (FilterPlan, error) {
	err := s.encode(ctx, inputPath, outputPath, plan, textFile)
	optional := plan.Optional()
	if err == nil || len(optional) == 0 || ctx.Err() != nil {
		return plan, err
	}

	log.Printf("[FFmpeg] Render with %v failed, retrying without cosmetic overlays: %v", optional, err)
	bare := plan.Without(optional...)
	if err := s.encode(ctx, inputPath, outputPath, bare, textFile); err != nil {
		return bare, err
	}
	if len(optional) == 1 {
		return bare, nil
	}

	for _, kind := range optional {
		variant := plan.Without(kind)
		err := s.encode(ctx, inputPath, outputPath, variant, textFile)
		if err == nil {
			return variant, nil
		}
		if ctx.Err() != nil {
			return variant, err
		}
		log.Printf("[FFmpeg] Render without %s failed too: %v", kind, err)
	}

	// The failed attempts overwrote the bare output
	if err := s.encode(ctx, inputPath, outputPath, bare, textFile); err != nil {
		return bare, err
	}
	return bare, nil
}

func missingStages(full, variant FilterPlan) []StageKind {
	var missing []StageKind
	for _, kind := range full.Stages {
		if !variant.Has(kind) {
			missing = append(missing, kind)
		}
	}
	return missing
}

func (s *FFmpegService) encode(ctx context.Context, inputPath, outputPath string, plan FilterPlan, textFile string) error {
	args := []string{"-i", inputPath}
	for _, extra := range plan.ExtraInputs() {
		args = append(args, "-i", extra)
	}

	args = append(args,
		"-filter_complex", plan.FilterComplex(textFile),
		"-map", "[vout]",
	)
	if plan.HasAudioOutput() {
		args = append(args, "-map", "[aout]", "-c:a", audioCodec)
	}
	args = append(args,
		"-c:v", videoCodec,
		"-preset", encodePreset,
		"-pix_fmt", pixelFormat,
		"-shortest", // End when the shorter stream finishes
		"-y",
		outputPath,
	)

	output, err := s.run(ctx, s.ffmpegBin, args...)
	if err != nil {
		return fmt.Errorf("ffmpeg render failed: %w: %s", err, tail(output))
	}
	return nil
}

// escapeFFmpegFilterPath escapes special characters in file paths for FFmpeg filter syntax.
// FFmpeg filter strings treat colons, backslashes, and single quotes specially.
func escapeFFmpegFilterPath(path string) string {
	// Replace backslashes first, then colons (relevant for Windows paths and filter syntax)
	path = strings.ReplaceAll(path, "\\", "\\\\")
	path = strings.ReplaceAll(path, ":", "\\:")
	path = strings.ReplaceAll(path, "'", "'\\''")
	return path
}

// tail keeps the end of tool output, where ffmpeg prints the actual error.
func tail(output []byte) string {
	s := strings.TrimSpace(string(output))
	if len(s) <= diagnosticTail {
		return s
	}
	return "..." + s[len(s)-diagnosticTail:]
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// CreateTempFile creates a temporary file path in the service's temp directory
func (s *FFmpegService) CreateTempFile(filename string) string {
	return filepath.Join(s.tempDir, filename)
}

// Cleanup removes temporary files
func (s *FFmpegService) Cleanup(paths ...string) {
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Printf("[FFmpeg] Failed to remove temp file %s: %v", path, err)
		}
	}
}
