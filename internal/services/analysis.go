package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// ErrTranscriptionFailed means the speech step produced no text.
var ErrTranscriptionFailed = errors.New("transcription failed")

// AudioExtractor pulls the audio track out of a video file.
type AudioExtractor interface {
	ExtractAudio(ctx context.Context, videoPath, outputPath string) error
}

// TextTranslator translates one block of text.
type TextTranslator interface {
	Translate(ctx context.Context, text string) (string, error)
}

// Analyzer turns an uploaded video into a translated narration script.
type Analyzer struct {
	extractor   AudioExtractor
	transcriber Transcriber
	translator  TextTranslator
	tempDir     string
}

func NewAnalyzer(extractor AudioExtractor, transcriber Transcriber, translator TextTranslator, tempDir string) *Analyzer {
	return &Analyzer{
		extractor:   extractor,
		transcriber: transcriber,
		translator:  translator,
		tempDir:     tempDir,
	}
}

// Analyze returns the translated narration script for videoPath. The
// intermediate audio file is removed on every exit path.
func (a *Analyzer) Analyze(ctx context.Context, videoPath string) (string, error) {
	audioPath := filepath.Join(a.tempDir, fmt.Sprintf("temp_%s.mp3", uuid.New().String()[:8]))
	defer removeQuietly(audioPath)

	if err := a.extractor.ExtractAudio(ctx, videoPath, audioPath); err != nil {
		return "", fmt.Errorf("failed to extract audio: %w", err)
	}

	log.Printf("[Analysis] Step 1: transcribing %s", filepath.Base(videoPath))
	english, err := a.transcriber.Transcribe(ctx, audioPath)
	if err != nil {
		log.Printf("[Analysis] Transcription error: %v", err)
		return "", fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}
	if english == "" {
		return "", ErrTranscriptionFailed
	}

	log.Printf("[Analysis] Step 2: translating %d chars", len(english))
	translated, err := a.translator.Translate(ctx, english)
	if err != nil {
		var te *TranslationError
		if !errors.As(err, &te) {
			err = &TranslationError{Err: err}
		}
		return "", err
	}
	return translated, nil
}

// Describe runs Analyze and renders the outcome as the text shown to the user.
func (a *Analyzer) Describe(ctx context.Context, videoPath string) string {
	text, err := a.Analyze(ctx, videoPath)
	if err == nil {
		return text
	}
	return DescribeError(err)
}

// DescribeError maps an analysis failure to its user-facing message.
func DescribeError(err error) string {
	var te *TranslationError
	switch {
	case errors.Is(err, ErrTranscriptionFailed):
		return "Transcription Failed (Check Groq Key)"
	case errors.As(err, &te):
		return "Translation Failed: " + te.Error()
	default:
		return "Error: " + err.Error()
	}
}

func removeQuietly(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Printf("[Analysis] Failed to remove %s: %v", path, err)
	}
}
