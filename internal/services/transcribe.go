package services

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const (
	DefaultGroqBaseURL        = "https://api.groq.com/openai/v1"
	DefaultTranscriptionModel = "whisper-large-v3-turbo"
)

// Transcriber turns speech in an audio file into text. An empty string with a
// nil error means the audio had nothing to transcribe.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// WhisperTranscriber talks to any OpenAI-compatible transcription endpoint.
// By default it targets Groq.
type WhisperTranscriber struct {
	client *openai.Client
	model  string
}

func NewWhisperTranscriber(apiKey, baseURL, model string) *WhisperTranscriber {
	if baseURL == "" {
		baseURL = DefaultGroqBaseURL
	}
	if model == "" {
		model = DefaultTranscriptionModel
	}

	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL

	return &WhisperTranscriber{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

func (s *WhisperTranscriber) Transcribe(ctx context.Context, audioPath string) (string, error) {
	resp, err := s.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    s.model,
		FilePath: audioPath,
		Format:   openai.AudioResponseFormatText,
	})
	if err != nil {
		return "", fmt.Errorf("transcription request failed: %w", err)
	}

	text := strings.TrimSpace(resp.Text)
	log.Printf("[Transcribe] %s: %d chars", filepath.Base(audioPath), len(text))
	return text, nil
}
