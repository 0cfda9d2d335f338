package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ElevenLabs voices the translated narration script through the
// text-to-speech REST API.

const (
	elevenLabsBaseURL      = "https://api.elevenlabs.io"
	elevenLabsDefaultModel = "eleven_flash_v2_5"
	elevenLabsOutputFormat = "mp3_44100_128"
)

// DefaultVoices are used when no voice IDs are configured.
var DefaultVoices = Voices{
	Male:   "pNInz6obpgDQGcFmaJgB",
	Female: "21m00Tcm4TlvDq8ikWAM",
}

// ElevenLabsService implements Synthesizer.
type ElevenLabsService struct {
	apiKey   string
	baseURL  string
	model    string
	client   *http.Client
}

var _ Synthesizer = (*ElevenLabsService)(nil)

// NewElevenLabsService creates an ElevenLabs client. baseURL and model are
// optional; the model must cover the narration language.
func NewElevenLabsService(apiKey, baseURL, model string) *ElevenLabsService {
	if baseURL == "" {
		baseURL = elevenLabsBaseURL
	}
	if model == "" {
		model = elevenLabsDefaultModel
	}
	return &ElevenLabsService{
		apiKey:   apiKey,
		baseURL:  strings.TrimRight(baseURL, "/"),
		model:    model,
		client:   &http.Client{Timeout: 90 * time.Second},
	}
}

type speechRequest struct {
	Text     string        `json:"text"`
	ModelID  string        `json:"model_id"`
	Settings *voiceSetting `json:"voice_settings,omitempty"`
}

type voiceSetting struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// narratorSetting keeps a recap voice steady across long scripts.
var narratorSetting = voiceSetting{Stability: 0.5, SimilarityBoost: 0.75}

// Synthesize voices text with voiceID and writes the mp3 to outputPath.
// An empty voiceID selects the default male narrator.
func (s *ElevenLabsService) Synthesize(ctx context.Context, text, voiceID, outputPath string) error {
	if voiceID == "" {
		voiceID = DefaultVoices.Male
	}

	payload, err := json.Marshal(speechRequest{Text: text, ModelID: s.model, Settings: &narratorSetting})
	if err != nil {
		return fmt.Errorf("failed to encode speech request: %w", err)
	}

	target := fmt.Sprintf("%s/v1/text-to-speech/%s?%s", s.baseURL, url.PathEscape(voiceID),
		url.Values{"output_format": {elevenLabsOutputFormat}}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build speech request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("xi-api-key", s.apiKey)

	started := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("speech request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 300))
		return fmt.Errorf("ElevenLabs returned status %d: %s", resp.StatusCode, detail)
	}

	n, err := saveAudio(outputPath, resp.Body)
	if err != nil {
		return err
	}
	log.Printf("[ElevenLabs] %d chars with voice %s -> %d bytes in %v", len([]rune(text)), voiceID, n, time.Since(started).Round(time.Millisecond))
	return nil
}
