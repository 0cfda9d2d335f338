package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

const (
	CartesiaAPIVersion = "2024-06-10"

	cartesiaBaseURL      = "https://api.cartesia.ai"
	cartesiaDefaultModel = "sonic-multilingual"
	cartesiaStockVoice   = "a0e99841-438c-4a64-b679-ae501e7d6091"
)

// CartesiaDefaultVoices uses one stock voice for both narrators until
// gendered voice IDs are configured.
var CartesiaDefaultVoices = Voices{Male: cartesiaStockVoice, Female: cartesiaStockVoice}

// CartesiaConfig configures CartesiaService. Empty fields take defaults;
// an empty Language lets the model detect it.
type CartesiaConfig struct {
	APIKey   string
	BaseURL  string
	Model    string
	Language string
}

// CartesiaService implements Synthesizer on the Cartesia /tts/bytes endpoint.
type CartesiaService struct {
	cfg    CartesiaConfig
	client *http.Client
}

var _ Synthesizer = (*CartesiaService)(nil)

func NewCartesiaService(cfg CartesiaConfig) *CartesiaService {
	if cfg.BaseURL == "" {
		cfg.BaseURL = cartesiaBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = cartesiaDefaultModel
	}
	return &CartesiaService{cfg: cfg, client: &http.Client{Timeout: 60 * time.Second}}
}

type cartesiaRequest struct {
	ModelID      string                    `json:"model_id"`
	Transcript   string                    `json:"transcript"`
	Voice        cartesiaVoice             `json:"voice"`
	Language     string                    `json:"language,omitempty"`
	OutputFormat cartesiaOutputFormat      `json:"output_format"`
	Generation   *cartesiaGenerationConfig `json:"generation_config,omitempty"`
}

type cartesiaVoice struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type cartesiaOutputFormat struct {
	Container  string `json:"container"`
	SampleRate int    `json:"sample_rate"`
	BitRate    int    `json:"bit_rate,omitempty"`
}

type cartesiaGenerationConfig struct {
	Speed  float64 `json:"speed,omitempty"`  // 0.6 to 1.5
	Volume float64 `json:"volume,omitempty"` // 0.5 to 2.0
}

// Narration pace and loudness for recaps watched on phones.
var recapGeneration = cartesiaGenerationConfig{Speed: 0.9, Volume: 1.3}

// Synthesize voices text with voiceID and writes the mp3 to outputPath.
// An empty voiceID selects the stock voice.
func (s *CartesiaService) Synthesize(ctx context.Context, text, voiceID, outputPath string) error {
	if voiceID == "" {
		voiceID = cartesiaStockVoice
	}

	payload, err := json.Marshal(cartesiaRequest{
		ModelID:      s.cfg.Model,
		Transcript:   text,
		Voice:        cartesiaVoice{Mode: "id", ID: voiceID},
		Language:     s.cfg.Language,
		OutputFormat: cartesiaOutputFormat{Container: "mp3", SampleRate: 44100, BitRate: 128000},
		Generation:   &recapGeneration,
	})
	if err != nil {
		return fmt.Errorf("failed to encode Cartesia request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/tts/bytes", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build Cartesia request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cartesia-Version", CartesiaAPIVersion)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("cartesia request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 300))
		return fmt.Errorf("cartesia returned status %d: %s", resp.StatusCode, detail)
	}

	n, err := saveAudio(outputPath, resp.Body)
	if err != nil {
		return err
	}
	log.Printf("[Cartesia] %d chars with voice %s (%s) -> %d bytes", len([]rune(text)), voiceID, s.cfg.Model, n)
	return nil
}
