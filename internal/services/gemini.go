package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"

	"google.golang.org/genai"
)

// ---------------------------------------------------------------------------
// Gemini text provider
// Uses the Google Gen AI SDK. One client is kept per API key since the key is
// bound at client construction.
// ---------------------------------------------------------------------------

const (
	geminiAPIVersion      = "v1beta"
	translationTemp       = 0.3
	translationMaxOutTok  = 8192
	geminiResourceExhaust = "RESOURCE_EXHAUSTED"
	geminiPermissionDeny  = "PERMISSION_DENIED"
)

type GeminiProvider struct {
	baseURL string

	mu      sync.Mutex
	clients map[string]*genai.Client
}

// NewGeminiProvider creates a provider. baseURL is optional and overrides the
// public endpoint.
func NewGeminiProvider(baseURL string) *GeminiProvider {
	return &GeminiProvider{
		baseURL: baseURL,
		clients: make(map[string]*genai.Client),
	}
}

func (p *GeminiProvider) client(ctx context.Context, apiKey string) (*genai.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[apiKey]; ok {
		return c, nil
	}

	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			APIVersion: geminiAPIVersion,
			BaseURL:    p.baseURL,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	p.clients[apiKey] = c
	return c, nil
}

// ListModels returns every model name visible to apiKey.
func (p *GeminiProvider) ListModels(ctx context.Context, apiKey string) ([]string, error) {
	c, err := p.client(ctx, apiKey)
	if err != nil {
		return nil, err
	}

	var names []string
	for m, err := range c.Models.All(ctx) {
		if err != nil {
			return nil, classifyGeminiError(fmt.Errorf("failed to list models: %w", err))
		}
		names = append(names, m.Name)
	}

	log.Printf("[Gemini] Discovered %d models", len(names))
	return names, nil
}

// Generate runs one generation request on model with the given system instruction.
func (p *GeminiProvider) Generate(ctx context.Context, apiKey, model, systemPrompt, text string) (string, error) {
	c, err := p.client(ctx, apiKey)
	if err != nil {
		return "", err
	}

	config := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr[float32](translationTemp),
		MaxOutputTokens:   translationMaxOutTok,
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
	}

	resp, err := c.Models.GenerateContent(ctx, model, genai.Text(text), config)
	if err != nil {
		return "", classifyGeminiError(fmt.Errorf("generate content (%s) failed: %w", model, err))
	}

	return resp.Text(), nil
}

// classifyGeminiError wraps err in a ProviderError. Structured API errors are
// classified by code and status; anything else falls back to matching the
// message the way the SDK formats it.
func classifyGeminiError(err error) error {
	if err == nil {
		return nil
	}

	var code int
	var status string

	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code, status = apiErr.Code, apiErr.Status
	case errors.As(err, &apiErrPtr) && apiErrPtr != nil:
		code, status = apiErrPtr.Code, apiErrPtr.Status
	default:
		msg := strings.ToLower(err.Error())
		switch {
		case strings.Contains(msg, "429"), strings.Contains(msg, "resource exhausted"), strings.Contains(msg, "resource_exhausted"):
			code = http.StatusTooManyRequests
		case strings.Contains(msg, "403"), strings.Contains(msg, "permission denied"):
			code = http.StatusForbidden
		}
	}

	return &ProviderError{Kind: kindFor(code, status), Err: err}
}

func kindFor(code int, status string) ErrorKind {
	switch {
	case code == http.StatusTooManyRequests || status == geminiResourceExhaust:
		return KindQuotaExceeded
	case code == http.StatusUnauthorized || code == http.StatusForbidden || status == geminiPermissionDeny:
		return KindAuthDenied
	case code >= 500:
		return KindTransient
	default:
		return KindOther
	}
}
