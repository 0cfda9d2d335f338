package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bobarin/recapmaker/internal/config"
	"github.com/bobarin/recapmaker/internal/services"
)

const requestTimeout = 15 * time.Second

// commandContext carries the persistent flags and lazily loaded state shared
// by every subcommand.
type commandContext struct {
	ffmpegBin  string
	ffprobeBin string
	server     string
	apiKey     string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	httpClient *http.Client
}

func newCommandContext() *commandContext {
	return &commandContext{
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

// ensureConfig loads the full service configuration. Only commands that talk
// to providers need it.
func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		c.config, c.configErr = config.Load()
	})
	return c.config, c.configErr
}

func (c *commandContext) ffmpeg() (*services.FFmpegService, error) {
	return services.NewFFmpegService(
		filepath.Join(os.TempDir(), "recapctl"),
		services.WithBinaries(c.ffmpegBin, c.ffprobeBin),
	)
}

// getJSON fetches path from the configured server and decodes the body into out.
func (c *commandContext) getJSON(ctx context.Context, path string, out interface{}) error {
	url := strings.TrimRight(c.server, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", c.server, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
