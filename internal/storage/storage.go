package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

const (
	// Per-attempt deadline; a rendered recap can be tens of MB
	attemptTimeout = 180 * time.Second

	maxAttempts    = 5
	baseRetryDelay = 1 * time.Second
	maxRetryDelay  = 30 * time.Second

	rendersFolder = "renders"
)

// Supabase publishes finished renders to a Supabase Storage bucket and hands
// out signed links to them.
type Supabase struct {
	baseURL    string
	serviceKey string
	Bucket     string
	linkTTL    time.Duration
	client     *http.Client
	backoff    func(attempt int) time.Duration
}

func New(baseURL, serviceKey, bucket string, linkTTL time.Duration) *Supabase {
	return &Supabase{
		baseURL:    strings.TrimRight(baseURL, "/"),
		serviceKey: serviceKey,
		Bucket:     bucket,
		linkTTL:    linkTTL,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		backoff: retryDelay,
	}
}

// statusError is a non-2xx answer from the storage API.
type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("storage API returned %d: %s", e.Status, e.Body)
}

// opener yields a fresh request body for every attempt.
type opener func() (io.ReadCloser, int64, error)

func fromBytes(data []byte) opener {
	return func() (io.ReadCloser, int64, error) {
		return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
	}
}

func fromFile(localPath string) opener {
	return func() (io.ReadCloser, int64, error) {
		f, err := os.Open(localPath)
		if err != nil {
			return nil, 0, err
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, 0, err
		}
		return f, info.Size(), nil
	}
}

// Upload stores data at objectPath, overwriting whatever a failed attempt left.
func (s *Supabase) Upload(ctx context.Context, objectPath string, data []byte, contentType string) error {
	return s.put(ctx, objectPath, contentType, fromBytes(data))
}

// UploadFile streams localPath to objectPath, reopening the file on each retry.
func (s *Supabase) UploadFile(ctx context.Context, objectPath, localPath, contentType string) error {
	return s.put(ctx, objectPath, contentType, fromFile(localPath))
}

func (s *Supabase) put(ctx context.Context, objectPath, contentType string, open opener) error {
	target := s.endpoint("object", s.Bucket, objectPath)
	_, err := s.send(ctx, "upload "+objectPath, func(ctx context.Context) (*http.Request, error) {
		body, size, err := open()
		if err != nil {
			return nil, fmt.Errorf("failed to open upload body: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, body)
		if err != nil {
			body.Close()
			return nil, err
		}
		req.ContentLength = size
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("x-upsert", "true")
		return req, nil
	})
	return err
}

// GetSignedURL asks the storage API for a link to objectPath valid for expiresIn seconds.
func (s *Supabase) GetSignedURL(ctx context.Context, objectPath string, expiresIn int) (string, error) {
	payload, err := json.Marshal(struct {
		ExpiresIn int `json:"expiresIn"`
	}{expiresIn})
	if err != nil {
		return "", err
	}

	target := s.endpoint("object", "sign", s.Bucket, objectPath)
	raw, err := s.send(ctx, "sign "+objectPath, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return "", err
	}

	var signed struct {
		SignedURL string `json:"signedURL"`
	}
	if err := json.Unmarshal(raw, &signed); err != nil || signed.SignedURL == "" {
		return "", fmt.Errorf("failed to parse signed URL response: %q", truncate(string(raw), 200))
	}

	// Older deployments answer relative to /storage/v1, newer ones include it
	rel := signed.SignedURL
	if !strings.HasPrefix(rel, "/storage/v1/") {
		rel = "/storage/v1" + rel
	}
	return s.baseURL + rel, nil
}

// Publish uploads a finished render and returns a signed link valid for the
// configured TTL. The local copy is left in place.
func (s *Supabase) Publish(ctx context.Context, localPath string) (string, error) {
	objectPath := ObjectPath(time.Now(), filepath.Base(localPath))

	if err := s.UploadFile(ctx, objectPath, localPath, contentTypeFor(localPath)); err != nil {
		return "", err
	}

	expiresIn := int(s.linkTTL.Seconds())
	if expiresIn <= 0 {
		expiresIn = int(time.Hour.Seconds())
	}
	link, err := s.GetSignedURL(ctx, objectPath, expiresIn)
	if err != nil {
		return "", err
	}

	log.Printf("[Storage] Published %s (link valid %ds)", objectPath, expiresIn)
	return link, nil
}

// send runs build/Do until the API answers 2xx, a permanent failure occurs, or
// maxAttempts is spent. It returns the successful response body.
func (s *Supabase) send(ctx context.Context, what string, build func(context.Context) (*http.Request, error)) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			wait := s.backoff(attempt - 1)
			log.Printf("[Storage] %s: attempt %d/%d in %v (last error: %v)", what, attempt, maxAttempts, wait, lastErr)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%s cancelled: %w", what, ctx.Err())
			case <-time.After(wait):
			}
		}

		body, err := s.attempt(ctx, build)
		if err == nil {
			return body, nil
		}
		lastErr = err

		var se *statusError
		if errors.As(err, &se) {
			if !isRetryableStatus(se.Status) {
				return nil, fmt.Errorf("%s: %w", what, err)
			}
			continue
		}
		if !isTransient(err) {
			return nil, fmt.Errorf("%s: %w", what, err)
		}
	}
	return nil, fmt.Errorf("%s failed after %d attempts: %w", what, maxAttempts, lastErr)
}

func (s *Supabase) attempt(ctx context.Context, build func(context.Context) (*http.Request, error)) ([]byte, error) {
	actx, cancel := context.WithTimeout(ctx, attemptTimeout)
	defer cancel()

	req, err := build(actx)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &statusError{Status: resp.StatusCode, Body: truncate(string(body), 200)}
	}
	return body, nil
}

func (s *Supabase) endpoint(parts ...string) string {
	return s.baseURL + "/storage/v1/" + path.Join(parts...)
}

// ObjectPath is the bucket path of a render published at t.
func ObjectPath(t time.Time, filename string) string {
	return path.Join(rendersFolder, t.UTC().Format("2006-01-02"), filename)
}

func contentTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp4":
		return "video/mp4"
	case ".mp3":
		return "audio/mpeg"
	case ".png":
		return "image/png"
	default:
		return "application/octet-stream"
	}
}

// retryDelay doubles from baseRetryDelay per retry, capped, plus up to 25% jitter.
func retryDelay(retry int) time.Duration {
	d := math.Min(float64(baseRetryDelay)*math.Pow(2, float64(retry-1)), float64(maxRetryDelay))
	return time.Duration(d * (1 + 0.25*rand.Float64()))
}

// isTransient reports whether a transport error may clear up on its own.
func isTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	for _, target := range []error{
		io.EOF, io.ErrUnexpectedEOF, syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.EPIPE,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
