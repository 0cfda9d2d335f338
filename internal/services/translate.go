package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/singleflight"
)

// ---------------------------------------------------------------------------
// Provider error taxonomy
// ---------------------------------------------------------------------------

// ErrorKind classifies a provider failure. It decides whether the dispatcher
// benches the credential or just moves on to the next model.
type ErrorKind int

const (
	KindOther ErrorKind = iota
	KindQuotaExceeded
	KindAuthDenied
	KindTransient
)

func (k ErrorKind) String() string {
	switch k {
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindAuthDenied:
		return "auth_denied"
	case KindTransient:
		return "transient"
	default:
		return "other"
	}
}

// ProviderError is an upstream failure already classified at the boundary.
type ProviderError struct {
	Kind ErrorKind
	Err  error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// KindOf returns the classification of err, or KindOther when it was never
// classified.
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindOther
}

// benchesCredential reports whether errors of this kind should put the key in cooldown.
func (k ErrorKind) benchesCredential() bool {
	return k == KindQuotaExceeded || k == KindAuthDenied
}

// TranslationError is returned once every attempt is exhausted.
type TranslationError struct {
	Attempts int
	Err      error
}

func (e *TranslationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("translation failed after %d attempts", e.Attempts)
	}
	return e.Err.Error()
}

func (e *TranslationError) Unwrap() error {
	return e.Err
}

// ---------------------------------------------------------------------------
// Collaborators
// ---------------------------------------------------------------------------

// TextProvider is a generative text API addressed with an explicit key.
type TextProvider interface {
	ListModels(ctx context.Context, apiKey string) ([]string, error)
	Generate(ctx context.Context, apiKey, model, systemPrompt, text string) (string, error)
}

// KeySource hands out rate-limited credentials.
type KeySource interface {
	Acquire(ctx context.Context) (string, error)
	MarkFailure(key string)
}

// ModelCache remembers the discovered model list per credential.
type ModelCache interface {
	Get(ctx context.Context, apiKey string) ([]string, bool)
	Set(ctx context.Context, apiKey string, models []string)
}

// MemoryModelCache keeps model lists for the life of the process.
type MemoryModelCache struct {
	mu     sync.RWMutex
	models map[string][]string
}

func NewMemoryModelCache() *MemoryModelCache {
	return &MemoryModelCache{models: make(map[string][]string)}
}

func (c *MemoryModelCache) Get(_ context.Context, apiKey string) ([]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.models[apiKey]
	return m, ok
}

func (c *MemoryModelCache) Set(_ context.Context, apiKey string, models []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.models[apiKey] = models
}

const modelCachePrefix = "recapmaker:models:"

// RedisModelCache shares discovered model lists between instances. Keys are
// stored hashed, never in clear.
type RedisModelCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisModelCache(redisURL string, ttl time.Duration) (*RedisModelCache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisModelCache{client: client, ttl: ttl}, nil
}

func cacheKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return modelCachePrefix + hex.EncodeToString(sum[:8])
}

func (c *RedisModelCache) Get(ctx context.Context, apiKey string) ([]string, bool) {
	data, err := c.client.Get(ctx, cacheKey(apiKey)).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Printf("[Translate] Model cache read failed: %v", err)
		}
		return nil, false
	}

	var models []string
	if err := json.Unmarshal(data, &models); err != nil || len(models) == 0 {
		return nil, false
	}
	return models, true
}

func (c *RedisModelCache) Set(ctx context.Context, apiKey string, models []string) {
	data, err := json.Marshal(models)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, cacheKey(apiKey), data, c.ttl).Err(); err != nil {
		log.Printf("[Translate] Model cache write failed: %v", err)
	}
}

func (c *RedisModelCache) Close() error {
	return c.client.Close()
}

// ---------------------------------------------------------------------------
// Translator
// ---------------------------------------------------------------------------

const (
	DefaultTranslationAttempts = 3
	DefaultModelTag            = "flash"
	DefaultFallbackModel       = "gemini-2.5-flash"

	burmeseSystemPrompt = "You are a Translator. Convert the input English text into 'Natural Spoken Burmese' (အပြောစကား). " +
		"Output ONLY the Burmese translation. No Markdown."
)

// TranslatorConfig tunes model selection and retries. Zero values take defaults.
type TranslatorConfig struct {
	MaxAttempts   int
	ModelTag      string
	FallbackModel string
	SystemPrompt  string
}

// Translator dispatches translation requests across credentials and models.
type Translator struct {
	provider TextProvider
	keys     KeySource
	cache    ModelCache
	cfg      TranslatorConfig
	group    singleflight.Group
}

func NewTranslator(provider TextProvider, keys KeySource, cache ModelCache, cfg TranslatorConfig) *Translator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultTranslationAttempts
	}
	if cfg.ModelTag == "" {
		cfg.ModelTag = DefaultModelTag
	}
	if cfg.FallbackModel == "" {
		cfg.FallbackModel = DefaultFallbackModel
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = burmeseSystemPrompt
	}
	if cache == nil {
		cache = NewMemoryModelCache()
	}
	return &Translator{
		provider: provider,
		keys:     keys,
		cache:    cache,
		cfg:      cfg,
	}
}

// Translate returns the translation of text. Each attempt takes one credential
// and walks its models in preference order. Quota or auth rejections bench the
// credential and end the attempt; any other model failure moves on to the next
// model.
func (t *Translator) Translate(ctx context.Context, text string) (string, error) {
	var lastErr error

	for attempt := 1; attempt <= t.cfg.MaxAttempts; attempt++ {
		key, err := t.keys.Acquire(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to acquire api key: %w", err)
		}

		for _, model := range t.models(ctx, key) {
			out, err := t.provider.Generate(ctx, key, model, t.cfg.SystemPrompt, text)
			if err == nil {
				if out = strings.TrimSpace(out); out != "" {
					return out, nil
				}
				err = fmt.Errorf("model %s returned an empty translation", model)
			}
			lastErr = err

			if ctx.Err() != nil {
				return "", ctx.Err()
			}

			kind := KindOf(err)
			if kind.benchesCredential() {
				log.Printf("[Translate] Attempt %d: %s on model %s, benching key", attempt, kind, model)
				t.keys.MarkFailure(key)
				break
			}
			log.Printf("[Translate] Attempt %d: model %s failed (%s): %v", attempt, model, kind, err)
		}
	}

	return "", &TranslationError{Attempts: t.cfg.MaxAttempts, Err: lastErr}
}

// models returns the cached model list for key, discovering it once per key
// even when many requests miss the cache at the same time.
func (t *Translator) models(ctx context.Context, key string) []string {
	if cached, ok := t.cache.Get(ctx, key); ok {
		return cached
	}

	v, _, _ := t.group.Do(cacheKey(key), func() (interface{}, error) {
		if cached, ok := t.cache.Get(ctx, key); ok {
			return cached, nil
		}

		names, err := t.provider.ListModels(ctx, key)
		if err != nil {
			log.Printf("[Translate] Model discovery failed, using %s: %v", t.cfg.FallbackModel, err)
			return []string{t.cfg.FallbackModel}, nil
		}

		selected := SelectModels(names, t.cfg.ModelTag)
		if len(selected) == 0 {
			log.Printf("[Translate] No %q models discovered, using %s", t.cfg.ModelTag, t.cfg.FallbackModel)
			selected = []string{t.cfg.FallbackModel}
		}
		t.cache.Set(ctx, key, selected)
		return selected, nil
	})

	return v.([]string)
}

// SelectModels keeps names containing tag, strips the "models/" prefix and
// sorts them descending so newer versions come first.
func SelectModels(names []string, tag string) []string {
	seen := map[string]bool{}
	var out []string
	for _, name := range names {
		name = strings.TrimPrefix(name, "models/")
		if !strings.Contains(name, tag) || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out
}
