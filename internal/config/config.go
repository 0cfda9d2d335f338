package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// maxNumberedKeys is how many GEMINI_API_KEY_<n> variables are read.
const maxNumberedKeys = 5

// TTS_PROVIDER values.
const (
	TTSElevenLabs = "elevenlabs"
	TTSCartesia   = "cartesia"
)

type Config struct {
	// Server
	APIPort            string
	WorkerEnabled      bool
	BackendAPIKey      string // API key for authenticating requests (empty = no auth, dev mode)
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)
	Environment        string
	SentryDSN          string // empty = error reporting off

	// Files
	UploadDir    string
	ProcessedDir string
	TempDir      string
	FileTTL      time.Duration
	SweepEvery   time.Duration

	// Gemini (translation)
	GeminiKeys             []string
	GeminiBaseURL          string
	GeminiRPMLimit         int
	GeminiModelTag         string
	GeminiFallbackModel    string
	TranslationMaxAttempts int

	// Groq (transcription, OpenAI-compatible)
	GroqKey            string
	GroqBaseURL        string
	TranscriptionModel string

	// Narration (optional): "elevenlabs" or "cartesia"
	TTSProvider string

	ElevenLabsKey         string
	ElevenLabsModel       string
	ElevenLabsVoiceMale   string
	ElevenLabsVoiceFemale string

	CartesiaKey         string
	CartesiaURL         string
	CartesiaModel       string
	CartesiaLanguage    string
	CartesiaVoiceMale   string
	CartesiaVoiceFemale string

	// External tools
	FFmpegPath  string
	FFprobePath string
	YTDLPPath   string

	// Redis (optional shared model-discovery cache)
	RedisURL      string
	ModelCacheTTL time.Duration

	// Supabase (optional output publishing)
	SupabaseURL           string
	SupabaseServiceKey    string
	SupabaseStorageBucket string

	// S3-compatible storage (optional output publishing, alternative to Supabase)
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3Region    string
	S3UseSSL    bool

	// How long published links stay valid
	PublishLinkTTL time.Duration
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		APIPort:                getEnv("API_PORT", "7860"),
		WorkerEnabled:          getEnvBool("WORKER_ENABLED", true),
		BackendAPIKey:          getEnv("BACKEND_API_KEY", ""),
		CorsAllowedOrigins:     getEnv("CORS_ALLOWED_ORIGINS", ""),
		Environment:            getEnv("APP_ENV", "development"),
		SentryDSN:              getEnv("SENTRY_DSN", ""),
		UploadDir:              getEnv("UPLOAD_DIR", "static/uploads"),
		ProcessedDir:           getEnv("PROCESSED_DIR", "static/processed"),
		TempDir:                getEnv("TEMP_DIR", os.TempDir()),
		FileTTL:                getEnvDuration("FILE_TTL", 30*time.Minute),
		SweepEvery:             getEnvDuration("SWEEP_INTERVAL", 10*time.Minute),
		GeminiKeys:             geminiKeys(),
		GeminiBaseURL:          getEnv("GEMINI_BASE_URL", ""),
		GeminiRPMLimit:         getEnvInt("GEMINI_RPM_LIMIT", 12),
		GeminiModelTag:         getEnv("GEMINI_MODEL_TAG", "flash"),
		GeminiFallbackModel:    getEnv("GEMINI_FALLBACK_MODEL", "gemini-2.5-flash"),
		TranslationMaxAttempts: getEnvInt("TRANSLATION_MAX_ATTEMPTS", 3),
		GroqKey:                firstEnv("GROQ_API_KEY_1", "GROQ_API_KEY"),
		GroqBaseURL:            getEnv("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
		TranscriptionModel:     getEnv("TRANSCRIPTION_MODEL", "whisper-large-v3-turbo"),
		TTSProvider:            strings.ToLower(getEnv("TTS_PROVIDER", "elevenlabs")),
		ElevenLabsKey:          getEnv("ELEVENLABS_API_KEY", ""),
		ElevenLabsModel:        getEnv("ELEVENLABS_MODEL", "eleven_flash_v2_5"),
		ElevenLabsVoiceMale:    getEnv("ELEVENLABS_VOICE_MALE", ""),
		ElevenLabsVoiceFemale:  getEnv("ELEVENLABS_VOICE_FEMALE", ""),
		CartesiaKey:            getEnv("CARTESIA_API_KEY", ""),
		CartesiaURL:            getEnv("CARTESIA_API_URL", "https://api.cartesia.ai"),
		CartesiaModel:          getEnv("CARTESIA_MODEL", "sonic-multilingual"),
		CartesiaLanguage:       getEnv("CARTESIA_LANGUAGE", ""),
		CartesiaVoiceMale:      getEnv("CARTESIA_VOICE_MALE", ""),
		CartesiaVoiceFemale:    getEnv("CARTESIA_VOICE_FEMALE", ""),
		FFmpegPath:             getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:            getEnv("FFPROBE_PATH", "ffprobe"),
		YTDLPPath:              getEnv("YTDLP_PATH", "yt-dlp"),
		RedisURL:               getEnv("REDIS_URL", ""),
		ModelCacheTTL:          getEnvDuration("MODEL_CACHE_TTL", 6*time.Hour),
		SupabaseURL:            getEnv("SUPABASE_URL", ""),
		SupabaseServiceKey:     getEnv("SUPABASE_SERVICE_KEY", ""),
		SupabaseStorageBucket:  getEnv("SUPABASE_STORAGE_BUCKET", "recaps"),
		S3Endpoint:             getEnv("S3_ENDPOINT", ""),
		S3AccessKey:            getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:            getEnv("S3_SECRET_KEY", ""),
		S3Bucket:               getEnv("S3_BUCKET", "recaps"),
		S3Region:               getEnv("S3_REGION", "us-east-1"),
		S3UseSSL:               getEnvBool("S3_USE_SSL", true),
		PublishLinkTTL:         getEnvDuration("PUBLISH_LINK_TTL", time.Hour),
	}

	// Validate required fields
	if len(cfg.GeminiKeys) == 0 {
		return nil, fmt.Errorf("at least one of GEMINI_API_KEY_1..%d or GEMINI_API_KEY is required", maxNumberedKeys)
	}

	if cfg.GeminiRPMLimit <= 0 {
		return nil, fmt.Errorf("GEMINI_RPM_LIMIT must be positive")
	}

	if (cfg.SupabaseURL == "") != (cfg.SupabaseServiceKey == "") {
		return nil, fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY must be set together")
	}

	if cfg.S3Endpoint != "" && (cfg.S3AccessKey == "" || cfg.S3SecretKey == "") {
		return nil, fmt.Errorf("S3_ACCESS_KEY and S3_SECRET_KEY are required with S3_ENDPOINT")
	}

	if cfg.SupabaseURL != "" && cfg.S3Endpoint != "" {
		return nil, fmt.Errorf("configure either Supabase or S3 publishing, not both")
	}

	if cfg.TTSProvider != TTSElevenLabs && cfg.TTSProvider != TTSCartesia {
		return nil, fmt.Errorf("TTS_PROVIDER must be %q or %q, got %q", TTSElevenLabs, TTSCartesia, cfg.TTSProvider)
	}

	if cfg.UploadDir == cfg.ProcessedDir {
		return nil, fmt.Errorf("UPLOAD_DIR and PROCESSED_DIR must differ")
	}

	return cfg, nil
}

// SupabaseEnabled reports whether renders are uploaded to Supabase Storage.
func (c *Config) SupabaseEnabled() bool {
	return c.SupabaseURL != "" && c.SupabaseServiceKey != ""
}

// S3Enabled reports whether renders are uploaded to an S3-compatible bucket.
func (c *Config) S3Enabled() bool {
	return c.S3Endpoint != ""
}

// PublishingEnabled reports whether renders leave this host at all.
func (c *Config) PublishingEnabled() bool {
	return c.SupabaseEnabled() || c.S3Enabled()
}

// NarrationEnabled reports whether the selected TTS provider has a key.
func (c *Config) NarrationEnabled() bool {
	if c.TTSProvider == TTSCartesia {
		return c.CartesiaKey != ""
	}
	return c.ElevenLabsKey != ""
}

// Tools returns the external binary paths without validating the rest of the
// configuration. Offline commands that never call a provider use it.
func Tools() (ffmpeg, ffprobe, ytdlp string) {
	_ = godotenv.Load()
	return getEnv("FFMPEG_PATH", "ffmpeg"), getEnv("FFPROBE_PATH", "ffprobe"), getEnv("YTDLP_PATH", "yt-dlp")
}

// geminiKeys reads GEMINI_API_KEY_1..5 in order, falling back to GEMINI_API_KEY.
func geminiKeys() []string {
	var keys []string
	for i := 1; i <= maxNumberedKeys; i++ {
		if k := strings.TrimSpace(os.Getenv(fmt.Sprintf("GEMINI_API_KEY_%d", i))); k != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		if k := strings.TrimSpace(os.Getenv("GEMINI_API_KEY")); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			return value
		}
	}
	return ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		// Bare numbers are seconds
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}
