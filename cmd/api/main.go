package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bobarin/recapmaker/internal/api"
	"github.com/bobarin/recapmaker/internal/cleanup"
	"github.com/bobarin/recapmaker/internal/config"
	"github.com/bobarin/recapmaker/internal/queue"
	"github.com/bobarin/recapmaker/internal/ratelimit"
	"github.com/bobarin/recapmaker/internal/services"
	"github.com/bobarin/recapmaker/internal/storage"
	"github.com/bobarin/recapmaker/internal/worker"
	"github.com/getsentry/sentry-go"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 30 * time.Second
	version         = "v1"
)

func main() {
	log.Println("Starting Recap Maker...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.Environment,
			Release:     version,
		}); err != nil {
			log.Fatalf("sentry.Init: %s", err)
		}
		// Flush buffered events before the program terminates.
		defer sentry.Flush(2 * time.Second)
		log.Println("Sentry error reporting enabled")
	}

	for _, dir := range []string{cfg.UploadDir, cfg.ProcessedDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatalf("Failed to create %s: %v", dir, err)
		}
	}

	workDir := filepath.Join(cfg.TempDir, "recapmaker")
	ffmpegSvc, err := services.NewFFmpegService(workDir, services.WithBinaries(cfg.FFmpegPath, cfg.FFprobePath))
	if err != nil {
		log.Fatalf("Failed to initialize ffmpeg: %v", err)
	}

	// Translation: key pool, model discovery cache, Gemini
	keys := ratelimit.New(cfg.GeminiKeys, ratelimit.WithRPMLimit(cfg.GeminiRPMLimit))
	log.Printf("Loaded %d Gemini key(s), %d requests/min each", keys.Len(), keys.Limit())

	var modelCache services.ModelCache = services.NewMemoryModelCache()
	if cfg.RedisURL != "" {
		redisCache, err := services.NewRedisModelCache(cfg.RedisURL, cfg.ModelCacheTTL)
		if err != nil {
			log.Printf("WARNING: Redis model cache unavailable, using in-process cache: %v", err)
		} else {
			defer redisCache.Close()
			modelCache = redisCache
			log.Println("Connected to Redis model cache")
		}
	}

	translator := services.NewTranslator(services.NewGeminiProvider(cfg.GeminiBaseURL), keys, modelCache, services.TranslatorConfig{
		MaxAttempts:   cfg.TranslationMaxAttempts,
		ModelTag:      cfg.GeminiModelTag,
		FallbackModel: cfg.GeminiFallbackModel,
	})

	if cfg.GroqKey == "" {
		log.Println("WARNING: No GROQ_API_KEY set, transcription will fail")
	}
	transcriber := services.NewWhisperTranscriber(cfg.GroqKey, cfg.GroqBaseURL, cfg.TranscriptionModel)
	analyzer := services.NewAnalyzer(ffmpegSvc, transcriber, translator, workDir)

	synth, voices := narrator(cfg)

	q := queue.New(queue.NewStore())

	handler := api.NewHandler(api.HandlerConfig{
		Queue:        q,
		Analyzer:     analyzer,
		Downloader:   services.NewDownloader(cfg.YTDLPPath, nil),
		Synthesizer:  synth,
		Voices:       voices,
		Keys:         keys,
		UploadDir:    cfg.UploadDir,
		ProcessedDir: cfg.ProcessedDir,
	})
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	})

	if cfg.BackendAPIKey != "" {
		log.Println("API key authentication enabled")
	} else {
		log.Println("WARNING: No BACKEND_API_KEY set, API is unprotected (dev mode)")
	}

	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
		// Analysis runs inside the request, so writes may take minutes
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Minute,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.WorkerEnabled {
		var remote worker.Publisher
		switch {
		case cfg.SupabaseEnabled():
			remote = storage.New(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseStorageBucket, cfg.PublishLinkTTL)
			log.Printf("Publishing renders to Supabase bucket %q", cfg.SupabaseStorageBucket)
		case cfg.S3Enabled():
			objects, err := storage.NewObjectStore(storage.S3Config{
				Endpoint:  cfg.S3Endpoint,
				AccessKey: cfg.S3AccessKey,
				SecretKey: cfg.S3SecretKey,
				Bucket:    cfg.S3Bucket,
				Region:    cfg.S3Region,
				UseSSL:    cfg.S3UseSSL,
				LinkTTL:   cfg.PublishLinkTTL,
			})
			if err != nil {
				log.Fatalf("Failed to initialize S3 storage: %v", err)
			}
			if err := objects.EnsureBucket(ctx); err != nil {
				log.Fatalf("Failed to prepare S3 bucket: %v", err)
			}
			remote = objects
			log.Printf("Publishing renders to S3 bucket %q at %s", cfg.S3Bucket, cfg.S3Endpoint)
		}
		if !cfg.PublishingEnabled() {
			log.Printf("Renders are served once from %s", storage.DefaultLinkPrefix)
		}
		w := worker.New(q, ffmpegSvc, storage.LocalLinks{Prefix: storage.DefaultLinkPrefix}, remote)
		g.Go(func() error {
			w.Start(gctx)
			return nil
		})
	} else {
		log.Println("Worker disabled: jobs will stay queued")
	}

	sweeper := cleanup.NewSweeper(cfg.SweepEvery, cfg.FileTTL, cfg.UploadDir, cfg.ProcessedDir)
	g.Go(func() error {
		sweeper.Run(gctx)
		return nil
	})

	g.Go(func() error {
		log.Printf("API server listening on :%s", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Server exited")
}

// narrator builds the configured TTS provider and its voices. A nil
// Synthesizer disables narration.
func narrator(cfg *config.Config) (services.Synthesizer, services.Voices) {
	if !cfg.NarrationEnabled() {
		log.Printf("Narration disabled: no API key for TTS provider %q", cfg.TTSProvider)
		return nil, services.Voices{}
	}

	var synth services.Synthesizer
	var voices services.Voices
	var male, female string
	switch cfg.TTSProvider {
	case config.TTSCartesia:
		synth = services.NewCartesiaService(services.CartesiaConfig{
			APIKey:   cfg.CartesiaKey,
			BaseURL:  cfg.CartesiaURL,
			Model:    cfg.CartesiaModel,
			Language: cfg.CartesiaLanguage,
		})
		voices, male, female = services.CartesiaDefaultVoices, cfg.CartesiaVoiceMale, cfg.CartesiaVoiceFemale
	default:
		synth = services.NewElevenLabsService(cfg.ElevenLabsKey, "", cfg.ElevenLabsModel)
		voices, male, female = services.DefaultVoices, cfg.ElevenLabsVoiceMale, cfg.ElevenLabsVoiceFemale
	}
	if male != "" {
		voices.Male = male
	}
	if female != "" {
		voices.Female = female
	}
	log.Printf("Narration enabled (%s)", cfg.TTSProvider)
	return synth, voices
}
