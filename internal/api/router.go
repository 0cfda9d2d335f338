package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig holds settings for the API router.
type RouterConfig struct {
	// BackendAPIKey is the key that must be provided in X-API-Key or Authorization: Bearer <key>.
	// If empty, auth middleware is skipped (development mode).
	BackendAPIKey string

	// CorsAllowedOrigins is a comma-separated list of allowed origins.
	// If empty, defaults to "*" (development mode).
	CorsAllowedOrigins string
}

func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg.CorsAllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Public: health, previews and one-shot result links. Job and file
	// names are random tokens.
	r.Get("/health", h.Health)
	r.Get("/status/{jobID}", h.GetStatus)
	r.Get("/stream-and-delete/{filename}", h.StreamAndDelete)
	r.Handle("/static/uploads/*", http.StripPrefix("/static/uploads/", previewServer(h.uploadDir)))

	r.Group(func(r chi.Router) {
		if cfg.BackendAPIKey != "" {
			r.Use(APIKeyAuth(cfg.BackendAPIKey))
		}

		r.Post("/upload-video", h.UploadVideo)
		r.Post("/download-video", h.DownloadVideo)
		r.Post("/re-analyze", h.ReAnalyze)
		r.Post("/process", h.Process)
		r.Get("/debug/keys", h.DebugKeys)
	})

	return r
}

func allowedOrigins(raw string) []string {
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(o); s != "" {
			origins = append(origins, s)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
