package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/bobarin/recapmaker/internal/models"
	"github.com/bobarin/recapmaker/internal/queue"
	"github.com/bobarin/recapmaker/internal/ratelimit"
	"github.com/bobarin/recapmaker/internal/services"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	// Max in-memory part of a multipart upload; the rest spills to disk
	maxFormMemory = 32 << 20
	maxUploadSize = 2 << 30
)

// Analyzer turns a stored video into the user-facing analysis text.
type Analyzer interface {
	Describe(ctx context.Context, videoPath string) string
}

// Downloader fetches a remote video next to destPrefix.
type Downloader interface {
	Download(ctx context.Context, url, destPrefix string) (string, error)
}

// KeyReporter exposes credential state for diagnostics.
type KeyReporter interface {
	Snapshot() []ratelimit.CredentialState
}

// HandlerConfig wires the handler's collaborators. Synthesizer, Downloader
// and Keys are optional.
type HandlerConfig struct {
	Queue        *queue.Queue
	Analyzer     Analyzer
	Downloader   Downloader
	Synthesizer  services.Synthesizer
	Voices       services.Voices
	Keys         KeyReporter
	UploadDir    string
	ProcessedDir string
}

type Handler struct {
	queue        *queue.Queue
	analyzer     Analyzer
	downloader   Downloader
	synthesizer  services.Synthesizer
	voices       services.Voices
	keys         KeyReporter
	uploadDir    string
	processedDir string
	validator    *validator.Validate
}

func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		validator:    newValidator(),
		queue:        cfg.Queue,
		analyzer:     cfg.Analyzer,
		downloader:   cfg.Downloader,
		synthesizer:  cfg.Synthesizer,
		voices:       cfg.Voices,
		keys:         cfg.Keys,
		uploadDir:    cfg.UploadDir,
		processedDir: cfg.ProcessedDir,
	}
}

// UploadVideo handles POST /upload-video
func (h *Handler) UploadVideo(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

	file, header, err := r.FormFile("video_file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "No file part")
		return
	}
	defer file.Close()

	if header.Filename == "" {
		respondError(w, http.StatusBadRequest, "No selected file")
		return
	}

	mtype, err := sniff(file)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !isKind(mtype, "video/", "audio/") {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("Unsupported file type: %s", mtype.String()))
		return
	}

	ext := uploadExt(header.Filename, strings.TrimPrefix(mtype.Extension(), "."))
	name := fmt.Sprintf("vid_%s.%s", newToken(), ext)
	if err := saveUpload(file, filepath.Join(h.uploadDir, name)); err != nil {
		log.Printf("[API] Upload error: %v", err)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, models.UploadResponse{
		Status:         "success",
		Filename:       name,
		Path:           "/static/uploads/" + name,
		TranslatedText: "",
	})
}

type downloadRequest struct {
	URL string `json:"url" validate:"required,url"`
}

// DownloadVideo handles POST /download-video
func (h *Handler) DownloadVideo(w http.ResponseWriter, r *http.Request) {
	if h.downloader == nil {
		respondError(w, http.StatusNotImplemented, "Downloading is disabled")
		return
	}

	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		respondError(w, http.StatusBadRequest, "No URL")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid URL")
		return
	}

	prefix := filepath.Join(h.uploadDir, "vid_"+newToken())
	path, err := h.downloader.Download(r.Context(), req.URL, prefix)
	if err != nil {
		log.Printf("[API] Download failed: %v", err)
		respondError(w, http.StatusBadGateway, "Download failed")
		return
	}

	name := filepath.Base(path)
	respondJSON(w, http.StatusOK, models.UploadResponse{
		Status:         "success",
		Filename:       name,
		Path:           "/static/uploads/" + name,
		TranslatedText: h.analyzer.Describe(r.Context(), path),
	})
}

// ReAnalyze handles POST /re-analyze
func (h *Handler) ReAnalyze(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(r); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid form")
		return
	}

	name := r.FormValue("video_filename")
	if name == "" {
		name = r.FormValue("filename")
	}
	if name == "" {
		respondJSON(w, http.StatusBadRequest, models.AnalyzeResponse{
			Status:         "error",
			Message:        "No filename received",
			TranslatedText: "Error: Please upload a video first.",
		})
		return
	}

	path, ok := h.uploadPath(name)
	if !ok {
		respondJSON(w, http.StatusNotFound, models.AnalyzeResponse{
			Status:         "error",
			Message:        "File not found (Expired)",
			TranslatedText: "Error: Video file expired or deleted.",
		})
		return
	}

	respondJSON(w, http.StatusOK, models.AnalyzeResponse{
		Status:         "success",
		TranslatedText: h.analyzer.Describe(r.Context(), path),
	})
}

// Process handles POST /process: validates the form, stores the optional
// logo and narration, and queues the render.
func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := parseForm(r); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid form")
		return
	}

	name := r.FormValue("video_filename")
	if name == "" {
		respondError(w, http.StatusBadRequest, "No video selected")
		return
	}
	inputPath, ok := h.uploadPath(name)
	if !ok {
		respondError(w, http.StatusNotFound, "Source video not found (Expired)")
		return
	}

	opts, err := ParseEditOptions(r.Form)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validator.Struct(opts); err != nil {
		respondError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	jobID := newToken()

	if file, header, err := r.FormFile("logo_file"); err == nil {
		if header.Filename != "" {
			opts.LogoPath = h.saveLogo(jobID, file)
		}
		file.Close()
	}

	if text := strings.TrimSpace(r.FormValue("ai_text")); text != "" {
		opts.NarrationPath = h.narrate(r.Context(), jobID, text, r.FormValue("voice_gender"))
	}

	job := models.RenderJob{
		ID:         jobID,
		InputPath:  inputPath,
		OutputPath: filepath.Join(h.processedDir, fmt.Sprintf("recap_%s.mp4", jobID)),
		Options:    opts,
	}
	if err := h.queue.Enqueue(job); err != nil {
		log.Printf("[API] Failed to enqueue job %s: %v", jobID, err)
		respondError(w, http.StatusInternalServerError, "Failed to enqueue job")
		return
	}

	log.Printf("[API] Queued job %s (%d waiting)", jobID, h.queue.Len())
	respondJSON(w, http.StatusOK, models.ProcessResponse{
		Status:  string(models.JobStatusQueued),
		JobID:   jobID,
		Message: "Added to Queue",
	})
}

// saveLogo stores an uploaded logo and returns its path, or "" when the upload
// is not an image. A bad logo never blocks the render.
func (h *Handler) saveLogo(jobID string, file multipart.File) string {
	mtype, err := sniff(file)
	if err != nil {
		log.Printf("[API] Logo read failed for job %s: %v", jobID, err)
		return ""
	}
	if !isKind(mtype, "image/") {
		log.Printf("[API] Ignoring logo for job %s: %s is not an image", jobID, mtype.String())
		return ""
	}

	logoPath := filepath.Join(h.uploadDir, fmt.Sprintf("logo_%s.png", jobID))
	if err := saveUpload(file, logoPath); err != nil {
		log.Printf("[API] Logo save failed for job %s: %v", jobID, err)
		return ""
	}
	return logoPath
}

// narrate synthesizes the narration track and returns its path, or "" when
// narration is unavailable. A failure here never blocks the render.
func (h *Handler) narrate(ctx context.Context, jobID, text, gender string) string {
	if h.synthesizer == nil {
		log.Printf("[API] Narration requested for job %s but no TTS provider is configured", jobID)
		return ""
	}

	path := filepath.Join(h.uploadDir, fmt.Sprintf("audio_%s.mp3", jobID))
	if err := h.synthesizer.Synthesize(ctx, text, h.voices.VoiceFor(gender), path); err != nil {
		log.Printf("[API] Narration failed for job %s: %v", jobID, err)
		return ""
	}
	return path
}

// GetStatus handles GET /status/{jobID}
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.queue.Store().Status(chi.URLParam(r, "jobID")))
}

// StreamAndDelete handles GET /stream-and-delete/{filename}: the processed
// file is served once and removed afterwards.
func (h *Handler) StreamAndDelete(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")
	if !safeName(name) {
		respondError(w, http.StatusBadRequest, "Invalid filename")
		return
	}

	path := filepath.Join(h.processedDir, name)
	f, err := os.Open(path)
	if err != nil {
		respondError(w, http.StatusNotFound, "File not found or expired")
		return
	}

	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		f.Close()
		respondError(w, http.StatusNotFound, "File not found or expired")
		return
	}

	http.ServeContent(w, r, name, info.ModTime(), f)
	f.Close()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Printf("[API] Error deleting %s: %v", name, err)
	}
}

// DebugKeys handles GET /debug/keys
func (h *Handler) DebugKeys(w http.ResponseWriter, r *http.Request) {
	if h.keys == nil {
		respondJSON(w, http.StatusOK, []ratelimit.CredentialState{})
		return
	}
	respondJSON(w, http.StatusOK, h.keys.Snapshot())
}

// Health check
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"queued": h.queue.Len(),
		"jobs":   h.queue.Store().Counts(),
	})
}

// Helper methods

// uploadPath resolves name inside the upload directory, rejecting anything
// that is not a plain existing file.
func (h *Handler) uploadPath(name string) (string, bool) {
	if !safeName(name) {
		return "", false
	}
	path := filepath.Join(h.uploadDir, name)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	return path, true
}

// safeName accepts bare file names only: no separators, no traversal, no dotfiles.
func safeName(name string) bool {
	return name != "" &&
		!strings.HasPrefix(name, ".") &&
		!strings.ContainsAny(name, `/\`) &&
		filepath.Base(name) == name
}

// uploadExt returns the lowercased extension of name. When name has no usable
// extension it falls back to detected, then to mp4.
func uploadExt(name, detected string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		if ext := strings.ToLower(name[i+1:]); plainExt(ext) {
			return ext
		}
	}
	if plainExt(detected) {
		return detected
	}
	return "mp4"
}

func plainExt(ext string) bool {
	if ext == "" || len(ext) > 5 {
		return false
	}
	for _, c := range ext {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

// sniff detects the content type of an upload and rewinds it.
func sniff(file multipart.File) (*mimetype.MIME, error) {
	mtype, err := mimetype.DetectReader(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind upload: %w", err)
	}
	return mtype, nil
}

// isKind reports whether mtype or one of its parents starts with any prefix.
func isKind(mtype *mimetype.MIME, prefixes ...string) bool {
	for m := mtype; m != nil; m = m.Parent() {
		for _, p := range prefixes {
			if strings.HasPrefix(m.String(), p) {
				return true
			}
		}
	}
	return false
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationMessage turns the first validation failure into a form error.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}

	e := verrs[0]
	field := e.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "max":
		return fmt.Sprintf("%s exceeds maximum length", field)
	case "gte", "lte":
		return fmt.Sprintf("%s out of allowed range", field)
	default:
		return fmt.Sprintf("invalid %s", field)
	}
}

func newToken() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

func parseForm(r *http.Request) error {
	if err := r.ParseMultipartForm(maxFormMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return err
	}
	return nil
}

func saveUpload(src multipart.File, dst string) error {
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Base(dst), err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("failed to save %s: %w", filepath.Base(dst), err)
	}
	return out.Close()
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"status": "error", "message": message})
}

// ParseEditOptions reads the render form. Toggles are on for "on", "true"
// or "1"; coordinates may be sent as floats and are truncated.
func ParseEditOptions(form map[string][]string) (models.EditOptions, error) {
	p := formParser{form: form}

	opts := models.EditOptions{
		TextWatermark: strings.TrimSpace(p.get("text_watermark")),
		TextX:         p.int("text_x", models.DefaultTextX),
		TextY:         p.int("text_y", models.DefaultTextY),
		BlurEnabled:   p.on("blur_enabled"),
		Blur: models.Rect{
			X: p.int("blur_x", 0),
			Y: p.int("blur_y", 0),
			W: p.int("blur_w", 0),
			H: p.int("blur_h", 0),
		},
		Logo: models.Rect{
			X: p.int("logo_x", models.DefaultLogoX),
			Y: p.int("logo_y", models.DefaultLogoY),
			W: p.int("logo_w", models.DefaultLogoW),
			H: p.int("logo_h", models.DefaultLogoH),
		},
		Flip:     p.on("bypass_flip"),
		Zoom:     p.on("bypass_zoom"),
		Speed:    p.on("bypass_speed"),
		Color:    p.on("bypass_color"),
		Monetize: p.on("monezlation"),
	}
	if p.err != nil {
		return models.EditOptions{}, p.err
	}
	return opts, nil
}

// formParser collects the first parse error so callers can check once.
type formParser struct {
	form map[string][]string
	err  error
}

func (p *formParser) get(key string) string {
	if v := p.form[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

func (p *formParser) on(key string) bool {
	switch p.get(key) {
	case "on", "true", "1":
		return true
	}
	return false
}

func (p *formParser) int(key string, def int) int {
	raw := strings.TrimSpace(p.get(key))
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		if p.err == nil {
			p.err = fmt.Errorf("invalid %s: %q", key, raw)
		}
		return def
	}
	return int(f)
}
