package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bobarin/recapmaker/internal/models"
	"github.com/bobarin/recapmaker/internal/queue"
	"github.com/bobarin/recapmaker/internal/ratelimit"
	"github.com/bobarin/recapmaker/internal/services"
)

type fakeAnalyzer struct {
	text  string
	paths []string
}

func (a *fakeAnalyzer) Describe(ctx context.Context, path string) string {
	a.paths = append(a.paths, path)
	return a.text
}

type fakeDownloader struct {
	err error
}

func (d fakeDownloader) Download(ctx context.Context, rawURL, prefix string) (string, error) {
	if d.err != nil {
		return "", d.err
	}
	path := prefix + ".mp4"
	return path, os.WriteFile(path, []byte("video"), 0644)
}

type fakeSynth struct {
	err    error
	voices []string
}

func (s *fakeSynth) Synthesize(ctx context.Context, text, voiceID, out string) error {
	s.voices = append(s.voices, voiceID)
	if s.err != nil {
		return s.err
	}
	return os.WriteFile(out, []byte("mp3"), 0644)
}

type testEnv struct {
	h         *Handler
	router    http.Handler
	q         *queue.Queue
	analyzer  *fakeAnalyzer
	synth     *fakeSynth
	uploads   string
	processed string
}

func newTestEnv(t *testing.T, apiKey string) *testEnv {
	t.Helper()
	env := &testEnv{
		q:         queue.New(queue.NewStore()),
		analyzer:  &fakeAnalyzer{text: "translated"},
		synth:     &fakeSynth{},
		uploads:   t.TempDir(),
		processed: t.TempDir(),
	}
	env.h = NewHandler(HandlerConfig{
		Queue:        env.q,
		Analyzer:     env.analyzer,
		Downloader:   fakeDownloader{},
		Synthesizer:  env.synth,
		Voices:       services.Voices{Male: "m-voice", Female: "f-voice"},
		Keys:         ratelimit.New([]string{"abcdef123456"}),
		UploadDir:    env.uploads,
		ProcessedDir: env.processed,
	})
	env.router = NewRouter(env.h, RouterConfig{BackendAPIKey: apiKey})
	return env
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) seedUpload(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(e.uploads, name)
	if err := os.WriteFile(path, []byte("video"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON %q: %v", rec.Body.String(), err)
	}
	return body
}

func formRequest(path string, values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

// Minimal file headers that content sniffing recognizes
const (
	mp4Header = "\x00\x00\x00\x18ftypmp42\x00\x00\x00\x00mp42isom"
	pngHeader = "\x89PNG\r\n\x1a\n\x00\x00\x00\x0dIHDR"
)

// fixture returns file content matching the extension of name.
func fixture(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp4", ".mov":
		return mp4Header + "payload"
	case ".png":
		return pngHeader + "payload"
	}
	return "just some text"
}

func multipartRequest(t *testing.T, path string, fields map[string]string, files map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	for field, name := range files {
		fw, err := mw.CreateFormFile(field, name)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write([]byte(fixture(name)))
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, "")
	rec := env.do(httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decode(t, rec); body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestUploadVideo(t *testing.T) {
	env := newTestEnv(t, "")
	rec := env.do(multipartRequest(t, "/upload-video", nil, map[string]string{"video_file": "clip.MOV"}))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	name, _ := body["filename"].(string)
	if !strings.HasPrefix(name, "vid_") || !strings.HasSuffix(name, ".mov") {
		t.Errorf("filename = %q", name)
	}
	if body["path"] != "/static/uploads/"+name || body["translated_text"] != "" {
		t.Errorf("body = %v", body)
	}
	if _, err := os.Stat(filepath.Join(env.uploads, name)); err != nil {
		t.Errorf("upload not stored: %v", err)
	}
}

func TestUploadVideoMissingFile(t *testing.T) {
	env := newTestEnv(t, "")
	rec := env.do(multipartRequest(t, "/upload-video", map[string]string{"x": "y"}, nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decode(t, rec); body["status"] != "error" || body["message"] != "No file part" {
		t.Errorf("body = %v", body)
	}
}

func TestUploadVideoRejectsNonMedia(t *testing.T) {
	env := newTestEnv(t, "")
	rec := env.do(multipartRequest(t, "/upload-video", nil, map[string]string{"video_file": "notes.txt"}))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if msg, _ := decode(t, rec)["message"].(string); !strings.HasPrefix(msg, "Unsupported file type: text/plain") {
		t.Errorf("message = %q", msg)
	}
	if entries, _ := os.ReadDir(env.uploads); len(entries) != 0 {
		t.Errorf("nothing should be stored, found %d files", len(entries))
	}
}

func TestDownloadVideo(t *testing.T) {
	env := newTestEnv(t, "")
	req := httptest.NewRequest(http.MethodPost, "/download-video", strings.NewReader(`{"url":"https://example.com/v"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := env.do(req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["status"] != "success" || body["translated_text"] != "translated" {
		t.Errorf("body = %v", body)
	}
	if len(env.analyzer.paths) != 1 {
		t.Errorf("analyzer calls = %d", len(env.analyzer.paths))
	}
}

func TestDownloadVideoErrors(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(httptest.NewRequest(http.MethodPost, "/download-video", strings.NewReader(`{"url":"  "}`)))
	if body := decode(t, rec); rec.Code != http.StatusBadRequest || body["message"] != "No URL" {
		t.Errorf("empty url: %d %v", rec.Code, body)
	}

	rec = env.do(httptest.NewRequest(http.MethodPost, "/download-video", strings.NewReader(`{"url":"not a url"}`)))
	if body := decode(t, rec); rec.Code != http.StatusBadRequest || body["message"] != "Invalid URL" {
		t.Errorf("malformed url: %d %v", rec.Code, body)
	}

	env.h.downloader = fakeDownloader{err: errors.New("yt-dlp exited 1")}
	rec = env.do(httptest.NewRequest(http.MethodPost, "/download-video", strings.NewReader(`{"url":"https://x"}`)))
	if body := decode(t, rec); body["message"] != "Download failed" {
		t.Errorf("failed download: %v", body)
	}
}

func TestReAnalyze(t *testing.T) {
	env := newTestEnv(t, "")
	path := env.seedUpload(t, "vid_abc.mp4")

	rec := env.do(formRequest("/re-analyze", url.Values{"filename": {"vid_abc.mp4"}}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decode(t, rec); body["translated_text"] != "translated" {
		t.Errorf("body = %v", body)
	}
	if env.analyzer.paths[0] != path {
		t.Errorf("analyzed %q", env.analyzer.paths[0])
	}
}

func TestReAnalyzeErrors(t *testing.T) {
	env := newTestEnv(t, "")

	tests := []struct {
		name    string
		form    url.Values
		message string
		text    string
	}{
		{"no filename", url.Values{}, "No filename received", "Error: Please upload a video first."},
		{"expired", url.Values{"video_filename": {"vid_gone.mp4"}}, "File not found (Expired)", "Error: Video file expired or deleted."},
		{"traversal", url.Values{"video_filename": {"../../etc/passwd"}}, "File not found (Expired)", "Error: Video file expired or deleted."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := decode(t, env.do(formRequest("/re-analyze", tt.form)))
			if body["status"] != "error" || body["message"] != tt.message || body["translated_text"] != tt.text {
				t.Errorf("body = %v", body)
			}
		})
	}
	if len(env.analyzer.paths) != 0 {
		t.Error("analyzer must not run for invalid requests")
	}
}

func TestProcessQueuesJob(t *testing.T) {
	env := newTestEnv(t, "")
	env.seedUpload(t, "vid_src.mp4")

	req := multipartRequest(t, "/process", map[string]string{
		"video_filename": "vid_src.mp4",
		"text_watermark": "  @me  ",
		"text_x":         "42.9",
		"blur_enabled":   "on",
		"blur_w":         "200",
		"blur_h":         "50",
		"bypass_flip":    "true",
		"bypass_speed":   "1",
		"bypass_zoom":    "off",
		"ai_text":        "hello",
		"voice_gender":   "Female",
	}, map[string]string{"logo_file": "brand.png"})
	rec := env.do(req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	jobID, _ := body["job_id"].(string)
	if body["status"] != "queued" || body["message"] != "Added to Queue" || len(jobID) != 32 {
		t.Fatalf("body = %v", body)
	}

	job, ok := env.q.Store().Get(jobID)
	if !ok {
		t.Fatal("job not stored")
	}
	if job.OutputPath != filepath.Join(env.processed, "recap_"+jobID+".mp4") {
		t.Errorf("output = %s", job.OutputPath)
	}

	opts := job.Options
	if opts.TextWatermark != "@me" || opts.TextX != 42 || opts.TextY != models.DefaultTextY {
		t.Errorf("text options = %+v", opts)
	}
	if !opts.BlurEnabled || opts.Blur.W != 200 || opts.Blur.H != 50 {
		t.Errorf("blur options = %+v", opts)
	}
	if !opts.Flip || !opts.Speed || opts.Zoom || opts.Color || opts.Monetize {
		t.Errorf("toggles = %+v", opts)
	}
	if opts.LogoPath != filepath.Join(env.uploads, "logo_"+jobID+".png") {
		t.Errorf("logo path = %q", opts.LogoPath)
	}
	if opts.Logo.X != 1 || opts.Logo.W != 100 {
		t.Errorf("logo rect = %+v", opts.Logo)
	}
	if opts.NarrationPath != filepath.Join(env.uploads, "audio_"+jobID+".mp3") {
		t.Errorf("narration path = %q", opts.NarrationPath)
	}
	if len(env.synth.voices) != 1 || env.synth.voices[0] != "f-voice" {
		t.Errorf("voices = %v", env.synth.voices)
	}
	if env.q.Len() != 1 {
		t.Errorf("queue length = %d", env.q.Len())
	}
}

func TestProcessNarrationFailureStillQueues(t *testing.T) {
	env := newTestEnv(t, "")
	env.seedUpload(t, "vid_src.mp4")
	env.synth.err = errors.New("quota")

	rec := env.do(formRequest("/process", url.Values{
		"video_filename": {"vid_src.mp4"},
		"ai_text":        {"hello"},
	}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	job, _ := env.q.Store().Get(decode(t, rec)["job_id"].(string))
	if job.Options.NarrationPath != "" {
		t.Errorf("narration path = %q, want none", job.Options.NarrationPath)
	}
}

func TestProcessValidation(t *testing.T) {
	env := newTestEnv(t, "")
	env.seedUpload(t, "vid_src.mp4")

	tests := []struct {
		name    string
		form    url.Values
		code    int
		message string
	}{
		{"no video", url.Values{}, http.StatusBadRequest, "No video selected"},
		{"expired", url.Values{"video_filename": {"vid_old.mp4"}}, http.StatusNotFound, "Source video not found (Expired)"},
		{"bad number", url.Values{"video_filename": {"vid_src.mp4"}, "logo_w": {"wide"}}, http.StatusBadRequest, `invalid logo_w: "wide"`},
		{"out of range", url.Values{"video_filename": {"vid_src.mp4"}, "blur_w": {"-5"}}, http.StatusBadRequest, "blur.w out of allowed range"},
		{"long watermark", url.Values{"video_filename": {"vid_src.mp4"}, "text_watermark": {strings.Repeat("x", 201)}}, http.StatusBadRequest, "text_watermark exceeds maximum length"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(formRequest("/process", tt.form))
			if rec.Code != tt.code {
				t.Errorf("status = %d, want %d", rec.Code, tt.code)
			}
			if body := decode(t, rec); body["message"] != tt.message {
				t.Errorf("message = %v", body["message"])
			}
		})
	}
	if env.q.Len() != 0 {
		t.Error("nothing should be queued")
	}
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t, "")
	env.q.Enqueue(models.RenderJob{ID: "job1", InputPath: "in", OutputPath: "out"})

	body := decode(t, env.do(httptest.NewRequest(http.MethodGet, "/status/job1", nil)))
	if body["status"] != "queued" {
		t.Errorf("body = %v", body)
	}

	body = decode(t, env.do(httptest.NewRequest(http.MethodGet, "/status/nope", nil)))
	if body["status"] != "not_found" {
		t.Errorf("body = %v", body)
	}
}

func TestStreamAndDelete(t *testing.T) {
	env := newTestEnv(t, "")
	path := filepath.Join(env.processed, "recap_x.mp4")
	os.WriteFile(path, []byte("rendered"), 0644)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/stream-and-delete/recap_x.mp4", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if b, _ := io.ReadAll(rec.Body); string(b) != "rendered" {
		t.Errorf("body = %q", b)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("file should be deleted after streaming")
	}

	rec = env.do(httptest.NewRequest(http.MethodGet, "/stream-and-delete/recap_x.mp4", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second fetch status = %d", rec.Code)
	}
	if body := decode(t, rec); body["message"] != "File not found or expired" {
		t.Errorf("body = %v", body)
	}
}

func TestAuthRequiredWhenConfigured(t *testing.T) {
	env := newTestEnv(t, "secret")
	env.seedUpload(t, "vid_src.mp4")

	form := url.Values{"filename": {"vid_src.mp4"}}
	if rec := env.do(formRequest("/re-analyze", form)); rec.Code != http.StatusUnauthorized {
		t.Errorf("no key: status = %d", rec.Code)
	}

	req := formRequest("/re-analyze", form)
	req.Header.Set("X-API-Key", "wrong")
	if rec := env.do(req); rec.Code != http.StatusForbidden {
		t.Errorf("wrong key: status = %d", rec.Code)
	}

	req = formRequest("/re-analyze", form)
	req.Header.Set("Authorization", "Bearer secret")
	if rec := env.do(req); rec.Code != http.StatusOK {
		t.Errorf("bearer key: status = %d", rec.Code)
	}

	if rec := env.do(httptest.NewRequest(http.MethodGet, "/health", nil)); rec.Code != http.StatusOK {
		t.Errorf("health must stay public: %d", rec.Code)
	}
}

func TestDebugKeysMasksSecrets(t *testing.T) {
	env := newTestEnv(t, "")
	rec := env.do(httptest.NewRequest(http.MethodGet, "/debug/keys", nil))

	if strings.Contains(rec.Body.String(), "abcdef123456") {
		t.Fatalf("raw key leaked: %s", rec.Body.String())
	}
	var states []ratelimit.CredentialState
	if err := json.Unmarshal(rec.Body.Bytes(), &states); err != nil || len(states) != 1 {
		t.Fatalf("states = %v, err = %v", states, err)
	}
}

func TestPreviewServer(t *testing.T) {
	env := newTestEnv(t, "")
	env.seedUpload(t, "vid_prev.mp4")

	if rec := env.do(httptest.NewRequest(http.MethodGet, "/static/uploads/vid_prev.mp4", nil)); rec.Code != http.StatusOK {
		t.Errorf("preview status = %d", rec.Code)
	}
	if rec := env.do(httptest.NewRequest(http.MethodGet, "/static/uploads/", nil)); rec.Code != http.StatusNotFound {
		t.Errorf("listing status = %d, want 404", rec.Code)
	}
}

func TestUploadExt(t *testing.T) {
	tests := []struct {
		name, detected, want string
	}{
		{"a.MP4", "mp4", "mp4"},
		{"clip.webm", "webm", "webm"},
		{"noext", "mov", "mov"},
		{"noext", "", "mp4"},
		{"trailing.", "", "mp4"},
		{"weird.m$v", "mkv", "mkv"},
		{"long.abcdefg", "", "mp4"},
		{"x.tar.mkv", "", "mkv"},
	}
	for _, tt := range tests {
		if got := uploadExt(tt.name, tt.detected); got != tt.want {
			t.Errorf("uploadExt(%q, %q) = %q, want %q", tt.name, tt.detected, got, tt.want)
		}
	}
}

func TestProcessIgnoresNonImageLogo(t *testing.T) {
	env := newTestEnv(t, "")
	env.seedUpload(t, "vid_src.mp4")

	rec := env.do(multipartRequest(t, "/process",
		map[string]string{"video_filename": "vid_src.mp4"},
		map[string]string{"logo_file": "logo.txt"}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	job, _ := env.q.Store().Get(decode(t, rec)["job_id"].(string))
	if job.Options.LogoPath != "" {
		t.Errorf("logo path = %q, want none", job.Options.LogoPath)
	}
}

func TestSafeName(t *testing.T) {
	for _, name := range []string{"vid_a.mp4", "recap_1.mp4"} {
		if !safeName(name) {
			t.Errorf("%q should be accepted", name)
		}
	}
	for _, name := range []string{"", ".", "..", ".env", "a/b", `a\b`, "../x"} {
		if safeName(name) {
			t.Errorf("%q should be rejected", name)
		}
	}
}
