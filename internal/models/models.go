package models

import (
	"time"
)

// Enums
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusSuccess    JobStatus = "success"
	JobStatusFailed     JobStatus = "failed"

	// JobStatusNotFound is only ever reported to pollers, never stored.
	JobStatusNotFound JobStatus = "not_found"
)

// Terminal reports whether no further transition is allowed from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSuccess || s == JobStatusFailed
}

// Rect is a pixel rectangle in source-frame coordinates.
type Rect struct {
	X int `json:"x" validate:"gte=-8192,lte=8192"`
	Y int `json:"y" validate:"gte=-8192,lte=8192"`
	W int `json:"w" validate:"gte=0,lte=8192"`
	H int `json:"h" validate:"gte=0,lte=8192"`
}

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool {
	return r.W <= 0 || r.H <= 0
}

// Default overlay geometry used when the form omits a value.
const (
	DefaultLogoX = 1
	DefaultLogoY = 1
	DefaultLogoW = 100
	DefaultLogoH = 100
	DefaultTextX = 10
	DefaultTextY = 10
)

// EditOptions describes the transforms requested for one render.
// It is built once per job and never mutated afterwards.
type EditOptions struct {
	TextWatermark string `json:"text_watermark,omitempty" validate:"max=200"`
	TextX         int    `json:"text_x" validate:"gte=-8192,lte=8192"`
	TextY         int    `json:"text_y" validate:"gte=-8192,lte=8192"`

	BlurEnabled bool `json:"blur_enabled"`
	Blur        Rect `json:"blur"`

	LogoPath string `json:"logo_path,omitempty"`
	Logo     Rect   `json:"logo"`

	Flip     bool `json:"bypass_flip"`
	Zoom     bool `json:"bypass_zoom"`
	Speed    bool `json:"bypass_speed"`
	Color    bool `json:"bypass_color"`
	Monetize bool `json:"monezlation"`

	NarrationPath string `json:"ai_audio_path,omitempty"`
}

// RenderJob is one queued render request and its lifecycle.
type RenderJob struct {
	ID         string      `json:"id"`
	InputPath  string      `json:"input_path"`
	OutputPath string      `json:"output_path"`
	Options    EditOptions `json:"options"`
	Status     JobStatus   `json:"status"`
	URL        string      `json:"url,omitempty"`
	Message    string      `json:"message,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// StatusResponse is what pollers see for a job.
type StatusResponse struct {
	Status  JobStatus `json:"status"`
	URL     string    `json:"url,omitempty"`
	Message string    `json:"message,omitempty"`
}

// StatusOf projects a job onto the poller view.
func StatusOf(job RenderJob) StatusResponse {
	return StatusResponse{
		Status:  job.Status,
		URL:     job.URL,
		Message: job.Message,
	}
}

// SourceMedia holds the probed facts about an input file.
type SourceMedia struct {
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	DurationSec float64 `json:"duration_sec"`
	HasAudio    bool    `json:"has_audio"`
}

// DTOs for API responses

type UploadResponse struct {
	Status         string `json:"status"`
	Filename       string `json:"filename,omitempty"`
	Path           string `json:"path,omitempty"`
	TranslatedText string `json:"translated_text"`
	Message        string `json:"message,omitempty"`
}

type ProcessResponse struct {
	Status  string `json:"status"`
	JobID   string `json:"job_id,omitempty"`
	Message string `json:"message"`
}

type AnalyzeResponse struct {
	Status         string `json:"status"`
	TranslatedText string `json:"translated_text"`
	Message        string `json:"message,omitempty"`
}
