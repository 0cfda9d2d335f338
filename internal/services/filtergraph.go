package services

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/bobarin/recapmaker/internal/models"
)

// ---------------------------------------------------------------------------
// Filter graph planning: EditOptions to ffmpeg stages, no I/O
// ---------------------------------------------------------------------------

// StageKind names one transform in the render pipeline.
type StageKind string

const (
	StageAudioSync StageKind = "audio_sync"
	StageLoop      StageKind = "loop"
	StageFlip      StageKind = "flip"
	StageSpeed     StageKind = "speed"
	StageZoom      StageKind = "zoom"
	StageColor     StageKind = "color"
	StageBlur      StageKind = "blur"
	StageLogo      StageKind = "logo"
	StageText      StageKind = "text"
)

// stageOrder is the fixed application order. Overlays come after every
// geometry and timing change so their coordinates land on the final frame.
var stageOrder = []StageKind{
	StageAudioSync,
	StageLoop,
	StageFlip,
	StageSpeed,
	StageZoom,
	StageColor,
	StageBlur,
	StageLogo,
	StageText,
}

// optionalStages may be dropped when they break a render.
var optionalStages = []StageKind{StageLogo, StageText}

const (
	// Duration extension target for short sources
	loopTargetSec = 70.0

	// loop/aloop buffer sizes: frames and samples held in memory per repetition
	loopFrameBuffer   = 32767
	aloopSampleBuffer = 2147483647

	minNarrationTempo = 0.5
	maxNarrationTempo = 2.0

	speedFactor = 1.05
	zoomFactor  = 0.95

	colorContrast   = 1.1
	colorBrightness = 0.05
	colorSaturation = 1.2

	watermarkFontSize = 35
)

// FilterPlan is the fully resolved pipeline for one render.
type FilterPlan struct {
	Source models.SourceMedia
	Stages []StageKind

	// Narration retiming (StageAudioSync)
	NarrationPath     string
	NarrationDuration float64
	Tempo             float64 // 0 when the narration is used untimed

	// Duration extension (StageLoop)
	Plays     int
	LoopCount int
	Duration  float64 // effective duration after looping

	// Zoom crop size (StageZoom)
	CropW int
	CropH int

	Blur models.Rect

	LogoPath string
	Logo     models.Rect

	Text  string
	TextX int
	TextY int
}

// LoopPlan computes how many times a short clip must play to reach the
// extension target. loopCount is plays-1, the value ffmpeg's loop filter takes.
func LoopPlan(duration float64, enabled bool) (plays, loopCount int, effective float64) {
	if !enabled || duration <= 0 || duration >= loopTargetSec {
		return 1, 0, duration
	}
	plays = int(math.Ceil(loopTargetSec / duration))
	loopCount = plays - 1
	if loopCount <= 0 {
		return 1, 0, duration
	}
	return plays, loopCount, duration * float64(plays)
}

// NarrationTempo returns the atempo ratio that fits narration into the video,
// clamped to the range atempo handles without chaining.
func NarrationTempo(narrationSec, videoSec float64) float64 {
	if narrationSec <= 0 || videoSec <= 0 {
		return 0
	}
	tempo := narrationSec / videoSec
	if tempo < minNarrationTempo {
		tempo = minNarrationTempo
	}
	if tempo > maxNarrationTempo {
		tempo = maxNarrationTempo
	}
	return tempo
}

// PlanFilterGraph resolves the stage list for src and opts. narrationSec is the
// probed length of opts.NarrationPath (0 when unknown).
func PlanFilterGraph(src models.SourceMedia, opts models.EditOptions, narrationSec float64) FilterPlan {
	plan := FilterPlan{
		Source:   src,
		Plays:    1,
		Duration: src.DurationSec,
	}

	enabled := map[StageKind]bool{}

	// Narration tempo is fixed against the pre-loop duration; looping below
	// repeats the retimed track along with the picture.
	if opts.NarrationPath != "" {
		enabled[StageAudioSync] = true
		plan.NarrationPath = opts.NarrationPath
		plan.NarrationDuration = narrationSec
		plan.Tempo = NarrationTempo(narrationSec, src.DurationSec)
	}

	plays, loopCount, effective := LoopPlan(src.DurationSec, opts.Monetize)
	if loopCount > 0 {
		enabled[StageLoop] = true
		plan.Plays = plays
		plan.LoopCount = loopCount
		plan.Duration = effective
	}

	enabled[StageFlip] = opts.Flip
	enabled[StageSpeed] = opts.Speed
	enabled[StageColor] = opts.Color

	if opts.Zoom && src.Width > 0 && src.Height > 0 {
		enabled[StageZoom] = true
		plan.CropW = int(float64(src.Width) * zoomFactor)
		plan.CropH = int(float64(src.Height) * zoomFactor)
	}

	if opts.BlurEnabled && !opts.Blur.Empty() {
		enabled[StageBlur] = true
		plan.Blur = opts.Blur
	}

	if opts.LogoPath != "" {
		enabled[StageLogo] = true
		plan.LogoPath = opts.LogoPath
		plan.Logo = opts.Logo
		if plan.Logo.W <= 0 {
			plan.Logo.W = models.DefaultLogoW
		}
		if plan.Logo.H <= 0 {
			plan.Logo.H = models.DefaultLogoH
		}
	}

	if strings.TrimSpace(opts.TextWatermark) != "" {
		enabled[StageText] = true
		plan.Text = opts.TextWatermark
		plan.TextX = opts.TextX
		plan.TextY = opts.TextY
	}

	for _, kind := range stageOrder {
		if enabled[kind] {
			plan.Stages = append(plan.Stages, kind)
		}
	}

	return plan
}

// Has reports whether the plan includes kind.
func (p FilterPlan) Has(kind StageKind) bool {
	for _, k := range p.Stages {
		if k == kind {
			return true
		}
	}
	return false
}

// Optional returns the droppable stages present in the plan.
func (p FilterPlan) Optional() []StageKind {
	var out []StageKind
	for _, kind := range optionalStages {
		if p.Has(kind) {
			out = append(out, kind)
		}
	}
	return out
}

// Without returns a copy of the plan with the given optional stages removed.
// Mandatory stages are never dropped.
func (p FilterPlan) Without(kinds ...StageKind) FilterPlan {
	drop := map[StageKind]bool{}
	for _, k := range kinds {
		for _, opt := range optionalStages {
			if k == opt {
				drop[k] = true
			}
		}
	}

	out := p
	out.Stages = nil
	for _, k := range p.Stages {
		if !drop[k] {
			out.Stages = append(out.Stages, k)
		}
	}
	if drop[StageLogo] {
		out.LogoPath = ""
		out.Logo = models.Rect{}
	}
	if drop[StageText] {
		out.Text = ""
	}
	return out
}

// ExtraInputs lists the media files fed to ffmpeg after the source (input 0),
// in input-index order.
func (p FilterPlan) ExtraInputs() []string {
	var inputs []string
	if p.Has(StageAudioSync) {
		inputs = append(inputs, p.NarrationPath)
	}
	if p.Has(StageLogo) {
		inputs = append(inputs, p.LogoPath)
	}
	return inputs
}

// HasAudioOutput reports whether the graph produces an [aout] stream.
func (p FilterPlan) HasAudioOutput() bool {
	return p.Source.HasAudio || p.Has(StageAudioSync)
}

// FilterComplex renders the plan as an ffmpeg -filter_complex graph. The video
// result is labelled [vout] and the audio result [aout]. textFile holds the
// watermark text when the plan has a text stage.
func (p FilterPlan) FilterComplex(textFile string) string {
	var graph []string

	narrationInput, logoInput := 0, 0
	next := 1
	if p.Has(StageAudioSync) {
		narrationInput = next
		next++
	}
	if p.Has(StageLogo) {
		logoInput = next
	}

	videoIn := "[0:v]"
	var vf []string
	var af []string
	audioIn := "[0:a]"

	flushVideo := func(label string) {
		chain := "null"
		if len(vf) > 0 {
			chain = strings.Join(vf, ",")
		}
		graph = append(graph, videoIn+chain+label)
		videoIn = label
		vf = nil
	}

	for _, kind := range p.Stages {
		switch kind {
		case StageAudioSync:
			audioIn = fmt.Sprintf("[%d:a]", narrationInput)
			if p.Tempo > 0 {
				af = append(af,
					"atempo="+formatFloat(p.Tempo),
					"atrim=duration="+formatFloat(p.Source.DurationSec),
				)
			}

		case StageLoop:
			vf = append(vf, fmt.Sprintf("loop=loop=%d:size=%d", p.LoopCount, loopFrameBuffer))
			af = append(af, fmt.Sprintf("aloop=loop=%d:size=%d", p.LoopCount, aloopSampleBuffer))

		case StageFlip:
			vf = append(vf, "hflip")

		case StageSpeed:
			vf = append(vf, "setpts=PTS/"+formatFloat(speedFactor))
			af = append(af, "atempo="+formatFloat(speedFactor))

		case StageZoom:
			vf = append(vf,
				fmt.Sprintf("crop=%d:%d:(in_w-ow)/2:(in_h-oh)/2", p.CropW, p.CropH),
				fmt.Sprintf("scale=%d:%d", p.Source.Width, p.Source.Height),
			)

		case StageColor:
			vf = append(vf, fmt.Sprintf("eq=contrast=%s:brightness=%s:saturation=%s",
				formatFloat(colorContrast), formatFloat(colorBrightness), formatFloat(colorSaturation)))

		case StageBlur:
			vf = append(vf, fmt.Sprintf("delogo=x=%d:y=%d:w=%d:h=%d", p.Blur.X, p.Blur.Y, p.Blur.W, p.Blur.H))

		case StageLogo:
			// The overlay needs two inputs, so close the running chain first.
			flushVideo("[vbase]")
			graph = append(graph, fmt.Sprintf("[%d:v]scale=%d:%d[logo]", logoInput, p.Logo.W, p.Logo.H))
			videoIn = "[vbase][logo]"
			vf = append(vf, fmt.Sprintf("overlay=%d:%d", p.Logo.X, p.Logo.Y))

		case StageText:
			vf = append(vf, fmt.Sprintf(
				"drawtext=textfile='%s':x=%d:y=%d:fontsize=%d:fontcolor=white:borderw=2:bordercolor=black:shadowx=2:shadowy=2:shadowcolor=black@0.5",
				escapeFFmpegFilterPath(textFile), p.TextX, p.TextY, watermarkFontSize,
			))
		}
	}

	flushVideo("[vout]")

	if p.HasAudioOutput() {
		chain := "anull"
		if len(af) > 0 {
			chain = strings.Join(af, ",")
		}
		graph = append(graph, audioIn+chain+"[aout]")
	}

	return strings.Join(graph, ";")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
