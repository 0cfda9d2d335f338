package services

import (
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/bobarin/recapmaker/internal/models"
)

func TestLoopPlanReachesTarget(t *testing.T) {
	for _, d := range []float64{0.5, 1, 7, 10, 23.3, 30, 34.9, 35, 35.1, 50, 69.99} {
		plays, loopCount, effective := LoopPlan(d, true)

		wantPlays := int(math.Ceil(70 / d))
		if plays != wantPlays {
			t.Errorf("d=%v: plays = %d, want %d", d, plays, wantPlays)
		}
		if loopCount != plays-1 {
			t.Errorf("d=%v: loopCount = %d, want %d", d, loopCount, plays-1)
		}
		if effective < 70 {
			t.Errorf("d=%v: effective duration %v is shorter than the target", d, effective)
		}
		if math.Abs(effective-d*float64(plays)) > 1e-9 {
			t.Errorf("d=%v: effective = %v, want %v", d, effective, d*float64(plays))
		}
	}
}

func TestLoopPlanScenarioThirtySeconds(t *testing.T) {
	plays, loopCount, effective := LoopPlan(30, true)
	if plays != 3 || loopCount != 2 || effective != 90 {
		t.Fatalf("LoopPlan(30) = (%d, %d, %v), want (3, 2, 90)", plays, loopCount, effective)
	}
}

func TestLoopPlanNoop(t *testing.T) {
	cases := []struct {
		name     string
		duration float64
		enabled  bool
	}{
		{"disabled", 30, false},
		{"long enough", 70, true},
		{"longer", 120, true},
		{"zero", 0, true},
		{"negative", -3, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			plays, loopCount, effective := LoopPlan(tc.duration, tc.enabled)
			if plays != 1 || loopCount != 0 || effective != tc.duration {
				t.Errorf("LoopPlan(%v, %v) = (%d, %d, %v), want no-op", tc.duration, tc.enabled, plays, loopCount, effective)
			}
		})
	}
}

func TestNarrationTempoClamped(t *testing.T) {
	durations := []float64{0.1, 1, 5, 10, 29.7, 30, 60, 61, 120, 400}
	for _, narration := range durations {
		for _, video := range durations {
			tempo := NarrationTempo(narration, video)
			if tempo < 0.5 || tempo > 2.0 {
				t.Errorf("NarrationTempo(%v, %v) = %v, outside [0.5, 2.0]", narration, video, tempo)
			}
		}
	}

	if got := NarrationTempo(45, 30); got != 1.5 {
		t.Errorf("NarrationTempo(45, 30) = %v, want 1.5", got)
	}
	if got := NarrationTempo(10, 100); got != 0.5 {
		t.Errorf("NarrationTempo(10, 100) = %v, want 0.5", got)
	}
	if got := NarrationTempo(300, 30); got != 2.0 {
		t.Errorf("NarrationTempo(300, 30) = %v, want 2.0", got)
	}
	if got := NarrationTempo(0, 30); got != 0 {
		t.Errorf("NarrationTempo with unknown narration length = %v, want 0", got)
	}
}

func allOptions() models.EditOptions {
	return models.EditOptions{
		TextWatermark: "@recap",
		TextX:         20,
		TextY:         40,
		BlurEnabled:   true,
		Blur:          models.Rect{X: 1, Y: 2, W: 30, H: 40},
		LogoPath:      "/uploads/logo_x.png",
		Logo:          models.Rect{X: 10, Y: 12, W: 80, H: 60},
		Flip:          true,
		Zoom:          true,
		Speed:         true,
		Color:         true,
		Monetize:      true,
		NarrationPath: "/uploads/audio_x.mp3",
	}
}

func TestPlanFilterGraphOrdering(t *testing.T) {
	src := models.SourceMedia{Width: 1080, Height: 1920, DurationSec: 30, HasAudio: true}
	plan := PlanFilterGraph(src, allOptions(), 45)

	want := []StageKind{
		StageAudioSync, StageLoop, StageFlip, StageSpeed, StageZoom,
		StageColor, StageBlur, StageLogo, StageText,
	}
	if !reflect.DeepEqual(plan.Stages, want) {
		t.Fatalf("stages = %v, want %v", plan.Stages, want)
	}

	if plan.Tempo != 1.5 {
		t.Errorf("tempo = %v, want 1.5 (computed against the pre-loop duration)", plan.Tempo)
	}
	if plan.Plays != 3 || plan.LoopCount != 2 || plan.Duration != 90 {
		t.Errorf("loop = (%d, %d, %v), want (3, 2, 90)", plan.Plays, plan.LoopCount, plan.Duration)
	}
	if plan.CropW != 1026 || plan.CropH != 1824 {
		t.Errorf("crop = %dx%d, want 1026x1824", plan.CropW, plan.CropH)
	}
}

func TestPlanFilterGraphSkipsEmptyBlur(t *testing.T) {
	src := models.SourceMedia{Width: 640, Height: 360, DurationSec: 100, HasAudio: true}
	opts := models.EditOptions{BlurEnabled: true, Blur: models.Rect{X: 5, Y: 5, W: 0, H: 20}}

	plan := PlanFilterGraph(src, opts, 0)
	if plan.Has(StageBlur) {
		t.Fatal("blur with zero width should be a no-op")
	}
	if len(plan.Stages) != 0 {
		t.Fatalf("expected no stages, got %v", plan.Stages)
	}
}

func TestPlanFilterGraphLogoDefaults(t *testing.T) {
	src := models.SourceMedia{Width: 640, Height: 360, DurationSec: 100}
	plan := PlanFilterGraph(src, models.EditOptions{LogoPath: "logo.png"}, 0)

	if plan.Logo.W != models.DefaultLogoW || plan.Logo.H != models.DefaultLogoH {
		t.Errorf("logo size = %dx%d, want defaults", plan.Logo.W, plan.Logo.H)
	}
}

func TestFilterComplexFullGraph(t *testing.T) {
	src := models.SourceMedia{Width: 1080, Height: 1920, DurationSec: 30, HasAudio: true}
	plan := PlanFilterGraph(src, allOptions(), 45)

	graph := plan.FilterComplex("/tmp/wm.txt")
	segments := strings.Split(graph, ";")
	if len(segments) != 4 {
		t.Fatalf("expected 4 graph segments, got %d: %s", len(segments), graph)
	}

	wantBase := "[0:v]loop=loop=2:size=32767,hflip,setpts=PTS/1.05,crop=1026:1824:(in_w-ow)/2:(in_h-oh)/2,scale=1080:1920,eq=contrast=1.1:brightness=0.05:saturation=1.2,delogo=x=1:y=2:w=30:h=40[vbase]"
	if segments[0] != wantBase {
		t.Errorf("base chain:\n got %s\nwant %s", segments[0], wantBase)
	}
	if segments[1] != "[2:v]scale=80:60[logo]" {
		t.Errorf("logo chain = %s", segments[1])
	}
	if !strings.HasPrefix(segments[2], "[vbase][logo]overlay=10:12,drawtext=textfile='/tmp/wm.txt':x=20:y=40:fontsize=35:fontcolor=white") {
		t.Errorf("overlay chain = %s", segments[2])
	}
	if !strings.HasSuffix(segments[2], "[vout]") {
		t.Errorf("overlay chain should end in [vout]: %s", segments[2])
	}

	wantAudio := "[1:a]atempo=1.5,atrim=duration=30,aloop=loop=2:size=2147483647,atempo=1.05[aout]"
	if segments[3] != wantAudio {
		t.Errorf("audio chain:\n got %s\nwant %s", segments[3], wantAudio)
	}

	inputs := plan.ExtraInputs()
	if !reflect.DeepEqual(inputs, []string{"/uploads/audio_x.mp3", "/uploads/logo_x.png"}) {
		t.Errorf("extra inputs = %v", inputs)
	}
}

func TestFilterComplexPassthrough(t *testing.T) {
	plan := PlanFilterGraph(models.SourceMedia{Width: 640, Height: 360, DurationSec: 100, HasAudio: true}, models.EditOptions{}, 0)

	if got := plan.FilterComplex(""); got != "[0:v]null[vout];[0:a]anull[aout]" {
		t.Errorf("passthrough graph = %s", got)
	}
}

func TestFilterComplexSilentSource(t *testing.T) {
	plan := PlanFilterGraph(models.SourceMedia{Width: 640, Height: 360, DurationSec: 100}, models.EditOptions{Flip: true}, 0)

	graph := plan.FilterComplex("")
	if strings.Contains(graph, "[aout]") {
		t.Errorf("silent source without narration should not produce audio: %s", graph)
	}
	if plan.HasAudioOutput() {
		t.Error("HasAudioOutput should be false")
	}
}

func TestFilterComplexLogoWithoutNarrationUsesInputOne(t *testing.T) {
	plan := PlanFilterGraph(models.SourceMedia{Width: 640, Height: 360, DurationSec: 100, HasAudio: true},
		models.EditOptions{LogoPath: "logo.png", Logo: models.Rect{X: 1, Y: 1, W: 50, H: 50}}, 0)

	graph := plan.FilterComplex("")
	if !strings.Contains(graph, "[1:v]scale=50:50[logo]") {
		t.Errorf("logo should be input 1 when there is no narration: %s", graph)
	}
	if !strings.Contains(graph, "[0:v]null[vbase]") {
		t.Errorf("empty base chain should pass through: %s", graph)
	}
}

func TestFilterComplexUntimedNarration(t *testing.T) {
	plan := PlanFilterGraph(models.SourceMedia{Width: 640, Height: 360, DurationSec: 100},
		models.EditOptions{NarrationPath: "a.mp3"}, 0)

	if got := plan.FilterComplex(""); got != "[0:v]null[vout];[1:a]anull[aout]" {
		t.Errorf("untimed narration graph = %s", got)
	}
}

func TestWithoutDropsOnlyOptionalStages(t *testing.T) {
	src := models.SourceMedia{Width: 1080, Height: 1920, DurationSec: 30, HasAudio: true}
	plan := PlanFilterGraph(src, allOptions(), 45)

	noLogo := plan.Without(StageLogo, StageFlip)
	if noLogo.Has(StageLogo) {
		t.Error("logo stage should be removed")
	}
	if !noLogo.Has(StageFlip) {
		t.Error("flip is not optional and must be kept")
	}
	if !noLogo.Has(StageText) {
		t.Error("text stage should be kept")
	}
	if noLogo.LogoPath != "" {
		t.Error("logo path should be cleared")
	}
	if len(noLogo.ExtraInputs()) != 1 {
		t.Errorf("expected only the narration input, got %v", noLogo.ExtraInputs())
	}
	if strings.Contains(noLogo.FilterComplex("/tmp/wm.txt"), "overlay") {
		t.Error("graph without logo must not overlay")
	}

	if !plan.Has(StageLogo) {
		t.Error("Without must not mutate the original plan")
	}

	if got := plan.Optional(); !reflect.DeepEqual(got, []StageKind{StageLogo, StageText}) {
		t.Errorf("Optional() = %v", got)
	}
}
