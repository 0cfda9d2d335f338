package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type fakeExtractor struct {
	err     error
	written string
}

func (f *fakeExtractor) ExtractAudio(ctx context.Context, videoPath, outputPath string) error {
	f.written = outputPath
	if err := os.WriteFile(outputPath, []byte("mp3"), 0644); err != nil {
		return err
	}
	return f.err
}

type fakeTranscriber struct {
	text string
	err  error
	seen bool
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audioPath string) (string, error) {
	_, statErr := os.Stat(audioPath)
	f.seen = statErr == nil
	return f.text, f.err
}

type fakeTranslator struct {
	out string
	err error
	in  string
}

func (f *fakeTranslator) Translate(ctx context.Context, text string) (string, error) {
	f.in = text
	return f.out, f.err
}

func assertRemoved(t *testing.T, path string) {
	t.Helper()
	if path == "" {
		t.Fatal("extractor was never called")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("temporary audio %s was not removed", path)
	}
}

func TestAnalyzeSuccess(t *testing.T) {
	ex := &fakeExtractor{}
	tr := &fakeTranscriber{text: "hello world"}
	tl := &fakeTranslator{out: "ဟယ်လို"}
	a := NewAnalyzer(ex, tr, tl, t.TempDir())

	got := a.Describe(context.Background(), "vid_1.mp4")
	if got != "ဟယ်လို" {
		t.Errorf("Describe = %q", got)
	}
	if !tr.seen {
		t.Error("transcriber should see the extracted audio")
	}
	if tl.in != "hello world" {
		t.Errorf("translator input = %q", tl.in)
	}
	if !strings.HasPrefix(filepath.Base(ex.written), "temp_") || filepath.Ext(ex.written) != ".mp3" {
		t.Errorf("unexpected temp name %s", ex.written)
	}
	assertRemoved(t, ex.written)
}

func TestAnalyzeEmptyTranscript(t *testing.T) {
	ex := &fakeExtractor{}
	tl := &fakeTranslator{}
	a := NewAnalyzer(ex, &fakeTranscriber{}, tl, t.TempDir())

	_, err := a.Analyze(context.Background(), "vid.mp4")
	if !errors.Is(err, ErrTranscriptionFailed) {
		t.Fatalf("got %v, want ErrTranscriptionFailed", err)
	}
	if tl.in != "" {
		t.Error("translation must not run without a transcript")
	}
	if got := DescribeError(err); got != "Transcription Failed (Check Groq Key)" {
		t.Errorf("message = %q", got)
	}
	assertRemoved(t, ex.written)
}

func TestAnalyzeTranscriberError(t *testing.T) {
	ex := &fakeExtractor{}
	a := NewAnalyzer(ex, &fakeTranscriber{err: errors.New("401 invalid key")}, &fakeTranslator{}, t.TempDir())

	got := a.Describe(context.Background(), "vid.mp4")
	if got != "Transcription Failed (Check Groq Key)" {
		t.Errorf("message = %q", got)
	}
	assertRemoved(t, ex.written)
}

func TestAnalyzeTranslationFailure(t *testing.T) {
	ex := &fakeExtractor{}
	tl := &fakeTranslator{err: &TranslationError{Attempts: 3, Err: errors.New("quota exceeded")}}
	a := NewAnalyzer(ex, &fakeTranscriber{text: "hi"}, tl, t.TempDir())

	got := a.Describe(context.Background(), "vid.mp4")
	if got != "Translation Failed: quota exceeded" {
		t.Errorf("message = %q", got)
	}
	assertRemoved(t, ex.written)
}

func TestAnalyzeWrapsPlainTranslatorErrors(t *testing.T) {
	tl := &fakeTranslator{err: errors.New("no api credentials configured")}
	a := NewAnalyzer(&fakeExtractor{}, &fakeTranscriber{text: "hi"}, tl, t.TempDir())

	_, err := a.Analyze(context.Background(), "vid.mp4")
	var te *TranslationError
	if !errors.As(err, &te) {
		t.Fatalf("got %T, want *TranslationError", err)
	}
}

func TestAnalyzeExtractFailure(t *testing.T) {
	ex := &fakeExtractor{err: errors.New("no audio stream")}
	a := NewAnalyzer(ex, &fakeTranscriber{text: "unused"}, &fakeTranslator{}, t.TempDir())

	got := a.Describe(context.Background(), "vid.mp4")
	if !strings.HasPrefix(got, "Error: ") || !strings.Contains(got, "no audio stream") {
		t.Errorf("message = %q", got)
	}
	assertRemoved(t, ex.written)
}
