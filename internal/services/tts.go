package services

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

// ---------------------------------------------------------------------------
// Synthesizer: common interface for narration providers
// ---------------------------------------------------------------------------

// Synthesizer renders text as speech into an mp3 file at outputPath.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID, outputPath string) error
}

// Voices maps a narrator gender to a provider voice ID.
type Voices struct {
	Male   string
	Female string
}

// VoiceFor returns the voice for gender ("male" or "female"). Anything that is
// not "female" gets the male voice.
func (v Voices) VoiceFor(gender string) string {
	if strings.EqualFold(strings.TrimSpace(gender), "female") {
		return v.Female
	}
	return v.Male
}

// saveAudio streams r into path through a sibling .part file so a reader
// never sees a half-written mp3. Empty audio is an error.
func saveAudio(path string, r io.Reader) (int64, error) {
	part := path + ".part"
	f, err := os.Create(part)
	if err != nil {
		return 0, fmt.Errorf("failed to create audio file: %w", err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n == 0 {
		err = fmt.Errorf("empty audio")
	}
	if err == nil {
		err = os.Rename(part, path)
	}
	if err != nil {
		os.Remove(part)
		return 0, fmt.Errorf("failed to save audio: %w", err)
	}
	return n, nil
}
