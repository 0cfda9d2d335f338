package services

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
)

const ytdlpFormat = "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best"

// Downloader fetches a remote video with yt-dlp.
type Downloader struct {
	bin string
	run CommandRunner
}

func NewDownloader(bin string, run CommandRunner) *Downloader {
	if bin == "" {
		bin = "yt-dlp"
	}
	if run == nil {
		run = execRunner
	}
	return &Downloader{bin: bin, run: run}
}

// Download saves url next to destPrefix (a path without extension) and returns
// the path of the file yt-dlp produced. yt-dlp picks the extension itself, so
// the result is found by prefix.
func (d *Downloader) Download(ctx context.Context, url, destPrefix string) (string, error) {
	if strings.TrimSpace(url) == "" {
		return "", fmt.Errorf("no url")
	}

	args := []string{
		"-f", ytdlpFormat,
		"--no-playlist",
		"--no-check-certificates",
		"--quiet",
		"-o", destPrefix + ".%(ext)s",
		url,
	}

	log.Printf("[Download] Fetching %s", url)
	if output, err := d.run(ctx, d.bin, args...); err != nil {
		return "", fmt.Errorf("yt-dlp failed: %w: %s", err, tail(output))
	}

	path, err := findByPrefix(filepath.Dir(destPrefix), filepath.Base(destPrefix))
	if err != nil {
		return "", err
	}
	log.Printf("[Download] Saved %s", filepath.Base(path))
	return path, nil
}

func findByPrefix(dir, prefix string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", dir, err)
	}
	for _, e := range entries {
		name := e.Name()
		// Skip yt-dlp's in-progress fragments
		if e.Type().IsRegular() && strings.HasPrefix(name, prefix) && !strings.HasSuffix(name, ".part") {
			return filepath.Join(dir, name), nil
		}
	}
	return "", fmt.Errorf("download failed: no file with prefix %s", prefix)
}
