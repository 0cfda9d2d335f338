// Package cleanup deletes transient uploads and renders once they expire.
package cleanup

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	DefaultInterval = 10 * time.Minute
	DefaultMaxAge   = 30 * time.Minute
)

// Sweeper periodically removes old files from a fixed set of directories.
type Sweeper struct {
	dirs     []string
	interval time.Duration
	maxAge   time.Duration
	now      func() time.Time
	remove   func(string) error
}

func NewSweeper(interval, maxAge time.Duration, dirs ...string) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Sweeper{
		dirs:     dirs,
		interval: interval,
		maxAge:   maxAge,
		now:      time.Now,
		remove:   os.Remove,
	}
}

// Run sweeps every interval until ctx is cancelled. The first sweep happens
// one interval after start.
func (s *Sweeper) Run(ctx context.Context) {
	log.Printf("[Sweeper] Started (every %v, max age %v, dirs %v)", s.interval, s.maxAge, s.dirs)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[Sweeper] Shutting down...")
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				log.Printf("[Sweeper] Cleaned up %d old files", n)
			}
		}
	}
}

// Sweep deletes regular, non-hidden files last modified more than maxAge ago
// and returns how many it removed. Errors on one file never stop the sweep.
func (s *Sweeper) Sweep() int {
	cutoff := s.now().Add(-s.maxAge)
	deleted := 0

	for _, dir := range s.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !os.IsNotExist(err) {
				log.Printf("[Sweeper] Failed to read %s: %v", dir, err)
			}
			continue
		}

		for _, entry := range entries {
			name := entry.Name()
			if strings.HasPrefix(name, ".") || !entry.Type().IsRegular() {
				continue
			}

			info, err := entry.Info()
			if err != nil {
				continue // Removed concurrently
			}
			if !info.ModTime().Before(cutoff) {
				continue
			}

			path := filepath.Join(dir, name)
			if err := s.remove(path); err != nil {
				if !os.IsNotExist(err) {
					log.Printf("[Sweeper] Failed to delete %s: %v", path, err)
				}
				continue
			}
			deleted++
		}
	}

	return deleted
}
