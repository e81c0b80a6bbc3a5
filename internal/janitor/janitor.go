// Package janitor sweeps the cache root in the background: expired negative
// markers are unlinked eagerly instead of waiting for a reader to trip over
// them, and staging directories orphaned by crashes are removed once they are
// old enough that no live transcode can own them. Positive entries are never
// touched; pruning those is an operator concern.
package janitor

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mattjoyce/symgate/internal/cache"
	"github.com/mattjoyce/symgate/internal/log"
)

// Publisher fans sweep reports out to observers.
type Publisher interface {
	Publish(eventType string, data any)
}

// Report summarizes one sweep.
type Report struct {
	ExpiredMarkers int `json:"expired_markers"`
	StaleStaging   int `json:"stale_staging"`
}

// Janitor periodically sweeps a cache root.
type Janitor struct {
	root          string
	interval      time.Duration
	stagingMaxAge time.Duration
	events        Publisher
	logger        *slog.Logger
	now           func() time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a janitor for the cache rooted at root. events may be nil.
func New(root string, interval, stagingMaxAge time.Duration, events Publisher) *Janitor {
	return &Janitor{
		root:          root,
		interval:      interval,
		stagingMaxAge: stagingMaxAge,
		events:        events,
		logger:        log.WithComponent("janitor"),
		now:           time.Now,
		stopCh:        make(chan struct{}),
	}
}

// Start begins the sweep loop. Non-blocking.
func (j *Janitor) Start(ctx context.Context) {
	j.wg.Add(1)
	go j.loop(ctx)
}

// Stop waits for the current sweep to finish.
func (j *Janitor) Stop() {
	close(j.stopCh)
	j.wg.Wait()
}

func (j *Janitor) loop(ctx context.Context) {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			report := j.Sweep(ctx)
			j.logger.Debug("sweep finished",
				"expired_markers", report.ExpiredMarkers,
				"stale_staging", report.StaleStaging)
			if j.events != nil {
				j.events.Publish("janitor.sweep", report)
			}
		case <-j.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Sweep performs a single pass. Safe to call concurrently with live
// transcodes: every removal tolerates losing a race.
func (j *Janitor) Sweep(ctx context.Context) Report {
	report := Report{}
	report.ExpiredMarkers = j.sweepMarkers(ctx)
	report.StaleStaging = j.sweepStaging(ctx)
	return report
}

func (j *Janitor) sweepMarkers(ctx context.Context) int {
	removed := 0
	cutoff := j.now().UTC()

	_ = filepath.WalkDir(j.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			// Entries vanishing mid-walk are expected.
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == cache.StagingDirName && filepath.Dir(path) == j.root {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".negativesymcache") {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		expiry, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(string(data)))
		if err != nil || !cutoff.Before(expiry.UTC()) {
			if os.Remove(path) == nil {
				removed++
			}
		}
		return nil
	})
	return removed
}

func (j *Janitor) sweepStaging(ctx context.Context) int {
	stagingRoot := filepath.Join(j.root, cache.StagingDirName)
	entries, err := os.ReadDir(stagingRoot)
	if err != nil {
		return 0
	}

	cutoff := j.now().Add(-j.stagingMaxAge)
	removed := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return removed
		}
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(stagingRoot, entry.Name())); err != nil {
			j.logger.Warn("remove stale staging directory", "name", entry.Name(), "error", err)
			continue
		}
		removed++
	}
	return removed
}
