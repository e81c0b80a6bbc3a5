package cache

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattjoyce/symgate/internal/artifact"
	"github.com/mattjoyce/symgate/internal/log"
	"github.com/mattjoyce/symgate/internal/semver"
)

const (
	// NegativeTTL bounds how long a recorded failure suppresses retries.
	NegativeTTL = 24 * time.Hour

	// StagingDirName is the transient staging area under the cache root.
	StagingDirName = ".temp"

	positiveExt = ".symcache"
	negativeExt = ".negativesymcache"
)

// State is the outcome of a cache lookup.
type State int

const (
	Miss State = iota
	Negative
	Positive
)

func (s State) String() string {
	switch s {
	case Positive:
		return "positive"
	case Negative:
		return "negative"
	default:
		return "miss"
	}
}

// Result carries the lookup outcome. Path and Version are set only for
// Positive.
type Result struct {
	State   State
	Path    string
	Version semver.Version
}

// Repository reads and writes cache entries under a fixed root directory.
// All methods tolerate concurrent readers, writers, and deleters.
type Repository struct {
	root   string
	now    func() time.Time
	logger *slog.Logger
}

// New creates a repository over root. The directory must already exist; the
// caller validates that at startup.
func New(root string) (*Repository, error) {
	trimmed := strings.TrimSpace(root)
	if trimmed == "" {
		return nil, fmt.Errorf("cache root is empty")
	}
	return &Repository{
		root:   filepath.Clean(trimmed),
		now:    time.Now,
		logger: log.WithComponent("cache"),
	}, nil
}

// Root returns the cache root directory.
func (r *Repository) Root() string {
	return r.root
}

// RelativePathFor returns the positive entry path for key, relative to the
// root. The transcoder emits its output at this same relative path under its
// own output root, which is what makes staging-then-rename line up.
func (r *Repository) RelativePathFor(key artifact.Key) string {
	return filepath.Join(key.Name, key.IndexSegment(), positiveFileName(key.Name, key.Version))
}

// PathFor returns the canonical absolute positive path for key. Pure; no
// filesystem access.
func (r *Repository) PathFor(key artifact.Key) string {
	return filepath.Join(r.root, r.RelativePathFor(key))
}

func (r *Repository) negativePathFor(key artifact.Key) string {
	return filepath.Join(r.root, key.Name, key.IndexSegment(), key.Name+"-v"+key.Version.String()+negativeExt)
}

func positiveFileName(name string, v semver.Version) string {
	return name + "-v" + v.String() + positiveExt
}

// Lookup inspects the entry directory for key. A positive file at any format
// version up to key.Version is a hit (the best such version wins, and
// positive always beats negative). Failing that, an unexpired negative
// marker at a version up to key.Version is a negative hit; expired or
// unreadable markers are treated as absent and best-effort deleted.
func (r *Repository) Lookup(key artifact.Key) Result {
	dir := filepath.Join(r.root, key.Name, key.IndexSegment())

	entries, err := os.ReadDir(dir)
	if err != nil {
		// Missing directory, racing deletion, permission trouble: all miss.
		return Result{State: Miss}
	}

	var (
		bestPositive    semver.Version
		havePositive    bool
		negativeMarkers []string
	)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		// Order matters: ".negativesymcache" also ends in ".symcache".
		switch {
		case strings.HasSuffix(name, negativeExt):
			v, ok := parseEntryVersion(key.Name, name, negativeExt)
			if !ok || key.Version.Less(v) {
				continue
			}
			negativeMarkers = append(negativeMarkers, filepath.Join(dir, name))
		case strings.HasSuffix(name, positiveExt):
			v, ok := parseEntryVersion(key.Name, name, positiveExt)
			if !ok || key.Version.Less(v) {
				continue
			}
			if !havePositive || bestPositive.Less(v) {
				bestPositive = v
				havePositive = true
			}
		}
	}

	if havePositive {
		return Result{
			State:   Positive,
			Path:    filepath.Join(dir, positiveFileName(key.Name, bestPositive)),
			Version: bestPositive,
		}
	}

	for _, marker := range negativeMarkers {
		if r.negativeInForce(marker) {
			return Result{State: Negative}
		}
	}
	return Result{State: Miss}
}

// negativeInForce reads marker and reports whether its expiry is still in the
// future. Expired or unparseable markers are deleted best-effort and report
// false.
func (r *Repository) negativeInForce(marker string) bool {
	data, err := os.ReadFile(marker)
	if err != nil {
		return false
	}

	expiry, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(string(data)))
	if err != nil {
		r.logger.Warn("unreadable negative marker, removing", "path", marker, "error", err)
		_ = os.Remove(marker)
		return false
	}

	if r.now().UTC().Before(expiry.UTC()) {
		return true
	}
	_ = os.Remove(marker)
	return false
}

// MarkNegative records a definitive failure for key, suppressing retries for
// NegativeTTL. Overwrites any previous marker; a torn write is acceptable
// because readers degrade unparseable markers to miss. Never returns an
// error: the caller has already failed, and the worst outcome of a lost
// marker is a retried transcode.
func (r *Repository) MarkNegative(key artifact.Key) {
	path := r.negativePathFor(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		r.logger.Warn("create negative marker directory", "path", path, "error", err)
		return
	}

	expiry := r.now().UTC().Add(NegativeTTL).Format(time.RFC3339Nano)
	if err := os.WriteFile(path, []byte(expiry), 0o644); err != nil {
		r.logger.Warn("write negative marker", "path", path, "error", err)
	}
}

// NewStagingDir creates a fresh per-attempt staging directory under
// <root>/.temp. The caller owns removal.
func (r *Repository) NewStagingDir() (string, error) {
	dir := filepath.Join(r.root, StagingDirName, uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create staging directory: %w", err)
	}
	return dir, nil
}

// StagingRoot returns <root>/.temp without creating it.
func (r *Repository) StagingRoot() string {
	return filepath.Join(r.root, StagingDirName)
}

func parseEntryVersion(artifactName, fileName, ext string) (semver.Version, bool) {
	prefix := artifactName + "-v"
	if !strings.HasPrefix(fileName, prefix) {
		return semver.Version{}, false
	}
	v, err := semver.Parse(strings.TrimSuffix(strings.TrimPrefix(fileName, prefix), ext))
	if err != nil {
		return semver.Version{}, false
	}
	return v, true
}
