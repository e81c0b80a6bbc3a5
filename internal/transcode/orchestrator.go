package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mattjoyce/symgate/internal/artifact"
	"github.com/mattjoyce/symgate/internal/cache"
	"github.com/mattjoyce/symgate/internal/history"
	"github.com/mattjoyce/symgate/internal/log"
	"github.com/mattjoyce/symgate/internal/semver"
)

// SymbolClient locates the upstream PDB for a key. An empty path means the
// upstream has nothing.
type SymbolClient interface {
	PDBPath(ctx context.Context, key artifact.Key) string
}

// ProcessRunner executes the external transcoder binary.
type ProcessRunner interface {
	Run(ctx context.Context, binary string, args []string, extraEnv []string, stdout, stderr io.Writer) (int, error)
}

// Recorder appends attempt outcomes to the transcode log.
type Recorder interface {
	Record(ctx context.Context, key artifact.Key, outcome history.Outcome, detail string, duration time.Duration) error
}

// Publisher fans attempt lifecycle events out to observers.
type Publisher interface {
	Publish(eventType string, data any)
}

// Orchestrator owns the full PDB-to-SymCache pipeline for one configured
// transcoder binary.
type Orchestrator struct {
	cache   *cache.Repository
	symbols SymbolClient
	runner  ProcessRunner
	binary  string
	version semver.Version

	// Optional observers; nil is fine.
	recorder Recorder
	events   Publisher

	logger *slog.Logger
}

// New creates an orchestrator for the transcoder at binary, which emits
// artifacts at version.
func New(repo *cache.Repository, symbols SymbolClient, runner ProcessRunner, binary string, version semver.Version) *Orchestrator {
	return &Orchestrator{
		cache:   repo,
		symbols: symbols,
		runner:  runner,
		binary:  binary,
		version: version,
		logger:  log.WithComponent("transcode"),
	}
}

// WithRecorder attaches the transcode log.
func (o *Orchestrator) WithRecorder(r Recorder) *Orchestrator {
	o.recorder = r
	return o
}

// WithEvents attaches the event hub.
func (o *Orchestrator) WithEvents(p Publisher) *Orchestrator {
	o.events = p
	return o
}

// Version is the format version the configured transcoder emits.
func (o *Orchestrator) Version() semver.Version {
	return o.version
}

// TryTranscode produces the artifact for key and returns its final cache
// path, or "" when the artifact is definitively unavailable (in which case a
// negative marker has been written). The requested format version on key is
// irrelevant here: the transcoder emits what it emits, so the key is pinned
// to the transcoder's version before any cache traffic. The only returned
// errors are cancellation; every other failure is converted into a negative
// outcome.
func (o *Orchestrator) TryTranscode(ctx context.Context, key artifact.Key) (string, error) {
	key.Version = o.version
	logger := o.logger.With("artifact", key.Name, "artifact_id", key.GUID.String(), "age", key.Age)

	switch res := o.cache.Lookup(key); res.State {
	case cache.Positive:
		return res.Path, nil
	case cache.Negative:
		return "", nil
	}

	start := time.Now()
	o.publish("transcode.started", key, "")

	path, outcome, detail, err := o.attempt(ctx, key, logger)
	if err != nil {
		// Cancellation: no cache state, but the log still gets a row.
		o.record(key, history.OutcomeCancelled, err.Error(), time.Since(start))
		return "", err
	}

	o.record(key, outcome, detail, time.Since(start))
	if outcome == history.OutcomeSucceeded {
		logger.Info("transcode succeeded", "path", path, "duration_ms", time.Since(start).Milliseconds())
		o.publish("transcode.succeeded", key, "")
		return path, nil
	}

	logger.Warn("transcode failed", "outcome", string(outcome), "detail", detail)
	o.publish("transcode.failed", key, detail)
	o.cache.MarkNegative(key)
	return "", nil
}

// attempt runs one full staging/exec/publish cycle. It returns a non-nil
// error only for cancellation; all other failures come back as an outcome.
func (o *Orchestrator) attempt(ctx context.Context, key artifact.Key, logger *slog.Logger) (string, history.Outcome, string, error) {
	upstream := o.symbols.PDBPath(ctx, key)
	if upstream == "" {
		if err := ctx.Err(); err != nil {
			return "", "", "", err
		}
		return "", history.OutcomeUpstreamMissing, "symbol server has no PDB", nil
	}

	staging, err := o.cache.NewStagingDir()
	if err != nil {
		return "", history.OutcomeStagingFailed, err.Error(), nil
	}
	// Staging is removed on every exit path; the child has been waited on by
	// the time we get here, so nothing holds handles into it.
	defer func() {
		if err := os.RemoveAll(staging); err != nil {
			logger.Warn("remove staging directory", "path", staging, "error", err)
		}
	}()

	pdbDir := filepath.Join(staging, "pdb")
	stagedPDB := filepath.Join(pdbDir, key.Name)
	if err := copyFile(upstream, stagedPDB); err != nil {
		return "", history.OutcomeStagingFailed, fmt.Sprintf("stage PDB: %v", err), nil
	}

	expected := filepath.Join(staging, o.cache.RelativePathFor(key))

	var output bytes.Buffer
	code, err := o.runner.Run(ctx, o.binary,
		[]string{"-pdb", stagedPDB},
		[]string{
			"_NT_SYMBOL_PATH=" + filepath.Join(pdbDir, "unused"),
			"_NT_SYMCACHE_PATH=" + staging,
		},
		&output, &output)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", "", "", err
		}
		return "", history.OutcomeChildFailed, err.Error(), nil
	}
	if code != 0 {
		return "", history.OutcomeChildFailed,
			fmt.Sprintf("transcoder exited with code %d: %s", code, truncate(output.String())), nil
	}
	if _, err := os.Stat(expected); err != nil {
		return "", history.OutcomeChildFailed,
			fmt.Sprintf("transcoder exited cleanly but wrote no output at %s", expected), nil
	}

	final := o.cache.PathFor(key)
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return "", history.OutcomePublishFailed, fmt.Sprintf("create final directory: %v", err), nil
	}
	if err := os.Rename(expected, final); err != nil {
		// A concurrent transcode may have won the publication race; the
		// existing file is just as good as ours.
		if _, statErr := os.Stat(final); statErr == nil {
			logger.Debug("lost publication race, serving winner", "path", final)
			return final, history.OutcomeSucceeded, "", nil
		}
		return "", history.OutcomePublishFailed, fmt.Sprintf("publish artifact: %v", err), nil
	}

	return final, history.OutcomeSucceeded, "", nil
}

func (o *Orchestrator) record(key artifact.Key, outcome history.Outcome, detail string, duration time.Duration) {
	if o.recorder == nil {
		return
	}
	// Recording survives request cancellation on purpose.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.recorder.Record(ctx, key, outcome, truncate(detail), duration); err != nil {
		o.logger.Warn("record transcode attempt", "error", err)
	}
}

func (o *Orchestrator) publish(eventType string, key artifact.Key, detail string) {
	if o.events == nil {
		return
	}
	data := map[string]any{
		"artifact":    key.Name,
		"artifact_id": key.GUID.String(),
		"age":         key.Age,
		"version":     key.Version.String(),
	}
	if detail != "" {
		data["detail"] = detail
	}
	o.events.Publish(eventType, data)
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func truncate(s string) string {
	const maxDetail = 1000
	if len(s) <= maxDetail {
		return s
	}
	return s[:maxDetail] + "…"
}
