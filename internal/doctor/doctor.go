// Package doctor validates a symgate deployment before it serves traffic.
package doctor

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"

	"github.com/mattjoyce/symgate/internal/config"
	"github.com/mattjoyce/symgate/internal/storage"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration against the host.
type Doctor struct {
	cfg *config.Config
}

// New creates a Doctor from a loaded config.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.checkSymbolServer(r)
	d.checkCacheDirectory(r)
	d.checkTranscoder(r)
	d.checkDataDir(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) checkSymbolServer(r *Result) {
	u, err := url.Parse(d.cfg.Symbols.Server)
	if err != nil {
		d.addError(r, "symbols", "symbols.server", fmt.Sprintf("not a URL: %v", err))
		return
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		d.addError(r, "symbols", "symbols.server",
			fmt.Sprintf("scheme %q is not http or https", u.Scheme))
	}
	if u.Scheme == "http" {
		d.addWarning(r, "symbols", "symbols.server", "upstream uses plain http")
	}
}

func (d *Doctor) checkCacheDirectory(r *Result) {
	dir := d.cfg.Cache.Directory
	info, err := os.Stat(dir)
	if err != nil {
		d.addError(r, "cache", "cache.directory",
			fmt.Sprintf("must exist at startup: %v", err))
		return
	}
	if !info.IsDir() {
		d.addError(r, "cache", "cache.directory", "is not a directory")
		return
	}

	fsType, network, err := storage.CheckCacheFilesystem(dir)
	if err != nil {
		d.addWarning(r, "cache", "cache.directory",
			fmt.Sprintf("could not determine filesystem type: %v", err))
		return
	}
	if network {
		// Publication relies on rename atomicity; shared caches do exist,
		// so this is a warning rather than a failure.
		d.addWarning(r, "cache", "cache.directory",
			fmt.Sprintf("cache is on network filesystem %q; rename-based publication may not be atomic", fsType))
	}
}

func (d *Doctor) checkTranscoder(r *Result) {
	info, err := os.Stat(d.cfg.Transcoder.Path)
	if err != nil {
		d.addError(r, "transcoder", "transcoder.path",
			fmt.Sprintf("must exist at startup: %v", err))
		return
	}
	if info.IsDir() {
		d.addError(r, "transcoder", "transcoder.path", "is a directory, not a binary")
		return
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0o111 == 0 {
		d.addWarning(r, "transcoder", "transcoder.path", "binary is not executable")
	}
}

func (d *Doctor) checkDataDir(r *Result) {
	dbPath := filepath.Join(d.cfg.Service.DataDir, "history.db")
	if err := storage.ValidateDataPath(dbPath); err != nil {
		d.addError(r, "service", "service.data_dir", err.Error())
	}
}
