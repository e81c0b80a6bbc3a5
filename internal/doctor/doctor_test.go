package doctor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mattjoyce/symgate/internal/config"
)

func validConfig(t *testing.T) *config.Config {
	t.Helper()

	cacheDir := t.TempDir()
	binDir := t.TempDir()
	bin := filepath.Join(binDir, "symcachegen")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("write binary: %v", err)
	}

	return &config.Config{
		Service: config.ServiceConfig{DataDir: t.TempDir()},
		Symbols: config.SymbolsConfig{Server: "https://symbols.example.com"},
		Cache:   config.CacheConfig{Directory: cacheDir},
		Transcoder: config.TranscoderConfig{
			Path:    bin,
			Version: "3.1.0",
		},
	}
}

func TestValidateHappyPath(t *testing.T) {
	t.Parallel()

	res := New(validConfig(t)).Validate()
	if !res.Valid {
		t.Fatalf("expected valid, got errors: %+v", res.Errors)
	}
}

func TestValidateMissingCacheDirectory(t *testing.T) {
	t.Parallel()

	cfg := validConfig(t)
	cfg.Cache.Directory = filepath.Join(cfg.Cache.Directory, "missing")

	res := New(cfg).Validate()
	if res.Valid {
		t.Fatalf("expected invalid")
	}
	if !hasIssue(res.Errors, "cache.directory") {
		t.Fatalf("expected cache.directory error, got %+v", res.Errors)
	}
}

func TestValidateMissingTranscoder(t *testing.T) {
	t.Parallel()

	cfg := validConfig(t)
	cfg.Transcoder.Path = filepath.Join(t.TempDir(), "missing")

	res := New(cfg).Validate()
	if res.Valid {
		t.Fatalf("expected invalid")
	}
	if !hasIssue(res.Errors, "transcoder.path") {
		t.Fatalf("expected transcoder.path error, got %+v", res.Errors)
	}
}

func TestValidateBadSymbolServerScheme(t *testing.T) {
	t.Parallel()

	cfg := validConfig(t)
	cfg.Symbols.Server = "ftp://symbols.example.com"

	res := New(cfg).Validate()
	if res.Valid {
		t.Fatalf("expected invalid")
	}
	if !hasIssue(res.Errors, "symbols.server") {
		t.Fatalf("expected symbols.server error, got %+v", res.Errors)
	}
}

func TestValidatePlainHTTPIsWarning(t *testing.T) {
	t.Parallel()

	cfg := validConfig(t)
	cfg.Symbols.Server = "http://symbols.example.com"

	res := New(cfg).Validate()
	if !res.Valid {
		t.Fatalf("plain http should only warn, got errors: %+v", res.Errors)
	}
	if !hasIssue(res.Warnings, "symbols.server") {
		t.Fatalf("expected symbols.server warning, got %+v", res.Warnings)
	}
}

func hasIssue(issues []Issue, field string) bool {
	for _, i := range issues {
		if i.Field == field {
			return true
		}
	}
	return false
}
