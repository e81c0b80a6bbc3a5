package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/symgate/internal/semver"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalConfig = `
symbols:
  server: https://symbols.example.com/download/symbols
cache:
  directory: /var/cache/symgate
transcoder:
  path: /opt/symcache/symcachegen
  version: 3.1.0
`

func TestLoadMinimalAppliesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8070", cfg.Service.Listen)
	assert.Equal(t, "INFO", cfg.Service.LogLevel)
	assert.Equal(t, "./data", cfg.Service.DataDir)
	assert.Equal(t, time.Hour, cfg.Janitor.Interval)
	assert.Equal(t, 24*time.Hour, cfg.Janitor.StagingMaxAge)
	assert.Equal(t, semver.MustParse("3.1.0"), cfg.TranscoderVersion)
	assert.NotEmpty(t, cfg.SourceHash)
}

func TestLoadRejectsMissingRequired(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"symbols.server": `
cache:
  directory: /var/cache/symgate
transcoder:
  path: /opt/symcache/symcachegen
  version: 3.1.0
`,
		"cache.directory": `
symbols:
  server: https://symbols.example.com
transcoder:
  path: /opt/symcache/symcachegen
  version: 3.1.0
`,
		"transcoder.path": `
symbols:
  server: https://symbols.example.com
cache:
  directory: /var/cache/symgate
transcoder:
  version: 3.1.0
`,
		"transcoder.version": `
symbols:
  server: https://symbols.example.com
cache:
  directory: /var/cache/symgate
transcoder:
  path: /opt/symcache/symcachegen
`,
	}

	for field, content := range cases {
		_, err := Load(writeConfig(t, content))
		require.Error(t, err, field)
		assert.Contains(t, err.Error(), field)
	}
}

func TestLoadRejectsBadTranscoderVersion(t *testing.T) {
	t.Parallel()

	_, err := Load(writeConfig(t, `
symbols:
  server: https://symbols.example.com
cache:
  directory: /var/cache/symgate
transcoder:
  path: /opt/symcache/symcachegen
  version: not-a-version
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transcoder.version")
}

func TestLoadInterpolatesEnv(t *testing.T) {
	t.Setenv("SYMGATE_TEST_SERVER", "https://symbols.example.com")

	cfg, err := Load(writeConfig(t, `
symbols:
  server: ${SYMGATE_TEST_SERVER}
cache:
  directory: /var/cache/symgate
transcoder:
  path: /opt/symcache/symcachegen
  version: 3.1.0
`))
	require.NoError(t, err)
	assert.Equal(t, "https://symbols.example.com", cfg.Symbols.Server)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Hint")
}

func TestCheckPaths(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	bin := filepath.Join(dir, "symcachegen")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755))

	cfg := &Config{
		Cache:      CacheConfig{Directory: dir},
		Transcoder: TranscoderConfig{Path: bin},
	}
	require.NoError(t, cfg.CheckPaths())

	cfg.Cache.Directory = filepath.Join(dir, "missing")
	require.Error(t, cfg.CheckPaths())

	cfg.Cache.Directory = dir
	cfg.Transcoder.Path = filepath.Join(dir, "missing-bin")
	require.Error(t, cfg.CheckPaths())
}

func TestHashBytesIsStable(t *testing.T) {
	t.Parallel()

	a := HashBytes([]byte("same"))
	b := HashBytes([]byte("same"))
	c := HashBytes([]byte("different"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
