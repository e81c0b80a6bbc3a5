// Package config loads and validates the symgate YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/symgate/internal/semver"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Config is the full service configuration.
type Config struct {
	Service    ServiceConfig    `yaml:"service"`
	Symbols    SymbolsConfig    `yaml:"symbols"`
	Cache      CacheConfig      `yaml:"cache"`
	Transcoder TranscoderConfig `yaml:"transcoder"`
	API        APIConfig        `yaml:"api"`
	Janitor    JanitorConfig    `yaml:"janitor"`

	// SourceHash is the BLAKE3 hash of the raw config file, for drift
	// auditing. Not part of the YAML.
	SourceHash string `yaml:"-"`

	// TranscoderVersion is the parsed form of Transcoder.Version.
	TranscoderVersion semver.Version `yaml:"-"`
}

type ServiceConfig struct {
	Listen   string `yaml:"listen"`
	LogLevel string `yaml:"log_level"`
	DataDir  string `yaml:"data_dir"`
}

type SymbolsConfig struct {
	// Server is the upstream symbol server base URL.
	Server string `yaml:"server"`
}

type CacheConfig struct {
	// Directory is the cache root. Must exist at startup; it may be shared
	// with other symgate instances.
	Directory string `yaml:"directory"`
}

type TranscoderConfig struct {
	// Path to the transcoder binary. Must exist at startup.
	Path string `yaml:"path"`
	// Version is the exact format version the binary emits.
	Version string `yaml:"version"`
}

type APIConfig struct {
	// APIKey guards /admin endpoints when set. The symbol GET surface is
	// always unauthenticated.
	APIKey string `yaml:"api_key"`
}

type JanitorConfig struct {
	Interval      time.Duration `yaml:"interval"`
	StagingMaxAge time.Duration `yaml:"staging_max_age"`
}

// Load reads, interpolates, parses, and validates the config file at path.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	interpolated := interpolateEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(interpolated), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML in %s: %w", absPath, err)
	}

	cfg.SourceHash = HashBytes(data)
	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg.TranscoderVersion, err = semver.Parse(cfg.Transcoder.Version)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: transcoder.version: %w", err)
	}

	return cfg, nil
}

// interpolateEnv replaces ${VAR} with the environment value. Unset variables
// become empty strings, which validation then catches for required fields.
func interpolateEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Service.Listen == "" {
		cfg.Service.Listen = "127.0.0.1:8070"
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = "INFO"
	}
	if cfg.Service.DataDir == "" {
		cfg.Service.DataDir = "./data"
	}
	if cfg.Janitor.Interval <= 0 {
		cfg.Janitor.Interval = time.Hour
	}
	if cfg.Janitor.StagingMaxAge <= 0 {
		cfg.Janitor.StagingMaxAge = 24 * time.Hour
	}
}

func validate(cfg *Config) error {
	var problems []string

	if strings.TrimSpace(cfg.Symbols.Server) == "" {
		problems = append(problems, "symbols.server is required (upstream symbol server base URL)")
	}
	if strings.TrimSpace(cfg.Cache.Directory) == "" {
		problems = append(problems, "cache.directory is required (SymCache root directory)")
	}
	if strings.TrimSpace(cfg.Transcoder.Path) == "" {
		problems = append(problems, "transcoder.path is required (path to the transcoder binary)")
	}
	if strings.TrimSpace(cfg.Transcoder.Version) == "" {
		problems = append(problems, "transcoder.version is required (format version the binary emits)")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}

// CheckPaths verifies the startup-time filesystem requirements: the cache
// root and the transcoder binary must already exist.
func (c *Config) CheckPaths() error {
	info, err := os.Stat(c.Cache.Directory)
	if err != nil {
		return fmt.Errorf("cache.directory %q does not exist: %w", c.Cache.Directory, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("cache.directory %q is not a directory", c.Cache.Directory)
	}

	if _, err := os.Stat(c.Transcoder.Path); err != nil {
		return fmt.Errorf("transcoder.path %q does not exist: %w", c.Transcoder.Path, err)
	}
	return nil
}
