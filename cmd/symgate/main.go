package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/symgate/internal/api"
	"github.com/mattjoyce/symgate/internal/background"
	"github.com/mattjoyce/symgate/internal/cache"
	"github.com/mattjoyce/symgate/internal/config"
	"github.com/mattjoyce/symgate/internal/doctor"
	"github.com/mattjoyce/symgate/internal/events"
	"github.com/mattjoyce/symgate/internal/history"
	"github.com/mattjoyce/symgate/internal/janitor"
	"github.com/mattjoyce/symgate/internal/lock"
	"github.com/mattjoyce/symgate/internal/log"
	"github.com/mattjoyce/symgate/internal/procrun"
	"github.com/mattjoyce/symgate/internal/storage"
	"github.com/mattjoyce/symgate/internal/symsrv"
	"github.com/mattjoyce/symgate/internal/transcode"
	"github.com/mattjoyce/symgate/internal/tui/watch"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "start":
		return runStart(args)
	case "doctor":
		return runDoctor(args)
	case "watch":
		return runWatch(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `symgate - SymCache transcoding proxy

Usage:
  symgate start  [--config config.yaml]   Run the proxy
  symgate doctor [--config config.yaml]   Validate configuration and host
  symgate watch  [--api URL] [--key KEY]  Monitor a running instance
  symgate version [--json]                Print version metadata`)
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "./config.yaml", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("symgate starting",
		"version", version,
		"config", *configPath,
		"config_hash", cfg.SourceHash,
	)

	if err := cfg.CheckPaths(); err != nil {
		logger.Error("startup check failed", "error", err)
		return 1
	}

	// One instance per data directory; the shared cache stays unlocked.
	pidLock, err := lock.AcquirePIDLock(filepath.Join(cfg.Service.DataDir, "symgate.pid"))
	if err != nil {
		logger.Error("failed to acquire pid lock", "error", err)
		return 1
	}
	defer func() { _ = pidLock.Release() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := storage.OpenSQLite(ctx, filepath.Join(cfg.Service.DataDir, "history.db"))
	if err != nil {
		logger.Error("failed to open transcode history", "error", err)
		return 1
	}
	defer func() { _ = db.Close() }()

	repo, err := cache.New(cfg.Cache.Directory)
	if err != nil {
		logger.Error("failed to open cache", "error", err)
		return 1
	}

	symbols, err := symsrv.New(cfg.Symbols.Server)
	if err != nil {
		logger.Error("failed to build symbol server client", "error", err)
		return 1
	}

	hub := events.NewHub(256)
	hist := history.New(db)

	orchestrator := transcode.New(repo, symbols, procrun.New(),
		cfg.Transcoder.Path, cfg.TranscoderVersion).
		WithRecorder(hist).
		WithEvents(hub)

	queue := background.New(orchestrator)
	if err := queue.Start(); err != nil {
		logger.Error("failed to start background queue", "error", err)
		return 1
	}
	defer queue.Stop()

	jan := janitor.New(cfg.Cache.Directory, cfg.Janitor.Interval, cfg.Janitor.StagingMaxAge, hub)
	jan.Start(ctx)
	defer jan.Stop()

	server := api.New(api.Config{
		Listen:     cfg.Service.Listen,
		APIKey:     cfg.API.APIKey,
		ConfigHash: cfg.SourceHash,
	}, repo, queue, orchestrator, hist, hub, log.WithComponent("api"))

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server exited", "error", err)
		return 1
	}

	logger.Info("symgate stopped")
	return 0
}

func runDoctor(args []string) int {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	configPath := fs.String("config", "./config.yaml", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output result as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FAIL config: %v\n", err)
		return 1
	}

	result := doctor.New(cfg).Validate()

	if *jsonOut {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
	} else {
		for _, issue := range result.Errors {
			fmt.Printf("FAIL [%s] %s: %s\n", issue.Category, issue.Field, issue.Message)
		}
		for _, issue := range result.Warnings {
			fmt.Printf("WARN [%s] %s: %s\n", issue.Category, issue.Field, issue.Message)
		}
		if result.Valid {
			fmt.Println("PASS configuration and host look good")
		}
	}

	if !result.Valid {
		return 1
	}
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	apiURL := fs.String("api", "http://127.0.0.1:8070", "Base URL of the symgate API")
	apiKey := fs.String("key", os.Getenv("SYMGATE_API_KEY"), "Admin API key")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	p := tea.NewProgram(watch.New(strings.TrimRight(*apiURL, "/"), *apiKey))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "watch failed: %v\n", err)
		return 1
	}
	return 0
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("symgate %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}

	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	resolvedCommit := strings.TrimSpace(gitCommit)
	if resolvedCommit == "" || resolvedCommit == "unknown" {
		resolvedCommit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if resolvedCommit != "" {
		info.Commit = shortenCommit(resolvedCommit)
	}

	resolvedBuildTime := strings.TrimSpace(buildDate)
	if resolvedBuildTime == "" || resolvedBuildTime == "unknown" {
		resolvedBuildTime = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalized, ok := normalizeBuildTimeUTC(resolvedBuildTime); ok {
		info.BuildTime = normalized
	}

	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}
	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}
