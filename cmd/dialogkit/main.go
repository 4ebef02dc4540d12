// Dialogkit server and demo CLI. `dialogkit serve` exposes the session API
// over HTTP; `dialogkit run` drives a conversation on stdin for trying out
// flow definitions.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dialogkit/dialogkit/pkg/api"
	"github.com/dialogkit/dialogkit/pkg/checkpoint"
	"github.com/dialogkit/dialogkit/pkg/cleanup"
	"github.com/dialogkit/dialogkit/pkg/config"
	"github.com/dialogkit/dialogkit/pkg/nlu"
	"github.com/dialogkit/dialogkit/pkg/runtime"
	"github.com/dialogkit/dialogkit/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func setupLogging() {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: dialogkit <command> [flags]

Commands:
  serve    start the HTTP session API
  run      interactive conversation on stdin
  version  print the build version

Flags:
  -config-dir string   configuration directory (default $CONFIG_DIR or ./config)

Environment:
  HTTP_PORT            listen port for serve (default 8080)
  SESSION_STORE_URL    checkpoint store (memory://, sqlite://path, postgres://..., redis://...)
  NLU_SERVICE_URL      remote understanding service; rule-based matching when unset
  LOG_LEVEL            debug, info, warn, error
`)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd := os.Args[1]

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	configDir := fs.String("config-dir", getEnv("CONFIG_DIR", "./config"), "Path to configuration directory")
	if err := fs.Parse(os.Args[2:]); err != nil {
		os.Exit(2)
	}

	// A .env in the config directory supplies store URLs and credentials.
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err == nil {
		slog.Info("Loaded environment", "path", envPath)
	}
	setupLogging()

	switch cmd {
	case "serve":
		os.Exit(serve(*configDir))
	case "run":
		os.Exit(run(*configDir))
	case "version":
		fmt.Println(version.Full())
	case "optimize":
		fmt.Fprintln(os.Stderr, "optimize is handled by the understanding service, not this runtime")
	default:
		usage()
		os.Exit(2)
	}
}

// exitCode distinguishes broken configuration (2) from runtime failures (1).
func exitCode(err error) int {
	var verr *config.ValidationError
	var lerr *config.LoadError
	if errors.As(err, &verr) || errors.As(err, &lerr) || errors.Is(err, config.ErrInvalidReference) {
		return 2
	}
	return 1
}

// buildEngine assembles the loop from configuration plus the demo action set.
func buildEngine(ctx context.Context, configDir string) (*runtime.Loop, checkpoint.Checkpointer, *config.Config, error) {
	cfg, err := config.Initialize(ctx, configDir)
	if err != nil {
		if errors.Is(err, config.ErrConfigNotFound) {
			slog.Warn("No configuration found, using the built-in demo flows", "config_dir", configDir)
			cfg = demoConfig()
		} else {
			return nil, nil, nil, err
		}
	}

	var adapter nlu.Adapter
	if url := os.Getenv("NLU_SERVICE_URL"); url != "" {
		adapter = nlu.NewHTTPAdapter(url, 10*time.Second)
		slog.Info("Using remote understanding service", "url", url)
	} else {
		adapter = nlu.NewRuleAdapter(cfg.Flows)
		slog.Info("Using rule-based understanding")
	}

	rt, err := runtime.New(runtime.Options{
		Config:      cfg,
		Adapter:     adapter,
		Actions:     demoActions(),
		Validators:  demoValidators(),
		Normalizers: demoNormalizers(),
	})
	if err != nil {
		return nil, nil, nil, err
	}

	store, err := checkpoint.Open(ctx, getEnv("SESSION_STORE_URL", "memory://"))
	if err != nil {
		return nil, nil, nil, err
	}

	loop, err := runtime.NewLoop(rt, store)
	if err != nil {
		_ = store.Close()
		return nil, nil, nil, err
	}
	return loop, store, cfg, nil
}

func serve(configDir string) int {
	ctx := context.Background()

	loop, store, cfg, err := buildEngine(ctx, configDir)
	if err != nil {
		slog.Error("Failed to start", "error", err)
		return exitCode(err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("Error closing checkpoint store", "error", err)
		}
	}()

	sweeper := cleanup.NewService(cfg.Runtime.Checkpoint, store)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	server := api.NewServer(loop, store)
	addr := ":" + getEnv("HTTP_PORT", "8080")

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr, "version", version.Full())
		if err := server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("HTTP server error", "error", err)
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Graceful shutdown failed", "error", err)
		return 1
	}
	slog.Info("Shutdown complete")
	return 0
}

func run(configDir string) int {
	ctx := context.Background()

	loop, store, _, err := buildEngine(ctx, configDir)
	if err != nil {
		slog.Error("Failed to start", "error", err)
		return exitCode(err)
	}
	defer store.Close()

	sessionID := fmt.Sprintf("cli-%d", os.Getpid())
	fmt.Println("dialogkit interactive session (ctrl-d to quit)")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		msg := strings.TrimSpace(scanner.Text())
		if msg == "" {
			continue
		}

		reply, err := loop.HandleMessage(ctx, sessionID, msg)
		if err != nil {
			slog.Error("Message failed", "error", err)
			return 1
		}
		fmt.Println(reply.Text)
	}
	fmt.Println()
	return 0
}
