package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/felixgeelhaar/courseforge/internal/api"
	"github.com/felixgeelhaar/courseforge/internal/api/middleware"
	"github.com/felixgeelhaar/courseforge/internal/config"
)

// Version is set at build time via ldflags
var Version = "dev"

const (
	pidFileName = "courseforged.pid"
)

func main() {
	if err := run(); err != nil {
		slog.Error("daemon error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	source := flag.String("config", "local", "configuration source: local (~/.courseforge/config.yaml) or env")
	flag.Parse()

	// Ensure ~/.courseforge directory exists
	dir, err := config.EnsureCourseforgeDir()
	if err != nil {
		return fmt.Errorf("ensure courseforge dir: %w", err)
	}

	cfg, addr, err := loadConfig(*source, dir)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Setup logging
	logFile, err := setupLogging(dir, parseLogLevel(cfg.LogLevel, cfg.Debug))
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer logFile.Close()

	// Write PID file
	pidPath := filepath.Join(dir, pidFileName)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := api.NewApp(ctx, cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("create app: %w", err)
	}
	defer app.Close()

	if err := app.Start(ctx); err != nil {
		return err
	}

	var rateLimit *middleware.RateLimitConfig
	if !cfg.Debug {
		rl := middleware.DefaultRateLimitConfig()
		rateLimit = &rl
	}
	server := api.NewServer(addr, api.NewRouterFromApp(app, rateLimit))

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh

		slog.Info("received signal, shutting down", "signal", sig.String())
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
		close(done)
	}()

	slog.Info("courseforged starting", "version", Version, "store", cfg.StoreDriver)
	if err := server.Start(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	<-done
	slog.Info("daemon stopped")
	return nil
}

// loadConfig returns the runtime configuration and the listen address.
func loadConfig(source, dir string) (*config.Config, string, error) {
	switch source {
	case "env":
		cfg, err := config.Load()
		if err != nil {
			return nil, "", fmt.Errorf("load config: %w", err)
		}
		return cfg, ":" + strconv.Itoa(cfg.Port), nil
	case "local":
		local, err := config.LoadLocalConfig()
		if err != nil {
			return nil, "", fmt.Errorf("load config: %w", err)
		}
		cfg := local.Runtime(dir)
		return cfg, net.JoinHostPort(local.Daemon.Bind, strconv.Itoa(local.Daemon.Port)), nil
	default:
		return nil, "", fmt.Errorf("unknown config source %q (valid: local, env)", source)
	}
}

func parseLogLevel(level string, debug bool) slog.Level {
	if debug {
		return slog.LevelDebug
	}
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setupLogging(dir string, level slog.Level) (*os.File, error) {
	logPath := filepath.Join(dir, "logs", "courseforged.log")

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	// JSON to the log file, text to stderr for foreground mode
	slog.SetDefault(slog.New(&multiHandler{
		handlers: []slog.Handler{
			slog.NewJSONHandler(logFile, &slog.HandlerOptions{Level: level}),
			slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}),
		},
	}))

	return logFile, nil
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
}

// multiHandler logs to multiple handlers
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r.Clone()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}
