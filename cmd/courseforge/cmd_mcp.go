package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/felixgeelhaar/courseforge/internal/api"
	"github.com/felixgeelhaar/courseforge/internal/config"
	mcpserver "github.com/felixgeelhaar/courseforge/internal/mcp"
)

// cmdMCP starts the MCP server on stdio for the configured learner
func cmdMCP() error {
	ctx, cancel := signalContext()
	defer cancel()

	app, local, closeLog, err := openLocalApp(ctx, "mcp.log")
	if err != nil {
		return err
	}
	defer closeLog()
	defer app.Close()

	learnerID, err := local.LearnerID()
	if err != nil {
		return err
	}

	srv := mcpserver.NewServer(mcpserver.Config{
		Engine:      app.Engine,
		Generator:   app.Generator,
		LearnerID:   learnerID,
		LearnerName: local.Learner.Name,
		Retry:       app.Retry,
		Version:     Version,
	})

	if err := app.Start(ctx); err != nil {
		return err
	}
	return srv.ServeStdio(ctx)
}

// openLocalApp wires the application from ~/.courseforge/config.yaml. Logs
// go to a file because stdout may carry a protocol.
func openLocalApp(ctx context.Context, logName string) (*api.App, *config.LocalConfig, func(), error) {
	dir, err := config.EnsureCourseforgeDir()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("ensure courseforge dir: %w", err)
	}

	local, err := config.LoadLocalConfig()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	cfg := local.Runtime(dir)
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	logFile, err := os.OpenFile(filepath.Join(dir, "logs", logName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open log file: %w", err)
	}
	logger := slog.New(slog.NewJSONHandler(logFile, &slog.HandlerOptions{Level: slog.LevelInfo}))

	app, err := api.NewApp(ctx, cfg, logger)
	if err != nil {
		logFile.Close()
		return nil, nil, nil, fmt.Errorf("create app: %w", err)
	}
	return app, local, func() { logFile.Close() }, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
