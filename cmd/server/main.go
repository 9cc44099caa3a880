// Package main is the entry point for the face server.
//
// The main package is kept minimal. Its job is to:
// 1. Read configuration (defaults, optional TOML file, env vars)
// 2. Create the logger
// 3. Build and start the server
//
// All actual logic lives in imported packages (internal/server, internal/handler, etc.).
package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/sakif/protoface/internal/config"
	"github.com/sakif/protoface/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file (default: $CONFIG_PATH)")
	flag.Parse()

	// === 1. READ CONFIGURATION ===
	// Layering is defaults → file → environment; see internal/config.
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// === 2. SET UP LOGGING ===
	// Validate already rejected unknown levels, so the error is ignored here.
	level, _ := cfg.Server.Level()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))

	// === 3. CREATE AND START THE SERVER ===
	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start() blocks until the server is shut down (via Ctrl+C or SIGTERM)
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
