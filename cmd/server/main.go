// Package main is the entry point for the TaskFlow API server.
//
// The main package stays small. It reads configuration, builds the logger,
// makes sure the database directory exists and hands everything to
// internal/server.
//
// CONFIGURATION:
// Settings come from config.yaml (., ./config or /etc/taskflow) and are
// overridden by TASKFLOW_* environment variables, e.g.
//
//	TASKFLOW_AUTH_JWT_SECRET=$(openssl rand -hex 32)
//	TASKFLOW_DATABASE_PATH=/var/lib/taskflow/taskflow.db
//	TASKFLOW_REDIS_ADDR=localhost:6379
//
// Pass -config path/to/file.yaml to read one specific file instead.
package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sakif/taskflow-api/internal/config"
	"github.com/sakif/taskflow-api/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (default: search ., ./config, /etc/taskflow)")
	flag.Parse()

	// === 1. BOOTSTRAP LOGGER ===
	// Used only until the configured level is known.
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	// === 2. READ CONFIGURATION ===
	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		logger.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// === 3. SET UP LOGGING ===
	level, err := cfg.Log.SlogLevel()
	if err != nil {
		logger.Error("invalid log level", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// === 4. DATABASE DIRECTORY ===
	// 0755 = owner can read/write/execute, others can read/execute.
	if cfg.Database.Path != ":memory:" {
		dbDir := filepath.Dir(cfg.Database.Path)
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			logger.Error("failed to create database directory",
				slog.String("dir", dbDir),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	if cfg.GitHub.ClientID == "" {
		logger.Warn("github.client_id not set, browser GitHub login is disabled")
	}

	// === 5. CREATE AND START THE SERVER ===
	srv, err := server.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start blocks until SIGINT/SIGTERM and closes the database on the way out.
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
