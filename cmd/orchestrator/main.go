// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command orchestrator starts the architect orchestrator HTTP server.
//
// This is the entry point for the containerized service. It reads the YAML
// configuration (created with defaults on first run) and then environment
// overrides.
//
// # Environment Variables
//
//   - ARCHITECT_CONFIG: Config file path (default: ~/.aleutian/architect.yaml)
//   - ARCHITECT_PORT: HTTP server port (default: 12310)
//   - ARCHITECT_STORE: badger or sqlite (default: badger)
//   - ARCHITECT_DATA_DIR: Store directory
//   - ARCHITECT_LOG_LEVEL: debug, info, warn or error
//   - LLM_BACKEND_TYPE: openai or scripted (default: openai)
//   - OPENAI_API_KEY, OPENAI_MODEL, OPENAI_BASE_URL: OpenAI-compatible backend
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector
//
// # Usage
//
//	go build -o orchestrator ./cmd/orchestrator
//	./orchestrator
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/AleutianArchitect/pkg/logging"
	"github.com/AleutianAI/AleutianArchitect/services/orchestrator"
	"github.com/AleutianAI/AleutianArchitect/services/orchestrator/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	boot := logging.New(logging.Config{Level: logging.LevelInfo, Service: "orchestrator", JSON: true})

	fileCfg, err := config.Load(os.Getenv("ARCHITECT_CONFIG"))
	if err != nil {
		boot.Error("Failed to load configuration", "error", err)
		return 1
	}

	level, err := logging.ParseLevel(fileCfg.Logging.Level)
	if err != nil {
		boot.Warn("Unknown log level, using info", "level", fileCfg.Logging.Level)
		level = logging.LevelInfo
	}
	logger := logging.New(logging.Config{
		Level:   level,
		Service: "orchestrator",
		LogDir:  fileCfg.Logging.Dir,
		JSON:    true,
	})
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := orchestrator.ConfigFrom(fileCfg)
	logger.Info("Starting orchestrator",
		"port", cfg.Port,
		"store", cfg.StoreBackend,
		"llm_backend", cfg.LLM.Backend)

	svc, err := orchestrator.New(ctx, cfg, &orchestrator.ServiceOptions{Logger: logger.Slog()})
	if err != nil {
		logger.Error("Failed to create orchestrator", "error", err)
		return 1
	}
	if err := svc.Run(ctx); err != nil {
		logger.Error("Orchestrator error", "error", err)
		return 1
	}
	return 0
}
