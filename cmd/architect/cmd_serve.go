// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/AleutianArchitect/pkg/logging"
	"github.com/AleutianAI/AleutianArchitect/pkg/ux"
	"github.com/AleutianAI/AleutianArchitect/services/orchestrator"
	"github.com/AleutianAI/AleutianArchitect/services/orchestrator/config"
	"github.com/spf13/cobra"
)

// runServe runs the orchestrator in the foreground until interrupted.
//
// Unlike cmd/orchestrator, which is the container entry point and always logs
// JSON, serve logs text to the terminal unless the personality is machine.
func runServe(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = os.Getenv("ARCHITECT_CONFIG")
	}
	fileCfg, err := config.Load(path)
	if err != nil {
		ux.Error(fmt.Sprintf("Failed to load configuration: %v", err))
		return err
	}

	level, err := logging.ParseLevel(fileCfg.Logging.Level)
	if err != nil {
		level = logging.LevelInfo
	}
	logger := logging.New(logging.Config{
		Level:   level,
		Service: "architect",
		LogDir:  fileCfg.Logging.Dir,
		JSON:    fileCfg.Logging.JSON || ux.GetPersonality().Level == ux.PersonalityMachine,
		Writer:  cmd.ErrOrStderr(),
	})
	defer logger.Close()

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := orchestrator.ConfigFrom(fileCfg)
	svc, err := orchestrator.New(ctx, cfg, &orchestrator.ServiceOptions{Logger: logger.Slog()})
	if err != nil {
		ux.Error(fmt.Sprintf("Failed to start the architect server: %v", err))
		return err
	}
	ux.Success(fmt.Sprintf("Architect listening on :%d (store: %s, model backend: %s)",
		cfg.Port, cfg.StoreBackend, cfg.LLM.Backend))
	return svc.Run(ctx)
}
