// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the architect's YAML configuration.
//
// The file lives at ~/.aleutian/architect.yaml and is created with defaults
// on first run. Environment variables override the file; command-line flags
// override both and are applied by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianArchitect/pkg/telemetry"
	"github.com/AleutianAI/AleutianArchitect/services/llm"
	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	StoreBadger = "badger"
	StoreSQLite = "sqlite"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid config")

// =============================================================================
// Types
// =============================================================================

// ArchitectConfig is the whole configuration file.
type ArchitectConfig struct {
	Server    ServerConfig     `yaml:"server"`
	Store     StoreConfig      `yaml:"store"`
	LLM       llm.Config       `yaml:"llm"`
	Logging   LoggingConfig    `yaml:"logging"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port    int    `yaml:"port"`
	GinMode string `yaml:"gin_mode"`

	// KeepAliveSeconds is the ping interval of streaming turns.
	KeepAliveSeconds int `yaml:"keep_alive_seconds"`

	// RateLimitPerMinute limits design turns per client. 0 disables it.
	RateLimitPerMinute float64 `yaml:"rate_limit_per_minute"`
	RateLimitBurst     int     `yaml:"rate_limit_burst"`
}

// StoreConfig selects where snapshots and conversations are kept.
type StoreConfig struct {
	// Backend is "badger" or "sqlite".
	Backend string `yaml:"backend"`

	// DataDir holds the badger directory or the sqlite file. "~" is
	// expanded.
	DataDir string `yaml:"data_dir"`

	SyncWrites bool `yaml:"sync_writes"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// =============================================================================
// Defaults
// =============================================================================

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() ArchitectConfig {
	tel := telemetry.DefaultConfig()
	tel.ServiceName = "architect-orchestrator"
	return ArchitectConfig{
		Server: ServerConfig{
			Port:               12310,
			GinMode:            "release",
			KeepAliveSeconds:   15,
			RateLimitPerMinute: 30,
			RateLimitBurst:     5,
		},
		Store: StoreConfig{
			Backend: StoreBadger,
			DataDir: "~/.aleutian/architect/data",
		},
		LLM: llm.Config{
			Backend: llm.BackendOpenAI,
			Model:   "gpt-4o",
		},
		Logging: LoggingConfig{
			Level: "info",
			Dir:   "~/.aleutian/logs",
		},
		Telemetry: tel,
	}
}

// DefaultPath returns ~/.aleutian/architect.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".aleutian", "architect.yaml"), nil
}

// =============================================================================
// Loading
// =============================================================================

// Load reads the config at path, creating it with defaults when missing,
// then applies environment overrides and validates the result. An empty
// path means DefaultPath.
func Load(path string) (ArchitectConfig, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return ArchitectConfig{}, err
		}
		path = p
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := WriteDefault(path); err != nil {
			return ArchitectConfig{}, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return ArchitectConfig{}, fmt.Errorf("failed to read the config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return ArchitectConfig{}, fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return ArchitectConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return ArchitectConfig{}, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults, so omitted keys keep their default
// values.
func Parse(data []byte) (ArchitectConfig, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return ArchitectConfig{}, fmt.Errorf("failed to parse the config: %w", err)
	}
	return cfg, nil
}

// WriteDefault writes DefaultConfig to path, creating its directory.
func WriteDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to encode the default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write the default config: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from the environment through lookup.
//
// # Variables
//
//   - ARCHITECT_PORT, ARCHITECT_STORE, ARCHITECT_DATA_DIR, ARCHITECT_LOG_LEVEL
//   - LLM_BACKEND_TYPE, OPENAI_MODEL, OPENAI_BASE_URL
//   - OTEL_EXPORTER_OTLP_ENDPOINT
func (c *ArchitectConfig) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	if v, ok := lookup("ARCHITECT_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: ARCHITECT_PORT %q is not a number", ErrInvalidConfig, v)
		}
		c.Server.Port = port
	}
	str("ARCHITECT_STORE", &c.Store.Backend)
	str("ARCHITECT_DATA_DIR", &c.Store.DataDir)
	str("ARCHITECT_LOG_LEVEL", &c.Logging.Level)
	str("LLM_BACKEND_TYPE", &c.LLM.Backend)
	str("OPENAI_MODEL", &c.LLM.Model)
	str("OPENAI_BASE_URL", &c.LLM.BaseURL)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Telemetry.OTLPEndpoint)
	return nil
}

// Validate checks the fields that have a fixed set of values.
func (c ArchitectConfig) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port %d out of range", ErrInvalidConfig, c.Server.Port)
	}
	switch c.Store.Backend {
	case StoreBadger, StoreSQLite:
	default:
		return fmt.Errorf("%w: store.backend must be %q or %q, got %q",
			ErrInvalidConfig, StoreBadger, StoreSQLite, c.Store.Backend)
	}
	if c.Store.DataDir == "" {
		return fmt.Errorf("%w: store.data_dir is required", ErrInvalidConfig)
	}
	return nil
}

// ExpandPath replaces a leading "~" with the user's home directory.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
