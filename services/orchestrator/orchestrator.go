// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator provides the architect orchestrator service.
//
// This package contains the Service type that wires every component: the
// snapshot store, the lineage manager, the design agent and its chat
// backend, the push hub, HTTP routing, and observability.
//
// # Usage
//
//	cfg := orchestrator.ConfigFrom(fileCfg)
//	svc, err := orchestrator.New(ctx, cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = svc.Run(ctx) // returns after ctx is cancelled and shutdown completes
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/AleutianAI/AleutianArchitect/pkg/telemetry"
	"github.com/AleutianAI/AleutianArchitect/services/llm"
	"github.com/AleutianAI/AleutianArchitect/services/orchestrator/agent"
	"github.com/AleutianAI/AleutianArchitect/services/orchestrator/config"
	"github.com/AleutianAI/AleutianArchitect/services/orchestrator/handlers"
	"github.com/AleutianAI/AleutianArchitect/services/orchestrator/lineage"
	"github.com/AleutianAI/AleutianArchitect/services/orchestrator/middleware"
	"github.com/AleutianAI/AleutianArchitect/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianArchitect/services/orchestrator/routes"
	"github.com/AleutianAI/AleutianArchitect/services/storage/badger"
	"github.com/AleutianAI/AleutianArchitect/services/storage/sqlite"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the orchestrator service.
//
// # Thread Safety
//
// Run blocks and must be called at most once. Router may be called at any
// time.
type Service interface {
	// Run serves HTTP until ctx is cancelled, then shuts down gracefully:
	// in-flight requests get ShutdownTimeout to finish, push connections
	// are closed, the store is closed and telemetry is flushed.
	Run(ctx context.Context) error

	// Router returns the configured Gin engine, for tests.
	Router() *gin.Engine

	// Close releases resources without serving. Use it when Run is never
	// called.
	Close() error
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds orchestrator configuration. Zero values are replaced by
// defaults in New.
type Config struct {
	// Port is the HTTP server port. Default: 12310
	Port int

	// GinMode is gin's mode. Default: release
	GinMode string

	// StoreBackend is "badger" or "sqlite". Default: badger
	StoreBackend string

	// DataDir holds the store files. Default: ./data
	DataDir string

	SyncWrites bool

	// KeepAlive is the ping interval of streaming turns. Default: 15s
	KeepAlive time.Duration

	// RateLimitPerMinute limits design turns per client. Zero disables it.
	RateLimitPerMinute float64
	RateLimitBurst     int

	LLM       llm.Config
	Telemetry telemetry.Config

	// ShutdownTimeout bounds graceful shutdown. Default: 10s
	ShutdownTimeout time.Duration
}

// ServiceOptions injects dependencies, mostly for tests. Nil fields are
// built from Config.
type ServiceOptions struct {
	Logger     *slog.Logger
	ChatClient llm.ChatClient
	Store      lineage.Store
	Metrics    *observability.ArchitectMetrics
}

// ConfigFrom converts the file configuration.
func ConfigFrom(c config.ArchitectConfig) Config {
	return Config{
		Port:               c.Server.Port,
		GinMode:            c.Server.GinMode,
		StoreBackend:       c.Store.Backend,
		DataDir:            config.ExpandPath(c.Store.DataDir),
		SyncWrites:         c.Store.SyncWrites,
		KeepAlive:          time.Duration(c.Server.KeepAliveSeconds) * time.Second,
		RateLimitPerMinute: c.Server.RateLimitPerMinute,
		RateLimitBurst:     c.Server.RateLimitBurst,
		LLM:                c.LLM,
		Telemetry:          c.Telemetry,
	}
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12310
	}
	if cfg.GinMode == "" {
		cfg.GinMode = gin.ReleaseMode
	}
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = config.StoreBadger
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = 15 * time.Second
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "architect-orchestrator"
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return cfg
}

// =============================================================================
// Struct Definition
// =============================================================================

type service struct {
	config            Config
	logger            *slog.Logger
	router            *gin.Engine
	store             lineage.Store
	hub               *handlers.PushHub
	telemetryShutdown func(context.Context) error
}

var _ Service = (*service)(nil)

// New creates the service.
//
// # Description
//
// Initializes telemetry, metrics, the store, the chat backend, and the
// router in that order. On failure everything already opened is released.
//
// # Inputs
//
//   - ctx: Used for telemetry setup only.
//   - cfg: Configuration; zero values take defaults.
//   - opts: Optional injected dependencies. May be nil.
func New(ctx context.Context, cfg Config, opts *ServiceOptions) (Service, error) {
	if opts == nil {
		opts = &ServiceOptions{}
	}
	s := &service{config: applyConfigDefaults(cfg), logger: opts.Logger}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	shutdown, err := telemetry.Init(ctx, s.config.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	s.telemetryShutdown = shutdown

	metrics := opts.Metrics
	if metrics == nil {
		if observability.DefaultMetrics == nil {
			observability.InitMetrics()
			s.logger.Info("Initialized Prometheus metrics for design turns")
		}
		metrics = observability.DefaultMetrics
	}

	s.store = opts.Store
	if s.store == nil {
		if s.store, err = s.openStore(); err != nil {
			_ = s.Close()
			return nil, err
		}
	}

	client := opts.ChatClient
	if client == nil {
		if client, err = llm.NewChatClient(s.config.LLM); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
		}
	}

	manager := lineage.NewManager(s.store, lineage.WithLogger(s.logger))
	designer := agent.New(client,
		agent.WithLogger(s.logger),
		agent.WithMetrics(metrics))
	s.hub = handlers.NewPushHub(s.logger)
	h := handlers.NewArchitectHandler(manager, designer, s.hub,
		handlers.WithHandlerLogger(s.logger),
		handlers.WithHandlerMetrics(metrics),
		handlers.WithKeepAliveInterval(s.config.KeepAlive))

	var limiter *middleware.ClientLimiter
	if s.config.RateLimitPerMinute > 0 {
		limiter = middleware.NewClientLimiter(middleware.RateLimitConfig{
			PerMinute: s.config.RateLimitPerMinute,
			Burst:     s.config.RateLimitBurst,
		})
	}

	gin.SetMode(s.config.GinMode)
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(otelgin.Middleware(s.config.Telemetry.ServiceName))
	routes.SetupRoutes(s.router, h, s.hub, limiter)

	s.logger.Info("orchestrator initialized",
		"store", s.config.StoreBackend,
		"data_dir", s.config.DataDir,
		"llm_backend", s.config.LLM.Backend,
		"rate_limit_per_minute", s.config.RateLimitPerMinute)
	return s, nil
}

// =============================================================================
// Methods
// =============================================================================

func (s *service) Run(ctx context.Context) error {
	defer func() { _ = s.Close() }()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("Starting orchestrator server", "port", s.config.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutting down orchestrator server")
		s.hub.CloseAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func (s *service) Router() *gin.Engine {
	return s.router
}

func (s *service) Close() error {
	var errs []error
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
		s.store = nil
	}
	if s.telemetryShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.telemetryShutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
		}
		s.telemetryShutdown = nil
	}
	return errors.Join(errs...)
}

// =============================================================================
// Helper Functions
// =============================================================================

func (s *service) openStore() (lineage.Store, error) {
	if err := os.MkdirAll(s.config.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	switch s.config.StoreBackend {
	case config.StoreBadger:
		cfg := badger.DefaultConfig(filepath.Join(s.config.DataDir, "badger"))
		cfg.SyncWrites = s.config.SyncWrites
		cfg.Logger = s.logger
		store, err := badger.Open(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open badger store: %w", err)
		}
		return store, nil
	case config.StoreSQLite:
		store, err := sqlite.Open(filepath.Join(s.config.DataDir, "architect.db"))
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", s.config.StoreBackend)
	}
}
