// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianArchitect/pkg/telemetry"
	"github.com/AleutianAI/AleutianArchitect/services/llm"
	"github.com/AleutianAI/AleutianArchitect/services/orchestrator/config"
	"github.com/AleutianAI/AleutianArchitect/services/orchestrator/observability"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

func quietTelemetry() telemetry.Config {
	return telemetry.Config{ServiceName: "test", TraceExporter: "none", MetricExporter: "none"}
}

// =============================================================================
// Config Tests
// =============================================================================

func TestApplyConfigDefaults_AllDefaults(t *testing.T) {
	result := applyConfigDefaults(Config{})

	assert.Equal(t, 12310, result.Port)
	assert.Equal(t, gin.ReleaseMode, result.GinMode)
	assert.Equal(t, config.StoreBadger, result.StoreBackend)
	assert.Equal(t, "./data", result.DataDir)
	assert.Equal(t, 15*time.Second, result.KeepAlive)
	assert.Equal(t, 10*time.Second, result.ShutdownTimeout)
	assert.Equal(t, "architect-orchestrator", result.Telemetry.ServiceName)
}

func TestApplyConfigDefaults_PreservesCustomValues(t *testing.T) {
	result := applyConfigDefaults(Config{
		Port:         8080,
		StoreBackend: config.StoreSQLite,
		KeepAlive:    time.Second,
	})
	assert.Equal(t, 8080, result.Port)
	assert.Equal(t, config.StoreSQLite, result.StoreBackend)
	assert.Equal(t, time.Second, result.KeepAlive)
}

func TestConfigFrom(t *testing.T) {
	fileCfg := config.DefaultConfig()
	fileCfg.Server.KeepAliveSeconds = 3
	fileCfg.Store.DataDir = "/tmp/architect"

	cfg := ConfigFrom(fileCfg)
	assert.Equal(t, 3*time.Second, cfg.KeepAlive)
	assert.Equal(t, "/tmp/architect", cfg.DataDir)
	assert.Equal(t, fileCfg.LLM, cfg.LLM)
	assert.Equal(t, fileCfg.Server.RateLimitPerMinute, cfg.RateLimitPerMinute)
}

// =============================================================================
// Service Tests
// =============================================================================

func TestNew_ServesDesignTurnFromEachStore(t *testing.T) {
	for _, backend := range []string{config.StoreBadger, config.StoreSQLite} {
		t.Run(backend, func(t *testing.T) {
			svc, err := New(context.Background(), Config{
				GinMode:      gin.TestMode,
				StoreBackend: backend,
				DataDir:      t.TempDir(),
				Telemetry:    quietTelemetry(),
			}, &ServiceOptions{
				ChatClient: llm.NewScriptedClient(`<Patch><Module id="orders" mutationType="Create">{"title":"Orders"}</Module></Patch>`, 16),
				Metrics:    observability.NewArchitectMetrics(prometheus.NewRegistry()),
			})
			require.NoError(t, err)
			defer svc.Close()

			w := httptest.NewRecorder()
			svc.Router().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/projects/shop/init",
				strings.NewReader(`{"prd":"Orders."}`)))
			require.Equal(t, http.StatusOK, w.Code)
			assert.Contains(t, w.Body.String(), `"event":"done"`)

			w = httptest.NewRecorder()
			svc.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/projects/shop", nil))
			require.Equal(t, http.StatusOK, w.Code)
			assert.Contains(t, w.Body.String(), `"orders"`)
		})
	}
}

func TestNew_RejectsUnknownBackends(t *testing.T) {
	metrics := observability.NewArchitectMetrics(prometheus.NewRegistry())

	_, err := New(context.Background(), Config{
		StoreBackend: "redis",
		DataDir:      t.TempDir(),
		Telemetry:    quietTelemetry(),
	}, &ServiceOptions{Metrics: metrics, ChatClient: llm.NewScriptedClient("", 1)})
	assert.ErrorContains(t, err, "unknown store backend")

	_, err = New(context.Background(), Config{
		DataDir:   t.TempDir(),
		LLM:       llm.Config{Backend: "carrier-pigeon"},
		Telemetry: quietTelemetry(),
	}, &ServiceOptions{Metrics: metrics})
	assert.ErrorContains(t, err, "failed to initialize LLM client")
}

func TestRun_StopsOnCancel(t *testing.T) {
	svc, err := New(context.Background(), Config{
		Port:      18731,
		GinMode:   gin.TestMode,
		DataDir:   t.TempDir(),
		Telemetry: quietTelemetry(),
	}, &ServiceOptions{
		ChatClient: llm.NewScriptedClient("", 1),
		Metrics:    observability.NewArchitectMetrics(prometheus.NewRegistry()),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://127.0.0.1:18731/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
