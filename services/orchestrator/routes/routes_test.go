// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianArchitect/services/llm"
	"github.com/AleutianAI/AleutianArchitect/services/orchestrator/agent"
	"github.com/AleutianAI/AleutianArchitect/services/orchestrator/handlers"
	"github.com/AleutianAI/AleutianArchitect/services/orchestrator/lineage"
	"github.com/AleutianAI/AleutianArchitect/services/orchestrator/middleware"
	"github.com/AleutianAI/AleutianArchitect/services/storage/sqlite"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Setup
// ============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(t *testing.T, limiter *middleware.ClientLimiter) *gin.Engine {
	t.Helper()
	store, err := sqlite.Open(sqlite.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	hub := handlers.NewPushHub(nil)
	h := handlers.NewArchitectHandler(lineage.NewManager(store),
		agent.New(llm.NewScriptedClient("nothing to change", 16)), hub)

	router := gin.New()
	SetupRoutes(router, h, hub, limiter)
	return router
}

// ============================================================================
// SetupRoutes Tests
// ============================================================================

func TestSetupRoutes_RegistersEndpoints(t *testing.T) {
	router := newRouter(t, nil)

	expected := []struct {
		method string
		path   string
	}{
		{"GET", "/health"},
		{"GET", "/metrics"},
		{"POST", "/v1/design/stream"},
		{"POST", "/v1/projects"},
		{"GET", "/v1/projects/:projectKey"},
		{"POST", "/v1/projects/:projectKey/init"},
		{"PUT", "/v1/projects/:projectKey/document"},
		{"GET", "/v1/projects/:projectKey/ws"},
		{"GET", "/v1/projects/:projectKey/ws/stats"},
		{"GET", "/v1/conversations/:conversationId"},
		{"POST", "/v1/conversations/:conversationId/accept"},
	}

	routes := router.Routes()
	for _, want := range expected {
		found := false
		for _, r := range routes {
			if r.Method == want.method && r.Path == want.path {
				found = true
				break
			}
		}
		assert.True(t, found, "route %s %s not registered", want.method, want.path)
	}
}

func TestSetupRoutes_HealthAndMetrics(t *testing.T) {
	router := newRouter(t, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestSetupRoutes_RateLimitsStreamingOnly(t *testing.T) {
	limiter := middleware.NewClientLimiter(middleware.RateLimitConfig{PerMinute: 1, Burst: 1})
	router := newRouter(t, limiter)

	post := func(path, body string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)
		return w.Code
	}

	// The first request spends the token even though it fails validation.
	assert.Equal(t, http.StatusBadRequest, post("/v1/design/stream", `{}`))
	assert.Equal(t, http.StatusTooManyRequests, post("/v1/design/stream", `{}`))
	assert.Equal(t, http.StatusTooManyRequests, post("/v1/projects/shop/init", `{}`))

	assert.Equal(t, http.StatusOK, post("/v1/projects", `{"projectKey":"shop"}`))
}
