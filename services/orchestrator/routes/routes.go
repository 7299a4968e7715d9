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

	"github.com/AleutianAI/AleutianArchitect/pkg/telemetry"
	"github.com/AleutianAI/AleutianArchitect/services/orchestrator/handlers"
	"github.com/AleutianAI/AleutianArchitect/services/orchestrator/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes registers every architect endpoint on router.
//
// # Description
//
// Streaming endpoints sit behind the per-client rate limiter when limiter
// is non-nil. /metrics serves the default Prometheus registry, which also
// carries the OpenTelemetry instruments when the Prometheus exporter is
// active.
//
// # Inputs
//
//   - router: The engine. Middleware such as otelgin is added by the caller.
//   - h: The design handler.
//   - hub: The push hub for /ws. May be nil to disable push.
//   - limiter: Optional rate limiter for streaming endpoints.
func SetupRoutes(router *gin.Engine, h *handlers.ArchitectHandler, hub *handlers.PushHub, limiter *middleware.ClientLimiter) {
	router.GET("/health", h.HandleHealth)
	router.GET("/metrics", gin.WrapH(metricsHandler()))

	stream := func(handler gin.HandlerFunc) []gin.HandlerFunc {
		if limiter == nil {
			return []gin.HandlerFunc{handler}
		}
		return []gin.HandlerFunc{middleware.RateLimit(limiter), handler}
	}

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/design/stream", stream(h.HandleDesignStream)...)

		projects := v1.Group("/projects")
		{
			projects.POST("", h.HandleUpsertProject)
			projects.GET("/:projectKey", h.HandleProjectDetail)
			projects.POST("/:projectKey/init", stream(h.HandleInitModules)...)
			projects.PUT("/:projectKey/document", h.HandleReplaceDocument)
			projects.GET("/:projectKey/ws/stats", h.HandlePushStats)
			if hub != nil {
				projects.GET("/:projectKey/ws", hub.HandlePush)
			}
		}

		conversations := v1.Group("/conversations")
		{
			conversations.GET("/:conversationId", h.HandleConversationDetail)
			conversations.POST("/:conversationId/accept", h.HandleAccept)
		}
	}
}

func metricsHandler() http.Handler {
	if h := telemetry.MetricsHandler(); h != nil {
		return h
	}
	return promhttp.Handler()
}
