// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gallery

import (
	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/breadboard/services/gallery/telemetry"
)

// RegisterRoutes registers all gallery routes with the router.
//
// Description:
//
//	Registers the snippet API, the notification websocket, and the
//	operational endpoints. The guard middleware protects mutations;
//	the rate limiter protects renders.
//
// Inputs:
//
//	r - Gin engine (middleware such as otelgin should already be applied)
//	h - The handlers instance
//	hub - The websocket hub (Run must be started separately)
//	guard - Write auth guard (disabled guard passes everything)
//	limiter - Per-IP rate limiter for renders
//
// Snippet Endpoints:
//
//	GET    /api/v1/snippets - List snippets (summaries, sorted by name)
//	POST   /api/v1/snippets - Create or update a snippet (auth)
//	GET    /api/v1/snippets/:id - Full snippet including source
//	DELETE /api/v1/snippets/:id - Delete a snippet (auth)
//	POST   /api/v1/snippets/:id/render - Server-side render (rate limited)
//
// Notification Endpoints:
//
//	GET /ws/gallery - Websocket pushing snippet-saved / snippet-deleted
//
// Operational Endpoints:
//
//	GET /api/v1/health - Liveness probe
//	GET /metrics - Prometheus metrics (404 unless the exporter is active)
func RegisterRoutes(r *gin.Engine, h *Handlers, hub *Hub, guard *Guard, limiter *ipLimiter) {
	v1 := r.Group("/api/v1")
	{
		v1.GET("/snippets", h.ListSnippets)
		v1.POST("/snippets", guard.Middleware(), h.SaveSnippet)
		v1.GET("/snippets/:id", h.GetSnippet)
		v1.DELETE("/snippets/:id", guard.Middleware(), h.DeleteSnippet)
		v1.POST("/snippets/:id/render", limiter.Middleware(), h.RenderSnippet)
		v1.GET("/health", h.Health)
	}

	r.GET("/ws/gallery", hub.Serve)

	r.GET("/metrics", func(c *gin.Context) {
		if handler := telemetry.MetricsHandler(); handler != nil {
			handler.ServeHTTP(c.Writer, c.Request)
			return
		}
		c.Status(404)
	})
}
