// Copyright (C) 2025 Mindwell AI (oss@mindwell.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
)

// HealthCheck serves GET /health.
//
// Reports the orchestrator's own liveness plus the reachability of
// long-term storage. A down Weaviate degrades the report but keeps
// the status 200: the service still answers chats in lightweight
// mode, so orchestrated restarts should not kill it.
func HealthCheck(weaviateClient *weaviate.Client) gin.HandlerFunc {
	startedAt := time.Now()

	return func(c *gin.Context) {
		report := gin.H{
			"status":         "ok",
			"uptime_seconds": int64(time.Since(startedAt).Seconds()),
		}

		if weaviateClient == nil {
			report["memory_backend"] = "lightweight"
		} else if ready, err := weaviateClient.Misc().ReadyChecker().Do(c.Request.Context()); err != nil || !ready {
			report["memory_backend"] = "degraded"
		} else {
			report["memory_backend"] = "ok"
		}

		c.JSON(http.StatusOK, report)
	}
}
