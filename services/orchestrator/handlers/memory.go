// Copyright (C) 2025 Mindwell AI (oss@mindwell.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mindwell-ai/mindwell/pkg/logging"
	"github.com/mindwell-ai/mindwell/services/orchestrator/datatypes"
	"github.com/mindwell-ai/mindwell/services/orchestrator/memory"
	"github.com/mindwell-ai/mindwell/services/orchestrator/middleware"
	"github.com/mindwell-ai/mindwell/services/orchestrator/observability"
)

// =============================================================================
// Memory Handlers
// =============================================================================

// defaultSearchTopK bounds LTM search when the client does not ask
// for a specific count.
const defaultSearchTopK = 5

// ListShortTermContext serves GET /v1/memory/stm. Entries come back
// newest first with their current decay weight, which makes the
// endpoint double as a decay inspector.
func ListShortTermContext(stm memory.ShortTermStore, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.UserID(c)

		limit := defaultSearchTopK * 10
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 1 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			limit = parsed
		}

		entries, err := stm.Recent(c.Request.Context(), userID, limit)
		if err != nil {
			logger.Error("listing short-term context failed", "user_id", userID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list short-term context"})
			return
		}
		if entries == nil {
			entries = []datatypes.ShortTermEntry{}
		}
		c.JSON(http.StatusOK, gin.H{"entries": entries})
	}
}

// ClearShortTermContext serves POST /v1/memory/stm/clear.
func ClearShortTermContext(stm memory.ShortTermStore, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.UserID(c)

		if err := stm.Clear(c.Request.Context(), userID); err != nil {
			logger.Error("clearing short-term context failed", "user_id", userID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clear short-term context"})
			return
		}
		logger.Info("short-term context cleared", "user_id", userID)
		c.JSON(http.StatusOK, gin.H{"status": "cleared"})
	}
}

// StoreMemoryFact serves POST /v1/memory/ltm, the explicit write path
// into long-term memory.
func StoreMemoryFact(ltm memory.LongTermIndex, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ltm == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "long-term memory is not configured"})
			return
		}
		userID := middleware.UserID(c)

		var req datatypes.StoreMemoryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Kind == "" {
			req.Kind = datatypes.MemoryKindFact
		}
		if req.Importance == 0 {
			req.Importance = 0.7
		}

		// The id is the deterministic storage id, so the client gets
		// the same id back when it stores the same statement twice.
		fact := datatypes.MemoryFact{
			ID:         memory.FactID(userID, req.Content),
			UserID:     userID,
			Content:    req.Content,
			Kind:       req.Kind,
			Importance: req.Importance,
			Metadata:   map[string]string{"origin": "api"},
			CreatedAt:  time.Now().UTC(),
		}
		if err := ltm.Upsert(c.Request.Context(), fact); err != nil {
			logger.Error("storing memory fact failed", "user_id", userID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store memory"})
			return
		}
		observability.Default().RecordPromotion()
		c.JSON(http.StatusCreated, gin.H{"id": fact.ID})
	}
}

// SearchMemoryFacts serves GET /v1/memory/ltm/search?q=...&top_k=N.
// Results are ranked by similarity times importance, newest winning
// ties.
func SearchMemoryFacts(ltm memory.LongTermIndex, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ltm == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "long-term memory is not configured"})
			return
		}
		userID := middleware.UserID(c)

		query := c.Query("q")
		if query == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "q is required"})
			return
		}
		topK := defaultSearchTopK
		if raw := c.Query("top_k"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 1 || parsed > 50 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "top_k must be between 1 and 50"})
				return
			}
			topK = parsed
		}

		facts, err := ltm.Search(c.Request.Context(), userID, query, topK)
		if err != nil {
			logger.Error("memory search failed", "user_id", userID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "memory search failed"})
			return
		}
		if facts == nil {
			facts = []datatypes.MemoryFact{}
		}
		c.JSON(http.StatusOK, gin.H{"facts": facts})
	}
}
