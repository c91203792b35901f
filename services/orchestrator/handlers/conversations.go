// Copyright (C) 2025 Mindwell AI (oss@mindwell.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mindwell-ai/mindwell/pkg/logging"
	"github.com/mindwell-ai/mindwell/services/orchestrator/datatypes"
	"github.com/mindwell-ai/mindwell/services/orchestrator/middleware"
	"github.com/mindwell-ai/mindwell/services/orchestrator/store"
)

// =============================================================================
// Conversation Handlers
// =============================================================================

// Every accessor below resolves the conversation first and compares
// its owner against the authenticated user. A foreign or missing
// conversation is 404 in both cases, so the API never confirms that a
// conversation id exists for someone else.

// ListConversations serves GET /v1/conversations.
func ListConversations(s store.ConversationStore, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.UserID(c)

		conversations, err := s.List(c.Request.Context(), userID)
		if err != nil {
			logger.Error("listing conversations failed", "user_id", userID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list conversations"})
			return
		}
		if conversations == nil {
			conversations = []datatypes.Conversation{}
		}
		c.JSON(http.StatusOK, gin.H{"conversations": conversations})
	}
}

// GetConversationMessages serves GET /v1/conversations/:id/messages.
func GetConversationMessages(s store.ConversationStore, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		conv, ok := resolveOwned(c, s, logger)
		if !ok {
			return
		}

		messages, err := s.ListMessages(c.Request.Context(), conv.ID)
		if err != nil {
			logger.Error("listing messages failed", "conversation_id", conv.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
			return
		}
		if messages == nil {
			messages = []datatypes.ConversationMessage{}
		}
		c.JSON(http.StatusOK, gin.H{
			"conversation": conv,
			"messages":     messages,
		})
	}
}

// RenameConversation serves PATCH /v1/conversations/:id.
func RenameConversation(s store.ConversationStore, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		conv, ok := resolveOwned(c, s, logger)
		if !ok {
			return
		}

		var req datatypes.RenameConversationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := s.Rename(c.Request.Context(), conv.ID, req.Title); err != nil {
			logger.Error("renaming conversation failed", "conversation_id", conv.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to rename conversation"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": conv.ID, "title": req.Title})
	}
}

// DeleteConversation serves DELETE /v1/conversations/:id.
func DeleteConversation(s store.ConversationStore, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		conv, ok := resolveOwned(c, s, logger)
		if !ok {
			return
		}

		if err := s.Delete(c.Request.Context(), conv.ID); err != nil {
			logger.Error("deleting conversation failed", "conversation_id", conv.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete conversation"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "deleted", "id": conv.ID})
	}
}

// resolveOwned loads the :id conversation and enforces ownership.
// Writes the error response itself; callers bail out when ok is false.
func resolveOwned(c *gin.Context, s store.ConversationStore,
	logger *logging.Logger) (*datatypes.Conversation, bool) {

	conversationID := c.Param("id")
	userID := middleware.UserID(c)

	conv, err := s.Get(c.Request.Context(), conversationID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logger.Error("loading conversation failed",
				"conversation_id", conversationID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversation"})
			return nil, false
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return nil, false
	}
	if conv.UserID != userID {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return nil, false
	}
	return conv, true
}
