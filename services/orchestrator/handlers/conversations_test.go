// Copyright (C) 2025 Mindwell AI (oss@mindwell.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindwell-ai/mindwell/pkg/logging"
	"github.com/mindwell-ai/mindwell/services/orchestrator/datatypes"
	"github.com/mindwell-ai/mindwell/services/orchestrator/middleware"
	"github.com/mindwell-ai/mindwell/services/orchestrator/store"
)

// =============================================================================
// Test Setup
// =============================================================================

// conversationTestEnv wires the conversation handlers against a real
// SQLite store in a temp directory.
type conversationTestEnv struct {
	router *gin.Engine
	store  store.ConversationStore
}

func newConversationTestEnv(t *testing.T, userID string) *conversationTestEnv {
	t.Helper()

	logger := logging.New(logging.Config{Quiet: true})
	t.Cleanup(func() { logger.Close() })

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "conversations.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	router := gin.New()
	router.Use(func(c *gin.Context) {
		middleware.SetAuthInfo(c, &middleware.AuthInfo{UserID: userID})
		c.Next()
	})
	router.GET("/v1/conversations", ListConversations(s, logger))
	router.GET("/v1/conversations/:id/messages", GetConversationMessages(s, logger))
	router.PATCH("/v1/conversations/:id", RenameConversation(s, logger))
	router.DELETE("/v1/conversations/:id", DeleteConversation(s, logger))

	return &conversationTestEnv{router: router, store: s}
}

// seedConversation creates a conversation with one completed exchange
// for the given owner.
func (env *conversationTestEnv) seedConversation(t *testing.T, userID, title string) *datatypes.Conversation {
	t.Helper()
	now := time.Now().UTC()
	userMsg := datatypes.ConversationMessage{
		ID:        uuid.NewString(),
		Role:      "user",
		Content:   "hello",
		CreatedAt: now,
	}
	assistantMsg := datatypes.ConversationMessage{
		ID:        uuid.NewString(),
		Role:      "assistant",
		Content:   "hello back",
		CreatedAt: now,
	}
	conv, err := env.store.CreateWithExchange(context.Background(), userID, title, userMsg, assistantMsg)
	require.NoError(t, err)
	return conv
}

func (env *conversationTestEnv) request(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	env.router.ServeHTTP(w, req)
	return w
}

// =============================================================================
// List Tests
// =============================================================================

func TestListConversations_Empty(t *testing.T) {
	env := newConversationTestEnv(t, "user-1")

	w := env.request(t, "GET", "/v1/conversations", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Conversations []datatypes.Conversation `json:"conversations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotNil(t, resp.Conversations, "empty list should marshal as [], not null")
	assert.Empty(t, resp.Conversations)
}

func TestListConversations_OnlyOwnConversations(t *testing.T) {
	env := newConversationTestEnv(t, "user-1")
	mine := env.seedConversation(t, "user-1", "mine")
	env.seedConversation(t, "user-2", "not mine")

	w := env.request(t, "GET", "/v1/conversations", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Conversations []datatypes.Conversation `json:"conversations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Conversations, 1)
	assert.Equal(t, mine.ID, resp.Conversations[0].ID)
	assert.Equal(t, "mine", resp.Conversations[0].Title)
}

// =============================================================================
// Message Tests
// =============================================================================

func TestGetConversationMessages_ReturnsExchange(t *testing.T) {
	env := newConversationTestEnv(t, "user-1")
	conv := env.seedConversation(t, "user-1", "chat")

	w := env.request(t, "GET", "/v1/conversations/"+conv.ID+"/messages", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Conversation datatypes.Conversation          `json:"conversation"`
		Messages     []datatypes.ConversationMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, conv.ID, resp.Conversation.ID)
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "user", resp.Messages[0].Role)
	assert.Equal(t, "assistant", resp.Messages[1].Role)
}

func TestGetConversationMessages_UnknownIs404(t *testing.T) {
	env := newConversationTestEnv(t, "user-1")

	w := env.request(t, "GET", "/v1/conversations/nope/messages", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetConversationMessages_ForeignLooksAbsent(t *testing.T) {
	env := newConversationTestEnv(t, "user-1")
	foreign := env.seedConversation(t, "user-2", "theirs")

	w := env.request(t, "GET", "/v1/conversations/"+foreign.ID+"/messages", nil)
	assert.Equal(t, http.StatusNotFound, w.Code,
		"a foreign conversation must be indistinguishable from a missing one")
}

// =============================================================================
// Rename Tests
// =============================================================================

func TestRenameConversation_UpdatesTitle(t *testing.T) {
	env := newConversationTestEnv(t, "user-1")
	conv := env.seedConversation(t, "user-1", "before")

	w := env.request(t, "PATCH", "/v1/conversations/"+conv.ID,
		datatypes.RenameConversationRequest{Title: "after"})
	require.Equal(t, http.StatusOK, w.Code)

	updated, err := env.store.Get(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "after", updated.Title)
}

func TestRenameConversation_EmptyTitleRejected(t *testing.T) {
	env := newConversationTestEnv(t, "user-1")
	conv := env.seedConversation(t, "user-1", "before")

	w := env.request(t, "PATCH", "/v1/conversations/"+conv.ID,
		map[string]string{"title": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRenameConversation_ForeignLooksAbsent(t *testing.T) {
	env := newConversationTestEnv(t, "user-1")
	foreign := env.seedConversation(t, "user-2", "theirs")

	w := env.request(t, "PATCH", "/v1/conversations/"+foreign.ID,
		datatypes.RenameConversationRequest{Title: "hijacked"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	unchanged, err := env.store.Get(context.Background(), foreign.ID)
	require.NoError(t, err)
	assert.Equal(t, "theirs", unchanged.Title)
}

// =============================================================================
// Delete Tests
// =============================================================================

func TestDeleteConversation_RemovesConversation(t *testing.T) {
	env := newConversationTestEnv(t, "user-1")
	conv := env.seedConversation(t, "user-1", "doomed")

	w := env.request(t, "DELETE", "/v1/conversations/"+conv.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	_, err := env.store.Get(context.Background(), conv.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteConversation_UnknownIs404(t *testing.T) {
	env := newConversationTestEnv(t, "user-1")

	w := env.request(t, "DELETE", "/v1/conversations/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteConversation_ForeignLooksAbsent(t *testing.T) {
	env := newConversationTestEnv(t, "user-1")
	foreign := env.seedConversation(t, "user-2", "theirs")

	w := env.request(t, "DELETE", "/v1/conversations/"+foreign.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	still, err := env.store.Get(context.Background(), foreign.ID)
	require.NoError(t, err)
	assert.Equal(t, foreign.ID, still.ID)
}
