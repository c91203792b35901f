// Copyright (C) 2025 Mindwell AI (oss@mindwell.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindwell-ai/mindwell/pkg/logging"
	"github.com/mindwell-ai/mindwell/services/llm"
	"github.com/mindwell-ai/mindwell/services/orchestrator/assembler"
	"github.com/mindwell-ai/mindwell/services/orchestrator/config"
	"github.com/mindwell-ai/mindwell/services/orchestrator/datatypes"
	"github.com/mindwell-ai/mindwell/services/orchestrator/exchange"
	"github.com/mindwell-ai/mindwell/services/orchestrator/handlers"
	"github.com/mindwell-ai/mindwell/services/orchestrator/middleware"
	"github.com/mindwell-ai/mindwell/services/orchestrator/store"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

// silentLLM satisfies llm.LLMClient without doing anything.
type silentLLM struct{}

func (silentLLM) Generate(context.Context, string, llm.GenerationParams) (string, error) {
	return "", nil
}

func (silentLLM) Chat(context.Context, []datatypes.Message, llm.GenerationParams) (string, error) {
	return "", nil
}

func (silentLLM) ChatStream(_ context.Context, _ []datatypes.Message,
	_ llm.GenerationParams, _ llm.StreamCallback) error {
	return nil
}

// emptyShortTerm satisfies memory.ShortTermStore with no data.
type emptyShortTerm struct{}

func (emptyShortTerm) Append(context.Context, string, datatypes.ShortTermEntry) error { return nil }
func (emptyShortTerm) Recent(context.Context, string, int) ([]datatypes.ShortTermEntry, error) {
	return nil, nil
}
func (emptyShortTerm) Clear(context.Context, string) error { return nil }
func (emptyShortTerm) Close() error                        { return nil }

// newTestRouter wires a lightweight-mode route table: no Weaviate, no
// long-term memory, no voice.
func newTestRouter(t *testing.T, provider middleware.AuthProvider) *gin.Engine {
	t.Helper()

	logger := logging.New(logging.Config{Quiet: true})
	t.Cleanup(func() { logger.Close() })

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "routes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	shortTerm := emptyShortTerm{}
	asm := assembler.New(shortTerm, nil, nil, assembler.Config{}, logger)
	broker := exchange.NewBroker(s, 50, logger)

	persona, err := config.NewPersonaProvider("", logger)
	require.NoError(t, err)
	t.Cleanup(func() { persona.Close() })

	chatHandler := handlers.NewStreamingChatHandler(silentLLM{}, asm, broker,
		shortTerm, nil, persona, "test-model", time.Second, logger)

	router := gin.New()
	SetupRoutes(router, Deps{
		Store:        s,
		ShortTerm:    shortTerm,
		ChatHandler:  chatHandler,
		AuthProvider: provider,
		Logger:       logger,
	})
	return router
}

func get(router *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
	return w
}

// =============================================================================
// Route Table Tests
// =============================================================================

func TestSetupRoutes_HealthIsPublic(t *testing.T) {
	router := newTestRouter(t, middleware.NopAuthProvider{})
	assert.Equal(t, http.StatusOK, get(router, "/health").Code)
}

func TestSetupRoutes_MetricsIsPublic(t *testing.T) {
	router := newTestRouter(t, middleware.NopAuthProvider{})
	assert.Equal(t, http.StatusOK, get(router, "/metrics").Code)
}

func TestSetupRoutes_ConversationsRegistered(t *testing.T) {
	router := newTestRouter(t, middleware.NopAuthProvider{})
	assert.Equal(t, http.StatusOK, get(router, "/v1/conversations").Code)
}

func TestSetupRoutes_ShortTermMemoryRegistered(t *testing.T) {
	router := newTestRouter(t, middleware.NopAuthProvider{})
	assert.Equal(t, http.StatusOK, get(router, "/v1/memory/stm").Code)
}

func TestSetupRoutes_LongTermUnconfiguredIs503(t *testing.T) {
	router := newTestRouter(t, middleware.NopAuthProvider{})
	assert.Equal(t, http.StatusServiceUnavailable,
		get(router, "/v1/memory/ltm/search?q=x").Code)
}

func TestSetupRoutes_DocumentsAbsentWithoutWeaviate(t *testing.T) {
	router := newTestRouter(t, middleware.NopAuthProvider{})
	assert.Equal(t, http.StatusNotFound, get(router, "/v1/documents").Code)
}

func TestSetupRoutes_VoiceAbsentWithoutHandler(t *testing.T) {
	router := newTestRouter(t, middleware.NopAuthProvider{})
	assert.Equal(t, http.StatusNotFound, get(router, "/v1/voice/ws").Code)
}

func TestSetupRoutes_AuthGuardsV1(t *testing.T) {
	provider, err := middleware.NewHMACAuthProvider("test-secret-0123456789abcdef")
	require.NoError(t, err)
	router := newTestRouter(t, provider)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/conversations", nil)
	req.Header.Set("Authorization", "Bearer bogus")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Health stays reachable without credentials.
	assert.Equal(t, http.StatusOK, get(router, "/health").Code)
}
