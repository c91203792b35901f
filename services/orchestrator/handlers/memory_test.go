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
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindwell-ai/mindwell/pkg/logging"
	"github.com/mindwell-ai/mindwell/services/orchestrator/datatypes"
	"github.com/mindwell-ai/mindwell/services/orchestrator/memory"
	"github.com/mindwell-ai/mindwell/services/orchestrator/middleware"
)

// =============================================================================
// Test Setup
// =============================================================================

// failingShortTerm errors on every call.
type failingShortTerm struct{}

func (f *failingShortTerm) Append(context.Context, string, datatypes.ShortTermEntry) error {
	return errors.New("badger unavailable")
}

func (f *failingShortTerm) Recent(context.Context, string, int) ([]datatypes.ShortTermEntry, error) {
	return nil, errors.New("badger unavailable")
}

func (f *failingShortTerm) Clear(context.Context, string) error {
	return errors.New("badger unavailable")
}

func (f *failingShortTerm) Close() error { return nil }

// searchableLongTerm returns canned search results and records the
// query it was asked.
type searchableLongTerm struct {
	chatMockLongTerm
	results   []datatypes.MemoryFact
	lastQuery string
	lastTopK  int
}

func (m *searchableLongTerm) Search(_ context.Context, _, query string, topK int) ([]datatypes.MemoryFact, error) {
	m.lastQuery = query
	m.lastTopK = topK
	return m.results, nil
}

func newMemoryRouter(t *testing.T, stm memory.ShortTermStore, ltm memory.LongTermIndex) *gin.Engine {
	t.Helper()

	logger := logging.New(logging.Config{Quiet: true})
	t.Cleanup(func() { logger.Close() })

	router := gin.New()
	router.Use(func(c *gin.Context) {
		middleware.SetAuthInfo(c, &middleware.AuthInfo{UserID: "user-1"})
		c.Next()
	})
	router.GET("/v1/memory/stm", ListShortTermContext(stm, logger))
	router.POST("/v1/memory/stm/clear", ClearShortTermContext(stm, logger))
	router.POST("/v1/memory/ltm", StoreMemoryFact(ltm, logger))
	router.GET("/v1/memory/ltm/search", SearchMemoryFacts(ltm, logger))
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

// =============================================================================
// Short-Term Context Tests
// =============================================================================

func TestListShortTermContext_ReturnsEntriesWithWeights(t *testing.T) {
	stm := &chatMockShortTerm{}
	require.NoError(t, stm.Append(context.Background(), "user-1", datatypes.ShortTermEntry{
		Text:       "likes rainy mornings",
		Importance: 0.8,
		CreatedAt:  time.Now(),
	}))

	router := newMemoryRouter(t, stm, &chatMockLongTerm{})
	w := doJSON(t, router, "GET", "/v1/memory/stm", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Entries []datatypes.ShortTermEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, "likes rainy mornings", resp.Entries[0].Text)
	assert.Greater(t, resp.Entries[0].Weight, 0.0)
}

func TestListShortTermContext_EmptyIsArray(t *testing.T) {
	router := newMemoryRouter(t, &chatMockShortTerm{}, &chatMockLongTerm{})
	w := doJSON(t, router, "GET", "/v1/memory/stm", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"entries":[]`)
}

func TestListShortTermContext_BadLimitRejected(t *testing.T) {
	router := newMemoryRouter(t, &chatMockShortTerm{}, &chatMockLongTerm{})

	for _, limit := range []string{"0", "-1", "abc"} {
		w := doJSON(t, router, "GET", "/v1/memory/stm?limit="+limit, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, "limit=%s", limit)
	}
}

func TestListShortTermContext_StoreFailureIs500(t *testing.T) {
	router := newMemoryRouter(t, &failingShortTerm{}, &chatMockLongTerm{})
	w := doJSON(t, router, "GET", "/v1/memory/stm", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestClearShortTermContext(t *testing.T) {
	router := newMemoryRouter(t, &chatMockShortTerm{}, &chatMockLongTerm{})
	w := doJSON(t, router, "POST", "/v1/memory/stm/clear", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "cleared")
}

// =============================================================================
// Long-Term Memory Tests
// =============================================================================

func TestStoreMemoryFact_CreatesFact(t *testing.T) {
	ltm := &chatMockLongTerm{}
	router := newMemoryRouter(t, &chatMockShortTerm{}, ltm)

	w := doJSON(t, router, "POST", "/v1/memory/ltm", datatypes.StoreMemoryRequest{
		Content:    "my sister's name is June",
		Kind:       datatypes.MemoryKindFact,
		Importance: 0.9,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	_, err := uuid.Parse(resp.ID)
	assert.NoError(t, err, "response id should be a UUID")
	assert.Equal(t, memory.FactID("user-1", "my sister's name is June"), resp.ID,
		"response id should be the deterministic storage id")

	require.Equal(t, 1, ltm.count())
	ltm.mu.Lock()
	fact := ltm.facts[0]
	ltm.mu.Unlock()
	assert.Equal(t, "user-1", fact.UserID)
	assert.Equal(t, "my sister's name is June", fact.Content)
	assert.Equal(t, 0.9, fact.Importance)
}

func TestStoreMemoryFact_DefaultsKindAndImportance(t *testing.T) {
	ltm := &chatMockLongTerm{}
	router := newMemoryRouter(t, &chatMockShortTerm{}, ltm)

	w := doJSON(t, router, "POST", "/v1/memory/ltm", map[string]string{
		"content": "plain statement",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	ltm.mu.Lock()
	fact := ltm.facts[0]
	ltm.mu.Unlock()
	assert.Equal(t, datatypes.MemoryKindFact, fact.Kind)
	assert.Equal(t, 0.7, fact.Importance)
}

// erroringLongTerm fails every write.
type erroringLongTerm struct {
	chatMockLongTerm
}

func (e *erroringLongTerm) Upsert(_ context.Context, _ datatypes.MemoryFact) error {
	return errors.New("weaviate unreachable")
}

func TestStoreMemoryFact_StoreFailureIs500(t *testing.T) {
	router := newMemoryRouter(t, &chatMockShortTerm{}, &erroringLongTerm{})

	w := doJSON(t, router, "POST", "/v1/memory/ltm", datatypes.StoreMemoryRequest{
		Content: "my cat is named Olive",
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "failed to store memory")
}

func TestStoreMemoryFact_EmptyContentRejected(t *testing.T) {
	router := newMemoryRouter(t, &chatMockShortTerm{}, &chatMockLongTerm{})
	w := doJSON(t, router, "POST", "/v1/memory/ltm", map[string]string{"content": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStoreMemoryFact_UnconfiguredIs503(t *testing.T) {
	router := newMemoryRouter(t, &chatMockShortTerm{}, nil)
	w := doJSON(t, router, "POST", "/v1/memory/ltm", datatypes.StoreMemoryRequest{
		Content: "anything",
	})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSearchMemoryFacts_ReturnsRankedFacts(t *testing.T) {
	ltm := &searchableLongTerm{results: []datatypes.MemoryFact{
		{ID: "f1", Content: "first", Score: 0.9},
		{ID: "f2", Content: "second", Score: 0.4},
	}}
	router := newMemoryRouter(t, &chatMockShortTerm{}, ltm)

	w := doJSON(t, router, "GET", "/v1/memory/ltm/search?q=sister&top_k=2", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Facts []datatypes.MemoryFact `json:"facts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Facts, 2)
	assert.Equal(t, "f1", resp.Facts[0].ID)
	assert.Equal(t, "sister", ltm.lastQuery)
	assert.Equal(t, 2, ltm.lastTopK)
}

func TestSearchMemoryFacts_MissingQueryRejected(t *testing.T) {
	router := newMemoryRouter(t, &chatMockShortTerm{}, &searchableLongTerm{})
	w := doJSON(t, router, "GET", "/v1/memory/ltm/search", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearchMemoryFacts_TopKBounds(t *testing.T) {
	router := newMemoryRouter(t, &chatMockShortTerm{}, &searchableLongTerm{})

	for _, topK := range []string{"0", "51", "x"} {
		w := doJSON(t, router, "GET", "/v1/memory/ltm/search?q=a&top_k="+topK, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, "top_k=%s", topK)
	}
}

func TestSearchMemoryFacts_UnconfiguredIs503(t *testing.T) {
	router := newMemoryRouter(t, &chatMockShortTerm{}, nil)
	w := doJSON(t, router, "GET", "/v1/memory/ltm/search?q=a", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
