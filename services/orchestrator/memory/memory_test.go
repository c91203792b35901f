// Copyright (C) 2025 Mindwell AI (oss@mindwell.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Embedding Client
// =============================================================================

func TestEmbeddingClient_Embed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/embed", r.URL.Path)
		var req struct {
			Text string `json:"text"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "hello", req.Text)
		fmt.Fprint(w, `{"vector":[0.1,0.2,0.3],"dim":3}`)
	}))
	defer server.Close()

	client, err := NewEmbeddingClient(server.URL)
	require.NoError(t, err)

	vec, err := client.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestEmbeddingClient_BatchEmbed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/batch_embed", r.URL.Path)
		fmt.Fprint(w, `{"vectors":[[0.1],[0.2]],"dim":1}`)
	}))
	defer server.Close()

	client, err := NewEmbeddingClient(server.URL)
	require.NoError(t, err)

	vecs, err := client.BatchEmbed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
}

func TestEmbeddingClient_BatchCountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"vectors":[[0.1]],"dim":1}`)
	}))
	defer server.Close()

	client, err := NewEmbeddingClient(server.URL)
	require.NoError(t, err)

	_, err = client.BatchEmbed(context.Background(), []string{"a", "b"})
	assert.Error(t, err)
}

func TestEmbeddingClient_UpstreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, err := NewEmbeddingClient(server.URL)
	require.NoError(t, err)

	_, err = client.Embed(context.Background(), "hello")
	assert.Error(t, err)
}

func TestNewEmbeddingClient_RequiresURL(t *testing.T) {
	_, err := NewEmbeddingClient("")
	assert.Error(t, err)
}

// =============================================================================
// GraphQL Response Parsing
// =============================================================================

func TestParseMemoryFacts_RanksBySimilarityTimesImportance(t *testing.T) {
	data := map[string]interface{}{
		"Get": map[string]interface{}{
			"MemoryFact": []interface{}{
				map[string]interface{}{
					"content": "likes tea", "kind": "preference", "importance": 0.9,
					"metadata": "", "created_at": float64(1700000000000),
					"_additional": map[string]interface{}{"id": "id-1", "certainty": 0.8},
				},
				map[string]interface{}{
					"content": "mentioned rain once", "kind": "event", "importance": 0.2,
					"metadata": "", "created_at": float64(1700000001000),
					"_additional": map[string]interface{}{"id": "id-2", "certainty": 0.95},
				},
			},
		},
	}

	facts, err := parseMemoryFacts(data, "user-1")
	require.NoError(t, err)
	require.Len(t, facts, 2)

	// 0.8*0.9 = 0.72 beats 0.95*0.2 = 0.19.
	assert.InDelta(t, 0.72, facts[0].Score, 1e-9)
	assert.InDelta(t, 0.19, facts[1].Score, 1e-9)
	assert.Equal(t, "user-1", facts[0].UserID)
}

func TestParseMemoryFacts_DecodesMetadata(t *testing.T) {
	data := map[string]interface{}{
		"Get": map[string]interface{}{
			"MemoryFact": []interface{}{
				map[string]interface{}{
					"content": "c", "kind": "fact", "importance": 0.5,
					"metadata": `{"origin":"exchange"}`, "created_at": float64(0),
					"_additional": map[string]interface{}{"id": "id-1", "certainty": 0.5},
				},
			},
		},
	}

	facts, err := parseMemoryFacts(data, "u")
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "exchange", facts[0].Metadata["origin"])
}

func TestParseDocumentChunks(t *testing.T) {
	data := map[string]interface{}{
		"Get": map[string]interface{}{
			"DocumentChunk": []interface{}{
				map[string]interface{}{
					"content": "chapter one", "source": "journal.pdf",
					"document_id": "doc-1", "chunk_index": float64(3),
					"ingested_at": float64(1700000000000),
					"_additional": map[string]interface{}{"id": "id-9", "certainty": 0.7},
				},
			},
		},
	}

	chunks, err := parseDocumentChunks(data, "user-1")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "doc-1", chunks[0].DocumentID)
	assert.Equal(t, 3, chunks[0].ChunkIndex)
	assert.InDelta(t, 0.7, chunks[0].Score, 1e-9)
}

func TestParseMemoryFacts_EmptyResponse(t *testing.T) {
	facts, err := parseMemoryFacts(map[string]interface{}{}, "u")
	require.NoError(t, err)
	assert.Empty(t, facts)
}

// =============================================================================
// Fact IDs
// =============================================================================

func TestFactID_Deterministic(t *testing.T) {
	a := FactID("user-1", "likes tea")
	b := FactID("user-1", "likes tea")
	c := FactID("user-2", "likes tea")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
