// Copyright (C) 2025 Mindwell AI (oss@mindwell.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindwell-ai/mindwell/services/orchestrator/datatypes"
)

// =============================================================================
// Ollama Streaming
// =============================================================================

// newOllamaStreamServer serves /api/chat with newline-delimited JSON
// chunks, one per token, then a done marker.
func newOllamaStreamServer(t *testing.T, tokens []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		w.Header().Set("Content-Type", "application/x-ndjson")
		flusher, ok := w.(http.Flusher)
		require.True(t, ok)
		for _, tok := range tokens {
			fmt.Fprintf(w, `{"message":{"role":"assistant","content":%q},"done":false}`+"\n", tok)
			flusher.Flush()
		}
		fmt.Fprint(w, `{"message":{"role":"assistant","content":""},"done":true}`+"\n")
		flusher.Flush()
	}))
}

func TestOllamaClient_ChatStream_DeliversTokensInOrder(t *testing.T) {
	server := newOllamaStreamServer(t, []string{"Hello", ", ", "world"})
	defer server.Close()

	client, err := NewOllamaClient(server.URL, "test-model")
	require.NoError(t, err)

	var got []string
	err = client.ChatStream(context.Background(),
		[]datatypes.Message{{Role: "user", Content: "hi"}},
		GenerationParams{},
		func(event StreamEvent) error {
			require.Equal(t, StreamEventToken, event.Type)
			got = append(got, event.Content)
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hello", ", ", "world"}, got)
}

func TestOllamaClient_ChatStream_CallbackErrorAborts(t *testing.T) {
	server := newOllamaStreamServer(t, []string{"a", "b", "c", "d"})
	defer server.Close()

	client, err := NewOllamaClient(server.URL, "test-model")
	require.NoError(t, err)

	abort := errors.New("client gone")
	count := 0
	err = client.ChatStream(context.Background(),
		[]datatypes.Message{{Role: "user", Content: "hi"}},
		GenerationParams{},
		func(event StreamEvent) error {
			count++
			if count == 2 {
				return abort
			}
			return nil
		})
	assert.ErrorIs(t, err, abort)
	assert.Equal(t, 2, count)
}

func TestOllamaClient_ChatStream_UpstreamErrorLine(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"message":{"role":"assistant","content":"par"},"done":false}`+"\n")
		fmt.Fprint(w, `{"error":"model crashed"}`+"\n")
	}))
	defer server.Close()

	client, err := NewOllamaClient(server.URL, "test-model")
	require.NoError(t, err)

	var sawError bool
	err = client.ChatStream(context.Background(),
		[]datatypes.Message{{Role: "user", Content: "hi"}},
		GenerationParams{},
		func(event StreamEvent) error {
			if event.Type == StreamEventError {
				sawError = true
			}
			return nil
		})
	require.Error(t, err)
	assert.True(t, IsGenerationError(err))
	assert.True(t, sawError)
}

func TestOllamaClient_ChatStream_ContextCancellation(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		fmt.Fprint(w, `{"message":{"role":"assistant","content":"slow"},"done":false}`+"\n")
		flusher.Flush()
		<-release // hold the stream open
	}))
	defer server.Close()
	defer close(release)

	client, err := NewOllamaClient(server.URL, "test-model")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- client.ChatStream(ctx,
			[]datatypes.Message{{Role: "user", Content: "hi"}},
			GenerationParams{},
			func(event StreamEvent) error { return nil })
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("ChatStream did not return after cancellation")
	}
}

func TestOllamaClient_ChatStream_ModelNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"model 'missing' not found"}`)
	}))
	defer server.Close()

	client, err := NewOllamaClient(server.URL, "missing")
	require.NoError(t, err)

	err = client.ChatStream(context.Background(),
		[]datatypes.Message{{Role: "user", Content: "hi"}},
		GenerationParams{},
		func(event StreamEvent) error { return nil })
	require.Error(t, err)

	var ge *GenerationError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, http.StatusNotFound, ge.StatusCode)
	assert.Contains(t, ge.Message, "ollama pull")
}

func TestNewOllamaClient_RequiresBaseURL(t *testing.T) {
	_, err := NewOllamaClient("", "model")
	assert.Error(t, err)
}

// =============================================================================
// OpenAI-Compatible Streaming
// =============================================================================

// newOpenAIStreamServer serves /chat/completions in SSE chunk format.
func newOpenAIStreamServer(t *testing.T, tokens []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, tok := range tokens {
			fmt.Fprintf(w,
				"data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", tok)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
}

func TestOpenAIClient_ChatStream_DeliversTokensInOrder(t *testing.T) {
	server := newOpenAIStreamServer(t, []string{"One", " two", " three"})
	defer server.Close()

	client, err := NewOpenAIClient(server.URL, "test-key", "test-model")
	require.NoError(t, err)

	var got []string
	err = client.ChatStream(context.Background(),
		[]datatypes.Message{{Role: "user", Content: "count"}},
		GenerationParams{},
		func(event StreamEvent) error {
			got = append(got, event.Content)
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, []string{"One", " two", " three"}, got)
}

func TestOpenAIClient_ChatStream_UpstreamStatusSurfaced(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limited","type":"rate_limit_error"}}`)
	}))
	defer server.Close()

	client, err := NewOpenAIClient(server.URL, "test-key", "test-model")
	require.NoError(t, err)

	err = client.ChatStream(context.Background(),
		[]datatypes.Message{{Role: "user", Content: "hi"}},
		GenerationParams{},
		func(event StreamEvent) error { return nil })
	require.Error(t, err)

	var ge *GenerationError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, http.StatusTooManyRequests, ge.StatusCode)
}

func TestOpenAIClient_ChatStream_CallbackErrorAborts(t *testing.T) {
	server := newOpenAIStreamServer(t, []string{"a", "b", "c"})
	defer server.Close()

	client, err := NewOpenAIClient(server.URL, "test-key", "test-model")
	require.NoError(t, err)

	abort := errors.New("stop")
	err = client.ChatStream(context.Background(),
		[]datatypes.Message{{Role: "user", Content: "hi"}},
		GenerationParams{},
		func(event StreamEvent) error { return abort })
	assert.ErrorIs(t, err, abort)
}

func TestNewOpenAIClient_RequiresAPIKey(t *testing.T) {
	_, err := NewOpenAIClient("https://api.perplexity.ai", "", "sonar-pro")
	assert.Error(t, err)
}

// =============================================================================
// Error Types
// =============================================================================

func TestGenerationError_Formatting(t *testing.T) {
	withStatus := &GenerationError{StatusCode: 502, Message: "bad gateway"}
	assert.Contains(t, withStatus.Error(), "502")

	withoutStatus := &GenerationError{Message: "unreachable"}
	assert.NotContains(t, withoutStatus.Error(), "status")

	wrapped := fmt.Errorf("outer: %w", withStatus)
	assert.True(t, IsGenerationError(wrapped))
	assert.False(t, IsGenerationError(errors.New("plain")))
}
