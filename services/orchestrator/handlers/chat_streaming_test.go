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
	"path/filepath"
	"strings"
	"sync"
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
	"github.com/mindwell-ai/mindwell/services/orchestrator/middleware"
	"github.com/mindwell-ai/mindwell/services/orchestrator/store"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

// mockLLM streams configured tokens through the callback.
type mockLLM struct {
	tokens []string
	err    error
	delay  time.Duration
}

func (m *mockLLM) Generate(_ context.Context, _ string, _ llm.GenerationParams) (string, error) {
	return strings.Join(m.tokens, ""), m.err
}

func (m *mockLLM) Chat(_ context.Context, _ []datatypes.Message, _ llm.GenerationParams) (string, error) {
	return strings.Join(m.tokens, ""), m.err
}

func (m *mockLLM) ChatStream(ctx context.Context, _ []datatypes.Message,
	_ llm.GenerationParams, callback llm.StreamCallback) error {

	for _, token := range m.tokens {
		if m.delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(m.delay):
			}
		}
		if err := callback(llm.StreamEvent{Type: llm.StreamEventToken, Content: token}); err != nil {
			return err
		}
	}
	return m.err
}

// chatMockShortTerm records appends so tests can observe the detached
// promotion writes.
type chatMockShortTerm struct {
	mu      sync.Mutex
	entries []datatypes.ShortTermEntry
}

func (m *chatMockShortTerm) Append(_ context.Context, _ string, entry datatypes.ShortTermEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *chatMockShortTerm) Recent(_ context.Context, _ string, _ int) ([]datatypes.ShortTermEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]datatypes.ShortTermEntry, len(m.entries))
	copy(out, m.entries)
	for i := range out {
		out[i].Weight = 1.0
	}
	return out, nil
}

func (m *chatMockShortTerm) Clear(_ context.Context, _ string) error { return nil }
func (m *chatMockShortTerm) Close() error                            { return nil }

func (m *chatMockShortTerm) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// chatMockLongTerm records promoted facts.
type chatMockLongTerm struct {
	mu    sync.Mutex
	facts []datatypes.MemoryFact
}

func (m *chatMockLongTerm) Upsert(_ context.Context, fact datatypes.MemoryFact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.facts = append(m.facts, fact)
	return nil
}

func (m *chatMockLongTerm) Search(_ context.Context, _, _ string, _ int) ([]datatypes.MemoryFact, error) {
	return nil, nil
}

func (m *chatMockLongTerm) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.facts)
}

// chatTestEnv bundles the wired handler with its collaborators.
type chatTestEnv struct {
	router    *gin.Engine
	store     store.ConversationStore
	broker    *exchange.Broker
	shortTerm *chatMockShortTerm
	longTerm  *chatMockLongTerm
}

func newChatTestEnv(t *testing.T, client llm.LLMClient, userID string) *chatTestEnv {
	t.Helper()
	t.Setenv("MINDWELL_INSECURE_MEMORY", "true")

	logger := logging.New(logging.Config{Quiet: true})
	t.Cleanup(func() { logger.Close() })

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	shortTerm := &chatMockShortTerm{}
	longTerm := &chatMockLongTerm{}
	asm := assembler.New(shortTerm, longTerm, nil, assembler.Config{}, logger)
	broker := exchange.NewBroker(s, 50, logger)

	persona, err := config.NewPersonaProvider("", logger)
	require.NoError(t, err)
	t.Cleanup(func() { persona.Close() })

	handler := NewStreamingChatHandler(client, asm, broker, shortTerm, longTerm,
		persona, "test-model", 5*time.Second, logger)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		middleware.SetAuthInfo(c, &middleware.AuthInfo{UserID: userID})
		c.Next()
	})
	router.POST("/v1/chat/stream", handler.HandleChatStream)

	return &chatTestEnv{
		router:    router,
		store:     s,
		broker:    broker,
		shortTerm: shortTerm,
		longTerm:  longTerm,
	}
}

func (env *chatTestEnv) post(t *testing.T, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/chat/stream", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	env.router.ServeHTTP(w, req)
	return w
}

// parseSSEEvents decodes the recorded SSE body into typed events,
// skipping comment lines.
func parseSSEEvents(t *testing.T, body string) []datatypes.StreamEvent {
	t.Helper()
	var events []datatypes.StreamEvent
	for _, block := range strings.Split(body, "\n\n") {
		var event datatypes.StreamEvent
		hasData := false
		for _, line := range strings.Split(block, "\n") {
			if data, ok := strings.CutPrefix(line, "data: "); ok {
				require.NoError(t, json.Unmarshal([]byte(data), &event))
				hasData = true
			}
		}
		if hasData {
			events = append(events, event)
		}
	}
	return events
}

func eventsOfType(events []datatypes.StreamEvent, eventType string) []datatypes.StreamEvent {
	var out []datatypes.StreamEvent
	for _, event := range events {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}

// =============================================================================
// Happy Path Tests
// =============================================================================

func TestHandleChatStream_HappyPath(t *testing.T) {
	env := newChatTestEnv(t, &mockLLM{tokens: []string{"Hello", " there", "."}}, "user-1")

	w := env.post(t, datatypes.StreamChatRequest{Message: "Hi, how are you today?"})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	events := parseSSEEvents(t, w.Body.String())
	chunks := eventsOfType(events, datatypes.StreamEventChunk)
	require.Len(t, chunks, 3)
	assert.Equal(t, "Hello", chunks[0].Content)

	done := eventsOfType(events, datatypes.StreamEventDone)
	require.Len(t, done, 1)
	assert.NotEmpty(t, done[0].ConversationId)
	assert.Empty(t, eventsOfType(events, datatypes.StreamEventError))

	// Both turns persisted under the durable id from the done event.
	messages, err := env.store.ListMessages(context.Background(), done[0].ConversationId)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "user", messages[0].Role)
	assert.Equal(t, "assistant", messages[1].Role)
	assert.Equal(t, "Hello there.", messages[1].Content)
	assert.Equal(t, "test-model", messages[1].Metadata["model"])
	assert.NotEmpty(t, messages[1].Metadata["response_hash"])

	assert.Equal(t, 0, env.broker.InFlight())
}

func TestHandleChatStream_EventOrder(t *testing.T) {
	env := newChatTestEnv(t, &mockLLM{tokens: []string{"ok"}}, "user-1")

	w := env.post(t, datatypes.StreamChatRequest{Message: "order check"})

	events := parseSSEEvents(t, w.Body.String())
	require.GreaterOrEqual(t, len(events), 4)
	assert.Equal(t, datatypes.StreamEventStatus, events[0].Type)
	assert.Equal(t, datatypes.StreamEventSources, events[1].Type)
	assert.Equal(t, datatypes.StreamEventStatus, events[2].Type)
	assert.Equal(t, datatypes.StreamEventDone, events[len(events)-1].Type)
}

func TestHandleChatStream_EmotionEchoedOnDone(t *testing.T) {
	env := newChatTestEnv(t, &mockLLM{tokens: []string{"ok"}}, "user-1")

	w := env.post(t, datatypes.StreamChatRequest{
		Message: "I had a rough day",
		Emotion: "anxious",
	})

	done := eventsOfType(parseSSEEvents(t, w.Body.String()), datatypes.StreamEventDone)
	require.Len(t, done, 1)
	assert.Equal(t, "anxious", done[0].Emotion)

	messages, err := env.store.ListMessages(context.Background(), done[0].ConversationId)
	require.NoError(t, err)
	assert.Equal(t, "anxious", messages[1].Metadata["emotion"])
}

func TestHandleChatStream_SecondExchangeAppends(t *testing.T) {
	env := newChatTestEnv(t, &mockLLM{tokens: []string{"reply"}}, "user-1")

	first := env.post(t, datatypes.StreamChatRequest{Message: "first message here"})
	done := eventsOfType(parseSSEEvents(t, first.Body.String()), datatypes.StreamEventDone)
	require.Len(t, done, 1)
	convID := done[0].ConversationId

	second := env.post(t, datatypes.StreamChatRequest{
		Message:        "second message here",
		ConversationID: convID,
	})
	done2 := eventsOfType(parseSSEEvents(t, second.Body.String()), datatypes.StreamEventDone)
	require.Len(t, done2, 1)
	assert.Equal(t, convID, done2[0].ConversationId)

	messages, err := env.store.ListMessages(context.Background(), convID)
	require.NoError(t, err)
	assert.Len(t, messages, 4)
}

// =============================================================================
// Validation Tests
// =============================================================================

func TestHandleChatStream_InvalidBody(t *testing.T) {
	env := newChatTestEnv(t, &mockLLM{}, "user-1")

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/chat/stream", strings.NewReader("not json"))
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleChatStream_EmptyMessage(t *testing.T) {
	env := newChatTestEnv(t, &mockLLM{}, "user-1")

	w := env.post(t, datatypes.StreamChatRequest{Message: ""})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// =============================================================================
// Conflict and Ownership Tests
// =============================================================================

func TestHandleChatStream_ConcurrentExchangeConflict(t *testing.T) {
	env := newChatTestEnv(t, &mockLLM{tokens: []string{"ok"}}, "user-1")

	conv, err := env.store.CreateWithExchange(context.Background(), "user-1", "t",
		datatypes.ConversationMessage{Content: "m"},
		datatypes.ConversationMessage{Content: "r"})
	require.NoError(t, err)

	// Occupy the pending slot, then issue a second request.
	ex, err := env.broker.Begin(context.Background(), "user-1", conv.ID)
	require.NoError(t, err)
	defer env.broker.Abort(ex)

	w := env.post(t, datatypes.StreamChatRequest{
		Message:        "while busy",
		ConversationID: conv.ID,
	})

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHandleChatStream_ForeignConversationLooksAbsent(t *testing.T) {
	env := newChatTestEnv(t, &mockLLM{tokens: []string{"ok"}}, "intruder")

	conv, err := env.store.CreateWithExchange(context.Background(), "owner", "t",
		datatypes.ConversationMessage{Content: "m"},
		datatypes.ConversationMessage{Content: "r"})
	require.NoError(t, err)

	w := env.post(t, datatypes.StreamChatRequest{
		Message:        "not mine",
		ConversationID: conv.ID,
	})

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.NotContains(t, w.Body.String(), "owner")
}

// =============================================================================
// Failure Path Tests
// =============================================================================

func TestHandleChatStream_GenerationErrorIsTerminal(t *testing.T) {
	env := newChatTestEnv(t, &mockLLM{
		tokens: []string{"partial"},
		err:    errors.New("upstream exploded at https://internal.example"),
	}, "user-1")

	w := env.post(t, datatypes.StreamChatRequest{Message: "trigger a failure"})

	events := parseSSEEvents(t, w.Body.String())
	errs := eventsOfType(events, datatypes.StreamEventError)
	require.Len(t, errs, 1)
	assert.Empty(t, eventsOfType(events, datatypes.StreamEventDone))

	// The raw upstream error never reaches the client.
	assert.NotContains(t, errs[0].Error, "internal.example")

	// Nothing was persisted and the slot was released.
	convs, err := env.store.List(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Empty(t, convs)
	assert.Equal(t, 0, env.broker.InFlight())
}

func TestHandleChatStream_ClientDisconnectDiscardsExchange(t *testing.T) {
	env := newChatTestEnv(t, &mockLLM{
		tokens: []string{"a", "b", "c", "d", "e", "f", "g", "h"},
		delay:  20 * time.Millisecond,
	}, "user-1")

	payload, err := json.Marshal(datatypes.StreamChatRequest{
		Message: "tell me a long story please",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("POST", "/v1/chat/stream",
		bytes.NewReader(payload)).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")

	// Drop the client a few chunks into the stream.
	timer := time.AfterFunc(70*time.Millisecond, cancel)
	defer timer.Stop()

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	events := parseSSEEvents(t, w.Body.String())
	assert.NotEmpty(t, eventsOfType(events, datatypes.StreamEventChunk))
	assert.Empty(t, eventsOfType(events, datatypes.StreamEventDone))
	assert.Empty(t, eventsOfType(events, datatypes.StreamEventError))

	// The partial exchange leaves no trace and the slot is free again.
	convs, err := env.store.List(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Empty(t, convs)
	assert.Equal(t, 0, env.broker.InFlight())
	assert.Equal(t, 0, env.shortTerm.count())
}

func TestHandleChatStream_ExactlyOneTerminalEvent(t *testing.T) {
	for name, client := range map[string]*mockLLM{
		"success": {tokens: []string{"a", "b"}},
		"failure": {tokens: []string{"a"}, err: errors.New("boom")},
	} {
		t.Run(name, func(t *testing.T) {
			env := newChatTestEnv(t, client, "user-1")
			w := env.post(t, datatypes.StreamChatRequest{Message: "terminal count"})

			events := parseSSEEvents(t, w.Body.String())
			terminal := len(eventsOfType(events, datatypes.StreamEventDone)) +
				len(eventsOfType(events, datatypes.StreamEventError))
			assert.Equal(t, 1, terminal)
		})
	}
}

// =============================================================================
// Memory Promotion Tests
// =============================================================================

func TestHandleChatStream_PromotesToShortTerm(t *testing.T) {
	env := newChatTestEnv(t, &mockLLM{tokens: []string{"noted"}}, "user-1")

	env.post(t, datatypes.StreamChatRequest{Message: "please remember this message"})

	require.Eventually(t, func() bool {
		return env.shortTerm.count() >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandleChatStream_PromotesFirstPersonFacts(t *testing.T) {
	env := newChatTestEnv(t, &mockLLM{tokens: []string{"noted"}}, "user-1")

	env.post(t, datatypes.StreamChatRequest{
		Message: "I am allergic to peanuts and tree nuts. What snacks are safe?",
	})

	require.Eventually(t, func() bool {
		return env.longTerm.count() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	env.longTerm.mu.Lock()
	defer env.longTerm.mu.Unlock()
	assert.Contains(t, env.longTerm.facts[0].Content, "allergic to peanuts")
	assert.Equal(t, "conversation", env.longTerm.facts[0].Metadata["origin"])
}

func TestExtractPromotionCandidates(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    int
	}{
		{"first person statement", "I am training for a marathon in October.", 1},
		{"short statement skipped", "I like tea.", 0},
		{"question not about self", "What is the capital of France exactly?", 0},
		{"two facts", "I work as a night-shift nurse. I never sleep before noon anymore.", 2},
		{"empty", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, extractPromotionCandidates(tt.message), tt.want)
		})
	}
}
