// Copyright (C) 2025 Mindwell AI (oss@mindwell.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mindwell-ai/mindwell/pkg/logging"
	"github.com/mindwell-ai/mindwell/services/llm"
	"github.com/mindwell-ai/mindwell/services/orchestrator/assembler"
	"github.com/mindwell-ai/mindwell/services/orchestrator/config"
	"github.com/mindwell-ai/mindwell/services/orchestrator/datatypes"
	"github.com/mindwell-ai/mindwell/services/orchestrator/exchange"
	"github.com/mindwell-ai/mindwell/services/orchestrator/memory"
	"github.com/mindwell-ai/mindwell/services/orchestrator/middleware"
	"github.com/mindwell-ai/mindwell/services/orchestrator/observability"
	"github.com/mindwell-ai/mindwell/services/orchestrator/store"
)

var chatTracer = otel.Tracer("mindwell/handlers/chat")

// =============================================================================
// Constants
// =============================================================================

// heartbeatInterval is how often keep-alive comments are sent while
// the stream is open.
const heartbeatInterval = 15 * time.Second

// =============================================================================
// Handler
// =============================================================================

// StreamingChatHandler serves POST /v1/chat/stream.
//
// # Description
//
// One request is one exchange: the handler claims the conversation's
// pending slot, assembles memory context, streams the model response
// as SSE chunk events, persists both turns, and only then emits the
// done event. A second request for the same conversation while the
// first is streaming gets 409.
//
// # Event Order
//
//	status ("Gathering context")
//	sources
//	status ("Thinking")
//	chunk*            (zero or more)
//	done | error      (exactly one)
//
// Keep-alive comments may appear anywhere; they are not events.
//
// # Thread Safety
//
// Safe for concurrent use. Per-conversation serialization is the
// exchange broker's job, not the handler's.
type StreamingChatHandler struct {
	llmClient llm.LLMClient
	assembler *assembler.Assembler
	broker    *exchange.Broker
	promoter  *memoryPromoter
	persona   *config.PersonaProvider
	model     string
	timeout   time.Duration
	logger    *logging.Logger
	metrics   *observability.StreamingMetrics
}

// NewStreamingChatHandler builds the handler. longTerm may be nil in
// lightweight deployments; every other dependency is required.
func NewStreamingChatHandler(
	llmClient llm.LLMClient,
	ctxAssembler *assembler.Assembler,
	broker *exchange.Broker,
	shortTerm memory.ShortTermStore,
	longTerm memory.LongTermIndex,
	persona *config.PersonaProvider,
	model string,
	generationTimeout time.Duration,
	logger *logging.Logger,
) *StreamingChatHandler {

	if llmClient == nil {
		panic("NewStreamingChatHandler: llmClient is required")
	}
	if ctxAssembler == nil {
		panic("NewStreamingChatHandler: assembler is required")
	}
	if broker == nil {
		panic("NewStreamingChatHandler: broker is required")
	}
	if shortTerm == nil {
		panic("NewStreamingChatHandler: shortTerm store is required")
	}
	if persona == nil {
		panic("NewStreamingChatHandler: persona provider is required")
	}
	if logger == nil {
		panic("NewStreamingChatHandler: logger is required")
	}
	if generationTimeout <= 0 {
		generationTimeout = 120 * time.Second
	}

	metrics := observability.Default()
	return &StreamingChatHandler{
		llmClient: llmClient,
		assembler: ctxAssembler,
		broker:    broker,
		promoter:  &memoryPromoter{shortTerm: shortTerm, longTerm: longTerm, metrics: metrics},
		persona:   persona,
		model:     model,
		timeout:   generationTimeout,
		logger:    logger,
		metrics:   metrics,
	}
}

// HandleChatStream processes one streaming chat exchange.
func (h *StreamingChatHandler) HandleChatStream(c *gin.Context) {
	ctx, span := chatTracer.Start(c.Request.Context(), "HandleChatStream")
	defer span.End()

	endpoint := observability.EndpointChatStream
	userID := middleware.UserID(c)

	// Step 1: Parse and validate the request.
	var req datatypes.StreamChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.metrics.RecordError(endpoint, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	req.EnsureDefaults()
	if err := req.Validate(); err != nil {
		h.metrics.RecordError(endpoint, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	log := h.logger.With(
		"request_id", req.RequestID,
		"user_id", userID,
	)
	span.SetAttributes(
		attribute.String("request.id", req.RequestID),
		attribute.Bool("request.new_conversation", req.ConversationID == ""),
	)

	// Step 2: Claim the conversation's pending slot. This must happen
	// before any SSE output so conflicts can still be plain HTTP.
	ex, err := h.broker.Begin(ctx, userID, req.ConversationID)
	if err != nil {
		h.writeBeginError(c, log, endpoint, err)
		return
	}
	completed := false
	defer func() {
		if !completed {
			h.broker.Abort(ex)
		}
	}()

	// Step 3: Switch the connection to SSE.
	SetSSEHeaders(c.Writer)
	writer, err := NewSSEWriter(c.Writer)
	if err != nil {
		log.Error("streaming unsupported by connection", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	h.metrics.StreamStarted(endpoint)
	defer h.metrics.StreamEnded(endpoint)

	streamStart := time.Now()
	success := false
	defer func() {
		h.metrics.RecordRequest(endpoint, success)
		h.metrics.RecordStreamDuration(endpoint, time.Since(streamStart).Seconds(), success)
	}()

	// Step 4: Keep the connection warm while we work.
	heartbeatDone := make(chan struct{})
	defer close(heartbeatDone)
	go h.runHeartbeat(ctx, writer, endpoint, heartbeatDone)

	if err := writer.WriteStatus("Gathering context"); err != nil {
		log.Debug("client gone before first event", "error", err)
		return
	}

	// Step 5: Assemble memory context. Source failures are soft inside
	// the assembler; here they only become metrics and log lines.
	bundle := h.assembler.Assemble(ctx, assembler.Request{
		UserID:     userID,
		Query:      req.Message,
		DocumentID: req.DocumentID,
	})
	h.metrics.RecordOmissions(bundle.Omitted)
	for _, source := range bundle.Omitted {
		h.metrics.RecordError(endpoint, observability.ErrorCodeSourceUnavailable)
		log.Warn("context source omitted", "source", source)
	}
	if err := writer.WriteSources(bundle.Sources()); err != nil {
		log.Debug("client gone during sources event", "error", err)
		return
	}

	// Step 6: Build the prompt and stream the model response into a
	// locked buffer.
	messages := h.buildMessages(bundle, req.Message, req.Emotion)

	if err := writer.WriteStatus("Thinking"); err != nil {
		log.Debug("client gone before generation", "error", err)
		return
	}

	acc, err := NewSecureResponseAccumulator()
	if err != nil {
		log.Error("secure accumulator unavailable", "error", err)
		h.metrics.RecordError(endpoint, observability.ErrorCodeInternal)
		_ = writer.WriteError(sanitizeErrorForClient(err.Error()))
		return
	}
	defer acc.Destroy()

	genCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var tokenCount int32
	var firstTokenTime time.Time

	err = h.streamFromLLM(genCtx, writer, acc, messages, &tokenCount, &firstTokenTime)
	if err != nil {
		h.handleGenerationError(log, writer, endpoint, err)
		return
	}
	if atomic.LoadInt32(&tokenCount) > 0 {
		h.metrics.RecordTimeToFirstToken(endpoint, firstTokenTime.Sub(streamStart).Seconds())
	}

	answer, responseHash, err := acc.Finalize()
	if err != nil {
		log.Error("finalizing response failed", "error", err)
		h.metrics.RecordError(endpoint, observability.ErrorCodeInternal)
		_ = writer.WriteError(sanitizeErrorForClient(err.Error()))
		return
	}

	// Step 7: Persist both turns. The done event must not be sent
	// until this succeeds; on failure the exchange is aborted and the
	// partial response is discarded with it.
	now := time.Now().UTC()
	metadata := bundle.AuditMetadata()
	metadata["model"] = h.model
	metadata["response_hash"] = responseHash
	if req.Emotion != "" {
		metadata["emotion"] = req.Emotion
	}

	userMsg := datatypes.ConversationMessage{
		ID:        uuid.NewString(),
		Role:      "user",
		Content:   req.Message,
		CreatedAt: now,
	}
	assistantMsg := datatypes.ConversationMessage{
		ID:        uuid.NewString(),
		Role:      "assistant",
		Content:   answer,
		Metadata:  metadata,
		CreatedAt: now,
	}

	conv, err := h.broker.Complete(ctx, ex, userMsg, assistantMsg)
	if err != nil {
		log.Error("persisting exchange failed", "error", err)
		h.metrics.RecordError(endpoint, observability.ErrorCodePersistence)
		_ = writer.WriteError("Failed to save this exchange. Please retry.")
		return
	}
	completed = true

	// Step 8: Terminal event, then detached memory writes.
	if err := writer.WriteDone(conv.ID, req.Emotion); err != nil {
		log.Debug("client gone before done event", "error", err)
	}
	success = true
	h.metrics.RecordTokens(int(atomic.LoadInt32(&tokenCount)), h.model)

	span.SetAttributes(
		attribute.String("conversation.id", conv.ID),
		attribute.Int("response.tokens", int(atomic.LoadInt32(&tokenCount))),
	)
	log.Info("exchange completed",
		"conversation_id", conv.ID,
		"tokens", atomic.LoadInt32(&tokenCount),
		"duration_ms", time.Since(streamStart).Milliseconds(),
	)

	go h.promoter.Promote(userID, req.Message, answer, log)
}

// =============================================================================
// Pipeline Steps
// =============================================================================

// writeBeginError maps broker.Begin failures to HTTP responses. The
// stream has not started yet, so these are plain JSON errors.
//
// Ownership failures return 404 so the response does not reveal that
// the conversation exists.
func (h *StreamingChatHandler) writeBeginError(c *gin.Context, log *logging.Logger,
	endpoint observability.Endpoint, err error) {

	switch {
	case errors.Is(err, exchange.ErrConflict):
		h.metrics.RecordConflict()
		h.metrics.RecordError(endpoint, observability.ErrorCodeConflict)
		c.JSON(http.StatusConflict, gin.H{
			"error": "an exchange is already in progress for this conversation",
		})
	case errors.Is(err, exchange.ErrOwnership), errors.Is(err, store.ErrNotFound):
		h.metrics.RecordError(endpoint, observability.ErrorCodeOwnership)
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
	default:
		log.Error("claiming exchange failed", "error", err)
		h.metrics.RecordError(endpoint, observability.ErrorCodeInternal)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// runHeartbeat sends keep-alive comments until the stream finishes or
// the client disconnects.
func (h *StreamingChatHandler) runHeartbeat(ctx context.Context, writer SSEWriter,
	endpoint observability.Endpoint, done <-chan struct{}) {

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writer.WriteKeepAlive(); err != nil {
				return
			}
			h.metrics.RecordKeepAlive(endpoint)
		}
	}
}

// buildMessages assembles the prompt: persona, memory context, an
// optional emotion hint, then the user turn.
func (h *StreamingChatHandler) buildMessages(bundle *assembler.Bundle,
	userMessage, emotion string) []datatypes.Message {

	persona := h.persona.Current()

	var system strings.Builder
	system.WriteString(persona.SystemPrompt)
	for _, directive := range persona.Style {
		system.WriteString("\n")
		system.WriteString(directive)
	}
	if rendered := bundle.Render(); rendered != "" {
		system.WriteString("\n\n")
		system.WriteString(rendered)
	}
	if emotion != "" {
		fmt.Fprintf(&system, "\n\nThe user's current emotional state: %s. Respond with appropriate sensitivity.", emotion)
	}

	return []datatypes.Message{
		{Role: "system", Content: system.String()},
		{Role: "user", Content: userMessage},
	}
}

// streamFromLLM drives the upstream streaming call, forwarding tokens
// as chunk events and accumulating them for persistence.
func (h *StreamingChatHandler) streamFromLLM(ctx context.Context, writer SSEWriter,
	acc ResponseAccumulator, messages []datatypes.Message,
	tokenCount *int32, firstTokenTime *time.Time) error {

	ctx, span := chatTracer.Start(ctx, "streamFromLLM",
		trace.WithAttributes(attribute.String("llm.model", h.model)))
	defer span.End()

	callback := func(event llm.StreamEvent) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		switch event.Type {
		case llm.StreamEventToken:
			if event.Content == "" {
				return nil
			}
			if atomic.AddInt32(tokenCount, 1) == 1 {
				*firstTokenTime = time.Now()
			}
			if err := acc.Write(event.Content); err != nil {
				// The stream keeps flowing; Finalize will surface the
				// loss before anything is persisted.
				h.logger.Warn("accumulator write failed", "error", err)
			}
			return writer.WriteChunk(event.Content)
		case llm.StreamEventError:
			return event.Error
		default:
			return nil
		}
	}

	return h.llmClient.ChatStream(ctx, messages, llm.GenerationParams{}, callback)
}

// handleGenerationError categorizes a failed generation and emits the
// terminal error event. Client disconnects get no event; there is
// nobody left to read it.
func (h *StreamingChatHandler) handleGenerationError(log *logging.Logger,
	writer SSEWriter, endpoint observability.Endpoint, err error) {

	if errors.Is(err, context.Canceled) {
		log.Info("client disconnected mid-generation")
		h.metrics.RecordClientDisconnect(endpoint)
		h.metrics.RecordError(endpoint, observability.ErrorCodeClientDisconnect)
		return
	}

	code := observability.ErrorCodeGeneration
	if errors.Is(err, context.DeadlineExceeded) {
		code = observability.ErrorCodeTimeout
	}
	log.Error("generation failed", "error", err)
	h.metrics.RecordError(endpoint, code)
	_ = writer.WriteError(sanitizeErrorForClient(err.Error()))
}

// =============================================================================
// Helper Functions
// =============================================================================

// sanitizeErrorForClient returns a generic message for the error
// event while the full error goes to the log. Upstream errors can
// carry URLs, keys and internal hostnames.
func sanitizeErrorForClient(errMsg string) string {
	_ = errMsg
	return "An error occurred while processing your request"
}
