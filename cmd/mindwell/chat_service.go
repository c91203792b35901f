// Copyright (C) 2025 Mindwell AI (oss@mindwell.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package main contains the Mindwell CLI streaming chat service.
//
// This file defines the StreamingChatService interface and its
// implementation for communicating with POST /v1/chat/stream. It
// follows the layered streaming architecture:
//
//	HTTP Response Body → SSEDecoder → StreamReader → StreamRenderer → StreamResult
//
// The processor additionally verifies the server's event hash chain
// so tampered or truncated transcripts are surfaced to the user.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/mindwell-ai/mindwell/pkg/ux"
	"github.com/mindwell-ai/mindwell/services/orchestrator/datatypes"
	"github.com/google/uuid"
)

// =============================================================================
// Interfaces
// =============================================================================

// StreamingChatService defines the contract for streaming chat operations.
//
// # Description
//
// The response is delivered chunk-by-chunk in real time rather than as
// a single complete payload. Implementations handle SSE parsing,
// rendering, hash chain verification, and conversation id tracking
// internally.
//
// # Examples
//
//	service := NewStreamingChatService(StreamingChatServiceConfig{
//	    BaseURL: "http://localhost:8080",
//	})
//	defer service.Close()
//
//	result, err := service.SendMessage(ctx, "I had a rough day")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(result.ConversationID)
//
// # Limitations
//
//   - Context cancellation discards the partial response; the server
//     does not persist a cancelled turn
//   - The server allows one pending response per conversation; a
//     second concurrent SendMessage for the same conversation fails
//
// # Assumptions
//
//   - Server returns valid SSE with exactly one terminal event
//   - Caller handles context lifecycle (cancellation, timeout)
type StreamingChatService interface {
	// SendMessage sends a user message and streams the assistant's
	// response. The result carries the durable conversation id from
	// the done event; the service remembers it for subsequent turns.
	SendMessage(ctx context.Context, message string) (*ux.StreamResult, error)

	// GetConversationID returns the current conversation identifier,
	// or empty before the first completed turn of a new conversation.
	GetConversationID() string

	// LoadConversationTurns fetches the persisted history of the
	// current conversation and returns the number of stored messages.
	// Used when resuming to show how much context already exists.
	LoadConversationTurns(ctx context.Context) (int, error)

	// Close releases any resources held by the service.
	Close() error
}

// =============================================================================
// Configuration
// =============================================================================

// StreamingChatServiceConfig holds configuration for the chat service.
//
// Only BaseURL is required; all other fields have sensible defaults.
type StreamingChatServiceConfig struct {
	BaseURL        string              // Base URL of the Mindwell server (required)
	Token          string              // Bearer token (optional)
	ConversationID string              // Conversation to resume (optional)
	Emotion        string              // Emotion hint sent with each message (optional)
	DocumentID     string              // Document to focus retrieval on (optional)
	Writer         io.Writer           // Output destination (optional, default os.Stdout)
	Personality    ux.PersonalityLevel // Output styling (optional)
	Timeout        time.Duration       // HTTP timeout (optional, default 5 minutes)
}

// =============================================================================
// Implementation
// =============================================================================

// streamingChatService implements StreamingChatService against the
// /v1/chat/stream endpoint.
//
// # Thread Safety
//
// All public methods are protected by mutex. Safe for concurrent use,
// though the server rejects overlapping streams for one conversation.
type streamingChatService struct {
	client         HTTPClient
	api            *apiClient
	baseURL        string
	token          string
	conversationID string
	emotion        string
	documentID     string
	writer         io.Writer
	personality    ux.PersonalityLevel
	mu             sync.Mutex
}

// NewStreamingChatService creates a chat service with production
// dependencies.
//
// The HTTP timeout bounds the whole stream, not just the connection,
// so it defaults generously to five minutes.
func NewStreamingChatService(config StreamingChatServiceConfig) StreamingChatService {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	return newStreamingChatService(&http.Client{Timeout: timeout}, config)
}

// NewStreamingChatServiceWithClient creates a chat service with an
// injected HTTP client. Use this constructor for testing.
func NewStreamingChatServiceWithClient(client HTTPClient, config StreamingChatServiceConfig) StreamingChatService {
	return newStreamingChatService(client, config)
}

func newStreamingChatService(client HTTPClient, config StreamingChatServiceConfig) *streamingChatService {
	writer := config.Writer
	if writer == nil {
		writer = os.Stdout
	}

	personality := config.Personality
	if personality == "" {
		personality = ux.GetPersonality().Level
	}

	return &streamingChatService{
		client:         client,
		api:            newAPIClientWithHTTP(config.BaseURL, config.Token, client),
		baseURL:        config.BaseURL,
		token:          config.Token,
		conversationID: config.ConversationID,
		emotion:        config.Emotion,
		documentID:     config.DocumentID,
		writer:         writer,
		personality:    personality,
	}
}

// SendMessage sends a message and streams the response.
//
// # Description
//
// Posts a chat request, reads the SSE stream until its terminal event,
// renders chunks as they arrive, verifies the event hash chain, and
// returns the aggregated result. The conversation id from the done
// event is stored for the next turn.
//
// # Outputs
//
//   - *ux.StreamResult: Aggregated result with answer, sources,
//     conversation id, emotion echo, and integrity hashes.
//   - error: Non-nil on marshal, network, server, or stream errors.
//     A server error event is returned as an error carrying its text.
func (s *streamingChatService) SendMessage(ctx context.Context, message string) (*ux.StreamResult, error) {
	requestID := uuid.NewString()
	currentConversationID := s.GetConversationID()

	slog.Debug("sending streaming chat message",
		"request_id", requestID,
		"conversation_id", currentConversationID,
		"message_length", len(message),
	)

	reqBody := datatypes.StreamChatRequest{
		RequestID:      requestID,
		Timestamp:      time.Now().UnixMilli(),
		Message:        message,
		ConversationID: currentConversationID,
		DocumentID:     s.documentID,
		Emotion:        s.emotion,
	}

	resp, err := s.postStream(ctx, requestID, reqBody)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Error("failed to close response body", "error", err)
		}
	}()

	if err := s.validateResponse(requestID, resp); err != nil {
		return nil, err
	}

	result, err := s.processStream(ctx, requestID, resp.Body)
	if err != nil {
		return nil, err
	}

	s.updateConversationID(requestID, result.ConversationID)

	return result, nil
}

// postStream sends the HTTP POST request for streaming.
func (s *streamingChatService) postStream(ctx context.Context, requestID string, reqBody datatypes.StreamChatRequest) (*http.Response, error) {
	targetURL := fmt.Sprintf("%s/v1/chat/stream", s.baseURL)

	postBody, err := json.Marshal(reqBody)
	if err != nil {
		slog.Error("failed to marshal streaming chat request",
			"request_id", requestID,
			"error", err,
		)
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(postBody))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		slog.Error("streaming chat HTTP request failed",
			"request_id", requestID,
			"url", targetURL,
			"error", err,
		)
		return nil, fmt.Errorf("http post: %w", err)
	}

	return resp, nil
}

// validateResponse checks the HTTP response status before streaming.
//
// A 409 means another response is still being generated for this
// conversation; it gets a dedicated message since the fix is simply
// to wait.
func (s *streamingChatService) validateResponse(requestID string, resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	if resp.StatusCode == http.StatusConflict {
		slog.Warn("conversation already has a pending response",
			"request_id", requestID,
		)
		return fmt.Errorf("a response is already being generated for this conversation, wait a moment and try again")
	}

	err := decodeServerError(resp)
	slog.Error("streaming chat server returned error",
		"request_id", requestID,
		"status_code", resp.StatusCode,
		"error", err,
	)
	return err
}

// processStream reads and renders the SSE stream.
//
// The renderer and processor are created per call: a renderer is
// finalized after one stream and cannot be reused.
func (s *streamingChatService) processStream(ctx context.Context, requestID string, body io.Reader) (*ux.StreamResult, error) {
	renderer := ux.NewTerminalStreamRenderer(s.writer, s.personality)
	processor := ux.NewStreamProcessor(renderer)

	result, err := processor.Process(ctx, body)
	if err != nil {
		slog.Error("stream reading failed",
			"request_id", requestID,
			"error", err,
		)
		return nil, fmt.Errorf("read stream: %w", err)
	}

	if v := processor.Verification(); v != nil && !v.Valid {
		slog.Warn("response integrity check failed",
			"request_id", requestID,
			"invalid_event_index", v.InvalidEventIndex,
			"detail", v.ErrorMessage,
		)
		ux.Warning("response integrity check failed: " + v.ErrorMessage)
	}

	slog.Debug("streaming chat completed",
		"request_id", requestID,
		"conversation_id", result.ConversationID,
		"total_chunks", result.TotalChunks,
		"duration_ms", result.Duration().Milliseconds(),
		"sources_count", len(result.Sources),
	)

	return result, nil
}

// updateConversationID stores the durable conversation id if changed.
//
// Empty ids are ignored; the first done event of a new conversation
// carries the id assigned by the server.
func (s *streamingChatService) updateConversationID(requestID, newID string) {
	if newID == "" {
		return
	}

	s.mu.Lock()
	oldID := s.conversationID
	s.conversationID = newID
	s.mu.Unlock()

	if oldID != newID {
		slog.Info("conversation id assigned from stream",
			"request_id", requestID,
			"old_conversation_id", oldID,
			"new_conversation_id", newID,
		)
	}
}

// GetConversationID returns the current conversation id.
func (s *streamingChatService) GetConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// LoadConversationTurns fetches persisted history for the current
// conversation and returns the stored message count.
func (s *streamingChatService) LoadConversationTurns(ctx context.Context) (int, error) {
	conversationID := s.GetConversationID()
	if conversationID == "" {
		return 0, fmt.Errorf("no conversation to load")
	}

	var payload struct {
		Conversation datatypes.Conversation          `json:"conversation"`
		Messages     []datatypes.ConversationMessage `json:"messages"`
	}
	path := fmt.Sprintf("/v1/conversations/%s/messages", url.PathEscape(conversationID))
	if err := s.api.get(ctx, path, &payload); err != nil {
		slog.Error("failed to load conversation history",
			"conversation_id", conversationID,
			"error", err,
		)
		return 0, err
	}

	slog.Debug("conversation history loaded",
		"conversation_id", conversationID,
		"messages", len(payload.Messages),
	)

	return len(payload.Messages), nil
}

// Close releases resources held by the service.
//
// No-op for the HTTP implementation. Provided for interface
// compliance and future extensibility.
func (s *streamingChatService) Close() error {
	return nil
}

// Compile-time interface check.
var _ StreamingChatService = (*streamingChatService)(nil)
