// Copyright (C) 2025 Mindwell AI (oss@mindwell.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides data structures for the orchestrator service.
//
// This file contains request and response types for the streaming chat
// endpoint. For conversation persistence types, see conversation.go; for
// memory retrieval types, see memory.go.
package datatypes

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// =============================================================================
// Constants for Security Compliance
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a single message.
	// Byte length, not rune count, to bound memory on hostile input.
	MaxMessageContentBytes = 32 * 1024 // 32KB

	// MaxEmotionBytes bounds the opaque emotion label attached by
	// upstream affect detection. It is metadata, never prose.
	MaxEmotionBytes = 256
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// chatValidate is the validator instance for chat datatypes.
// Initialized in init() with custom validators.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
	_ = chatValidate.RegisterValidation("maxemotionbytes", validateMaxEmotionBytes)
}

// validateMaxBytes checks byte length (not rune count) against
// MaxMessageContentBytes to prevent memory exhaustion with large
// payloads.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageContentBytes
}

func validateMaxEmotionBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxEmotionBytes
}

// =============================================================================
// Streaming Chat Request Types
// =============================================================================

// StreamChatRequest is the body of POST /v1/chat/stream.
//
// # Description
//
// One user message plus optional routing hints. ConversationID may be a
// durable server-issued id, a client-generated provisional handle, or
// empty (the server then mints a provisional handle). DocumentID scopes
// document retrieval to a single ingested document.
//
// # Fields
//
//   - RequestID: Optional. Unique identifier for this request (UUID v4).
//     Generated server-side when absent. Used for tracing and audit logs.
//   - Timestamp: Optional. Unix milliseconds (UTC) when the client
//     created the request. Generated server-side when absent.
//   - Message: Required. The user's message, max 32KB.
//   - ConversationID: Optional. Durable or provisional conversation
//     handle.
//   - DocumentID: Optional. Restricts document retrieval to one document.
//   - Emotion: Optional. Opaque affect label from upstream detection,
//     passed through to prompt construction unchanged.
//
// # Limitations
//
//   - Message content limited to 32KB (larger payloads rejected)
//   - History is server-side; clients never send prior turns
type StreamChatRequest struct {
	RequestID      string `json:"request_id" validate:"omitempty,uuid4"`
	Timestamp      int64  `json:"timestamp" validate:"gte=0"`
	Message        string `json:"message" validate:"required,maxbytes"`
	ConversationID string `json:"conversation_id" validate:"omitempty,max=128"`
	DocumentID     string `json:"document_id" validate:"omitempty,max=128"`
	Emotion        string `json:"emotion" validate:"omitempty,maxemotionbytes"`
}

// Validate validates the StreamChatRequest fields after JSON binding.
func (r *StreamChatRequest) Validate() error {
	return chatValidate.Struct(r)
}

// EnsureDefaults populates RequestID and Timestamp when the client
// omitted them, so every request is traceable.
func (r *StreamChatRequest) EnsureDefaults() {
	if r.RequestID == "" {
		r.RequestID = uuid.NewString()
	}
	if r.Timestamp == 0 {
		r.Timestamp = time.Now().UnixMilli()
	}
}

// =============================================================================
// Chat Message Types
// =============================================================================

// Message is a single role-tagged turn handed to the LLM client.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SourceInfo describes one retrieved context item surfaced to the
// client in the sources event.
type SourceInfo struct {
	Source string  `json:"source"`
	Kind   string  `json:"kind"`
	Score  float64 `json:"score,omitempty"`
}
