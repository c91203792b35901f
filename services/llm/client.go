// Copyright (C) 2025 Mindwell AI (oss@mindwell.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm provides clients for text generation backends.
//
// Two backends are supported: any OpenAI-compatible chat completion API
// (openai_llm.go) and a local Ollama server (ollama_llm.go). Both expose
// the same LLMClient interface so the orchestrator never branches on the
// backend.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/mindwell-ai/mindwell/services/orchestrator/datatypes"
)

// GenerationParams carries optional sampling parameters. Nil pointer
// fields mean "use the backend default".
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// =============================================================================
// Streaming Types
// =============================================================================

// StreamEventType discriminates events delivered to a StreamCallback.
type StreamEventType string

const (
	// StreamEventToken carries one generated text fragment.
	StreamEventToken StreamEventType = "token"

	// StreamEventError carries a mid-stream upstream failure.
	StreamEventError StreamEventType = "error"
)

// StreamEvent is one unit of streamed generation output.
type StreamEvent struct {
	Type    StreamEventType
	Content string
	Error   error
}

// StreamCallback receives stream events in generation order.
//
// Returning a non-nil error aborts the upstream call; implementations
// use this to stop generation when the client disconnected.
type StreamCallback func(event StreamEvent) error

// =============================================================================
// Error Types
// =============================================================================

// GenerationError is returned when the upstream model call failed.
// StatusCode holds the upstream HTTP status when one was received,
// zero for transport-level failures.
type GenerationError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *GenerationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("generation failed (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("generation failed: %s", e.Message)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// IsGenerationError reports whether err wraps a GenerationError.
func IsGenerationError(err error) bool {
	var ge *GenerationError
	return errors.As(err, &ge)
}

// =============================================================================
// Client Interface
// =============================================================================

// LLMClient defines the standard interface for any LLM backend.
type LLMClient interface {
	// Generate produces a complete response for a single prompt.
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)

	// Chat produces a complete response for a message history.
	Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (string, error)

	// ChatStream streams the response token-by-token through callback.
	// Cancelling ctx aborts the upstream call; already-delivered tokens
	// are the caller's problem.
	ChatStream(ctx context.Context, messages []datatypes.Message,
		params GenerationParams, callback StreamCallback) error
}
