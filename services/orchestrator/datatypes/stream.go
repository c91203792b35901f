// Copyright (C) 2025 Mindwell AI (oss@mindwell.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// =============================================================================
// Streaming Event Types
// =============================================================================

// Stream event type values. A stream emits zero or more status, sources
// and chunk events followed by exactly one terminal event (done or error).
const (
	StreamEventStatus  = "status"
	StreamEventSources = "sources"
	StreamEventChunk   = "chunk"
	StreamEventDone    = "done"
	StreamEventError   = "error"
)

// StreamEvent is one Server-Sent Event on the chat stream.
//
// # Description
//
// Events carry a hash chain for integrity verification: Hash is the
// SHA-256 of the event's content fields and PrevHash links to the
// previous event on the same stream. Exactly one of done or error
// terminates a stream; the done event carries the durable conversation
// id the client must use for follow-up turns.
//
// # Fields
//
//   - Id: UUID v4 assigned by the writer.
//   - Type: One of the StreamEvent* constants.
//   - CreatedAt: Unix timestamp in milliseconds.
//   - Content: Response text fragment (chunk events).
//   - Message: Human-readable progress text (status events).
//   - Sources: Retrieval provenance (sources events).
//   - ConversationId: Durable conversation id (done events).
//   - Emotion: Echo of the client's emotion hint (done events).
//   - Error: Sanitized failure description (error events).
type StreamEvent struct {
	Id             string       `json:"id,omitempty"`
	Type           string       `json:"type"`
	CreatedAt      int64        `json:"created_at,omitempty"`
	Content        string       `json:"content,omitempty"`
	Message        string       `json:"message,omitempty"`
	Sources        []SourceInfo `json:"sources,omitempty"`
	ConversationId string       `json:"conversation_id,omitempty"`
	Emotion        string       `json:"emotion,omitempty"`
	Error          string       `json:"error,omitempty"`
	Hash           string       `json:"hash,omitempty"`
	PrevHash       string       `json:"prev_hash,omitempty"`
}
