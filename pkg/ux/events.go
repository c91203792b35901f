// Copyright (C) 2025 Mindwell AI (oss@mindwell.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides user experience components for the Mindwell CLI.
//
// This file defines the client-side mirror of the streaming wire format.
// A chat stream is a sequence of events: zero or more status, sources and
// chunk events followed by exactly one terminal event (done or error).
package ux

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Stream Event Types
// =============================================================================

// StreamEventType identifies the kind of streaming event.
type StreamEventType string

const (
	// StreamEventStatus carries human-readable progress text.
	StreamEventStatus StreamEventType = "status"

	// StreamEventSources carries retrieval provenance for the response.
	StreamEventSources StreamEventType = "sources"

	// StreamEventChunk carries a fragment of the response text.
	StreamEventChunk StreamEventType = "chunk"

	// StreamEventDone terminates a successful stream and carries the
	// durable conversation id.
	StreamEventDone StreamEventType = "done"

	// StreamEventError terminates a failed stream.
	StreamEventError StreamEventType = "error"
)

// IsTerminal reports whether this event type ends a stream.
func (t StreamEventType) IsTerminal() bool {
	return t == StreamEventDone || t == StreamEventError
}

// =============================================================================
// Stream Event
// =============================================================================

// StreamEvent is one event on the chat stream.
//
// # Description
//
// Events carry a hash chain for integrity verification: Hash is the
// SHA-256 of the event's content fields and PrevHash links to the
// previous event on the same stream. The first event of a stream has
// an empty PrevHash.
//
// # Fields
//
//   - Id: UUID v4 assigned by the server's writer.
//   - Type: One of the StreamEvent* constants.
//   - CreatedAt: Unix timestamp in milliseconds.
//   - Content: Response text fragment (chunk events).
//   - Message: Human-readable progress text (status events).
//   - Sources: Retrieval provenance (sources events).
//   - ConversationID: Durable conversation id (done events).
//   - Emotion: Echo of the client's emotion hint (done events).
//   - Error: Sanitized failure description (error events).
//   - Index: Zero-based position in the stream, assigned client-side.
type StreamEvent struct {
	Id             string          `json:"id,omitempty"`
	Type           StreamEventType `json:"type"`
	CreatedAt      int64           `json:"created_at,omitempty"`
	Content        string          `json:"content,omitempty"`
	Message        string          `json:"message,omitempty"`
	Sources        []SourceInfo    `json:"sources,omitempty"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Emotion        string          `json:"emotion,omitempty"`
	Error          string          `json:"error,omitempty"`
	Hash           string          `json:"hash,omitempty"`
	PrevHash       string          `json:"prev_hash,omitempty"`
	Index          int             `json:"-"`
}

// IsTerminal reports whether this event ends the stream.
func (e StreamEvent) IsTerminal() bool {
	return e.Type.IsTerminal()
}

// SourceInfo describes one retrieved context item surfaced in the
// sources event. Kind distinguishes short-term context, long-term
// memory and document retrieval.
type SourceInfo struct {
	Source string  `json:"source"`
	Kind   string  `json:"kind"`
	Score  float64 `json:"score,omitempty"`
}

// =============================================================================
// Event Constructors
// =============================================================================

func newEvent(t StreamEventType) StreamEvent {
	return StreamEvent{
		Id:        uuid.New().String(),
		Type:      t,
		CreatedAt: time.Now().UnixMilli(),
	}
}

// NewStatusEvent creates a status event with the given message.
func NewStatusEvent(message string) StreamEvent {
	e := newEvent(StreamEventStatus)
	e.Message = message
	return e
}

// NewChunkEvent creates a chunk event with the given content.
func NewChunkEvent(content string) StreamEvent {
	e := newEvent(StreamEventChunk)
	e.Content = content
	return e
}

// NewSourcesEvent creates a sources event.
func NewSourcesEvent(sources []SourceInfo) StreamEvent {
	e := newEvent(StreamEventSources)
	e.Sources = sources
	return e
}

// NewDoneEvent creates a done event carrying the durable conversation id.
func NewDoneEvent(conversationID, emotion string) StreamEvent {
	e := newEvent(StreamEventDone)
	e.ConversationID = conversationID
	e.Emotion = emotion
	return e
}

// NewErrorEvent creates an error event.
func NewErrorEvent(message string) StreamEvent {
	e := newEvent(StreamEventError)
	e.Error = message
	return e
}

// =============================================================================
// Stream Result
// =============================================================================

// StreamCallback is invoked for each parsed event. Returning a non-nil
// error stops reading.
type StreamCallback func(event StreamEvent) error

// StreamResult aggregates a complete stream into a single value.
//
// # Fields
//
//   - Id: UUID v4 for this result record.
//   - CreatedAt: Unix ms when reading started.
//   - Answer: Concatenation of all chunk content.
//   - Sources: All sources received.
//   - ConversationID: Durable id from the done event.
//   - Emotion: Emotion echo from the done event.
//   - Error: Error text if the stream ended with an error event.
//   - ChainHash: Hash of the last event in the chain.
//   - ContentHash: SHA-256 of the accumulated answer.
//   - TotalEvents, TotalChunks: Event counters.
//   - FirstChunkAt, CompletedAt: Unix ms timing markers.
type StreamResult struct {
	Id             string       `json:"id"`
	CreatedAt      int64        `json:"created_at"`
	Answer         string       `json:"answer"`
	Sources        []SourceInfo `json:"sources,omitempty"`
	ConversationID string       `json:"conversation_id,omitempty"`
	Emotion        string       `json:"emotion,omitempty"`
	Error          string       `json:"error,omitempty"`
	ChainHash      string       `json:"chain_hash,omitempty"`
	ContentHash    string       `json:"content_hash,omitempty"`
	TotalEvents    int          `json:"total_events"`
	TotalChunks    int          `json:"total_chunks"`
	FirstChunkAt   int64        `json:"first_chunk_at,omitempty"`
	CompletedAt    int64        `json:"completed_at,omitempty"`
}

// Duration returns the elapsed time from start to completion. Returns
// zero if the result has no completion timestamp yet.
func (r *StreamResult) Duration() time.Duration {
	if r.CompletedAt == 0 || r.CreatedAt == 0 {
		return 0
	}
	return time.Duration(r.CompletedAt-r.CreatedAt) * time.Millisecond
}

// TimeToFirstChunk returns the latency until the first chunk arrived.
// Returns zero if no chunk was received.
func (r *StreamResult) TimeToFirstChunk() time.Duration {
	if r.FirstChunkAt == 0 || r.CreatedAt == 0 {
		return 0
	}
	return time.Duration(r.FirstChunkAt-r.CreatedAt) * time.Millisecond
}

// Failed reports whether the stream ended with an error event.
func (r *StreamResult) Failed() bool {
	return r.Error != ""
}
