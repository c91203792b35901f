// Copyright (C) 2025 Mindwell AI (oss@mindwell.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mindwell-ai/mindwell/services/orchestrator/datatypes"
)

// =============================================================================
// Interface Definition
// =============================================================================

// SSEWriter defines the contract for writing Server-Sent Events to HTTP responses.
//
// # Description
//
// SSEWriter abstracts SSE event serialization and writing, enabling
// testability and separation from HTTP response mechanics. Implementations
// handle the SSE wire format (event: type\ndata: json\n\n) internally.
//
// Each event is automatically assigned:
//   - Id: UUID v4 for ordering and deduplication
//   - CreatedAt: Unix timestamp in milliseconds
//   - Hash: SHA-256 hash of event content for integrity
//   - PrevHash: Hash of previous event for chain verification
//
// A stream must end with exactly one terminal event: WriteDone on
// success or WriteError on failure. Implementations track whether a
// terminal event has been written and reject further events after it.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use by multiple goroutines.
// Streaming handlers emit keepalives from a separate goroutine.
//
// # Assumptions
//
//   - Caller has set Content-Type: text/event-stream before writing
//   - Caller has disabled buffering (X-Accel-Buffering: no)
type SSEWriter interface {
	// WriteEvent writes a single SSE event to the response.
	//
	// Populates event metadata (Id, CreatedAt, Hash, PrevHash), serializes
	// to JSON, and writes in SSE format. Flushes immediately after writing.
	// Returns ErrStreamClosed if a terminal event was already written.
	WriteEvent(event datatypes.StreamEvent) error

	// WriteStatus writes a status event with the given progress message.
	WriteStatus(message string) error

	// WriteChunk writes a chunk event with a fragment of the response
	// text. Fragments are in display order; no buffering is performed.
	WriteChunk(content string) error

	// WriteSources writes a sources event describing what fed the
	// response: document excerpts and remembered facts with scores.
	WriteSources(sources []datatypes.SourceInfo) error

	// WriteError writes the terminal error event.
	//
	// errMsg must be sanitized for the client; internal details stay in
	// the server log. No events may follow.
	WriteError(errMsg string) error

	// WriteDone writes the terminal done event.
	//
	// conversationID is the durable id the client must use for
	// follow-up turns; emotion echoes the client's hint when present.
	// No events may follow.
	WriteDone(conversationID, emotion string) error

	// WriteKeepAlive sends a comment line to prevent connection timeouts.
	//
	// SSE comments (": ping\n\n") are ignored by clients but reset load
	// balancer idle counters (AWS ALB, Nginx default 60s). Comments are
	// not events and do not touch the hash chain; they may be sent even
	// after the terminal event.
	WriteKeepAlive() error
}

// ErrStreamClosed is returned when writing an event after the terminal
// done or error event.
var ErrStreamClosed = fmt.Errorf("stream already terminated")

// =============================================================================
// Struct Definition
// =============================================================================

// sseWriter implements SSEWriter for HTTP SSE responses.
//
// # Description
//
// sseWriter wraps an http.ResponseWriter to emit SSE-formatted events.
// Each event is written in the format:
//
//	event: {type}
//	data: {json}
//
// The writer maintains a hash chain for integrity verification:
//   - Each event's Hash is SHA-256 of its content (including sources)
//   - Each event's PrevHash links to the previous event
//
// # Thread Safety
//
// Thread-safe via mutex. Hash chain integrity and the single-terminal
// guarantee are maintained across concurrent writes.
//
// # Limitations
//
//   - Cannot be reused across requests
type sseWriter struct {
	writer     http.ResponseWriter
	flusher    http.Flusher
	prevHash   string
	terminated bool
	mu         sync.Mutex
}

// =============================================================================
// Constructor
// =============================================================================

// NewSSEWriter creates a new SSEWriter for the given ResponseWriter.
//
// # Description
//
// Creates an sseWriter that wraps the ResponseWriter. The caller must
// set appropriate SSE headers before creating the writer.
//
// # Inputs
//
//   - w: HTTP ResponseWriter. Must implement http.Flusher.
//
// # Outputs
//
//   - SSEWriter: Ready to write SSE events.
//   - error: Non-nil if ResponseWriter doesn't support flushing.
//
// # Examples
//
//	SetSSEHeaders(w)
//	writer, err := NewSSEWriter(w)
//	if err != nil {
//	    http.Error(w, "Streaming not supported", http.StatusInternalServerError)
//	    return
//	}
//	writer.WriteStatus("Thinking...")
//	writer.WriteChunk("Hello")
//	writer.WriteDone("conv-123", "")
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}

	return &sseWriter{
		writer:  w,
		flusher: flusher,
	}, nil
}

// =============================================================================
// Methods
// =============================================================================

// WriteEvent writes a single SSE event to the response.
func (w *sseWriter) WriteEvent(event datatypes.StreamEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.terminated {
		return ErrStreamClosed
	}

	// Populate metadata
	event.Id = uuid.New().String()
	event.CreatedAt = time.Now().UnixMilli()
	event.PrevHash = w.prevHash

	// Compute hash of event content (before setting Hash field)
	event.Hash = w.computeEventHash(event)

	// Update chain for next event
	w.prevHash = event.Hash

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// SSE format: event: type\ndata: json\n\n
	if _, err := fmt.Fprintf(w.writer, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	w.flusher.Flush()

	if event.Type == datatypes.StreamEventDone || event.Type == datatypes.StreamEventError {
		w.terminated = true
	}
	return nil
}

// computeEventHash computes SHA-256 hash of event content.
//
// Hashes all content fields for complete chain of custody: metadata
// (Id, Type, CreatedAt, PrevHash) plus content fields (Content,
// Message, Error, ConversationId, Emotion) plus serialized sources.
func (w *sseWriter) computeEventHash(event datatypes.StreamEvent) string {
	sourcesJSON := ""
	if len(event.Sources) > 0 {
		if data, err := json.Marshal(event.Sources); err == nil {
			sourcesJSON = string(data)
		}
	}

	hashInput := fmt.Sprintf("%s|%s|%d|%s|%s|%s|%s|%s|%s|%s",
		event.Id,
		event.Type,
		event.CreatedAt,
		event.PrevHash,
		event.Content,
		event.Message,
		event.Error,
		event.ConversationId,
		event.Emotion,
		sourcesJSON,
	)

	hash := sha256.Sum256([]byte(hashInput))
	return hex.EncodeToString(hash[:])
}

// WriteStatus writes a status event with the given message.
func (w *sseWriter) WriteStatus(message string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:    datatypes.StreamEventStatus,
		Message: message,
	})
}

// WriteChunk writes a chunk event with the given content.
func (w *sseWriter) WriteChunk(content string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:    datatypes.StreamEventChunk,
		Content: content,
	})
}

// WriteSources writes a sources event with retrieval provenance.
func (w *sseWriter) WriteSources(sources []datatypes.SourceInfo) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:    datatypes.StreamEventSources,
		Sources: sources,
	})
}

// WriteError writes the terminal error event.
func (w *sseWriter) WriteError(errMsg string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:  datatypes.StreamEventError,
		Error: errMsg,
	})
}

// WriteDone writes the terminal done event with the durable
// conversation id.
func (w *sseWriter) WriteDone(conversationID, emotion string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:           datatypes.StreamEventDone,
		ConversationId: conversationID,
		Emotion:        emotion,
	})
}

// WriteKeepAlive sends a comment line to keep the connection alive.
func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	// SSE comment format: colon followed by text, then double newline
	if _, err := fmt.Fprintf(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// SetSSEHeaders configures HTTP response headers for SSE streaming.
//
// # Description
//
// Sets the required headers for Server-Sent Events:
//   - Content-Type: text/event-stream
//   - Cache-Control: no-cache
//   - Connection: keep-alive
//   - X-Accel-Buffering: no (disables nginx buffering)
//
// Must be called before writing any response body.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ SSEWriter = (*sseWriter)(nil)
