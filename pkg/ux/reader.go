// Copyright (C) 2025 Mindwell AI (oss@mindwell.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides user experience components for the Mindwell CLI.
//
// This file contains stream readers that consume io.Reader sources
// and emit parsed events via callbacks.
//
// Single Responsibility:
//
//	Readers handle I/O and event sequencing. They use the incremental
//	decoder to convert bytes to events, but do not render output.
//
// Context Support:
//
//	All readers accept context.Context for cancellation and timeout.
//	When context is cancelled, reading stops and the error is returned.
package ux

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
)

// ErrNoTerminalEvent is returned when a stream ends without a done or
// error event. The response cannot be trusted as complete.
var ErrNoTerminalEvent = errors.New("stream ended without a terminal event")

// =============================================================================
// Stream Reader Interface
// =============================================================================

// StreamReader reads streaming responses and invokes callbacks.
//
// Thread Safety:
//
//	A single Read/ReadAll operation must not be called concurrently
//	on the same reader instance.
//
// Example:
//
//	reader := NewSSEStreamReader()
//
//	err := reader.Read(ctx, httpResp.Body, func(event StreamEvent) error {
//	    switch event.Type {
//	    case StreamEventChunk:
//	        fmt.Print(event.Content)
//	    case StreamEventError:
//	        return errors.New(event.Error)
//	    }
//	    return nil
//	})
type StreamReader interface {
	// Read processes a stream, invoking callback for each event.
	//
	// The stream is considered complete when:
	//   - A terminal event (done/error) is received
	//   - EOF is reached (returns ErrNoTerminalEvent)
	//   - Context is cancelled
	//   - Callback returns an error
	Read(ctx context.Context, r io.Reader, callback StreamCallback) error

	// ReadAll reads the entire stream and returns an aggregated result.
	//
	// Collects chunk content into Answer, captures sources, the
	// conversation id and the hash chain tail. If the stream ends with
	// an error event, the error text is captured in StreamResult.Error
	// and this method returns nil.
	ReadAll(ctx context.Context, r io.Reader) (*StreamResult, error)
}

// =============================================================================
// SSE Stream Reader
// =============================================================================

// sseStreamReader implements StreamReader for Server-Sent Events.
//
// Bytes are pulled from the source in fixed-size reads and pushed
// through an SSEDecoder, so event boundaries never depend on how the
// transport fragments the stream.
type sseStreamReader struct {
	readSize int
}

// NewSSEStreamReader creates a new SSE stream reader.
func NewSSEStreamReader() StreamReader {
	return &sseStreamReader{readSize: 4096}
}

// Read processes an SSE stream, invoking callback for each event.
func (r *sseStreamReader) Read(ctx context.Context, reader io.Reader, callback StreamCallback) error {
	dec := NewSSEDecoder()
	buf := make([]byte, r.readSize)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, readErr := reader.Read(buf)
		if n > 0 {
			events, err := dec.Feed(buf[:n])
			if err != nil {
				return err
			}
			for _, event := range events {
				if err := callback(event); err != nil {
					return err
				}
				if event.IsTerminal() {
					return nil
				}
			}
		}

		if readErr == io.EOF {
			return ErrNoTerminalEvent
		}
		if readErr != nil {
			return readErr
		}
	}
}

// ReadAll reads the entire stream and returns an aggregated result.
func (r *sseStreamReader) ReadAll(ctx context.Context, reader io.Reader) (*StreamResult, error) {
	result := &StreamResult{
		Id:        uuid.New().String(),
		CreatedAt: time.Now().UnixMilli(),
	}

	var answer []byte

	err := r.Read(ctx, reader, func(event StreamEvent) error {
		result.TotalEvents++

		switch event.Type {
		case StreamEventChunk:
			if result.FirstChunkAt == 0 {
				result.FirstChunkAt = time.Now().UnixMilli()
			}
			answer = append(answer, event.Content...)
			result.TotalChunks++

		case StreamEventSources:
			result.Sources = append(result.Sources, event.Sources...)

		case StreamEventDone:
			result.ConversationID = event.ConversationID
			result.Emotion = event.Emotion
			result.CompletedAt = time.Now().UnixMilli()

		case StreamEventError:
			result.Error = event.Error
			result.CompletedAt = time.Now().UnixMilli()
		}

		if event.Hash != "" {
			result.ChainHash = event.Hash
		}
		return nil
	})

	result.Answer = string(answer)
	if result.Answer != "" {
		result.ContentHash = NewSHA256HashComputer().ComputeContentHash(result.Answer)
	}
	if result.CompletedAt == 0 {
		result.CompletedAt = time.Now().UnixMilli()
	}

	return result, err
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ StreamReader = (*sseStreamReader)(nil)
