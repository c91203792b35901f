// Copyright (C) 2025 Mindwell AI (oss@mindwell.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

// =============================================================================
// Test Helpers
// =============================================================================

// trickleReader yields at most n bytes per Read call, simulating a
// transport that fragments the stream at arbitrary boundaries.
type trickleReader struct {
	data []byte
	pos  int
	n    int
}

func (r *trickleReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	end := r.pos + r.n
	if end > len(r.data) {
		end = len(r.data)
	}
	n := copy(p, r.data[r.pos:end])
	r.pos += n
	return n, nil
}

// idleReader returns no data and no error, forever.
type idleReader struct{}

func (idleReader) Read(p []byte) (int, error) { return 0, nil }

func successStream() string {
	return "event: status\n" +
		"data: {\"type\":\"status\",\"message\":\"Gathering context\"}\n" +
		"\n" +
		"event: sources\n" +
		"data: {\"type\":\"sources\",\"sources\":[{\"source\":\"notes.md\",\"kind\":\"document\",\"score\":0.8}]}\n" +
		"\n" +
		"event: chunk\n" +
		"data: {\"type\":\"chunk\",\"content\":\"Hello, \"}\n" +
		"\n" +
		"event: chunk\n" +
		"data: {\"type\":\"chunk\",\"content\":\"world.\"}\n" +
		"\n" +
		"event: done\n" +
		"data: {\"type\":\"done\",\"conversation_id\":\"conv-42\",\"emotion\":\"calm\",\"hash\":\"ff\"}\n" +
		"\n"
}

// =============================================================================
// Read Tests
// =============================================================================

func TestSSEStreamReader_Read_StopsAtTerminal(t *testing.T) {
	reader := NewSSEStreamReader()

	// Trailing garbage after done must never be parsed.
	stream := successStream() + "data: {broken\n"

	var types []StreamEventType
	err := reader.Read(context.Background(), strings.NewReader(stream), func(event StreamEvent) error {
		types = append(types, event.Type)
		return nil
	})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if len(types) != 5 {
		t.Fatalf("expected 5 events, got %d: %v", len(types), types)
	}
	if types[len(types)-1] != StreamEventDone {
		t.Errorf("expected stream to end on done, got %q", types[len(types)-1])
	}
}

func TestSSEStreamReader_Read_NoTerminalEvent(t *testing.T) {
	reader := NewSSEStreamReader()

	stream := "data: {\"type\":\"chunk\",\"content\":\"partial\"}\n\n"

	err := reader.Read(context.Background(), strings.NewReader(stream), func(StreamEvent) error {
		return nil
	})
	if !errors.Is(err, ErrNoTerminalEvent) {
		t.Errorf("expected ErrNoTerminalEvent, got %v", err)
	}
}

func TestSSEStreamReader_Read_ContextCancelled(t *testing.T) {
	reader := NewSSEStreamReader()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := reader.Read(ctx, idleReader{}, func(StreamEvent) error {
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestSSEStreamReader_Read_CallbackError(t *testing.T) {
	reader := NewSSEStreamReader()

	wantErr := errors.New("stop here")
	err := reader.Read(context.Background(), strings.NewReader(successStream()), func(event StreamEvent) error {
		if event.Type == StreamEventChunk {
			return wantErr
		}
		return nil
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected callback error, got %v", err)
	}
}

func TestSSEStreamReader_Read_FragmentedTransport(t *testing.T) {
	reader := NewSSEStreamReader()

	source := &trickleReader{data: []byte(successStream()), n: 3}

	var chunks int
	err := reader.Read(context.Background(), source, func(event StreamEvent) error {
		if event.Type == StreamEventChunk {
			chunks++
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if chunks != 2 {
		t.Errorf("expected 2 chunks, got %d", chunks)
	}
}

// =============================================================================
// ReadAll Tests
// =============================================================================

func TestSSEStreamReader_ReadAll_Aggregation(t *testing.T) {
	reader := NewSSEStreamReader()

	result, err := reader.ReadAll(context.Background(), strings.NewReader(successStream()))
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}

	if result.Answer != "Hello, world." {
		t.Errorf("unexpected answer %q", result.Answer)
	}
	if result.ConversationID != "conv-42" {
		t.Errorf("unexpected conversation id %q", result.ConversationID)
	}
	if result.Emotion != "calm" {
		t.Errorf("unexpected emotion %q", result.Emotion)
	}
	if result.TotalEvents != 5 {
		t.Errorf("expected 5 events, got %d", result.TotalEvents)
	}
	if result.TotalChunks != 2 {
		t.Errorf("expected 2 chunks, got %d", result.TotalChunks)
	}
	if len(result.Sources) != 1 || result.Sources[0].Source != "notes.md" {
		t.Errorf("unexpected sources %+v", result.Sources)
	}
	if result.ChainHash != "ff" {
		t.Errorf("expected chain hash from last hashed event, got %q", result.ChainHash)
	}
	if result.ContentHash == "" {
		t.Error("expected content hash for non-empty answer")
	}
	if result.FirstChunkAt == 0 || result.CompletedAt == 0 {
		t.Error("expected timing markers to be set")
	}
	if result.Failed() {
		t.Error("successful stream must not be failed")
	}
}

func TestSSEStreamReader_ReadAll_ErrorEvent(t *testing.T) {
	reader := NewSSEStreamReader()

	stream := "data: {\"type\":\"chunk\",\"content\":\"part\"}\n\n" +
		"data: {\"type\":\"error\",\"error\":\"generation backend unavailable\"}\n\n"

	result, err := reader.ReadAll(context.Background(), strings.NewReader(stream))
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}

	if !result.Failed() {
		t.Error("expected failed result")
	}
	if result.Error != "generation backend unavailable" {
		t.Errorf("unexpected error text %q", result.Error)
	}
	if result.Answer != "part" {
		t.Errorf("partial content should still be aggregated, got %q", result.Answer)
	}
}

func TestSSEStreamReader_ReadAll_Truncated(t *testing.T) {
	reader := NewSSEStreamReader()

	stream := "data: {\"type\":\"chunk\",\"content\":\"cut off\"}\n\n"

	result, err := reader.ReadAll(context.Background(), strings.NewReader(stream))
	if !errors.Is(err, ErrNoTerminalEvent) {
		t.Errorf("expected ErrNoTerminalEvent, got %v", err)
	}
	if result == nil {
		t.Fatal("expected partial result alongside the error")
	}
	if result.Answer != "cut off" {
		t.Errorf("unexpected answer %q", result.Answer)
	}
}
