// Copyright (C) 2025 Mindwell AI (oss@mindwell.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides user experience components for the Mindwell CLI.
//
// This file contains stream renderers that display streaming events to
// various outputs (terminal, buffer, etc.).
//
// Single Responsibility:
//
//	Renderers ONLY render. They do not parse, read, or manage HTTP.
//	Each method handles exactly one event type, enabling clean composition.
package ux

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Stream Renderer Interface
// =============================================================================

// StreamRenderer renders streaming events to an output destination.
//
// Each method handles exactly one event type. The renderer owns all
// output-related state (spinners, buffers, formatters). Callers should
// invoke methods in the order events are received.
//
// Thread Safety:
//
//	Implementations must be safe for concurrent calls.
//
// Lifecycle:
//
//  1. Create renderer with New*StreamRenderer()
//  2. Call On* methods as events arrive
//  3. Call Finalize() when the stream ends (always, even on error)
//  4. Call Result() to get the aggregated result
//
// Example:
//
//	renderer := NewTerminalStreamRenderer(os.Stdout, GetPersonality().Level)
//	defer renderer.Finalize()
//
//	for event := range events {
//	    switch event.Type {
//	    case StreamEventChunk:
//	        renderer.OnChunk(ctx, event.Content)
//	    case StreamEventDone:
//	        renderer.OnDone(ctx, event.ConversationID, event.Emotion)
//	    }
//	}
//
//	result := renderer.Result()
type StreamRenderer interface {
	// OnStatus renders a status update (e.g., "Gathering context").
	//
	// In interactive mode, starts or updates a spinner.
	// In machine mode, prints "STATUS: message".
	OnStatus(ctx context.Context, message string)

	// OnChunk renders a response fragment.
	//
	// In interactive mode, prints immediately for a streaming effect.
	// In machine mode, buffers until OnDone.
	//
	// Chunks must be rendered in order; out-of-order rendering
	// produces garbled output.
	OnChunk(ctx context.Context, content string)

	// OnSources renders the retrieval provenance for the response.
	OnSources(ctx context.Context, sources []SourceInfo)

	// OnDone signals stream completion with the durable conversation id
	// and the echoed emotion hint.
	OnDone(ctx context.Context, conversationID, emotion string)

	// OnError renders an error that terminated the stream.
	OnError(ctx context.Context, err error)

	// Finalize performs cleanup (stop spinners, flush output).
	//
	// MUST be called when streaming ends, even if abnormally.
	// Safe to call multiple times; subsequent calls are no-ops.
	Finalize()

	// Result returns the accumulated result after streaming completes.
	// May be called before Finalize() to get partial results.
	Result() *StreamResult
}

// =============================================================================
// Terminal Stream Renderer
// =============================================================================

// terminalStreamRenderer renders streaming events to an interactive
// terminal.
//
// Features:
//   - Spinners for status updates (stop automatically when chunks arrive)
//   - Real-time chunk streaming
//   - Styled output based on personality level
//   - Inline source display
//
// All methods are protected by a mutex.
type terminalStreamRenderer struct {
	writer      io.Writer
	personality PersonalityLevel
	spinner     *Spinner
	result      *StreamResult
	mu          sync.Mutex

	answerBuilder   strings.Builder
	hasWrittenChunk bool
	finalized       bool
}

// NewTerminalStreamRenderer creates a renderer for interactive terminal
// output.
//
// Parameters:
//   - w: The output writer. If nil, defaults to os.Stdout.
//   - personality: Controls output styling. Use GetPersonality().Level
//     for the user's configured personality.
func NewTerminalStreamRenderer(w io.Writer, personality PersonalityLevel) StreamRenderer {
	if w == nil {
		w = os.Stdout
	}
	return &terminalStreamRenderer{
		writer:      w,
		personality: personality,
		result: &StreamResult{
			Id:        uuid.New().String(),
			CreatedAt: time.Now().UnixMilli(),
		},
	}
}

// OnStatus renders a status update message.
//
// Interactive modes start or update a spinner with the message; the
// spinner runs until the first chunk arrives or the stream ends.
// Machine mode prints "STATUS: {message}" immediately.
func (r *terminalStreamRenderer) OnStatus(ctx context.Context, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}

	r.result.TotalEvents++

	if r.personality == PersonalityMachine {
		fmt.Fprintf(r.writer, "STATUS: %s\n", message)
		return
	}

	if r.spinner == nil {
		r.spinner = NewSpinner(message)
		r.spinner.Start()
	} else {
		r.spinner.UpdateMessage(message)
	}
}

// OnChunk renders a response fragment.
//
// The first chunk stops any running spinner and records the
// time-to-first-chunk metric. Machine mode buffers chunks and prints
// them as a single "ANSWER:" line on OnDone.
func (r *terminalStreamRenderer) OnChunk(ctx context.Context, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}

	if !r.hasWrittenChunk {
		r.result.FirstChunkAt = time.Now().UnixMilli()
		r.hasWrittenChunk = true

		if r.spinner != nil {
			r.spinner.Stop()
			r.spinner = nil
			if r.personality != PersonalityMachine {
				fmt.Fprintln(r.writer) // New line after spinner
			}
		}
	}

	r.answerBuilder.WriteString(content)
	r.result.TotalChunks++
	r.result.TotalEvents++

	if r.personality == PersonalityMachine {
		return
	}

	fmt.Fprint(r.writer, content)
}

// OnSources renders retrieval provenance inline.
//
// Sources are displayed as they arrive, before the response text, so
// users can see what the assistant is drawing on. The Kind field
// distinguishes recent context, remembered facts and documents.
func (r *terminalStreamRenderer) OnSources(ctx context.Context, sources []SourceInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}

	r.result.Sources = append(r.result.Sources, sources...)
	r.result.TotalEvents++

	if len(sources) == 0 {
		return
	}

	if r.personality == PersonalityMachine {
		for _, src := range sources {
			if src.Score != 0 {
				fmt.Fprintf(r.writer, "SOURCE: %s kind=%s score=%.4f\n", src.Source, src.Kind, src.Score)
			} else {
				fmt.Fprintf(r.writer, "SOURCE: %s kind=%s\n", src.Source, src.Kind)
			}
		}
		return
	}

	if r.spinner != nil {
		r.spinner.Stop()
		r.spinner = nil
	}

	if r.personality == PersonalityMinimal {
		fmt.Fprintln(r.writer)
		fmt.Fprintln(r.writer, "Drawing on:")
		for i, src := range sources {
			fmt.Fprintf(r.writer, "  %d. %s (%s)\n", i+1, src.Source, src.Kind)
		}
		fmt.Fprintln(r.writer)
		return
	}

	fmt.Fprintln(r.writer)
	var content strings.Builder
	for i, src := range sources {
		kindStyled := Styles.Muted.Render(" [" + src.Kind + "]")
		scoreInfo := ""
		if src.Score != 0 {
			scoreInfo = Styles.Muted.Render(fmt.Sprintf(" (%.2f)", src.Score))
		}
		content.WriteString(fmt.Sprintf("%d. %s%s%s", i+1, src.Source, kindStyled, scoreInfo))
		if i < len(sources)-1 {
			content.WriteString("\n")
		}
	}
	boxStyle := Styles.InfoBox.Width(60)
	titleLine := Styles.Subtitle.Render("Drawing on")
	fmt.Fprintln(r.writer, boxStyle.Render(titleLine+"\n"+content.String()))
	fmt.Fprintln(r.writer)
}

// OnDone signals successful stream completion.
//
// Machine mode prints the buffered answer as "ANSWER:", the
// conversation as "CONVERSATION:", and finally "DONE". Interactive
// modes just make sure output ends with a newline.
func (r *terminalStreamRenderer) OnDone(ctx context.Context, conversationID, emotion string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}

	r.result.ConversationID = conversationID
	r.result.Emotion = emotion
	r.result.CompletedAt = time.Now().UnixMilli()
	r.result.TotalEvents++

	if r.spinner != nil {
		r.spinner.Stop()
		r.spinner = nil
	}

	if r.personality == PersonalityMachine {
		answer := r.answerBuilder.String()
		if answer != "" {
			fmt.Fprintf(r.writer, "ANSWER: %s\n", answer)
		}
		if conversationID != "" {
			fmt.Fprintf(r.writer, "CONVERSATION: %s\n", conversationID)
		}
		fmt.Fprintln(r.writer, "DONE")
	} else {
		answer := r.answerBuilder.String()
		if answer != "" && !strings.HasSuffix(answer, "\n") {
			fmt.Fprintln(r.writer)
		}
	}
}

// OnError renders an error that terminated the stream.
func (r *terminalStreamRenderer) OnError(ctx context.Context, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}

	r.result.Error = err.Error()
	r.result.CompletedAt = time.Now().UnixMilli()
	r.result.TotalEvents++

	if r.spinner != nil {
		r.spinner.Stop()
		r.spinner = nil
	}

	if r.personality == PersonalityMachine {
		fmt.Fprintf(r.writer, "ERROR: %v\n", err)
	} else {
		fmt.Fprintf(r.writer, "\n%s %s\n",
			IconError.Render(),
			Styles.Error.Render(fmt.Sprintf("Stream error: %v", err)))
	}
}

// Finalize performs cleanup and marks the renderer as complete.
//
// MUST be called when streaming ends, regardless of whether it ended
// normally (OnDone) or with an error (OnError). Safe to call multiple
// times.
func (r *terminalStreamRenderer) Finalize() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}
	r.finalized = true

	if r.spinner != nil {
		r.spinner.Stop()
		r.spinner = nil
	}

	r.result.Answer = r.answerBuilder.String()
	if r.result.CompletedAt == 0 {
		r.result.CompletedAt = time.Now().UnixMilli()
	}
}

// Result returns a copy of the accumulated StreamResult. May be called
// before Finalize() to get partial results during streaming.
func (r *terminalStreamRenderer) Result() *StreamResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := *r.result
	result.Answer = r.answerBuilder.String()
	return &result
}

// =============================================================================
// Buffer Stream Renderer (for testing)
// =============================================================================

// bufferStreamRenderer renders to an in-memory buffer for testing.
//
// Captures all events in order without producing output, making it
// ideal for unit tests that verify event processing logic.
type bufferStreamRenderer struct {
	result    *StreamResult
	events    []StreamEvent
	mu        sync.Mutex
	finalized bool

	answerBuilder strings.Builder
}

// NewBufferStreamRenderer creates a renderer that buffers events to
// memory.
//
// Example:
//
//	renderer := NewBufferStreamRenderer()
//	defer renderer.Finalize()
//
//	renderer.OnChunk(ctx, "Hello")
//	renderer.OnChunk(ctx, " world")
//	renderer.OnDone(ctx, "conv-123", "")
//
//	result := renderer.Result()
//	if result.Answer != "Hello world" {
//	    t.Error("unexpected answer")
//	}
func NewBufferStreamRenderer() StreamRenderer {
	return &bufferStreamRenderer{
		result: &StreamResult{
			Id:        uuid.New().String(),
			CreatedAt: time.Now().UnixMilli(),
		},
		events: make([]StreamEvent, 0),
	}
}

func (r *bufferStreamRenderer) OnStatus(ctx context.Context, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}

	r.events = append(r.events, NewStatusEvent(message))
	r.result.TotalEvents++
}

func (r *bufferStreamRenderer) OnChunk(ctx context.Context, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}

	if r.result.FirstChunkAt == 0 {
		r.result.FirstChunkAt = time.Now().UnixMilli()
	}

	r.answerBuilder.WriteString(content)
	r.events = append(r.events, NewChunkEvent(content))
	r.result.TotalChunks++
	r.result.TotalEvents++
}

func (r *bufferStreamRenderer) OnSources(ctx context.Context, sources []SourceInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}

	r.result.Sources = append(r.result.Sources, sources...)
	r.events = append(r.events, NewSourcesEvent(sources))
	r.result.TotalEvents++
}

func (r *bufferStreamRenderer) OnDone(ctx context.Context, conversationID, emotion string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}

	r.result.ConversationID = conversationID
	r.result.Emotion = emotion
	r.result.CompletedAt = time.Now().UnixMilli()
	r.events = append(r.events, NewDoneEvent(conversationID, emotion))
	r.result.TotalEvents++
}

func (r *bufferStreamRenderer) OnError(ctx context.Context, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}

	r.result.Error = err.Error()
	r.result.CompletedAt = time.Now().UnixMilli()
	r.events = append(r.events, NewErrorEvent(err.Error()))
	r.result.TotalEvents++
}

func (r *bufferStreamRenderer) Finalize() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}
	r.finalized = true

	r.result.Answer = r.answerBuilder.String()
	if r.result.CompletedAt == 0 {
		r.result.CompletedAt = time.Now().UnixMilli()
	}
}

func (r *bufferStreamRenderer) Result() *StreamResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := *r.result
	result.Answer = r.answerBuilder.String()
	return &result
}

// Events returns all captured events for testing inspection.
//
// This method is specific to bufferStreamRenderer and not part of the
// StreamRenderer interface. Cast the renderer to access it.
func (r *bufferStreamRenderer) Events() []StreamEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	events := make([]StreamEvent, len(r.events))
	copy(events, r.events)
	return events
}

// =============================================================================
// Compile-time Interface Checks
// =============================================================================

var _ StreamRenderer = (*terminalStreamRenderer)(nil)
var _ StreamRenderer = (*bufferStreamRenderer)(nil)
