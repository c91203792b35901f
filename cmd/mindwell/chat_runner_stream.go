// Copyright (C) 2025 Mindwell AI (oss@mindwell.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package main contains the streaming chat runner implementation.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/mindwell-ai/mindwell/pkg/ux"
)

// ChatRunnerConfig holds configuration for creating a chat runner.
//
// Only BaseURL is required. ConversationID resumes an existing
// conversation; empty starts a new one on the first completed turn.
type ChatRunnerConfig struct {
	BaseURL        string // Mindwell server URL (required)
	Token          string // Bearer token (optional)
	ConversationID string // Conversation to resume (optional)
	Emotion        string // Emotion hint sent with each message (optional)
	DocumentID     string // Document to focus retrieval on (optional)
	Persona        string // Persona name shown in the header (optional)
}

// streamChatRunner implements ChatRunner for streaming chat.
//
// # Description
//
// streamChatRunner manages the interactive chat loop. It follows a
// single-responsibility pattern:
//   - Input reading is delegated to InputReader
//   - Server communication is delegated to StreamingChatService
//   - Display formatting is delegated to ux.ChatUI
//   - The runner only handles coordination and control flow
//
// # Thread Safety
//
// Run is not designed for concurrent calls. Close is thread-safe and
// can be called from any goroutine.
type streamChatRunner struct {
	service               StreamingChatService
	ui                    ux.ChatUI
	input                 InputReader
	persona               string
	serverURL             string
	emotion               string
	initialConversationID string
	conversationStartTime time.Time
	stats                 ux.ConversationStats
	uniqueSources         map[string]bool
	closed                bool
	mu                    sync.Mutex
}

// NewChatRunner creates a chat runner with production dependencies.
//
// Initializes the streaming chat service, terminal UI, and an
// interactive input reader with history.
func NewChatRunner(config ChatRunnerConfig) ChatRunner {
	persona := config.Persona
	if persona == "" {
		persona = defaultPersonaName
	}

	service := NewStreamingChatService(StreamingChatServiceConfig{
		BaseURL:        config.BaseURL,
		Token:          config.Token,
		ConversationID: config.ConversationID,
		Emotion:        config.Emotion,
		DocumentID:     config.DocumentID,
	})

	return &streamChatRunner{
		service:               service,
		ui:                    ux.NewChatUI(),
		input:                 NewInteractiveInputReader(50), // keep last 50 prompts in history
		persona:               persona,
		serverURL:             config.BaseURL,
		emotion:               config.Emotion,
		initialConversationID: config.ConversationID,
		uniqueSources:         make(map[string]bool),
	}
}

// NewChatRunnerWithDeps creates a chat runner with injected
// dependencies. Use MockInputReader and a mock service for tests.
func NewChatRunnerWithDeps(
	service StreamingChatService,
	ui ux.ChatUI,
	input InputReader,
	persona string,
) *streamChatRunner {
	return &streamChatRunner{
		service:       service,
		ui:            ui,
		input:         input,
		persona:       persona,
		uniqueSources: make(map[string]bool),
	}
}

// ChatRunnerTestConfig holds full configuration for creating a runner
// in tests, including resume fields not covered by WithDeps.
type ChatRunnerTestConfig struct {
	Service        StreamingChatService
	UI             ux.ChatUI
	Input          InputReader
	Persona        string
	ConversationID string
	Emotion        string
}

// NewChatRunnerWithTestConfig creates a chat runner with all
// configurable fields. Use this when testing resume display.
func NewChatRunnerWithTestConfig(config ChatRunnerTestConfig) *streamChatRunner {
	return &streamChatRunner{
		service:               config.Service,
		ui:                    config.UI,
		input:                 config.Input,
		persona:               config.Persona,
		emotion:               config.Emotion,
		initialConversationID: config.ConversationID,
		uniqueSources:         make(map[string]bool),
	}
}

// Run executes the interactive chat loop.
//
// # Description
//
// The loop:
//  1. Displays the chat header, with resume info when continuing a
//     conversation
//  2. Prompts for user input
//  3. Checks for exit commands ("exit", "quit")
//  4. Streams the message through the service; chunks render live
//  5. Repeats until exit, EOF, or context cancellation
//
// On context cancellation the session summary is still displayed and
// the context error is returned. Persistence is server-side; a
// cancelled in-flight turn is discarded, not stored.
func (r *streamChatRunner) Run(ctx context.Context) error {
	r.conversationStartTime = time.Now()

	// Resume info before the header so the user knows what context exists
	if r.initialConversationID != "" {
		turns, err := r.service.LoadConversationTurns(ctx)
		if err != nil {
			slog.Warn("failed to load conversation history, continuing without",
				"conversation_id", r.initialConversationID,
				"error", err,
			)
		} else {
			r.ui.ConversationResume(r.initialConversationID, turns)
		}
	}

	r.ui.Header(ux.HeaderConfig{
		Persona:        r.persona,
		ConversationID: r.initialConversationID,
		ServerURL:      r.serverURL,
		Emotion:        r.emotion,
	})

	for {
		// Check for cancellation before blocking on input
		select {
		case <-ctx.Done():
			return r.handleShutdown(ctx)
		default:
		}

		// Prompting readers render the prompt themselves
		if p, ok := r.input.(PromptingInputReader); ok {
			p.SetPrompt(r.ui.Prompt())
		} else {
			fmt.Print(r.ui.Prompt())
		}
		input, err := r.input.ReadLine()
		if err != nil {
			if err == io.EOF {
				// Input exhausted (e.g., piped input ended)
				r.displayConversationEnd()
				return nil
			}
			slog.Error("failed to read input", "error", err)
			return fmt.Errorf("read input: %w", err)
		}

		if input == "" {
			continue
		}

		// Bubbletea clears its rendering area on exit, so restore the
		// visual line for interactive readers
		if _, isInteractive := r.input.(*InteractiveInputReader); isInteractive {
			fmt.Printf("%s%s\n", r.ui.Prompt(), input)
		}

		if isExitCommand(input) {
			r.displayConversationEnd()
			return nil
		}

		if err := r.handleMessage(ctx, input); err != nil {
			if ctx.Err() != nil {
				return r.handleShutdown(ctx)
			}
			// Non-fatal: display and continue the loop
			r.ui.Error(err)
			continue
		}
	}
}

// handleMessage streams a single user message.
//
// Chunks render in real time via the service's renderer, so nothing
// is printed here beyond a trailing newline.
func (r *streamChatRunner) handleMessage(ctx context.Context, message string) error {
	result, err := r.service.SendMessage(ctx, message)
	if err != nil {
		return err
	}

	r.accumulateStats(result)
	fmt.Println()

	return nil
}

// accumulateStats folds one exchange into the session totals.
func (r *streamChatRunner) accumulateStats(result *ux.StreamResult) {
	r.stats.MessageCount++
	r.stats.TotalChunks += result.TotalChunks

	for _, src := range result.Sources {
		r.uniqueSources[src.Source] = true
	}
	r.stats.SourcesUsed = len(r.uniqueSources)

	if r.stats.MessageCount == 1 {
		r.stats.FirstResponseLatency = result.TimeToFirstChunk()
	}
}

// displayConversationEnd finalizes statistics and shows the summary.
func (r *streamChatRunner) displayConversationEnd() {
	r.stats.Duration = time.Since(r.conversationStartTime)
	r.ui.ConversationEndRich(r.service.GetConversationID(), &r.stats)
}

// handleShutdown runs when the context is cancelled. The interrupted
// turn is discarded server-side; completed turns are already durable.
func (r *streamChatRunner) handleShutdown(ctx context.Context) error {
	slog.Info("graceful shutdown initiated",
		"conversation_id", r.service.GetConversationID(),
	)

	fmt.Println() // New line after interrupted input
	r.displayConversationEnd()

	return ctx.Err()
}

// Close releases resources held by the runner. Idempotent.
func (r *streamChatRunner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	r.closed = true
	return r.service.Close()
}

var _ ChatRunner = (*streamChatRunner)(nil)
