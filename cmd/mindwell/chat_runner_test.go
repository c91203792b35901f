// Copyright (C) 2025 Mindwell AI (oss@mindwell.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/mindwell-ai/mindwell/pkg/ux"
)

// =============================================================================
// Mock Implementations
// =============================================================================

// mockStreamingChatService implements StreamingChatService for tests.
//
// Allows configuring responses and tracking calls for verification.
type mockStreamingChatService struct {
	sendMessageFunc func(ctx context.Context, msg string) (*ux.StreamResult, error)
	conversationID  string
	turns           int
	turnsErr        error
	closeErr        error
	closed          bool
	messagesSent    []string
}

func (m *mockStreamingChatService) SendMessage(ctx context.Context, message string) (*ux.StreamResult, error) {
	m.messagesSent = append(m.messagesSent, message)
	if m.sendMessageFunc != nil {
		return m.sendMessageFunc(ctx, message)
	}
	if m.conversationID == "" {
		m.conversationID = "conv-1"
	}
	return &ux.StreamResult{
		Answer:         "Mock response",
		ConversationID: m.conversationID,
		TotalChunks:    2,
	}, nil
}

func (m *mockStreamingChatService) GetConversationID() string {
	return m.conversationID
}

func (m *mockStreamingChatService) LoadConversationTurns(ctx context.Context) (int, error) {
	return m.turns, m.turnsErr
}

func (m *mockStreamingChatService) Close() error {
	m.closed = true
	return m.closeErr
}

// =============================================================================
// InputReader Tests
// =============================================================================

func TestStdinReader_ImplementsInterface(t *testing.T) {
	var _ InputReader = &StdinReader{}
}

func TestMockInputReader_ReturnsInputsInOrder(t *testing.T) {
	inputs := []string{"first", "second", "third"}
	reader := NewMockInputReader(inputs)

	for i, expected := range inputs {
		got, err := reader.ReadLine()
		if err != nil {
			t.Fatalf("ReadLine() %d: unexpected error: %v", i, err)
		}
		if got != expected {
			t.Errorf("ReadLine() %d: got %q, want %q", i, got, expected)
		}
	}
}

func TestMockInputReader_ReturnsEOFWhenExhausted(t *testing.T) {
	reader := NewMockInputReader([]string{"only"})

	if _, err := reader.ReadLine(); err != nil {
		t.Fatalf("first ReadLine(): unexpected error: %v", err)
	}
	if _, err := reader.ReadLine(); err != io.EOF {
		t.Errorf("second ReadLine(): got error %v, want io.EOF", err)
	}
}

func TestInteractiveInputReader_AddToHistory(t *testing.T) {
	r := &InteractiveInputReader{
		history:      make([]string, 0, 3),
		historyIndex: -1,
		maxHistory:   3,
	}

	r.addToHistory("one")
	r.addToHistory("one") // immediate duplicate dropped
	r.addToHistory("two")
	r.addToHistory("three")
	r.addToHistory("four") // oldest trimmed

	want := []string{"two", "three", "four"}
	if len(r.history) != len(want) {
		t.Fatalf("history length = %d, want %d", len(r.history), len(want))
	}
	for i, entry := range want {
		if r.history[i] != entry {
			t.Errorf("history[%d] = %q, want %q", i, r.history[i], entry)
		}
	}
}

func TestIsExitCommand(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"exit", true},
		{"quit", true},
		{"Exit", false},
		{"hello", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isExitCommand(tt.input); got != tt.want {
			t.Errorf("isExitCommand(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

// =============================================================================
// Chat Runner Tests
// =============================================================================

func newTestRunner(service StreamingChatService, inputs []string) (*streamChatRunner, *bytes.Buffer) {
	var buf bytes.Buffer
	ui := ux.NewChatUIWithWriter(&buf, ux.PersonalityMachine)
	runner := NewChatRunnerWithDeps(service, ui, NewMockInputReader(inputs), "Mindwell")
	return runner, &buf
}

func TestStreamChatRunner_ExitCommand(t *testing.T) {
	service := &mockStreamingChatService{conversationID: "conv-1"}
	runner, buf := newTestRunner(service, []string{"hello", "exit"})

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}

	if len(service.messagesSent) != 1 || service.messagesSent[0] != "hello" {
		t.Errorf("messagesSent = %v, want [hello]", service.messagesSent)
	}
	out := buf.String()
	if !strings.Contains(out, "CHAT_START:") {
		t.Errorf("output missing header, got %q", out)
	}
	if !strings.Contains(out, "CHAT_END: conversation=conv-1") {
		t.Errorf("output missing session end, got %q", out)
	}
}

func TestStreamChatRunner_EOFEndsSession(t *testing.T) {
	service := &mockStreamingChatService{conversationID: "conv-1"}
	runner, buf := newTestRunner(service, nil)

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}
	if !strings.Contains(buf.String(), "CHAT_END:") {
		t.Errorf("output missing session end, got %q", buf.String())
	}
}

func TestStreamChatRunner_SkipsEmptyInput(t *testing.T) {
	service := &mockStreamingChatService{}
	runner, _ := newTestRunner(service, []string{"", "", "exit"})

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}
	if len(service.messagesSent) != 0 {
		t.Errorf("messagesSent = %v, want none", service.messagesSent)
	}
}

func TestStreamChatRunner_ServiceErrorContinuesLoop(t *testing.T) {
	calls := 0
	service := &mockStreamingChatService{
		sendMessageFunc: func(ctx context.Context, msg string) (*ux.StreamResult, error) {
			calls++
			if calls == 1 {
				return nil, errors.New("connection refused")
			}
			return &ux.StreamResult{Answer: "ok", ConversationID: "conv-2"}, nil
		},
	}
	runner, buf := newTestRunner(service, []string{"first", "second", "exit"})

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}

	if calls != 2 {
		t.Errorf("SendMessage calls = %d, want 2", calls)
	}
	if !strings.Contains(buf.String(), "CHAT_ERROR: connection refused") {
		t.Errorf("output missing error line, got %q", buf.String())
	}
}

func TestStreamChatRunner_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	service := &mockStreamingChatService{conversationID: "conv-3"}
	runner, buf := newTestRunner(service, []string{"never read"})

	err := runner.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if !strings.Contains(buf.String(), "CHAT_END:") {
		t.Errorf("output missing session end after shutdown, got %q", buf.String())
	}
}

func TestStreamChatRunner_AccumulatesStats(t *testing.T) {
	service := &mockStreamingChatService{
		sendMessageFunc: func(ctx context.Context, msg string) (*ux.StreamResult, error) {
			return &ux.StreamResult{
				Answer:         "a reply",
				ConversationID: "conv-4",
				TotalChunks:    3,
				Sources: []ux.SourceInfo{
					{Source: "notes.md", Kind: "document"},
					{Source: "recent context", Kind: "short_term"},
				},
			}, nil
		},
	}
	runner, _ := newTestRunner(service, []string{"one", "two", "exit"})

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}

	if runner.stats.MessageCount != 2 {
		t.Errorf("MessageCount = %d, want 2", runner.stats.MessageCount)
	}
	if runner.stats.TotalChunks != 6 {
		t.Errorf("TotalChunks = %d, want 6", runner.stats.TotalChunks)
	}
	// Two sources per turn but only two unique names overall
	if runner.stats.SourcesUsed != 2 {
		t.Errorf("SourcesUsed = %d, want 2", runner.stats.SourcesUsed)
	}
}

func TestStreamChatRunner_ResumeDisplaysHistory(t *testing.T) {
	var buf bytes.Buffer
	service := &mockStreamingChatService{conversationID: "conv-5", turns: 6}
	runner := NewChatRunnerWithTestConfig(ChatRunnerTestConfig{
		Service:        service,
		UI:             ux.NewChatUIWithWriter(&buf, ux.PersonalityMachine),
		Input:          NewMockInputReader([]string{"exit"}),
		Persona:        "Mindwell",
		ConversationID: "conv-5",
	})

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}
	if !strings.Contains(buf.String(), "CONVERSATION_RESUME: conversation=conv-5 turns=6") {
		t.Errorf("output missing resume line, got %q", buf.String())
	}
}

func TestStreamChatRunner_ResumeLoadFailureContinues(t *testing.T) {
	var buf bytes.Buffer
	service := &mockStreamingChatService{conversationID: "conv-6", turnsErr: errors.New("not found")}
	runner := NewChatRunnerWithTestConfig(ChatRunnerTestConfig{
		Service:        service,
		UI:             ux.NewChatUIWithWriter(&buf, ux.PersonalityMachine),
		Input:          NewMockInputReader([]string{"exit"}),
		Persona:        "Mindwell",
		ConversationID: "conv-6",
	})

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}
	if strings.Contains(buf.String(), "CONVERSATION_RESUME") {
		t.Errorf("resume line should be skipped on load failure, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "CHAT_START:") {
		t.Errorf("chat should still start, got %q", buf.String())
	}
}

func TestStreamChatRunner_CloseIdempotent(t *testing.T) {
	service := &mockStreamingChatService{}
	runner, _ := newTestRunner(service, nil)

	if err := runner.Close(); err != nil {
		t.Fatalf("first Close(): %v", err)
	}
	if err := runner.Close(); err != nil {
		t.Fatalf("second Close(): %v", err)
	}
	if !service.closed {
		t.Error("service was not closed")
	}
}
