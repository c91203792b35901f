// Copyright (C) 2025 Mindwell AI (oss@mindwell.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package main contains the chat runner contract and input readers.
//
// The runner coordinates three injectable pieces: a
// StreamingChatService for server communication, a ux.ChatUI for
// display, and an InputReader for user input. Each piece can be
// mocked independently in tests.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
)

// =============================================================================
// Interfaces
// =============================================================================

// ChatRunner defines the contract for an interactive chat session.
//
// # Description
//
// Run blocks inside the chat loop until the user exits, input is
// exhausted, the context is cancelled, or an unrecoverable error
// occurs. Normal exit (the user types "exit" or "quit") returns nil.
//
// # Examples
//
//	runner := NewChatRunner(ChatRunnerConfig{BaseURL: baseURL})
//	defer runner.Close()
//
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	if err := runner.Run(ctx); err != nil && err != context.Canceled {
//	    log.Fatal(err)
//	}
//
// # Limitations
//
//   - Single use: a runner cannot be restarted after Run returns
//   - Stdin reads cannot be interrupted mid-line (OS limitation)
type ChatRunner interface {
	// Run executes the chat loop until exit or cancellation.
	Run(ctx context.Context) error

	// Close releases resources. Safe to call multiple times.
	Close() error
}

// InputReader abstracts line-oriented user input so tests can drive
// the chat loop without a terminal.
type InputReader interface {
	// ReadLine returns the next input line with surrounding
	// whitespace trimmed, or io.EOF when input is exhausted.
	ReadLine() (string, error)
}

// PromptingInputReader is implemented by readers that render the
// prompt themselves. The runner hands them the styled prompt instead
// of printing it.
type PromptingInputReader interface {
	InputReader
	SetPrompt(prompt string)
}

// =============================================================================
// StdinReader
// =============================================================================

// StdinReader implements InputReader over os.Stdin.
//
// Used for piped input and non-TTY environments. No history or line
// editing; reads block until a newline arrives.
type StdinReader struct {
	reader *bufio.Reader
}

// NewStdinReader creates a reader wrapping os.Stdin.
func NewStdinReader() *StdinReader {
	return &StdinReader{
		reader: bufio.NewReader(os.Stdin),
	}
}

// ReadLine reads a single line from stdin. Returns io.EOF when stdin
// is closed.
func (r *StdinReader) ReadLine() (string, error) {
	line, err := r.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// =============================================================================
// InteractiveInputReader
// =============================================================================

// InteractiveInputReader implements InputReader with history
// navigation and line editing via charmbracelet/bubbletea.
//
// # Description
//
// Provides up/down arrow history, standard line editing keys, and
// proper terminal handling. Falls back to StdinReader when stdin is
// not a TTY (piped input, CI).
//
// History is in-memory only and capped at maxHistory entries.
//
// # Thread Safety
//
// Not thread-safe. Single reader per stdin.
type InteractiveInputReader struct {
	history      []string
	historyIndex int
	maxHistory   int
	prompt       string
}

// inputModel is the bubbletea model for interactive input.
type inputModel struct {
	textInput    textinput.Model
	history      []string
	historyIndex int
	currentInput string // stores in-progress input while navigating history
	done         bool
	cancelled    bool
}

// NewInteractiveInputReader creates an interactive reader with
// history. Returns a StdinReader when stdin is not a TTY.
//
// The reader renders its own prompt; the runner sets it via
// SetPrompt.
func NewInteractiveInputReader(maxHistory int) InputReader {
	if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return NewStdinReader()
	}

	return &InteractiveInputReader{
		history:      make([]string, 0, maxHistory),
		historyIndex: -1,
		maxHistory:   maxHistory,
		prompt:       "> ",
	}
}

// SetPrompt sets the prompt rendered by the textinput component.
func (r *InteractiveInputReader) SetPrompt(prompt string) {
	r.prompt = prompt
}

// ReadLine reads one line with history support.
//
// Up/down arrows navigate history, Enter submits, Ctrl+C clears the
// current line, Ctrl+D signals io.EOF. Non-empty submissions are
// added to history.
func (r *InteractiveInputReader) ReadLine() (string, error) {
	ti := textinput.New()
	ti.Prompt = r.prompt
	ti.Focus()
	ti.CharLimit = 4096
	ti.Width = 80

	m := inputModel{
		textInput:    ti,
		history:      r.history,
		historyIndex: -1,
	}

	// Render on stderr so stdout stays clean for machine consumers
	p := tea.NewProgram(m, tea.WithOutput(os.Stderr))
	finalModel, err := p.Run()
	if err != nil {
		return "", err
	}

	result, ok := finalModel.(inputModel)
	if !ok {
		return "", fmt.Errorf("unexpected model type from bubbletea: %T", finalModel)
	}

	if result.cancelled && result.textInput.Value() == "" {
		return "", io.EOF
	}

	input := strings.TrimSpace(result.textInput.Value())
	if input != "" {
		r.addToHistory(input)
	}

	return input, nil
}

// addToHistory appends an input, skipping immediate duplicates and
// trimming to maxHistory.
func (r *InteractiveInputReader) addToHistory(input string) {
	if len(r.history) > 0 && r.history[len(r.history)-1] == input {
		return
	}

	r.history = append(r.history, input)
	if len(r.history) > r.maxHistory {
		r.history = r.history[1:]
	}
}

// Init initializes the bubbletea model.
func (m inputModel) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles key events for the bubbletea model.
func (m inputModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyEnter:
			m.done = true
			return m, tea.Quit

		case tea.KeyCtrlC:
			m.textInput.SetValue("")
			m.done = true
			return m, tea.Quit

		case tea.KeyCtrlD:
			m.cancelled = true
			m.textInput.SetValue("")
			m.done = true
			return m, tea.Quit

		case tea.KeyUp:
			if len(m.history) == 0 {
				return m, nil
			}
			if m.historyIndex == -1 {
				m.currentInput = m.textInput.Value()
				m.historyIndex = len(m.history) - 1
			} else if m.historyIndex > 0 {
				m.historyIndex--
			}
			m.textInput.SetValue(m.history[m.historyIndex])
			m.textInput.CursorEnd()
			return m, nil

		case tea.KeyDown:
			if m.historyIndex == -1 {
				return m, nil
			}
			if m.historyIndex < len(m.history)-1 {
				m.historyIndex++
				m.textInput.SetValue(m.history[m.historyIndex])
			} else {
				m.historyIndex = -1
				m.textInput.SetValue(m.currentInput)
			}
			m.textInput.CursorEnd()
			return m, nil
		}
	}

	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

// View renders the input line.
func (m inputModel) View() string {
	if m.done {
		return ""
	}
	return m.textInput.View()
}

// =============================================================================
// MockInputReader (for testing)
// =============================================================================

// MockInputReader implements InputReader for tests. Each ReadLine
// call returns the next predetermined input; io.EOF after the last.
//
// Not thread-safe; designed for single-threaded tests.
type MockInputReader struct {
	inputs []string
	index  int
}

// NewMockInputReader creates a mock reader returning the given inputs
// in order.
func NewMockInputReader(inputs []string) *MockInputReader {
	return &MockInputReader{
		inputs: inputs,
	}
}

// ReadLine returns the next input, or io.EOF when exhausted.
func (m *MockInputReader) ReadLine() (string, error) {
	if m.index >= len(m.inputs) {
		return "", io.EOF
	}
	input := m.inputs[m.index]
	m.index++
	return input, nil
}
