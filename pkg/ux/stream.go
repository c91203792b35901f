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
	"sync"
)

// =============================================================================
// Stream Processor
// =============================================================================

// StreamProcessor drives a complete streaming exchange: it reads an SSE
// stream, dispatches events to a renderer, and verifies the hash chain
// once the terminal event arrives.
//
// # Description
//
// The processor is the one-call API the CLI uses per exchange. Reading,
// rendering and verification stay in their own types; the processor only
// coordinates them.
//
// # Thread Safety
//
// A processor handles one stream at a time. Process must not be called
// concurrently on the same instance. Verification is safe to call after
// Process returns.
//
// # Example
//
//	renderer := NewTerminalStreamRenderer(os.Stdout, GetPersonality().Level)
//	proc := NewStreamProcessor(renderer)
//
//	result, err := proc.Process(ctx, httpResp.Body)
//	if err != nil {
//	    return err
//	}
//	if v := proc.Verification(); v != nil && !v.Valid {
//	    ux.Warning("response integrity check failed: " + v.ErrorMessage)
//	}
type StreamProcessor struct {
	reader   StreamReader
	renderer StreamRenderer
	verifier ChainVerifier

	mu           sync.Mutex
	events       []StreamEvent
	verification *ChainVerificationResult
}

// NewStreamProcessor creates a processor with hash chain verification
// enabled. The renderer may be nil, in which case a terminal renderer
// with the current personality is used.
func NewStreamProcessor(renderer StreamRenderer) *StreamProcessor {
	if renderer == nil {
		renderer = NewTerminalStreamRenderer(nil, GetPersonality().Level)
	}
	return &StreamProcessor{
		reader:   NewSSEStreamReader(),
		renderer: renderer,
		verifier: NewFullChainVerifier(),
	}
}

// NewStreamProcessorWithDeps creates a processor with injected
// dependencies. Pass a nil verifier to skip chain verification.
func NewStreamProcessorWithDeps(reader StreamReader, renderer StreamRenderer, verifier ChainVerifier) *StreamProcessor {
	return &StreamProcessor{
		reader:   reader,
		renderer: renderer,
		verifier: verifier,
	}
}

// Process reads the stream until its terminal event and returns the
// aggregated result.
//
// An error event terminates the stream normally at the transport level
// but is returned here as an error carrying the server's message. The
// partial result remains available via the renderer.
func (p *StreamProcessor) Process(ctx context.Context, source io.Reader) (*StreamResult, error) {
	p.mu.Lock()
	p.events = p.events[:0]
	p.verification = nil
	p.mu.Unlock()

	defer p.renderer.Finalize()

	var streamErr error
	err := p.reader.Read(ctx, source, func(event StreamEvent) error {
		p.mu.Lock()
		p.events = append(p.events, event)
		p.mu.Unlock()

		switch event.Type {
		case StreamEventStatus:
			p.renderer.OnStatus(ctx, event.Message)
		case StreamEventSources:
			p.renderer.OnSources(ctx, event.Sources)
		case StreamEventChunk:
			p.renderer.OnChunk(ctx, event.Content)
		case StreamEventDone:
			p.renderer.OnDone(ctx, event.ConversationID, event.Emotion)
		case StreamEventError:
			streamErr = errors.New(event.Error)
			p.renderer.OnError(ctx, streamErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if streamErr != nil {
		return nil, streamErr
	}

	p.renderer.Finalize()
	result := p.renderer.Result()

	p.mu.Lock()
	events := p.events
	if p.verifier != nil {
		p.verification = p.verifier.Verify(events)
		if p.verification.Valid {
			result.ChainHash = p.verification.FinalHash
		}
	} else if n := len(events); n > 0 {
		result.ChainHash = events[n-1].Hash
	}
	p.mu.Unlock()

	if result.Answer != "" {
		result.ContentHash = NewSHA256HashComputer().ComputeContentHash(result.Answer)
	}
	return result, nil
}

// Verification returns the chain verification result from the last
// Process call, or nil if verification was disabled or Process has not
// completed.
func (p *StreamProcessor) Verification() *ChainVerificationResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.verification
}

// Events returns the events received during the last Process call.
func (p *StreamProcessor) Events() []StreamEvent {
	p.mu.Lock()
	defer p.mu.Unlock()

	events := make([]StreamEvent, len(p.events))
	copy(events, p.events)
	return events
}
