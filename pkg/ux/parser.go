// Copyright (C) 2025 Mindwell AI (oss@mindwell.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides user experience components for the Mindwell CLI.
//
// This file contains parsers for the streaming response format.
// Parsers are responsible for converting raw bytes/lines into StreamEvent
// structs.
//
// Single Responsibility:
//
//	Parsers ONLY parse. They do not perform I/O, rendering, or state
//	management. This separation enables easy testing and format
//	extensibility.
package ux

import (
	"bytes"
	"encoding/json"
	"strings"
)

// =============================================================================
// SSE Parser Interface
// =============================================================================

// SSEParser parses Server-Sent Events lines into StreamEvent structs.
//
// SSE Format Reference (https://developer.mozilla.org/en-US/docs/Web/API/Server-sent_events):
//
//	event: chunk\n
//	data: {"type":"chunk","content":"Hello"}\n
//	\n
//
// The server names the event type both in the "event:" field and in the
// JSON payload's "type" field. The parser trusts the payload and ignores
// "event:" lines, so streams relayed without field names still decode.
//
// Thread Safety:
//
//	SSEParser implementations must be safe for concurrent use.
//	The default implementation is stateless and inherently thread-safe.
type SSEParser interface {
	// ParseLine parses a single line of SSE input.
	//
	// Parameters:
	//   - line: A single line from the SSE stream (without trailing newline)
	//
	// Returns:
	//   - *StreamEvent: The parsed event, or nil for empty, comment,
	//     and field-name lines
	//   - error: Non-nil if JSON parsing failed
	ParseLine(line string) (*StreamEvent, error)

	// ParseRawJSON parses a raw JSON payload into a StreamEvent.
	//
	// Use this when you have JSON without the "data: " prefix.
	ParseRawJSON(jsonData []byte) (*StreamEvent, error)
}

// =============================================================================
// SSE Parser Implementation
// =============================================================================

// sseParser implements SSEParser for Server-Sent Events format.
//
// This implementation is stateless and safe for concurrent use.
type sseParser struct{}

// NewSSEParser creates a new SSE parser.
//
// The returned parser is stateless and can be safely shared across
// goroutines.
func NewSSEParser() SSEParser {
	return &sseParser{}
}

// ParseLine parses a single SSE line.
//
// Handles the following line types:
//   - Empty: Returns nil (event boundary)
//   - Comment (starts with ":"): Returns nil (keepalive pings)
//   - Field lines ("event:", "id:", "retry:"): Returns nil
//   - Data ("data: "): Parses JSON after prefix
func (p *sseParser) ParseLine(line string) (*StreamEvent, error) {
	line = strings.TrimRight(line, "\r")

	if strings.TrimSpace(line) == "" {
		return nil, nil
	}

	// Comments start with ":" and carry keepalive pings
	if strings.HasPrefix(line, ":") {
		return nil, nil
	}

	// Data lines carry the payload; handle "data:" with and without space
	if data, ok := strings.CutPrefix(line, "data:"); ok {
		return p.ParseRawJSON([]byte(strings.TrimSpace(data)))
	}

	// Other SSE fields (event, id, retry) duplicate payload information
	return nil, nil
}

// ParseRawJSON parses a JSON payload into a StreamEvent.
//
// The JSON must have a "type" field indicating the event type.
// Missing fields are handled gracefully with zero values.
func (p *sseParser) ParseRawJSON(jsonData []byte) (*StreamEvent, error) {
	var event StreamEvent
	if err := json.Unmarshal(jsonData, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// =============================================================================
// Incremental SSE Decoder
// =============================================================================

// SSEDecoder decodes SSE streams fed to it in arbitrary byte fragments.
//
// # Description
//
// The decoder buffers partial input across Feed calls, so a data line
// split at any byte boundary, including mid-rune, decodes identically
// to the unsplit stream. This matters for transports that deliver the
// stream in network-sized reads rather than whole events.
//
// # Thread Safety
//
// SSEDecoder is NOT safe for concurrent use. Feed from a single
// goroutine or guard externally.
//
// # Example
//
//	dec := NewSSEDecoder()
//	events, _ := dec.Feed(firstNetworkRead)
//	more, _ := dec.Feed(secondNetworkRead)
type SSEDecoder struct {
	parser SSEParser
	buf    bytes.Buffer
	index  int
}

// NewSSEDecoder creates an incremental decoder with the default parser.
func NewSSEDecoder() *SSEDecoder {
	return &SSEDecoder{parser: NewSSEParser()}
}

// Feed appends raw bytes and returns all events completed by the new
// input. Incomplete trailing lines stay buffered for the next call.
//
// A parse error stops decoding at the offending line; the remaining
// buffered input is preserved so the caller may Reset and resume.
func (d *SSEDecoder) Feed(p []byte) ([]StreamEvent, error) {
	d.buf.Write(p)

	var events []StreamEvent
	for {
		raw := d.buf.Bytes()
		nl := bytes.IndexByte(raw, '\n')
		if nl < 0 {
			return events, nil
		}

		line := string(raw[:nl])
		d.buf.Next(nl + 1)

		event, err := d.parser.ParseLine(line)
		if err != nil {
			return events, err
		}
		if event == nil {
			continue
		}

		event.Index = d.index
		d.index++
		events = append(events, *event)
	}
}

// Pending returns the number of buffered bytes not yet decoded.
func (d *SSEDecoder) Pending() int {
	return d.buf.Len()
}

// Reset discards buffered input and restarts event indexing. Use when
// reconnecting a stream from scratch.
func (d *SSEDecoder) Reset() {
	d.buf.Reset()
	d.index = 0
}
