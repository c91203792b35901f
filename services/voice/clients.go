// Copyright (C) 2025 Mindwell AI (oss@mindwell.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package voice wraps the external speech services. The orchestrator
// never touches audio models directly; transcription and synthesis are
// sidecar HTTP services, mirroring how embeddings are handled.
package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Transcriber converts recorded speech to text.
type Transcriber interface {
	// Transcribe returns the recognized text and its detected
	// language for a complete audio clip (WAV).
	Transcribe(ctx context.Context, audio []byte) (text, language string, err error)
}

// Synthesizer converts text to speech.
type Synthesizer interface {
	// Synthesize returns a WAV rendering of text.
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// =============================================================================
// STT Client
// =============================================================================

// STTClient calls the speech-to-text sidecar: POST /transcribe with
// the raw audio body, JSON reply with text and language.
type STTClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewSTTClient builds a client for the sidecar at baseURL.
func NewSTTClient(baseURL string) (*STTClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("STT service URL not set")
	}
	return &STTClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		// Transcription of a long clip on CPU is slow.
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}, nil
}

type transcribeResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// Transcribe implements Transcriber.
func (c *STTClient) Transcribe(ctx context.Context, audio []byte) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/transcribe", bytes.NewReader(audio))
	if err != nil {
		return "", "", fmt.Errorf("building transcribe request: %w", err)
	}
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("calling STT service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("reading STT response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("STT service returned %d: %s", resp.StatusCode, body)
	}

	var parsed transcribeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", "", fmt.Errorf("decoding STT response: %w", err)
	}
	if parsed.Language == "" {
		parsed.Language = "en"
	}
	return strings.TrimSpace(parsed.Text), parsed.Language, nil
}

// =============================================================================
// TTS Client
// =============================================================================

// TTSClient calls the text-to-speech sidecar: POST /synthesize with a
// JSON body, WAV bytes in the reply.
type TTSClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewTTSClient builds a client for the sidecar at baseURL.
func NewTTSClient(baseURL string) (*TTSClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("TTS service URL not set")
	}
	return &TTSClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}, nil
}

// Synthesize implements Synthesizer.
func (c *TTSClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("marshaling synthesize request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/synthesize", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building synthesize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling TTS service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading TTS response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("TTS service returned %d: %s", resp.StatusCode, body)
	}
	return body, nil
}

// Compile-time interface checks.
var (
	_ Transcriber = (*STTClient)(nil)
	_ Synthesizer = (*TTSClient)(nil)
)
