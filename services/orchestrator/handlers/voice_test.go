// Copyright (C) 2025 Mindwell AI (oss@mindwell.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindwell-ai/mindwell/pkg/logging"
	"github.com/mindwell-ai/mindwell/services/orchestrator/assembler"
	"github.com/mindwell-ai/mindwell/services/orchestrator/config"
	"github.com/mindwell-ai/mindwell/services/orchestrator/exchange"
	"github.com/mindwell-ai/mindwell/services/orchestrator/middleware"
	"github.com/mindwell-ai/mindwell/services/orchestrator/store"
	"github.com/mindwell-ai/mindwell/services/voice"
)

// =============================================================================
// Test Setup
// =============================================================================

// mockTranscriber returns a fixed transcript.
type mockTranscriber struct {
	transcript string
	language   string
	err        error
}

func (m *mockTranscriber) Transcribe(_ context.Context, _ []byte) (string, string, error) {
	return m.transcript, m.language, m.err
}

// mockSynthesizer returns fixed audio bytes.
type mockSynthesizer struct {
	audio []byte
	err   error
}

func (m *mockSynthesizer) Synthesize(_ context.Context, _ string) ([]byte, error) {
	return m.audio, m.err
}

// voiceTestDeps exposes the memory mocks so tests can observe the
// detached promotion writes.
type voiceTestDeps struct {
	shortTerm *chatMockShortTerm
	longTerm  *chatMockLongTerm
}

// newVoiceTestConn spins up the handler behind an httptest server and
// dials it over websocket.
func newVoiceTestConn(t *testing.T, stt *mockTranscriber, tts *mockSynthesizer) (*websocket.Conn, *voiceTestDeps) {
	t.Helper()

	logger := logging.New(logging.Config{Quiet: true})
	t.Cleanup(func() { logger.Close() })

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "voice.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	shortTerm := &chatMockShortTerm{}
	longTerm := &chatMockLongTerm{}
	asm := assembler.New(shortTerm, longTerm, nil, assembler.Config{}, logger)
	broker := exchange.NewBroker(s, 50, logger)

	persona, err := config.NewPersonaProvider("", logger)
	require.NoError(t, err)
	t.Cleanup(func() { persona.Close() })

	client := &mockLLM{tokens: []string{"spoken ", "answer"}}
	var synthesizer voice.Synthesizer
	if tts != nil {
		synthesizer = tts
	}
	handler := NewVoiceHandler(client, asm, broker, shortTerm, longTerm,
		persona, stt, synthesizer, 5*time.Second, logger)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		middleware.SetAuthInfo(c, &middleware.AuthInfo{UserID: "user-1"})
		c.Next()
	})
	router.GET("/v1/voice/ws", handler.HandleVoiceSession)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/voice/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn, &voiceTestDeps{shortTerm: shortTerm, longTerm: longTerm}
}

// readFrames reads frames until one of the given type arrives,
// returning everything read. Fails the test on timeout.
func readFrames(t *testing.T, conn *websocket.Conn, until string) []voiceServerMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var frames []voiceServerMessage
	for {
		var frame voiceServerMessage
		require.NoError(t, conn.ReadJSON(&frame))
		frames = append(frames, frame)
		if frame.Type == until {
			return frames
		}
	}
}

func frameOfType(frames []voiceServerMessage, frameType string) *voiceServerMessage {
	for i := range frames {
		if frames[i].Type == frameType {
			return &frames[i]
		}
	}
	return nil
}

// =============================================================================
// Session Tests
// =============================================================================

func TestVoiceSession_ConnectSendsIdleStatus(t *testing.T) {
	conn, _ := newVoiceTestConn(t, &mockTranscriber{}, nil)

	frames := readFrames(t, conn, "status")
	require.Len(t, frames, 1)
	assert.Equal(t, "idle", frames[0].State)
}

func TestVoiceSession_PingPong(t *testing.T) {
	conn, _ := newVoiceTestConn(t, &mockTranscriber{}, nil)
	readFrames(t, conn, "status")

	require.NoError(t, conn.WriteJSON(voiceClientMessage{Type: "ping"}))
	frames := readFrames(t, conn, "pong")
	assert.Equal(t, "pong", frames[len(frames)-1].Type)
}

func TestVoiceSession_FullUtterance(t *testing.T) {
	stt := &mockTranscriber{transcript: "how was my week", language: "en"}
	conn, _ := newVoiceTestConn(t, stt, nil)
	readFrames(t, conn, "status")

	audio := base64.StdEncoding.EncodeToString([]byte("pcm-bytes"))
	require.NoError(t, conn.WriteJSON(voiceClientMessage{Type: "audio", Data: audio}))
	require.NoError(t, conn.WriteJSON(voiceClientMessage{Type: "stop"}))

	frames := readFrames(t, conn, "conversation_update")

	transcript := frameOfType(frames, "transcript")
	require.NotNil(t, transcript, "transcript frame missing")
	assert.Equal(t, "how was my week", transcript.Text)
	assert.Equal(t, "en", transcript.Language)

	response := frameOfType(frames, "response")
	require.NotNil(t, response, "response frame missing")
	assert.Equal(t, "spoken answer", response.Text)

	update := frameOfType(frames, "conversation_update")
	assert.NotEmpty(t, update.ConversationID,
		"a new conversation id should be assigned after the first exchange")
}

func TestVoiceSession_PromotesExchangeToMemory(t *testing.T) {
	stt := &mockTranscriber{
		transcript: "I always feel calmer after my morning walk by the river",
		language:   "en",
	}
	conn, deps := newVoiceTestConn(t, stt, nil)
	readFrames(t, conn, "status")

	audio := base64.StdEncoding.EncodeToString([]byte("pcm-bytes"))
	require.NoError(t, conn.WriteJSON(voiceClientMessage{Type: "audio", Data: audio}))
	require.NoError(t, conn.WriteJSON(voiceClientMessage{Type: "stop"}))
	readFrames(t, conn, "conversation_update")

	// Both turns reach short-term context and the first-person
	// statement is promoted, same as a text exchange.
	assert.Eventually(t, func() bool {
		return deps.shortTerm.count() == 2 && deps.longTerm.count() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestVoiceSession_SynthesisAudioFrame(t *testing.T) {
	stt := &mockTranscriber{transcript: "tell me something nice", language: "en"}
	tts := &mockSynthesizer{audio: []byte("wav-bytes")}
	conn, _ := newVoiceTestConn(t, stt, tts)
	readFrames(t, conn, "status")

	audio := base64.StdEncoding.EncodeToString([]byte("pcm-bytes"))
	require.NoError(t, conn.WriteJSON(voiceClientMessage{Type: "audio", Data: audio}))
	require.NoError(t, conn.WriteJSON(voiceClientMessage{Type: "stop"}))

	var frame *voiceServerMessage
	frames := readFrames(t, conn, "audio")
	frame = frameOfType(frames, "audio")
	require.NotNil(t, frame)
	assert.Equal(t, "wav", frame.Format)

	decoded, err := base64.StdEncoding.DecodeString(frame.Data)
	require.NoError(t, err)
	assert.Equal(t, []byte("wav-bytes"), decoded)
}

func TestVoiceSession_SynthesisFailureKeepsTextResponse(t *testing.T) {
	stt := &mockTranscriber{transcript: "hello", language: "en"}
	tts := &mockSynthesizer{err: errors.New("tts down")}
	conn, _ := newVoiceTestConn(t, stt, tts)
	readFrames(t, conn, "status")

	audio := base64.StdEncoding.EncodeToString([]byte("pcm"))
	require.NoError(t, conn.WriteJSON(voiceClientMessage{Type: "audio", Data: audio}))
	require.NoError(t, conn.WriteJSON(voiceClientMessage{Type: "stop"}))

	frames := readFrames(t, conn, "conversation_update")
	require.NotNil(t, frameOfType(frames, "response"))

	// The session should settle back to idle without an audio frame.
	idle := readFrames(t, conn, "status")
	assert.Nil(t, frameOfType(idle, "audio"))
}

func TestVoiceSession_StopWithoutAudio(t *testing.T) {
	conn, _ := newVoiceTestConn(t, &mockTranscriber{}, nil)
	readFrames(t, conn, "status")

	require.NoError(t, conn.WriteJSON(voiceClientMessage{Type: "stop"}))
	frames := readFrames(t, conn, "status")
	assert.Equal(t, "idle", frames[len(frames)-1].State)
}

func TestVoiceSession_InvalidBase64Rejected(t *testing.T) {
	conn, _ := newVoiceTestConn(t, &mockTranscriber{}, nil)
	readFrames(t, conn, "status")

	require.NoError(t, conn.WriteJSON(voiceClientMessage{Type: "audio", Data: "%%%not-base64%%%"}))
	frames := readFrames(t, conn, "error")
	assert.Contains(t, frames[len(frames)-1].Message, "invalid audio frame")
}

func TestVoiceSession_TranscriptionFailure(t *testing.T) {
	stt := &mockTranscriber{err: errors.New("whisper unreachable")}
	conn, _ := newVoiceTestConn(t, stt, nil)
	readFrames(t, conn, "status")

	audio := base64.StdEncoding.EncodeToString([]byte("pcm"))
	require.NoError(t, conn.WriteJSON(voiceClientMessage{Type: "audio", Data: audio}))
	require.NoError(t, conn.WriteJSON(voiceClientMessage{Type: "stop"}))

	frames := readFrames(t, conn, "error")
	assert.Equal(t, "Transcription failed", frames[len(frames)-1].Message)
}

func TestVoiceSession_EmptyTranscriptGoesIdle(t *testing.T) {
	stt := &mockTranscriber{transcript: "", language: "en"}
	conn, _ := newVoiceTestConn(t, stt, nil)
	readFrames(t, conn, "status")

	audio := base64.StdEncoding.EncodeToString([]byte("pcm"))
	require.NoError(t, conn.WriteJSON(voiceClientMessage{Type: "audio", Data: audio}))
	require.NoError(t, conn.WriteJSON(voiceClientMessage{Type: "stop"}))

	// Processing status first, then back to idle without a transcript.
	var last voiceServerMessage
	for {
		frames := readFrames(t, conn, "status")
		last = frames[len(frames)-1]
		assert.Nil(t, frameOfType(frames, "transcript"))
		if last.State == "idle" {
			break
		}
	}
	assert.Equal(t, "No speech detected", last.Message)
}
