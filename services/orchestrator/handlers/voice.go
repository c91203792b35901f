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
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mindwell-ai/mindwell/pkg/logging"
	"github.com/mindwell-ai/mindwell/services/llm"
	"github.com/mindwell-ai/mindwell/services/orchestrator/assembler"
	"github.com/mindwell-ai/mindwell/services/orchestrator/config"
	"github.com/mindwell-ai/mindwell/services/orchestrator/datatypes"
	"github.com/mindwell-ai/mindwell/services/orchestrator/exchange"
	"github.com/mindwell-ai/mindwell/services/orchestrator/memory"
	"github.com/mindwell-ai/mindwell/services/orchestrator/middleware"
	"github.com/mindwell-ai/mindwell/services/orchestrator/observability"
	"github.com/mindwell-ai/mindwell/services/voice"
)

// =============================================================================
// Wire Types
// =============================================================================

// maxVoiceBufferBytes caps buffered audio per utterance. Roughly five
// minutes of 16kHz 16-bit mono.
const maxVoiceBufferBytes = 10 * 1024 * 1024

// voiceClientMessage is what the browser sends: audio frames while
// recording, then stop to commit the utterance.
type voiceClientMessage struct {
	Type           string `json:"type"` // audio | stop | ping
	Data           string `json:"data,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// voiceServerMessage covers every server-to-client frame. Type is one
// of status, transcript, response, audio, conversation_update, error,
// pong.
type voiceServerMessage struct {
	Type           string `json:"type"`
	State          string `json:"state,omitempty"`
	Message        string `json:"message,omitempty"`
	Text           string `json:"text,omitempty"`
	Language       string `json:"language,omitempty"`
	Data           string `json:"data,omitempty"`
	Format         string `json:"format,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Timestamp      int64  `json:"timestamp"`
}

var voiceUpgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// =============================================================================
// Handler
// =============================================================================

// VoiceHandler serves the push-to-talk websocket at /v1/voice/ws.
//
// # Description
//
// The client records locally and streams base64 audio frames; a stop
// frame commits the utterance. The server then runs transcription,
// the same context-assembly and generation pipeline as text chat, and
// speech synthesis, reporting progress through status frames
// (listening, processing, speaking, idle).
//
// Voice exchanges persist through the exchange broker exactly like
// text ones, so a voice turn and a text turn in the same conversation
// cannot interleave.
type VoiceHandler struct {
	llmClient llm.LLMClient
	assembler *assembler.Assembler
	broker    *exchange.Broker
	promoter  *memoryPromoter
	persona   *config.PersonaProvider
	stt       voice.Transcriber
	tts       voice.Synthesizer
	timeout   time.Duration
	logger    *logging.Logger
	metrics   *observability.StreamingMetrics
}

// NewVoiceHandler builds the handler. longTerm may be nil in
// lightweight deployments; tts may be nil, in which case responses are
// text-only.
func NewVoiceHandler(
	llmClient llm.LLMClient,
	ctxAssembler *assembler.Assembler,
	broker *exchange.Broker,
	shortTerm memory.ShortTermStore,
	longTerm memory.LongTermIndex,
	persona *config.PersonaProvider,
	stt voice.Transcriber,
	tts voice.Synthesizer,
	generationTimeout time.Duration,
	logger *logging.Logger,
) *VoiceHandler {

	if llmClient == nil {
		panic("NewVoiceHandler: llmClient is required")
	}
	if ctxAssembler == nil {
		panic("NewVoiceHandler: assembler is required")
	}
	if broker == nil {
		panic("NewVoiceHandler: broker is required")
	}
	if shortTerm == nil {
		panic("NewVoiceHandler: shortTerm store is required")
	}
	if persona == nil {
		panic("NewVoiceHandler: persona provider is required")
	}
	if stt == nil {
		panic("NewVoiceHandler: transcriber is required")
	}
	if logger == nil {
		panic("NewVoiceHandler: logger is required")
	}
	if generationTimeout <= 0 {
		generationTimeout = 120 * time.Second
	}

	metrics := observability.Default()
	return &VoiceHandler{
		llmClient: llmClient,
		assembler: ctxAssembler,
		broker:    broker,
		promoter:  &memoryPromoter{shortTerm: shortTerm, longTerm: longTerm, metrics: metrics},
		persona:   persona,
		stt:       stt,
		tts:       tts,
		timeout:   generationTimeout,
		logger:    logger,
		metrics:   metrics,
	}
}

// HandleVoiceSession upgrades the connection and runs the session
// loop until the client disconnects.
func (h *VoiceHandler) HandleVoiceSession(c *gin.Context) {
	userID := middleware.UserID(c)

	ws, err := voiceUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	h.metrics.StreamStarted(observability.EndpointVoiceStream)
	defer h.metrics.StreamEnded(observability.EndpointVoiceStream)

	sessionID := uuid.NewString()
	log := h.logger.With("session_id", sessionID, "user_id", userID)
	log.Info("voice session connected")

	sendFrame(ws, log, voiceServerMessage{Type: "status", State: "idle",
		Message: "Voice session connected"})

	var buffer []byte
	conversationID := ""

	for {
		var msg voiceClientMessage
		if err := ws.ReadJSON(&msg); err != nil {
			log.Info("voice session disconnected", "error", err.Error())
			return
		}
		if msg.ConversationID != "" {
			conversationID = msg.ConversationID
		}

		switch msg.Type {
		case "audio":
			frame, err := base64.StdEncoding.DecodeString(msg.Data)
			if err != nil {
				sendFrame(ws, log, voiceServerMessage{Type: "error",
					Message: "invalid audio frame"})
				continue
			}
			if len(buffer)+len(frame) > maxVoiceBufferBytes {
				sendFrame(ws, log, voiceServerMessage{Type: "error",
					Message: "utterance too long"})
				buffer = nil
				continue
			}
			if len(buffer) == 0 {
				sendFrame(ws, log, voiceServerMessage{Type: "status",
					State: "listening", Message: "Receiving audio"})
			}
			buffer = append(buffer, frame...)

		case "stop":
			if len(buffer) == 0 {
				sendFrame(ws, log, voiceServerMessage{Type: "status",
					State: "idle", Message: "No audio received"})
				continue
			}
			newConvID := h.processUtterance(c.Request.Context(), ws, log,
				userID, conversationID, buffer)
			if newConvID != "" {
				conversationID = newConvID
			}
			buffer = nil

		case "ping":
			sendFrame(ws, log, voiceServerMessage{Type: "pong"})
			h.metrics.RecordKeepAlive(observability.EndpointVoiceStream)

		default:
			log.Warn("unknown voice message type", "type", msg.Type)
		}
	}
}

// processUtterance runs one committed utterance through the STT, chat
// and TTS pipeline. Returns the conversation id on success so a new
// conversation sticks for the rest of the session.
func (h *VoiceHandler) processUtterance(ctx context.Context, ws *websocket.Conn,
	log *logging.Logger, userID, conversationID string, audio []byte) string {

	endpoint := observability.EndpointVoiceStream
	start := time.Now()
	success := false
	defer func() {
		h.metrics.RecordRequest(endpoint, success)
		h.metrics.RecordStreamDuration(endpoint, time.Since(start).Seconds(), success)
	}()

	sendFrame(ws, log, voiceServerMessage{Type: "status", State: "processing",
		Message: "Transcribing audio"})

	transcript, language, err := h.stt.Transcribe(ctx, audio)
	if err != nil {
		log.Error("transcription failed", "error", err)
		h.metrics.RecordError(endpoint, observability.ErrorCodeGeneration)
		sendFrame(ws, log, voiceServerMessage{Type: "error",
			Message: "Transcription failed"})
		return ""
	}
	if transcript == "" {
		sendFrame(ws, log, voiceServerMessage{Type: "status", State: "idle",
			Message: "No speech detected"})
		return ""
	}
	sendFrame(ws, log, voiceServerMessage{Type: "transcript",
		Text: transcript, Language: language})

	// Same exchange discipline as text chat: one in flight per
	// conversation, persist before acknowledging.
	ex, err := h.broker.Begin(ctx, userID, conversationID)
	if err != nil {
		h.handleVoiceBeginError(ws, log, endpoint, err)
		return ""
	}
	completed := false
	defer func() {
		if !completed {
			h.broker.Abort(ex)
		}
	}()

	sendFrame(ws, log, voiceServerMessage{Type: "status", State: "processing",
		Message: "Generating response"})

	bundle := h.assembler.Assemble(ctx, assembler.Request{UserID: userID, Query: transcript})
	h.metrics.RecordOmissions(bundle.Omitted)

	genCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	persona := h.persona.Current()
	system := persona.SystemPrompt
	if rendered := bundle.Render(); rendered != "" {
		system += "\n\n" + rendered
	}
	answer, err := h.llmClient.Chat(genCtx, []datatypes.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: transcript},
	}, llm.GenerationParams{})
	if err != nil {
		log.Error("voice generation failed", "error", err)
		h.metrics.RecordError(endpoint, observability.ErrorCodeGeneration)
		sendFrame(ws, log, voiceServerMessage{Type: "error",
			Message: sanitizeErrorForClient(err.Error())})
		return ""
	}

	now := time.Now().UTC()
	metadata := bundle.AuditMetadata()
	metadata["modality"] = "voice"
	metadata["language"] = language

	conv, err := h.broker.Complete(ctx, ex,
		datatypes.ConversationMessage{
			ID: uuid.NewString(), Role: "user", Content: transcript, CreatedAt: now,
		},
		datatypes.ConversationMessage{
			ID: uuid.NewString(), Role: "assistant", Content: answer,
			Metadata: metadata, CreatedAt: now,
		})
	if err != nil {
		log.Error("persisting voice exchange failed", "error", err)
		h.metrics.RecordError(endpoint, observability.ErrorCodePersistence)
		sendFrame(ws, log, voiceServerMessage{Type: "error",
			Message: "Failed to save this exchange. Please retry."})
		return ""
	}
	completed = true

	// Same detached memory writes as text chat, so voice turns feed
	// the rolling context too.
	go h.promoter.Promote(userID, transcript, answer, log)

	sendFrame(ws, log, voiceServerMessage{Type: "response", Text: answer})
	sendFrame(ws, log, voiceServerMessage{Type: "conversation_update",
		ConversationID: conv.ID})

	if h.tts != nil {
		sendFrame(ws, log, voiceServerMessage{Type: "status", State: "speaking",
			Message: "Synthesizing speech"})
		rendered, err := h.tts.Synthesize(ctx, answer)
		if err != nil {
			// The text response already went out; audio is best effort.
			log.Warn("synthesis failed", "error", err)
		} else {
			sendFrame(ws, log, voiceServerMessage{Type: "audio",
				Data:   base64.StdEncoding.EncodeToString(rendered),
				Format: "wav"})
		}
	}

	sendFrame(ws, log, voiceServerMessage{Type: "status", State: "idle",
		Message: "Ready for next message"})
	success = true
	return conv.ID
}

// handleVoiceBeginError reports broker.Begin failures over the socket.
func (h *VoiceHandler) handleVoiceBeginError(ws *websocket.Conn, log *logging.Logger,
	endpoint observability.Endpoint, err error) {

	switch {
	case errors.Is(err, exchange.ErrConflict):
		h.metrics.RecordConflict()
		h.metrics.RecordError(endpoint, observability.ErrorCodeConflict)
		sendFrame(ws, log, voiceServerMessage{Type: "error",
			Message: "An exchange is already in progress for this conversation"})
	default:
		log.Error("claiming voice exchange failed", "error", err)
		h.metrics.RecordError(endpoint, observability.ErrorCodeInternal)
		sendFrame(ws, log, voiceServerMessage{Type: "error",
			Message: "Could not start the exchange"})
	}
}

// sendFrame stamps and writes one frame, logging write failures.
func sendFrame(ws *websocket.Conn, log *logging.Logger, msg voiceServerMessage) {
	msg.Timestamp = time.Now().UnixMilli()
	if err := ws.WriteJSON(msg); err != nil {
		log.Warn("websocket write failed", "type", msg.Type, "error", err)
	}
}
