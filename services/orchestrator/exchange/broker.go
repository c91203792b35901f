// Copyright (C) 2025 Mindwell AI (oss@mindwell.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package exchange reconciles streamed exchanges with the conversation
// store.
//
// An Exchange begins before the first token is generated and completes
// after the full answer is known. Between those two points the broker
// holds an exclusive pending slot for the conversation handle, so a
// second request against the same conversation is rejected instead of
// interleaving. Completion is where a provisional handle becomes a
// durable conversation: the durable row and both turns are written in
// one store transaction, exactly once.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/mindwell-ai/mindwell/pkg/logging"
	"github.com/mindwell-ai/mindwell/services/orchestrator/datatypes"
	"github.com/mindwell-ai/mindwell/services/orchestrator/store"
)

var brokerTracer = otel.Tracer("mindwell.exchange")

var (
	// ErrConflict is returned when the conversation already has an
	// exchange in flight.
	ErrConflict = errors.New("conversation already has an exchange in flight")

	// ErrOwnership is returned when the conversation belongs to a
	// different user. API handlers present it exactly like a missing
	// conversation.
	ErrOwnership = errors.New("conversation not owned by requester")

	// ErrCompleted is returned when Complete is called twice on the
	// same exchange.
	ErrCompleted = errors.New("exchange already completed")
)

// =============================================================================
// Conversation Handles
// =============================================================================

// HandleState distinguishes a client-local conversation from a
// persisted one. The two states are explicit rather than encoded in an
// id prefix so the promotion point is visible in the type system.
type HandleState int

const (
	// Provisional means the conversation does not exist in the store
	// yet. The id may be client-generated or minted by the broker.
	Provisional HandleState = iota

	// Durable means the conversation row exists and the id is
	// server-issued.
	Durable
)

func (s HandleState) String() string {
	switch s {
	case Provisional:
		return "provisional"
	case Durable:
		return "durable"
	default:
		return "unknown"
	}
}

// Handle names a conversation together with its persistence state.
type Handle struct {
	State HandleState
	ID    string
}

// =============================================================================
// Exchange
// =============================================================================

// Exchange is one in-flight user/assistant turn pair. It is created by
// Broker.Begin and consumed by exactly one of Broker.Complete or
// Broker.Abort.
type Exchange struct {
	handle    Handle
	userID    string
	startedAt time.Time

	mu         sync.Mutex
	completed  bool
	completing bool
	released   bool
}

// Handle returns the conversation handle this exchange runs under.
func (e *Exchange) Handle() Handle {
	return e.handle
}

// UserID returns the owner of the exchange.
func (e *Exchange) UserID() string {
	return e.userID
}

// StartedAt returns when the exchange was opened.
func (e *Exchange) StartedAt() time.Time {
	return e.startedAt
}

// =============================================================================
// Broker
// =============================================================================

// Broker owns the pending-exchange table and the promotion of
// provisional handles.
//
// # Thread Safety
//
// All methods are safe for concurrent use. The pending table is the
// per-conversation mutual exclusion: Begin inserts, Complete and Abort
// remove.
type Broker struct {
	store         store.ConversationStore
	titleMaxRunes int
	logger        *logging.Logger

	mu      sync.Mutex
	pending map[string]*Exchange
}

// NewBroker builds a Broker. All dependencies are required.
func NewBroker(convStore store.ConversationStore, titleMaxRunes int,
	logger *logging.Logger) *Broker {

	if convStore == nil {
		panic("NewBroker: conversation store is required")
	}
	if logger == nil {
		panic("NewBroker: logger is required")
	}
	if titleMaxRunes < 4 {
		titleMaxRunes = 50
	}
	return &Broker{
		store:         convStore,
		titleMaxRunes: titleMaxRunes,
		logger:        logger,
		pending:       make(map[string]*Exchange),
	}
}

// Begin opens an exchange for the given conversation handle.
//
// # Description
//
// Resolves conversationID against the store:
//
//   - empty id: a fresh provisional handle is minted
//   - id of an existing conversation: durable handle, after an
//     ownership check
//   - unknown id: treated as a client-generated provisional handle
//
// Then the handle's pending slot is claimed. ErrConflict means another
// exchange is already streaming for this conversation; the caller maps
// it to HTTP 409.
func (b *Broker) Begin(ctx context.Context, userID, conversationID string) (*Exchange, error) {
	ctx, span := brokerTracer.Start(ctx, "Broker.Begin")
	defer span.End()

	if userID == "" {
		return nil, fmt.Errorf("userID is required")
	}

	handle, err := b.resolveHandle(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}

	ex := &Exchange{
		handle:    handle,
		userID:    userID,
		startedAt: time.Now().UTC(),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, busy := b.pending[handle.ID]; busy {
		return nil, ErrConflict
	}
	b.pending[handle.ID] = ex

	b.logger.Debug("exchange opened",
		"conversation_id", handle.ID,
		"state", handle.State.String(),
		"user_id", userID,
	)
	return ex, nil
}

// Complete persists the exchange and returns the durable conversation.
//
// For a provisional handle this creates the conversation (title derived
// from the user message) and both turns in one transaction; the
// returned conversation carries the newly issued durable id. For a
// durable handle both turns are appended. Either way the pending slot
// is released only after persistence finished, so a concurrent Begin
// observes the conflict for the whole lifetime of the stream.
//
// A persistence failure leaves the exchange open; the caller is
// expected to Abort it after reporting the error.
func (b *Broker) Complete(ctx context.Context, ex *Exchange,
	userMsg, assistantMsg datatypes.ConversationMessage) (*datatypes.Conversation, error) {

	ctx, span := brokerTracer.Start(ctx, "Broker.Complete")
	defer span.End()

	if ex == nil {
		return nil, fmt.Errorf("exchange is nil")
	}

	// Claim completion before touching the store so a concurrent
	// Complete on the same exchange cannot persist a second time. The
	// claim is rolled back on persistence failure so the caller can
	// retry or Abort.
	ex.mu.Lock()
	if ex.completed || ex.completing {
		ex.mu.Unlock()
		return nil, ErrCompleted
	}
	ex.completing = true
	ex.mu.Unlock()

	var conv *datatypes.Conversation
	var err error
	switch ex.handle.State {
	case Provisional:
		title := datatypes.DeriveTitle(userMsg.Content, b.titleMaxRunes)
		conv, err = b.store.CreateWithExchange(ctx, ex.userID, title, userMsg, assistantMsg)
		if err != nil {
			b.unclaim(ex)
			return nil, fmt.Errorf("promoting provisional conversation: %w", err)
		}
	case Durable:
		if err = b.store.AppendExchange(ctx, ex.handle.ID, userMsg, assistantMsg); err != nil {
			b.unclaim(ex)
			return nil, fmt.Errorf("appending exchange: %w", err)
		}
		conv, err = b.store.Get(ctx, ex.handle.ID)
		if err != nil {
			b.unclaim(ex)
			return nil, fmt.Errorf("reloading conversation: %w", err)
		}
	default:
		b.unclaim(ex)
		return nil, fmt.Errorf("unknown handle state %d", ex.handle.State)
	}

	ex.mu.Lock()
	ex.completed = true
	ex.mu.Unlock()
	b.release(ex)

	b.logger.Info("exchange completed",
		"conversation_id", conv.ID,
		"promoted", ex.handle.State == Provisional,
	)
	return conv, nil
}

// Abort releases the pending slot without persisting anything. Safe to
// call after Complete and safe to call twice.
func (b *Broker) Abort(ex *Exchange) {
	if ex == nil {
		return
	}
	b.release(ex)
}

// InFlight reports the number of open exchanges.
func (b *Broker) InFlight() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *Broker) unclaim(ex *Exchange) {
	ex.mu.Lock()
	ex.completing = false
	ex.mu.Unlock()
}

func (b *Broker) release(ex *Exchange) {
	ex.mu.Lock()
	if ex.released {
		ex.mu.Unlock()
		return
	}
	ex.released = true
	ex.mu.Unlock()

	b.mu.Lock()
	// Only remove our own registration; a later exchange may have
	// reclaimed the key after we were already released.
	if current, ok := b.pending[ex.handle.ID]; ok && current == ex {
		delete(b.pending, ex.handle.ID)
	}
	b.mu.Unlock()
}

func (b *Broker) resolveHandle(ctx context.Context, userID, conversationID string) (Handle, error) {
	if conversationID == "" {
		return Handle{State: Provisional, ID: uuid.NewString()}, nil
	}

	conv, err := b.store.Get(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		// Unknown ids are client-generated provisional handles. The
		// literal id becomes the lock key so retries of the same
		// provisional conversation still collide.
		return Handle{State: Provisional, ID: conversationID}, nil
	}
	if err != nil {
		return Handle{}, fmt.Errorf("resolving conversation: %w", err)
	}
	if conv.UserID != userID {
		return Handle{}, ErrOwnership
	}
	return Handle{State: Durable, ID: conv.ID}, nil
}
