// Copyright (C) 2025 Mindwell AI (oss@mindwell.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store persists conversations and messages.
//
// The conversation store is the durable side of the reconciler: a
// conversation row only exists after its first exchange completed, and
// both turns of an exchange land in a single transaction.
package store

import (
	"context"
	"errors"

	"github.com/mindwell-ai/mindwell/services/orchestrator/datatypes"
)

// ErrNotFound is returned when the requested conversation does not
// exist. Callers must not distinguish "never existed" from "deleted".
var ErrNotFound = errors.New("conversation not found")

// ConversationStore is the persistence boundary for conversations.
//
// All methods are safe for concurrent use. Failures other than
// ErrNotFound indicate the store itself misbehaved and map to a
// persistence error at the API boundary.
type ConversationStore interface {
	// CreateWithExchange creates a conversation and its first two
	// messages in one transaction. This is the provisional-to-durable
	// promotion: the durable id exists if and only if the first
	// exchange was persisted.
	CreateWithExchange(ctx context.Context, userID, title string,
		userMsg, assistantMsg datatypes.ConversationMessage) (*datatypes.Conversation, error)

	// AppendExchange appends both turns of an exchange to an existing
	// conversation in one transaction and bumps updated_at.
	AppendExchange(ctx context.Context, conversationID string,
		userMsg, assistantMsg datatypes.ConversationMessage) error

	// Get returns the conversation or ErrNotFound.
	Get(ctx context.Context, conversationID string) (*datatypes.Conversation, error)

	// List returns the user's conversations, most recently updated first.
	List(ctx context.Context, userID string) ([]datatypes.Conversation, error)

	// ListMessages returns a conversation's messages in chronological
	// order, or ErrNotFound when the conversation does not exist.
	ListMessages(ctx context.Context, conversationID string) ([]datatypes.ConversationMessage, error)

	// Rename replaces the conversation title.
	Rename(ctx context.Context, conversationID, title string) error

	// Delete removes the conversation and all its messages.
	Delete(ctx context.Context, conversationID string) error

	// Close releases the underlying database.
	Close() error
}
