// Copyright (C) 2025 Mindwell AI (oss@mindwell.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package memory provides the three retrieval backends behind the
// context assembler: the short-term context store (badger), the
// long-term memory index (weaviate), and the document knowledge index
// (weaviate), plus the embedding sidecar client they share.
package memory

import (
	"context"

	"github.com/mindwell-ai/mindwell/services/orchestrator/datatypes"
)

// ShortTermStore holds recent per-user conversational fragments with
// time decay. Entries expire on their own; callers never delete
// individual entries.
type ShortTermStore interface {
	// Append stores one entry for the user. CreatedAt is set by the
	// store when zero.
	Append(ctx context.Context, userID string, entry datatypes.ShortTermEntry) error

	// Recent returns up to limit entries, newest first, each with its
	// decay weight populated.
	Recent(ctx context.Context, userID string, limit int) ([]datatypes.ShortTermEntry, error)

	// Clear drops all entries for the user.
	Clear(ctx context.Context, userID string) error

	// Close releases the underlying database.
	Close() error
}

// LongTermIndex stores durable semantic memories per user.
type LongTermIndex interface {
	// Upsert writes one memory fact. The fact id is derived from its
	// content, so rewriting the same statement never duplicates it.
	Upsert(ctx context.Context, fact datatypes.MemoryFact) error

	// Search returns the topK facts for the query ranked by
	// similarity times importance, ties broken by newer created_at.
	Search(ctx context.Context, userID, query string, topK int) ([]datatypes.MemoryFact, error)
}

// DocumentIndex retrieves chunks of previously ingested documents.
type DocumentIndex interface {
	// Search returns the topK chunks for the query. A non-empty
	// documentID restricts the search to that document.
	Search(ctx context.Context, userID, query, documentID string, topK int) ([]datatypes.DocumentChunk, error)
}

// Embedder turns text into vectors. Implemented by EmbeddingClient and
// by test fakes.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	BatchEmbed(ctx context.Context, texts []string) ([][]float32, error)
}
