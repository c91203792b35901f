// Copyright (C) 2025 Mindwell AI (oss@mindwell.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// =============================================================================
// Short-Term Context
// =============================================================================

// ShortTermEntry is one decaying entry in the short-term context store.
//
// Weight is computed at read time as exp(-lambda * age_seconds) and is
// never persisted; the stored entry only carries its creation time.
type ShortTermEntry struct {
	Text       string    `json:"text"`
	Importance float64   `json:"importance"`
	CreatedAt  time.Time `json:"created_at"`
	Weight     float64   `json:"weight,omitempty"`
}

// =============================================================================
// Long-Term Memory
// =============================================================================

// Valid MemoryFact kinds. Kind is a coarse filter, not an ontology.
const (
	MemoryKindFact       = "fact"
	MemoryKindPreference = "preference"
	MemoryKindEvent      = "event"
)

// MemoryFact is a durable semantic memory about a user.
//
// Score is populated on retrieval only: similarity times importance,
// with ties broken by newer CreatedAt.
type MemoryFact struct {
	ID         string            `json:"id"`
	UserID     string            `json:"user_id"`
	Content    string            `json:"content"`
	Kind       string            `json:"kind"`
	Importance float64           `json:"importance"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	Score      float64           `json:"score,omitempty"`
}

// =============================================================================
// Document Knowledge
// =============================================================================

// DocumentChunk is one embedded slice of an ingested document.
type DocumentChunk struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	DocumentID string    `json:"document_id"`
	Source     string    `json:"source"`
	Content    string    `json:"content"`
	ChunkIndex int       `json:"chunk_index"`
	IngestedAt time.Time `json:"ingested_at"`
	Score      float64   `json:"score,omitempty"`
}

// IngestDocumentRequest is the body of POST /v1/documents. Text
// extraction happens upstream; this endpoint receives plain text.
type IngestDocumentRequest struct {
	Source string `json:"source" validate:"required,max=512"`
	Text   string `json:"text" validate:"required"`
}

// Validate validates the ingest request.
func (r *IngestDocumentRequest) Validate() error {
	return chatValidate.Struct(r)
}

// DocumentSummary is one row of GET /v1/documents.
type DocumentSummary struct {
	DocumentID string    `json:"document_id"`
	Source     string    `json:"source"`
	ChunkCount int       `json:"chunk_count"`
	IngestedAt time.Time `json:"ingested_at"`
}

// =============================================================================
// Memory API Requests
// =============================================================================

// StoreMemoryRequest is the body of POST /v1/memory/ltm. It is the
// explicit path into long-term memory, next to the conversational
// promotion heuristic.
type StoreMemoryRequest struct {
	Content    string  `json:"content" validate:"required,max=4096"`
	Kind       string  `json:"kind" validate:"omitempty,oneof=fact preference event"`
	Importance float64 `json:"importance" validate:"gte=0,lte=1"`
}

// Validate validates the store request.
func (r *StoreMemoryRequest) Validate() error {
	return chatValidate.Struct(r)
}

// =============================================================================
// Embedding Service Wire Types
// =============================================================================

// EmbeddingRequest is the body sent to the embedding sidecar /embed.
type EmbeddingRequest struct {
	Text string `json:"text"`
}

// EmbeddingResponse is the sidecar's reply for a single text.
type EmbeddingResponse struct {
	Vector []float32 `json:"vector"`
	Dim    int       `json:"dim"`
}

// BatchEmbeddingRequest is the body sent to /batch_embed.
type BatchEmbeddingRequest struct {
	Texts []string `json:"texts"`
}

// BatchEmbeddingResponse is the sidecar's reply for a batch.
type BatchEmbeddingResponse struct {
	Vectors [][]float32 `json:"vectors"`
	Dim     int         `json:"dim"`
}
