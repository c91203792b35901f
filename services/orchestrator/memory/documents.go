// Copyright (C) 2025 Mindwell AI (oss@mindwell.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel"

	"github.com/mindwell-ai/mindwell/services/orchestrator/datatypes"
)

var docTracer = otel.Tracer("mindwell.memory.documents")

// WeaviateDocumentIndex implements DocumentIndex against the
// DocumentChunk class.
type WeaviateDocumentIndex struct {
	client   *weaviate.Client
	embedder Embedder
}

// NewWeaviateDocumentIndex builds the index.
func NewWeaviateDocumentIndex(client *weaviate.Client, embedder Embedder) *WeaviateDocumentIndex {
	if client == nil {
		panic("NewWeaviateDocumentIndex: weaviate client is required")
	}
	if embedder == nil {
		panic("NewWeaviateDocumentIndex: embedder is required")
	}
	return &WeaviateDocumentIndex{client: client, embedder: embedder}
}

// Search implements DocumentIndex.
func (d *WeaviateDocumentIndex) Search(ctx context.Context, userID, query,
	documentID string, topK int) ([]datatypes.DocumentChunk, error) {

	ctx, span := docTracer.Start(ctx, "DocumentIndex.Search")
	defer span.End()

	if topK <= 0 {
		return nil, nil
	}
	vector, err := d.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	userFilter := filters.Where().
		WithPath([]string{"user_id"}).
		WithOperator(filters.Equal).
		WithValueString(userID)

	whereFilter := userFilter
	if documentID != "" {
		documentFilter := filters.Where().
			WithPath([]string{"document_id"}).
			WithOperator(filters.Equal).
			WithValueString(documentID)
		whereFilter = filters.Where().
			WithOperator(filters.And).
			WithOperands([]*filters.WhereBuilder{userFilter, documentFilter})
	}

	nearVector := d.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector)

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "source"},
		{Name: "document_id"},
		{Name: "chunk_index"},
		{Name: "ingested_at"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
			{Name: "certainty"},
		}},
	}

	result, err := d.client.GraphQL().Get().
		WithClassName(datatypes.DocumentChunkClass).
		WithFields(fields...).
		WithWhere(whereFilter).
		WithNearVector(nearVector).
		WithLimit(topK).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("searching document chunks: %w", err)
	}
	return parseDocumentChunks(result.Data, userID)
}

type documentChunkGraphQLResponse struct {
	Get struct {
		DocumentChunk []struct {
			Content    string  `json:"content"`
			Source     string  `json:"source"`
			DocumentID string  `json:"document_id"`
			ChunkIndex float64 `json:"chunk_index"`
			IngestedAt float64 `json:"ingested_at"`
			Additional struct {
				ID        string  `json:"id"`
				Certainty float64 `json:"certainty"`
			} `json:"_additional"`
		} `json:"DocumentChunk"`
	} `json:"Get"`
}

func parseDocumentChunks(data interface{}, userID string) ([]datatypes.DocumentChunk, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshaling graphql response: %w", err)
	}
	var response documentChunkGraphQLResponse
	if err := json.Unmarshal(jsonBytes, &response); err != nil {
		return nil, fmt.Errorf("parsing graphql response: %w", err)
	}

	chunks := make([]datatypes.DocumentChunk, 0, len(response.Get.DocumentChunk))
	for _, raw := range response.Get.DocumentChunk {
		chunks = append(chunks, datatypes.DocumentChunk{
			ID:         raw.Additional.ID,
			UserID:     userID,
			DocumentID: raw.DocumentID,
			Source:     raw.Source,
			Content:    raw.Content,
			ChunkIndex: int(raw.ChunkIndex),
			IngestedAt: time.UnixMilli(int64(raw.IngestedAt)).UTC(),
			Score:      raw.Additional.Certainty,
		})
	}
	return chunks, nil
}

var _ DocumentIndex = (*WeaviateDocumentIndex)(nil)
