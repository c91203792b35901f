// Copyright (C) 2025 Mindwell AI (oss@mindwell.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/mindwell-ai/mindwell/pkg/logging"
	"github.com/mindwell-ai/mindwell/services/orchestrator/datatypes"
	"github.com/mindwell-ai/mindwell/services/orchestrator/memory"
	"github.com/mindwell-ai/mindwell/services/orchestrator/middleware"
)

// =============================================================================
// Chunking
// =============================================================================

const (
	chunkSize    = 1000
	chunkOverlap = chunkSize / 10
)

var (
	defaultSeparators = []string{"\n\n", "\n", " ", ""}
	markdownSeparators = []string{
		"\n# ", "\n## ", "\n### ", "\n#### ", "\n##### ", "\n###### ",
		"\n\n", "\n", " ", "",
	}
	codeSeparators = []string{
		"\nfunction ", "\nclass ", "\ndef ", "\nfunc ", "\ntype ",
		"\n\n", "\n", " ", "",
	}
)

// splitterForSource picks separator sets by file extension so chunk
// boundaries land on structural edges where possible.
func splitterForSource(source string) textsplitter.TextSplitter {
	separators := defaultSeparators
	switch filepath.Ext(source) {
	case ".md":
		separators = markdownSeparators
	case ".py", ".js", ".ts", ".go", ".java", ".c", ".cpp", ".rs":
		separators = codeSeparators
	}
	return textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
		textsplitter.WithSeparators(separators),
	)
}

// =============================================================================
// Document Handlers
// =============================================================================

// IngestDocument serves POST /v1/documents. The text is chunked,
// batch embedded and written to Weaviate in one batch request.
func IngestDocument(client *weaviate.Client, embedder memory.Embedder,
	logger *logging.Logger) gin.HandlerFunc {

	return func(c *gin.Context) {
		userID := middleware.UserID(c)

		var req datatypes.IngestDocumentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		documentID, chunkCount, err := RunIngestion(c.Request.Context(),
			client, embedder, userID, req, logger)
		if err != nil {
			logger.Error("ingestion failed", "source", req.Source, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to ingest document"})
			return
		}

		logger.Info("document ingested",
			"source", req.Source,
			"document_id", documentID,
			"chunks", chunkCount,
		)
		c.JSON(http.StatusCreated, gin.H{
			"document_id": documentID,
			"source":      req.Source,
			"chunks":      chunkCount,
		})
	}
}

// RunIngestion chunks, embeds and stores a document. Exposed so the
// CLI's local ingest path can reuse it.
func RunIngestion(ctx context.Context, client *weaviate.Client,
	embedder memory.Embedder, userID string, req datatypes.IngestDocumentRequest,
	logger *logging.Logger) (string, int, error) {

	chunks, err := splitterForSource(req.Source).SplitText(req.Text)
	if err != nil {
		return "", 0, fmt.Errorf("splitting text: %w", err)
	}
	if len(chunks) == 0 {
		return "", 0, fmt.Errorf("document produced no chunks")
	}

	vectors, err := embedder.BatchEmbed(ctx, chunks)
	if err != nil {
		return "", 0, fmt.Errorf("embedding chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return "", 0, fmt.Errorf("embedder returned %d vectors for %d chunks",
			len(vectors), len(chunks))
	}

	documentID := uuid.NewString()
	ingestedAt := time.Now().UnixMilli()
	objects := make([]*models.Object, len(chunks))
	for i, chunk := range chunks {
		// Chunk ids are content-derived so re-ingesting the same text
		// overwrites instead of duplicating.
		sum := sha256.Sum256([]byte(userID + "\x00" + req.Source + "\x00" + chunk))
		chunkUUID, _ := uuid.FromBytes(sum[:16])

		objects[i] = &models.Object{
			Class:  datatypes.DocumentChunkClass,
			ID:     strfmt.UUID(chunkUUID.String()),
			Vector: vectors[i],
			Properties: map[string]interface{}{
				"user_id":     userID,
				"document_id": documentID,
				"source":      req.Source,
				"content":     chunk,
				"chunk_index": i,
				"ingested_at": ingestedAt,
			},
		}
	}

	resp, err := client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("writing chunks: %w", err)
	}

	stored := 0
	for _, item := range resp {
		if item.Result != nil && item.Result.Status != nil && *item.Result.Status == "SUCCESS" {
			stored++
			continue
		}
		if item.Result != nil && item.Result.Errors != nil {
			for _, errItem := range item.Result.Errors.Error {
				logger.Warn("chunk rejected", "source", req.Source, "error", errItem.Message)
			}
		}
	}
	if stored == 0 {
		return "", 0, fmt.Errorf("no chunks were stored")
	}
	return documentID, stored, nil
}

// ListDocuments serves GET /v1/documents: one row per ingested
// document for the authenticated user.
func ListDocuments(client *weaviate.Client, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.UserID(c)

		userFilter := filters.Where().
			WithPath([]string{"user_id"}).
			WithOperator(filters.Equal).
			WithValueString(userID)

		agg, err := client.GraphQL().Aggregate().
			WithClassName(datatypes.DocumentChunkClass).
			WithWhere(userFilter).
			WithGroupBy("document_id").
			WithFields(
				graphql.Field{Name: "groupedBy", Fields: []graphql.Field{{Name: "value"}}},
				graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}},
				graphql.Field{Name: "source", Fields: []graphql.Field{
					{Name: "topOccurrences", Fields: []graphql.Field{{Name: "value"}}},
				}},
				graphql.Field{Name: "ingested_at", Fields: []graphql.Field{{Name: "minimum"}}},
			).
			Do(c.Request.Context())
		if err != nil {
			logger.Error("listing documents failed", "user_id", userID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list documents"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"documents": parseDocumentGroups(agg.Data)})
	}
}

// parseDocumentGroups walks the untyped aggregate response and builds
// one summary row per document group.
func parseDocumentGroups(data map[string]models.JSONObject) []datatypes.DocumentSummary {
	summaries := []datatypes.DocumentSummary{}
	aggMap, ok := data["Aggregate"].(map[string]interface{})
	if !ok {
		return summaries
	}
	groups, ok := aggMap[datatypes.DocumentChunkClass].([]interface{})
	if !ok {
		return summaries
	}
	for _, groupItem := range groups {
		groupMap, ok := groupItem.(map[string]interface{})
		if !ok {
			continue
		}
		groupedBy, ok := groupMap["groupedBy"].(map[string]interface{})
		if !ok {
			continue
		}
		id, ok := groupedBy["value"].(string)
		if !ok {
			continue
		}

		summary := datatypes.DocumentSummary{DocumentID: id}
		if meta, ok := groupMap["meta"].(map[string]interface{}); ok {
			if count, ok := meta["count"].(float64); ok {
				summary.ChunkCount = int(count)
			}
		}
		if sourceAgg, ok := groupMap["source"].(map[string]interface{}); ok {
			if occ, ok := sourceAgg["topOccurrences"].([]interface{}); ok && len(occ) > 0 {
				if top, ok := occ[0].(map[string]interface{}); ok {
					if value, ok := top["value"].(string); ok {
						summary.Source = value
					}
				}
			}
		}
		if tsAgg, ok := groupMap["ingested_at"].(map[string]interface{}); ok {
			if minimum, ok := tsAgg["minimum"].(float64); ok {
				summary.IngestedAt = time.UnixMilli(int64(minimum)).UTC()
			}
		}
		summaries = append(summaries, summary)
	}
	return summaries
}

// DeleteDocument serves DELETE /v1/documents/:id. Removes every chunk
// of the document owned by the authenticated user.
func DeleteDocument(client *weaviate.Client, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.UserID(c)
		documentID := c.Param("id")

		where := filters.Where().
			WithOperator(filters.And).
			WithOperands([]*filters.WhereBuilder{
				filters.Where().
					WithPath([]string{"user_id"}).
					WithOperator(filters.Equal).
					WithValueString(userID),
				filters.Where().
					WithPath([]string{"document_id"}).
					WithOperator(filters.Equal).
					WithValueString(documentID),
			})

		resp, err := client.Batch().ObjectsBatchDeleter().
			WithClassName(datatypes.DocumentChunkClass).
			WithOutput("minimal").
			WithWhere(where).
			Do(c.Request.Context())
		if err != nil {
			logger.Error("deleting document failed",
				"document_id", documentID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete document"})
			return
		}

		var matched int64
		if resp != nil && resp.Results != nil {
			matched = resp.Results.Matches
		}
		if matched == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
			return
		}
		logger.Info("document deleted", "document_id", documentID, "chunks", matched)
		c.JSON(http.StatusOK, gin.H{"status": "deleted", "document_id": documentID})
	}
}
