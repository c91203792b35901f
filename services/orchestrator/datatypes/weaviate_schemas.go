// Copyright (C) 2025 Mindwell AI (oss@mindwell.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// Weaviate class names used by the memory indexes.
const (
	MemoryFactClass    = "MemoryFact"
	DocumentChunkClass = "DocumentChunk"
)

func GetMemoryFactSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       MemoryFactClass,
		Description: "A durable semantic memory about a user.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:            "user_id",
				DataType:        []string{"text"},
				Description:     "Owner of the memory.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "The remembered statement.",
				Tokenization: "word",
			},
			{
				Name:            "kind",
				DataType:        []string{"text"},
				Description:     "Coarse category: fact, preference, or event.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:        "importance",
				DataType:    []string{"number"},
				Description: "Retrieval weight in [0,1].",
			},
			{
				Name:        "metadata",
				DataType:    []string{"text"},
				Description: "Opaque JSON metadata attached at write time.",
			},
			{
				Name:            "created_at",
				DataType:        []string{"number"},
				Description:     "Unix milliseconds when the memory was written.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

func GetDocumentChunkSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       DocumentChunkClass,
		Description: "One embedded slice of an ingested document.",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexNullState:  true,
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:            "user_id",
				DataType:        []string{"text"},
				Description:     "Owner of the document.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "document_id",
				DataType:        []string{"text"},
				Description:     "Groups chunks of the same document.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "source",
				DataType:        []string{"text"},
				Description:     "The original file name or source label.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "The chunk text.",
				Tokenization: "word",
			},
			{
				Name:            "chunk_index",
				DataType:        []string{"int"},
				Description:     "Position of the chunk within its document.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "ingested_at",
				DataType:        []string{"number"},
				Description:     "Unix milliseconds when the chunk was ingested.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// EnsureWeaviateSchema creates any missing memory classes at startup.
// Existing classes are left untouched.
func EnsureWeaviateSchema(client *weaviate.Client) error {
	schemaGetters := []func() *models.Class{
		GetMemoryFactSchema,
		GetDocumentChunkSchema,
	}

	for _, getSchema := range schemaGetters {
		class := getSchema()
		slog.Info("Checking schema", "class", class.Class)

		// The client returns an error when the class does not exist.
		_, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(context.Background())
		if err != nil {
			slog.Info("Schema not found, creating it...", "class", class.Class)
			if err := client.Schema().ClassCreator().WithClass(class).Do(context.Background()); err != nil {
				return fmt.Errorf("creating schema for class %s: %w", class.Class, err)
			}
			slog.Info("Successfully created schema", "class", class.Class)
		} else {
			slog.Info("Schema already exists", "class", class.Class)
		}
	}
	return nil
}
