// Copyright (C) 2025 Mindwell AI (oss@mindwell.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package memory

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/fault"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel"

	"github.com/mindwell-ai/mindwell/pkg/logging"
	"github.com/mindwell-ai/mindwell/services/orchestrator/datatypes"
)

var ltmTracer = otel.Tracer("mindwell.memory.longterm")

// WeaviateLongTermIndex implements LongTermIndex against the
// MemoryFact class.
type WeaviateLongTermIndex struct {
	client   *weaviate.Client
	embedder Embedder
	logger   *logging.Logger
}

// NewWeaviateLongTermIndex builds the index. All dependencies are
// required.
func NewWeaviateLongTermIndex(client *weaviate.Client, embedder Embedder,
	logger *logging.Logger) *WeaviateLongTermIndex {

	if client == nil {
		panic("NewWeaviateLongTermIndex: weaviate client is required")
	}
	if embedder == nil {
		panic("NewWeaviateLongTermIndex: embedder is required")
	}
	if logger == nil {
		panic("NewWeaviateLongTermIndex: logger is required")
	}
	return &WeaviateLongTermIndex{client: client, embedder: embedder, logger: logger}
}

// Upsert implements LongTermIndex.
//
// The object id is derived from sha256(user_id + content) so the same
// statement written twice lands on the same object.
func (l *WeaviateLongTermIndex) Upsert(ctx context.Context, fact datatypes.MemoryFact) error {
	ctx, span := ltmTracer.Start(ctx, "LongTermIndex.Upsert")
	defer span.End()

	if fact.UserID == "" || fact.Content == "" {
		return fmt.Errorf("memory fact requires user_id and content")
	}
	if fact.Kind == "" {
		fact.Kind = datatypes.MemoryKindFact
	}
	if fact.Importance <= 0 {
		fact.Importance = 0.5
	}
	createdAt := fact.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	vector, err := l.embedder.Embed(ctx, fact.Content)
	if err != nil {
		return fmt.Errorf("embedding memory fact: %w", err)
	}

	metadata := ""
	if len(fact.Metadata) > 0 {
		raw, err := json.Marshal(fact.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling fact metadata: %w", err)
		}
		metadata = string(raw)
	}

	_, err = l.client.Data().Creator().
		WithClassName(datatypes.MemoryFactClass).
		WithID(FactID(fact.UserID, fact.Content)).
		WithVector(vector).
		WithProperties(map[string]interface{}{
			"user_id":    fact.UserID,
			"content":    fact.Content,
			"kind":       fact.Kind,
			"importance": fact.Importance,
			"metadata":   metadata,
			"created_at": createdAt.UnixMilli(),
		}).
		Do(ctx)
	if err != nil {
		// The deterministic id makes a re-write of the same statement
		// collide with 422. Only that case means the fact already
		// exists; anything else is a lost write and must surface.
		var clientErr *fault.WeaviateClientError
		if errors.As(err, &clientErr) && clientErr.StatusCode == http.StatusUnprocessableEntity {
			l.logger.Debug("memory fact already stored",
				"user_id", fact.UserID)
			return nil
		}
		return fmt.Errorf("storing memory fact: %w", err)
	}
	return nil
}

// Search implements LongTermIndex.
func (l *WeaviateLongTermIndex) Search(ctx context.Context, userID, query string,
	topK int) ([]datatypes.MemoryFact, error) {

	ctx, span := ltmTracer.Start(ctx, "LongTermIndex.Search")
	defer span.End()

	if topK <= 0 {
		return nil, nil
	}
	vector, err := l.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	whereFilter := filters.Where().
		WithPath([]string{"user_id"}).
		WithOperator(filters.Equal).
		WithValueString(userID)

	nearVector := l.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector)

	// certainty is always [0,1] regardless of the distance metric.
	fields := []graphql.Field{
		{Name: "content"},
		{Name: "kind"},
		{Name: "importance"},
		{Name: "metadata"},
		{Name: "created_at"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
			{Name: "certainty"},
		}},
	}

	// Over-fetch so importance re-ranking has candidates to demote.
	result, err := l.client.GraphQL().Get().
		WithClassName(datatypes.MemoryFactClass).
		WithFields(fields...).
		WithWhere(whereFilter).
		WithNearVector(nearVector).
		WithLimit(topK * 3).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("searching memory facts: %w", err)
	}

	facts, err := parseMemoryFacts(result.Data, userID)
	if err != nil {
		return nil, err
	}

	// Rank by similarity * importance, ties by newer created_at.
	sort.SliceStable(facts, func(i, j int) bool {
		if facts[i].Score != facts[j].Score {
			return facts[i].Score > facts[j].Score
		}
		return facts[i].CreatedAt.After(facts[j].CreatedAt)
	})
	if len(facts) > topK {
		facts = facts[:topK]
	}
	return facts, nil
}

// memoryFactGraphQLResponse mirrors the GraphQL Get shape for typed
// parsing via marshal-unmarshal.
type memoryFactGraphQLResponse struct {
	Get struct {
		MemoryFact []struct {
			Content    string  `json:"content"`
			Kind       string  `json:"kind"`
			Importance float64 `json:"importance"`
			Metadata   string  `json:"metadata"`
			CreatedAt  float64 `json:"created_at"`
			Additional struct {
				ID        string  `json:"id"`
				Certainty float64 `json:"certainty"`
			} `json:"_additional"`
		} `json:"MemoryFact"`
	} `json:"Get"`
}

func parseMemoryFacts(data interface{}, userID string) ([]datatypes.MemoryFact, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshaling graphql response: %w", err)
	}
	var response memoryFactGraphQLResponse
	if err := json.Unmarshal(jsonBytes, &response); err != nil {
		return nil, fmt.Errorf("parsing graphql response: %w", err)
	}

	facts := make([]datatypes.MemoryFact, 0, len(response.Get.MemoryFact))
	for _, raw := range response.Get.MemoryFact {
		fact := datatypes.MemoryFact{
			ID:         raw.Additional.ID,
			UserID:     userID,
			Content:    raw.Content,
			Kind:       raw.Kind,
			Importance: raw.Importance,
			CreatedAt:  time.UnixMilli(int64(raw.CreatedAt)).UTC(),
			Score:      raw.Additional.Certainty * raw.Importance,
		}
		if raw.Metadata != "" {
			_ = json.Unmarshal([]byte(raw.Metadata), &fact.Metadata)
		}
		facts = append(facts, fact)
	}
	return facts, nil
}

// FactID derives the stable UUID a fact is stored under. Exposed so
// API responses can report the id the write actually landed on.
func FactID(userID, content string) string {
	hash := sha256.Sum256([]byte(userID + "\x00" + content))
	id, _ := uuid.FromBytes(hash[:16])
	return id.String()
}

var _ LongTermIndex = (*WeaviateLongTermIndex)(nil)
