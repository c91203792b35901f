// Copyright (C) 2025 Mindwell AI (oss@mindwell.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// EmbeddingClient calls the embedding sidecar over HTTP.
//
// The sidecar exposes POST /embed for single texts and POST /batch_embed
// for document ingestion. Batch calls get a long timeout because a large
// document can take minutes to embed on CPU.
type EmbeddingClient struct {
	baseURL     string
	httpClient  *http.Client
	batchClient *http.Client
}

// NewEmbeddingClient builds a client for the sidecar at baseURL.
func NewEmbeddingClient(baseURL string) (*EmbeddingClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("embedding service URL not set")
	}
	return &EmbeddingClient{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		batchClient: &http.Client{Timeout: 5 * time.Minute},
	}, nil
}

// Embed implements Embedder.
func (c *EmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("marshaling embed request: %w", err)
	}
	respBody, err := c.post(ctx, c.httpClient, "/embed", body)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Vector []float32 `json:"vector"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("parsing embed response: %w", err)
	}
	if len(resp.Vector) == 0 {
		return nil, fmt.Errorf("embedding service returned empty vector")
	}
	return resp.Vector, nil
}

// BatchEmbed implements Embedder.
func (c *EmbeddingClient) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(map[string][]string{"texts": texts})
	if err != nil {
		return nil, fmt.Errorf("marshaling batch embed request: %w", err)
	}
	respBody, err := c.post(ctx, c.batchClient, "/batch_embed", body)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Vectors [][]float32 `json:"vectors"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("parsing batch embed response: %w", err)
	}
	if len(resp.Vectors) != len(texts) {
		return nil, fmt.Errorf("embedding service returned %d vectors for %d texts",
			len(resp.Vectors), len(texts))
	}
	return resp.Vectors, nil
}

func (c *EmbeddingClient) post(ctx context.Context, client *http.Client, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("creating request to %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling embedding service %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading embedding response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding service %s returned status %d", path, resp.StatusCode)
	}
	return respBody, nil
}

var _ Embedder = (*EmbeddingClient)(nil)
