// Copyright (C) 2025 Mindwell AI (oss@mindwell.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// This file contains the HTTP client used by CLI commands to call the
// Mindwell server's REST endpoints. Streaming chat uses its own path
// in chat_service.go.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// HTTPClient abstracts HTTP transport for testability.
//
// Production code uses *http.Client directly. Tests inject a mock
// implementation to simulate server responses without a network.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// apiClient wraps HTTP access to the Mindwell server's JSON API.
//
// # Description
//
// apiClient handles URL construction, JSON encoding/decoding, bearer
// token attachment, and error envelope parsing for all non-streaming
// endpoints. The server reports errors as {"error": "message"}; those
// are surfaced as Go errors carrying the server's text.
//
// # Thread Safety
//
// Safe for concurrent use. All state is immutable after construction.
type apiClient struct {
	baseURL string
	token   string
	client  HTTPClient
}

// newAPIClient creates an API client for the given server.
//
// Token may be empty when the server runs without authentication.
func newAPIClient(baseURL, token string) *apiClient {
	return &apiClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// newAPIClientWithHTTP creates an API client with an injected transport.
// Use this constructor for testing with mock clients.
func newAPIClientWithHTTP(baseURL, token string, client HTTPClient) *apiClient {
	return &apiClient{
		baseURL: baseURL,
		token:   token,
		client:  client,
	}
}

// do executes a single JSON request and decodes the response into out.
//
// Pass nil body for requests without a payload and nil out when the
// response body is irrelevant. Non-2xx responses are returned as
// errors carrying the server's error message.
func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("http %s %s: %w", method, path, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Error("failed to close response body", "error", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeServerError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// get issues a GET request and decodes the JSON response into out.
func (c *apiClient) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// post issues a POST request with a JSON body.
func (c *apiClient) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

// patch issues a PATCH request with a JSON body.
func (c *apiClient) patch(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPatch, path, body, out)
}

// delete issues a DELETE request.
func (c *apiClient) delete(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodDelete, path, nil, out)
}

// decodeServerError extracts the server's error message from a non-2xx
// response. Falls back to the raw body when the envelope is not JSON.
func decodeServerError(resp *http.Response) error {
	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("server error (%d): failed to read response body", resp.StatusCode)
	}

	var envelope struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(bodyBytes, &envelope); err == nil && envelope.Error != "" {
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, envelope.Error)
	}
	return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(bodyBytes))
}
