// Copyright (C) 2025 Mindwell AI (oss@mindwell.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamChatRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     StreamChatRequest
		wantErr bool
	}{
		{
			name:    "minimal valid",
			req:     StreamChatRequest{Message: "hello"},
			wantErr: false,
		},
		{
			name: "full valid",
			req: StreamChatRequest{
				RequestID:      "550e8400-e29b-41d4-a716-446655440000",
				Timestamp:      1700000000000,
				Message:        "how have I been sleeping?",
				ConversationID: "conv-abc",
				DocumentID:     "doc-1",
				Emotion:        "anxious",
			},
			wantErr: false,
		},
		{
			name:    "empty message",
			req:     StreamChatRequest{Message: ""},
			wantErr: true,
		},
		{
			name:    "oversized message",
			req:     StreamChatRequest{Message: strings.Repeat("a", MaxMessageContentBytes+1)},
			wantErr: true,
		},
		{
			name:    "message at limit",
			req:     StreamChatRequest{Message: strings.Repeat("a", MaxMessageContentBytes)},
			wantErr: false,
		},
		{
			name:    "bad request id",
			req:     StreamChatRequest{Message: "hi", RequestID: "not-a-uuid"},
			wantErr: true,
		},
		{
			name:    "oversized emotion",
			req:     StreamChatRequest{Message: "hi", Emotion: strings.Repeat("e", MaxEmotionBytes+1)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStreamChatRequest_EnsureDefaults(t *testing.T) {
	req := &StreamChatRequest{Message: "hi"}
	req.EnsureDefaults()

	require.NotEmpty(t, req.RequestID)
	require.NotZero(t, req.Timestamp)
	assert.NoError(t, req.Validate())
}

func TestEnsureDefaults_PreservesClientValues(t *testing.T) {
	req := &StreamChatRequest{
		Message:   "hi",
		RequestID: "550e8400-e29b-41d4-a716-446655440000",
		Timestamp: 42,
	}
	req.EnsureDefaults()
	assert.Equal(t, "550e8400-e29b-41d4-a716-446655440000", req.RequestID)
	assert.Equal(t, int64(42), req.Timestamp)
}

func TestDeriveTitle(t *testing.T) {
	tests := []struct {
		name  string
		input string
		max   int
		want  string
	}{
		{
			name:  "short message unchanged",
			input: "I had a rough day",
			max:   50,
			want:  "I had a rough day",
		},
		{
			name:  "long message truncated with ellipsis inside cap",
			input: strings.Repeat("x", 60),
			max:   50,
			want:  strings.Repeat("x", 47) + "...",
		},
		{
			name:  "exactly at cap",
			input: strings.Repeat("x", 50),
			max:   50,
			want:  strings.Repeat("x", 50),
		},
		{
			name:  "whitespace collapsed",
			input: "  hello\n\n  world  ",
			max:   50,
			want:  "hello world",
		},
		{
			name:  "empty message",
			input: "   ",
			max:   50,
			want:  "New conversation",
		},
		{
			name:  "multibyte runes not split",
			input: strings.Repeat("é", 60),
			max:   50,
			want:  strings.Repeat("é", 47) + "...",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveTitle(tt.input, tt.max))
		})
	}
}

func TestGetMemoryFactSchema(t *testing.T) {
	class := GetMemoryFactSchema()
	require.Equal(t, MemoryFactClass, class.Class)
	assert.Equal(t, "none", class.Vectorizer)

	names := make([]string, 0, len(class.Properties))
	for _, p := range class.Properties {
		names = append(names, p.Name)
	}
	assert.Contains(t, names, "user_id")
	assert.Contains(t, names, "content")
	assert.Contains(t, names, "importance")
	assert.Contains(t, names, "created_at")
}

func TestGetDocumentChunkSchema(t *testing.T) {
	class := GetDocumentChunkSchema()
	require.Equal(t, DocumentChunkClass, class.Class)

	names := make([]string, 0, len(class.Properties))
	for _, p := range class.Properties {
		names = append(names, p.Name)
	}
	assert.Contains(t, names, "document_id")
	assert.Contains(t, names, "chunk_index")
}
