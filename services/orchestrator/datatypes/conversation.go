// Copyright (C) 2025 Mindwell AI (oss@mindwell.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"strings"
	"time"
)

// Conversation is a durable thread of exchanges owned by one user.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConversationMessage is one persisted turn inside a conversation.
//
// Metadata records which memory sources contributed to the assistant
// turn and which were omitted, so a past exchange can be audited.
type ConversationMessage struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversation_id"`
	Role           string            `json:"role"`
	Content        string            `json:"content"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// RenameConversationRequest is the body of PATCH /v1/conversations/:id.
type RenameConversationRequest struct {
	Title string `json:"title" validate:"required,min=1,max=200"`
}

// Validate validates the rename request.
func (r *RenameConversationRequest) Validate() error {
	return chatValidate.Struct(r)
}

// DeriveTitle builds a conversation title from the first user message.
//
// The message is whitespace-normalized and truncated with a "..."
// suffix so the result never exceeds maxRunes runes, ellipsis
// included. Rune-aware so multi-byte text is never split
// mid-character.
func DeriveTitle(firstMessage string, maxRunes int) string {
	title := strings.Join(strings.Fields(firstMessage), " ")
	if title == "" {
		return "New conversation"
	}
	runes := []rune(title)
	if len(runes) <= maxRunes {
		return title
	}
	return string(runes[:maxRunes-3]) + "..."
}
