// Copyright (C) 2025 Mindwell AI (oss@mindwell.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mindwell-ai/mindwell/services/orchestrator/datatypes"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
    id         TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL,
    title      TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_user
    ON conversations(user_id, updated_at DESC);

CREATE TABLE IF NOT EXISTS messages (
    id              TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    role            TEXT NOT NULL,
    content         TEXT NOT NULL,
    metadata        TEXT,
    created_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation
    ON messages(conversation_id, created_at);
`

// SQLiteStore implements ConversationStore on an embedded sqlite file.
//
// Timestamps are stored as Unix milliseconds; within one exchange the
// assistant turn is stored 1ms after the user turn so chronological
// ordering is stable even inside a single transaction.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if needed initializes) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite at %s: %w", path, err)
	}
	// sqlite handles one writer at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// CreateWithExchange implements ConversationStore.
func (s *SQLiteStore) CreateWithExchange(ctx context.Context, userID, title string,
	userMsg, assistantMsg datatypes.ConversationMessage) (*datatypes.Conversation, error) {

	now := time.Now().UTC()
	conv := &datatypes.Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		conv.ID, conv.UserID, conv.Title, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("inserting conversation: %w", err)
	}

	if err := insertExchange(ctx, tx, conv.ID, now, userMsg, assistantMsg); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing conversation: %w", err)
	}
	return conv, nil
}

// AppendExchange implements ConversationStore.
func (s *SQLiteStore) AppendExchange(ctx context.Context, conversationID string,
	userMsg, assistantMsg datatypes.ConversationMessage) error {

	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		now.UnixMilli(), conversationID)
	if err != nil {
		return fmt.Errorf("touching conversation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking conversation update: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	if err := insertExchange(ctx, tx, conversationID, now, userMsg, assistantMsg); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing exchange: %w", err)
	}
	return nil
}

// insertExchange writes both turns, assistant 1ms after the user turn.
func insertExchange(ctx context.Context, tx *sql.Tx, conversationID string,
	now time.Time, userMsg, assistantMsg datatypes.ConversationMessage) error {

	userMeta, err := marshalMetadata(userMsg.Metadata)
	if err != nil {
		return err
	}
	assistantMeta, err := marshalMetadata(assistantMsg.Metadata)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, metadata, created_at) VALUES (?, ?, 'user', ?, ?, ?)`,
		newMessageID(userMsg.ID), conversationID, userMsg.Content, userMeta, now.UnixMilli())
	if err != nil {
		return fmt.Errorf("inserting user message: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, metadata, created_at) VALUES (?, ?, 'assistant', ?, ?, ?)`,
		newMessageID(assistantMsg.ID), conversationID, assistantMsg.Content, assistantMeta, now.UnixMilli()+1)
	if err != nil {
		return fmt.Errorf("inserting assistant message: %w", err)
	}
	return nil
}

// Get implements ConversationStore.
func (s *SQLiteStore) Get(ctx context.Context, conversationID string) (*datatypes.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, created_at, updated_at FROM conversations WHERE id = ?`,
		conversationID)

	var conv datatypes.Conversation
	var createdAt, updatedAt int64
	err := row.Scan(&conv.ID, &conv.UserID, &conv.Title, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	conv.CreatedAt = time.UnixMilli(createdAt).UTC()
	conv.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &conv, nil
}

// List implements ConversationStore.
func (s *SQLiteStore) List(ctx context.Context, userID string) ([]datatypes.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, created_at, updated_at FROM conversations
		 WHERE user_id = ? ORDER BY updated_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	conversations := make([]datatypes.Conversation, 0)
	for rows.Next() {
		var conv datatypes.Conversation
		var createdAt, updatedAt int64
		if err := rows.Scan(&conv.ID, &conv.UserID, &conv.Title, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		conv.CreatedAt = time.UnixMilli(createdAt).UTC()
		conv.UpdatedAt = time.UnixMilli(updatedAt).UTC()
		conversations = append(conversations, conv)
	}
	return conversations, rows.Err()
}

// ListMessages implements ConversationStore.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]datatypes.ConversationMessage, error) {
	if _, err := s.Get(ctx, conversationID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, metadata, created_at FROM messages
		 WHERE conversation_id = ? ORDER BY created_at ASC`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	messages := make([]datatypes.ConversationMessage, 0)
	for rows.Next() {
		var msg datatypes.ConversationMessage
		var metadata sql.NullString
		var createdAt int64
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &metadata, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg.CreatedAt = time.UnixMilli(createdAt).UTC()
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &msg.Metadata); err != nil {
				return nil, fmt.Errorf("parsing message metadata: %w", err)
			}
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// Rename implements ConversationStore.
func (s *SQLiteStore) Rename(ctx context.Context, conversationID, title string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?`,
		title, time.Now().UTC().UnixMilli(), conversationID)
	if err != nil {
		return fmt.Errorf("renaming conversation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rename: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete implements ConversationStore.
func (s *SQLiteStore) Delete(ctx context.Context, conversationID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE id = ?`, conversationID)
	if err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Close implements ConversationStore.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func marshalMetadata(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshaling metadata: %w", err)
	}
	return string(data), nil
}

func newMessageID(existing string) string {
	if existing != "" {
		return existing
	}
	return uuid.NewString()
}

var _ ConversationStore = (*SQLiteStore)(nil)
