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
	"math"
	"net/url"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/mindwell-ai/mindwell/pkg/logging"
	"github.com/mindwell-ai/mindwell/services/orchestrator/datatypes"
)

// BadgerShortTermStore implements ShortTermStore on an embedded badger
// database.
//
// # Description
//
// Entries are keyed "stm/{escaped user}/{created_at_nanos}" so a prefix scan in
// reverse yields newest-first order without a secondary index. Every
// entry is written with the configured TTL; badger expires them without
// any sweeper of our own. The decay weight exp(-lambda * age_seconds)
// is computed at read time.
//
// # Thread Safety
//
// Safe for concurrent use; badger transactions provide isolation.
type BadgerShortTermStore struct {
	db     *badger.DB
	ttl    time.Duration
	lambda float64
	logger *logging.Logger
	done   chan struct{}
}

// stmRecord is the stored JSON value.
type stmRecord struct {
	Text       string  `json:"text"`
	Importance float64 `json:"importance"`
	CreatedAt  int64   `json:"created_at"` // Unix nanoseconds
}

// NewBadgerShortTermStore opens the store at path. lambda is the decay
// rate per second; ttl bounds entry lifetime.
func NewBadgerShortTermStore(path string, ttl time.Duration, lambda float64,
	logger *logging.Logger) (*BadgerShortTermStore, error) {

	if logger == nil {
		panic("NewBadgerShortTermStore: logger is required")
	}
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // badger's own logger is too chatty for a sidecar store
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger at %s: %w", path, err)
	}

	s := &BadgerShortTermStore{
		db:     db,
		ttl:    ttl,
		lambda: lambda,
		logger: logger,
		done:   make(chan struct{}),
	}
	go s.runGC()
	return s, nil
}

// Append implements ShortTermStore.
func (s *BadgerShortTermStore) Append(ctx context.Context, userID string,
	entry datatypes.ShortTermEntry) error {

	if userID == "" {
		return fmt.Errorf("userID is required")
	}
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	record := stmRecord{
		Text:       entry.Text,
		Importance: entry.Importance,
		CreatedAt:  createdAt.UnixNano(),
	}
	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshaling short-term entry: %w", err)
	}
	key := stmKey(userID, createdAt.UnixNano())

	err = s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(key, value).WithTTL(s.ttl)
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("writing short-term entry: %w", err)
	}
	return nil
}

// Recent implements ShortTermStore.
func (s *BadgerShortTermStore) Recent(ctx context.Context, userID string,
	limit int) ([]datatypes.ShortTermEntry, error) {

	if limit <= 0 {
		return nil, nil
	}
	prefix := stmPrefix(userID)
	now := time.Now().UTC()

	entries := make([]datatypes.ShortTermEntry, 0, limit)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// In reverse mode the iterator must be seeked past the prefix
		// range to land on the newest key.
		seek := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix) && len(entries) < limit; it.Next() {
			item := it.Item()
			if err := item.Value(func(val []byte) error {
				var record stmRecord
				if err := json.Unmarshal(val, &record); err != nil {
					return err
				}
				createdAt := time.Unix(0, record.CreatedAt).UTC()
				age := now.Sub(createdAt).Seconds()
				if age < 0 {
					age = 0
				}
				entries = append(entries, datatypes.ShortTermEntry{
					Text:       record.Text,
					Importance: record.Importance,
					CreatedAt:  createdAt,
					Weight:     math.Exp(-s.lambda * age),
				})
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading short-term entries: %w", err)
	}
	return entries, nil
}

// Clear implements ShortTermStore.
func (s *BadgerShortTermStore) Clear(ctx context.Context, userID string) error {
	prefix := stmPrefix(userID)

	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("collecting short-term keys: %w", err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return fmt.Errorf("deleting short-term entry: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flushing short-term delete: %w", err)
	}
	s.logger.Info("cleared short-term context", "user_id", userID, "entries", len(keys))
	return nil
}

// Close implements ShortTermStore.
func (s *BadgerShortTermStore) Close() error {
	close(s.done)
	return s.db.Close()
}

// runGC reclaims value-log space left behind by expired entries.
func (s *BadgerShortTermStore) runGC() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			// Repeat while a GC pass rewrote a log file.
			for {
				if err := s.db.RunValueLogGC(0.5); err != nil {
					break
				}
			}
		}
	}
}

// The user id is path-escaped before it enters the key, otherwise a
// "/" inside an id would let one user's prefix scan read another's
// entries.
func stmPrefix(userID string) []byte {
	return []byte("stm/" + url.PathEscape(userID) + "/")
}

func stmKey(userID string, unixNano int64) []byte {
	return []byte(fmt.Sprintf("stm/%s/%020d", url.PathEscape(userID), unixNano))
}

var _ ShortTermStore = (*BadgerShortTermStore)(nil)
