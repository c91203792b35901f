// Copyright (C) 2025 Mindwell AI (oss@mindwell.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mindwell-ai/mindwell/pkg/logging"
	"github.com/mindwell-ai/mindwell/services/orchestrator/datatypes"
	"github.com/mindwell-ai/mindwell/services/orchestrator/memory"
	"github.com/mindwell-ai/mindwell/services/orchestrator/observability"
)

const (
	// promotionTimeout bounds the post-exchange memory writes. They
	// run detached from the request, so they get their own deadline.
	promotionTimeout = 10 * time.Second

	// promotionMinRunes is the minimum user message length considered
	// for long-term promotion. Very short turns carry no durable facts.
	promotionMinRunes = 24

	// promotionImportance is the importance assigned to facts promoted
	// from conversation. Explicit memory API writes set their own.
	promotionImportance = 0.5
)

// firstPersonMarkers gate the promotion heuristic. A sentence is only
// promoted when the user is talking about themselves.
var firstPersonMarkers = []string{
	"i am ", "i'm ", "i feel ", "i like ", "i love ", "i hate ",
	"i want ", "i need ", "i always ", "i never ", "my ", "i have ",
	"i work ", "i live ",
}

// memoryPromoter runs the post-exchange memory writes shared by the
// text and voice pipelines.
type memoryPromoter struct {
	shortTerm memory.ShortTermStore
	longTerm  memory.LongTermIndex
	metrics   *observability.StreamingMetrics
}

// Promote appends both turns to short-term context and, when a
// long-term index is configured, promotes durable-looking statements
// from the user's message.
//
// Runs detached from the request. Failures are logged and dropped; the
// exchange is already persisted.
func (p *memoryPromoter) Promote(userID, userMessage, answer string,
	log *logging.Logger) {

	ctx, cancel := context.WithTimeout(context.Background(), promotionTimeout)
	defer cancel()

	now := time.Now().UTC()
	if err := p.shortTerm.Append(ctx, userID, datatypes.ShortTermEntry{
		Text:       "User: " + userMessage,
		Importance: 1.0,
		CreatedAt:  now,
	}); err != nil {
		log.Warn("short-term append failed", "role", "user", "error", err)
	}
	if err := p.shortTerm.Append(ctx, userID, datatypes.ShortTermEntry{
		Text:       "Assistant: " + answer,
		Importance: 1.0,
		CreatedAt:  now,
	}); err != nil {
		log.Warn("short-term append failed", "role", "assistant", "error", err)
	}

	if p.longTerm == nil {
		return
	}

	for _, candidate := range extractPromotionCandidates(userMessage) {
		fact := datatypes.MemoryFact{
			ID:         uuid.NewString(),
			UserID:     userID,
			Content:    candidate,
			Kind:       datatypes.MemoryKindEvent,
			Importance: promotionImportance,
			Metadata:   map[string]string{"origin": "conversation"},
			CreatedAt:  now,
		}
		if err := p.longTerm.Upsert(ctx, fact); err != nil {
			log.Warn("long-term promotion failed", "error", err)
			continue
		}
		p.metrics.RecordPromotion()
	}
}

// extractPromotionCandidates picks sentences worth remembering across
// sessions. The heuristic is deliberately narrow: first-person
// statements of reasonable length. False negatives are fine, the
// explicit memory API exists for anything the heuristic misses.
func extractPromotionCandidates(message string) []string {
	var candidates []string
	for _, sentence := range strings.FieldsFunc(message, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	}) {
		sentence = strings.TrimSpace(sentence)
		if len([]rune(sentence)) < promotionMinRunes {
			continue
		}
		lower := strings.ToLower(sentence)
		for _, marker := range firstPersonMarkers {
			if strings.HasPrefix(lower, marker) {
				candidates = append(candidates, sentence)
				break
			}
		}
	}
	return candidates
}
