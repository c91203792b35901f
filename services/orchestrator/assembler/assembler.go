// Copyright (C) 2025 Mindwell AI (oss@mindwell.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package assembler builds the retrieval context for one exchange.
//
// Three memory sources are queried concurrently with independent
// timeouts. A slow or failing source is omitted and recorded in the
// bundle; it never fails the exchange. The assembled text is bounded by
// a character budget, trimming lower-priority sources first.
package assembler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/mindwell-ai/mindwell/pkg/logging"
	"github.com/mindwell-ai/mindwell/services/orchestrator/datatypes"
	"github.com/mindwell-ai/mindwell/services/orchestrator/memory"
)

var tracer = otel.Tracer("mindwell.assembler")

// Source names used in bundle metadata and message audit records.
const (
	SourceShortTerm = "short_term"
	SourceLongTerm  = "long_term"
	SourceDocument  = "document"
)

// minShortTermWeight drops short-term entries whose decay weight has
// effectively reached zero.
const minShortTermWeight = 0.01

// Config tunes one Assembler.
type Config struct {
	// Budget is the maximum characters of rendered context.
	Budget int

	// RetrievalTimeout bounds each source lookup independently.
	RetrievalTimeout time.Duration

	// STMLimit, LTMTopK and DocTopK bound per-source result counts.
	STMLimit int
	LTMTopK  int
	DocTopK  int
}

// Request describes what to retrieve for.
type Request struct {
	UserID string
	Query  string

	// DocumentID, when set, scopes document retrieval to one document
	// and raises document chunks above long-term memories in the
	// truncation order.
	DocumentID string
}

// Bundle is the assembled context plus its provenance.
type Bundle struct {
	ShortTerm []datatypes.ShortTermEntry
	LongTerm  []datatypes.MemoryFact
	Documents []datatypes.DocumentChunk

	// Omitted lists sources that failed or timed out.
	Omitted []string

	// Truncated lists sources that lost items to the budget.
	Truncated []string
}

// Sources returns provenance entries for the client's sources event.
func (b *Bundle) Sources() []datatypes.SourceInfo {
	sources := make([]datatypes.SourceInfo, 0, len(b.Documents)+len(b.LongTerm))
	for _, chunk := range b.Documents {
		sources = append(sources, datatypes.SourceInfo{
			Source: chunk.Source,
			Kind:   SourceDocument,
			Score:  chunk.Score,
		})
	}
	for _, fact := range b.LongTerm {
		sources = append(sources, datatypes.SourceInfo{
			Source: fact.Kind,
			Kind:   SourceLongTerm,
			Score:  fact.Score,
		})
	}
	return sources
}

// AuditMetadata returns the per-message audit record of what fed the
// exchange.
func (b *Bundle) AuditMetadata() map[string]string {
	meta := map[string]string{
		"short_term_count": fmt.Sprintf("%d", len(b.ShortTerm)),
		"long_term_count":  fmt.Sprintf("%d", len(b.LongTerm)),
		"document_count":   fmt.Sprintf("%d", len(b.Documents)),
	}
	if len(b.Omitted) > 0 {
		meta["omitted_sources"] = strings.Join(b.Omitted, ",")
	}
	if len(b.Truncated) > 0 {
		meta["truncated_sources"] = strings.Join(b.Truncated, ",")
	}
	return meta
}

// Render formats the bundle as the context block handed to the prompt
// builder. Empty sections are skipped entirely.
func (b *Bundle) Render() string {
	var sb strings.Builder

	if len(b.ShortTerm) > 0 {
		sb.WriteString("Recent conversation context:\n")
		// Oldest first reads naturally in a prompt.
		for i := len(b.ShortTerm) - 1; i >= 0; i-- {
			sb.WriteString("- ")
			sb.WriteString(b.ShortTerm[i].Text)
			sb.WriteString("\n")
		}
	}
	if len(b.LongTerm) > 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("Things to remember about this person:\n")
		for _, fact := range b.LongTerm {
			sb.WriteString("- ")
			sb.WriteString(fact.Content)
			sb.WriteString("\n")
		}
	}
	if len(b.Documents) > 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("Relevant document excerpts:\n")
		for _, chunk := range b.Documents {
			sb.WriteString(fmt.Sprintf("- (%s) %s\n", chunk.Source, chunk.Content))
		}
	}
	return sb.String()
}

// Assembler queries the three memory sources and applies the budget.
type Assembler struct {
	shortTerm memory.ShortTermStore
	longTerm  memory.LongTermIndex
	documents memory.DocumentIndex
	cfg       Config
	logger    *logging.Logger
}

// New builds an Assembler. shortTerm is required; longTerm and
// documents may be nil in lightweight mode and are then always
// reported as omitted.
func New(shortTerm memory.ShortTermStore, longTerm memory.LongTermIndex,
	documents memory.DocumentIndex, cfg Config, logger *logging.Logger) *Assembler {

	if shortTerm == nil {
		panic("assembler.New: short-term store is required")
	}
	if logger == nil {
		panic("assembler.New: logger is required")
	}
	if cfg.Budget <= 0 {
		cfg.Budget = 6000
	}
	if cfg.RetrievalTimeout <= 0 {
		cfg.RetrievalTimeout = 800 * time.Millisecond
	}
	if cfg.STMLimit <= 0 {
		cfg.STMLimit = 50
	}
	if cfg.LTMTopK <= 0 {
		cfg.LTMTopK = 5
	}
	if cfg.DocTopK <= 0 {
		cfg.DocTopK = 4
	}
	return &Assembler{
		shortTerm: shortTerm,
		longTerm:  longTerm,
		documents: documents,
		cfg:       cfg,
		logger:    logger,
	}
}

// Assemble retrieves and budgets the context for one exchange.
//
// Assemble never fails: every per-source error becomes an omission.
// The returned bundle is ready for Render.
func (a *Assembler) Assemble(ctx context.Context, req Request) *Bundle {
	ctx, span := tracer.Start(ctx, "Assembler.Assemble")
	defer span.End()

	var (
		shortTerm  []datatypes.ShortTermEntry
		longTerm   []datatypes.MemoryFact
		documents  []datatypes.DocumentChunk
		stmErr     error
		ltmErr     error
		docErr     error
	)

	// Each source gets its own deadline so one slow backend cannot
	// starve the others. Errors stay local to their goroutine.
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		srcCtx, cancel := context.WithTimeout(gctx, a.cfg.RetrievalTimeout)
		defer cancel()
		entries, err := a.shortTerm.Recent(srcCtx, req.UserID, a.cfg.STMLimit)
		if err != nil {
			stmErr = err
			return nil
		}
		shortTerm = filterByWeight(entries)
		return nil
	})

	g.Go(func() error {
		if a.longTerm == nil {
			ltmErr = fmt.Errorf("long-term index disabled")
			return nil
		}
		srcCtx, cancel := context.WithTimeout(gctx, a.cfg.RetrievalTimeout)
		defer cancel()
		facts, err := a.longTerm.Search(srcCtx, req.UserID, req.Query, a.cfg.LTMTopK)
		if err != nil {
			ltmErr = err
			return nil
		}
		longTerm = facts
		return nil
	})

	g.Go(func() error {
		if a.documents == nil {
			docErr = fmt.Errorf("document index disabled")
			return nil
		}
		srcCtx, cancel := context.WithTimeout(gctx, a.cfg.RetrievalTimeout)
		defer cancel()
		chunks, err := a.documents.Search(srcCtx, req.UserID, req.Query, req.DocumentID, a.cfg.DocTopK)
		if err != nil {
			docErr = err
			return nil
		}
		documents = chunks
		return nil
	})

	_ = g.Wait() // goroutines always return nil

	bundle := &Bundle{
		ShortTerm: shortTerm,
		LongTerm:  longTerm,
		Documents: documents,
	}
	for _, omission := range []struct {
		name string
		err  error
	}{
		{SourceShortTerm, stmErr},
		{SourceLongTerm, ltmErr},
		{SourceDocument, docErr},
	} {
		if omission.err != nil {
			bundle.Omitted = append(bundle.Omitted, omission.name)
			a.logger.Warn("memory source omitted",
				"source", omission.name,
				"error", omission.err.Error(),
			)
		}
	}

	a.applyBudget(bundle, req.DocumentID != "")

	span.SetAttributes(
		attribute.Int("assembler.short_term", len(bundle.ShortTerm)),
		attribute.Int("assembler.long_term", len(bundle.LongTerm)),
		attribute.Int("assembler.documents", len(bundle.Documents)),
		attribute.Int("assembler.omitted", len(bundle.Omitted)),
	)
	return bundle
}

// applyBudget trims the bundle to the character budget.
//
// Short-term context is preserved first. When the client explicitly
// asked for a document, its chunks outrank long-term memories;
// otherwise long-term memories outrank document chunks. Within a
// source the least valuable items go first: oldest short-term entries,
// lowest-scored facts and chunks.
func (a *Assembler) applyBudget(bundle *Bundle, documentExplicit bool) {
	remaining := a.cfg.Budget

	keepSTM := 0
	for _, entry := range bundle.ShortTerm {
		cost := len(entry.Text) + 4
		if cost > remaining {
			break
		}
		remaining -= cost
		keepSTM++
	}
	if keepSTM < len(bundle.ShortTerm) {
		bundle.Truncated = append(bundle.Truncated, SourceShortTerm)
		// ShortTerm is newest-first, so keeping the head keeps the
		// most recent entries.
		bundle.ShortTerm = bundle.ShortTerm[:keepSTM]
	}

	trimFacts := func() {
		keep := 0
		for _, fact := range bundle.LongTerm {
			cost := len(fact.Content) + 4
			if cost > remaining {
				break
			}
			remaining -= cost
			keep++
		}
		if keep < len(bundle.LongTerm) {
			bundle.Truncated = append(bundle.Truncated, SourceLongTerm)
			bundle.LongTerm = bundle.LongTerm[:keep]
		}
	}
	trimChunks := func() {
		keep := 0
		for _, chunk := range bundle.Documents {
			cost := len(chunk.Content) + len(chunk.Source) + 6
			if cost > remaining {
				break
			}
			remaining -= cost
			keep++
		}
		if keep < len(bundle.Documents) {
			bundle.Truncated = append(bundle.Truncated, SourceDocument)
			bundle.Documents = bundle.Documents[:keep]
		}
	}

	if documentExplicit {
		trimChunks()
		trimFacts()
	} else {
		trimFacts()
		trimChunks()
	}
}

func filterByWeight(entries []datatypes.ShortTermEntry) []datatypes.ShortTermEntry {
	kept := entries[:0]
	for _, entry := range entries {
		if entry.Weight >= minShortTermWeight {
			kept = append(kept, entry)
		}
	}
	return kept
}
