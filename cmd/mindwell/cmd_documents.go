// Copyright (C) 2025 Mindwell AI (oss@mindwell.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"

	"github.com/mindwell-ai/mindwell/pkg/ux"
	"github.com/mindwell-ai/mindwell/services/orchestrator/datatypes"
	"github.com/spf13/cobra"
)

func runIngestDocuments(cmd *cobra.Command, args []string) {
	ctx, cancel := newCommandContext()
	defer cancel()

	api := newAPIClient(getServerBaseURL(), getAPIToken())

	progress := ux.NewProgressSpinner("ingesting", len(args))
	progress.Start()

	failures := 0
	for _, path := range args {
		text, err := os.ReadFile(path)
		if err != nil {
			progress.Increment()
			ux.ItemStatus(path, ux.IconError, err.Error())
			failures++
			continue
		}

		source := documentSource
		if source == "" {
			source = filepath.Base(path)
		}

		body := datatypes.IngestDocumentRequest{
			Source: source,
			Text:   string(text),
		}
		var payload struct {
			DocumentID string `json:"document_id"`
			Source     string `json:"source"`
			Chunks     int    `json:"chunks"`
		}
		if err := api.post(ctx, "/v1/documents", body, &payload); err != nil {
			progress.Increment()
			ux.ItemStatus(source, ux.IconError, err.Error())
			failures++
			continue
		}

		progress.Increment()
		ux.ItemStatus(source, ux.IconSuccess,
			fmt.Sprintf("%d chunks as %s", payload.Chunks, payload.DocumentID))
	}
	progress.Stop()

	if failures > 0 {
		log.Fatalf("%d of %d documents failed to ingest", failures, len(args))
	}
	ux.Success(fmt.Sprintf("%d documents ingested", len(args)))
}

func runListDocuments(cmd *cobra.Command, args []string) {
	ctx, cancel := newCommandContext()
	defer cancel()

	api := newAPIClient(getServerBaseURL(), getAPIToken())

	var payload struct {
		Documents []datatypes.DocumentSummary `json:"documents"`
	}
	if err := api.get(ctx, "/v1/documents", &payload); err != nil {
		log.Fatalf("Failed to list documents: %v", err)
	}

	if len(payload.Documents) == 0 {
		ux.Info("No documents ingested yet.")
		return
	}

	machine := ux.GetPersonality().Level == ux.PersonalityMachine
	if !machine {
		ux.Title("Documents")
	}
	for _, doc := range payload.Documents {
		if machine {
			fmt.Printf("%s\t%s\t%d\n", doc.DocumentID, doc.Source, doc.ChunkCount)
			continue
		}
		fmt.Printf("%s  %s\n", doc.DocumentID, doc.Source)
		ux.Muted(fmt.Sprintf("    %d chunks, ingested %s", doc.ChunkCount,
			ux.FormatRelativeTime(doc.IngestedAt.UnixMilli())))
	}
}

func runDeleteDocument(cmd *cobra.Command, args []string) {
	ctx, cancel := newCommandContext()
	defer cancel()

	api := newAPIClient(getServerBaseURL(), getAPIToken())

	var payload struct {
		Status     string `json:"status"`
		DocumentID string `json:"document_id"`
	}
	path := fmt.Sprintf("/v1/documents/%s", url.PathEscape(args[0]))
	if err := api.delete(ctx, path, &payload); err != nil {
		log.Fatalf("Failed to delete document: %v", err)
	}

	ux.Success(fmt.Sprintf("deleted document %s", payload.DocumentID))
}
