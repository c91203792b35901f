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
	"strings"

	"github.com/mindwell-ai/mindwell/pkg/ux"
	"github.com/mindwell-ai/mindwell/services/orchestrator/datatypes"
	"github.com/spf13/cobra"
)

func runRecentMemory(cmd *cobra.Command, args []string) {
	ctx, cancel := newCommandContext()
	defer cancel()

	api := newAPIClient(getServerBaseURL(), getAPIToken())

	var payload struct {
		Entries []datatypes.ShortTermEntry `json:"entries"`
	}
	path := fmt.Sprintf("/v1/memory/stm?limit=%d", recentLimit)
	if err := api.get(ctx, path, &payload); err != nil {
		log.Fatalf("Failed to load recent context: %v", err)
	}

	if len(payload.Entries) == 0 {
		ux.Info("Short-term context is empty.")
		return
	}

	machine := ux.GetPersonality().Level == ux.PersonalityMachine
	if !machine {
		ux.Title("Recent Context")
	}
	for _, entry := range payload.Entries {
		if machine {
			fmt.Printf("%.4f\t%s\n", entry.Weight, entry.Text)
			continue
		}
		fmt.Printf("%s\n", entry.Text)
		ux.Muted(fmt.Sprintf("    weight %.2f, %s", entry.Weight,
			ux.FormatRelativeTime(entry.CreatedAt.UnixMilli())))
	}
}

func runClearMemory(cmd *cobra.Command, args []string) {
	ctx, cancel := newCommandContext()
	defer cancel()

	api := newAPIClient(getServerBaseURL(), getAPIToken())

	var payload struct {
		Status string `json:"status"`
	}
	if err := api.post(ctx, "/v1/memory/stm/clear", nil, &payload); err != nil {
		log.Fatalf("Failed to clear short-term context: %v", err)
	}

	ux.Success("short-term context cleared")
}

func runRemember(cmd *cobra.Command, args []string) {
	ctx, cancel := newCommandContext()
	defer cancel()

	api := newAPIClient(getServerBaseURL(), getAPIToken())

	body := datatypes.StoreMemoryRequest{
		Content:    strings.Join(args, " "),
		Kind:       memoryKind,
		Importance: memoryImportance,
	}
	var payload struct {
		ID string `json:"id"`
	}
	if err := api.post(ctx, "/v1/memory/ltm", body, &payload); err != nil {
		log.Fatalf("Failed to store memory: %v", err)
	}

	ux.Success(fmt.Sprintf("remembered (%s)", payload.ID))
}

func runRecall(cmd *cobra.Command, args []string) {
	ctx, cancel := newCommandContext()
	defer cancel()

	api := newAPIClient(getServerBaseURL(), getAPIToken())

	query := strings.Join(args, " ")
	var payload struct {
		Facts []datatypes.MemoryFact `json:"facts"`
	}
	path := fmt.Sprintf("/v1/memory/ltm/search?q=%s&top_k=%d", url.QueryEscape(query), searchTopK)
	if err := api.get(ctx, path, &payload); err != nil {
		log.Fatalf("Failed to search memory: %v", err)
	}

	if len(payload.Facts) == 0 {
		ux.Info("Nothing remembered for that yet.")
		return
	}

	machine := ux.GetPersonality().Level == ux.PersonalityMachine
	if !machine {
		ux.Title(fmt.Sprintf("Memories matching %q", query))
	}
	for i, fact := range payload.Facts {
		if machine {
			fmt.Printf("%s\t%s\t%.4f\t%s\n", fact.ID, fact.Kind, fact.Score, fact.Content)
			continue
		}
		fmt.Printf("%d. %s\n", i+1, fact.Content)
		ux.Muted(fmt.Sprintf("    %s, score %.2f, %s", fact.Kind, fact.Score,
			ux.FormatRelativeTime(fact.CreatedAt.UnixMilli())))
	}
}
