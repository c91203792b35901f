// Copyright (C) 2025 Mindwell AI (oss@mindwell.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/mindwell-ai/mindwell/pkg/ux"
	"github.com/mindwell-ai/mindwell/services/orchestrator/datatypes"
	"github.com/spf13/cobra"
)

// commandTimeout bounds the REST calls behind non-chat commands.
const commandTimeout = 30 * time.Second

func newCommandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), commandTimeout)
}

func runListConversations(cmd *cobra.Command, args []string) {
	ctx, cancel := newCommandContext()
	defer cancel()

	api := newAPIClient(getServerBaseURL(), getAPIToken())

	var payload struct {
		Conversations []datatypes.Conversation `json:"conversations"`
	}
	if err := api.get(ctx, "/v1/conversations", &payload); err != nil {
		log.Fatalf("Failed to list conversations: %v", err)
	}

	if len(payload.Conversations) == 0 {
		ux.Info("No conversations yet. Start one with 'mindwell chat'.")
		return
	}

	machine := ux.GetPersonality().Level == ux.PersonalityMachine
	if !machine {
		ux.Title("Conversations")
	}
	for _, conv := range payload.Conversations {
		if machine {
			fmt.Printf("%s\t%s\t%s\n", conv.ID, conv.Title, conv.UpdatedAt.Format(time.RFC3339))
			continue
		}
		fmt.Printf("%s  %s\n", conv.ID, conv.Title)
		ux.Muted(fmt.Sprintf("    last active %s", ux.FormatRelativeTime(conv.UpdatedAt.UnixMilli())))
	}
}

func runShowConversation(cmd *cobra.Command, args []string) {
	ctx, cancel := newCommandContext()
	defer cancel()

	api := newAPIClient(getServerBaseURL(), getAPIToken())

	var payload struct {
		Conversation datatypes.Conversation          `json:"conversation"`
		Messages     []datatypes.ConversationMessage `json:"messages"`
	}
	path := fmt.Sprintf("/v1/conversations/%s/messages", url.PathEscape(args[0]))
	if err := api.get(ctx, path, &payload); err != nil {
		log.Fatalf("Failed to load conversation: %v", err)
	}

	machine := ux.GetPersonality().Level == ux.PersonalityMachine
	if !machine {
		ux.Title(payload.Conversation.Title)
	}
	for _, msg := range payload.Messages {
		if machine {
			fmt.Printf("%s\t%s\n", msg.Role, msg.Content)
			continue
		}
		fmt.Printf("[%s] %s\n", msg.Role, msg.Content)
	}
}

func runRenameConversation(cmd *cobra.Command, args []string) {
	ctx, cancel := newCommandContext()
	defer cancel()

	api := newAPIClient(getServerBaseURL(), getAPIToken())

	body := datatypes.RenameConversationRequest{Title: args[1]}
	var payload struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	path := fmt.Sprintf("/v1/conversations/%s", url.PathEscape(args[0]))
	if err := api.patch(ctx, path, body, &payload); err != nil {
		log.Fatalf("Failed to rename conversation: %v", err)
	}

	ux.Success(fmt.Sprintf("renamed %s to %q", payload.ID, payload.Title))
}

func runDeleteConversation(cmd *cobra.Command, args []string) {
	ctx, cancel := newCommandContext()
	defer cancel()

	api := newAPIClient(getServerBaseURL(), getAPIToken())

	var payload struct {
		Status string `json:"status"`
		ID     string `json:"id"`
	}
	path := fmt.Sprintf("/v1/conversations/%s", url.PathEscape(args[0]))
	if err := api.delete(ctx, path, &payload); err != nil {
		log.Fatalf("Failed to delete conversation: %v", err)
	}

	ux.Success(fmt.Sprintf("deleted conversation %s", payload.ID))
}
