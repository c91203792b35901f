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
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mindwell-ai/mindwell/pkg/ux"
	"github.com/spf13/cobra"
)

func runChatCommand(cmd *cobra.Command, args []string) {
	runner := NewChatRunner(ChatRunnerConfig{
		BaseURL:        getServerBaseURL(),
		Token:          getAPIToken(),
		ConversationID: conversationID,
		Emotion:        emotionHint,
		DocumentID:     documentFocus,
	})
	defer runner.Close()

	// Set up graceful shutdown with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	// Run the chat loop
	if err := runner.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("Chat error: %v", err)
	}
}

func runAskCommand(cmd *cobra.Command, args []string) {
	message := strings.TrimSpace(strings.Join(args, " "))
	if message == "" {
		log.Fatalf("Usage: mindwell ask [message]")
	}

	service := NewStreamingChatService(StreamingChatServiceConfig{
		BaseURL:        getServerBaseURL(),
		Token:          getAPIToken(),
		ConversationID: conversationID,
		Emotion:        emotionHint,
		DocumentID:     documentFocus,
	})
	defer service.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	result, err := service.SendMessage(ctx, message)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	fmt.Println()
	if result.ConversationID != "" && ux.GetPersonality().Level != ux.PersonalityMachine {
		ux.Muted(fmt.Sprintf("Continue with: mindwell chat --conversation %s", result.ConversationID))
	}
}
