// Copyright (C) 2025 Mindwell AI (oss@mindwell.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/mindwell-ai/mindwell/pkg/ux"
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	serverURL        string
	personalityLevel string // UX personality level (full/standard/minimal/machine)
	conversationID   string // Conversation to resume or operate on
	emotionHint      string // Emotion hint sent with each chat message
	documentFocus    string // Document id to focus retrieval on
	memoryKind       string
	memoryImportance float64
	searchTopK       int
	recentLimit      int
	documentSource   string

	rootCmd = &cobra.Command{
		Use:   "mindwell",
		Short: "A cli to talk with your private Mindwell companion",
		Long: `Mindwell is a private conversational companion that remembers
				what matters to you. All of your conversations, memories, and
				documents stay on your own infrastructure.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Initialize UX personality from flag or environment
			if personalityLevel != "" {
				ux.SetPersonalityLevel(ux.ParsePersonalityLevel(personalityLevel))
			} else {
				ux.InitPersonality()
			}
		},
	}

	// --- Chat ---
	chatCmd = &cobra.Command{
		Use:   "chat",
		Short: "Starts an interactive chat session",
		Run:   runChatCommand, // Defined in cmd_chat.go
	}
	askCmd = &cobra.Command{
		Use:   "ask [message]",
		Short: "Sends a single message and streams the response",
		Run:   runAskCommand, // Defined in cmd_chat.go
	}

	// --- Conversations ---
	conversationsCmd = &cobra.Command{
		Use:     "conversations",
		Short:   "Manage saved conversations",
		Aliases: []string{"conv"},
	}
	listConversationsCmd = &cobra.Command{
		Use:   "list",
		Short: "List all saved conversations",
		Run:   runListConversations, // Defined in cmd_conversations.go
	}
	showConversationCmd = &cobra.Command{
		Use:   "show [conversation_id]",
		Short: "Show the messages of a conversation",
		Args:  cobra.ExactArgs(1),
		Run:   runShowConversation, // Defined in cmd_conversations.go
	}
	renameConversationCmd = &cobra.Command{
		Use:   "rename [conversation_id] [title]",
		Short: "Rename a conversation",
		Args:  cobra.ExactArgs(2),
		Run:   runRenameConversation, // Defined in cmd_conversations.go
	}
	deleteConversationCmd = &cobra.Command{
		Use:   "delete [conversation_id]",
		Short: "Delete a conversation and all its messages",
		Args:  cobra.ExactArgs(1),
		Run:   runDeleteConversation, // Defined in cmd_conversations.go
	}

	// --- Memory ---
	memoryCmd = &cobra.Command{
		Use:   "memory",
		Short: "Inspect and manage what Mindwell remembers",
	}
	recentMemoryCmd = &cobra.Command{
		Use:   "recent",
		Short: "Show the most recent short-term context entries",
		Run:   runRecentMemory, // Defined in cmd_memory.go
	}
	clearMemoryCmd = &cobra.Command{
		Use:   "clear",
		Short: "Clear the short-term context store",
		Run:   runClearMemory, // Defined in cmd_memory.go
	}
	rememberCmd = &cobra.Command{
		Use:   "remember [content]",
		Short: "Store a fact in long-term memory",
		Args:  cobra.MinimumNArgs(1),
		Run:   runRemember, // Defined in cmd_memory.go
	}
	recallCmd = &cobra.Command{
		Use:   "recall [query]",
		Short: "Search long-term memory",
		Args:  cobra.MinimumNArgs(1),
		Run:   runRecall, // Defined in cmd_memory.go
	}

	// --- Documents ---
	documentsCmd = &cobra.Command{
		Use:     "documents",
		Short:   "Manage documents in the knowledge index",
		Aliases: []string{"docs"},
	}
	ingestDocumentCmd = &cobra.Command{
		Use:   "ingest [file...]",
		Short: "Ingest local text files into the knowledge index",
		Args:  cobra.MinimumNArgs(1),
		Run:   runIngestDocuments, // Defined in cmd_documents.go
	}
	listDocumentsCmd = &cobra.Command{
		Use:   "list",
		Short: "List ingested documents",
		Run:   runListDocuments, // Defined in cmd_documents.go
	}
	deleteDocumentCmd = &cobra.Command{
		Use:   "delete [document_id]",
		Short: "Delete a document and all its chunks",
		Args:  cobra.ExactArgs(1),
		Run:   runDeleteDocument, // Defined in cmd_documents.go
	}

	// --- Health ---
	healthCmd = &cobra.Command{
		Use:   "health",
		Short: "Check the health of the Mindwell server",
		Run:   runHealthCommand, // Defined in cmd_health.go
	}
)

// init runs when the Go program starts
func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&personalityLevel, "personality", "",
		"Output style: full (default, warm), standard, minimal, or machine (scripting)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "",
		"Mindwell server URL (defaults to $MINDWELL_SERVER_URL or http://localhost:8080)")

	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVarP(&conversationID, "conversation", "c", "",
		"Resume an existing conversation by id")
	chatCmd.Flags().StringVarP(&emotionHint, "emotion", "e", "",
		"Emotion hint sent with each message (e.g., 'anxious', 'hopeful')")
	chatCmd.Flags().StringVarP(&documentFocus, "document", "d", "",
		"Focus retrieval on a single ingested document")

	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVarP(&conversationID, "conversation", "c", "",
		"Continue an existing conversation by id")
	askCmd.Flags().StringVarP(&emotionHint, "emotion", "e", "",
		"Emotion hint sent with the message")
	askCmd.Flags().StringVarP(&documentFocus, "document", "d", "",
		"Focus retrieval on a single ingested document")

	rootCmd.AddCommand(conversationsCmd)
	conversationsCmd.AddCommand(listConversationsCmd)
	conversationsCmd.AddCommand(showConversationCmd)
	conversationsCmd.AddCommand(renameConversationCmd)
	conversationsCmd.AddCommand(deleteConversationCmd)

	rootCmd.AddCommand(memoryCmd)
	memoryCmd.AddCommand(recentMemoryCmd)
	memoryCmd.AddCommand(clearMemoryCmd)
	memoryCmd.AddCommand(rememberCmd)
	memoryCmd.AddCommand(recallCmd)
	recentMemoryCmd.Flags().IntVar(&recentLimit, "limit", 10,
		"Maximum number of entries to show")
	rememberCmd.Flags().StringVar(&memoryKind, "kind", "fact",
		"Kind of memory: fact, preference, or event")
	rememberCmd.Flags().Float64Var(&memoryImportance, "importance", 0,
		"Importance weighting between 0 and 1 (server default applies when 0)")
	recallCmd.Flags().IntVar(&searchTopK, "top-k", 5,
		"Maximum number of results to return")

	rootCmd.AddCommand(documentsCmd)
	documentsCmd.AddCommand(ingestDocumentCmd)
	documentsCmd.AddCommand(listDocumentsCmd)
	documentsCmd.AddCommand(deleteDocumentCmd)
	ingestDocumentCmd.Flags().StringVar(&documentSource, "source", "",
		"Override the source name (defaults to the file name)")

	rootCmd.AddCommand(healthCmd)
}
