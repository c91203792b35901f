// Copyright (C) 2025 Mindwell AI (oss@mindwell.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/mindwell-ai/mindwell/pkg/logging"
	"github.com/mindwell-ai/mindwell/services/orchestrator/handlers"
	"github.com/mindwell-ai/mindwell/services/orchestrator/memory"
	"github.com/mindwell-ai/mindwell/services/orchestrator/middleware"
	"github.com/mindwell-ai/mindwell/services/orchestrator/store"
)

// Deps carries everything the route table wires together. Optional
// collaborators are nil in lightweight mode and the affected routes
// answer 503.
type Deps struct {
	Store        store.ConversationStore
	ShortTerm    memory.ShortTermStore
	LongTerm     memory.LongTermIndex
	Embedder     memory.Embedder
	Weaviate     *weaviate.Client
	ChatHandler  *handlers.StreamingChatHandler
	VoiceHandler *handlers.VoiceHandler
	AuthProvider middleware.AuthProvider
	RateLimiter  *middleware.RateLimiter
	Logger       *logging.Logger
}

// SetupRoutes registers the whole HTTP surface on router.
func SetupRoutes(router *gin.Engine, deps Deps) {
	router.Use(otelgin.Middleware("mindwell-orchestrator"))

	router.GET("/health", handlers.HealthCheck(deps.Weaviate))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(deps.AuthProvider))
	if deps.RateLimiter != nil {
		v1.Use(deps.RateLimiter.Middleware())
	}
	{
		v1.POST("/chat/stream", deps.ChatHandler.HandleChatStream)

		conversations := v1.Group("/conversations")
		{
			conversations.GET("", handlers.ListConversations(deps.Store, deps.Logger))
			conversations.GET("/:id/messages", handlers.GetConversationMessages(deps.Store, deps.Logger))
			conversations.PATCH("/:id", handlers.RenameConversation(deps.Store, deps.Logger))
			conversations.DELETE("/:id", handlers.DeleteConversation(deps.Store, deps.Logger))
		}

		memoryRoutes := v1.Group("/memory")
		{
			memoryRoutes.GET("/stm", handlers.ListShortTermContext(deps.ShortTerm, deps.Logger))
			memoryRoutes.POST("/stm/clear", handlers.ClearShortTermContext(deps.ShortTerm, deps.Logger))
			memoryRoutes.POST("/ltm", handlers.StoreMemoryFact(deps.LongTerm, deps.Logger))
			memoryRoutes.GET("/ltm/search", handlers.SearchMemoryFacts(deps.LongTerm, deps.Logger))
		}

		if deps.Weaviate != nil && deps.Embedder != nil {
			documents := v1.Group("/documents")
			{
				documents.POST("", handlers.IngestDocument(deps.Weaviate, deps.Embedder, deps.Logger))
				documents.GET("", handlers.ListDocuments(deps.Weaviate, deps.Logger))
				documents.DELETE("/:id", handlers.DeleteDocument(deps.Weaviate, deps.Logger))
			}
		}

		if deps.VoiceHandler != nil {
			v1.GET("/voice/ws", deps.VoiceHandler.HandleVoiceSession)
		}
	}
}
