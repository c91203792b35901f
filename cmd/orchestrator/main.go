// Copyright (C) 2025 Mindwell AI (oss@mindwell.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/awnumar/memguard"
	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/mindwell-ai/mindwell/pkg/logging"
	"github.com/mindwell-ai/mindwell/services/llm"
	"github.com/mindwell-ai/mindwell/services/orchestrator/assembler"
	"github.com/mindwell-ai/mindwell/services/orchestrator/config"
	"github.com/mindwell-ai/mindwell/services/orchestrator/datatypes"
	"github.com/mindwell-ai/mindwell/services/orchestrator/exchange"
	"github.com/mindwell-ai/mindwell/services/orchestrator/handlers"
	"github.com/mindwell-ai/mindwell/services/orchestrator/memory"
	"github.com/mindwell-ai/mindwell/services/orchestrator/middleware"
	"github.com/mindwell-ai/mindwell/services/orchestrator/observability"
	"github.com/mindwell-ai/mindwell/services/orchestrator/routes"
	"github.com/mindwell-ai/mindwell/services/orchestrator/store"
	"github.com/mindwell-ai/mindwell/services/voice"
)

// initTracer wires the OTLP gRPC exporter. When no endpoint is
// configured, tracing stays on the default no-op provider.
func initTracer(endpoint string, logger *logging.Logger) (func(context.Context), error) {
	if endpoint == "" {
		logger.Info("OTLP endpoint not set, tracing disabled")
		return func(context.Context) {}, nil
	}

	ctx := context.Background()
	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dialing OTLP collector: %w", err)
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("creating OTLP exporter: %w", err)
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("mindwell-orchestrator")))
	if err != nil {
		return nil, fmt.Errorf("building trace resource: %w", err)
	}

	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(traceExporter)))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			logger.Error("shutting down OTLP exporter failed", "error", err)
		}
	}, nil
}

// newWeaviateClient connects to Weaviate, or returns nil for
// lightweight mode when no URL is configured.
func newWeaviateClient(rawURL string, logger *logging.Logger) *weaviate.Client {
	if rawURL == "" {
		logger.Info("WEAVIATE_URL not set, running in lightweight mode")
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		logger.Warn("WEAVIATE_URL is invalid, running in lightweight mode",
			"url", rawURL, "error", err)
		return nil
	}
	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsed.Host,
		Scheme: parsed.Scheme,
	})
	if err != nil {
		logger.Error("creating Weaviate client failed", "error", err)
		return nil
	}
	if err := datatypes.EnsureWeaviateSchema(client); err != nil {
		logger.Error("ensuring Weaviate schema failed", "error", err)
		return nil
	}
	return client
}

func newLLMClient(cfg *config.Config) (llm.LLMClient, error) {
	switch cfg.LLMBackend {
	case "ollama":
		return llm.NewOllamaClient(cfg.LLMBaseURL, cfg.LLMModel)
	default:
		return llm.NewOpenAIClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel)
	}
}

func main() {
	// Wipe locked buffers on SIGINT before the process dies.
	memguard.CatchInterrupt()
	defer memguard.Purge()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("loading configuration: %v", err)
	}

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.LogLevel),
		LogDir:  cfg.LogDir,
		Service: "orchestrator",
		JSON:    true,
	})
	defer logger.Close()

	cleanupTracer, err := initTracer(cfg.OTLPEndpoint, logger)
	if err != nil {
		logger.Error("tracer setup failed", "error", err)
		os.Exit(1)
	}
	defer cleanupTracer(context.Background())

	observability.InitMetrics()

	// Storage.
	convStore, err := store.NewSQLiteStore(cfg.SQLitePath)
	if err != nil {
		logger.Error("opening conversation store failed", "error", err)
		os.Exit(1)
	}
	defer convStore.Close()

	shortTerm, err := memory.NewBadgerShortTermStore(cfg.BadgerPath,
		cfg.STMTTL, cfg.DecayLambda, logger)
	if err != nil {
		logger.Error("opening short-term store failed", "error", err)
		os.Exit(1)
	}
	defer shortTerm.Close()

	// Long-term and document memory ride on Weaviate and are absent
	// in lightweight mode.
	weaviateClient := newWeaviateClient(cfg.WeaviateURL, logger)
	var longTerm memory.LongTermIndex
	var documents memory.DocumentIndex
	var embedder memory.Embedder
	if weaviateClient != nil {
		embeddingClient, err := memory.NewEmbeddingClient(cfg.EmbeddingServiceURL)
		if err != nil {
			logger.Error("creating embedding client failed", "error", err)
			os.Exit(1)
		}
		embedder = embeddingClient
		longTerm = memory.NewWeaviateLongTermIndex(weaviateClient, embedder, logger)
		documents = memory.NewWeaviateDocumentIndex(weaviateClient, embedder)
	}

	// Generation.
	llmClient, err := newLLMClient(cfg)
	if err != nil {
		logger.Error("creating LLM client failed", "error", err)
		os.Exit(1)
	}

	persona, err := config.NewPersonaProvider(cfg.PersonaPath, logger)
	if err != nil {
		logger.Error("loading persona failed", "error", err)
		os.Exit(1)
	}
	defer persona.Close()

	// Pipeline.
	ctxAssembler := assembler.New(shortTerm, longTerm, documents, assembler.Config{
		Budget:           cfg.ContextBudget,
		RetrievalTimeout: cfg.RetrievalTimeout,
		STMLimit:         cfg.STMMaxEntries,
	}, logger)
	broker := exchange.NewBroker(convStore, cfg.TitleMaxRunes, logger)

	chatHandler := handlers.NewStreamingChatHandler(llmClient, ctxAssembler,
		broker, shortTerm, longTerm, persona, cfg.LLMModel,
		cfg.GenerationTimeout, logger)

	var voiceHandler *handlers.VoiceHandler
	if cfg.VoiceSTTURL != "" {
		stt, err := voice.NewSTTClient(cfg.VoiceSTTURL)
		if err != nil {
			logger.Error("creating STT client failed", "error", err)
			os.Exit(1)
		}
		var tts voice.Synthesizer
		if cfg.VoiceTTSURL != "" {
			ttsClient, err := voice.NewTTSClient(cfg.VoiceTTSURL)
			if err != nil {
				logger.Error("creating TTS client failed", "error", err)
				os.Exit(1)
			}
			tts = ttsClient
		}
		voiceHandler = handlers.NewVoiceHandler(llmClient, ctxAssembler, broker,
			shortTerm, longTerm, persona, stt, tts, cfg.GenerationTimeout, logger)
	}

	// Auth and throttling.
	var authProvider middleware.AuthProvider = middleware.NopAuthProvider{}
	if cfg.AuthSecret != "" {
		hmacProvider, err := middleware.NewHMACAuthProvider(cfg.AuthSecret)
		if err != nil {
			logger.Error("creating auth provider failed", "error", err)
			os.Exit(1)
		}
		authProvider = hmacProvider
	}
	rateLimiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	defer rateLimiter.Close()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	routes.SetupRoutes(router, routes.Deps{
		Store:        convStore,
		ShortTerm:    shortTerm,
		LongTerm:     longTerm,
		Embedder:     embedder,
		Weaviate:     weaviateClient,
		ChatHandler:  chatHandler,
		VoiceHandler: voiceHandler,
		AuthProvider: authProvider,
		RateLimiter:  rateLimiter,
		Logger:       logger,
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: router,
	}

	go func() {
		logger.Info("orchestrator listening",
			"port", cfg.HTTPPort,
			"lightweight", weaviateClient == nil,
			"voice", voiceHandler != nil,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown: let in-flight streams finish, then wipe
	// everything still held in locked memory.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	handlers.PurgeAllSecureMemory()
	logger.Info("orchestrator stopped")
}
