package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"gwi.com/repo-assistant/internal/api"
	"gwi.com/repo-assistant/internal/config"
	"gwi.com/repo-assistant/internal/core"
	"gwi.com/repo-assistant/internal/logging"
	"gwi.com/repo-assistant/internal/ratelimit"
	"gwi.com/repo-assistant/internal/repo"
	"gwi.com/repo-assistant/internal/store"
	"gwi.com/repo-assistant/internal/utils"
)

// provider is what the service needs from an LLM backend.
type provider interface {
	core.Embedder
	core.Completer
}

func main() {
	configPath := flag.String("config", "", "Path to the YAML config file (default $CONFIG_FILE or config/config.yaml)")
	ingestURL := flag.String("ingest", "", "Clone and index the given repository URL, then exit")
	analyzeDir := flag.String("analyze", "", "Print an overall analysis of the repository in the given directory, then exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize LLM provider
	llm, closeLLM, err := newProvider(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize LLM provider", zap.String("provider", cfg.LLMProvider), zap.Error(err))
	}
	defer closeLLM()

	completionLimiter := ratelimit.New("completion", cfg.CompletionRate, cfg.CompletionPeriod)
	embeddingLimiter := ratelimit.New("embedding", cfg.EmbeddingRate, cfg.EmbeddingPeriod)

	// Initialize stores
	index, err := store.NewIndexStore(store.IndexStoreConfig{
		Dimension:    cfg.EmbeddingDimension,
		IndexPath:    cfg.IndexFile,
		MetadataPath: cfg.MetadataFile,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize vector index", zap.Error(err))
	}

	conversations, err := newConversationStore(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize conversation store", zap.String("backend", cfg.ConversationBackend), zap.Error(err))
	}
	defer conversations.Close()

	cloner, err := repo.NewCloner(cfg.CloneBackend, logger)
	if err != nil {
		logger.Fatal("Failed to initialize cloner", zap.Error(err))
	}

	opts := core.CompletionOptions{Temperature: cfg.Temperature, MaxTokens: cfg.MaxTokens}
	gateway := core.NewEmbeddingGateway(llm, embeddingLimiter, cfg.EmbeddingDimension, logger)
	completer := core.NewRateLimitedCompleter(llm, completionLimiter)
	reviewer := core.NewReviewer(completer, opts, logger)

	ragService := core.NewRAGService(index, gateway, completer, reviewer, core.RAGConfig{
		RepoDir:             cfg.RepoDir,
		TopK:                cfg.TopK,
		SimilarityThreshold: cfg.SimilarityThreshold,
		KeepNearest:         cfg.KeepNearest,
		SummarizeWordLimit:  cfg.SummarizeWordLimit,
		KeyFiles:            cfg.KeyFiles,
		Completion:          opts,
	}, logger)

	ingestService := core.NewIngestService(index, gateway, utils.NewChunker(cfg.ChunkSize, logger), cloner, core.IngestConfig{
		Extensions:       cfg.AllowedExtensions,
		EmbedConcurrency: cfg.EmbedConcurrency,
	}, logger)

	analyzer := core.NewAnalyzer(reviewer, core.AnalyzerConfig{
		Extensions:  cfg.AnalyzeExtensions,
		Concurrency: cfg.AnalyzeConcurrency,
	}, logger)

	// One-shot modes
	if *ingestURL != "" {
		files, err := ingestService.CloneAndReset(ctx, *ingestURL, cfg.RepoDir)
		if err != nil {
			logger.Fatal("Ingestion failed", zap.String("repo_url", *ingestURL), zap.Error(err))
		}
		logger.Info("Ingestion complete", zap.Int("files", len(files)), zap.Int("vectors", index.Count()))
		return
	}
	if *analyzeDir != "" {
		analysis, err := analyzer.Analyze(ctx, *analyzeDir)
		if err != nil {
			logger.Fatal("Analysis failed", zap.String("dir", *analyzeDir), zap.Error(err))
		}
		fmt.Println(analysis)
		return
	}

	chatService := core.NewChatService(conversations, ragService, completer, opts, logger)

	// Initialize API Handler and Router
	apiHandler := api.NewAPIHandler(api.Services{
		Ingest:   ingestService,
		RAG:      ragService,
		Reviewer: reviewer,
		Analyzer: analyzer,
		Chat:     chatService,
		Index:    index,
	}, cfg.RepoDir, logger)
	router := api.NewRouter(apiHandler, logger)

	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 10 * time.Minute, // clone and whole-repo analysis run inside the request
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("Starting server. Press Ctrl+C to quit.", zap.String("addr", serverAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Could not listen", zap.String("addr", serverAddr), zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
		return
	}
	logger.Info("Server exiting gracefully")
}

func newProvider(ctx context.Context, cfg *config.Config, logger *zap.Logger) (provider, func(), error) {
	switch cfg.LLMProvider {
	case "gemini":
		svc, err := core.NewGeminiService(ctx, cfg.GeminiAPIKey, cfg.ChatModel, cfg.EmbeddingModel, logger)
		if err != nil {
			return nil, nil, err
		}
		return svc, svc.Close, nil
	default:
		svc, err := core.NewOpenAIService(core.OpenAIConfig{
			APIKey:         cfg.OpenAIAPIKey,
			BaseURL:        cfg.OpenAIBaseURL,
			ChatModel:      cfg.ChatModel,
			EmbeddingModel: cfg.EmbeddingModel,
		})
		if err != nil {
			return nil, nil, err
		}
		return svc, func() {}, nil
	}
}

func newConversationStore(cfg *config.Config) (store.ConversationStore, error) {
	switch cfg.ConversationBackend {
	case "sqlite":
		return store.NewSQLiteConversationStore(cfg.DatabaseURL)
	case "bolt":
		return store.NewBoltConversationStore(cfg.DatabaseURL)
	default:
		return store.NewMemoryConversationStore(), nil
	}
}
