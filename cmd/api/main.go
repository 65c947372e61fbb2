package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/scribeworks/backend/internal/api/handlers"
	"github.com/scribeworks/backend/internal/cache/redis"
	"github.com/scribeworks/backend/internal/llm"
	"github.com/scribeworks/backend/internal/metrics"
	"github.com/scribeworks/backend/internal/middleware/ratelimit"
	"github.com/scribeworks/backend/internal/middleware/security"
	"github.com/scribeworks/backend/internal/middleware/validation"
	"github.com/scribeworks/backend/internal/rag/bm25"
	"github.com/scribeworks/backend/internal/rag/chunker"
	"github.com/scribeworks/backend/internal/rag/composer"
	"github.com/scribeworks/backend/internal/rag/embedding"
	"github.com/scribeworks/backend/internal/rag/grader"
	"github.com/scribeworks/backend/internal/rag/indexer"
	"github.com/scribeworks/backend/internal/rag/retriever"
	"github.com/scribeworks/backend/internal/session"
	"github.com/scribeworks/backend/internal/storage/sqlite"
	"github.com/scribeworks/backend/internal/vector/milvus"
	"github.com/scribeworks/backend/pkg/config"
	appLogger "github.com/scribeworks/backend/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting ScribeWorks QA API Server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	// The vector store is optional at startup: retrieval falls back to
	// lexical search while Milvus is unreachable.
	milvusClient := milvus.NewClient(cfg.Milvus.Endpoint, cfg.Milvus.CollectionBase)
	defer milvusClient.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	if err := milvusClient.Connect(ctx); err != nil {
		appLogger.Warn("Vector store unavailable, running in lexical-only mode", zap.Error(err))
	} else {
		for _, dim := range []int{cfg.Embeddings.Dimension, cfg.Embeddings.FallbackDim} {
			if err := milvusClient.EnsureCollection(ctx, dim); err != nil {
				appLogger.Warn("Failed to ensure collection", zap.Int("dimension", dim), zap.Error(err))
			}
		}
	}
	cancel()

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Warn("Redis unavailable, answer caching disabled", zap.Error(err))
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	llmClient := llm.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.BaseURL,
		cfg.LLM.Model,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
	)

	embedProvider := embedding.NewProvider(
		embedding.NewRemoteEmbedder(llmClient, cfg.Embeddings.Model, cfg.Embeddings.Dimension),
		embedding.NewLocalEmbedder(cfg.Embeddings.FallbackModel, cfg.Embeddings.FallbackDim),
	)

	bm25Index := bm25.NewIndex()

	chk, err := chunker.New(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	if err != nil {
		appLogger.Fatal("Failed to create chunker", zap.Error(err))
	}

	var invalidator indexer.Invalidator
	if redisClient != nil {
		invalidator = redisClient
	}

	ix := indexer.New(chk, embedProvider, milvusClient, bm25Index, sqliteClient, invalidator, cfg.RAG.IndexWorkers)

	// The lexical index lives in memory and is rebuilt from the persisted
	// chunks on every boot.
	if err := ix.RebuildLexical(); err != nil {
		appLogger.Warn("Failed to rebuild lexical index", zap.Error(err))
	}

	var queryEmbedder retriever.Embedder = embedProvider
	if redisClient != nil {
		queryEmbedder = embedding.NewCachedEmbedder(embedProvider, redisClient, time.Duration(cfg.Redis.CacheTTL)*time.Second)
	}

	rtr := retriever.New(milvusClient, bm25Index, queryEmbedder, llmClient, retriever.Config{
		TopK:             cfg.RAG.TopK,
		VectorWeight:     cfg.RAG.VectorWeight,
		BM25Weight:       cfg.RAG.BM25Weight,
		FusionMultiplier: cfg.RAG.FusionMultiplier,
	})
	comp := composer.New(llmClient, 0)
	grd := grader.New(llmClient)
	manager := session.NewManager(sqliteClient, rtr, comp, grd)

	tracker := handlers.NewJobTracker()

	askHandler := handlers.NewAskHandler(manager, redisClient)
	sessionHandler := handlers.NewSessionHandler(manager)
	indexHandler := handlers.NewIndexHandler(ix, tracker)
	wsHandler := handlers.NewWebSocketHandler(tracker)
	healthHandler := handlers.NewHealthHandler(map[string]handlers.ComponentCheck{
		"storage":      func() bool { return sqliteClient.Ping() == nil },
		"vector_store": milvusClient.Available,
		"llm":          llmClient.Available,
		"cache":        func() bool { return redisClient != nil },
	})

	gaugeDone := make(chan struct{})
	go trackEmbeddingFallback(embedProvider, gaugeDone)

	rateLimiter := ratelimit.New(ratelimit.Config{
		Logger: appLogger.GetLogger(),
	})

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-User-ID",
		AllowMethods: "GET, POST, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		IsDevelopment: cfg.Logging.Level == "debug",
	}))
	app.Use(rateLimiter.Middleware())
	app.Use(validation.Middleware(validation.Config{
		MaxTranscriptBytes: cfg.Server.BodyLimit,
	}))

	api := app.Group("/api/v1")

	api.Post("/ask", askHandler.HandleAsk)

	api.Post("/sessions", sessionHandler.CreateSession)
	api.Get("/sessions", sessionHandler.ListSessions)
	api.Get("/sessions/:id", sessionHandler.GetSession)
	api.Delete("/sessions/:id", sessionHandler.DeleteSession)
	api.Post("/sessions/:id/ask", sessionHandler.HandleSessionAsk)
	api.Get("/sessions/:id/messages", sessionHandler.ListMessages)
	api.Post("/messages/:id/feedback", sessionHandler.SubmitFeedback)

	api.Post("/transcripts/:id/index", indexHandler.IndexTranscript)
	api.Delete("/transcripts/:id/index", indexHandler.DeleteTranscript)
	api.Get("/transcripts/:id/index", indexHandler.GetIndexStatus)
	api.Post("/index/batch", indexHandler.IndexBatch)
	api.Get("/status", indexHandler.GetStatus)

	api.Use("/index/progress", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	api.Get("/index/progress/:jobID", websocket.New(wsHandler.HandleIndexProgress))

	api.Get("/health", healthHandler.HandleHealth)
	api.Get("/ready", healthHandler.HandleReady)

	app.Get("/metrics", metrics.MetricsHandler())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	close(gaugeDone)
	rateLimiter.Stop()
	app.Shutdown()
	appLogger.Info("Server stopped")
}

func trackEmbeddingFallback(provider *embedding.Provider, done <-chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if provider.Degraded() {
				metrics.EmbeddingFallbackActive.Set(1)
			} else {
				metrics.EmbeddingFallbackActive.Set(0)
			}
		}
	}
}
