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
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/teamchat-ai/backend/internal/api/handlers"
	"github.com/teamchat-ai/backend/internal/events"
	"github.com/teamchat-ai/backend/internal/ingestion"
	"github.com/teamchat-ai/backend/internal/listener"
	"github.com/teamchat-ai/backend/internal/llm"
	"github.com/teamchat-ai/backend/internal/metrics"
	"github.com/teamchat-ai/backend/internal/middleware/ratelimit"
	"github.com/teamchat-ai/backend/internal/middleware/validation"
	"github.com/teamchat-ai/backend/internal/rag"
	"github.com/teamchat-ai/backend/internal/storage/object"
	"github.com/teamchat-ai/backend/internal/storage/sqlite"
	"github.com/teamchat-ai/backend/internal/vector/milvus"
	"github.com/teamchat-ai/backend/pkg/config"
	appLogger "github.com/teamchat-ai/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting team chat RAG API server")

	store, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer store.Close()

	if err := store.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	broker, err := events.NewBroker(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		appLogger.Fatal("Failed to create event broker", zap.Error(err))
	}
	defer broker.Close()

	vectorIndex := milvus.NewClient(cfg.Milvus.Endpoint, cfg.Milvus.CollectionName, cfg.Milvus.VectorDim)
	defer vectorIndex.Close()

	llmClient := llm.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.Model,
		cfg.LLM.EmbeddingModel,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
		cfg.LLM.TimeoutSec,
	)

	fetcher := object.NewClient(
		time.Duration(cfg.Storage.FetchTimeoutSec)*time.Second,
		cfg.Storage.MaxDocumentSize,
	)

	pipeline := ingestion.NewDocumentPipeline(
		fetcher, llmClient, vectorIndex, store,
		cfg.Ingestion.ChunkSize, cfg.Ingestion.MinChunkLength,
	)

	ragService := rag.NewService(llmClient, vectorIndex, store, store, llmClient, rag.Config{
		TopK:      cfg.RAG.TopK,
		MinScore:  cfg.RAG.MinScore,
		ChunkSize: cfg.Ingestion.ChunkSize,
		MaxTokens: cfg.LLM.MaxTokens,
	})

	dmListener := listener.New(cfg.Listener.AIUserID, ragService, store, broker)
	defer dmListener.Stop()

	if cfg.Listener.AutoStart {
		if err := dmListener.Start(context.Background()); err != nil {
			appLogger.Error("Failed to auto-start DM listener", zap.Error(err))
		}
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: 60,
		Logger:               appLogger.GetLogger(),
	})
	app.Use(limiter.Middleware())
	app.Use(validation.Middleware(validation.Config{
		Logger: appLogger.GetLogger(),
	}))

	queryHandler := handlers.NewQueryHandler(ragService)
	listenerHandler := handlers.NewListenerHandler(dmListener)
	documentHandler := handlers.NewDocumentHandler(pipeline, store)
	eventsHandler := handlers.NewEventsHandler(broker)

	api := app.Group("/api/v1")

	api.Post("/query", queryHandler.HandleQuery)
	api.Post("/listener", listenerHandler.HandleControl)
	api.Get("/listener", listenerHandler.HandleStatus)
	api.Post("/documents/:id/process", documentHandler.HandleProcess)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	app.Get("/metrics", metrics.Handler())

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/events", websocket.New(eventsHandler.HandleConnection))

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
	dmListener.Stop()
	app.Shutdown()
	appLogger.Info("Server stopped")
}
