package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/teamchat-ai/backend/internal/ingestion"
	"github.com/teamchat-ai/backend/internal/llm"
	"github.com/teamchat-ai/backend/internal/storage/object"
	"github.com/teamchat-ai/backend/internal/storage/sqlite"
	"github.com/teamchat-ai/backend/internal/vector/milvus"
	"github.com/teamchat-ai/backend/pkg/config"
	appLogger "github.com/teamchat-ai/backend/pkg/logger"
)

// Batch ingestion jobs: run with -doc <id> to vectorize one uploaded
// document, or -messages to backfill the whole message store into the
// vector index.
func main() {
	documentID := flag.String("doc", "", "id of a single document to ingest")
	backfillMessages := flag.Bool("messages", false, "backfill all chat messages into the vector index")
	flag.Parse()

	if *documentID == "" && !*backfillMessages {
		fmt.Println("usage: ingest -doc <document-id> | ingest -messages")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	store, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer store.Close()

	if err := store.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

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

	ctx := context.Background()

	if *documentID != "" {
		fetcher := object.NewClient(
			time.Duration(cfg.Storage.FetchTimeoutSec)*time.Second,
			cfg.Storage.MaxDocumentSize,
		)
		pipeline := ingestion.NewDocumentPipeline(
			fetcher, llmClient, vectorIndex, store,
			cfg.Ingestion.ChunkSize, cfg.Ingestion.MinChunkLength,
		)

		doc, err := store.GetDocument(ctx, *documentID)
		if err != nil {
			appLogger.Fatal("Failed to load document", zap.Error(err))
		}
		if doc == nil {
			appLogger.Fatal("Document not found", zap.String("document_id", *documentID))
		}

		result, err := pipeline.Ingest(ctx, doc)
		if err != nil {
			appLogger.Fatal("Document ingestion failed", zap.Error(err))
		}

		appLogger.Info("Document ingestion complete",
			zap.String("document_id", *documentID),
			zap.Int("processed_chunks", result.ProcessedChunks),
			zap.Int("total_chunks", result.TotalChunks),
			zap.Int("text_length", result.TextLength),
		)
	}

	if *backfillMessages {
		backfill := ingestion.NewMessageBackfill(store, llmClient, vectorIndex, cfg.Ingestion.EmbedRatePerSec)

		result, err := backfill.Run(ctx)
		if err != nil {
			appLogger.Fatal("Message backfill failed", zap.Error(err))
		}

		appLogger.Info("Message backfill complete",
			zap.Int("attempted", result.Attempted),
			zap.Int("succeeded", result.Succeeded),
			zap.Int("failed", len(result.Failures)),
		)
		for _, f := range result.Failures {
			appLogger.Warn("Message failed to index",
				zap.String("message_id", f.MessageID),
				zap.String("reason", f.Reason),
			)
		}
	}
}
