package ingestion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"

	"github.com/teamchat-ai/backend/internal/metrics"
	"github.com/teamchat-ai/backend/internal/storage/models"
	"github.com/teamchat-ai/backend/internal/vector"
	"github.com/teamchat-ai/backend/pkg/logger"
)

var (
	ErrUnsupportedFileType = errors.New("unsupported file type")

	// ErrExtractionFailed is returned when a document yields almost no
	// text, which usually means a scanned or image-only PDF.
	ErrExtractionFailed = errors.New("could not extract sufficient text from document")
)

// IngestionError identifies the chunk whose embed or upsert failed. Chunks
// committed before it stay in the index; re-running overwrites them by id.
type IngestionError struct {
	ChunkIndex int
	Err        error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingestion failed at chunk %d: %v", e.ChunkIndex, e.Err)
}

func (e *IngestionError) Unwrap() error {
	return e.Err
}

type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

type Index interface {
	Upsert(ctx context.Context, id string, embedding []float32, md vector.Metadata) error
}

type ObjectFetcher interface {
	FetchBytes(ctx context.Context, url string) ([]byte, error)
}

type DocumentStore interface {
	GetDocument(ctx context.Context, id string) (*models.SourceDocument, error)
	UpdateDocumentStatus(ctx context.Context, id string, status models.DocumentStatus) error
}

type IngestResult struct {
	ProcessedChunks int `json:"processedChunks"`
	TotalChunks     int `json:"totalChunks"`
	TextLength      int `json:"textLength"`
}

const minTextLength = 10

type DocumentPipeline struct {
	fetcher        ObjectFetcher
	embedder       Embedder
	index          Index
	docs           DocumentStore
	chunkSize      int
	minChunkLength int
}

func NewDocumentPipeline(fetcher ObjectFetcher, embedder Embedder, index Index, docs DocumentStore, chunkSize, minChunkLength int) *DocumentPipeline {
	if chunkSize == 0 {
		chunkSize = 4000
	}
	if minChunkLength == 0 {
		minChunkLength = minTextLength
	}
	return &DocumentPipeline{
		fetcher:        fetcher,
		embedder:       embedder,
		index:          index,
		docs:           docs,
		chunkSize:      chunkSize,
		minChunkLength: minChunkLength,
	}
}

// Ingest fetches, extracts, chunks, embeds and indexes one document, then
// records the outcome on the document itself. A failure on any chunk aborts
// the run and leaves the document un-vectorized; the operation is idempotent
// at the chunk-id level so re-running is safe.
func (p *DocumentPipeline) Ingest(ctx context.Context, doc *models.SourceDocument) (*IngestResult, error) {
	logger.Info("Ingesting document",
		zap.String("document_id", doc.ID),
		zap.String("file_name", doc.FileName),
		zap.String("file_type", doc.FileType),
	)

	data, err := p.fetcher.FetchBytes(ctx, doc.StorageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch document bytes: %w", err)
	}

	text, err := extractText(doc.FileType, data)
	if err != nil {
		return nil, err
	}

	if len(text) < minTextLength {
		return nil, fmt.Errorf("%w: got %d characters", ErrExtractionFailed, len(text))
	}

	chunks := ChunkText(text, p.chunkSize)
	logger.Info("Document chunked",
		zap.String("document_id", doc.ID),
		zap.Int("chunks", len(chunks)),
		zap.Int("text_length", len(text)),
	)

	processed := 0
	for i, chunk := range chunks {
		if len(chunk) < p.minChunkLength {
			logger.Warn("Skipping short chunk",
				zap.String("document_id", doc.ID),
				zap.Int("chunk_index", i),
				zap.Int("length", len(chunk)),
			)
			continue
		}

		embedding, err := p.embedder.GenerateEmbedding(ctx, chunk)
		if err != nil {
			return nil, &IngestionError{ChunkIndex: i, Err: err}
		}

		md := vector.Metadata{
			Kind:        vector.KindDocument,
			ParentID:    doc.ID,
			WorkspaceID: doc.WorkspaceID,
			ChannelID:   doc.ChannelID,
			FileName:    doc.FileName,
			ChunkIndex:  i,
			TotalChunks: len(chunks),
			ChunkLength: len(chunk),
		}

		id := fmt.Sprintf("%s-chunk-%d", doc.ID, i)
		if err := p.index.Upsert(ctx, id, embedding, md); err != nil {
			return nil, &IngestionError{ChunkIndex: i, Err: err}
		}

		processed++
		metrics.ChunksIngested.Inc()
	}

	status := models.DocumentStatus{
		TextContent:     text,
		TextLength:      len(text),
		Vectorized:      processed > 0,
		VectorizedAt:    time.Now(),
		TotalChunks:     len(chunks),
		ProcessedChunks: processed,
	}
	if err := p.docs.UpdateDocumentStatus(ctx, doc.ID, status); err != nil {
		return nil, fmt.Errorf("failed to record ingestion result: %w", err)
	}

	logger.Info("Document ingested",
		zap.String("document_id", doc.ID),
		zap.Int("processed_chunks", processed),
		zap.Int("total_chunks", len(chunks)),
	)

	return &IngestResult{
		ProcessedChunks: processed,
		TotalChunks:     len(chunks),
		TextLength:      len(text),
	}, nil
}

func extractText(fileType string, data []byte) (string, error) {
	switch fileType {
	case models.FileTypePDF:
		return extractPDFText(data)
	case models.FileTypePlainText:
		return strings.TrimSpace(string(data)), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFileType, fileType)
	}
}

func extractPDFText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to parse PDF: %w", err)
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("failed to extract PDF text: %w", err)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("failed to read PDF text: %w", err)
	}

	return strings.TrimSpace(buf.String()), nil
}
