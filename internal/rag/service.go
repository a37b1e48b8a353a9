package rag

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teamchat-ai/backend/internal/ingestion"
	"github.com/teamchat-ai/backend/internal/llm"
	"github.com/teamchat-ai/backend/internal/metrics"
	"github.com/teamchat-ai/backend/internal/storage/models"
	"github.com/teamchat-ai/backend/internal/vector"
	"github.com/teamchat-ai/backend/pkg/logger"
)

// ErrProcessingFailed wraps any failure inside query processing; callers see
// one error class regardless of which stage broke.
var ErrProcessingFailed = errors.New("failed to process query")

const (
	noMatchesResponse    = "I couldn't find any relevant messages in the history."
	notRelevantResponse  = "I couldn't find any messages that were relevant enough to your query."
	emptyModelResponse   = "Sorry, I couldn't generate a response."
	answerSystemPrompt   = `You are a helpful AI assistant that answers questions about chat history.
Use the provided message history and documents to answer the user's question.
If you're not sure about something, say so.
Always maintain a friendly and professional tone.
Format your responses in a clear and readable way.
If you reference specific messages, include their timestamps.
Focus on the most relevant information from the context.`
)

type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

type Searcher interface {
	Query(ctx context.Context, embedding []float32, topK int) ([]vector.Match, error)
}

type MessageResolver interface {
	GetMessages(ctx context.Context, ids []string) (map[string]*models.ChatMessage, error)
}

type DocumentResolver interface {
	GetDocuments(ctx context.Context, ids []string) (map[string]*models.SourceDocument, error)
}

type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

type SourceMessage struct {
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
	Sender    string `json:"sender"`
}

type SourceDocument struct {
	DocumentID  string `json:"documentId"`
	FileName    string `json:"fileName"`
	ChunkIndex  int    `json:"chunkIndex"`
	TotalChunks int    `json:"totalChunks"`
}

type Response struct {
	Response        string           `json:"response"`
	SourceMessages  []SourceMessage  `json:"sourceMessages"`
	SourceDocuments []SourceDocument `json:"sourceDocuments"`
}

type Config struct {
	TopK      int
	MinScore  float64
	ChunkSize int
	MaxTokens int
}

type Service struct {
	embedder  Embedder
	searcher  Searcher
	messages  MessageResolver
	documents DocumentResolver
	completer Completer
	cfg       Config
}

func NewService(embedder Embedder, searcher Searcher, messages MessageResolver, documents DocumentResolver, completer Completer, cfg Config) *Service {
	if cfg.TopK == 0 {
		cfg.TopK = 15
	}
	if cfg.MinScore == 0 {
		cfg.MinScore = 0.3
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 4000
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 500
	}
	return &Service{
		embedder:  embedder,
		searcher:  searcher,
		messages:  messages,
		documents: documents,
		completer: completer,
		cfg:       cfg,
	}
}

// ProcessQuery retrieves relevant chat messages and document chunks for the
// query and asks the model to answer from that context only.
func (s *Service) ProcessQuery(ctx context.Context, query string) (*Response, error) {
	resp, err := s.processQuery(ctx, query)
	if err != nil {
		metrics.QueryTotal.WithLabelValues("error").Inc()
		logger.Error("RAG processing error", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrProcessingFailed, err)
	}
	metrics.QueryTotal.WithLabelValues("ok").Inc()
	return resp, nil
}

func (s *Service) processQuery(ctx context.Context, query string) (*Response, error) {
	embedding, err := s.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, err
	}

	matches, err := s.searcher.Query(ctx, embedding, s.cfg.TopK)
	if err != nil {
		return nil, err
	}

	if len(matches) == 0 {
		return &Response{
			Response:        noMatchesResponse,
			SourceMessages:  []SourceMessage{},
			SourceDocuments: []SourceDocument{},
		}, nil
	}

	var relevant []vector.Match
	for _, m := range matches {
		if m.Score > s.cfg.MinScore {
			relevant = append(relevant, m)
		}
	}
	metrics.RetrievalMatches.Observe(float64(len(relevant)))

	if len(relevant) == 0 {
		return &Response{
			Response:        notRelevantResponse,
			SourceMessages:  []SourceMessage{},
			SourceDocuments: []SourceDocument{},
		}, nil
	}

	var messageMatches, documentMatches []vector.Match
	for _, m := range relevant {
		switch m.Metadata.Kind {
		case vector.KindDocument:
			documentMatches = append(documentMatches, m)
		default:
			messageMatches = append(messageMatches, m)
		}
	}

	messageContext, sourceMessages, err := s.resolveMessages(ctx, messageMatches)
	if err != nil {
		return nil, err
	}

	documentContext, sourceDocuments, err := s.resolveDocuments(ctx, documentMatches)
	if err != nil {
		return nil, err
	}

	contextBlock := messageContext
	if documentContext != "" {
		if contextBlock != "" {
			contextBlock += "\n\n"
		}
		contextBlock += documentContext
	}

	userPrompt := fmt.Sprintf("Here is the relevant context:\n%s\n\nUser's question: %s", contextBlock, query)

	completion, err := s.completer.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: answerSystemPrompt,
		UserPrompt:   userPrompt,
		MaxTokens:    s.cfg.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	metrics.LLMTokensUsed.WithLabelValues("prompt").Add(float64(completion.Usage.PromptTokens))
	metrics.LLMTokensUsed.WithLabelValues("completion").Add(float64(completion.Usage.CompletionTokens))

	answer := completion.Content
	if answer == "" {
		answer = emptyModelResponse
	}

	logger.Info("Query processed",
		zap.Int("matches", len(matches)),
		zap.Int("relevant", len(relevant)),
		zap.Int("source_messages", len(sourceMessages)),
		zap.Int("source_documents", len(sourceDocuments)),
	)

	return &Response{
		Response:        answer,
		SourceMessages:  sourceMessages,
		SourceDocuments: sourceDocuments,
	}, nil
}

// resolveMessages resolves message matches to their full records, dropping
// matches whose backing message was deleted, and renders them oldest first.
func (s *Service) resolveMessages(ctx context.Context, matches []vector.Match) (string, []SourceMessage, error) {
	if len(matches) == 0 {
		return "", []SourceMessage{}, nil
	}

	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.Metadata.MessageID)
	}

	resolved, err := s.messages.GetMessages(ctx, ids)
	if err != nil {
		return "", nil, err
	}

	var alive []vector.Match
	for _, m := range matches {
		if _, ok := resolved[m.Metadata.MessageID]; ok {
			alive = append(alive, m)
		}
	}

	sort.Slice(alive, func(i, j int) bool {
		return alive[i].Metadata.Timestamp < alive[j].Metadata.Timestamp
	})

	var b strings.Builder
	sources := make([]SourceMessage, 0, len(alive))
	for _, m := range alive {
		msg := resolved[m.Metadata.MessageID]
		sender := msg.UserName
		if sender == "" {
			sender = m.Metadata.UserID
		}
		date := time.UnixMilli(m.Metadata.Timestamp).Format("2006-01-02 15:04:05")
		fmt.Fprintf(&b, "[Chat Message - %s] User %s: %s\n", date, sender, msg.Content)

		sources = append(sources, SourceMessage{
			Content:   msg.Content,
			Timestamp: m.Metadata.Timestamp,
			Sender:    sender,
		})
	}

	return strings.TrimRight(b.String(), "\n"), sources, nil
}

// resolveDocuments resolves chunk matches to their parent documents and
// re-derives each chunk's text from the stored content. Chunking is
// deterministic, so the index recovers the exact chunk.
func (s *Service) resolveDocuments(ctx context.Context, matches []vector.Match) (string, []SourceDocument, error) {
	if len(matches) == 0 {
		return "", []SourceDocument{}, nil
	}

	seen := make(map[string]bool)
	var parentIDs []string
	for _, m := range matches {
		if !seen[m.Metadata.ParentID] {
			seen[m.Metadata.ParentID] = true
			parentIDs = append(parentIDs, m.Metadata.ParentID)
		}
	}

	resolved, err := s.documents.GetDocuments(ctx, parentIDs)
	if err != nil {
		return "", nil, err
	}

	var alive []vector.Match
	for _, m := range matches {
		if _, ok := resolved[m.Metadata.ParentID]; ok {
			alive = append(alive, m)
		}
	}

	sort.Slice(alive, func(i, j int) bool {
		return alive[i].Metadata.ChunkIndex < alive[j].Metadata.ChunkIndex
	})

	var b strings.Builder
	sources := make([]SourceDocument, 0, len(alive))
	for _, m := range alive {
		doc := resolved[m.Metadata.ParentID]

		chunkText := ""
		chunks := ingestion.ChunkText(doc.TextContent, s.cfg.ChunkSize)
		if m.Metadata.ChunkIndex < len(chunks) {
			chunkText = chunks[m.Metadata.ChunkIndex]
		}

		fmt.Fprintf(&b, "[Document: %s - Part %d/%d]\n%s\n",
			doc.FileName, m.Metadata.ChunkIndex+1, m.Metadata.TotalChunks, chunkText)

		sources = append(sources, SourceDocument{
			DocumentID:  doc.ID,
			FileName:    doc.FileName,
			ChunkIndex:  m.Metadata.ChunkIndex,
			TotalChunks: m.Metadata.TotalChunks,
		})
	}

	return strings.TrimRight(b.String(), "\n"), sources, nil
}
