package ingestion

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teamchat-ai/backend/internal/metrics"
	"github.com/teamchat-ai/backend/internal/storage/models"
	"github.com/teamchat-ai/backend/internal/vector"
	"github.com/teamchat-ai/backend/pkg/logger"
)

type MessageStore interface {
	ListAllMessages(ctx context.Context) ([]models.ChatMessage, error)
	ListThreadReplies(ctx context.Context, parentID string) ([]models.ChatMessage, error)
}

type BackfillFailure struct {
	MessageID string `json:"messageId"`
	Reason    string `json:"reason"`
}

// BackfillResult summarizes a best-effort batch run; failures are reported,
// not fatal.
type BackfillResult struct {
	Attempted int               `json:"attempted"`
	Succeeded int               `json:"succeeded"`
	Failures  []BackfillFailure `json:"failures,omitempty"`
}

// MessageBackfill walks the whole message store and indexes every non-empty
// message, thread replies interleaved after their parent. Embedding calls
// are throttled to a fixed rate.
type MessageBackfill struct {
	store    MessageStore
	embedder Embedder
	index    Index
	limiter  *rate.Limiter
}

func NewMessageBackfill(store MessageStore, embedder Embedder, index Index, embedRatePerSec float64) *MessageBackfill {
	if embedRatePerSec <= 0 {
		embedRatePerSec = 10
	}
	return &MessageBackfill{
		store:    store,
		embedder: embedder,
		index:    index,
		limiter:  rate.NewLimiter(rate.Limit(embedRatePerSec), 1),
	}
}

func (b *MessageBackfill) Run(ctx context.Context) (*BackfillResult, error) {
	messages, err := b.collectMessages(ctx)
	if err != nil {
		return nil, err
	}

	logger.Info("Message backfill started", zap.Int("messages", len(messages)))

	result := &BackfillResult{}
	for _, msg := range messages {
		if msg.Content == "" {
			continue
		}
		result.Attempted++

		if err := b.limiter.Wait(ctx); err != nil {
			return result, err
		}

		if err := b.indexMessage(ctx, msg); err != nil {
			logger.Warn("Failed to index message, continuing",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
			result.Failures = append(result.Failures, BackfillFailure{
				MessageID: msg.ID,
				Reason:    err.Error(),
			})
			continue
		}

		result.Succeeded++
		if result.Succeeded%10 == 0 {
			logger.Info("Backfill progress",
				zap.Int("succeeded", result.Succeeded),
				zap.Int("total", len(messages)),
			)
		}
	}

	logger.Info("Message backfill finished",
		zap.Int("attempted", result.Attempted),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", len(result.Failures)),
	)

	return result, nil
}

// collectMessages flattens the store into one sequence: each top-level
// message followed by its thread replies in creation order.
func (b *MessageBackfill) collectMessages(ctx context.Context) ([]models.ChatMessage, error) {
	topLevel, err := b.store.ListAllMessages(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	var all []models.ChatMessage
	for _, msg := range topLevel {
		all = append(all, msg)

		replies, err := b.store.ListThreadReplies(ctx, msg.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list thread replies for %s: %w", msg.ID, err)
		}
		all = append(all, replies...)
	}

	return all, nil
}

func (b *MessageBackfill) indexMessage(ctx context.Context, msg models.ChatMessage) error {
	embedding, err := b.embedder.GenerateEmbedding(ctx, msg.Content)
	if err != nil {
		return err
	}

	md := vector.Metadata{
		Kind:      vector.KindMessage,
		MessageID: msg.ID,
		UserID:    msg.UserID,
		ChannelID: msg.ChannelID,
		ThreadID:  msg.ThreadParentID,
		Timestamp: msg.CreatedAt,
	}

	if err := b.index.Upsert(ctx, msg.ID, embedding, md); err != nil {
		return err
	}

	metrics.MessagesIndexed.Inc()
	return nil
}
