package ingestion

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamchat-ai/backend/internal/storage/models"
)

type fakeMessageStore struct {
	topLevel []models.ChatMessage
	replies  map[string][]models.ChatMessage
	listErr  error
}

func (f *fakeMessageStore) ListAllMessages(_ context.Context) ([]models.ChatMessage, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.topLevel, nil
}

func (f *fakeMessageStore) ListThreadReplies(_ context.Context, parentID string) ([]models.ChatMessage, error) {
	return f.replies[parentID], nil
}

type failingEmbedder struct {
	failFor map[string]bool
}

func (f *failingEmbedder) GenerateEmbedding(_ context.Context, text string) ([]float32, error) {
	if f.failFor[text] {
		return nil, errors.New("embedding rejected")
	}
	return []float32{1, 2, 3}, nil
}

func msg(id, channel, content string, ts int64) models.ChatMessage {
	return models.ChatMessage{
		ID:        id,
		ChannelID: channel,
		UserID:    "user-" + id,
		Content:   content,
		CreatedAt: ts,
	}
}

func TestBackfillInterleavesThreadReplies(t *testing.T) {
	store := &fakeMessageStore{
		topLevel: []models.ChatMessage{
			msg("m1", "ch-1", "first message", 100),
			msg("m2", "ch-1", "second message", 200),
		},
		replies: map[string][]models.ChatMessage{
			"m1": {
				msg("r1", "ch-1", "reply one", 150),
				msg("r2", "ch-1", "reply two", 160),
			},
		},
	}
	index := &fakeIndex{}

	b := NewMessageBackfill(store, &fakeEmbedder{}, index, 1000)

	result, err := b.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, result.Attempted)
	assert.Equal(t, 4, result.Succeeded)
	assert.Empty(t, result.Failures)

	var order []string
	for _, up := range index.upserts {
		order = append(order, up.id)
	}
	assert.Equal(t, []string{"m1", "r1", "r2", "m2"}, order)
}

func TestBackfillSkipsEmptyMessages(t *testing.T) {
	store := &fakeMessageStore{
		topLevel: []models.ChatMessage{
			msg("m1", "ch-1", "hello", 100),
			msg("m2", "ch-1", "", 200),
			msg("m3", "ch-1", "world", 300),
		},
	}
	index := &fakeIndex{}

	b := NewMessageBackfill(store, &fakeEmbedder{}, index, 1000)

	result, err := b.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Attempted)
	assert.Equal(t, 2, result.Succeeded)
	require.Len(t, index.upserts, 2)
}

func TestBackfillContinuesPastFailures(t *testing.T) {
	store := &fakeMessageStore{
		topLevel: []models.ChatMessage{
			msg("m1", "ch-1", "good one", 100),
			msg("m2", "ch-1", "bad one", 200),
			msg("m3", "ch-1", "good two", 300),
		},
	}
	embedder := &failingEmbedder{failFor: map[string]bool{"bad one": true}}
	index := &fakeIndex{}

	b := NewMessageBackfill(store, embedder, index, 1000)

	result, err := b.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, result.Attempted)
	assert.Equal(t, 2, result.Succeeded)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "m2", result.Failures[0].MessageID)
	assert.Contains(t, result.Failures[0].Reason, "embedding rejected")

	require.Len(t, index.upserts, 2)
	assert.Equal(t, "m1", index.upserts[0].id)
	assert.Equal(t, "m3", index.upserts[1].id)
}

func TestBackfillListErrorIsFatal(t *testing.T) {
	store := &fakeMessageStore{listErr: errors.New("db gone")}

	b := NewMessageBackfill(store, &fakeEmbedder{}, &fakeIndex{}, 1000)

	_, err := b.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list messages")
}
