package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamchat-ai/backend/internal/storage/models"
	"github.com/teamchat-ai/backend/internal/vector"
)

type fakeFetcher struct {
	data map[string][]byte
	err  error
}

func (f *fakeFetcher) FetchBytes(_ context.Context, url string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.data[url], nil
}

type fakeEmbedder struct {
	calls  int
	failAt int // 1-based call number to fail on; 0 means never
}

func (f *fakeEmbedder) GenerateEmbedding(_ context.Context, text string) ([]float32, error) {
	f.calls++
	if f.failAt != 0 && f.calls == f.failAt {
		return nil, errors.New("embedding provider down")
	}
	return []float32{float32(len(text)), 0.5}, nil
}

type upsertCall struct {
	id string
	md vector.Metadata
}

type fakeIndex struct {
	upserts []upsertCall
	failAt  int
}

func (f *fakeIndex) Upsert(_ context.Context, id string, _ []float32, md vector.Metadata) error {
	if f.failAt != 0 && len(f.upserts)+1 == f.failAt {
		return errors.New("index write failed")
	}
	f.upserts = append(f.upserts, upsertCall{id: id, md: md})
	return nil
}

type fakeDocStore struct {
	updated map[string]models.DocumentStatus
}

func (f *fakeDocStore) GetDocument(_ context.Context, id string) (*models.SourceDocument, error) {
	return nil, nil
}

func (f *fakeDocStore) UpdateDocumentStatus(_ context.Context, id string, status models.DocumentStatus) error {
	if f.updated == nil {
		f.updated = make(map[string]models.DocumentStatus)
	}
	f.updated[id] = status
	return nil
}

func plainTextDoc(id, content string) (*models.SourceDocument, *fakeFetcher) {
	doc := &models.SourceDocument{
		ID:          id,
		WorkspaceID: "ws-1",
		ChannelID:   "ch-1",
		FileName:    "notes.txt",
		FileType:    models.FileTypePlainText,
		StorageURL:  "https://storage.example.com/" + id,
	}
	fetcher := &fakeFetcher{data: map[string][]byte{doc.StorageURL: []byte(content)}}
	return doc, fetcher
}

func TestIngestPlainTextDocument(t *testing.T) {
	text := strings.Repeat("A meaningful paragraph of text. ", 20)
	doc, fetcher := plainTextDoc("doc-1", text)
	embedder := &fakeEmbedder{}
	index := &fakeIndex{}
	store := &fakeDocStore{}

	p := NewDocumentPipeline(fetcher, embedder, index, store, 200, 10)

	result, err := p.Ingest(context.Background(), doc)
	require.NoError(t, err)

	assert.Greater(t, result.TotalChunks, 1)
	assert.Equal(t, result.TotalChunks, result.ProcessedChunks)
	assert.Equal(t, len(strings.TrimSpace(text)), result.TextLength)

	require.Len(t, index.upserts, result.ProcessedChunks)
	for i, up := range index.upserts {
		assert.Equal(t, fmt.Sprintf("doc-1-chunk-%d", i), up.id)
		assert.Equal(t, vector.KindDocument, up.md.Kind)
		assert.Equal(t, "doc-1", up.md.ParentID)
		assert.Equal(t, "ws-1", up.md.WorkspaceID)
		assert.Equal(t, "ch-1", up.md.ChannelID)
		assert.Equal(t, i, up.md.ChunkIndex)
		assert.Equal(t, result.TotalChunks, up.md.TotalChunks)
	}

	status, ok := store.updated["doc-1"]
	require.True(t, ok, "document status must be written back")
	assert.True(t, status.Vectorized)
	assert.Equal(t, result.TotalChunks, status.TotalChunks)
	assert.Equal(t, result.ProcessedChunks, status.ProcessedChunks)
	assert.False(t, status.VectorizedAt.IsZero())
}

func TestIngestUnsupportedFileType(t *testing.T) {
	doc, fetcher := plainTextDoc("doc-2", "whatever content this holds")
	doc.FileType = "image/png"
	store := &fakeDocStore{}

	p := NewDocumentPipeline(fetcher, &fakeEmbedder{}, &fakeIndex{}, store, 4000, 10)

	_, err := p.Ingest(context.Background(), doc)
	require.ErrorIs(t, err, ErrUnsupportedFileType)
	assert.Empty(t, store.updated, "failed run must not mark the document vectorized")
}

func TestIngestTooLittleText(t *testing.T) {
	doc, fetcher := plainTextDoc("doc-3", "tiny")
	store := &fakeDocStore{}

	p := NewDocumentPipeline(fetcher, &fakeEmbedder{}, &fakeIndex{}, store, 4000, 10)

	_, err := p.Ingest(context.Background(), doc)
	require.ErrorIs(t, err, ErrExtractionFailed)
	assert.Empty(t, store.updated)
}

func TestIngestAbortsOnChunkFailure(t *testing.T) {
	text := strings.Repeat("Sentence for the first chunk. ", 10) +
		"\n\n" + strings.Repeat("Sentence for the second chunk. ", 10)
	doc, fetcher := plainTextDoc("doc-4", text)
	embedder := &fakeEmbedder{failAt: 2}
	index := &fakeIndex{}
	store := &fakeDocStore{}

	p := NewDocumentPipeline(fetcher, embedder, index, store, 300, 10)

	_, err := p.Ingest(context.Background(), doc)
	require.Error(t, err)

	var ingErr *IngestionError
	require.ErrorAs(t, err, &ingErr)
	assert.Equal(t, 1, ingErr.ChunkIndex)

	// The first chunk's upsert stays committed; the run is not transactional.
	require.Len(t, index.upserts, 1)
	assert.Equal(t, "doc-4-chunk-0", index.upserts[0].id)
	assert.Empty(t, store.updated)
}

func TestIngestSkipsShortChunks(t *testing.T) {
	// Force a short middle paragraph into its own chunk.
	text := strings.Repeat("Long enough sentence to fill a chunk. ", 8) +
		"\n\nok.\n\n" + strings.Repeat("Another run of sentences for a chunk. ", 8)
	doc, fetcher := plainTextDoc("doc-5", text)
	embedder := &fakeEmbedder{}
	index := &fakeIndex{}
	store := &fakeDocStore{}

	p := NewDocumentPipeline(fetcher, embedder, index, store, 305, 10)

	result, err := p.Ingest(context.Background(), doc)
	require.NoError(t, err)

	assert.Less(t, result.ProcessedChunks, result.TotalChunks)
	status := store.updated["doc-5"]
	assert.True(t, status.Vectorized)
	assert.Equal(t, result.ProcessedChunks, status.ProcessedChunks)
}
