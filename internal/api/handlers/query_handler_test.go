package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamchat-ai/backend/internal/llm"
	"github.com/teamchat-ai/backend/internal/rag"
	"github.com/teamchat-ai/backend/internal/storage/models"
	"github.com/teamchat-ai/backend/internal/vector"
)

type stubEmbedder struct{ err error }

func (s *stubEmbedder) GenerateEmbedding(_ context.Context, _ string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []float32{0.1}, nil
}

type stubSearcher struct{ matches []vector.Match }

func (s *stubSearcher) Query(_ context.Context, _ []float32, _ int) ([]vector.Match, error) {
	return s.matches, nil
}

type stubMessages struct{ byID map[string]*models.ChatMessage }

func (s *stubMessages) GetMessages(_ context.Context, ids []string) (map[string]*models.ChatMessage, error) {
	out := make(map[string]*models.ChatMessage)
	for _, id := range ids {
		if m, ok := s.byID[id]; ok {
			out[id] = m
		}
	}
	return out, nil
}

type stubDocuments struct{}

func (s *stubDocuments) GetDocuments(_ context.Context, _ []string) (map[string]*models.SourceDocument, error) {
	return map[string]*models.SourceDocument{}, nil
}

type stubCompleter struct{ content string }

func (s *stubCompleter) Complete(_ context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return &llm.CompletionResponse{Content: s.content}, nil
}

func newQueryApp(embedder rag.Embedder) *fiber.App {
	searcher := &stubSearcher{matches: []vector.Match{{
		ID:    "m1",
		Score: 0.9,
		Metadata: vector.Metadata{
			Kind:      vector.KindMessage,
			MessageID: "m1",
			Timestamp: 100,
		},
	}}}
	messages := &stubMessages{byID: map[string]*models.ChatMessage{
		"m1": {ID: "m1", Content: "hello there", UserName: "Alice"},
	}}
	svc := rag.NewService(embedder, searcher, messages, &stubDocuments{},
		&stubCompleter{content: "the answer"}, rag.Config{})

	app := fiber.New()
	app.Post("/api/v1/query", NewQueryHandler(svc).HandleQuery)
	return app
}

func postJSON(t *testing.T, app *fiber.App, path string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func TestHandleQuerySuccess(t *testing.T) {
	app := newQueryApp(&stubEmbedder{})

	resp := postJSON(t, app, "/api/v1/query", fiber.Map{"query": "what was said?"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body rag.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "the answer", body.Response)
	require.Len(t, body.SourceMessages, 1)
	assert.Equal(t, "hello there", body.SourceMessages[0].Content)
}

func TestHandleQueryEmptyQuery(t *testing.T) {
	app := newQueryApp(&stubEmbedder{})

	resp := postJSON(t, app, "/api/v1/query", fiber.Map{"query": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleQueryMalformedBody(t *testing.T) {
	app := newQueryApp(&stubEmbedder{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/query", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleQueryServiceError(t *testing.T) {
	app := newQueryApp(&stubEmbedder{err: errors.New("provider down")})

	resp := postJSON(t, app, "/api/v1/query", fiber.Map{"query": "anything"})
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Failed to process query")
}
