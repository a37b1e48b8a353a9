package milvus

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/teamchat-ai/backend/internal/vector"
	"github.com/teamchat-ai/backend/pkg/logger"
)

// Client talks to a single fixed collection. The connection is established
// lazily on first use; a "not found" failure on any operation triggers one
// reconnect-and-retry before the error propagates, which absorbs index
// cold-start and recreation windows without masking persistent outages.
type Client struct {
	endpoint       string
	collectionName string
	vectorDim      int

	mu   sync.Mutex
	conn client.Client
}

func NewClient(endpoint, collectionName string, vectorDim int) *Client {
	return &Client{
		endpoint:       endpoint,
		collectionName: collectionName,
		vectorDim:      vectorDim,
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) Upsert(ctx context.Context, id string, embedding []float32, md vector.Metadata) error {
	return c.withReconnect(ctx, "upsert", func(conn client.Client) error {
		_, err := conn.Upsert(
			ctx,
			c.collectionName,
			"",
			entity.NewColumnVarChar("id", []string{id}),
			entity.NewColumnFloatVector("embedding", c.vectorDim, [][]float32{embedding}),
			entity.NewColumnVarChar("kind", []string{md.Kind}),
			entity.NewColumnVarChar("message_id", []string{md.MessageID}),
			entity.NewColumnVarChar("user_id", []string{md.UserID}),
			entity.NewColumnVarChar("channel_id", []string{md.ChannelID}),
			entity.NewColumnVarChar("thread_id", []string{md.ThreadID}),
			entity.NewColumnVarChar("parent_id", []string{md.ParentID}),
			entity.NewColumnVarChar("workspace_id", []string{md.WorkspaceID}),
			entity.NewColumnVarChar("file_name", []string{md.FileName}),
			entity.NewColumnInt64("timestamp", []int64{md.Timestamp}),
			entity.NewColumnInt64("chunk_index", []int64{int64(md.ChunkIndex)}),
			entity.NewColumnInt64("total_chunks", []int64{int64(md.TotalChunks)}),
			entity.NewColumnInt64("chunk_length", []int64{int64(md.ChunkLength)}),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert %s: %w", id, err)
		}
		return nil
	})
}

func (c *Client) Query(ctx context.Context, embedding []float32, topK int) ([]vector.Match, error) {
	var matches []vector.Match

	err := c.withReconnect(ctx, "query", func(conn client.Client) error {
		sp, _ := entity.NewIndexIvfFlatSearchParam(16)

		results, err := conn.Search(
			ctx,
			c.collectionName,
			[]string{},
			"",
			[]string{"id", "kind", "message_id", "user_id", "channel_id", "thread_id",
				"parent_id", "workspace_id", "file_name", "timestamp", "chunk_index",
				"total_chunks", "chunk_length"},
			[]entity.Vector{entity.FloatVector(embedding)},
			"embedding",
			entity.COSINE,
			topK,
			sp,
		)
		if err != nil {
			return fmt.Errorf("failed to search: %w", err)
		}

		matches = matches[:0]
		for _, sr := range results {
			for i := 0; i < sr.ResultCount; i++ {
				md := vector.Metadata{
					Kind:        varcharAt(sr.Fields, "kind", i),
					MessageID:   varcharAt(sr.Fields, "message_id", i),
					UserID:      varcharAt(sr.Fields, "user_id", i),
					ChannelID:   varcharAt(sr.Fields, "channel_id", i),
					ThreadID:    varcharAt(sr.Fields, "thread_id", i),
					ParentID:    varcharAt(sr.Fields, "parent_id", i),
					WorkspaceID: varcharAt(sr.Fields, "workspace_id", i),
					FileName:    varcharAt(sr.Fields, "file_name", i),
					Timestamp:   int64At(sr.Fields, "timestamp", i),
					ChunkIndex:  int(int64At(sr.Fields, "chunk_index", i)),
					TotalChunks: int(int64At(sr.Fields, "total_chunks", i)),
					ChunkLength: int(int64At(sr.Fields, "chunk_length", i)),
				}

				matches = append(matches, vector.Match{
					ID:       varcharAt(sr.Fields, "id", i),
					Score:    float64(sr.Scores[i]),
					Metadata: md,
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("Vector search completed",
		zap.Int("topK", topK),
		zap.Int("results", len(matches)),
	)

	return matches, nil
}

// DeleteByParent removes every chunk record belonging to a document. Nothing
// in the pipeline calls this yet; it exists so a store-side deletion hook
// can prune orphaned embeddings.
func (c *Client) DeleteByParent(ctx context.Context, parentID string) error {
	return c.withReconnect(ctx, "delete", func(conn client.Client) error {
		expr := fmt.Sprintf(`parent_id == "%s"`, escapeExprString(parentID))
		if err := conn.Delete(ctx, c.collectionName, "", expr); err != nil {
			return fmt.Errorf("failed to delete by parent %s: %w", parentID, err)
		}
		return nil
	})
}

// escapeExprString escapes a value for use inside a double-quoted string
// literal in a boolean expression, so an id cannot break out of the filter.
func escapeExprString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

// withReconnect runs op against a live connection, reconnecting and retrying
// exactly once when the failure looks like the index went away.
func (c *Client) withReconnect(ctx context.Context, name string, op func(client.Client) error) error {
	conn, err := c.connect(ctx, false)
	if err != nil {
		return err
	}

	err = op(conn)
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return err
	}

	logger.Warn("Index not found, reconnecting and retrying once",
		zap.String("operation", name),
		zap.Error(err),
	)

	conn, rerr := c.connect(ctx, true)
	if rerr != nil {
		return fmt.Errorf("%w: reconnect failed: %v", vector.ErrIndexUnavailable, rerr)
	}

	if err = op(conn); err != nil {
		return fmt.Errorf("%w: %v", vector.ErrIndexUnavailable, err)
	}

	logger.Info("Operation succeeded after index reconnect", zap.String("operation", name))
	return nil
}

func (c *Client) connect(ctx context.Context, force bool) (client.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && !force {
		return c.conn, nil
	}

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	conn, err := client.NewGrpcClient(ctx, c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to milvus at %s: %w", c.endpoint, err)
	}

	if err := c.ensureCollection(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}

	c.conn = conn

	logger.Info("Vector index connected",
		zap.String("endpoint", c.endpoint),
		zap.String("collection", c.collectionName),
	)

	return c.conn, nil
}

func (c *Client) ensureCollection(ctx context.Context, conn client.Client) error {
	has, err := conn.HasCollection(ctx, c.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if !has {
		schema := &entity.Schema{
			CollectionName: c.collectionName,
			Description:    "Chat message and document chunk embeddings",
			Fields: []*entity.Field{
				{
					Name:       "id",
					DataType:   entity.FieldTypeVarChar,
					PrimaryKey: true,
					AutoID:     false,
					TypeParams: map[string]string{"max_length": "128"},
				},
				{
					Name:       "embedding",
					DataType:   entity.FieldTypeFloatVector,
					TypeParams: map[string]string{"dim": fmt.Sprintf("%d", c.vectorDim)},
				},
				{
					Name:       "kind",
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "16"},
				},
				{
					Name:       "message_id",
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "128"},
				},
				{
					Name:       "user_id",
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "128"},
				},
				{
					Name:       "channel_id",
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "128"},
				},
				{
					Name:       "thread_id",
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "128"},
				},
				{
					Name:       "parent_id",
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "128"},
				},
				{
					Name:       "workspace_id",
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "128"},
				},
				{
					Name:       "file_name",
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "512"},
				},
				{Name: "timestamp", DataType: entity.FieldTypeInt64},
				{Name: "chunk_index", DataType: entity.FieldTypeInt64},
				{Name: "total_chunks", DataType: entity.FieldTypeInt64},
				{Name: "chunk_length", DataType: entity.FieldTypeInt64},
			},
		}

		if err := conn.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}

		idx, err := entity.NewIndexIvfFlat(entity.COSINE, 1024)
		if err != nil {
			return fmt.Errorf("failed to build index definition: %w", err)
		}
		if err := conn.CreateIndex(ctx, c.collectionName, "embedding", idx, false); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}

		logger.Info("Collection created", zap.String("collection", c.collectionName))
	}

	if err := conn.LoadCollection(ctx, c.collectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	return nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") ||
		strings.Contains(msg, "not exist") ||
		strings.Contains(msg, "not loaded")
}

func varcharAt(fields client.ResultSet, name string, i int) string {
	col := fields.GetColumn(name)
	if col == nil {
		return ""
	}
	v, err := col.GetAsString(i)
	if err != nil {
		return ""
	}
	return v
}

func int64At(fields client.ResultSet, name string, i int) int64 {
	col := fields.GetColumn(name)
	if col == nil {
		return 0
	}
	v, err := col.GetAsInt64(i)
	if err != nil {
		return 0
	}
	return v
}
