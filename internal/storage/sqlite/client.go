package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/teamchat-ai/backend/internal/storage/models"
	"github.com/teamchat-ai/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		user_id TEXT NOT NULL,
		user_name TEXT,
		channel_id TEXT NOT NULL,
		workspace_id TEXT,
		thread_parent_id TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		is_edited INTEGER DEFAULT 0,
		reactions TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(channel_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_parent_id);

	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		workspace_id TEXT,
		channel_id TEXT,
		uploader_id TEXT,
		file_name TEXT NOT NULL,
		file_type TEXT NOT NULL,
		storage_url TEXT NOT NULL,
		text_content TEXT,
		text_length INTEGER DEFAULT 0,
		vectorized INTEGER DEFAULT 0,
		vectorized_at INTEGER,
		total_chunks INTEGER DEFAULT 0,
		processed_chunks INTEGER DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_channel ON documents(channel_id);
	CREATE INDEX IF NOT EXISTS idx_documents_vectorized ON documents(vectorized);

	CREATE TABLE IF NOT EXISTS dm_channels (
		id TEXT PRIMARY KEY,
		workspace_id TEXT,
		member_ids TEXT NOT NULL,
		type TEXT DEFAULT 'dm',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("Database schema initialized")
	return nil
}

func (c *Client) GetMessage(ctx context.Context, id string) (*models.ChatMessage, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, content, user_id, COALESCE(user_name, ''), channel_id,
		       COALESCE(workspace_id, ''), COALESCE(thread_parent_id, ''),
		       created_at, updated_at, is_edited, COALESCE(reactions, '')
		FROM messages WHERE id = ?`, id)

	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message %s: %w", id, err)
	}
	return msg, nil
}

// GetMessages resolves a batch of ids; ids without a backing row are
// silently absent from the result.
func (c *Client) GetMessages(ctx context.Context, ids []string) (map[string]*models.ChatMessage, error) {
	result := make(map[string]*models.ChatMessage, len(ids))
	for _, id := range ids {
		msg, err := c.GetMessage(ctx, id)
		if err != nil {
			return nil, err
		}
		if msg != nil {
			result[id] = msg
		}
	}
	return result, nil
}

func (c *Client) ListAllMessages(ctx context.Context) ([]models.ChatMessage, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, content, user_id, COALESCE(user_name, ''), channel_id,
		       COALESCE(workspace_id, ''), COALESCE(thread_parent_id, ''),
		       created_at, updated_at, is_edited, COALESCE(reactions, '')
		FROM messages WHERE thread_parent_id IS NULL OR thread_parent_id = ''
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

func (c *Client) ListThreadReplies(ctx context.Context, parentID string) ([]models.ChatMessage, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, content, user_id, COALESCE(user_name, ''), channel_id,
		       COALESCE(workspace_id, ''), COALESCE(thread_parent_id, ''),
		       created_at, updated_at, is_edited, COALESCE(reactions, '')
		FROM messages WHERE thread_parent_id = ?
		ORDER BY created_at ASC`, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list thread replies for %s: %w", parentID, err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

func (c *Client) CreateMessage(ctx context.Context, msg *models.ChatMessage) (string, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	now := time.Now().UnixMilli()
	if msg.CreatedAt == 0 {
		msg.CreatedAt = now
	}
	if msg.UpdatedAt == 0 {
		msg.UpdatedAt = now
	}

	var reactions []byte
	if msg.Reactions != nil {
		var err error
		reactions, err = json.Marshal(msg.Reactions)
		if err != nil {
			return "", fmt.Errorf("failed to marshal reactions: %w", err)
		}
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO messages (id, content, user_id, user_name, channel_id, workspace_id,
		                      thread_parent_id, created_at, updated_at, is_edited, reactions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.Content, msg.UserID, msg.UserName, msg.ChannelID, msg.WorkspaceID,
		msg.ThreadParentID, msg.CreatedAt, msg.UpdatedAt, msg.IsEdited, string(reactions))
	if err != nil {
		return "", fmt.Errorf("failed to create message: %w", err)
	}

	logger.Debug("Message created",
		zap.String("message_id", msg.ID),
		zap.String("channel_id", msg.ChannelID),
	)

	return msg.ID, nil
}

func (c *Client) GetDocument(ctx context.Context, id string) (*models.SourceDocument, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(workspace_id, ''), COALESCE(channel_id, ''),
		       COALESCE(uploader_id, ''), file_name, file_type, storage_url,
		       COALESCE(text_content, ''), text_length, vectorized, vectorized_at,
		       total_chunks, processed_chunks, created_at, updated_at
		FROM documents WHERE id = ?`, id)

	var doc models.SourceDocument
	var vectorizedAt sql.NullInt64
	err := row.Scan(&doc.ID, &doc.WorkspaceID, &doc.ChannelID, &doc.UploaderID,
		&doc.FileName, &doc.FileType, &doc.StorageURL, &doc.TextContent,
		&doc.TextLength, &doc.Vectorized, &vectorizedAt,
		&doc.TotalChunks, &doc.ProcessedChunks, &doc.CreatedAt, &doc.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document %s: %w", id, err)
	}

	if vectorizedAt.Valid {
		t := time.UnixMilli(vectorizedAt.Int64)
		doc.VectorizedAt = &t
	}

	return &doc, nil
}

func (c *Client) GetDocuments(ctx context.Context, ids []string) (map[string]*models.SourceDocument, error) {
	result := make(map[string]*models.SourceDocument, len(ids))
	for _, id := range ids {
		doc, err := c.GetDocument(ctx, id)
		if err != nil {
			return nil, err
		}
		if doc != nil {
			result[id] = doc
		}
	}
	return result, nil
}

func (c *Client) CreateDocument(ctx context.Context, doc *models.SourceDocument) (string, error) {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	now := time.Now().UnixMilli()
	if doc.CreatedAt == 0 {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO documents (id, workspace_id, channel_id, uploader_id, file_name,
		                       file_type, storage_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.WorkspaceID, doc.ChannelID, doc.UploaderID, doc.FileName,
		doc.FileType, doc.StorageURL, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return "", fmt.Errorf("failed to create document: %w", err)
	}

	return doc.ID, nil
}

func (c *Client) UpdateDocumentStatus(ctx context.Context, id string, status models.DocumentStatus) error {
	_, err := c.db.ExecContext(ctx, `
		UPDATE documents
		SET text_content = ?, text_length = ?, vectorized = ?, vectorized_at = ?,
		    total_chunks = ?, processed_chunks = ?, updated_at = ?
		WHERE id = ?`,
		status.TextContent, status.TextLength, status.Vectorized,
		status.VectorizedAt.UnixMilli(), status.TotalChunks, status.ProcessedChunks,
		time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to update document %s: %w", id, err)
	}

	logger.Info("Document status updated",
		zap.String("document_id", id),
		zap.Bool("vectorized", status.Vectorized),
		zap.Int("processed_chunks", status.ProcessedChunks),
	)

	return nil
}

// ListDMChannelsWithMember returns DM channels whose member set includes the
// given user. Member ids are stored as a JSON array.
func (c *Client) ListDMChannelsWithMember(ctx context.Context, userID string) ([]models.DMChannel, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, COALESCE(workspace_id, ''), member_ids, type, created_at, updated_at
		FROM dm_channels`)
	if err != nil {
		return nil, fmt.Errorf("failed to list dm channels: %w", err)
	}
	defer rows.Close()

	var channels []models.DMChannel
	for rows.Next() {
		var ch models.DMChannel
		var memberJSON string
		if err := rows.Scan(&ch.ID, &ch.WorkspaceID, &memberJSON, &ch.Type, &ch.CreatedAt, &ch.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dm channel: %w", err)
		}
		if err := json.Unmarshal([]byte(memberJSON), &ch.MemberIDs); err != nil {
			logger.Warn("Skipping dm channel with malformed member list",
				zap.String("channel_id", ch.ID), zap.Error(err))
			continue
		}
		for _, m := range ch.MemberIDs {
			if m == userID {
				channels = append(channels, ch)
				break
			}
		}
	}

	return channels, rows.Err()
}

func (c *Client) CreateDMChannel(ctx context.Context, ch *models.DMChannel) (string, error) {
	if ch.ID == "" {
		ch.ID = uuid.New().String()
	}
	now := time.Now().UnixMilli()
	if ch.CreatedAt == 0 {
		ch.CreatedAt = now
	}
	ch.UpdatedAt = now
	if ch.Type == "" {
		ch.Type = "dm"
	}

	members, err := json.Marshal(ch.MemberIDs)
	if err != nil {
		return "", fmt.Errorf("failed to marshal member ids: %w", err)
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO dm_channels (id, workspace_id, member_ids, type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ch.ID, ch.WorkspaceID, string(members), ch.Type, ch.CreatedAt, ch.UpdatedAt)
	if err != nil {
		return "", fmt.Errorf("failed to create dm channel: %w", err)
	}

	return ch.ID, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*models.ChatMessage, error) {
	var msg models.ChatMessage
	var reactions string
	err := row.Scan(&msg.ID, &msg.Content, &msg.UserID, &msg.UserName, &msg.ChannelID,
		&msg.WorkspaceID, &msg.ThreadParentID, &msg.CreatedAt, &msg.UpdatedAt,
		&msg.IsEdited, &reactions)
	if err != nil {
		return nil, err
	}
	if reactions != "" {
		if err := json.Unmarshal([]byte(reactions), &msg.Reactions); err != nil {
			logger.Warn("Malformed reactions payload", zap.String("message_id", msg.ID))
		}
	}
	return &msg, nil
}

func collectMessages(rows *sql.Rows) ([]models.ChatMessage, error) {
	var messages []models.ChatMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}
