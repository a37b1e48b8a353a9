package models

import "time"

// Timestamps are epoch milliseconds throughout; the stores render ISO 8601
// only at presentation time.

type ChatMessage struct {
	ID             string
	Content        string
	UserID         string
	UserName       string
	ChannelID      string
	WorkspaceID    string
	ThreadParentID string
	CreatedAt      int64
	UpdatedAt      int64
	IsEdited       bool
	Reactions      map[string][]string
}

type SourceDocument struct {
	ID              string
	WorkspaceID     string
	ChannelID       string
	UploaderID      string
	FileName        string
	FileType        string
	StorageURL      string
	TextContent     string
	TextLength      int
	Vectorized      bool
	VectorizedAt    *time.Time
	TotalChunks     int
	ProcessedChunks int
	CreatedAt       int64
	UpdatedAt       int64
}

const (
	FileTypePDF       = "pdf"
	FileTypePlainText = "plain-text"
)

type DMChannel struct {
	ID          string
	WorkspaceID string
	MemberIDs   []string
	Type        string
	CreatedAt   int64
	UpdatedAt   int64
}

// DocumentStatus carries the fields the ingestion pipeline writes back
// after a successful run.
type DocumentStatus struct {
	TextContent     string
	TextLength      int
	Vectorized      bool
	VectorizedAt    time.Time
	TotalChunks     int
	ProcessedChunks int
}
