// Package vector defines the records stored in the embedding index and the
// matches that come back from similarity queries.
package vector

import "errors"

// Kind discriminates record shapes at write time, so the query path never
// has to infer what a match is from field presence.
const (
	KindMessage  = "message"
	KindDocument = "document"
)

// ErrIndexUnavailable marks a "not found" class failure from the index. The
// client recovers it once by reconnecting; a second failure propagates.
var ErrIndexUnavailable = errors.New("vector index unavailable")

// Metadata carries the back-references from an index record to its owning
// message or document chunk. Which fields are meaningful depends on Kind.
type Metadata struct {
	Kind string

	// Message records.
	MessageID string
	UserID    string
	ChannelID string
	ThreadID  string
	Timestamp int64

	// Document chunk records.
	ParentID    string
	WorkspaceID string
	FileName    string
	ChunkIndex  int
	TotalChunks int
	ChunkLength int
}

// Match is a single query result. Score is cosine similarity, higher is
// closer.
type Match struct {
	ID       string
	Score    float64
	Metadata Metadata
}
