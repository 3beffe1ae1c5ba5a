// Package vectorstore defines the contract shared by the chunk vector
// backends. Every query is scoped to a session.
package vectorstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Record is one embedded chunk of an uploaded document.
type Record struct {
	ID         string
	FileID     uint
	SessionID  string
	ChunkIndex int
	Content    string
	Vector     []float32
}

// Match is a search hit; Score is cosine similarity (1 = identical).
type Match struct {
	Record
	Score float64
}

type Store interface {
	Name() string
	Upsert(ctx context.Context, records []Record) error
	Search(ctx context.Context, vector []float32, sessionID string, k int) ([]Match, error)
	DeleteByFileID(ctx context.Context, fileID uint) (int64, error)
	DeleteBySessionID(ctx context.Context, sessionID string) (int64, error)
	Count(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

var chunkNamespace = uuid.MustParse("6f1c2b1e-3d4a-4c55-9b0e-2a7f6d8e9c10")

// ChunkID derives a stable point id from the file id and chunk position, so
// re-indexing a file overwrites its points instead of duplicating them.
func ChunkID(fileID uint, chunkIndex int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(fmt.Sprintf("%d:%d", fileID, chunkIndex))).String()
}
