package model

import (
	"encoding/json"
	"time"
)

// VectorChunk is the relational fallback for vector storage: the embedding is
// kept as a JSON array so any gorm dialect can hold it.
type VectorChunk struct {
	ID         string    `gorm:"primaryKey;size:64" json:"id"`
	FileID     uint      `gorm:"not null;index" json:"file_id"`
	SessionID  string    `gorm:"size:64;not null;index" json:"session_id"`
	ChunkIndex int       `gorm:"not null" json:"chunk_index"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	Embedding  string    `gorm:"type:text" json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

func (VectorChunk) TableName() string {
	return "vector_chunks"
}

// EmbeddingVector returns the parsed embedding slice; empty on parse error.
func (c *VectorChunk) EmbeddingVector() []float32 {
	if c.Embedding == "" {
		return nil
	}
	var v []float32
	_ = json.Unmarshal([]byte(c.Embedding), &v)
	return v
}

func (c *VectorChunk) SetEmbedding(vec []float32) {
	if len(vec) == 0 {
		c.Embedding = "[]"
		return
	}
	b, _ := json.Marshal(vec)
	c.Embedding = string(b)
}
