package model

import "time"

// Document is the metadata row of an uploaded file. The file id is the
// primary key and doubles as the tag on the file's vectors.
type Document struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	SessionID  string    `gorm:"size:64;not null;index" json:"session_id"`
	Filename   string    `gorm:"size:256;not null" json:"filename"`
	ChunkCount int       `gorm:"not null;default:0" json:"chunk_count"`
	UploadedAt time.Time `gorm:"autoCreateTime;index" json:"upload_timestamp"`
}

func (Document) TableName() string {
	return "document_store"
}
