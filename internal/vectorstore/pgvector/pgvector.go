// Package pgvector stores chunk vectors in PostgreSQL with the pgvector
// extension and lets the database rank them by cosine distance.
package pgvector

import (
	"context"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"ragchat/internal/vectorstore"
)

type chunkEmbedding struct {
	ID         string          `gorm:"primaryKey;size:64"`
	FileID     uint            `gorm:"not null;index"`
	SessionID  string          `gorm:"size:64;not null;index"`
	ChunkIndex int             `gorm:"not null"`
	Content    string          `gorm:"type:text;not null"`
	Embedding  pgvector.Vector `gorm:"type:vector;not null"`
	CreatedAt  time.Time       `gorm:"autoCreateTime"`
}

func (chunkEmbedding) TableName() string {
	return "chunk_embeddings"
}

type scoredRow struct {
	chunkEmbedding
	Score float64
}

type Store struct {
	db *gorm.DB
}

func New(ctx context.Context, dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		// gorm returns the handle even when its initial ping fails
		if db != nil {
			if sqlDB, dbErr := db.DB(); dbErr == nil {
				_ = sqlDB.Close()
			}
		}
		return nil, fmt.Errorf("open pgvector failed: %w", err)
	}
	return newStore(ctx, db)
}

// newStore prepares the schema on an open connection. The pool is closed on
// any failure since the caller never receives it.
func newStore(ctx context.Context, db *gorm.DB) (*Store, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get pgvector sql db failed: %w", err)
	}
	fail := func(format string, err error) (*Store, error) {
		_ = sqlDB.Close()
		return nil, fmt.Errorf(format, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		return fail("ping pgvector failed: %w", err)
	}
	if err := db.WithContext(ctx).Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return fail("create vector extension failed: %w", err)
	}
	if err := db.WithContext(ctx).AutoMigrate(&chunkEmbedding{}); err != nil {
		return fail("migrate chunk embeddings failed: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Name() string { return "pgvector" }

func (s *Store) Upsert(ctx context.Context, records []vectorstore.Record) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]chunkEmbedding, len(records))
	for i, r := range records {
		rows[i] = toRow(r)
	}
	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		CreateInBatches(rows, 100).Error; err != nil {
		return fmt.Errorf("upsert chunk embeddings failed: %w", err)
	}
	return nil
}

// Search ranks the session's chunks by cosine distance (<=>) and reports
// similarity as 1 - distance.
func (s *Store) Search(ctx context.Context, vector []float32, sessionID string, k int) ([]vectorstore.Match, error) {
	if k <= 0 {
		return nil, nil
	}
	query := pgvector.NewVector(vector)

	var rows []scoredRow
	err := s.db.WithContext(ctx).
		Table("chunk_embeddings").
		Select("chunk_embeddings.*, 1 - (embedding <=> ?) AS score", query).
		Where("session_id = ?", sessionID).
		Order(gorm.Expr("embedding <=> ?", query)).
		Limit(k).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("search chunk embeddings failed: %w", err)
	}

	matches := make([]vectorstore.Match, len(rows))
	for i, row := range rows {
		matches[i] = vectorstore.Match{Record: fromRow(row.chunkEmbedding), Score: row.Score}
	}
	return matches, nil
}

func (s *Store) DeleteByFileID(ctx context.Context, fileID uint) (int64, error) {
	res := s.db.WithContext(ctx).Where("file_id = ?", fileID).Delete(&chunkEmbedding{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete chunk embeddings by file failed: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Store) DeleteBySessionID(ctx context.Context, sessionID string) (int64, error) {
	res := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&chunkEmbedding{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete chunk embeddings by session failed: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&chunkEmbedding{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count chunk embeddings failed: %w", err)
	}
	return n, nil
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRow(r vectorstore.Record) chunkEmbedding {
	return chunkEmbedding{
		ID:         r.ID,
		FileID:     r.FileID,
		SessionID:  r.SessionID,
		ChunkIndex: r.ChunkIndex,
		Content:    r.Content,
		Embedding:  pgvector.NewVector(r.Vector),
	}
}

func fromRow(row chunkEmbedding) vectorstore.Record {
	return vectorstore.Record{
		ID:         row.ID,
		FileID:     row.FileID,
		SessionID:  row.SessionID,
		ChunkIndex: row.ChunkIndex,
		Content:    row.Content,
		Vector:     row.Embedding.Slice(),
	}
}
