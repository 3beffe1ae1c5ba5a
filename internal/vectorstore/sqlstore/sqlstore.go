// Package sqlstore keeps chunk vectors in the relational database and ranks
// them in process. It needs no extra infrastructure and suits small
// deployments and local development.
package sqlstore

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ragchat/internal/model"
	"ragchat/internal/pkg/vecmath"
	"ragchat/internal/vectorstore"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&model.VectorChunk{}); err != nil {
		return nil, fmt.Errorf("migrate vector chunks failed: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Name() string { return "sql" }

func (s *Store) Upsert(ctx context.Context, records []vectorstore.Record) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]model.VectorChunk, len(records))
	for i, r := range records {
		rows[i] = model.VectorChunk{
			ID:         r.ID,
			FileID:     r.FileID,
			SessionID:  r.SessionID,
			ChunkIndex: r.ChunkIndex,
			Content:    r.Content,
		}
		rows[i].SetEmbedding(r.Vector)
	}
	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		CreateInBatches(rows, 100).Error; err != nil {
		return fmt.Errorf("upsert vector chunks failed: %w", err)
	}
	return nil
}

func (s *Store) Search(ctx context.Context, vector []float32, sessionID string, k int) ([]vectorstore.Match, error) {
	var rows []model.VectorChunk
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load vector chunks failed: %w", err)
	}

	scored := make([]vecmath.Scored[model.VectorChunk], len(rows))
	for i := range rows {
		scored[i] = vecmath.Scored[model.VectorChunk]{
			Item:  rows[i],
			Score: vecmath.Cosine(vector, rows[i].EmbeddingVector()),
		}
	}

	top := vecmath.TopK(scored, k)
	matches := make([]vectorstore.Match, len(top))
	for i, t := range top {
		matches[i] = vectorstore.Match{
			Record: vectorstore.Record{
				ID:         t.Item.ID,
				FileID:     t.Item.FileID,
				SessionID:  t.Item.SessionID,
				ChunkIndex: t.Item.ChunkIndex,
				Content:    t.Item.Content,
			},
			Score: t.Score,
		}
	}
	return matches, nil
}

func (s *Store) DeleteByFileID(ctx context.Context, fileID uint) (int64, error) {
	res := s.db.WithContext(ctx).Where("file_id = ?", fileID).Delete(&model.VectorChunk{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete vector chunks by file failed: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Store) DeleteBySessionID(ctx context.Context, sessionID string) (int64, error) {
	res := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&model.VectorChunk{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete vector chunks by session failed: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&model.VectorChunk{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count vector chunks failed: %w", err)
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

// Close is a no-op: the connection pool belongs to the relational store.
func (s *Store) Close() error { return nil }
