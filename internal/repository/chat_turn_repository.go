package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"ragchat/internal/model"
)

const maxHistoryRows = 500

type ChatTurnRepository struct {
	db *gorm.DB
}

func NewChatTurnRepository(db *gorm.DB) *ChatTurnRepository {
	return &ChatTurnRepository{db: db}
}

// CreateBatch stores all turns of an exchange in one transaction.
func (r *ChatTurnRepository) CreateBatch(ctx context.Context, turns []model.ChatTurn) error {
	if len(turns) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range turns {
			if err := tx.Create(&turns[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("create chat turns failed: %w", err)
	}
	return nil
}

// ListBySessionID returns turns oldest first. With limit > 0 only the most
// recent limit turns are returned, still in chronological order.
func (r *ChatTurnRepository) ListBySessionID(ctx context.Context, sessionID string, limit int) ([]model.ChatTurn, error) {
	if limit <= 0 || limit > maxHistoryRows {
		limit = maxHistoryRows
	}

	turns := make([]model.ChatTurn, 0)
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&turns).Error; err != nil {
		return nil, fmt.Errorf("list chat turns failed: %w", err)
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

func (r *ChatTurnRepository) DeleteBySessionID(ctx context.Context, sessionID string) (int64, error) {
	res := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&model.ChatTurn{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete chat turns failed: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *ChatTurnRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&model.ChatTurn{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count chat turns failed: %w", err)
	}
	return n, nil
}
