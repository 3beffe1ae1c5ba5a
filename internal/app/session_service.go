package app

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"ragchat/internal/cache"
	"ragchat/internal/repository"
	"ragchat/internal/vectorstore"
)

type SessionService struct {
	docRepo  *repository.DocumentRepository
	turnRepo *repository.ChatTurnRepository
	store    vectorstore.Store
	history  *cache.HistoryCache
	semantic *cache.SemanticCache
	log      *zap.Logger
}

func NewSessionService(
	docRepo *repository.DocumentRepository,
	turnRepo *repository.ChatTurnRepository,
	store vectorstore.Store,
	history *cache.HistoryCache,
	semantic *cache.SemanticCache,
	log *zap.Logger,
) *SessionService {
	return &SessionService{
		docRepo:  docRepo,
		turnRepo: turnRepo,
		store:    store,
		history:  history,
		semantic: semantic,
		log:      log.Named("sessions"),
	}
}

type SessionDeleteResult struct {
	SessionID string `json:"session_id"`
	Documents int64  `json:"documents"`
	Vectors   int64  `json:"vectors"`
	Turns     int64  `json:"turns"`
	Status    string `json:"status"`
}

// Delete removes everything stored for a session. Deleting an unknown
// session succeeds with zero counts.
func (s *SessionService) Delete(ctx context.Context, sessionID string) (*SessionDeleteResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, ErrInvalidInput
	}

	vectors, err := s.store.DeleteBySessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	docs, err := s.docRepo.DeleteBySessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	turns, err := s.turnRepo.DeleteBySessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if err := s.history.Invalidate(ctx, sessionID); err != nil {
		s.log.Warn("invalidate history cache failed", zap.Error(err))
	}
	if _, err := s.semantic.InvalidateSession(ctx, sessionID); err != nil {
		s.log.Warn("invalidate semantic cache failed", zap.Error(err))
	}

	s.log.Info("session deleted",
		zap.String("session_id", sessionID),
		zap.Int64("documents", docs),
		zap.Int64("vectors", vectors),
		zap.Int64("turns", turns),
	)
	return &SessionDeleteResult{
		SessionID: sessionID,
		Documents: docs,
		Vectors:   vectors,
		Turns:     turns,
		Status:    "deleted",
	}, nil
}
