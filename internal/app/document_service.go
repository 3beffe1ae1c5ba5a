package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ragchat/internal/ai"
	"ragchat/internal/cache"
	"ragchat/internal/model"
	"ragchat/internal/pkg/docextract"
	"ragchat/internal/pkg/textsplit"
	"ragchat/internal/repository"
	"ragchat/internal/vectorstore"
)

const StatusIndexed = "indexed"

type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, cfg ai.EmbeddingConfig, texts []string) ([][]float32, error)
}

type DocumentServiceConfig struct {
	BaseURL           string
	EmbeddingModel    string
	BatchSize         int
	MaxBytes          int64
	AllowedExtensions []string
	ChunkSize         int
	ChunkOverlap      int
}

type DocumentService struct {
	docRepo  *repository.DocumentRepository
	store    vectorstore.Store
	embedder BatchEmbedder
	semantic *cache.SemanticCache
	splitter *textsplit.Splitter
	cfg      DocumentServiceConfig
	log      *zap.Logger
}

func NewDocumentService(
	docRepo *repository.DocumentRepository,
	store vectorstore.Store,
	embedder BatchEmbedder,
	semantic *cache.SemanticCache,
	cfg DocumentServiceConfig,
	log *zap.Logger,
) *DocumentService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	return &DocumentService{
		docRepo:  docRepo,
		store:    store,
		embedder: embedder,
		semantic: semantic,
		splitter: textsplit.New(cfg.ChunkSize, cfg.ChunkOverlap),
		cfg:      cfg,
		log:      log.Named("documents"),
	}
}

type UploadInput struct {
	SessionID string
	Filename  string
	Data      []byte
	APIKey    string
}

type UploadResult struct {
	FileID     uint   `json:"file_id"`
	Filename   string `json:"filename"`
	SessionID  string `json:"session_id"`
	ChunkCount int    `json:"chunk_count"`
	Status     string `json:"status"`
}

// Upload extracts, splits and embeds a file and indexes its chunks under the
// session. A failure after the document row is written removes the row and
// any vectors already stored, so a listed document is always searchable.
func (s *DocumentService) Upload(ctx context.Context, input UploadInput) (*UploadResult, error) {
	filename := filepath.Base(strings.TrimSpace(input.Filename))
	if filename == "" || filename == "." || filename == string(filepath.Separator) || tooLong(filename, MaxFilenameLength) {
		return nil, ErrInvalidInput
	}
	sessionID := strings.TrimSpace(input.SessionID)
	if tooLong(sessionID, MaxSessionIDLength) {
		return nil, ErrInvalidInput
	}
	apiKey := strings.TrimSpace(input.APIKey)
	if apiKey == "" {
		return nil, ErrAPIKeyRequired
	}
	if s.cfg.MaxBytes > 0 && int64(len(input.Data)) > s.cfg.MaxBytes {
		return nil, ErrFileTooLarge
	}
	if !s.allowed(filename) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFileType, filepath.Ext(filename))
	}

	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	text, err := docextract.Extract(filename, input.Data)
	if err != nil {
		return nil, err
	}
	chunks := s.splitter.Split(text)
	if len(chunks) == 0 {
		return nil, ErrEmptyDocument
	}

	doc := &model.Document{SessionID: sessionID, Filename: filename}
	if err := s.docRepo.Create(ctx, doc); err != nil {
		return nil, err
	}

	embCfg := ai.EmbeddingConfig{BaseURL: s.cfg.BaseURL, APIKey: apiKey, Model: s.cfg.EmbeddingModel}
	if err := s.index(ctx, doc, chunks, embCfg); err != nil {
		s.rollback(ctx, doc)
		return nil, err
	}
	if err := s.docRepo.UpdateChunkCount(ctx, doc.ID, len(chunks)); err != nil {
		s.rollback(ctx, doc)
		return nil, err
	}
	s.invalidateAnswers(ctx, sessionID)

	s.log.Info("document indexed",
		zap.Uint("file_id", doc.ID),
		zap.String("filename", filename),
		zap.String("session_id", sessionID),
		zap.Int("chunks", len(chunks)),
	)
	return &UploadResult{
		FileID:     doc.ID,
		Filename:   filename,
		SessionID:  sessionID,
		ChunkCount: len(chunks),
		Status:     StatusIndexed,
	}, nil
}

func (s *DocumentService) index(ctx context.Context, doc *model.Document, chunks []string, embCfg ai.EmbeddingConfig) error {
	for start := 0; start < len(chunks); start += s.cfg.BatchSize {
		end := start + s.cfg.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		vectors, err := s.embedder.EmbedBatch(ctx, embCfg, chunks[start:end])
		if err != nil {
			if errors.Is(err, ErrInvalidAPIKey) {
				return err
			}
			return fmt.Errorf("%w: %w", ErrIndexingFailed, err)
		}
		if len(vectors) != end-start {
			return fmt.Errorf("%w: got %d embeddings for %d chunks", ErrIndexingFailed, len(vectors), end-start)
		}

		records := make([]vectorstore.Record, len(vectors))
		for i, vec := range vectors {
			idx := start + i
			records[i] = vectorstore.Record{
				ID:         vectorstore.ChunkID(doc.ID, idx),
				FileID:     doc.ID,
				SessionID:  doc.SessionID,
				ChunkIndex: idx,
				Content:    chunks[idx],
				Vector:     vec,
			}
		}
		if err := s.store.Upsert(ctx, records); err != nil {
			return fmt.Errorf("%w: %w", ErrIndexingFailed, err)
		}
	}
	return nil
}

func (s *DocumentService) rollback(ctx context.Context, doc *model.Document) {
	ctx = context.WithoutCancel(ctx)
	if _, err := s.store.DeleteByFileID(ctx, doc.ID); err != nil {
		s.log.Error("remove partial vectors failed", zap.Uint("file_id", doc.ID), zap.Error(err))
	}
	if err := s.docRepo.DeleteByID(ctx, doc.ID); err != nil {
		s.log.Error("remove document row failed", zap.Uint("file_id", doc.ID), zap.Error(err))
	}
}

func (s *DocumentService) allowed(filename string) bool {
	if !docextract.Supported(filename) {
		return false
	}
	if len(s.cfg.AllowedExtensions) == 0 {
		return true
	}
	ext := docextract.Ext(filename)
	for _, allowed := range s.cfg.AllowedExtensions {
		if strings.EqualFold(allowed, ext) {
			return true
		}
	}
	return false
}

// List returns the session's documents, newest first.
func (s *DocumentService) List(ctx context.Context, sessionID string) ([]model.Document, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, ErrInvalidInput
	}
	return s.docRepo.ListBySessionID(ctx, sessionID)
}

// Delete removes a document of the session. Vectors go first: a row without
// vectors is harmless, vectors without a row would keep answering questions.
func (s *DocumentService) Delete(ctx context.Context, sessionID string, fileID uint) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" || fileID == 0 {
		return ErrInvalidInput
	}
	doc, err := s.docRepo.GetByIDAndSessionID(ctx, fileID, sessionID)
	if err != nil {
		return err
	}
	if doc == nil {
		return ErrDocumentNotFound
	}

	removed, err := s.store.DeleteByFileID(ctx, doc.ID)
	if err != nil {
		return err
	}
	if err := s.docRepo.DeleteByID(ctx, doc.ID); err != nil {
		return err
	}
	s.invalidateAnswers(ctx, sessionID)

	s.log.Info("document deleted",
		zap.Uint("file_id", doc.ID),
		zap.String("session_id", sessionID),
		zap.Int64("vectors", removed),
	)
	return nil
}

// invalidateAnswers drops cached answers that may cite a changed document set.
func (s *DocumentService) invalidateAnswers(ctx context.Context, sessionID string) {
	n, err := s.semantic.InvalidateSession(ctx, sessionID)
	if err != nil {
		s.log.Warn("invalidate semantic cache failed", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	if n > 0 {
		s.log.Info("semantic cache invalidated", zap.String("session_id", sessionID), zap.Int("entries", n))
	}
}
