package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ragchat/internal/ai"
	"ragchat/internal/cache"
	"ragchat/internal/model"
	"ragchat/internal/rag"
	"ragchat/internal/repository"
)

type TurnPublisher interface {
	Publish(ctx context.Context, batch model.TurnBatch) error
}

type ChatServiceConfig struct {
	BaseURL        string
	EmbeddingModel string
	DefaultModel   string
	AllowedModels  []string
	// MaxHistoryLength is the number of exchanges loaded as chat context.
	MaxHistoryLength int
}

type ChatService struct {
	turnRepo  *repository.ChatTurnRepository
	chains    *rag.ChainFactory
	embedder  rag.Embedder
	optimizer *rag.ContextOptimizer
	history   *cache.HistoryCache
	semantic  *cache.SemanticCache
	publisher TurnPublisher
	cfg       ChatServiceConfig
	log       *zap.Logger
	now       func() time.Time
}

// NewChatService wires the chat pipeline. publisher may be nil, in which case
// exchanges are written to the database synchronously.
func NewChatService(
	turnRepo *repository.ChatTurnRepository,
	chains *rag.ChainFactory,
	embedder rag.Embedder,
	optimizer *rag.ContextOptimizer,
	history *cache.HistoryCache,
	semantic *cache.SemanticCache,
	publisher TurnPublisher,
	cfg ChatServiceConfig,
	log *zap.Logger,
) *ChatService {
	if cfg.MaxHistoryLength <= 0 {
		cfg.MaxHistoryLength = 20
	}
	return &ChatService{
		turnRepo:  turnRepo,
		chains:    chains,
		embedder:  embedder,
		optimizer: optimizer,
		history:   history,
		semantic:  semantic,
		publisher: publisher,
		cfg:       cfg,
		log:       log.Named("chat"),
		now:       time.Now,
	}
}

type ChatInput struct {
	Message   string
	APIKey    string
	SessionID string
	Model     string
}

type Source struct {
	FileID     uint    `json:"file_id"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"`
	Content    string  `json:"content"`
}

type ChatResult struct {
	Answer     string   `json:"answer"`
	SessionID  string   `json:"session_id"`
	Model      string   `json:"model"`
	Cached     bool     `json:"cached"`
	Similarity float64  `json:"similarity,omitempty"`
	Sources    []Source `json:"sources"`
}

type chatRequest struct {
	question  string
	apiKey    string
	sessionID string
	model     string
	embCfg    ai.EmbeddingConfig
}

func (s *ChatService) Chat(ctx context.Context, input ChatInput) (*ChatResult, error) {
	return s.run(ctx, input, nil)
}

// ChatStream runs the same pipeline as Chat but streams the answer through
// onChunk. A semantic cache hit is delivered as a single chunk.
func (s *ChatService) ChatStream(ctx context.Context, input ChatInput, onChunk func(string) error) (*ChatResult, error) {
	if onChunk == nil {
		return nil, ErrInvalidInput
	}
	return s.run(ctx, input, onChunk)
}

func (s *ChatService) run(ctx context.Context, input ChatInput, onChunk func(string) error) (*ChatResult, error) {
	req, err := s.resolve(input)
	if err != nil {
		return nil, err
	}

	var queryVector []float32
	if s.semantic.Enabled() {
		queryVector, err = s.embedder.Embed(ctx, req.embCfg, req.question)
		if err != nil {
			return nil, fmt.Errorf("embed question failed: %w", err)
		}
		if res := s.cachedAnswer(ctx, req, queryVector); res != nil {
			if onChunk != nil {
				if err := onChunk(res.Answer); err != nil {
					return nil, err
				}
			}
			return res, nil
		}
	}

	history, err := s.contextHistory(ctx, req.sessionID)
	if err != nil {
		return nil, err
	}

	chain := s.chains.Get(ctx, req.apiKey, req.model)
	in := rag.Input{
		SessionID:   req.sessionID,
		Question:    req.question,
		History:     history,
		QueryVector: queryVector,
	}
	var out *rag.Result
	if onChunk != nil {
		out, err = chain.Stream(ctx, in, onChunk)
	} else {
		out, err = chain.Invoke(ctx, in)
	}
	if err != nil {
		if errors.Is(err, ErrInvalidAPIKey) {
			s.chains.Invalidate(req.apiKey, req.model)
		}
		return nil, err
	}

	if len(queryVector) > 0 {
		if err := s.semantic.Store(ctx, req.sessionID, cache.SemanticEntry{
			Query:      req.question,
			Response:   out.Answer,
			Embedding:  queryVector,
			Model:      req.model,
			APIKeyHash: cache.HashAPIKey(req.apiKey),
			Timestamp:  s.now(),
		}); err != nil {
			s.log.Warn("store semantic cache entry failed", zap.Error(err))
		}
	}

	if err := s.record(ctx, model.NewExchange(req.sessionID, req.question, out.Answer, req.model, false, s.now())); err != nil {
		return nil, err
	}

	sources := make([]Source, 0, len(out.Sources))
	for _, m := range out.Sources {
		sources = append(sources, Source{FileID: m.FileID, ChunkIndex: m.ChunkIndex, Score: m.Score, Content: m.Content})
	}
	return &ChatResult{
		Answer:    out.Answer,
		SessionID: req.sessionID,
		Model:     req.model,
		Sources:   sources,
	}, nil
}

func (s *ChatService) resolve(input ChatInput) (chatRequest, error) {
	question := strings.TrimSpace(input.Message)
	if question == "" {
		return chatRequest{}, ErrMessageEmpty
	}
	apiKey := strings.TrimSpace(input.APIKey)
	if apiKey == "" {
		return chatRequest{}, ErrAPIKeyRequired
	}
	modelName := strings.TrimSpace(input.Model)
	if modelName == "" {
		modelName = s.cfg.DefaultModel
	}
	if !s.modelAllowed(modelName) {
		return chatRequest{}, fmt.Errorf("%w: %s", ErrModelNotAllowed, modelName)
	}
	sessionID := strings.TrimSpace(input.SessionID)
	if tooLong(sessionID, MaxSessionIDLength) {
		return chatRequest{}, ErrInvalidInput
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return chatRequest{
		question:  question,
		apiKey:    apiKey,
		sessionID: sessionID,
		model:     modelName,
		embCfg:    ai.EmbeddingConfig{BaseURL: s.cfg.BaseURL, APIKey: apiKey, Model: s.cfg.EmbeddingModel},
	}, nil
}

func (s *ChatService) modelAllowed(name string) bool {
	if len(s.cfg.AllowedModels) == 0 {
		return name != ""
	}
	for _, m := range s.cfg.AllowedModels {
		if m == name {
			return true
		}
	}
	return false
}

func (s *ChatService) cachedAnswer(ctx context.Context, req chatRequest, queryVector []float32) *ChatResult {
	entry, similarity, err := s.semantic.Lookup(ctx, req.sessionID, queryVector)
	if err != nil {
		s.log.Warn("semantic cache lookup failed", zap.Error(err))
		return nil
	}
	if entry == nil {
		s.log.Debug("semantic cache miss", zap.String("session_id", req.sessionID))
		return nil
	}
	s.log.Info("semantic cache hit",
		zap.String("session_id", req.sessionID),
		zap.Float64("similarity", similarity),
	)

	if err := s.record(ctx, model.NewExchange(req.sessionID, req.question, entry.Response, req.model, true, s.now())); err != nil {
		s.log.Warn("record cached exchange failed", zap.Error(err))
	}
	return &ChatResult{
		Answer:     entry.Response,
		SessionID:  req.sessionID,
		Model:      req.model,
		Cached:     true,
		Similarity: similarity,
		Sources:    []Source{},
	}
}

// contextHistory returns the recent history as LLM messages, trimmed to the
// configured number of exchanges and fitted into the token budget.
func (s *ChatService) contextHistory(ctx context.Context, sessionID string) ([]ai.ChatMessage, error) {
	turns, err := s.loadTurns(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	turns = lastTurns(turns, 2*s.cfg.MaxHistoryLength)

	messages := make([]ai.ChatMessage, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, ai.ChatMessage{Role: t.Role, Content: t.Content})
	}

	optimized, summary := s.optimizer.Optimize(messages)
	if len(optimized) != len(messages) || summary != "" {
		s.log.Info("context optimized",
			zap.String("session_id", sessionID),
			zap.Int("messages_before", len(messages)),
			zap.Int("messages_after", len(optimized)),
			zap.Bool("summarized", summary != ""),
		)
	}
	return rag.WithSummary(optimized, summary), nil
}

// History returns the session's turns oldest first; limit > 0 keeps only the
// most recent limit turns.
func (s *ChatService) History(ctx context.Context, sessionID string, limit int) ([]model.ChatTurn, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" || limit < 0 {
		return nil, ErrInvalidInput
	}
	turns, err := s.loadTurns(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if turns == nil {
		turns = []model.ChatTurn{}
	}
	return lastTurns(turns, limit), nil
}

func (s *ChatService) loadTurns(ctx context.Context, sessionID string) ([]model.ChatTurn, error) {
	cached, hit, err := s.history.Get(ctx, sessionID)
	if err != nil {
		s.log.Warn("history cache read failed", zap.Error(err))
	}
	if hit {
		s.log.Debug("history cache hit", zap.String("session_id", sessionID))
		return cached, nil
	}

	turns, err := s.turnRepo.ListBySessionID(ctx, sessionID, 0)
	if err != nil {
		return nil, err
	}
	if len(turns) > 0 {
		if err := s.history.Set(ctx, sessionID, turns); err != nil {
			s.log.Warn("history cache write failed", zap.Error(err))
		}
	}
	return turns, nil
}

// record persists an exchange, through the queue when one is configured, and
// extends the cached history.
func (s *ChatService) record(ctx context.Context, batch model.TurnBatch) error {
	published := false
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, batch); err != nil {
			s.log.Warn("publish chat turns failed, writing directly", zap.Error(err))
		} else {
			published = true
		}
	}
	if !published {
		if err := s.turnRepo.CreateBatch(ctx, batch.Turns); err != nil {
			return err
		}
	}

	if err := s.history.Append(ctx, batch.SessionID, batch.Turns...); err != nil {
		s.log.Warn("history cache append failed", zap.Error(err))
	}
	return nil
}

func lastTurns(turns []model.ChatTurn, n int) []model.ChatTurn {
	if n <= 0 || n >= len(turns) {
		return turns
	}
	return turns[len(turns)-n:]
}
