package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	redisv9 "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"ragchat/internal/ai"
	"ragchat/internal/cache"
	"ragchat/internal/model"
	"ragchat/internal/rag"
	"ragchat/internal/repository"
	"ragchat/internal/vectorstore/sqlstore"
)

const dims = 64

// fakeAI embeds every distinct text as its own one-hot vector, so different
// texts are orthogonal and identical texts match exactly.
type fakeAI struct {
	mu        sync.Mutex
	index     map[string]int
	embedErr  error
	chatErr   error
	embedHits int
	chatCalls int
}

func newFakeAI() *fakeAI {
	return &fakeAI{index: make(map[string]int)}
}

func (f *fakeAI) vector(text string) []float32 {
	i, ok := f.index[text]
	if !ok {
		i = len(f.index)
		f.index[text] = i
	}
	v := make([]float32, dims)
	v[i%dims] = 1
	return v
}

func (f *fakeAI) Embed(_ context.Context, _ ai.EmbeddingConfig, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	f.embedHits++
	return f.vector(text), nil
}

func (f *fakeAI) EmbedBatch(_ context.Context, _ ai.EmbeddingConfig, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.vector(t)
	}
	return out, nil
}

// Complete answers QA prompts with "answer: <question>" and returns the
// question unchanged when asked to reformulate it.
func (f *fakeAI) Complete(_ context.Context, _ ai.ChatConfig, messages []ai.ChatMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatCalls++
	if f.chatErr != nil {
		return "", f.chatErr
	}
	question := messages[len(messages)-1].Content
	if len(messages) > 1 && strings.HasPrefix(messages[1].Content, "Context: ") {
		return "answer: " + question, nil
	}
	return question, nil
}

func (f *fakeAI) StreamComplete(ctx context.Context, cfg ai.ChatConfig, messages []ai.ChatMessage, onChunk func(string) error) (string, error) {
	answer, err := f.Complete(ctx, cfg, messages)
	if err != nil {
		return "", err
	}
	for _, part := range strings.SplitAfter(answer, " ") {
		if err := onChunk(part); err != nil {
			return "", err
		}
	}
	return answer, nil
}

func (f *fakeAI) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chatCalls
}

type fakePublisher struct {
	mu      sync.Mutex
	batches []model.TurnBatch
	err     error
}

func (p *fakePublisher) Publish(_ context.Context, batch model.TurnBatch) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.batches = append(p.batches, batch)
	return nil
}

type testEnv struct {
	db        *gorm.DB
	mr        *miniredis.Miniredis
	redis     *redisv9.Client
	ai        *fakeAI
	store     *sqlstore.Store
	docRepo   *repository.DocumentRepository
	turnRepo  *repository.ChatTurnRepository
	history   *cache.HistoryCache
	semantic  *cache.SemanticCache
	embCache  *cache.EmbeddingCache
	chainCfgs *cache.ChainConfigCache
	chains    *rag.ChainFactory
	optimizer *rag.ContextOptimizer
	docs      *DocumentService
	sessions  *SessionService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&model.Document{}, &model.ChatTurn{}))

	store, err := sqlstore.New(db)
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	client := redisv9.NewClient(&redisv9.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	env := &testEnv{
		db:        db,
		mr:        mr,
		redis:     client,
		ai:        newFakeAI(),
		store:     store,
		docRepo:   repository.NewDocumentRepository(db),
		turnRepo:  repository.NewChatTurnRepository(db),
		history:   cache.NewHistoryCache(client, time.Hour),
		semantic:  cache.NewSemanticCache(client, time.Hour, 0.85),
		embCache:  cache.NewEmbeddingCache(client, time.Hour),
		chainCfgs: cache.NewChainConfigCache(client, time.Hour),
		optimizer: rag.NewContextOptimizer(rag.OptimizerConfig{}),
	}
	log := zap.NewNop()
	embedder := rag.NewCachedEmbedder(env.ai, env.embCache, log)
	env.chains = rag.NewChainFactory(env.ai, embedder, store, env.chainCfgs, rag.FactoryConfig{RetrieverK: 2}, log)
	env.docs = NewDocumentService(env.docRepo, store, env.ai, env.semantic, DocumentServiceConfig{
		BatchSize:         2,
		MaxBytes:          1 << 20,
		AllowedExtensions: []string{".txt", ".html", ".pdf", ".docx"},
		ChunkSize:         60,
		ChunkOverlap:      0,
	}, log)
	env.sessions = NewSessionService(env.docRepo, env.turnRepo, store, env.history, env.semantic, log)
	return env
}

func (e *testEnv) chatService(publisher TurnPublisher) *ChatService {
	log := zap.NewNop()
	return NewChatService(
		e.turnRepo,
		e.chains,
		rag.NewCachedEmbedder(e.ai, e.embCache, log),
		e.optimizer,
		e.history,
		e.semantic,
		publisher,
		ChatServiceConfig{DefaultModel: "gpt-4o-mini", AllowedModels: []string{"gpt-4o-mini", "gpt-4o"}, MaxHistoryLength: 20},
		log,
	)
}

func (e *testEnv) upload(t *testing.T, sessionID, filename, content string) *UploadResult {
	t.Helper()
	res, err := e.docs.Upload(context.Background(), UploadInput{
		SessionID: sessionID,
		Filename:  filename,
		Data:      []byte(content),
		APIKey:    "sk-test",
	})
	require.NoError(t, err)
	return res
}

func paragraphs(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("Paragraph number %d talks about topic %d.", i, i)
	}
	return strings.Join(parts, "\n\n")
}

var errBoom = errors.New("boom")
