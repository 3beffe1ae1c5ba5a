package repository

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"ragchat/internal/model"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&model.Document{}, &model.ChatTurn{}))
	return db
}

func TestDocumentRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewDocumentRepository(newTestDB(t))

	base := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	first := &model.Document{SessionID: "s1", Filename: "a.pdf", UploadedAt: base}
	second := &model.Document{SessionID: "s1", Filename: "b.txt", UploadedAt: base.Add(time.Minute)}
	other := &model.Document{SessionID: "s2", Filename: "c.docx", UploadedAt: base}
	for _, d := range []*model.Document{first, second, other} {
		require.NoError(t, repo.Create(ctx, d))
	}

	list, err := repo.ListBySessionID(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b.txt", list[0].Filename)
	assert.Equal(t, "a.pdf", list[1].Filename)

	require.NoError(t, repo.UpdateChunkCount(ctx, first.ID, 7))
	got, err := repo.GetByIDAndSessionID(ctx, first.ID, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 7, got.ChunkCount)

	missing, err := repo.GetByIDAndSessionID(ctx, first.ID, "s2")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, repo.DeleteByID(ctx, first.ID))
	list, err = repo.ListBySessionID(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	n, err := repo.DeleteBySessionID(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	total, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestDocumentRepositoryEmptyList(t *testing.T) {
	repo := NewDocumentRepository(newTestDB(t))
	list, err := repo.ListBySessionID(context.Background(), "nobody")
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestChatTurnRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewChatTurnRepository(newTestDB(t))

	base := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	for i, q := range []string{"q1", "q2", "q3"} {
		batch := model.NewExchange("s1", q, "a"+q[1:], "gpt-4o-mini", false, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, repo.CreateBatch(ctx, batch.Turns))
	}
	require.NoError(t, repo.CreateBatch(ctx, model.NewExchange("s2", "x", "y", "gpt-4o", true, base).Turns))

	all, err := repo.ListBySessionID(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, all, 6)
	assert.Equal(t, "q1", all[0].Content)
	assert.Equal(t, model.RoleUser, all[0].Role)
	assert.Equal(t, "a1", all[1].Content)
	assert.Equal(t, model.RoleAssistant, all[1].Role)
	assert.Equal(t, "a3", all[5].Content)

	recent, err := repo.ListBySessionID(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "q3", recent[0].Content)
	assert.Equal(t, "a3", recent[1].Content)

	cached, err := repo.ListBySessionID(ctx, "s2", 0)
	require.NoError(t, err)
	require.Len(t, cached, 2)
	assert.True(t, cached[1].Cached)

	n, err := repo.DeleteBySessionID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)

	total, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
}
