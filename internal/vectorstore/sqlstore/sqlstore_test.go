package sqlstore

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"ragchat/internal/vectorstore"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	s, err := New(db)
	require.NoError(t, err)
	return s
}

func record(fileID uint, session string, idx int, content string, vec ...float32) vectorstore.Record {
	return vectorstore.Record{
		ID:         vectorstore.ChunkID(fileID, idx),
		FileID:     fileID,
		SessionID:  session,
		ChunkIndex: idx,
		Content:    content,
		Vector:     vec,
	}
}

func TestSearchIsScopedToSession(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.Upsert(ctx, []vectorstore.Record{
		record(1, "alice", 0, "cats purr", 1, 0, 0),
		record(1, "alice", 1, "dogs bark", 0, 1, 0),
		record(2, "alice", 0, "birds sing", 0.7, 0.7, 0),
		record(3, "bob", 0, "bob's cats", 1, 0, 0),
	}))

	matches, err := s.Search(ctx, []float32{1, 0.1, 0}, "alice", 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "cats purr", matches[0].Content)
	assert.Equal(t, "birds sing", matches[1].Content)
	assert.Greater(t, matches[0].Score, matches[1].Score)
	for _, m := range matches {
		assert.Equal(t, "alice", m.SessionID)
	}

	none, err := s.Search(ctx, []float32{1, 0, 0}, "carol", 2)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestUpsertOverwritesSameChunk(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.Upsert(ctx, []vectorstore.Record{record(1, "s", 0, "old", 1, 0)}))
	require.NoError(t, s.Upsert(ctx, []vectorstore.Record{record(1, "s", 0, "new", 0, 1)}))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	matches, err := s.Search(ctx, []float32{0, 1}, "s", 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "new", matches[0].Content)
}

func TestDeletes(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.Upsert(ctx, []vectorstore.Record{
		record(1, "s1", 0, "a", 1),
		record(1, "s1", 1, "b", 1),
		record(2, "s1", 0, "c", 1),
		record(3, "s2", 0, "d", 1),
	}))

	n, err := s.DeleteByFileID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.DeleteBySessionID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	total, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.NoError(t, s.Ping(ctx))
	assert.Equal(t, "sql", s.Name())
}
