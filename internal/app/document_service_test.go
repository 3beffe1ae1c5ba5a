package app

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat/internal/ai"
	"ragchat/internal/cache"
	"ragchat/internal/model"
)

func TestUploadIndexesChunks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res := env.upload(t, "s1", "notes.txt", paragraphs(5))
	assert.Equal(t, "s1", res.SessionID)
	assert.Equal(t, "notes.txt", res.Filename)
	assert.Equal(t, 5, res.ChunkCount)
	assert.Equal(t, StatusIndexed, res.Status)
	assert.NotZero(t, res.FileID)

	vectors, err := env.store.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 5, vectors)

	docs, err := env.docs.List(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, res.FileID, docs[0].ID)
	assert.Equal(t, 5, docs[0].ChunkCount)

	others, err := env.docs.List(ctx, "s2")
	require.NoError(t, err)
	assert.Empty(t, others)
}

func TestUploadGeneratesSessionID(t *testing.T) {
	env := newTestEnv(t)

	res := env.upload(t, "", "../../etc/readme.txt", "just one line")
	_, err := uuid.Parse(res.SessionID)
	assert.NoError(t, err)
	assert.Equal(t, "readme.txt", res.Filename)
	assert.Equal(t, 1, res.ChunkCount)
}

func TestUploadValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		input UploadInput
		want  error
	}{
		{name: "missing api key", input: UploadInput{Filename: "a.txt", Data: []byte("x")}, want: ErrAPIKeyRequired},
		{name: "missing filename", input: UploadInput{APIKey: "k", Data: []byte("x")}, want: ErrInvalidInput},
		{name: "unsupported type", input: UploadInput{APIKey: "k", Filename: "a.exe", Data: []byte("x")}, want: ErrUnsupportedFileType},
		{name: "not in allowed list", input: UploadInput{APIKey: "k", Filename: "a.md", Data: []byte("x")}, want: ErrUnsupportedFileType},
		{name: "too large", input: UploadInput{APIKey: "k", Filename: "a.txt", Data: make([]byte, 2<<20)}, want: ErrFileTooLarge},
		{name: "no text", input: UploadInput{APIKey: "k", Filename: "a.txt", Data: []byte(" \n\n ")}, want: ErrEmptyDocument},
		{name: "corrupt pdf", input: UploadInput{APIKey: "k", Filename: "a.pdf", Data: []byte("not a pdf at all")}, want: ErrUnreadableDocument},
		{name: "invalid utf-8", input: UploadInput{APIKey: "k", Filename: "a.txt", Data: []byte{0xff, 0xfe, 'a'}}, want: ErrUnreadableDocument},
		{name: "session id too long", input: UploadInput{APIKey: "k", SessionID: strings.Repeat("s", MaxSessionIDLength+1), Filename: "a.txt", Data: []byte("x")}, want: ErrInvalidInput},
		{name: "filename too long", input: UploadInput{APIKey: "k", Filename: strings.Repeat("f", MaxFilenameLength) + ".txt", Data: []byte("x")}, want: ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.docs.Upload(ctx, tt.input)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	var rows int64
	require.NoError(t, env.db.Model(&model.Document{}).Count(&rows).Error)
	assert.Zero(t, rows, "rejected uploads leave no document rows")
}

func TestUploadAcceptsLimitLengths(t *testing.T) {
	env := newTestEnv(t)

	session := strings.Repeat("é", MaxSessionIDLength)
	filename := strings.Repeat("f", MaxFilenameLength-len(".txt")) + ".txt"
	res := env.upload(t, session, filename, "one line")
	assert.Equal(t, session, res.SessionID)
	assert.Equal(t, filename, res.Filename)
}

func TestUploadRollsBackOnEmbeddingFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.ai.embedErr = fmt.Errorf("embeddings request failed: %w", ai.ErrInvalidAPIKey)
	_, err := env.docs.Upload(ctx, UploadInput{SessionID: "s1", Filename: "a.txt", Data: []byte(paragraphs(3)), APIKey: "bad"})
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
	assert.NotErrorIs(t, err, ErrIndexingFailed)

	env.ai.embedErr = errBoom
	_, err = env.docs.Upload(ctx, UploadInput{SessionID: "s1", Filename: "a.txt", Data: []byte(paragraphs(3)), APIKey: "k"})
	assert.ErrorIs(t, err, ErrIndexingFailed)
	assert.ErrorIs(t, err, errBoom)

	docs, err := env.docs.List(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, docs)
	vectors, err := env.store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, vectors)
}

func TestDeleteDocument(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	keep := env.upload(t, "s1", "keep.txt", paragraphs(2))
	drop := env.upload(t, "s1", "drop.txt", paragraphs(3))

	assert.ErrorIs(t, env.docs.Delete(ctx, "s2", drop.FileID), ErrDocumentNotFound)
	assert.ErrorIs(t, env.docs.Delete(ctx, "s1", 9999), ErrDocumentNotFound)
	assert.ErrorIs(t, env.docs.Delete(ctx, "", drop.FileID), ErrInvalidInput)

	require.NoError(t, env.docs.Delete(ctx, "s1", drop.FileID))

	docs, err := env.docs.List(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, keep.FileID, docs[0].ID)

	vectors, err := env.store.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, vectors)
}

func TestDocumentChangesInvalidateSemanticCache(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.semantic.Store(ctx, "s1", cache.SemanticEntry{Query: "q", Response: "a", Embedding: []float32{1, 0}}))
	require.NoError(t, env.semantic.Store(ctx, "s2", cache.SemanticEntry{Query: "q", Response: "a", Embedding: []float32{1, 0}}))

	env.upload(t, "s1", "a.txt", "fresh content")

	n, err := env.semantic.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
