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
	"ragchat/internal/model"
)

func TestChatAnswersFromSessionDocuments(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.chatService(nil)

	env.upload(t, "s1", "doc.txt", paragraphs(3))

	res, err := svc.Chat(ctx, ChatInput{Message: "  What is in the doc?  ", APIKey: "sk-test", SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "answer: What is in the doc?", res.Answer)
	assert.Equal(t, "s1", res.SessionID)
	assert.Equal(t, "gpt-4o-mini", res.Model)
	assert.False(t, res.Cached)
	assert.Len(t, res.Sources, 2)
	assert.Equal(t, 1, env.ai.calls(), "no history means no reformulation call")

	turns, err := env.turnRepo.ListBySessionID(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, model.RoleUser, turns[0].Role)
	assert.Equal(t, "What is in the doc?", turns[0].Content)
	assert.Equal(t, model.RoleAssistant, turns[1].Role)
	assert.Equal(t, res.Answer, turns[1].Content)
}

func TestChatSemanticCacheHit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.chatService(nil)

	first, err := svc.Chat(ctx, ChatInput{Message: "What is Go?", APIKey: "k", SessionID: "s1"})
	require.NoError(t, err)
	require.Equal(t, 1, env.ai.calls())

	second, err := svc.Chat(ctx, ChatInput{Message: "What is Go?", APIKey: "k", SessionID: "s1"})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.InDelta(t, 1.0, second.Similarity, 1e-6)
	assert.Equal(t, first.Answer, second.Answer)
	assert.Equal(t, 1, env.ai.calls(), "cached answers skip the LLM")

	// another session never sees s1's answers
	other, err := svc.Chat(ctx, ChatInput{Message: "What is Go?", APIKey: "k", SessionID: "s2"})
	require.NoError(t, err)
	assert.False(t, other.Cached)

	turns, err := env.turnRepo.ListBySessionID(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, turns, 4)
	assert.False(t, turns[1].Cached)
	assert.True(t, turns[2].Cached)
	assert.True(t, turns[3].Cached)
}

func TestChatSemanticCacheIgnoresSessionPrefixes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.chatService(nil)

	_, err := svc.Chat(ctx, ChatInput{Message: "What is Go?", APIKey: "k", SessionID: "a:b"})
	require.NoError(t, err)

	res, err := svc.Chat(ctx, ChatInput{Message: "What is Go?", APIKey: "k", SessionID: "a"})
	require.NoError(t, err)
	assert.False(t, res.Cached, "session a must not read answers of session a:b")
	assert.Equal(t, 2, env.ai.calls())

	_, err = env.sessions.Delete(ctx, "a")
	require.NoError(t, err)

	again, err := svc.Chat(ctx, ChatInput{Message: "What is Go?", APIKey: "k", SessionID: "a:b"})
	require.NoError(t, err)
	assert.True(t, again.Cached, "deleting session a keeps the entries of a:b")
}

func TestChatFollowUpUsesHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.chatService(nil)

	_, err := svc.Chat(ctx, ChatInput{Message: "Tell me about Paris", APIKey: "k", SessionID: "s1"})
	require.NoError(t, err)
	_, err = svc.Chat(ctx, ChatInput{Message: "And its population?", APIKey: "k", SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, 3, env.ai.calls(), "follow-up is reformulated before answering")

	// the second chat loaded the history into Redis and appended to it
	assert.True(t, env.mr.Exists("chat_history:s1"))
	cached, hit, err := env.history.Get(ctx, "s1")
	require.NoError(t, err)
	require.True(t, hit)
	assert.Len(t, cached, 4)

	turns, err := svc.History(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, turns, 4)
	assert.Equal(t, "And its population?", turns[2].Content)

	last, err := svc.History(ctx, "s1", 1)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, model.RoleAssistant, last[0].Role)
}

func TestChatValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.chatService(nil)

	_, err := svc.Chat(ctx, ChatInput{Message: "  ", APIKey: "k"})
	assert.ErrorIs(t, err, ErrMessageEmpty)

	_, err = svc.Chat(ctx, ChatInput{Message: "hi"})
	assert.ErrorIs(t, err, ErrAPIKeyRequired)

	_, err = svc.Chat(ctx, ChatInput{Message: "hi", APIKey: "k", Model: "davinci"})
	assert.ErrorIs(t, err, ErrModelNotAllowed)

	_, err = svc.Chat(ctx, ChatInput{Message: "hi", APIKey: "k", SessionID: strings.Repeat("s", MaxSessionIDLength+1)})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.History(ctx, " ", 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestChatGeneratesSessionID(t *testing.T) {
	env := newTestEnv(t)
	svc := env.chatService(nil)

	res, err := svc.Chat(context.Background(), ChatInput{Message: "hi", APIKey: "k", Model: "gpt-4o"})
	require.NoError(t, err)
	_, err = uuid.Parse(res.SessionID)
	assert.NoError(t, err)
	assert.Equal(t, "gpt-4o", res.Model)
}

func TestChatInvalidAPIKey(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.chatService(nil)

	env.ai.embedErr = fmt.Errorf("embeddings request failed: %w", ai.ErrInvalidAPIKey)
	_, err := svc.Chat(ctx, ChatInput{Message: "hi", APIKey: "bad", SessionID: "s1"})
	assert.ErrorIs(t, err, ErrInvalidAPIKey)

	env.ai.embedErr = nil
	env.ai.chatErr = &ai.StatusError{Op: "chat completion", StatusCode: 401}
	_, err = svc.Chat(ctx, ChatInput{Message: "hello", APIKey: "bad", SessionID: "s1"})
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
	assert.Zero(t, env.chains.Stats().CachedChains, "chains built with a rejected key are dropped")

	turns, err := env.turnRepo.ListBySessionID(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestChatPublishesTurns(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pub := &fakePublisher{}
	svc := env.chatService(pub)

	_, err := svc.Chat(ctx, ChatInput{Message: "hi", APIKey: "k", SessionID: "s1"})
	require.NoError(t, err)

	require.Len(t, pub.batches, 1)
	assert.Equal(t, "s1", pub.batches[0].SessionID)
	assert.Len(t, pub.batches[0].Turns, 2)

	count, err := env.turnRepo.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count, "the worker owns the database write")

	pub.err = errBoom
	_, err = svc.Chat(ctx, ChatInput{Message: "second", APIKey: "k", SessionID: "s1"})
	require.NoError(t, err)
	count, err = env.turnRepo.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count, "publish failures fall back to a direct write")
}

func TestChatStream(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.chatService(nil)

	var chunks []string
	onChunk := func(s string) error {
		chunks = append(chunks, s)
		return nil
	}
	res, err := svc.ChatStream(ctx, ChatInput{Message: "stream me", APIKey: "k", SessionID: "s1"}, onChunk)
	require.NoError(t, err)
	assert.Equal(t, "answer: stream me", res.Answer)
	assert.Equal(t, res.Answer, strings.Join(chunks, ""))
	assert.Greater(t, len(chunks), 1)

	chunks = nil
	cached, err := svc.ChatStream(ctx, ChatInput{Message: "stream me", APIKey: "k", SessionID: "s1"}, onChunk)
	require.NoError(t, err)
	assert.True(t, cached.Cached)
	assert.Equal(t, []string{res.Answer}, chunks)

	_, err = svc.ChatStream(ctx, ChatInput{Message: "x", APIKey: "k"}, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}
