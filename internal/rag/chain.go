package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ragchat/internal/ai"
	"ragchat/internal/model"
	"ragchat/internal/vectorstore"
)

type LLM interface {
	Complete(ctx context.Context, cfg ai.ChatConfig, messages []ai.ChatMessage) (string, error)
	StreamComplete(ctx context.Context, cfg ai.ChatConfig, messages []ai.ChatMessage, onChunk func(string) error) (string, error)
}

type Retriever interface {
	Search(ctx context.Context, vector []float32, sessionID string, k int) ([]vectorstore.Match, error)
}

type Input struct {
	SessionID string
	Question  string
	History   []ai.ChatMessage
	// QueryVector, when set, is the embedding of Question and is reused for
	// retrieval if the question needs no reformulation.
	QueryVector []float32
}

type Result struct {
	Answer             string
	StandaloneQuestion string
	Sources            []vectorstore.Match
}

// Chain is a history-aware retrieval chain: it rewrites follow-up questions
// into standalone ones, retrieves the session's closest chunks and answers
// from them.
type Chain struct {
	llm       LLM
	embedder  Embedder
	retriever Retriever
	chatCfg   ai.ChatConfig
	embCfg    ai.EmbeddingConfig
	k         int
	createdAt time.Time
}

func NewChain(llm LLM, embedder Embedder, retriever Retriever, chatCfg ai.ChatConfig, embCfg ai.EmbeddingConfig, k int) *Chain {
	if k <= 0 {
		k = 2
	}
	return &Chain{
		llm:       llm,
		embedder:  embedder,
		retriever: retriever,
		chatCfg:   chatCfg,
		embCfg:    embCfg,
		k:         k,
		createdAt: time.Now(),
	}
}

func (c *Chain) Model() string { return c.chatCfg.Model }

func (c *Chain) Invoke(ctx context.Context, in Input) (*Result, error) {
	messages, res, err := c.prepare(ctx, in)
	if err != nil {
		return nil, err
	}
	answer, err := c.llm.Complete(ctx, c.chatCfg, messages)
	if err != nil {
		return nil, fmt.Errorf("generate answer failed: %w", err)
	}
	res.Answer = strings.TrimSpace(answer)
	return res, nil
}

func (c *Chain) Stream(ctx context.Context, in Input, onChunk func(string) error) (*Result, error) {
	messages, res, err := c.prepare(ctx, in)
	if err != nil {
		return nil, err
	}
	answer, err := c.llm.StreamComplete(ctx, c.chatCfg, messages, onChunk)
	if err != nil {
		return nil, fmt.Errorf("stream answer failed: %w", err)
	}
	res.Answer = strings.TrimSpace(answer)
	return res, nil
}

func (c *Chain) prepare(ctx context.Context, in Input) ([]ai.ChatMessage, *Result, error) {
	question := strings.TrimSpace(in.Question)
	standalone, err := c.contextualize(ctx, question, in.History)
	if err != nil {
		return nil, nil, err
	}

	vector := in.QueryVector
	if standalone != question || len(vector) == 0 {
		vector, err = c.embedder.Embed(ctx, c.embCfg, standalone)
		if err != nil {
			return nil, nil, fmt.Errorf("embed question failed: %w", err)
		}
	}

	sources, err := c.retriever.Search(ctx, vector, in.SessionID, c.k)
	if err != nil {
		return nil, nil, fmt.Errorf("retrieve context failed: %w", err)
	}

	return buildQAMessages(sources, in.History, question), &Result{
		StandaloneQuestion: standalone,
		Sources:            sources,
	}, nil
}

// contextualize asks the LLM for a standalone version of question. Without
// history there is nothing to resolve and the question is used as is.
func (c *Chain) contextualize(ctx context.Context, question string, history []ai.ChatMessage) (string, error) {
	if len(history) == 0 {
		return question, nil
	}
	messages := make([]ai.ChatMessage, 0, len(history)+2)
	messages = append(messages, ai.ChatMessage{Role: model.RoleSystem, Content: contextualizeSystemPrompt})
	messages = append(messages, history...)
	messages = append(messages, ai.ChatMessage{Role: model.RoleUser, Content: question})

	rewritten, err := c.llm.Complete(ctx, c.chatCfg, messages)
	if err != nil {
		return "", fmt.Errorf("contextualize question failed: %w", err)
	}
	rewritten = strings.TrimSpace(rewritten)
	if rewritten == "" {
		return question, nil
	}
	return rewritten, nil
}

func buildQAMessages(sources []vectorstore.Match, history []ai.ChatMessage, question string) []ai.ChatMessage {
	parts := make([]string, 0, len(sources))
	for _, s := range sources {
		parts = append(parts, s.Content)
	}

	messages := make([]ai.ChatMessage, 0, len(history)+3)
	messages = append(messages,
		ai.ChatMessage{Role: model.RoleSystem, Content: qaSystemPrompt},
		ai.ChatMessage{Role: model.RoleSystem, Content: "Context: " + strings.Join(parts, contextSeparator)},
	)
	messages = append(messages, history...)
	return append(messages, ai.ChatMessage{Role: model.RoleUser, Content: question})
}
