package rag

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"ragchat/internal/ai"
	"ragchat/internal/model"
)

type OptimizerConfig struct {
	MaxContextTokens  int
	SummaryTokens     int
	SlidingWindowSize int
	MinRecentMessages int
}

// ContextOptimizer keeps the history sent to the LLM under a token budget.
// Older turns are reduced to a one-line summary of what the user asked and
// only a sliding window of recent turns is passed through verbatim.
type ContextOptimizer struct {
	cfg OptimizerConfig
}

func NewContextOptimizer(cfg OptimizerConfig) *ContextOptimizer {
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = 3000
	}
	if cfg.SummaryTokens <= 0 {
		cfg.SummaryTokens = 500
	}
	if cfg.SlidingWindowSize <= 0 {
		cfg.SlidingWindowSize = 10
	}
	if cfg.MinRecentMessages <= 0 || cfg.MinRecentMessages > cfg.SlidingWindowSize {
		cfg.MinRecentMessages = 6
	}
	return &ContextOptimizer{cfg: cfg}
}

func (o *ContextOptimizer) Config() OptimizerConfig { return o.cfg }

// EstimateTokens approximates one token per four characters.
func EstimateTokens(text string) int {
	return utf8.RuneCountInString(text) / 4
}

func totalTokens(history []ai.ChatMessage) int {
	n := 0
	for _, m := range history {
		n += EstimateTokens(m.Content)
	}
	return n
}

// Optimize returns the history to send and, when older turns were dropped, a
// summary of them. History within budget is returned unchanged.
func (o *ContextOptimizer) Optimize(history []ai.ChatMessage) ([]ai.ChatMessage, string) {
	if len(history) == 0 || totalTokens(history) <= o.cfg.MaxContextTokens {
		return history, ""
	}

	split := len(history) - o.cfg.SlidingWindowSize
	if split < 0 {
		split = 0
	}
	summary := o.summarize(history[:split])
	return o.compress(history[split:]), summary
}

// WithSummary prepends the summary as a system message.
func WithSummary(history []ai.ChatMessage, summary string) []ai.ChatMessage {
	if summary == "" {
		return history
	}
	out := make([]ai.ChatMessage, 0, len(history)+1)
	out = append(out, ai.ChatMessage{Role: model.RoleSystem, Content: summaryPrefix + summary})
	return append(out, history...)
}

func (o *ContextOptimizer) compress(recent []ai.ChatMessage) []ai.ChatMessage {
	if totalTokens(recent) <= o.cfg.MaxContextTokens {
		return recent
	}
	if len(recent) > o.cfg.MinRecentMessages {
		return recent[len(recent)-o.cfg.MinRecentMessages:]
	}
	return recent
}

func (o *ContextOptimizer) summarize(old []ai.ChatMessage) string {
	var queries []string
	for _, m := range old {
		if m.Role == model.RoleUser {
			queries = append(queries, strings.TrimSpace(m.Content))
		}
	}

	var summary string
	switch {
	case len(queries) == 0:
		return ""
	case len(queries) <= 2:
		summary = "Previous topics discussed: " + strings.Join(queries, ", ")
	default:
		summary = fmt.Sprintf("Previous conversation covered %d topics including: %s...", len(queries), strings.Join(queries[:3], ", "))
	}
	return truncateRunes(summary, o.cfg.SummaryTokens*4)
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit-3]) + "..."
}
