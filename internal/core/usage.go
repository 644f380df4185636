package core

import (
	"context"
	"fmt"
	"sync"
)

// TokenUsage is the accounting for one model call, including failed attempts.
type TokenUsage struct {
	Task             string `json:"task"` // writer, rewrite, promo, tagger, reviewer, seo, series
	Model            string `json:"model"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	Err              string `json:"error,omitempty"`
}

// TokenSummary accumulates usage for a single file. Safe for concurrent use.
type TokenSummary struct {
	mu    sync.Mutex
	calls []TokenUsage
}

// NewTokenSummary returns an empty accumulator.
func NewTokenSummary() *TokenSummary {
	return &TokenSummary{}
}

// Add records one call. A nil summary ignores the call.
func (s *TokenSummary) Add(u TokenUsage) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.calls = append(s.calls, u)
	s.mu.Unlock()
}

// Calls returns a copy of the recorded calls.
func (s *TokenSummary) Calls() []TokenUsage {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TokenUsage, len(s.calls))
	copy(out, s.calls)
	return out
}

// Totals returns prompt tokens, completion tokens, call count and failed call count.
func (s *TokenSummary) Totals() (prompt, completion, calls, failed int) {
	for _, c := range s.Calls() {
		prompt += c.PromptTokens
		completion += c.CompletionTokens
		calls++
		if c.Err != "" {
			failed++
		}
	}
	return prompt, completion, calls, failed
}

// String renders the one-line summary logged after each file.
func (s *TokenSummary) String() string {
	prompt, completion, calls, failed := s.Totals()
	if calls == 0 {
		return "tokens: no model calls"
	}
	return fmt.Sprintf("tokens: %d (prompt %d, completion %d, calls %d, failed %d)",
		prompt+completion, prompt, completion, calls, failed)
}

type usageKey struct{}

// WithUsage attaches a per-file accumulator to ctx.
func WithUsage(ctx context.Context, s *TokenSummary) context.Context {
	return context.WithValue(ctx, usageKey{}, s)
}

// UsageFrom returns the accumulator attached to ctx, or nil.
func UsageFrom(ctx context.Context) *TokenSummary {
	s, _ := ctx.Value(usageKey{}).(*TokenSummary)
	return s
}
