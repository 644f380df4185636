package llm

import (
	"context"
	"time"

	"blogpilot/internal/core"
	"blogpilot/internal/cost"
	"blogpilot/internal/metrics"
	"blogpilot/internal/observability"
)

// TracedClient wraps a Client and reports every call to Prometheus and PostHog.
type TracedClient struct {
	client  *Client
	metrics *metrics.Metrics
	posthog *observability.PostHogClient
}

// NewTracedClient creates a new traced LLM client. Either sink may be nil.
func NewTracedClient(client *Client, m *metrics.Metrics, posthog *observability.PostHogClient) *TracedClient {
	return &TracedClient{client: client, metrics: m, posthog: posthog}
}

// GetUnderlyingClient returns the wrapped client
func (tc *TracedClient) GetUnderlyingClient() *Client {
	return tc.client
}

// GetModelName returns the default generation model.
func (tc *TracedClient) GetModelName() string { return tc.client.GetModelName() }

// GenerateText generates text and records the call
func (tc *TracedClient) GenerateText(ctx context.Context, prompt string, options TextGenerationOptions) (Generation, error) {
	startTime := time.Now()
	gen, err := tc.client.GenerateText(ctx, prompt, options)
	latency := time.Since(startTime)

	task := options.Task
	if task == "" {
		task = "generation"
	}
	tc.record(ctx, task, gen.Model, gen.PromptTokens, gen.CompletionTokens, latency, err)
	return gen, err
}

// GenerateEmbedding embeds text and records the call with an estimated token count
func (tc *TracedClient) GenerateEmbedding(ctx context.Context, text string) (core.Embedding, error) {
	startTime := time.Now()
	emb, err := tc.client.GenerateEmbedding(ctx, text)
	tc.record(ctx, "embedding", tc.client.EmbeddingModel(), cost.EstimateTokenCount(text), 0, time.Since(startTime), err)
	return emb, err
}

// GenerateImage renders a cover image and records the call
func (tc *TracedClient) GenerateImage(ctx context.Context, model, prompt string) ([]byte, string, error) {
	startTime := time.Now()
	data, mime, err := tc.client.GenerateImage(ctx, model, prompt)
	tc.record(ctx, "cover_image", model, cost.EstimateTokenCount(prompt), 0, time.Since(startTime), err)
	return data, mime, err
}

// EmbeddingModel returns the model used for embeddings.
func (tc *TracedClient) EmbeddingModel() string { return tc.client.EmbeddingModel() }

func (tc *TracedClient) record(ctx context.Context, task, model string, prompt, completion int, latency time.Duration, err error) {
	tc.metrics.RecordModelCall(task, model, prompt, completion, latency.Seconds(), err)
	if tc.posthog.IsEnabled() {
		_ = tc.posthog.TrackLLMCall(ctx, model, task, prompt+completion, latency.Milliseconds(), cost.CallCost(model, prompt, completion))
	}
}

// Close closes the underlying client
func (tc *TracedClient) Close() {
	tc.client.Close()
}
