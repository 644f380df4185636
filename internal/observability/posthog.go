package observability

import (
	"context"
	"fmt"

	"blogpilot/internal/logger"

	"github.com/posthog/posthog-go"
)

// Config holds the PostHog settings.
type Config struct {
	Enabled bool
	APIKey  string
	Host    string
}

// PostHogClient wraps the PostHog SDK for product analytics
type PostHogClient struct {
	client  posthog.Client
	enabled bool
}

// EventProperties contains properties for an event
type EventProperties map[string]interface{}

// NewPostHogClient creates a new PostHog analytics client. A disabled config
// yields a client whose methods are no-ops.
func NewPostHogClient(cfg Config) (*PostHogClient, error) {
	if !cfg.Enabled {
		return &PostHogClient{enabled: false}, nil
	}

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("PostHog enabled but missing API key")
	}

	client, err := posthog.NewWithConfig(cfg.APIKey, posthog.Config{
		Endpoint: cfg.Host,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create PostHog client: %w", err)
	}

	return &PostHogClient{
		client:  client,
		enabled: true,
	}, nil
}

// IsEnabled returns whether PostHog tracking is enabled
func (p *PostHogClient) IsEnabled() bool {
	return p != nil && p.enabled
}

// Capture sends an event to PostHog
func (p *PostHogClient) Capture(ctx context.Context, distinctID string, event string, properties EventProperties) error {
	if !p.IsEnabled() {
		return nil
	}

	props := posthog.NewProperties()
	for k, v := range properties {
		props.Set(k, v)
	}

	err := p.client.Enqueue(posthog.Capture{
		DistinctId: distinctID,
		Event:      event,
		Properties: props,
	})
	if err != nil {
		logger.Debug("posthog enqueue failed", "event", event, "error", err.Error())
	}
	return err
}

// TrackFileOutcome records how a submitted file ended.
func (p *PostHogClient) TrackFileOutcome(ctx context.Context, outcome, major, sub string, durationMs int64) error {
	return p.Capture(ctx, "system", "file_processed", EventProperties{
		"outcome":     outcome, // published, duplicate, draft, review, deferred
		"major":       major,
		"subcategory": sub,
		"duration_ms": durationMs,
	})
}

// TrackPublished records a published article.
func (p *PostHogClient) TrackPublished(ctx context.Context, postID int64, category string, seriesOrder int, composite float64) error {
	return p.Capture(ctx, "system", "article_published", EventProperties{
		"post_id":      postID,
		"category":     category,
		"series_order": seriesOrder,
		"composite":    composite,
	})
}

// TrackError tracks when an error occurs
func (p *PostHogClient) TrackError(ctx context.Context, errorType string, errorMessage string, component string) error {
	return p.Capture(ctx, "system", "error_occurred", EventProperties{
		"error_type":    errorType,
		"error_message": errorMessage,
		"component":     component,
	})
}

// TrackLLMCall tracks LLM API calls for cost and performance monitoring
func (p *PostHogClient) TrackLLMCall(ctx context.Context, model string, operation string, tokens int, latencyMs int64, cost float64) error {
	return p.Capture(ctx, "system", "llm_call", EventProperties{
		"model":      model,
		"operation":  operation, // "writer", "reviewer", "tagger", "embedding"
		"tokens":     tokens,
		"latency_ms": latencyMs,
		"cost":       cost,
	})
}

// Shutdown flushes pending events and closes the client
func (p *PostHogClient) Shutdown(ctx context.Context) error {
	if !p.IsEnabled() {
		return nil
	}

	return p.client.Close()
}
