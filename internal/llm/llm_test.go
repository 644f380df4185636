package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"blogpilot/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float64{1, 2, 3}, []float64{2, 4, 6}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity([]float64{1}, []float64{1, 2}))
	assert.Equal(t, 0.0, CosineSimilarity([]float64{0, 0}, []float64{1, 1}))
	assert.InDelta(t, 1/math.Sqrt2, CosineSimilarity([]float64{1, 1}, []float64{1, 0}), 1e-9)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      core.Kind
		retryable bool
	}{
		{"unauthorized", genai.APIError{Code: 401, Message: "bad key"}, core.KindAuth, false},
		{"forbidden pointer", &genai.APIError{Code: 403}, core.KindAuth, false},
		{"rate limited", genai.APIError{Code: 429}, core.KindTransient, true},
		{"server error", fmt.Errorf("wrapped: %w", genai.APIError{Code: 503}), core.KindTransient, true},
		{"bad request", genai.APIError{Code: 400}, core.KindTransient, false},
		{"timeout", context.DeadlineExceeded, core.KindTransient, true},
		{"unknown", errors.New("connection reset"), core.KindTransient, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Classify("op", tt.err)
			assert.Equal(t, tt.kind, core.KindOf(err))
			assert.Equal(t, tt.retryable, core.IsRetryable(err))
		})
	}

	assert.ErrorIs(t, Classify("op", context.Canceled), context.Canceled)
	assert.Nil(t, Classify("op", nil))
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindConfig))
}

func fakeGemini(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(handler))
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{
		APIKey:  "test",
		Model:   "gemini-test",
		BaseURL: srv.URL + "/",
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	return c
}

func TestGenerateTextReportsUsage(t *testing.T) {
	c := fakeGemini(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "models/gemini-test:generateContent"), r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{"role": "model", "parts": []map[string]any{{"text": "hello"}}},
			}},
			"usageMetadata": map[string]any{"promptTokenCount": 12, "candidatesTokenCount": 3},
		})
	})

	gen, err := c.GenerateText(context.Background(), "say hello", TextGenerationOptions{})
	require.NoError(t, err)
	assert.Equal(t, "hello", gen.Text)
	assert.Equal(t, "gemini-test", gen.Model)
	assert.Equal(t, 12, gen.PromptTokens)
	assert.Equal(t, 3, gen.CompletionTokens)
}

func TestGenerateTextAuthFailure(t *testing.T) {
	c := fakeGemini(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"code":401,"message":"API key not valid","status":"UNAUTHENTICATED"}}`))
	})

	_, err := c.GenerateText(context.Background(), "x", TextGenerationOptions{Model: "other"})
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindAuth))
	assert.False(t, core.IsRetryable(err))
}

func TestGenerateEmbedding(t *testing.T) {
	c := fakeGemini(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, DefaultEmbeddingModel)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embeddings":[{"values":[0.25,0.5,0.75]}]}`))
	})

	emb, err := c.GenerateEmbedding(context.Background(), "promo text")
	require.NoError(t, err)
	assert.Equal(t, DefaultEmbeddingModel, emb.Model)
	assert.Equal(t, []float64{0.25, 0.5, 0.75}, emb.Values)

	_, err = c.GenerateEmbedding(context.Background(), "   ")
	assert.Error(t, err)
}
