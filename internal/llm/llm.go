package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"blogpilot/internal/core"

	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

const (
	// DefaultModel is the default Gemini model used for article generation.
	DefaultModel = "gemini-2.5-pro"
	// DefaultEmbeddingModel is the default model for generating embeddings
	DefaultEmbeddingModel = "gemini-embedding-001"
	// DefaultEmbeddingDimensions is the output dimension for embeddings (Matryoshka)
	DefaultEmbeddingDimensions = int32(768)
)

// Config configures a Client.
type Config struct {
	APIKey            string
	Model             string
	EmbeddingModel    string
	Dimensions        int32
	Timeout           time.Duration
	RequestsPerMinute int
	Temperature       float32
	MaxTokens         int32
	BaseURL           string // overrides the API endpoint, used by tests
	HTTPClient        *http.Client
}

// TextGenerationOptions contains options for text generation
type TextGenerationOptions struct {
	MaxTokens         int32         // Maximum number of tokens to generate
	Temperature       float32       // Temperature for randomness (0.0 to 1.0)
	Model             string        // Model to use (optional, defaults to client's model)
	ResponseSchema    *genai.Schema // Optional: Schema for structured output
	SystemInstruction string
	Task              string // label for usage accounting: writer, reviewer, tagger...
}

// Generation is the text returned by one model call together with its usage.
type Generation struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Client talks to Gemini. The underlying SDK client is created on first use.
type Client struct {
	cfg     Config
	limiter *rate.Limiter

	once    sync.Once
	gClient *genai.Client
	initErr error
}

// NewClient validates cfg and returns a client. No network call is made.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, core.E(core.KindConfig, "llm.new", "gemini API key is required. Set GEMINI_API_KEY environment variable or ai.gemini.api_key in config file", nil)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultEmbeddingModel
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultEmbeddingDimensions
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}

	return &Client{cfg: cfg, limiter: limiter}, nil
}

func (c *Client) client(ctx context.Context) (*genai.Client, error) {
	c.once.Do(func() {
		cc := &genai.ClientConfig{
			APIKey:     c.cfg.APIKey,
			Backend:    genai.BackendGeminiAPI,
			HTTPClient: c.cfg.HTTPClient,
		}
		if c.cfg.BaseURL != "" {
			cc.HTTPOptions = genai.HTTPOptions{BaseURL: c.cfg.BaseURL}
		}
		c.gClient, c.initErr = genai.NewClient(ctx, cc)
		if c.initErr != nil {
			c.initErr = core.E(core.KindConfig, "llm.client", "failed to create Gemini client", c.initErr)
		}
	})
	return c.gClient, c.initErr
}

// GetModelName returns the default generation model.
func (c *Client) GetModelName() string { return c.cfg.Model }

// EmbeddingModel returns the model used for embeddings.
func (c *Client) EmbeddingModel() string { return c.cfg.EmbeddingModel }

// GenerateText runs one generation call. Usage is returned even when the
// call fails after the server reported it.
func (c *Client) GenerateText(ctx context.Context, prompt string, options TextGenerationOptions) (Generation, error) {
	modelName := c.cfg.Model
	if options.Model != "" {
		modelName = options.Model
	}
	gen := Generation{Model: modelName}

	if prompt == "" {
		return gen, fmt.Errorf("prompt cannot be empty")
	}

	gc, err := c.client(ctx)
	if err != nil {
		return gen, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return gen, Classify("llm.generate", err)
	}

	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: prompt}},
		Role:  "user",
	}}

	config := &genai.GenerateContentConfig{}
	maxTokens := options.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.cfg.MaxTokens
	}
	if maxTokens > 0 {
		config.MaxOutputTokens = maxTokens
	}
	temp := options.Temperature
	if temp == 0 {
		temp = c.cfg.Temperature
	}
	if temp > 0 {
		config.Temperature = &temp
	}
	if options.ResponseSchema != nil {
		config.ResponseMIMEType = "application/json"
		config.ResponseSchema = options.ResponseSchema
	}
	if options.SystemInstruction != "" {
		config.SystemInstruction = genai.NewContentFromText(options.SystemInstruction, genai.RoleUser)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := gc.Models.GenerateContent(callCtx, modelName, contents, config)
	if err != nil {
		return gen, Classify("llm.generate", err)
	}
	if resp.UsageMetadata != nil {
		gen.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		gen.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	gen.Text = resp.Text()
	if gen.Text == "" {
		return gen, core.E(core.KindTransient, "llm.generate", "empty response from model", nil)
	}
	return gen, nil
}

// GenerateEmbedding embeds text with the configured embedding model.
func (c *Client) GenerateEmbedding(ctx context.Context, text string) (core.Embedding, error) {
	emb := core.Embedding{Model: c.cfg.EmbeddingModel}
	if strings.TrimSpace(text) == "" {
		return emb, fmt.Errorf("cannot embed empty text")
	}

	gc, err := c.client(ctx)
	if err != nil {
		return emb, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return emb, Classify("llm.embed", err)
	}

	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: text}},
		Role:  "user",
	}}
	dims := c.cfg.Dimensions
	config := &genai.EmbedContentConfig{
		OutputDimensionality: &dims,
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := gc.Models.EmbedContent(callCtx, c.cfg.EmbeddingModel, contents, config)
	if err != nil {
		return emb, Classify("llm.embed", err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil || len(resp.Embeddings[0].Values) == 0 {
		return emb, core.E(core.KindTransient, "llm.embed", "no embedding values returned from API", nil)
	}

	// Convert float32 to float64
	values := resp.Embeddings[0].Values
	emb.Values = make([]float64, len(values))
	for i, val := range values {
		emb.Values[i] = float64(val)
	}
	return emb, nil
}

// GenerateImage renders a single image for prompt and returns its bytes and MIME type.
func (c *Client) GenerateImage(ctx context.Context, model, prompt string) ([]byte, string, error) {
	gc, err := c.client(ctx)
	if err != nil {
		return nil, "", err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, "", Classify("llm.image", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := gc.Models.GenerateImages(callCtx, model, prompt, &genai.GenerateImagesConfig{
		NumberOfImages: 1,
		AspectRatio:    "16:9",
		OutputMIMEType: "image/jpeg",
	})
	if err != nil {
		return nil, "", Classify("llm.image", err)
	}
	if resp == nil || len(resp.GeneratedImages) == 0 || resp.GeneratedImages[0].Image == nil {
		return nil, "", core.E(core.KindTransient, "llm.image", "no image returned", nil)
	}
	img := resp.GeneratedImages[0].Image
	mime := img.MIMEType
	if mime == "" {
		mime = "image/jpeg"
	}
	return img.ImageBytes, mime, nil
}

// Classify maps SDK and transport errors onto the pipeline error kinds.
// 401 and 403 are auth failures, 408, 429 and 5xx are transient, any other
// status is a non-retryable service error. Network errors and timeouts are
// transient.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var tagged *core.Error
	if errors.As(err, &tagged) {
		return err
	}

	if code, msg, ok := apiErrorCode(err); ok {
		switch {
		case code == http.StatusUnauthorized || code == http.StatusForbidden:
			return &core.Error{Kind: core.KindAuth, Op: op, Msg: msg, StatusCode: code, Err: err}
		case code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500:
			return &core.Error{Kind: core.KindTransient, Op: op, Msg: msg, StatusCode: code, Retryable: true, Err: err}
		default:
			return &core.Error{Kind: core.KindTransient, Op: op, Msg: msg, StatusCode: code, Retryable: false, Err: err}
		}
	}

	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return core.E(core.KindTransient, op, "timeout", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return core.E(core.KindTransient, op, "network error", err)
	}
	return core.E(core.KindTransient, op, "model call failed", err)
}

func apiErrorCode(err error) (int, string, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, apiErr.Message, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code, apiErrPtr.Message, true
	}
	return 0, "", false
}

// CosineSimilarity calculates the cosine similarity between two embeddings
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Close releases client resources. The SDK client holds none today.
func (c *Client) Close() {}
