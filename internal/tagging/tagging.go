// Package tagging extracts four-tier tags, a promo blurb and an embedding for
// a document.
package tagging

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"blogpilot/internal/core"
	"blogpilot/internal/logger"
	"blogpilot/internal/retry"
	"blogpilot/internal/writer"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

const (
	// InputLimit caps the text sent to the tagger, in runes.
	InputLimit = 3000
	// CacheSize is the number of embeddings kept in memory.
	CacheSize = 256
)

// Asker runs a structured-output prompt.
type Asker interface {
	AskJSON(ctx context.Context, ask writer.Ask, out any) error
}

// Embedder produces embeddings.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) (core.Embedding, error)
	EmbeddingModel() string
}

// Result is the output of Extract.
type Result struct {
	Title     string
	Tags      core.TagSet
	Promo     string
	Embedding core.Embedding
}

// Client tags and embeds documents.
type Client struct {
	asker    Asker
	embedder Embedder
	synonyms func() (*Synonyms, error)
	policy   retry.Policy
	cache    *lru.Cache[string, core.Embedding]
	log      zerolog.Logger
}

// NewClient wires a Client. synonyms is called on first use; pass
// LazySynonyms(path) to load the table once.
func NewClient(asker Asker, embedder Embedder, synonyms func() (*Synonyms, error), policy retry.Policy) (*Client, error) {
	cache, err := lru.New[string, core.Embedding](CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	if synonyms == nil {
		empty := NewSynonyms(nil)
		synonyms = func() (*Synonyms, error) { return empty, nil }
	}
	return &Client{
		asker:    asker,
		embedder: embedder,
		synonyms: synonyms,
		policy:   policy,
		cache:    cache,
		log:      logger.With("component", "tagging"),
	}, nil
}

type taggerResponse struct {
	Title       string   `json:"title"`
	Domain      []string `json:"domain"`
	Field       []string `json:"field"`
	Topic       []string `json:"topic"`
	ContentType []string `json:"content_type"`
	Promo       string   `json:"promo"`
}

// TaggerSchema is the structured output schema for tag extraction.
func TaggerSchema() *genai.Schema {
	list := func(desc string) *genai.Schema {
		return &genai.Schema{Type: genai.TypeArray, Description: desc, Items: &genai.Schema{Type: genai.TypeString}}
	}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"title":        {Type: genai.TypeString},
			"domain":       list("1 or 2 broad domains"),
			"field":        list("1 or 2 fields within the domain"),
			"topic":        list("1 to 3 specific topics"),
			"content_type": list("kind of piece"),
			"promo":        {Type: genai.TypeString, Description: "60 to 200 character teaser"},
		},
		Required: []string{"title", "domain", "field", "topic", "content_type", "promo"},
	}
}

// Extract tags the text and embeds its promo blurb.
func (c *Client) Extract(ctx context.Context, text string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, core.E(core.KindExtraction, "tagging.extract", "empty text", nil)
	}
	syn, err := c.synonyms()
	if err != nil {
		return Result{}, err
	}

	var resp taggerResponse
	err = c.asker.AskJSON(ctx, writer.Ask{
		Task:   "tagger",
		System: "tagger_system",
		User:   "tagger_user",
		Data:   map[string]any{"Source": writer.Truncate(text, InputLimit)},
		Schema: TaggerSchema(),
	}, &resp)
	if err != nil {
		return Result{}, fmt.Errorf("tag extraction failed: %w", err)
	}

	tags := syn.Normalize(core.TagSet{
		Domain:      resp.Domain,
		Field:       resp.Field,
		Topic:       resp.Topic,
		ContentType: resp.ContentType,
	})
	if tags.IsEmpty() {
		return Result{}, core.E(core.KindTransient, "tagging.extract", "model returned no usable tags", nil)
	}

	res := Result{
		Title: strings.TrimSpace(resp.Title),
		Tags:  tags,
		Promo: strings.TrimSpace(resp.Promo),
	}
	if n := len([]rune(res.Promo)); n < 60 || n > 200 {
		c.log.Warn().Int("length", n).Msg("Promo blurb outside recommended length")
	}

	embedText := res.Promo
	if embedText == "" {
		embedText = writer.Truncate(text, InputLimit)
	}
	res.Embedding, err = c.Embed(ctx, embedText)
	if err != nil {
		return Result{}, err
	}

	c.log.Info().
		Strs("domain", tags.Domain).
		Strs("field", tags.Field).
		Strs("topic", tags.Topic).
		Strs("content_type", tags.ContentType).
		Msg("Tags extracted")
	return res, nil
}

// Embed returns the embedding of text, from cache when possible. Calls are
// retried under the client's policy.
func (c *Client) Embed(ctx context.Context, text string) (core.Embedding, error) {
	key := cacheKey(c.embedder.EmbeddingModel(), text)
	if emb, ok := c.cache.Get(key); ok {
		c.log.Debug().Msg("Embedding cache hit")
		return emb, nil
	}

	emb, err := retry.Do(ctx, c.policy, func(int) (core.Embedding, error) {
		return c.embedder.GenerateEmbedding(ctx, text)
	}, func(err error, next time.Duration) {
		c.log.Warn().Err(err).Dur("retry_in", next).Msg("Embedding call failed, retrying")
	})
	if err != nil {
		return core.Embedding{}, fmt.Errorf("embedding failed: %w", err)
	}
	if emb.Model == "" {
		emb.Model = c.embedder.EmbeddingModel()
	}
	c.cache.Add(key, emb)
	return emb, nil
}

func cacheKey(model, text string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}
