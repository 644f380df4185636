package pipeline

import (
	"context"

	"blogpilot/internal/association"
	"blogpilot/internal/core"
	"blogpilot/internal/quality"
	"blogpilot/internal/tagging"
	"blogpilot/internal/writer"
)

// TextExtractor reads the text of a submitted document
type TextExtractor interface {
	// File returns the document text or a KindExtraction error
	File(path string) (string, error)
}

// Tagger classifies and embeds documents
type Tagger interface {
	// Extract returns normalized tags, promo copy, a title hint and the promo embedding
	Extract(ctx context.Context, text string) (tagging.Result, error)

	// Embed embeds text with the configured embedding model
	Embed(ctx context.Context, text string) (core.Embedding, error)
}

// Associator finds duplicates and related articles in the store
type Associator interface {
	IsDuplicate(ctx context.Context, emb core.Embedding) (bool, *association.Match, error)
	FindRelated(ctx context.Context, tags core.TagSet, emb core.Embedding, k int) ([]core.AssociationCandidate, error)
}

// SeriesDetector decides whether a new article continues a series
type SeriesDetector interface {
	Detect(ctx context.Context, tags core.TagSet, emb core.Embedding, title string) (*core.SeriesDecision, error)
}

// ArticleWriter generates the article and its companion copy
type ArticleWriter interface {
	GenerateArticle(ctx context.Context, req writer.ArticleRequest) (writer.Article, error)
	Rewrite(ctx context.Context, req writer.RewriteRequest) (writer.Article, error)
	Promo(ctx context.Context, title, html, hashtag string) (string, error)
	SEO(ctx context.Context, title, html string) (*core.SEOMeta, error)
}

// QualityGate reviews drafts and drives the rewrite loop
type QualityGate interface {
	Run(ctx context.Context, article writer.Article, source, category string, rewrite quality.Rewriter) (quality.Outcome, error)
}

// Publisher posts articles and edits published ones
type Publisher interface {
	Publish(ctx context.Context, draft core.ArticleDraft) (core.PublishResult, error)
	Content(ctx context.Context, postID int64) (string, error)
	UpdateContent(ctx context.Context, postID int64, html string) error
	UploadMedia(ctx context.Context, filename, contentType string, data []byte) (int64, error)
}

// Promoter announces a published article
type Promoter interface {
	Promote(ctx context.Context, promo, link string) error
}

// ArticleStore is the write side of the persisted-article store
type ArticleStore interface {
	Insert(ctx context.Context, rec core.ArticleRecord) error
	AppendReviews(ctx context.Context, reviews []core.QualityReview) error
}

// CoverGenerator creates a cover image (optional)
type CoverGenerator interface {
	// Generate returns image bytes and their MIME type
	Generate(ctx context.Context, title string) ([]byte, string, error)
}
