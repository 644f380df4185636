// Package ingest loads articles that were published outside the pipeline
// into the article store, so duplicate detection, related links and series
// have a corpus to work with.
package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"blogpilot/internal/core"
	"blogpilot/internal/extract"
	"blogpilot/internal/logger"
	"blogpilot/internal/tagging"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Tagger extracts tags, title, promo and embedding from article text.
type Tagger interface {
	Extract(ctx context.Context, text string) (tagging.Result, error)
}

// Store is the part of the article store ingest writes to.
type Store interface {
	Insert(ctx context.Context, rec core.ArticleRecord) error
	ArticleByURL(ctx context.Context, url string) (*core.ArticleRecord, error)
}

// TextExtractor reads the text of a document.
type TextExtractor interface {
	File(path string) (string, error)
}

// Options describe where an ingested article lives.
type Options struct {
	URL        string // published location, used to skip articles already stored
	Category   string
	CategoryID int
}

// Result describes one ingested document
type Result struct {
	Path      string
	ArticleID string
	Title     string
	Tags      core.TagSet
	Existing  bool // URL was already stored
	Err       error
}

// OK reports whether the article is in the store.
func (r Result) OK() bool { return r.Err == nil }

// Ingestor tags, embeds and stores existing articles.
type Ingestor struct {
	tagger    Tagger
	store     Store
	extractor TextExtractor
	now       func() time.Time
	log       zerolog.Logger
}

// New creates an Ingestor
func New(tagger Tagger, store Store, extractor TextExtractor) *Ingestor {
	return &Ingestor{
		tagger:    tagger,
		store:     store,
		extractor: extractor,
		now:       time.Now,
		log:       logger.With("component", "ingest"),
	}
}

// Article stores text as a published article. A URL that is already stored
// is reported as existing and nothing is written.
func (i *Ingestor) Article(ctx context.Context, text string, opts Options) Result {
	var res Result
	if opts.URL != "" {
		existing, err := i.store.ArticleByURL(ctx, opts.URL)
		if err != nil {
			i.log.Warn().Err(err).Str("url", opts.URL).Msg("URL lookup failed, ingesting anyway")
		} else if existing != nil {
			i.log.Info().Str("url", opts.URL).Str("article_id", existing.ID).Msg("Article already stored, skipping")
			res.ArticleID, res.Title, res.Tags, res.Existing = existing.ID, existing.Title, existing.Tags, true
			return res
		}
	}

	tagged, err := i.tagger.Extract(ctx, text)
	if err != nil {
		res.Err = fmt.Errorf("tag extraction failed: %w", err)
		return res
	}
	res.Title, res.Tags = tagged.Title, tagged.Tags
	if tagged.Embedding.IsEmpty() {
		res.Err = core.E(core.KindTransient, "ingest.article", "no embedding returned", nil)
		return res
	}

	rec := core.ArticleRecord{
		ID:          uuid.NewString(),
		Title:       tagged.Title,
		URL:         opts.URL,
		Category:    opts.Category,
		CategoryID:  opts.CategoryID,
		Tags:        tagged.Tags,
		Promo:       tagged.Promo,
		Embedding:   tagged.Embedding,
		PublishedAt: i.now().UTC(),
	}
	if err := i.store.Insert(ctx, rec); err != nil {
		res.Err = fmt.Errorf("store write failed: %w", err)
		return res
	}
	res.ArticleID = rec.ID
	i.log.Info().Str("article_id", rec.ID).Str("title", rec.Title).Strs("tags", rec.Tags.All()).Msg("Article ingested")
	return res
}

// File extracts the text of path and ingests it.
func (i *Ingestor) File(ctx context.Context, path string, opts Options) Result {
	text, err := i.extractor.File(path)
	if err != nil {
		return Result{Path: path, Title: filepath.Base(path), Err: fmt.Errorf("text extraction failed: %w", err)}
	}
	res := i.Article(ctx, text, opts)
	res.Path = path
	return res
}

// Directory ingests every supported file directly inside dir, in name
// order. It stops early on rejected credentials or a cancelled context.
func (i *Ingestor) Directory(ctx context.Context, dir string, opts Options) ([]Result, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !extract.IsSupported(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	if len(files) == 0 {
		i.log.Info().Str("dir", dir).Msg("No supported files to ingest")
		return nil, nil
	}

	// a URL names a single article
	opts.URL = ""
	i.log.Info().Str("dir", dir).Int("files", len(files)).Msg("Ingesting directory")

	results := make([]Result, 0, len(files))
	for n, path := range files {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		i.log.Info().Int("n", n+1).Int("of", len(files)).Str("file", filepath.Base(path)).Msg("Ingesting")
		res := i.File(ctx, path, opts)
		results = append(results, res)
		if core.IsKind(res.Err, core.KindAuth) || core.IsKind(res.Err, core.KindConfig) {
			return results, res.Err
		}
	}
	return results, nil
}
