package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"blogpilot/internal/association"
	"blogpilot/internal/core"
	"blogpilot/internal/retryqueue"
	"blogpilot/internal/series"
	"blogpilot/internal/store"
	"blogpilot/internal/writer"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// associated is what the store-backed stages learned about a document.
type associated struct {
	title     string
	tags      core.TagSet
	promo     string
	embedding core.Embedding
	related   []core.AssociationCandidate
	series    *core.SeriesDecision
}

// associateStage tags and embeds the text, rejects duplicates, collects
// related articles and detects a series. Without a store it does nothing.
// Only a failed duplicate check or rejected credentials stop the file; the
// other lookups fall back to publishing without associations.
func (p *Pipeline) associateStage(ctx context.Context, file core.SubmittedFile, text string, log zerolog.Logger) (associated, error) {
	var st associated
	if p.tagger == nil {
		return st, nil
	}

	tagged, err := p.tagger.Extract(ctx, text)
	if err != nil {
		if fatal(err) {
			return st, fmt.Errorf("tagging failed: %w", err)
		}
		log.Warn().Err(err).Msg("Tagging failed, publishing without associations")
		return st, nil
	}
	st.title, st.tags, st.promo, st.embedding = tagged.Title, tagged.Tags, tagged.Promo, tagged.Embedding
	log.Info().Strs("tags", st.tags.All()).Msg("Document tagged")

	if p.associate == nil {
		return st, nil
	}
	dup, match, err := p.associate.IsDuplicate(ctx, st.embedding)
	if err != nil {
		return st, fmt.Errorf("duplicate check failed: %w", err)
	}
	if dup {
		log.Info().Str("existing", match.Title).Float64("similarity", match.Similarity).Msg("Duplicate content, archiving without publishing")
		return st, association.DuplicateError(match)
	}

	st.related, err = p.associate.FindRelated(ctx, st.tags, st.embedding, p.config.RelatedLimit)
	if err != nil {
		if fatal(err) {
			return st, fmt.Errorf("related lookup failed: %w", err)
		}
		log.Warn().Err(err).Msg("Related lookup failed, publishing without associations")
		st.related = nil
		return st, nil
	}
	if len(st.related) > 0 {
		log.Info().Int("related", len(st.related)).Msg("Found related articles")
	}

	if p.series != nil {
		dec, err := p.series.Detect(ctx, st.tags, st.embedding, st.title)
		if err != nil {
			log.Warn().Err(err).Msg("Series detection failed, publishing standalone")
		} else if dec != nil {
			log.Info().Str("series", dec.SeriesTitle).Int("order", dec.Order).
				Float64("similarity", dec.Similarity).Str("confirmed_by", dec.ConfirmedBy).Msg("Series continuation detected")
			st.series = dec
		}
	}
	return st, nil
}

func writerRequest(file core.SubmittedFile, text string, related []core.AssociationCandidate) writer.ArticleRequest {
	return writer.ArticleRequest{Source: text, Major: file.Major, Related: related}
}

// prepareStage adds SEO metadata, the cover image and series navigation, and
// sanitizes the HTML. Only sanitizing can fail the file.
func (p *Pipeline) prepareStage(ctx context.Context, file core.SubmittedFile, article writer.Article, st associated, log zerolog.Logger) (core.ArticleDraft, error) {
	draft := core.ArticleDraft{
		Title:      article.Title,
		HTML:       article.HTML,
		Category:   file.Major,
		CategoryID: file.CategoryID,
		Tags:       st.tags,
		Embedding:  st.embedding,
		Promo:      st.promo,
		Series:     st.series,
		Usage:      core.UsageFrom(ctx),
	}

	seo, err := p.writer.SEO(ctx, draft.Title, draft.HTML)
	if err != nil {
		log.Warn().Err(err).Msg("SEO extraction failed, publishing without it")
	} else {
		draft.SEO = seo
	}

	if p.cover != nil {
		if id, err := p.uploadCover(ctx, file, draft); err != nil {
			log.Warn().Err(err).Msg("Cover image failed, publishing without it")
		} else {
			draft.FeaturedMediaID = id
		}
	}

	if st.series != nil {
		html, err := series.InjectNavigation(draft.HTML, series.ForDecision(st.series))
		if err != nil {
			log.Warn().Err(err).Msg("Series navigation injection failed")
		} else {
			draft.HTML = html
		}
	}

	clean, err := SanitizeHTML(draft.HTML)
	if err != nil {
		return draft, err
	}
	draft.HTML = clean
	return draft, nil
}

func (p *Pipeline) uploadCover(ctx context.Context, file core.SubmittedFile, draft core.ArticleDraft) (int64, error) {
	data, mimeType, err := p.cover.Generate(ctx, draft.Title)
	if err != nil {
		return 0, err
	}
	slug := strings.TrimSuffix(file.Name(), filepath.Ext(file.Name()))
	if draft.SEO != nil && draft.SEO.Slug != "" {
		slug = draft.SEO.Slug
	}
	return p.publisher.UploadMedia(ctx, "cover-"+SanitizeFilename(slug, 0)+imageExt(mimeType), mimeType, data)
}

func imageExt(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}

// oweBackpatch records the forward link the previous installment needs, so
// a crash or a failed patch is retried on the next start.
func (p *Pipeline) oweBackpatch(draft core.ArticleDraft, published core.PublishResult, log zerolog.Logger) {
	if p.backpatches == nil || draft.Series == nil || draft.Series.Previous == nil {
		return
	}
	err := p.backpatches.Save(retryqueue.Backpatch{
		Decision:  *draft.Series,
		Title:     draft.Title,
		Published: published,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to record pending back-patch")
	}
}

func (p *Pipeline) backpatch(ctx context.Context, draft core.ArticleDraft, published core.PublishResult, log zerolog.Logger) {
	if draft.Series == nil || draft.Series.Previous == nil {
		return
	}
	patched, err := series.Backpatch(ctx, p.publisher, draft.Series, draft.Title, published)
	switch {
	case err != nil:
		p.metrics.RecordBackpatch("error")
		log.Warn().Err(err).Int64("previous_post", draft.Series.Previous.PostID).Msg("Back-patch failed, article is published")
		return
	case patched:
		p.metrics.RecordBackpatch("ok")
		log.Info().Int64("previous_post", draft.Series.Previous.PostID).Msg("Previous installment linked forward")
	default:
		p.metrics.RecordBackpatch("unchanged")
	}
	if p.backpatches != nil {
		p.backpatches.Done(published.PostID)
	}
}

func (p *Pipeline) record(draft core.ArticleDraft, published core.PublishResult, st associated, reviews []core.QualityReview) core.ArticleRecord {
	return core.ArticleRecord{
		ID:          uuid.NewString(),
		Title:       draft.Title,
		URL:         published.URL,
		PostID:      published.PostID,
		Category:    draft.Category,
		CategoryID:  draft.CategoryID,
		Tags:        st.tags,
		Promo:       st.promo,
		Embedding:   st.embedding,
		Series:      st.series,
		Reviews:     reviews,
		PublishedAt: p.now().UTC(),
	}
}

// persist writes the article record. A failure queues the record for the
// next start and reports true. Publishing is never undone.
func (p *Pipeline) persist(ctx context.Context, file core.SubmittedFile, rec core.ArticleRecord, log zerolog.Logger) bool {
	if p.store == nil || rec.Embedding.IsEmpty() {
		return false
	}
	err := p.store.Insert(ctx, rec)
	if errors.Is(err, store.ErrSeriesConflict) {
		log.Warn().Err(err).Msg("Series was claimed concurrently, storing article standalone")
		rec.Series = nil
		err = p.store.Insert(ctx, rec)
	}
	if err == nil {
		return false
	}

	log.Error().Err(err).Msg("Failed to store article, queueing for retry")
	if p.queue == nil {
		return false
	}
	path, qerr := p.queue.Save(retryqueue.FromArticle(file.Path, rec, err))
	if qerr != nil {
		log.Error().Err(qerr).Msg("Failed to queue article for retry")
		return false
	}
	p.metrics.SetRetryQueueDepth(p.queue.Len())
	log.Info().Str("record", path).Msg("Article queued for store retry")
	return true
}
