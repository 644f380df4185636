package pipeline

import (
	"context"
	"errors"
	"fmt"

	"blogpilot/internal/core"
	"blogpilot/internal/retryqueue"
	"blogpilot/internal/series"
	"blogpilot/internal/store"

	"github.com/google/uuid"
)

// RetryFailedIngests stores articles that were published but whose store
// write failed on an earlier run. Embeddings are regenerated from the promo.
func (p *Pipeline) RetryFailedIngests(ctx context.Context) (retryqueue.Summary, error) {
	if p.store == nil || p.queue == nil || p.tagger == nil {
		return retryqueue.Summary{}, nil
	}
	if p.queue.Len() == 0 {
		return retryqueue.Summary{}, nil
	}

	log := p.log.With().Str("stage", "retry_ingest").Logger()
	log.Info().Int("queued", p.queue.Len()).Msg("Retrying failed ingests")

	sum, err := p.queue.Drain(ctx, func(ctx context.Context, r retryqueue.Record) error {
		rec, err := r.Article()
		if err != nil {
			return err
		}
		emb, err := p.tagger.Embed(ctx, rec.Promo)
		if err != nil {
			return fmt.Errorf("failed to regenerate embedding: %w", err)
		}
		if r.EmbeddingRef.Dimensions > 0 && len(emb.Values) != r.EmbeddingRef.Dimensions {
			return core.E(core.KindPersistence, "pipeline.retry_ingest",
				fmt.Sprintf("embedding has %d dimensions, record expects %d", len(emb.Values), r.EmbeddingRef.Dimensions), nil)
		}
		rec.ID = uuid.NewString()
		rec.Embedding = emb
		rec.PublishedAt = r.CreatedAt

		err = p.store.Insert(ctx, rec)
		if errors.Is(err, store.ErrSeriesConflict) {
			log.Warn().Str("title", rec.Title).Msg("Series claimed meanwhile, storing standalone")
			rec.Series = nil
			err = p.store.Insert(ctx, rec)
		}
		return err
	})
	p.metrics.SetRetryQueueDepth(p.queue.Len())

	log.Info().Int("stored", sum.Stored).Int("failed", sum.Failed).Int("purged", sum.Purged).
		Int("dropped", sum.Dropped).Msg("Failed ingest retry finished")
	return sum, err
}

// RetryBackpatches links previous installments forward where an earlier run
// published the next part but stopped before, or failed at, the back-patch.
func (p *Pipeline) RetryBackpatches(ctx context.Context) (retryqueue.Summary, error) {
	if p.backpatches == nil || p.backpatches.Len() == 0 {
		return retryqueue.Summary{}, nil
	}

	log := p.log.With().Str("stage", "retry_backpatch").Logger()
	log.Info().Int("pending", p.backpatches.Len()).Msg("Retrying pending back-patches")

	sum, err := p.backpatches.Drain(ctx, func(ctx context.Context, bp retryqueue.Backpatch) error {
		patched, err := series.Backpatch(ctx, p.publisher, &bp.Decision, bp.Title, bp.Published)
		switch {
		case err != nil:
			p.metrics.RecordBackpatch("error")
		case patched:
			p.metrics.RecordBackpatch("ok")
		default:
			p.metrics.RecordBackpatch("unchanged")
		}
		return err
	})

	log.Info().Int("applied", sum.Stored).Int("failed", sum.Failed).Int("purged", sum.Purged).
		Int("dropped", sum.Dropped).Msg("Back-patch retry finished")
	return sum, err
}
