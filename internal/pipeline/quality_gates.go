package pipeline

import (
	"context"

	"blogpilot/internal/core"
	"blogpilot/internal/quality"
	"blogpilot/internal/writer"

	"github.com/rs/zerolog"
)

// reviewStage runs the quality gate with the writer as rewriter. Without a
// gate the article is approved as is.
func (p *Pipeline) reviewStage(ctx context.Context, file core.SubmittedFile, source string, article writer.Article, log zerolog.Logger) (quality.Outcome, error) {
	if p.gate == nil {
		return quality.Outcome{Article: article, Verdict: core.VerdictApprove}, nil
	}

	out, err := p.gate.Run(ctx, article, source, file.Major, p.rewriter(file, source))
	for _, rv := range out.Reviews {
		p.metrics.RecordReview(file.Major, rv.Composite, rv.Degraded)
		ev := log.Info()
		if rv.Degraded {
			ev = log.Warn().Str("review_error", rv.Error)
		}
		ev.Int("attempt", rv.Attempt).
			Float64("composite", rv.Composite).
			Str("verdict", string(rv.Verdict)).
			Int("issues", len(rv.Issues)).
			Msg("Quality review")
	}
	p.metrics.RecordRewrites(out.Rewrites)
	if err != nil {
		log.Error().Err(err).Int("rewrites", out.Rewrites).Msg("Rewrite failed")
		return out, err
	}
	if out.Verdict == core.VerdictDraft {
		log.Warn().Str("reason", out.Reason()).Msg("Quality gate rejected article")
	}
	return out, nil
}

// rewriter adapts the writer to the gate's rewrite callback.
func (p *Pipeline) rewriter(file core.SubmittedFile, source string) quality.Rewriter {
	return func(ctx context.Context, draft writer.Article, review core.QualityReview) (writer.Article, error) {
		return p.writer.Rewrite(ctx, writer.RewriteRequest{
			Source: source,
			Major:  file.Major,
			Draft:  draft,
			Review: review,
		})
	}
}
