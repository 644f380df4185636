// Package quality scores generated articles and drives the bounded rewrite
// loop.
package quality

import (
	"context"
	"fmt"
	"strings"
	"time"

	"blogpilot/internal/core"
	"blogpilot/internal/logger"
	"blogpilot/internal/writer"

	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

// DefaultMaxRewrites is the number of rewrite cycles before a forced draft.
const DefaultMaxRewrites = 2

// Threshold holds the composite cut-offs of one category.
type Threshold struct {
	Pass    float64
	Rewrite float64
}

// DefaultThreshold applies to categories without their own entry.
var DefaultThreshold = Threshold{Pass: 7, Rewrite: 5}

// DefaultThresholds are keyed by lowercase category.
func DefaultThresholds() map[string]Threshold {
	return map[string]Threshold{
		"news":     {Pass: 6, Rewrite: 4},
		"articles": {Pass: 7, Rewrite: 5},
		"magazine": {Pass: 7, Rewrite: 5},
		"books":    {Pass: 8, Rewrite: 6},
		"paper":    {Pass: 8, Rewrite: 6},
	}
}

// ThresholdFor looks up category case-insensitively.
func ThresholdFor(category string, table map[string]Threshold) Threshold {
	if th, ok := table[strings.ToLower(category)]; ok {
		return th
	}
	return DefaultThreshold
}

// Decide maps a composite score to a verdict.
func Decide(composite float64, th Threshold) core.Verdict {
	switch {
	case composite >= th.Pass:
		return core.VerdictApprove
	case composite >= th.Rewrite:
		return core.VerdictRewrite
	default:
		return core.VerdictDraft
	}
}

// Composite is the equal-weight mean of the three dimension scores.
func Composite(consistency, readability, artificiality float64) float64 {
	return (consistency + readability + artificiality) / 3
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 10:
		return 10
	}
	return v
}

// Asker runs the reviewer prompt.
type Asker interface {
	AskJSON(ctx context.Context, ask writer.Ask, out any) error
}

// Rewriter produces a revised article from reviewer feedback.
type Rewriter func(ctx context.Context, draft writer.Article, review core.QualityReview) (writer.Article, error)

// Config tunes the gate.
type Config struct {
	Enabled     bool
	MaxRewrites int
	Thresholds  map[string]Threshold
	Model       string
}

// Gate reviews articles.
type Gate struct {
	asker Asker
	cfg   Config
	now   func() time.Time
	log   zerolog.Logger
}

// NewGate returns a Gate. A nil threshold table uses DefaultThresholds.
func NewGate(asker Asker, cfg Config) *Gate {
	if cfg.MaxRewrites < 0 {
		cfg.MaxRewrites = 0
	}
	if cfg.Thresholds == nil {
		cfg.Thresholds = DefaultThresholds()
	}
	return &Gate{asker: asker, cfg: cfg, now: time.Now, log: logger.With("component", "quality")}
}

type reviewResponse struct {
	Consistency   float64             `json:"consistency"`
	Readability   float64             `json:"readability"`
	Artificiality float64             `json:"artificiality"`
	Issues        []core.QualityIssue `json:"issues"`
	Summary       string              `json:"summary"`
}

// ReviewSchema is the structured output schema for the reviewer.
func ReviewSchema() *genai.Schema {
	score := &genai.Schema{Type: genai.TypeNumber}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"consistency":   score,
			"readability":   score,
			"artificiality": score,
			"issues": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"dimension":   {Type: genai.TypeString},
						"severity":    {Type: genai.TypeString},
						"description": {Type: genai.TypeString},
						"suggestion":  {Type: genai.TypeString},
					},
				},
			},
			"summary": {Type: genai.TypeString},
		},
		Required: []string{"consistency", "readability", "artificiality", "summary"},
	}
}

// Review scores one article. A reviewer failure fails open: the review is an
// approval marked Degraded with the error recorded.
func (g *Gate) Review(ctx context.Context, article writer.Article, source, category string, attempt int) core.QualityReview {
	rv := core.QualityReview{
		Title:      article.Title,
		Category:   category,
		Attempt:    attempt,
		ReviewedAt: g.now().UTC(),
	}
	text := writer.PlainText(article.HTML)

	var resp reviewResponse
	err := g.asker.AskJSON(ctx, writer.Ask{
		Task:   "reviewer",
		System: "review_system",
		User:   "review_user",
		Data: map[string]any{
			"Category": category,
			"Source":   writer.Truncate(source, writer.ReviewPreviewLimit),
			"Title":    article.Title,
			"Article":  writer.Truncate(text, writer.ReviewPreviewLimit),
		},
		Schema: ReviewSchema(),
		Model:  g.cfg.Model,
	}, &resp)
	if err != nil {
		g.log.Warn().Err(err).Str("title", article.Title).Msg("Quality review failed, approving without review")
		rv.Verdict = core.VerdictApprove
		rv.Degraded = true
		rv.Error = err.Error()
		return rv
	}

	rv.Consistency = clamp(resp.Consistency)
	rv.Readability = clamp(resp.Readability)
	rv.Artificiality = clamp(resp.Artificiality)
	rv.Composite = Composite(rv.Consistency, rv.Readability, rv.Artificiality)
	rv.Verdict = Decide(rv.Composite, ThresholdFor(category, g.cfg.Thresholds))
	rv.Summary = strings.TrimSpace(resp.Summary)
	rv.Issues = append(resp.Issues, StockPhraseIssues(text)...)

	g.log.Info().
		Str("title", article.Title).
		Float64("consistency", rv.Consistency).
		Float64("readability", rv.Readability).
		Float64("artificiality", rv.Artificiality).
		Float64("composite", rv.Composite).
		Str("verdict", string(rv.Verdict)).
		Int("attempt", attempt).
		Msg("Quality review complete")
	return rv
}

// Outcome is the result of the review loop.
type Outcome struct {
	Article  writer.Article
	Verdict  core.Verdict
	Reviews  []core.QualityReview
	Rewrites int
	Forced   bool // rewrite budget spent without reaching the pass mark
}

// Reason describes a draft outcome for logs and the drafts directory.
func (o Outcome) Reason() string {
	if len(o.Reviews) == 0 {
		return ""
	}
	last := o.Reviews[len(o.Reviews)-1]
	if o.Forced {
		return fmt.Sprintf("still below pass mark after %d rewrites (composite %.1f)", o.Rewrites, last.Composite)
	}
	return fmt.Sprintf("composite %.1f below rewrite mark", last.Composite)
}

// Run reviews the article, rewriting it while the verdict is rewrite and the
// budget allows. When the gate is disabled the article is approved unchanged.
// A rewrite failure is returned together with the reviews gathered so far.
func (g *Gate) Run(ctx context.Context, article writer.Article, source, category string, rewrite Rewriter) (Outcome, error) {
	out := Outcome{Article: article, Verdict: core.VerdictApprove}
	if !g.cfg.Enabled {
		return out, nil
	}

	for attempt := 0; ; attempt++ {
		rv := g.Review(ctx, out.Article, source, category, attempt)
		out.Reviews = append(out.Reviews, rv)
		out.Verdict = rv.Verdict

		if rv.Verdict != core.VerdictRewrite {
			return out, nil
		}
		if attempt >= g.cfg.MaxRewrites {
			g.log.Warn().Str("title", out.Article.Title).Int("rewrites", attempt).
				Float64("composite", rv.Composite).Msg("Rewrite budget spent, saving as draft")
			out.Verdict = core.VerdictDraft
			out.Forced = true
			out.Reviews[len(out.Reviews)-1].Verdict = core.VerdictDraft
			return out, nil
		}

		next, err := rewrite(ctx, out.Article, rv)
		if err != nil {
			return out, fmt.Errorf("rewrite %d failed: %w", attempt+1, err)
		}
		out.Article = next
		out.Rewrites++
	}
}
