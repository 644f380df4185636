package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"blogpilot/internal/association"
	"blogpilot/internal/core"
	"blogpilot/internal/cost"
	"blogpilot/internal/lock"
	"blogpilot/internal/logger"
	"blogpilot/internal/metrics"
	"blogpilot/internal/observability"
	"blogpilot/internal/retry"
	"blogpilot/internal/retryqueue"
	"blogpilot/internal/scanner"

	"github.com/rs/zerolog"
)

// Pipeline turns submitted documents into published articles. Stage order is
// fixed; optional stages are skipped when their component is nil.
type Pipeline struct {
	// Required components
	resolver  *scanner.Resolver
	locker    lock.Locker
	extractor TextExtractor
	writer    ArticleWriter
	publisher Publisher

	// Store-backed stages, all nil when no store is configured
	tagger      Tagger
	associate   Associator
	series      SeriesDetector
	store       ArticleStore
	queue       *retryqueue.Queue
	backpatches *retryqueue.BackpatchQueue

	// Optional components
	gate     QualityGate // nil means auto-approve
	promoter Promoter
	cover    CoverGenerator
	metrics  *metrics.Metrics
	posthog  *observability.PostHogClient

	config *Config
	now    func() time.Time
	log    zerolog.Logger
}

// Config holds pipeline configuration
type Config struct {
	// Directory layout
	InputDir     string
	ProcessedDir string
	DraftsDir    string
	ReviewDir    string

	// Scheduling
	Window       Window
	PollInterval time.Duration
	Watch        bool          // wake on new files as well as on the poll interval
	Debounce     time.Duration // quiet period after a file event
	Workers      int

	// Processing settings
	RelatedLimit     int
	MaxFilenameRunes int
	PublishPolicy    retry.Policy
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		InputDir:         "input",
		ProcessedDir:     "processed",
		DraftsDir:        "drafts",
		ReviewDir:        "review",
		PollInterval:     10 * time.Minute,
		Watch:            true,
		Debounce:         5 * time.Second,
		Workers:          1,
		RelatedLimit:     5,
		MaxFilenameRunes: DefaultMaxFilenameRunes,
		PublishPolicy:    retry.DefaultPolicy(),
	}
}

// Outcome is how a file left the pipeline.
type Outcome string

const (
	OutcomePublished Outcome = "published"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeDraft     Outcome = "draft"
	OutcomeReview    Outcome = "review"   // extraction failed, source moved for manual review
	OutcomeDeferred  Outcome = "deferred" // transient failure, left in place
	OutcomeSkipped   Outcome = "skipped"  // invalid path, locked or outside the window
	OutcomeFailed    Outcome = "failed"   // fatal, e.g. rejected credentials
)

// Result describes one processed file
type Result struct {
	File       string
	Outcome    Outcome
	Title      string
	URL        string
	PostID     int64
	Reason     string
	Err        error
	MovedTo    string // archive or review location of the source
	DraftPath  string
	Series     *core.SeriesDecision
	Reviews    []core.QualityReview
	Deferred   bool // store write queued for retry
	Usage      *core.TokenSummary
	Duration   time.Duration
	StartedAt  time.Time
	FinishedAt time.Time
}

// Components are the collaborators of a Pipeline. Resolver, Locker,
// Extractor, Writer and Publisher are required; Tagger, Associator, Series,
// Store, Queue and Backpatches come together with the article store.
type Components struct {
	Resolver  *scanner.Resolver
	Locker    lock.Locker
	Extractor TextExtractor
	Writer    ArticleWriter
	Publisher Publisher

	Tagger      Tagger
	Associator  Associator
	Series      SeriesDetector
	Store       ArticleStore
	Queue       *retryqueue.Queue
	Backpatches *retryqueue.BackpatchQueue

	Gate     QualityGate
	Promoter Promoter
	Cover    CoverGenerator
	Metrics  *metrics.Metrics
	PostHog  *observability.PostHogClient
}

// NewPipeline creates a new pipeline with all dependencies
func NewPipeline(c Components, config *Config) (*Pipeline, error) {
	if c.Resolver == nil || c.Locker == nil || c.Extractor == nil || c.Writer == nil || c.Publisher == nil {
		return nil, core.E(core.KindConfig, "pipeline.new", "resolver, locker, extractor, writer and publisher are required", nil)
	}
	if config == nil {
		config = DefaultConfig()
	}
	d := DefaultConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = d.PollInterval
	}
	if config.Debounce <= 0 {
		config.Debounce = d.Debounce
	}
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.RelatedLimit <= 0 {
		config.RelatedLimit = d.RelatedLimit
	}
	if config.MaxFilenameRunes <= 0 {
		config.MaxFilenameRunes = d.MaxFilenameRunes
	}

	return &Pipeline{
		resolver:    c.Resolver,
		locker:      c.Locker,
		extractor:   c.Extractor,
		writer:      c.Writer,
		publisher:   c.Publisher,
		tagger:      c.Tagger,
		associate:   c.Associator,
		series:      c.Series,
		store:       c.Store,
		queue:       c.Queue,
		backpatches: c.Backpatches,
		gate:        c.Gate,
		promoter:    c.Promoter,
		cover:       c.Cover,
		metrics:     c.Metrics,
		posthog:     c.PostHog,
		config:      config,
		now:         time.Now,
		log:         logger.With("component", "pipeline"),
	}, nil
}

// Config returns the effective configuration.
func (p *Pipeline) Config() Config { return *p.config }

// ProcessFile runs one file through the pipeline. The publish window is
// honoured; use ScanOnce to process the whole input tree.
func (p *Pipeline) ProcessFile(ctx context.Context, path string) Result {
	if !p.config.Window.OpenAt(p.now()) {
		return Result{File: path, Outcome: OutcomeSkipped, Reason: "outside publish window " + p.config.Window.String()}
	}
	return p.processFile(ctx, path)
}

func (p *Pipeline) processFile(ctx context.Context, path string) Result {
	res := Result{File: path, StartedAt: p.now()}
	log := p.log.With().Str("file", filepath.Base(path)).Logger()

	file, err := p.resolver.Resolve(path)
	if err != nil {
		log.Warn().Err(err).Msg("Skipping file with invalid path")
		return p.finish(ctx, res, core.SubmittedFile{}, OutcomeSkipped, err)
	}

	lease, ok, err := p.locker.TryAcquire(file.Path)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to take file lock")
		return p.finish(ctx, res, file, OutcomeDeferred, err)
	}
	if !ok {
		log.Info().Msg("Skipping file locked by another worker")
		p.metrics.RecordLockContention()
		res.Reason = "locked"
		return p.finish(ctx, res, file, OutcomeSkipped, nil)
	}
	defer func() {
		if err := lease.Release(); err != nil {
			log.Warn().Err(err).Msg("Failed to release file lock")
		}
	}()

	// The source may have been moved by the worker that held the lock before us
	if _, err := os.Stat(file.Path); errors.Is(err, os.ErrNotExist) {
		res.Reason = "already handled"
		return p.finish(ctx, res, file, OutcomeSkipped, nil)
	}

	usage := core.NewTokenSummary()
	res.Usage = usage
	ctx = core.WithUsage(ctx, usage)

	log.Info().Str("major", file.Major).Str("sub", file.Sub).Int("category_id", file.CategoryID).
		Str("hashtag", file.Hashtag).Msg("Processing file")

	outcome, err := p.run(ctx, file, &res, log)
	res = p.finish(ctx, res, file, outcome, err)
	log.Info().Str("outcome", string(res.Outcome)).Msg(cost.FormatSummary(usage))
	return res
}

// run executes the stages and reports the outcome. It fills res as it goes.
func (p *Pipeline) run(ctx context.Context, file core.SubmittedFile, res *Result, log zerolog.Logger) (Outcome, error) {
	// Step 1: Extract
	text, err := p.extractor.File(file.Path)
	if err != nil {
		log.Warn().Err(err).Msg("Extraction failed, moving source to review")
		p.moveToReview(file, res, log)
		return OutcomeReview, err
	}

	// Step 2: Tag, dedup, associate, detect series
	st, err := p.associateStage(ctx, file, text, log)
	if err != nil {
		if core.IsKind(err, core.KindDuplicate) {
			res.Title = st.title
			p.archive(file, res, filepath.Base(file.Path), log)
		}
		return classify(err), err
	}
	res.Series = st.series

	// Step 3: Write
	article, err := p.writer.GenerateArticle(ctx, writerRequest(file, text, st.related))
	if err != nil {
		log.Error().Err(err).Msg("Article generation failed")
		if core.IsKind(err, core.KindFallbackExhaust) {
			p.moveToReview(file, res, log)
			return OutcomeDraft, err
		}
		return classify(err), err
	}
	res.Title = article.Title

	// Step 4: Review loop
	review, err := p.reviewStage(ctx, file, text, article, log)
	res.Reviews = review.Reviews
	res.Title = review.Article.Title
	if err != nil {
		if core.IsKind(err, core.KindFallbackExhaust) {
			p.saveDraft(ctx, file, res, review.Article.Title, review.Article.HTML, review.Reviews, log)
			return OutcomeDraft, err
		}
		p.appendReviews(ctx, review.Reviews, log)
		return classify(err), err
	}
	if review.Verdict == core.VerdictDraft {
		res.Reason = review.Reason()
		p.saveDraft(ctx, file, res, review.Article.Title, review.Article.HTML, review.Reviews, log)
		return OutcomeDraft, nil
	}
	article = review.Article

	// Step 5: Prepare the post
	draft, err := p.prepareStage(ctx, file, article, st, log)
	if err != nil {
		return classify(err), err
	}

	// Step 6: Dedup re-check, another worker may have published the same content
	if p.associate != nil && !st.embedding.IsEmpty() {
		dup, match, err := p.associate.IsDuplicate(ctx, st.embedding)
		if err != nil {
			p.appendReviews(ctx, review.Reviews, log)
			return OutcomeDeferred, fmt.Errorf("duplicate re-check failed: %w", err)
		}
		if dup {
			p.appendReviews(ctx, review.Reviews, log)
			p.archive(file, res, filepath.Base(file.Path), log)
			err := association.DuplicateError(match)
			return classify(err), err
		}
	}

	// Step 7: Publish
	published, err := p.publish(ctx, draft, log)
	if err != nil {
		if core.IsRetryable(err) {
			p.appendReviews(ctx, review.Reviews, log)
			return OutcomeDeferred, err
		}
		p.saveDraft(ctx, file, res, draft.Title, draft.HTML, review.Reviews, log)
		return OutcomeDraft, err
	}
	res.URL, res.PostID = published.URL, published.PostID
	log.Info().Int64("post_id", published.PostID).Str("url", published.URL).Msg("Article published")

	// Step 8: Archive at once, the post is live and must not be published twice.
	// A forward link owed to the previous installment is recorded first.
	p.oweBackpatch(draft, published, log)
	p.archive(file, res, "", log)

	// Step 9: Back-patch the previous installment
	p.backpatch(ctx, draft, published, log)

	// Step 10: Persist
	rec := p.record(draft, published, st, review.Reviews)
	res.Deferred = p.persist(ctx, file, rec, log)

	// Step 11: Promote
	p.promote(ctx, file, draft, published, log)

	return OutcomePublished, nil
}

// classify maps a stage error to the outcome that leaves the file in place or
// stops the run.
func classify(err error) Outcome {
	switch {
	case fatal(err):
		return OutcomeFailed
	case core.IsKind(err, core.KindDuplicate):
		return OutcomeDuplicate
	default:
		return OutcomeDeferred
	}
}

// fatal reports errors no later cycle can recover from.
func fatal(err error) bool {
	return core.IsKind(err, core.KindAuth) || core.IsKind(err, core.KindConfig)
}

func (p *Pipeline) publish(ctx context.Context, draft core.ArticleDraft, log zerolog.Logger) (core.PublishResult, error) {
	published, err := retry.Do(ctx, p.config.PublishPolicy, func(int) (core.PublishResult, error) {
		return p.publisher.Publish(ctx, draft)
	}, func(err error, next time.Duration) {
		log.Warn().Err(err).Dur("backoff", next).Msg("Publish failed, retrying")
	})
	if err != nil {
		p.metrics.RecordPublish("error")
		log.Error().Err(err).Int("status", core.StatusCode(err)).Bool("retryable", core.IsRetryable(err)).
			Msg("Publish failed")
		return core.PublishResult{}, err
	}
	p.metrics.RecordPublish("ok")
	return published, nil
}

func (p *Pipeline) archive(file core.SubmittedFile, res *Result, name string, log zerolog.Logger) {
	var dst string
	if name != "" {
		dst = filepath.Join(p.config.ProcessedDir, categoryDir(file), name)
	} else {
		dst = ArchivePath(p.config.ProcessedDir, file, res.Title, p.config.MaxFilenameRunes)
	}
	moved, err := moveFile(file.Path, dst)
	if err != nil {
		log.Error().Err(err).Str("target", dst).Msg("Failed to archive source")
		return
	}
	res.MovedTo = moved
	log.Info().Str("archived_to", moved).Msg("Source archived")
}

func (p *Pipeline) moveToReview(file core.SubmittedFile, res *Result, log zerolog.Logger) {
	dst := filepath.Join(p.config.ReviewDir, categoryDir(file), filepath.Base(file.Path))
	moved, err := moveFile(file.Path, dst)
	if err != nil {
		log.Error().Err(err).Str("target", dst).Msg("Failed to move source to review")
		return
	}
	res.MovedTo = moved
}

func (p *Pipeline) saveDraft(ctx context.Context, file core.SubmittedFile, res *Result, title, html string, reviews []core.QualityReview, log zerolog.Logger) {
	p.appendReviews(ctx, reviews, log)
	path, err := writeDraft(p.config.DraftsDir, file, title, html)
	if err != nil {
		log.Error().Err(err).Msg("Failed to save draft")
	} else {
		res.DraftPath = path
		log.Info().Str("draft", path).Msg("Draft saved for manual review")
	}
	p.moveToReview(file, res, log)
}

func (p *Pipeline) appendReviews(ctx context.Context, reviews []core.QualityReview, log zerolog.Logger) {
	if p.store == nil || len(reviews) == 0 {
		return
	}
	if err := p.store.AppendReviews(ctx, reviews); err != nil {
		log.Warn().Err(err).Int("reviews", len(reviews)).Msg("Failed to store quality reviews")
	}
}

func (p *Pipeline) promote(ctx context.Context, file core.SubmittedFile, draft core.ArticleDraft, published core.PublishResult, log zerolog.Logger) {
	if p.promoter == nil {
		return
	}
	promo, err := p.writer.Promo(ctx, draft.Title, draft.HTML, file.Hashtag)
	if err != nil {
		log.Warn().Err(err).Msg("Promo generation failed, using stored promo")
		promo = draft.Promo
	}
	if err := p.promoter.Promote(ctx, promo, published.URL); err != nil {
		log.Warn().Err(err).Msg("Promotion failed, article is published")
		return
	}
	log.Info().Msg("Article promoted")
}

// finish stamps timing, records metrics and analytics, and logs the result.
func (p *Pipeline) finish(ctx context.Context, res Result, file core.SubmittedFile, outcome Outcome, err error) Result {
	res.Outcome = outcome
	res.Err = err
	if err != nil && res.Reason == "" {
		res.Reason = err.Error()
	}
	res.FinishedAt = p.now()
	if !res.StartedAt.IsZero() {
		res.Duration = res.FinishedAt.Sub(res.StartedAt)
	}

	p.metrics.RecordOutcome(string(outcome), res.Duration.Seconds())
	if outcome == OutcomeSkipped {
		return res
	}
	if p.posthog.IsEnabled() {
		_ = p.posthog.TrackFileOutcome(ctx, string(outcome), file.Major, file.Sub, res.Duration.Milliseconds())
		if outcome == OutcomePublished {
			order, composite := 0, 0.0
			if res.Series != nil {
				order = res.Series.Order
			}
			if n := len(res.Reviews); n > 0 {
				composite = res.Reviews[n-1].Composite
			}
			_ = p.posthog.TrackPublished(ctx, res.PostID, file.Major, order, composite)
		}
		if err != nil && outcome != OutcomeDuplicate {
			_ = p.posthog.TrackError(ctx, string(core.KindOf(err)), err.Error(), "pipeline")
		}
	}
	return res
}
