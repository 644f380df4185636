package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"blogpilot/internal/association"
	"blogpilot/internal/config"
	"blogpilot/internal/core"
	"blogpilot/internal/extract"
	"blogpilot/internal/llm"
	"blogpilot/internal/lock"
	"blogpilot/internal/logger"
	"blogpilot/internal/metrics"
	"blogpilot/internal/notifier"
	"blogpilot/internal/observability"
	"blogpilot/internal/prompts"
	"blogpilot/internal/publisher"
	"blogpilot/internal/quality"
	"blogpilot/internal/retry"
	"blogpilot/internal/retryqueue"
	"blogpilot/internal/scanner"
	"blogpilot/internal/series"
	"blogpilot/internal/store"
	"blogpilot/internal/tagging"
	"blogpilot/internal/writer"
)

// Runtime is a built pipeline together with the resources it owns.
type Runtime struct {
	Pipeline    *Pipeline
	Store       *store.Store // nil without a database
	Queue       *retryqueue.Queue
	Backpatches *retryqueue.BackpatchQueue
	Publisher   *publisher.Client
	Notifier    *notifier.Fallback
	Telegram    *notifier.Telegram // nil when not configured
	Metrics     *metrics.Metrics
	PostHog     *observability.PostHogClient
	LLM         *llm.TracedClient
	Writer      *writer.Writer
	Extractor   *extract.Extractor
	Tagger      *tagging.Client // nil without a database
}

// Close releases the store connection and flushes analytics.
func (r *Runtime) Close() {
	if r == nil {
		return
	}
	if r.PostHog.IsEnabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = r.PostHog.Shutdown(ctx)
		cancel()
	}
	if r.Store != nil {
		_ = r.Store.Close()
	}
	if r.LLM != nil {
		r.LLM.Close()
	}
}

// Builder helps construct a fully configured Pipeline
type Builder struct {
	cfg        *config.Config
	prompts    *prompts.Set
	skipStore  bool
	skipNotify bool
	now        func() time.Time
}

// NewBuilder creates a builder for the loaded configuration
func NewBuilder(cfg *config.Config) *Builder {
	return &Builder{cfg: cfg, now: time.Now}
}

// WithPrompts overrides the embedded prompt templates
func (b *Builder) WithPrompts(set *prompts.Set) *Builder {
	b.prompts = set
	return b
}

// WithoutStore builds a pipeline without the article store even when a
// connection string is configured
func (b *Builder) WithoutStore() *Builder {
	b.skipStore = true
	return b
}

// WithoutNotifications disables promotion
func (b *Builder) WithoutNotifications() *Builder {
	b.skipNotify = true
	return b
}

// RetryPolicy converts the configured model retry settings.
func RetryPolicy(cfg *config.Config) retry.Policy {
	d := retry.DefaultPolicy()
	return retry.Policy{
		Attempts: cfg.Retry.Attempts,
		Base:     config.Duration(cfg.Retry.Base, d.Base),
		Cap:      config.Duration(cfg.Retry.Cap, d.Cap),
	}
}

// PipelineConfig converts the loaded configuration into pipeline settings.
func PipelineConfig(cfg *config.Config) *Config {
	pc := DefaultConfig()
	pc.InputDir = cfg.Paths.Input
	pc.ProcessedDir = cfg.Paths.Processed
	pc.DraftsDir = cfg.Paths.Drafts
	pc.ReviewDir = cfg.Paths.Review
	pc.Window = Window{
		Enabled: cfg.Schedule.WindowEnabled,
		Start:   cfg.Schedule.WindowStart,
		End:     cfg.Schedule.WindowEnd,
	}
	pc.PollInterval = config.Duration(cfg.Schedule.PollInterval, pc.PollInterval)
	pc.Watch = cfg.Schedule.Watch
	pc.Workers = cfg.Schedule.Workers
	pc.RelatedLimit = cfg.Association.RelatedLimit
	pc.MaxFilenameRunes = cfg.App.MaxFilenameLen
	pc.PublishPolicy = RetryPolicy(cfg)
	return pc
}

// Majors returns the allowed major categories: the category map when it can
// be read, else the configured allowlist.
func Majors(cfg *config.Config) []string {
	if cfg.CategoriesFile != "" {
		cats, err := scanner.LoadCategories(cfg.CategoriesFile)
		if err == nil && len(cats) > 0 {
			return cats.Majors()
		}
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("Ignoring unreadable category map", "path", cfg.CategoriesFile, "error", err)
		}
	}
	return cfg.App.AllowedMajors
}

// Build wires every component named in the configuration.
func (b *Builder) Build(ctx context.Context) (*Runtime, error) {
	cfg := b.cfg
	if cfg == nil {
		return nil, core.E(core.KindConfig, "pipeline.build", "configuration is required", nil)
	}
	rt := &Runtime{Metrics: metrics.NewMetrics()}

	ph, err := observability.NewPostHogClient(observability.Config{
		Enabled: cfg.PostHog.Enabled,
		APIKey:  cfg.PostHog.APIKey,
		Host:    cfg.PostHog.Host,
	})
	if err != nil {
		logger.Warn("PostHog disabled", "error", err)
		ph, _ = observability.NewPostHogClient(observability.Config{})
	}
	rt.PostHog = ph

	g := cfg.AI.Gemini
	client, err := llm.NewClient(llm.Config{
		APIKey:            g.APIKey,
		Model:             g.Model,
		EmbeddingModel:    g.EmbeddingModel,
		Dimensions:        g.EmbeddingDimensions,
		Timeout:           config.Duration(g.Timeout, 0),
		RequestsPerMinute: g.RequestsPerMinute,
		Temperature:       g.Temperature,
		MaxTokens:         g.MaxTokens,
	})
	if err != nil {
		return nil, err
	}
	rt.LLM = llm.NewTracedClient(client, rt.Metrics, ph)

	set := b.prompts
	if set == nil {
		if set, err = prompts.Load(); err != nil {
			return nil, core.E(core.KindConfig, "pipeline.build", "failed to load prompts", err)
		}
	}
	policy := RetryPolicy(cfg)
	w := writer.New(rt.LLM, set, writer.Config{
		Model:         g.Model,
		FallbackModel: g.FallbackModel,
		ReviewModel:   g.ReviewModel,
		MaxTokens:     g.MaxTokens,
		Temperature:   g.Temperature,
		Policy:        policy,
	})
	rt.Writer = w

	pub, err := publisher.New(publisher.Config{
		URL:         cfg.WordPress.URL,
		User:        cfg.WordPress.User,
		AppPassword: cfg.WordPress.AppPassword,
		Status:      cfg.WordPress.Status,
		Timeout:     config.Duration(cfg.WordPress.Timeout, 0),
	})
	if err != nil {
		return nil, err
	}
	rt.Publisher = pub

	locker, err := lock.NewFileLocker(filepath.Join(cfg.Paths.Data, "locks"))
	if err != nil {
		return nil, core.E(core.KindConfig, "pipeline.build", "failed to prepare lock directory", err)
	}

	minLen := cfg.App.MinTextLength
	if minLen <= 0 {
		minLen = extract.MinTextLength
	}
	rt.Extractor = extract.New(minLen)
	comps := Components{
		Resolver:  scanner.NewResolver(cfg.Paths.Input, Majors(cfg)),
		Locker:    locker,
		Extractor: rt.Extractor,
		Writer:    w,
		Publisher: pub,
		Metrics:   rt.Metrics,
		PostHog:   ph,
	}

	if cfg.Quality.Enabled {
		th := make(map[string]quality.Threshold, len(cfg.Quality.Thresholds))
		for k, v := range cfg.Quality.Thresholds {
			th[k] = quality.Threshold{Pass: v.Pass, Rewrite: v.Rewrite}
		}
		if len(th) == 0 {
			th = nil
		}
		comps.Gate = quality.NewGate(w, quality.Config{
			Enabled:     true,
			MaxRewrites: cfg.Quality.MaxRewrites,
			Thresholds:  th,
			Model:       w.ReviewModel(),
		})
	}

	if g.CoverImageEnabled && g.CoverImageModel != "" {
		comps.Cover = NewCoverAdapter(rt.LLM, set, g.CoverImageModel)
	}

	if !b.skipNotify {
		if err := b.wireNotifier(rt); err != nil {
			return nil, err
		}
		if rt.Notifier.Enabled() {
			comps.Promoter = rt.Notifier
		}
	}

	if cfg.StoreEnabled() && !b.skipStore {
		st, err := store.Open(ctx, cfg.Database.ConnectionString, store.Options{MaxOpenConns: cfg.Database.MaxOpenConns})
		if err != nil {
			return nil, err
		}
		rt.Store = st
		rt.Queue = retryqueue.New(cfg.Paths.Data, cfg.RetryQueue.MaxAttempts)
		rt.Metrics.SetRetryQueueDepth(rt.Queue.Len())
		rt.Backpatches = retryqueue.NewBackpatchQueue(cfg.Paths.Data, cfg.RetryQueue.MaxAttempts)

		tagger, err := tagging.NewClient(w, rt.LLM, tagging.LazySynonyms(cfg.SynonymsFile), policy)
		if err != nil {
			st.Close()
			return nil, err
		}
		rt.Tagger = tagger
		comps.Tagger = tagger
		comps.Associator = association.NewEngine(st, association.Config{
			DuplicateThreshold: cfg.Association.DuplicateThreshold,
			RelevanceFloor:     cfg.Association.RelevanceFloor,
			RelatedLimit:       cfg.Association.RelatedLimit,
			PrefilterLimit:     cfg.Association.PrefilterLimit,
		})
		comps.Series = series.NewDetector(st, w, series.Config{
			Threshold:        cfg.Series.Threshold,
			PatternThreshold: cfg.Series.PatternThreshold,
			AmbiguityBand:    cfg.Series.AmbiguityBand,
			MinTierOverlap:   cfg.Series.MinTierOverlap,
			Lookback:         config.Duration(cfg.Series.Lookback, 0),
		})
		comps.Store = st
		comps.Queue = rt.Queue
		comps.Backpatches = rt.Backpatches
	} else {
		logger.Info("Article store not configured, dedup, related links and series are disabled")
	}

	p, err := NewPipeline(comps, PipelineConfig(cfg))
	if err != nil {
		rt.Close()
		return nil, err
	}
	p.now = b.now
	rt.Pipeline = p
	return rt, nil
}

func (b *Builder) wireNotifier(rt *Runtime) error {
	cfg := b.cfg
	var primary, secondary notifier.Notifier
	if cfg.Telegram.BotToken != "" {
		tg, err := notifier.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChannelID, cfg.Telegram.APIBase,
			config.Duration(cfg.Telegram.Timeout, 0))
		if err != nil {
			return err
		}
		rt.Telegram = tg
		primary = tg
	}

	m := cfg.Messaging
	for platform, url := range map[notifier.Platform]string{
		notifier.PlatformSlack:   m.Slack.WebhookURL,
		notifier.PlatformDiscord: m.Discord.WebhookURL,
	} {
		if url == "" {
			continue
		}
		if err := notifier.ValidateWebhookURL(platform, url); err != nil {
			return core.E(core.KindConfig, "pipeline.build", fmt.Sprintf("invalid %s webhook", platform), err)
		}
	}
	if wh := notifier.NewWebhook(notifier.WebhookConfig{
		SlackURL:        m.Slack.WebhookURL,
		SlackUsername:   m.Slack.Username,
		SlackIconEmoji:  m.Slack.IconEmoji,
		DiscordURL:      m.Discord.WebhookURL,
		DiscordUsername: m.Discord.Username,
		Timeout:         config.Duration(m.Timeout, 0),
	}); wh != nil {
		secondary = wh
	}

	rt.Notifier = notifier.NewFallback(primary, secondary)
	return nil
}
