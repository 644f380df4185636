// Package series detects when a new article continues an earlier one and
// maintains the navigation block that links installments together.
package series

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"blogpilot/internal/core"
	"blogpilot/internal/llm"
	"blogpilot/internal/logger"
	"blogpilot/internal/writer"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

const (
	DefaultThreshold        = 0.85
	DefaultPatternThreshold = 0.75
	DefaultAmbiguityBand    = 0.10
	DefaultMinTierOverlap   = 3
	DefaultLookback         = 90 * 24 * time.Hour
	// ClassifierConfidence is the confidence a classifier "yes" must reach.
	ClassifierConfidence = 0.7
	maxClassifierChecks  = 3
)

// Candidate is an existing series, or a standalone article that would start
// one, together with the embeddings of its members in member order.
type Candidate struct {
	SeriesID    string // empty for a standalone article
	SeriesTitle string
	Members     []core.SeriesMember
	Embeddings  []core.Embedding
}

// Store is the read side the detector needs.
type Store interface {
	// SeriesCandidates returns series and standalone articles published since
	// the given time whose tags overlap in at least minTiers tiers.
	SeriesCandidates(ctx context.Context, tags core.TagSet, since time.Time, minTiers int) ([]Candidate, error)
}

// Asker runs the classifier prompt.
type Asker interface {
	AskJSON(ctx context.Context, ask writer.Ask, out any) error
}

// Config tunes detection.
type Config struct {
	Threshold        float64
	PatternThreshold float64
	AmbiguityBand    float64
	MinTierOverlap   int
	Lookback         time.Duration
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		Threshold:        DefaultThreshold,
		PatternThreshold: DefaultPatternThreshold,
		AmbiguityBand:    DefaultAmbiguityBand,
		MinTierOverlap:   DefaultMinTierOverlap,
		Lookback:         DefaultLookback,
	}
}

// Detector decides series membership.
type Detector struct {
	store Store
	asker Asker
	cfg   Config
	now   func() time.Time
	log   zerolog.Logger
}

// NewDetector returns a Detector. asker may be nil, in which case ambiguous
// candidates are rejected.
func NewDetector(store Store, asker Asker, cfg Config) *Detector {
	d := DefaultConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = d.Threshold
	}
	if cfg.PatternThreshold <= 0 {
		cfg.PatternThreshold = d.PatternThreshold
	}
	if cfg.AmbiguityBand <= 0 {
		cfg.AmbiguityBand = d.AmbiguityBand
	}
	if cfg.MinTierOverlap <= 0 {
		cfg.MinTierOverlap = d.MinTierOverlap
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = d.Lookback
	}
	return &Detector{store: store, asker: asker, cfg: cfg, now: time.Now, log: logger.With("component", "series")}
}

type scored struct {
	cand Candidate
	sim  float64
}

// Detect returns how the new article joins a series, or nil when it stands
// alone. Errors are KindSeries and are not fatal to the caller.
func (d *Detector) Detect(ctx context.Context, tags core.TagSet, emb core.Embedding, title string) (*core.SeriesDecision, error) {
	if tags.IsEmpty() || emb.IsEmpty() {
		return nil, nil
	}
	pattern := HasSequenceMarker(title)
	threshold := d.cfg.Threshold
	if pattern {
		threshold = d.cfg.PatternThreshold
	}

	candidates, err := d.store.SeriesCandidates(ctx, tags, d.now().Add(-d.cfg.Lookback), d.cfg.MinTierOverlap)
	if err != nil {
		return nil, core.E(core.KindSeries, "series.detect", "candidate lookup failed", err)
	}

	var ranked []scored
	for _, c := range candidates {
		if len(c.Members) == 0 {
			continue
		}
		ranked = append(ranked, scored{cand: c, sim: MeanSimilarity(emb, c.Embeddings)})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].sim > ranked[j].sim })

	for _, s := range ranked {
		if s.sim >= threshold {
			dec := d.decide(s.cand, s.sim, pattern, tags, "similarity")
			d.log.Info().Str("series", dec.SeriesTitle).Int("order", dec.Order).
				Float64("similarity", s.sim).Float64("threshold", threshold).Msg("Series continuation detected")
			return dec, nil
		}
	}

	checks := 0
	for _, s := range ranked {
		if s.sim < threshold-d.cfg.AmbiguityBand || checks >= maxClassifierChecks {
			break
		}
		checks++
		if d.confirm(ctx, title, s.cand) {
			dec := d.decide(s.cand, s.sim, pattern, tags, "classifier")
			d.log.Info().Str("series", dec.SeriesTitle).Int("order", dec.Order).
				Float64("similarity", s.sim).Msg("Series continuation confirmed by classifier")
			return dec, nil
		}
	}
	return nil, nil
}

func (d *Detector) decide(c Candidate, sim float64, pattern bool, tags core.TagSet, by string) *core.SeriesDecision {
	members := append([]core.SeriesMember(nil), c.Members...)
	sort.SliceStable(members, func(i, j int) bool { return members[i].Order < members[j].Order })

	dec := &core.SeriesDecision{
		SeriesID:     c.SeriesID,
		SeriesTitle:  c.SeriesTitle,
		TitlePattern: pattern,
		Similarity:   sim,
		ConfirmedBy:  by,
	}
	if c.SeriesID == "" {
		first := members[0]
		first.Order = 1
		dec.Create = true
		dec.SeriesID = uuid.NewString()
		dec.SeriesTitle = seriesTitle(first.Title, tags)
		dec.Previous = &first
		dec.Order = 2
		return dec
	}

	last := members[len(members)-1]
	dec.Previous = &last
	dec.Order = last.Order + 1
	if len(members) > 1 {
		pp := members[len(members)-2]
		dec.PrevPrevious = &pp
	}
	return dec
}

func seriesTitle(firstTitle string, tags core.TagSet) string {
	if base := BaseTitle(firstTitle); base != "" {
		return base
	}
	if len(tags.Topic) > 0 {
		return tags.Topic[0]
	}
	return firstTitle
}

type classifierVerdict struct {
	IsSeries   bool    `json:"is_series"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// ClassifierSchema is the structured output schema for the series check.
func ClassifierSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"is_series":  {Type: genai.TypeBoolean},
			"confidence": {Type: genai.TypeNumber},
			"reason":     {Type: genai.TypeString},
		},
		Required: []string{"is_series", "confidence"},
	}
}

// confirm asks the classifier. Any failure counts as "no".
func (d *Detector) confirm(ctx context.Context, title string, c Candidate) bool {
	if d.asker == nil {
		return false
	}
	var titles []string
	for _, m := range c.Members {
		titles = append(titles, m.Title)
	}
	if len(titles) > 10 {
		titles = titles[len(titles)-10:]
	}
	name := c.SeriesTitle
	if name == "" {
		name = c.Members[0].Title
	}

	var v classifierVerdict
	err := d.asker.AskJSON(ctx, writer.Ask{
		Task:   "series",
		System: "series_check_system",
		User:   "series_check_user",
		Data:   map[string]any{"Title": title, "SeriesTitle": name, "Members": titles},
		Schema: ClassifierSchema(),
	}, &v)
	if err != nil {
		d.log.Warn().Err(err).Msg("Series classifier failed, treating as standalone")
		return false
	}
	d.log.Info().Bool("is_series", v.IsSeries).Float64("confidence", v.Confidence).
		Str("reason", v.Reason).Msg("Series classifier verdict")
	return v.IsSeries && v.Confidence >= ClassifierConfidence
}

// MeanSimilarity averages the cosine similarity of emb against each member
// embedding of the same model.
func MeanSimilarity(emb core.Embedding, members []core.Embedding) float64 {
	var sum float64
	n := 0
	for _, m := range members {
		if m.IsEmpty() || (m.Model != "" && emb.Model != "" && m.Model != emb.Model) {
			continue
		}
		sum += llm.CosineSimilarity(emb.Values, m.Values)
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// ContentEditor reads and rewrites a published post.
type ContentEditor interface {
	Content(ctx context.Context, postID int64) (string, error)
	UpdateContent(ctx context.Context, postID int64, html string) error
}

// Backpatch rewrites the navigation block of the previous installment so it
// links forward to the newly published one. Running it again with the same
// inputs leaves the post unchanged.
func Backpatch(ctx context.Context, editor ContentEditor, dec *core.SeriesDecision, newTitle string, published core.PublishResult) (bool, error) {
	if dec == nil || dec.Previous == nil || dec.Previous.PostID == 0 {
		return false, nil
	}
	prev := dec.Previous

	current, err := editor.Content(ctx, prev.PostID)
	if err != nil {
		return false, core.E(core.KindSeries, "series.backpatch", fmt.Sprintf("failed to fetch post %d", prev.PostID), err)
	}

	nav := BuildNavigation(Nav{
		SeriesTitle: dec.SeriesTitle,
		Order:       prev.Order,
		Total:       dec.Order,
		Prev:        linkTo(dec.PrevPrevious),
		Next:        &Link{Title: newTitle, URL: published.URL},
	})
	updated, err := ReplaceNavigation(current, nav)
	if err != nil {
		return false, core.E(core.KindSeries, "series.backpatch", "failed to rewrite navigation", err)
	}
	if strings.TrimSpace(updated) == strings.TrimSpace(current) {
		return false, nil
	}
	if err := editor.UpdateContent(ctx, prev.PostID, updated); err != nil {
		return false, core.E(core.KindSeries, "series.backpatch", fmt.Sprintf("failed to update post %d", prev.PostID), err)
	}
	return true, nil
}

func linkTo(m *core.SeriesMember) *Link {
	if m == nil || m.URL == "" {
		return nil
	}
	return &Link{Title: m.Title, URL: m.URL}
}
