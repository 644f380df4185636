// Package recommend suggests new topics from gaps in the published corpus.
// Two signals are combined: tag combinations that are rare or stale, and
// articles on the edge of the embedding space with no close neighbour.
package recommend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"blogpilot/internal/core"
	"blogpilot/internal/logger"
	"blogpilot/internal/writer"

	"github.com/rs/zerolog"
	"google.golang.org/genai"
	"gonum.org/v1/gonum/floats"
)

// Defaults for Config.
const (
	DefaultTopN               = 5
	DefaultMinArticles        = 5
	DefaultFrontierMultiplier = 3
	DefaultSparseThreshold    = 0.7
	DefaultRecencyCap         = 3.0
	DefaultTagGapWeight       = 0.6
	DefaultVectorGapWeight    = 0.4
	DefaultRecentTitles       = 20
)

// ErrTooFewArticles is returned when the corpus is too small to analyse.
var ErrTooFewArticles = errors.New("not enough stored articles for recommendations")

// Article is one stored article as the analysis sees it.
type Article struct {
	ID          string
	Title       string
	Tags        core.TagSet
	Embedding   []float64
	PublishedAt time.Time
}

// Store loads the corpus.
type Store interface {
	Corpus(ctx context.Context) ([]Article, error)
}

// Asker runs a structured model call.
type Asker interface {
	AskJSON(ctx context.Context, ask writer.Ask, out any) error
}

// GapKind says which analysis found a gap.
type GapKind string

const (
	GapTag    GapKind = "tag_gap"
	GapVector GapKind = "vector_gap"
	GapMerged GapKind = "merged"
)

// Gap is an under-covered area of the corpus.
type Gap struct {
	Kind        GapKind
	Description string
	Score       float64
	Tags        core.TagSet // primary tag of each tier
	Reference   string      // title of the article marking a sparse region
}

// Recommendation is a suggested topic.
type Recommendation struct {
	Topic     string      `json:"topic"`
	Rationale string      `json:"rationale"`
	Tags      core.TagSet `json:"suggested_tags"`
	Priority  string      `json:"priority"` // high, medium or low
}

// Report is the outcome of one analysis.
type Report struct {
	Articles        int
	TagCombos       int // distinct domain/field pairs
	Gaps            []Gap
	Recommendations []Recommendation
}

// Config tunes the analysis
type Config struct {
	MinArticles        int
	FrontierMultiplier int
	SparseThreshold    float64 // frontier articles with a closer neighbour are skipped
	RecencyCap         float64 // upper bound of the staleness weight, in 30-day units
	TagGapWeight       float64
	VectorGapWeight    float64
	RecentTitles       int
}

// DefaultConfig returns the default analysis settings
func DefaultConfig() Config {
	return Config{
		MinArticles:        DefaultMinArticles,
		FrontierMultiplier: DefaultFrontierMultiplier,
		SparseThreshold:    DefaultSparseThreshold,
		RecencyCap:         DefaultRecencyCap,
		TagGapWeight:       DefaultTagGapWeight,
		VectorGapWeight:    DefaultVectorGapWeight,
		RecentTitles:       DefaultRecentTitles,
	}
}

// Recommender analyses the corpus and asks the model for topics.
type Recommender struct {
	store Store
	asker Asker
	cfg   Config
	now   func() time.Time
	log   zerolog.Logger
}

// New creates a Recommender. Zero config fields take their defaults.
func New(store Store, asker Asker, cfg Config) *Recommender {
	d := DefaultConfig()
	if cfg.MinArticles <= 0 {
		cfg.MinArticles = d.MinArticles
	}
	if cfg.FrontierMultiplier <= 0 {
		cfg.FrontierMultiplier = d.FrontierMultiplier
	}
	if cfg.SparseThreshold <= 0 {
		cfg.SparseThreshold = d.SparseThreshold
	}
	if cfg.RecencyCap <= 0 {
		cfg.RecencyCap = d.RecencyCap
	}
	if cfg.TagGapWeight <= 0 && cfg.VectorGapWeight <= 0 {
		cfg.TagGapWeight, cfg.VectorGapWeight = d.TagGapWeight, d.VectorGapWeight
	}
	if cfg.RecentTitles <= 0 {
		cfg.RecentTitles = d.RecentTitles
	}
	return &Recommender{
		store: store,
		asker: asker,
		cfg:   cfg,
		now:   time.Now,
		log:   logger.With("component", "recommend"),
	}
}

// Recommend returns up to topN topic suggestions.
func (r *Recommender) Recommend(ctx context.Context, topN int) (Report, error) {
	if topN <= 0 {
		topN = DefaultTopN
	}
	corpus, err := r.store.Corpus(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("failed to load corpus: %w", err)
	}
	rep := Report{Articles: len(corpus)}
	if len(corpus) < r.cfg.MinArticles {
		return rep, fmt.Errorf("%w: %d stored, need %d", ErrTooFewArticles, len(corpus), r.cfg.MinArticles)
	}

	tagGaps, combos := TagGaps(corpus, r.now(), r.cfg.RecencyCap)
	rep.TagCombos = combos
	vectorGaps := VectorGaps(corpus, topN*r.cfg.FrontierMultiplier, r.cfg.SparseThreshold)
	r.log.Info().Int("tag_gaps", len(tagGaps)).Int("vector_gaps", len(vectorGaps)).Msg("Corpus analysed")

	rep.Gaps = MergeGaps(tagGaps, vectorGaps, r.cfg.TagGapWeight, r.cfg.VectorGapWeight, topN)
	if len(rep.Gaps) == 0 {
		r.log.Warn().Msg("No content gaps found, skipping model call")
		return rep, nil
	}

	recs, err := r.generate(ctx, rep.Gaps, recentTitles(corpus, r.cfg.RecentTitles), topN)
	if err != nil {
		return rep, err
	}
	rep.Recommendations = recs
	return rep, nil
}

// primary keeps the first tag of each tier, the key gaps are grouped by.
func primary(t core.TagSet) core.TagSet {
	var out core.TagSet
	for _, tier := range core.Tiers {
		if v := t.Get(tier); len(v) > 0 {
			out.Set(tier, []string{v[0]})
		}
	}
	return out
}

func first(v []string) string {
	if len(v) == 0 {
		return ""
	}
	return v[0]
}

func comboKey(t core.TagSet) string {
	return first(t.Domain) + "/" + first(t.Field) + "/" + first(t.Topic)
}

// TagGaps scores each domain/field/topic combination by rarity and by how
// long it has gone unwritten: 1/(count+1) times days-since-latest/30, the
// latter clamped to [0.1, recencyCap]. It also returns the number of
// distinct domain/field pairs.
func TagGaps(corpus []Article, now time.Time, recencyCap float64) ([]Gap, int) {
	type combo struct {
		tags   core.TagSet
		count  int
		latest time.Time
	}
	combos := map[string]*combo{}
	pairs := map[string]bool{}
	for _, a := range corpus {
		p := primary(a.Tags)
		pairs[first(p.Domain)+"/"+first(p.Field)] = true
		key := comboKey(p)
		c, ok := combos[key]
		if !ok {
			c = &combo{tags: core.TagSet{Domain: p.Domain, Field: p.Field, Topic: p.Topic}}
			combos[key] = c
		}
		c.count++
		if a.PublishedAt.After(c.latest) {
			c.latest = a.PublishedAt
		}
	}

	gaps := make([]Gap, 0, len(combos))
	for key, c := range combos {
		staleness := 1.0
		if !c.latest.IsZero() {
			days := now.Sub(c.latest).Hours() / 24
			staleness = min(max(days/30, 0.1), recencyCap)
		}
		gaps = append(gaps, Gap{
			Kind:        GapTag,
			Description: fmt.Sprintf("%s (%d article(s))", key, c.count),
			Score:       staleness / float64(c.count+1),
			Tags:        c.tags,
		})
	}
	sortGaps(gaps)
	return gaps, len(pairs)
}

// VectorGaps finds the frontier articles farthest from the corpus centroid
// and keeps those whose nearest neighbour is less similar than sparse. The
// score is distance-to-centroid times (1 - nearest-neighbour similarity).
// Embeddings whose length differs from the first are ignored.
func VectorGaps(corpus []Article, frontier int, sparse float64) []Gap {
	var points []Article
	dims := 0
	for _, a := range corpus {
		if len(a.Embedding) == 0 {
			continue
		}
		if dims == 0 {
			dims = len(a.Embedding)
		}
		if len(a.Embedding) == dims {
			points = append(points, a)
		}
	}
	if len(points) < 2 || frontier <= 0 {
		return nil
	}

	centroid := Centroid(points)
	dist := make([]float64, len(points))
	for i, p := range points {
		dist[i] = 1 - CosineSimilarity(p.Embedding, centroid)
	}
	idx := make([]int, len(points))
	sorted := append([]float64(nil), dist...)
	floats.Argsort(sorted, idx)

	var gaps []Gap
	for n := len(idx) - 1; n >= 0 && len(idx)-1-n < frontier; n-- {
		i := idx[n]
		nn := nearestSimilarity(points, i)
		if nn >= sparse {
			continue
		}
		gaps = append(gaps, Gap{
			Kind:        GapVector,
			Description: fmt.Sprintf("sparse region (distance to centroid %.3f, nearest neighbour %.3f)", dist[i], nn),
			Score:       dist[i] * (1 - nn),
			Tags:        primary(points[i].Tags),
			Reference:   points[i].Title,
		})
	}
	sortGaps(gaps)
	return gaps
}

// Centroid is the mean of the embeddings, which must share a length.
func Centroid(points []Article) []float64 {
	c := make([]float64, len(points[0].Embedding))
	for _, p := range points {
		floats.Add(c, p.Embedding)
	}
	floats.Scale(1/float64(len(points)), c)
	return c
}

// CosineSimilarity of two equal-length vectors; 0 when either is zero.
func CosineSimilarity(a, b []float64) float64 {
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return floats.Dot(a, b) / (na * nb)
}

func nearestSimilarity(points []Article, i int) float64 {
	best := -1.0
	for j, p := range points {
		if j == i {
			continue
		}
		if s := CosineSimilarity(points[i].Embedding, p.Embedding); s > best {
			best = s
		}
	}
	return best
}

// MergeGaps min-max normalizes each list, sums the weighted scores of gaps
// sharing a domain/field/topic key and returns the topN highest.
func MergeGaps(tagGaps, vectorGaps []Gap, tagWeight, vectorWeight float64, topN int) []Gap {
	merged := map[string]*Gap{}
	var order []string
	accumulate := func(gaps []Gap, weight float64) {
		for _, g := range normalize(gaps) {
			key := comboKey(g.Tags)
			if key == "//" {
				key = g.Description
			}
			g.Score *= weight
			old, ok := merged[key]
			if !ok {
				g := g
				merged[key] = &g
				order = append(order, key)
				continue
			}
			old.Kind = GapMerged
			old.Description += " + " + g.Description
			old.Score += g.Score
			if old.Reference == "" {
				old.Reference = g.Reference
			}
		}
	}
	accumulate(tagGaps, tagWeight)
	accumulate(vectorGaps, vectorWeight)

	out := make([]Gap, 0, len(order))
	for _, key := range order {
		out = append(out, *merged[key])
	}
	sortGaps(out)
	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	return out
}

func normalize(gaps []Gap) []Gap {
	if len(gaps) == 0 {
		return nil
	}
	scores := make([]float64, len(gaps))
	for i, g := range gaps {
		scores[i] = g.Score
	}
	lo, hi := floats.Min(scores), floats.Max(scores)
	out := make([]Gap, len(gaps))
	for i, g := range gaps {
		if hi == lo {
			g.Score = 1
		} else {
			g.Score = (g.Score - lo) / (hi - lo)
		}
		out[i] = g
	}
	return out
}

func sortGaps(gaps []Gap) {
	sort.SliceStable(gaps, func(i, j int) bool {
		if gaps[i].Score != gaps[j].Score {
			return gaps[i].Score > gaps[j].Score
		}
		return gaps[i].Description < gaps[j].Description
	})
}

func recentTitles(corpus []Article, n int) []string {
	sorted := append([]Article(nil), corpus...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].PublishedAt.After(sorted[j].PublishedAt) })
	var out []string
	for i := 0; i < len(sorted) && i < n; i++ {
		out = append(out, sorted[i].Title)
	}
	return out
}

// Schema is the structured output of the recommendation call.
func Schema() *genai.Schema {
	tier := &genai.Schema{Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"recommendations": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"topic":     {Type: genai.TypeString},
						"rationale": {Type: genai.TypeString},
						"priority":  {Type: genai.TypeString, Enum: []string{"high", "medium", "low"}},
						"suggested_tags": {
							Type: genai.TypeObject,
							Properties: map[string]*genai.Schema{
								"domain": tier, "field": tier, "topic": tier, "content_type": tier,
							},
						},
					},
					Required: []string{"topic", "rationale"},
				},
			},
		},
		Required: []string{"recommendations"},
	}
}

type gapLine struct {
	Index       int
	Kind        string
	Description string
	Score       string
	Tags        string
	Reference   string
}

func (r *Recommender) generate(ctx context.Context, gaps []Gap, titles []string, topN int) ([]Recommendation, error) {
	lines := make([]gapLine, len(gaps))
	for i, g := range gaps {
		lines[i] = gapLine{
			Index:       i + 1,
			Kind:        string(g.Kind),
			Description: g.Description,
			Score:       fmt.Sprintf("%.3f", g.Score),
			Tags:        comboKey(g.Tags),
			Reference:   g.Reference,
		}
	}

	var resp struct {
		Recommendations []Recommendation `json:"recommendations"`
	}
	err := r.asker.AskJSON(ctx, writer.Ask{
		Task:   "recommend",
		System: "recommend_system",
		User:   "recommend_user",
		Data:   map[string]any{"TopN": topN, "Gaps": lines, "Titles": titles},
		Schema: Schema(),
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("recommendation call failed: %w", err)
	}

	out := make([]Recommendation, 0, len(resp.Recommendations))
	for _, rec := range resp.Recommendations {
		rec.Topic = strings.TrimSpace(rec.Topic)
		if rec.Topic == "" {
			continue
		}
		rec.Priority = strings.ToLower(strings.TrimSpace(rec.Priority))
		switch rec.Priority {
		case "high", "medium", "low":
		default:
			rec.Priority = "medium"
		}
		out = append(out, rec)
		if len(out) == topN {
			break
		}
	}
	return out, nil
}
