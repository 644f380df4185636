// Package association finds duplicates and related articles for a new
// document.
package association

import (
	"context"
	"fmt"
	"sort"

	"blogpilot/internal/core"
	"blogpilot/internal/logger"

	"github.com/rs/zerolog"
)

const (
	// DefaultDuplicateThreshold is the similarity at or above which a new
	// article is a duplicate of a stored one.
	DefaultDuplicateThreshold = 0.95
	// DefaultRelevanceFloor is the similarity a related article must exceed.
	DefaultRelevanceFloor = 0.70
	// DefaultRelatedLimit is the number of related articles returned.
	DefaultRelatedLimit = 5
	// DefaultPrefilterLimit bounds the tag-filtered candidate set.
	DefaultPrefilterLimit = 50
)

// Match is the nearest stored article to an embedding.
type Match struct {
	ArticleID  string
	Title      string
	URL        string
	Similarity float64
}

// Store is the read side the engine needs.
type Store interface {
	// Nearest returns the stored article closest to emb, or nil when the
	// store holds no embedding of the same model.
	Nearest(ctx context.Context, emb core.Embedding) (*Match, error)
	// FindByTags returns up to limit articles sharing at least one tag in any
	// tier, with SharedTags set to the number of overlapping tiers and
	// Similarity set against emb.
	FindByTags(ctx context.Context, tags core.TagSet, emb core.Embedding, limit int) ([]core.AssociationCandidate, error)
}

// Config tunes the engine.
type Config struct {
	DuplicateThreshold float64
	RelevanceFloor     float64
	RelatedLimit       int
	PrefilterLimit     int
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		DuplicateThreshold: DefaultDuplicateThreshold,
		RelevanceFloor:     DefaultRelevanceFloor,
		RelatedLimit:       DefaultRelatedLimit,
		PrefilterLimit:     DefaultPrefilterLimit,
	}
}

// Engine ranks stored articles against a new one.
type Engine struct {
	store Store
	cfg   Config
	log   zerolog.Logger
}

// NewEngine returns an Engine. Zero config fields take their defaults.
func NewEngine(store Store, cfg Config) *Engine {
	d := DefaultConfig()
	if cfg.DuplicateThreshold <= 0 {
		cfg.DuplicateThreshold = d.DuplicateThreshold
	}
	if cfg.RelevanceFloor <= 0 {
		cfg.RelevanceFloor = d.RelevanceFloor
	}
	if cfg.RelatedLimit <= 0 {
		cfg.RelatedLimit = d.RelatedLimit
	}
	if cfg.PrefilterLimit <= 0 {
		cfg.PrefilterLimit = d.PrefilterLimit
	}
	return &Engine{store: store, cfg: cfg, log: logger.With("component", "association")}
}

// IsDuplicate reports whether the nearest stored article is at least
// DuplicateThreshold similar. An empty embedding is never a duplicate.
func (e *Engine) IsDuplicate(ctx context.Context, emb core.Embedding) (bool, *Match, error) {
	if emb.IsEmpty() {
		return false, nil, nil
	}
	m, err := e.store.Nearest(ctx, emb)
	if err != nil {
		return false, nil, core.E(core.KindTransient, "association.duplicate", "nearest-neighbour lookup failed", err)
	}
	if m == nil {
		return false, nil, nil
	}
	if m.Similarity >= e.cfg.DuplicateThreshold {
		e.log.Info().Str("article_id", m.ArticleID).Str("title", m.Title).
			Float64("similarity", m.Similarity).Msg("Duplicate content detected")
		return true, m, nil
	}
	return false, m, nil
}

// DuplicateError builds the error raised for a duplicate match.
func DuplicateError(m *Match) error {
	return &core.Error{
		Kind: core.KindDuplicate,
		Op:   "association.duplicate",
		Msg:  fmt.Sprintf("similar to %q (%.3f)", m.Title, m.Similarity),
	}
}

// FindRelated returns up to k stored articles that share a tag with the new
// one and whose similarity exceeds the relevance floor. Ties on similarity go
// to the most recently published, then to more shared tiers, then to the
// lower id. k <= 0 uses the configured limit.
func (e *Engine) FindRelated(ctx context.Context, tags core.TagSet, emb core.Embedding, k int) ([]core.AssociationCandidate, error) {
	if k <= 0 {
		k = e.cfg.RelatedLimit
	}
	if tags.IsEmpty() || emb.IsEmpty() {
		return nil, nil
	}
	candidates, err := e.store.FindByTags(ctx, tags, emb, e.cfg.PrefilterLimit)
	if err != nil {
		return nil, core.E(core.KindTransient, "association.related", "tag-filtered lookup failed", err)
	}

	related := Rank(candidates, e.cfg.RelevanceFloor, k)
	e.log.Debug().Int("candidates", len(candidates)).Int("related", len(related)).Msg("Related articles ranked")
	return related, nil
}

// Rank filters candidates above floor and orders them.
func Rank(candidates []core.AssociationCandidate, floor float64, k int) []core.AssociationCandidate {
	var kept []core.AssociationCandidate
	for _, c := range candidates {
		if c.Similarity > floor {
			kept = append(kept, c)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		a, b := kept[i], kept[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if !a.PublishedAt.Equal(b.PublishedAt) {
			return a.PublishedAt.After(b.PublishedAt)
		}
		if a.SharedTags != b.SharedTags {
			return a.SharedTags > b.SharedTags
		}
		return a.ArticleID < b.ArticleID
	})
	if len(kept) > k {
		kept = kept[:k]
	}
	return kept
}
