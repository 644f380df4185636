package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"blogpilot/internal/core"
	"blogpilot/internal/recommend"

	"github.com/lib/pq"
)

// ArticleByURL returns the article published at url, or nil when none is
// stored.
func (s *Store) ArticleByURL(ctx context.Context, url string) (*core.ArticleRecord, error) {
	var r core.ArticleRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, url, post_id, category, category_id, promo, published_at
		FROM articles
		WHERE url = $1
		ORDER BY published_at DESC
		LIMIT 1`, url,
	).Scan(&r.ID, &r.Title, &r.URL, &r.PostID, &r.Category, &r.CategoryID, &r.Promo, &r.PublishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("article lookup failed: %w", err)
	}
	tags, err := s.loadTags(ctx, []string{r.ID})
	if err != nil {
		return nil, err
	}
	r.Tags = tags[r.ID]
	return &r, nil
}

// Corpus returns every stored article with its tags and embedding, oldest
// first. Articles without an embedding carry a nil one.
func (s *Store) Corpus(ctx context.Context) ([]recommend.Article, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, published_at, COALESCE(embedding::text, '')
		FROM articles
		ORDER BY published_at, id`)
	if err != nil {
		return nil, fmt.Errorf("corpus query failed: %w", err)
	}
	defer rows.Close()

	var (
		out []recommend.Article
		ids []string
	)
	for rows.Next() {
		var (
			a   recommend.Article
			vec string
		)
		if err := rows.Scan(&a.ID, &a.Title, &a.PublishedAt, &vec); err != nil {
			return nil, fmt.Errorf("failed to scan article: %w", err)
		}
		if vec != "" {
			if a.Embedding, err = parseVector(vec); err != nil {
				return nil, err
			}
		}
		out = append(out, a)
		ids = append(ids, a.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tags, err := s.loadTags(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Tags = tags[out[i].ID]
	}
	return out, nil
}

// loadTags returns the tags of each article, alphabetical within a tier.
func (s *Store) loadTags(ctx context.Context, ids []string) (map[string]core.TagSet, error) {
	out := make(map[string]core.TagSet, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT article_id, tier, tag
		FROM article_tags
		WHERE article_id = ANY($1::uuid[])
		ORDER BY article_id, tier, tag`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("tag query failed: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, tier, tag string
		if err := rows.Scan(&id, &tier, &tag); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		ts := out[id]
		ts.Set(core.Tier(tier), append(ts.Get(core.Tier(tier)), tag))
		out[id] = ts
	}
	return out, rows.Err()
}
