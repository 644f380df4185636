package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"blogpilot/internal/association"
	"blogpilot/internal/core"
	"blogpilot/internal/series"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ErrSeriesConflict is returned when the article that should start a new
// series was linked to another series in the meantime.
var ErrSeriesConflict = errors.New("previous article already belongs to a series")

// Insert writes the article, its tags, its series link and its review log in
// one transaction. A series marked Create is inserted first and the previous
// article becomes its first member.
func (s *Store) Insert(ctx context.Context, rec core.ArticleRecord) (err error) {
	if rec.Embedding.IsEmpty() || rec.Embedding.Model == "" {
		return core.E(core.KindPersistence, "store.insert", "embedding with model is required", nil)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.PublishedAt.IsZero() {
		rec.PublishedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.E(core.KindPersistence, "store.insert", "failed to begin transaction", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var seriesID any
	var seriesOrder any
	if dec := rec.Series; dec != nil {
		if dec.Create {
			if err = createSeries(ctx, tx, dec); err != nil {
				return err
			}
		}
		seriesID, seriesOrder = dec.SeriesID, dec.Order
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO articles (
			id, title, url, post_id, category, category_id, promo,
			embedding, embedding_model, series_id, series_order, published_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::vector, $9, $10, $11, $12)`,
		rec.ID, rec.Title, rec.URL, rec.PostID, rec.Category, rec.CategoryID, rec.Promo,
		formatVector(rec.Embedding.Values), rec.Embedding.Model, seriesID, seriesOrder, rec.PublishedAt,
	)
	if err != nil {
		return core.E(core.KindPersistence, "store.insert", "failed to insert article", err)
	}

	if err = insertTags(ctx, tx, rec.ID, rec.Tags); err != nil {
		return err
	}
	for _, rv := range rec.Reviews {
		if err = insertReview(ctx, tx, rec.ID, rv); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return core.E(core.KindPersistence, "store.insert", "failed to commit", err)
	}
	s.log.Info().Str("article_id", rec.ID).Str("title", rec.Title).Int64("post_id", rec.PostID).Msg("Article stored")
	return nil
}

func createSeries(ctx context.Context, tx *sql.Tx, dec *core.SeriesDecision) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO series (id, title, title_pattern) VALUES ($1, $2, $3)`,
		dec.SeriesID, dec.SeriesTitle, dec.TitlePattern)
	if err != nil {
		return core.E(core.KindPersistence, "store.insert", "failed to create series", err)
	}
	if dec.Previous == nil || dec.Previous.ArticleID == "" {
		return nil
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE articles SET series_id = $1, series_order = 1 WHERE id = $2 AND series_id IS NULL`,
		dec.SeriesID, dec.Previous.ArticleID)
	if err != nil {
		return core.E(core.KindPersistence, "store.insert", "failed to link first series member", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.E(core.KindPersistence, "store.insert", dec.Previous.ArticleID, ErrSeriesConflict)
	}
	return nil
}

func insertTags(ctx context.Context, q querier, articleID string, tags core.TagSet) error {
	if tags.IsEmpty() {
		return nil
	}
	ins := psql.Insert("article_tags").Columns("article_id", "tier", "tag").Suffix("ON CONFLICT DO NOTHING")
	for _, tier := range core.Tiers {
		for _, tag := range tags.Get(tier) {
			ins = ins.Values(articleID, string(tier), tag)
		}
	}
	query, args, err := ins.ToSql()
	if err != nil {
		return core.E(core.KindPersistence, "store.insert", "failed to build tag insert", err)
	}
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return core.E(core.KindPersistence, "store.insert", "failed to insert tags", err)
	}
	return nil
}

func insertReview(ctx context.Context, q querier, articleID string, rv core.QualityReview) error {
	issues, err := json.Marshal(rv.Issues)
	if err != nil {
		return core.E(core.KindPersistence, "store.review", "failed to encode issues", err)
	}
	if rv.Issues == nil {
		issues = []byte("[]")
	}
	var aid any
	if articleID != "" {
		aid = articleID
	}
	reviewedAt := rv.ReviewedAt
	if reviewedAt.IsZero() {
		reviewedAt = time.Now().UTC()
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO quality_reviews (
			article_id, title, category, attempt, consistency, readability, artificiality,
			composite, verdict, degraded, error, summary, issues, reviewed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		aid, rv.Title, rv.Category, rv.Attempt, rv.Consistency, rv.Readability, rv.Artificiality,
		rv.Composite, string(rv.Verdict), rv.Degraded, rv.Error, rv.Summary, string(issues), reviewedAt,
	)
	if err != nil {
		return core.E(core.KindPersistence, "store.review", "failed to insert review", err)
	}
	return nil
}

// AppendReviews logs reviews that belong to no stored article, such as the
// reviews of a draft.
func (s *Store) AppendReviews(ctx context.Context, reviews []core.QualityReview) error {
	for _, rv := range reviews {
		if err := insertReview(ctx, s.db, "", rv); err != nil {
			return err
		}
	}
	return nil
}

// Nearest returns the stored article closest to emb among embeddings of the
// same model.
func (s *Store) Nearest(ctx context.Context, emb core.Embedding) (*association.Match, error) {
	var m association.Match
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, url, 1 - (embedding <=> $1::vector) AS similarity
		FROM articles
		WHERE embedding IS NOT NULL AND embedding_model = $2
		ORDER BY embedding <=> $1::vector
		LIMIT 1`,
		formatVector(emb.Values), emb.Model,
	).Scan(&m.ArticleID, &m.Title, &m.URL, &m.Similarity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("nearest-neighbour query failed: %w", err)
	}
	return &m, nil
}

// FindByTags returns articles sharing at least one tag with tags, most shared
// tiers first, with similarity against emb computed in the database.
func (s *Store) FindByTags(ctx context.Context, tags core.TagSet, emb core.Embedding, limit int) ([]core.AssociationCandidate, error) {
	filter := tagFilter(tags)
	if len(filter) == 0 {
		return nil, nil
	}
	query, args, err := psql.
		Select("a.id", "a.title", "a.url", "a.promo", "a.published_at").
		Column(sq.Expr("1 - (a.embedding <=> ?::vector) AS similarity", formatVector(emb.Values))).
		Column("COUNT(DISTINCT t.tier) AS shared_tiers").
		From("articles a").
		Join("article_tags t ON t.article_id = a.id").
		Where("a.embedding IS NOT NULL").
		Where(sq.Eq{"a.embedding_model": emb.Model}).
		Where(filter).
		GroupBy("a.id").
		OrderBy("shared_tiers DESC", "a.published_at DESC").
		Limit(uint64(max(limit, 1))).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build tag query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("tag-filtered query failed: %w", err)
	}
	defer rows.Close()

	var out []core.AssociationCandidate
	for rows.Next() {
		var c core.AssociationCandidate
		if err := rows.Scan(&c.ArticleID, &c.Title, &c.URL, &c.Promo, &c.PublishedAt, &c.Similarity, &c.SharedTags); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SeriesCandidates returns the series, and the standalone articles, published
// since the given time whose tags overlap tags in at least minTiers tiers.
// Each series carries all of its members in order.
func (s *Store) SeriesCandidates(ctx context.Context, tags core.TagSet, since time.Time, minTiers int) ([]series.Candidate, error) {
	filter := tagFilter(tags)
	if len(filter) == 0 {
		return nil, nil
	}
	query, args, err := psql.
		Select("a.id", "a.series_id").
		From("articles a").
		Join("article_tags t ON t.article_id = a.id").
		Where(sq.GtOrEq{"a.published_at": since}).
		Where(filter).
		GroupBy("a.id").
		Having("COUNT(DISTINCT t.tier) >= ?", minTiers).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build series query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("series candidate query failed: %w", err)
	}
	var standaloneIDs, seriesIDs []string
	seen := map[string]bool{}
	for rows.Next() {
		var id string
		var sid sql.NullString
		if err := rows.Scan(&id, &sid); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan series candidate: %w", err)
		}
		switch {
		case !sid.Valid:
			standaloneIDs = append(standaloneIDs, id)
		case !seen[sid.String]:
			seen[sid.String] = true
			seriesIDs = append(seriesIDs, sid.String)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(standaloneIDs) == 0 && len(seriesIDs) == 0 {
		return nil, nil
	}
	return s.loadCandidates(ctx, seriesIDs, standaloneIDs)
}

func (s *Store) loadCandidates(ctx context.Context, seriesIDs, standaloneIDs []string) ([]series.Candidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.title, a.url, a.post_id, a.series_id, COALESCE(a.series_order, 0),
		       COALESCE(s.title, ''), a.published_at, a.embedding::text, a.embedding_model
		FROM articles a
		LEFT JOIN series s ON s.id = a.series_id
		WHERE a.embedding IS NOT NULL
		  AND (a.series_id = ANY($1::uuid[]) OR a.id = ANY($2::uuid[]))
		ORDER BY a.series_id NULLS LAST, a.series_order, a.published_at`,
		pq.Array(seriesIDs), pq.Array(standaloneIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("series member query failed: %w", err)
	}
	defer rows.Close()

	var out []series.Candidate
	index := map[string]int{}
	for rows.Next() {
		var (
			m      core.SeriesMember
			sid    sql.NullString
			stitle string
			vec    string
			model  string
		)
		if err := rows.Scan(&m.ArticleID, &m.Title, &m.URL, &m.PostID, &sid, &m.Order, &stitle, &m.CreatedAt, &vec, &model); err != nil {
			return nil, fmt.Errorf("failed to scan series member: %w", err)
		}
		values, err := parseVector(vec)
		if err != nil {
			return nil, err
		}
		emb := core.Embedding{Model: model, Values: values}

		if !sid.Valid {
			out = append(out, series.Candidate{Members: []core.SeriesMember{m}, Embeddings: []core.Embedding{emb}})
			continue
		}
		i, ok := index[sid.String]
		if !ok {
			i = len(out)
			index[sid.String] = i
			out = append(out, series.Candidate{SeriesID: sid.String, SeriesTitle: stitle})
		}
		out[i].Members = append(out[i].Members, m)
		out[i].Embeddings = append(out[i].Embeddings, emb)
	}
	return out, rows.Err()
}

// ListRecent returns the most recently published articles.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]core.ArticleRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.title, a.url, a.post_id, a.category, a.category_id, a.promo,
		       a.series_id, COALESCE(a.series_order, 0), COALESCE(s.title, ''), a.published_at
		FROM articles a
		LEFT JOIN series s ON s.id = a.series_id
		ORDER BY a.published_at DESC
		LIMIT $1`, max(limit, 1))
	if err != nil {
		return nil, fmt.Errorf("recent articles query failed: %w", err)
	}
	defer rows.Close()

	var out []core.ArticleRecord
	for rows.Next() {
		var (
			r      core.ArticleRecord
			sid    sql.NullString
			order  int
			stitle string
		)
		if err := rows.Scan(&r.ID, &r.Title, &r.URL, &r.PostID, &r.Category, &r.CategoryID, &r.Promo,
			&sid, &order, &stitle, &r.PublishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan article: %w", err)
		}
		if sid.Valid {
			r.Series = &core.SeriesDecision{SeriesID: sid.String, SeriesTitle: stitle, Order: order}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Stats counts stored rows.
type Stats struct {
	Articles int `json:"articles"`
	Series   int `json:"series"`
	Reviews  int `json:"reviews"`
	Drafts   int `json:"drafts"`
}

// Stats returns row counts for the status endpoint.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM articles),
			(SELECT COUNT(*) FROM series),
			(SELECT COUNT(*) FROM quality_reviews),
			(SELECT COUNT(*) FROM quality_reviews WHERE verdict = 'draft')`,
	).Scan(&st.Articles, &st.Series, &st.Reviews, &st.Drafts)
	if err != nil {
		return Stats{}, fmt.Errorf("stats query failed: %w", err)
	}
	return st, nil
}
