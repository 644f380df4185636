package association

import (
	"context"
	"errors"
	"testing"
	"time"

	"blogpilot/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	nearest    *Match
	candidates []core.AssociationCandidate
	err        error
}

func (f *fakeStore) Nearest(context.Context, core.Embedding) (*Match, error) {
	return f.nearest, f.err
}

func (f *fakeStore) FindByTags(context.Context, core.TagSet, core.Embedding, int) ([]core.AssociationCandidate, error) {
	return f.candidates, f.err
}

var emb = core.Embedding{Model: "m", Values: []float64{1, 0}}

func TestIsDuplicateBoundary(t *testing.T) {
	tests := []struct {
		similarity float64
		want       bool
	}{
		{0.95, true},
		{0.97, true},
		{0.94, false},
		{0.9499, false},
	}
	for _, tt := range tests {
		e := NewEngine(&fakeStore{nearest: &Match{ArticleID: "a", Similarity: tt.similarity}}, Config{})
		dup, m, err := e.IsDuplicate(context.Background(), emb)
		require.NoError(t, err)
		assert.Equal(t, tt.want, dup, "similarity %.4f", tt.similarity)
		assert.NotNil(t, m)
	}
}

func TestIsDuplicateEmptyStoreAndEmbedding(t *testing.T) {
	e := NewEngine(&fakeStore{}, Config{})
	dup, m, err := e.IsDuplicate(context.Background(), emb)
	require.NoError(t, err)
	assert.False(t, dup)
	assert.Nil(t, m)

	dup, _, err = e.IsDuplicate(context.Background(), core.Embedding{})
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestIsDuplicateStoreError(t *testing.T) {
	e := NewEngine(&fakeStore{err: errors.New("db down")}, Config{})
	_, _, err := e.IsDuplicate(context.Background(), emb)
	assert.True(t, core.IsKind(err, core.KindTransient))
}

func TestDuplicateError(t *testing.T) {
	err := DuplicateError(&Match{Title: "Old", Similarity: 0.96})
	assert.True(t, core.IsKind(err, core.KindDuplicate))
	assert.False(t, core.IsRetryable(err))
}

func TestFindRelatedRanking(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{candidates: []core.AssociationCandidate{
		{ArticleID: "below", Similarity: 0.70, PublishedAt: now},
		{ArticleID: "old", Similarity: 0.80, SharedTags: 4, PublishedAt: now.Add(-48 * time.Hour)},
		{ArticleID: "new", Similarity: 0.80, SharedTags: 1, PublishedAt: now},
		{ArticleID: "top", Similarity: 0.90, PublishedAt: now.Add(-time.Hour)},
		{ArticleID: "b", Similarity: 0.75, SharedTags: 2, PublishedAt: now},
		{ArticleID: "a", Similarity: 0.75, SharedTags: 2, PublishedAt: now},
		{ArticleID: "more-tags", Similarity: 0.75, SharedTags: 3, PublishedAt: now},
	}}
	e := NewEngine(store, Config{})

	got, err := e.FindRelated(context.Background(), core.TagSet{Topic: []string{"go"}}, emb, 0)
	require.NoError(t, err)

	var ids []string
	for _, c := range got {
		ids = append(ids, c.ArticleID)
	}
	assert.Equal(t, []string{"top", "new", "old", "more-tags", "a"}, ids)
}

func TestFindRelatedSkipsWithoutTags(t *testing.T) {
	e := NewEngine(&fakeStore{candidates: []core.AssociationCandidate{{ArticleID: "x", Similarity: 0.99}}}, Config{})
	got, err := e.FindRelated(context.Background(), core.TagSet{}, emb, 3)
	require.NoError(t, err)
	assert.Empty(t, got)
}
