package retryqueue

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"blogpilot/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleArticle() core.ArticleRecord {
	return core.ArticleRecord{
		Title:      "Part 2: Deep Dive",
		URL:        "https://blog/part-2",
		PostID:     42,
		Category:   "Articles",
		CategoryID: 7,
		Promo:      "A promo line",
		Tags:       core.TagSet{Domain: []string{"tech"}, Topic: []string{"go"}},
		Embedding:  core.Embedding{Model: "m", Values: []float64{1, 2, 3}},
		Series: &core.SeriesDecision{
			SeriesID: "s1", SeriesTitle: "Deep Dive", Order: 2, Create: true,
			Previous: &core.SeriesMember{ArticleID: "a1", Order: 1},
		},
	}
}

func TestSaveAndRebuild(t *testing.T) {
	q := New(t.TempDir(), 0)
	rec := FromArticle("/in/Articles/Go_7/x.md", sampleArticle(), errors.New("db down"))

	path, err := q.Save(rec)
	require.NoError(t, err)
	assert.Equal(t, q.PathFor(rec.Title), path)
	assert.Len(t, filepath.Base(path), len("123456789abc.json"))
	assert.Equal(t, 3, rec.EmbeddingRef.Dimensions)
	assert.Equal(t, Hash("A promo line"), rec.EmbeddingRef.SourceSHA256)

	art, err := rec.Article()
	require.NoError(t, err)
	assert.Equal(t, []string{"tech"}, art.Tags.Domain)
	assert.Equal(t, int64(42), art.PostID)
	require.NotNil(t, art.Series)
	assert.True(t, art.Series.Create)
	assert.Equal(t, "a1", art.Series.Previous.ArticleID)
	assert.True(t, art.Embedding.IsEmpty())
}

func TestDrain(t *testing.T) {
	dir := t.TempDir()
	q := New(dir, 2)

	_, err := q.Save(FromArticle("", sampleArticle(), nil))
	require.NoError(t, err)
	untagged := sampleArticle()
	untagged.Title = "No tags"
	untagged.Tags = core.TagSet{}
	_, err = q.Save(FromArticle("", untagged, nil))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(q.Dir(), "broken.json"), []byte("{"), 0o644))
	assert.Equal(t, 3, q.Len())

	failing := func(context.Context, Record) error { return errors.New("still down") }
	sum, err := q.Drain(context.Background(), failing)
	require.NoError(t, err)
	assert.Equal(t, Summary{Failed: 1, Purged: 2}, sum)
	assert.Equal(t, 1, q.Len())

	kept, err := readRecord(q.PathFor("Part 2: Deep Dive"))
	require.NoError(t, err)
	assert.Equal(t, 1, kept.AttemptCount)
	assert.Equal(t, "still down", kept.LastError)

	sum, err = q.Drain(context.Background(), failing)
	require.NoError(t, err)
	assert.Equal(t, Summary{Dropped: 1}, sum)
	assert.Equal(t, 0, q.Len())
}

func TestDrainStores(t *testing.T) {
	q := New(t.TempDir(), 0)
	_, err := q.Save(FromArticle("", sampleArticle(), nil))
	require.NoError(t, err)

	var got []string
	sum, err := q.Drain(context.Background(), func(_ context.Context, r Record) error {
		got = append(got, r.Title)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Stored)
	assert.Equal(t, []string{"Part 2: Deep Dive"}, got)
	assert.Equal(t, 0, q.Len())
}

func TestDrainMissingDir(t *testing.T) {
	q := New(filepath.Join(t.TempDir(), "nope"), 0)
	sum, err := q.Drain(context.Background(), func(context.Context, Record) error { return nil })
	require.NoError(t, err)
	assert.Zero(t, sum)
}
