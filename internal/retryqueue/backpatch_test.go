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

func sampleBackpatch(postID int64) Backpatch {
	return Backpatch{
		Decision: core.SeriesDecision{
			SeriesID: "s1", SeriesTitle: "Deep Dive", Order: 2,
			Previous: &core.SeriesMember{ArticleID: "a1", PostID: 41, Order: 1, Title: "Part 1"},
		},
		Title:     "Part 2: Deep Dive",
		Published: core.PublishResult{PostID: postID, URL: "https://blog/part-2", OK: true},
	}
}

func TestBackpatchSaveAndDone(t *testing.T) {
	q := NewBackpatchQueue(t.TempDir(), 0)

	require.NoError(t, q.Save(sampleBackpatch(42)))
	require.NoError(t, q.Save(sampleBackpatch(42)))
	assert.Equal(t, 1, q.Len())
	assert.FileExists(t, q.PathFor(42))

	q.Done(42)
	assert.Equal(t, 0, q.Len())
	q.Done(42)
}

func TestBackpatchSaveRequiresPrevious(t *testing.T) {
	q := NewBackpatchQueue(t.TempDir(), 0)
	bp := sampleBackpatch(42)
	bp.Decision.Previous = nil

	assert.Error(t, q.Save(bp))
	assert.Equal(t, 0, q.Len())
}

func TestBackpatchDrain(t *testing.T) {
	dir := t.TempDir()
	q := NewBackpatchQueue(dir, 2)
	require.NoError(t, q.Save(sampleBackpatch(42)))
	require.NoError(t, q.Save(sampleBackpatch(43)))
	require.NoError(t, os.WriteFile(filepath.Join(dir, BackpatchDirName, "broken.json"), []byte("{"), 0o644))

	handler := func(_ context.Context, bp Backpatch) error {
		if bp.Published.PostID == 43 {
			return errors.New("wordpress unavailable")
		}
		assert.Equal(t, int64(41), bp.Decision.Previous.PostID)
		return nil
	}

	sum, err := q.Drain(context.Background(), handler)
	require.NoError(t, err)
	assert.Equal(t, Summary{Stored: 1, Failed: 1, Purged: 1}, sum)
	assert.Equal(t, 1, q.Len())

	bp, err := readBackpatch(q.PathFor(43))
	require.NoError(t, err)
	assert.Equal(t, 1, bp.AttemptCount)
	assert.Equal(t, "wordpress unavailable", bp.LastError)

	sum, err = q.Drain(context.Background(), handler)
	require.NoError(t, err)
	assert.Equal(t, Summary{Dropped: 1}, sum)
	assert.Equal(t, 0, q.Len())
}
