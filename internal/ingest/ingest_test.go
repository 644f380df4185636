package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"blogpilot/internal/core"
	"blogpilot/internal/extract"
	"blogpilot/internal/tagging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var articleText = strings.Repeat("Vector databases index embeddings for similarity search. ", 3)

type fakeTagger struct {
	mu    sync.Mutex
	err   func(text string) error
	calls int
}

func (f *fakeTagger) Extract(_ context.Context, text string) (tagging.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		if err := f.err(text); err != nil {
			return tagging.Result{}, err
		}
	}
	return tagging.Result{
		Title:     "Vector Search Basics",
		Tags:      core.TagSet{Domain: []string{"tech"}, Field: []string{"databases"}, Topic: []string{"pgvector"}, ContentType: []string{"tutorial"}},
		Promo:     "How vector search works",
		Embedding: core.Embedding{Model: "gemini-embedding-001", Values: []float64{0.1, 0.2, 0.3}},
	}, nil
}

type fakeStore struct {
	byURL     map[string]*core.ArticleRecord
	lookupErr error
	insertErr error
	inserted  []core.ArticleRecord
}

func (s *fakeStore) Insert(_ context.Context, rec core.ArticleRecord) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	s.inserted = append(s.inserted, rec)
	return nil
}

func (s *fakeStore) ArticleByURL(_ context.Context, url string) (*core.ArticleRecord, error) {
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	return s.byURL[url], nil
}

func TestArticleStoresTaggedRecord(t *testing.T) {
	st := &fakeStore{}
	ing := New(&fakeTagger{}, st, extract.New(0))

	res := ing.Article(context.Background(), articleText, Options{URL: "https://blog/vector", Category: "Articles", CategoryID: 4})

	require.NoError(t, res.Err)
	assert.True(t, res.OK())
	assert.False(t, res.Existing)
	require.Len(t, st.inserted, 1)
	rec := st.inserted[0]
	assert.Equal(t, res.ArticleID, rec.ID)
	assert.Equal(t, "Vector Search Basics", rec.Title)
	assert.Equal(t, "https://blog/vector", rec.URL)
	assert.Equal(t, "Articles", rec.Category)
	assert.Equal(t, 4, rec.CategoryID)
	assert.Equal(t, []string{"pgvector"}, rec.Tags.Topic)
	assert.Equal(t, "gemini-embedding-001", rec.Embedding.Model)
	assert.Nil(t, rec.Series)
	assert.False(t, rec.PublishedAt.IsZero())
}

func TestArticleSkipsKnownURL(t *testing.T) {
	tagger := &fakeTagger{}
	st := &fakeStore{byURL: map[string]*core.ArticleRecord{
		"https://blog/vector": {ID: "a1", Title: "Vector Search Basics"},
	}}
	ing := New(tagger, st, extract.New(0))

	res := ing.Article(context.Background(), articleText, Options{URL: "https://blog/vector"})

	require.NoError(t, res.Err)
	assert.True(t, res.Existing)
	assert.Equal(t, "a1", res.ArticleID)
	assert.Equal(t, 0, tagger.calls)
	assert.Empty(t, st.inserted)
}

func TestArticleIngestsWhenURLLookupFails(t *testing.T) {
	st := &fakeStore{lookupErr: errors.New("connection reset")}
	ing := New(&fakeTagger{}, st, extract.New(0))

	res := ing.Article(context.Background(), articleText, Options{URL: "https://blog/vector"})

	require.NoError(t, res.Err)
	assert.Len(t, st.inserted, 1)
}

func TestArticleErrors(t *testing.T) {
	tests := []struct {
		name    string
		tagger  *fakeTagger
		store   *fakeStore
		wantErr string
	}{
		{
			name:    "tagging",
			tagger:  &fakeTagger{err: func(string) error { return errors.New("model unavailable") }},
			store:   &fakeStore{},
			wantErr: "tag extraction failed",
		},
		{
			name:    "store",
			tagger:  &fakeTagger{},
			store:   &fakeStore{insertErr: errors.New("disk full")},
			wantErr: "store write failed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := New(tt.tagger, tt.store, extract.New(0)).Article(context.Background(), articleText, Options{})

			require.Error(t, res.Err)
			assert.False(t, res.OK())
			assert.Contains(t, res.Err.Error(), tt.wantErr)
			assert.Empty(t, tt.store.inserted)
		})
	}
}

func TestDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.md"), []byte("# Vectors\n\n"+articleText), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte(articleText), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.txt"), []byte("too short"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.docx"), []byte(articleText), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))

	st := &fakeStore{}
	results, err := New(&fakeTagger{}, st, extract.New(0)).Directory(context.Background(), dir, Options{URL: "https://ignored"})

	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, filepath.Join(dir, "a.txt"), results[0].Path)
	assert.Equal(t, filepath.Join(dir, "b.md"), results[1].Path)
	assert.True(t, results[0].OK())
	assert.True(t, results[1].OK())
	assert.Error(t, results[2].Err)
	assert.Equal(t, "c.txt", results[2].Title)
	require.Len(t, st.inserted, 2)
	assert.Empty(t, st.inserted[0].URL)
}

func TestDirectoryStopsOnAuthFailure(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte(articleText), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte(articleText), 0o644))

	tagger := &fakeTagger{err: func(string) error { return core.E(core.KindAuth, "tagging.extract", "API key rejected", nil) }}
	results, err := New(tagger, &fakeStore{}, extract.New(0)).Directory(context.Background(), dir, Options{})

	assert.True(t, core.IsKind(err, core.KindAuth))
	assert.Len(t, results, 1)
	assert.Equal(t, 1, tagger.calls)
}

func TestDirectoryWithoutSupportedFiles(t *testing.T) {
	results, err := New(&fakeTagger{}, &fakeStore{}, extract.New(0)).Directory(context.Background(), t.TempDir(), Options{})
	require.NoError(t, err)
	assert.Empty(t, results)
}
