package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"blogpilot/internal/association"
	"blogpilot/internal/core"
	"blogpilot/internal/extract"
	"blogpilot/internal/lock"
	"blogpilot/internal/prompts"
	"blogpilot/internal/quality"
	"blogpilot/internal/retry"
	"blogpilot/internal/retryqueue"
	"blogpilot/internal/scanner"
	"blogpilot/internal/store"
	"blogpilot/internal/tagging"
	"blogpilot/internal/writer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sourceText = strings.Repeat("Generics let Go code stay typed and reusable. ", 5)

type fakeWriter struct {
	mu         sync.Mutex
	article    writer.Article
	rewritten  writer.Article
	genErr     error
	rewriteReq []writer.RewriteRequest
}

func (w *fakeWriter) GenerateArticle(_ context.Context, _ writer.ArticleRequest) (writer.Article, error) {
	if w.genErr != nil {
		return writer.Article{}, w.genErr
	}
	return w.article, nil
}

func (w *fakeWriter) Rewrite(_ context.Context, req writer.RewriteRequest) (writer.Article, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rewriteReq = append(w.rewriteReq, req)
	return w.rewritten, nil
}

func (w *fakeWriter) Promo(_ context.Context, title, _, hashtag string) (string, error) {
	return title + " " + hashtag, nil
}

func (w *fakeWriter) SEO(_ context.Context, _, _ string) (*core.SEOMeta, error) {
	return &core.SEOMeta{Slug: "go-generics"}, nil
}

type fakePublisher struct {
	mu         sync.Mutex
	publishErr error
	updateErr  error
	calls      int
	nextID     int64
	posts      map[int64]string
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{nextID: 100, posts: map[int64]string{}}
}

func (p *fakePublisher) Publish(_ context.Context, draft core.ArticleDraft) (core.PublishResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.publishErr != nil {
		return core.PublishResult{}, p.publishErr
	}
	p.nextID++
	p.posts[p.nextID] = draft.HTML
	return core.PublishResult{PostID: p.nextID, URL: "https://blog.example/?p=" + draft.Title, OK: true}, nil
}

func (p *fakePublisher) Content(_ context.Context, postID int64) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.posts[postID], nil
}

func (p *fakePublisher) UpdateContent(_ context.Context, postID int64, html string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.updateErr != nil {
		return p.updateErr
	}
	p.posts[postID] = html
	return nil
}

func (p *fakePublisher) UploadMedia(_ context.Context, _, _ string, _ []byte) (int64, error) {
	return 9, nil
}

type fakeTagger struct {
	result tagging.Result
	err    error
}

func (f *fakeTagger) Extract(_ context.Context, _ string) (tagging.Result, error) {
	if f.err != nil {
		return tagging.Result{}, f.err
	}
	return f.result, nil
}

func (f *fakeTagger) Embed(_ context.Context, _ string) (core.Embedding, error) {
	return f.result.Embedding, nil
}

type fakeAssociator struct {
	match      *association.Match
	related    []core.AssociationCandidate
	dupErr     error
	relatedErr error
}

func (f *fakeAssociator) IsDuplicate(_ context.Context, _ core.Embedding) (bool, *association.Match, error) {
	if f.dupErr != nil {
		return false, nil, f.dupErr
	}
	return f.match != nil, f.match, nil
}

func (f *fakeAssociator) FindRelated(_ context.Context, _ core.TagSet, _ core.Embedding, _ int) ([]core.AssociationCandidate, error) {
	if f.relatedErr != nil {
		return nil, f.relatedErr
	}
	return f.related, nil
}

type seriesFunc func() (*core.SeriesDecision, error)

func (f seriesFunc) Detect(_ context.Context, _ core.TagSet, _ core.Embedding, _ string) (*core.SeriesDecision, error) {
	return f()
}

type fakeStore struct {
	mu        sync.Mutex
	insertErr func(rec core.ArticleRecord) error
	attempts  int
	inserted  []core.ArticleRecord
	reviews   []core.QualityReview
}

func (s *fakeStore) Insert(_ context.Context, rec core.ArticleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.insertErr != nil {
		if err := s.insertErr(rec); err != nil {
			return err
		}
	}
	s.inserted = append(s.inserted, rec)
	return nil
}

func (s *fakeStore) AppendReviews(_ context.Context, reviews []core.QualityReview) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reviews = append(s.reviews, reviews...)
	return nil
}

type gateFunc func(ctx context.Context, article writer.Article, rewrite quality.Rewriter) (quality.Outcome, error)

func (f gateFunc) Run(ctx context.Context, article writer.Article, _, _ string, rewrite quality.Rewriter) (quality.Outcome, error) {
	return f(ctx, article, rewrite)
}

type fakePromoter struct {
	promos []string
	links  []string
}

func (f *fakePromoter) Promote(_ context.Context, promo, link string) error {
	f.promos = append(f.promos, promo)
	f.links = append(f.links, link)
	return nil
}

type fixture struct {
	root   string
	input  string
	writer *fakeWriter
	pub    *fakePublisher
	p      *Pipeline
}

func newFixture(t *testing.T, mutate func(f *fixture, c *Components)) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		root:   root,
		input:  filepath.Join(root, "input"),
		writer: &fakeWriter{article: writer.Article{Title: "Go Generics in Practice", HTML: "<p>Body</p>"}},
		pub:    newFakePublisher(),
	}
	locker, err := lock.NewFileLocker(filepath.Join(root, "data", "locks"))
	require.NoError(t, err)

	c := Components{
		Resolver:  scanner.NewResolver(f.input, nil),
		Locker:    locker,
		Extractor: extract.New(extract.MinTextLength),
		Writer:    f.writer,
		Publisher: f.pub,
	}
	if mutate != nil {
		mutate(f, &c)
	}
	p, err := NewPipeline(c, &Config{
		InputDir:      f.input,
		ProcessedDir:  filepath.Join(root, "processed"),
		DraftsDir:     filepath.Join(root, "drafts"),
		ReviewDir:     filepath.Join(root, "review"),
		PublishPolicy: retry.Policy{Attempts: 2, Base: time.Millisecond, Cap: time.Millisecond},
	})
	require.NoError(t, err)
	f.p = p
	return f
}

func (f *fixture) submit(t *testing.T, name, content string) string {
	t.Helper()
	dir := filepath.Join(f.input, "News", "Tech_3")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (f *fixture) dir(parts ...string) string {
	return filepath.Join(append([]string{f.root}, parts...)...)
}

func taggedResult() tagging.Result {
	return tagging.Result{
		Title:     "Generics",
		Tags:      core.TagSet{Domain: []string{"programming"}, Topic: []string{"generics"}},
		Promo:     "Typed reuse in Go",
		Embedding: core.Embedding{Model: "text-embedding-004", Values: []float64{0.1, 0.2, 0.3}},
	}
}

func withStore(st *fakeStore, assoc *fakeAssociator) func(*fixture, *Components) {
	return func(f *fixture, c *Components) {
		c.Tagger = &fakeTagger{result: taggedResult()}
		c.Associator = assoc
		c.Store = st
		c.Queue = retryqueue.New(f.dir("data"), 3)
		c.Backpatches = retryqueue.NewBackpatchQueue(f.dir("data"), 3)
	}
}

func continuation() *core.SeriesDecision {
	return &core.SeriesDecision{
		SeriesID: "s1", SeriesTitle: "Go Generics", Order: 2, ConfirmedBy: "similarity",
		Previous: &core.SeriesMember{ArticleID: "a1", PostID: 41, Order: 1, Title: "Part 1", URL: "https://blog.example/part-1"},
	}
}

func TestWindow(t *testing.T) {
	tests := []struct {
		name   string
		window Window
		hour   int
		want   bool
	}{
		{"disabled", Window{Enabled: false, Start: 8, End: 22}, 3, true},
		{"inside daytime", Window{Enabled: true, Start: 8, End: 22}, 8, true},
		{"end is exclusive", Window{Enabled: true, Start: 8, End: 22}, 22, false},
		{"wrapping late", Window{Enabled: true, Start: 22, End: 6}, 23, true},
		{"wrapping early", Window{Enabled: true, Start: 22, End: 6}, 2, true},
		{"wrapping closed", Window{Enabled: true, Start: 22, End: 6}, 10, false},
		{"equal bounds", Window{Enabled: true, Start: 5, End: 5}, 17, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.window.OpenHour(tt.hour))
			at := time.Date(2026, 3, 1, tt.hour, 30, 0, 0, time.Local)
			assert.Equal(t, tt.want, tt.window.OpenAt(at))
		})
	}
}

func TestNewPipelineRequiresComponents(t *testing.T) {
	_, err := NewPipeline(Components{}, nil)
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindConfig))
}

func TestProcessFilePublishesAndArchives(t *testing.T) {
	f := newFixture(t, nil)
	f.writer.article.HTML = `<p onclick="steal()">Body</p><script>alert(1)</script>`
	src := f.submit(t, "notes.md", sourceText)

	res := f.p.ProcessFile(context.Background(), src)

	require.NoError(t, res.Err)
	assert.Equal(t, OutcomePublished, res.Outcome)
	assert.Equal(t, int64(101), res.PostID)
	assert.Equal(t, f.dir("processed", "News", "Tech_3", "Go Generics in Practice.md"), res.MovedTo)
	assert.NoFileExists(t, src)
	assert.FileExists(t, res.MovedTo)

	html := f.pub.posts[101]
	assert.Contains(t, html, "Body")
	assert.NotContains(t, html, "script")
	assert.NotContains(t, html, "onclick")
}

func TestProcessFileStoreBacked(t *testing.T) {
	st := &fakeStore{}
	promoter := &fakePromoter{}
	f := newFixture(t, func(f *fixture, c *Components) {
		withStore(st, &fakeAssociator{})(f, c)
		c.Promoter = promoter
	})
	src := f.submit(t, "notes.md", sourceText)

	res := f.p.ProcessFile(context.Background(), src)

	require.NoError(t, res.Err)
	assert.Equal(t, OutcomePublished, res.Outcome)
	assert.False(t, res.Deferred)
	require.Len(t, st.inserted, 1)
	rec := st.inserted[0]
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "Go Generics in Practice", rec.Title)
	assert.Equal(t, 3, rec.CategoryID)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, rec.Embedding.Values)
	assert.Equal(t, "Typed reuse in Go", rec.Promo)

	require.Len(t, promoter.links, 1)
	assert.Equal(t, res.URL, promoter.links[0])
	assert.Contains(t, promoter.promos[0], "#News_Tech")
}

func TestDuplicateArchivesUnderOriginalName(t *testing.T) {
	st := &fakeStore{}
	f := newFixture(t, withStore(st, &fakeAssociator{
		match: &association.Match{ArticleID: "a1", Title: "Generics Explained", Similarity: 0.97},
	}))
	src := f.submit(t, "notes.md", sourceText)

	res := f.p.ProcessFile(context.Background(), src)

	assert.Equal(t, OutcomeDuplicate, res.Outcome)
	assert.Equal(t, 0, f.pub.calls)
	assert.Equal(t, f.dir("processed", "News", "Tech_3", "notes.md"), res.MovedTo)
	assert.Contains(t, res.Reason, "Generics Explained")
	assert.True(t, core.IsKind(res.Err, core.KindDuplicate))
	assert.Empty(t, st.inserted)
}

func TestRelatedLookupFailurePublishesWithoutAssociations(t *testing.T) {
	st := &fakeStore{}
	f := newFixture(t, withStore(st, &fakeAssociator{
		relatedErr: core.E(core.KindTransient, "store.find_by_tags", "query failed", errors.New("pgvector: connection reset")),
	}))
	src := f.submit(t, "notes.md", sourceText)

	res := f.p.ProcessFile(context.Background(), src)

	require.NoError(t, res.Err)
	assert.Equal(t, OutcomePublished, res.Outcome)
	assert.Equal(t, 1, f.pub.calls)
	assert.Nil(t, res.Series)
	require.Len(t, st.inserted, 1)
	assert.False(t, st.inserted[0].Tags.IsEmpty())
	assert.NoFileExists(t, src)
}

func TestTaggingFailurePublishesUntagged(t *testing.T) {
	st := &fakeStore{}
	f := newFixture(t, func(f *fixture, c *Components) {
		withStore(st, &fakeAssociator{})(f, c)
		c.Tagger = &fakeTagger{err: core.E(core.KindTransient, "tagging.extract", "model unavailable", nil)}
	})
	src := f.submit(t, "notes.md", sourceText)

	res := f.p.ProcessFile(context.Background(), src)

	require.NoError(t, res.Err)
	assert.Equal(t, OutcomePublished, res.Outcome)
	assert.Equal(t, 1, f.pub.calls)
	// nothing to store without an embedding
	assert.Empty(t, st.inserted)
}

func TestTaggingAuthFailureIsFatal(t *testing.T) {
	f := newFixture(t, func(f *fixture, c *Components) {
		withStore(&fakeStore{}, &fakeAssociator{})(f, c)
		c.Tagger = &fakeTagger{err: core.E(core.KindAuth, "tagging.extract", "API key rejected", nil)}
	})
	src := f.submit(t, "notes.md", sourceText)

	res := f.p.ProcessFile(context.Background(), src)

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, 0, f.pub.calls)
	assert.FileExists(t, src)
}

func TestDuplicateCheckFailureDefers(t *testing.T) {
	f := newFixture(t, withStore(&fakeStore{}, &fakeAssociator{
		dupErr: core.E(core.KindTransient, "association.duplicate", "nearest-neighbour lookup failed", nil),
	}))
	src := f.submit(t, "notes.md", sourceText)

	res := f.p.ProcessFile(context.Background(), src)

	assert.Equal(t, OutcomeDeferred, res.Outcome)
	assert.Equal(t, 0, f.pub.calls)
	assert.FileExists(t, src)
}

func TestQualityDraftSavesForReview(t *testing.T) {
	st := &fakeStore{}
	f := newFixture(t, func(f *fixture, c *Components) {
		withStore(st, &fakeAssociator{})(f, c)
		c.Gate = gateFunc(func(_ context.Context, a writer.Article, _ quality.Rewriter) (quality.Outcome, error) {
			return quality.Outcome{
				Article: a,
				Verdict: core.VerdictDraft,
				Reviews: []core.QualityReview{{Title: a.Title, Composite: 3.2, Verdict: core.VerdictDraft}},
			}, nil
		})
	})
	src := f.submit(t, "notes.md", sourceText)

	res := f.p.ProcessFile(context.Background(), src)

	require.NoError(t, res.Err)
	assert.Equal(t, OutcomeDraft, res.Outcome)
	assert.Equal(t, 0, f.pub.calls)
	assert.Contains(t, res.Reason, "3.2")
	assert.Equal(t, f.dir("review", "News", "Tech_3", "notes.md"), res.MovedTo)

	data, err := os.ReadFile(res.DraftPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "<!-- title: Go Generics in Practice -->"))
	assert.Len(t, st.reviews, 1)
	assert.Empty(t, st.inserted)
}

func TestDegradedReviewStillPublishes(t *testing.T) {
	f := newFixture(t, func(_ *fixture, c *Components) {
		c.Gate = gateFunc(func(_ context.Context, a writer.Article, _ quality.Rewriter) (quality.Outcome, error) {
			return quality.Outcome{
				Article: a,
				Verdict: core.VerdictApprove,
				Reviews: []core.QualityReview{{Verdict: core.VerdictApprove, Degraded: true, Error: "reviewer timeout"}},
			}, nil
		})
	})
	src := f.submit(t, "notes.md", sourceText)

	res := f.p.ProcessFile(context.Background(), src)

	require.NoError(t, res.Err)
	assert.Equal(t, OutcomePublished, res.Outcome)
	require.Len(t, res.Reviews, 1)
	assert.True(t, res.Reviews[0].Degraded)
}

func TestRewriteUsesWriter(t *testing.T) {
	f := newFixture(t, func(_ *fixture, c *Components) {
		c.Gate = gateFunc(func(ctx context.Context, a writer.Article, rewrite quality.Rewriter) (quality.Outcome, error) {
			review := core.QualityReview{Composite: 5.5, Verdict: core.VerdictRewrite}
			better, err := rewrite(ctx, a, review)
			if err != nil {
				return quality.Outcome{}, err
			}
			return quality.Outcome{
				Article:  better,
				Verdict:  core.VerdictApprove,
				Rewrites: 1,
				Reviews:  []core.QualityReview{review, {Composite: 7.5, Verdict: core.VerdictApprove, Attempt: 1}},
			}, nil
		})
	})
	f.writer.rewritten = writer.Article{Title: "Generics Revisited", HTML: "<p>Better</p>"}
	src := f.submit(t, "notes.md", sourceText)

	res := f.p.ProcessFile(context.Background(), src)

	require.NoError(t, res.Err)
	assert.Equal(t, OutcomePublished, res.Outcome)
	assert.Equal(t, "Generics Revisited", res.Title)
	assert.Equal(t, f.dir("processed", "News", "Tech_3", "Generics Revisited.md"), res.MovedTo)
	require.Len(t, f.writer.rewriteReq, 1)
	assert.Equal(t, "News", f.writer.rewriteReq[0].Major)
	assert.Equal(t, 5.5, f.writer.rewriteReq[0].Review.Composite)
}

func TestExtractionFailureMovesToReview(t *testing.T) {
	f := newFixture(t, nil)
	src := f.submit(t, "short.txt", "too short")

	res := f.p.ProcessFile(context.Background(), src)

	assert.Equal(t, OutcomeReview, res.Outcome)
	assert.True(t, core.IsKind(res.Err, core.KindExtraction))
	assert.Equal(t, f.dir("review", "News", "Tech_3", "short.txt"), res.MovedTo)
	assert.NoFileExists(t, src)
	assert.Equal(t, 0, f.pub.calls)
}

func TestRetryablePublishFailureLeavesFile(t *testing.T) {
	f := newFixture(t, nil)
	f.pub.publishErr = core.E(core.KindTransient, "publisher.publish", "bad gateway", nil)
	src := f.submit(t, "notes.md", sourceText)

	res := f.p.ProcessFile(context.Background(), src)

	assert.Equal(t, OutcomeDeferred, res.Outcome)
	assert.Equal(t, 2, f.pub.calls)
	assert.FileExists(t, src)
	assert.Empty(t, res.MovedTo)
}

func TestRejectedPublishSavesDraft(t *testing.T) {
	f := newFixture(t, nil)
	f.pub.publishErr = core.PublishError("publisher.publish", 400, false, errors.New("rest_invalid_param"))
	src := f.submit(t, "notes.md", sourceText)

	res := f.p.ProcessFile(context.Background(), src)

	assert.Equal(t, OutcomeDraft, res.Outcome)
	assert.Equal(t, 1, f.pub.calls)
	assert.Equal(t, 400, core.StatusCode(res.Err))
	assert.FileExists(t, res.DraftPath)
	assert.NoFileExists(t, src)
}

func TestStoreFailureQueuesRecord(t *testing.T) {
	st := &fakeStore{insertErr: func(core.ArticleRecord) error {
		return core.E(core.KindPersistence, "store.insert", "connection refused", nil)
	}}
	var queue *retryqueue.Queue
	f := newFixture(t, func(f *fixture, c *Components) {
		withStore(st, &fakeAssociator{})(f, c)
		queue = c.Queue
	})
	src := f.submit(t, "notes.md", sourceText)

	res := f.p.ProcessFile(context.Background(), src)

	require.NoError(t, res.Err)
	assert.Equal(t, OutcomePublished, res.Outcome)
	assert.True(t, res.Deferred)
	assert.Equal(t, 1, queue.Len())
	assert.NoFileExists(t, src)
}

func TestSeriesConflictStoresStandalone(t *testing.T) {
	st := &fakeStore{insertErr: func(rec core.ArticleRecord) error {
		if rec.Series != nil {
			return core.E(core.KindPersistence, "store.insert", "a1", store.ErrSeriesConflict)
		}
		return nil
	}}
	f := newFixture(t, func(f *fixture, c *Components) {
		withStore(st, &fakeAssociator{})(f, c)
		c.Series = seriesFunc(func() (*core.SeriesDecision, error) {
			return &core.SeriesDecision{SeriesID: "s1", SeriesTitle: "Go Generics", Order: 2, ConfirmedBy: "similarity"}, nil
		})
	})
	src := f.submit(t, "notes.md", sourceText)

	res := f.p.ProcessFile(context.Background(), src)

	require.NoError(t, res.Err)
	assert.Equal(t, OutcomePublished, res.Outcome)
	assert.False(t, res.Deferred)
	assert.Equal(t, 2, st.attempts)
	require.Len(t, st.inserted, 1)
	assert.Nil(t, st.inserted[0].Series)
}

func TestLockedFileIsSkipped(t *testing.T) {
	var locker *lock.FileLocker
	f := newFixture(t, func(_ *fixture, c *Components) {
		locker = c.Locker.(*lock.FileLocker)
	})
	src := f.submit(t, "notes.md", sourceText)

	lease, ok, err := locker.TryAcquire(src)
	require.NoError(t, err)
	require.True(t, ok)
	defer func() { _ = lease.Release() }()

	res := f.p.ProcessFile(context.Background(), src)

	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Equal(t, "locked", res.Reason)
	assert.FileExists(t, src)
	assert.Equal(t, 0, f.pub.calls)
}

func TestInvalidPathIsSkipped(t *testing.T) {
	f := newFixture(t, nil)
	dir := filepath.Join(f.input, "Recipes", "Soup_1")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	src := filepath.Join(dir, "soup.md")
	require.NoError(t, os.WriteFile(src, []byte(sourceText), 0o644))

	res := f.p.ProcessFile(context.Background(), src)

	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.True(t, core.IsKind(res.Err, core.KindInvalidPath))
	assert.FileExists(t, src)
}

func TestScanOnceOutsideWindow(t *testing.T) {
	f := newFixture(t, nil)
	f.p.config.Window = Window{Enabled: true, Start: 22, End: 6}
	f.p.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.Local) }
	src := f.submit(t, "notes.md", sourceText)

	stats, err := f.p.ScanOnce(context.Background())

	require.NoError(t, err)
	assert.True(t, stats.WindowShut)
	assert.Empty(t, stats.Results)
	assert.FileExists(t, src)
}

func TestScanOnceProcessesEveryFile(t *testing.T) {
	f := newFixture(t, nil)
	f.p.config.Workers = 2
	f.submit(t, "one.md", sourceText)
	f.submit(t, "two.txt", sourceText)

	stats, err := f.p.ScanOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, stats.Scanned)
	assert.Equal(t, 2, stats.Counts[OutcomePublished])
	assert.Equal(t, 2, f.pub.calls)
	assert.FileExists(t, f.dir("processed", "News", "Tech_3", "Go Generics in Practice.md"))
}

func TestScanOnceStopsOnAuthFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.writer.genErr = core.E(core.KindAuth, "writer.generate", "API key rejected", nil)
	src := f.submit(t, "notes.md", sourceText)

	stats, err := f.p.ScanOnce(context.Background())

	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindAuth))
	assert.Equal(t, 1, stats.Counts[OutcomeFailed])
	assert.FileExists(t, src)
}

func TestRetryFailedIngests(t *testing.T) {
	st := &fakeStore{insertErr: func(rec core.ArticleRecord) error {
		if rec.Series != nil {
			return core.E(core.KindPersistence, "store.insert", "a1", store.ErrSeriesConflict)
		}
		return nil
	}}
	var queue *retryqueue.Queue
	f := newFixture(t, func(f *fixture, c *Components) {
		withStore(st, &fakeAssociator{})(f, c)
		queue = c.Queue
	})

	rec := core.ArticleRecord{
		Title:      "Go Generics",
		URL:        "https://blog.example/?p=7",
		PostID:     7,
		Category:   "News",
		CategoryID: 3,
		Tags:       taggedResult().Tags,
		Promo:      "Typed reuse in Go",
		Embedding:  taggedResult().Embedding,
		Series:     &core.SeriesDecision{SeriesID: "s1", SeriesTitle: "Go", Order: 2},
	}
	_, err := queue.Save(retryqueue.FromArticle("/input/News/Tech_3/a.md", rec, errors.New("db down")))
	require.NoError(t, err)

	sum, err := f.p.RetryFailedIngests(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, sum.Stored)
	assert.Equal(t, 0, queue.Len())
	require.Len(t, st.inserted, 1)
	got := st.inserted[0]
	assert.NotEmpty(t, got.ID)
	assert.Nil(t, got.Series)
	assert.Equal(t, int64(7), got.PostID)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, got.Embedding.Values)
}

func TestRetryFailedIngestsWithoutStore(t *testing.T) {
	f := newFixture(t, nil)
	sum, err := f.p.RetryFailedIngests(context.Background())
	require.NoError(t, err)
	assert.Equal(t, retryqueue.Summary{}, sum)
}

func TestSanitizeHTML(t *testing.T) {
	in := `<h2>Intro</h2><p class="lead" onmouseover="x()">Hi <a href="javascript:alert(1)">link</a> <a href="https://go.dev">go</a></p>` +
		`<iframe src="https://evil.example"></iframe><img src="data:image/png;base64,AAAA"><style>p{}</style>`

	out, err := SanitizeHTML(in)

	require.NoError(t, err)
	assert.Contains(t, out, `<h2>Intro</h2>`)
	assert.Contains(t, out, `class="lead"`)
	assert.Contains(t, out, `href="https://go.dev"`)
	assert.Contains(t, out, `src="data:image/png;base64,AAAA"`)
	assert.NotContains(t, out, "onmouseover")
	assert.NotContains(t, out, "javascript:")
	assert.NotContains(t, out, "iframe")
	assert.NotContains(t, out, "style")
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"Go: Generics / Part 2?", 0, "Go_ Generics _ Part 2_"},
		{"  spaced   out  ", 0, "spaced out"},
		{"trailing dots...", 0, "trailing dots"},
		{"", 0, "untitled"},
		{"...", 0, "untitled"},
		{"제네릭 프로그래밍 입문", 6, "제네릭 프로"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeFilename(tt.in, tt.max), tt.in)
	}
}

func TestArchivePath(t *testing.T) {
	f := core.SubmittedFile{Path: "/in/News/Tech_3/notes.PDF", Major: "News", Sub: "Tech", CategoryID: 3}
	got := ArchivePath("/out", f, "Go <Generics>", 100)
	assert.Equal(t, filepath.Join("/out", "News", "Tech_3", "Go _Generics_.pdf"), got)
}

func TestMoveFileAvoidsCollisions(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "out", "a.md")
	for i := 0; i < 2; i++ {
		src := filepath.Join(dir, "src.md")
		require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))
		_, err := moveFile(src, dst)
		require.NoError(t, err)
	}
	assert.FileExists(t, dst)
	assert.FileExists(t, filepath.Join(dir, "out", "a_2.md"))
}

type fakeImages struct {
	prompt string
	model  string
}

func (f *fakeImages) GenerateImage(_ context.Context, model, prompt string) ([]byte, string, error) {
	f.model, f.prompt = model, prompt
	return []byte{0x89, 'P', 'N', 'G'}, "image/png", nil
}

func TestCoverAdapter(t *testing.T) {
	gen := &fakeImages{}
	cover := NewCoverAdapter(gen, prompts.MustLoad(), "imagen-3.0-generate-002")

	data, mimeType, err := cover.Generate(context.Background(), "Go Generics in Practice")

	require.NoError(t, err)
	assert.Equal(t, "image/png", mimeType)
	assert.NotEmpty(t, data)
	assert.Equal(t, "imagen-3.0-generate-002", gen.model)
	assert.Contains(t, gen.prompt, "Title: Go Generics in Practice")
}

func TestBackpatchLinksPreviousInstallment(t *testing.T) {
	var backpatches *retryqueue.BackpatchQueue
	f := newFixture(t, func(f *fixture, c *Components) {
		withStore(&fakeStore{}, &fakeAssociator{})(f, c)
		c.Series = seriesFunc(func() (*core.SeriesDecision, error) { return continuation(), nil })
		backpatches = c.Backpatches
	})
	f.pub.posts[41] = "<p>Part one</p>"
	src := f.submit(t, "notes.md", sourceText)

	res := f.p.ProcessFile(context.Background(), src)

	require.NoError(t, res.Err)
	assert.Equal(t, OutcomePublished, res.Outcome)
	assert.Contains(t, f.pub.posts[41], `rel="next"`)
	assert.Contains(t, f.pub.posts[41], "Next: Go Generics in Practice")
	assert.Equal(t, 0, backpatches.Len())
}

func TestFailedBackpatchIsRetriedOnNextStart(t *testing.T) {
	var backpatches *retryqueue.BackpatchQueue
	f := newFixture(t, func(f *fixture, c *Components) {
		withStore(&fakeStore{}, &fakeAssociator{})(f, c)
		c.Series = seriesFunc(func() (*core.SeriesDecision, error) { return continuation(), nil })
		backpatches = c.Backpatches
	})
	f.pub.posts[41] = "<p>Part one</p>"
	f.pub.updateErr = errors.New("wordpress unavailable")
	src := f.submit(t, "notes.md", sourceText)

	res := f.p.ProcessFile(context.Background(), src)

	require.NoError(t, res.Err)
	assert.Equal(t, OutcomePublished, res.Outcome)
	assert.NoFileExists(t, src)
	assert.NotContains(t, f.pub.posts[41], `rel="next"`)
	require.Equal(t, 1, backpatches.Len())

	f.pub.updateErr = nil
	sum, err := f.p.RetryBackpatches(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Stored)
	assert.Equal(t, 0, backpatches.Len())
	assert.Contains(t, f.pub.posts[41], "Next: Go Generics in Practice")
}

func TestRetryBackpatchesAfterCrash(t *testing.T) {
	var backpatches *retryqueue.BackpatchQueue
	f := newFixture(t, func(f *fixture, c *Components) {
		withStore(&fakeStore{}, &fakeAssociator{})(f, c)
		backpatches = c.Backpatches
	})
	f.pub.posts[41] = "<p>Part one</p>"
	// state left behind when the process died between archive and back-patch
	require.NoError(t, backpatches.Save(retryqueue.Backpatch{
		Decision:  *continuation(),
		Title:     "Part 2",
		Published: core.PublishResult{PostID: 102, URL: "https://blog.example/part-2", OK: true},
	}))

	sum, err := f.p.RetryBackpatches(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Stored)
	assert.Contains(t, f.pub.posts[41], "Next: Part 2")

	// applying it again leaves the post unchanged
	before := f.pub.posts[41]
	require.NoError(t, backpatches.Save(retryqueue.Backpatch{
		Decision:  *continuation(),
		Title:     "Part 2",
		Published: core.PublishResult{PostID: 102, URL: "https://blog.example/part-2", OK: true},
	}))
	_, err = f.p.RetryBackpatches(context.Background())
	require.NoError(t, err)
	assert.Equal(t, before, f.pub.posts[41])
}
