package series

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"blogpilot/internal/core"
	"blogpilot/internal/writer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	candidates []Candidate
	err        error
	minTiers   int
}

func (f *fakeStore) SeriesCandidates(_ context.Context, _ core.TagSet, _ time.Time, minTiers int) ([]Candidate, error) {
	f.minTiers = minTiers
	return f.candidates, f.err
}

type fakeAsker struct {
	verdict classifierVerdict
	err     error
	calls   int
}

func (f *fakeAsker) AskJSON(_ context.Context, ask writer.Ask, out any) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	*(out.(*classifierVerdict)) = f.verdict
	return nil
}

type fakeEditor struct {
	content map[int64]string
	updates int
}

func (f *fakeEditor) Content(_ context.Context, id int64) (string, error) {
	c, ok := f.content[id]
	if !ok {
		return "", errors.New("not found")
	}
	return c, nil
}

func (f *fakeEditor) UpdateContent(_ context.Context, id int64, html string) error {
	f.updates++
	f.content[id] = html
	return nil
}

var (
	newEmb = core.Embedding{Model: "m", Values: []float64{1, 0}}
	tags   = core.TagSet{Domain: []string{"tech"}, Field: []string{"ai"}, Topic: []string{"llm"}, ContentType: []string{"analysis"}}
)

// embAt returns an embedding whose cosine similarity with newEmb is sim.
func embAt(sim float64) core.Embedding {
	return core.Embedding{Model: "m", Values: []float64{sim, math.Sqrt(1 - sim*sim)}}
}

func standalone(sim float64) Candidate {
	return Candidate{
		Members: []core.SeriesMember{{
			ArticleID: "a1", Title: "Deep Dive: Part 1", URL: "https://blog/part-1", PostID: 11,
		}},
		Embeddings: []core.Embedding{embAt(sim)},
	}
}

func TestPartTwoJoinsStandaloneAndBackpatches(t *testing.T) {
	store := &fakeStore{candidates: []Candidate{standalone(0.81)}}
	d := NewDetector(store, nil, Config{})

	dec, err := d.Detect(context.Background(), tags, newEmb, "Part 2: Deep Dive")
	require.NoError(t, err)
	require.NotNil(t, dec)
	assert.Equal(t, 3, store.minTiers)
	assert.True(t, dec.Create)
	assert.True(t, dec.TitlePattern)
	assert.Equal(t, 2, dec.Order)
	assert.Equal(t, 1, dec.Previous.Order)
	assert.Nil(t, dec.PrevPrevious)
	assert.NotEmpty(t, dec.SeriesID)
	assert.Equal(t, "Deep Dive", dec.SeriesTitle)
	assert.InDelta(t, 0.81, dec.Similarity, 1e-9)

	editor := &fakeEditor{content: map[int64]string{11: "<p>First installment.</p>"}}
	published := core.PublishResult{PostID: 12, URL: "https://blog/part-2", OK: true}

	changed, err := Backpatch(context.Background(), editor, dec, "Part 2: Deep Dive", published)
	require.NoError(t, err)
	assert.True(t, changed)
	patched := editor.content[11]
	assert.Contains(t, patched, `class="`+NavClass+`"`)
	assert.Contains(t, patched, `href="https://blog/part-2"`)
	assert.Contains(t, patched, "Part 1 of 2")
	assert.NotContains(t, patched, `rel="prev"`, "first member has no predecessor link")
	assert.Contains(t, patched, "<p>First installment.</p>")

	changed, err = Backpatch(context.Background(), editor, dec, "Part 2: Deep Dive", published)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 1, editor.updates)
	assert.Equal(t, patched, editor.content[11])
}

func TestExistingSeriesOrderIsMaxPlusOne(t *testing.T) {
	store := &fakeStore{candidates: []Candidate{{
		SeriesID:    "s1",
		SeriesTitle: "Deep Dive",
		Members: []core.SeriesMember{
			{ArticleID: "a2", Title: "Two", Order: 2, PostID: 2, URL: "https://blog/2"},
			{ArticleID: "a1", Title: "One", Order: 1, PostID: 1, URL: "https://blog/1"},
		},
		Embeddings: []core.Embedding{embAt(0.9), embAt(0.88)},
	}}}
	d := NewDetector(store, nil, Config{})

	dec, err := d.Detect(context.Background(), tags, newEmb, "More on the topic")
	require.NoError(t, err)
	require.NotNil(t, dec)
	assert.False(t, dec.Create)
	assert.Equal(t, "s1", dec.SeriesID)
	assert.Equal(t, 3, dec.Order)
	assert.Equal(t, "a2", dec.Previous.ArticleID)
	assert.Equal(t, "a1", dec.PrevPrevious.ArticleID)
	assert.InDelta(t, 0.89, dec.Similarity, 1e-9)

	editor := &fakeEditor{content: map[int64]string{2: "<p>Two</p>"}}
	_, err = Backpatch(context.Background(), editor, dec, "Three", core.PublishResult{PostID: 3, URL: "https://blog/3"})
	require.NoError(t, err)
	assert.Contains(t, editor.content[2], `rel="prev" href="https://blog/1"`)
	assert.Contains(t, editor.content[2], `rel="next" href="https://blog/3"`)
	assert.Contains(t, editor.content[2], "Part 2 of 3")
}

func TestAmbiguousBandUsesClassifier(t *testing.T) {
	tests := []struct {
		name    string
		asker   *fakeAsker
		joined  bool
		asked   int
		sim     float64
		noAsker bool
	}{
		{"confident yes", &fakeAsker{verdict: classifierVerdict{IsSeries: true, Confidence: 0.8}}, true, 1, 0.80, false},
		{"low confidence", &fakeAsker{verdict: classifierVerdict{IsSeries: true, Confidence: 0.6}}, false, 1, 0.80, false},
		{"classifier error fails closed", &fakeAsker{err: errors.New("boom")}, false, 1, 0.80, false},
		{"below band never asks", &fakeAsker{verdict: classifierVerdict{IsSeries: true, Confidence: 1}}, false, 0, 0.74, false},
		{"no classifier", nil, false, 0, 0.80, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var asker Asker
			if !tt.noAsker {
				asker = tt.asker
			}
			d := NewDetector(&fakeStore{candidates: []Candidate{standalone(tt.sim)}}, asker, Config{})
			dec, err := d.Detect(context.Background(), tags, newEmb, "An essay on models")
			require.NoError(t, err)
			assert.Equal(t, tt.joined, dec != nil)
			if tt.asker != nil {
				assert.Equal(t, tt.asked, tt.asker.calls)
			}
			if dec != nil {
				assert.Equal(t, "classifier", dec.ConfirmedBy)
			}
		})
	}
}

func TestDetectStoreErrorIsSeriesKind(t *testing.T) {
	d := NewDetector(&fakeStore{err: errors.New("db")}, nil, Config{})
	_, err := d.Detect(context.Background(), tags, newEmb, "x")
	assert.True(t, core.IsKind(err, core.KindSeries))
}

func TestHasSequenceMarker(t *testing.T) {
	for _, title := range []string{
		"Part 2: Deep Dive", "Scaling Go, pt. 3", "Weekly notes #12", "Vol. 4 of the log",
		"Chapter 7", "The final part of the story", "3rd installment", "深度学习 第2篇",
		"A new series on Rust", "机器学习（下）", "续：更多内容",
	} {
		assert.True(t, HasSequenceMarker(title), title)
	}
	for _, title := range []string{"Deep Dive into Go", "Partial results", "Why chapters matter"} {
		assert.False(t, HasSequenceMarker(title), title)
	}
}

func TestBuildNavigationEscapes(t *testing.T) {
	nav := BuildNavigation(Nav{
		SeriesTitle: `<script>alert("x")</script>`,
		Order:       2,
		Total:       2,
		Prev:        &Link{Title: "A & B", URL: `https://blog/a?x=1&y="2"`},
	})
	assert.NotContains(t, nav, "<script>")
	assert.Contains(t, nav, "&lt;script&gt;")
	assert.Contains(t, nav, "A &amp; B")
	assert.Contains(t, nav, `x=1&amp;y=&#34;2&#34;`)
	assert.Contains(t, nav, "Part 2 of 2")
	assert.NotContains(t, nav, `rel="next"`)
}

func TestReplaceNavigation(t *testing.T) {
	body := `<p>Intro</p><div class="` + NavClass + `"><p>old</p></div><p>Outro</p><div class="` + NavClass + `">stale</div>`
	nav := BuildNavigation(Nav{SeriesTitle: "S", Order: 1, Total: 2, Next: &Link{Title: "Two", URL: "https://blog/2"}})

	once, err := ReplaceNavigation(body, nav)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(once, NavClass+`"`))
	assert.NotContains(t, once, "old")
	assert.NotContains(t, once, "stale")
	assert.Less(t, strings.Index(once, "Intro"), strings.Index(once, NavClass))
	assert.Less(t, strings.Index(once, NavClass), strings.Index(once, "Outro"))

	twice, err := ReplaceNavigation(once, nav)
	require.NoError(t, err)
	assert.Equal(t, once, twice)

	appended, err := InjectNavigation("<p>Body</p>", Nav{SeriesTitle: "S", Order: 1, Total: 1})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(appended, "<p>Body</p>"))
	assert.Contains(t, appended, NavClass)
}

func TestMeanSimilarity(t *testing.T) {
	assert.InDelta(t, 0.85, MeanSimilarity(newEmb, []core.Embedding{embAt(0.9), embAt(0.8)}), 1e-9)
	assert.Equal(t, 0.0, MeanSimilarity(newEmb, nil))
	other := core.Embedding{Model: "other", Values: []float64{1, 0}}
	assert.InDelta(t, 0.9, MeanSimilarity(newEmb, []core.Embedding{embAt(0.9), other}), 1e-9)
}
