package quality

import (
	"context"
	"errors"
	"testing"

	"blogpilot/internal/core"
	"blogpilot/internal/writer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAsker struct {
	responses []reviewResponse
	err       error
	calls     int
}

func (f *fakeAsker) AskJSON(_ context.Context, ask writer.Ask, out any) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	i := f.calls - 1
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	*(out.(*reviewResponse)) = f.responses[i]
	return nil
}

func scores(v float64) reviewResponse {
	return reviewResponse{Consistency: v, Readability: v, Artificiality: v, Summary: "ok"}
}

var draft = writer.Article{Title: "A title", HTML: "<p>Some body text.</p>"}

func TestDecideBoundaries(t *testing.T) {
	tests := []struct {
		category  string
		composite float64
		want      core.Verdict
	}{
		{"News", 6.0, core.VerdictApprove},
		{"News", 5.99, core.VerdictRewrite},
		{"News", 4.0, core.VerdictRewrite},
		{"News", 3.99, core.VerdictDraft},
		{"Articles", 7.0, core.VerdictApprove},
		{"Magazine", 6.99, core.VerdictRewrite},
		{"Books", 8.0, core.VerdictApprove},
		{"Books", 5.99, core.VerdictDraft},
		{"Unknown", 7.0, core.VerdictApprove},
		{"Unknown", 4.99, core.VerdictDraft},
	}
	for _, tt := range tests {
		got := Decide(tt.composite, ThresholdFor(tt.category, DefaultThresholds()))
		assert.Equal(t, tt.want, got, "%s %.2f", tt.category, tt.composite)
	}
}

func TestReviewClampsAndIgnoresModelVerdict(t *testing.T) {
	asker := &fakeAsker{responses: []reviewResponse{{Consistency: 14, Readability: -2, Artificiality: 10}}}
	g := NewGate(asker, Config{Enabled: true, MaxRewrites: 2})

	rv := g.Review(context.Background(), draft, "source", "Articles", 0)
	assert.Equal(t, 10.0, rv.Consistency)
	assert.Equal(t, 0.0, rv.Readability)
	assert.InDelta(t, 20.0/3, rv.Composite, 1e-9)
	assert.Equal(t, core.VerdictRewrite, rv.Verdict)
	assert.False(t, rv.Degraded)
}

func TestReviewerErrorApprovesDegraded(t *testing.T) {
	g := NewGate(&fakeAsker{err: errors.New("model down")}, Config{Enabled: true, MaxRewrites: 2})

	out, err := g.Run(context.Background(), draft, "source", "News", nil)
	require.NoError(t, err)
	assert.Equal(t, core.VerdictApprove, out.Verdict)
	require.Len(t, out.Reviews, 1)
	assert.True(t, out.Reviews[0].Degraded)
	assert.Contains(t, out.Reviews[0].Error, "model down")
}

func TestRunRewritesUntilApproved(t *testing.T) {
	asker := &fakeAsker{responses: []reviewResponse{scores(6), scores(8)}}
	g := NewGate(asker, Config{Enabled: true, MaxRewrites: 2})

	var feedback []core.QualityReview
	rewrite := func(_ context.Context, a writer.Article, rv core.QualityReview) (writer.Article, error) {
		feedback = append(feedback, rv)
		return writer.Article{Title: a.Title, HTML: "<p>Better.</p>"}, nil
	}
	out, err := g.Run(context.Background(), draft, "source", "Articles", rewrite)
	require.NoError(t, err)
	assert.Equal(t, core.VerdictApprove, out.Verdict)
	assert.Equal(t, 1, out.Rewrites)
	assert.Equal(t, "<p>Better.</p>", out.Article.HTML)
	require.Len(t, out.Reviews, 2)
	assert.Equal(t, 0, out.Reviews[0].Attempt)
	assert.Equal(t, 1, out.Reviews[1].Attempt)
	require.Len(t, feedback, 1)
	assert.Equal(t, core.VerdictRewrite, feedback[0].Verdict)
}

func TestRunForcesDraftAfterMaxRewrites(t *testing.T) {
	asker := &fakeAsker{responses: []reviewResponse{scores(6)}}
	g := NewGate(asker, Config{Enabled: true, MaxRewrites: 2})

	rewrites := 0
	rewrite := func(_ context.Context, a writer.Article, _ core.QualityReview) (writer.Article, error) {
		rewrites++
		return a, nil
	}
	out, err := g.Run(context.Background(), draft, "source", "Articles", rewrite)
	require.NoError(t, err)
	assert.Equal(t, core.VerdictDraft, out.Verdict)
	assert.True(t, out.Forced)
	assert.Equal(t, 2, rewrites)
	assert.Equal(t, 3, asker.calls)
	require.Len(t, out.Reviews, 3)
	assert.Equal(t, core.VerdictDraft, out.Reviews[2].Verdict)
	assert.Contains(t, out.Reason(), "after 2 rewrites")
}

func TestRunImmediateDraft(t *testing.T) {
	g := NewGate(&fakeAsker{responses: []reviewResponse{scores(3)}}, Config{Enabled: true, MaxRewrites: 2})
	out, err := g.Run(context.Background(), draft, "source", "News", func(context.Context, writer.Article, core.QualityReview) (writer.Article, error) {
		t.Fatal("rewrite must not run for an immediate draft")
		return writer.Article{}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, core.VerdictDraft, out.Verdict)
	assert.False(t, out.Forced)
	assert.Len(t, out.Reviews, 1)
}

func TestRunRewriteFailure(t *testing.T) {
	g := NewGate(&fakeAsker{responses: []reviewResponse{scores(6)}}, Config{Enabled: true, MaxRewrites: 2})
	_, err := g.Run(context.Background(), draft, "source", "Articles", func(context.Context, writer.Article, core.QualityReview) (writer.Article, error) {
		return writer.Article{}, core.E(core.KindFallbackExhaust, "writer", "", nil)
	})
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindFallbackExhaust))
}

func TestDisabledGateApproves(t *testing.T) {
	asker := &fakeAsker{}
	g := NewGate(asker, Config{Enabled: false})
	out, err := g.Run(context.Background(), draft, "source", "News", nil)
	require.NoError(t, err)
	assert.Equal(t, core.VerdictApprove, out.Verdict)
	assert.Empty(t, out.Reviews)
	assert.Zero(t, asker.calls)
}

func TestStockPhraseIssues(t *testing.T) {
	assert.Nil(t, StockPhraseIssues("A plain sentence about compilers."))
	issues := StockPhraseIssues("In today's fast-paced world we delve into Go. Let's dive in!")
	require.Len(t, issues, 1)
	assert.Equal(t, "artificiality", issues[0].Dimension)
	assert.Equal(t, "minor", issues[0].Severity)
	assert.Contains(t, issues[0].Description, "delve into")
}
