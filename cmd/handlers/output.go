package handlers

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"blogpilot/internal/cost"
	"blogpilot/internal/ingest"
	"blogpilot/internal/pipeline"
	"blogpilot/internal/recommend"

	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	summaryStyle = lipgloss.NewStyle().Border(lipgloss.NormalBorder(), true).Padding(0, 1)

	outcomeStyles = map[pipeline.Outcome]lipgloss.Style{
		pipeline.OutcomePublished: lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		pipeline.OutcomeDuplicate: lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
		pipeline.OutcomeDraft:     lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		pipeline.OutcomeReview:    lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		pipeline.OutcomeDeferred:  lipgloss.NewStyle().Foreground(lipgloss.Color("13")),
		pipeline.OutcomeSkipped:   mutedStyle,
		pipeline.OutcomeFailed:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
	}

	priorityStyles = map[string]lipgloss.Style{
		"high":   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		"medium": lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		"low":    mutedStyle,
	}
)

// printResults writes one line per processed file and a summary box.
func printResults(w io.Writer, results []pipeline.Result) {
	if len(results) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No files processed."))
		return
	}

	fmt.Fprintln(w, headerStyle.Render("Results"))
	counts := map[pipeline.Outcome]int{}
	var elapsed time.Duration
	for _, r := range results {
		counts[r.Outcome]++
		elapsed += r.Duration

		outcome := outcomeStyles[r.Outcome].Render(fmt.Sprintf("%-9s", r.Outcome))
		line := fmt.Sprintf("%s %s", outcome, filepath.Base(r.File))
		switch {
		case r.URL != "":
			line += " → " + r.URL
		case r.DraftPath != "":
			line += " → " + r.DraftPath
		}
		fmt.Fprintln(w, line)
		if r.Reason != "" && r.Outcome != pipeline.OutcomePublished {
			fmt.Fprintln(w, mutedStyle.Render("          "+r.Reason))
		}
		if r.Series != nil {
			fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("          series %q part %d", r.Series.SeriesTitle, r.Series.Order)))
		}
		if r.Deferred {
			fmt.Fprintln(w, mutedStyle.Render("          store write queued for retry"))
		}
		if r.Usage != nil && len(r.Usage.Calls()) > 0 {
			fmt.Fprintln(w, mutedStyle.Render("          "+cost.FormatSummary(r.Usage)))
		}
	}

	var parts []string
	for _, o := range []pipeline.Outcome{
		pipeline.OutcomePublished, pipeline.OutcomeDuplicate, pipeline.OutcomeDraft, pipeline.OutcomeReview,
		pipeline.OutcomeDeferred, pipeline.OutcomeSkipped, pipeline.OutcomeFailed,
	} {
		if n := counts[o]; n > 0 {
			parts = append(parts, outcomeStyles[o].Render(fmt.Sprintf("%s %d", o, n)))
		}
	}
	fmt.Fprintln(w, summaryStyle.Render(fmt.Sprintf("%d files in %s\n%s",
		len(results), elapsed.Round(time.Millisecond), strings.Join(parts, "  "))))
}

// printIngestResults writes one line per ingested document and returns the
// number that failed.
func printIngestResults(w io.Writer, results []ingest.Result) int {
	if len(results) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No files ingested."))
		return 0
	}

	fmt.Fprintln(w, headerStyle.Render("Ingested"))
	var stored, existing, failed int
	for _, r := range results {
		name := r.Title
		if r.Path != "" {
			name = filepath.Base(r.Path)
		}
		switch {
		case r.Err != nil:
			failed++
			fmt.Fprintf(w, "%s %s\n", outcomeStyles[pipeline.OutcomeFailed].Render(fmt.Sprintf("%-9s", "failed")), name)
			fmt.Fprintln(w, mutedStyle.Render("          "+r.Err.Error()))
		case r.Existing:
			existing++
			fmt.Fprintf(w, "%s %s → %s\n", mutedStyle.Render(fmt.Sprintf("%-9s", "exists")), name, r.ArticleID)
		default:
			stored++
			fmt.Fprintf(w, "%s %s → %q\n", outcomeStyles[pipeline.OutcomePublished].Render(fmt.Sprintf("%-9s", "stored")), name, r.Title)
			if tags := r.Tags.All(); len(tags) > 0 {
				fmt.Fprintln(w, mutedStyle.Render("          "+strings.Join(tags, ", ")))
			}
		}
	}
	fmt.Fprintln(w, summaryStyle.Render(fmt.Sprintf("%d files: stored %d, already stored %d, failed %d",
		len(results), stored, existing, failed)))
	return failed
}

// printRecommendations writes the content gaps and suggested topics.
func printRecommendations(w io.Writer, rep recommend.Report) {
	fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("%d articles, %d domain/field combinations", rep.Articles, rep.TagCombos)))

	fmt.Fprintln(w, headerStyle.Render("Content gaps"))
	if len(rep.Gaps) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No gaps found."))
	}
	for i, g := range rep.Gaps {
		fmt.Fprintf(w, "%d. [%s] %s (%.2f)\n", i+1, g.Kind, g.Description, g.Score)
	}

	if len(rep.Recommendations) == 0 {
		return
	}
	fmt.Fprintln(w, headerStyle.Render("Suggested topics"))
	for i, r := range rep.Recommendations {
		style, ok := priorityStyles[r.Priority]
		if !ok {
			style = priorityStyles["medium"]
		}
		fmt.Fprintf(w, "%d. %s %s\n", i+1, style.Render(fmt.Sprintf("[%s]", r.Priority)), r.Topic)
		fmt.Fprintln(w, mutedStyle.Render("   "+r.Rationale))
		if tags := r.Tags.All(); len(tags) > 0 {
			fmt.Fprintln(w, mutedStyle.Render("   tags: "+strings.Join(tags, ", ")))
		}
	}
}
