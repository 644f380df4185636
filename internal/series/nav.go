package series

import (
	"fmt"
	"html"
	"strings"

	"blogpilot/internal/core"

	"github.com/PuerkitoBio/goquery"
)

// NavClass marks the navigation block inside a post.
const NavClass = "blogpilot-series-nav"

// Link is one navigation target.
type Link struct {
	Title string
	URL   string
}

// Nav describes the navigation block of one installment.
type Nav struct {
	SeriesTitle string
	Order       int
	Total       int
	Prev        *Link
	Next        *Link
}

// ForDecision returns the navigation of the article being published.
func ForDecision(dec *core.SeriesDecision) Nav {
	return Nav{
		SeriesTitle: dec.SeriesTitle,
		Order:       dec.Order,
		Total:       dec.Order,
		Prev:        linkTo(dec.Previous),
	}
}

// BuildNavigation renders nav as an HTML block. All text and URLs are
// escaped.
func BuildNavigation(nav Nav) string {
	total := nav.Total
	if total < nav.Order {
		total = nav.Order
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, `<div class="%s">`, NavClass)
	fmt.Fprintf(&sb, `<p class="%s-title">Part %d of %d in the series <strong>%s</strong></p>`,
		NavClass, nav.Order, total, html.EscapeString(nav.SeriesTitle))
	if nav.Prev != nil || nav.Next != nil {
		fmt.Fprintf(&sb, `<p class="%s-links">`, NavClass)
		if nav.Prev != nil {
			fmt.Fprintf(&sb, `<a rel="prev" href="%s">← Previous: %s</a>`,
				html.EscapeString(nav.Prev.URL), html.EscapeString(nav.Prev.Title))
		}
		if nav.Prev != nil && nav.Next != nil {
			sb.WriteString(" | ")
		}
		if nav.Next != nil {
			fmt.Fprintf(&sb, `<a rel="next" href="%s">Next: %s →</a>`,
				html.EscapeString(nav.Next.URL), html.EscapeString(nav.Next.Title))
		}
		sb.WriteString("</p>")
	}
	sb.WriteString("</div>")
	return sb.String()
}

// InjectNavigation places the navigation of nav into body, replacing any
// existing block.
func InjectNavigation(body string, nav Nav) (string, error) {
	return ReplaceNavigation(body, BuildNavigation(nav))
}

// ReplaceNavigation swaps the first navigation block in content for navHTML
// and drops any others. Content without a block gets navHTML appended. The
// result is the re-serialized fragment, so applying the same block twice
// yields the same output.
func ReplaceNavigation(content, navHTML string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("failed to parse post content: %w", err)
	}
	body := doc.Find("body")
	existing := body.Find("div." + NavClass)
	if existing.Length() > 0 {
		existing.First().ReplaceWithHtml(navHTML)
		existing.Slice(1, existing.Length()).Remove()
	} else {
		body.AppendHtml(navHTML)
	}
	out, err := body.Html()
	if err != nil {
		return "", fmt.Errorf("failed to render post content: %w", err)
	}
	return strings.TrimSpace(out), nil
}
