package writer

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"blogpilot/internal/core"

	"github.com/PuerkitoBio/goquery"
	"google.golang.org/genai"
)

// Relation strengths by number of tag tiers shared with the new article.
const (
	StrengthStrong = "strong"
	StrengthMedium = "medium"
	StrengthWeak   = "weak"
)

// Strength labels a related article for the writer prompt.
func Strength(sharedTiers int) string {
	switch {
	case sharedTiers >= 4:
		return StrengthStrong
	case sharedTiers == 3:
		return StrengthMedium
	default:
		return StrengthWeak
	}
}

type relatedEntry struct {
	Strength string
	Title    string
	URL      string
	Promo    string
}

// ArticleRequest is the input to GenerateArticle.
type ArticleRequest struct {
	Source  string
	Major   string
	Related []core.AssociationCandidate
}

// GenerateArticle writes an article from source text. Related articles, if
// any, are offered to the model as linking context, strongest first.
func (w *Writer) GenerateArticle(ctx context.Context, req ArticleRequest) (Article, error) {
	system, err := w.prompts.System(w.prompts.WriterSystem(req.Major), nil)
	if err != nil {
		return Article{}, err
	}

	source := Truncate(req.Source, InputLimit)
	var user string
	if len(req.Related) == 0 {
		user, err = w.prompts.User("writer_user", map[string]any{"Source": source})
	} else {
		user, err = w.prompts.User("writer_context_user", map[string]any{
			"Source":  source,
			"Related": relatedContext(req.Related),
		})
	}
	if err != nil {
		return Article{}, err
	}

	w.log.Info().Int("source_runes", utf8.RuneCountInString(source)).
		Int("related", len(req.Related)).Str("major", req.Major).Msg("Generating article")

	var article Article
	_, err = w.Call(ctx, Request{
		Task:   "writer",
		Model:  w.cfg.Model,
		System: system,
		Prompt: user,
		Validate: func(text string) error {
			a, perr := ParseArticle(text)
			article = a
			return perr
		},
	})
	if err != nil {
		return Article{}, err
	}
	if len(req.Related) > 0 {
		linked := countLinks(article.HTML, req.Related)
		w.log.Info().Int("linked", linked).Int("related", len(req.Related)).Msg("Related article link coverage")
	}
	return article, nil
}

func relatedContext(related []core.AssociationCandidate) []relatedEntry {
	groups := map[string][]relatedEntry{}
	for _, c := range related {
		s := Strength(c.SharedTags)
		groups[s] = append(groups[s], relatedEntry{
			Strength: s,
			Title:    c.Title,
			URL:      c.URL,
			Promo:    Truncate(strings.TrimSpace(c.Promo), 300),
		})
	}
	var out []relatedEntry
	for _, s := range []string{StrengthStrong, StrengthMedium, StrengthWeak} {
		out = append(out, groups[s]...)
	}
	return out
}

func countLinks(html string, related []core.AssociationCandidate) int {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return 0
	}
	hrefs := map[string]bool{}
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		hrefs[strings.TrimRight(href, "/")] = true
	})
	n := 0
	for _, c := range related {
		if c.URL != "" && hrefs[strings.TrimRight(c.URL, "/")] {
			n++
		}
	}
	return n
}

// RewriteRequest is the input to Rewrite.
type RewriteRequest struct {
	Source string
	Major  string
	Draft  Article
	Review core.QualityReview
}

// Rewrite revises a draft using reviewer feedback.
func (w *Writer) Rewrite(ctx context.Context, req RewriteRequest) (Article, error) {
	system, err := w.prompts.System(w.prompts.WriterSystem(req.Major), nil)
	if err != nil {
		return Article{}, err
	}
	user, err := w.prompts.User("rewrite_user", map[string]any{
		"Feedback": req.Review.Feedback(),
		"Source":   Truncate(req.Source, ReviewPreviewLimit),
		"Title":    req.Draft.Title,
		"HTML":     Truncate(req.Draft.HTML, InputLimit),
	})
	if err != nil {
		return Article{}, err
	}

	w.log.Info().Str("title", req.Draft.Title).Float64("composite", req.Review.Composite).Msg("Rewriting article from review feedback")

	var article Article
	_, err = w.Call(ctx, Request{
		Task:   "rewrite",
		Model:  w.cfg.Model,
		System: system,
		Prompt: user,
		Validate: func(text string) error {
			a, perr := ParseArticle(text)
			article = a
			return perr
		},
	})
	if err != nil {
		return Article{}, err
	}
	return article, nil
}

// Promo writes the channel promotion for a published article and appends the
// hashtag when one is given.
func (w *Writer) Promo(ctx context.Context, title, html, hashtag string) (string, error) {
	system, err := w.prompts.System("promo_system", nil)
	if err != nil {
		return "", err
	}
	user, err := w.prompts.User("promo_user", map[string]any{
		"Title":   title,
		"Preview": Truncate(PlainText(html), PreviewLimit),
	})
	if err != nil {
		return "", err
	}

	text, err := w.Call(ctx, Request{
		Task:      "promo",
		Model:     w.cfg.FastModel,
		System:    system,
		Prompt:    user,
		MaxTokens: w.cfg.FastMaxTokens,
		Validate: func(text string) error {
			if strings.TrimSpace(text) == "" {
				return fmt.Errorf("empty promo")
			}
			return nil
		},
	})
	if err != nil {
		return "", err
	}
	promo := strings.TrimSpace(text)
	if hashtag != "" {
		promo += "\n\n" + hashtag
	}
	return promo, nil
}

// SEO limits applied to model output.
const (
	SEODescMin   = 120
	SEODescMax   = 160
	SEOSlugMax   = 60
	SEOTagMaxLen = 30
	SEOTagsMin   = 3
	SEOTagsMax   = 8
)

type seoResponse struct {
	MetaDescription string   `json:"meta_description"`
	Slug            string   `json:"slug"`
	WPTags          []string `json:"wp_tags"`
}

// SEOSchema is the structured output schema for SEO metadata.
func SEOSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"meta_description": {Type: genai.TypeString, Description: "120 to 160 character search snippet"},
			"slug":             {Type: genai.TypeString, Description: "lowercase ASCII words joined by hyphens"},
			"wp_tags": {
				Type:  genai.TypeArray,
				Items: &genai.Schema{Type: genai.TypeString},
			},
		},
		Required: []string{"meta_description", "slug", "wp_tags"},
	}
}

// SEO extracts search metadata for an article.
func (w *Writer) SEO(ctx context.Context, title, html string) (*core.SEOMeta, error) {
	system, err := w.prompts.System("seo_system", nil)
	if err != nil {
		return nil, err
	}
	user, err := w.prompts.User("seo_user", map[string]any{
		"Title":   title,
		"Preview": Truncate(PlainText(html), PreviewLimit),
	})
	if err != nil {
		return nil, err
	}

	var meta *core.SEOMeta
	_, err = w.Call(ctx, Request{
		Task:      "seo",
		Model:     w.cfg.FastModel,
		System:    system,
		Prompt:    user,
		Schema:    SEOSchema(),
		MaxTokens: w.cfg.FastMaxTokens,
		Validate: func(text string) error {
			var resp seoResponse
			if err := DecodeJSON(text, &resp); err != nil {
				return err
			}
			m, verr := NormalizeSEO(resp.MetaDescription, resp.Slug, resp.WPTags)
			meta = m
			return verr
		},
	})
	if err != nil {
		return nil, err
	}
	if n := utf8.RuneCountInString(meta.MetaDescription); n < SEODescMin {
		w.log.Warn().Int("length", n).Msg("Meta description shorter than recommended")
	}
	return meta, nil
}

var (
	slugInvalid = regexp.MustCompile(`[^a-z0-9-]`)
	slugDashes  = regexp.MustCompile(`-{2,}`)
)

// NormalizeSEO validates and cleans raw SEO fields.
func NormalizeSEO(desc, slug string, tags []string) (*core.SEOMeta, error) {
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return nil, fmt.Errorf("meta_description is empty")
	}
	desc = Truncate(desc, SEODescMax)

	slug = strings.ToLower(strings.TrimSpace(slug))
	slug = slugInvalid.ReplaceAllString(slug, "-")
	slug = slugDashes.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return nil, fmt.Errorf("slug is empty after normalization")
	}
	if len(slug) > SEOSlugMax {
		slug = strings.TrimRight(slug[:SEOSlugMax], "-")
	}

	var clean []string
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		clean = append(clean, Truncate(t, SEOTagMaxLen))
	}
	if len(clean) < SEOTagsMin {
		return nil, fmt.Errorf("wp_tags has %d entries, need at least %d", len(clean), SEOTagsMin)
	}
	if len(clean) > SEOTagsMax {
		clean = clean[:SEOTagsMax]
	}
	return &core.SEOMeta{MetaDescription: desc, Slug: slug, Tags: clean}, nil
}

// PlainText returns the visible text of an HTML fragment with whitespace
// collapsed. Input that fails to parse is returned unchanged.
func PlainText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}
	doc.Find("script, style").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}
