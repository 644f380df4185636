package core

import (
	"fmt"
	"strings"
	"time"
)

// SubmittedFile is a document discovered under the input root.
type SubmittedFile struct {
	Path         string    `json:"path"`          // Absolute path of the source document
	Major        string    `json:"major"`         // Major category (Articles, Books, Magazine, News)
	Sub          string    `json:"sub"`           // Subcategory name without the id suffix
	CategoryID   int       `json:"category_id"`   // Publish-target category id
	Hashtag      string    `json:"hashtag"`       // Promo hashtag, #<Major>_<Sub>
	DiscoveredAt time.Time `json:"discovered_at"` // When the scanner found the file
}

// Name returns the base file name.
func (f SubmittedFile) Name() string {
	if i := strings.LastIndexAny(f.Path, `/\`); i >= 0 {
		return f.Path[i+1:]
	}
	return f.Path
}

// Tier identifies one level of the four-tier tag set.
type Tier string

const (
	TierDomain      Tier = "domain"
	TierField       Tier = "field"
	TierTopic       Tier = "topic"
	TierContentType Tier = "content_type"
)

// Tiers lists the tag tiers in order.
var Tiers = []Tier{TierDomain, TierField, TierTopic, TierContentType}

// TagSet holds the four ordered tiers of normalized tags.
type TagSet struct {
	Domain      []string `json:"domain"`
	Field       []string `json:"field"`
	Topic       []string `json:"topic"`
	ContentType []string `json:"content_type"`
}

// Get returns the tags of a single tier.
func (t TagSet) Get(tier Tier) []string {
	switch tier {
	case TierDomain:
		return t.Domain
	case TierField:
		return t.Field
	case TierTopic:
		return t.Topic
	case TierContentType:
		return t.ContentType
	}
	return nil
}

// Set replaces the tags of a single tier.
func (t *TagSet) Set(tier Tier, tags []string) {
	switch tier {
	case TierDomain:
		t.Domain = tags
	case TierField:
		t.Field = tags
	case TierTopic:
		t.Topic = tags
	case TierContentType:
		t.ContentType = tags
	}
}

// IsEmpty reports whether no tier carries a tag.
func (t TagSet) IsEmpty() bool {
	return len(t.Domain) == 0 && len(t.Field) == 0 && len(t.Topic) == 0 && len(t.ContentType) == 0
}

// All returns every tag across tiers, in tier order.
func (t TagSet) All() []string {
	var out []string
	for _, tier := range Tiers {
		out = append(out, t.Get(tier)...)
	}
	return out
}

// Flatten encodes the set as "<tier>:<tag>" strings.
func (t TagSet) Flatten() []string {
	var out []string
	for _, tier := range Tiers {
		for _, tag := range t.Get(tier) {
			out = append(out, string(tier)+":"+tag)
		}
	}
	return out
}

// ParseFlatTags reverses Flatten. Entries with an unknown tier are rejected.
func ParseFlatTags(flat []string) (TagSet, error) {
	var ts TagSet
	for _, entry := range flat {
		tier, tag, ok := strings.Cut(entry, ":")
		if !ok || tag == "" {
			return TagSet{}, fmt.Errorf("malformed tag entry %q", entry)
		}
		known := false
		for _, t := range Tiers {
			if string(t) == tier {
				ts.Set(t, append(ts.Get(t), tag))
				known = true
				break
			}
		}
		if !known {
			return TagSet{}, fmt.Errorf("unknown tag tier %q", tier)
		}
	}
	return ts, nil
}

// OverlappingTiers counts tiers where both sets share at least one tag.
func (t TagSet) OverlappingTiers(other TagSet) int {
	n := 0
	for _, tier := range Tiers {
		if intersects(t.Get(tier), other.Get(tier)) {
			n++
		}
	}
	return n
}

func intersects(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

// Embedding is a vector tied to the model that produced it.
type Embedding struct {
	Model  string    `json:"model"`
	Values []float64 `json:"values"`
}

// IsEmpty reports whether the embedding carries no values.
func (e Embedding) IsEmpty() bool { return len(e.Values) == 0 }

// SEOMeta is the search metadata attached to a published post.
type SEOMeta struct {
	MetaDescription string   `json:"meta_description"`
	Slug            string   `json:"slug"`
	Tags            []string `json:"tags"`
}

// ArticleDraft is the article as it moves through writing, review and publishing.
type ArticleDraft struct {
	Title           string          `json:"title"`
	HTML            string          `json:"html"`
	Category        string          `json:"category"`
	CategoryID      int             `json:"category_id"`
	Tags            TagSet          `json:"tags"`
	Embedding       Embedding       `json:"embedding"`
	Promo           string          `json:"promo"`
	Series          *SeriesDecision `json:"series,omitempty"`
	SEO             *SEOMeta        `json:"seo,omitempty"`
	FeaturedMediaID int64           `json:"featured_media_id,omitempty"`
	Usage           *TokenSummary   `json:"-"`
}

// Verdict is the outcome of a quality review.
type Verdict string

const (
	VerdictApprove Verdict = "approve"
	VerdictRewrite Verdict = "rewrite"
	VerdictDraft   Verdict = "draft"
)

// QualityIssue is one problem raised by the reviewer.
type QualityIssue struct {
	Dimension   string `json:"dimension"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
	Suggestion  string `json:"suggestion"`
}

// QualityReview is the record of a single review call.
type QualityReview struct {
	Title         string         `json:"title"`
	Category      string         `json:"category"`
	Consistency   float64        `json:"consistency"`
	Readability   float64        `json:"readability"`
	Artificiality float64        `json:"artificiality"` // higher means less machine-sounding
	Composite     float64        `json:"composite"`
	Verdict       Verdict        `json:"verdict"`
	Attempt       int            `json:"attempt"` // rewrite cycles completed before this review
	Issues        []QualityIssue `json:"issues,omitempty"`
	Summary       string         `json:"summary"`
	Degraded      bool           `json:"degraded"` // reviewer failed and the gate failed open
	Error         string         `json:"error,omitempty"`
	ReviewedAt    time.Time      `json:"reviewed_at"`
}

// Feedback renders the review as an instruction block for a rewrite.
func (r QualityReview) Feedback() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Reviewer scores: consistency %.1f, readability %.1f, naturalness %.1f (composite %.1f).\n",
		r.Consistency, r.Readability, r.Artificiality, r.Composite)
	if r.Summary != "" {
		sb.WriteString("Summary: " + r.Summary + "\n")
	}
	for _, issue := range r.Issues {
		fmt.Fprintf(&sb, "- [%s/%s] %s", issue.Dimension, issue.Severity, issue.Description)
		if issue.Suggestion != "" {
			sb.WriteString(" Fix: " + issue.Suggestion)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// AssociationCandidate is an existing article ranked against a new one.
type AssociationCandidate struct {
	ArticleID   string    `json:"article_id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Promo       string    `json:"promo"`
	Similarity  float64   `json:"similarity"`
	SharedTags  int       `json:"shared_tags"`
	PublishedAt time.Time `json:"published_at"`
}

// SeriesMember is a published article that belongs, or may belong, to a series.
type SeriesMember struct {
	ArticleID string    `json:"article_id"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	PostID    int64     `json:"post_id"`
	Order     int       `json:"order"`
	Tags      TagSet    `json:"tags"`
	CreatedAt time.Time `json:"created_at"`
}

// SeriesGroup is a persisted series with its members in order.
type SeriesGroup struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	TitlePattern bool           `json:"title_pattern"`
	Members      []SeriesMember `json:"members"`
}

// Last returns the member with the highest order.
func (g SeriesGroup) Last() *SeriesMember {
	if len(g.Members) == 0 {
		return nil
	}
	last := g.Members[0]
	for _, m := range g.Members[1:] {
		if m.Order > last.Order {
			last = m
		}
	}
	return &last
}

// SeriesDecision describes how a new article joins a series.
type SeriesDecision struct {
	SeriesID     string        `json:"series_id"`
	SeriesTitle  string        `json:"series_title"`
	Order        int           `json:"order"`
	Previous     *SeriesMember `json:"previous,omitempty"`
	PrevPrevious *SeriesMember `json:"prev_previous,omitempty"`
	Create       bool          `json:"create"` // series row does not exist yet; Previous becomes order 1
	TitlePattern bool          `json:"title_pattern"`
	Similarity   float64       `json:"similarity"`
	ConfirmedBy  string        `json:"confirmed_by"` // "similarity" or "classifier"
}

// PublishResult is the response of the publish target.
type PublishResult struct {
	PostID int64  `json:"post_id"`
	URL    string `json:"url"`
	OK     bool   `json:"ok"`
}

// ArticleRecord is the row written to the article store after publishing.
type ArticleRecord struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	URL         string          `json:"url"`
	PostID      int64           `json:"post_id"`
	Category    string          `json:"category"`
	CategoryID  int             `json:"category_id"`
	Tags        TagSet          `json:"tags"`
	Promo       string          `json:"promo"`
	Embedding   Embedding       `json:"embedding"`
	Series      *SeriesDecision `json:"series,omitempty"`
	Reviews     []QualityReview `json:"reviews,omitempty"`
	PublishedAt time.Time       `json:"published_at"`
}
