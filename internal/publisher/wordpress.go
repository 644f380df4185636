// Package publisher posts articles to WordPress through its REST API.
package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"blogpilot/internal/core"
	"blogpilot/internal/logger"

	"github.com/rs/zerolog"
)

const apiPath = "/wp-json/wp/v2"

// Config configures the WordPress client.
type Config struct {
	URL         string // site URL, or the wp/v2 base, or its /posts endpoint
	User        string
	AppPassword string
	Status      string // publish, draft or pending
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// Client is a WordPress REST client authenticated with an application
// password.
type Client struct {
	base   string
	cfg    Config
	client *http.Client
	log    zerolog.Logger
}

// New validates cfg and returns a Client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" || cfg.User == "" || cfg.AppPassword == "" {
		return nil, core.E(core.KindConfig, "publisher.new", "WordPress url, user and app password are required", nil)
	}
	base, err := APIBase(cfg.URL)
	if err != nil {
		return nil, core.E(core.KindConfig, "publisher.new", "invalid WordPress url", err)
	}
	if cfg.Status == "" {
		cfg.Status = "publish"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{base: base, cfg: cfg, client: hc, log: logger.With("component", "publisher")}, nil
}

// APIBase derives the wp/v2 base from any of the accepted URL forms.
func APIBase(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q needs a scheme and host", raw)
	}
	p := strings.TrimRight(u.Path, "/")
	p = strings.TrimSuffix(p, "/posts")
	if !strings.Contains(p, "/wp-json") {
		p += apiPath
	}
	u.Path = p
	u.RawQuery = ""
	return u.String(), nil
}

// post is the subset of the WordPress post object the client reads.
type post struct {
	ID      int64  `json:"id"`
	Link    string `json:"link"`
	Content struct {
		Raw      string `json:"raw"`
		Rendered string `json:"rendered"`
	} `json:"content"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Status int   `json:"status"`
		TermID int64 `json:"term_id"`
	} `json:"data"`
}

// do sends one request. Network failures and 5xx answers are retryable
// publish errors; any other non-2xx answer is not.
func (c *Client) do(ctx context.Context, op, method, path string, body io.Reader, contentType string, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return core.PublishError(op, 0, false, err)
	}
	req.SetBasicAuth(c.cfg.User, c.cfg.AppPassword)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return core.PublishError(op, 0, true, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return core.PublishError(op, resp.StatusCode, true, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var ae apiError
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &ae) == nil && ae.Message != "" {
			msg = ae.Code + ": " + ae.Message
		}
		if len(msg) > 500 {
			msg = msg[:500]
		}
		return core.PublishError(op, resp.StatusCode, resp.StatusCode >= 500, &ResponseError{Status: resp.StatusCode, Body: data, Message: msg})
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return core.PublishError(op, resp.StatusCode, false, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

// ResponseError is a non-2xx answer from WordPress.
type ResponseError struct {
	Status  int
	Body    []byte
	Message string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("wordpress returned %d: %s", e.Status, e.Message)
}

func (c *Client) sendJSON(ctx context.Context, op, method, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return core.PublishError(op, 0, false, fmt.Errorf("failed to encode request: %w", err))
	}
	return c.do(ctx, op, method, path, bytes.NewReader(body), "application/json", nil, out)
}

// Publish creates the post for draft. SEO tags are resolved to tag ids first;
// a failure there only drops the tags.
func (c *Client) Publish(ctx context.Context, draft core.ArticleDraft) (core.PublishResult, error) {
	payload := map[string]any{
		"title":   draft.Title,
		"content": draft.HTML,
		"status":  c.cfg.Status,
	}
	if draft.CategoryID > 0 {
		payload["categories"] = []int{draft.CategoryID}
	}
	if draft.FeaturedMediaID > 0 {
		payload["featured_media"] = draft.FeaturedMediaID
	}
	if seo := draft.SEO; seo != nil {
		if seo.Slug != "" {
			payload["slug"] = seo.Slug
		}
		if seo.MetaDescription != "" {
			payload["excerpt"] = seo.MetaDescription
		}
		if len(seo.Tags) > 0 {
			ids, err := c.EnsureTags(ctx, seo.Tags)
			if err != nil {
				c.log.Warn().Err(err).Msg("Failed to resolve post tags, publishing without them")
			} else if len(ids) > 0 {
				payload["tags"] = ids
			}
		}
	}

	var p post
	if err := c.sendJSON(ctx, "publisher.publish", http.MethodPost, "/posts", payload, &p); err != nil {
		return core.PublishResult{}, err
	}
	if p.ID == 0 || p.Link == "" {
		return core.PublishResult{}, core.PublishError("publisher.publish", http.StatusOK, false, errors.New("response carries no post id or link"))
	}
	c.log.Info().Int64("post_id", p.ID).Str("url", p.Link).Str("title", draft.Title).Msg("Post published")
	return core.PublishResult{PostID: p.ID, URL: p.Link, OK: true}, nil
}

// Content returns the raw HTML of a post.
func (c *Client) Content(ctx context.Context, postID int64) (string, error) {
	var p post
	path := "/posts/" + strconv.FormatInt(postID, 10) + "?context=edit"
	if err := c.do(ctx, "publisher.content", http.MethodGet, path, nil, "", nil, &p); err != nil {
		return "", err
	}
	if p.Content.Raw != "" {
		return p.Content.Raw, nil
	}
	return p.Content.Rendered, nil
}

// UpdateContent replaces the HTML of a post.
func (c *Client) UpdateContent(ctx context.Context, postID int64, html string) error {
	path := "/posts/" + strconv.FormatInt(postID, 10)
	return c.sendJSON(ctx, "publisher.update", http.MethodPost, path, map[string]string{"content": html}, nil)
}

type term struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// EnsureTags returns tag ids for names, creating missing tags.
func (c *Client) EnsureTags(ctx context.Context, names []string) ([]int64, error) {
	var ids []int64
	seen := map[int64]bool{}
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		id, err := c.ensureTag(ctx, name)
		if err != nil {
			return ids, err
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (c *Client) ensureTag(ctx context.Context, name string) (int64, error) {
	var found []term
	path := "/tags?per_page=100&search=" + url.QueryEscape(name)
	if err := c.do(ctx, "publisher.tags", http.MethodGet, path, nil, "", nil, &found); err != nil {
		return 0, err
	}
	for _, t := range found {
		if strings.EqualFold(t.Name, name) {
			return t.ID, nil
		}
	}

	var created term
	err := c.sendJSON(ctx, "publisher.tags", http.MethodPost, "/tags", map[string]string{"name": name}, &created)
	if err != nil {
		// A concurrent create answers term_exists with the existing id.
		var re *ResponseError
		if errors.As(err, &re) {
			var ae apiError
			if json.Unmarshal(re.Body, &ae) == nil && ae.Code == "term_exists" && ae.Data.TermID > 0 {
				return ae.Data.TermID, nil
			}
		}
		return 0, err
	}
	return created.ID, nil
}

// UploadMedia stores an image in the media library and returns its id.
func (c *Client) UploadMedia(ctx context.Context, filename, contentType string, data []byte) (int64, error) {
	if contentType == "" {
		contentType = "image/png"
	}
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": filename})
	var m struct {
		ID int64 `json:"id"`
	}
	err := c.do(ctx, "publisher.media", http.MethodPost, "/media", bytes.NewReader(data), contentType,
		map[string]string{"Content-Disposition": disposition}, &m)
	if err != nil {
		return 0, err
	}
	c.log.Info().Int64("media_id", m.ID).Str("filename", filename).Msg("Media uploaded")
	return m.ID, nil
}

// Ping verifies the credentials against /users/me.
func (c *Client) Ping(ctx context.Context) error {
	var me struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	}
	if err := c.do(ctx, "publisher.ping", http.MethodGet, "/users/me", nil, "", nil, &me); err != nil {
		return err
	}
	c.log.Debug().Str("user", me.Name).Msg("WordPress credentials valid")
	return nil
}
