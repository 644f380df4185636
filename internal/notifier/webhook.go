package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Platform is a webhook target.
type Platform string

const (
	PlatformSlack   Platform = "slack"
	PlatformDiscord Platform = "discord"
)

// SlackMessage is the Slack incoming-webhook payload.
type SlackMessage struct {
	Text      string       `json:"text,omitempty"`
	Blocks    []SlackBlock `json:"blocks,omitempty"`
	Username  string       `json:"username,omitempty"`
	IconEmoji string       `json:"icon_emoji,omitempty"`
}

// SlackBlock is one block kit element.
type SlackBlock struct {
	Type string     `json:"type"`
	Text *SlackText `json:"text,omitempty"`
}

// SlackText is text inside a block.
type SlackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// DiscordMessage is the Discord webhook payload.
type DiscordMessage struct {
	Content  string `json:"content,omitempty"`
	Username string `json:"username,omitempty"`
}

// WebhookConfig configures the webhook notifier.
type WebhookConfig struct {
	SlackURL        string
	SlackUsername   string
	SlackIconEmoji  string
	DiscordURL      string
	DiscordUsername string
	Timeout         time.Duration
}

// Webhook posts to Slack and Discord incoming webhooks. A message counts as
// delivered when any configured platform accepts it.
type Webhook struct {
	cfg    WebhookConfig
	client *http.Client
}

// NewWebhook returns a webhook notifier, or nil when no URL is configured.
func NewWebhook(cfg WebhookConfig) *Webhook {
	if cfg.SlackURL == "" && cfg.DiscordURL == "" {
		return nil
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Webhook{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

// Send delivers text to every configured platform.
func (w *Webhook) Send(ctx context.Context, text string, format Format) error {
	var errs []error
	sent := false
	if w.cfg.SlackURL != "" {
		if err := w.post(ctx, PlatformSlack, w.cfg.SlackURL, slackMessage(text, format, w.cfg)); err != nil {
			errs = append(errs, err)
		} else {
			sent = true
		}
	}
	if w.cfg.DiscordURL != "" {
		msg := DiscordMessage{Content: truncateRunes(text, 2000), Username: w.cfg.DiscordUsername}
		if err := w.post(ctx, PlatformDiscord, w.cfg.DiscordURL, msg); err != nil {
			errs = append(errs, err)
		} else {
			sent = true
		}
	}
	if sent {
		return nil
	}
	return errors.Join(errs...)
}

func slackMessage(text string, format Format, cfg WebhookConfig) SlackMessage {
	msg := SlackMessage{Text: text, Username: cfg.SlackUsername, IconEmoji: cfg.SlackIconEmoji}
	if format == FormatRich {
		msg.Blocks = []SlackBlock{{Type: "section", Text: &SlackText{Type: "mrkdwn", Text: text}}}
	}
	return msg
}

func (w *Webhook) post(ctx context.Context, platform Platform, url string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", platform, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", platform, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send %s message: %w", platform, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s webhook returned status %d: %s", platform, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// ValidateWebhookURL checks that url looks like a webhook of platform.
func ValidateWebhookURL(platform Platform, url string) error {
	if url == "" {
		return fmt.Errorf("%s webhook URL cannot be empty", platform)
	}
	switch platform {
	case PlatformSlack:
		if !strings.Contains(url, "hooks.slack.com") {
			return fmt.Errorf("invalid Slack webhook URL format")
		}
	case PlatformDiscord:
		if !strings.Contains(url, "discord.com/api/webhooks") {
			return fmt.Errorf("invalid Discord webhook URL format")
		}
	default:
		return fmt.Errorf("unknown platform: %s", platform)
	}
	return nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
