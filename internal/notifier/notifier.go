// Package notifier announces published articles on Telegram, with Slack and
// Discord webhooks as a secondary channel.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"blogpilot/internal/logger"

	"github.com/rs/zerolog"
)

// Format selects how a message is rendered by the channel.
type Format string

const (
	FormatRich  Format = "rich"  // Markdown
	FormatPlain Format = "plain" // no markup
)

// Notifier delivers one message.
type Notifier interface {
	Send(ctx context.Context, text string, format Format) error
}

// Message builds the promo message with the article link.
func Message(promo, link string, format Format) string {
	promo = strings.TrimSpace(promo)
	if promo == "" {
		promo = "📢 New article published!"
	}
	if format == FormatRich {
		return fmt.Sprintf("%s\n\n👉 *Read the full article*: %s", promo, link)
	}
	return fmt.Sprintf("%s\n\n👉 Read the full article: %s", promo, link)
}

// Fallback sends rich first, then plain on the primary channel, then plain on
// the secondary channel. Either channel may be nil.
type Fallback struct {
	Primary   Notifier
	Secondary Notifier
	log       zerolog.Logger
}

// NewFallback returns a Fallback over the given channels.
func NewFallback(primary, secondary Notifier) *Fallback {
	return &Fallback{Primary: primary, Secondary: secondary, log: logger.With("component", "notifier")}
}

// Enabled reports whether any channel is configured.
func (f *Fallback) Enabled() bool {
	return f != nil && (f.Primary != nil || f.Secondary != nil)
}

// Promote sends the promo for a published article.
func (f *Fallback) Promote(ctx context.Context, promo, link string) error {
	if !f.Enabled() {
		return nil
	}
	var errs []error
	if f.Primary != nil {
		err := f.Primary.Send(ctx, Message(promo, link, FormatRich), FormatRich)
		if err == nil {
			return nil
		}
		f.log.Warn().Err(err).Msg("Rich promo failed, retrying as plain text")
		errs = append(errs, err)

		if err = f.Primary.Send(ctx, Message(promo, link, FormatPlain), FormatPlain); err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	if f.Secondary != nil {
		if f.Primary != nil {
			f.log.Warn().Msg("Primary channel failed, using webhook fallback")
		}
		err := f.Secondary.Send(ctx, Message(promo, link, FormatPlain), FormatPlain)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
