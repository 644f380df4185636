package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"blogpilot/internal/core"
)

// DefaultTelegramAPI is the Bot API endpoint.
const DefaultTelegramAPI = "https://api.telegram.org"

// Telegram posts to a channel through the Bot API.
type Telegram struct {
	token   string
	chatID  string
	apiBase string
	client  *http.Client
}

// NewTelegram returns a Telegram notifier. apiBase may be empty.
func NewTelegram(token, chatID, apiBase string, timeout time.Duration) (*Telegram, error) {
	if token == "" || chatID == "" {
		return nil, core.E(core.KindConfig, "notifier.telegram", "bot token and channel id are required", nil)
	}
	if apiBase == "" {
		apiBase = DefaultTelegramAPI
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Telegram{
		token:   token,
		chatID:  chatID,
		apiBase: strings.TrimRight(apiBase, "/"),
		client:  &http.Client{Timeout: timeout},
	}, nil
}

type telegramResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
	Result      json.RawMessage `json:"result"`
}

func (t *Telegram) call(ctx context.Context, method string, payload any) (telegramResponse, error) {
	var tr telegramResponse
	op := "notifier.telegram." + method

	var body io.Reader
	httpMethod := http.MethodGet
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return tr, fmt.Errorf("failed to encode %s: %w", method, err)
		}
		body = bytes.NewReader(data)
		httpMethod = http.MethodPost
	}
	endpoint := fmt.Sprintf("%s/bot%s/%s", t.apiBase, t.token, method)
	req, err := http.NewRequestWithContext(ctx, httpMethod, endpoint, body)
	if err != nil {
		return tr, fmt.Errorf("new request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return tr, core.E(core.KindTransient, op, "request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&tr); err != nil {
		return tr, &core.Error{Kind: core.KindTransient, Op: op, Msg: "undecodable response", StatusCode: resp.StatusCode, Retryable: resp.StatusCode >= 500, Err: err}
	}
	if !tr.OK {
		kind := core.KindTransient
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			kind = core.KindAuth
		}
		return tr, &core.Error{Kind: kind, Op: op, Msg: tr.Description, StatusCode: resp.StatusCode, Retryable: resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests}
	}
	return tr, nil
}

// Send posts text to the channel. Rich messages use Markdown parse mode.
func (t *Telegram) Send(ctx context.Context, text string, format Format) error {
	payload := map[string]any{
		"chat_id": t.chatID,
		"text":    text,
	}
	if format == FormatRich {
		payload["parse_mode"] = "Markdown"
	}
	_, err := t.call(ctx, "sendMessage", payload)
	return err
}

// Ping checks the bot token with getMe and returns the bot's username.
func (t *Telegram) Ping(ctx context.Context) (string, error) {
	tr, err := t.call(ctx, "getMe", nil)
	if err != nil {
		return "", err
	}
	var me struct {
		Username string `json:"username"`
	}
	_ = json.Unmarshal(tr.Result, &me)
	return me.Username, nil
}
