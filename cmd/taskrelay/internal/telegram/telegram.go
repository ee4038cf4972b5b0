// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package telegram is a small client for the parts of the Telegram Bot API
// used by taskrelay.
package telegram

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.astrophena.name/taskrelay/internal/request"
	"go.astrophena.name/taskrelay/internal/util/syncx"
)

const (
	// DefaultBaseURL is the Telegram Bot API endpoint.
	DefaultBaseURL = "https://api.telegram.org"

	sendRetryLimit = 5 // N attempts to retry requests when rate limited
)

var (
	// ErrForbidden is returned when Telegram refuses to deliver to a chat,
	// for example because the user blocked the bot. It is never retried.
	ErrForbidden = errors.New("telegram: forbidden")
	// ErrBadMarkup is returned when Telegram can't parse message entities.
	ErrBadMarkup = errors.New("telegram: can't parse entities")
)

// Config configures a [Client].
type Config struct {
	Token      string
	BaseURL    string // DefaultBaseURL if empty
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the Telegram Bot API.
type Client struct {
	token    string
	baseURL  string
	httpc    *http.Client
	scrubber *strings.Replacer
	slog     *slog.Logger
	sleep    func(context.Context, time.Duration) bool
}

// New returns a new Client.
func New(cfg Config) *Client {
	c := &Client{
		token:   cfg.Token,
		baseURL: strings.TrimSuffix(cmp.Or(cfg.BaseURL, DefaultBaseURL), "/"),
		httpc:   cmp.Or(cfg.HTTPClient, request.DefaultClient),
		slog:    cmp.Or(cfg.Logger, slog.Default()),
		sleep:   syncx.Sleep,
	}
	if c.token != "" {
		c.scrubber = strings.NewReplacer(c.token, "[EXPUNGED]")
	}
	return c
}

// User is a Telegram user or bot.
type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot,omitempty"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

// Chat is a Telegram chat.
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type,omitempty"`
}

// Message is an incoming Telegram message.
type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from,omitempty"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text,omitempty"`
}

// Update is an incoming update.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// BotCommand describes a command shown in the Telegram command menu.
type BotCommand struct {
	Command     string `json:"command"`
	Description string `json:"description"`
}

type response struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// GetMe returns the bot's own user.
func (c *Client) GetMe(ctx context.Context) (User, error) {
	var me User
	err := c.call(ctx, c.httpc, "getMe", struct{}{}, &me)
	return me, err
}

// GetUpdates long-polls for updates with IDs starting at offset. The request
// is held by Telegram for up to timeout.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	// Long polling outlives the default client timeout.
	pollc := *c.httpc
	pollc.Timeout = timeout + 15*time.Second

	var updates []Update
	err := c.call(ctx, &pollc, "getUpdates", map[string]any{
		"offset":          offset,
		"timeout":         int(timeout.Seconds()),
		"allowed_updates": []string{"message"},
	}, &updates)
	return updates, err
}

// SetMyCommands registers the command menu.
func (c *Client) SetMyCommands(ctx context.Context, commands []BotCommand) error {
	return c.call(ctx, c.httpc, "setMyCommands", map[string]any{"commands": commands}, nil)
}

type message struct {
	ChatID             int64  `json:"chat_id"`
	Text               string `json:"text"`
	ParseMode          string `json:"parse_mode,omitempty"`
	LinkPreviewOptions struct {
		IsDisabled bool `json:"is_disabled"`
	} `json:"link_preview_options"`
}

// SendMessage sends text to a chat with link previews disabled. If markdown
// is true, text is parsed as legacy Telegram Markdown.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, markdown bool) error {
	msg := &message{ChatID: chatID, Text: text}
	if markdown {
		msg.ParseMode = "Markdown"
	}
	msg.LinkPreviewOptions.IsDisabled = true
	return c.call(ctx, c.httpc, "sendMessage", msg, nil)
}

// Deliver sends text formatted as Markdown. If Telegram rejects the markup,
// the same text is sent again without formatting.
func (c *Client) Deliver(ctx context.Context, chatID int64, text string) error {
	err := c.SendMessage(ctx, chatID, text, true)
	if !errors.Is(err, ErrBadMarkup) {
		return err
	}
	c.slog.Debug("markup rejected, sending as plain text", "chat_id", chatID)
	return c.SendMessage(ctx, chatID, text, false)
}

func (c *Client) call(ctx context.Context, httpc *http.Client, method string, args, result any) error {
	var err error
	for attempt := 1; attempt <= sendRetryLimit; attempt++ {
		var raw json.RawMessage
		raw, err = c.makeRequest(ctx, httpc, method, args)
		if err == nil {
			if result == nil {
				return nil
			}
			return json.Unmarshal(raw, result)
		}

		retryable, wait := isRateLimited(err)
		if !retryable || attempt == sendRetryLimit {
			return classify(err)
		}

		c.slog.Warn("rate limited, waiting", slog.String("method", method), slog.Duration("wait", wait))
		if !c.sleep(ctx, wait) {
			return ctx.Err()
		}
	}
	return classify(err)
}

func (c *Client) makeRequest(ctx context.Context, httpc *http.Client, method string, args any) (json.RawMessage, error) {
	resp, err := request.Make[response](ctx, request.Params{
		Method:     http.MethodPost,
		URL:        c.baseURL + "/bot" + c.token + "/" + method,
		Body:       args,
		HTTPClient: httpc,
		Scrubber:   c.scrubber,
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, fmt.Errorf("%s: %s", method, resp.Description)
	}
	return resp.Result, nil
}

func classify(err error) error {
	var statusErr *request.StatusError
	if !errors.As(err, &statusErr) {
		return err
	}
	var resp response
	if jsonErr := json.Unmarshal(statusErr.Body, &resp); jsonErr != nil {
		// Not a Bot API error body; only the status code is known.
		if statusErr.StatusCode == http.StatusForbidden {
			return fmt.Errorf("%w: %v", ErrForbidden, err)
		}
		return err
	}
	switch {
	case statusErr.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrForbidden, resp.Description)
	case statusErr.StatusCode == http.StatusBadRequest && strings.Contains(resp.Description, "can't parse entities"):
		return fmt.Errorf("%w: %s", ErrBadMarkup, resp.Description)
	}
	return err
}

func isRateLimited(err error) (bool, time.Duration) {
	var statusErr *request.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusTooManyRequests {
		return false, 0
	}
	var resp response
	if err := json.Unmarshal(statusErr.Body, &resp); err != nil {
		return false, 0
	}
	return true, time.Duration(resp.Parameters.RetryAfter) * time.Second
}
