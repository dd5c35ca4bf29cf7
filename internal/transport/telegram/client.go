// Package telegram implements transport.Transport against the Telegram
// Bot API, the concrete chat transport this repository ships so the
// binary is runnable end-to-end. The core never imports this package
// directly; it only ever sees transport.Transport.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bling0390/vivbliss-sync/errs"
	"github.com/bling0390/vivbliss-sync/internal/transport"
)

const defaultBaseURL = "https://api.telegram.org"

// Client implements transport.Transport against the Telegram Bot API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	botToken   string
}

// New constructs a Client for the given bot token.
func New(botToken string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultBaseURL,
		botToken:   botToken,
	}
}

var _ transport.Transport = (*Client)(nil)

type apiResponse struct {
	OK          bool               `json:"ok"`
	Result      json.RawMessage    `json:"result,omitempty"`
	ErrorCode   int                `json:"error_code,omitempty"`
	Description string             `json:"description,omitempty"`
	Parameters  *apiRetryParameter `json:"parameters,omitempty"`
}

type apiRetryParameter struct {
	RetryAfter int `json:"retry_after,omitempty"`
}

type inlineKeyboardMarkup struct {
	InlineKeyboard [][]inlineKeyboardButton `json:"inline_keyboard"`
}

type inlineKeyboardButton struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// SendMessage posts a single text message with an optional inline CTA.
func (c *Client) SendMessage(ctx context.Context, chat string, text string, action *transport.Action) (string, error) {
	body := map[string]any{
		"chat_id":                  chat,
		"text":                     text,
		"disable_web_page_preview": true,
	}
	if action != nil {
		body["reply_markup"] = inlineKeyboardMarkup{
			InlineKeyboard: [][]inlineKeyboardButton{{{Text: action.Label, URL: action.URL}}},
		}
	}
	var result struct {
		MessageID int `json:"message_id"`
	}
	if err := c.call(ctx, "sendMessage", body, &result); err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", result.MessageID), nil
}

// SendMediaGroup posts a grouped album. Telegram attaches the caption to
// the first item only, matching the caller's contract.
func (c *Client) SendMediaGroup(ctx context.Context, chat string, items []transport.MediaItem) ([]string, error) {
	if len(items) == 0 {
		return nil, errs.New("telegram.send_media_group", errs.CodeLogic, errs.WithMessage("no media items"))
	}
	media := make([]map[string]any, 0, len(items))
	for i, item := range items {
		entry := map[string]any{
			"type":  mediaAPIType(item),
			"media": item.Source,
		}
		if i == 0 && item.Caption != "" {
			entry["caption"] = item.Caption
		}
		media = append(media, entry)
	}
	body := map[string]any{
		"chat_id": chat,
		"media":   media,
	}
	var result []struct {
		MessageID int `json:"message_id"`
	}
	if err := c.call(ctx, "sendMediaGroup", body, &result); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(result))
	for _, r := range result {
		ids = append(ids, fmt.Sprintf("%d", r.MessageID))
	}
	return ids, nil
}

// mediaAPIType infers Telegram's media type tag from the source
// extension; product images default to "photo".
func mediaAPIType(item transport.MediaItem) string {
	lower := strings.ToLower(item.Source)
	if strings.HasSuffix(lower, ".mp4") || strings.HasSuffix(lower, ".mov") || strings.HasSuffix(lower, ".webm") {
		return "video"
	}
	return "photo"
}

func (c *Client) call(ctx context.Context, method string, body any, out any) error {
	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.botToken, method)
	payload, err := json.Marshal(body)
	if err != nil {
		return errs.New("telegram."+method, errs.CodeLogic, errs.WithCause(err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return errs.New("telegram."+method, errs.CodeTransport, errs.WithCause(err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errs.New("telegram."+method, errs.CodeTransport, errs.WithCause(err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errs.New("telegram."+method, errs.CodeTransport, errs.WithCause(err))
	}
	var apiResp apiResponse
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		return errs.New("telegram."+method, errs.CodeTransport,
			errs.WithMessage("malformed response body"), errs.WithCause(err))
	}
	if !apiResp.OK {
		msg := fmt.Sprintf("telegram api error %d: %s", apiResp.ErrorCode, apiResp.Description)
		if apiResp.Parameters != nil && apiResp.Parameters.RetryAfter > 0 {
			msg = fmt.Sprintf("%s (retry after %ds)", msg, apiResp.Parameters.RetryAfter)
		}
		return errs.New("telegram."+method, errs.CodeTransport, errs.WithMessage(msg))
	}
	if out == nil || len(apiResp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(apiResp.Result, out); err != nil {
		return errs.New("telegram."+method, errs.CodeTransport,
			errs.WithMessage("malformed result payload"), errs.WithCause(err))
	}
	return nil
}
