package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/asheshgoplani/opsbridge/internal/logging"
)

var chatLog = logging.ForComponent(logging.CompChat)

// Client is the REST half of the chat transport. All outbound calls pass
// through a rate limiter so a burst of session completions cannot trip
// the platform's posting limits.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
}

// ClientOptions configures a Client.
type ClientOptions struct {
	BaseURL  string
	Token    string
	PostRate float64 // messages per second; <=0 means 1/s
	Timeout  time.Duration
}

// NewClient returns a rate-limited REST client.
func NewClient(opts ClientOptions) *Client {
	if opts.PostRate <= 0 {
		opts.PostRate = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Client{
		baseURL: opts.BaseURL,
		token:   opts.Token,
		http:    &http.Client{Timeout: opts.Timeout},
		limiter: rate.NewLimiter(rate.Limit(opts.PostRate), 3),
	}
}

type postRequest struct {
	Channel string `json:"channel"`
	Thread  string `json:"thread,omitempty"`
	Text    string `json:"text"`
}

type updateRequest struct {
	Channel   string `json:"channel"`
	MessageID string `json:"message_id"`
	Text      string `json:"text"`
}

type apiResponse struct {
	OK        bool      `json:"ok"`
	Error     string    `json:"error"`
	MessageID string    `json:"message_id"`
	Messages  []Message `json:"messages"`
}

// PostMessage implements Messenger.
func (c *Client) PostMessage(ctx context.Context, channelID, threadID, text string) (string, error) {
	var resp apiResponse
	err := c.call(ctx, "messages.post", postRequest{Channel: channelID, Thread: threadID, Text: text}, &resp)
	if err != nil {
		return "", err
	}
	return resp.MessageID, nil
}

// UpdateMessage implements Messenger.
func (c *Client) UpdateMessage(ctx context.Context, channelID, messageID, text string) error {
	var resp apiResponse
	return c.call(ctx, "messages.update", updateRequest{Channel: channelID, MessageID: messageID, Text: text}, &resp)
}

// FetchThreadMessages implements Messenger.
func (c *Client) FetchThreadMessages(ctx context.Context, channelID, threadID, sinceMarker string) ([]Message, error) {
	q := url.Values{}
	q.Set("channel", channelID)
	q.Set("thread", threadID)
	if sinceMarker != "" {
		q.Set("since", sinceMarker)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/messages.thread?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("chat: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat: fetch thread: %w", err)
	}
	defer httpResp.Body.Close()

	var resp apiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("chat: decode thread response: %w", err)
	}
	if !resp.OK {
		return nil, fmt.Errorf("chat: fetch thread: %s", resp.Error)
	}
	return resp.Messages, nil
}

func (c *Client) call(ctx context.Context, method string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("chat: rate wait: %w", err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("chat: marshal %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/"+method, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("chat: build %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	httpResp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("chat: %s: %w", method, err)
	}
	defer httpResp.Body.Close()

	var resp apiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return fmt.Errorf("chat: decode %s response: %w", method, err)
	}
	if !resp.OK {
		chatLog.Warn("api_call_failed", slog.String("method", method), slog.String("error", resp.Error))
		return fmt.Errorf("chat: %s: %s", method, resp.Error)
	}

	if outResp, ok := out.(*apiResponse); ok {
		*outResp = resp
	}
	return nil
}
