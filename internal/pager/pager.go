// Package pager acknowledges alerts against the paging service. One HTTP
// GET, no retries: if the ack fails the alert simply stays open, which is
// the safe direction.
package pager

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/asheshgoplani/opsbridge/internal/logging"
)

var pagerLog = logging.ForComponent(logging.CompPager)

// Client calls the paging service's acknowledge endpoint.
type Client struct {
	ackURL string
	http   *http.Client
}

// NewClient returns a client for the given acknowledge URL. An empty URL
// disables acknowledgement (Ack becomes a logged no-op).
func NewClient(ackURL string) *Client {
	return &Client{
		ackURL: ackURL,
		http:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Ack acknowledges one alert by identifier. Errors are returned for the
// caller to report, never retried.
func (c *Client) Ack(ctx context.Context, identifier string) error {
	if c.ackURL == "" {
		pagerLog.Debug("ack_skipped_no_url", slog.String("identifier", identifier))
		return nil
	}

	u, err := url.Parse(c.ackURL)
	if err != nil {
		return fmt.Errorf("pager: bad ack url: %w", err)
	}
	q := u.Query()
	q.Set("alert", identifier)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("pager: build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("pager: ack %s: %w", identifier, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pager: ack %s: status %d", identifier, resp.StatusCode)
	}

	pagerLog.Info("alert_acknowledged", slog.String("identifier", identifier))
	return nil
}
