package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// reconnectBaseDelay is the initial backoff after a dropped socket.
	reconnectBaseDelay = time.Second

	// reconnectMaxDelay caps the backoff.
	reconnectMaxDelay = 30 * time.Second

	// readDeadline bounds silence on the socket; the platform pings
	// well inside this window.
	readDeadline = 90 * time.Second
)

// EventClient maintains a websocket connection to the platform's event
// stream and dispatches decoded events to a handler.
type EventClient struct {
	wsURL   string
	token   string
	handler func(Event)
}

// NewEventClient returns a client that will dial wsURL with bearer auth.
func NewEventClient(wsURL, token string, handler func(Event)) *EventClient {
	return &EventClient{wsURL: wsURL, token: token, handler: handler}
}

// Run connects and reads events until ctx is cancelled, reconnecting with
// exponential backoff on failure. Always returns ctx.Err().
func (c *EventClient) Run(ctx context.Context) error {
	delay := reconnectBaseDelay
	for {
		if err := c.runOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			chatLog.Warn("event_stream_disconnected",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", delay))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}
	}
}

func (c *EventClient) runOnce(ctx context.Context) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL, header)
	if err != nil {
		return err
	}
	defer conn.Close()

	chatLog.Info("event_stream_connected", slog.String("url", c.wsURL))

	// Close the socket when ctx ends so the read loop unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			chatLog.Debug("event_decode_failed", slog.String("error", err.Error()))
			continue
		}
		if ev.Type == "" {
			continue
		}
		c.handler(ev)
	}
}
