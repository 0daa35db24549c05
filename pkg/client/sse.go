package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/aftp/pkg/protocol"
)

const (
	reconnectMin = 1 * time.Second
	reconnectMax = 30 * time.Second
)

// Events subscribes to tree mutations at or below prefix and reconnects
// until ctx is cancelled. Both channels are closed when the loop exits.
func (c *Client) Events(ctx context.Context, prefix string) (<-chan protocol.Event, <-chan error) {
	events := make(chan protocol.Event, 100)
	errs := make(chan error, 1)

	go c.subscribeLoop(ctx, prefix, events, errs)

	return events, errs
}

func (c *Client) subscribeLoop(ctx context.Context, prefix string, events chan<- protocol.Event, errs chan<- error) {
	defer close(events)
	defer close(errs)

	reconnectDelay := reconnectMin

	for {
		err := c.connect(ctx, prefix, events)
		if ctx.Err() != nil {
			return
		}
		if IsForbidden(err) || IsNotFound(err) {
			errs <- err
			return
		}

		c.logger.Warn("event stream interrupted",
			zap.Error(err), zap.Duration("reconnect_in", reconnectDelay))

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}

		reconnectDelay *= 2
		if reconnectDelay > reconnectMax {
			reconnectDelay = reconnectMax
		}
	}
}

func (c *Client) connect(ctx context.Context, prefix string, events chan<- protocol.Event) error {
	target := c.baseURL + "/api/v1/events"
	if prefix != "" {
		target += "?path=" + url.QueryEscape(prefix)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	c.prepare(req)

	// The shared client has a whole-request timeout; streams must not.
	stream := *c.httpClient
	stream.Timeout = 0
	resp, err := stream.Do(req)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return readError(resp)
	}

	c.logger.Info("event stream connected", zap.String("url", target))

	scanner := bufio.NewScanner(resp.Body)
	var data string
	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if data != "" {
				var event protocol.Event
				if err := json.Unmarshal([]byte(data), &event); err != nil {
					c.logger.Debug("malformed event", zap.Error(err))
				} else {
					select {
					case events <- event:
					case <-ctx.Done():
						return nil
					}
				}
			}
			data = ""
			continue
		}

		if strings.HasPrefix(line, "data:") {
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read: %w", err)
	}
	return fmt.Errorf("connection closed")
}
