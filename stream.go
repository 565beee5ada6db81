package weathermcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tmaxmax/go-sse"
)

// openStream issues the long-lived GET against <server>/sse. The request runs
// on the client's stream context rather than the bootstrap context, so the
// connection outlives Connect and stays open until Close cancels it. There is
// deliberately no read deadline on this request.
func (c *Client) openStream(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base.JoinPath("sse").String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connect event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return resp.Body, nil
}

// listenStream consumes the event stream until the connection closes or
// errors. It owns two duties: capturing the server-assigned message endpoint
// from the first endpoint event, and feeding decoded protocol messages into
// the inbox in arrival order. Stream failures terminate the loop quietly;
// there is no reconnection.
func (c *Client) listenStream(body io.ReadCloser) {
	defer func() {
		body.Close()
		c.inbox.close()
	}()

	for ev, err := range sse.Read(body, nil) {
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				c.logger.Error("event stream terminated", "err", err)
			}
			return
		}

		switch ev.Type {
		case "endpoint":
			select {
			case <-c.endpointReady:
				// The server assigns the endpoint exactly once per session.
				c.logger.Warn("ignoring duplicate endpoint event", "data", ev.Data)
				continue
			default:
			}

			u, err := url.Parse(strings.TrimSpace(ev.Data))
			if err != nil {
				c.logger.Error("invalid endpoint payload", "data", ev.Data, "err", err)
				continue
			}
			c.endpoint = c.base.ResolveReference(u).String()
			close(c.endpointReady)
		case "message":
			var msg JSONRPCMessage
			if err := json.Unmarshal([]byte(ev.Data), &msg); err != nil {
				// Malformed frames never reach the inbox.
				c.logger.Warn("dropping malformed message frame", "err", err)
				continue
			}
			c.inbox.put(msg)
		default:
			// Keep-alives and anything else the server streams are not ours.
		}
	}
}

// post delivers a message to the session's message endpoint. Responses to
// requests do not come back on this connection; only the HTTP status matters
// here, and anything other than 200 or 202 fails the message.
func (c *Client) post(ctx context.Context, endpoint string, msg JSONRPCMessage) error {
	msgBs, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(msgBs))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return nil
}
