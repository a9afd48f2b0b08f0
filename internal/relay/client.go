package relay

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
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	defaultClientTimeout = 10 * time.Second
	maxEventSize         = 1 << 20
)

// Client talks to a relay server over HTTP for point operations and over a
// websocket for subscriptions.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var _ Mailbox = (*Client)(nil)

// NewClient returns a Client for the relay at baseURL that authenticates
// with the bearer token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: defaultClientTimeout},
	}
}

// StatusError is returned for unexpected relay responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("relay: unexpected status %d: %s", e.StatusCode, e.Body)
}

func (c *Client) entryURL(path string) string {
	return c.baseURL + "/v1/entries/" + path
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	path, err := CleanPath(path)
	if err != nil {
		return nil, err
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.entryURL(path), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build relay request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("relay %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxEventSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read relay response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode == http.StatusBadRequest:
		return nil, fmt.Errorf("%w: %s", ErrMalformed, strings.TrimSpace(string(data)))
	case resp.StatusCode >= 300:
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return data, nil
}

func (c *Client) Put(ctx context.Context, path string, value json.RawMessage) error {
	_, err := c.do(ctx, http.MethodPut, path, value)
	return err
}

func (c *Client) Get(ctx context.Context, path string) (json.RawMessage, error) {
	data, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

func (c *Client) Update(ctx context.Context, path string, fields map[string]any) error {
	body, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to encode fields: %w", err)
	}
	_, err = c.do(ctx, http.MethodPatch, path, body)
	return err
}

func (c *Client) Delete(ctx context.Context, path string) error {
	_, err := c.do(ctx, http.MethodDelete, path, nil)
	return err
}

func (c *Client) Subscribe(ctx context.Context, subtree string) (*Subscription, error) {
	subtree, err := CleanPath(subtree)
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(c.baseURL + "/v1/watch/" + subtree)
	if err != nil {
		return nil, fmt.Errorf("failed to parse relay url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	conn, resp, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + c.token}},
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open relay feed: %w", err)
	}
	conn.SetReadLimit(maxEventSize)

	sub, subCtx := newSubscription(ctx)
	go func() {
		err := readFeed(subCtx, conn, sub)
		if subCtx.Err() != nil {
			conn.Close(websocket.StatusNormalClosure, "")
		} else {
			conn.Close(websocket.StatusInternalError, "feed ended")
		}
		sub.finish(subCtx, err)
	}()
	return sub, nil
}

func readFeed(ctx context.Context, conn *websocket.Conn, sub *Subscription) error {
	for {
		var ev Event
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			if errors.Is(err, context.Canceled) {
				return ctx.Err()
			}
			return fmt.Errorf("relay feed: %w", err)
		}
		if !sub.send(ctx, ev) {
			return ctx.Err()
		}
	}
}
