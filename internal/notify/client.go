// Package notify delivers best-effort messages to the agent gateway.
//
// UI-originated mutations enqueue a notify_gateway job; the Worker drains
// the queue and posts each message once. Failures are logged and counted,
// never surfaced to the request that caused them.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout = 10 * time.Second
	sendPath       = "/api/sessions/send"

	// DefaultSessionKey addresses the gateway's main agent session.
	DefaultSessionKey = "agent:main:main"
)

// ErrDisabled is returned by Send when no gateway URL is configured.
var ErrDisabled = errors.New("gateway not configured")

// Client posts messages to the gateway's session endpoint.
type Client struct {
	baseURL    string
	token      string
	sessionKey string
	httpClient *http.Client
}

// NewClient returns a gateway client. An empty baseURL yields a disabled
// client whose Send returns ErrDisabled.
func NewClient(baseURL, token, sessionKey string) *Client {
	if sessionKey == "" {
		sessionKey = DefaultSessionKey
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		sessionKey: sessionKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

func (c *Client) Enabled() bool {
	return c != nil && c.baseURL != ""
}

type sendRequest struct {
	SessionKey string `json:"sessionKey"`
	Message    string `json:"message"`
}

// Send posts one message. Any non-2xx response is an error.
func (c *Client) Send(ctx context.Context, message string) error {
	if !c.Enabled() {
		return ErrDisabled
	}

	body, err := json.Marshal(sendRequest{SessionKey: c.sessionKey, Message: message})
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+sendPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return nil
}

// Notify renders n and sends it.
func (c *Client) Notify(ctx context.Context, n Notice) error {
	return c.Send(ctx, n.Text())
}
