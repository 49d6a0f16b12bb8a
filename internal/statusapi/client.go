// Package statusapi issues the homework status request and classifies the
// HTTP outcome.
package statusapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	logx "hwbot/pkg/logx"
)

// DefaultEndpoint is the production homework status endpoint.
const DefaultEndpoint = "https://practicum.yandex.ru/api/user_api/homework_statuses/"

// maxBodyBytes bounds how much of a response body is read.
const maxBodyBytes = 1 << 20

var (
	// ErrRequest covers transport failures, timeouts and unreadable or
	// malformed response bodies.
	ErrRequest = errors.New("request failed")
	// ErrEndpoint means the endpoint answered with a non-OK status.
	ErrEndpoint = errors.New("endpoint error")
)

// Config configures the client.
type Config struct {
	Endpoint string
	Token    string
	Timeout  time.Duration
}

// Client fetches homework statuses. It is safe for concurrent use.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
	log      logx.Logger
}

// New returns a client. A nil httpClient gets one with cfg.Timeout.
func New(cfg Config, httpClient *http.Client, log logx.Logger) (*Client, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("statusapi: invalid endpoint %q: %w", endpoint, err)
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("statusapi: token is empty")
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{endpoint: endpoint, token: cfg.Token, http: httpClient, log: log}, nil
}

// Endpoint returns the URL the client polls.
func (c *Client) Endpoint() string { return c.endpoint }

// Fetch asks for status changes since the given unix timestamp and returns
// the decoded JSON payload. The payload shape is not checked here.
func (c *Client) Fetch(ctx context.Context, since int64) (any, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequest, err)
	}
	q := u.Query()
	q.Set("from_date", strconv.FormatInt(since, 10))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequest, err)
	}
	req.Header.Set("Authorization", "OAuth "+c.token)
	req.Header.Set("Accept", "application/json")

	c.log.Debug("requesting homework statuses", logx.String("endpoint", c.endpoint), logx.Int64("from_date", since))
	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %w", ErrRequest, c.endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response body: %w", ErrRequest, err)
	}
	c.log.Debug("response received", logx.Int("status", resp.StatusCode), logx.Duration("took", time.Since(started)), logx.Int("bytes", len(body)))

	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("%s returned status %d", c.endpoint, resp.StatusCode)
		if detail := errorDetail(body); detail != "" {
			msg += ": " + detail
		}
		return nil, fmt.Errorf("%w: %s", ErrEndpoint, msg)
	}

	var payload any
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: malformed response body: %w", ErrRequest, err)
	}
	// reject trailing tokens
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("%w: malformed response body: trailing data", ErrRequest)
	}
	return payload, nil
}

// errorDetail extracts a server supplied error description from a JSON
// error body. The "error" field wins over "message"; "code" is appended when
// present. Non-JSON bodies yield "".
func errorDetail(body []byte) string {
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return ""
	}

	detail := ""
	switch v := m["error"].(type) {
	case string:
		detail = v
	case map[string]any:
		if s, ok := v["error"].(string); ok {
			detail = s
		} else if s, ok := v["message"].(string); ok {
			detail = s
		}
	}
	if detail == "" {
		if s, ok := m["message"].(string); ok {
			detail = s
		}
	}
	if code, ok := m["code"].(string); ok && code != "" {
		if detail == "" {
			return code
		}
		return detail + " (" + code + ")"
	}
	return detail
}
