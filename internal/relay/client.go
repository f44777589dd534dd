// Package relay posts finalized sessions to the external storage endpoint.
package relay

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// DefaultTimeout bounds a single submit when the caller sets none.
const DefaultTimeout = 10 * time.Second

// maxBodyBytes caps how much of a relay response is kept.
const maxBodyBytes = 1 << 20

// ErrMissingURL is the Result.Error text for an unconfigured endpoint.
const ErrMissingURL = "missing URL"

// Result is the outcome of one submit. A non-2xx status or a transport
// failure yields OK=false; Status is 0 when no response was received.
type Result struct {
	OK         bool           `json:"ok"`
	Status     int            `json:"status"`
	StatusText string         `json:"statusText,omitempty"`
	Body       string         `json:"body,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Client submits JSON payloads to a relay.
type Client struct {
	http  *http.Client
	token string
}

// Option configures a Client.
type Option func(*Client)

// WithToken sends token as a bearer credential.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http = &http.Client{Timeout: d, Transport: c.http.Transport}
		}
	}
}

// NewClient creates a relay client.
func NewClient(opts ...Option) *Client {
	c := &Client{http: &http.Client{Timeout: DefaultTimeout}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit posts payload as JSON to url. It never returns an error: every
// failure is described by the Result.
func (c *Client) Submit(ctx context.Context, url string, payload any) Result {
	url = strings.TrimSpace(url)
	if url == "" {
		return Result{OK: false, Error: ErrMissingURL}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Result{OK: false, Error: "encode payload: " + err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{OK: false, Error: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{OK: false, Error: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	res := Result{
		OK:         resp.StatusCode >= 200 && resp.StatusCode < 300,
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Body:       string(raw),
		Data:       parseBody(raw),
	}
	if err != nil {
		res.OK = false
		res.Error = "read response: " + err.Error()
		return res
	}
	if !res.OK {
		res.Error = errorText(res)
	}
	return res
}

// parseBody decodes a JSON object response, falling back to wrapping the
// raw text as {"message": text}.
func parseBody(raw []byte) map[string]any {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return nil
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err == nil && data != nil {
		return data
	}
	return map[string]any{"message": text}
}

// errorText picks the most descriptive message for a failed response.
func errorText(r Result) string {
	if r.Data != nil {
		for _, key := range []string{"error", "message"} {
			if s, ok := r.Data[key].(string); ok && s != "" {
				return s
			}
		}
	}
	if r.StatusText != "" {
		return r.StatusText
	}
	return "relay request failed"
}
