// Package client talks to a running zetacoach worker.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/thebtf/zetacoach/internal/session"
)

// DefaultWorkerPort is the port the worker listens on unless overridden.
const DefaultWorkerPort = 37790

// healthTimeout keeps liveness probes fast.
const healthTimeout = 500 * time.Millisecond

// GetWorkerPort returns the worker port from ZETACOACH_WORKER_PORT, or the
// default when it is unset or invalid.
func GetWorkerPort() int {
	if v := os.Getenv("ZETACOACH_WORKER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 && port < 65536 {
			return port
		}
	}
	return DefaultWorkerPort
}

// LocalURL returns the base URL of a worker on this machine.
func LocalURL(port int) string {
	return fmt.Sprintf("http://127.0.0.1:%d", port)
}

// Snapshot is a captured page posted to the worker.
type Snapshot struct {
	HTML       string    `json:"html"`
	URL        string    `json:"url"`
	CapturedAt time.Time `json:"capturedAt"`
	Input      *string   `json:"input,omitempty"`
}

// Error is a non-2xx worker response.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("worker returned %d: %s", e.Status, e.Message)
}

// Client is a worker API client.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a Client for baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// NewLocal creates a Client for the worker on port.
func NewLocal(port int) *Client {
	return New(LocalURL(port))
}

// IsWorkerRunning reports whether a worker answers health checks on port.
func IsWorkerRunning(port int) bool {
	return NewLocal(port).IsRunning(context.Background())
}

// IsRunning reports whether the worker answers its health check.
func (c *Client) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	var out map[string]any
	return c.do(ctx, http.MethodGet, "/api/health", nil, &out) == nil
}

// Version returns the worker's version.
func (c *Client) Version(ctx context.Context) (string, error) {
	var out struct {
		Version string `json:"version"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/version", nil, &out); err != nil {
		return "", err
	}
	return out.Version, nil
}

// GetState returns the worker's live session state.
func (c *Client) GetState(ctx context.Context) (*session.StateView, error) {
	var state session.StateView
	if err := c.do(ctx, http.MethodGet, "/api/state", nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// PostSnapshot submits a snapshot and returns the resulting state.
func (c *Client) PostSnapshot(ctx context.Context, snap Snapshot) (*session.StateView, error) {
	var state session.StateView
	if err := c.do(ctx, http.MethodPost, "/api/snapshots", snap, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// inputEvent is the body of POST /api/input.
type inputEvent struct {
	Value string     `json:"value"`
	At    *time.Time `json:"at,omitempty"`
}

// PostInput submits an input-change event read at the given time and
// returns the resulting state. A zero time lets the worker stamp it.
func (c *Client) PostInput(ctx context.Context, value string, at time.Time) (*session.StateView, error) {
	var state session.StateView
	body := inputEvent{Value: value}
	if !at.IsZero() {
		body.At = &at
	}
	if err := c.do(ctx, http.MethodPost, "/api/input", body, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		msg := string(data)
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &Error{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
