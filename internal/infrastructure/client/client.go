// ABOUTME: HTTP client for the biosignald renderer API
// ABOUTME: Used by biosignalctl to query and control the acquisition session
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/harper/biosignal-recorder/internal/application/manager"
	api "github.com/harper/biosignal-recorder/internal/infrastructure/http"
)

// DefaultAddr matches the daemon's default listen address.
const DefaultAddr = "http://127.0.0.1:8501"

// APIError is a non-2xx response from the daemon.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("daemon returned %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	base string
	http *http.Client
}

// New returns a client for the daemon at addr. A bare host:port gets http://.
func New(addr string) *Client {
	if addr == "" {
		addr = DefaultAddr
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &Client{
		base: strings.TrimRight(addr, "/"),
		// stop may wait for the worker to drain
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) Status(ctx context.Context) (manager.Status, error) {
	var st manager.Status
	err := c.do(ctx, http.MethodGet, "/api/session", nil, &st)
	return st, err
}

func (c *Client) Config(ctx context.Context) (api.ConfigResponse, error) {
	var cfg api.ConfigResponse
	err := c.do(ctx, http.MethodGet, "/api/config", nil, &cfg)
	return cfg, err
}

// Start asks the daemon to begin a session. Zero values use the daemon's current settings.
func (c *Client) Start(ctx context.Context, macAddress string, samplingRate int) (manager.Status, error) {
	var st manager.Status
	req := api.StartRequest{MACAddress: macAddress, SamplingRate: samplingRate}
	err := c.do(ctx, http.MethodPost, "/api/session/start", req, &st)
	return st, err
}

func (c *Client) Stop(ctx context.Context) (manager.Status, error) {
	var st manager.Status
	err := c.do(ctx, http.MethodPost, "/api/session/stop", nil, &st)
	return st, err
}

func (c *Client) Snapshot(ctx context.Context) (api.SnapshotResponse, error) {
	var snap api.SnapshotResponse
	err := c.do(ctx, http.MethodGet, "/api/snapshot", nil, &snap)
	return snap, err
}

func (c *Client) Sessions(ctx context.Context, limit int) (api.SessionsResponse, error) {
	path := "/api/sessions"
	if limit > 0 {
		path += "?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	}
	var resp api.SessionsResponse
	err := c.do(ctx, http.MethodGet, path, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("connect to daemon: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e api.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
