// ABOUTME: Tests for the daemon HTTP client
// ABOUTME: Uses a canned httptest server to check requests and error decoding
package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/harper/biosignal-recorder/internal/application/manager"
	api "github.com/harper/biosignal-recorder/internal/infrastructure/http"
)

// startMockDaemon answers one route with a canned status and payload.
func startMockDaemon(t *testing.T, method, path string, status int, payload any, seen *api.StartRequest) *Client {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method || r.URL.Path != path {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(api.ErrorResponse{Error: "no route " + r.URL.Path})
			return
		}
		if seen != nil {
			json.NewDecoder(r.Body).Decode(seen)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(payload)
	}))
	t.Cleanup(srv.Close)

	return New(srv.URL)
}

func TestNew_AddsScheme(t *testing.T) {
	c := New("127.0.0.1:9000/")
	if c.base != "http://127.0.0.1:9000" {
		t.Errorf("unexpected base %s", c.base)
	}
	if New("").base != DefaultAddr {
		t.Error("expected default address")
	}
}

func TestStatus(t *testing.T) {
	want := manager.Status{State: "running", Running: true, Config: manager.SessionConfig{MACAddress: "00:07:80:8C:0A:09", SamplingRate: 10}}
	c := startMockDaemon(t, http.MethodGet, "/api/session", http.StatusOK, want, nil)

	got, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if got.State != "running" || !got.Running || got.Config.SamplingRate != 10 {
		t.Errorf("unexpected status %+v", got)
	}
}

func TestStart_SendsBody(t *testing.T) {
	var seen api.StartRequest
	c := startMockDaemon(t, http.MethodPost, "/api/session/start", http.StatusOK, manager.Status{State: "running"}, &seen)

	if _, err := c.Start(context.Background(), "AA:BB:CC:DD:EE:FF", 250); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if seen.MACAddress != "AA:BB:CC:DD:EE:FF" || seen.SamplingRate != 250 {
		t.Errorf("unexpected request %+v", seen)
	}
}

func TestStart_APIError(t *testing.T) {
	c := startMockDaemon(t, http.MethodPost, "/api/session/start", http.StatusBadRequest,
		api.ErrorResponse{Error: "configuration error: sampling rate 5 Hz outside [10, 1000]"}, nil)

	_, err := c.Start(context.Background(), "", 5)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", apiErr.StatusCode)
	}
	if apiErr.Message == "" {
		t.Error("expected message from daemon")
	}
}

func TestSnapshot(t *testing.T) {
	want := api.SnapshotResponse{
		Running:      true,
		SamplingRate: 10,
		Channels:     1,
		Columns:      []string{"t", "ch1"},
		Rows:         [][]float64{{0, 1}, {0.1, 2}},
	}
	c := startMockDaemon(t, http.MethodGet, "/api/snapshot", http.StatusOK, want, nil)

	got, err := c.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if len(got.Rows) != 2 || got.Rows[1][1] != 2 {
		t.Errorf("unexpected rows %v", got.Rows)
	}
}

func TestDaemonUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	if _, err := New(addr).Status(context.Background()); err == nil {
		t.Error("expected connection error")
	}
}
