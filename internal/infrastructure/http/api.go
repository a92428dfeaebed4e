// ABOUTME: JSON wire types for the renderer API
// ABOUTME: Shared by the HTTP server and the operator client
package http

import (
	"github.com/harper/biosignal-recorder/internal/application/manager"
	"github.com/harper/biosignal-recorder/internal/domain"
)

type ConfigResponse struct {
	Defaults        manager.SessionConfig `json:"defaults"`
	Current         manager.SessionConfig `json:"current"`
	MinSamplingRate int                   `json:"min_sampling_rate"`
	MaxSamplingRate int                   `json:"max_sampling_rate"`
	PollMs          int                   `json:"poll_ms"`
	LengthDisplayS  int                   `json:"length_display_s"`
}

// StartRequest fields left empty fall back to the current configuration.
type StartRequest struct {
	MACAddress   string `json:"mac_address,omitempty"`
	SamplingRate int    `json:"sampling_rate,omitempty"`
}

// SnapshotResponse carries rows as [t, ch1, ch2, ...] with t in seconds.
type SnapshotResponse struct {
	Running      bool        `json:"running"`
	SamplingRate int         `json:"sampling_rate"`
	Channels     int         `json:"channels"`
	Columns      []string    `json:"columns"`
	Rows         [][]float64 `json:"rows"`
	XDomain      []float64   `json:"x_domain,omitempty"`
}

type SessionsResponse struct {
	Sessions []domain.SessionRecord `json:"sessions"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
