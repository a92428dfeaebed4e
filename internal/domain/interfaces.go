// ABOUTME: Domain interfaces for dependency inversion
// ABOUTME: Driver boundary, storage sink, and session catalog abstractions
package domain

import (
	"context"
	"time"
)

// FrameHandler receives one raw frame from the driver loop and reports
// whether the loop should stop.
type FrameHandler func(seq int64, channels []float64) (stop bool)

// Driver is an open connection to an acquisition device.
type Driver interface {
	// SensorPorts enumerates the ports with a sensor attached.
	SensorPorts(ctx context.Context) ([]int, error)
	// OnFrame registers the frame callback. Must be called before Acquire.
	OnFrame(h FrameHandler)
	// Acquire runs the acquisition loop and blocks until the handler asks to
	// stop or the device fails.
	Acquire(samplingRate int, sources []Source) error
	// Terminate releases the device connection.
	Terminate() error
}

// Connector opens a Driver for the device at macAddress.
type Connector interface {
	Connect(ctx context.Context, macAddress string) (Driver, error)
}

// Sink is the append-only storage artifact of one session.
type Sink interface {
	Name() string
	// Append writes rows in order. A failed Append leaves no partial batch behind.
	Append(rows []Sample, samplingRate int) error
	Close() error
}

// SinkFactory opens a new Sink for a session started at start.
type SinkFactory interface {
	Open(start time.Time) (Sink, error)
}

// Catalog records the history of acquisition runs.
type Catalog interface {
	BeginSession(ctx context.Context, rec SessionRecord) error
	EndSession(ctx context.Context, rec SessionRecord) error
	RecentSessions(ctx context.Context, limit int) ([]SessionRecord, error)
}
