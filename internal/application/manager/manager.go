// ABOUTME: Acquisition session manager owning at most one running ingestion worker
// ABOUTME: Serializes start/stop and exposes state and buffer snapshots to the renderer
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harper/biosignal-recorder/internal/application/config"
	"github.com/harper/biosignal-recorder/internal/domain"
	"github.com/harper/biosignal-recorder/internal/domain/ingest"
	"github.com/harper/biosignal-recorder/internal/infrastructure/ring"
)

type State int

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// SessionConfig is what the operator chooses for a run.
type SessionConfig struct {
	MACAddress   string `json:"mac_address"`
	SamplingRate int    `json:"sampling_rate"`
}

// Snapshot is a consistent copy of the active buffer.
type Snapshot struct {
	SamplingRate int
	Samples      []domain.Sample
}

// Channels derives the channel count from the row arity.
func (s Snapshot) Channels() int {
	if len(s.Samples) == 0 {
		return 0
	}
	return len(s.Samples[0].Channels)
}

type Status struct {
	State     string        `json:"state"`
	Running   bool          `json:"running"`
	Config    SessionConfig `json:"config"`
	SessionID string        `json:"session_id,omitempty"`
	StartedAt *time.Time    `json:"started_at,omitempty"`
	Stats     *ingest.Stats `json:"stats,omitempty"`
	LastError string        `json:"last_error,omitempty"`
}

type Options struct {
	Defaults    SessionConfig
	MinRate     int
	MaxRate     int
	RetentionS  int
	Source      domain.Source // Port is filled in per enumerated sensor
	StopTimeout time.Duration
}

type run struct {
	id      string
	cfg     SessionConfig
	started time.Time
	driver  domain.Driver
	buffer  *ring.Buffer
	worker  *ingest.Worker
	done    chan struct{}
}

// Manager is long-lived; each Start creates a fresh single-use run.
type Manager struct {
	opts      Options
	connector domain.Connector
	sinks     domain.SinkFactory
	catalog   domain.Catalog
	logger    *slog.Logger

	opMu sync.Mutex // serializes Start and Stop

	mu      sync.RWMutex
	state   State
	active  *run
	lastErr error
	last    *ingest.Stats
}

func New(opts Options, connector domain.Connector, sinks domain.SinkFactory, catalog domain.Catalog, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		opts:      opts,
		connector: connector,
		sinks:     sinks,
		catalog:   catalog,
		logger:    logger.With("component", "manager"),
	}
}

func NewFromConfig(cfg *config.Config, connector domain.Connector, sinks domain.SinkFactory, catalog domain.Catalog, logger *slog.Logger) *Manager {
	opts := Options{
		Defaults: SessionConfig{
			MACAddress:   cfg.Device.MACAddress,
			SamplingRate: cfg.Device.SamplingRate,
		},
		MinRate:    cfg.Device.MinSamplingRate,
		MaxRate:    cfg.Device.MaxSamplingRate,
		RetentionS: cfg.Buffering.RetentionS,
		Source: domain.Source{
			FreqDivisor: cfg.Device.Source.FreqDivisor,
			Bits:        cfg.Device.Source.NBits,
			ChannelMask: cfg.Device.Source.ChannelMask,
		},
		StopTimeout: cfg.StopTimeout(),
	}
	return New(opts, connector, sinks, catalog, logger)
}

// Start begins a run. A run already in progress is fully stopped first,
// so at most one worker ever exists.
func (m *Manager) Start(ctx context.Context, macAddress string, samplingRate int) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if samplingRate < m.opts.MinRate || samplingRate > m.opts.MaxRate {
		return fmt.Errorf("%w: sampling rate %d Hz outside [%d, %d]",
			domain.ErrConfiguration, samplingRate, m.opts.MinRate, m.opts.MaxRate)
	}
	if m.opts.RetentionS < 1 {
		return fmt.Errorf("%w: retention %d s", domain.ErrConfiguration, m.opts.RetentionS)
	}

	if m.State() != StateIdle {
		m.logger.Info("restarting acquisition", "mac", macAddress, "sampling_rate", samplingRate)
		if err := m.stopLocked(ctx); err != nil {
			return fmt.Errorf("stop previous session: %w", err)
		}
	}

	m.setState(StateStarting)

	r, err := m.open(ctx, SessionConfig{MACAddress: macAddress, SamplingRate: samplingRate})
	if err != nil {
		m.mu.Lock()
		m.state = StateIdle
		m.lastErr = err
		m.mu.Unlock()
		m.logger.Error("start failed", "mac", macAddress, "error", err)
		return err
	}

	if m.catalog != nil {
		rec := domain.SessionRecord{
			ID:           r.id,
			MACAddress:   r.cfg.MACAddress,
			SamplingRate: r.cfg.SamplingRate,
			StartedAt:    r.started,
		}
		if err := m.catalog.BeginSession(ctx, rec); err != nil {
			m.logger.Warn("catalog begin failed", "session", r.id, "error", err)
		}
	}

	m.mu.Lock()
	m.active = r
	m.state = StateRunning
	m.lastErr = nil
	m.last = nil
	m.mu.Unlock()

	go m.supervise(r)

	m.logger.Info("acquisition started", "session", r.id, "mac", macAddress, "sampling_rate", samplingRate)
	return nil
}

func (m *Manager) open(ctx context.Context, cfg SessionConfig) (*run, error) {
	drv, err := m.connector.Connect(ctx, cfg.MACAddress)
	if err != nil {
		return nil, asDriverError(fmt.Errorf("connect %s: %w", cfg.MACAddress, err))
	}

	ports, err := drv.SensorPorts(ctx)
	if err == nil && len(ports) == 0 {
		err = errors.New("no sensors found")
	}
	if err != nil {
		if terr := drv.Terminate(); terr != nil {
			m.logger.Warn("terminate driver", "mac", cfg.MACAddress, "error", terr)
		}
		return nil, asDriverError(fmt.Errorf("enumerate sensors on %s: %w", cfg.MACAddress, err))
	}

	sources := make([]domain.Source, len(ports))
	for i, port := range ports {
		src := m.opts.Source
		src.Port = port
		sources[i] = src
	}

	buffer := ring.New(ring.Capacity(cfg.SamplingRate, m.opts.RetentionS))
	worker := ingest.New(ingest.Config{SamplingRate: cfg.SamplingRate, Sources: sources}, drv, m.sinks, buffer, m.logger)

	return &run{
		id:      uuid.NewString(),
		cfg:     cfg,
		started: time.Now(),
		driver:  drv,
		buffer:  buffer,
		worker:  worker,
		done:    make(chan struct{}),
	}, nil
}

// supervise runs the worker and returns the manager to Idle when it exits,
// whether it was stopped or aborted on its own.
func (m *Manager) supervise(r *run) {
	defer close(r.done)

	err := r.worker.Run()
	if terr := r.driver.Terminate(); terr != nil {
		m.logger.Warn("terminate driver", "session", r.id, "error", terr)
	}

	stats := r.worker.Stats()
	if err != nil {
		m.logger.Error("acquisition aborted", "session", r.id, "error", err)
	} else {
		m.logger.Info("acquisition stopped", "session", r.id,
			"filename", stats.Filename, "rows", stats.RowsPersisted, "flush_failures", stats.FlushFailures)
	}

	if m.catalog != nil {
		ended := time.Now()
		rec := domain.SessionRecord{
			ID:            r.id,
			Filename:      stats.Filename,
			Channels:      r.buffer.Arity(),
			EndedAt:       &ended,
			RowsPersisted: stats.RowsPersisted,
			FlushFailures: stats.FlushFailures,
			Status:        domain.StatusCompleted,
		}
		if err != nil {
			rec.Status = domain.StatusFailed
			rec.Error = err.Error()
		}
		if cerr := m.catalog.EndSession(context.Background(), rec); cerr != nil {
			m.logger.Warn("catalog end failed", "session", r.id, "error", cerr)
		}
	}

	m.mu.Lock()
	if m.active == r {
		m.active = nil
		m.state = StateIdle
		m.lastErr = err
		m.last = &stats
	}
	m.mu.Unlock()
}

// Stop signals the worker and waits for it to exit. Stopping an idle
// manager is a no-op.
func (m *Manager) Stop(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.stopLocked(ctx)
}

func (m *Manager) stopLocked(ctx context.Context) error {
	m.mu.Lock()
	r := m.active
	if r == nil {
		m.state = StateIdle
		m.mu.Unlock()
		return nil
	}
	m.state = StateStopping
	m.mu.Unlock()

	r.worker.Stop()

	if m.opts.StopTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.StopTimeout)
		defer cancel()
	}

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		m.logger.Error("worker did not stop in time", "session", r.id, "error", ctx.Err())
		return fmt.Errorf("stop session %s: %w", r.id, ctx.Err())
	}
}

// Shutdown stops any active run. The manager stays usable.
func (m *Manager) Shutdown(ctx context.Context) error {
	return m.Stop(ctx)
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// IsRunning treats Starting as busy so callers do not race a second start.
func (m *Manager) IsRunning() bool {
	s := m.State()
	return s == StateStarting || s == StateRunning
}

// CurrentConfig returns the active run's settings, or the defaults when idle.
func (m *Manager) CurrentConfig() SessionConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active != nil {
		return m.active.cfg
	}
	return m.opts.Defaults
}

// CurrentSnapshot returns the active buffer's contents, or false when idle.
func (m *Manager) CurrentSnapshot() (Snapshot, bool) {
	m.mu.RLock()
	r := m.active
	m.mu.RUnlock()

	if r == nil {
		return Snapshot{}, false
	}
	return Snapshot{SamplingRate: r.cfg.SamplingRate, Samples: r.buffer.Snapshot()}, true
}

func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Status{
		State:   m.state.String(),
		Running: m.state == StateStarting || m.state == StateRunning,
		Config:  m.opts.Defaults,
		Stats:   m.last,
	}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	if r := m.active; r != nil {
		stats := r.worker.Stats()
		started := r.started
		st.Config = r.cfg
		st.SessionID = r.id
		st.StartedAt = &started
		st.Stats = &stats
	}
	return st
}

func (m *Manager) Defaults() SessionConfig {
	return m.opts.Defaults
}

// Limits returns the accepted sampling rate range.
func (m *Manager) Limits() (lo, hi int) {
	return m.opts.MinRate, m.opts.MaxRate
}

// Sessions lists recent runs from the catalog.
func (m *Manager) Sessions(ctx context.Context, limit int) ([]domain.SessionRecord, error) {
	if m.catalog == nil {
		return nil, nil
	}
	return m.catalog.RecentSessions(ctx, limit)
}

func asDriverError(err error) error {
	if errors.Is(err, domain.ErrDriver) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrDriver, err)
}
