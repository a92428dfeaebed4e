// ABOUTME: Tests for acquisition session lifecycle
// ABOUTME: Verifies start/stop transitions, restart exclusivity, and failure handling
package manager

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harper/biosignal-recorder/internal/application/config"
	"github.com/harper/biosignal-recorder/internal/domain"
	"github.com/harper/biosignal-recorder/internal/infrastructure/catalog"
	"github.com/harper/biosignal-recorder/internal/infrastructure/device"
	"github.com/harper/biosignal-recorder/internal/infrastructure/storage"
)

const testMAC = "00:07:80:8C:0A:09"

// countingConnector tracks how many drivers are live at once.
type countingConnector struct {
	inner   domain.Connector
	live    atomic.Int32
	maxLive atomic.Int32
	fail    error
}

func (c *countingConnector) Connect(ctx context.Context, mac string) (domain.Driver, error) {
	if c.fail != nil {
		return nil, c.fail
	}
	drv, err := c.inner.Connect(ctx, mac)
	if err != nil {
		return nil, err
	}
	n := c.live.Add(1)
	for {
		m := c.maxLive.Load()
		if n <= m || c.maxLive.CompareAndSwap(m, n) {
			break
		}
	}
	return &countingDriver{Driver: drv, c: c}, nil
}

type countingDriver struct {
	domain.Driver
	c    *countingConnector
	once sync.Once
}

func (d *countingDriver) Terminate() error {
	d.once.Do(func() { d.c.live.Add(-1) })
	return d.Driver.Terminate()
}

// arityDriver emits frames whose width changes after the first.
type arityDriver struct {
	handler domain.FrameHandler
}

func (d *arityDriver) SensorPorts(ctx context.Context) ([]int, error) { return []int{1}, nil }
func (d *arityDriver) OnFrame(h domain.FrameHandler)                  { d.handler = h }
func (d *arityDriver) Terminate() error                               { return nil }

func (d *arityDriver) Acquire(samplingRate int, sources []domain.Source) error {
	if d.handler(0, []float64{1}) {
		return nil
	}
	d.handler(1, []float64{1, 2})
	return nil
}

type arityConnector struct{}

func (arityConnector) Connect(ctx context.Context, mac string) (domain.Driver, error) {
	return &arityDriver{}, nil
}

// stuckDriver delivers one frame then blocks in Acquire until released.
type stuckDriver struct {
	handler domain.FrameHandler
	entered chan struct{}
	release chan struct{}
}

func (d *stuckDriver) SensorPorts(ctx context.Context) ([]int, error) { return []int{1}, nil }
func (d *stuckDriver) OnFrame(h domain.FrameHandler)                  { d.handler = h }
func (d *stuckDriver) Terminate() error                               { return nil }

func (d *stuckDriver) Acquire(samplingRate int, sources []domain.Source) error {
	d.handler(0, []float64{1})
	close(d.entered)
	<-d.release
	return nil
}

type stuckConnector struct {
	mu      sync.Mutex
	drivers []*stuckDriver
}

func (c *stuckConnector) Connect(ctx context.Context, mac string) (domain.Driver, error) {
	d := &stuckDriver{entered: make(chan struct{}), release: make(chan struct{})}
	c.mu.Lock()
	c.drivers = append(c.drivers, d)
	c.mu.Unlock()
	return d, nil
}

func (c *stuckConnector) driver(i int) *stuckDriver {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drivers[i]
}

// enumFailDriver cannot list its sensors and fails to terminate.
type enumFailDriver struct {
	terminated atomic.Bool
}

func (d *enumFailDriver) SensorPorts(ctx context.Context) ([]int, error) {
	return nil, errors.New("sensor query timed out")
}

func (d *enumFailDriver) OnFrame(h domain.FrameHandler) {}

func (d *enumFailDriver) Acquire(rate int, sources []domain.Source) error { return nil }

func (d *enumFailDriver) Terminate() error {
	d.terminated.Store(true)
	return errors.New("link already closed")
}

type enumFailConnector struct {
	drv *enumFailDriver
}

func (c enumFailConnector) Connect(ctx context.Context, mac string) (domain.Driver, error) {
	return c.drv, nil
}

func newTestManager(t *testing.T, connector domain.Connector) (*Manager, *catalog.Store, string) {
	t.Helper()

	dir := t.TempDir()
	sinks, err := storage.NewFactory(dir)
	if err != nil {
		t.Fatalf("NewFactory failed: %v", err)
	}

	store, err := catalog.Open(":memory:")
	if err != nil {
		t.Fatalf("catalog.Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := config.Default()
	cfg.Session.StopTimeoutMs = 5000

	mgr := NewFromConfig(cfg, connector, sinks, store, nil)
	t.Cleanup(func() { mgr.Shutdown(context.Background()) })
	return mgr, store, dir
}

func simulator() *device.Simulator {
	return device.NewSimulator(device.SimulatorConfig{
		Sensors:  []device.SensorType{device.SensorECG, device.SensorEDA},
		Realtime: true,
	}, nil)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestManager_NewFromConfig(t *testing.T) {
	mgr, _, _ := newTestManager(t, simulator())

	if mgr.State() != StateIdle {
		t.Errorf("expected idle, got %s", mgr.State())
	}
	if mgr.IsRunning() {
		t.Error("expected not running")
	}
	if _, ok := mgr.CurrentSnapshot(); ok {
		t.Error("expected no snapshot while idle")
	}

	cur := mgr.CurrentConfig()
	if cur.MACAddress != config.DefaultMACAddress || cur.SamplingRate != config.DefaultSamplingRate {
		t.Errorf("expected defaults, got %+v", cur)
	}
}

func TestManager_StartStop(t *testing.T) {
	mgr, store, dir := newTestManager(t, simulator())
	ctx := context.Background()

	if err := mgr.Start(ctx, testMAC, 100); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !mgr.IsRunning() {
		t.Fatal("expected running after start")
	}
	if got := mgr.CurrentConfig().SamplingRate; got != 100 {
		t.Errorf("expected active rate 100, got %d", got)
	}

	waitFor(t, "samples", func() bool {
		snap, ok := mgr.CurrentSnapshot()
		return ok && len(snap.Samples) > 0
	})

	snap, _ := mgr.CurrentSnapshot()
	if snap.Channels() != 2 {
		t.Errorf("expected 2 channels, got %d", snap.Channels())
	}
	if snap.SamplingRate != 100 {
		t.Errorf("expected snapshot rate 100, got %d", snap.SamplingRate)
	}

	if err := mgr.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if mgr.State() != StateIdle {
		t.Errorf("expected idle after stop, got %s", mgr.State())
	}
	if _, ok := mgr.CurrentSnapshot(); ok {
		t.Error("expected no snapshot after stop")
	}

	st := mgr.Status()
	if st.Stats == nil || st.Stats.Filename == "" {
		t.Fatalf("expected stats from finished run, got %+v", st)
	}
	if _, err := os.Stat(filepath.Join(dir, st.Stats.Filename+".csv")); err != nil {
		t.Errorf("expected persisted file: %v", err)
	}

	sessions, err := store.RecentSessions(ctx, 10)
	if err != nil {
		t.Fatalf("RecentSessions failed: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 catalog entry, got %d", len(sessions))
	}
	if sessions[0].Status != domain.StatusCompleted {
		t.Errorf("expected completed, got %s", sessions[0].Status)
	}
	if sessions[0].RowsPersisted != st.Stats.RowsPersisted {
		t.Errorf("expected %d rows in catalog, got %d", st.Stats.RowsPersisted, sessions[0].RowsPersisted)
	}
}

func TestManager_StopIdleIsNoop(t *testing.T) {
	mgr, _, _ := newTestManager(t, simulator())

	if err := mgr.Stop(context.Background()); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
	if mgr.State() != StateIdle {
		t.Errorf("expected idle, got %s", mgr.State())
	}
}

func TestManager_InvalidRate(t *testing.T) {
	mgr, _, _ := newTestManager(t, simulator())

	for _, rate := range []int{0, 5, 1001} {
		err := mgr.Start(context.Background(), testMAC, rate)
		if !errors.Is(err, domain.ErrConfiguration) {
			t.Errorf("rate %d: expected ErrConfiguration, got %v", rate, err)
		}
	}
	if mgr.State() != StateIdle {
		t.Errorf("expected idle, got %s", mgr.State())
	}
}

func TestManager_ConnectFailureRevertsToIdle(t *testing.T) {
	mgr, _, _ := newTestManager(t, simulator())

	err := mgr.Start(context.Background(), "not-a-mac", 10)
	if !errors.Is(err, domain.ErrDriver) {
		t.Fatalf("expected ErrDriver, got %v", err)
	}
	if mgr.State() != StateIdle {
		t.Errorf("expected idle, got %s", mgr.State())
	}
	if mgr.Status().LastError == "" {
		t.Error("expected last error to be recorded")
	}
}

func TestManager_UnclassifiedConnectErrorIsDriverError(t *testing.T) {
	mgr, _, _ := newTestManager(t, &countingConnector{fail: errors.New("radio off")})

	err := mgr.Start(context.Background(), testMAC, 10)
	if !errors.Is(err, domain.ErrDriver) {
		t.Fatalf("expected ErrDriver, got %v", err)
	}
}

func TestManager_RestartReplacesSession(t *testing.T) {
	conn := &countingConnector{inner: simulator()}
	mgr, store, _ := newTestManager(t, conn)
	ctx := context.Background()

	if err := mgr.Start(ctx, testMAC, 100); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	first := mgr.Status().SessionID

	if err := mgr.Start(ctx, testMAC, 200); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	second := mgr.Status()
	if second.SessionID == first {
		t.Error("expected a new session id after restart")
	}
	if second.Config.SamplingRate != 200 {
		t.Errorf("expected new rate 200, got %d", second.Config.SamplingRate)
	}
	if conn.live.Load() != 1 {
		t.Errorf("expected exactly one live driver, got %d", conn.live.Load())
	}

	mgr.Stop(ctx)

	sessions, _ := store.RecentSessions(ctx, 10)
	if len(sessions) != 2 {
		t.Errorf("expected 2 catalog entries, got %d", len(sessions))
	}
}

func TestManager_ConcurrentStartsNeverOverlap(t *testing.T) {
	conn := &countingConnector{inner: simulator()}
	mgr, _, _ := newTestManager(t, conn)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := mgr.Start(ctx, testMAC, 100+i); err != nil {
				t.Errorf("Start %d failed: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if got := conn.maxLive.Load(); got != 1 {
		t.Errorf("expected at most 1 live driver, saw %d", got)
	}
	if !mgr.IsRunning() {
		t.Error("expected the last start to be running")
	}

	if err := mgr.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if conn.live.Load() != 0 {
		t.Errorf("expected no live drivers after stop, got %d", conn.live.Load())
	}
}

func TestManager_FatalWorkerErrorReturnsToIdle(t *testing.T) {
	mgr, store, _ := newTestManager(t, arityConnector{})
	ctx := context.Background()

	if err := mgr.Start(ctx, testMAC, 10); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, "idle", func() bool { return mgr.State() == StateIdle })

	st := mgr.Status()
	if st.LastError == "" {
		t.Error("expected last error after fatal frame")
	}

	sessions, _ := store.RecentSessions(ctx, 10)
	if len(sessions) != 1 || sessions[0].Status != domain.StatusFailed {
		t.Errorf("expected one failed session, got %+v", sessions)
	}
}

func TestManager_EnumerationFailureTerminatesDriver(t *testing.T) {
	drv := &enumFailDriver{}
	mgr, store, _ := newTestManager(t, enumFailConnector{drv: drv})

	err := mgr.Start(context.Background(), testMAC, 10)
	if !errors.Is(err, domain.ErrDriver) {
		t.Fatalf("expected ErrDriver, got %v", err)
	}
	if !drv.terminated.Load() {
		t.Error("expected driver terminated after enumeration failure")
	}
	if mgr.State() != StateIdle {
		t.Errorf("expected idle, got %s", mgr.State())
	}

	sessions, err := store.RecentSessions(context.Background(), 10)
	if err != nil {
		t.Fatalf("RecentSessions failed: %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("expected no catalog entry, got %d", len(sessions))
	}
}

func TestManager_StopTimeoutLeavesStoppingThenIdle(t *testing.T) {
	sinks, err := storage.NewFactory(t.TempDir())
	if err != nil {
		t.Fatalf("NewFactory failed: %v", err)
	}
	conn := &stuckConnector{}
	mgr := New(Options{
		Defaults:    SessionConfig{MACAddress: testMAC, SamplingRate: 10},
		MinRate:     10,
		MaxRate:     1000,
		RetentionS:  30,
		Source:      domain.Source{FreqDivisor: 1, Bits: 16, ChannelMask: 0x01},
		StopTimeout: 50 * time.Millisecond,
	}, conn, sinks, nil, nil)
	ctx := context.Background()

	if err := mgr.Start(ctx, testMAC, 10); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	first := conn.driver(0)
	<-first.entered

	err = mgr.Stop(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if mgr.State() != StateStopping {
		t.Errorf("expected stopping after timeout, got %s", mgr.State())
	}
	if mgr.IsRunning() {
		t.Error("expected not running while stopping")
	}

	close(first.release)
	waitFor(t, "idle", func() bool { return mgr.State() == StateIdle })

	if err := mgr.Start(ctx, testMAC, 20); err != nil {
		t.Fatalf("Start after timeout failed: %v", err)
	}
	if got := mgr.CurrentConfig().SamplingRate; got != 20 {
		t.Errorf("expected rate 20, got %d", got)
	}

	second := conn.driver(1)
	<-second.entered
	close(second.release)
	if err := mgr.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if mgr.State() != StateIdle {
		t.Errorf("expected idle, got %s", mgr.State())
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateIdle:     "idle",
		StateStarting: "starting",
		StateRunning:  "running",
		StateStopping: "stopping",
		State(42):     "unknown",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", s, s.String(), want)
		}
	}
}
