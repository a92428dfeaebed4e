// ABOUTME: Simulated acquisition device implementing the driver boundary
// ABOUTME: Emits deterministic synthetic waveforms per sensor port at the sampling rate
package device

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net"
	"sync/atomic"
	"time"

	"github.com/harper/biosignal-recorder/internal/domain"
)

type SimulatorConfig struct {
	// Sensors lists the sensor class on each port, port numbers start at 1.
	Sensors []SensorType
	// Realtime paces frames at the sampling rate. Off in tests.
	Realtime bool
	// MaxFrames ends the acquisition loop after this many frames. 0 runs until stopped.
	MaxFrames int64
}

// Simulator hands out simulated devices for any well-formed MAC address.
type Simulator struct {
	cfg    SimulatorConfig
	logger *slog.Logger
}

func NewSimulator(cfg SimulatorConfig, logger *slog.Logger) *Simulator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulator{cfg: cfg, logger: logger.With("component", "device")}
}

func (s *Simulator) Connect(ctx context.Context, macAddress string) (domain.Driver, error) {
	if _, err := net.ParseMAC(macAddress); err != nil {
		return nil, fmt.Errorf("%w: invalid MAC address %q", domain.ErrDriver, macAddress)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: connect %s: %v", domain.ErrDriver, macAddress, err)
	}
	if len(s.cfg.Sensors) == 0 {
		return nil, fmt.Errorf("%w: no sensors attached to %s", domain.ErrDriver, macAddress)
	}

	s.logger.Info("device connected", "mac", macAddress, "ports", len(s.cfg.Sensors))
	return &simDevice{cfg: s.cfg, mac: macAddress}, nil
}

type simDevice struct {
	cfg        SimulatorConfig
	mac        string
	handler    domain.FrameHandler
	terminated atomic.Bool
}

func (d *simDevice) SensorPorts(ctx context.Context) ([]int, error) {
	if d.terminated.Load() {
		return nil, fmt.Errorf("%w: %s terminated", domain.ErrDriver, d.mac)
	}
	ports := make([]int, len(d.cfg.Sensors))
	for i := range ports {
		ports[i] = i + 1
	}
	return ports, nil
}

func (d *simDevice) OnFrame(h domain.FrameHandler) {
	d.handler = h
}

type channel struct {
	sensor SensorType
	port   int
	index  int
	bits   int
}

func (d *simDevice) Acquire(samplingRate int, sources []domain.Source) error {
	if d.handler == nil {
		return fmt.Errorf("no frame handler registered")
	}
	if samplingRate <= 0 {
		return fmt.Errorf("invalid sampling rate %d", samplingRate)
	}

	var channels []channel
	for _, src := range sources {
		if src.Port < 1 || src.Port > len(d.cfg.Sensors) {
			return fmt.Errorf("no sensor on port %d", src.Port)
		}
		for i := 0; i < src.ChannelCount(); i++ {
			channels = append(channels, channel{
				sensor: d.cfg.Sensors[src.Port-1],
				port:   src.Port,
				index:  i,
				bits:   src.Bits,
			})
		}
	}
	if len(channels) == 0 {
		return fmt.Errorf("no channels enabled")
	}

	var tick <-chan time.Time
	if d.cfg.Realtime {
		ticker := time.NewTicker(time.Second / time.Duration(samplingRate))
		defer ticker.Stop()
		tick = ticker.C
	}

	values := make([]float64, len(channels))
	for seq := int64(0); ; seq++ {
		if d.terminated.Load() {
			return fmt.Errorf("device %s terminated during acquisition", d.mac)
		}
		if d.cfg.MaxFrames > 0 && seq >= d.cfg.MaxFrames {
			return nil
		}
		if tick != nil {
			<-tick
		}

		t := float64(seq) / float64(samplingRate)
		for i, ch := range channels {
			values[i] = ch.sample(t)
		}
		if d.handler(seq, values) {
			return nil
		}
	}
}

func (d *simDevice) Terminate() error {
	d.terminated.Store(true)
	return nil
}

// sample returns an ADC reading for time t, centred in the bit range.
func (c channel) sample(t float64) float64 {
	bits := c.bits
	if bits <= 0 || bits > 24 {
		bits = 16
	}
	mid := float64(int64(1) << (bits - 1))
	phase := float64(c.port) + float64(c.index)*0.5

	var v float64
	switch c.sensor {
	case SensorECG:
		// one beat per second, narrow R peak
		beat := math.Mod(t+phase*0.1, 1.0) - 0.3
		v = math.Exp(-beat*beat/0.0008) - 0.1*math.Sin(2*math.Pi*t)
	case SensorEDA:
		v = 0.3 + 0.2*math.Sin(2*math.Pi*0.05*t+phase)
	case SensorRESP:
		v = math.Sin(2*math.Pi*0.25*t + phase)
	case SensorEMG:
		v = 0.5 * math.Sin(2*math.Pi*37*t+phase) * math.Sin(2*math.Pi*0.5*t)
	default:
		v = math.Sin(2*math.Pi*t + phase)
	}
	return math.Round(mid + 0.4*mid*v)
}
