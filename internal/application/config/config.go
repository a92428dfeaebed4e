// ABOUTME: YAML configuration parsing, defaults, and validation
// ABOUTME: Defines device, buffering, storage, dashboard, and logging settings
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultMACAddress      = "00:07:80:8C:0A:09"
	DefaultSamplingRate    = 10
	DefaultRetentionS      = 30
	DefaultLengthDisplayS  = 30
	DefaultMinSamplingRate = 10
	DefaultMaxSamplingRate = 1000
)

type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	Device    DeviceConfig    `yaml:"device"`
	Buffering BufferingConfig `yaml:"buffering"`
	Storage   StorageConfig   `yaml:"storage"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Session   SessionConfig   `yaml:"session"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ListenConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DeviceConfig struct {
	MACAddress      string       `yaml:"mac_address"`
	SamplingRate    int          `yaml:"sampling_rate"`
	MinSamplingRate int          `yaml:"min_sampling_rate"`
	MaxSamplingRate int          `yaml:"max_sampling_rate"`
	Sensors         []string     `yaml:"sensors"`
	Realtime        *bool        `yaml:"realtime"`
	Source          SourceConfig `yaml:"source"`
}

// SourceConfig is the descriptor applied to every enumerated sensor port.
type SourceConfig struct {
	FreqDivisor int    `yaml:"freq_divisor"`
	NBits       int    `yaml:"n_bits"`
	ChannelMask uint32 `yaml:"ch_mask"`
}

type BufferingConfig struct {
	RetentionS int `yaml:"retention_s"`
}

type StorageConfig struct {
	DataDir     string `yaml:"data_dir"`
	CatalogPath string `yaml:"catalog_path"`
}

type DashboardConfig struct {
	PollMs         int `yaml:"poll_ms"`
	LengthDisplayS int `yaml:"length_display_s"`
}

type SessionConfig struct {
	StopTimeoutMs int `yaml:"stop_timeout_ms"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads path, falling back to defaults if the file does not exist,
// then applies environment overrides and validates.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listen.Host == "" {
		c.Listen.Host = "127.0.0.1"
	}
	if c.Listen.Port == 0 {
		c.Listen.Port = 8501
	}
	if c.Device.MACAddress == "" {
		c.Device.MACAddress = DefaultMACAddress
	}
	if c.Device.SamplingRate == 0 {
		c.Device.SamplingRate = DefaultSamplingRate
	}
	if c.Device.MinSamplingRate == 0 {
		c.Device.MinSamplingRate = DefaultMinSamplingRate
	}
	if c.Device.MaxSamplingRate == 0 {
		c.Device.MaxSamplingRate = DefaultMaxSamplingRate
	}
	if len(c.Device.Sensors) == 0 {
		c.Device.Sensors = []string{"ECG", "EDA"}
	}
	if c.Device.Realtime == nil {
		realtime := true
		c.Device.Realtime = &realtime
	}
	if c.Device.Source.FreqDivisor == 0 {
		c.Device.Source.FreqDivisor = 1
	}
	if c.Device.Source.NBits == 0 {
		c.Device.Source.NBits = 16
	}
	if c.Device.Source.ChannelMask == 0 {
		c.Device.Source.ChannelMask = 0x01
	}
	if c.Buffering.RetentionS == 0 {
		c.Buffering.RetentionS = DefaultRetentionS
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "data"
	}
	if c.Storage.CatalogPath == "" {
		c.Storage.CatalogPath = c.Storage.DataDir + "/catalog.sqlite"
	}
	if c.Dashboard.PollMs == 0 {
		// two frames at the default rate
		c.Dashboard.PollMs = 2 * 1000 / c.Device.SamplingRate
	}
	if c.Dashboard.LengthDisplayS == 0 {
		c.Dashboard.LengthDisplayS = DefaultLengthDisplayS
	}
	if c.Session.StopTimeoutMs == 0 {
		c.Session.StopTimeoutMs = 10000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("BIOSIGNAL_MAC_ADDRESS"); ok && strings.TrimSpace(v) != "" {
		c.Device.MACAddress = strings.TrimSpace(v)
	}
	if v, ok := lookup("BIOSIGNAL_SAMPLING_RATE"); ok && strings.TrimSpace(v) != "" {
		rate, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("BIOSIGNAL_SAMPLING_RATE: %w", err)
		}
		c.Device.SamplingRate = rate
	}
	if v, ok := lookup("BIOSIGNAL_DATA_DIR"); ok && strings.TrimSpace(v) != "" {
		c.Storage.DataDir = strings.TrimSpace(v)
	}
	if v, ok := lookup("BIOSIGNAL_LISTEN_PORT"); ok && strings.TrimSpace(v) != "" {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("BIOSIGNAL_LISTEN_PORT: %w", err)
		}
		c.Listen.Port = port
	}
	if v, ok := lookup("LOG_LEVEL"); ok && strings.TrimSpace(v) != "" {
		c.Logging.Level = strings.ToLower(strings.TrimSpace(v))
	}
	return nil
}

// Validate checks ranges and cross-field constraints.
func Validate(cfg *Config) error {
	if cfg.Listen.Port < 1 || cfg.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range", cfg.Listen.Port)
	}
	d := cfg.Device
	if d.MinSamplingRate < 1 || d.MaxSamplingRate < d.MinSamplingRate {
		return fmt.Errorf("device sampling rate bounds [%d, %d] invalid", d.MinSamplingRate, d.MaxSamplingRate)
	}
	if err := CheckSamplingRate(cfg, d.SamplingRate); err != nil {
		return err
	}
	if d.Source.NBits != 8 && d.Source.NBits != 16 {
		return fmt.Errorf("device.source.n_bits must be 8 or 16, got %d", d.Source.NBits)
	}
	if d.Source.FreqDivisor < 1 {
		return fmt.Errorf("device.source.freq_divisor must be positive")
	}
	if cfg.Buffering.RetentionS < 1 {
		return fmt.Errorf("buffering.retention_s must be positive")
	}
	if cfg.Dashboard.PollMs < 1 {
		return fmt.Errorf("dashboard.poll_ms must be positive")
	}
	if cfg.Session.StopTimeoutMs < 0 {
		return fmt.Errorf("session.stop_timeout_ms must not be negative")
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q unknown", cfg.Logging.Level)
	}
	return nil
}

// CheckSamplingRate reports whether rate is within the configured bounds.
func CheckSamplingRate(cfg *Config, rate int) error {
	if rate < cfg.Device.MinSamplingRate || rate > cfg.Device.MaxSamplingRate {
		return fmt.Errorf("sampling rate %d Hz outside [%d, %d]",
			rate, cfg.Device.MinSamplingRate, cfg.Device.MaxSamplingRate)
	}
	return nil
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Dashboard.PollMs) * time.Millisecond
}

func (c *Config) StopTimeout() time.Duration {
	return time.Duration(c.Session.StopTimeoutMs) * time.Millisecond
}
