package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/bpmon/internal/connection"
	"github.com/srg/bpmon/internal/device"
	"github.com/srg/bpmon/internal/pipeline"
	"github.com/srg/bpmon/internal/window"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	LogLevel  string          `yaml:"log_level" default:"info"`
	Device    DeviceConfig    `yaml:"device"`
	Window    WindowConfig    `yaml:"window"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Store     StoreConfig     `yaml:"store"`
	Redis     RedisConfig     `yaml:"redis"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Estimator EstimatorConfig `yaml:"estimator"`
	Capture   CaptureConfig   `yaml:"capture"`
}

type DeviceConfig struct {
	NamePrefix         string        `yaml:"name_prefix" default:"Group12"`
	ServiceUUID        string        `yaml:"service_uuid" default:"a5c298c0-a235-4a32-a4e9-5b42f6bd50e5"`
	CharacteristicUUID string        `yaml:"characteristic_uuid" default:"a5c298c1-a235-4a32-a4e9-5b42f6bd50e5"`
	Adapter            string        `yaml:"adapter" default:"hci0"`
	ScanTimeout        time.Duration `yaml:"scan_timeout" default:"10s"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout" default:"30s"`
	MaxRetries         int           `yaml:"max_retries" default:"3"`
	RetryBackoff       time.Duration `yaml:"retry_backoff" default:"1s"`
	// RetryableReasons lists HCI disconnect reasons that trigger a reconnect.
	// Empty means the remote-user-terminated reason only.
	RetryableReasons []int `yaml:"retryable_reasons"`
}

type WindowConfig struct {
	Capacity  int `yaml:"capacity" default:"1000"`
	Threshold int `yaml:"threshold" default:"10000"`
}

type PipelineConfig struct {
	FrameQueue   int           `yaml:"frame_queue" default:"256"`
	DrainTimeout time.Duration `yaml:"drain_timeout" default:"5s"`
}

type StoreConfig struct {
	Driver   string `yaml:"driver" default:"memory"` // memory, postgres
	DSN      string `yaml:"dsn"`
	MaxConns int    `yaml:"max_conns" default:"4"`
	MaxIdle  int    `yaml:"max_idle" default:"2"`
}

type RedisConfig struct {
	Enabled  bool          `yaml:"enabled" default:"false"`
	Addr     string        `yaml:"addr" default:"localhost:6379"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db" default:"0"`
	Key      string        `yaml:"key" default:"bpmon:latest"`
	Channel  string        `yaml:"channel" default:"bpmon:readings"`
	TTL      time.Duration `yaml:"ttl" default:"0s"`
}

type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled" default:"false"`
	Broker   string `yaml:"broker" default:"tcp://localhost:1883"`
	ClientID string `yaml:"client_id" default:"bpmon"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic" default:"bpmon/latest"`
	QoS      uint8  `yaml:"qos" default:"1"`
	Retained bool   `yaml:"retained" default:"true"`
}

type EstimatorConfig struct {
	// Script is a Lua file providing predict and risk; empty uses the embedded one.
	Script string `yaml:"script"`
}

type CaptureConfig struct {
	Samples int `yaml:"samples" default:"2000"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load applies the YAML file at path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks cross-field rules.
func (c *Config) Validate() error {
	var errs []error
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if err := device.ValidateUUID(c.Device.ServiceUUID, c.Device.CharacteristicUUID); err != nil {
		errs = append(errs, fmt.Errorf("device: %w", err))
	}
	for _, r := range c.Device.RetryableReasons {
		if r < 0 || r > 0xff {
			errs = append(errs, fmt.Errorf("device: retryable reason %d out of range", r))
		}
	}
	if err := c.ConnectionOptions().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("device: %w", err))
	}
	if err := c.WindowOptions().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("window: %w", err))
	}
	if c.Pipeline.FrameQueue <= 0 {
		errs = append(errs, errors.New("pipeline: frame_queue must be positive"))
	}
	switch strings.ToLower(c.Store.Driver) {
	case "memory":
	case "postgres":
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store: dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("store: unknown driver %q", c.Store.Driver))
	}
	if c.MQTT.Enabled && c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt: qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
	}
	if c.Capture.Samples <= 0 {
		errs = append(errs, errors.New("capture: samples must be positive"))
	}
	return errors.Join(errs...)
}

// Level returns the parsed log level, info when unparsable.
func (c *Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

func (c *Config) ConnectionOptions() connection.Options {
	opts := connection.DefaultOptions()
	opts.NamePrefix = c.Device.NamePrefix
	opts.ServiceUUID = c.Device.ServiceUUID
	opts.CharacteristicUUID = c.Device.CharacteristicUUID
	opts.ScanTimeout = c.Device.ScanTimeout
	opts.ConnectTimeout = c.Device.ConnectTimeout
	opts.MaxRetries = c.Device.MaxRetries
	opts.RetryBackoff = c.Device.RetryBackoff
	if len(c.Device.RetryableReasons) > 0 {
		opts.RetryableReasons = make([]device.Reason, 0, len(c.Device.RetryableReasons))
		for _, r := range c.Device.RetryableReasons {
			opts.RetryableReasons = append(opts.RetryableReasons, device.Reason(r))
		}
	}
	return opts
}

func (c *Config) WindowOptions() window.Options {
	return window.Options{Capacity: c.Window.Capacity, Threshold: c.Window.Threshold}
}

func (c *Config) PipelineOptions() pipeline.Options {
	return pipeline.Options{
		Connection:   c.ConnectionOptions(),
		Window:       c.WindowOptions(),
		FrameQueue:   c.Pipeline.FrameQueue,
		DrainTimeout: c.Pipeline.DrainTimeout,
	}
}
