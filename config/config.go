// Package config loads the YAML configuration shared by halctl and halmockd.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"hal-rpc/codec"
)

// DefaultSocketPath is where the daemon listens unless configured otherwise.
const DefaultSocketPath = "/tmp/b2ghald.sock"

// Config holds the client and daemon configuration.
type Config struct {
	SocketPath    string        `yaml:"socket_path"`
	ByteOrder     string        `yaml:"byte_order"`
	CallTimeout   time.Duration `yaml:"call_timeout"`
	WaitForSocket time.Duration `yaml:"wait_for_socket"`
	MetricsAddr   string        `yaml:"metrics_addr"`
	LogLevel      string        `yaml:"log_level"`

	Registry Registry `yaml:"registry"`
	Daemon   Daemon   `yaml:"daemon"`
}

// Registry configures endpoint discovery. No endpoints means no registry.
type Registry struct {
	Endpoints []string `yaml:"endpoints"`
	Service   string   `yaml:"service"`
	TTL       int64    `yaml:"ttl"`
}

type Daemon struct {
	Concurrent     bool          `yaml:"concurrent"`
	RateLimit      float64       `yaml:"rate_limit"` // requests per second, 0 disables
	Burst          int           `yaml:"burst"`
	HandlerTimeout time.Duration `yaml:"handler_timeout"`
	Brightness     uint8         `yaml:"brightness"` // initial value of the fake backend
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		SocketPath:  DefaultSocketPath,
		ByteOrder:   "native",
		CallTimeout: 5 * time.Second,
		LogLevel:    "info",
		Registry: Registry{
			Service: "b2ghald",
			TTL:     10,
		},
		Daemon: Daemon{
			Burst:          1,
			HandlerTimeout: 2 * time.Second,
			Brightness:     100,
		},
	}
}

// DefaultPath returns the default config file path: ~/.config/hal-rpc/config.yaml
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".", "hal-rpc.yaml")
	}
	return filepath.Join(dir, "hal-rpc", "config.yaml")
}

// Load reads the configuration from the given YAML file path.
// If the file does not exist, it returns Default() with no error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	var errs []error
	if c.SocketPath == "" {
		errs = append(errs, errors.New("socket_path is empty"))
	}
	if _, err := codec.ParseByteOrder(c.ByteOrder); err != nil {
		errs = append(errs, err)
	}
	if c.CallTimeout < 0 {
		errs = append(errs, errors.New("call_timeout is negative"))
	}
	if c.WaitForSocket < 0 {
		errs = append(errs, errors.New("wait_for_socket is negative"))
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if len(c.Registry.Endpoints) > 0 {
		if c.Registry.Service == "" {
			errs = append(errs, errors.New("registry.service is empty"))
		}
		if c.Registry.TTL <= 0 {
			errs = append(errs, errors.New("registry.ttl must be positive"))
		}
	}
	if c.Daemon.RateLimit < 0 {
		errs = append(errs, errors.New("daemon.rate_limit is negative"))
	}
	if c.Daemon.RateLimit > 0 && c.Daemon.Burst < 1 {
		errs = append(errs, errors.New("daemon.burst must be at least 1 with a rate limit"))
	}
	if c.Daemon.HandlerTimeout < 0 {
		errs = append(errs, errors.New("daemon.handler_timeout is negative"))
	}
	return errors.Join(errs...)
}

// Order returns the configured byte order. Call Validate first.
func (c *Config) Order() codec.ByteOrder {
	order, _ := codec.ParseByteOrder(c.ByteOrder)
	return order
}

// Level returns the configured log level, info if it does not parse.
func (c *Config) Level() zapcore.Level {
	lvl, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}
