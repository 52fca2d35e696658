// Package config loads the gattsrv process configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/srg/gattsrv/pkg/att"
	"github.com/srg/gattsrv/pkg/gatt"
)

// Transport kinds.
const (
	TransportL2CAP = "l2cap"
	TransportTCP   = "tcp"
	TransportStdio = "stdio"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds application configuration
type Config struct {
	LogLevel string `yaml:"log_level" default:"info"`

	ServerMaxMTU         int           `yaml:"server_max_mtu" default:"517"`
	IndicationQueueDepth int           `yaml:"indication_queue_depth" default:"4"`
	PrepareQueueDepth    int           `yaml:"prepare_queue_depth" default:"32"`
	EventBuffer          int           `yaml:"event_buffer" default:"64"`
	PushBuffer           int           `yaml:"push_buffer" default:"16"`
	ResponseTimeout      time.Duration `yaml:"response_timeout" default:"30s"`

	Transport Transport `yaml:"transport"`

	// Profile is the path of a YAML device profile; empty selects the built-in profile.
	Profile string `yaml:"profile"`
}

// Transport selects the ATT bearer.
type Transport struct {
	Kind    string `yaml:"kind" default:"tcp"`
	Address string `yaml:"address" default:"127.0.0.1:7001"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file over the defaults. Keys missing from the file keep their default.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: log_level: %v", ErrInvalidConfig, err)
	}
	if c.ServerMaxMTU < att.DefaultMTU || c.ServerMaxMTU > att.MaxMTU {
		return fmt.Errorf("%w: server_max_mtu %d outside [%d, %d]", ErrInvalidConfig, c.ServerMaxMTU, att.DefaultMTU, att.MaxMTU)
	}
	for name, v := range map[string]int{
		"indication_queue_depth": c.IndicationQueueDepth,
		"prepare_queue_depth":    c.PrepareQueueDepth,
		"event_buffer":           c.EventBuffer,
		"push_buffer":            c.PushBuffer,
	} {
		if v < 0 {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalidConfig, name)
		}
	}
	if c.ResponseTimeout < 0 {
		return fmt.Errorf("%w: response_timeout must not be negative", ErrInvalidConfig)
	}
	switch c.Transport.Kind {
	case TransportL2CAP, TransportStdio:
	case TransportTCP:
		if c.Transport.Address == "" {
			return fmt.Errorf("%w: transport.address is required for tcp", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown transport.kind %q", ErrInvalidConfig, c.Transport.Kind)
	}
	return nil
}

// Level returns the configured log level, Info when it does not parse.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
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

// ConnectionOptions converts the engine settings.
func (c *Config) ConnectionOptions() gatt.Options {
	return gatt.Options{
		ServerMaxMTU:         c.ServerMaxMTU,
		IndicationQueueDepth: c.IndicationQueueDepth,
		PrepareQueueDepth:    c.PrepareQueueDepth,
		EventBuffer:          c.EventBuffer,
		PushBuffer:           c.PushBuffer,
		ResponseTimeout:      c.ResponseTimeout,
	}
}
