// Package config loads the simulator's YAML configuration file.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level simulator configuration.
type Config struct {
	Device     Device     `yaml:"device"`
	Connection Connection `yaml:"connection"`
	Simulation Simulation `yaml:"simulation"`
	Logging    Logging    `yaml:"logging"`
}

// Device identifies the two stations of the telegram exchange.
type Device struct {
	// ID is the simulator's own station name, the source of outbound telegrams.
	ID string `yaml:"id"`
	// Peer is the remote station name, the destination of outbound telegrams.
	Peer string `yaml:"peer"`
}

// Connection holds the TCP endpoint and socket timing settings.
type Connection struct {
	Host                  string `yaml:"host"`
	Port                  int    `yaml:"port"`
	ConnectTimeoutSeconds int    `yaml:"connect_timeout_seconds"`
	PollIntervalMillis    int    `yaml:"poll_interval_millis"`
}

// AutoLife configures self initiated LIFE pings.
type AutoLife struct {
	Enabled         bool `yaml:"enabled"`
	IntervalSeconds int  `yaml:"interval_seconds"`
}

// Simulation holds the device behavior settings.
type Simulation struct {
	AutoLife           AutoLife `yaml:"auto_life"`
	AutoConfirm        bool     `yaml:"auto_confirm"`
	PongDelayMillis    int      `yaml:"pong_delay_millis"`
	ConfirmDelayMillis int      `yaml:"confirm_delay_millis"`
	JournalCap         int      `yaml:"journal_cap"`
}

// Logging holds the log settings.
type Logging struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Device: Device{
			ID:   "PLC-SIM",
			Peer: "EWM-MFS",
		},
		Connection: Connection{
			Host:                  "127.0.0.1",
			Port:                  5000,
			ConnectTimeoutSeconds: 5,
			PollIntervalMillis:    500,
		},
		Simulation: Simulation{
			AutoLife: AutoLife{
				Enabled:         true,
				IntervalSeconds: 10,
			},
			AutoConfirm:        true,
			PongDelayMillis:    200,
			ConfirmDelayMillis: 500,
			JournalCap:         5000,
		},
		Logging: Logging{
			Level: "info",
		},
	}
}

// Load reads and validates a YAML configuration file. Settings absent from
// the file keep their defaults.
func Load(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for values the connection layer would
// reject, so mistakes surface at load time instead of at connect time.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Device.ID) == "" {
		return fmt.Errorf("device.id must not be empty")
	}

	if strings.TrimSpace(c.Device.Peer) == "" {
		return fmt.Errorf("device.peer must not be empty")
	}

	if strings.TrimSpace(c.Connection.Host) == "" {
		return fmt.Errorf("connection.host must not be empty")
	}

	if c.Connection.Port < 1 || c.Connection.Port > 65535 {
		return fmt.Errorf("connection.port %d out of range [1, 65535]", c.Connection.Port)
	}

	if c.Connection.ConnectTimeoutSeconds < 1 || c.Connection.ConnectTimeoutSeconds > 30 {
		return fmt.Errorf("connection.connect_timeout_seconds %d out of range [1, 30]", c.Connection.ConnectTimeoutSeconds)
	}

	if c.Connection.PollIntervalMillis < 10 || c.Connection.PollIntervalMillis > 2000 {
		return fmt.Errorf("connection.poll_interval_millis %d out of range [10, 2000]", c.Connection.PollIntervalMillis)
	}

	if c.Simulation.AutoLife.IntervalSeconds < 1 {
		return fmt.Errorf("simulation.auto_life.interval_seconds must be positive")
	}

	if c.Simulation.PongDelayMillis < 0 || c.Simulation.ConfirmDelayMillis < 0 {
		return fmt.Errorf("simulation delays must not be negative")
	}

	if c.Simulation.JournalCap < 1 {
		return fmt.Errorf("simulation.journal_cap must be positive")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}

	return nil
}
