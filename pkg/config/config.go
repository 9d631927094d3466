// Package config resolves the process configuration: compiled-in defaults,
// then an optional YAML file, then environment overrides, strongest last.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// Storage
	DatabasePath string `yaml:"database_path"`

	// Listeners
	ListenAddr string `yaml:"listen_addr"`
	SMTPAddr   string `yaml:"smtp_addr"`

	// Identity
	Hostname string `yaml:"hostname"`

	// Request handling
	TimeZone string `yaml:"time_zone"`
	LogLevel string `yaml:"log_level"`

	// Ingest limits
	MaxMessageBytes int64 `yaml:"max_message_bytes"`
	MaxRecipients   int   `yaml:"max_recipients"`
}

// Load builds the configuration. MAILDEPOT_CONFIG names an optional YAML
// file; individual MAILDEPOT_* variables override whatever the file set.
func Load() (*Config, error) {
	cfg := &Config{
		DatabasePath:    "maildepot.db",
		ListenAddr:      "127.0.0.1:8025",
		SMTPAddr:        "127.0.0.1:2525",
		TimeZone:        "UTC",
		LogLevel:        "info",
		MaxMessageBytes: 52428800, // 50MB default
		MaxRecipients:   50,
	}
	if hostname, err := os.Hostname(); err == nil {
		cfg.Hostname = hostname
	} else {
		cfg.Hostname = "localhost"
	}

	if path := os.Getenv("MAILDEPOT_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if v := os.Getenv("MAILDEPOT_DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("MAILDEPOT_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("MAILDEPOT_SMTP_ADDR"); v != "" {
		cfg.SMTPAddr = v
	}
	if v := os.Getenv("MAILDEPOT_HOSTNAME"); v != "" {
		cfg.Hostname = v
	}
	if v := os.Getenv("MAILDEPOT_TIME_ZONE"); v != "" {
		cfg.TimeZone = v
	}
	if v := os.Getenv("MAILDEPOT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("MAILDEPOT_MAX_MESSAGE_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid MAILDEPOT_MAX_MESSAGE_BYTES: %w", err)
		}
		cfg.MaxMessageBytes = n
	}
	if v := os.Getenv("MAILDEPOT_MAX_RECIPIENTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid MAILDEPOT_MAX_RECIPIENTS: %w", err)
		}
		cfg.MaxRecipients = n
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration is usable at startup.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("database path is required")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.MaxMessageBytes <= 0 {
		return fmt.Errorf("invalid max message size")
	}
	if c.MaxRecipients <= 0 {
		return fmt.Errorf("invalid max recipients")
	}
	if _, err := time.LoadLocation(c.TimeZone); err != nil {
		return fmt.Errorf("invalid time zone %q: %w", c.TimeZone, err)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return nil
}

// Location resolves the configured time zone. Validate has already
// checked it, so failures fall back to UTC instead of erroring twice.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Level resolves the configured log level, defaulting to info.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}
