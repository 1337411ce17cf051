package sentry_transport

import (
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap/zapcore"
)

// Config represents the plugin configuration
type Config struct {
	// Enable/disable the plugin
	Enabled bool `mapstructure:"enabled"`

	// Sentry DSN. Empty runs the plugin in dry-run mode.
	DSN string `mapstructure:"dsn"`

	// HTTP transport settings
	Transport TransportConfig `mapstructure:"transport"`

	// Dispatch buffer settings
	Buffer BufferConfig `mapstructure:"buffer"`

	// Client report settings
	ClientReports ClientReportsConfig `mapstructure:"client_reports"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging"`
}

// TransportConfig contains HTTP transport settings
type TransportConfig struct {
	// Request timeout
	Timeout time.Duration `mapstructure:"timeout"`
	// Enable gzip compression
	Compression *bool `mapstructure:"compression"`
	// SSL verification
	SSLVerify *bool `mapstructure:"ssl_verify"`
	// Proxy URL
	Proxy string `mapstructure:"proxy"`
	// Extra request headers
	Headers map[string]string `mapstructure:"headers"`
}

// BufferConfig bounds the number of in-flight sends
type BufferConfig struct {
	// Maximum number of in-flight sends
	Capacity int `mapstructure:"capacity"`
	// How long Stop waits for in-flight sends
	FlushTimeout time.Duration `mapstructure:"flush_timeout"`
}

// ClientReportsConfig controls dropped-event accounting
type ClientReportsConfig struct {
	Enabled  *bool         `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	// Log level for plugin operations
	Level string `mapstructure:"level"`
}

// InitDefaults initializes default configuration values
func (cfg *Config) InitDefaults() {
	if cfg.Transport.Timeout == 0 {
		cfg.Transport.Timeout = 30 * time.Second
	}
	if cfg.Transport.Compression == nil {
		cfg.Transport.Compression = ptrTo(true)
	}
	if cfg.Transport.SSLVerify == nil {
		cfg.Transport.SSLVerify = ptrTo(true)
	}

	if cfg.Buffer.Capacity == 0 {
		cfg.Buffer.Capacity = 100
	}
	if cfg.Buffer.FlushTimeout == 0 {
		cfg.Buffer.FlushTimeout = 2 * time.Second
	}

	if cfg.ClientReports.Enabled == nil {
		cfg.ClientReports.Enabled = ptrTo(true)
	}
	if cfg.ClientReports.Interval == 0 {
		cfg.ClientReports.Interval = 60 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// Validate validates the configuration
func (cfg *Config) Validate() error {
	if cfg.Buffer.Capacity < 0 {
		return fmt.Errorf("buffer.capacity must not be negative, got %d", cfg.Buffer.Capacity)
	}
	if cfg.Transport.Timeout < 0 {
		return fmt.Errorf("transport.timeout must not be negative, got %s", cfg.Transport.Timeout)
	}
	if cfg.ClientReports.Interval < 0 {
		return fmt.Errorf("client_reports.interval must not be negative, got %s", cfg.ClientReports.Interval)
	}
	if _, err := zapcore.ParseLevel(cfg.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if cfg.Transport.Proxy != "" {
		if _, err := url.Parse(cfg.Transport.Proxy); err != nil {
			return fmt.Errorf("transport.proxy: %w", err)
		}
	}

	if cfg.DSN == "" {
		return nil // DSN can be empty to disable transmission
	}
	if _, err := ParseDSN(cfg.DSN); err != nil {
		return err
	}

	return nil
}

func (cfg *Config) compression() bool {
	return cfg.Transport.Compression == nil || *cfg.Transport.Compression
}

func (cfg *Config) sslVerify() bool {
	return cfg.Transport.SSLVerify == nil || *cfg.Transport.SSLVerify
}

func (cfg *Config) clientReportsEnabled() bool {
	return cfg.ClientReports.Enabled == nil || *cfg.ClientReports.Enabled
}
