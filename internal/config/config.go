package config

import (
	"errors"
	"time"

	"explorer/internal/selector"
)

// Config is the top-level configuration struct for the explorer server.
// Field tags use mapstructure for viper unmarshalling.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Data     DataConfig     `mapstructure:"data"`
	Explorer ExplorerConfig `mapstructure:"explorer"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig holds HTTP listener knobs.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	RateLimit       float64       `mapstructure:"rate_limit"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DataConfig points at the dashboard manifest.
type DataConfig struct {
	Manifest string `mapstructure:"manifest"`
}

// ExplorerConfig holds selection and session settings.
type ExplorerConfig struct {
	Padding      selector.Padding `mapstructure:"padding"`
	LinePlots    int              `mapstructure:"line_plots"`
	MaxSessions  int              `mapstructure:"max_sessions"`
	SessionIdle  time.Duration    `mapstructure:"session_idle"`
	EventBacklog int              `mapstructure:"event_backlog"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Default values.
const (
	DefaultServerAddr            = ":8080"
	DefaultServerRateLimit       = 50.0
	DefaultServerShutdownTimeout = 10 * time.Second
	DefaultDataManifest          = "explorer.yaml"
	DefaultPaddingLower          = 0.05
	DefaultPaddingUpper          = 0.05
	DefaultLinePlots             = 2
	DefaultMaxSessions           = 256
	DefaultSessionIdle           = 30 * time.Minute
	DefaultEventBacklog          = 16
	DefaultLogLevel              = "info"
	DefaultLogFormat             = "text"
)

// Sentinel errors for configuration validation.
var (
	// ErrInvalidAddr indicates an empty listen address.
	ErrInvalidAddr = errors.New("server.addr must not be empty")
	// ErrInvalidRateLimit indicates a negative rate limit.
	ErrInvalidRateLimit = errors.New("server.rate_limit must be non-negative")
	// ErrInvalidManifest indicates an empty manifest path.
	ErrInvalidManifest = errors.New("data.manifest must not be empty")
	// ErrInvalidPadding indicates a negative padding fraction.
	ErrInvalidPadding = errors.New("explorer.padding fractions must be non-negative")
	// ErrInvalidLinePlots indicates a non-positive line plot count.
	ErrInvalidLinePlots = errors.New("explorer.line_plots must be positive")
	// ErrInvalidMaxSessions indicates a non-positive session cap.
	ErrInvalidMaxSessions = errors.New("explorer.max_sessions must be positive")
	// ErrInvalidEventBacklog indicates a non-positive subscriber buffer.
	ErrInvalidEventBacklog = errors.New("explorer.event_backlog must be positive")
	// ErrInvalidLogFormat indicates an unknown log format.
	ErrInvalidLogFormat = errors.New("log.format must be text or json")
)

// Validate checks configuration values.
func (c *Config) Validate() error {
	switch {
	case c.Server.Addr == "":
		return ErrInvalidAddr
	case c.Server.RateLimit < 0:
		return ErrInvalidRateLimit
	case c.Data.Manifest == "":
		return ErrInvalidManifest
	case c.Explorer.Padding.Lower < 0 || c.Explorer.Padding.Upper < 0:
		return ErrInvalidPadding
	case c.Explorer.LinePlots <= 0:
		return ErrInvalidLinePlots
	case c.Explorer.MaxSessions <= 0:
		return ErrInvalidMaxSessions
	case c.Explorer.EventBacklog <= 0:
		return ErrInvalidEventBacklog
	case c.Log.Format != "text" && c.Log.Format != "json":
		return ErrInvalidLogFormat
	}
	return nil
}
