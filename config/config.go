// Package config defines the broadcastd daemon configuration: a JSON
// document with duration fields accepted as strings ("10s", "5m") or
// integer nanoseconds.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dxos-deprecated/broadcast/errors"
)

// Config is the full daemon configuration.
type Config struct {
	Node    NodeConfig    `json:"node"`
	NATS    NATSConfig    `json:"nats"`
	Cache   CacheConfig   `json:"cache"`
	Metrics MetricsConfig `json:"metrics"`
	Logging LoggingConfig `json:"logging"`
}

// NodeConfig identifies the broadcast node.
type NodeConfig struct {
	// ID is the hex-encoded node identifier. Empty means generate one
	// at startup.
	ID string `json:"id,omitempty"`
}

// NATSConfig configures the transport connection.
type NATSConfig struct {
	URL              string        `json:"url"`
	SubjectPrefix    string        `json:"subject_prefix,omitempty"`
	AnnounceInterval time.Duration `json:"announce_interval,omitempty"`
	PeerTTL          time.Duration `json:"peer_ttl,omitempty"`
	ConnectTimeout   time.Duration `json:"connect_timeout,omitempty"`
}

// CacheConfig bounds the dedup cache.
type CacheConfig struct {
	MaxSize int           `json:"max_size"`
	MaxAge  time.Duration `json:"max_age"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port,omitempty"`
	Path    string `json:"path,omitempty"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `json:"level,omitempty"`

	// Format is json or text.
	Format string `json:"format,omitempty"`
}

// DefaultConfig returns the daemon defaults.
func DefaultConfig() Config {
	return Config{
		NATS: NATSConfig{
			URL:              "nats://127.0.0.1:4222",
			SubjectPrefix:    "broadcast",
			AnnounceInterval: time.Second,
			PeerTTL:          3 * time.Second,
			ConnectTimeout:   30 * time.Second,
		},
		Cache: CacheConfig{
			MaxSize: 1000,
			MaxAge:  10 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads a JSON config file and overlays it on the defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.WrapInvalid(err, "config", "Load", fmt.Sprintf("read %s", path))
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.WrapInvalid(err, "config", "Load", fmt.Sprintf("parse %s", path))
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.NATS.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "config", "Validate", "nats.url required")
	}
	if c.Cache.MaxSize <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			fmt.Sprintf("cache.max_size must be positive, got %d", c.Cache.MaxSize))
	}
	if c.Cache.MaxAge <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			fmt.Sprintf("cache.max_age must be positive, got %v", c.Cache.MaxAge))
	}
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			fmt.Sprintf("metrics.port out of range: %d", c.Metrics.Port))
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			fmt.Sprintf("unknown log level %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			fmt.Sprintf("unknown log format %q", c.Logging.Format))
	}
	return nil
}

// UnmarshalJSON accepts duration fields as strings or nanosecond
// integers.
func (c *NATSConfig) UnmarshalJSON(data []byte) error {
	type Alias NATSConfig
	aux := &struct {
		AnnounceInterval json.RawMessage `json:"announce_interval,omitempty"`
		PeerTTL          json.RawMessage `json:"peer_ttl,omitempty"`
		ConnectTimeout   json.RawMessage `json:"connect_timeout,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(c),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	for _, f := range []struct {
		raw  json.RawMessage
		name string
		dst  *time.Duration
	}{
		{aux.AnnounceInterval, "announce_interval", &c.AnnounceInterval},
		{aux.PeerTTL, "peer_ttl", &c.PeerTTL},
		{aux.ConnectTimeout, "connect_timeout", &c.ConnectTimeout},
	} {
		if len(f.raw) == 0 {
			continue
		}
		d, err := parseDurationField(f.raw, f.name)
		if err != nil {
			return err
		}
		*f.dst = d
	}
	return nil
}

// UnmarshalJSON accepts max_age as a string or nanosecond integer.
func (c *CacheConfig) UnmarshalJSON(data []byte) error {
	type Alias CacheConfig
	aux := &struct {
		MaxAge json.RawMessage `json:"max_age,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(c),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if len(aux.MaxAge) > 0 {
		d, err := parseDurationField(aux.MaxAge, "max_age")
		if err != nil {
			return err
		}
		c.MaxAge = d
	}
	return nil
}

// parseDurationField parses a JSON duration that is either a string
// ("10s") or an integer nanosecond count.
func parseDurationField(data json.RawMessage, fieldName string) (time.Duration, error) {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		duration, err := time.ParseDuration(str)
		if err != nil {
			return 0, fmt.Errorf("invalid duration string for %s: %w", fieldName, err)
		}
		return duration, nil
	}

	var nsec int64
	if err := json.Unmarshal(data, &nsec); err != nil {
		return 0, fmt.Errorf("field %s must be a duration string (e.g. '10s') or integer nanoseconds", fieldName)
	}
	return time.Duration(nsec), nil
}
