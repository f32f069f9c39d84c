// Package config provides YAML-based configuration loading for tickwire.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root application configuration.
type Config struct {
	// AppName optional logical name of the endpoint/application
	AppName string `mapstructure:"app_name"`

	// Log holds logging configuration
	Log LogConfig `mapstructure:"log"`

	// Transport selects and parameterizes the link
	Transport TransportConfig `mapstructure:"transport"`

	// Conditioner simulates adverse receive conditions (all zero = off)
	Conditioner ConditionerConfig `mapstructure:"conditioner"`

	// Compression selects the packet codec
	Compression CompressionConfig `mapstructure:"compression"`

	// Channels lists the channel kinds registered before traffic starts
	Channels []ChannelConfig `mapstructure:"channels"`

	// Sync tunes clock/tick synchronization
	Sync SyncConfig `mapstructure:"sync"`

	// InputDepth is the input history ring depth in ticks
	InputDepth int `mapstructure:"input_depth"`

	// MTU is the packet size budget in bytes
	MTU int `mapstructure:"mtu"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: list of outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	// Rotation controls file rotation when writing to files
	Rotation RotationConfig `mapstructure:"rotation"`
	// Development toggles development-friendly logging options
	Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// TransportConfig selects a transport variant.
// Example YAML:
//
//	transport:
//	  kind: udp
//	  local_addr: ":7777"
//	---
//	transport:
//	  kind: quic
//	  remote_addr: "10.0.0.2:4433"
type TransportConfig struct {
	Kind string `mapstructure:"kind"` // udp | local | quic | dummy
	// LocalAddr is the UDP listen address
	LocalAddr string `mapstructure:"local_addr"`
	// RemoteAddr is the QUIC dial target
	RemoteAddr string `mapstructure:"remote_addr"`
}

// ConditionerConfig describes the simulated inbound link.
type ConditionerConfig struct {
	LatencyMS int     `mapstructure:"latency_ms"`
	JitterMS  int     `mapstructure:"jitter_ms"`
	Loss      float64 `mapstructure:"loss"`
}

// CompressionConfig selects the packet codec.
type CompressionConfig struct {
	Algorithm string `mapstructure:"algorithm"` // none | zstd | s2
	Level     int    `mapstructure:"level"`
}

// ChannelConfig registers one channel before traffic starts.
type ChannelConfig struct {
	ID   uint8  `mapstructure:"id"`
	Kind string `mapstructure:"kind"`
	// ResendIntervalMS overrides the reliable resend timer
	ResendIntervalMS int `mapstructure:"resend_interval_ms"`
}

// SyncConfig tunes the sync manager.
type SyncConfig struct {
	// NumProbes is the minimum sample count before the link counts as synced
	NumProbes int `mapstructure:"num_probes"`
	// ProbeIntervalMS spaces the timestamped probes while syncing
	ProbeIntervalMS int `mapstructure:"probe_interval_ms"`
	// TickIntervalMS is the simulation step duration, used to convert time to ticks
	TickIntervalMS int `mapstructure:"tick_interval_ms"`
	// ResyncThresholdTicks re-enters syncing when predicted and observed
	// remote tick diverge this far
	ResyncThresholdTicks int `mapstructure:"resync_threshold_ticks"`
	// ChannelID is the channel carrying probe traffic
	ChannelID uint8 `mapstructure:"channel_id"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		AppName: "tickwire",
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stdout"},
			Development: true,
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/tickwire.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Transport:   TransportConfig{Kind: "udp", LocalAddr: ":7777"},
		Compression: CompressionConfig{Algorithm: "none"},
		Channels: []ChannelConfig{
			{ID: 0, Kind: "ordered_reliable"},
			{ID: 1, Kind: "unordered_unreliable"},
		},
		Sync: SyncConfig{
			NumProbes:            8,
			ProbeIntervalMS:      100,
			TickIntervalMS:       16,
			ResyncThresholdTicks: 2,
			ChannelID:            1,
		},
		InputDepth: 32,
		MTU:        1472,
	}
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment overrides.
// Environment variables use the prefix TICKWIRE and `.`/`-` are replaced with `_`.
// Example: TICKWIRE_LOG_LEVEL=debug
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("TICKWIRE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults for viper so env-only configs work
	v.SetDefault("app_name", cfg.AppName)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("transport.kind", cfg.Transport.Kind)
	v.SetDefault("transport.local_addr", cfg.Transport.LocalAddr)
	v.SetDefault("transport.remote_addr", cfg.Transport.RemoteAddr)
	v.SetDefault("conditioner.latency_ms", cfg.Conditioner.LatencyMS)
	v.SetDefault("conditioner.jitter_ms", cfg.Conditioner.JitterMS)
	v.SetDefault("conditioner.loss", cfg.Conditioner.Loss)
	v.SetDefault("compression.algorithm", cfg.Compression.Algorithm)
	v.SetDefault("compression.level", cfg.Compression.Level)
	v.SetDefault("channels", cfg.Channels)
	v.SetDefault("sync.num_probes", cfg.Sync.NumProbes)
	v.SetDefault("sync.probe_interval_ms", cfg.Sync.ProbeIntervalMS)
	v.SetDefault("sync.tick_interval_ms", cfg.Sync.TickIntervalMS)
	v.SetDefault("sync.resync_threshold_ticks", cfg.Sync.ResyncThresholdTicks)
	v.SetDefault("sync.channel_id", cfg.Sync.ChannelID)
	v.SetDefault("input_depth", cfg.InputDepth)
	v.SetDefault("mtu", cfg.MTU)

	// Choose config file
	if path == "" {
		// Allow override via env var
		if envPath := os.Getenv("TICKWIRE_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		// Search common locations with base name `tickwire`
		v.SetConfigName("tickwire")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".tickwire"))
		}
	}

	// Read config file if present; if not found, continue with defaults/env
	if err := v.ReadInConfig(); err != nil {
		var viperConfigFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &viperConfigFileNotFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch lvl {
	case "debug", "info", "warn", "warning", "error":
		// ok
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}

	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}
	c.Transport.Kind = strings.ToLower(strings.TrimSpace(c.Transport.Kind))
	if c.Conditioner.Loss < 0 || c.Conditioner.Loss > 1 {
		return fmt.Errorf("conditioner.loss must be in [0,1], got %v", c.Conditioner.Loss)
	}
	if c.MTU <= 0 {
		c.MTU = 1472
	}
	if c.InputDepth <= 0 {
		c.InputDepth = 32
	}
	if len(c.Channels) == 0 {
		return errors.New("at least one channel must be configured")
	}
	seen := make(map[uint8]bool, len(c.Channels))
	syncFound := false
	for i := range c.Channels {
		c.Channels[i].Kind = strings.ToLower(strings.TrimSpace(c.Channels[i].Kind))
		if seen[c.Channels[i].ID] {
			return fmt.Errorf("duplicate channel id %d", c.Channels[i].ID)
		}
		seen[c.Channels[i].ID] = true
		if c.Channels[i].ID == c.Sync.ChannelID {
			syncFound = true
		}
	}
	if !syncFound {
		return fmt.Errorf("sync.channel_id %d is not a configured channel", c.Sync.ChannelID)
	}
	if c.Sync.NumProbes <= 0 {
		c.Sync.NumProbes = 8
	}
	if c.Sync.ProbeIntervalMS <= 0 {
		c.Sync.ProbeIntervalMS = 100
	}
	if c.Sync.TickIntervalMS <= 0 {
		c.Sync.TickIntervalMS = 16
	}
	if c.Sync.ResyncThresholdTicks <= 0 {
		c.Sync.ResyncThresholdTicks = 2
	}
	return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
