// Package config loads the presentation server configuration from YAML,
// with environment variable expansion and sane defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/podium/internal/imagecache"
	"github.com/haasonsaas/podium/internal/pipeline"
	"github.com/haasonsaas/podium/internal/ratelimit"
)

// Config is the main configuration structure for Podium.
type Config struct {
	Server    ServerConfig      `yaml:"server"`
	Session   SessionConfig     `yaml:"session"`
	RateLimit ratelimit.Config  `yaml:"rate_limit"`
	Images    imagecache.Config `yaml:"images"`
	Pipeline  pipeline.Config   `yaml:"pipeline"`
	Tunnel    TunnelConfig      `yaml:"tunnel"`
	Logging   LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// ReclaimPort kills whatever process holds the port from a previous
	// crashed run before binding.
	ReclaimPort bool `yaml:"reclaim_port"`
}

type SessionConfig struct {
	PIN           string `yaml:"pin"`
	MaxViewers    int    `yaml:"max_viewers"`
	PresenterName string `yaml:"presenter_name"`
}

type TunnelConfig struct {
	Enabled bool   `yaml:"enabled"`
	Binary  string `yaml:"binary"`
	// Timeout bounds how long to wait for the public URL.
	Timeout time.Duration `yaml:"timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 48632
	}
	if cfg.Session.MaxViewers == 0 {
		cfg.Session.MaxViewers = 100
	}
	if cfg.Session.PresenterName == "" {
		cfg.Session.PresenterName = "Presenter"
	}
	rl := ratelimit.DefaultConfig()
	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = rl.Window
	}
	if cfg.RateLimit.MaxPerWindow == 0 {
		cfg.RateLimit.MaxPerWindow = rl.MaxPerWindow
	}
	if cfg.RateLimit.MinInterval == 0 {
		cfg.RateLimit.MinInterval = rl.MinInterval
	}
	img := imagecache.DefaultConfig()
	if cfg.Images.MaxEntries == 0 {
		cfg.Images.MaxEntries = img.MaxEntries
	}
	if cfg.Images.MaxWidth == 0 {
		cfg.Images.MaxWidth = img.MaxWidth
	}
	if cfg.Images.MaxSizeKB == 0 {
		cfg.Images.MaxSizeKB = img.MaxSizeKB
	}
	if cfg.Images.OptimizeThresholdKB == 0 {
		cfg.Images.OptimizeThresholdKB = img.OptimizeThresholdKB
	}
	if cfg.Images.BatchDelay == 0 {
		cfg.Images.BatchDelay = img.BatchDelay
	}
	pl := pipeline.DefaultConfig()
	if cfg.Pipeline.ContentDebounce == 0 {
		cfg.Pipeline.ContentDebounce = pl.ContentDebounce
	}
	if cfg.Pipeline.CursorThrottle == 0 {
		cfg.Pipeline.CursorThrottle = pl.CursorThrottle
	}
	if cfg.Pipeline.FocusThrottle == 0 {
		cfg.Pipeline.FocusThrottle = pl.FocusThrottle
	}
	if cfg.Pipeline.BackupDelay == 0 {
		cfg.Pipeline.BackupDelay = pl.BackupDelay
	}
	if cfg.Tunnel.Binary == "" {
		cfg.Tunnel.Binary = "cloudflared"
	}
	if cfg.Tunnel.Timeout == 0 {
		cfg.Tunnel.Timeout = 30 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}
