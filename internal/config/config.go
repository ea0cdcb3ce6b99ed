// Troupe - Realtime Community and Event Platform
// Copyright 2026 Troupe contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/troupehq/troupe

// Package config loads and validates service configuration.
// Precedence: struct defaults, then YAML config file, then TROUPE_*
// environment variables.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the Troupe realtime service.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
	Database DatabaseConfig `koanf:"database"`
	NATS     NATSConfig     `koanf:"nats"`
	Realtime RealtimeConfig `koanf:"realtime"`
	Sync     SyncConfig     `koanf:"sync"`
	WAL      WALConfig      `koanf:"wal"`
}

// ServerConfig configures the operational HTTP surface.
type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimit       int           `koanf:"rate_limit"` // requests per minute per IP
	// JWTSecret verifies bearer tokens on the websocket endpoint.
	// Token minting belongs to the auth service, not this one.
	JWTSecret string `koanf:"jwt_secret"`
}

// LoggingConfig configures the zerolog facade.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// DatabaseConfig configures the DuckDB canonical store.
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"` // 0 = runtime.NumCPU()
}

// NATSConfig configures the change-feed transport.
type NATSConfig struct {
	URL            string        `koanf:"url"`
	EmbeddedServer bool          `koanf:"embedded_server"`
	StoreDir       string        `koanf:"store_dir"`
	MaxMemory      int64         `koanf:"max_memory"`
	MaxStore       int64         `koanf:"max_store"`
	StreamName     string        `koanf:"stream_name"`
	SubjectPrefix  string        `koanf:"subject_prefix"`
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
}

// RealtimeConfig tunes the connection manager and subscription layer.
type RealtimeConfig struct {
	// ReleaseGrace delays physical channel teardown after the last
	// reference is released, absorbing rapid attach/detach cycles.
	ReleaseGrace time.Duration `koanf:"release_grace"`

	// SubscribeTimeout bounds subscription establishment; past it the
	// stream proceeds on polling fallback.
	SubscribeTimeout time.Duration `koanf:"subscribe_timeout"`

	// PollInterval is the fallback polling cadence while a channel is
	// not connected.
	PollInterval time.Duration `koanf:"poll_interval"`

	// SendDebounce is the minimum spacing between successive sends.
	SendDebounce time.Duration `koanf:"send_debounce"`

	// DedupWindow and DedupCapacity bound the duplicate tracker.
	DedupWindow   time.Duration `koanf:"dedup_window"`
	DedupCapacity int           `koanf:"dedup_capacity"`

	// RetryMaxAttempts, RetryBaseDelay, RetryMultiplier and
	// RetryMaxDelay form the shared backoff policy.
	RetryMaxAttempts int           `koanf:"retry_max_attempts"`
	RetryBaseDelay   time.Duration `koanf:"retry_base_delay"`
	RetryMultiplier  float64       `koanf:"retry_multiplier"`
	RetryMaxDelay    time.Duration `koanf:"retry_max_delay"`
}

// SyncConfig configures the external event sync orchestrator.
type SyncConfig struct {
	Enabled       bool          `koanf:"enabled"`
	Interval      time.Duration `koanf:"interval"`
	Cities        []string      `koanf:"cities"`
	FetchLimit    int           `koanf:"fetch_limit"`
	WindowDays    int           `koanf:"window_days"`
	RetryAttempts int           `koanf:"retry_attempts"`
	RetryDelay    time.Duration `koanf:"retry_delay"`

	BookMyShow PlatformConfig `koanf:"bookmyshow"`
	District   PlatformConfig `koanf:"district"`
	Meetup     PlatformConfig `koanf:"meetup"`
}

// PlatformConfig configures one external event-source platform.
type PlatformConfig struct {
	Enabled        bool          `koanf:"enabled"`
	BaseURL        string        `koanf:"base_url"`
	APIKey         string        `koanf:"api_key"`
	Timeout        time.Duration `koanf:"timeout"`
	RatePerSecond  float64       `koanf:"rate_per_second"`
	RateBurst      int           `koanf:"rate_burst"`
	BreakerMinReqs uint32        `koanf:"breaker_min_requests"`
}

// WALConfig configures the outbound change-event write-ahead log.
type WALConfig struct {
	Enabled       bool          `koanf:"enabled"`
	Dir           string        `koanf:"dir"`
	RetryInterval time.Duration `koanf:"retry_interval"`
	RetryBackoff  time.Duration `koanf:"retry_backoff"`
	MaxRetries    int           `koanf:"max_retries"`
	EntryTTL      time.Duration `koanf:"entry_ttl"`
}

// defaultConfig returns a Config with all default values. These are
// applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimit:       300,
			JWTSecret:       "",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Database: DatabaseConfig{
			Path:      "/data/troupe.duckdb",
			MaxMemory: "1GB",
			Threads:   0,
		},
		NATS: NATSConfig{
			URL:            "nats://127.0.0.1:4222",
			EmbeddedServer: true,
			StoreDir:       "/data/nats/jetstream",
			MaxMemory:      1 << 30,  // 1GB
			MaxStore:       10 << 30, // 10GB
			StreamName:     "CHANGES",
			SubjectPrefix:  "changes",
			ConnectTimeout: 10 * time.Second,
		},
		Realtime: RealtimeConfig{
			ReleaseGrace:     2 * time.Second,
			SubscribeTimeout: 10 * time.Second,
			PollInterval:     3 * time.Second,
			SendDebounce:     300 * time.Millisecond,
			DedupWindow:      60 * time.Second,
			DedupCapacity:    1000,
			RetryMaxAttempts: 3,
			RetryBaseDelay:   time.Second,
			RetryMultiplier:  2,
			RetryMaxDelay:    30 * time.Second,
		},
		Sync: SyncConfig{
			Enabled:       true,
			Interval:      6 * time.Hour,
			Cities:        []string{"Mumbai", "Delhi", "Bengaluru"},
			FetchLimit:    100,
			WindowDays:    90,
			RetryAttempts: 3,
			RetryDelay:    2 * time.Second,
			BookMyShow: PlatformConfig{
				Enabled:        false,
				Timeout:        15 * time.Second,
				RatePerSecond:  2,
				RateBurst:      5,
				BreakerMinReqs: 10,
			},
			District: PlatformConfig{
				Enabled:        false,
				Timeout:        15 * time.Second,
				RatePerSecond:  2,
				RateBurst:      5,
				BreakerMinReqs: 10,
			},
			Meetup: PlatformConfig{
				Enabled:        false,
				Timeout:        15 * time.Second,
				RatePerSecond:  2,
				RateBurst:      5,
				BreakerMinReqs: 10,
			},
		},
		WAL: WALConfig{
			Enabled:       true,
			Dir:           "/data/wal",
			RetryInterval: 30 * time.Second,
			RetryBackoff:  time.Second,
			MaxRetries:    10,
			EntryTTL:      24 * time.Hour,
		},
	}
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	if c.Realtime.PollInterval <= 0 {
		return fmt.Errorf("realtime.poll_interval must be positive")
	}
	if c.Realtime.RetryMultiplier < 1 {
		return fmt.Errorf("realtime.retry_multiplier must be >= 1")
	}
	if c.Sync.WindowDays <= 0 {
		return fmt.Errorf("sync.window_days must be positive")
	}
	if c.Sync.FetchLimit <= 0 {
		return fmt.Errorf("sync.fetch_limit must be positive")
	}
	for _, p := range []struct {
		name string
		cfg  PlatformConfig
	}{
		{"bookmyshow", c.Sync.BookMyShow},
		{"district", c.Sync.District},
		{"meetup", c.Sync.Meetup},
	} {
		if p.cfg.Enabled && p.cfg.BaseURL == "" {
			return fmt.Errorf("sync.%s.base_url required when enabled", p.name)
		}
	}
	if c.WAL.Enabled && c.WAL.Dir == "" {
		return fmt.Errorf("wal.dir required when wal is enabled")
	}
	return nil
}
