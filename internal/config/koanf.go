// Troupe - Realtime Community and Event Platform
// Copyright 2026 Troupe contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/troupehq/troupe

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in order.
// The first file found is used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/troupe/config.yaml",
	"/etc/troupe/config.yml",
}

// ConfigPathEnvVar overrides the config file path when set.
const ConfigPathEnvVar = "TROUPE_CONFIG_PATH"

// envPrefix namespaces all configuration environment variables.
const envPrefix = "TROUPE_"

// Load builds the effective configuration: defaults, then the YAML
// config file (if any), then TROUPE_* environment variables.
func Load() (*Config, error) {
	return LoadFrom(findConfigFile())
}

// LoadFrom loads configuration with an explicit config file path.
// An empty path skips the file layer.
func LoadFrom(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// findConfigFile resolves the config file path from the environment
// override or the default search list. Returns "" when none exists.
func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		return p
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envTransform maps TROUPE_* environment variables to config paths.
// Only listed keys are honored; unmapped variables are skipped so
// unrelated environment noise cannot pollute the config.
func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))

	mappings := map[string]string{
		// Server
		"server_addr":       "server.addr",
		"server_jwt_secret": "server.jwt_secret",
		"cors_origins":      "server.cors_origins",
		"rate_limit":        "server.rate_limit",

		// Logging
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",

		// Database
		"duckdb_path":       "database.path",
		"duckdb_max_memory": "database.max_memory",
		"duckdb_threads":    "database.threads",

		// NATS
		"nats_url":            "nats.url",
		"nats_embedded":       "nats.embedded_server",
		"nats_store_dir":      "nats.store_dir",
		"nats_stream_name":    "nats.stream_name",
		"nats_subject_prefix": "nats.subject_prefix",

		// Realtime
		"realtime_release_grace":     "realtime.release_grace",
		"realtime_subscribe_timeout": "realtime.subscribe_timeout",
		"realtime_poll_interval":     "realtime.poll_interval",
		"realtime_send_debounce":     "realtime.send_debounce",
		"realtime_dedup_window":      "realtime.dedup_window",
		"realtime_dedup_capacity":    "realtime.dedup_capacity",

		// Sync
		"sync_enabled":        "sync.enabled",
		"sync_interval":       "sync.interval",
		"sync_cities":         "sync.cities",
		"sync_fetch_limit":    "sync.fetch_limit",
		"sync_window_days":    "sync.window_days",
		"sync_retry_attempts": "sync.retry_attempts",
		"sync_retry_delay":    "sync.retry_delay",

		"bookmyshow_enabled":  "sync.bookmyshow.enabled",
		"bookmyshow_base_url": "sync.bookmyshow.base_url",
		"bookmyshow_api_key":  "sync.bookmyshow.api_key",
		"district_enabled":    "sync.district.enabled",
		"district_base_url":   "sync.district.base_url",
		"district_api_key":    "sync.district.api_key",
		"meetup_enabled":      "sync.meetup.enabled",
		"meetup_base_url":     "sync.meetup.base_url",
		"meetup_api_key":      "sync.meetup.api_key",

		// WAL
		"wal_enabled":        "wal.enabled",
		"wal_dir":            "wal.dir",
		"wal_retry_interval": "wal.retry_interval",
		"wal_max_retries":    "wal.max_retries",
	}

	if mapped, ok := mappings[key]; ok {
		return mapped
	}
	return ""
}
