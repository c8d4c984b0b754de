// Hearthsync - Offline-First Sync Engine for the Hearth Family Organizer
// Copyright 2026 Hearth Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthapp/hearthsync

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the config file search order. The first file
// found wins.
var DefaultConfigPaths = []string{
	"hearthsync.yaml",
	"hearthsync.yml",
	"/etc/hearthsync/config.yaml",
	"/etc/hearthsync/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "HEARTHSYNC_CONFIG"

// envPrefix namespaces every Hearthsync environment variable.
const envPrefix = "HEARTHSYNC_"

// defaultConfig returns the built-in defaults, applied before the config
// file and environment layers.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			URL:        "https://api.hearth.app",
			Timeout:    15 * time.Second,
			MaxRetries: 5,
		},
		Outbox: OutboxConfig{
			Path:       "/data/hearthsync/outbox",
			InMemory:   false,
			SyncWrites: true,
		},
		Sync: SyncConfig{
			RetryInterval:     30 * time.Second,
			ProbeInterval:     15 * time.Second,
			ExpensesPageSize:  50,
			ManualMinInterval: 3 * time.Second,
		},
		Listen: ListenConfig{
			Addr:      "127.0.0.1:7420",
			UIOrigin:  "http://localhost:5173",
			RateLimit: 300,
		},
		Session: SessionConfig{},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load builds the configuration from layered sources:
//  1. Built-in defaults
//  2. Optional YAML config file
//  3. HEARTHSYNC_* environment variables (highest priority)
//
// HEARTHSYNC_SERVER_URL maps to server.url, HEARTHSYNC_OUTBOX_PATH to
// outbox.path, and so on.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransform maps HEARTHSYNC_SECTION_KEY to section.key. Multi-word
// keys keep their underscores: HEARTHSYNC_SYNC_RETRY_INTERVAL ->
// sync.retry_interval.
func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	section, rest, found := strings.Cut(key, "_")
	if !found {
		return section
	}
	return section + "." + rest
}
