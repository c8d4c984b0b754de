// Hearthsync - Offline-First Sync Engine for the Hearth Family Organizer
// Copyright 2026 Hearth Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthapp/hearthsync

// Package config loads daemon configuration from layered sources with
// clear precedence: environment variables over config file over built-in
// defaults.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the complete daemon configuration.
type Config struct {
	Server  ServerConfig  `koanf:"server" validate:"required"`
	Outbox  OutboxConfig  `koanf:"outbox" validate:"required"`
	Sync    SyncConfig    `koanf:"sync" validate:"required"`
	Listen  ListenConfig  `koanf:"listen" validate:"required"`
	Session SessionConfig `koanf:"session"`
	Logging LoggingConfig `koanf:"logging"`
}

// ServerConfig points at the remote Hearth API.
type ServerConfig struct {
	// URL is the Hearth API base, e.g. https://api.hearth.app.
	URL string `koanf:"url" validate:"required,url"`

	// Timeout bounds each API call.
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`

	// MaxRetries caps 429 retry attempts per call.
	MaxRetries int `koanf:"max_retries" validate:"gte=0,lte=10"`
}

// OutboxConfig tunes the durable operation queue.
type OutboxConfig struct {
	// Path is the Badger directory. Ignored when InMemory is set.
	Path string `koanf:"path" validate:"required_without=InMemory"`

	// InMemory keeps the queue in RAM. Useful for tests and ephemeral
	// runs; queued operations do not survive a restart.
	InMemory bool `koanf:"in_memory"`

	// SyncWrites fsyncs every enqueue. Slower, but an acknowledged
	// operation survives power loss.
	SyncWrites bool `koanf:"sync_writes"`
}

// SyncConfig tunes the sync runner and retry scheduler.
type SyncConfig struct {
	// RetryInterval is the background retry cadence while degraded.
	RetryInterval time.Duration `koanf:"retry_interval" validate:"gt=0"`

	// ProbeInterval is the connectivity health-probe cadence.
	ProbeInterval time.Duration `koanf:"probe_interval" validate:"gt=0"`

	// ExpensesPageSize is the first-page fetch size.
	ExpensesPageSize int `koanf:"expenses_page_size" validate:"gt=0,lte=200"`

	// ManualMinInterval throttles user-triggered syncs.
	ManualMinInterval time.Duration `koanf:"manual_min_interval" validate:"gte=0"`
}

// ListenConfig configures the local HTTP surface the UI talks to.
type ListenConfig struct {
	// Addr is the listen address. Loopback by default; exposing the
	// daemon beyond localhost is not supported.
	Addr string `koanf:"addr" validate:"required,hostname_port"`

	// UIOrigin is the allowed CORS origin for the frontend.
	UIOrigin string `koanf:"ui_origin" validate:"required"`

	// RateLimit is the per-client request ceiling per minute.
	RateLimit int `koanf:"rate_limit" validate:"gt=0"`
}

// SessionConfig provides static credentials until the host app wires a
// real session subsystem. Token empty means signed out.
type SessionConfig struct {
	FamilyID string `koanf:"family_id"`
	Token    string `koanf:"token"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"omitempty,oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration for structural errors.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
