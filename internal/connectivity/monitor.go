// Hearthsync - Offline-First Sync Engine for the Hearth Family Organizer
// Copyright 2026 Hearth Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthapp/hearthsync

// Package connectivity tracks whether the Hearth server is reachable by
// probing its health endpoint on an interval. Reachability is a belief,
// not a guarantee: sync passes still handle network errors themselves,
// the monitor only gates when retries are worth attempting.
package connectivity

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hearthapp/hearthsync/internal/logging"
	"github.com/hearthapp/hearthsync/internal/metrics"
)

// Prober checks server reachability. Satisfied by the API client's
// health probe, which bypasses the circuit breaker so recovery is
// observable while the breaker is open.
type Prober interface {
	Healthz(ctx context.Context) error
}

const defaultInterval = 15 * time.Second

// Monitor polls a Prober and publishes online/offline transitions to
// subscribers. It implements suture.Service.
type Monitor struct {
	prober   Prober
	interval time.Duration

	online atomic.Bool

	mu   sync.Mutex
	subs []func(online bool)
}

// NewMonitor creates a monitor. A non-positive interval selects the
// default. The monitor starts offline until the first probe succeeds.
func NewMonitor(prober Prober, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Monitor{prober: prober, interval: interval}
}

// Online reports the last observed reachability.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// OnChange registers a callback invoked on every online/offline
// transition. Callbacks run on the monitor goroutine and must not block.
func (m *Monitor) OnChange(fn func(online bool)) {
	m.mu.Lock()
	m.subs = append(m.subs, fn)
	m.mu.Unlock()
}

// Serve probes immediately, then on every tick, until the context is
// canceled. Returns ctx.Err() on shutdown.
func (m *Monitor) Serve(ctx context.Context) error {
	logging.Info().Dur("interval", m.interval).Msg("Connectivity monitor started")

	m.probe(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("Connectivity monitor stopped")
			return ctx.Err()
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

// String implements fmt.Stringer for supervisor logging.
func (m *Monitor) String() string {
	return "connectivity-monitor"
}

func (m *Monitor) probe(ctx context.Context) {
	err := m.prober.Healthz(ctx)
	m.set(err == nil)
	if err != nil && ctx.Err() == nil {
		logging.Trace().Err(err).Msg("Health probe failed")
	}
}

func (m *Monitor) set(online bool) {
	previous := m.online.Swap(online)
	if previous == online {
		return
	}

	if online {
		metrics.ConnectivityOnline.Set(1)
		metrics.ConnectivityTransitionsTotal.WithLabelValues("online").Inc()
		logging.Info().Msg("Server reachable")
	} else {
		metrics.ConnectivityOnline.Set(0)
		metrics.ConnectivityTransitionsTotal.WithLabelValues("offline").Inc()
		logging.Warn().Msg("Server unreachable")
	}

	m.mu.Lock()
	subs := make([]func(bool), len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()
	for _, fn := range subs {
		fn(online)
	}
}
