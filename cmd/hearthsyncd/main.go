// Hearthsync - Offline-First Sync Engine for the Hearth Family Organizer
// Copyright 2026 Hearth Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthapp/hearthsync

// Command hearthsyncd is the local sync daemon. It owns the durable
// outbox and the canonical in-memory state, reconciles with the remote
// Hearth API in the background, and serves the UI over a localhost HTTP
// and websocket surface.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/hearthapp/hearthsync/internal/api"
	"github.com/hearthapp/hearthsync/internal/client"
	"github.com/hearthapp/hearthsync/internal/config"
	"github.com/hearthapp/hearthsync/internal/connectivity"
	"github.com/hearthapp/hearthsync/internal/engine"
	"github.com/hearthapp/hearthsync/internal/logging"
	"github.com/hearthapp/hearthsync/internal/outbox"
	"github.com/hearthapp/hearthsync/internal/scheduler"
	"github.com/hearthapp/hearthsync/internal/supervisor"
	"github.com/hearthapp/hearthsync/internal/websocket"
)

// staticSession serves credentials from configuration. The host app
// replaces this once it has a real auth flow; the engine only sees the
// Session interface.
type staticSession struct {
	token string
}

func (s staticSession) Token() string  { return s.token }
func (s staticSession) SignedIn() bool { return s.token != "" }

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().Str("addr", cfg.Listen.Addr).Msg("Starting hearthsyncd")

	store, err := outbox.Open(outbox.Config{
		Path:       cfg.Outbox.Path,
		InMemory:   cfg.Outbox.InMemory,
		SyncWrites: cfg.Outbox.SyncWrites,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open outbox store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error().Err(err).Msg("Closing outbox store failed")
		}
	}()

	sess := staticSession{token: cfg.Session.Token}

	remote := client.NewBreakerClient(client.NewClient(client.Config{
		BaseURL:    cfg.Server.URL,
		Timeout:    cfg.Server.Timeout,
		MaxRetries: cfg.Server.MaxRetries,
	}, sess))

	monitor := connectivity.NewMonitor(remote, cfg.Sync.ProbeInterval)
	state := engine.NewStateStore()

	runner := engine.NewRunner(store, remote, state, sess, monitor, engine.Config{
		DefaultTimeout:    cfg.Server.Timeout,
		ExpensesPageSize:  cfg.Sync.ExpensesPageSize,
		ManualMinInterval: cfg.Sync.ManualMinInterval,
	})

	sched := scheduler.New(runner, state, sess, store, cfg.Sync.RetryInterval)
	monitor.OnChange(func(online bool) {
		if online {
			sched.Wake()
		}
	})

	hub := websocket.NewHub()
	state.OnChange(func(snap engine.Snapshot) {
		hub.Broadcast(websocket.MessageTypeState, map[string]interface{}{
			"family_id":       snap.FamilyID,
			"status":          string(snap.Status),
			"state":           snap.State,
			"last_sync_at":    snap.LastSyncAt,
			"manual_retrying": snap.ManualRetrying,
			"error":           snap.ErrorMessage,
		})
	})

	handler := api.NewHandler(runner, state, store, monitor, hub, cfg.Listen.UIOrigin)
	server := api.NewServer(cfg.Listen.Addr, api.NewRouter(handler, api.RouterConfig{
		UIOrigin:  cfg.Listen.UIOrigin,
		RateLimit: cfg.Listen.RateLimit,
	}))

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddSyncService(monitor)
	tree.AddSyncService(sched)
	tree.AddAPIService(hub)
	tree.AddAPIService(server)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	// Bind before the tree starts: the UI gets cached state immediately,
	// and the first successful probe wakes the scheduler to sync.
	if sess.SignedIn() && cfg.Session.FamilyID != "" {
		runner.Bind(ctx, cfg.Session.FamilyID)
	} else {
		logging.Warn().Msg("No session configured, running unbound until sign-in")
	}

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree exited with error")
		os.Exit(1)
	}
	logging.Info().Msg("hearthsyncd stopped")
}
