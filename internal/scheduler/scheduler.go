// Hearthsync - Offline-First Sync Engine for the Hearth Family Organizer
// Copyright 2026 Hearth Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthapp/hearthsync

// Package scheduler retries failed syncs in the background. Two things
// wake it: a steady interval tick while the sync status is degraded, and
// the connectivity monitor reporting the server reachable again.
package scheduler

import (
	"context"
	"time"

	"github.com/hearthapp/hearthsync/internal/engine"
	"github.com/hearthapp/hearthsync/internal/logging"
)

// Syncer is the slice of the sync runner the scheduler drives.
type Syncer interface {
	FamilyID() string
	SyncAll(ctx context.Context, opts engine.Options) bool
}

// Backlog exposes the outbox depth, so a reconnect wake can tell whether a
// retry on a healthy status has anything to flush.
type Backlog interface {
	Len() (int, error)
}

const defaultInterval = 30 * time.Second

// Scheduler fires auto-retry sync passes. It implements suture.Service.
type Scheduler struct {
	syncer   Syncer
	state    *engine.StateStore
	sess     engine.Session
	backlog  Backlog
	interval time.Duration

	// wake carries one pending online-transition retry; further
	// transitions while one is pending collapse into it.
	wake chan struct{}
}

// New creates a scheduler. A non-positive interval selects the default.
func New(syncer Syncer, state *engine.StateStore, sess engine.Session, backlog Backlog, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Scheduler{
		syncer:   syncer,
		state:    state,
		sess:     sess,
		backlog:  backlog,
		interval: interval,
		wake:     make(chan struct{}, 1),
	}
}

// Wake requests an immediate retry attempt. Wired to the connectivity
// monitor's offline-to-online transitions; safe to call from any
// goroutine and never blocks.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Serve runs the retry loop until the context is canceled.
func (s *Scheduler) Serve(ctx context.Context) error {
	logging.Info().Dur("interval", s.interval).Msg("Retry scheduler started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("Retry scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.attempt(ctx, false)
		case <-s.wake:
			s.attempt(ctx, true)
		}
	}
}

// String implements fmt.Stringer for supervisor logging.
func (s *Scheduler) String() string {
	return "retry-scheduler"
}

// attempt fires one auto-retry pass when it could plausibly help: the
// status is degraded, or a reconnect wake finds operations still queued
// behind a healthy status.
func (s *Scheduler) attempt(ctx context.Context, reconnect bool) {
	if s.syncer.FamilyID() == "" || !s.sess.SignedIn() {
		return
	}
	snap := s.state.Get()
	if !snap.Status.Degraded() {
		if !reconnect {
			return
		}
		queued, err := s.backlog.Len()
		if err != nil {
			logging.Warn().Err(err).Msg("Reading outbox depth failed")
			return
		}
		if queued == 0 {
			return
		}
	}

	logging.Debug().
		Bool("reconnect", reconnect).
		Str("status", string(snap.Status)).
		Msg("Auto-retry sync attempt")
	s.syncer.SyncAll(ctx, engine.Options{Trigger: engine.TriggerAutoRetry})
}
