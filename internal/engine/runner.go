// Hearthsync - Offline-First Sync Engine for the Hearth Family Organizer
// Copyright 2026 Hearth Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthapp/hearthsync

// Package engine orchestrates sync passes: flush the outbox, fetch the
// canonical collections, reconcile, persist sync metadata. It is the only
// layer that classifies errors and translates them to sync status.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hearthapp/hearthsync/internal/client"
	"github.com/hearthapp/hearthsync/internal/logging"
	"github.com/hearthapp/hearthsync/internal/metrics"
	"github.com/hearthapp/hearthsync/internal/models"
	"github.com/hearthapp/hearthsync/internal/operation"
	"github.com/hearthapp/hearthsync/internal/outbox"
	"github.com/hearthapp/hearthsync/internal/reconcile"
)

// Trigger names why a sync pass was requested.
type Trigger string

// Trigger values. Auto-retry passes skip the loading status so background
// retries don't flicker the UI.
const (
	TriggerInitial   Trigger = "initial"
	TriggerAutoRetry Trigger = "auto-retry"
	TriggerManual    Trigger = "manual"
)

// Session supplies the current authentication facts. Implemented by the
// host application's session subsystem; Hearthsync only consumes it.
type Session interface {
	Token() string
	SignedIn() bool
}

// Connectivity reports whether the remote server is believed reachable.
type Connectivity interface {
	Online() bool
}

// runState is the single-flight guard: an explicit state machine value
// owned by the Runner instance rather than a package-level flag, so tests
// can instantiate independent runners.
type runState int

const (
	runIdle runState = iota
	runRunning
)

// Options tunes one SyncAll call.
type Options struct {
	Trigger Trigger
	// Timeout bounds each network call of the pass. Zero means the
	// runner default.
	Timeout time.Duration
}

// Config holds runner tuning.
type Config struct {
	// DefaultTimeout bounds each network call when Options.Timeout is
	// zero. Default 15s.
	DefaultTimeout time.Duration

	// ExpensesPageSize is the page-1 fetch size. Default 50.
	ExpensesPageSize int

	// ManualMinInterval throttles manual sync triggers. Default 3s.
	ManualMinInterval time.Duration
}

// Runner drives end-to-end sync passes. All dependencies are injected;
// two runners never share mutable state.
type Runner struct {
	store *outbox.Store
	api   client.API
	state *StateStore
	sess  Session
	conn  Connectivity

	defaultTimeout time.Duration
	pageSize       int
	manualLimit    *rate.Limiter

	mu       sync.Mutex
	run      runState
	familyID string
}

// NewRunner wires a sync runner.
func NewRunner(store *outbox.Store, api client.API, state *StateStore, sess Session, conn Connectivity, cfg Config) *Runner {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 15 * time.Second
	}
	if cfg.ExpensesPageSize <= 0 {
		cfg.ExpensesPageSize = 50
	}
	if cfg.ManualMinInterval <= 0 {
		cfg.ManualMinInterval = 3 * time.Second
	}
	return &Runner{
		store:          store,
		api:            api,
		state:          state,
		sess:           sess,
		conn:           conn,
		defaultTimeout: cfg.DefaultTimeout,
		pageSize:       cfg.ExpensesPageSize,
		manualLimit:    rate.NewLimiter(rate.Every(cfg.ManualMinInterval), 1),
	}
}

// FamilyID returns the family the runner is bound to, empty when unbound.
func (r *Runner) FamilyID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.familyID
}

// Bind binds the runner to a family and seeds displayed metadata from the
// local cache: last-sync timestamp, provisional state from the offline
// snapshot if the family matches. If online it fires an initial sync in
// the background; if offline it settles on status offline, stale when any
// cache existed.
func (r *Runner) Bind(ctx context.Context, familyID string) {
	r.mu.Lock()
	r.familyID = familyID
	r.mu.Unlock()

	meta, hasMeta, err := r.store.LoadCacheMeta(familyID)
	if err != nil {
		logging.Warn().Err(err).Msg("Loading cache meta failed")
	}
	snap, hasSnap, err := r.store.LoadSnapshot()
	if err != nil {
		logging.Warn().Err(err).Msg("Loading offline snapshot failed")
	}
	hasSnap = hasSnap && snap.FamilyID == familyID

	r.state.Update(func(s *Snapshot) {
		s.FamilyID = familyID
		if hasMeta {
			s.LastSyncAt = meta.LastSyncAt
		}
		if hasSnap && s.State.Empty() {
			s.State = snap.State
			s.State.Stale = true
			if s.LastSyncAt.IsZero() {
				s.LastSyncAt = snap.LastSyncAt
			}
		}
	})

	logging.Info().
		Str("family_id", familyID).
		Bool("cached_meta", hasMeta).
		Bool("snapshot", hasSnap).
		Msg("Bound to family")

	if r.conn.Online() && r.sess.SignedIn() {
		go r.SyncAll(ctx, Options{Trigger: TriggerInitial})
		return
	}

	r.state.Update(func(s *Snapshot) {
		s.Status = models.StatusOffline
		s.State.Stale = hasMeta || hasSnap
	})
}

// SignOut destroys the outbox, the offline snapshot and the in-memory
// state. The runner becomes unbound.
func (r *Runner) SignOut() error {
	r.mu.Lock()
	r.familyID = ""
	r.mu.Unlock()

	if err := r.store.Reset(); err != nil {
		return fmt.Errorf("reset outbox on sign-out: %w", err)
	}
	if err := r.store.ClearSnapshot(); err != nil {
		return fmt.Errorf("clear snapshot on sign-out: %w", err)
	}
	r.state.Update(func(s *Snapshot) {
		*s = Snapshot{Status: models.StatusLoading}
	})
	logging.Info().Msg("Signed out, local sync state destroyed")
	return nil
}

// SyncAll runs one end-to-end sync pass and reports whether it completed
// successfully. It returns false without side effects when a precondition
// fails: no bound family, no session while the device is believed online,
// another pass already in flight, or a throttled manual trigger.
// Concurrent callers are dropped, never queued.
func (r *Runner) SyncAll(ctx context.Context, opts Options) bool {
	if opts.Timeout <= 0 {
		opts.Timeout = r.defaultTimeout
	}
	if opts.Trigger == "" {
		opts.Trigger = TriggerManual
	}

	r.mu.Lock()
	family := r.familyID
	switch {
	case family == "":
		r.mu.Unlock()
		metrics.SyncPassesTotal.WithLabelValues(string(opts.Trigger), "skipped").Inc()
		return false
	case r.run == runRunning:
		r.mu.Unlock()
		metrics.SyncPassesTotal.WithLabelValues(string(opts.Trigger), "skipped").Inc()
		return false
	case !r.sess.SignedIn() && r.conn.Online():
		r.mu.Unlock()
		metrics.SyncPassesTotal.WithLabelValues(string(opts.Trigger), "skipped").Inc()
		return false
	}
	if opts.Trigger == TriggerManual && !r.manualLimit.Allow() {
		r.mu.Unlock()
		metrics.SyncPassesTotal.WithLabelValues(string(opts.Trigger), "skipped").Inc()
		return false
	}
	r.run = runRunning
	r.mu.Unlock()

	start := time.Now()
	defer func() {
		r.mu.Lock()
		r.run = runIdle
		r.mu.Unlock()
		r.state.Update(func(s *Snapshot) {
			s.ManualRetrying = false
		})
	}()

	r.state.Update(func(s *Snapshot) {
		if opts.Trigger == TriggerManual {
			s.ManualRetrying = true
		}
		if opts.Trigger != TriggerAutoRetry {
			s.Status = models.StatusLoading
		}
	})

	if err := r.pass(ctx, family, opts.Timeout); err != nil {
		outcome := r.settleFailure(err)
		metrics.RecordSyncPass(string(opts.Trigger), outcome, time.Since(start))
		return false
	}

	metrics.RecordSyncPass(string(opts.Trigger), "updated", time.Since(start))
	metrics.SyncLastSuccessTimestamp.Set(float64(time.Now().Unix()))
	return true
}

// pass is the success path: flush, fetch, merge, commit, persist.
func (r *Runner) pass(ctx context.Context, family string, timeout time.Duration) error {
	// Flush first so server ids from this batch are known before
	// pending-id resolution runs for the merge.
	if err := r.flush(ctx, family, timeout); err != nil {
		if client.IsNetworkError(err) {
			return err
		}
		// A non-network flush failure (malformed payload 4xx and the
		// like) must not block the canonical-state refresh.
		logging.Warn().Err(err).Msg("Outbox flush failed, continuing to fetch")
	}

	fetched, err := r.fetchCollections(ctx, timeout)
	if err != nil {
		return err
	}

	// The post-flush queue and the previous state are read under the same
	// lock hold that commits the merge: a mutation folded in mid-pass is
	// merge input, never overwritten.
	now := time.Now().UTC()
	var (
		merged models.AppState
		ops    []operation.QueuedOperation
		opsErr error
	)
	r.state.Update(func(s *Snapshot) {
		ops, opsErr = r.store.OperationsForFamily(family)
		if opsErr != nil {
			return
		}
		merged = reconcile.MergeFetched(fetched, s.State, ops)
		merged = reconcile.ApplyPendingMarkers(merged, ops)
		s.State = merged
		s.State.Stale = false
		s.Status = models.StatusUpdated
		s.LastSyncAt = now
		s.ErrorMessage = ""
	})
	if opsErr != nil {
		return fmt.Errorf("read outbox after flush: %w", opsErr)
	}

	if err := r.store.SaveCacheMeta(models.CacheMeta{FamilyID: family, LastSyncAt: now}); err != nil {
		logging.Warn().Err(err).Msg("Persisting cache meta failed")
	}
	if err := r.store.SaveSnapshot(models.Snapshot{FamilyID: family, LastSyncAt: now, State: merged}); err != nil {
		logging.Warn().Err(err).Msg("Persisting offline snapshot failed")
	}

	logging.Info().
		Int("expenses", len(merged.Expenses)).
		Int("todo_lists", len(merged.TodoLists)).
		Int("still_pending", len(ops)).
		Msg("Sync pass completed")
	return nil
}

// flush drains the outbox through the batch endpoint and processes the
// per-operation results and id mappings.
func (r *Runner) flush(ctx context.Context, family string, timeout time.Duration) error {
	queued, err := r.store.OperationsForFamily(family)
	if err != nil {
		return fmt.Errorf("read outbox: %w", err)
	}
	if len(queued) == 0 {
		return nil
	}

	wire := make([]operation.Operation, len(queued))
	for i, q := range queued {
		wire[i] = q.Op
	}

	resp, err := r.api.SyncBatch(ctx, wire, client.BatchOptions{Timeout: timeout})
	if err != nil {
		return err
	}

	acked := make([]string, 0, len(resp.Results))
	for _, res := range resp.Results {
		metrics.BatchOperationsTotal.WithLabelValues(res.Status).Inc()
		switch {
		case res.Status == models.ResultApplied:
			acked = append(acked, res.OperationID)
			metrics.OutboxDroppedTotal.WithLabelValues("applied").Inc()
		case res.Status == models.ResultDuplicate:
			acked = append(acked, res.OperationID)
			metrics.OutboxDroppedTotal.WithLabelValues("duplicate").Inc()
		case res.Error.Terminal():
			// The server says this operation can never succeed. Drop it
			// so it cannot block the rest of the queue forever.
			acked = append(acked, res.OperationID)
			metrics.OutboxDroppedTotal.WithLabelValues("rejected").Inc()
			logging.Warn().
				Str("operation_id", res.OperationID).
				Str("type", res.Type).
				Str("code", res.Error.Code).
				Str("message", res.Error.Message).
				Msg("Dropping permanently rejected operation")
		default:
			// Retryable failure: stays queued for the next flush.
			logging.Debug().
				Str("operation_id", res.OperationID).
				Str("status", res.Status).
				Msg("Operation remains queued")
		}
	}

	// Settlement re-reads the live queue in one transaction, so an
	// operation enqueued while the batch call was in flight survives, and
	// a toggle queued against a creation acknowledged in this batch is
	// rewritten to the server id before its next flush.
	if err := r.store.CompleteFlush(acked, resp.Mappings); err != nil {
		return fmt.Errorf("persist outbox after flush: %w", err)
	}

	// Fold the new server ids into canonical state so the upcoming merge
	// deduplicates against fetched entities.
	if len(resp.Mappings) > 0 {
		r.state.Update(func(s *Snapshot) {
			s.State = reconcile.ApplyEntityMappings(s.State, resp.Mappings)
		})
	}

	logging.Info().
		Str("sync_id", resp.SyncID).
		Int("total", resp.Summary.Total).
		Int("applied", resp.Summary.Applied).
		Int("duplicate", resp.Summary.Duplicate).
		Int("failed", resp.Summary.Failed).
		Msg("Outbox flushed")
	return nil
}

// fetchCollections issues the three canonical fetches concurrently and
// returns the first error, if any.
func (r *Runner) fetchCollections(ctx context.Context, timeout time.Duration) (reconcile.FetchedCollections, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		fetched reconcile.FetchedCollections
		wg      sync.WaitGroup
		errs    [3]error
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		page, err := r.api.FetchExpenses(ctx, r.pageSize, 0)
		if err != nil {
			errs[0] = err
			return
		}
		fetched.Expenses = *page
	}()
	go func() {
		defer wg.Done()
		tags, err := r.api.FetchTags(ctx)
		if err != nil {
			errs[1] = err
			return
		}
		fetched.Tags = tags
	}()
	go func() {
		defer wg.Done()
		page, err := r.api.FetchTodoLists(ctx)
		if err != nil {
			errs[2] = err
			return
		}
		fetched.TodoLists = page.Items
	}()
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return reconcile.FetchedCollections{}, err
		}
	}
	return fetched, nil
}

// settleFailure classifies err, translates it to status, and returns the
// metrics outcome label. Existing data is marked stale, never cleared: a
// failed background sync must not blank the UI.
func (r *Runner) settleFailure(err error) string {
	network := client.IsNetworkError(err) || !r.conn.Online()

	r.state.Update(func(s *Snapshot) {
		if !s.State.Empty() {
			s.State.Stale = true
		}
		if network {
			s.Status = models.StatusOffline
			s.ErrorMessage = ""
		} else {
			s.Status = models.StatusError
			s.ErrorMessage = err.Error()
		}
	})

	if network {
		logging.Info().Err(err).Msg("Sync pass failed: server unreachable")
		return "offline"
	}
	logging.Error().Err(err).Msg("Sync pass failed")
	return "error"
}
