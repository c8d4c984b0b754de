// Hearthsync - Offline-First Sync Engine for the Hearth Family Organizer
// Copyright 2026 Hearth Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthapp/hearthsync

package engine

import (
	"sync"
	"time"

	"github.com/hearthapp/hearthsync/internal/models"
)

// Snapshot is one immutable view of everything the UI renders: the
// canonical state plus sync status and flags.
type Snapshot struct {
	FamilyID       string            `json:"family_id"`
	State          models.AppState   `json:"state"`
	Status         models.SyncStatus `json:"status"`
	LastSyncAt     time.Time         `json:"last_sync_at"`
	ManualRetrying bool              `json:"manual_retrying,omitempty"`
	ErrorMessage   string            `json:"error_message,omitempty"`
}

// StateStore holds the canonical in-memory state. All mutations happen
// inside a single lock hold via Update, so no partial write is ever
// observable; subscribers are notified with a copy after the lock is
// released.
type StateStore struct {
	mu   sync.RWMutex
	snap Snapshot
	subs []func(Snapshot)
}

// NewStateStore creates an empty store with status loading.
func NewStateStore() *StateStore {
	return &StateStore{snap: Snapshot{Status: models.StatusLoading}}
}

// Get returns the current snapshot.
func (s *StateStore) Get() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Update applies fn to the snapshot under the write lock and notifies
// subscribers with the result.
func (s *StateStore) Update(fn func(*Snapshot)) {
	s.mu.Lock()
	fn(&s.snap)
	snap := s.snap
	subs := append([]func(Snapshot){}, s.subs...)
	s.mu.Unlock()

	for _, sub := range subs {
		sub(snap)
	}
}

// OnChange registers a subscriber invoked after every Update. Subscribers
// must not call back into the store.
func (s *StateStore) OnChange(fn func(Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}
