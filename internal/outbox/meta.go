// Hearthsync - Offline-First Sync Engine for the Hearth Family Organizer
// Copyright 2026 Hearth Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthapp/hearthsync

package outbox

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/hearthapp/hearthsync/internal/models"
)

// Sync metadata lives in the same Badger database as the outbox: the
// per-family last-sync cache for fast seeding on bind, and the offline
// snapshot that lets a cold start render data without a session.

// SaveCacheMeta persists the per-family sync metadata.
func (s *Store) SaveCacheMeta(meta models.CacheMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal cache meta: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixCacheMeta+meta.FamilyID), data)
	})
}

// LoadCacheMeta returns the cached sync metadata for familyID. The second
// return is false when nothing is stored; malformed stored values are
// treated as missing, never as errors.
func (s *Store) LoadCacheMeta(familyID string) (models.CacheMeta, bool, error) {
	var meta models.CacheMeta
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixCacheMeta + familyID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, &meta); err != nil {
				meta = models.CacheMeta{}
				return nil
			}
			found = true
			return nil
		})
	})
	if err != nil {
		return models.CacheMeta{}, false, fmt.Errorf("load cache meta: %w", err)
	}
	return meta, found, nil
}

// SaveSnapshot persists the offline cold-start snapshot.
func (s *Store) SaveSnapshot(snap models.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keySnapshot), data)
	})
}

// LoadSnapshot returns the offline snapshot if one exists. Malformed stored
// values are treated as missing.
func (s *Store) LoadSnapshot() (models.Snapshot, bool, error) {
	var snap models.Snapshot
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keySnapshot))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, &snap); err != nil {
				snap = models.Snapshot{}
				return nil
			}
			found = true
			return nil
		})
	})
	if err != nil {
		return models.Snapshot{}, false, fmt.Errorf("load snapshot: %w", err)
	}
	return snap, found, nil
}

// ClearSnapshot removes the offline snapshot. Used on sign-out.
func (s *Store) ClearSnapshot() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(keySnapshot))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}
