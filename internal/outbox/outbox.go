// Hearthsync - Offline-First Sync Engine for the Hearth Family Organizer
// Copyright 2026 Hearth Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthapp/hearthsync

// Package outbox persists the queue of not-yet-acknowledged mutation
// operations in BadgerDB.
//
// Operations are written with SyncWrites (fsync) before Enqueue returns, so
// a crash or restart never loses an operation the caller believes was
// queued. The store is bound to at most one family at a time: presenting a
// different family id destructively resets the queue, which prevents stale
// cross-family operations from ever being flushed.
//
// The same database also holds the per-family sync metadata and the offline
// cold-start snapshot (see meta.go).
package outbox

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/hearthapp/hearthsync/internal/logging"
	"github.com/hearthapp/hearthsync/internal/metrics"
	"github.com/hearthapp/hearthsync/internal/models"
	"github.com/hearthapp/hearthsync/internal/operation"
)

// Key layout. Operation keys embed a zero-padded sequence number so Badger's
// lexicographic iteration yields enqueue order.
const (
	keyFamily   = "meta:family"
	keySnapshot = "meta:snapshot"

	prefixOp        = "op:"
	prefixCacheMeta = "meta:cache:"
)

// ErrClosed is returned by all operations after Close.
var ErrClosed = errors.New("outbox: store is closed")

// Config holds store configuration.
type Config struct {
	// Path is the Badger directory. Ignored when InMemory is set.
	Path string

	// InMemory runs Badger without disk persistence. Tests only.
	InMemory bool

	// SyncWrites forces fsync on every write. Default true in production;
	// disabling trades durability for speed.
	SyncWrites bool
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if !c.InMemory && c.Path == "" {
		return errors.New("outbox: path is required")
	}
	return nil
}

// Store is the durable outbox plus sync metadata, backed by one BadgerDB.
// All mutating methods are serialized by an internal mutex and each runs in
// a single Badger transaction, so no partial write is ever observable.
type Store struct {
	db *badger.DB

	mu      sync.Mutex
	nextSeq uint64
	closed  bool
}

// Open creates or reopens the store at the configured path.
func Open(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(cfg.Path)
	opts.SyncWrites = cfg.SyncWrites
	opts.InMemory = cfg.InMemory
	if cfg.InMemory {
		opts.Dir = ""
		opts.ValueDir = ""
	}
	// Reduce logging verbosity
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	s := &Store{db: db}
	if err := s.loadNextSeq(); err != nil {
		_ = db.Close()
		return nil, err
	}

	depth, _ := s.Len()
	metrics.OutboxDepth.Set(float64(depth))

	logging.Info().
		Str("path", cfg.Path).
		Bool("sync_writes", cfg.SyncWrites).
		Int("queued", depth).
		Msg("Outbox opened")
	return s, nil
}

// Close shuts down the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// loadNextSeq scans the highest existing operation key so new enqueues
// continue the sequence after a restart.
func (s *Store) loadNextSeq() error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration from just past the op: prefix finds the last key.
		it.Seek([]byte(prefixOp + "~"))
		if it.ValidForPrefix([]byte(prefixOp)) {
			var seq uint64
			key := string(it.Item().Key())
			if _, err := fmt.Sscanf(strings.TrimPrefix(key, prefixOp), "%020d", &seq); err == nil {
				s.nextSeq = seq + 1
			}
		}
		return nil
	})
}

func opKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixOp, seq))
}

// OperationsForFamily returns the queue bound to familyID, in enqueue order.
//
// Binding semantics:
//   - bound to familyID: the queue is returned unchanged;
//   - bound to a different family: the queue is atomically reset to empty
//     and rebound (destructive, one-way — no per-family multiplexing);
//   - unbound: adopts familyID and returns existing operations unchanged
//     (covers a queue populated before the workspace identity was known).
func (s *Store) OperationsForFamily(familyID string) ([]operation.QueuedOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	var ops []operation.QueuedOperation
	err := s.db.Update(func(txn *badger.Txn) error {
		reset, err := s.bindFamily(txn, familyID)
		if err != nil {
			return err
		}
		if reset {
			return nil
		}
		ops, err = readOps(txn)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read outbox for family %s: %w", familyID, err)
	}

	metrics.OutboxDepth.Set(float64(len(ops)))
	return ops, nil
}

// bindFamily applies the family binding rules inside txn. Returns true when
// the queue was destructively reset. An empty familyID leaves the store
// unbound: operations may queue before the workspace identity is known and
// are adopted by the first real family presented.
func (s *Store) bindFamily(txn *badger.Txn, familyID string) (bool, error) {
	if familyID == "" {
		return false, nil
	}
	item, err := txn.Get([]byte(keyFamily))
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		// Unbound: adopt without touching queued operations.
		return false, txn.Set([]byte(keyFamily), []byte(familyID))
	case err != nil:
		return false, err
	}

	var bound string
	if err := item.Value(func(val []byte) error {
		bound = string(val)
		return nil
	}); err != nil {
		return false, err
	}

	if bound == familyID {
		return false, nil
	}

	// Bound elsewhere: hard reset, then rebind. Stale operations from the
	// previous family must never be flushed.
	logging.Warn().
		Str("bound_family", bound).
		Str("requested_family", familyID).
		Msg("Outbox family switch, dropping queued operations")
	if err := dropPrefix(txn, prefixOp); err != nil {
		return false, err
	}
	return true, txn.Set([]byte(keyFamily), []byte(familyID))
}

// readOps decodes every queued operation in key order. Malformed entries
// are deleted and skipped: a corrupt record must not wedge the queue.
func readOps(txn *badger.Txn) ([]operation.QueuedOperation, error) {
	var ops []operation.QueuedOperation

	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefixOp)
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek([]byte(prefixOp)); it.ValidForPrefix([]byte(prefixOp)); it.Next() {
		item := it.Item()
		var q operation.QueuedOperation
		err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &q)
		})
		if err != nil {
			logging.Warn().Err(err).Str("key", string(item.Key())).Msg("Dropping malformed outbox entry")
			if delErr := txn.Delete(item.KeyCopy(nil)); delErr != nil {
				return nil, delErr
			}
			continue
		}
		ops = append(ops, q)
	}
	return ops, nil
}

func dropPrefix(txn *badger.Txn, prefix string) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// Enqueue appends op to the queue bound to familyID, stamping CreatedAt.
// For SetTodoCompleted, any queued toggle addressing the same todo is
// removed first: at most one pending toggle per item survives, the latest
// desired state wins, and the queue cannot grow under repeated toggling.
// The write is fsynced before return when SyncWrites is enabled.
func (s *Store) Enqueue(familyID string, op operation.Operation) (operation.QueuedOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return operation.QueuedOperation{}, ErrClosed
	}

	queued := operation.QueuedOperation{Op: op, CreatedAt: time.Now().UTC()}
	data, err := json.Marshal(queued)
	if err != nil {
		return operation.QueuedOperation{}, fmt.Errorf("marshal operation: %w", err)
	}

	var depth int
	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := s.bindFamily(txn, familyID); err != nil {
			return err
		}
		if toggle, ok := op.(operation.SetTodoCompleted); ok {
			if err := s.coalesceToggle(txn, toggle); err != nil {
				return err
			}
		}
		if err := txn.Set(opKey(s.nextSeq), data); err != nil {
			return err
		}
		existing, err := readOps(txn)
		if err != nil {
			return err
		}
		depth = len(existing)
		return nil
	})
	if err != nil {
		return operation.QueuedOperation{}, fmt.Errorf("enqueue %s: %w", op.Type(), err)
	}

	s.nextSeq++
	metrics.OutboxEnqueuedTotal.WithLabelValues(op.Type()).Inc()
	metrics.OutboxDepth.Set(float64(depth))

	logging.Debug().
		Str("type", op.Type()).
		Str("operation_id", op.ID()).
		Int("depth", depth).
		Msg("Operation enqueued")
	return queued, nil
}

// coalesceToggle deletes any queued toggle addressing the same todo item.
func (s *Store) coalesceToggle(txn *badger.Txn, toggle operation.SetTodoCompleted) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefixOp)
	it := txn.NewIterator(opts)
	defer it.Close()

	var stale [][]byte
	for it.Seek([]byte(prefixOp)); it.ValidForPrefix([]byte(prefixOp)); it.Next() {
		item := it.Item()
		var q operation.QueuedOperation
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &q)
		}); err != nil {
			continue // malformed entries are handled by readOps
		}
		prior, ok := q.Op.(operation.SetTodoCompleted)
		if ok && toggle.SameTarget(prior) {
			stale = append(stale, item.KeyCopy(nil))
		}
	}

	for _, k := range stale {
		if err := txn.Delete(k); err != nil {
			return err
		}
		metrics.OutboxCoalescedTotal.Inc()
	}
	return nil
}

// CompleteFlush settles the queue after one batch call: acknowledged
// operations are deleted and survivors are rewritten in place with the
// batch's server id mappings applied. The whole settlement is a single
// transaction over the live queue, so an operation enqueued while the
// batch call was in flight is re-read here and always survives.
func (s *Store) CompleteFlush(ackedIDs []string, mappings []models.EntityMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	acked := make(map[string]struct{}, len(ackedIDs))
	for _, id := range ackedIDs {
		acked[id] = struct{}{}
	}

	var depth int
	err := s.db.Update(func(txn *badger.Txn) error {
		depth = 0
		entries, err := readOpsWithKeys(txn)
		if err != nil {
			return err
		}
		ops := make([]operation.QueuedOperation, len(entries))
		for i, e := range entries {
			ops[i] = e.op
		}
		rewritten := operation.ApplyMappings(ops, mappings)

		for i, e := range entries {
			if _, gone := acked[e.op.Op.ID()]; gone {
				if err := txn.Delete(e.key); err != nil {
					return err
				}
				continue
			}
			depth++
			if len(mappings) == 0 {
				continue
			}
			data, err := json.Marshal(rewritten[i])
			if err != nil {
				return fmt.Errorf("marshal operation %s: %w", rewritten[i].Op.ID(), err)
			}
			if err := txn.Set(e.key, data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("settle outbox after flush: %w", err)
	}

	metrics.OutboxDepth.Set(float64(depth))
	return nil
}

// Reset clears the queue and the family binding. Used on sign-out and
// family-leave; sync metadata keys are left to their own lifecycle.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		if err := dropPrefix(txn, prefixOp); err != nil {
			return err
		}
		err := txn.Delete([]byte(keyFamily))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("reset outbox: %w", err)
	}

	metrics.OutboxDepth.Set(0)
	logging.Info().Msg("Outbox reset")
	return nil
}

// Len returns the number of queued operations.
func (s *Store) Len() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	var n int
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefixOp)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek([]byte(prefixOp)); it.ValidForPrefix([]byte(prefixOp)); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// FamilyID returns the currently bound family id, empty when unbound.
func (s *Store) FamilyID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}

	var bound string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyFamily))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			bound = string(val)
			return nil
		})
	})
	return bound, err
}

type keyedOp struct {
	key []byte
	op  operation.QueuedOperation
}

func readOpsWithKeys(txn *badger.Txn) ([]keyedOp, error) {
	var out []keyedOp

	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefixOp)
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek([]byte(prefixOp)); it.ValidForPrefix([]byte(prefixOp)); it.Next() {
		item := it.Item()
		var q operation.QueuedOperation
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &q)
		}); err != nil {
			continue
		}
		out = append(out, keyedOp{key: item.KeyCopy(nil), op: q})
	}
	return out, nil
}
