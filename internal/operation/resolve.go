// Hearthsync - Offline-First Sync Engine for the Hearth Family Organizer
// Copyright 2026 Hearth Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthapp/hearthsync

package operation

import "github.com/hearthapp/hearthsync/internal/models"

// IDSet is a set of entity ids.
type IDSet map[string]struct{}

// Contains reports membership.
func (s IDSet) Contains(id string) bool {
	_, ok := s[id]
	return ok
}

// PendingCreateIDs scans the queue and returns the local ids of expense and
// todo creations still awaiting server confirmation. Used to mark entities
// pending and to avoid double-counting totals.
func PendingCreateIDs(ops []QueuedOperation) (expenseIDs, todoIDs IDSet) {
	expenseIDs = IDSet{}
	todoIDs = IDSet{}
	for _, q := range ops {
		switch op := q.Op.(type) {
		case CreateExpense:
			expenseIDs[op.LocalID] = struct{}{}
		case CreateTodo:
			todoIDs[op.LocalID] = struct{}{}
		case SetTodoCompleted:
			// Toggles do not create entities.
		}
	}
	return expenseIDs, todoIDs
}

// PendingTodoItemIDs returns every todo item id that must render as
// pending: local ids of unacknowledged creations plus any toggle target.
// A toggled-but-unsynced item shows pending even though it was not itself
// created offline.
func PendingTodoItemIDs(ops []QueuedOperation) IDSet {
	ids := IDSet{}
	for _, q := range ops {
		switch op := q.Op.(type) {
		case CreateTodo:
			ids[op.LocalID] = struct{}{}
		case SetTodoCompleted:
			ids[op.Target()] = struct{}{}
		case CreateExpense:
		}
	}
	return ids
}

// ApplyMappings rewrites queued toggles whose TodoLocalID now has a known
// server mapping, replacing it with TodoID and dropping the local
// reference. Runs before acknowledged operations are filtered out of the
// queue so a toggle queued against a not-yet-synced create is sent
// correctly once the create is acknowledged, whether in the same batch or
// a later one. The input slice is never mutated.
func ApplyMappings(ops []QueuedOperation, mappings []models.EntityMapping) []QueuedOperation {
	if len(mappings) == 0 || len(ops) == 0 {
		return ops
	}

	todoServerIDs := make(map[string]string)
	for _, m := range mappings {
		if m.Entity == models.EntityTodoItem {
			todoServerIDs[m.LocalID] = m.ServerID
		}
	}
	if len(todoServerIDs) == 0 {
		return ops
	}

	out := make([]QueuedOperation, len(ops))
	copy(out, ops)
	for i, q := range out {
		toggle, ok := q.Op.(SetTodoCompleted)
		if !ok || toggle.TodoLocalID == "" {
			continue
		}
		serverID, ok := todoServerIDs[toggle.TodoLocalID]
		if !ok {
			continue
		}
		toggle.TodoID = serverID
		toggle.TodoLocalID = ""
		out[i].Op = toggle
	}
	return out
}
