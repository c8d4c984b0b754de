// Hearthsync - Offline-First Sync Engine for the Hearth Family Organizer
// Copyright 2026 Hearth Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthapp/hearthsync

// Package reconcile folds pending operations, server id mappings and
// freshly-fetched collections into the canonical application state.
//
// Every function here is pure: no I/O, inputs are never mutated, and
// outputs are total functions of their inputs. The engine owns sequencing;
// this package owns the merge semantics.
package reconcile

import (
	"sort"

	"github.com/hearthapp/hearthsync/internal/models"
	"github.com/hearthapp/hearthsync/internal/operation"
)

// FetchedCollections bundles the three canonical fetches of one sync pass.
type FetchedCollections struct {
	Expenses  models.ExpensesPage
	Tags      []models.Tag
	TodoLists []models.TodoList
}

// ApplyEntityMappings rewrites every expense and todo-item id matching a
// mapping's local id to the server id. Idempotent: once rewritten, no id
// matches a local id again, so a second application is a no-op.
func ApplyEntityMappings(state models.AppState, mappings []models.EntityMapping) models.AppState {
	if len(mappings) == 0 {
		return state
	}

	expenseIDs := make(map[string]string)
	todoIDs := make(map[string]string)
	for _, m := range mappings {
		switch m.Entity {
		case models.EntityExpense:
			expenseIDs[m.LocalID] = m.ServerID
		case models.EntityTodoItem:
			todoIDs[m.LocalID] = m.ServerID
		}
	}

	out := state.Clone()
	for i := range out.Expenses {
		if serverID, ok := expenseIDs[out.Expenses[i].ID]; ok {
			out.Expenses[i].ID = serverID
		}
	}
	for i := range out.TodoLists {
		for j := range out.TodoLists[i].Items {
			if serverID, ok := todoIDs[out.TodoLists[i].Items[j].ID]; ok {
				out.TodoLists[i].Items[j].ID = serverID
			}
		}
	}
	return out
}

// ApplyPendingMarkers recomputes every Pending flag from scratch against
// the current queue: set when the entity id appears in the pending-create
// set (or, for todo items, as a toggle target), cleared otherwise. Being a
// total function of (state, ops), the markers can never drift.
func ApplyPendingMarkers(state models.AppState, ops []operation.QueuedOperation) models.AppState {
	pendingExpenses, pendingTodoCreates := operation.PendingCreateIDs(ops)
	pendingTodos := operation.PendingTodoItemIDs(ops)

	out := state.Clone()
	for i := range out.Expenses {
		out.Expenses[i].Pending = pendingExpenses.Contains(out.Expenses[i].ID)
	}
	for i := range out.TodoLists {
		listPending := false
		for j := range out.TodoLists[i].Items {
			item := &out.TodoLists[i].Items[j]
			item.Pending = pendingTodos.Contains(item.ID)
			if pendingTodoCreates.Contains(item.ID) {
				listPending = true
			}
		}
		// A list is marked pending only when it still hosts an
		// unacknowledged creation, mirroring synthesized lists.
		out.TodoLists[i].Pending = out.TodoLists[i].Pending && listPending
	}
	return out
}

// MergeFetched merges freshly-fetched collections with the previous state:
// entities created locally but not yet acknowledged are re-inserted so a
// background refresh cannot make them vanish.
//
// Expenses: pending creations missing from the fetch are prepended, then
// the whole slice is re-sorted by date descending. Equal dates keep the
// concatenation order (pending before synced); there is deliberately no
// secondary sort key.
//
// Todo items: pending items are prepended to their list, fetched item
// order otherwise preserved. A list that exists only because it holds a
// pending item is synthesized from the previous state and prepended.
func MergeFetched(fetched FetchedCollections, previous models.AppState, ops []operation.QueuedOperation) models.AppState {
	pendingExpenses, pendingTodos := operation.PendingCreateIDs(ops)

	return models.AppState{
		Expenses:      mergeExpenses(fetched.Expenses.Items, previous.Expenses, pendingExpenses),
		ExpensesTotal: MergedExpenseTotal(fetched.Expenses.Total, ops),
		Tags:          append([]models.Tag(nil), fetched.Tags...),
		TodoLists:     mergeTodoLists(fetched.TodoLists, previous.TodoLists, pendingTodos),
	}
}

// MergedExpenseTotal is the fetch-reported total plus still-pending local
// creations, so pagination affordances do not undercount.
func MergedExpenseTotal(fetchedTotal int, ops []operation.QueuedOperation) int {
	pendingExpenses, _ := operation.PendingCreateIDs(ops)
	return fetchedTotal + len(pendingExpenses)
}

func mergeExpenses(fetched, previous []models.Expense, pending operation.IDSet) []models.Expense {
	fetchedIDs := make(map[string]struct{}, len(fetched))
	for _, e := range fetched {
		fetchedIDs[e.ID] = struct{}{}
	}

	var merged []models.Expense
	for _, e := range previous {
		if !pending.Contains(e.ID) {
			continue
		}
		if _, dup := fetchedIDs[e.ID]; dup {
			continue
		}
		merged = append(merged, e)
	}
	merged = append(merged, fetched...)

	// Stable keeps pending-before-synced for equal dates; ISO date strings
	// compare correctly as plain strings.
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Date > merged[j].Date
	})
	return merged
}

func mergeTodoLists(fetched, previous []models.TodoList, pending operation.IDSet) []models.TodoList {
	fetchedItems := make(map[string]struct{})
	fetchedLists := make(map[string]int, len(fetched))
	for i, l := range fetched {
		fetchedLists[l.ID] = i
		for _, item := range l.Items {
			fetchedItems[item.ID] = struct{}{}
		}
	}

	// Pending items missing from the fetch, grouped by their list.
	carried := make(map[string][]models.TodoItem)
	var orphanLists []models.TodoList
	for _, prev := range previous {
		var keep []models.TodoItem
		for _, item := range prev.Items {
			if !pending.Contains(item.ID) {
				continue
			}
			if _, dup := fetchedItems[item.ID]; dup {
				continue
			}
			keep = append(keep, item)
		}
		if len(keep) == 0 {
			continue
		}
		if _, exists := fetchedLists[prev.ID]; exists {
			carried[prev.ID] = keep
		} else {
			orphan := prev
			orphan.Items = keep
			orphan.Pending = true
			orphanLists = append(orphanLists, orphan)
		}
	}

	out := make([]models.TodoList, 0, len(orphanLists)+len(fetched))
	out = append(out, orphanLists...)
	for _, l := range fetched {
		merged := l
		if keep, ok := carried[l.ID]; ok {
			merged.Items = append(append([]models.TodoItem(nil), keep...), l.Items...)
		} else {
			merged.Items = append([]models.TodoItem(nil), l.Items...)
		}
		out = append(out, merged)
	}
	return out
}
