// Hearthsync - Offline-First Sync Engine for the Hearth Family Organizer
// Copyright 2026 Hearth Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthapp/hearthsync

// Package models defines the domain entities and wire types shared across
// Hearthsync packages.
//
// Entities carry a derived Pending flag: an entity is pending when its id
// still appears in an unacknowledged outbox operation. The flag is recomputed
// wholesale by internal/reconcile on every state fold and must never be
// mutated independently.
package models

import "time"

// Entity kind discriminators used in batch results and id mappings.
const (
	EntityExpense  = "expense"
	EntityTodoItem = "todo_item"
)

// Expense is a single family expense. Date is an ISO yyyy-mm-dd string;
// Amount is in minor currency units.
type Expense struct {
	ID       string   `json:"id"`
	Date     string   `json:"date"`
	Amount   int64    `json:"amount"`
	Currency string   `json:"currency"`
	Title    string   `json:"title"`
	TagIDs   []string `json:"tag_ids,omitempty"`
	Pending  bool     `json:"pending,omitempty"`
}

// Tag is a user-defined expense category label.
type Tag struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// TodoItem is one entry in a todo list.
type TodoItem struct {
	ID          string `json:"id"`
	ListID      string `json:"list_id"`
	Title       string `json:"title"`
	IsCompleted bool   `json:"is_completed"`
	Pending     bool   `json:"pending,omitempty"`
}

// TodoList holds an ordered set of todo items.
type TodoList struct {
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Items   []TodoItem `json:"items"`
	Pending bool       `json:"pending,omitempty"`
}

// AppState is the canonical client-side projection of one family's data.
// It is owned by the engine's state store; reconcile functions treat it as
// an immutable input and return fresh copies.
type AppState struct {
	Expenses      []Expense  `json:"expenses"`
	ExpensesTotal int        `json:"expenses_total"`
	Tags          []Tag      `json:"tags"`
	TodoLists     []TodoList `json:"todo_lists"`
	Stale         bool       `json:"stale,omitempty"`
}

// Empty reports whether the state holds no fetched or pending data.
func (s AppState) Empty() bool {
	return len(s.Expenses) == 0 && len(s.Tags) == 0 && len(s.TodoLists) == 0
}

// Clone returns a deep copy of the state. Reconcile functions copy before
// rewriting so callers never observe partial mutation.
func (s AppState) Clone() AppState {
	out := s
	out.Expenses = make([]Expense, len(s.Expenses))
	for i, e := range s.Expenses {
		out.Expenses[i] = e
		out.Expenses[i].TagIDs = append([]string(nil), e.TagIDs...)
	}
	out.Tags = append([]Tag(nil), s.Tags...)
	out.TodoLists = make([]TodoList, len(s.TodoLists))
	for i, l := range s.TodoLists {
		out.TodoLists[i] = l
		out.TodoLists[i].Items = append([]TodoItem(nil), l.Items...)
	}
	return out
}

// SyncStatus reflects the outcome of the most recent sync pass.
type SyncStatus string

// Sync status values. Offline means the last attempt detected no
// connectivity; Error means the server was reached but rejected the attempt
// for a non-network reason.
const (
	StatusLoading SyncStatus = "loading"
	StatusOffline SyncStatus = "offline"
	StatusUpdated SyncStatus = "updated"
	StatusError   SyncStatus = "error"
)

// Degraded reports whether the status qualifies for automatic retry.
func (s SyncStatus) Degraded() bool {
	return s == StatusOffline || s == StatusError
}

// CacheMeta is the per-family fast-access sync metadata persisted alongside
// the outbox.
type CacheMeta struct {
	FamilyID   string    `json:"family_id"`
	LastSyncAt time.Time `json:"last_sync_at"`
}

// Snapshot is the offline cold-start snapshot: the last known identity,
// sync timestamp and canonical projection, renderable without a session.
type Snapshot struct {
	UserID     string    `json:"user_id,omitempty"`
	FamilyID   string    `json:"family_id"`
	LastSyncAt time.Time `json:"last_sync_at"`
	State      AppState  `json:"state"`
}
