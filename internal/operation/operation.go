// Hearthsync - Offline-First Sync Engine for the Hearth Family Organizer
// Copyright 2026 Hearth Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthapp/hearthsync

// Package operation defines the mutation operations queued by the outbox
// and the pure helpers that resolve pending entity ids across a queue.
//
// Operation is a sealed tagged union: the three concrete types cover every
// mutation the Hearth UI can perform offline. Consumers switch exhaustively
// on the concrete type; the unexported marker method prevents foreign
// implementations.
package operation

import (
	"time"

	"github.com/google/uuid"
)

// Wire type discriminators.
const (
	TypeCreateExpense    = "create_expense"
	TypeCreateTodo       = "create_todo"
	TypeSetTodoCompleted = "set_todo_completed"
)

// Operation is one queued user mutation. OperationID is the idempotency
// anchor: fresh per enqueued operation, used to match batch results back to
// queue entries.
type Operation interface {
	// ID returns the operation id.
	ID() string
	// Type returns the wire discriminator.
	Type() string

	isOperation()
}

// ExpensePayload is the user-entered expense data carried by CreateExpense.
type ExpensePayload struct {
	Date     string   `json:"date"`
	Amount   int64    `json:"amount"`
	Currency string   `json:"currency"`
	Title    string   `json:"title"`
	TagIDs   []string `json:"tag_ids,omitempty"`
}

// TodoPayload is the user-entered todo data carried by CreateTodo.
type TodoPayload struct {
	ListID string `json:"list_id"`
	Title  string `json:"title"`
}

// CreateExpense records an expense created while offline or mid-failure.
// LocalID stands in for the not-yet-assigned server id and appears in
// optimistic UI state until a mapping supersedes it.
type CreateExpense struct {
	OperationID string
	LocalID     string
	Payload     ExpensePayload
}

// CreateTodo records a todo item created offline. LocalID is the optimistic
// placeholder id, as for CreateExpense.
type CreateTodo struct {
	OperationID string
	LocalID     string
	Payload     TodoPayload
}

// SetTodoCompleted records a completion toggle. Exactly one of TodoID
// (server id) and TodoLocalID (placeholder of a not-yet-synced creation) is
// set. The outbox keeps at most one queued toggle per target: the most
// recent desired state wins.
type SetTodoCompleted struct {
	OperationID string
	TodoID      string
	TodoLocalID string
	IsCompleted bool
}

func (o CreateExpense) ID() string      { return o.OperationID }
func (o CreateExpense) Type() string    { return TypeCreateExpense }
func (o CreateExpense) isOperation()    {}
func (o CreateTodo) ID() string         { return o.OperationID }
func (o CreateTodo) Type() string       { return TypeCreateTodo }
func (o CreateTodo) isOperation()       {}
func (o SetTodoCompleted) ID() string   { return o.OperationID }
func (o SetTodoCompleted) Type() string { return TypeSetTodoCompleted }
func (o SetTodoCompleted) isOperation() {}

// Target returns the id the toggle addresses: the server id when known,
// else the local placeholder.
func (o SetTodoCompleted) Target() string {
	if o.TodoID != "" {
		return o.TodoID
	}
	return o.TodoLocalID
}

// SameTarget reports whether two toggles address the same todo item. Server
// ids are compared when the receiver has one, otherwise local ids; a toggle
// by server id and a toggle by local id never match here because the queue
// rewrite in ApplyMappings resolves locals before coalescing matters.
func (o SetTodoCompleted) SameTarget(other SetTodoCompleted) bool {
	if o.TodoID != "" {
		return o.TodoID == other.TodoID
	}
	return o.TodoLocalID != "" && o.TodoLocalID == other.TodoLocalID
}

// QueuedOperation is an operation at rest in the outbox, stamped with its
// enqueue time. CreatedAt never goes over the wire.
type QueuedOperation struct {
	Op        Operation
	CreatedAt time.Time
}

// NewCreateExpense builds a create_expense operation with fresh operation
// and local ids. The local id is returned for the optimistic state fold.
func NewCreateExpense(payload ExpensePayload) (CreateExpense, string) {
	localID := "local-" + uuid.NewString()
	return CreateExpense{
		OperationID: uuid.NewString(),
		LocalID:     localID,
		Payload:     payload,
	}, localID
}

// NewCreateTodo builds a create_todo operation with fresh operation and
// local ids.
func NewCreateTodo(listID, title string) (CreateTodo, string) {
	localID := "local-" + uuid.NewString()
	return CreateTodo{
		OperationID: uuid.NewString(),
		LocalID:     localID,
		Payload:     TodoPayload{ListID: listID, Title: title},
	}, localID
}

// NewSetTodoCompleted builds a toggle operation. isLocal selects whether
// target is a local placeholder or a server id.
func NewSetTodoCompleted(target string, isLocal, completed bool) SetTodoCompleted {
	op := SetTodoCompleted{
		OperationID: uuid.NewString(),
		IsCompleted: completed,
	}
	if isLocal {
		op.TodoLocalID = target
	} else {
		op.TodoID = target
	}
	return op
}
