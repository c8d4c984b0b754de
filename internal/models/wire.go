// Hearthsync - Offline-First Sync Engine for the Hearth Family Organizer
// Copyright 2026 Hearth Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthapp/hearthsync

package models

// Wire types for the Hearth server API. The batch contract: the client
// POSTs queued operations to /sync with an Idempotency-Key header and
// receives one result per operation plus local->server id mappings for
// every entity created in the batch.

// Batch-level status values.
const (
	BatchSuccess        = "success"
	BatchPartialSuccess = "partial_success"
	BatchFailed         = "failed"
)

// Per-operation result status values.
const (
	ResultApplied   = "applied"
	ResultDuplicate = "duplicate"
	ResultFailed    = "failed"
)

// BatchSummary counts operations by outcome within one batch.
type BatchSummary struct {
	Total     int `json:"total"`
	Applied   int `json:"applied"`
	Duplicate int `json:"duplicate"`
	Failed    int `json:"failed"`
}

// ResultError describes why the server rejected one operation.
// Retryable is a pointer: only an explicit false marks the operation as
// permanently failed; nil or true means it may succeed on a later flush.
type ResultError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable *bool  `json:"retryable,omitempty"`
}

// Terminal reports whether the error permanently dooms the operation.
func (e *ResultError) Terminal() bool {
	return e != nil && e.Retryable != nil && !*e.Retryable
}

// OperationResult is the server's verdict on one submitted operation,
// matched to the submission by OperationID.
type OperationResult struct {
	OperationID string       `json:"operation_id"`
	Type        string       `json:"type"`
	Status      string       `json:"status"`
	LocalID     string       `json:"local_id,omitempty"`
	Entity      string       `json:"entity,omitempty"`
	ServerID    string       `json:"server_id,omitempty"`
	Error       *ResultError `json:"error,omitempty"`
}

// Acknowledged reports whether the operation is done and may leave the
// outbox: applied, deduplicated by the server, or terminally failed.
func (r OperationResult) Acknowledged() bool {
	if r.Status == ResultApplied || r.Status == ResultDuplicate {
		return true
	}
	return r.Status == ResultFailed && r.Error.Terminal()
}

// EntityMapping is a server-issued correspondence between a client-generated
// local id and the authoritative server id.
type EntityMapping struct {
	Entity   string `json:"entity"`
	LocalID  string `json:"local_id"`
	ServerID string `json:"server_id"`
}

// BatchResponse is the body of a successful POST /sync.
type BatchResponse struct {
	SyncID     string            `json:"sync_id"`
	Status     string            `json:"status"`
	Summary    BatchSummary      `json:"summary"`
	Results    []OperationResult `json:"results"`
	Mappings   []EntityMapping   `json:"mappings"`
	ServerTime string            `json:"server_time"`
}

// ExpensesPage is the body of GET /expenses. Total counts all expenses on
// the server, not just the returned page.
type ExpensesPage struct {
	Items []Expense `json:"items"`
	Total int       `json:"total"`
}

// TodoListsPage is the body of GET /todo-lists.
type TodoListsPage struct {
	Items []TodoList `json:"items"`
	Total int       `json:"total"`
}
