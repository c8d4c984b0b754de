// Hearthsync - Offline-First Sync Engine for the Hearth Family Organizer
// Copyright 2026 Hearth Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthapp/hearthsync

package operation

import (
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/hearthapp/hearthsync/internal/models"
)

// TestConstructors_FreshIDs verifies each constructor stamps a unique
// operation id and returns the optimistic local id.
func TestConstructors_FreshIDs(t *testing.T) {
	op1, local1 := NewCreateExpense(ExpensePayload{Date: "2024-01-05", Amount: 10, Currency: "USD", Title: "Coffee"})
	op2, local2 := NewCreateExpense(ExpensePayload{Date: "2024-01-05", Amount: 10, Currency: "USD", Title: "Coffee"})

	if op1.OperationID == "" || op1.OperationID == op2.OperationID {
		t.Errorf("Expected distinct non-empty operation ids, got %q and %q", op1.OperationID, op2.OperationID)
	}
	if local1 == local2 {
		t.Errorf("Expected distinct local ids, got %q twice", local1)
	}
	if !strings.HasPrefix(local1, "local-") {
		t.Errorf("Expected local id prefix, got %q", local1)
	}
	if op1.LocalID != local1 {
		t.Errorf("Constructor returned local id %q but operation carries %q", local1, op1.LocalID)
	}
}

func TestNewSetTodoCompleted_TargetSelection(t *testing.T) {
	byServer := NewSetTodoCompleted("T1", false, true)
	if byServer.TodoID != "T1" || byServer.TodoLocalID != "" {
		t.Errorf("Expected server-id toggle, got %+v", byServer)
	}
	byLocal := NewSetTodoCompleted("local-x", true, false)
	if byLocal.TodoLocalID != "local-x" || byLocal.TodoID != "" {
		t.Errorf("Expected local-id toggle, got %+v", byLocal)
	}
	if byServer.Target() != "T1" || byLocal.Target() != "local-x" {
		t.Errorf("Target() mismatch: %q %q", byServer.Target(), byLocal.Target())
	}
}

func TestSameTarget(t *testing.T) {
	tests := []struct {
		name string
		a, b SetTodoCompleted
		want bool
	}{
		{"same server id", SetTodoCompleted{TodoID: "T1"}, SetTodoCompleted{TodoID: "T1"}, true},
		{"different server id", SetTodoCompleted{TodoID: "T1"}, SetTodoCompleted{TodoID: "T2"}, false},
		{"same local id", SetTodoCompleted{TodoLocalID: "L1"}, SetTodoCompleted{TodoLocalID: "L1"}, true},
		{"server vs local", SetTodoCompleted{TodoID: "T1"}, SetTodoCompleted{TodoLocalID: "T1"}, false},
		{"both empty", SetTodoCompleted{}, SetTodoCompleted{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.SameTarget(tt.b); got != tt.want {
				t.Errorf("SameTarget(%+v, %+v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

// TestWireEnvelope_RoundTrip verifies the wire envelope carries the type
// discriminator and omits created_at, and that Unmarshal restores the
// concrete type.
func TestWireEnvelope_RoundTrip(t *testing.T) {
	op := CreateExpense{
		OperationID: "op-1",
		LocalID:     "local-1",
		Payload:     ExpensePayload{Date: "2024-01-05", Amount: 1050, Currency: "USD", Title: "Coffee", TagIDs: []string{"t1"}},
	}

	data, err := json.Marshal(op)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if strings.Contains(string(data), "created_at") {
		t.Errorf("Wire envelope must not carry created_at: %s", data)
	}
	if !strings.Contains(string(data), `"type":"create_expense"`) {
		t.Errorf("Missing type discriminator: %s", data)
	}

	decoded, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	got, ok := decoded.(CreateExpense)
	if !ok {
		t.Fatalf("Expected CreateExpense, got %T", decoded)
	}
	if got.OperationID != op.OperationID || got.LocalID != op.LocalID || got.Payload.Amount != 1050 {
		t.Errorf("Round trip mismatch: %+v", got)
	}
}

func TestToggleEnvelope_ExactlyOneTarget(t *testing.T) {
	byServer := SetTodoCompleted{OperationID: "op-1", TodoID: "T1", IsCompleted: true}
	data, err := json.Marshal(byServer)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if strings.Contains(string(data), "todo_local_id") {
		t.Errorf("Server-id toggle must omit todo_local_id: %s", data)
	}

	byLocal := SetTodoCompleted{OperationID: "op-2", TodoLocalID: "L1", IsCompleted: false}
	data, err = json.Marshal(byLocal)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if strings.Contains(string(data), `"todo_id"`) {
		t.Errorf("Local-id toggle must omit todo_id: %s", data)
	}

	decoded, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	toggle, ok := decoded.(SetTodoCompleted)
	if !ok || toggle.TodoLocalID != "L1" || toggle.IsCompleted {
		t.Errorf("Round trip mismatch: %+v", decoded)
	}
}

func TestUnmarshal_UnknownType(t *testing.T) {
	_, err := Unmarshal([]byte(`{"type":"delete_everything","operation_id":"x","payload":{}}`))
	if err == nil {
		t.Fatal("Expected error for unknown operation type")
	}
}

// TestQueuedOperation_StorageRoundTrip verifies the outbox storage format
// preserves created_at alongside the envelope.
func TestQueuedOperation_StorageRoundTrip(t *testing.T) {
	created := time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC)
	q := QueuedOperation{
		Op:        CreateTodo{OperationID: "op-1", LocalID: "L1", Payload: TodoPayload{ListID: "list-1", Title: "Milk"}},
		CreatedAt: created,
	}

	data, err := json.Marshal(q)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var got QueuedOperation
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt mismatch: got %v, want %v", got.CreatedAt, created)
	}
	todo, ok := got.Op.(CreateTodo)
	if !ok || todo.Payload.Title != "Milk" {
		t.Errorf("Operation mismatch: %+v", got.Op)
	}
}

func TestPendingCreateIDs(t *testing.T) {
	ops := []QueuedOperation{
		{Op: CreateExpense{OperationID: "1", LocalID: "e1"}},
		{Op: CreateTodo{OperationID: "2", LocalID: "t1"}},
		{Op: SetTodoCompleted{OperationID: "3", TodoID: "T9", IsCompleted: true}},
	}

	expenseIDs, todoIDs := PendingCreateIDs(ops)
	if !expenseIDs.Contains("e1") || len(expenseIDs) != 1 {
		t.Errorf("Expense ids wrong: %v", expenseIDs)
	}
	if !todoIDs.Contains("t1") || len(todoIDs) != 1 {
		t.Errorf("Todo ids wrong: %v", todoIDs)
	}
}

func TestPendingTodoItemIDs_IncludesToggleTargets(t *testing.T) {
	ops := []QueuedOperation{
		{Op: CreateTodo{OperationID: "1", LocalID: "t1"}},
		{Op: SetTodoCompleted{OperationID: "2", TodoID: "T9", IsCompleted: true}},
		{Op: SetTodoCompleted{OperationID: "3", TodoLocalID: "t2", IsCompleted: false}},
		{Op: CreateExpense{OperationID: "4", LocalID: "e1"}},
	}

	ids := PendingTodoItemIDs(ops)
	for _, want := range []string{"t1", "T9", "t2"} {
		if !ids.Contains(want) {
			t.Errorf("Expected %q pending, got %v", want, ids)
		}
	}
	if ids.Contains("e1") {
		t.Error("Expense local id must not appear in todo pending set")
	}
	if len(ids) != 3 {
		t.Errorf("Expected 3 pending ids, got %d", len(ids))
	}
}

func TestApplyMappings_RewritesLocalToggles(t *testing.T) {
	ops := []QueuedOperation{
		{Op: SetTodoCompleted{OperationID: "1", TodoLocalID: "L1", IsCompleted: true}},
		{Op: SetTodoCompleted{OperationID: "2", TodoLocalID: "L2", IsCompleted: false}},
		{Op: SetTodoCompleted{OperationID: "3", TodoID: "T5", IsCompleted: true}},
	}
	mappings := []models.EntityMapping{
		{Entity: models.EntityTodoItem, LocalID: "L1", ServerID: "S1"},
		{Entity: models.EntityExpense, LocalID: "L2", ServerID: "S2"}, // wrong entity, must not apply
	}

	out := ApplyMappings(ops, mappings)

	first := out[0].Op.(SetTodoCompleted)
	if first.TodoID != "S1" || first.TodoLocalID != "" {
		t.Errorf("Expected rewrite to server id, got %+v", first)
	}
	second := out[1].Op.(SetTodoCompleted)
	if second.TodoLocalID != "L2" || second.TodoID != "" {
		t.Errorf("Expense mapping must not rewrite a todo toggle: %+v", second)
	}
	third := out[2].Op.(SetTodoCompleted)
	if third.TodoID != "T5" {
		t.Errorf("Unrelated toggle changed: %+v", third)
	}

	// Input is never mutated.
	original := ops[0].Op.(SetTodoCompleted)
	if original.TodoLocalID != "L1" {
		t.Errorf("ApplyMappings mutated its input: %+v", original)
	}
}

func TestApplyMappings_EmptyInputs(t *testing.T) {
	ops := []QueuedOperation{{Op: SetTodoCompleted{OperationID: "1", TodoLocalID: "L1"}}}
	if got := ApplyMappings(ops, nil); len(got) != 1 {
		t.Errorf("Expected passthrough on empty mappings, got %v", got)
	}
	if got := ApplyMappings(nil, []models.EntityMapping{{Entity: models.EntityTodoItem, LocalID: "L1", ServerID: "S1"}}); len(got) != 0 {
		t.Errorf("Expected passthrough on empty ops, got %v", got)
	}
}
