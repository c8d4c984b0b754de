// Hearthsync - Offline-First Sync Engine for the Hearth Family Organizer
// Copyright 2026 Hearth Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthapp/hearthsync

package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/hearthapp/hearthsync/internal/models"
	"github.com/hearthapp/hearthsync/internal/operation"
)

// ErrNotBound is returned when a mutation arrives before a family is bound.
var ErrNotBound = errors.New("engine: no family bound")

// ErrUnknownTodo is returned when a toggle addresses an item absent from
// the canonical state.
var ErrUnknownTodo = errors.New("engine: unknown todo item")

// The enqueue path: every UI mutation is durably queued first, folded into
// the optimistic state second, and only then does a background sync pass
// attempt the server. A network failure therefore costs nothing — the
// operation is already safe in the outbox.

// CreateExpense queues an expense creation and returns the optimistic
// entity, tagged pending under its local id.
func (r *Runner) CreateExpense(ctx context.Context, payload operation.ExpensePayload) (models.Expense, error) {
	family := r.FamilyID()
	if family == "" {
		return models.Expense{}, ErrNotBound
	}

	op, localID := operation.NewCreateExpense(payload)
	if _, err := r.store.Enqueue(family, op); err != nil {
		return models.Expense{}, fmt.Errorf("enqueue expense creation: %w", err)
	}

	expense := models.Expense{
		ID:       localID,
		Date:     payload.Date,
		Amount:   payload.Amount,
		Currency: payload.Currency,
		Title:    payload.Title,
		TagIDs:   payload.TagIDs,
		Pending:  true,
	}
	r.state.Update(func(s *Snapshot) {
		s.State.Expenses = append([]models.Expense{expense}, s.State.Expenses...)
		sort.SliceStable(s.State.Expenses, func(i, j int) bool {
			return s.State.Expenses[i].Date > s.State.Expenses[j].Date
		})
		s.State.ExpensesTotal++
	})

	r.kickSync(ctx)
	return expense, nil
}

// CreateTodo queues a todo creation and returns the optimistic item. When
// the target list is itself unknown locally a pending list is synthesized.
func (r *Runner) CreateTodo(ctx context.Context, listID, title string) (models.TodoItem, error) {
	family := r.FamilyID()
	if family == "" {
		return models.TodoItem{}, ErrNotBound
	}

	op, localID := operation.NewCreateTodo(listID, title)
	if _, err := r.store.Enqueue(family, op); err != nil {
		return models.TodoItem{}, fmt.Errorf("enqueue todo creation: %w", err)
	}

	item := models.TodoItem{ID: localID, ListID: listID, Title: title, Pending: true}
	r.state.Update(func(s *Snapshot) {
		for i := range s.State.TodoLists {
			if s.State.TodoLists[i].ID == listID {
				s.State.TodoLists[i].Items = append([]models.TodoItem{item}, s.State.TodoLists[i].Items...)
				return
			}
		}
		s.State.TodoLists = append([]models.TodoList{{
			ID:      listID,
			Items:   []models.TodoItem{item},
			Pending: true,
		}}, s.State.TodoLists...)
	})

	r.kickSync(ctx)
	return item, nil
}

// ToggleTodo queues a completion toggle for the given todo and applies it
// optimistically. The queue keeps at most one toggle per item, so rapid
// flipping cannot grow the outbox.
func (r *Runner) ToggleTodo(ctx context.Context, todoID string, completed bool) error {
	family := r.FamilyID()
	if family == "" {
		return ErrNotBound
	}

	if !r.knownTodo(todoID) {
		return fmt.Errorf("%w: %s", ErrUnknownTodo, todoID)
	}

	// A toggle against a not-yet-synced creation must reference the
	// local id so ApplyMappings can rewrite it once the create is acked.
	isLocal, err := r.pendingTodoCreate(family, todoID)
	if err != nil {
		return err
	}

	op := operation.NewSetTodoCompleted(todoID, isLocal, completed)
	if _, err := r.store.Enqueue(family, op); err != nil {
		return fmt.Errorf("enqueue todo toggle: %w", err)
	}

	r.state.Update(func(s *Snapshot) {
		for i := range s.State.TodoLists {
			for j := range s.State.TodoLists[i].Items {
				item := &s.State.TodoLists[i].Items[j]
				if item.ID == todoID {
					item.IsCompleted = completed
					item.Pending = true
					return
				}
			}
		}
	})

	r.kickSync(ctx)
	return nil
}

func (r *Runner) knownTodo(todoID string) bool {
	snap := r.state.Get()
	for _, list := range snap.State.TodoLists {
		for _, item := range list.Items {
			if item.ID == todoID {
				return true
			}
		}
	}
	return false
}

func (r *Runner) pendingTodoCreate(family, todoID string) (bool, error) {
	ops, err := r.store.OperationsForFamily(family)
	if err != nil {
		return false, fmt.Errorf("read outbox: %w", err)
	}
	_, todoIDs := operation.PendingCreateIDs(ops)
	return todoIDs.Contains(todoID), nil
}

// kickSync fires a background pass after an enqueue when the server looks
// reachable. Auto-retry semantics keep the UI's status untouched; the
// single-flight guard absorbs bursts.
func (r *Runner) kickSync(ctx context.Context) {
	if !r.conn.Online() || !r.sess.SignedIn() {
		return
	}
	go r.SyncAll(ctx, Options{Trigger: TriggerAutoRetry})
}
