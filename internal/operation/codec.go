// Hearthsync - Offline-First Sync Engine for the Hearth Family Organizer
// Copyright 2026 Hearth Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthapp/hearthsync

package operation

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// ErrUnknownType is returned when a stored or received operation envelope
// carries an unrecognized type discriminator. The outbox treats such
// entries as malformed and drops them rather than failing the whole queue.
var ErrUnknownType = errors.New("operation: unknown operation type")

// envelope is the wire and storage shape shared by all operation types.
// Payload layout varies by Type; see spec of the /sync contract.
type envelope struct {
	Type        string          `json:"type"`
	OperationID string          `json:"operation_id"`
	LocalID     string          `json:"local_id,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   *time.Time      `json:"created_at,omitempty"`
}

// togglePayload is the payload of a set_todo_completed envelope. Exactly
// one of TodoID/TodoLocalID is present.
type togglePayload struct {
	TodoID      string `json:"todo_id,omitempty"`
	TodoLocalID string `json:"todo_local_id,omitempty"`
	IsCompleted bool   `json:"is_completed"`
}

// MarshalJSON encodes the operation in its wire envelope, without created_at.
func (o CreateExpense) MarshalJSON() ([]byte, error) {
	return marshalEnvelope(o.Type(), o.OperationID, o.LocalID, o.Payload, nil)
}

// MarshalJSON encodes the operation in its wire envelope, without created_at.
func (o CreateTodo) MarshalJSON() ([]byte, error) {
	return marshalEnvelope(o.Type(), o.OperationID, o.LocalID, o.Payload, nil)
}

// MarshalJSON encodes the operation in its wire envelope, without created_at.
func (o SetTodoCompleted) MarshalJSON() ([]byte, error) {
	payload := togglePayload{
		TodoID:      o.TodoID,
		TodoLocalID: o.TodoLocalID,
		IsCompleted: o.IsCompleted,
	}
	return marshalEnvelope(o.Type(), o.OperationID, "", payload, nil)
}

func marshalEnvelope(typ, opID, localID string, payload interface{}, createdAt *time.Time) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return json.Marshal(envelope{
		Type:        typ,
		OperationID: opID,
		LocalID:     localID,
		Payload:     raw,
		CreatedAt:   createdAt,
	})
}

// Unmarshal decodes a wire envelope into its concrete operation type.
func Unmarshal(data []byte) (Operation, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode operation envelope: %w", err)
	}
	return fromEnvelope(env)
}

func fromEnvelope(env envelope) (Operation, error) {
	switch env.Type {
	case TypeCreateExpense:
		var p ExpensePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
		}
		return CreateExpense{OperationID: env.OperationID, LocalID: env.LocalID, Payload: p}, nil
	case TypeCreateTodo:
		var p TodoPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
		}
		return CreateTodo{OperationID: env.OperationID, LocalID: env.LocalID, Payload: p}, nil
	case TypeSetTodoCompleted:
		var p togglePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
		}
		return SetTodoCompleted{
			OperationID: env.OperationID,
			TodoID:      p.TodoID,
			TodoLocalID: p.TodoLocalID,
			IsCompleted: p.IsCompleted,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

// MarshalJSON encodes the queued operation as its wire envelope plus the
// created_at stamp. This is the outbox storage format.
func (q QueuedOperation) MarshalJSON() ([]byte, error) {
	created := q.CreatedAt
	switch op := q.Op.(type) {
	case CreateExpense:
		return marshalEnvelope(op.Type(), op.OperationID, op.LocalID, op.Payload, &created)
	case CreateTodo:
		return marshalEnvelope(op.Type(), op.OperationID, op.LocalID, op.Payload, &created)
	case SetTodoCompleted:
		payload := togglePayload{
			TodoID:      op.TodoID,
			TodoLocalID: op.TodoLocalID,
			IsCompleted: op.IsCompleted,
		}
		return marshalEnvelope(op.Type(), op.OperationID, "", payload, &created)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, q.Op)
	}
}

// UnmarshalJSON decodes the outbox storage format. A missing created_at
// decodes to the zero time; the outbox tolerates it.
func (q *QueuedOperation) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode queued operation: %w", err)
	}
	op, err := fromEnvelope(env)
	if err != nil {
		return err
	}
	q.Op = op
	if env.CreatedAt != nil {
		q.CreatedAt = *env.CreatedAt
	} else {
		q.CreatedAt = time.Time{}
	}
	return nil
}
