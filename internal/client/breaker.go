// Hearthsync - Offline-First Sync Engine for the Hearth Family Organizer
// Copyright 2026 Hearth Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthapp/hearthsync

package client

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/hearthapp/hearthsync/internal/logging"
	"github.com/hearthapp/hearthsync/internal/metrics"
	"github.com/hearthapp/hearthsync/internal/models"
	"github.com/hearthapp/hearthsync/internal/operation"
)

// BreakerClient wraps the API with a circuit breaker so a failing server
// stops absorbing requests. Breaker-open errors classify as network-shaped
// (IsNetworkError), which keeps queued operations intact and hands control
// to the retry scheduler.
//
// The breaker uses real time for its interval and timeout calculations;
// tests exercise the wrapped client directly.
type BreakerClient struct {
	api  API
	cb   *gobreaker.CircuitBreaker[any]
	name string
}

// NewBreakerClient wraps api with a circuit breaker. Settings: 3 requests
// allowed half-open, 1 minute closed-state window, 1 minute open period,
// trips at a 60% failure rate with at least 6 requests observed.
func NewBreakerClient(api API) *BreakerClient {
	const name = "hearth-api"

	metrics.CircuitBreakerState.WithLabelValues(name).Set(0) // 0 = closed

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 6 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
		IsSuccessful: func(err error) bool {
			// 4xx rejections are the server working correctly; only
			// transport failures and 5xx count against the breaker.
			if err == nil {
				return true
			}
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.StatusCode < 500
			}
			return false
		},
	})

	return &BreakerClient{api: api, cb: cb, name: name}
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}

func (b *BreakerClient) execute(fn func() (any, error)) (any, error) {
	result, err := b.cb.Execute(fn)
	switch {
	case err == nil:
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "success").Inc()
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "rejected").Inc()
		logging.Warn().Err(err).Msg("Circuit breaker rejected request")
	default:
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "failure").Inc()
	}
	return result, err
}

// SyncBatch submits a batch through the breaker.
func (b *BreakerClient) SyncBatch(ctx context.Context, ops []operation.Operation, opts BatchOptions) (*models.BatchResponse, error) {
	result, err := b.execute(func() (any, error) {
		return b.api.SyncBatch(ctx, ops, opts)
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.BatchResponse), nil
}

// FetchExpenses fetches expenses through the breaker.
func (b *BreakerClient) FetchExpenses(ctx context.Context, limit, offset int) (*models.ExpensesPage, error) {
	result, err := b.execute(func() (any, error) {
		return b.api.FetchExpenses(ctx, limit, offset)
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.ExpensesPage), nil
}

// FetchTags fetches tags through the breaker.
func (b *BreakerClient) FetchTags(ctx context.Context) ([]models.Tag, error) {
	result, err := b.execute(func() (any, error) {
		return b.api.FetchTags(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.([]models.Tag), nil
}

// FetchTodoLists fetches todo lists through the breaker.
func (b *BreakerClient) FetchTodoLists(ctx context.Context) (*models.TodoListsPage, error) {
	result, err := b.execute(func() (any, error) {
		return b.api.FetchTodoLists(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.TodoListsPage), nil
}

// Healthz probes reachability, bypassing the breaker: the probe is how the
// connectivity monitor discovers recovery, so it must not be rejected
// while the circuit is open.
func (b *BreakerClient) Healthz(ctx context.Context) error {
	return b.api.Healthz(ctx)
}
