// Hearthsync - Offline-First Sync Engine for the Hearth Family Organizer
// Copyright 2026 Hearth Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthapp/hearthsync

package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

// TimeoutError is returned when a request exceeds its caller-supplied
// timeout. It is distinguishable from generic failures so the engine can
// apply network-failure handling rather than server-error handling.
type TimeoutError struct {
	URL     string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request to %s timed out after %s", e.URL, e.Timeout)
}

// APIError is a non-2xx response from the Hearth server. Code and Message
// come from the response body when the server supplies them.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// IsNetworkError classifies an error as network-shaped: timeouts, transport
// failures, cancelled contexts and an open circuit breaker. Network-shaped
// errors are transient — queued operations are never dropped for them, and
// they drive sync status to offline rather than error. This is the single
// classification helper; only the engine calls it.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}

	var timeout *TimeoutError
	if errors.As(err, &timeout) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	// Breaker-open means the server has been failing; treat like
	// unreachable so operations stay queued for the retry scheduler.
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
