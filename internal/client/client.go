// Hearthsync - Offline-First Sync Engine for the Hearth Family Organizer
// Copyright 2026 Hearth Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthapp/hearthsync

// Package client is the wire-level client for the Hearth server API: the
// /sync batch endpoint plus the three canonical collection fetches. It is a
// stateless RPC wrapper — retry policy, error classification and state
// reconciliation belong to the engine.
//
// Resilience mechanisms, in the order they apply:
//   - per-call timeout with a typed TimeoutError on expiry
//   - exponential backoff on HTTP 429, honoring Retry-After
//   - circuit breaker wrapper (see breaker.go)
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/hearthapp/hearthsync/internal/models"
	"github.com/hearthapp/hearthsync/internal/operation"
)

// maxErrorBodySize limits how much of an error response body is read for
// diagnostics, preventing unbounded allocation on large error pages.
const maxErrorBodySize = 64 * 1024 // 64KB

// TokenSource supplies the current bearer token. An empty token means no
// session; requests are then sent unauthenticated and the caller decides
// whether to call at all.
type TokenSource interface {
	Token() string
}

// API is the surface the engine consumes. Implemented by Client and by
// BreakerClient, and mocked in engine tests.
type API interface {
	SyncBatch(ctx context.Context, ops []operation.Operation, opts BatchOptions) (*models.BatchResponse, error)
	FetchExpenses(ctx context.Context, limit, offset int) (*models.ExpensesPage, error)
	FetchTags(ctx context.Context) ([]models.Tag, error)
	FetchTodoLists(ctx context.Context) (*models.TodoListsPage, error)
	Healthz(ctx context.Context) error
}

// Config holds client configuration.
type Config struct {
	// BaseURL is the Hearth server root, without trailing slash.
	BaseURL string

	// Timeout is the default per-call timeout. BatchOptions may override
	// it for batch calls.
	Timeout time.Duration

	// MaxRetries bounds retries on HTTP 429. Default 5.
	MaxRetries int

	// RetryBaseDelay is the first backoff delay, doubled per retry.
	// Default 1s.
	RetryBaseDelay time.Duration
}

// BatchOptions tunes one SyncBatch call.
type BatchOptions struct {
	// Timeout overrides the client default when positive.
	Timeout time.Duration

	// IdempotencyKey is sent in the Idempotency-Key header. When empty a
	// fresh key is generated, so a client-side retry of a timed-out call
	// cannot cause server-side double-application.
	IdempotencyKey string
}

// Client talks HTTP/JSON to the Hearth server.
//
// Thread safety: safe for concurrent use; every call builds its own request.
type Client struct {
	baseURL        string
	tokens         TokenSource
	http           *http.Client
	timeout        time.Duration
	maxRetries     int
	retryBaseDelay time.Duration
}

// NewClient creates a Hearth API client.
func NewClient(cfg Config, tokens TokenSource) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}
	return &Client{
		baseURL:        cfg.BaseURL,
		tokens:         tokens,
		http:           &http.Client{},
		timeout:        cfg.Timeout,
		maxRetries:     cfg.MaxRetries,
		retryBaseDelay: cfg.RetryBaseDelay,
	}
}

// NewIdempotencyKey builds a fresh idempotency key: timestamp plus random
// suffix.
func NewIdempotencyKey() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

// batchRequest is the body of POST /sync. Operations marshal to their wire
// envelopes, without created_at.
type batchRequest struct {
	Operations []operation.Operation `json:"operations"`
}

// SyncBatch submits queued operations to POST /sync and returns the
// per-operation results and id mappings.
func (c *Client) SyncBatch(ctx context.Context, ops []operation.Operation, opts BatchOptions) (*models.BatchResponse, error) {
	key := opts.IdempotencyKey
	if key == "" {
		key = NewIdempotencyKey()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}

	var resp models.BatchResponse
	err := c.doJSON(ctx, timeout, http.MethodPost, "/sync", nil,
		map[string]string{"Idempotency-Key": key},
		batchRequest{Operations: ops}, &resp)
	if err != nil {
		return nil, fmt.Errorf("sync batch: %w", err)
	}
	return &resp, nil
}

// FetchExpenses fetches one page of expenses, newest first.
func (c *Client) FetchExpenses(ctx context.Context, limit, offset int) (*models.ExpensesPage, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	var page models.ExpensesPage
	if err := c.doJSON(ctx, c.timeout, http.MethodGet, "/expenses", q, nil, nil, &page); err != nil {
		return nil, fmt.Errorf("fetch expenses: %w", err)
	}
	return &page, nil
}

// FetchTags fetches all tags.
func (c *Client) FetchTags(ctx context.Context) ([]models.Tag, error) {
	var tags []models.Tag
	if err := c.doJSON(ctx, c.timeout, http.MethodGet, "/tags", nil, nil, nil, &tags); err != nil {
		return nil, fmt.Errorf("fetch tags: %w", err)
	}
	return tags, nil
}

// FetchTodoLists fetches all todo lists with their non-archived items.
func (c *Client) FetchTodoLists(ctx context.Context) (*models.TodoListsPage, error) {
	q := url.Values{}
	q.Set("include_items", "true")
	q.Set("items_archived", "false")

	var page models.TodoListsPage
	if err := c.doJSON(ctx, c.timeout, http.MethodGet, "/todo-lists", q, nil, nil, &page); err != nil {
		return nil, fmt.Errorf("fetch todo lists: %w", err)
	}
	return &page, nil
}

// Healthz probes server reachability with a short GET. Used by the
// connectivity monitor.
func (c *Client) Healthz(ctx context.Context) error {
	return c.doJSON(ctx, 5*time.Second, http.MethodGet, "/healthz", nil, nil, nil, nil)
}

// errorBody is the error shape the server uses for non-2xx responses.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// doJSON performs one JSON request with timeout enforcement, bearer auth,
// and 429 backoff. A deadline expiry surfaces as *TimeoutError; any other
// non-2xx as *APIError.
func (c *Client) doJSON(ctx context.Context, timeout time.Duration, method, path string, query url.Values, headers map[string]string, body, result interface{}) error {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := c.doWithRateLimit(ctx, method, reqURL, payload, headers)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &TimeoutError{URL: reqURL, Timeout: timeout}
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		var eb errorBody
		if json.Unmarshal(raw, &eb) == nil && eb.Error.Message != "" {
			apiErr.Code = eb.Error.Code
			apiErr.Message = eb.Error.Message
		} else {
			apiErr.Message = string(raw)
		}
		return apiErr
	}

	if result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

// doWithRateLimit performs the request with exponential backoff on HTTP
// 429 (1s, 2s, 4s, ...), honoring a Retry-After header when present. The
// request body is rebuilt per attempt.
func (c *Client) doWithRateLimit(ctx context.Context, method, reqURL string, payload []byte, headers map[string]string) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var bodyReader io.Reader = http.NoBody
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if token := c.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("HTTP request failed: %w", err)
		}

		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}

		_ = resp.Body.Close()

		if attempt == c.maxRetries {
			lastErr = fmt.Errorf("rate limit exceeded after %d retries (HTTP 429)", c.maxRetries)
			break
		}

		delay := c.retryBaseDelay * time.Duration(1<<uint(attempt))
		if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
			if seconds, err := time.ParseDuration(retryAfter + "s"); err == nil {
				delay = seconds
			}
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, lastErr
}
