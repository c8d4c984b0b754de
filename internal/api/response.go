// Hearthsync - Offline-First Sync Engine for the Hearth Family Organizer
// Copyright 2026 Hearth Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthapp/hearthsync

// Package api is the local HTTP surface the Hearth UI talks to. It
// exposes the optimistic mutation endpoints, the current snapshot, a
// manual sync trigger, and a websocket pushing state changes.
package api

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/hearthapp/hearthsync/internal/logging"
)

// Response is the envelope every endpoint answers with.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error carries a machine-readable code plus a human-readable message.
type Error struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// Error codes.
const (
	ErrCodeBadRequest       = "BAD_REQUEST"
	ErrCodeValidationFailed = "VALIDATION_FAILED"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeConflict         = "CONFLICT"
	ErrCodeInternalError    = "INTERNAL_ERROR"
)

func writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func writeSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	writeJSON(w, statusCode, Response{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, Response{Success: false, Error: &Error{Code: code, Message: message}})
}

func writeValidationError(w http.ResponseWriter, details interface{}) {
	writeJSON(w, http.StatusBadRequest, Response{
		Success: false,
		Error:   &Error{Code: ErrCodeValidationFailed, Message: "Request validation failed", Details: details},
	})
}
