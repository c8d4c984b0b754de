// Hearthsync - Offline-First Sync Engine for the Hearth Family Organizer
// Copyright 2026 Hearth Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthapp/hearthsync

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	gws "github.com/gorilla/websocket"

	"github.com/hearthapp/hearthsync/internal/engine"
	"github.com/hearthapp/hearthsync/internal/logging"
	"github.com/hearthapp/hearthsync/internal/operation"
	"github.com/hearthapp/hearthsync/internal/outbox"
	"github.com/hearthapp/hearthsync/internal/websocket"
)

// Handler serves the local UI endpoints.
type Handler struct {
	runner   *engine.Runner
	state    *engine.StateStore
	store    *outbox.Store
	conn     engine.Connectivity
	hub      *websocket.Hub
	validate *validator.Validate
	upgrader gws.Upgrader
}

// NewHandler wires the endpoint handlers. uiOrigin is the only origin
// allowed to open the websocket.
func NewHandler(runner *engine.Runner, state *engine.StateStore, store *outbox.Store, conn engine.Connectivity, hub *websocket.Hub, uiOrigin string) *Handler {
	return &Handler{
		runner:   runner,
		state:    state,
		store:    store,
		conn:     conn,
		hub:      hub,
		validate: validator.New(),
		upgrader: gws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || origin == uiOrigin
			},
		},
	}
}

type createExpenseRequest struct {
	Date     string   `json:"date" validate:"required,datetime=2006-01-02"`
	Amount   int64    `json:"amount" validate:"required,gt=0"`
	Currency string   `json:"currency" validate:"required,len=3,alpha"`
	Title    string   `json:"title" validate:"required,max=200"`
	TagIDs   []string `json:"tag_ids" validate:"omitempty,dive,required"`
}

// CreateExpense handles POST /v1/expenses. The expense is queued and
// returned immediately with its local id; the background sync replaces
// it with the server copy.
func (h *Handler) CreateExpense(w http.ResponseWriter, r *http.Request) {
	var req createExpenseRequest
	if !h.decode(w, r, &req) {
		return
	}

	expense, err := h.runner.CreateExpense(r.Context(), operation.ExpensePayload{
		Date:     req.Date,
		Amount:   req.Amount,
		Currency: req.Currency,
		Title:    req.Title,
		TagIDs:   req.TagIDs,
	})
	if err != nil {
		h.mutationError(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, expense)
}

type createTodoRequest struct {
	ListID string `json:"list_id" validate:"required"`
	Title  string `json:"title" validate:"required,max=200"`
}

// CreateTodo handles POST /v1/todos.
func (h *Handler) CreateTodo(w http.ResponseWriter, r *http.Request) {
	var req createTodoRequest
	if !h.decode(w, r, &req) {
		return
	}

	item, err := h.runner.CreateTodo(r.Context(), req.ListID, req.Title)
	if err != nil {
		h.mutationError(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, item)
}

type toggleTodoRequest struct {
	IsCompleted *bool `json:"is_completed" validate:"required"`
}

// ToggleTodo handles PATCH /v1/todos/{id}/completed.
func (h *Handler) ToggleTodo(w http.ResponseWriter, r *http.Request) {
	todoID := chi.URLParam(r, "id")

	var req toggleTodoRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.runner.ToggleTodo(r.Context(), todoID, *req.IsCompleted); err != nil {
		h.mutationError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"id":           todoID,
		"is_completed": *req.IsCompleted,
	})
}

type syncResponse struct {
	Completed bool       `json:"completed"`
	Status    string     `json:"status"`
	LastSync  *time.Time `json:"last_sync_at,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// TriggerSync handles POST /v1/sync: a user-initiated sync pass, run to
// completion. Completed false means the pass failed or was dropped by
// the single-flight guard or manual throttle.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	ok := h.runner.SyncAll(r.Context(), engine.Options{Trigger: engine.TriggerManual})
	snap := h.state.Get()

	resp := syncResponse{
		Completed: ok,
		Status:    string(snap.Status),
		Error:     snap.ErrorMessage,
	}
	if !snap.LastSyncAt.IsZero() {
		at := snap.LastSyncAt
		resp.LastSync = &at
	}
	writeSuccess(w, http.StatusOK, resp)
}

type stateResponse struct {
	FamilyID string      `json:"family_id"`
	Status   string      `json:"status"`
	State    interface{} `json:"state"`
	LastSync *time.Time  `json:"last_sync_at,omitempty"`
	Error    string      `json:"error,omitempty"`
	Retrying bool        `json:"manual_retrying"`
}

// State handles GET /v1/state: the full snapshot the UI renders from.
func (h *Handler) State(w http.ResponseWriter, r *http.Request) {
	snap := h.state.Get()
	resp := stateResponse{
		FamilyID: snap.FamilyID,
		Status:   string(snap.Status),
		State:    snap.State,
		Error:    snap.ErrorMessage,
		Retrying: snap.ManualRetrying,
	}
	if !snap.LastSyncAt.IsZero() {
		at := snap.LastSyncAt
		resp.LastSync = &at
	}
	writeSuccess(w, http.StatusOK, resp)
}

type statusResponse struct {
	Status            string     `json:"status"`
	Online            bool       `json:"online"`
	PendingOperations int        `json:"pending_operations"`
	LastSync          *time.Time `json:"last_sync_at,omitempty"`
	ManualRetrying    bool       `json:"manual_retrying"`
	Error             string     `json:"error,omitempty"`
}

// Status handles GET /v1/status: the lightweight health strip the UI
// polls for its sync indicator.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	snap := h.state.Get()

	pending, err := h.store.Len()
	if err != nil {
		logging.Warn().Err(err).Msg("Reading outbox depth failed")
	}

	resp := statusResponse{
		Status:            string(snap.Status),
		Online:            h.conn.Online(),
		PendingOperations: pending,
		ManualRetrying:    snap.ManualRetrying,
		Error:             snap.ErrorMessage,
	}
	if !snap.LastSyncAt.IsZero() {
		at := snap.LastSyncAt
		resp.LastSync = &at
	}
	writeSuccess(w, http.StatusOK, resp)
}

// Healthz handles GET /healthz for the daemon itself.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, map[string]string{"status": "ok"})
}

// WebSocket handles GET /v1/ws, upgrading to the state push socket.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	client := websocket.NewClient(h.hub, conn)
	h.hub.Register <- client
	client.Start()
}

// decode unmarshals and validates a JSON request body. Writes the error
// response itself and returns false when the body is unusable.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "Malformed JSON body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field())
			}
			writeValidationError(w, map[string]interface{}{"fields": fields})
			return false
		}
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "Invalid request body")
		return false
	}
	return true
}

// mutationError maps engine errors to HTTP responses.
func (h *Handler) mutationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrNotBound):
		writeError(w, http.StatusConflict, ErrCodeConflict, "No family bound yet")
	case errors.Is(err, engine.ErrUnknownTodo):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Unknown todo item")
	default:
		logging.Error().Err(err).Msg("Mutation failed")
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "Failed to queue operation")
	}
}
