// Hearthsync - Offline-First Sync Engine for the Hearth Family Organizer
// Copyright 2026 Hearth Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthapp/hearthsync

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	gws "github.com/gorilla/websocket"

	"github.com/hearthapp/hearthsync/internal/client"
	"github.com/hearthapp/hearthsync/internal/engine"
	"github.com/hearthapp/hearthsync/internal/models"
	"github.com/hearthapp/hearthsync/internal/operation"
	"github.com/hearthapp/hearthsync/internal/outbox"
	"github.com/hearthapp/hearthsync/internal/websocket"
)

type stubAPI struct{}

func (stubAPI) SyncBatch(_ context.Context, ops []operation.Operation, _ client.BatchOptions) (*models.BatchResponse, error) {
	results := make([]models.OperationResult, len(ops))
	for i, op := range ops {
		results[i] = models.OperationResult{OperationID: op.ID(), Status: models.ResultApplied}
	}
	return &models.BatchResponse{
		Status:  models.BatchSuccess,
		Summary: models.BatchSummary{Total: len(ops), Applied: len(ops)},
		Results: results,
	}, nil
}

func (stubAPI) FetchExpenses(context.Context, int, int) (*models.ExpensesPage, error) {
	return &models.ExpensesPage{}, nil
}

func (stubAPI) FetchTags(context.Context) ([]models.Tag, error) { return nil, nil }

func (stubAPI) FetchTodoLists(context.Context) (*models.TodoListsPage, error) {
	return &models.TodoListsPage{}, nil
}

func (stubAPI) Healthz(context.Context) error { return nil }

type stubSession struct{}

func (stubSession) Token() string  { return "tok" }
func (stubSession) SignedIn() bool { return true }

type stubConn struct{ online bool }

func (c stubConn) Online() bool { return c.online }

type fixture struct {
	handler *Handler
	router  http.Handler
	runner  *engine.Runner
	state   *engine.StateStore
	hub     *websocket.Hub
}

func newFixture(t *testing.T, bound bool) *fixture {
	t.Helper()

	store, err := outbox.Open(outbox.Config{InMemory: true})
	if err != nil {
		t.Fatalf("open outbox: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	state := engine.NewStateStore()
	conn := stubConn{online: false}
	runner := engine.NewRunner(store, stubAPI{}, state, stubSession{}, conn, engine.Config{
		ManualMinInterval: time.Nanosecond,
	})
	if bound {
		runner.Bind(context.Background(), "fam-1")
	}

	hub := websocket.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.RunWithContext(ctx)

	handler := NewHandler(runner, state, store, conn, hub, "http://localhost:5173")
	router := NewRouter(handler, RouterConfig{UIOrigin: "http://localhost:5173", RateLimit: 1000})
	return &fixture{handler: handler, router: router, runner: runner, state: state, hub: hub}
}

func doJSON(t *testing.T, router http.Handler, method, path, body string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return rec, resp
}

func TestCreateExpenseEndpoint(t *testing.T) {
	f := newFixture(t, true)

	rec, resp := doJSON(t, f.router, http.MethodPost, "/v1/expenses",
		`{"date":"2026-08-15","amount":2500,"currency":"EUR","title":"Groceries"}`)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	if !resp.Success {
		t.Fatal("response not successful")
	}

	data, _ := json.Marshal(resp.Data)
	var expense models.Expense
	if err := json.Unmarshal(data, &expense); err != nil {
		t.Fatalf("decode expense: %v", err)
	}
	if !expense.Pending {
		t.Error("created expense not pending")
	}
	if !strings.HasPrefix(expense.ID, "local-") {
		t.Errorf("expense id = %q, want local id", expense.ID)
	}

	snap := f.state.Get()
	if len(snap.State.Expenses) != 1 {
		t.Errorf("state expenses = %d, want 1", len(snap.State.Expenses))
	}
}

func TestCreateExpenseValidation(t *testing.T) {
	f := newFixture(t, true)

	cases := map[string]string{
		"missing title":  `{"date":"2026-08-15","amount":2500,"currency":"EUR"}`,
		"bad date":       `{"date":"15/08/2026","amount":2500,"currency":"EUR","title":"x"}`,
		"zero amount":    `{"date":"2026-08-15","amount":0,"currency":"EUR","title":"x"}`,
		"bad currency":   `{"date":"2026-08-15","amount":1,"currency":"EURO","title":"x"}`,
		"malformed body": `{not json`,
	}
	for name, body := range cases {
		rec, resp := doJSON(t, f.router, http.MethodPost, "/v1/expenses", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", name, rec.Code)
		}
		if resp.Success || resp.Error == nil {
			t.Errorf("%s: expected error envelope", name)
		}
	}
}

func TestCreateExpenseUnbound(t *testing.T) {
	f := newFixture(t, false)

	rec, resp := doJSON(t, f.router, http.MethodPost, "/v1/expenses",
		`{"date":"2026-08-15","amount":2500,"currency":"EUR","title":"Groceries"}`)

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
	if resp.Error == nil || resp.Error.Code != ErrCodeConflict {
		t.Errorf("error = %+v, want conflict code", resp.Error)
	}
}

func TestCreateTodoEndpoint(t *testing.T) {
	f := newFixture(t, true)

	rec, resp := doJSON(t, f.router, http.MethodPost, "/v1/todos",
		`{"list_id":"list-1","title":"Buy milk"}`)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	data, _ := json.Marshal(resp.Data)
	var item models.TodoItem
	if err := json.Unmarshal(data, &item); err != nil {
		t.Fatalf("decode item: %v", err)
	}
	if item.ListID != "list-1" || !item.Pending {
		t.Errorf("item = %+v, want pending in list-1", item)
	}
}

func TestToggleTodoEndpoint(t *testing.T) {
	f := newFixture(t, true)
	f.state.Update(func(s *engine.Snapshot) {
		s.State.TodoLists = []models.TodoList{{
			ID:    "list-1",
			Items: []models.TodoItem{{ID: "srv-t1", ListID: "list-1", Title: "Buy milk"}},
		}}
	})

	rec, _ := doJSON(t, f.router, http.MethodPatch, "/v1/todos/srv-t1/completed",
		`{"is_completed":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	snap := f.state.Get()
	item := snap.State.TodoLists[0].Items[0]
	if !item.IsCompleted || !item.Pending {
		t.Errorf("item = %+v, want completed and pending", item)
	}
}

func TestToggleTodoUnknown(t *testing.T) {
	f := newFixture(t, true)

	rec, resp := doJSON(t, f.router, http.MethodPatch, "/v1/todos/ghost/completed",
		`{"is_completed":true}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if resp.Error == nil || resp.Error.Code != ErrCodeNotFound {
		t.Errorf("error = %+v, want not-found code", resp.Error)
	}
}

func TestTriggerSyncEndpoint(t *testing.T) {
	f := newFixture(t, true)

	rec, resp := doJSON(t, f.router, http.MethodPost, "/v1/sync", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	data, _ := json.Marshal(resp.Data)
	var sync syncResponse
	if err := json.Unmarshal(data, &sync); err != nil {
		t.Fatalf("decode sync response: %v", err)
	}
	if !sync.Completed {
		t.Errorf("sync completed = false: %+v", sync)
	}
	if sync.Status != string(models.StatusUpdated) {
		t.Errorf("status = %q, want updated", sync.Status)
	}
}

func TestStateAndStatusEndpoints(t *testing.T) {
	f := newFixture(t, true)
	f.state.Update(func(s *engine.Snapshot) {
		s.Status = models.StatusOffline
		s.State.Stale = true
	})

	rec, resp := doJSON(t, f.router, http.MethodGet, "/v1/state", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("state status = %d, want 200", rec.Code)
	}
	data, _ := json.Marshal(resp.Data)
	var st stateResponse
	if err := json.Unmarshal(data, &st); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if st.FamilyID != "fam-1" || st.Status != string(models.StatusOffline) {
		t.Errorf("state = %+v", st)
	}

	rec, resp = doJSON(t, f.router, http.MethodGet, "/v1/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status status = %d, want 200", rec.Code)
	}
	data, _ = json.Marshal(resp.Data)
	var status statusResponse
	if err := json.Unmarshal(data, &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Online {
		t.Error("status reports online with offline stub")
	}
	if status.Status != string(models.StatusOffline) {
		t.Errorf("status = %q, want offline", status.Status)
	}
}

func TestHealthzEndpoint(t *testing.T) {
	f := newFixture(t, true)
	rec, resp := doJSON(t, f.router, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || !resp.Success {
		t.Errorf("healthz = %d %+v", rec.Code, resp)
	}
}

func TestWebSocketStatePush(t *testing.T) {
	f := newFixture(t, true)

	srv := httptest.NewServer(f.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws"
	conn, _, err := gws.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()

	deadline := time.After(2 * time.Second)
	for f.hub.ClientCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("client never registered with hub")
		case <-time.After(time.Millisecond):
		}
	}

	f.hub.Broadcast(websocket.MessageTypeStatus, map[string]string{"status": "updated"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg websocket.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read websocket message: %v", err)
	}
	if msg.Type != websocket.MessageTypeStatus {
		t.Errorf("message type = %q, want status", msg.Type)
	}
}
