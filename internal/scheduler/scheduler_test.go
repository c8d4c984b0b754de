// Hearthsync - Offline-First Sync Engine for the Hearth Family Organizer
// Copyright 2026 Hearth Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthapp/hearthsync

package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hearthapp/hearthsync/internal/engine"
	"github.com/hearthapp/hearthsync/internal/models"
)

type fakeSyncer struct {
	mu       sync.Mutex
	familyID string
	calls    []engine.Trigger
}

func (f *fakeSyncer) FamilyID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.familyID
}

func (f *fakeSyncer) SyncAll(_ context.Context, opts engine.Options) bool {
	f.mu.Lock()
	f.calls = append(f.calls, opts.Trigger)
	f.mu.Unlock()
	return true
}

func (f *fakeSyncer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fixedSession struct{ signedIn bool }

func (s fixedSession) Token() string  { return "tok" }
func (s fixedSession) SignedIn() bool { return s.signedIn }

type fixedBacklog struct{ n int }

func (b fixedBacklog) Len() (int, error) { return b.n, nil }

func degradedState(status models.SyncStatus) *engine.StateStore {
	st := engine.NewStateStore()
	st.Update(func(s *engine.Snapshot) { s.Status = status })
	return st
}

func TestAttemptSkipsWhenUnbound(t *testing.T) {
	syncer := &fakeSyncer{}
	s := New(syncer, degradedState(models.StatusOffline), fixedSession{signedIn: true}, fixedBacklog{}, time.Hour)

	s.attempt(context.Background(), false)
	if syncer.callCount() != 0 {
		t.Error("retry fired without a bound family")
	}
}

func TestAttemptSkipsWhenSignedOut(t *testing.T) {
	syncer := &fakeSyncer{familyID: "fam-1"}
	s := New(syncer, degradedState(models.StatusOffline), fixedSession{signedIn: false}, fixedBacklog{}, time.Hour)

	s.attempt(context.Background(), false)
	if syncer.callCount() != 0 {
		t.Error("retry fired without a session")
	}
}

func TestAttemptRetriesDegradedStatus(t *testing.T) {
	for _, status := range []models.SyncStatus{models.StatusOffline, models.StatusError} {
		syncer := &fakeSyncer{familyID: "fam-1"}
		s := New(syncer, degradedState(status), fixedSession{signedIn: true}, fixedBacklog{}, time.Hour)

		s.attempt(context.Background(), false)
		if syncer.callCount() != 1 {
			t.Errorf("status %q: retries = %d, want 1", status, syncer.callCount())
		}
		if syncer.calls[0] != engine.TriggerAutoRetry {
			t.Errorf("status %q: trigger = %q, want auto-retry", status, syncer.calls[0])
		}
	}
}

func TestAttemptSkipsHealthyStatusOnTick(t *testing.T) {
	syncer := &fakeSyncer{familyID: "fam-1"}
	s := New(syncer, degradedState(models.StatusUpdated), fixedSession{signedIn: true}, fixedBacklog{n: 3}, time.Hour)

	s.attempt(context.Background(), false)
	if syncer.callCount() != 0 {
		t.Error("tick retried despite healthy status")
	}
}

func TestReconnectSkipsHealthyEmptyQueue(t *testing.T) {
	syncer := &fakeSyncer{familyID: "fam-1"}
	s := New(syncer, degradedState(models.StatusUpdated), fixedSession{signedIn: true}, fixedBacklog{}, time.Hour)

	s.attempt(context.Background(), true)
	if syncer.callCount() != 0 {
		t.Error("reconnect retried with a healthy status and nothing queued")
	}
}

func TestReconnectFlushesQueuedBacklog(t *testing.T) {
	syncer := &fakeSyncer{familyID: "fam-1"}
	s := New(syncer, degradedState(models.StatusUpdated), fixedSession{signedIn: true}, fixedBacklog{n: 2}, time.Hour)

	s.attempt(context.Background(), true)
	if syncer.callCount() != 1 {
		t.Error("reconnect did not flush queued operations behind a healthy status")
	}
}

func TestWakeTriggersRetryThroughServe(t *testing.T) {
	syncer := &fakeSyncer{familyID: "fam-1"}
	s := New(syncer, degradedState(models.StatusOffline), fixedSession{signedIn: true}, fixedBacklog{}, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Serve(ctx)
		close(done)
	}()

	s.Wake()

	deadline := time.After(2 * time.Second)
	for syncer.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("wake never produced a retry")
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestWakeCoalesces(t *testing.T) {
	s := New(&fakeSyncer{}, engine.NewStateStore(), fixedSession{}, fixedBacklog{}, time.Hour)
	for i := 0; i < 5; i++ {
		s.Wake()
	}
	if len(s.wake) != 1 {
		t.Errorf("pending wakes = %d, want 1", len(s.wake))
	}
}
