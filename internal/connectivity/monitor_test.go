// Hearthsync - Offline-First Sync Engine for the Hearth Family Organizer
// Copyright 2026 Hearth Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthapp/hearthsync

package connectivity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type scriptedProber struct {
	mu   sync.Mutex
	errs []error
	idx  int
}

func (p *scriptedProber) Healthz(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.idx >= len(p.errs) {
		return p.errs[len(p.errs)-1]
	}
	err := p.errs[p.idx]
	p.idx++
	return err
}

func TestMonitorStartsOffline(t *testing.T) {
	m := NewMonitor(&scriptedProber{errs: []error{nil}}, time.Hour)
	if m.Online() {
		t.Error("monitor online before first probe")
	}
}

func TestMonitorTransitions(t *testing.T) {
	down := errors.New("connection refused")
	p := &scriptedProber{errs: []error{nil, down, down, nil}}
	m := NewMonitor(p, time.Hour)

	var (
		mu     sync.Mutex
		events []bool
	)
	m.OnChange(func(online bool) {
		mu.Lock()
		events = append(events, online)
		mu.Unlock()
	})

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		m.probe(ctx)
	}

	if !m.Online() {
		t.Error("monitor offline after recovering probe")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []bool{true, false, true}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d = %v, want %v", i, events[i], want[i])
		}
	}
}

func TestMonitorNoEventWithoutChange(t *testing.T) {
	p := &scriptedProber{errs: []error{nil, nil, nil}}
	m := NewMonitor(p, time.Hour)

	var calls int
	m.OnChange(func(bool) { calls++ })

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		m.probe(ctx)
	}
	if calls != 1 {
		t.Errorf("change callbacks = %d, want 1 (initial offline -> online only)", calls)
	}
}

func TestMonitorServeStopsOnCancel(t *testing.T) {
	m := NewMonitor(&scriptedProber{errs: []error{nil}}, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Serve(ctx) }()

	deadline := time.After(2 * time.Second)
	for !m.Online() {
		select {
		case <-deadline:
			t.Fatal("monitor never came online")
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
