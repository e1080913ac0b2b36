package usecases_test

import (
	"context"
	"testing"
	"time"

	"github.com/samirrijal/groundsync/internal/adapters/memory"
	"github.com/samirrijal/groundsync/internal/core/domain"
	"github.com/samirrijal/groundsync/internal/core/usecases"
)

func TestSyncLoop_DrainsOnRequest(t *testing.T) {
	store := memory.NewLocalStore()
	remote := &mockRemote{}
	loop := usecases.NewSyncLoop(usecases.NewSyncEngine(store, remote, testSyncConfig()), time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	enqueueAll(t, store, loiMutation("m1", "s1", "loi1", domain.OpCreate))
	if err := loop.EnqueueSync(ctx, "s1", "loi1"); err != nil {
		t.Fatalf("enqueue sync: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(remote.Applied()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("mutation was not drained")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean stop, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}

	if got := remote.Applied(); len(got) != 1 || got[0] != "m1" {
		t.Errorf("expected m1 applied once, got %v", got)
	}
}

func TestSyncLoop_DrainsLocalEdits(t *testing.T) {
	deps, store, _ := newEditDeps(t)
	remote := &mockRemote{}
	engine := usecases.NewSyncEngine(store, remote, testSyncConfig())
	loop := usecases.NewSyncLoop(engine, time.Hour)
	deps.Scheduler = loop
	lois := usecases.NewLocationOfInterestService(deps)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	loi, _ := lois.NewLocationOfInterest(ctx, "s1", "job", testPoint(1, 1))
	if _, err := lois.Create(ctx, loi); err != nil {
		t.Fatalf("create: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(remote.Applied()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if len(remote.Applied()) != 1 {
		t.Errorf("expected the queued edit to sync, got %v", remote.Applied())
	}
}

func TestSyncLoop_RequestsCoalesce(t *testing.T) {
	loop := usecases.NewSyncLoop(usecases.NewSyncEngine(memory.NewLocalStore(), &mockRemote{}, testSyncConfig()), time.Hour)
	for i := 0; i < 5; i++ {
		if err := loop.EnqueueSync(context.Background(), "s1", "x"); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
}
