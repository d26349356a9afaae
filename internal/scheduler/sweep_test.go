package scheduler

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/rulehost/rulehost/internal/session"
	"github.com/rulehost/rulehost/internal/types"
)

func TestSupervisorSweepsIdleSessionsOnInterval(t *testing.T) {
	backend := &fakeBackend{}
	sched, store := newTestScheduler(t, backend)
	evictor := NewEvictor(store, sched, sched.backends, time.Second)

	rec := store.Create("alice", types.SessionForward, types.DefaultResourceLimits())
	store.Update(rec.ID, func(r *session.Record) { r.Status = types.StatusIdle })

	sup, err := NewSupervisor(sched, evictor, store, sched.backends, -time.Hour, 20*time.Millisecond, time.Hour, slog.Default())
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}
	sup.Start()
	defer sup.Stop()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if summary, ok := store.Get(rec.ID); ok && summary.Status == types.StatusTerminated {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected idle session to be swept within timeout")
}

func TestSupervisorRecoversBrokenEngineOnProbe(t *testing.T) {
	backend := &fakeBackend{}
	sched, store := newTestScheduler(t, backend)
	evictor := NewEvictor(store, sched, sched.backends, time.Second)

	rec := store.Create("alice", types.SessionForward, types.DefaultResourceLimits())
	store.Update(rec.ID, func(r *session.Record) { r.Status = types.StatusActive })
	if _, err := sched.Submit(context.Background(), &Job{SessionID: rec.ID, Kind: JobEvaluate, Script: "warm up"}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	h, ok := sched.HandleOf(rec.ID)
	if !ok {
		t.Fatal("expected a live handle after a successful evaluate")
	}
	h.(*fakeBWHandle).broken.Store(true)

	sup, err := NewSupervisor(sched, evictor, store, sched.backends, time.Hour, time.Hour, 20*time.Millisecond, slog.Default())
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}
	sup.Start()
	defer sup.Stop()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if newHandle, ok := sched.HandleOf(rec.ID); ok && !newHandle.(*fakeBWHandle).Broken() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected supervisor to recover the broken engine within timeout")
}
