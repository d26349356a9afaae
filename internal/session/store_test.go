package session

import (
	"testing"
	"time"

	"github.com/rulehost/rulehost/internal/types"
)

func TestCreateAndGet(t *testing.T) {
	s := NewStore()
	rec := s.Create("alice", types.SessionForward, types.DefaultResourceLimits())

	got, ok := s.Get(rec.ID)
	if !ok {
		t.Fatal("expected session to be found")
	}
	if got.Owner != "alice" {
		t.Errorf("expected owner alice, got %q", got.Owner)
	}
	if got.Status != types.StatusInitializing {
		t.Errorf("expected initializing status, got %q", got.Status)
	}
}

func TestGetMissing(t *testing.T) {
	s := NewStore()
	_, ok := s.Get(types.SessionID("nope"))
	if ok {
		t.Fatal("expected not found")
	}
}

func TestListByOwner(t *testing.T) {
	s := NewStore()
	s.Create("alice", types.SessionForward, types.DefaultResourceLimits())
	s.Create("alice", types.SessionForward, types.DefaultResourceLimits())
	s.Create("bob", types.SessionForward, types.DefaultResourceLimits())

	aliceSessions := s.ListByOwner("alice")
	if len(aliceSessions) != 2 {
		t.Errorf("expected 2 sessions for alice, got %d", len(aliceSessions))
	}
	if len(s.ListAll()) != 3 {
		t.Errorf("expected 3 total sessions, got %d", len(s.ListAll()))
	}
}

func TestCountActiveExcludesTerminated(t *testing.T) {
	s := NewStore()
	rec1 := s.Create("alice", types.SessionForward, types.DefaultResourceLimits())
	s.Create("alice", types.SessionForward, types.DefaultResourceLimits())

	s.Update(rec1.ID, func(r *Record) { r.Status = types.StatusTerminated })

	if got := s.CountActive("alice"); got != 1 {
		t.Errorf("expected 1 active session, got %d", got)
	}
	if got := s.CountActive(""); got != 1 {
		t.Errorf("expected 1 active session globally, got %d", got)
	}
}

func TestUpdateBumpsTouchedAt(t *testing.T) {
	s := NewStore()
	rec := s.Create("alice", types.SessionForward, types.DefaultResourceLimits())
	before, _ := s.Get(rec.ID)

	time.Sleep(time.Millisecond)
	updated, err := s.Update(rec.ID, func(r *Record) { r.Status = types.StatusActive })
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != types.StatusActive {
		t.Errorf("expected active status, got %q", updated.Status)
	}
	if !updated.TouchedAt.After(before.TouchedAt) {
		t.Error("expected touched_at to advance")
	}
}

func TestUpdateMissing(t *testing.T) {
	s := NewStore()
	_, err := s.Update(types.SessionID("nope"), func(*Record) {})
	if err == nil {
		t.Fatal("expected error for missing session")
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	s := NewStore()
	rec := s.Create("alice", types.SessionForward, types.DefaultResourceLimits())
	s.Remove(rec.ID)
	s.Remove(rec.ID) // must not panic

	if _, ok := s.Get(rec.ID); ok {
		t.Error("expected session to be gone after remove")
	}
	if len(s.ListByOwner("alice")) != 0 {
		t.Error("expected owner index cleaned up")
	}
}

func TestOldestEvictionCandidateSkipsEvaluating(t *testing.T) {
	s := NewStore()
	rec1 := s.Create("alice", types.SessionForward, types.DefaultResourceLimits())
	rec2 := s.Create("alice", types.SessionForward, types.DefaultResourceLimits())

	s.Update(rec1.ID, func(r *Record) { r.Status = types.StatusEvaluating })
	s.Update(rec2.ID, func(r *Record) { r.Status = types.StatusIdle })

	id, ok := s.OldestEvictionCandidate("")
	if !ok {
		t.Fatal("expected a candidate")
	}
	if id != rec1.ID && id != rec2.ID {
		t.Fatalf("unexpected candidate %v", id)
	}
	if id == rec1.ID {
		t.Error("must not select a session currently Evaluating")
	}
}

func TestOldestEvictionCandidateNoneEligible(t *testing.T) {
	s := NewStore()
	rec := s.Create("alice", types.SessionForward, types.DefaultResourceLimits())
	s.Update(rec.ID, func(r *Record) { r.Status = types.StatusEvaluating })

	_, ok := s.OldestEvictionCandidate("")
	if ok {
		t.Fatal("expected no eligible candidate while session is evaluating")
	}
}

func TestIdleSince(t *testing.T) {
	s := NewStore()
	rec := s.Create("alice", types.SessionForward, types.DefaultResourceLimits())
	s.Update(rec.ID, func(r *Record) { r.Status = types.StatusIdle })

	summary, _ := s.Get(rec.ID)

	idle := s.IdleSince(summary.TouchedAt.Add(time.Hour))
	if len(idle) != 1 || idle[0] != rec.ID {
		t.Errorf("expected rec to be idle-since cutoff, got %v", idle)
	}

	idleNone := s.IdleSince(summary.TouchedAt.Add(-time.Hour))
	if len(idleNone) != 0 {
		t.Errorf("expected no sessions idle before their own touch time, got %v", idleNone)
	}
}
