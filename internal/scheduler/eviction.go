package scheduler

import (
	"context"
	"time"

	"github.com/rulehost/rulehost/internal/engine"
	"github.com/rulehost/rulehost/internal/notify"
	"github.com/rulehost/rulehost/internal/session"
	"github.com/rulehost/rulehost/internal/types"
)

// Evictor implements the shutdown side of §4.6: selecting the oldest
// not-currently-Evaluating session for a scope and running it through
// the graceful -> forceful ladder, grounded on EngineBackend's own
// two-tier shutdown contract. Eviction and the idle sweep leave the record
// in the store as a Terminated tombstone; only Shutdown removes it.
type Evictor struct {
	store           *session.Store
	sched           *Scheduler
	backends        map[types.SessionType]engine.Backend
	gracefulTimeout time.Duration
	notifier        *notify.Notifier
}

func NewEvictor(store *session.Store, sched *Scheduler, backends map[types.SessionType]engine.Backend, gracefulTimeout time.Duration) *Evictor {
	return &Evictor{store: store, sched: sched, backends: backends, gracefulTimeout: gracefulTimeout}
}

// SetNotifier attaches a lifecycle-event sink fan-out, mirroring
// Scheduler.SetNotifier. Optional: an Evictor with none attached simply
// emits nothing.
func (e *Evictor) SetNotifier(n *notify.Notifier) {
	e.notifier = n
}

func (e *Evictor) emit(evt notify.Event) {
	if e.notifier != nil {
		e.notifier.Emit(evt)
	}
}

// terminate runs id through graceful shutdown, then force shutdown if that
// doesn't finish in time, and marks it Terminated. The handle is never
// touched here directly — Scheduler.ShutdownHandle routes the actual
// graceful/force calls through the session's own lane worker, so a shutdown
// requested while the session is mid-Evaluate simply queues behind that job
// instead of racing its stdin/stdout access. It never removes id from the
// store: callers decide whether the Terminated record should remain as a
// tombstone (eviction, idle sweep) or be deleted outright (client DELETE).
func (e *Evictor) terminate(ctx context.Context, id types.SessionID) (session.Summary, bool) {
	if _, ok := e.store.Get(id); !ok {
		return session.Summary{}, false
	}
	e.store.Update(id, func(r *session.Record) { r.Status = types.StatusTerminating })

	deadline := time.Now().Add(e.gracefulTimeout)
	_ = e.sched.ShutdownHandle(ctx, id, deadline)

	terminatedSummary, _ := e.store.Update(id, func(r *session.Record) { r.Status = types.StatusTerminated })
	e.sched.RemoveLane(id)
	return terminatedSummary, true
}

// EvictOneFor frees capacity for scope (owner, or "" for the global
// cap) by terminating the single oldest eligible session, leaving it as a
// Terminated tombstone in the store rather than removing it — spec.md §8
// scenario 4 requires an evicted session still answer GET with its
// Terminated status. Returns false, no error, if no session in that scope
// is currently eligible — callers must then reject the admission that
// triggered eviction with Overloaded rather than preempt a running job.
func (e *Evictor) EvictOneFor(ctx context.Context, owner string) (types.SessionID, bool, error) {
	id, ok := e.store.OldestEvictionCandidate(owner)
	if !ok {
		return "", false, nil
	}
	summary, ok := e.terminate(ctx, id)
	if !ok {
		return id, false, nil
	}
	e.emit(notify.Event{Kind: notify.EventEvicted, Session: summary})
	return id, true, nil
}

// Shutdown fully terminates id and removes it from the store — the
// client-DELETE path. spec.md §8: "after DELETE returns, subsequent
// operations on that id return NotFound," so unlike EvictOneFor/SweepIdle
// this does not leave a Terminated tombstone behind.
func (e *Evictor) Shutdown(ctx context.Context, id types.SessionID) error {
	summary, ok := e.terminate(ctx, id)
	if !ok {
		return nil
	}
	e.emit(notify.Event{Kind: notify.EventTerminated, Session: summary})
	e.store.Remove(id)
	return nil
}

// SweepIdle evicts every Idle session whose touched-at is older than
// idleTimeout, returning the number evicted. Like EvictOneFor, it leaves a
// Terminated tombstone rather than removing the session from the store.
func (e *Evictor) SweepIdle(ctx context.Context, idleTimeout time.Duration) int {
	ids := e.store.IdleSince(time.Now().Add(-idleTimeout))
	n := 0
	for _, id := range ids {
		if summary, ok := e.terminate(ctx, id); ok {
			e.emit(notify.Event{Kind: notify.EventEvicted, Session: summary})
			n++
		}
	}
	return n
}
