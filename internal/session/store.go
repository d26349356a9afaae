package session

import (
	"container/list"
	"fmt"
	"sync"
	"time"

	"github.com/rulehost/rulehost/internal/types"
)

// Store is an in-memory index keyed by SessionId, with secondary views:
// by-owner (set of SessionIds per user) and by-touch (ordered sequence for
// LRU). All mutations are serialized by a single lock; reads may be
// concurrent. There is no durable backing; persistence is an external
// collaborator this core does not implement.
type Store struct {
	mu       sync.RWMutex
	byID     map[types.SessionID]*Record
	byOwner  map[string]map[types.SessionID]struct{}
	touch    *list.List // front = least recently touched, back = most recent
	touchPos map[types.SessionID]*list.Element
}

// NewStore returns an empty session store.
func NewStore() *Store {
	return &Store{
		byID:     make(map[types.SessionID]*Record),
		byOwner:  make(map[string]map[types.SessionID]struct{}),
		touch:    list.New(),
		touchPos: make(map[types.SessionID]*list.Element),
	}
}

// Create inserts a fresh Initializing record and returns it. Callers hold
// no external reference to the returned *Record beyond the creating
// worker — all later access goes through Get/Update/Remove.
func (s *Store) Create(owner string, typ types.SessionType, limits types.ResourceLimits) *Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	rec := &Record{
		ID:        types.NewSessionID(),
		Owner:     owner,
		Type:      typ,
		Status:    types.StatusInitializing,
		CreatedAt: now,
		TouchedAt: now,
		Usage:     types.ResourceUsage{MemoryBytes: types.PerSessionEngineOverheadBytes},
		Limits:    limits,
		Metadata:  make(map[string]string),
	}

	s.byID[rec.ID] = rec
	if s.byOwner[owner] == nil {
		s.byOwner[owner] = make(map[types.SessionID]struct{})
	}
	s.byOwner[owner][rec.ID] = struct{}{}
	s.touchPos[rec.ID] = s.touch.PushBack(rec.ID)

	return rec
}

// Get returns a point-in-time Summary of the session, or false if absent.
func (s *Store) Get(id types.SessionID) (Summary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byID[id]
	if !ok {
		return Summary{}, false
	}
	return rec.summary(), true
}

// ListAll returns a summary of every session, in no particular order.
func (s *Store) ListAll() []Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Summary, 0, len(s.byID))
	for _, rec := range s.byID {
		out = append(out, rec.summary())
	}
	return out
}

// ListByOwner returns a summary of every session owned by owner.
func (s *Store) ListByOwner(owner string) []Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byOwner[owner]
	out := make([]Summary, 0, len(ids))
	for id := range ids {
		out = append(out, s.byID[id].summary())
	}
	return out
}

// CountActive returns the number of sessions not in a terminal or
// terminating status, globally or (if owner != "") scoped to one owner.
func (s *Store) CountActive(owner string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	consider := func(rec *Record) {
		switch rec.Status {
		case types.StatusTerminating, types.StatusTerminated:
			return
		}
		count++
	}
	if owner == "" {
		for _, rec := range s.byID {
			consider(rec)
		}
		return count
	}
	for id := range s.byOwner[owner] {
		consider(s.byID[id])
	}
	return count
}

// Update runs fn against the live Record under the store's write lock and
// bumps TouchedAt afterward, moving the session to the back of the
// by-touch LRU order. This is the only way outside Create that a Record's
// fields may change.
func (s *Store) Update(id types.SessionID, fn func(*Record)) (Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return Summary{}, fmt.Errorf("session not found: %s", id)
	}

	fn(rec)
	rec.TouchedAt = time.Now()
	s.touch.MoveToBack(s.touchPos[id])

	return rec.summary(), nil
}

// Touch bumps TouchedAt and LRU order without otherwise mutating the
// record — used on admission, before a job begins running.
func (s *Store) Touch(id types.SessionID) error {
	_, err := s.Update(id, func(*Record) {})
	return err
}

// Remove deletes the session from every index. Idempotent: removing an
// absent id is a no-op.
func (s *Store) Remove(id types.SessionID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return
	}
	delete(s.byID, id)
	if owners := s.byOwner[rec.Owner]; owners != nil {
		delete(owners, id)
		if len(owners) == 0 {
			delete(s.byOwner, rec.Owner)
		}
	}
	if el, ok := s.touchPos[id]; ok {
		s.touch.Remove(el)
		delete(s.touchPos, id)
	}
}

// OldestEvictionCandidate returns the least-recently-touched session that
// is not currently Evaluating and not already a Terminated/Terminating
// tombstone, scoped to owner when owner != "". It returns false if no
// eligible candidate exists — evictors must not preempt a running job, and
// re-evicting an already-dead tombstone would never free any capacity.
func (s *Store) OldestEvictionCandidate(owner string) (types.SessionID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for el := s.touch.Front(); el != nil; el = el.Next() {
		id := el.Value.(types.SessionID)
		rec := s.byID[id]
		if rec == nil || rec.Status == types.StatusEvaluating || rec.Status == types.StatusTerminating || rec.Status == types.StatusTerminated {
			continue
		}
		if owner != "" && rec.Owner != owner {
			continue
		}
		return id, true
	}
	return "", false
}

// IdleSince returns every session whose status is Idle and whose
// TouchedAt is older than cutoff — the candidate set for the idle-timeout
// sweep.
func (s *Store) IdleSince(cutoff time.Time) []types.SessionID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.SessionID
	for id, rec := range s.byID {
		if rec.Status == types.StatusIdle && rec.TouchedAt.Before(cutoff) {
			out = append(out, id)
		}
	}
	return out
}

// EngineOf returns the opaque engine handle stored on the session, for use
// by the worker that exclusively owns it.
func (s *Store) EngineOf(id types.SessionID) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return rec.Engine, true
}
