package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rulehost/rulehost/internal/notify"
	"github.com/rulehost/rulehost/internal/scheduler"
	"github.com/rulehost/rulehost/internal/session"
	"github.com/rulehost/rulehost/internal/types"
)

type createSessionRequest struct {
	UserID   string            `json:"user_id"`
	Preload  []string          `json:"preload,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Limits   *wireLimits       `json:"limits,omitempty"`
}

// admitNewSession enforces the per-user and global session caps, evicting
// the oldest eligible session in the relevant scope before giving up with
// Overloaded — the eviction path scenario 4 exercises.
func (s *Server) admitNewSession(ctx context.Context, userID string) error {
	if s.maxUser > 0 && s.store.CountActive(userID) >= s.maxUser {
		if _, ok, _ := s.evictor.EvictOneFor(ctx, userID); !ok {
			return types.NewFault(types.KindOverloaded, "create_session", "", fmt.Errorf("user %q is at its session limit", userID))
		}
	}
	if s.maxTotal > 0 && s.store.CountActive("") >= s.maxTotal {
		if _, ok, _ := s.evictor.EvictOneFor(ctx, ""); !ok {
			return types.NewFault(types.KindOverloaded, "create_session", "", fmt.Errorf("global session limit reached"))
		}
	}
	return nil
}

// createSession is shared by the forward-chaining /sessions and
// backward-chaining /devils create handlers; only the session Type and
// the initial-load JobKind differ.
func (s *Server) createSession(w http.ResponseWriter, r *http.Request, typ types.SessionType, preloadKind scheduler.JobKind) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, "invalid JSON body")
		return
	}
	if req.UserID == "" {
		writeValidationError(w, "user_id is required")
		return
	}

	if err := s.admitNewSession(r.Context(), req.UserID); err != nil {
		writeError(w, err)
		return
	}

	limits := applyLimitOverrides(s.limits, req.Limits)
	rec := s.store.Create(req.UserID, typ, limits)
	for k, v := range req.Metadata {
		rec.Metadata[k] = v
	}
	summary, _ := s.store.Update(rec.ID, func(r *session.Record) { r.Status = types.StatusActive })
	s.emitCreated(summary)

	if len(req.Preload) > 0 {
		job := &scheduler.Job{SessionID: rec.ID, Kind: preloadKind, Clauses: req.Preload}
		if _, err := s.sched.Submit(r.Context(), job); err != nil {
			writeError(w, err)
			return
		}
		summary, _ = s.store.Get(rec.ID)
	}

	writeJSON(w, http.StatusCreated, toSessionSummary(summary))
}

func (s *Server) emitCreated(summary session.Summary) {
	if s.notifier == nil {
		return
	}
	s.notifier.Emit(notify.Event{Kind: notify.EventCreated, Session: summary})
}

// sourceBytes sums the byte length of consulted clause source, the
// observable-growth half of ResourceUsage.MemoryBytes's committed formula
// (source bytes plus a fixed per-session overhead applied at creation).
func sourceBytes(clauses []string) uint64 {
	var n uint64
	for _, c := range clauses {
		n += uint64(len(c))
	}
	return n
}

func filterByType(summaries []session.Summary, typ types.SessionType) []sessionSummary {
	out := make([]sessionSummary, 0, len(summaries))
	for _, sum := range summaries {
		if sum.Type == typ {
			out = append(out, toSessionSummary(sum))
		}
	}
	return out
}

// listSessions is shared by GET /sessions and GET /devils.
func (s *Server) listSessions(w http.ResponseWriter, typ types.SessionType) {
	writeJSON(w, http.StatusOK, filterByType(s.store.ListAll(), typ))
}

// listSessionsByUser is shared by GET /sessions/user/{user_id} and
// GET /devils/user/{user_id}.
func (s *Server) listSessionsByUser(w http.ResponseWriter, userID string, typ types.SessionType) {
	writeJSON(w, http.StatusOK, filterByType(s.store.ListByOwner(userID), typ))
}

// getSession is shared by GET /sessions/{id} and GET /devils/{id}. A
// session of the wrong Type is reported NotFound — the two surfaces are
// disjoint id spaces from a client's perspective.
func (s *Server) getSession(w http.ResponseWriter, id string, typ types.SessionType) (session.Summary, bool) {
	summary, ok := s.store.Get(types.SessionID(id))
	if !ok || summary.Type != typ {
		writeError(w, types.NewFault(types.KindNotFound, "get_session", types.SessionID(id), fmt.Errorf("session not found")))
		return session.Summary{}, false
	}
	return summary, true
}

// deleteSession is shared by DELETE /sessions/{id} and DELETE /devils/{id}.
// Idempotent: an absent or already-terminated id returns success, never
// NotFound, matching spec.md §8's DELETE round-trip law.
func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request, id string, typ types.SessionType) {
	summary, ok := s.store.Get(types.SessionID(id))
	if !ok || summary.Type != typ {
		writeJSON(w, http.StatusOK, map[string]string{"status": "terminated"})
		return
	}
	if err := s.evictor.Shutdown(r.Context(), types.SessionID(id)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "terminated"})
}
