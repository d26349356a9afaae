package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/rulehost/rulehost/internal/scheduler"
	"github.com/rulehost/rulehost/internal/session"
	"github.com/rulehost/rulehost/internal/types"
)

func (s *Server) handleCreateDevil(w http.ResponseWriter, r *http.Request) {
	s.createSession(w, r, types.SessionBackward, scheduler.JobConsult)
}

func (s *Server) handleListDevils(w http.ResponseWriter, r *http.Request) {
	s.listSessions(w, types.SessionBackward)
}

func (s *Server) handleListDevilsByUser(w http.ResponseWriter, r *http.Request) {
	s.listSessionsByUser(w, r.PathValue("user_id"), types.SessionBackward)
}

func (s *Server) handleGetDevil(w http.ResponseWriter, r *http.Request) {
	summary, ok := s.getSession(w, r.PathValue("id"), types.SessionBackward)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toSessionSummary(summary))
}

func (s *Server) handleDeleteDevil(w http.ResponseWriter, r *http.Request) {
	s.deleteSession(w, r, r.PathValue("id"), types.SessionBackward)
}

type queryRequest struct {
	Goal         string `json:"goal"`
	AllSolutions bool   `json:"all_solutions,omitempty"`
}

type queryResponse struct {
	Result    []map[string]string `json:"result"`
	Success   bool                `json:"success"`
	RuntimeMS int64               `json:"runtime_ms"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	id := types.SessionID(r.PathValue("id"))
	if _, ok := s.getSession(w, r.PathValue("id"), types.SessionBackward); !ok {
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, "invalid JSON body")
		return
	}
	if req.Goal == "" {
		writeValidationError(w, "goal is required")
		return
	}

	job := &scheduler.Job{SessionID: id, Kind: scheduler.JobQuery, Goal: req.Goal, AllSolutions: req.AllSolutions}
	res, err := s.sched.Submit(r.Context(), job)
	if err != nil {
		writeError(w, err)
		return
	}

	result := res.Query.Bindings
	if result == nil {
		result = []map[string]string{}
	}
	writeJSON(w, http.StatusOK, queryResponse{
		Result:    result,
		Success:   res.Query.Success,
		RuntimeMS: res.Query.Elapsed.Milliseconds(),
	})
}

type consultRequest struct {
	Clauses []string `json:"clauses"`
}

type consultResponse struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

func (s *Server) handleConsult(w http.ResponseWriter, r *http.Request) {
	id := types.SessionID(r.PathValue("id"))
	summary, ok := s.getSession(w, r.PathValue("id"), types.SessionBackward)
	if !ok {
		return
	}

	var req consultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, "invalid JSON body")
		return
	}
	if len(req.Clauses) == 0 {
		writeValidationError(w, "at least one clause is required")
		return
	}
	if summary.Limits.MaxRules > 0 && summary.Usage.Rules+uint64(len(req.Clauses)) > summary.Limits.MaxRules {
		writeValidationError(w, "ingest would exceed the session's clause cap")
		return
	}

	job := &scheduler.Job{SessionID: id, Kind: scheduler.JobConsult, Clauses: req.Clauses}
	res, err := s.sched.Submit(r.Context(), job)
	if err != nil {
		writeError(w, err)
		return
	}

	s.store.Update(id, func(rec *session.Record) {
		rec.Usage.Rules += uint64(res.Accepted)
		rec.Usage.Objects += uint64(res.Accepted)
		rec.Usage.MemoryBytes += sourceBytes(req.Clauses)
	})
	writeJSON(w, http.StatusOK, consultResponse{Status: "ok", Count: res.Accepted})
}
