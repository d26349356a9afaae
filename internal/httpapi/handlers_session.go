package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rulehost/rulehost/internal/scheduler"
	"github.com/rulehost/rulehost/internal/session"
	"github.com/rulehost/rulehost/internal/types"
)

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	s.createSession(w, r, types.SessionForward, scheduler.JobConsult)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	s.listSessions(w, types.SessionForward)
}

func (s *Server) handleListSessionsByUser(w http.ResponseWriter, r *http.Request) {
	s.listSessionsByUser(w, r.PathValue("user_id"), types.SessionForward)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	summary, ok := s.getSession(w, r.PathValue("id"), types.SessionForward)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toSessionSummary(summary))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	s.deleteSession(w, r, r.PathValue("id"), types.SessionForward)
}

type evaluateRequest struct {
	Script    string `json:"script"`
	TimeoutMS int64  `json:"timeout_ms,omitempty"`
}

type evaluateResponse struct {
	Stdout   string       `json:"stdout"`
	Stderr   string       `json:"stderr"`
	ExitCode int          `json:"exit_code"`
	Metrics  evalMetrics  `json:"metrics"`
}

type evalMetrics struct {
	ElapsedMS int64 `json:"elapsed_ms"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	id := types.SessionID(r.PathValue("id"))
	if _, ok := s.getSession(w, r.PathValue("id"), types.SessionForward); !ok {
		return
	}

	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, "invalid JSON body")
		return
	}
	if req.Script == "" {
		writeValidationError(w, "script is required")
		return
	}

	job := &scheduler.Job{SessionID: id, Kind: scheduler.JobEvaluate, Script: req.Script}
	if req.TimeoutMS > 0 {
		job.Timeout = time.Duration(req.TimeoutMS) * time.Millisecond
	}

	res, err := s.sched.Submit(r.Context(), job)
	if err != nil {
		writeError(w, err)
		return
	}

	s.store.Update(id, func(r *session.Record) { r.Usage.Evaluations++ })

	writeJSON(w, http.StatusOK, evaluateResponse{
		Stdout:   res.Eval.Stdout,
		Stderr:   res.Eval.Stderr,
		ExitCode: res.Eval.ExitCode,
		Metrics:  evalMetrics{ElapsedMS: res.Eval.Elapsed.Milliseconds()},
	})
}

type clausesRequest struct {
	Rules []string `json:"rules,omitempty"`
	Facts []string `json:"facts,omitempty"`
}

func (s *Server) handlePostRules(w http.ResponseWriter, r *http.Request) {
	s.ingestClauses(w, r,
		func(req clausesRequest) []string { return req.Rules },
		func(sum session.Summary) (uint64, uint64) { return sum.Usage.Rules, sum.Limits.MaxRules },
		func(rec *session.Record, clauses []string, n int) {
			rec.Usage.Rules += uint64(n)
			rec.Usage.MemoryBytes += sourceBytes(clauses)
		},
	)
}

// handlePostFacts also bumps Objects: an asserted fact is one of the
// CLIPS-style instances/facts ResourceUsage.Objects counts for a
// forward-chaining session, unlike a rule definition.
func (s *Server) handlePostFacts(w http.ResponseWriter, r *http.Request) {
	s.ingestClauses(w, r,
		func(req clausesRequest) []string { return req.Facts },
		func(sum session.Summary) (uint64, uint64) { return sum.Usage.Facts, sum.Limits.MaxFacts },
		func(rec *session.Record, clauses []string, n int) {
			rec.Usage.Facts += uint64(n)
			rec.Usage.Objects += uint64(n)
			rec.Usage.MemoryBytes += sourceBytes(clauses)
		},
	)
}

// ingestClauses is shared by POST rules and POST facts: decode, validate
// the cap against the session's own limits, consult, and bump the matching
// usage counter. Rejecting before Submit keeps prior ingests intact when
// the cap would be exceeded, per spec.md §8's boundary behavior.
func (s *Server) ingestClauses(w http.ResponseWriter, r *http.Request, extract func(clausesRequest) []string, capOf func(session.Summary) (uint64, uint64), bump func(*session.Record, []string, int)) {
	id := types.SessionID(r.PathValue("id"))
	summary, ok := s.getSession(w, r.PathValue("id"), types.SessionForward)
	if !ok {
		return
	}

	var req clausesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, "invalid JSON body")
		return
	}
	clauses := extract(req)
	if len(clauses) == 0 {
		writeValidationError(w, "at least one clause is required")
		return
	}

	current, max := capOf(summary)
	if max > 0 && current+uint64(len(clauses)) > max {
		writeValidationError(w, "ingest would exceed the session's cap")
		return
	}

	job := &scheduler.Job{SessionID: id, Kind: scheduler.JobConsult, Clauses: clauses}
	res, err := s.sched.Submit(r.Context(), job)
	if err != nil {
		writeError(w, err)
		return
	}

	s.store.Update(id, func(rec *session.Record) { bump(rec, clauses, res.Accepted) })
	writeJSON(w, http.StatusOK, map[string]any{"accepted": res.Accepted})
}

func (s *Server) handleGetFacts(w http.ResponseWriter, r *http.Request) {
	id := types.SessionID(r.PathValue("id"))
	if _, ok := s.getSession(w, r.PathValue("id"), types.SessionForward); !ok {
		return
	}
	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		pattern = "*"
	}

	script := "(do-for-all-facts ((?f ?any)) TRUE (printout t ?f crlf))"
	job := &scheduler.Job{SessionID: id, Kind: scheduler.JobEvaluate, Script: script}
	res, err := s.sched.Submit(r.Context(), job)
	if err != nil {
		writeError(w, err)
		return
	}

	var matches []string
	for _, line := range strings.Split(res.Eval.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if pattern != "*" && !strings.Contains(line, pattern) {
			continue
		}
		matches = append(matches, line)
	}
	if matches == nil {
		matches = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": matches, "count": len(matches)})
}

type runRequest struct {
	MaxIterations int64 `json:"max_iterations,omitempty"`
}

type runResponse struct {
	RulesFired int64  `json:"rules_fired"`
	Status     string `json:"status"`
	RuntimeMS  int64  `json:"runtime_ms"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	id := types.SessionID(r.PathValue("id"))
	if _, ok := s.getSession(w, r.PathValue("id"), types.SessionForward); !ok {
		return
	}

	var req runRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	script := "(run)"
	if req.MaxIterations > 0 {
		script = fmt.Sprintf("(run %d)", req.MaxIterations)
	}

	job := &scheduler.Job{SessionID: id, Kind: scheduler.JobEvaluate, Script: script}
	res, err := s.sched.Submit(r.Context(), job)
	if err != nil {
		writeError(w, err)
		return
	}

	fired := parseTrailingInt(res.Eval.Stdout)
	s.store.Update(id, func(rec *session.Record) { rec.Usage.RulesFired += uint64(fired) })

	writeJSON(w, http.StatusOK, runResponse{
		RulesFired: fired,
		Status:     "ok",
		RuntimeMS:  res.Eval.Elapsed.Milliseconds(),
	})
}

// parseTrailingInt best-effort parses the final integer CLIPS' own (run)
// echoes as its return value; a script that prints nothing parseable
// yields 0 rather than an error, since rules_fired is advisory bookkeeping,
// not something the caller depends on for correctness.
func parseTrailingInt(stdout string) int64 {
	fields := strings.Fields(stdout)
	if len(fields) == 0 {
		return 0
	}
	n, err := strconv.ParseInt(fields[len(fields)-1], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

type saveRequest struct {
	Label    string            `json:"label,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	id := types.SessionID(r.PathValue("id"))
	if _, ok := s.getSession(w, r.PathValue("id"), types.SessionForward); !ok {
		return
	}

	var req saveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, "invalid JSON body")
		return
	}

	s.store.Update(id, func(rec *session.Record) {
		if req.Label != "" {
			rec.Metadata["label"] = req.Label
		}
		for k, v := range req.Metadata {
			rec.Metadata[k] = v
		}
	})

	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}
