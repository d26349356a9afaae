package stdioapi

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/rulehost/rulehost/internal/scheduler"
	"github.com/rulehost/rulehost/internal/session"
	"github.com/rulehost/rulehost/internal/types"
)

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("create_session",
			mcplib.WithDescription("Create a new forward-chaining rule engine session for a user"),
			mcplib.WithString("user_id", mcplib.Description("Owning user identifier"), mcplib.Required()),
			mcplib.WithString("preload", mcplib.Description("Optional rules/facts to load immediately, one clause per line")),
		),
		s.handleCreateSession,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("create_devil",
			mcplib.WithDescription("Create a new backward-chaining logic engine session for a user"),
			mcplib.WithString("user_id", mcplib.Description("Owning user identifier"), mcplib.Required()),
			mcplib.WithString("preload", mcplib.Description("Optional Horn clauses to load immediately, one clause per line")),
		),
		s.handleCreateDevil,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("evaluate",
			mcplib.WithDescription("Run a script against a forward-chaining session's engine"),
			mcplib.WithString("session_id", mcplib.Description("Session identifier"), mcplib.Required()),
			mcplib.WithString("script", mcplib.Description("Engine script to run"), mcplib.Required()),
			mcplib.WithNumber("timeout_ms", mcplib.Description("Deadline in milliseconds")),
		),
		s.handleEvaluate,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("consult",
			mcplib.WithDescription("Load one or more clauses into a session's engine (rules for forward sessions, Horn clauses for devil sessions)"),
			mcplib.WithString("session_id", mcplib.Description("Session identifier"), mcplib.Required()),
			mcplib.WithString("clauses", mcplib.Description("Clauses to load, one per line"), mcplib.Required()),
		),
		s.handleConsult,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("query",
			mcplib.WithDescription("Run a backward-chaining goal against a devil session, optionally enumerating every solution"),
			mcplib.WithString("session_id", mcplib.Description("Session identifier"), mcplib.Required()),
			mcplib.WithString("goal", mcplib.Description("Goal to prove"), mcplib.Required()),
			mcplib.WithString("all_solutions", mcplib.Description("\"true\" to enumerate every solution via backtracking, default \"false\"")),
		),
		s.handleQuery,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("list_sessions",
			mcplib.WithDescription("List sessions, optionally filtered by owning user"),
			mcplib.WithString("user_id", mcplib.Description("Filter by owning user; omit to list all")),
			mcplib.WithString("type", mcplib.Description("\"forward\" or \"backward\"; omit for both")),
		),
		s.handleListSessions,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("get_session",
			mcplib.WithDescription("Fetch a single session's status and resource usage"),
			mcplib.WithString("session_id", mcplib.Description("Session identifier"), mcplib.Required()),
		),
		s.handleGetSession,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("terminate_session",
			mcplib.WithDescription("Terminate a session, releasing its engine. Idempotent: terminating an already-gone session succeeds"),
			mcplib.WithString("session_id", mcplib.Description("Session identifier"), mcplib.Required()),
		),
		s.handleTerminateSession,
	)
}

func splitClauses(raw string) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func marshalResult(v any) *mcplib.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("marshal result: %v", err))
	}
	return textResult(string(data))
}

func summaryPayload(sum session.Summary) map[string]any {
	return map[string]any{
		"session_id": string(sum.ID),
		"user_id":    sum.Owner,
		"type":       string(sum.Type),
		"status":     string(sum.Status),
		"resources": map[string]uint64{
			"facts":   sum.Usage.Facts,
			"rules":   sum.Usage.Rules,
			"objects": sum.Usage.Objects,
		},
	}
}

func (s *Server) createSession(ctx context.Context, request mcplib.CallToolRequest, typ types.SessionType, preloadKind scheduler.JobKind) (*mcplib.CallToolResult, error) {
	userID := request.GetString("user_id", "")
	if userID == "" {
		return errorResult("user_id is required"), nil
	}

	if err := s.admitNewSession(ctx, userID); err != nil {
		return errorResult(err.Error()), nil
	}

	rec := s.store.Create(userID, typ, s.limits)
	summary, _ := s.store.Update(rec.ID, func(r *session.Record) { r.Status = types.StatusActive })

	if preload := splitClauses(request.GetString("preload", "")); len(preload) > 0 {
		job := &scheduler.Job{SessionID: rec.ID, Kind: preloadKind, Clauses: preload}
		if _, err := s.sched.Submit(ctx, job); err != nil {
			return errorResult(fmt.Sprintf("preload failed: %v", err)), nil
		}
		summary, _ = s.store.Get(rec.ID)
	}

	return marshalResult(summaryPayload(summary)), nil
}

func (s *Server) handleCreateSession(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	return s.createSession(ctx, request, types.SessionForward, scheduler.JobConsult)
}

func (s *Server) handleCreateDevil(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	return s.createSession(ctx, request, types.SessionBackward, scheduler.JobConsult)
}

func (s *Server) handleEvaluate(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id := types.SessionID(request.GetString("session_id", ""))
	script := request.GetString("script", "")
	if id == "" || script == "" {
		return errorResult("session_id and script are required"), nil
	}

	job := &scheduler.Job{SessionID: id, Kind: scheduler.JobEvaluate, Script: script}
	if ms := request.GetInt("timeout_ms", 0); ms > 0 {
		job.Timeout = time.Duration(ms) * time.Millisecond
	}

	res, err := s.sched.Submit(ctx, job)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	s.store.Update(id, func(r *session.Record) { r.Usage.Evaluations++ })

	return marshalResult(map[string]any{
		"stdout":    res.Eval.Stdout,
		"stderr":    res.Eval.Stderr,
		"exit_code": res.Eval.ExitCode,
	}), nil
}

func (s *Server) handleConsult(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id := types.SessionID(request.GetString("session_id", ""))
	clauses := splitClauses(request.GetString("clauses", ""))
	if id == "" || len(clauses) == 0 {
		return errorResult("session_id and at least one clause are required"), nil
	}

	summary, ok := s.store.Get(id)
	if !ok {
		return errorResult("session not found"), nil
	}

	current, max := summary.Usage.Rules, summary.Limits.MaxRules
	if summary.Type == types.SessionForward {
		current, max = summary.Usage.Rules+summary.Usage.Facts, summary.Limits.MaxRules+summary.Limits.MaxFacts
	}
	if max > 0 && current+uint64(len(clauses)) > max {
		return errorResult("consult would exceed the session's clause cap"), nil
	}

	job := &scheduler.Job{SessionID: id, Kind: scheduler.JobConsult, Clauses: clauses}
	res, err := s.sched.Submit(ctx, job)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	s.store.Update(id, func(r *session.Record) { r.Usage.Rules += uint64(res.Accepted) })

	return marshalResult(map[string]any{"accepted": res.Accepted}), nil
}

func (s *Server) handleQuery(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id := types.SessionID(request.GetString("session_id", ""))
	goal := request.GetString("goal", "")
	if id == "" || goal == "" {
		return errorResult("session_id and goal are required"), nil
	}
	all := strings.EqualFold(request.GetString("all_solutions", "false"), "true")

	job := &scheduler.Job{SessionID: id, Kind: scheduler.JobQuery, Goal: goal, AllSolutions: all}
	res, err := s.sched.Submit(ctx, job)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	bindings := res.Query.Bindings
	if bindings == nil {
		bindings = []map[string]string{}
	}
	return marshalResult(map[string]any{
		"success":  res.Query.Success,
		"bindings": bindings,
	}), nil
}

func (s *Server) handleListSessions(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	var summaries []session.Summary
	if userID := request.GetString("user_id", ""); userID != "" {
		summaries = s.store.ListByOwner(userID)
	} else {
		summaries = s.store.ListAll()
	}

	typeFilter := request.GetString("type", "")
	out := make([]map[string]any, 0, len(summaries))
	for _, sum := range summaries {
		if typeFilter == "forward" && sum.Type != types.SessionForward {
			continue
		}
		if typeFilter == "backward" && sum.Type != types.SessionBackward {
			continue
		}
		out = append(out, summaryPayload(sum))
	}
	return marshalResult(out), nil
}

func (s *Server) handleGetSession(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id := types.SessionID(request.GetString("session_id", ""))
	if id == "" {
		return errorResult("session_id is required"), nil
	}
	summary, ok := s.store.Get(id)
	if !ok {
		return errorResult("session not found"), nil
	}
	return marshalResult(summaryPayload(summary)), nil
}

func (s *Server) handleTerminateSession(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id := types.SessionID(request.GetString("session_id", ""))
	if id == "" {
		return errorResult("session_id is required"), nil
	}
	if _, ok := s.store.Get(id); !ok {
		return marshalResult(map[string]string{"status": "terminated"}), nil
	}
	if err := s.evictor.Shutdown(ctx, id); err != nil {
		return errorResult(err.Error()), nil
	}
	return marshalResult(map[string]string{"status": "terminated"}), nil
}
