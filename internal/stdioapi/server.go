// Package stdioapi exposes the core's session operations as MCP tools over
// stdio, mirroring internal/httpapi's operation set for MCP-compatible
// agent clients instead of REST callers.
package stdioapi

import (
	"context"
	"fmt"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/rulehost/rulehost/internal/notify"
	"github.com/rulehost/rulehost/internal/scheduler"
	"github.com/rulehost/rulehost/internal/session"
	"github.com/rulehost/rulehost/internal/types"
)

// Server wraps an mcp-go server with the dependency graph its tool
// handlers need to actually execute a call.
type Server struct {
	mcpServer *mcpserver.MCPServer
	store     *session.Store
	sched     *scheduler.Scheduler
	evictor   *scheduler.Evictor
	notifier  *notify.Notifier
	limits    types.ResourceLimits
	maxUser   int
	maxTotal  int
	log       *slog.Logger
}

type Deps struct {
	Store         *session.Store
	Scheduler     *scheduler.Scheduler
	Evictor       *scheduler.Evictor
	Notifier      *notify.Notifier
	DefaultLimits types.ResourceLimits
	MaxPerUser    int
	MaxConcurrent int
	Logger        *slog.Logger
}

func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Server{
		store:    deps.Store,
		sched:    deps.Scheduler,
		evictor:  deps.Evictor,
		notifier: deps.Notifier,
		limits:   deps.DefaultLimits,
		maxUser:  deps.MaxPerUser,
		maxTotal: deps.MaxConcurrent,
		log:      deps.Logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"rulehost",
		"0.1.0",
		mcpserver.WithToolCapabilities(true),
	)
	s.registerTools()
	return s
}

// admitNewSession enforces the per-user and global session caps, evicting
// the oldest eligible session in the relevant scope before giving up with
// Overloaded, mirroring internal/httpapi's admission check so both adapters
// enforce the same caps.
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

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// ServeStdio blocks, serving MCP requests over stdin/stdout until ctx-less
// EOF or an unrecoverable transport error, the way mcp-go's own stdio
// transport helper is meant to be driven.
func (s *Server) ServeStdio() error {
	return mcpserver.ServeStdio(s.mcpServer)
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

func textResult(text string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: text},
		},
	}
}
