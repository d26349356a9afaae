package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/rulehost/rulehost/internal/notify"
	"github.com/rulehost/rulehost/internal/scheduler"
	"github.com/rulehost/rulehost/internal/session"
	"github.com/rulehost/rulehost/internal/types"
)

// Server is the core's HTTP adapter: a bare net/http.ServeMux with Go
// 1.22+ method+pattern routing, directly generalizing
// internal/webhook.Server's routing style onto the full session and
// devil (backward-chaining) surface.
type Server struct {
	store    *session.Store
	sched    *scheduler.Scheduler
	evictor  *scheduler.Evictor
	notifier *notify.Notifier
	limits   types.ResourceLimits
	maxUser  int
	maxTotal int
	log      *slog.Logger
	handler  http.Handler
}

// Deps bundles the collaborators a Server is built from.
type Deps struct {
	Store          *session.Store
	Scheduler      *scheduler.Scheduler
	Evictor        *scheduler.Evictor
	Notifier       *notify.Notifier
	DefaultLimits  types.ResourceLimits
	MaxPerUser     int
	MaxConcurrent  int
	Logger         *slog.Logger
}

// NewServer builds a Server with every route registered and the
// requestID -> logging -> recovery middleware chain applied,
// outermost-first.
func NewServer(deps Deps) *Server {
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

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.HandleFunc("GET /livez", s.handleLivez)

	mux.HandleFunc("POST /sessions", s.handleCreateSession)
	mux.HandleFunc("GET /sessions", s.handleListSessions)
	mux.HandleFunc("GET /sessions/user/{user_id}", s.handleListSessionsByUser)
	mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("POST /sessions/{id}/evaluate", s.handleEvaluate)
	mux.HandleFunc("POST /sessions/{id}/rules", s.handlePostRules)
	mux.HandleFunc("POST /sessions/{id}/facts", s.handlePostFacts)
	// GET /sessions/{id}/facts goes through a two-wildcard pattern: registered
	// literally it would overlap "GET /sessions/user/{user_id}" on
	// /sessions/user/facts, which ServeMux rejects with a panic. The by-user
	// pattern is the more specific of the two and wins that path.
	mux.HandleFunc("GET /sessions/{id}/{sub}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("sub") != "facts" {
			http.NotFound(w, r)
			return
		}
		s.handleGetFacts(w, r)
	})
	mux.HandleFunc("POST /sessions/{id}/run", s.handleRun)
	mux.HandleFunc("POST /sessions/{id}/save", s.handleSave)

	mux.HandleFunc("POST /devils", s.handleCreateDevil)
	mux.HandleFunc("GET /devils", s.handleListDevils)
	mux.HandleFunc("GET /devils/user/{user_id}", s.handleListDevilsByUser)
	mux.HandleFunc("GET /devils/{id}", s.handleGetDevil)
	mux.HandleFunc("DELETE /devils/{id}", s.handleDeleteDevil)
	mux.HandleFunc("POST /devils/{id}/query", s.handleQuery)
	mux.HandleFunc("POST /devils/{id}/consult", s.handleConsult)

	var handler http.Handler = mux
	handler = recoveryMiddleware(s.log, handler)
	handler = loggingMiddleware(s.log, handler)
	handler = requestIDMiddleware(handler)
	s.handler = handler
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
