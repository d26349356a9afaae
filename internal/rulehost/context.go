// Package rulehost defines Context, the single root-object value created
// at startup and threaded into every adapter (HTTP, stdio, CLI), built by
// wiring local values (store, scheduler, evictor, bridge, notifier) by
// hand rather than through package-level state.
package rulehost

import (
	"log/slog"

	"github.com/rulehost/rulehost/internal/config"
	"github.com/rulehost/rulehost/internal/engine"
	"github.com/rulehost/rulehost/internal/notify"
	"github.com/rulehost/rulehost/internal/scheduler"
	"github.com/rulehost/rulehost/internal/session"
	"github.com/rulehost/rulehost/internal/toolbox"
	"github.com/rulehost/rulehost/internal/types"
)

// Context is the process-wide dependency graph. It carries no behavior of
// its own; every field is owned and constructed by cmd/rulehostd's
// buildContext (used by the serve and mcp commands) and handed to
// whichever adapters need it.
type Context struct {
	Config    *config.Config
	Store     *session.Store
	Scheduler *scheduler.Scheduler
	Evictor   *scheduler.Evictor
	Bridge    *toolbox.Bridge
	Notifier  *notify.Notifier
	Backends  map[types.SessionType]engine.Backend
	Logger    *slog.Logger
}

// New assembles a Context from already-constructed collaborators. It does
// not start the Scheduler or Supervisor — callers control startup and
// shutdown ordering explicitly.
func New(cfg *config.Config, store *session.Store, sched *scheduler.Scheduler, evictor *scheduler.Evictor, bridge *toolbox.Bridge, notifier *notify.Notifier, backends map[types.SessionType]engine.Backend, log *slog.Logger) *Context {
	if log == nil {
		log = slog.Default()
	}
	return &Context{
		Config:    cfg,
		Store:     store,
		Scheduler: sched,
		Evictor:   evictor,
		Bridge:    bridge,
		Notifier:  notifier,
		Backends:  backends,
		Logger:    log,
	}
}
