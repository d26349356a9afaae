package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/rulehost/rulehost/internal/engine"
	"github.com/rulehost/rulehost/internal/session"
	"github.com/rulehost/rulehost/internal/types"
)

// Supervisor drives the periodic idle-eviction sweep (§4.6) and engine
// health probing (§4.7) on one robfig/cron instance, matching the
// teacher's own pattern of registering several AddFunc closures on a
// single cron.Cron rather than running one ticker per concern.
type Supervisor struct {
	cron        *cron.Cron
	sched       *Scheduler
	evictor     *Evictor
	store       *session.Store
	backends    map[types.SessionType]engine.Backend
	idleTimeout time.Duration
	log         *slog.Logger
}

// NewSupervisor wires the idle sweep and health probe onto @every
// interval schedules, using robfig/cron/v3 for fixed-interval firing
// rather than user-authored cron expressions.
func NewSupervisor(sched *Scheduler, evictor *Evictor, store *session.Store, backends map[types.SessionType]engine.Backend, idleTimeout, sweepInterval, healthInterval time.Duration, log *slog.Logger) (*Supervisor, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &Supervisor{
		cron:        cron.New(),
		sched:       sched,
		evictor:     evictor,
		store:       store,
		backends:    backends,
		idleTimeout: idleTimeout,
		log:         log,
	}
	if _, err := s.cron.AddFunc(everySpec(sweepInterval), s.runIdleSweep); err != nil {
		return nil, fmt.Errorf("schedule idle sweep: %w", err)
	}
	if _, err := s.cron.AddFunc(everySpec(healthInterval), s.runHealthProbe); err != nil {
		return nil, fmt.Errorf("schedule health probe: %w", err)
	}
	return s, nil
}

func everySpec(d time.Duration) string {
	return fmt.Sprintf("@every %s", d)
}

func (s *Supervisor) Start() { s.cron.Start() }

func (s *Supervisor) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Supervisor) runIdleSweep() {
	n := s.evictor.SweepIdle(context.Background(), s.idleTimeout)
	if n > 0 {
		s.log.Info("idle sweep evicted sessions", "count", n)
	}
}

// runHealthProbe snapshots the session list under SessionStore's own
// lock-light read, then dispatches probes concurrently via errgroup so
// one slow or wedged engine cannot delay the others or the next tick.
func (s *Supervisor) runHealthProbe() {
	summaries := s.store.ListAll()
	g, ctx := errgroup.WithContext(context.Background())
	for _, summary := range summaries {
		summary := summary
		if summary.Status != types.StatusActive && summary.Status != types.StatusIdle {
			continue
		}
		g.Go(func() error {
			s.probeOne(ctx, summary)
			return nil
		})
	}
	_ = g.Wait()
}

// probeOne asks summary's own lane worker to run the health probe on its
// handle — never the handle directly — so it can't race a job the lane
// is already executing.
func (s *Supervisor) probeOne(ctx context.Context, summary session.Summary) {
	if err := s.sched.Probe(ctx, summary.ID); err != nil {
		s.log.Warn("engine health probe failed, recovering", "session_id", string(summary.ID), "error", err)
		s.sched.RecoverBroken(summary.ID)
	}
}
