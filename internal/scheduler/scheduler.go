// Package scheduler is the heart of the core: per-session FIFO lanes over
// a shared EngineBackend set, admission control, deadline enforcement,
// and EngineFault recovery, using a lane-per-key design keyed on session
// lifecycles instead of chat runs.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/rulehost/rulehost/internal/engine"
	"github.com/rulehost/rulehost/internal/notify"
	"github.com/rulehost/rulehost/internal/session"
	"github.com/rulehost/rulehost/internal/toolbox"
	"github.com/rulehost/rulehost/internal/types"
)

// JobKind selects which Backend method a Job drives.
type JobKind string

const (
	JobEvaluate JobKind = "evaluate"
	JobConsult  JobKind = "consult"
	JobQuery    JobKind = "query"
)

// Job is one unit of work submitted against a session's engine.
type Job struct {
	SessionID    types.SessionID
	Kind         JobKind
	Script       string
	Clauses      []string
	Goal         string
	AllSolutions bool
	Timeout      time.Duration

	submittedAt time.Time
	resultCh    chan JobResult
}

func (j *Job) deadlineDuration(limits types.ResourceLimits) time.Duration {
	d := j.Timeout
	if d <= 0 {
		d = limits.DefaultEvalTimeout
	}
	if d > limits.AbsoluteEvalCeiling {
		d = limits.AbsoluteEvalCeiling
	}
	return d
}

func (j *Job) deadline(limits types.ResourceLimits) time.Time {
	return j.submittedAt.Add(j.deadlineDuration(limits))
}

// JobResult is the outcome of one Job, populated according to its Kind.
type JobResult struct {
	Eval     engine.Result
	Query    engine.QueryResult
	Accepted int
	Err      error
}

// ctrlKind selects which out-of-band operation a ctrlCmd asks the owning
// lane worker to run against its own handle.
type ctrlKind int

const (
	ctrlProbe ctrlKind = iota
	ctrlRecover
	ctrlShutdown
)

// ctrlCmd is how Supervisor and Evictor reach a session's engine handle:
// routed through the lane's worker goroutine rather than touched
// directly, so a probe or shutdown can never run concurrently with a job
// the lane is already executing.
type ctrlCmd struct {
	kind     ctrlKind
	deadline time.Time
	done     chan error
}

// lane is a per-session FIFO worker. handle is owned exclusively by the
// goroutine running runLane; every other goroutine reaches it only
// through getHandle/setHandle or by submitting a ctrlCmd.
type lane struct {
	jobs   chan *Job
	ctrl   chan *ctrlCmd
	closed chan struct{}

	handleMu sync.Mutex
	handle   engine.Handle
}

func (l *lane) getHandle() engine.Handle {
	l.handleMu.Lock()
	defer l.handleMu.Unlock()
	return l.handle
}

func (l *lane) setHandle(h engine.Handle) {
	l.handleMu.Lock()
	l.handle = h
	l.handleMu.Unlock()
}

// Scheduler drives a fixed set of session-typed EngineBackends behind
// per-session FIFO lanes, bounded by a single global concurrency
// semaphore independent of the per-session queue depth.
type Scheduler struct {
	store    *session.Store
	backends map[types.SessionType]engine.Backend
	sink     engine.CallbackSink
	log      *slog.Logger
	notifier *notify.Notifier

	globalSem     *semaphore.Weighted
	maxQueueDepth int

	mu    sync.Mutex
	lanes map[types.SessionID]*lane

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Scheduler. maxQueueDepth bounds each session's own lane
// buffer; globalInflight bounds concurrently-running jobs across every
// session, independent of how many sessions exist.
func New(store *session.Store, backends map[types.SessionType]engine.Backend, sink engine.CallbackSink, globalInflight int64, maxQueueDepth int, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		store:         store,
		backends:      backends,
		sink:          sink,
		log:           log,
		globalSem:     semaphore.NewWeighted(globalInflight),
		maxQueueDepth: maxQueueDepth,
		lanes:         make(map[types.SessionID]*lane),
	}
}

// SetNotifier attaches a lifecycle-event sink fan-out. Optional: a
// Scheduler with no Notifier attached simply emits nothing.
func (s *Scheduler) SetNotifier(n *notify.Notifier) {
	s.notifier = n
}

func (s *Scheduler) emit(evt notify.Event) {
	if s.notifier != nil {
		s.notifier.Emit(evt)
	}
}

// Start must be called once before Submit.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
}

// Stop cancels all in-flight work and waits for every lane goroutine to
// exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Lock()
	for _, l := range s.lanes {
		close(l.jobs)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Submit admits job, blocking until it completes, the caller's ctx is
// cancelled, or the job's deadline elapses. A nested submission — a tool
// callback running inside session X trying to submit a new job to X — is
// rejected InUse before touching the queue, since the worker already
// holds X's engine handle and re-entering would deadlock the lane.
func (s *Scheduler) Submit(ctx context.Context, job *Job) (JobResult, error) {
	if callerSession := toolbox.SessionIDFromContext(ctx); callerSession != "" && types.SessionID(callerSession) == job.SessionID {
		return JobResult{}, NewFault(KindInUse, "submit", job.SessionID, fmt.Errorf("session is already evaluating on this worker"))
	}

	summary, ok := s.store.Get(job.SessionID)
	if !ok {
		return JobResult{}, NewFault(KindNotFound, "submit", job.SessionID, fmt.Errorf("session not found"))
	}
	switch summary.Status {
	case types.StatusTerminating, types.StatusTerminated, types.StatusFailed:
		return JobResult{}, NewFault(KindInUse, "submit", job.SessionID, fmt.Errorf("session is not accepting work: %s", summary.Status))
	case types.StatusInitializing:
		return JobResult{}, NewFault(KindOverloaded, "submit", job.SessionID, fmt.Errorf("session has not finished initializing"))
	}

	l := s.laneFor(job.SessionID)

	job.submittedAt = time.Now()
	job.resultCh = make(chan JobResult, 1)

	select {
	case l.jobs <- job:
	default:
		return JobResult{}, NewFault(KindOverloaded, "submit", job.SessionID, fmt.Errorf("per-session queue is full"))
	}

	deadline := job.deadline(summary.Limits)
	select {
	case res := <-job.resultCh:
		return res, res.Err
	case <-ctx.Done():
		return JobResult{}, NewFault(KindCancelled, "submit", job.SessionID, ctx.Err())
	case <-time.After(time.Until(deadline)):
		return JobResult{}, NewFault(KindTimeout, "submit", job.SessionID, fmt.Errorf("job did not complete before its deadline"))
	}
}

func (s *Scheduler) laneFor(id types.SessionID) *lane {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lanes[id]
	if !ok {
		l = &lane{
			jobs:   make(chan *Job, s.maxQueueDepth),
			ctrl:   make(chan *ctrlCmd, 1),
			closed: make(chan struct{}),
		}
		s.lanes[id] = l
		s.wg.Add(1)
		go s.runLane(id, l)
	}
	return l
}

func (s *Scheduler) runLane(id types.SessionID, l *lane) {
	defer s.wg.Done()
	defer close(l.closed)
	for {
		select {
		case job, ok := <-l.jobs:
			if !ok {
				s.teardownLane(id, l)
				return
			}
			s.runJob(id, l, job)
		case cmd := <-l.ctrl:
			s.runCtrl(id, l, cmd)
		case <-s.ctx.Done():
			s.teardownLane(id, l)
			return
		}
	}
}

func (s *Scheduler) teardownLane(id types.SessionID, l *lane) {
	if h := l.getHandle(); h != nil {
		if backend := s.backendFor(id); backend != nil {
			_ = backend.ForceShutdown(h)
		}
	}
}

func (s *Scheduler) backendFor(id types.SessionID) engine.Backend {
	summary, ok := s.store.Get(id)
	if !ok {
		return nil
	}
	return s.backends[summary.Type]
}

func (s *Scheduler) runJob(id types.SessionID, l *lane, job *Job) {
	if err := s.globalSem.Acquire(s.ctx, 1); err != nil {
		job.resultCh <- JobResult{Err: NewFault(KindCancelled, "submit", id, err)}
		return
	}
	defer s.globalSem.Release(1)

	summary, err := s.store.Update(id, func(r *session.Record) { r.Status = types.StatusEvaluating })
	if err != nil {
		job.resultCh <- JobResult{Err: NewFault(KindNotFound, "submit", id, err)}
		return
	}

	backend := s.backends[summary.Type]
	if backend == nil {
		job.resultCh <- JobResult{Err: NewFault(KindInternal, "submit", id, fmt.Errorf("no backend registered for session type %q", summary.Type))}
		return
	}

	h := l.getHandle()
	if h == nil || h.Broken() {
		if err := s.spawn(id, l, backend, summary.Limits); err != nil {
			s.recover(id, l, backend, summary)
			job.resultCh <- JobResult{Err: NewFault(KindEngineFault, "spawn", id, err)}
			return
		}
		h = l.getHandle()
	}

	ctx := toolbox.WithSessionID(s.ctx, string(id))
	deadline := job.deadline(summary.Limits)

	var res JobResult
	switch job.Kind {
	case JobEvaluate:
		r, err := backend.Evaluate(ctx, h, job.Script, deadline, s.sink)
		res = JobResult{Eval: r, Err: wrapEngineErr(err, "evaluate", id)}
	case JobConsult:
		n, err := backend.Consult(ctx, h, job.Clauses, deadline)
		res = JobResult{Accepted: n, Err: wrapEngineErr(err, "consult", id)}
	case JobQuery:
		q, err := backend.Query(ctx, h, job.Goal, job.AllSolutions, deadline)
		res = JobResult{Query: q, Err: wrapEngineErr(err, "query", id)}
	default:
		res = JobResult{Err: NewFault(KindValidation, "submit", id, fmt.Errorf("unknown job kind %q", job.Kind))}
	}

	if res.Err != nil && h != nil && h.Broken() {
		s.recover(id, l, backend, summary)
	} else {
		s.store.Update(id, func(r *session.Record) { r.Status = types.StatusIdle })
	}

	job.resultCh <- res
}

func (s *Scheduler) spawn(id types.SessionID, l *lane, backend engine.Backend, limits types.ResourceLimits) error {
	spawnCtx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()
	h, err := backend.Spawn(spawnCtx, limits)
	if err != nil {
		return err
	}
	l.setHandle(h)
	summary, updateErr := s.store.Update(id, func(r *session.Record) { r.Engine = h; r.Status = types.StatusActive })
	if updateErr == nil {
		s.emit(notify.Event{Kind: notify.EventActive, Session: summary})
	}
	return nil
}

// recover implements §4.5's EngineFault path: drop the broken handle,
// respawn once, and either resume as Active or, if that respawn fails,
// declare the session Terminated and fail every queued job EngineGone.
// Always called from the session's own lane worker, whether triggered by
// a failing job (runJob) or an out-of-band health probe (runCtrl).
func (s *Scheduler) recover(id types.SessionID, l *lane, backend engine.Backend, summary session.Summary) {
	failedSummary, _ := s.store.Update(id, func(r *session.Record) { r.Status = types.StatusFailed; r.Engine = nil })
	s.emit(notify.Event{Kind: notify.EventFault, Session: failedSummary})
	if h := l.getHandle(); h != nil {
		_ = backend.ForceShutdown(h)
	}
	l.setHandle(nil)

	if err := s.spawn(id, l, backend, summary.Limits); err != nil {
		s.log.Warn("session recovery failed, terminating", "session_id", string(id), "error", err)
		terminatedSummary, _ := s.store.Update(id, func(r *session.Record) { r.Status = types.StatusTerminated })
		s.emit(notify.Event{Kind: notify.EventTerminated, Session: terminatedSummary, Err: err})
		s.drainWithError(l, NewFault(KindEngineGone, "recover", id, err))
		return
	}
	s.log.Info("session recovered", "session_id", string(id))
	if recovered, ok := s.store.Get(id); ok {
		s.emit(notify.Event{Kind: notify.EventRecovered, Session: recovered})
	}
}

// runCtrl executes a ctrlCmd on the lane's own worker goroutine — the
// same goroutine that runs runJob — so a probe, recovery, or shutdown
// never touches the handle concurrently with a job in flight.
func (s *Scheduler) runCtrl(id types.SessionID, l *lane, cmd *ctrlCmd) {
	var err error
	switch cmd.kind {
	case ctrlProbe:
		err = s.probeOnLane(id, l, cmd.deadline)
	case ctrlRecover:
		s.recoverOnLane(id, l)
	case ctrlShutdown:
		s.shutdownOnLane(id, l, cmd.deadline)
	}
	cmd.done <- err
}

func (s *Scheduler) probeOnLane(id types.SessionID, l *lane, deadline time.Time) error {
	h := l.getHandle()
	if h == nil {
		return nil
	}
	backend := s.backendFor(id)
	if backend == nil {
		return nil
	}
	ctx, cancel := context.WithDeadline(s.ctx, deadline)
	defer cancel()
	return backend.HealthProbe(ctx, h)
}

func (s *Scheduler) recoverOnLane(id types.SessionID, l *lane) {
	summary, ok := s.store.Get(id)
	if !ok {
		return
	}
	backend := s.backends[summary.Type]
	if backend == nil {
		return
	}
	s.recover(id, l, backend, summary)
}

func (s *Scheduler) shutdownOnLane(id types.SessionID, l *lane, deadline time.Time) {
	h := l.getHandle()
	if h == nil {
		return
	}
	backend := s.backendFor(id)
	if backend == nil {
		l.setHandle(nil)
		return
	}
	ctx, cancel := context.WithDeadline(s.ctx, deadline)
	defer cancel()
	if err := backend.GracefulShutdown(ctx, h, deadline); err != nil {
		_ = backend.ForceShutdown(h)
	}
	l.setHandle(nil)
}

// dispatchCtrl hands cmd to id's lane worker and waits for it to run. A
// session with no lane (never had a job submitted, or already torn down)
// makes every ctrlKind a no-op.
func (s *Scheduler) dispatchCtrl(ctx context.Context, id types.SessionID, kind ctrlKind, deadline time.Time) error {
	s.mu.Lock()
	l, ok := s.lanes[id]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	cmd := &ctrlCmd{kind: kind, deadline: deadline, done: make(chan error, 1)}
	select {
	case l.ctrl <- cmd:
	case <-l.closed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.done:
		return err
	case <-l.closed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Probe runs backend.HealthProbe against id's live handle on its own lane
// worker, exclusive of any job the lane is running or has queued. A
// session with no lane or no live handle reports healthy (nil).
func (s *Scheduler) Probe(ctx context.Context, id types.SessionID) error {
	return s.dispatchCtrl(ctx, id, ctrlProbe, time.Now().Add(5*time.Second))
}

// RecoverBroken forces the drop-respawn-or-terminate recovery path for a
// session whose engine was found broken out-of-band, e.g. by Supervisor's
// periodic health probe rather than by a failing job. The recovery itself
// still runs on the session's own lane worker.
func (s *Scheduler) RecoverBroken(id types.SessionID) {
	_ = s.dispatchCtrl(s.ctx, id, ctrlRecover, time.Time{})
}

// ShutdownHandle drives id's live engine handle through graceful, then
// forceful, shutdown on its own lane worker, exclusive of any job the
// lane is running or has queued. A session with no lane or no live
// handle is a no-op.
func (s *Scheduler) ShutdownHandle(ctx context.Context, id types.SessionID, gracefulDeadline time.Time) error {
	return s.dispatchCtrl(ctx, id, ctrlShutdown, gracefulDeadline)
}

// RemoveLane retires a session's lane after it has been evicted or
// terminated, closing its job channel so the lane goroutine exits and
// force-shutting any live handle it still held.
func (s *Scheduler) RemoveLane(id types.SessionID) {
	s.mu.Lock()
	l, ok := s.lanes[id]
	if ok {
		delete(s.lanes, id)
	}
	s.mu.Unlock()
	if ok {
		close(l.jobs)
	}
}

// HandleOf returns the live engine handle for a session's lane, if any.
// Reads go through the same lock as the lane worker's own writes, so it
// never observes a partially-updated handle — but only the lane worker
// itself may call backend methods on the value returned.
func (s *Scheduler) HandleOf(id types.SessionID) (engine.Handle, bool) {
	s.mu.Lock()
	l, ok := s.lanes[id]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	h := l.getHandle()
	if h == nil {
		return nil, false
	}
	return h, true
}

func (s *Scheduler) drainWithError(l *lane, err error) {
	for {
		select {
		case job := <-l.jobs:
			job.resultCh <- JobResult{Err: err}
		default:
			return
		}
	}
}
