package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rulehost/rulehost/internal/types"
)

// backwardHandle pins one clause database to a single goroutine reading
// off a command channel, so unification state (the term graph and its
// binding trail) is never touched by more than one goroutine at a time.
// Grounded on the same single-owner-goroutine discipline as the
// forward-chaining subprocess handle, but in-process rather than piped.
type backwardHandle struct {
	cmds   chan bwCommand
	done   chan struct{}
	broken atomic.Bool
}

func (h *backwardHandle) Broken() bool { return h.broken.Load() }

type bwCommand struct {
	kind         string // "consult" | "query" | "probe" | "shutdown"
	clauses      []string
	goal         string
	allSolutions bool
	reply        chan bwResult
}

type bwResult struct {
	accepted int
	query    QueryResult
	err      error
}

// BackwardBackend runs an in-process Horn-clause resolution engine per
// session; it never shells out to a subprocess.
type BackwardBackend struct{}

func NewBackwardBackend() *BackwardBackend { return &BackwardBackend{} }

func (b *BackwardBackend) Spawn(ctx context.Context, limits types.ResourceLimits) (Handle, error) {
	h := &backwardHandle{cmds: make(chan bwCommand), done: make(chan struct{})}
	go h.run()
	return h, nil
}

func (h *backwardHandle) run() {
	defer close(h.done)
	d := newDB()
	for cmd := range h.cmds {
		switch cmd.kind {
		case "consult":
			accepted := 0
			var failErr error
			for _, text := range cmd.clauses {
				clauses, err := parseConsultText(text)
				if err != nil {
					failErr = fmt.Errorf("parse clause: %w", err)
					break
				}
				for _, c := range clauses {
					d.assertz(c.head, c.body)
					accepted++
				}
			}
			cmd.reply <- bwResult{accepted: accepted, err: failErr}

		case "query":
			cmd.reply <- runQuery(d, cmd.goal, cmd.allSolutions)

		case "probe":
			cmd.reply <- bwResult{}

		case "shutdown":
			return
		}
	}
}

func runQuery(d *db, goalText string, allSolutions bool) bwResult {
	goals, vars, err := parseQueryText(goalText)
	if err != nil {
		return bwResult{err: fmt.Errorf("parse goal: %w", err)}
	}
	start := time.Now()
	var trail []*term
	var solutions []map[string]string
	success := false
	d.solve(goals, &trail, func() bool {
		success = true
		snap := map[string]string{}
		for name, v := range vars {
			snap[name] = formatTerm(deref(v))
		}
		solutions = append(solutions, snap)
		return !allSolutions
	})
	trail = undo(trail, 0)
	return bwResult{query: QueryResult{Bindings: solutions, Success: success, Elapsed: time.Since(start)}}
}

func (b *BackwardBackend) Evaluate(context.Context, Handle, string, time.Time, CallbackSink) (Result, error) {
	return Result{}, fmt.Errorf("evaluate is not supported by the backward-chaining backend")
}

func (b *BackwardBackend) Consult(ctx context.Context, hh Handle, clauses []string, deadline time.Time) (int, error) {
	h, err := asBackwardHandle(hh)
	if err != nil {
		return 0, err
	}
	res, err := h.send(ctx, bwCommand{kind: "consult", clauses: clauses}, deadline)
	if err != nil {
		h.broken.Store(true)
		return 0, err
	}
	if res.err != nil {
		return res.accepted, fmt.Errorf("consult: %w", res.err)
	}
	return res.accepted, nil
}

func (b *BackwardBackend) Query(ctx context.Context, hh Handle, goal string, allSolutions bool, deadline time.Time) (QueryResult, error) {
	h, err := asBackwardHandle(hh)
	if err != nil {
		return QueryResult{}, err
	}
	res, err := h.send(ctx, bwCommand{kind: "query", goal: goal, allSolutions: allSolutions}, deadline)
	if err != nil {
		h.broken.Store(true)
		return QueryResult{}, err
	}
	if res.err != nil {
		return QueryResult{}, fmt.Errorf("query: %w", res.err)
	}
	return res.query, nil
}

func (b *BackwardBackend) GracefulShutdown(ctx context.Context, hh Handle, deadline time.Time) error {
	h, err := asBackwardHandle(hh)
	if err != nil {
		return err
	}
	select {
	case h.cmds <- bwCommand{kind: "shutdown"}:
	case <-h.done:
		return nil
	case <-time.After(time.Until(deadline)):
		return fmt.Errorf("graceful shutdown timed out")
	}
	select {
	case <-h.done:
		return nil
	case <-time.After(time.Until(deadline)):
		return fmt.Errorf("graceful shutdown timed out")
	}
}

func (b *BackwardBackend) ForceShutdown(hh Handle) error {
	h, err := asBackwardHandle(hh)
	if err != nil {
		return err
	}
	select {
	case <-h.done:
		return nil
	default:
	}
	close(h.cmds)
	<-h.done
	return nil
}

func (b *BackwardBackend) HealthProbe(ctx context.Context, hh Handle) error {
	h, err := asBackwardHandle(hh)
	if err != nil {
		return err
	}
	if h.Broken() {
		return fmt.Errorf("engine handle broken")
	}
	_, err = h.send(ctx, bwCommand{kind: "probe"}, time.Now().Add(2*time.Second))
	if err != nil {
		h.broken.Store(true)
		return fmt.Errorf("health probe: %w", err)
	}
	return nil
}

// send submits a command and waits for its reply, respecting deadline and
// treating a closed worker goroutine as an EngineGone-shaped failure.
func (h *backwardHandle) send(ctx context.Context, cmd bwCommand, deadline time.Time) (bwResult, error) {
	cmd.reply = make(chan bwResult, 1)
	select {
	case h.cmds <- cmd:
	case <-h.done:
		return bwResult{}, fmt.Errorf("engine handle already shut down")
	case <-ctx.Done():
		return bwResult{}, ctx.Err()
	case <-time.After(time.Until(deadline)):
		return bwResult{}, fmt.Errorf("timed out submitting command")
	}
	select {
	case res := <-cmd.reply:
		return res, nil
	case <-ctx.Done():
		return bwResult{}, ctx.Err()
	case <-time.After(time.Until(deadline)):
		return bwResult{}, fmt.Errorf("timed out waiting for command result")
	}
}

func asBackwardHandle(h Handle) (*backwardHandle, error) {
	bh, ok := h.(*backwardHandle)
	if !ok {
		return nil, fmt.Errorf("handle is not a backward-chaining handle")
	}
	return bh, nil
}
