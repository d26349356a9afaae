package engine

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rulehost/rulehost/internal/toolbox"
	"github.com/rulehost/rulehost/internal/types"
)

// forwardHandle wraps a long-lived CLIPS-family subprocess driven through
// a Framer. Structurally grounded on the lazy-spawn / startup-deadline /
// idle-timeout / health-probe shape of an LSP-style process manager: one
// subprocess per session, exclusively owned by that session's worker.
type forwardHandle struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	framer *Framer
	broken atomic.Bool
	reaped atomic.Bool
}

func (h *forwardHandle) Broken() bool { return h.broken.Load() }

// ForwardBackend spawns a configurable CLIPS-like binary per session.
type ForwardBackend struct {
	BinaryPath string
}

// NewForwardBackend returns a forward-chaining backend that spawns
// binaryPath per session.
func NewForwardBackend(binaryPath string) *ForwardBackend {
	return &ForwardBackend{BinaryPath: binaryPath}
}

func (b *ForwardBackend) Spawn(ctx context.Context, limits types.ResourceLimits) (Handle, error) {
	cmd := exec.CommandContext(context.Background(), b.BinaryPath)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("spawn: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("spawn: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("spawn: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn: start: %w", err)
	}

	h := &forwardHandle{cmd: cmd, stdin: stdin, framer: NewFramer(stdin, stdout, stderr)}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(5 * time.Second)
	}
	if err := h.framer.AwaitReady(deadline); err != nil {
		_ = cmd.Process.Kill()
		return nil, fmt.Errorf("spawn: handshake failed: %w", err)
	}

	return h, nil
}

func (b *ForwardBackend) Evaluate(ctx context.Context, hh Handle, script string, deadline time.Time, sink CallbackSink) (Result, error) {
	h, err := asForwardHandle(hh)
	if err != nil {
		return Result{}, err
	}
	start := time.Now()
	stdout, stderr, err := h.framer.Run(ctx, script, deadline, sink)
	elapsed := time.Since(start)
	if err != nil {
		h.broken.Store(true)
		return Result{}, fmt.Errorf("evaluate: %w", err)
	}
	return Result{Stdout: stdout, Stderr: stderr, ExitCode: 0, Elapsed: elapsed}, nil
}

// Consult loads clauses as CLIPS defrule/deffacts source, one evaluate
// round-trip per clause so a single malformed clause does not abort the
// clauses submitted before it.
func (b *ForwardBackend) Consult(ctx context.Context, hh Handle, clauses []string, deadline time.Time) (int, error) {
	h, err := asForwardHandle(hh)
	if err != nil {
		return 0, err
	}
	accepted := 0
	for _, clause := range clauses {
		if strings.TrimSpace(clause) == "" {
			continue
		}
		if _, _, err := h.framer.Run(ctx, clause, deadline, noopSink{}); err != nil {
			h.broken.Store(true)
			return accepted, fmt.Errorf("consult: %w", err)
		}
		accepted++
	}
	return accepted, nil
}

func (b *ForwardBackend) Query(context.Context, Handle, string, bool, time.Time) (QueryResult, error) {
	return QueryResult{}, fmt.Errorf("query is not supported by the forward-chaining backend")
}

func (b *ForwardBackend) GracefulShutdown(ctx context.Context, hh Handle, deadline time.Time) error {
	h, err := asForwardHandle(hh)
	if err != nil {
		return err
	}
	if h.reaped.Load() {
		return nil
	}
	io.WriteString(h.stdin, "(exit)\n")

	done := make(chan error, 1)
	go func() { done <- h.cmd.Wait() }()

	select {
	case <-done:
		h.reaped.Store(true)
		return nil
	case <-time.After(time.Until(deadline)):
		return fmt.Errorf("graceful shutdown timed out")
	}
}

func (b *ForwardBackend) ForceShutdown(hh Handle) error {
	h, err := asForwardHandle(hh)
	if err != nil {
		return err
	}
	if h.reaped.Swap(true) {
		return nil
	}
	if h.cmd.Process != nil {
		_ = h.cmd.Process.Kill()
	}
	_ = h.cmd.Wait()
	return nil
}

func (b *ForwardBackend) HealthProbe(ctx context.Context, hh Handle) error {
	h, err := asForwardHandle(hh)
	if err != nil {
		return err
	}
	if h.Broken() {
		return fmt.Errorf("engine handle broken")
	}
	deadline := time.Now().Add(2 * time.Second)
	if _, _, err := h.framer.Run(ctx, "(printout t \"\" crlf)", deadline, noopSink{}); err != nil {
		h.broken.Store(true)
		return fmt.Errorf("health probe: %w", err)
	}
	return nil
}

func asForwardHandle(h Handle) (*forwardHandle, error) {
	fh, ok := h.(*forwardHandle)
	if !ok {
		return nil, fmt.Errorf("handle is not a forward-chaining handle")
	}
	return fh, nil
}

// noopSink answers any callback attempted during consult/health-probe
// round-trips with an error, since those round-trips are not evaluate
// calls and should not invoke tools.
type noopSink struct{}

func (noopSink) Dispatch(ctx context.Context, req toolbox.CallbackRequest) toolbox.CallbackResponse {
	return toolbox.CallbackResponse{Status: "error", Message: "tool callbacks are not permitted outside evaluate"}
}
