package engine

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rulehost/rulehost/internal/toolbox"
)

// Readiness prompt the forward-chaining engine prints on its own once
// spawned, and the handshake command used to confirm it before a session
// is marked Active.
const (
	readyPrompt  = "CLIPS>"
	handshakeCmd = `(printout t "READY" crlf)`
	handshakeTok = "READY"

	callbackPrefix = "@@TOOLCALL@@"
	replyPrefix    = "@@TOOLREPLY@@"
)

// NewSentinel generates a fresh sentinel token; Run calls it once per
// command. It is
// unpredictable so a script's own printed output cannot be mistaken for
// the end-of-output marker.
func NewSentinel() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate sentinel: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// sentinelCommand returns the trailing command appended to every script:
// it prints the sentinel to both stdout and stderr so the framer can
// detect the end of output on both streams independently.
func sentinelCommand(token string) string {
	return fmt.Sprintf(`(printout t "%s" crlf)(printout werror "%s" crlf)`, token, token)
}

// Framer implements the sentinel-based framing protocol over a byte-stream
// engine: readiness handshake, command submission with a trailing
// sentinel, line-by-line output capture, and callback interleaving.
type Framer struct {
	stdin  io.Writer
	stdout *bufio.Reader
	stderr *bufio.Reader
}

// NewFramer wraps a subprocess's stdio pipes.
func NewFramer(stdin io.Writer, stdout, stderr io.Reader) *Framer {
	return &Framer{
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
		stderr: bufio.NewReader(stderr),
	}
}

// AwaitReady reads stdout until a line containing either the readiness
// prompt or the handshake token is observed, or deadline elapses.
func (f *Framer) AwaitReady(deadline time.Time) error {
	if _, err := io.WriteString(f.stdin, handshakeCmd+"\n"); err != nil {
		return fmt.Errorf("write handshake: %w", err)
	}
	for {
		line, err := readLine(f.stdout, deadline)
		if err != nil {
			return fmt.Errorf("await ready: %w", err)
		}
		if strings.Contains(line, handshakeTok) || strings.Contains(line, readyPrompt) {
			return nil
		}
	}
}

// Run submits script followed by a sentinel command, captures framed
// stdout/stderr, and dispatches any interleaved callbacks to sink,
// blocking until the sentinel is seen on both streams or deadline
// elapses.
func (f *Framer) Run(ctx context.Context, script string, deadline time.Time, sink CallbackSink) (stdout, stderr string, err error) {
	token, err := NewSentinel()
	if err != nil {
		return "", "", err
	}

	if _, err := io.WriteString(f.stdin, script+"\n"+sentinelCommand(token)+"\n"); err != nil {
		return "", "", fmt.Errorf("write command: %w", err)
	}

	stderrDone := make(chan string, 1)
	stderrErr := make(chan error, 1)
	go func() {
		var buf strings.Builder
		for {
			line, err := readLine(f.stderr, deadline)
			if err != nil {
				stderrErr <- err
				return
			}
			if line == token {
				stderrDone <- buf.String()
				return
			}
			buf.WriteString(line)
			buf.WriteByte('\n')
		}
	}()

	var outBuf strings.Builder
	for {
		line, rerr := readLine(f.stdout, deadline)
		if rerr != nil {
			return "", "", fmt.Errorf("engine desync on stdout: %w", rerr)
		}
		if line == token {
			break
		}
		if strings.HasPrefix(line, callbackPrefix) {
			resp := dispatchCallback(ctx, sink, strings.TrimPrefix(line, callbackPrefix))
			data, merr := json.Marshal(resp)
			if merr != nil {
				return "", "", fmt.Errorf("marshal callback reply: %w", merr)
			}
			if _, werr := io.WriteString(f.stdin, replyPrefix+string(data)+"\n"); werr != nil {
				return "", "", fmt.Errorf("write callback reply: %w", werr)
			}
			continue
		}
		outBuf.WriteString(line)
		outBuf.WriteByte('\n')
	}

	select {
	case errBuf := <-stderrDone:
		return outBuf.String(), errBuf, nil
	case err := <-stderrErr:
		return "", "", fmt.Errorf("engine desync on stderr: %w", err)
	}
}

func dispatchCallback(ctx context.Context, sink CallbackSink, payload string) toolbox.CallbackResponse {
	var req toolbox.CallbackRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return toolbox.CallbackResponse{Status: "error", Message: fmt.Sprintf("malformed callback: %v", err)}
	}
	return sink.Dispatch(ctx, req)
}

// readLine reads one newline-terminated line, racing against deadline. On
// timeout the underlying goroutine is abandoned; callers must treat the
// handle as broken and eventually force-close the stream to unblock it.
func readLine(r *bufio.Reader, deadline time.Time) (string, error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := r.ReadString('\n')
		ch <- result{line, err}
	}()

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return "", res.err
		}
		return strings.TrimRight(res.line, "\r\n"), nil
	case <-timer.C:
		return "", fmt.Errorf("timed out waiting for sentinel")
	}
}
