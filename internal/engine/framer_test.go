package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/rulehost/rulehost/internal/toolbox"
)

var tokenPattern = regexp.MustCompile(`[0-9a-f]{16}`)

func TestNewSentinelIsUniqueHex(t *testing.T) {
	a, err := NewSentinel()
	if err != nil {
		t.Fatalf("NewSentinel: %v", err)
	}
	b, err := NewSentinel()
	if err != nil {
		t.Fatalf("NewSentinel: %v", err)
	}
	if a == b {
		t.Fatal("expected two distinct sentinels")
	}
	if len(a) != 16 {
		t.Fatalf("expected 16 hex chars, got %d", len(a))
	}
}

func TestDispatchCallbackMalformedPayload(t *testing.T) {
	resp := dispatchCallback(context.Background(), stubSink{}, "not json")
	if resp.Status != "error" {
		t.Fatalf("expected malformed payload to produce an error response, got %+v", resp)
	}
}

func TestDispatchCallbackValidPayload(t *testing.T) {
	req := toolbox.CallbackRequest{Tool: "echo", Arguments: json.RawMessage(`{"a":1}`)}
	payload, _ := json.Marshal(req)
	resp := dispatchCallback(context.Background(), stubSink{}, string(payload))
	if resp.Status != "ok" {
		t.Fatalf("expected ok response, got %+v", resp)
	}
}

type stubSink struct{}

func (stubSink) Dispatch(ctx context.Context, req toolbox.CallbackRequest) toolbox.CallbackResponse {
	return toolbox.CallbackResponse{Status: "ok", Result: req.Arguments}
}

// fakeEngineLoop simulates a subprocess that echoes plain output for any
// line beginning with "say:" and answers the trailing sentinel command on
// both stdout and stderr, mirroring the framing protocol's contract.
func fakeEngineLoop(stdinR io.Reader, stdoutW, stderrW io.WriteCloser) {
	r := bufio.NewReader(stdinR)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if strings.HasPrefix(line, "say:") {
			io.WriteString(stdoutW, strings.TrimPrefix(line, "say:")+"\n")
			continue
		}
		if strings.Contains(line, "printout t") {
			if tok := tokenPattern.FindString(line); tok != "" {
				io.WriteString(stdoutW, tok+"\n")
			}
		}
		if strings.Contains(line, "printout werror") {
			if tok := tokenPattern.FindString(line); tok != "" {
				io.WriteString(stderrW, tok+"\n")
			}
		}
	}
}

func TestFramerRunCapturesOutputUntilSentinel(t *testing.T) {
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	go fakeEngineLoop(stdinR, stdoutW, stderrW)

	f := NewFramer(stdinW, stdoutR, stderrR)
	deadline := time.Now().Add(2 * time.Second)

	stdout, _, err := f.Run(context.Background(), "say:hello world", deadline, stubSink{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.TrimSpace(stdout) != "hello world" {
		t.Fatalf("expected captured stdout %q, got %q", "hello world", stdout)
	}
}

func TestFramerRunTimesOutWhenSentinelNeverArrives(t *testing.T) {
	stdinR, stdinW := io.Pipe()
	stdoutR, _ := io.Pipe()
	stderrR, _ := io.Pipe()
	go func() {
		// drain stdin so the writer does not block forever, but never
		// produce a sentinel on either stream.
		io.Copy(io.Discard, stdinR)
	}()

	f := NewFramer(stdinW, stdoutR, stderrR)
	deadline := time.Now().Add(50 * time.Millisecond)

	_, _, err := f.Run(context.Background(), "say:nope", deadline, stubSink{})
	if err == nil {
		t.Fatal("expected timeout error when sentinel never arrives")
	}
}

func TestAwaitReadyDetectsHandshake(t *testing.T) {
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	stderrR, _ := io.Pipe()
	go func() {
		r := bufio.NewReader(stdinR)
		r.ReadString('\n')
		io.WriteString(stdoutW, "READY\n")
	}()

	f := NewFramer(stdinW, stdoutR, stderrR)
	if err := f.AwaitReady(time.Now().Add(time.Second)); err != nil {
		t.Fatalf("AwaitReady: %v", err)
	}
	_ = stderrR
}
