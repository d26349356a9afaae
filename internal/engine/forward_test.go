package engine

import (
	"context"
	"testing"
	"time"

	"github.com/rulehost/rulehost/internal/toolbox"
	"github.com/rulehost/rulehost/internal/types"
)

func TestForwardSpawnMissingBinary(t *testing.T) {
	b := NewForwardBackend("/nonexistent/clips-binary-does-not-exist")
	_, err := b.Spawn(context.Background(), types.DefaultResourceLimits())
	if err == nil {
		t.Fatal("expected spawn to fail for a missing binary")
	}
}

func TestForwardQueryUnsupported(t *testing.T) {
	b := NewForwardBackend("/bin/echo")
	if _, err := b.Query(context.Background(), fakeHandle{}, "goal", false, time.Now().Add(time.Second)); err == nil {
		t.Fatal("expected query to be rejected on the forward-chaining backend")
	}
}

func TestForwardWrongHandleType(t *testing.T) {
	b := NewForwardBackend("/bin/echo")
	if _, err := asForwardHandle(fakeHandle{}); err == nil {
		t.Fatal("expected type assertion failure")
	}
	if _, err := b.Consult(context.Background(), fakeHandle{}, nil, time.Now()); err == nil {
		t.Fatal("expected consult on wrong handle type to error")
	}
}

func TestNoopSinkRejectsCallbacks(t *testing.T) {
	resp := noopSink{}.Dispatch(context.Background(), toolbox.CallbackRequest{Tool: "echo"})
	if resp.Status != "error" {
		t.Fatalf("expected noopSink to answer with an error status, got %+v", resp)
	}
}
