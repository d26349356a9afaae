package toolbox

import (
	"context"
	"encoding/json"
	"testing"
)

type stubTool struct {
	name string
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "stub tool for tests" }
func (s *stubTool) Execute(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
	return args, nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "echo"})

	tool, ok := r.Get("echo")
	if !ok {
		t.Fatal("expected to find echo tool")
	}
	if tool.Name() != "echo" {
		t.Errorf("expected name 'echo', got %q", tool.Name())
	}
}

func TestRegistryGetMissing(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Get("missing")
	if ok {
		t.Fatal("expected not to find missing tool")
	}
}

func TestRegistryGetDefault(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "echo"})
	r.SetDefault("echo")

	tool, ok := r.Get("")
	if !ok {
		t.Fatal("expected default tool to resolve")
	}
	if tool.Name() != "echo" {
		t.Errorf("expected default 'echo', got %q", tool.Name())
	}
}

func TestRegistryAll(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "echo"})
	tools := r.All()
	if len(tools) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(tools))
	}
}

func TestBridgeDispatchOK(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "echo"})
	b := NewBridge(r)

	resp := b.Dispatch(context.Background(), CallbackRequest{
		Tool:      "echo",
		Arguments: json.RawMessage(`{"text":"hi"}`),
	})
	if resp.Status != "ok" {
		t.Fatalf("expected ok status, got %q (%s)", resp.Status, resp.Message)
	}
}

func TestBridgeDispatchUnknownToolNeverErrorsGo(t *testing.T) {
	r := NewRegistry()
	b := NewBridge(r)

	resp := b.Dispatch(context.Background(), CallbackRequest{Tool: "nope"})
	if resp.Status != "error" {
		t.Fatalf("expected error status, got %q", resp.Status)
	}
	if resp.Message == "" {
		t.Fatal("expected a message describing the failure")
	}
}

type failingTool struct{}

func (failingTool) Name() string        { return "boom" }
func (failingTool) Description() string { return "always fails" }
func (failingTool) Execute(context.Context, json.RawMessage) (json.RawMessage, error) {
	return nil, errBoom
}

var errBoom = errBoomType{}

type errBoomType struct{}

func (errBoomType) Error() string { return "boom" }

func TestBridgeDispatchToolErrorBecomesResponse(t *testing.T) {
	r := NewRegistry()
	r.Register(failingTool{})
	b := NewBridge(r)

	resp := b.Dispatch(context.Background(), CallbackRequest{Tool: "boom"})
	if resp.Status != "error" {
		t.Fatalf("expected error status, got %q", resp.Status)
	}
	if resp.Message != "boom" {
		t.Errorf("expected message %q, got %q", "boom", resp.Message)
	}
}
