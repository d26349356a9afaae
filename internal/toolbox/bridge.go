// Package toolbox implements the host-side registry that services
// engine-initiated callbacks during an in-flight evaluation.
package toolbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Tool is a named host capability invocable from an engine via callback.
type Tool interface {
	Name() string
	Description() string
	Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
}

// Registry holds the set of tools composed at startup. It is thread-safe
// and holds its lock only for the duration of lookup; tool execution runs
// without the registry lock held.
type Registry struct {
	mu   sync.RWMutex
	tools map[string]Tool
	dflt string
}

// NewRegistry returns an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, overwriting any existing tool with the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// SetDefault names the tool used when a callback omits an explicit name.
func (r *Registry) SetDefault(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dflt = name
}

// Get resolves a tool by name, falling back to the default tool when name
// is empty.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == "" {
		name = r.dflt
	}
	t, ok := r.tools[name]
	return t, ok
}

// All returns the registered tools in no particular order.
func (r *Registry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// CallbackRequest is the payload an engine emits mid-evaluation, matching
// the {"tool": "...", "arguments": {...}} wire shape.
type CallbackRequest struct {
	Tool      string          `json:"tool,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallbackResponse is always returned, never a Go error — the engine must
// always see a reply, per the bridge's callback contract.
type CallbackResponse struct {
	Status  string          `json:"status"`
	Result  json.RawMessage `json:"result,omitempty"`
	Message string          `json:"message,omitempty"`
}

// Bridge dispatches callback requests to registered tools.
type Bridge struct {
	registry *Registry
}

// NewBridge wraps a Registry as a callback dispatcher.
func NewBridge(r *Registry) *Bridge {
	return &Bridge{registry: r}
}

// Dispatch resolves req.Tool (or the default tool), runs it, and always
// returns a response record — tool errors are reported as {status: error},
// never propagated as a Go error, so the framer can always write a reply
// line back to the engine.
func (b *Bridge) Dispatch(ctx context.Context, req CallbackRequest) CallbackResponse {
	tool, ok := b.registry.Get(req.Tool)
	if !ok {
		name := req.Tool
		if name == "" {
			name = "(default)"
		}
		return CallbackResponse{Status: "error", Message: fmt.Sprintf("unknown tool %q", name)}
	}
	result, err := tool.Execute(ctx, req.Arguments)
	if err != nil {
		return CallbackResponse{Status: "error", Message: err.Error()}
	}
	return CallbackResponse{Status: "ok", Result: result}
}
