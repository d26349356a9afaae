package tools

import (
	"context"
	"encoding/json"
)

// Echo returns its argument unchanged. Used in tests and as the zero-config
// default tool.
type Echo struct{}

// NewEcho creates the echo tool.
func NewEcho() *Echo { return &Echo{} }

func (e *Echo) Name() string        { return "echo" }
func (e *Echo) Description() string { return "Returns the arguments it was given, unchanged" }

func (e *Echo) Execute(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
	if len(args) == 0 {
		return json.RawMessage(`null`), nil
	}
	return args, nil
}
