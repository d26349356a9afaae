package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"
)

// Shell runs a host command via os/exec with an explicit timeout. It is
// inherently privileged; callers must gate its registration behind a
// config flag (tools.shell_enabled) rather than relying on this type to
// refuse execution.
type Shell struct{}

// NewShell creates the shell tool.
func NewShell() *Shell { return &Shell{} }

func (s *Shell) Name() string        { return "shell" }
func (s *Shell) Description() string { return "Execute a shell command on the host" }

func (s *Shell) Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var params struct {
		Command        string `json:"command"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, fmt.Errorf("parse args: %w", err)
	}
	if params.Command == "" {
		return nil, fmt.Errorf("command is required")
	}

	timeout := 30 * time.Second
	if params.TimeoutSeconds > 0 {
		timeout = time.Duration(params.TimeoutSeconds) * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", params.Command)
	output, err := cmd.CombinedOutput()

	result := struct {
		Output   string `json:"output"`
		ExitCode int    `json:"exit_code"`
	}{Output: string(output)}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			return json.Marshal(result)
		}
		return nil, fmt.Errorf("run command: %w", err)
	}

	return json.Marshal(result)
}
