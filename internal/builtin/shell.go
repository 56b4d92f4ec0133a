package builtin

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stellarlinkco/nova/internal/safety"
	"github.com/stellarlinkco/nova/internal/tools"
)

const (
	shellToolName   = "shell"
	defaultShellTTL = 30 * time.Second
	// waitDelay bounds how long Wait keeps draining pipes held open by
	// grandchildren after the process group is killed.
	waitDelay = 2 * time.Second
)

var shellSchema = tools.NewSchema(map[string]any{
	"type": "object",
	"properties": map[string]any{
		"command": map[string]any{
			"type":        "string",
			"description": "Shell command to run with sh -c.",
		},
		"timeout": map[string]any{
			"type":        "integer",
			"minimum":     1,
			"description": "Timeout in seconds.",
		},
	},
	"required": []any{"command"},
})

// ShellTool runs commands approved by the safety gate.
type ShellTool struct {
	gate    *safety.Gate
	timeout time.Duration
	logger  *zap.Logger
}

func NewShellTool(gate *safety.Gate, timeout time.Duration, logger *zap.Logger) *ShellTool {
	if timeout <= 0 {
		timeout = defaultShellTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ShellTool{gate: gate, timeout: timeout, logger: logger.Named(shellToolName)}
}

func (s *ShellTool) Name() string { return shellToolName }

func (s *ShellTool) Description() string {
	return "Execute a shell command. Whitelisted commands run directly; others need the shell override; dangerous patterns are always refused."
}

func (s *ShellTool) Schema() map[string]any { return shellSchema.Document() }

func (s *ShellTool) Run(ctx context.Context, params tools.Params) (tools.Result, error) {
	if err := shellSchema.Validate(params); err != nil {
		return nil, err
	}
	command, _, err := params.String("command")
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(command) == "" {
		return nil, tools.Errorf("empty command")
	}
	timeout := s.timeout
	secs, err := params.Int("timeout", 0)
	if err != nil {
		return nil, err
	}
	if secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}
	if s.gate == nil {
		return nil, tools.Errorf("shell tool has no safety gate")
	}

	verdict := s.gate.Check(command)
	if !verdict.Allowed() {
		return tools.Result{
			"ok":       false,
			"decision": verdict.Decision.String(),
			"error":    verdict.Reason(),
		}, nil
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "sh", "-c", command)
	setProcessGroup(cmd)
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	if errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		s.gate.Record(command, true, "timeout")
		s.logger.Warn("command timed out", zap.String("command", command), zap.Duration("after", timeout))
		return nil, &tools.TimeoutError{Op: "command", After: timeout}
	}
	if ctx.Err() != nil {
		s.gate.Record(command, true, "canceled")
		return nil, ctx.Err()
	}

	code := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			s.gate.Record(command, true, "exc:"+runErr.Error())
			return nil, tools.Errorf("run command: %w", runErr)
		}
		code = exitErr.ExitCode()
	}

	s.logger.Debug("command finished",
		zap.String("command", command),
		zap.Int("returncode", code),
		zap.Duration("elapsed", elapsed),
	)
	return tools.Result{
		"ok":         true,
		"stdout":     stdout.String(),
		"stderr":     stderr.String(),
		"returncode": code,
		"success":    code == 0,
	}, nil
}
