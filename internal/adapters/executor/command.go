// Package executor provides the agent executor backends: local commands,
// sandboxed docker containers, and a simulated executor for development.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"specsched/internal/core/domain"
)

// CommandExecutor runs each task as a local subprocess. The agent name,
// description and task context are handed to the command through the
// environment, so one wrapper script can dispatch to any agent.
type CommandExecutor struct {
	logger  *slog.Logger
	command string
	args    []string
}

func NewCommandExecutor(logger *slog.Logger, command string, args ...string) *CommandExecutor {
	return &CommandExecutor{logger: logger, command: command, args: args}
}

func (e *CommandExecutor) Execute(ctx context.Context, agent, description string, taskContext map[string]string) (domain.ExecutionResult, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, e.command, e.args...)
	cmd.Env = append(cmd.Environ(), contextEnv(agent, description, taskContext)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	elapsed := time.Since(start).Seconds()

	if ctx.Err() != nil {
		return domain.ExecutionResult{DurationSeconds: elapsed}, ctx.Err()
	}
	if err != nil {
		// A non-zero exit is a task failure, not a transport error.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			e.logger.Warn("agent command exited non-zero",
				"command", e.command, "code", exitErr.ExitCode())
			return domain.ExecutionResult{
				Success:         false,
				Output:          stdout.String(),
				ErrorMessage:    firstNonEmpty(stderr.String(), exitErr.Error()),
				DurationSeconds: elapsed,
			}, nil
		}
		return domain.ExecutionResult{DurationSeconds: elapsed},
			fmt.Errorf("run agent command %q: %w", e.command, err)
	}

	return domain.ExecutionResult{
		Success:         true,
		Output:          stdout.String(),
		DurationSeconds: elapsed,
	}, nil
}

func contextEnv(agent, description string, taskContext map[string]string) []string {
	env := []string{
		"SPECSCHED_AGENT=" + agent,
		"SPECSCHED_TASK_DESCRIPTION=" + description,
	}
	for k, v := range taskContext {
		env = append(env, "SPECSCHED_CTX_"+envKey(k)+"="+v)
	}
	return env
}

func envKey(k string) string {
	out := make([]byte, 0, len(k))
	for i := 0; i < len(k); i++ {
		c := k[i]
		switch {
		case c >= 'a' && c <= 'z':
			out = append(out, c-'a'+'A')
		case (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9'):
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
