// Package providers builds concrete adapter implementations from
// configuration, hiding backend selection from callers.
package providers

import (
	"fmt"
	"log/slog"
	"strings"

	"specsched/internal/adapters/executor"
	"specsched/internal/core/domain"
	"specsched/internal/core/ports"
)

// BuildExecutor creates the agent executor the configuration asks for.
// An empty mode falls back to the simulated executor so the scheduler stays
// usable on machines without docker or an agent wrapper installed.
func BuildExecutor(logger *slog.Logger, cfg domain.ExecutorConfig) (ports.AgentExecutor, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	switch mode {
	case "", "simulated":
		return executor.NewSimulatedExecutor(logger, cfg.SimulatedFailureRate), nil
	case "command":
		command := strings.TrimSpace(cfg.Command)
		if command == "" {
			return nil, fmt.Errorf("executor command is required when mode=command")
		}
		parts := strings.Fields(command)
		return executor.NewCommandExecutor(logger, parts[0], parts[1:]...), nil
	case "docker":
		image := strings.TrimSpace(cfg.Image)
		if image == "" {
			return nil, fmt.Errorf("executor image is required when mode=docker")
		}
		return executor.NewDockerExecutor(logger, image)
	default:
		return nil, fmt.Errorf("unsupported executor mode: %s", cfg.Mode)
	}
}
