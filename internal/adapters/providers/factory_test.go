package providers

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"specsched/internal/adapters/executor"
	"specsched/internal/core/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuildExecutor_DefaultsToSimulated(t *testing.T) {
	exec, err := BuildExecutor(testLogger(), domain.ExecutorConfig{})
	require.NoError(t, err)
	assert.IsType(t, &executor.SimulatedExecutor{}, exec)
}

func TestBuildExecutor_CommandMode(t *testing.T) {
	exec, err := BuildExecutor(testLogger(), domain.ExecutorConfig{
		Mode:    "command",
		Command: "sh -c true",
	})
	require.NoError(t, err)
	assert.IsType(t, &executor.CommandExecutor{}, exec)
}

func TestBuildExecutor_CommandModeRequiresCommand(t *testing.T) {
	_, err := BuildExecutor(testLogger(), domain.ExecutorConfig{Mode: "command"})
	assert.Error(t, err)
}

func TestBuildExecutor_DockerModeRequiresImage(t *testing.T) {
	_, err := BuildExecutor(testLogger(), domain.ExecutorConfig{Mode: "docker"})
	assert.Error(t, err)
}

func TestBuildExecutor_UnknownModeRejected(t *testing.T) {
	_, err := BuildExecutor(testLogger(), domain.ExecutorConfig{Mode: "teleport"})
	assert.Error(t, err)
}
