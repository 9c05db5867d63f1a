package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"specsched/internal/core/domain"
)

const containerPrefix = "specsched-task-"

// DockerExecutor runs each task in an isolated container: no network, a
// read-only root filesystem and a writable /tmp. The task context is passed
// through the environment, identical to CommandExecutor.
type DockerExecutor struct {
	logger *slog.Logger
	cli    *client.Client
	image  string
}

func NewDockerExecutor(logger *slog.Logger, image string) (*DockerExecutor, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &DockerExecutor{logger: logger, cli: cli, image: image}, nil
}

func (e *DockerExecutor) Execute(ctx context.Context, agent, description string, taskContext map[string]string) (domain.ExecutionResult, error) {
	start := time.Now()
	name := containerPrefix + taskContext["task_id"]

	cfg := &container.Config{
		Image: e.image,
		Env:   contextEnv(agent, description, taskContext),
		Tty:   false,
		Labels: map[string]string{
			"specsched.managed": "true",
			"specsched.task_id": taskContext["task_id"],
			"specsched.run_id":  taskContext["run_id"],
		},
	}
	hostCfg := &container.HostConfig{
		NetworkMode:    "none",
		ReadonlyRootfs: true,
		Tmpfs: map[string]string{
			"/tmp": "rw,noexec,nosuid,size=64m",
		},
	}

	resp, err := e.cli.ContainerCreate(ctx, cfg, hostCfg, &network.NetworkingConfig{}, nil, name)
	if client.IsErrNotFound(err) {
		reader, pullErr := e.cli.ImagePull(ctx, e.image, image.PullOptions{})
		if pullErr != nil {
			return domain.ExecutionResult{}, fmt.Errorf("pull image %s: %w", e.image, pullErr)
		}
		io.Copy(io.Discard, reader) //nolint:errcheck
		reader.Close()
		resp, err = e.cli.ContainerCreate(ctx, cfg, hostCfg, &network.NetworkingConfig{}, nil, name)
	}
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("create container: %w", err)
	}
	defer e.remove(resp.ID)

	if err := e.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("start container: %w", err)
	}

	statusCh, errCh := e.cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	var exitCode int64
	select {
	case <-ctx.Done():
		return domain.ExecutionResult{DurationSeconds: time.Since(start).Seconds()}, ctx.Err()
	case err := <-errCh:
		return domain.ExecutionResult{DurationSeconds: time.Since(start).Seconds()},
			fmt.Errorf("wait for container: %w", err)
	case status := <-statusCh:
		exitCode = status.StatusCode
	}

	stdout, stderr := e.collectLogs(ctx, resp.ID)
	elapsed := time.Since(start).Seconds()

	if exitCode != 0 {
		e.logger.Warn("task container exited non-zero",
			"task_id", taskContext["task_id"], "code", exitCode)
		return domain.ExecutionResult{
			Success:         false,
			Output:          stdout,
			ErrorMessage:    firstNonEmpty(stderr, fmt.Sprintf("container exited with code %d", exitCode)),
			DurationSeconds: elapsed,
		}, nil
	}

	return domain.ExecutionResult{
		Success:         true,
		Output:          stdout,
		DurationSeconds: elapsed,
	}, nil
}

func (e *DockerExecutor) collectLogs(ctx context.Context, containerID string) (string, string) {
	reader, err := e.cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		e.logger.Warn("failed to read container logs", "container", containerID, "error", err)
		return "", ""
	}
	defer reader.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, reader); err != nil {
		e.logger.Warn("failed to demux container logs", "container", containerID, "error", err)
	}
	return stdout.String(), stderr.String()
}

// remove uses a background context so cleanup still happens after the task
// context is cancelled.
func (e *DockerExecutor) remove(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
		e.logger.Warn("failed to remove task container", "container", containerID, "error", err)
	}
}
