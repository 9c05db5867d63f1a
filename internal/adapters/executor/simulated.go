package executor

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"specsched/internal/core/domain"
)

// SimulatedExecutor fakes agent work for dry environments and development.
// Each call sleeps a short randomized interval and fails with the configured
// probability.
type SimulatedExecutor struct {
	logger      *slog.Logger
	failureRate float64
	minDelay    time.Duration
	maxDelay    time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSimulatedExecutor(logger *slog.Logger, failureRate float64) *SimulatedExecutor {
	if failureRate < 0 {
		failureRate = 0
	}
	if failureRate > 1 {
		failureRate = 1
	}
	return &SimulatedExecutor{
		logger:      logger,
		failureRate: failureRate,
		minDelay:    10 * time.Millisecond,
		maxDelay:    150 * time.Millisecond,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (e *SimulatedExecutor) Execute(ctx context.Context, agent, description string, taskContext map[string]string) (domain.ExecutionResult, error) {
	e.mu.Lock()
	delay := e.minDelay + time.Duration(e.rng.Int63n(int64(e.maxDelay-e.minDelay)))
	failed := e.rng.Float64() < e.failureRate
	e.mu.Unlock()

	start := time.Now()
	select {
	case <-ctx.Done():
		return domain.ExecutionResult{}, ctx.Err()
	case <-time.After(delay):
	}
	elapsed := time.Since(start).Seconds()

	taskID := taskContext["task_id"]
	if failed {
		return domain.ExecutionResult{
			Success:         false,
			ErrorMessage:    fmt.Sprintf("simulated failure for task %s", taskID),
			DurationSeconds: elapsed,
		}, nil
	}

	e.logger.Debug("simulated task finished", "task_id", taskID, "agent", agent)
	return domain.ExecutionResult{
		Success:         true,
		Output:          fmt.Sprintf("simulated %s run for: %s", agent, description),
		DurationSeconds: elapsed,
	}, nil
}
