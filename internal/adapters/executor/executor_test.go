package executor

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSimulated_AlwaysSucceedsAtRateZero(t *testing.T) {
	e := NewSimulatedExecutor(testLogger(), 0)
	for i := 0; i < 5; i++ {
		res, err := e.Execute(context.Background(), "general-purpose", "do a thing",
			map[string]string{"task_id": "t1"})
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Contains(t, res.Output, "do a thing")
	}
}

func TestSimulated_AlwaysFailsAtRateOne(t *testing.T) {
	e := NewSimulatedExecutor(testLogger(), 1)
	res, err := e.Execute(context.Background(), "general-purpose", "doomed",
		map[string]string{"task_id": "t9"})
	require.NoError(t, err, "a scripted failure is an outcome, not an error")
	assert.False(t, res.Success)
	assert.Contains(t, res.ErrorMessage, "t9")
}

func TestSimulated_CancelledContextReturnsError(t *testing.T) {
	e := NewSimulatedExecutor(testLogger(), 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Execute(ctx, "general-purpose", "never runs", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCommand_SuccessCapturesStdout(t *testing.T) {
	e := NewCommandExecutor(testLogger(), "sh", "-c", `echo "agent=$SPECSCHED_AGENT task=$SPECSCHED_CTX_TASK_ID"`)
	res, err := e.Execute(context.Background(), "reviewer", "check the diff",
		map[string]string{"task_id": "t42"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.Output, "agent=reviewer")
	assert.Contains(t, res.Output, "task=t42")
}

func TestCommand_NonZeroExitIsFailureNotError(t *testing.T) {
	e := NewCommandExecutor(testLogger(), "sh", "-c", "echo oops >&2; exit 3")
	res, err := e.Execute(context.Background(), "general-purpose", "fails", nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.ErrorMessage, "oops")
}

func TestCommand_MissingBinaryIsError(t *testing.T) {
	e := NewCommandExecutor(testLogger(), "definitely-not-a-real-binary-xyz")
	_, err := e.Execute(context.Background(), "general-purpose", "nope", nil)
	assert.Error(t, err)
}

func TestCommand_ContextDeadlineKillsProcess(t *testing.T) {
	e := NewCommandExecutor(testLogger(), "sleep", "30")
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := e.Execute(ctx, "general-purpose", "sleepy", nil)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestEnvKey_Sanitizes(t *testing.T) {
	assert.Equal(t, "RUN_ID", envKey("run_id"))
	assert.Equal(t, "TASK_ID", envKey("task-id"))
	assert.Equal(t, "SPEC", envKey("spec"))
}
