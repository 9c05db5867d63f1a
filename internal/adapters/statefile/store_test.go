package statefile

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"specsched/internal/core/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSpec(name string) *domain.SpecificationState {
	return &domain.SpecificationState{
		Name:         name,
		CurrentPhase: domain.PhaseScheduling,
		Tasks: map[string]domain.Task{
			"t1": {ID: "t1", Description: "first", Status: domain.TaskStatusPending},
		},
		CreatedAt: time.Now(),
	}
}

func TestStore_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	store, err := NewStore(testLogger(), path, "")
	require.NoError(t, err)
	require.NoError(t, store.PutSpec(testSpec("checkout")))

	task := domain.Task{ID: "t1", Description: "first", Status: domain.TaskStatusCompleted}
	require.NoError(t, store.UpdateTask("checkout", task))
	require.NoError(t, store.CompletePhase("checkout", domain.PhaseScheduling, domain.PhaseImplementation))
	require.NoError(t, store.RecordExecution(3))

	// A fresh store over the same file must see everything.
	reloaded, err := NewStore(testLogger(), path, "")
	require.NoError(t, err)

	spec, err := reloaded.GetSpec("checkout")
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseImplementation, spec.CurrentPhase)
	assert.Equal(t, domain.TaskStatusCompleted, spec.Tasks["t1"].Status)
	require.Len(t, spec.CompletedPhases, 1)
	assert.Equal(t, domain.PhaseScheduling, spec.CompletedPhases[0].Phase)

	snap := reloaded.Snapshot()
	assert.Equal(t, 1, snap.TotalTasksExecuted)
	assert.Equal(t, 3, snap.PeakConcurrentTasks)
}

func TestStore_MissingFileStartsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent", "state.json")

	store, err := NewStore(testLogger(), path, "")
	require.NoError(t, err)
	assert.Empty(t, store.Snapshot().Specs)

	_, err = store.GetSpec("nothing")
	assert.ErrorIs(t, err, domain.ErrSpecNotFound)
}

func TestStore_CorruptFileIsQuarantined(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"specs": {truncated`), 0o644))

	store, err := NewStore(testLogger(), path, "")
	require.NoError(t, err, "corruption must not be fatal")
	assert.Empty(t, store.Snapshot().Specs)

	matches, err := filepath.Glob(path + ".corrupt-*")
	require.NoError(t, err)
	require.Len(t, matches, 1, "corrupt payload must be preserved for inspection")

	raw, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(raw), "truncated")
}

func TestStore_WritesAreAtomicJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	store, err := NewStore(testLogger(), path, "")
	require.NoError(t, err)
	require.NoError(t, store.PutSpec(testSpec("inventory")))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk domain.SystemState
	require.NoError(t, json.Unmarshal(raw, &onDisk))
	assert.Contains(t, onDisk.Specs, "inventory")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files may be left behind")
}

func TestStore_FallbackPathUsedWhenPrimaryUnwritable(t *testing.T) {
	dir := t.TempDir()
	blocked := filepath.Join(dir, "blocked")
	// A file where the store expects a directory makes MkdirAll fail.
	require.NoError(t, os.WriteFile(blocked, []byte("x"), 0o644))
	primary := filepath.Join(blocked, "state.json")
	fallback := filepath.Join(dir, "fallback", "state.json")

	store, err := NewStore(testLogger(), primary, fallback)
	require.NoError(t, err)
	require.NoError(t, store.PutSpec(testSpec("resilient")))

	raw, err := os.ReadFile(fallback)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "resilient")
}

func TestStore_SnapshotIsIsolatedCopy(t *testing.T) {
	store, err := NewStore(testLogger(), filepath.Join(t.TempDir(), "state.json"), "")
	require.NoError(t, err)
	require.NoError(t, store.PutSpec(testSpec("iso")))

	snap := store.Snapshot()
	snap.Specs["iso"].Tasks["t1"] = domain.Task{ID: "t1", Status: domain.TaskStatusFailed}

	spec, err := store.GetSpec("iso")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, spec.Tasks["t1"].Status)
}
