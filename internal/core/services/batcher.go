package services

import (
	"fmt"

	"specsched/internal/core/domain"
)

// Batch partitions tasks into dependency-respecting layers: every task in a
// batch has all its dependencies in strictly earlier batches. Tasks without
// interdependencies share a batch and are candidates for concurrent
// admission. Declaration order is preserved within each batch so repeated
// runs produce identical partitions.
//
// Tasks already Completed (from an earlier run) are not re-batched; they
// count as satisfied dependencies, so a pending dependent of a completed
// task schedules normally on a re-run.
//
// If an iteration makes no progress while tasks remain, the input contains a
// cycle or a dangling dependency reference and a *domain.CycleError naming
// the stuck tasks is returned. The loop is bounded by len(tasks) iterations.
func Batch(tasks []domain.Task) ([][]domain.Task, error) {
	if len(tasks) == 0 {
		return nil, nil
	}

	seen := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		if t.ID == "" {
			return nil, fmt.Errorf("task with empty id")
		}
		if _, dup := seen[t.ID]; dup {
			return nil, fmt.Errorf("duplicate task id: %s", t.ID)
		}
		seen[t.ID] = struct{}{}
	}

	batched := make(map[string]struct{}, len(tasks))
	remaining := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.Status == domain.TaskStatusCompleted {
			batched[t.ID] = struct{}{}
			continue
		}
		remaining = append(remaining, t)
	}
	var batches [][]domain.Task

	for iter := 0; len(remaining) > 0; iter++ {
		if iter >= len(tasks) {
			// Bounded fallback; the no-progress check below should fire first.
			break
		}

		var batch []domain.Task
		var next []domain.Task
		for _, t := range remaining {
			if depsSatisfied(t, batched) {
				batch = append(batch, t)
			} else {
				next = append(next, t)
			}
		}

		if len(batch) == 0 {
			break
		}

		for _, t := range batch {
			batched[t.ID] = struct{}{}
		}
		batches = append(batches, batch)
		remaining = next
	}

	if len(remaining) > 0 {
		stuck := make([]string, 0, len(remaining))
		for _, t := range remaining {
			stuck = append(stuck, t.ID)
		}
		return nil, &domain.CycleError{StuckTaskIDs: stuck}
	}

	return batches, nil
}

func depsSatisfied(t domain.Task, batched map[string]struct{}) bool {
	for _, dep := range t.Dependencies {
		if dep == t.ID {
			return false
		}
		if _, ok := batched[dep]; !ok {
			return false
		}
	}
	return true
}
