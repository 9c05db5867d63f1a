package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// CycleError means the dependency graph cannot be fully batched: either a
// dependency cycle or a reference to a task that does not exist. It is fatal
// for the whole run and is detected before any task executes.
type CycleError struct {
	StuckTaskIDs []string
}

func (e *CycleError) Error() string {
	ids := append([]string(nil), e.StuckTaskIDs...)
	sort.Strings(ids)
	return fmt.Sprintf("dependency cycle or dangling reference, stuck tasks: %s", strings.Join(ids, ", "))
}

// ExecutorFailure means the agent executor ran but reported success=false.
// Task-local.
type ExecutorFailure struct {
	TaskID  string
	Message string
}

func (e *ExecutorFailure) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("executor reported failure for task %s", e.TaskID)
	}
	return fmt.Sprintf("executor reported failure for task %s: %s", e.TaskID, e.Message)
}

// PersistenceError wraps a state write that could not be completed even
// after the fallback attempt.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist state to %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

var (
	// ErrAdmissionTimeout marks a task that never got admitted within the
	// admission wait bound. Task-local.
	ErrAdmissionTimeout = errors.New("resource acquisition timeout")

	// ErrExecutionTimeout marks a task whose executor call exceeded the
	// per-task deadline. Task-local.
	ErrExecutionTimeout = errors.New("execution timeout")
)
