package ports

import (
	"context"

	"specsched/internal/core/domain"
)

// AgentExecutor abstracts the external collaborator that actually performs a
// task's work. Its internals are opaque; the engine only relies on the
// result contract, and enforces its own timeout regardless of whether the
// executor respects ctx.
type AgentExecutor interface {
	Execute(ctx context.Context, agent string, description string, taskContext map[string]string) (domain.ExecutionResult, error)
}

// ResourceSampler reports current host pressure. Implementations must
// return within a bounded window and fall back to conservative values
// instead of failing.
type ResourceSampler interface {
	Sample(ctx context.Context) domain.ResourceSample
}

// StateStore owns the durable SystemState. Mutators persist before
// returning; a crash never leaves the file mid-transition.
type StateStore interface {
	Snapshot() domain.SystemState
	PutSpec(spec *domain.SpecificationState) error
	GetSpec(name string) (*domain.SpecificationState, error)
	UpdateTask(specName string, task domain.Task) error
	CompletePhase(specName string, phase domain.Phase, next domain.Phase) error
	RecordExecution(concurrent int) error
}

// AuditSink receives one record per task-execution event, append-only.
type AuditSink interface {
	Append(event domain.TaskEvent) error
}

// HistoryRepository keeps queryable run history alongside the audit log.
type HistoryRepository interface {
	SaveRun(ctx context.Context, summary domain.RunSummary) error
	SaveTaskEvent(ctx context.Context, event domain.TaskEvent) error
	ListRuns(ctx context.Context, limit int) ([]domain.RunSummary, error)
	ListTaskEvents(ctx context.Context, runID string) ([]domain.TaskEvent, error)
}

// TaskSource turns a specification's task document into the scheduler's
// input. Only ID, description and dependencies are required; agent
// assignment defaults when absent.
type TaskSource interface {
	Load(path string) ([]domain.Task, error)
}
