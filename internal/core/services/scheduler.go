package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"specsched/internal/core/domain"
	"specsched/internal/core/ports"
)

// Scheduler drives a specification's task set through dependency-ordered
// batches: admission through the ledger, bounded-concurrency dispatch to the
// agent executor, per-task timeout, and write-through persistence of every
// status transition.
type Scheduler struct {
	logger   *slog.Logger
	ledger   *ResourceLedger
	store    ports.StateStore
	executor ports.AgentExecutor
	audit    ports.AuditSink         // optional; nil-safe
	history  ports.HistoryRepository // optional; nil-safe
	bus      *EventBus               // optional; nil-safe
	cfg      domain.SchedulerConfig
}

type SchedulerDeps struct {
	Ledger   *ResourceLedger
	Store    ports.StateStore
	Executor ports.AgentExecutor
	Audit    ports.AuditSink
	History  ports.HistoryRepository
	Bus      *EventBus
}

func NewScheduler(logger *slog.Logger, deps SchedulerDeps, cfg domain.SchedulerConfig) (*Scheduler, error) {
	if deps.Ledger == nil {
		return nil, fmt.Errorf("scheduler requires a resource ledger")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("scheduler requires a state store")
	}
	if deps.Executor == nil {
		return nil, fmt.Errorf("scheduler requires an agent executor")
	}
	if cfg.MaxConcurrentTasks <= 0 {
		cfg = domain.DefaultSchedulerConfig()
	}
	return &Scheduler{
		logger:   logger,
		ledger:   deps.Ledger,
		store:    deps.Store,
		executor: deps.Executor,
		audit:    deps.Audit,
		history:  deps.History,
		bus:      deps.Bus,
		cfg:      cfg,
	}, nil
}

// Plan returns the dependency batches Run would execute, without executing
// anything. Completed tasks are not planned but still satisfy their
// dependents, like in Run.
func (s *Scheduler) Plan(tasks []domain.Task) ([][]domain.Task, error) {
	return Batch(tasks)
}

// Run executes the task set for specName. A cycle aborts before any task
// runs. Task-local failures never stop sibling tasks or later batches;
// Summary.Success is true only when zero tasks failed. After a fully
// successful run the specification advances to the implementation phase.
func (s *Scheduler) Run(ctx context.Context, specName string, tasks []domain.Task) (domain.RunSummary, error) {
	summary := domain.RunSummary{
		RunID:     uuid.New().String(),
		SpecName:  specName,
		StartedAt: time.Now(),
	}

	tasks = s.mergeStoredCompletions(specName, tasks)
	summary.SkippedCount = len(tasks) - len(runnable(tasks))

	batches, err := s.Plan(tasks)
	if err != nil {
		summary.FinishedAt = time.Now()
		return summary, err
	}

	if err := s.ensureSpec(specName, tasks); err != nil {
		summary.FinishedAt = time.Now()
		return summary, err
	}

	s.logger.Info("run started", "run_id", summary.RunID, "spec", specName,
		"tasks", len(tasks), "batches", len(batches), "skipped", summary.SkippedCount)
	s.publish(summary.RunID, EventTypeRunStarted, map[string]any{
		"spec": specName, "batches": len(batches),
	})

	cancelled := false
	// Task IDs that ended Failed or Blocked this run; their dependents are
	// settled as Blocked instead of dispatched.
	unsatisfied := make(map[string]domain.TaskStatus)
	for i, batch := range batches {
		if ctx.Err() != nil {
			// Tasks in batches we never reached stay pending.
			cancelled = true
			summary.SkippedCount += len(batch)
			continue
		}

		result := s.runBatch(ctx, summary.RunID, specName, i, batch, unsatisfied)
		summary.Batches = append(summary.Batches, result)
		summary.CompletedCount += result.Completed
		summary.FailedCount += result.Failed
		summary.BlockedCount += result.Blocked

		s.logger.Info("batch finished", "run_id", summary.RunID, "batch", i,
			"completed", result.Completed, "failed", result.Failed, "blocked", result.Blocked)
		s.publish(summary.RunID, EventTypeBatchFinished, map[string]any{
			"index": i, "completed": result.Completed, "failed": result.Failed, "blocked": result.Blocked,
		})
	}

	summary.Success = !cancelled && summary.FailedCount == 0 && summary.BlockedCount == 0
	summary.FinishedAt = time.Now()

	if summary.Success {
		if err := s.store.CompletePhase(specName, domain.PhaseScheduling, domain.PhaseImplementation); err != nil {
			s.logger.Error("failed to advance phase", "spec", specName, "error", err)
		}
	}

	if s.history != nil {
		if err := s.history.SaveRun(ctx, summary); err != nil {
			s.logger.Error("failed to record run history", "run_id", summary.RunID, "error", err)
		}
	}

	s.logger.Info("run finished", "run_id", summary.RunID, "success", summary.Success,
		"completed", summary.CompletedCount, "failed", summary.FailedCount, "blocked", summary.BlockedCount)
	s.publish(summary.RunID, EventTypeRunFinished, map[string]any{
		"success": summary.Success, "completed": summary.CompletedCount,
		"failed": summary.FailedCount, "blocked": summary.BlockedCount,
	})

	return summary, nil
}

// runBatch dispatches every task in the batch and blocks until all of them
// settle. The batch boundary is a hard synchronization point. Tasks whose
// dependencies ended Failed or Blocked are settled as Blocked up front,
// never dispatched; the unsatisfied map is extended with every task this
// batch leaves in a terminal non-Completed state.
func (s *Scheduler) runBatch(ctx context.Context, runID, specName string, index int, batch []domain.Task, unsatisfied map[string]domain.TaskStatus) domain.BatchResult {
	result := domain.BatchResult{Index: index}
	for _, t := range batch {
		result.TaskIDs = append(result.TaskIDs, t.ID)
	}

	s.logger.Info("batch started", "run_id", runID, "batch", index, "tasks", len(batch))
	s.publish(runID, EventTypeBatchStarted, map[string]any{"index": index, "tasks": result.TaskIDs})

	ready := make([]domain.Task, 0, len(batch))
	for _, task := range batch {
		blockedBy := ""
		for _, dep := range task.Dependencies {
			if status, ok := unsatisfied[dep]; ok {
				blockedBy = fmt.Sprintf("dependency %s %s", dep, status)
				break
			}
		}
		if blockedBy == "" {
			ready = append(ready, task)
			continue
		}
		s.blockTask(ctx, runID, specName, task, blockedBy)
		unsatisfied[task.ID] = domain.TaskStatusBlocked
		result.Blocked++
	}
	if len(ready) == 0 {
		return result
	}

	limit := int64(s.cfg.MaxConcurrentTasks)
	if int64(len(ready)) < limit {
		limit = int64(len(ready))
	}
	sem := semaphore.NewWeighted(limit)

	settled := make([]domain.Task, len(ready))
	var wg sync.WaitGroup
	for i, task := range ready {
		wg.Add(1)
		go func(i int, task domain.Task) {
			defer wg.Done()
			settled[i] = s.runTask(ctx, sem, runID, specName, task)
		}(i, task)
	}
	wg.Wait()

	for _, t := range settled {
		switch t.Status {
		case domain.TaskStatusCompleted:
			result.Completed++
		default:
			result.Failed++
			unsatisfied[t.ID] = domain.TaskStatusFailed
		}
	}
	return result
}

// runTask takes one task through admission, dispatch and settlement.
// Resource release is unconditional on every exit path.
func (s *Scheduler) runTask(ctx context.Context, sem *semaphore.Weighted, runID, specName string, task domain.Task) domain.Task {
	req := task.Requirements.Normalized()

	if err := sem.Acquire(ctx, 1); err != nil {
		return s.failTask(ctx, runID, specName, task, fmt.Errorf("cancelled while waiting for dispatch slot: %w", err))
	}
	defer sem.Release(1)

	if err := s.waitForAdmission(ctx, task.ID, task.Agent, req); err != nil {
		return s.failTask(ctx, runID, specName, task, err)
	}
	defer s.ledger.Release(task.ID)

	s.publish(runID, EventTypeTaskAdmitted, map[string]any{"task_id": task.ID})

	now := time.Now()
	task.Status = domain.TaskStatusInProgress
	task.StartedAt = &now
	if err := s.store.UpdateTask(specName, task); err != nil {
		s.logger.Error("failed to persist task start", "task_id", task.ID, "error", err)
	}
	if err := s.store.RecordExecution(s.ledger.Active()); err != nil {
		s.logger.Error("failed to persist execution counters", "task_id", task.ID, "error", err)
	}

	s.logger.Info("task started", "run_id", runID, "task_id", task.ID, "agent", task.Agent)
	s.publish(runID, EventTypeTaskStarted, map[string]any{"task_id": task.ID, "agent": task.Agent})

	// The engine owns the deadline; the executor is not trusted to respect
	// one of its own.
	timeout := time.Duration(req.EstimatedDurationSeconds)*time.Second + s.cfg.ExecutionTimeoutSlack
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	taskContext := map[string]string{
		"spec":    specName,
		"run_id":  runID,
		"task_id": task.ID,
	}
	res, err := s.executor.Execute(execCtx, task.Agent, task.Description, taskContext)

	switch {
	case execCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil:
		return s.failTask(ctx, runID, specName, task,
			fmt.Errorf("%w after %s", domain.ErrExecutionTimeout, timeout))
	case ctx.Err() != nil:
		return s.failTask(ctx, runID, specName, task, fmt.Errorf("cancelled: %w", ctx.Err()))
	case err != nil:
		return s.failTask(ctx, runID, specName, task, err)
	case !res.Success:
		return s.failTask(ctx, runID, specName, task,
			&domain.ExecutorFailure{TaskID: task.ID, Message: res.ErrorMessage})
	}

	finished := time.Now()
	task.Status = domain.TaskStatusCompleted
	task.CompletedAt = &finished
	task.DurationSeconds = finished.Sub(*task.StartedAt).Seconds()
	task.LastError = ""
	if err := s.store.UpdateTask(specName, task); err != nil {
		s.logger.Error("failed to persist task completion", "task_id", task.ID, "error", err)
	}

	s.record(ctx, domain.TaskEvent{
		Timestamp:       finished,
		RunID:           runID,
		SpecName:        specName,
		TaskID:          task.ID,
		Agent:           task.Agent,
		Success:         true,
		DurationSeconds: task.DurationSeconds,
	})

	s.logger.Info("task completed", "run_id", runID, "task_id", task.ID,
		"duration_s", task.DurationSeconds)
	s.publish(runID, EventTypeTaskCompleted, map[string]any{
		"task_id": task.ID, "duration_s": task.DurationSeconds,
	})
	return task
}

// waitForAdmission polls the ledger until the task is admitted, the
// admission bound elapses, or the parent context is cancelled.
func (s *Scheduler) waitForAdmission(ctx context.Context, taskID, agent string, req domain.ResourceRequirements) error {
	if s.ledger.TryAdmit(ctx, taskID, agent, req) {
		return nil
	}

	deadline := time.NewTimer(s.cfg.AdmissionTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.cfg.AdmissionPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("cancelled while waiting for admission: %w", ctx.Err())
		case <-deadline.C:
			return domain.ErrAdmissionTimeout
		case <-ticker.C:
			if s.ledger.TryAdmit(ctx, taskID, agent, req) {
				return nil
			}
		}
	}
}

func (s *Scheduler) failTask(ctx context.Context, runID, specName string, task domain.Task, cause error) domain.Task {
	finished := time.Now()
	task.Status = domain.TaskStatusFailed
	task.LastError = cause.Error()
	task.CompletedAt = &finished
	if task.StartedAt != nil {
		task.DurationSeconds = finished.Sub(*task.StartedAt).Seconds()
	}
	if err := s.store.UpdateTask(specName, task); err != nil {
		s.logger.Error("failed to persist task failure", "task_id", task.ID, "error", err)
	}

	s.record(ctx, domain.TaskEvent{
		Timestamp:       finished,
		RunID:           runID,
		SpecName:        specName,
		TaskID:          task.ID,
		Agent:           task.Agent,
		Success:         false,
		DurationSeconds: task.DurationSeconds,
		Error:           task.LastError,
	})

	s.logger.Warn("task failed", "run_id", runID, "task_id", task.ID, "error", task.LastError)
	s.publish(runID, EventTypeTaskFailed, map[string]any{"task_id": task.ID, "error": task.LastError})
	return task
}

// blockTask settles a task whose dependency can no longer complete. Blocked
// tasks never reach admission or the executor.
func (s *Scheduler) blockTask(ctx context.Context, runID, specName string, task domain.Task, reason string) {
	now := time.Now()
	task.Status = domain.TaskStatusBlocked
	task.LastError = reason
	task.CompletedAt = &now
	if err := s.store.UpdateTask(specName, task); err != nil {
		s.logger.Error("failed to persist blocked task", "task_id", task.ID, "error", err)
	}

	s.record(ctx, domain.TaskEvent{
		Timestamp: now,
		RunID:     runID,
		SpecName:  specName,
		TaskID:    task.ID,
		Agent:     task.Agent,
		Success:   false,
		Error:     reason,
	})

	s.logger.Warn("task blocked", "run_id", runID, "task_id", task.ID, "reason", reason)
	s.publish(runID, EventTypeTaskBlocked, map[string]any{"task_id": task.ID, "reason": reason})
}

// mergeStoredCompletions overlays persisted Completed statuses onto the
// input task set, so a re-run after partial failure resumes from the state
// file instead of re-executing tasks the document still lists as pending.
// Failed and Blocked stored statuses are not merged; those tasks stay
// eligible for a retry run.
func (s *Scheduler) mergeStoredCompletions(specName string, tasks []domain.Task) []domain.Task {
	spec, err := s.store.GetSpec(specName)
	if err != nil {
		return tasks
	}
	out := make([]domain.Task, len(tasks))
	for i, t := range tasks {
		if stored, ok := spec.Tasks[t.ID]; ok && stored.Status == domain.TaskStatusCompleted {
			t.Status = domain.TaskStatusCompleted
			t.StartedAt = stored.StartedAt
			t.CompletedAt = stored.CompletedAt
			t.DurationSeconds = stored.DurationSeconds
		}
		out[i] = t
	}
	return out
}

// ensureSpec seeds the persisted specification state with the run's task
// set. Already-known tasks keep their stored status.
func (s *Scheduler) ensureSpec(specName string, tasks []domain.Task) error {
	spec, err := s.store.GetSpec(specName)
	if err != nil {
		spec = &domain.SpecificationState{
			Name:         specName,
			CurrentPhase: domain.PhaseScheduling,
			Tasks:        make(map[string]domain.Task, len(tasks)),
			CreatedAt:    time.Now(),
		}
	}
	for _, t := range tasks {
		if _, known := spec.Tasks[t.ID]; !known {
			if t.Status == "" {
				t.Status = domain.TaskStatusPending
			}
			spec.Tasks[t.ID] = t
		}
	}
	return s.store.PutSpec(spec)
}

func (s *Scheduler) record(ctx context.Context, event domain.TaskEvent) {
	if s.audit != nil {
		if err := s.audit.Append(event); err != nil {
			s.logger.Error("failed to append audit event", "task_id", event.TaskID, "error", err)
		}
	}
	if s.history != nil {
		if err := s.history.SaveTaskEvent(ctx, event); err != nil {
			s.logger.Error("failed to record task event", "task_id", event.TaskID, "error", err)
		}
	}
}

func (s *Scheduler) publish(runID string, typ EventType, data map[string]any) {
	if s.bus == nil {
		return
	}
	payload, _ := json.Marshal(data)
	s.bus.Publish(Event{
		RunID:     runID,
		Type:      typ,
		Data:      string(payload),
		Timestamp: time.Now().UnixMilli(),
	})
}

// runnable filters out tasks that already completed in an earlier run.
func runnable(tasks []domain.Task) []domain.Task {
	out := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.Status == domain.TaskStatusCompleted {
			continue
		}
		out = append(out, t)
	}
	return out
}
