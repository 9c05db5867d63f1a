package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"specsched/internal/core/domain"
	"specsched/internal/core/ports"
)

// AdmittedTask is the runtime record the ledger holds while a task executes.
type AdmittedTask struct {
	TaskID       string
	Agent        string
	Requirements domain.ResourceRequirements
	AdmittedAt   time.Time
}

// ResourceLedger is the admission controller: it tracks admitted tasks and
// decides, against current host pressure, whether another task may start
// consuming execution resources now.
//
// TryAdmit is non-blocking; callers poll and back off. One mutex covers the
// whole check-then-admit sequence so concurrent callers can never
// over-admit.
type ResourceLedger struct {
	logger  *slog.Logger
	sampler ports.ResourceSampler
	cfg     domain.SchedulerConfig

	mu       sync.Mutex
	admitted map[string]AdmittedTask
	peak     int
}

func NewResourceLedger(logger *slog.Logger, sampler ports.ResourceSampler, cfg domain.SchedulerConfig) *ResourceLedger {
	if cfg.MaxConcurrentTasks <= 0 {
		cfg.MaxConcurrentTasks = domain.DefaultSchedulerConfig().MaxConcurrentTasks
	}
	return &ResourceLedger{
		logger:   logger,
		sampler:  sampler,
		cfg:      cfg,
		admitted: make(map[string]AdmittedTask),
	}
}

// TryAdmit admits the task if every policy gate holds. Denial mutates
// nothing.
func (l *ResourceLedger) TryAdmit(ctx context.Context, taskID, agent string, req domain.ResourceRequirements) bool {
	// Sampling happens outside the lock; only the decision is a critical
	// section.
	sample := l.sampler.Sample(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, dup := l.admitted[taskID]; dup {
		l.logger.Warn("task already admitted", "task_id", taskID)
		return false
	}
	if len(l.admitted) >= l.cfg.MaxConcurrentTasks {
		return false
	}
	if sample.LoadRatio >= l.cfg.MaxLoadRatio {
		l.logger.Debug("admission denied by load", "task_id", taskID, "load_ratio", sample.LoadRatio)
		return false
	}
	if sample.MemoryPressure >= l.cfg.MaxMemoryPressure {
		l.logger.Debug("admission denied by memory", "task_id", taskID, "memory_pressure", sample.MemoryPressure)
		return false
	}
	// High-impact tasks wait for quieter conditions.
	if req.CPUPercent > l.cfg.HighImpactCPUPercent && sample.LoadRatio > l.cfg.HighImpactLoadRatio {
		l.logger.Debug("high-impact task deferred", "task_id", taskID,
			"cpu_percent", req.CPUPercent, "load_ratio", sample.LoadRatio)
		return false
	}

	l.admitted[taskID] = AdmittedTask{
		TaskID:       taskID,
		Agent:        agent,
		Requirements: req.Normalized(),
		AdmittedAt:   time.Now(),
	}
	if len(l.admitted) > l.peak {
		l.peak = len(l.admitted)
	}
	return true
}

// Release frees the task's admission. Safe against double release: the
// second call is a no-op with a logged warning.
func (l *ResourceLedger) Release(taskID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.admitted[taskID]; !ok {
		l.logger.Warn("release of task that is not admitted", "task_id", taskID)
		return
	}
	delete(l.admitted, taskID)
}

// Active returns the number of currently admitted tasks.
func (l *ResourceLedger) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.admitted)
}

// Peak returns the highest concurrent admission count observed.
func (l *ResourceLedger) Peak() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.peak
}

// AdmittedTasks returns a copy of the current admission records.
func (l *ResourceLedger) AdmittedTasks() []AdmittedTask {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AdmittedTask, 0, len(l.admitted))
	for _, a := range l.admitted {
		out = append(out, a)
	}
	return out
}
