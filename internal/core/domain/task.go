package domain

import (
	"errors"
	"time"
)

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusBlocked    TaskStatus = "blocked"
)

// Terminal reports whether a task in this status can no longer change.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusBlocked
}

// Task is a single schedulable unit of work produced from a specification's
// task document. Dependencies reference other task IDs within the same set.
type Task struct {
	ID              string               `json:"id"`
	Description     string               `json:"description"`
	Agent           string               `json:"agent"`
	Dependencies    []string             `json:"dependencies,omitempty"`
	Status          TaskStatus           `json:"status"`
	Requirements    ResourceRequirements `json:"requirements"`
	StartedAt       *time.Time           `json:"started_at,omitempty"`
	CompletedAt     *time.Time           `json:"completed_at,omitempty"`
	DurationSeconds float64              `json:"duration_seconds,omitempty"`
	LastError       string               `json:"last_error,omitempty"`
}

// DefaultAgent is assigned when the task document names no agent role.
const DefaultAgent = "general-purpose"

// ResourceRequirements is the declared cost estimate a task carries into
// admission. Immutable once attached.
type ResourceRequirements struct {
	CPUPercent               float64 `json:"cpu_percent"`
	MemoryMB                 int     `json:"memory_mb"`
	ConcurrencySlots         int64   `json:"concurrency_slots"`
	EstimatedDurationSeconds int     `json:"estimated_duration_seconds"`
}

// Normalized returns a copy with zero fields replaced by defaults.
func (r ResourceRequirements) Normalized() ResourceRequirements {
	if r.ConcurrencySlots <= 0 {
		r.ConcurrencySlots = 1
	}
	if r.EstimatedDurationSeconds <= 0 {
		r.EstimatedDurationSeconds = 300
	}
	return r
}

// ExecutionResult is what an agent executor reports back for one task.
type ExecutionResult struct {
	Success         bool    `json:"success"`
	Output          string  `json:"output,omitempty"`
	ErrorMessage    string  `json:"error,omitempty"`
	DurationSeconds float64 `json:"duration_seconds"`
}

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrSpecNotFound = errors.New("specification not found")
)
