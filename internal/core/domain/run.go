package domain

import "time"

// BatchResult summarizes one dependency batch after it has settled.
type BatchResult struct {
	Index     int      `json:"index"`
	TaskIDs   []string `json:"task_ids"`
	Completed int      `json:"completed"`
	Failed    int      `json:"failed"`
	Blocked   int      `json:"blocked"`
}

// RunSummary is the outcome of a single scheduling run over a
// specification's task set.
type RunSummary struct {
	RunID          string        `json:"run_id"`
	SpecName       string        `json:"spec_name"`
	Success        bool          `json:"success"`
	Batches        []BatchResult `json:"batches"`
	CompletedCount int           `json:"completed_count"`
	FailedCount    int           `json:"failed_count"`
	BlockedCount   int           `json:"blocked_count"`
	SkippedCount   int           `json:"skipped_count"`
	StartedAt      time.Time     `json:"started_at"`
	FinishedAt     time.Time     `json:"finished_at"`
}

func (s RunSummary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// TaskEvent is one task-execution audit record. Events are appended to the
// JSONL audit log and mirrored into the history repository; they are never
// rewritten.
type TaskEvent struct {
	Timestamp       time.Time `json:"timestamp"`
	RunID           string    `json:"run_id"`
	SpecName        string    `json:"spec_name"`
	TaskID          string    `json:"task_id"`
	Agent           string    `json:"agent,omitempty"`
	Success         bool      `json:"success"`
	DurationSeconds float64   `json:"duration_seconds"`
	Error           string    `json:"error,omitempty"`
}
