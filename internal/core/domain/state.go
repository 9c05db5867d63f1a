package domain

import "time"

type Phase string

const (
	PhaseDraft          Phase = "draft"
	PhasePlanning       Phase = "planning"
	PhaseScheduling     Phase = "scheduling"
	PhaseImplementation Phase = "implementation"
	PhaseValidation     Phase = "validation"
)

// PhaseRecord marks a workflow phase a specification has completed.
type PhaseRecord struct {
	Phase       Phase     `json:"phase"`
	CompletedAt time.Time `json:"completed_at"`
}

// SpecificationState aggregates everything the engine tracks for one
// specification: its task set, current phase and phase history.
type SpecificationState struct {
	Name            string          `json:"name"`
	CurrentPhase    Phase           `json:"current_phase"`
	Tasks           map[string]Task `json:"tasks"`
	CompletedPhases []PhaseRecord   `json:"completed_phases,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// ProgressPercentage is the completed/total task ratio, 0 when there are
// no tasks.
func (s *SpecificationState) ProgressPercentage() float64 {
	if len(s.Tasks) == 0 {
		return 0
	}
	completed := 0
	for _, t := range s.Tasks {
		if t.Status == TaskStatusCompleted {
			completed++
		}
	}
	return float64(completed) / float64(len(s.Tasks)) * 100
}

// SystemState is the process-wide persisted root: every specification the
// engine has touched plus aggregate execution counters.
type SystemState struct {
	Specs               map[string]*SpecificationState `json:"specs"`
	TotalTasksExecuted  int                            `json:"total_tasks_executed"`
	PeakConcurrentTasks int                            `json:"peak_concurrent_tasks"`
	LastUpdated         time.Time                      `json:"last_updated"`
}

// NewSystemState returns an empty, usable state.
func NewSystemState() *SystemState {
	return &SystemState{Specs: make(map[string]*SpecificationState)}
}
