package domain

import "time"

// SchedulerConfig carries the engine's tunables. The admission thresholds
// are hand-tuned defaults; they are configuration, not invariants.
type SchedulerConfig struct {
	MaxConcurrentTasks    int           `json:"max_concurrent_tasks"`
	MaxLoadRatio          float64       `json:"max_load_ratio"`
	MaxMemoryPressure     float64       `json:"max_memory_pressure"`
	HighImpactCPUPercent  float64       `json:"high_impact_cpu_percent"`
	HighImpactLoadRatio   float64       `json:"high_impact_load_ratio"`
	AdmissionPollInterval time.Duration `json:"admission_poll_interval"`
	AdmissionTimeout      time.Duration `json:"admission_timeout"`
	ExecutionTimeoutSlack time.Duration `json:"execution_timeout_slack"`
}

// ExecutorConfig selects and parameterizes the agent executor.
type ExecutorConfig struct {
	Mode    string `json:"mode"`    // "command", "docker" or "simulated"
	Command string `json:"command"` // agent binary invoked per task in command mode
	Image   string `json:"image"`   // container image used in docker mode
	// SimulatedFailureRate makes the simulated executor fail a fraction of
	// tasks, for rehearsing partial-failure runs.
	SimulatedFailureRate float64 `json:"simulated_failure_rate"`
}

// DefaultSchedulerConfig returns the stock tunables.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		MaxConcurrentTasks:    8,
		MaxLoadRatio:          0.85,
		MaxMemoryPressure:     0.80,
		HighImpactCPUPercent:  30,
		HighImpactLoadRatio:   0.6,
		AdmissionPollInterval: 2 * time.Second,
		AdmissionTimeout:      300 * time.Second,
		ExecutionTimeoutSlack: 60 * time.Second,
	}
}
