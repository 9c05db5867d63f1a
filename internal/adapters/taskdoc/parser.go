// Package taskdoc loads task definitions from YAML documents.
package taskdoc

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"specsched/internal/core/domain"
)

type document struct {
	Tasks []taskEntry `yaml:"tasks"`
}

type taskEntry struct {
	ID           string            `yaml:"id"`
	Description  string            `yaml:"description"`
	Agent        string            `yaml:"agent"`
	DependsOn    []string          `yaml:"depends_on"`
	Status       string            `yaml:"status"`
	Requirements requirementsEntry `yaml:"requirements"`
}

type requirementsEntry struct {
	CPUPercent               float64 `yaml:"cpu_percent"`
	MemoryMB                 int     `yaml:"memory_mb"`
	ConcurrencySlots         int64   `yaml:"concurrency_slots"`
	EstimatedDurationSeconds int     `yaml:"estimated_duration_seconds"`
}

// Parser reads task documents from disk. It implements ports.TaskSource.
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

// Load parses the YAML document at path. Tasks without an agent get the
// default agent; an absent status means pending.
func (p *Parser) Load(path string) ([]domain.Task, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task document: %w", err)
	}

	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse task document %s: %w", path, err)
	}
	if len(doc.Tasks) == 0 {
		return nil, fmt.Errorf("task document %s defines no tasks", path)
	}

	tasks := make([]domain.Task, 0, len(doc.Tasks))
	for i, entry := range doc.Tasks {
		if entry.ID == "" {
			return nil, fmt.Errorf("task document %s: task %d has no id", path, i)
		}
		agent := entry.Agent
		if agent == "" {
			agent = domain.DefaultAgent
		}
		status := domain.TaskStatus(entry.Status)
		if status == "" {
			status = domain.TaskStatusPending
		}
		tasks = append(tasks, domain.Task{
			ID:           entry.ID,
			Description:  entry.Description,
			Agent:        agent,
			Dependencies: entry.DependsOn,
			Status:       status,
			Requirements: domain.ResourceRequirements{
				CPUPercent:               entry.Requirements.CPUPercent,
				MemoryMB:                 entry.Requirements.MemoryMB,
				ConcurrencySlots:         entry.Requirements.ConcurrencySlots,
				EstimatedDurationSeconds: entry.Requirements.EstimatedDurationSeconds,
			},
		})
	}
	return tasks, nil
}
