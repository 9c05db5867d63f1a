// Package statefile persists scheduler state as a single JSON document with
// crash-safe writes.
package statefile

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"specsched/internal/core/domain"
)

// Store is a write-through JSON state store. Every mutation rewrites the
// whole document via a temp file and an atomic rename, so a crash mid-write
// leaves either the old or the new state on disk, never a torn one.
// It implements ports.StateStore.
type Store struct {
	mu           sync.Mutex
	logger       *slog.Logger
	path         string
	fallbackPath string
	state        *domain.SystemState
}

// NewStore loads existing state from path, or starts fresh when the file is
// missing. A file that exists but does not parse is quarantined under a
// timestamped name and replaced with a fresh state, so one corrupt write can
// never brick the scheduler.
func NewStore(logger *slog.Logger, path, fallbackPath string) (*Store, error) {
	s := &Store{
		logger:       logger,
		path:         path,
		fallbackPath: fallbackPath,
	}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.state = domain.NewSystemState()
	case err != nil:
		return nil, &domain.PersistenceError{Path: path, Err: err}
	default:
		state := domain.NewSystemState()
		if jsonErr := json.Unmarshal(raw, state); jsonErr != nil {
			quarantined := s.quarantine(raw)
			logger.Warn("state file corrupt, starting fresh",
				"path", path, "quarantined_as", quarantined, "error", jsonErr)
			state = domain.NewSystemState()
		}
		if state.Specs == nil {
			state.Specs = make(map[string]*domain.SpecificationState)
		}
		s.state = state
	}

	return s, nil
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() domain.SystemState {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := *s.state
	out.Specs = make(map[string]*domain.SpecificationState, len(s.state.Specs))
	for name, spec := range s.state.Specs {
		cp := *spec
		cp.Tasks = make(map[string]domain.Task, len(spec.Tasks))
		for id, task := range spec.Tasks {
			cp.Tasks[id] = task
		}
		cp.CompletedPhases = append([]domain.PhaseRecord(nil), spec.CompletedPhases...)
		out.Specs[name] = &cp
	}
	return out
}

func (s *Store) PutSpec(spec *domain.SpecificationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	spec.UpdatedAt = time.Now()
	s.state.Specs[spec.Name] = spec
	return s.persistLocked()
}

func (s *Store) GetSpec(name string) (*domain.SpecificationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	spec, ok := s.state.Specs[name]
	if !ok {
		return nil, domain.ErrSpecNotFound
	}

	cp := *spec
	cp.Tasks = make(map[string]domain.Task, len(spec.Tasks))
	for id, task := range spec.Tasks {
		cp.Tasks[id] = task
	}
	cp.CompletedPhases = append([]domain.PhaseRecord(nil), spec.CompletedPhases...)
	return &cp, nil
}

func (s *Store) UpdateTask(specName string, task domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	spec, ok := s.state.Specs[specName]
	if !ok {
		return domain.ErrSpecNotFound
	}
	spec.Tasks[task.ID] = task
	spec.UpdatedAt = time.Now()
	return s.persistLocked()
}

func (s *Store) CompletePhase(specName string, phase, next domain.Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	spec, ok := s.state.Specs[specName]
	if !ok {
		return domain.ErrSpecNotFound
	}
	spec.CompletedPhases = append(spec.CompletedPhases, domain.PhaseRecord{
		Phase:       phase,
		CompletedAt: time.Now(),
	})
	spec.CurrentPhase = next
	spec.UpdatedAt = time.Now()
	return s.persistLocked()
}

func (s *Store) RecordExecution(concurrent int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.TotalTasksExecuted++
	if concurrent > s.state.PeakConcurrentTasks {
		s.state.PeakConcurrentTasks = concurrent
	}
	return s.persistLocked()
}

// persistLocked writes the state atomically to the primary path and falls
// back to the secondary path once when the primary write fails. Callers must
// hold s.mu.
func (s *Store) persistLocked() error {
	s.state.LastUpdated = time.Now()

	raw, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	if err := writeAtomic(s.path, raw); err != nil {
		if s.fallbackPath == "" {
			return &domain.PersistenceError{Path: s.path, Err: err}
		}
		s.logger.Warn("primary state write failed, trying fallback path",
			"path", s.path, "fallback", s.fallbackPath, "error", err)
		if fbErr := writeAtomic(s.fallbackPath, raw); fbErr != nil {
			return &domain.PersistenceError{Path: s.fallbackPath, Err: fbErr}
		}
	}
	return nil
}

// writeAtomic writes data next to path and renames it into place.
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// quarantine moves the unparseable payload aside under a timestamped name so
// operators can inspect it. Returns the quarantine path, or "" when even
// that write failed.
func (s *Store) quarantine(raw []byte) string {
	name := fmt.Sprintf("%s.corrupt-%s", s.path, time.Now().Format("20060102T150405"))
	if err := os.WriteFile(name, raw, 0o644); err != nil {
		s.logger.Error("failed to quarantine corrupt state file", "path", name, "error", err)
		return ""
	}
	return name
}
