// Package audit appends task outcomes to a JSON-lines log.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"specsched/internal/core/domain"
)

// Log is an append-only JSONL writer, one task event per line. It implements
// ports.AuditSink. Lines are flushed per event so a crash loses at most the
// event being written.
type Log struct {
	mu   sync.Mutex
	path string
}

func NewLog(path string) *Log {
	return &Log{path: path}
}

func (l *Log) Append(event domain.TaskEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return &domain.PersistenceError{Path: l.path, Err: err}
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return &domain.PersistenceError{Path: l.path, Err: err}
	}
	defer f.Close()

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	line = append(line, '\n')
	if _, err := f.Write(line); err != nil {
		return &domain.PersistenceError{Path: l.path, Err: err}
	}
	return nil
}

// Replay reads every event back in append order. Lines that do not parse are
// skipped: a torn final line from a crash must not hide the rest of the log.
func (l *Log) Replay() ([]domain.TaskEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &domain.PersistenceError{Path: l.path, Err: err}
	}
	defer f.Close()

	var events []domain.TaskEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var ev domain.TaskEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return events, &domain.PersistenceError{Path: l.path, Err: err}
	}
	return events, nil
}
