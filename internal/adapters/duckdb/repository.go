// Package duckdb persists run history in an embedded DuckDB database.
package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/marcboeker/go-duckdb"

	"specsched/internal/core/domain"
	"specsched/internal/core/ports"
)

type Repository struct {
	db *sql.DB
}

var _ ports.HistoryRepository = (*Repository)(nil)

// NewRepository opens (or creates) the database at path and ensures the
// schema exists. Pass an empty path for an in-memory database.
func NewRepository(path string) (*Repository, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}

	r := &Repository{db: db}
	if err := r.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) initSchema() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id              VARCHAR PRIMARY KEY,
			spec_name       VARCHAR NOT NULL,
			success         BOOLEAN NOT NULL,
			completed_count INTEGER NOT NULL,
			failed_count    INTEGER NOT NULL,
			blocked_count   INTEGER NOT NULL,
			skipped_count   INTEGER NOT NULL,
			batches         VARCHAR,
			started_at      TIMESTAMP NOT NULL,
			finished_at     TIMESTAMP NOT NULL
		);
		CREATE TABLE IF NOT EXISTS task_events (
			run_id           VARCHAR NOT NULL,
			spec_name        VARCHAR NOT NULL,
			task_id          VARCHAR NOT NULL,
			agent            VARCHAR,
			success          BOOLEAN NOT NULL,
			duration_seconds DOUBLE NOT NULL,
			error            VARCHAR,
			ts               TIMESTAMP NOT NULL
		);`)
	if err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// SaveRun upserts a run summary. Re-saving the same run id (a retried
// persistence call) replaces the row instead of duplicating it.
func (r *Repository) SaveRun(ctx context.Context, run domain.RunSummary) error {
	batchesJSON, _ := json.Marshal(run.Batches)

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO runs (id, spec_name, success, completed_count, failed_count,
		                  blocked_count, skipped_count, batches, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			success         = excluded.success,
			completed_count = excluded.completed_count,
			failed_count    = excluded.failed_count,
			blocked_count   = excluded.blocked_count,
			skipped_count   = excluded.skipped_count,
			batches         = excluded.batches,
			finished_at     = excluded.finished_at`,
		run.RunID,
		run.SpecName,
		run.Success,
		run.CompletedCount,
		run.FailedCount,
		run.BlockedCount,
		run.SkippedCount,
		string(batchesJSON),
		run.StartedAt,
		run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}
	return nil
}

func (r *Repository) SaveTaskEvent(ctx context.Context, event domain.TaskEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO task_events (run_id, spec_name, task_id, agent, success,
		                         duration_seconds, error, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.RunID,
		event.SpecName,
		event.TaskID,
		event.Agent,
		event.Success,
		event.DurationSeconds,
		event.Error,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert task event: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (r *Repository) ListRuns(ctx context.Context, limit int) ([]domain.RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, spec_name, success, completed_count, failed_count,
		       blocked_count, skipped_count, batches, started_at, finished_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.RunSummary
	for rows.Next() {
		var run domain.RunSummary
		var batchesJSON sql.NullString
		if err := rows.Scan(
			&run.RunID,
			&run.SpecName,
			&run.Success,
			&run.CompletedCount,
			&run.FailedCount,
			&run.BlockedCount,
			&run.SkippedCount,
			&batchesJSON,
			&run.StartedAt,
			&run.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if batchesJSON.Valid && batchesJSON.String != "" {
			if err := json.Unmarshal([]byte(batchesJSON.String), &run.Batches); err != nil {
				return nil, fmt.Errorf("decode batches for run %s: %w", run.RunID, err)
			}
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListTaskEvents returns a run's task events in execution order.
func (r *Repository) ListTaskEvents(ctx context.Context, runID string) ([]domain.TaskEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT run_id, spec_name, task_id, agent, success, duration_seconds, error, ts
		FROM task_events
		WHERE run_id = ?
		ORDER BY ts ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("query task events: %w", err)
	}
	defer rows.Close()

	var events []domain.TaskEvent
	for rows.Next() {
		var ev domain.TaskEvent
		var agent, errMsg sql.NullString
		if err := rows.Scan(
			&ev.RunID,
			&ev.SpecName,
			&ev.TaskID,
			&agent,
			&ev.Success,
			&ev.DurationSeconds,
			&errMsg,
			&ev.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan task event: %w", err)
		}
		ev.Agent = agent.String
		ev.Error = errMsg.String
		events = append(events, ev)
	}
	return events, rows.Err()
}
