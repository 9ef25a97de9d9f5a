package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// RunRecord is the persisted summary of a finished orchestration run.
type RunRecord struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"project_id"`
	Prompt     string    `json:"prompt"`
	Mode       string    `json:"mode"`
	Outcome    string    `json:"outcome"`
	Reason     string    `json:"reason,omitempty"`
	Attempts   int       `json:"attempts"`
	Errors     []string  `json:"errors,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// SaveRun inserts or replaces a run record.
func (s *Store) SaveRun(ctx context.Context, rec RunRecord) error {
	errs := rec.Errors
	if errs == nil {
		errs = []string{}
	}
	encoded, err := json.Marshal(errs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs
		(id, project_id, prompt, mode, outcome, reason, attempts, errors, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ProjectID, rec.Prompt, rec.Mode, rec.Outcome, rec.Reason, rec.Attempts,
		string(encoded), formatTime(rec.StartedAt), formatTime(rec.FinishedAt))
	if err != nil {
		return fmt.Errorf("save run %s: %w", rec.ID, err)
	}
	return nil
}

// Runs returns a project's runs, newest first.
func (s *Store) Runs(ctx context.Context, projectID string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, prompt, mode, outcome, reason, attempts, errors, started_at, finished_at
		FROM runs WHERE project_id = ? ORDER BY started_at DESC, id DESC LIMIT ?`,
		projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var (
			rec              = RunRecord{ProjectID: projectID}
			errs, start, end string
		)
		if err := rows.Scan(&rec.ID, &rec.Prompt, &rec.Mode, &rec.Outcome, &rec.Reason,
			&rec.Attempts, &errs, &start, &end); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(errs), &rec.Errors); err != nil {
			return nil, fmt.Errorf("decode run %s errors: %w", rec.ID, err)
		}
		if len(rec.Errors) == 0 {
			rec.Errors = nil
		}
		rec.StartedAt = parseTime(start)
		rec.FinishedAt = parseTime(end)
		runs = append(runs, rec)
	}
	return runs, rows.Err()
}

// LastPrompt returns the prompt of the project's most recent run.
func (s *Store) LastPrompt(ctx context.Context, projectID string) (string, string, error) {
	var prompt, mode string
	err := s.db.QueryRowContext(ctx,
		`SELECT prompt, mode FROM runs WHERE project_id = ? ORDER BY started_at DESC, id DESC LIMIT 1`,
		projectID).Scan(&prompt, &mode)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", ErrNotFound
	}
	if err != nil {
		return "", "", err
	}
	return prompt, mode, nil
}
