package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// File is one entry of a project's file map.
type File struct {
	Path      string    `json:"path"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Change records a single commit of a file.
type Change struct {
	ID        int64     `json:"id"`
	ProjectID string    `json:"project_id"`
	RunID     string    `json:"run_id"`
	Path      string    `json:"path"`
	Original  *string   `json:"original,omitempty"`
	Updated   string    `json:"updated"`
	Additions int       `json:"additions"`
	Deletions int       `json:"deletions"`
	CreatedAt time.Time `json:"created_at"`
}

// Replaced reports whether the commit overwrote an existing file.
func (c Change) Replaced() bool {
	return c.Original != nil
}

// FileWrite is one file of a batch commit.
type FileWrite struct {
	Path    string
	Content string
}

// CommitFile upserts path in the project's file map and records the change.
// Last write wins.
func (s *Store) CommitFile(ctx context.Context, projectID, runID, path, content string) (Change, error) {
	changes, err := s.CommitFiles(ctx, projectID, runID, []FileWrite{{Path: path, Content: content}})
	if err != nil {
		return Change{}, err
	}
	return changes[0], nil
}

// CommitFiles upserts every file in a single transaction. Either all files
// land in the project's file map or none do.
func (s *Store) CommitFiles(ctx context.Context, projectID, runID string, files []FileWrite) ([]Change, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	changes := make([]Change, 0, len(files))
	for _, f := range files {
		change, err := commitFile(ctx, tx, projectID, runID, f, now)
		if err != nil {
			return nil, err
		}
		changes = append(changes, change)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit files: %w", err)
	}
	return changes, nil
}

func commitFile(ctx context.Context, tx *sql.Tx, projectID, runID string, f FileWrite, now time.Time) (Change, error) {
	if f.Path == "" {
		return Change{}, ErrEmptyPath
	}
	change := Change{
		ProjectID: projectID,
		RunID:     runID,
		Path:      f.Path,
		Updated:   f.Content,
		CreatedAt: now,
	}

	var prev string
	err := tx.QueryRowContext(ctx,
		`SELECT content FROM project_files WHERE project_id = ? AND path = ?`,
		projectID, f.Path).Scan(&prev)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		change.Additions = len(f.Content)
	case err != nil:
		return Change{}, fmt.Errorf("read previous %s: %w", f.Path, err)
	default:
		change.Original = &prev
		change.Additions, change.Deletions = DiffStats(prev, f.Content)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO project_files (project_id, path, content, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(project_id, path) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at`,
		projectID, f.Path, f.Content, formatTime(now)); err != nil {
		return Change{}, fmt.Errorf("write %s: %w", f.Path, err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO file_changes (project_id, run_id, path, original, updated, additions, deletions, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		projectID, runID, f.Path, change.Original, f.Content, change.Additions, change.Deletions, formatTime(now))
	if err != nil {
		return Change{}, fmt.Errorf("record change %s: %w", f.Path, err)
	}
	if change.ID, err = res.LastInsertId(); err != nil {
		return Change{}, err
	}
	return change, nil
}

// Files returns the project's file map ordered by path.
func (s *Store) Files(ctx context.Context, projectID string) ([]File, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, content, updated_at FROM project_files WHERE project_id = ? ORDER BY path`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var files []File
	for rows.Next() {
		var (
			f  File
			ts string
		)
		if err := rows.Scan(&f.Path, &f.Content, &ts); err != nil {
			return nil, err
		}
		f.UpdatedAt = parseTime(ts)
		files = append(files, f)
	}
	return files, rows.Err()
}

// File returns one file of the project's map.
func (s *Store) File(ctx context.Context, projectID, path string) (File, error) {
	var (
		f  = File{Path: path}
		ts string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT content, updated_at FROM project_files WHERE project_id = ? AND path = ?`,
		projectID, path).Scan(&f.Content, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return File{}, ErrNotFound
	}
	if err != nil {
		return File{}, err
	}
	f.UpdatedAt = parseTime(ts)
	return f, nil
}

// Changes returns the most recent commits for a project, newest first.
func (s *Store) Changes(ctx context.Context, projectID string, limit int) ([]Change, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, path, original, updated, additions, deletions, created_at
		FROM file_changes WHERE project_id = ? ORDER BY id DESC LIMIT ?`,
		projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("list changes: %w", err)
	}
	defer rows.Close()

	var changes []Change
	for rows.Next() {
		var (
			c        = Change{ProjectID: projectID}
			original sql.NullString
			ts       string
		)
		if err := rows.Scan(&c.ID, &c.RunID, &c.Path, &original, &c.Updated, &c.Additions, &c.Deletions, &ts); err != nil {
			return nil, err
		}
		if original.Valid {
			c.Original = &original.String
		}
		c.CreatedAt = parseTime(ts)
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// DiffStats counts inserted and deleted characters between two revisions.
func DiffStats(original, updated string) (additions, deletions int) {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(original, updated, true)
	diffs = dmp.DiffCleanupSemantic(diffs)
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			additions += len(d.Text)
		case diffmatchpatch.DiffDelete:
			deletions += len(d.Text)
		}
	}
	return
}
