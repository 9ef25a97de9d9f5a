package orchestration

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/events"
	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/orchestration/types"
	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/store"
)

// DefaultPlanFileName is where a UI plan is materialized in the project file map.
const DefaultPlanFileName = "ui-plan.json"

// FileStore is the durable ProjectFileMap.
type FileStore interface {
	CommitFiles(ctx context.Context, projectID, runID string, files []store.FileWrite) ([]store.Change, error)
}

// Publisher emits events onto a project stream.
type Publisher interface {
	Publish(events.Event) events.Event
}

// CommitObserver is told about every materialized batch of files.
type CommitObserver interface {
	ObserveCommit(projectID string, paths []string)
}

// Committer materializes validated candidates. It is the only writer of the
// project file map.
type Committer struct {
	files        FileStore
	pub          Publisher
	observer     CommitObserver
	planFileName string
	logger       *zap.Logger
}

// NewCommitter wires a committer. files and observer may be nil.
func NewCommitter(files FileStore, pub Publisher, observer CommitObserver, planFileName string, logger *zap.Logger) *Committer {
	if planFileName == "" {
		planFileName = DefaultPlanFileName
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Committer{
		files:        files,
		pub:          pub,
		observer:     observer,
		planFileName: planFileName,
		logger:       logger,
	}
}

// Materialize turns a validated candidate into the files it commits.
func (c *Committer) Materialize(cand types.Candidate) ([]types.CodeFile, *types.UIPlan, error) {
	switch cand.Mode {
	case types.ModeCode:
		bundle, err := cand.DecodeCode()
		if err != nil {
			return nil, nil, err
		}
		return bundle.Files, nil, nil
	default:
		plan, err := cand.DecodePlan()
		if err != nil {
			return nil, nil, err
		}
		data, err := json.MarshalIndent(plan, "", "  ")
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode ui plan: %w", err)
		}
		return []types.CodeFile{{FileName: c.planFileName, Code: string(data)}}, plan, nil
	}
}

// Commit persists files as one batch and then emits one file_commit event per
// file, in order. Nothing is published when the store rejects the batch.
func (c *Committer) Commit(ctx context.Context, run types.Run, files []types.CodeFile) error {
	var changes []store.Change
	if c.files != nil {
		writes := make([]store.FileWrite, len(files))
		for i, f := range files {
			writes[i] = store.FileWrite{Path: f.FileName, Content: f.Code}
		}
		var err error
		changes, err = c.files.CommitFiles(ctx, run.ProjectID, run.ID, writes)
		if err != nil {
			return fmt.Errorf("commit %d file(s): %w", len(files), err)
		}
	}

	paths := make([]string, 0, len(files))
	for i, f := range files {
		if i < len(changes) && changes[i].Replaced() {
			change := changes[i]
			c.logger.Debug("replaced project file",
				zap.String("project", run.ProjectID),
				zap.String("path", f.FileName),
				zap.Int("additions", change.Additions),
				zap.Int("deletions", change.Deletions))
			c.pub.Publish(events.Log(run.ProjectID, run.ID,
				fmt.Sprintf("updated %s (+%d -%d)", f.FileName, change.Additions, change.Deletions)))
		}
		c.pub.Publish(events.FileCommit(run.ProjectID, run.ID, f.FileName, f.Code))
		paths = append(paths, f.FileName)
	}
	if c.observer != nil && len(paths) > 0 {
		c.observer.ObserveCommit(run.ProjectID, paths)
	}
	return nil
}
