// Package orchestration runs the generation pipeline: retrieval, planning,
// generation and a bounded guardrail retry loop, one run per project.
package orchestration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/events"
	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/guardrail"
	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/orchestration/types"
	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/store"
)

// EventBus is the per-project event stream the controller drives.
type EventBus interface {
	Publisher
	Open(projectID, runID string)
	Finish(projectID string)
}

// RunHistory persists finished runs.
type RunHistory interface {
	SaveRun(ctx context.Context, rec store.RunRecord) error
	LastPrompt(ctx context.Context, projectID string) (prompt, mode string, err error)
}

// Metrics receives run and attempt counts. All methods must be cheap.
type Metrics interface {
	RunStarted(mode string)
	AttemptRejected(mode string)
	StageCompleted(stage string, d time.Duration)
	RunFinished(mode, outcome, reason string, attempts int, d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) RunStarted(string) {}
func (nopMetrics) AttemptRejected(string) {}
func (nopMetrics) StageCompleted(string, time.Duration) {}
func (nopMetrics) RunFinished(string, string, string, int, time.Duration) {}

// Dependencies are the collaborators of a Controller. History and Metrics
// are optional.
type Dependencies struct {
	Retriever Retriever
	Composer  PlanComposer
	Generator Generator
	Validator *guardrail.Validator
	Committer *Committer
	Events    EventBus
	History   RunHistory
	Metrics   Metrics
}

// Options tunes the pipeline.
type Options struct {
	MaxRetries   int
	TopK         int
	StageTimeout time.Duration
}

// StartRequest asks for a new run.
type StartRequest struct {
	ProjectID string     `json:"projectId"`
	Prompt    string     `json:"prompt"`
	Mode      types.Mode `json:"mode,omitempty"`
}

// Result is the outcome of a successful run.
type Result struct {
	Run     types.Run        `json:"run"`
	Plan    *types.UIPlan    `json:"plan,omitempty"`
	Files   []types.CodeFile `json:"files,omitempty"`
	Message string           `json:"message"`
}

type outcome struct {
	result *Result
	err    error
}

type runState struct {
	run  types.Run
	done chan outcome
}

// Controller owns the run registry. At most one run per project is in
// flight; runs execute on the controller's lifetime context, so callers that
// go away do not cancel them.
type Controller struct {
	deps   Dependencies
	opts   Options
	logger *zap.Logger

	mu         sync.Mutex
	active     map[string]*runState
	lastPrompt map[string]StartRequest
	closed     bool

	lifetime context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New validates deps and creates a controller.
func New(deps Dependencies, opts Options, logger *zap.Logger) (*Controller, error) {
	switch {
	case deps.Retriever == nil:
		return nil, errors.New("orchestration: retriever is required")
	case deps.Composer == nil:
		return nil, errors.New("orchestration: plan composer is required")
	case deps.Generator == nil:
		return nil, errors.New("orchestration: generator is required")
	case deps.Validator == nil:
		return nil, errors.New("orchestration: validator is required")
	case deps.Events == nil:
		return nil, errors.New("orchestration: event bus is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Committer == nil {
		deps.Committer = NewCommitter(nil, deps.Events, nil, "", logger)
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	if opts.MaxRetries < 0 {
		return nil, fmt.Errorf("orchestration: max retries must not be negative, got %d", opts.MaxRetries)
	}
	if opts.TopK <= 0 {
		opts.TopK = 3
	}

	lifetime, cancel := context.WithCancel(context.Background())
	return &Controller{
		deps:       deps,
		opts:       opts,
		logger:     logger,
		active:     make(map[string]*runState),
		lastPrompt: make(map[string]StartRequest),
		lifetime:   lifetime,
		cancel:     cancel,
	}, nil
}

// MaxRetries returns the validation retry bound.
func (c *Controller) MaxRetries() int { return c.opts.MaxRetries }

// TopK returns the number of references retrieved per run.
func (c *Controller) TopK() int { return c.opts.TopK }

// Start begins a run and returns immediately. Progress is reported on the
// project's event stream; the first event is node_change RETRIEVE.
func (c *Controller) Start(ctx context.Context, req StartRequest) (types.Run, error) {
	st, err := c.launch(req, true)
	if err != nil {
		return types.Run{}, err
	}
	return st.run.Clone(), nil
}

// Execute runs the pipeline and waits for its outcome. If ctx ends first the
// run keeps going and ctx's error is returned.
func (c *Controller) Execute(ctx context.Context, req StartRequest) (*Result, error) {
	st, err := c.launch(req, true)
	if err != nil {
		return nil, err
	}
	select {
	case out := <-st.done:
		return out.result, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Repair starts a corrective run for a project whose materialized output
// failed to build, reusing the project's last prompt and mode.
func (c *Controller) Repair(ctx context.Context, projectID string, buildErrors []string) error {
	c.mu.Lock()
	prev, ok := c.lastPrompt[projectID]
	c.mu.Unlock()

	if !ok && c.deps.History != nil {
		prompt, mode, err := c.deps.History.LastPrompt(ctx, projectID)
		if err == nil {
			prev = StartRequest{ProjectID: projectID, Prompt: prompt, Mode: types.Mode(mode)}
			ok = true
		} else if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("repair %s: %w", projectID, err)
		}
	}
	if !ok {
		return fmt.Errorf("repair %s: %w", projectID, ErrNoPriorRun)
	}

	req := StartRequest{
		ProjectID: projectID,
		Prompt:    buildRepairPrompt(prev.Prompt, buildErrors),
		Mode:      prev.Mode,
	}
	st, err := c.launch(req, false)
	if err != nil {
		return err
	}
	c.logger.Info("repair run started",
		zap.String("project", projectID),
		zap.String("run", st.run.ID),
		zap.Int("build_errors", len(buildErrors)))
	return nil
}

// Active returns a snapshot of the project's in-flight run.
func (c *Controller) Active(projectID string) (types.Run, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.active[projectID]
	if !ok {
		return types.Run{}, false
	}
	return st.run.Clone(), true
}

// ActiveRuns returns snapshots of every in-flight run.
func (c *Controller) ActiveRuns() []types.Run {
	c.mu.Lock()
	defer c.mu.Unlock()
	runs := make([]types.Run, 0, len(c.active))
	for _, st := range c.active {
		runs = append(runs, st.run.Clone())
	}
	return runs
}

// Shutdown refuses new runs and waits for in-flight ones. When ctx ends
// first, in-flight runs are cancelled and Shutdown returns ctx's error once
// they have unwound.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	idle := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(idle)
	}()

	select {
	case <-idle:
		c.cancel()
		return nil
	case <-ctx.Done():
		c.cancel()
		<-idle
		return ctx.Err()
	}
}

func (c *Controller) launch(req StartRequest, remember bool) (*runState, error) {
	req.ProjectID = strings.TrimSpace(req.ProjectID)
	if req.ProjectID == "" {
		return nil, errors.New("project id is required")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, errors.New("prompt is required")
	}
	mode, err := types.ParseMode(string(req.Mode))
	if err != nil {
		return nil, err
	}
	req.Mode = mode

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrShuttingDown
	}
	if cur, ok := c.active[req.ProjectID]; ok {
		c.mu.Unlock()
		return nil, &ConflictError{ProjectID: req.ProjectID, RunID: cur.run.ID, Stage: cur.run.Stage}
	}
	st := &runState{
		run: types.Run{
			ID:        uuid.NewString(),
			ProjectID: req.ProjectID,
			Prompt:    req.Prompt,
			Mode:      req.Mode,
			Stage:     types.StageRetrieve,
			StartedAt: time.Now(),
		},
		done: make(chan outcome, 1),
	}
	c.active[req.ProjectID] = st
	if remember {
		c.lastPrompt[req.ProjectID] = req
	}
	c.wg.Add(1)
	c.mu.Unlock()

	c.deps.Events.Open(req.ProjectID, st.run.ID)
	c.deps.Events.Publish(events.NodeChange(req.ProjectID, st.run.ID, string(types.StageRetrieve)))
	c.deps.Metrics.RunStarted(string(req.Mode))
	c.logger.Info("run started",
		zap.String("project", req.ProjectID),
		zap.String("run", st.run.ID),
		zap.String("mode", string(req.Mode)))

	go func() {
		defer c.wg.Done()
		res, err := c.execute(c.lifetime, st)
		c.finish(st, err)
		st.done <- outcome{result: res, err: err}
	}()
	return st, nil
}

// snapshot returns a copy of the run under the registry lock.
func (c *Controller) snapshot(st *runState) types.Run {
	c.mu.Lock()
	defer c.mu.Unlock()
	return st.run.Clone()
}

func (c *Controller) enter(st *runState, stage types.Stage) {
	c.mu.Lock()
	st.run.Stage = stage
	c.mu.Unlock()
	c.deps.Events.Publish(events.NodeChange(st.run.ProjectID, st.run.ID, string(stage)))
}

func (c *Controller) execute(ctx context.Context, st *runState) (*Result, error) {
	projectID, runID := st.run.ProjectID, st.run.ID
	prompt, mode := st.run.Prompt, st.run.Mode

	began := time.Now()
	refs, err := runStage(ctx, types.StageRetrieve, c.opts.StageTimeout, func(ctx context.Context) ([]types.Reference, error) {
		return c.deps.Retriever.Retrieve(ctx, prompt, c.opts.TopK)
	})
	if err != nil {
		return nil, &RunError{RunID: runID, Reason: ReasonRetrieval, Stage: types.StageRetrieve, Err: err}
	}
	c.deps.Metrics.StageCompleted(string(types.StageRetrieve), time.Since(began))

	c.enter(st, types.StagePlan)
	began = time.Now()
	plan, err := runStage(ctx, types.StagePlan, c.opts.StageTimeout, func(ctx context.Context) (types.Plan, error) {
		return c.deps.Composer.Compose(ctx, prompt, refs)
	})
	if err != nil {
		return nil, &RunError{RunID: runID, Reason: ReasonGeneration, Stage: types.StagePlan, Err: err}
	}
	c.deps.Metrics.StageCompleted(string(types.StagePlan), time.Since(began))

	for {
		c.enter(st, types.StageGenerate)
		run := c.snapshot(st)
		input := GenerateInput{
			Prompt:      prompt,
			Plan:        plan,
			Mode:        mode,
			PriorErrors: run.AccumulatedErrors,
			Attempt:     run.Attempt,
		}
		began = time.Now()
		cand, err := runStage(ctx, types.StageGenerate, c.opts.StageTimeout, func(ctx context.Context) (types.Candidate, error) {
			return c.deps.Generator.Generate(ctx, input)
		})
		if err != nil {
			return nil, &RunError{RunID: runID, Reason: ReasonGeneration, Stage: types.StageGenerate, Err: err}
		}
		c.deps.Metrics.StageCompleted(string(types.StageGenerate), time.Since(began))
		if cand.Mode == "" {
			cand.Mode = mode
		}

		c.enter(st, types.StageValidate)
		verdict := c.deps.Validator.Validate(cand)
		next := NextStage(run.Attempt, c.opts.MaxRetries, verdict)

		if next == types.StageSuccess {
			return c.succeed(ctx, st, cand)
		}

		c.mu.Lock()
		st.run.AccumulatedErrors = append(st.run.AccumulatedErrors, verdict.Summary())
		attempt := st.run.Attempt
		if next == types.StageGenerate {
			st.run.Attempt++
		}
		accumulated := append([]string(nil), st.run.AccumulatedErrors...)
		c.mu.Unlock()
		c.deps.Metrics.AttemptRejected(string(mode))

		if next == types.StageFailed {
			return nil, &RunError{
				RunID:  runID,
				Reason: ReasonValidationExhausted,
				Stage:  types.StageValidate,
				Errors: accumulated,
			}
		}

		c.deps.Events.Publish(events.Log(projectID, runID, fmt.Sprintf(
			"attempt %d of %d rejected by guardrail: %s; retrying",
			attempt+1, c.opts.MaxRetries+1, verdict.Summary())))
		c.logger.Info("candidate rejected; retrying",
			zap.String("project", projectID),
			zap.String("run", runID),
			zap.Int("attempt", attempt),
			zap.Strings("errors", verdict.Errors))
	}
}

func (c *Controller) succeed(ctx context.Context, st *runState, cand types.Candidate) (*Result, error) {
	files, plan, err := c.deps.Committer.Materialize(cand)
	if err != nil {
		return nil, &RunError{RunID: st.run.ID, Reason: ReasonCommit, Stage: types.StageValidate, Err: err}
	}

	run := c.snapshot(st)
	var msg string
	if plan != nil {
		msg = fmt.Sprintf("generated %d component(s) after %d attempt(s)", len(plan.Components), run.Attempt+1)
	} else {
		msg = fmt.Sprintf("generated %d file(s) after %d attempt(s)", len(files), run.Attempt+1)
	}
	if err := c.deps.Committer.Commit(ctx, run, files); err != nil {
		return nil, &RunError{RunID: run.ID, Reason: ReasonCommit, Stage: types.StageValidate, Err: err}
	}
	c.deps.Events.Publish(events.Log(run.ProjectID, run.ID, msg))

	now := time.Now()
	c.mu.Lock()
	st.run.Stage = types.StageSuccess
	st.run.FinishedAt = &now
	run = st.run.Clone()
	c.mu.Unlock()
	c.deps.Events.Publish(events.NodeChange(run.ProjectID, run.ID, string(types.StageSuccess)))

	return &Result{Run: run, Plan: plan, Files: files, Message: msg}, nil
}

// finish publishes the failure events when needed, unregisters the run and
// records its history.
func (c *Controller) finish(st *runState, runErr error) {
	if runErr != nil {
		now := time.Now()
		c.mu.Lock()
		st.run.Stage = types.StageFailed
		st.run.FinishedAt = &now
		c.mu.Unlock()

		var re *RunError
		if !errors.As(runErr, &re) {
			re = &RunError{RunID: st.run.ID, Reason: ReasonGeneration, Err: runErr}
		}
		c.deps.Events.Publish(events.NodeChange(st.run.ProjectID, st.run.ID, string(types.StageFailed)))
		c.deps.Events.Publish(events.Log(st.run.ProjectID, st.run.ID,
			fmt.Sprintf("run failed (%s): %s", re.Reason, strings.Join(re.Messages(), "; "))))
		c.logger.Warn("run failed",
			zap.String("project", st.run.ProjectID),
			zap.String("run", st.run.ID),
			zap.String("reason", string(re.Reason)),
			zap.Error(runErr))
	}

	c.mu.Lock()
	run := st.run.Clone()
	delete(c.active, run.ProjectID)
	c.mu.Unlock()
	c.deps.Events.Finish(run.ProjectID)

	rec := store.RunRecord{
		ID:         run.ID,
		ProjectID:  run.ProjectID,
		Prompt:     run.Prompt,
		Mode:       string(run.Mode),
		Outcome:    string(run.Stage),
		Attempts:   run.Attempt + 1,
		Errors:     run.AccumulatedErrors,
		StartedAt:  run.StartedAt,
		FinishedAt: time.Now(),
	}
	if run.FinishedAt != nil {
		rec.FinishedAt = *run.FinishedAt
	}
	var re *RunError
	if errors.As(runErr, &re) {
		rec.Reason = string(re.Reason)
		if len(rec.Errors) == 0 && re.Err != nil {
			rec.Errors = []string{re.Err.Error()}
		}
	}
	c.deps.Metrics.RunFinished(rec.Mode, rec.Outcome, rec.Reason, rec.Attempts, rec.FinishedAt.Sub(rec.StartedAt))

	if c.deps.History != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.deps.History.SaveRun(ctx, rec); err != nil {
			c.logger.Warn("failed to save run history", zap.String("run", run.ID), zap.Error(err))
		}
	}
	if runErr == nil {
		c.logger.Info("run succeeded",
			zap.String("project", run.ProjectID),
			zap.String("run", run.ID),
			zap.Int("attempts", rec.Attempts))
	}
}
