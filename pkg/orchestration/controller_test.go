package orchestration

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/events"
	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/guardrail"
	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/orchestration/types"
	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

const (
	validPlan   = `{"components":[{"id":"btn1","type":"Button","props":{"label":"Go"},"position":{"x":10,"y":20}}],"layout":{"theme":"light"}}`
	invalidPlan = `{"components":[{"id":"c1","type":"Carousel","props":{"title":"t"},"position":{"x":0,"y":0}}],"layout":{}}`
)

type stubRetriever struct {
	refs []types.Reference
	err  error
}

func (r stubRetriever) Retrieve(ctx context.Context, query string, topK int) ([]types.Reference, error) {
	return r.refs, r.err
}

type stubComposer struct{}

func (stubComposer) Compose(ctx context.Context, prompt string, refs []types.Reference) (types.Plan, error) {
	return types.Plan("layout for: " + prompt), nil
}

// scriptedGenerator returns raws in order, repeating the last one.
type scriptedGenerator struct {
	mu     sync.Mutex
	raws   []string
	inputs []GenerateInput
	block  chan struct{}
	err    error
}

func (g *scriptedGenerator) Generate(ctx context.Context, in GenerateInput) (types.Candidate, error) {
	g.mu.Lock()
	in.PriorErrors = append([]string(nil), in.PriorErrors...)
	g.inputs = append(g.inputs, in)
	n := len(g.inputs)
	g.mu.Unlock()

	if g.block != nil {
		select {
		case <-g.block:
		case <-ctx.Done():
			return types.Candidate{}, ctx.Err()
		}
	}
	if g.err != nil {
		return types.Candidate{}, g.err
	}
	raw := g.raws[len(g.raws)-1]
	if n <= len(g.raws) {
		raw = g.raws[n-1]
	}
	return types.Candidate{Mode: in.Mode, Raw: raw}, nil
}

func (g *scriptedGenerator) calls() []GenerateInput {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]GenerateInput(nil), g.inputs...)
}

type harness struct {
	ctrl  *Controller
	bus   *events.Broadcaster
	gen   *scriptedGenerator
	store *store.Store
}

func newHarness(t *testing.T, gen *scriptedGenerator, retriever Retriever) *harness {
	t.Helper()
	if retriever == nil {
		retriever = stubRetriever{refs: []types.Reference{{ID: "buttons.md#0", Content: "Buttons trigger actions."}}}
	}
	st, err := store.Open(":memory:")
	require.NoError(t, err)

	bus := events.NewBroadcaster(zap.NewNop())
	validator, err := guardrail.New(nil, nil)
	require.NoError(t, err)

	ctrl, err := New(Dependencies{
		Retriever: retriever,
		Composer:  stubComposer{},
		Generator: gen,
		Validator: validator,
		Committer: NewCommitter(st, bus, nil, "", zap.NewNop()),
		Events:    bus,
		History:   st,
	}, Options{MaxRetries: DefaultMaxRetries, TopK: 3, StageTimeout: 5 * time.Second}, zap.NewNop())
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = ctrl.Shutdown(ctx)
		bus.Shutdown()
		_ = st.Close()
	})
	return &harness{ctrl: ctrl, bus: bus, gen: gen, store: st}
}

// pending returns whatever the subscription has queued without blocking.
func pending(sub *events.Subscription) []events.Event {
	var out []events.Event
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func shape(evs []events.Event) []string {
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		switch ev.Type {
		case events.KindNodeChange:
			out = append(out, "node:"+ev.Node)
		case events.KindFileCommit:
			out = append(out, "file:"+ev.FileName)
		default:
			out = append(out, string(ev.Type))
		}
	}
	return out
}

func TestExecuteValidOnFirstAttempt(t *testing.T) {
	gen := &scriptedGenerator{raws: []string{validPlan}}
	h := newHarness(t, gen, nil)
	sub := h.bus.Subscribe("p1")
	defer sub.Close()

	res, err := h.ctrl.Execute(context.Background(), StartRequest{ProjectID: "p1", Prompt: "a login button"})
	require.NoError(t, err)
	require.NotNil(t, res.Plan)
	require.Len(t, res.Plan.Components, 1)
	assert.Equal(t, "btn1", res.Plan.Components[0].ID)
	assert.Equal(t, types.StageSuccess, res.Run.Stage)
	assert.Equal(t, 0, res.Run.Attempt)
	assert.Empty(t, res.Run.AccumulatedErrors)
	assert.Len(t, gen.calls(), 1)

	assert.Equal(t, []string{
		"node:RETRIEVE", "node:PLAN", "node:GENERATE", "node:VALIDATE",
		"file:ui-plan.json", "log", "node:SUCCESS",
	}, shape(pending(sub)))

	f, err := h.store.File(context.Background(), "p1", DefaultPlanFileName)
	require.NoError(t, err)
	assert.Contains(t, f.Content, `"btn1"`)

	_, active := h.ctrl.Active("p1")
	assert.False(t, active)
}

func TestExecuteRetriesWithPriorErrors(t *testing.T) {
	gen := &scriptedGenerator{raws: []string{invalidPlan, validPlan}}
	h := newHarness(t, gen, nil)
	sub := h.bus.Subscribe("p1")
	defer sub.Close()

	res, err := h.ctrl.Execute(context.Background(), StartRequest{ProjectID: "p1", Prompt: "a carousel"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Run.Attempt)
	assert.Equal(t, []string{"invalid type 'Carousel'"}, res.Run.AccumulatedErrors)

	calls := gen.calls()
	require.Len(t, calls, 2)
	assert.Empty(t, calls[0].PriorErrors)
	assert.Equal(t, []string{"invalid type 'Carousel'"}, calls[1].PriorErrors)
	assert.Equal(t, 1, calls[1].Attempt)

	evs := pending(sub)
	assert.Equal(t, []string{
		"node:RETRIEVE", "node:PLAN", "node:GENERATE", "node:VALIDATE",
		"log", "node:GENERATE", "node:VALIDATE",
		"file:ui-plan.json", "log", "node:SUCCESS",
	}, shape(evs))
	assert.Contains(t, evs[4].Message, "attempt 1 of 4 rejected")
}

func TestExecuteFailsAfterRetriesExhausted(t *testing.T) {
	gen := &scriptedGenerator{raws: []string{invalidPlan}}
	h := newHarness(t, gen, nil)
	sub := h.bus.Subscribe("p1")
	defer sub.Close()

	_, err := h.ctrl.Execute(context.Background(), StartRequest{ProjectID: "p1", Prompt: "a carousel"})
	require.Error(t, err)

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, ReasonValidationExhausted, runErr.Reason)
	assert.Len(t, runErr.Errors, DefaultMaxRetries+1)
	assert.Len(t, gen.calls(), DefaultMaxRetries+1)

	evs := pending(sub)
	require.GreaterOrEqual(t, len(evs), 2)
	last := evs[len(evs)-2:]
	assert.Equal(t, []string{"node:FAILED", "log"}, shape(last))
	assert.Contains(t, last[1].Message, "invalid type 'Carousel'")
	for _, ev := range evs {
		assert.NotEqual(t, events.KindFileCommit, ev.Type)
	}

	runs, err := h.store.Runs(context.Background(), "p1", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, string(types.StageFailed), runs[0].Outcome)
	assert.Equal(t, string(ReasonValidationExhausted), runs[0].Reason)
	assert.Equal(t, DefaultMaxRetries+1, runs[0].Attempts)
}

func TestAccumulatedErrorsStartEmptyPerRun(t *testing.T) {
	gen := &scriptedGenerator{raws: []string{invalidPlan}}
	h := newHarness(t, gen, nil)

	_, err := h.ctrl.Execute(context.Background(), StartRequest{ProjectID: "p1", Prompt: "first"})
	require.Error(t, err)

	gen.mu.Lock()
	gen.raws = []string{validPlan}
	gen.inputs = nil
	gen.mu.Unlock()

	res, err := h.ctrl.Execute(context.Background(), StartRequest{ProjectID: "p1", Prompt: "second"})
	require.NoError(t, err)
	assert.Empty(t, res.Run.AccumulatedErrors)
	calls := gen.calls()
	require.Len(t, calls, 1)
	assert.Empty(t, calls[0].PriorErrors)
}

func TestRetrievalFailureFailsRun(t *testing.T) {
	gen := &scriptedGenerator{raws: []string{validPlan}}
	h := newHarness(t, gen, stubRetriever{err: errors.New("corpus unavailable")})

	_, err := h.ctrl.Execute(context.Background(), StartRequest{ProjectID: "p1", Prompt: "x"})
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, ReasonRetrieval, runErr.Reason)
	assert.Equal(t, types.StageRetrieve, runErr.Stage)
	assert.Empty(t, gen.calls())
}

func TestGenerationFailureFailsRun(t *testing.T) {
	gen := &scriptedGenerator{raws: []string{validPlan}, err: errors.New("model unreachable")}
	h := newHarness(t, gen, nil)

	_, err := h.ctrl.Execute(context.Background(), StartRequest{ProjectID: "p1", Prompt: "x"})
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, ReasonGeneration, runErr.Reason)
	assert.Equal(t, types.StageGenerate, runErr.Stage)
	assert.Len(t, gen.calls(), 1)
}

func TestCommitFailureFailsRunWithoutGeneratedLog(t *testing.T) {
	gen := &scriptedGenerator{raws: []string{validPlan}}
	h := newHarness(t, gen, nil)
	h.ctrl.deps.Committer = NewCommitter(&failingFiles{}, h.bus, nil, "", zap.NewNop())
	sub := h.bus.Subscribe("p1")
	defer sub.Close()

	_, err := h.ctrl.Execute(context.Background(), StartRequest{ProjectID: "p1", Prompt: "a login button"})
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, ReasonCommit, runErr.Reason)

	evs := pending(sub)
	assert.Equal(t, []string{
		"node:RETRIEVE", "node:PLAN", "node:GENERATE", "node:VALIDATE",
		"node:FAILED", "log",
	}, shape(evs))
	assert.Contains(t, evs[len(evs)-1].Message, "run failed (commit_error)")
	for _, ev := range evs {
		assert.NotContains(t, ev.Message, "generated")
	}

	_, err = h.store.File(context.Background(), "p1", DefaultPlanFileName)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStartRejectsSecondRunForSameProject(t *testing.T) {
	gen := &scriptedGenerator{raws: []string{validPlan}, block: make(chan struct{})}
	h := newHarness(t, gen, nil)
	ctx := context.Background()

	first, err := h.ctrl.Start(ctx, StartRequest{ProjectID: "p1", Prompt: "one"})
	require.NoError(t, err)
	assert.Equal(t, types.StageRetrieve, first.Stage)

	_, err = h.ctrl.Start(ctx, StartRequest{ProjectID: "p1", Prompt: "two"})
	require.ErrorIs(t, err, ErrConflict)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, first.ID, conflict.RunID)

	_, err = h.ctrl.Start(ctx, StartRequest{ProjectID: "p2", Prompt: "other project"})
	require.NoError(t, err)
	assert.Len(t, h.ctrl.ActiveRuns(), 2)

	close(gen.block)
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, h.ctrl.Shutdown(shutdownCtx))
	assert.Empty(t, h.ctrl.ActiveRuns())

	_, err = h.ctrl.Start(ctx, StartRequest{ProjectID: "p1", Prompt: "late"})
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestStartValidatesRequest(t *testing.T) {
	h := newHarness(t, &scriptedGenerator{raws: []string{validPlan}}, nil)
	ctx := context.Background()

	_, err := h.ctrl.Start(ctx, StartRequest{Prompt: "x"})
	assert.Error(t, err)
	_, err = h.ctrl.Start(ctx, StartRequest{ProjectID: "p1", Prompt: "  "})
	assert.Error(t, err)
	_, err = h.ctrl.Start(ctx, StartRequest{ProjectID: "p1", Prompt: "x", Mode: "sketch"})
	assert.Error(t, err)
}

func TestShutdownCancelsInFlightRunsOnDeadline(t *testing.T) {
	gen := &scriptedGenerator{raws: []string{validPlan}, block: make(chan struct{})}
	h := newHarness(t, gen, nil)

	_, err := h.ctrl.Start(context.Background(), StartRequest{ProjectID: "p1", Prompt: "x"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = h.ctrl.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, h.ctrl.ActiveRuns())
}

func TestRepairReusesLastPrompt(t *testing.T) {
	gen := &scriptedGenerator{raws: []string{validPlan}}
	h := newHarness(t, gen, nil)
	ctx := context.Background()

	require.ErrorIs(t, h.ctrl.Repair(ctx, "p1", []string{"boom"}), ErrNoPriorRun)

	_, err := h.ctrl.Execute(ctx, StartRequest{ProjectID: "p1", Prompt: "a pricing table"})
	require.NoError(t, err)

	require.NoError(t, h.ctrl.Repair(ctx, "p1", []string{"TS2304: Cannot find name 'Foo'"}))
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, h.ctrl.Shutdown(shutdownCtx))

	calls := gen.calls()
	require.Len(t, calls, 2)
	assert.True(t, strings.HasPrefix(calls[1].Prompt, "a pricing table"))
	assert.Contains(t, calls[1].Prompt, "TS2304: Cannot find name 'Foo'")
}

func TestRepairFallsBackToHistory(t *testing.T) {
	gen := &scriptedGenerator{raws: []string{validPlan}}
	h := newHarness(t, gen, nil)
	ctx := context.Background()

	require.NoError(t, h.store.SaveRun(ctx, store.RunRecord{
		ID: "old", ProjectID: "p9", Prompt: "a hero section", Mode: string(types.ModeUIPlan),
		Outcome: string(types.StageSuccess), Attempts: 1,
		StartedAt: time.Now().Add(-time.Minute), FinishedAt: time.Now(),
	}))

	require.NoError(t, h.ctrl.Repair(ctx, "p9", []string{"broken"}))
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, h.ctrl.Shutdown(shutdownCtx))

	calls := gen.calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Prompt, "a hero section")
}

func TestNextStage(t *testing.T) {
	invalid := guardrail.Verdict{Errors: []string{"x"}}
	valid := guardrail.Verdict{Valid: true}

	tests := []struct {
		name    string
		attempt int
		verdict guardrail.Verdict
		want    types.Stage
	}{
		{"valid first attempt", 0, valid, types.StageSuccess},
		{"valid last attempt", 3, valid, types.StageSuccess},
		{"invalid with retries left", 0, invalid, types.StageGenerate},
		{"invalid penultimate", 2, invalid, types.StageGenerate},
		{"invalid at bound", 3, invalid, types.StageFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextStage(tt.attempt, DefaultMaxRetries, tt.verdict); got != tt.want {
				t.Fatalf("NextStage(%d) = %s, want %s", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"Here you go: {\"a\":{\"b\":2}} hope it helps", `{"a":{"b":2}}`},
		{"no json here", "no json here"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExtractJSON(tt.in))
	}
}

func TestRunStageTimesOut(t *testing.T) {
	_, err := runStage(context.Background(), types.StagePlan, 20*time.Millisecond, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
