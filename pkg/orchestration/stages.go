package orchestration

import (
	"context"
	"fmt"
	"time"

	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/guardrail"
	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/orchestration/types"
)

// DefaultMaxRetries bounds validation retries; a run makes at most
// DefaultMaxRetries+1 generator calls.
const DefaultMaxRetries = 3

// NextStage is the VALIDATE transition: SUCCESS on a valid verdict, another
// GENERATE while retries remain, FAILED once attempt has reached maxRetries.
func NextStage(attempt, maxRetries int, verdict guardrail.Verdict) types.Stage {
	switch {
	case verdict.Valid:
		return types.StageSuccess
	case attempt < maxRetries:
		return types.StageGenerate
	default:
		return types.StageFailed
	}
}

type stageResult[T any] struct {
	value T
	err   error
}

// runStage runs fn as a single cancellable task bounded by timeout and waits
// for it. A zero timeout only inherits ctx's deadline.
func runStage[T any](ctx context.Context, stage types.Stage, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan stageResult[T], 1)
	go func() {
		v, err := fn(ctx)
		done <- stageResult[T]{value: v, err: err}
	}()

	select {
	case res := <-done:
		return res.value, res.err
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("stage %s did not complete: %w", stage, ctx.Err())
	}
}
