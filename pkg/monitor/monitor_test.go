package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/events"
)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(ev events.Event) events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return ev
}

func (r *recorder) count(kind events.Kind, status string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == kind && (status == "" || ev.Status == status) {
			n++
		}
	}
	return n
}

func TestParseStatus(t *testing.T) {
	cases := map[string]Status{
		"PASS":    StatusPass,
		"fail":    StatusFail,
		"pending": StatusPending,
		"Running": StatusRunning,
	}
	for in, want := range cases {
		got, err := ParseStatus(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseStatus("exploded")
	assert.Error(t, err)
}

func TestCircuitBreakerTripsAfterThreeFailures(t *testing.T) {
	rec := &recorder{}
	m := New(rec, 3, nil)

	var repairs int
	m.SetRemediator(func(ctx context.Context, projectID string, errs []string) error {
		repairs++
		return nil
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, m.Report(ctx, "p1", StatusFail, []string{"compile error"}))
	}

	assert.Equal(t, 2, rec.count(events.KindPulseStatus, events.PulseHealing))
	assert.Equal(t, 1, rec.count(events.KindAlert, events.AlertCircuitBreaker))
	assert.Equal(t, 2, repairs)

	snap := m.Snapshot("p1")
	assert.True(t, snap.CircuitOpen)
	assert.Equal(t, 3, snap.ConsecutiveFailures)
	assert.Equal(t, StatusFail, snap.Build.Status)

	// Further failures stay quiet until a human restart.
	require.NoError(t, m.Report(ctx, "p1", StatusFail, []string{"compile error"}))
	assert.Equal(t, 2, rec.count(events.KindPulseStatus, events.PulseHealing))
	assert.Equal(t, 1, rec.count(events.KindAlert, events.AlertCircuitBreaker))
	assert.Equal(t, 2, repairs)
}

func TestPassResetsCounterButNotBreaker(t *testing.T) {
	rec := &recorder{}
	m := New(rec, 3, nil)
	ctx := context.Background()

	require.NoError(t, m.Report(ctx, "p1", StatusFail, nil))
	require.NoError(t, m.Report(ctx, "p1", StatusFail, nil))
	require.NoError(t, m.Report(ctx, "p1", StatusPass, nil))
	assert.Equal(t, 0, m.Snapshot("p1").ConsecutiveFailures)

	require.NoError(t, m.Report(ctx, "p1", StatusFail, nil))
	require.NoError(t, m.Report(ctx, "p1", StatusFail, nil))
	assert.False(t, m.Snapshot("p1").CircuitOpen)
	require.NoError(t, m.Report(ctx, "p1", StatusFail, nil))
	assert.True(t, m.Snapshot("p1").CircuitOpen)

	require.NoError(t, m.Report(ctx, "p1", StatusPass, nil))
	snap := m.Snapshot("p1")
	assert.True(t, snap.CircuitOpen)
	assert.Equal(t, 0, snap.ConsecutiveFailures)
}

func TestRestartReenablesRemediation(t *testing.T) {
	rec := &recorder{}
	m := New(rec, 2, nil)
	ctx := context.Background()

	require.NoError(t, m.Report(ctx, "p1", StatusFail, nil))
	require.NoError(t, m.Report(ctx, "p1", StatusFail, nil))
	require.True(t, m.Snapshot("p1").CircuitOpen)

	m.Restart("p1")
	snap := m.Snapshot("p1")
	assert.False(t, snap.CircuitOpen)
	assert.Equal(t, 0, snap.ConsecutiveFailures)

	require.NoError(t, m.Report(ctx, "p1", StatusFail, nil))
	assert.Equal(t, 2, rec.count(events.KindPulseStatus, events.PulseHealing))
}

func TestProjectsAreIndependent(t *testing.T) {
	rec := &recorder{}
	m := New(rec, 1, nil)
	ctx := context.Background()

	require.NoError(t, m.Report(ctx, "a", StatusFail, nil))
	assert.True(t, m.Snapshot("a").CircuitOpen)
	assert.False(t, m.Snapshot("b").CircuitOpen)

	require.NoError(t, m.Report(ctx, "b", StatusPass, nil))
	assert.Equal(t, StatusPass, m.Snapshot("b").Build.Status)
}

func TestObserveCommitSetsPending(t *testing.T) {
	rec := &recorder{}
	m := New(rec, 3, nil)

	require.NoError(t, m.Report(context.Background(), "p1", StatusPass, nil))
	m.ObserveCommit("p1", []string{"ui-plan.json"})

	assert.Equal(t, StatusPending, m.Snapshot("p1").Build.Status)
	assert.Equal(t, 1, rec.count(events.KindBuildStatus, string(StatusPending)))
}

func TestRemediatorErrorDoesNotFailReport(t *testing.T) {
	m := New(&recorder{}, 3, nil)
	m.SetRemediator(func(context.Context, string, []string) error {
		return errors.New("run already active")
	})
	assert.NoError(t, m.Report(context.Background(), "p1", StatusFail, []string{"boom"}))
}

func TestReportRejectsBadInput(t *testing.T) {
	m := New(&recorder{}, 3, nil)
	assert.Error(t, m.Report(context.Background(), "", StatusPass, nil))
	assert.Error(t, m.Report(context.Background(), "p1", Status("nope"), nil))
}

func TestReportNormalizesStatusSpelling(t *testing.T) {
	rec := &recorder{}
	m := New(rec, 2, nil)
	ctx := context.Background()

	require.NoError(t, m.Report(ctx, "p1", Status("fail"), []string{"compile error"}))
	snap := m.Snapshot("p1")
	assert.Equal(t, StatusFail, snap.Build.Status)
	assert.Equal(t, []string{"compile error"}, snap.Build.Errors)
	assert.Equal(t, 1, snap.ConsecutiveFailures)
	assert.Equal(t, 1, rec.count(events.KindBuildStatus, string(StatusFail)))

	require.NoError(t, m.Report(ctx, "p1", Status("Failed"), nil))
	assert.True(t, m.Snapshot("p1").CircuitOpen)
	assert.Equal(t, 1, rec.count(events.KindAlert, events.AlertCircuitBreaker))

	require.NoError(t, m.Report(ctx, "p1", Status("pass"), nil))
	assert.Equal(t, StatusPass, m.Snapshot("p1").Build.Status)
	assert.Equal(t, 0, m.Snapshot("p1").ConsecutiveFailures)
}

func TestBuildErrorsAreCopied(t *testing.T) {
	m := New(&recorder{}, 3, nil)
	errs := []string{"first"}
	require.NoError(t, m.Report(context.Background(), "p1", StatusFail, errs))
	errs[0] = "mutated"
	assert.Equal(t, []string{"first"}, m.Snapshot("p1").Build.Errors)
}
