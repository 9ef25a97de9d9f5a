package session

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/events"
)

func seq(ev events.Event, n uint64) events.Event {
	ev.Seq = n
	return ev
}

func TestApplyFollowsRunProgress(t *testing.T) {
	s := NewState("p1")
	stream := []events.Event{
		seq(events.NodeChange("p1", "r1", "RETRIEVE"), 1),
		seq(events.NodeChange("p1", "r1", "PLAN"), 2),
		seq(events.NodeChange("p1", "r1", "GENERATE"), 3),
		seq(events.NodeChange("p1", "r1", "VALIDATE"), 4),
		seq(events.FileCommit("p1", "r1", "ui-plan.json", `{"components":[]}`), 5),
		seq(events.Log("p1", "r1", "generated 1 component(s) after 1 attempt(s)"), 6),
		seq(events.NodeChange("p1", "r1", "SUCCESS"), 7),
	}
	for _, ev := range stream {
		assert.True(t, s.Apply(ev))
	}

	assert.Equal(t, "r1", s.RunID)
	assert.Equal(t, "SUCCESS", s.Stage)
	assert.True(t, s.Terminal())
	assert.Equal(t, map[string]string{"ui-plan.json": `{"components":[]}`}, s.Files)
	assert.Equal(t, uint64(7), s.LastSeq)
	assert.Len(t, s.Logs, 1)
}

func TestApplyFileCommitLastWriteWins(t *testing.T) {
	s := NewState("p1")
	s.Apply(seq(events.FileCommit("p1", "r1", "src/App.tsx", "v1"), 1))
	s.Apply(seq(events.FileCommit("p1", "r1", "src/Nav.tsx", "nav"), 2))
	s.Apply(seq(events.FileCommit("p1", "r2", "src/App.tsx", "v2"), 3))

	want := map[string]string{"src/App.tsx": "v2", "src/Nav.tsx": "nav"}
	if diff := cmp.Diff(want, s.Files); diff != "" {
		t.Fatalf("files mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"src/App.tsx", "src/Nav.tsx"}, s.FileNames())
}

func TestApplyIgnoresReplayedAndForeignEvents(t *testing.T) {
	s := NewState("p1")
	assert.True(t, s.Apply(seq(events.NodeChange("p1", "r1", "RETRIEVE"), 1)))
	assert.True(t, s.Apply(seq(events.NodeChange("p1", "r1", "PLAN"), 2)))

	assert.False(t, s.Apply(seq(events.NodeChange("p1", "r1", "RETRIEVE"), 1)))
	assert.Equal(t, "PLAN", s.Stage)

	assert.False(t, s.Apply(seq(events.NodeChange("p2", "r9", "FAILED"), 3)))
	assert.Equal(t, "PLAN", s.Stage)
}

func TestApplyNewRunClearsLogsButKeepsFiles(t *testing.T) {
	s := NewState("p1")
	s.Apply(seq(events.NodeChange("p1", "r1", "RETRIEVE"), 1))
	s.Apply(seq(events.Log("p1", "r1", "first run"), 2))
	s.Apply(seq(events.FileCommit("p1", "r1", "a.tsx", "a"), 3))
	s.Apply(seq(events.NodeChange("p1", "r2", "RETRIEVE"), 4))

	assert.Equal(t, "r2", s.RunID)
	assert.Empty(t, s.Logs)
	assert.Equal(t, "a", s.Files["a.tsx"])
}

func TestApplyBuildHealth(t *testing.T) {
	s := NewState("p1")
	var n uint64
	next := func(ev events.Event) events.Event {
		n++
		return seq(ev, n)
	}

	s.Apply(next(events.BuildStatus("p1", "pending", nil)))
	assert.Equal(t, "pending", s.Build)

	s.Apply(next(events.BuildStatus("p1", "FAIL", []string{"TS2304"})))
	s.Apply(next(events.HealingPulse("p1")))
	assert.Equal(t, []string{"TS2304"}, s.BuildErrors)
	assert.True(t, s.Healing)

	s.Apply(next(events.BuildStatus("p1", "FAIL", []string{"TS2304"})))
	s.Apply(next(events.CircuitBreaker("p1")))
	assert.True(t, s.CircuitOpen)
	assert.False(t, s.Healing)

	s.Apply(next(events.BuildStatus("p1", "PASS", nil)))
	assert.Empty(t, s.BuildErrors)
	assert.True(t, s.CircuitOpen, "a passing build does not close the breaker")

	s.ResetCircuit()
	assert.False(t, s.CircuitOpen)
}

func TestApplyBoundsLogs(t *testing.T) {
	s := NewState("p1")
	for i := 0; i < MaxLogLines+10; i++ {
		s.Apply(events.Log("p1", "r1", "line"))
	}
	assert.Len(t, s.Logs, MaxLogLines)
}
