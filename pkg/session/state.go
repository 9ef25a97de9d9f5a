// Package session is the consumer side of a project's event stream. State
// folds events into what a client renders; Client receives them over the
// websocket transport.
package session

import (
	"sort"

	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/events"
	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/monitor"
	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/orchestration/types"
)

// MaxLogLines bounds State.Logs.
const MaxLogLines = 200

// State is the UI-visible view of one project derived from its events.
// It is not safe for concurrent use.
type State struct {
	ProjectID   string            `json:"projectId"`
	RunID       string            `json:"runId,omitempty"`
	Stage       string            `json:"stage,omitempty"`
	Files       map[string]string `json:"files"`
	Build       string            `json:"build,omitempty"`
	BuildErrors []string          `json:"buildErrors,omitempty"`
	Healing     bool              `json:"healing"`
	CircuitOpen bool              `json:"circuitOpen"`
	Logs        []string          `json:"logs,omitempty"`
	LastSeq     uint64            `json:"lastSeq"`
}

// NewState returns an empty state for projectID.
func NewState(projectID string) *State {
	return &State{ProjectID: projectID, Files: make(map[string]string)}
}

// Apply folds ev into the state and reports whether it changed anything.
// Events for other projects are ignored, and so are events whose sequence
// number was already applied, which makes replay after a resubscribe safe.
func (s *State) Apply(ev events.Event) bool {
	if ev.ProjectID != s.ProjectID {
		return false
	}
	if ev.Seq != 0 {
		if ev.Seq <= s.LastSeq {
			return false
		}
		s.LastSeq = ev.Seq
	}

	switch ev.Type {
	case events.KindNodeChange:
		if ev.RunID != "" && ev.RunID != s.RunID {
			s.RunID = ev.RunID
			s.Logs = nil
		}
		s.Stage = ev.Node
	case events.KindFileCommit:
		s.Files[ev.FileName] = ev.Code
	case events.KindBuildStatus:
		s.Build = ev.Status
		s.BuildErrors = append([]string(nil), ev.Errors...)
		if ev.Status != string(monitor.StatusFail) {
			s.Healing = false
		}
	case events.KindPulseStatus:
		s.Healing = ev.Status == events.PulseHealing
	case events.KindAlert:
		if ev.Status == events.AlertCircuitBreaker {
			s.CircuitOpen = true
			s.Healing = false
		}
	case events.KindLog:
		s.Logs = append(s.Logs, ev.Message)
		if over := len(s.Logs) - MaxLogLines; over > 0 {
			s.Logs = append([]string(nil), s.Logs[over:]...)
		}
	default:
		return false
	}
	return true
}

// ResetCircuit clears the breaker flag after a restart was requested.
func (s *State) ResetCircuit() {
	s.CircuitOpen = false
}

// FileNames returns the committed paths in lexical order.
func (s *State) FileNames() []string {
	names := make([]string, 0, len(s.Files))
	for name := range s.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Terminal reports whether the current run has finished.
func (s *State) Terminal() bool {
	return types.Stage(s.Stage).Terminal()
}
