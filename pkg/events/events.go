// Package events provides the ordered, per-project event stream that carries
// pipeline progress, committed files and build health to session consumers.
package events

import (
	"time"
)

// Kind tags the shape of an Event.
type Kind string

// Event kinds
const (
	KindNodeChange  Kind = "node_change"
	KindFileCommit  Kind = "file_commit"
	KindBuildStatus Kind = "build_status"
	KindPulseStatus Kind = "pulse_status"
	KindAlert       Kind = "alert"
	KindLog         Kind = "log"
)

// Valid reports whether k is one of the closed set of event kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindNodeChange, KindFileCommit, KindBuildStatus, KindPulseStatus, KindAlert, KindLog:
		return true
	}
	return false
}

const (
	PulseHealing        = "healing"
	AlertCircuitBreaker = "circuit_breaker"
)

// Event is one entry of a project's stream. Only the fields belonging to Type
// are populated; Seq is assigned by the Broadcaster and increases strictly
// within a project channel.
type Event struct {
	Seq       uint64    `json:"seq"`
	Type      Kind      `json:"type"`
	ProjectID string    `json:"projectId"`
	RunID     string    `json:"runId,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	Node     string   `json:"node,omitempty"`
	FileName string   `json:"fileName,omitempty"`
	Code     string   `json:"code,omitempty"`
	Status   string   `json:"status,omitempty"`
	Errors   []string `json:"errors,omitempty"`
	Message  string   `json:"message,omitempty"`
}

func newEvent(kind Kind, projectID, runID string) Event {
	return Event{
		Type:      kind,
		ProjectID: projectID,
		RunID:     runID,
		Timestamp: time.Now(),
	}
}

// NodeChange announces the pipeline stage a run has entered.
func NodeChange(projectID, runID, node string) Event {
	ev := newEvent(KindNodeChange, projectID, runID)
	ev.Node = node
	return ev
}

// FileCommit carries the full current content of one file.
func FileCommit(projectID, runID, fileName, code string) Event {
	ev := newEvent(KindFileCommit, projectID, runID)
	ev.FileName = fileName
	ev.Code = code
	return ev
}

// BuildStatus reports the build state of the last materialized output.
func BuildStatus(projectID, status string, errs []string) Event {
	ev := newEvent(KindBuildStatus, projectID, "")
	ev.Status = status
	if len(errs) > 0 {
		ev.Errors = append([]string(nil), errs...)
	}
	return ev
}

// HealingPulse signals an automated remediation attempt is in flight.
func HealingPulse(projectID string) Event {
	ev := newEvent(KindPulseStatus, projectID, "")
	ev.Status = PulseHealing
	return ev
}

// CircuitBreaker signals automated remediation has been halted.
func CircuitBreaker(projectID string) Event {
	ev := newEvent(KindAlert, projectID, "")
	ev.Status = AlertCircuitBreaker
	return ev
}

// Log carries a human-readable progress message.
func Log(projectID, runID, message string) Event {
	ev := newEvent(KindLog, projectID, runID)
	ev.Message = message
	return ev
}
