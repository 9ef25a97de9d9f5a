// Package monitor tracks the build health of materialized project output and
// derives the self-healing and circuit-breaker signals from it.
package monitor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/events"
)

// Status is the build state of the last materialized output.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusPass    Status = "PASS"
	StatusFail    Status = "FAIL"
)

// ParseStatus accepts the canonical spellings, case-insensitively.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending":
		return StatusPending, nil
	case "running":
		return StatusRunning, nil
	case "pass", "passed", "success":
		return StatusPass, nil
	case "fail", "failed", "failure":
		return StatusFail, nil
	}
	return "", fmt.Errorf("unknown build status %q", s)
}

// DefaultThreshold is the number of consecutive failures that trips the breaker.
const DefaultThreshold = 3

// BuildStatus is the last reported build state for a project.
type BuildStatus struct {
	Status    Status    `json:"status"`
	Errors    []string  `json:"errors,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot is a read-only view of a project's health.
type Snapshot struct {
	ProjectID           string      `json:"project_id"`
	Build               BuildStatus `json:"build"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	CircuitOpen         bool        `json:"circuit_open"`
}

// Publisher is where the monitor emits its events.
type Publisher interface {
	Publish(events.Event) events.Event
}

// Remediator starts an automated corrective attempt for a failed build.
type Remediator func(ctx context.Context, projectID string, buildErrors []string) error

type projectHealth struct {
	build               BuildStatus
	consecutiveFailures int
	tripped             bool
}

// Monitor observes build results per project. It is safe for concurrent use.
type Monitor struct {
	mu        sync.Mutex
	projects  map[string]*projectHealth
	threshold int
	pub       Publisher
	remediate Remediator
	logger    *zap.Logger
}

// New creates a monitor. A threshold below one falls back to DefaultThreshold.
func New(pub Publisher, threshold int, logger *zap.Logger) *Monitor {
	if threshold < 1 {
		threshold = DefaultThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		projects:  make(map[string]*projectHealth),
		threshold: threshold,
		pub:       pub,
		logger:    logger,
	}
}

// SetRemediator installs the hook invoked alongside each healing pulse.
func (m *Monitor) SetRemediator(r Remediator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remediate = r
}

// Threshold returns the configured consecutive-failure limit.
func (m *Monitor) Threshold() int {
	return m.threshold
}

func (m *Monitor) healthFor(projectID string) *projectHealth {
	h, ok := m.projects[projectID]
	if !ok {
		h = &projectHealth{}
		m.projects[projectID] = h
	}
	return h
}

// ObserveCommit records that new output was materialized for a project;
// the build state returns to pending until a build step reports.
func (m *Monitor) ObserveCommit(projectID string, paths []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.healthFor(projectID)
	h.build = BuildStatus{Status: StatusPending, UpdatedAt: time.Now()}
	m.logger.Debug("materialized output changed",
		zap.String("project", projectID),
		zap.Strings("paths", paths))
	m.pub.Publish(events.BuildStatus(projectID, string(StatusPending), nil))
}

// Report records a build result and emits the derived signals: a
// build_status event always, then on FAIL either a healing pulse or, when the
// consecutive-failure threshold is reached, a single circuit-breaker alert.
// Once the breaker has tripped no pulses are emitted and no remediation is
// attempted until Restart.
func (m *Monitor) Report(ctx context.Context, projectID string, status Status, errs []string) error {
	if projectID == "" {
		return fmt.Errorf("project id is required")
	}
	status, err := ParseStatus(string(status))
	if err != nil {
		return err
	}

	var (
		remediate Remediator
		buildErrs []string
	)

	m.mu.Lock()
	h := m.healthFor(projectID)
	h.build = BuildStatus{Status: status, UpdatedAt: time.Now()}
	if status == StatusFail {
		h.build.Errors = append([]string(nil), errs...)
	}
	m.pub.Publish(events.BuildStatus(projectID, string(status), h.build.Errors))

	switch status {
	case StatusPass:
		h.consecutiveFailures = 0
	case StatusFail:
		h.consecutiveFailures++
		switch {
		case h.tripped:
			m.logger.Info("build failed with circuit breaker open",
				zap.String("project", projectID),
				zap.Int("consecutive_failures", h.consecutiveFailures))
		case h.consecutiveFailures >= m.threshold:
			h.tripped = true
			m.logger.Warn("circuit breaker tripped",
				zap.String("project", projectID),
				zap.Int("consecutive_failures", h.consecutiveFailures))
			m.pub.Publish(events.CircuitBreaker(projectID))
		default:
			m.pub.Publish(events.HealingPulse(projectID))
			remediate = m.remediate
			buildErrs = h.build.Errors
		}
	}
	m.mu.Unlock()

	if remediate != nil {
		if err := remediate(ctx, projectID, buildErrs); err != nil {
			m.logger.Warn("automated remediation not started",
				zap.String("project", projectID),
				zap.Error(err))
		}
	}
	return nil
}

// Restart is the human-initiated reset of a project's breaker and counter.
func (m *Monitor) Restart(projectID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.healthFor(projectID)
	wasOpen := h.tripped
	h.tripped = false
	h.consecutiveFailures = 0
	if wasOpen {
		m.logger.Info("circuit breaker reset", zap.String("project", projectID))
		m.pub.Publish(events.Log(projectID, "", "circuit breaker reset; automated remediation re-enabled"))
	}
}

// Snapshot returns the current health of a project.
func (m *Monitor) Snapshot(projectID string) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{ProjectID: projectID}
	if h, ok := m.projects[projectID]; ok {
		snap.Build = h.build
		snap.Build.Errors = append([]string(nil), h.build.Errors...)
		snap.ConsecutiveFailures = h.consecutiveFailures
		snap.CircuitOpen = h.tripped
	}
	return snap
}
