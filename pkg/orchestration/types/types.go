package types

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/components"
)

// Stage is a node of the generation pipeline.
type Stage string

const (
	StageRetrieve Stage = "RETRIEVE"
	StagePlan     Stage = "PLAN"
	StageGenerate Stage = "GENERATE"
	StageValidate Stage = "VALIDATE"
	StageSuccess  Stage = "SUCCESS"
	StageFailed   Stage = "FAILED"
)

// Terminal reports whether no further transitions leave s.
func (s Stage) Terminal() bool {
	return s == StageSuccess || s == StageFailed
}

// Mode selects the shape of the generated candidate.
type Mode string

const (
	ModeUIPlan Mode = "ui_plan"
	ModeCode   Mode = "code"
)

// ParseMode accepts the empty string as ModeUIPlan.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeUIPlan, "plan":
		return ModeUIPlan, nil
	case ModeCode:
		return ModeCode, nil
	default:
		return "", fmt.Errorf("unknown generation mode %q", s)
	}
}

// Run is one orchestration attempt for a project.
type Run struct {
	ID                string     `json:"id"`
	ProjectID         string     `json:"project_id"`
	Prompt            string     `json:"prompt"`
	Mode              Mode       `json:"mode"`
	Attempt           int        `json:"attempt"`
	Stage             Stage      `json:"stage"`
	AccumulatedErrors []string   `json:"accumulated_errors"`
	StartedAt         time.Time  `json:"started_at"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
}

// Clone returns a copy that shares no slices with r.
func (r Run) Clone() Run {
	out := r
	if r.AccumulatedErrors != nil {
		out.AccumulatedErrors = append([]string(nil), r.AccumulatedErrors...)
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		out.FinishedAt = &t
	}
	return out
}

// Reference is a retrieved documentation fragment.
type Reference struct {
	ID      string  `json:"id"`
	Source  string  `json:"source"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Plan is the free-form layout description produced by the plan composer.
type Plan string

// Position places a component on the canvas.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Component is one element of a UI plan.
type Component struct {
	ID       string          `json:"id"`
	Type     components.Kind `json:"type"`
	Props    map[string]any  `json:"props"`
	Position Position        `json:"position"`
}

// UIPlan is the structured output of ModeUIPlan.
type UIPlan struct {
	Components []Component    `json:"components"`
	Layout     map[string]any `json:"layout"`
}

// CodeFile is one generated source file.
type CodeFile struct {
	FileName string `json:"fileName"`
	Code     string `json:"code"`
}

// CodeFiles accepts either a list of {fileName, code} objects or an object
// mapping file names to contents. Models produce both shapes.
type CodeFiles []CodeFile

// UnmarshalJSON implements json.Unmarshaler.
func (f *CodeFiles) UnmarshalJSON(data []byte) error {
	var list []CodeFile
	if err := json.Unmarshal(data, &list); err == nil {
		*f = list
		return nil
	}

	var byName map[string]string
	if err := json.Unmarshal(data, &byName); err != nil {
		return fmt.Errorf("files must be a list of {fileName, code} or an object of path to code")
	}
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]CodeFile, 0, len(names))
	for _, name := range names {
		out = append(out, CodeFile{FileName: name, Code: byName[name]})
	}
	*f = out
	return nil
}

// CodeBundle is the structured output of ModeCode.
type CodeBundle struct {
	Files CodeFiles `json:"files"`
}

// Candidate is unverified generator output. Raw holds the JSON document
// extracted from the model response; it is what the guardrail inspects.
type Candidate struct {
	Mode Mode   `json:"mode"`
	Raw  string `json:"raw"`
}

// DecodePlan parses a candidate that already passed the guardrail.
func (c Candidate) DecodePlan() (*UIPlan, error) {
	var plan UIPlan
	if err := json.Unmarshal([]byte(c.Raw), &plan); err != nil {
		return nil, fmt.Errorf("failed to decode ui plan: %w", err)
	}
	return &plan, nil
}

// DecodeCode parses a code candidate that already passed the guardrail.
func (c Candidate) DecodeCode() (*CodeBundle, error) {
	var bundle CodeBundle
	if err := json.Unmarshal([]byte(c.Raw), &bundle); err != nil {
		return nil, fmt.Errorf("failed to decode code bundle: %w", err)
	}
	return &bundle, nil
}
