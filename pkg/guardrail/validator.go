// Package guardrail classifies generated candidates as valid or invalid.
// Validation is pure: no I/O, no mutation, and the same input always yields
// the same verdict. The validator never repairs a candidate.
package guardrail

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/components"
	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/orchestration/types"
)

// ErrMissingComponentsOrLayout is reported when the document lacks its top-level keys.
const ErrMissingComponentsOrLayout = "missing components or layout"

// Verdict is the outcome of validating one candidate.
type Verdict struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// Summary joins the errors into a single line.
func (v Verdict) Summary() string {
	return strings.Join(v.Errors, "; ")
}

func verdictOf(errs []string) Verdict {
	return Verdict{Valid: len(errs) == 0, Errors: errs}
}

// Validator checks candidates against a component allow-list and, for code
// candidates, a set of allowed path globs.
type Validator struct {
	allow        *components.AllowList
	filePatterns []string
}

// New creates a validator. A nil allow-list allows every known kind. An empty
// pattern list accepts any relative path.
func New(allow *components.AllowList, filePatterns []string) (*Validator, error) {
	if allow == nil {
		allow = components.DefaultAllowList()
	}
	for _, p := range filePatterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid file pattern %q", p)
		}
	}
	return &Validator{
		allow:        allow,
		filePatterns: append([]string(nil), filePatterns...),
	}, nil
}

// AllowList returns the allow-list the validator enforces.
func (v *Validator) AllowList() *components.AllowList {
	return v.allow
}

// Validate dispatches on the candidate's mode.
func (v *Validator) Validate(c types.Candidate) Verdict {
	if c.Mode == types.ModeCode {
		return v.ValidateCodeJSON([]byte(c.Raw))
	}
	return v.ValidatePlanJSON([]byte(c.Raw))
}

// ValidatePlanJSON validates a serialized UI plan.
func (v *Validator) ValidatePlanJSON(raw []byte) Verdict {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return verdictOf([]string{fmt.Sprintf("malformed candidate: %v", err)})
	}
	return v.ValidatePlan(doc)
}

// ValidatePlan validates a decoded UI plan document. Checks run in a fixed
// order and every failure is collected.
func (v *Validator) ValidatePlan(doc map[string]any) Verdict {
	var errs []string

	comps, compsOK := doc["components"].([]any)
	_, layoutOK := doc["layout"].(map[string]any)
	if !compsOK || !layoutOK {
		errs = append(errs, ErrMissingComponentsOrLayout)
	}
	if !compsOK {
		return verdictOf(errs)
	}

	objs := make([]map[string]any, len(comps))
	for i, c := range comps {
		obj, ok := c.(map[string]any)
		if !ok {
			errs = append(errs, fmt.Sprintf("component %d: not an object", i))
			continue
		}
		objs[i] = obj
	}

	// allow-list membership
	for _, obj := range objs {
		if obj == nil {
			continue
		}
		if typ, ok := obj["type"].(string); ok && typ != "" && !v.allow.Allows(typ) {
			errs = append(errs, fmt.Sprintf("invalid type '%s'", typ))
		}
	}

	// required fields
	for i, obj := range objs {
		if obj == nil {
			continue
		}
		for _, field := range []string{"id", "type"} {
			if s, ok := obj[field].(string); !ok || strings.TrimSpace(s) == "" {
				errs = append(errs, fmt.Sprintf("component %d: missing %s", i, field))
			}
		}
		if props, ok := obj["props"].(map[string]any); !ok || len(props) == 0 {
			errs = append(errs, fmt.Sprintf("component %d: missing props", i))
		}
		if _, ok := obj["position"].(map[string]any); !ok {
			errs = append(errs, fmt.Sprintf("component %d: missing position", i))
		}
	}

	// numeric coordinates
	for i, obj := range objs {
		if obj == nil {
			continue
		}
		pos, ok := obj["position"].(map[string]any)
		if !ok {
			continue
		}
		_, xOK := pos["x"].(float64)
		_, yOK := pos["y"].(float64)
		if !xOK || !yOK {
			errs = append(errs, fmt.Sprintf("component %s: position must have numeric x and y", componentName(obj, i)))
		}
	}

	seen := make(map[string]bool)
	for _, obj := range objs {
		if obj == nil {
			continue
		}
		id, ok := obj["id"].(string)
		if !ok || id == "" {
			continue
		}
		if seen[id] {
			errs = append(errs, fmt.Sprintf("duplicate component id '%s'", id))
		}
		seen[id] = true
	}

	return verdictOf(errs)
}

func componentName(obj map[string]any, index int) string {
	if id, ok := obj["id"].(string); ok && id != "" {
		return fmt.Sprintf("'%s'", id)
	}
	return fmt.Sprintf("%d", index)
}

// ValidateCodeJSON validates a serialized code bundle.
func (v *Validator) ValidateCodeJSON(raw []byte) Verdict {
	var bundle types.CodeBundle
	if err := json.Unmarshal(raw, &bundle); err != nil {
		return verdictOf([]string{fmt.Sprintf("malformed candidate: %v", err)})
	}
	return v.ValidateCode(bundle.Files)
}

// ValidateCode validates generated files against the path allow-list.
func (v *Validator) ValidateCode(files []types.CodeFile) Verdict {
	if len(files) == 0 {
		return verdictOf([]string{"no files generated"})
	}

	var errs []string
	seen := make(map[string]bool)
	for i, f := range files {
		name := strings.TrimSpace(f.FileName)
		if name == "" {
			errs = append(errs, fmt.Sprintf("file %d: missing fileName", i))
			continue
		}
		if seen[name] {
			errs = append(errs, fmt.Sprintf("duplicate file '%s'", name))
		}
		seen[name] = true
		if !v.pathAllowed(name) {
			errs = append(errs, fmt.Sprintf("file '%s' is outside allowed paths", name))
		}
		if strings.TrimSpace(f.Code) == "" {
			errs = append(errs, fmt.Sprintf("file '%s' is empty", name))
		}
	}
	return verdictOf(errs)
}

func (v *Validator) pathAllowed(name string) bool {
	if strings.HasPrefix(name, "/") || strings.Contains(name, "..") {
		return false
	}
	if len(v.filePatterns) == 0 {
		return true
	}
	for _, p := range v.filePatterns {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}
