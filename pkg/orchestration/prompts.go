package orchestration

import (
	"fmt"
	"strings"

	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/components"
	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/orchestration/types"
)

const planSystemPrompt = `You are a UI architect. Describe the layout that satisfies the request in plain
prose: the sections, the components in each section, their rough placement and the
data they show. Do not write code or JSON.`

const uiPlanSystemPrompt = `You convert layout descriptions into a UI plan. Respond with a single JSON
object of the form {"components": [...], "layout": {...}}. Every component must have
"id" (unique string), "type", "props" (non-empty object) and "position" ({"x": number, "y": number}).`

const codeSystemPrompt = `You convert layout descriptions into React source files. Respond with a single
JSON object of the form {"files": [{"fileName": "src/...", "code": "..."}]}.`

func buildPlanPrompt(prompt string, refs []types.Reference) string {
	var b strings.Builder
	b.WriteString("Request:\n")
	b.WriteString(prompt)
	b.WriteString("\n")
	if len(refs) > 0 {
		b.WriteString("\nReference documentation:\n")
		for _, r := range refs {
			fmt.Fprintf(&b, "\n--- %s ---\n%s\n", r.Source, r.Content)
		}
	}
	return b.String()
}

func generatorSystemPrompt(mode types.Mode, allow *components.AllowList) string {
	if mode == types.ModeCode {
		return codeSystemPrompt
	}
	return uiPlanSystemPrompt + "\nAllowed component types: " + strings.Join(allow.Names(), ", ") +
		".\nNever use any other type."
}

func buildGeneratePrompt(in GenerateInput) string {
	var b strings.Builder
	b.WriteString("Request:\n")
	b.WriteString(in.Prompt)
	b.WriteString("\n\nLayout plan:\n")
	b.WriteString(string(in.Plan))
	b.WriteString("\n")
	if len(in.PriorErrors) > 0 {
		b.WriteString("\nYour previous answers were rejected. Fix every one of these errors:\n")
		for i, e := range in.PriorErrors {
			fmt.Fprintf(&b, "%d. %s\n", i+1, e)
		}
	}
	return b.String()
}

func buildRepairPrompt(prompt string, buildErrors []string) string {
	if len(buildErrors) == 0 {
		return prompt
	}
	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\nThe previous output failed to build with these errors; produce a corrected version:\n")
	for _, e := range buildErrors {
		b.WriteString("- ")
		b.WriteString(e)
		b.WriteString("\n")
	}
	return b.String()
}
