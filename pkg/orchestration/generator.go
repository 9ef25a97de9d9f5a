package orchestration

import (
	"context"
	"strings"

	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/components"
	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/llm"
	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/orchestration/types"
)

// GenerateInput is everything one generator attempt sees.
type GenerateInput struct {
	Prompt string
	Plan   types.Plan
	Mode   types.Mode
	// PriorErrors are the accumulated errors of earlier attempts, verbatim.
	PriorErrors []string
	Attempt     int
}

// Generator produces a structured candidate from a plan.
type Generator interface {
	Generate(ctx context.Context, in GenerateInput) (types.Candidate, error)
}

// LLMGenerator generates candidates with a chat model in JSON mode.
type LLMGenerator struct {
	provider    llm.Provider
	allow       *components.AllowList
	temperature float64
}

// NewLLMGenerator creates a generator that advertises allow to the model.
func NewLLMGenerator(provider llm.Provider, allow *components.AllowList, temperature float64) *LLMGenerator {
	if allow == nil {
		allow = components.DefaultAllowList()
	}
	return &LLMGenerator{provider: provider, allow: allow, temperature: temperature}
}

// Generate implements Generator. A response that is not JSON is still
// returned as a candidate; rejecting it is the guardrail's job.
func (g *LLMGenerator) Generate(ctx context.Context, in GenerateInput) (types.Candidate, error) {
	out, err := g.provider.Complete(ctx, llm.Request{
		System:      generatorSystemPrompt(in.Mode, g.allow),
		Prompt:      buildGeneratePrompt(in),
		JSON:        true,
		Temperature: g.temperature,
	})
	if err != nil {
		return types.Candidate{}, err
	}
	return types.Candidate{Mode: in.Mode, Raw: ExtractJSON(out)}, nil
}

// ExtractJSON strips markdown fences and surrounding prose from a model
// response, returning the outermost JSON object if one is present.
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			rest = rest[:end]
		}
		s = strings.TrimSpace(rest)
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
