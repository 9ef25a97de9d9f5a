package orchestration

import (
	"context"
	"errors"
	"strings"

	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/llm"
	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/orchestration/types"
)

// Retriever looks up reference documentation for a request.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]types.Reference, error)
}

// PlanComposer turns a request and its references into a layout plan.
type PlanComposer interface {
	Compose(ctx context.Context, prompt string, refs []types.Reference) (types.Plan, error)
}

// LLMComposer composes plans with a chat model.
type LLMComposer struct {
	provider    llm.Provider
	temperature float64
}

// NewLLMComposer creates a composer backed by provider.
func NewLLMComposer(provider llm.Provider, temperature float64) *LLMComposer {
	return &LLMComposer{provider: provider, temperature: temperature}
}

// Compose implements PlanComposer.
func (c *LLMComposer) Compose(ctx context.Context, prompt string, refs []types.Reference) (types.Plan, error) {
	out, err := c.provider.Complete(ctx, llm.Request{
		System:      planSystemPrompt,
		Prompt:      buildPlanPrompt(prompt, refs),
		Temperature: c.temperature,
	})
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", errors.New("plan composer returned an empty plan")
	}
	return types.Plan(out), nil
}
