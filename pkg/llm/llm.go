// Package llm wraps the chat-completion and embedding providers used by the
// planning, generation and retrieval stages.
package llm

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/config"
)

// ErrNoCredentials is returned when a hosted provider has no API key.
var ErrNoCredentials = errors.New("provider credentials are not configured")

// Request is a single completion request.
type Request struct {
	System string
	Prompt string
	// JSON asks the provider to constrain output to a JSON document.
	JSON        bool
	Temperature float64
}

// Provider produces text completions.
type Provider interface {
	Complete(ctx context.Context, req Request) (string, error)
	Name() string
	Model() string
}

// Embedder turns text into vectors for similarity search.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbeddingModel() string
}

// New builds the configured provider and embedder, wrapping completions in
// the infrastructure retry policy.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Provider, Embedder, error) {
	var (
		provider Provider
		embedder Embedder
	)

	switch cfg.Provider.Name {
	case config.ProviderOllama:
		c, err := NewOllama(cfg.Provider.OllamaHost, cfg.Provider.Model, cfg.Provider.EmbeddingModel)
		if err != nil {
			return nil, nil, err
		}
		provider, embedder = c, c
	case config.ProviderGemini:
		c, err := NewGemini(ctx, cfg.APIKey(), cfg.Provider.Model, cfg.Provider.EmbeddingModel)
		if err != nil {
			return nil, nil, err
		}
		provider, embedder = c, c
	default:
		return nil, nil, fmt.Errorf("unsupported provider %q", cfg.Provider.Name)
	}

	backoff := &Backoff{
		MaxRetries: cfg.Pipeline.InfraRetries,
		BaseDelay:  cfg.Pipeline.InfraBaseDelay,
		MaxDelay:   cfg.Pipeline.InfraMaxDelay,
	}
	retrying := WithRetry(provider, backoff, logger)
	retrying.DumpDir = cfg.Provider.RequestDumpDir
	return retrying, embedder, nil
}
