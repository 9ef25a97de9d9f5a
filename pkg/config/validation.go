package config

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/components"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for field '%s': %s", e.Field, e.Message)
}

// ValidationResult contains the result of a configuration validation
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []string
}

// IsValid returns true if there are no errors
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// ErrorMessages returns all error messages as a slice
func (r *ValidationResult) ErrorMessages() []string {
	messages := make([]string, len(r.Errors))
	for i, err := range r.Errors {
		messages[i] = err.Error()
	}
	return messages
}

// CombinedError returns all errors as a single error
func (r *ValidationResult) CombinedError() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return fmt.Errorf("configuration validation failed:\n%s", strings.Join(r.ErrorMessages(), "\n"))
}

func (r *ValidationResult) add(field, format string, args ...interface{}) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Validate checks value ranges and cross-field constraints.
func (cfg *Config) Validate() *ValidationResult {
	res := &ValidationResult{}

	if cfg.Pipeline.MaxRetries < 0 {
		res.add("pipeline.max_retries", "must not be negative, got %d", cfg.Pipeline.MaxRetries)
	}
	if cfg.Pipeline.TopK < 1 {
		res.add("pipeline.top_k", "must be at least 1, got %d", cfg.Pipeline.TopK)
	}
	if cfg.Pipeline.StageTimeout < 0 {
		res.add("pipeline.stage_timeout", "must not be negative")
	}
	if cfg.Pipeline.InfraRetries < 0 {
		res.add("pipeline.infra_retries", "must not be negative, got %d", cfg.Pipeline.InfraRetries)
	}
	if strings.ContainsAny(cfg.Pipeline.PlanFileName, `/\`) {
		res.add("pipeline.plan_file_name", "must be a bare file name, got %q", cfg.Pipeline.PlanFileName)
	}
	if _, err := components.NewAllowList(cfg.Pipeline.AllowedComponentTypes); err != nil {
		res.add("pipeline.allowed_component_types", "%v", err)
	}
	for _, p := range cfg.Pipeline.AllowedFilePatterns {
		if !doublestar.ValidatePattern(p) {
			res.add("pipeline.allowed_file_patterns", "invalid pattern %q", p)
		}
	}

	switch cfg.Provider.Name {
	case ProviderOllama, ProviderGemini:
	default:
		res.add("provider.name", "unsupported provider %q", cfg.Provider.Name)
	}
	if cfg.Provider.Temperature < 0 || cfg.Provider.Temperature > 2 {
		res.add("provider.temperature", "must be between 0 and 2, got %v", cfg.Provider.Temperature)
	}

	for _, p := range cfg.Retrieval.Include {
		if !doublestar.ValidatePattern(p) {
			res.add("retrieval.include", "invalid pattern %q", p)
		}
	}
	if cfg.Retrieval.ChunkSize < 0 {
		res.add("retrieval.chunk_size", "must not be negative")
	}

	if cfg.Monitor.CircuitBreakerThreshold < 1 {
		res.add("monitor.circuit_breaker_threshold", "must be at least 1, got %d", cfg.Monitor.CircuitBreakerThreshold)
	}

	if cfg.NATS.URL != "" && strings.ContainsAny(cfg.NATS.SubjectPrefix, " *>") {
		res.add("nats.subject_prefix", "must not contain spaces or wildcards")
	}

	if cfg.Events.BufferSize < 1 {
		res.add("events.buffer_size", "must be at least 1")
	}

	if cfg.Provider.Name == ProviderGemini && cfg.APIKey() == "" {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s is not set; gemini requests will fail", cfg.Provider.APIKeyEnv))
	}
	return res
}
