package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/logging"
)

// Backoff decides whether and how long to wait before retrying a provider call.
type Backoff struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultBackoff mirrors the rate-limit policy: 3 retries, 2s base, 60s cap.
func DefaultBackoff() *Backoff {
	return &Backoff{
		MaxRetries: 3,
		BaseDelay:  2 * time.Second,
		MaxDelay:   60 * time.Second,
	}
}

func containsRateLimitPhrases(s string) bool {
	s = strings.ToLower(s)
	return strings.Contains(s, "rate limit") ||
		strings.Contains(s, "requests per minute") ||
		strings.Contains(s, "quota exceeded") ||
		strings.Contains(s, "too many requests") ||
		strings.Contains(s, "resource_exhausted") ||
		strings.Contains(s, "status 429") ||
		strings.Contains(s, "429")
}

// IsRateLimitError reports whether err looks like a provider throttle.
func IsRateLimitError(err error) bool {
	return err != nil && containsRateLimitPhrases(err.Error())
}

// IsRetryable reports whether err is transient. Cancellation and missing
// credentials are never retried.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, ErrNoCredentials):
		return false
	}
	return true
}

// Delay returns the wait before retry number attempt (zero-based).
func (b *Backoff) Delay(attempt int) time.Duration {
	delay := b.BaseDelay * time.Duration(math.Pow(2, float64(attempt)))
	return b.capDelay(delay)
}

func (b *Backoff) capDelay(delay time.Duration) time.Duration {
	if b.MaxDelay > 0 && delay > b.MaxDelay {
		return b.MaxDelay
	}
	if delay < 0 {
		return b.BaseDelay
	}
	return delay
}

// ShouldRetry determines if we should retry based on attempt count
func (b *Backoff) ShouldRetry(attempt int) bool {
	return attempt < b.MaxRetries
}

// RetryingProvider retries transient provider failures with exponential
// backoff. Exhaustion surfaces the last error.
type RetryingProvider struct {
	Provider
	backoff *Backoff
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error

	// DumpDir, when set, receives the request of every exhausted call.
	DumpDir string
}

// WithRetry wraps p with the backoff policy.
func WithRetry(p Provider, b *Backoff, logger *zap.Logger) *RetryingProvider {
	if b == nil {
		b = DefaultBackoff()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryingProvider{Provider: p, backoff: b, logger: logger, sleep: sleepContext}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Complete calls the wrapped provider until it succeeds, fails permanently
// or the retry budget is spent.
func (r *RetryingProvider) Complete(ctx context.Context, req Request) (string, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		out, err := r.Provider.Complete(ctx, req)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !IsRetryable(err) || !r.backoff.ShouldRetry(attempt) {
			break
		}

		delay := r.backoff.Delay(attempt)
		r.logger.Warn("provider call failed; backing off",
			zap.String("provider", r.Name()),
			zap.String("model", r.Model()),
			zap.Int("attempt", attempt+1),
			zap.Bool("rate_limited", IsRateLimitError(err)),
			zap.Duration("delay", delay),
			zap.Error(err))
		if err := r.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}

	r.dump(req, lastErr)
	return "", fmt.Errorf("%s: %w", r.Name(), lastErr)
}

func (r *RetryingProvider) dump(req Request, cause error) {
	if r.DumpDir == "" {
		return
	}
	payload, err := json.Marshal(map[string]interface{}{
		"system": req.System,
		"prompt": req.Prompt,
		"json":   req.JSON,
	})
	if err != nil {
		return
	}
	path, err := logging.WriteRequestDump(r.DumpDir, r.Name(), r.Model(), []byte(payload), cause)
	if err != nil {
		r.logger.Debug("could not write request dump", zap.Error(err))
		return
	}
	r.logger.Info("wrote failed request dump", zap.String("path", path))
}
