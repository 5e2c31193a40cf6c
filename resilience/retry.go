package resilience

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/itsneelabh/bloxgate/core"
	"github.com/itsneelabh/bloxgate/upstream"
)

// RetryConfig controls the retry loop around upstream calls.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// RetryConflict opts 409 responses into retry; used only by the
	// consolidated configure call where conflicts mean "still settling".
	RetryConflict bool
	// OnRetry fires once per scheduled retry, before the sleep.
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig returns the standard settings.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 12,
		BaseDelay:   5 * time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// Retry runs fn until it succeeds, the error is not retryable, attempts run
// out, or the context ends. The sleep between attempts honors the upstream's
// Retry-After when present, otherwise grows linearly with the attempt number
// up to MaxDelay, with a little jitter to avoid synchronized waves.
func Retry(ctx context.Context, cfg RetryConfig, logger core.Logger, fn func(ctx context.Context) error) error {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !upstream.IsRetryable(lastErr, cfg.RetryConflict) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		delay := cfg.delayFor(attempt, lastErr)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, lastErr)
		}
		logger.Warn("api_retry", map[string]interface{}{
			"attempt":      attempt,
			"max_attempts": cfg.MaxAttempts,
			"delay":        delay.String(),
			"error":        lastErr.Error(),
		})

		if err := sleepCtx(ctx, delay); err != nil {
			return err
		}
	}

	return &RetriesExhaustedError{Attempts: cfg.MaxAttempts, Err: lastErr}
}

// RetriesExhaustedError wraps the terminal failure after all attempts were
// spent, so callers can still classify the underlying error.
type RetriesExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("%v after %d attempts: %v", core.ErrMaxRetriesExceeded, e.Attempts, e.Err)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Err }

func (e *RetriesExhaustedError) Is(target error) bool {
	return target == core.ErrMaxRetriesExceeded
}

func (cfg RetryConfig) delayFor(attempt int, err error) time.Duration {
	if hint, ok := upstream.RetryAfterHint(err); ok {
		if cfg.MaxDelay > 0 && hint > cfg.MaxDelay {
			return cfg.MaxDelay
		}
		return hint
	}
	delay := time.Duration(attempt) * cfg.BaseDelay
	if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	// up to 10% jitter
	if jitter := int64(delay) / 10; jitter > 0 {
		delay += time.Duration(rand.Int63n(jitter))
	}
	return delay
}

// sleepCtx waits for the duration or until the context ends.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
