package downloader

import (
	"context"
	"time"

	"github.com/iconidentify/xstitch/internal/config"
)

// RetryConfig holds retry configuration.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64

	// OnRetry, if set, is called before each wait.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryConfig returns a single attempt: failures surface immediately.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   1,
		InitialDelay:  5 * time.Second,
		MaxDelay:      60 * time.Second,
		BackoffFactor: 2.0,
	}
}

// RetryConfigFrom builds a retry policy from download settings.
func RetryConfigFrom(cfg config.DownloadConfig) RetryConfig {
	rc := DefaultRetryConfig()
	if cfg.MaxAttempts > 0 {
		rc.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.RetryDelay > 0 {
		rc.InitialDelay = cfg.RetryDelay
	}
	if cfg.MaxRetryDelay > 0 {
		rc.MaxDelay = cfg.MaxRetryDelay
	}
	return rc
}

// RetryWithCheck executes a function with retry, allowing custom retry decision.
func RetryWithCheck[T any](
	ctx context.Context,
	cfg RetryConfig,
	fn func() (T, error),
	shouldRetry func(error) bool,
) (T, error) {
	var lastErr error
	var zero T

	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := cfg.InitialDelay

	for attempt := 0; attempt < attempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}

		lastErr = err

		// Check if we should retry this error
		if !shouldRetry(err) {
			break
		}

		// Don't wait after the last attempt
		if attempt == attempts-1 {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err, delay)
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * cfg.BackoffFactor)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return zero, lastErr
}
